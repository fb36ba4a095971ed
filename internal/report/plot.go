// Package report renders training curves.
package report

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"siamese-iris/internal/metrics"
)

// Series is one named curve. Epochs holds the x value of every point; when it
// is nil the points are numbered from 1.
type Series struct {
	Name   string
	Epochs []int
	Values []float64
}

// CurvesFromHistory returns train loss, test loss and test accuracy curves
// plotted against the recorded epoch numbers, so resumed runs keep their
// place on the axis.
func CurvesFromHistory(h metrics.History) []Series {
	epochs := make([]int, len(h))
	for i, e := range h {
		epochs[i] = e.Epoch
	}
	return []Series{
		{Name: "train loss", Epochs: epochs, Values: h.TrainLosses()},
		{Name: "test loss", Epochs: epochs, Values: h.TestLosses()},
		{Name: "test accuracy", Epochs: epochs, Values: h.Accuracies()},
	}
}

func (s Series) points() plotter.XYs {
	pts := make(plotter.XYs, len(s.Values))
	for j, v := range s.Values {
		pts[j].X = float64(j + 1)
		if j < len(s.Epochs) {
			pts[j].X = float64(s.Epochs[j])
		}
		pts[j].Y = v
	}
	return pts
}

// SaveCurves draws every series against the epoch number and writes the plot
// to path. The image format follows the file extension (png, svg, pdf).
func SaveCurves(path, title string, series []Series) error {
	p, err := plot.New()
	if err != nil {
		return errors.Wrap(err, "new plot")
	}
	p.Title.Text = title
	p.X.Label.Text = "epoch"
	p.Add(plotter.NewGrid())

	drawn := 0
	for i, s := range series {
		if len(s.Values) == 0 {
			continue
		}
		line, err := plotter.NewLine(s.points())
		if err != nil {
			return errors.Wrapf(err, "series %s", s.Name)
		}
		line.Color = plotutil.Color(i)
		line.Dashes = plotutil.Dashes(i)
		p.Add(line)
		p.Legend.Add(s.Name, line)
		drawn++
	}
	if drawn == 0 {
		return errors.New("plot: no data")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "create plot dir")
	}
	if err := p.Save(6*vg.Inch, 4*vg.Inch, path); err != nil {
		return errors.Wrapf(err, "save plot %s", path)
	}
	return nil
}
