package dataset

import (
	"bytes"
	"context"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"

	"github.com/pkg/errors"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	"golang.org/x/sync/errgroup"
)

// Image is a decoded, grayscale, resized image with pixels scaled to [0, 1],
// stored row-major.
type Image struct {
	Path   string
	Label  int
	Height int
	Width  int
	Pixels []float64
}

// Decode reads a BMP, PNG or JPEG image.
func Decode(r io.Reader) (image.Image, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, errors.Wrap(err, "decode image")
	}
	return img, nil
}

// DecodeFile opens and decodes the image at path.
func DecodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open image")
	}
	defer f.Close()
	return Decode(f)
}

// Preprocess converts img to a single gray channel resized to height x width
// with bilinear filtering, and scales intensities to [0, 1].
func Preprocess(img image.Image, height, width int) []float64 {
	gray := image.NewGray(image.Rect(0, 0, width, height))
	draw.BiLinear.Scale(gray, gray.Bounds(), img, img.Bounds(), draw.Src, nil)

	pixels := make([]float64, height*width)
	for y := 0; y < height; y++ {
		row := gray.Pix[y*gray.Stride : y*gray.Stride+width]
		for x, v := range row {
			pixels[y*width+x] = float64(v) / 255
		}
	}
	return pixels
}

// LoadImage decodes and preprocesses a single record.
func LoadImage(r Record, height, width int) (*Image, error) {
	var (
		img image.Image
		err error
	)
	if r.Data != nil {
		img, err = Decode(bytes.NewReader(r.Data))
	} else {
		img, err = DecodeFile(r.Path)
	}
	if err != nil {
		return nil, errors.Wrap(err, r.Path)
	}
	return &Image{
		Path:   r.Path,
		Label:  r.Label,
		Height: height,
		Width:  width,
		Pixels: Preprocess(img, height, width),
	}, nil
}

// LoadImages decodes records on up to workers goroutines. The result keeps the
// order of records.
func LoadImages(ctx context.Context, records []Record, height, width, workers int) ([]*Image, error) {
	if workers <= 0 {
		workers = 1
	}
	images := make([]*Image, len(records))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range records {
		i := i
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			img, err := LoadImage(records[i], height, width)
			if err != nil {
				return err
			}
			images[i] = img
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, errors.Wrap(err, "load images")
	}
	return images, nil
}

// Select returns the elements of xs at the given indices.
func Select[T any](xs []T, indices []int) []T {
	out := make([]T, len(indices))
	for i, idx := range indices {
		out[i] = xs[idx]
	}
	return out
}
