package dataset

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ErrNoImages is returned when a dataset source holds no usable image.
var ErrNoImages = errors.New("dataset: no images found")

var imageRegexp = regexp.MustCompile(`(?i)\.(bmp|png|jpe?g)$`)

// Record is one discovered image and its class label. Data holds the encoded
// image when it came from an archive; otherwise the image is read from Path.
type Record struct {
	Path  string
	Class string
	Label int
	Data  []byte
}

// Discover returns the images laid out as root/<class>/<file>, sorted by path
// and labelled by class folder. Images at any other depth are ignored.
func Discover(root string) ([]Record, error) {
	var records []Record
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		parts := strings.Split(filepath.ToSlash(rel), "/")
		if d.IsDir() {
			if rel != "." && len(parts) >= 2 {
				return filepath.SkipDir
			}
			return nil
		}
		if len(parts) != 2 || !imageRegexp.MatchString(d.Name()) {
			return nil
		}
		records = append(records, Record{Path: path, Class: parts[0]})
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "discover images")
	}
	if len(records) == 0 {
		return nil, errors.Wrapf(ErrNoImages, "under %s", root)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Path < records[j].Path })
	assignLabels(records)
	return records, nil
}

// DiscoverSource dispatches on the kind of source: a tar archive is streamed
// into memory, anything else is walked as a directory tree.
func DiscoverSource(ctx context.Context, source string) ([]Record, error) {
	info, err := os.Stat(source)
	if err != nil {
		return nil, errors.Wrap(err, "stat dataset source")
	}
	if !info.IsDir() && strings.EqualFold(filepath.Ext(source), ".tar") {
		return DiscoverArchive(ctx, source)
	}
	return Discover(source)
}

// assignLabels numbers classes. When every class folder is an integer and no
// two folders share a value ("01" and "1") the label is that integer minus one
// (folders are 1-based); otherwise classes are numbered by sorted name.
func assignLabels(records []Record) {
	names := map[string]struct{}{}
	for _, r := range records {
		names[r.Class] = struct{}{}
	}
	sorted := make([]string, 0, len(names))
	numeric := true
	values := make(map[int]struct{}, len(names))
	for name := range names {
		sorted = append(sorted, name)
		n, err := strconv.Atoi(name)
		if err != nil {
			numeric = false
			continue
		}
		if _, dup := values[n]; dup {
			numeric = false
		}
		values[n] = struct{}{}
	}
	sort.Strings(sorted)

	labels := make(map[string]int, len(sorted))
	for i, name := range sorted {
		if numeric {
			n, _ := strconv.Atoi(name)
			labels[name] = n - 1
		} else {
			labels[name] = i
		}
	}
	for i := range records {
		records[i].Label = labels[records[i].Class]
	}
}

// Labels extracts the label of every record.
func Labels(records []Record) []int {
	out := make([]int, len(records))
	for i, r := range records {
		out[i] = r.Label
	}
	return out
}

// CountClasses returns the number of distinct labels.
func CountClasses(labels []int) int {
	seen := map[int]struct{}{}
	for _, l := range labels {
		seen[l] = struct{}{}
	}
	return len(seen)
}
