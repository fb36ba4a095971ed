package dataset

import (
	"math/rand"
	"sort"

	"github.com/pkg/errors"
)

// ErrTooFewClasses is returned when a dataset cannot produce both positive and
// negative pairs.
var ErrTooFewClasses = errors.New("dataset: need at least two classes and one class with two images")

// Pair is two images and whether they belong to the same class (Target 1) or
// not (Target 0).
type Pair struct {
	First  *Image
	Second *Image
	Target float64
}

// PairDataset turns a labelled image collection into random positive and
// negative pairs. It is read-only after construction and safe for concurrent
// use as long as every goroutine brings its own rand.Rand.
type PairDataset struct {
	images  []*Image
	byClass map[int][]int

	// classes lists every label; positive lists labels with at least two images.
	classes  []int
	positive []int
}

// NewPairDataset groups images by label.
func NewPairDataset(images []*Image) (*PairDataset, error) {
	if len(images) == 0 {
		return nil, ErrNoImages
	}
	d := &PairDataset{images: images, byClass: map[int][]int{}}
	for i, img := range images {
		d.byClass[img.Label] = append(d.byClass[img.Label], i)
	}
	for label, members := range d.byClass {
		d.classes = append(d.classes, label)
		if len(members) >= 2 {
			d.positive = append(d.positive, label)
		}
	}
	sort.Ints(d.classes)
	sort.Ints(d.positive)

	if len(d.classes) < 2 || len(d.positive) == 0 {
		return nil, errors.Wrapf(ErrTooFewClasses, "%d classes, %d with two or more images", len(d.classes), len(d.positive))
	}
	return d, nil
}

// Len is the number of base images. One epoch yields Len pairs.
func (d *PairDataset) Len() int {
	return len(d.images)
}

// Classes returns the sorted labels present in the dataset.
func (d *PairDataset) Classes() []int {
	return append([]int(nil), d.classes...)
}

// Get draws a pair. A class is picked uniformly, then a first image uniformly
// from it. Even indices pair it with a different image of the same class; odd
// indices pair it with an image of a different, uniformly picked class. The
// index only matters through its parity. Classes with a single image are never
// picked for the first image of a positive pair.
func (d *PairDataset) Get(index int, rng *rand.Rand) Pair {
	same := index%2 == 0

	candidates := d.classes
	if same {
		candidates = d.positive
	}
	class := candidates[rng.Intn(len(candidates))]
	members := d.byClass[class]
	first := rng.Intn(len(members))

	if same {
		second := rng.Intn(len(members))
		for second == first {
			second = rng.Intn(len(members))
		}
		return Pair{
			First:  d.images[members[first]],
			Second: d.images[members[second]],
			Target: 1,
		}
	}

	other := d.classes[rng.Intn(len(d.classes))]
	for other == class {
		other = d.classes[rng.Intn(len(d.classes))]
	}
	others := d.byClass[other]
	return Pair{
		First:  d.images[members[first]],
		Second: d.images[others[rng.Intn(len(others))]],
		Target: 0,
	}
}
