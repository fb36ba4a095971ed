package dataset

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeImages(perClass map[int]int) []*Image {
	var images []*Image
	for label := 0; label < len(perClass)+10; label++ {
		for i := 0; i < perClass[label]; i++ {
			images = append(images, &Image{
				Path:   string(rune('A'+label)) + string(rune('a'+i)),
				Label:  label,
				Height: 2,
				Width:  2,
				Pixels: []float64{float64(label), float64(i), 0, 1},
			})
		}
	}
	return images
}

func TestPairLabelsMatchClasses(t *testing.T) {
	ds, err := NewPairDataset(fakeImages(map[int]int{0: 3, 1: 2, 2: 4, 3: 1}))
	require.NoError(t, err)
	assert.Equal(t, 10, ds.Len())
	assert.Equal(t, []int{0, 1, 2, 3}, ds.Classes())

	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 2000; i++ {
		p := ds.Get(i, rng)
		if i%2 == 0 {
			require.Equal(t, 1.0, p.Target)
			require.Equal(t, p.First.Label, p.Second.Label)
			require.NotSame(t, p.First, p.Second)
			require.NotEqual(t, 3, p.First.Label, "single-image class used for a positive pair")
		} else {
			require.Equal(t, 0.0, p.Target)
			require.NotEqual(t, p.First.Label, p.Second.Label)
		}
	}
}

func TestPairSamplingCoversClasses(t *testing.T) {
	ds, err := NewPairDataset(fakeImages(map[int]int{0: 2, 1: 2, 2: 2}))
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(3))
	seen := map[int]int{}
	for i := 0; i < 600; i++ {
		seen[ds.Get(i, rng).First.Label]++
	}
	for class := 0; class < 3; class++ {
		assert.Greater(t, seen[class], 100, "class %d under-sampled", class)
	}
}

func TestPairDatasetRequiresTwoClasses(t *testing.T) {
	_, err := NewPairDataset(fakeImages(map[int]int{0: 5}))
	assert.ErrorIs(t, err, ErrTooFewClasses)

	_, err = NewPairDataset(fakeImages(map[int]int{0: 1, 1: 1}))
	assert.ErrorIs(t, err, ErrTooFewClasses)

	_, err = NewPairDataset(nil)
	assert.ErrorIs(t, err, ErrNoImages)
}
