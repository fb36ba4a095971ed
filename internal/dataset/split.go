package dataset

import (
	"math"
	"math/rand"
	"sort"

	"github.com/pkg/errors"
)

// StratifiedSplit partitions indices 0..len(labels)-1 into train and test sets
// so that every class keeps roughly trainFraction of its members in train.
// Each class with at least two members contributes to both sides. The result is
// a deterministic function of labels, trainFraction and seed.
func StratifiedSplit(labels []int, trainFraction float64, seed int64) (train, test []int, err error) {
	if trainFraction <= 0 || trainFraction >= 1 {
		return nil, nil, errors.Errorf("train fraction must be in (0, 1), got %g", trainFraction)
	}
	if len(labels) == 0 {
		return nil, nil, ErrNoImages
	}

	byClass := map[int][]int{}
	for i, l := range labels {
		byClass[l] = append(byClass[l], i)
	}
	classes := make([]int, 0, len(byClass))
	for c := range byClass {
		classes = append(classes, c)
	}
	sort.Ints(classes)

	rng := rand.New(rand.NewSource(seed))
	for _, c := range classes {
		members := byClass[c]
		rng.Shuffle(len(members), func(i, j int) { members[i], members[j] = members[j], members[i] })

		n := len(members)
		k := int(math.Round(float64(n) * trainFraction))
		if n > 1 {
			if k < 1 {
				k = 1
			}
			if k > n-1 {
				k = n - 1
			}
		}
		train = append(train, members[:k]...)
		test = append(test, members[k:]...)
	}

	rng.Shuffle(len(train), func(i, j int) { train[i], train[j] = train[j], train[i] })
	rng.Shuffle(len(test), func(i, j int) { test[i], test[j] = test[j], test[i] })
	return train, test, nil
}
