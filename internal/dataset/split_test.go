package dataset

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStratifiedSplitPreservesProportions(t *testing.T) {
	var labels []int
	for class := 0; class < 5; class++ {
		for i := 0; i < 10; i++ {
			labels = append(labels, class)
		}
	}

	train, test, err := StratifiedSplit(labels, 0.6, 42)
	require.NoError(t, err)
	assert.Len(t, train, 30)
	assert.Len(t, test, 20)

	perClass := map[int]int{}
	for _, i := range train {
		perClass[labels[i]]++
	}
	for class := 0; class < 5; class++ {
		assert.Equal(t, 6, perClass[class], "class %d", class)
	}

	all := append(append([]int(nil), train...), test...)
	sort.Ints(all)
	for i, v := range all {
		require.Equal(t, i, v)
	}
}

func TestStratifiedSplitDeterministic(t *testing.T) {
	labels := []int{0, 0, 0, 1, 1, 1, 2, 2, 2, 2}
	trainA, testA, err := StratifiedSplit(labels, 0.6, 7)
	require.NoError(t, err)
	trainB, testB, err := StratifiedSplit(labels, 0.6, 7)
	require.NoError(t, err)
	assert.Equal(t, trainA, trainB)
	assert.Equal(t, testA, testB)
}

func TestStratifiedSplitSmallClasses(t *testing.T) {
	// Two members: one each side regardless of the fraction.
	train, test, err := StratifiedSplit([]int{0, 0, 1, 1}, 0.9, 1)
	require.NoError(t, err)
	assert.Len(t, train, 2)
	assert.Len(t, test, 2)
}

func TestStratifiedSplitRejectsBadFraction(t *testing.T) {
	_, _, err := StratifiedSplit([]int{0, 1}, 1, 1)
	assert.Error(t, err)
	_, _, err = StratifiedSplit(nil, 0.5, 1)
	assert.ErrorIs(t, err, ErrNoImages)
}
