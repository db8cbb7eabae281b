package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJaccard(t *testing.T) {
	assert.Equal(t, 1.0, Jaccard([]int{1, 2, 3}, []int{1, 2, 3}))
	assert.Equal(t, 0.0, Jaccard([]int{1, 2}, []int{3, 4}))
	assert.Equal(t, 0.0, Jaccard(nil, nil))
	assert.InDelta(t, 0.5, Jaccard([]int{1, 2, 3}, []int{2, 3, 4}), 1e-9)
}

func TestUnionSorted(t *testing.T) {
	assert.Equal(t, []int{1, 2, 3, 4}, UnionSorted([]int{1, 3}, []int{2, 3, 4}))
	assert.Equal(t, []int{5}, UnionSorted(nil, []int{5}))
	assert.Empty(t, UnionSorted(nil, nil))
}

func TestEqualSorted(t *testing.T) {
	assert.True(t, EqualSorted([]int{1, 2}, []int{1, 2}))
	assert.False(t, EqualSorted([]int{1, 2}, []int{1, 3}))
	assert.False(t, EqualSorted([]int{1}, []int{1, 2}))
}

func TestIntersectCount(t *testing.T) {
	assert.Equal(t, 2, IntersectCount([]int{0, 2, 4, 6}, []int{2, 3, 6}))
	assert.Equal(t, 0, IntersectCount([]int{0}, nil))
}
