package typeutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSet(t *testing.T) {
	s := NewSet("a", "b")
	assert.True(t, s.Contain("a", "b"))
	assert.False(t, s.Contain("a", "c"))

	assert.False(t, s.TryInsert("a"))
	assert.True(t, s.TryInsert("c"))
	assert.Equal(t, 3, s.Len())

	other := NewSet("b")
	assert.Equal(t, []string{"a", "c"}, SortedCollect(s.Complement(other)))

	s.Remove("a", "missing")
	assert.Equal(t, []string{"b", "c"}, SortedCollect(s))
}
