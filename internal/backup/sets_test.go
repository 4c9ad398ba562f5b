package backup

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUnion(t *testing.T) {
	t.Run("AppendsNewMembersInInputOrder", func(t *testing.T) {
		got := Union([]string{"t1", "t2"}, []string{"t2", "t3"})
		assert.Equal(t, []string{"t1", "t2", "t3"}, got)
	})

	t.Run("EmptyExisting", func(t *testing.T) {
		got := Union(nil, []string{"t1", "t2"})
		assert.Equal(t, []string{"t1", "t2"}, got)
	})

	t.Run("EmptyIncoming", func(t *testing.T) {
		got := Union([]string{"t1"}, nil)
		assert.Equal(t, []string{"t1"}, got)
	})

	t.Run("Idempotent", func(t *testing.T) {
		a := []string{"t1", "t2"}
		b := []string{"t2", "t3", "t4"}
		once := Union(a, b)
		assert.Equal(t, once, Union(once, b))
	})

	t.Run("Deduplicates", func(t *testing.T) {
		got := Union([]string{"t1"}, []string{"t1", "t1", "t2"})
		assert.Equal(t, []string{"t1", "t2"}, got)
	})

	t.Run("Pure", func(t *testing.T) {
		a := []string{"t1"}
		b := []string{"t2"}
		_ = Union(a, b)
		assert.Equal(t, []string{"t1"}, a)
		assert.Equal(t, []string{"t2"}, b)
	})
}

func TestDifference(t *testing.T) {
	t.Run("RemovesListedMembers", func(t *testing.T) {
		got := Difference([]string{"t1", "t2", "t3"}, []string{"t2"})
		assert.Equal(t, []string{"t1", "t3"}, got)
	})

	t.Run("OrderPreserved", func(t *testing.T) {
		got := Difference([]string{"t3", "t1", "t2"}, []string{"t1"})
		assert.Equal(t, []string{"t3", "t2"}, got)
	})

	t.Run("SelfDifferenceIsEmpty", func(t *testing.T) {
		a := []string{"t1", "t2"}
		assert.Empty(t, Difference(a, a))
	})

	t.Run("RemovingAbsentMembersIsNoop", func(t *testing.T) {
		got := Difference([]string{"t1"}, []string{"t9"})
		assert.Equal(t, []string{"t1"}, got)
	})
}
