package colorcache

import (
	"testing"

	"gotest.tools/v3/assert"
)

func TestSameKeySameColor(t *testing.T) {
	c := New()
	first := c.PrefixWithColor("app:build", "app:build")
	second := c.PrefixWithColor("app:build", "app:build")
	assert.Equal(t, first, second)
}

func TestDistinctKeysCycleThePalette(t *testing.T) {
	c := New()
	a := c.colorFor("a")
	b := c.colorFor("b")
	assert.Assert(t, a != b)

	// The palette wraps: the sixth key reuses the first key's color.
	c.colorFor("c")
	c.colorFor("d")
	c.colorFor("e")
	assert.Equal(t, a, c.colorFor("f"))
}

func TestPrefixEndsWithSeparator(t *testing.T) {
	c := New()
	got := c.PrefixWithColor("k", "label")
	assert.Assert(t, len(got) >= len("label: "))
}
