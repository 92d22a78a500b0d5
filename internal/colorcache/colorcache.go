// Package colorcache assigns each task a stable terminal color for its
// output prefix. The palette cycles in first-seen order, so within one
// run a target keeps its color for every line it emits, and concurrent
// streams stay visually separable.
package colorcache

import (
	"sync"

	"github.com/fatih/color"
)

// palette deliberately skips red (reads as failure) and white/black
// (invisible on some terminals).
var palette = []*color.Color{
	color.New(color.FgCyan),
	color.New(color.FgMagenta),
	color.New(color.FgGreen),
	color.New(color.FgYellow),
	color.New(color.FgBlue),
}

// ColorCache hands out palette colors keyed by an arbitrary label.
type ColorCache struct {
	mu       sync.Mutex
	assigned map[string]*color.Color
}

// New constructs an empty ColorCache.
func New() *ColorCache {
	return &ColorCache{assigned: make(map[string]*color.Color)}
}

// colorFor returns the color bound to key, binding the next palette
// entry on first sight.
func (c *ColorCache) colorFor(key string) *color.Color {
	c.mu.Lock()
	defer c.mu.Unlock()
	if bound, ok := c.assigned[key]; ok {
		return bound
	}
	bound := palette[len(c.assigned)%len(palette)]
	c.assigned[key] = bound
	return bound
}

// PrefixWithColor renders prefix in the color bound to key, followed by
// the separator stream lines hang off of.
func (c *ColorCache) PrefixWithColor(key string, prefix string) string {
	return c.colorFor(key).Sprintf("%s: ", prefix)
}
