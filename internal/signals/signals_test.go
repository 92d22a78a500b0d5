package signals

import (
	"testing"
	"time"

	"gotest.tools/v3/assert"
)

func TestCloseRunsHooksThenReleasesDone(t *testing.T) {
	w := NewWatcher()

	ran := false
	w.AddOnClose(func() { ran = true })
	w.Close()

	assert.Assert(t, ran)
	select {
	case <-w.Done():
	case <-time.After(time.Second):
		t.Fatal("Done was not released by Close")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	w := NewWatcher()

	count := 0
	w.AddOnClose(func() { count++ })
	w.Close()
	w.Close()
	assert.Equal(t, 1, count)
}

func TestLateHookRunsImmediately(t *testing.T) {
	w := NewWatcher()
	w.Close()

	ran := false
	w.AddOnClose(func() { ran = true })
	assert.Assert(t, ran)
}

func TestHooksRunInRegistrationOrder(t *testing.T) {
	w := NewWatcher()

	var order []int
	w.AddOnClose(func() { order = append(order, 1) })
	w.AddOnClose(func() { order = append(order, 2) })
	w.Close()

	assert.DeepEqual(t, []int{1, 2}, order)
}
