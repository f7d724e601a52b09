package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLineBufferBound(t *testing.T) {
	b := newLineBuffer(3)
	for i := 0; i < 10; i++ {
		b.append("line")
		assert.LessOrEqual(t, b.Len(), 3)
	}
	assert.Equal(t, 3, b.Len())
	assert.Equal(t, 10, b.Total())
}

func TestLineBufferRetainsMostRecent(t *testing.T) {
	b := newLineBuffer(2)
	b.append("a")
	b.append("b")
	b.append("c")
	assert.Equal(t, []string{"b", "c"}, b.snapshot())
}

func TestLineBufferTail(t *testing.T) {
	b := newLineBuffer(10)
	for _, l := range []string{"1", "2", "3", "4"} {
		b.append(l)
	}
	assert.Equal(t, []string{"3", "4"}, b.tail(2))
	assert.Equal(t, []string{"1", "2", "3", "4"}, b.tail(100))
}

func TestLineBufferFromAfterEviction(t *testing.T) {
	b := newLineBuffer(2)
	base := b.Total()
	b.append("a")
	b.append("b")
	b.append("c") // evicts "a"
	got := b.from(base)
	assert.Equal(t, []string{"b", "c"}, got)
}

func TestLineBufferFromBeforeWindow(t *testing.T) {
	b := newLineBuffer(2)
	b.append("a")
	b.append("b")
	b.append("c")
	got := b.from(0)
	assert.Equal(t, b.snapshot(), got)
}
