package logbuffer

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRingKeepsLastN(t *testing.T) {
	const n = 10
	r := New(n)

	for i := 0; i < n+5; i++ {
		r.Append(fmt.Sprintf("line %d", i))
	}

	lines := r.Lines()
	assert.Len(t, lines, n)
	assert.Equal(t, "line 5", lines[0])
	assert.Equal(t, "line 14", lines[n-1])
	assert.Equal(t, n, r.Len())
	assert.Equal(t, n, r.Cap())
}

func TestRingBelowCapacity(t *testing.T) {
	r := New(5)
	r.Append("a", "b")

	assert.Equal(t, []string{"a", "b"}, r.Lines())
	assert.Equal(t, 2, r.Len())
}

func TestRingTail(t *testing.T) {
	r := New(5)
	r.Append("a", "b", "c", "d", "e", "f")

	assert.Equal(t, []string{"e", "f"}, r.Tail(2))
	assert.Equal(t, []string{"b", "c", "d", "e", "f"}, r.Tail(100))
	assert.Equal(t, []string{"b", "c", "d", "e", "f"}, r.Tail(-1))
	assert.Empty(t, r.Tail(0))
}

func TestRingReset(t *testing.T) {
	r := New(3)
	r.Append("a", "b", "c", "d")
	r.Reset()

	assert.Empty(t, r.Lines())
	r.Append("x")
	assert.Equal(t, []string{"x"}, r.Lines())
}

func TestRingDefaultCapacity(t *testing.T) {
	assert.Equal(t, DefaultClientLines, New(0).Cap())
	assert.Equal(t, DefaultHubLines, New(DefaultHubLines).Cap())
}

func TestRingLinesIsCopy(t *testing.T) {
	r := New(3)
	r.Append("a")
	lines := r.Lines()
	lines[0] = "mutated"
	assert.Equal(t, []string{"a"}, r.Lines())
}

func TestRingConcurrentAppend(t *testing.T) {
	r := New(50)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				r.Append(fmt.Sprintf("%d-%d", g, i))
			}
		}(g)
	}
	wg.Wait()
	assert.Equal(t, 50, r.Len())
}
