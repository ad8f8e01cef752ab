package fleet

import (
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPick_AtomicAcrossConcurrentCallers(t *testing.T) {
	f := New(testLogger())
	f.Add("http://node-a")

	var wg sync.WaitGroup
	picks := make([]bool, 10)
	for i := 0; i < 10; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok := f.Pick(nil)
			picks[i] = ok
		}()
	}
	wg.Wait()

	count := 0
	for _, ok := range picks {
		if ok {
			count++
		}
	}
	require.Equal(t, 1, count)
}

func TestRemove_NoopWhenBusy(t *testing.T) {
	f := New(testLogger())
	f.Add("http://node-a")
	_, ok := f.Pick(nil)
	require.True(t, ok)

	require.False(t, f.Remove("http://node-a"))
	views := f.Iter()
	require.Len(t, views, 1)
	require.Equal(t, Busy, views[0].Status)

	f.SetIdle("http://node-a")
	require.True(t, f.Remove("http://node-a"))
	require.Empty(t, f.Iter())
}

func TestAdd_Idempotent(t *testing.T) {
	f := New(testLogger())
	f.Add("http://node-a")
	f.Add("http://node-a")
	require.Len(t, f.Iter(), 1)
}
