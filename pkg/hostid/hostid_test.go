package hostid

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInternIdempotent(t *testing.T) {
	tbl := New()
	a1 := tbl.Intern("node-a")
	a2 := tbl.Intern("node-a")
	b := tbl.Intern("node-b")
	require.Equal(t, a1, a2)
	require.NotEqual(t, a1, b)
	require.Equal(t, "node-a", tbl.String(a1))
	require.Equal(t, "node-b", tbl.String(b))
}

func TestInternConcurrent(t *testing.T) {
	tbl := New()
	const n = 64
	var wg sync.WaitGroup
	ids := make([]ID, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// Every goroutine interns the same hostname; all must agree.
			id := tbl.Intern("shared-host")
			ids[i] = id
		}(i)
	}
	wg.Wait()
	for i := 1; i < n; i++ {
		require.Equal(t, ids[0], ids[i])
	}
}

func TestUnknownIDResolvesEmpty(t *testing.T) {
	tbl := New()
	require.Equal(t, "", tbl.String(ID(999999)))
}
