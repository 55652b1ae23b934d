package session

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistryIdempotent(t *testing.T) {
	r := NewRegistry()

	r.Register("a")
	r.Register("a")
	require.True(t, r.IsLive("a"))
	require.Equal(t, 1, r.Len())

	r.Deregister("a")
	r.Deregister("a")
	r.Deregister("missing")
	require.False(t, r.IsLive("a"))
	require.Equal(t, 0, r.Len())
}

// go test -race で検出されるよう、登録/削除/参照を並行に行う。
func TestRegistryConcurrentAccess(t *testing.T) {
	r := NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := fmt.Sprintf("s-%d", n)
			for j := 0; j < 200; j++ {
				r.Register(id)
				_ = r.IsLive(id)
				_ = r.Len()
				r.Deregister(id)
			}
		}(i)
	}
	wg.Wait()

	require.Equal(t, 0, r.Len())
}
