package sealstore

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestProfileRegistry(t *testing.T) {
	r := newProfileRegistry()
	require.Nil(t, r.get("a"))
	require.Empty(t, r.all())

	r.put(&profile{id: "1", name: "a"})
	r.put(&profile{id: "2", name: "b"})
	require.Equal(t, "1", r.get("a").id)
	require.Len(t, r.all(), 2)

	// put replaces by name
	r.put(&profile{id: "3", name: "a"})
	require.Equal(t, "3", r.get("a").id)
	require.Len(t, r.all(), 2)

	r.remove("a")
	require.Nil(t, r.get("a"))
	require.NotNil(t, r.get("b"))

	r.replaceAll([]*profile{{id: "4", name: "c"}})
	require.Nil(t, r.get("b"))
	require.Equal(t, "4", r.get("c").id)
}

func TestProfileRegistryConcurrent(t *testing.T) {
	r := newProfileRegistry()
	r.put(&profile{id: "0", name: "seed"})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				r.put(&profile{id: "w", name: fmt.Sprintf("p%d-%d", i, j)})
			}
		}(i)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				// readers always see a complete snapshot
				if r.get("seed") == nil {
					t.Error("seed profile missing from snapshot")
					return
				}
				_ = r.all()
			}
		}()
	}
	wg.Wait()
	require.Len(t, r.all(), 1+8*100)
}
