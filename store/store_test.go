package store

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/symcheck/symcheck/term"
	"github.com/symcheck/symcheck/trace"
)

type entry struct {
	Name  string
	Trace trace.Trace
}

func TestRoundTrip(t *testing.T) {
	cache, err := Open("")
	require.NoError(t, err)
	defer func() {
		require.NoError(t, cache.Close())
	}()

	key := Key{Fingerprint: 42, MaxDepth: 3}
	var out entry
	found, err := cache.Get(key, &out)
	require.NoError(t, err)
	require.False(t, found)

	k := term.MakeConstant("k")
	in := entry{Name: "k", Trace: trace.Trace{{Kind: trace.Observe, Sender: "Alice", Recipient: "Bob", Constant: "k", Value: k}}}
	require.NoError(t, cache.Put(key, in))

	found, err = cache.Get(key, &out)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "k", out.Name)
	require.True(t, out.Trace.Equal(in.Trace))

	other := key
	other.MaxDepth = 4
	found, err = cache.Get(other, &out)
	require.NoError(t, err)
	require.False(t, found, "reports for other bounds are kept apart")
}

func TestPersists(t *testing.T) {
	dir := t.TempDir()
	key := Key{Fingerprint: 7, Queries: []int{0, 2}}

	cache, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, cache.Put(key, entry{Name: "saved"}))
	require.NoError(t, cache.Close())

	cache, err = Open(dir)
	require.NoError(t, err)
	defer cache.Close()
	var out entry
	found, err := cache.Get(key, &out)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "saved", out.Name)
}
