package cache

import (
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func referenceItems(n int) [][]byte {
	items := make([][]byte, n)
	for i := range items {
		items[i] = []byte(fmt.Sprintf("item-%d", i))
	}
	return items
}

func roundTrip(t *testing.T, backend Backend) {
	t.Helper()
	oc := NewOffloadCache(2, backend)
	save, err := oc.NewSave()
	require.NoError(t, err)

	items := referenceItems(5)
	for _, it := range items {
		save.Push(it)
	}

	load := save.IntoLoad()
	for i := len(items) - 1; i >= 0; i-- {
		got, ok := load.Pop()
		require.True(t, ok)
		require.Equal(t, items[i], got)
	}
	_, ok := load.Pop()
	require.False(t, ok)
	require.NoError(t, load.Err())
}

// TestOffloadCache_LocalBackend_LIFORoundTrip verifies Property 6 /
// scenario S5: items pushed in order come back in strict LIFO order
// regardless of how many spill past the in-memory bound.
func TestOffloadCache_LocalBackend_LIFORoundTrip(t *testing.T) {
	roundTrip(t, LocalBackend{})
}

func TestOffloadCache_FileBackend_LIFORoundTrip(t *testing.T) {
	roundTrip(t, FileBackend{Root: t.TempDir()})
}

func TestOffloadCache_EncryptedBackend_LIFORoundTrip(t *testing.T) {
	inner := FileBackend{Root: t.TempDir()}
	enc, err := NewEncryptedBackend(inner)
	require.NoError(t, err)
	roundTrip(t, enc)
}

// TestOffloadCache_TCPBackend_LIFORoundTrip verifies the TCP backend
// against a locally spawned cache server.
func TestOffloadCache_TCPBackend_LIFORoundTrip(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	go func() { _ = ServeCacheServer(addr, LocalBackend{}) }()
	require.Eventually(t, func() bool {
		conn, err := net.Dial("tcp", addr)
		if err != nil {
			return false
		}
		conn.Close()
		return true
	}, time.Second, 10*time.Millisecond)

	roundTrip(t, TCPBackend{Addr: addr})
}
