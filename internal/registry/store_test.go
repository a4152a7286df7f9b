package registry

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "registry.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_RegisterAndList(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Register(Entry{Name: "do", URL: "http://a:1", RegisteredAt: 100}))
	require.NoError(t, s.Register(Entry{Name: "do", URL: "http://b:1", RegisteredAt: 200}))
	require.NoError(t, s.Register(Entry{Name: "other", URL: "http://c:1", RegisteredAt: 50}))

	entries, err := s.List("do")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "http://b:1", entries[0].URL, "most recently registered entry sorts first")
}

func TestStore_Pick_MostRecentWins(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Register(Entry{Name: "do", URL: "http://a:1", RegisteredAt: 100}))
	require.NoError(t, s.Register(Entry{Name: "do", URL: "http://b:1", RegisteredAt: 200}))

	picked, err := s.Pick("do", 0, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "http://b:1", picked.URL)
}

func TestStore_Pick_RespectsTTL(t *testing.T) {
	s := newTestStore(t)
	old := time.Now().Add(-time.Hour)
	require.NoError(t, s.Register(Entry{Name: "do", URL: "http://old:1", RegisteredAt: old.UnixNano()}))

	_, err := s.Pick("do", time.Minute, time.Now())
	assert.Error(t, err)

	fresh := time.Now()
	require.NoError(t, s.Register(Entry{Name: "do", URL: "http://fresh:1", RegisteredAt: fresh.UnixNano()}))
	picked, err := s.Pick("do", time.Minute, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "http://fresh:1", picked.URL)
}

func TestStore_Unregister(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Register(Entry{Name: "do", URL: "http://a:1", RegisteredAt: 1}))
	require.NoError(t, s.Unregister("http://a:1"))

	entries, err := s.List("do")
	require.NoError(t, err)
	assert.Empty(t, entries)
}
