package storage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemDBRoundtrip(t *testing.T) {
	db := NewMemDB()

	_, err := db.Get([]byte("missing"))
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, db.Put([]byte("a"), []byte("one")))
	value, err := db.Get([]byte("a"))
	require.NoError(t, err)
	require.Equal(t, []byte("one"), value)

	ok, err := db.Has([]byte("a"))
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, db.Delete([]byte("a")))
	ok, err = db.Has([]byte("a"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMemDBCopiesValues(t *testing.T) {
	db := NewMemDB()
	value := []byte("mutable")
	require.NoError(t, db.Put([]byte("k"), value))
	value[0] = 'X'

	stored, err := db.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("mutable"), stored)
}

func TestMemDBIterateOrderedPrefix(t *testing.T) {
	db := NewMemDB()
	require.NoError(t, db.Put([]byte("p/2"), []byte("b")))
	require.NoError(t, db.Put([]byte("p/1"), []byte("a")))
	require.NoError(t, db.Put([]byte("q/1"), []byte("x")))
	require.NoError(t, db.Put([]byte("p/3"), []byte("c")))

	var keys []string
	require.NoError(t, db.Iterate([]byte("p/"), func(key, _ []byte) bool {
		keys = append(keys, string(key))
		return true
	}))
	require.Equal(t, []string{"p/1", "p/2", "p/3"}, keys)
}

func TestMemDBIterateStopsEarly(t *testing.T) {
	db := NewMemDB()
	require.NoError(t, db.Put([]byte("p/1"), []byte("a")))
	require.NoError(t, db.Put([]byte("p/2"), []byte("b")))

	var visited int
	require.NoError(t, db.Iterate([]byte("p/"), func(_, _ []byte) bool {
		visited++
		return false
	}))
	require.Equal(t, 1, visited)
}

func TestLevelDBRoundtrip(t *testing.T) {
	db, err := NewLevelDB(t.TempDir())
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Get([]byte("missing"))
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, db.Put([]byte("p/2"), []byte("b")))
	require.NoError(t, db.Put([]byte("p/1"), []byte("a")))
	require.NoError(t, db.Put([]byte("q/1"), []byte("x")))

	value, err := db.Get([]byte("p/1"))
	require.NoError(t, err)
	require.Equal(t, []byte("a"), value)

	var keys []string
	require.NoError(t, db.Iterate([]byte("p/"), func(key, _ []byte) bool {
		keys = append(keys, string(key))
		return true
	}))
	require.Equal(t, []string{"p/1", "p/2"}, keys)

	require.NoError(t, db.Delete([]byte("p/1")))
	ok, err := db.Has([]byte("p/1"))
	require.NoError(t, err)
	require.False(t, ok)
}
