package entries

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewEntry(t *testing.T) {
	e := NewEntry(Data{Username: "u", Password: "p", KidID: "k1", KidName: "Ada"})
	require.NotEmpty(t, e.ID)
	require.Equal(t, "Ada Activities", e.Title)
	require.Equal(t, "k1", e.UniqueID)
}

func TestStoreRoundTripOnDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "entries.yaml")
	s := Open(path)

	list, err := s.List()
	require.NoError(t, err)
	require.Empty(t, list)

	e := NewEntry(Data{Username: "u", Password: "p", KidID: "k1", KidName: "Ada"})
	require.NoError(t, s.Add(e))

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	reopened := Open(path)
	got, err := reopened.Get(e.ID)
	require.NoError(t, err)
	require.Equal(t, e.Data, got.Data)
	require.True(t, e.CreatedAt.Equal(got.CreatedAt))

	ok, err := reopened.Configured("k1")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestStoreRejectsDuplicateKid(t *testing.T) {
	for _, path := range []string{"", filepath.Join(t.TempDir(), "entries.yaml")} {
		s := Open(path)
		require.NoError(t, s.Add(NewEntry(Data{KidID: "k1", KidName: "Ada"})))
		err := s.Add(NewEntry(Data{KidID: "k1", KidName: "Ada again"}))
		require.ErrorIs(t, err, ErrAlreadyConfigured)

		list, err := s.List()
		require.NoError(t, err)
		require.Len(t, list, 1)
	}
}

func TestStoreRemove(t *testing.T) {
	s := Open("")
	e := NewEntry(Data{KidID: "k1"})
	require.NoError(t, s.Add(e))

	require.NoError(t, s.Remove(e.ID))
	require.ErrorIs(t, s.Remove(e.ID), ErrNotFound)

	_, err := s.Get(e.ID)
	require.ErrorIs(t, err, ErrNotFound)

	ok, err := s.Configured("k1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestStoreBadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "entries.yaml")
	require.NoError(t, os.WriteFile(path, []byte("entries: [\n"), 0o600))

	_, err := Open(path).List()
	require.Error(t, err)
}
