package persist

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jcalabro/cuckoo"
)

func testFilter(t *testing.T, capacity uint64, items int) *cuckoo.Filter {
	t.Helper()
	p := cuckoo.DefaultParams()
	p.Expansion = 2
	f, err := cuckoo.NewWithParams(capacity, p, cuckoo.WithSeed(1), cuckoo.WithChunkSize(128))
	require.NoError(t, err)
	for i := range items {
		require.NoError(t, f.AddString(fmt.Sprintf("item-%d", i)))
	}
	return f
}

func requireSameFilter(t *testing.T, want, got *cuckoo.Filter) {
	t.Helper()
	require.Equal(t, want.Info(), got.Info())
	require.Equal(t, want.Debug(), got.Debug())
	require.Equal(t, want.Params(), got.Params())
	require.Equal(t, want.Capacity(), got.Capacity())

	var a, b [][]byte
	for _, chunk := range dumpAll(want) {
		a = append(a, chunk)
	}
	for _, chunk := range dumpAll(got) {
		b = append(b, chunk)
	}
	require.Equal(t, a, b)
}

func TestBoltRoundtrip(t *testing.T) {
	s, err := OpenBolt(filepath.Join(t.TempDir(), "filters.db"))
	require.NoError(t, err)
	defer s.Close()

	f := testFilter(t, 100, 2000)
	require.NoError(t, s.Save("cf", f))

	got, err := s.Load("cf", cuckoo.WithChunkSize(128))
	require.NoError(t, err)
	requireSameFilter(t, f, got)

	for i := range 2000 {
		require.True(t, got.ExistsString(fmt.Sprintf("item-%d", i)), "item %d", i)
	}
}

func TestBoltEmptyFilter(t *testing.T) {
	s, err := OpenBolt(filepath.Join(t.TempDir(), "filters.db"))
	require.NoError(t, err)
	defer s.Close()

	f := testFilter(t, 1000, 0)
	require.NoError(t, s.Save("empty", f))

	got, err := s.Load("empty")
	require.NoError(t, err)
	require.Equal(t, f.Info(), got.Info())
}

func TestBoltOverwriteDeleteNames(t *testing.T) {
	path := filepath.Join(t.TempDir(), "filters.db")
	s, err := OpenBolt(path)
	require.NoError(t, err)

	require.NoError(t, s.Save("b", testFilter(t, 1000, 10)))
	require.NoError(t, s.Save("a", testFilter(t, 1000, 10)))

	// A smaller filter replaces every chunk of the previous one.
	small := testFilter(t, 8, 3)
	require.NoError(t, s.Save("b", small))

	names, err := s.Names()
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, names)

	require.NoError(t, s.Delete("a"))
	require.NoError(t, s.Delete("a"))

	_, err = s.Load("a")
	require.ErrorIs(t, err, cuckoo.ErrNotFound)

	// Reopen to make sure the data was persisted.
	require.NoError(t, s.Close())
	s, err = OpenBolt(path)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.Load("b", cuckoo.WithChunkSize(128))
	require.NoError(t, err)
	requireSameFilter(t, small, got)
}

func TestSnapshotFileRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cf.snap")

	f := testFilter(t, 62, 1500)
	for i := 0; i < 1500; i += 5 {
		f.DeleteString(fmt.Sprintf("item-%d", i))
	}
	require.NoError(t, WriteSnapshotFile(path, f))

	got, err := ReadSnapshotFile(path, cuckoo.WithChunkSize(128))
	require.NoError(t, err)
	requireSameFilter(t, f, got)

	// Overwriting keeps a single file in the directory.
	require.NoError(t, WriteSnapshotFile(path, testFilter(t, 1000, 1)))
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestSnapshotFileCorrupt(t *testing.T) {
	dir := t.TempDir()

	valid := filepath.Join(dir, "valid.snap")
	require.NoError(t, WriteSnapshotFile(valid, testFilter(t, 1000, 100)))
	data, err := os.ReadFile(valid)
	require.NoError(t, err)

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"short", []byte("CF")},
		{"bad magic", append([]byte("XXXXXXXX"), data[8:]...)},
		{"magic only", data[:8]},
		{"truncated frame header", data[:8+5]},
		{"truncated chunk", data[:len(data)-1]},
		{"zeroed header chunk", func() []byte {
			b := bytes.Clone(data)
			clear(b[8+frameHeaderSize : 8+frameHeaderSize+44])
			return b
		}()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, "corrupt.snap")
			require.NoError(t, os.WriteFile(path, tt.data, 0o600))
			_, err := ReadSnapshotFile(path)
			require.ErrorIs(t, err, cuckoo.ErrCorruptData)
		})
	}
}

func TestSnapshotFileMissing(t *testing.T) {
	_, err := ReadSnapshotFile(filepath.Join(t.TempDir(), "missing.snap"))
	require.ErrorIs(t, err, os.ErrNotExist)
}
