package fs

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalFS(t *testing.T) {
	tmp := t.TempDir()
	lfs := LocalFS{}

	dir := filepath.Join(tmp, "subdir")
	assert.NoError(t, lfs.MkdirAll(dir, 0o755))

	fpath := filepath.Join(dir, "test.txt")
	f, err := lfs.OpenFile(fpath, os.O_CREATE|os.O_RDWR, 0o644)
	require.NoError(t, err)

	_, err = f.Write([]byte("hello"))
	assert.NoError(t, err)
	assert.NoError(t, f.Sync())

	info, err := f.Stat()
	assert.NoError(t, err)
	assert.Equal(t, int64(5), info.Size())

	buf := make([]byte, 3)
	_, err = f.ReadAt(buf, 1)
	assert.NoError(t, err)
	assert.Equal(t, "ell", string(buf))
	assert.NoError(t, f.Close())

	newPath := filepath.Join(dir, "renamed.txt")
	assert.NoError(t, lfs.Rename(fpath, newPath))

	info2, err := lfs.Stat(newPath)
	assert.NoError(t, err)
	assert.Equal(t, int64(5), info2.Size())

	assert.NoError(t, lfs.Remove(newPath))
	_, err = lfs.Stat(newPath)
	assert.True(t, os.IsNotExist(err))
}

func TestFaultyFS(t *testing.T) {
	tmp := t.TempDir()

	t.Run("WriteLimit", func(t *testing.T) {
		ffs := NewFaultyFS(nil)
		ffs.AddRule("limited", Fault{FailAfterBytes: 4})

		f, err := ffs.OpenFile(filepath.Join(tmp, "limited.bin"), os.O_CREATE|os.O_WRONLY, 0o644)
		require.NoError(t, err)
		defer f.Close()

		_, err = f.Write([]byte("abc"))
		require.NoError(t, err)
		_, err = f.Write([]byte("de"))
		assert.ErrorIs(t, err, ErrInjected)
	})

	t.Run("CustomError", func(t *testing.T) {
		boom := errors.New("boom")
		ffs := NewFaultyFS(nil)
		ffs.AddRule("sync", Fault{FailAfterBytes: -1, FailOnSync: true, Err: boom})

		f, err := ffs.OpenFile(filepath.Join(tmp, "sync.bin"), os.O_CREATE|os.O_WRONLY, 0o644)
		require.NoError(t, err)
		defer f.Close()

		assert.ErrorIs(t, f.Sync(), boom)
	})

	t.Run("OpenAndRename", func(t *testing.T) {
		ffs := NewFaultyFS(nil)
		ffs.AddRule("noopen", Fault{FailOnOpen: true})
		ffs.AddRule("final", Fault{FailAfterBytes: -1, FailOnRename: true})

		_, err := ffs.OpenFile(filepath.Join(tmp, "noopen"), os.O_CREATE|os.O_WRONLY, 0o644)
		assert.ErrorIs(t, err, ErrInjected)

		src := filepath.Join(tmp, "src")
		require.NoError(t, os.WriteFile(src, []byte("x"), 0o644))
		assert.ErrorIs(t, ffs.Rename(src, filepath.Join(tmp, "final")), ErrInjected)
	})

	t.Run("LastRuleWins", func(t *testing.T) {
		ffs := NewFaultyFS(nil)
		ffs.AddRule("file", Fault{FailOnClose: true})
		ffs.AddRule("file", Fault{FailAfterBytes: -1})

		f, err := ffs.OpenFile(filepath.Join(tmp, "file"), os.O_CREATE|os.O_WRONLY, 0o644)
		require.NoError(t, err)
		assert.NoError(t, f.Close())
	})
}
