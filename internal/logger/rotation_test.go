package logger

import (
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRotatingWriter(t *testing.T) {
	t.Run("creates file and directory", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "subdir", "cora.log")

		rw, err := NewRotatingWriter(logFile, 10, 7, false)
		require.NoError(t, err)
		defer rw.Close()

		_, err = os.Stat(logFile)
		assert.NoError(t, err)
	})

	t.Run("rejects non-positive size", func(t *testing.T) {
		_, err := NewRotatingWriter(filepath.Join(t.TempDir(), "cora.log"), 0, 7, false)
		assert.Error(t, err)
	})

	t.Run("appends to existing file", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "cora.log")
		require.NoError(t, os.WriteFile(logFile, []byte("earlier\n"), 0644))

		rw, err := NewRotatingWriter(logFile, 10, 7, false)
		require.NoError(t, err)
		_, err = rw.Write([]byte("later\n"))
		require.NoError(t, err)
		require.NoError(t, rw.Close())

		content, err := os.ReadFile(logFile)
		require.NoError(t, err)
		assert.Equal(t, "earlier\nlater\n", string(content))
	})
}

func TestRotatingWriterRotates(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "cora.log")
	rw, err := newRotatingWriter(logFile, 32, 0, false)
	require.NoError(t, err)

	line := []byte(strings.Repeat("a", 20) + "\n")
	for i := 0; i < 3; i++ {
		_, err := rw.Write(line)
		require.NoError(t, err)
	}
	require.NoError(t, rw.Close())

	// Every write after the first overflows the 32 byte limit.
	backups, err := rw.Backups()
	require.NoError(t, err)
	assert.Len(t, backups, 2)

	content, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Equal(t, string(line), string(content))
}

func TestRotatingWriterOversizedWrite(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "cora.log")
	rw, err := newRotatingWriter(logFile, 8, 0, false)
	require.NoError(t, err)

	big := []byte(strings.Repeat("b", 64))
	n, err := rw.Write(big)
	require.NoError(t, err)
	assert.Equal(t, len(big), n)
	require.NoError(t, rw.Close())

	backups, err := rw.Backups()
	require.NoError(t, err)
	assert.Empty(t, backups, "an empty file is never rotated")
}

func TestRotatingWriterUniqueBackupNames(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "cora.log")
	rw, err := newRotatingWriter(logFile, 4, 0, false)
	require.NoError(t, err)

	frozen := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	rw.now = func() time.Time { return frozen }

	for i := 0; i < 4; i++ {
		_, err := rw.Write([]byte("xxxx"))
		require.NoError(t, err)
	}
	require.NoError(t, rw.Close())

	backups, err := rw.Backups()
	require.NoError(t, err)
	assert.Len(t, backups, 3)
	assert.Contains(t, backups, logFile+".20260102-030405.000")
	assert.Contains(t, backups, logFile+".20260102-030405.000-1")
}

func TestRotatingWriterCompresses(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "cora.log")
	rw, err := newRotatingWriter(logFile, 8, 0, true)
	require.NoError(t, err)

	_, err = rw.Write([]byte("first!!\n"))
	require.NoError(t, err)
	_, err = rw.Write([]byte("second!\n"))
	require.NoError(t, err)
	// Close waits for compression.
	require.NoError(t, rw.Close())

	backups, err := rw.Backups()
	require.NoError(t, err)
	require.Len(t, backups, 1)
	require.True(t, strings.HasSuffix(backups[0], ".gz"))

	f, err := os.Open(backups[0])
	require.NoError(t, err)
	defer f.Close()
	gz, err := gzip.NewReader(f)
	require.NoError(t, err)
	content, err := io.ReadAll(gz)
	require.NoError(t, err)
	assert.Equal(t, "first!!\n", string(content))
}

func TestRotatingWriterWriteAfterClose(t *testing.T) {
	rw, err := NewRotatingWriter(filepath.Join(t.TempDir(), "cora.log"), 1, 0, false)
	require.NoError(t, err)
	require.NoError(t, rw.Close())
	require.NoError(t, rw.Close())

	_, err = rw.Write([]byte("late"))
	assert.ErrorIs(t, err, os.ErrClosed)
}

func TestRotatingWriterCleanup(t *testing.T) {
	dir := t.TempDir()
	logFile := filepath.Join(dir, "cora.log")

	old := logFile + ".20200101-120000.000"
	oldGz := logFile + ".20200102-120000.000.gz"
	recent := logFile + ".20991231-120000.000"
	for _, path := range []string{old, oldGz, recent} {
		require.NoError(t, os.WriteFile(path, []byte("log"), 0644))
	}
	past := time.Now().AddDate(0, 0, -10)
	require.NoError(t, os.Chtimes(old, past, past))
	require.NoError(t, os.Chtimes(oldGz, past, past))

	// Opening runs a cleanup pass; Close waits for it.
	rw, err := NewRotatingWriter(logFile, 10, 7, false)
	require.NoError(t, err)
	require.NoError(t, rw.Close())

	_, err = os.Stat(old)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(oldGz)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(recent)
	assert.NoError(t, err)
}
