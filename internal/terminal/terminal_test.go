package terminal

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReaderReadLine(t *testing.T) {
	r := NewReader(strings.NewReader("  hello  \n/exit"))

	line, err := r.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "hello", line)

	line, err = r.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "/exit", line)

	_, err = r.ReadLine()
	assert.ErrorIs(t, err, io.EOF)
}

func TestFindImages(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"diagram.png", "notes.txt", "bio/cell.JPG", ".hidden/secret.png", "bio/cell-notes.md"} {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	}

	assert.ElementsMatch(t, []string{"diagram.png", filepath.Join("bio", "cell.JPG")}, FindImages(dir, ""))
	assert.Equal(t, []string{filepath.Join("bio", "cell.JPG")}, FindImages(dir, "cell"))
	assert.Equal(t, []string{filepath.Join("bio", "cell.JPG")}, FindImages(dir, "bio/ce"))
	assert.Empty(t, FindImages(dir, "secret"))

	var buf bytes.Buffer
	ShowImageSuggestions(&buf, dir, "diag")
	assert.Contains(t, buf.String(), "/image diagram.png")
}

func TestSpinnerStopWithoutStart(t *testing.T) {
	s := NewSpinner(&bytes.Buffer{})
	s.Stop()
	s.Start("thinking")
	s.Stop()
}
