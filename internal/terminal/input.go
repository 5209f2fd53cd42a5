package terminal

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// imageExts are the attachment types the providers accept
var imageExts = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".webp": true,
}

// Reader reads trimmed lines of user input
type Reader struct {
	r *bufio.Reader
}

// NewReader wraps in
func NewReader(in io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(in)}
}

// ReadLine reads one line. A final line without a newline is returned with
// a nil error; io.EOF is returned once input is exhausted.
func (r *Reader) ReadLine() (string, error) {
	line, err := r.r.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// IsImage reports whether path has a supported image extension
func IsImage(path string) bool {
	return imageExts[strings.ToLower(filepath.Ext(path))]
}

// FindImages searches workingDir for image files whose path contains partial
func FindImages(workingDir string, partial string) []string {
	matches := []string{}

	searchDir := workingDir
	pattern := strings.ToLower(partial)
	if strings.Contains(partial, "/") {
		dir, file := filepath.Split(partial)
		searchDir = filepath.Join(workingDir, dir)
		pattern = strings.ToLower(file)
	}

	_ = filepath.Walk(searchDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		relPath, err := filepath.Rel(workingDir, path)
		if err != nil || relPath == "." {
			return nil
		}

		if strings.HasPrefix(info.Name(), ".") {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if info.IsDir() {
			if strings.Count(relPath, string(filepath.Separator)) >= 4 {
				return filepath.SkipDir
			}
			return nil
		}
		if !IsImage(info.Name()) {
			return nil
		}
		if pattern == "" || strings.Contains(strings.ToLower(relPath), pattern) {
			if len(matches) < 100 {
				matches = append(matches, relPath)
			}
		}
		return nil
	})

	return matches
}

// ShowImageSuggestions prints up to 10 images matching partial
func ShowImageSuggestions(out io.Writer, workingDir string, partial string) {
	matches := FindImages(workingDir, partial)
	if len(matches) == 0 {
		return
	}
	fmt.Fprintf(out, "\n💡 Images matching '%s':\n", partial)
	for i, match := range matches {
		if i == 10 {
			break
		}
		fmt.Fprintf(out, "   /image %s\n", match)
	}
	fmt.Fprintln(out)
}
