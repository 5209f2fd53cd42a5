package conversation

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
)

// DefaultTitle is the title of a conversation that has never been synchronized
const DefaultTitle = "New Chat"

// Source is a web page that grounded an answer
type Source struct {
	URI   string `json:"uri"`
	Title string `json:"title"`
}

// Image is an attached image carried as a data URL ("data:<mime>;base64,<payload>")
type Image string

// Interaction is one query/response pair within a conversation
type Interaction struct {
	Query           string   `json:"query"`
	Image           Image    `json:"image,omitempty"`
	Response        string   `json:"response"`
	IsLoading       bool     `json:"isLoading,omitempty"`
	Failed          bool     `json:"failed,omitempty"`
	FollowUpPrompts []string `json:"followUpPrompts,omitempty"`
	Sources         []Source `json:"sources,omitempty"`
}

// State is the lifecycle state of an interaction
type State int

const (
	StatePending State = iota
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// State reports where the interaction is in its lifecycle
func (i Interaction) State() State {
	switch {
	case i.IsLoading:
		return StatePending
	case i.Failed:
		return StateFailed
	default:
		return StateDone
	}
}

// ImageFromFile reads an image file and encodes it as a data URL
func ImageFromFile(path string) (Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read image: %w", err)
	}
	mime := http.DetectContentType(data)
	if !strings.HasPrefix(mime, "image/") {
		return "", fmt.Errorf("unsupported image type %s", mime)
	}
	return NewImage(mime, data), nil
}

// NewImage builds a data URL image from raw bytes
func NewImage(mimeType string, data []byte) Image {
	return Image("data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data))
}

// Decode splits the data URL into its mime type and base64 payload
func (img Image) Decode() (mimeType string, payload string, err error) {
	rest, ok := strings.CutPrefix(string(img), "data:")
	if !ok {
		return "", "", errors.New("invalid image data url")
	}
	header, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", "", errors.New("invalid image data url")
	}
	mimeType, ok = strings.CutSuffix(header, ";base64")
	if !ok || mimeType == "" || payload == "" {
		return "", "", errors.New("invalid image data url")
	}
	return mimeType, payload, nil
}
