package crawler

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"
)

var skippedTags = map[string]bool{
	"script": true, "style": true, "noscript": true, "svg": true, "form": true,
	"nav": true, "footer": true, "header": true, "aside": true,
}

// ExtractText returns the page title and readable body text, truncated to
// about maxWords words
func ExtractText(htmlContent []byte, maxWords int) (title string, text string, err error) {
	doc, err := html.Parse(bytes.NewReader(htmlContent))
	if err != nil {
		return "", "", fmt.Errorf("failed to parse HTML: %w", err)
	}

	title = strings.TrimSpace(nodeText(findTitle(doc)))

	var sb strings.Builder
	collectText(doc, &sb)
	text = truncateWords(strings.Fields(sb.String()), maxWords)
	return title, text, nil
}

func findTitle(n *html.Node) *html.Node {
	if n.Type == html.ElementNode && n.Data == "title" {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if t := findTitle(c); t != nil {
			return t
		}
	}
	return nil
}

func collectText(n *html.Node, sb *strings.Builder) {
	if n.Type == html.ElementNode && (skippedTags[n.Data] || n.Data == "title") {
		return
	}
	if n.Type == html.TextNode {
		sb.WriteString(n.Data)
		sb.WriteByte(' ')
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, sb)
	}
}

func nodeText(n *html.Node) string {
	if n == nil {
		return ""
	}
	if n.Type == html.TextNode {
		return n.Data
	}
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		sb.WriteString(nodeText(c))
	}
	return sb.String()
}

func truncateWords(words []string, maxWords int) string {
	if maxWords <= 0 || len(words) <= maxWords {
		return strings.Join(words, " ")
	}
	return strings.Join(words[:maxWords], " ") + "..."
}

// ReadLimitedBody reads up to maxBytes from a reader
func ReadLimitedBody(body io.Reader, maxBytes int64) ([]byte, error) {
	return io.ReadAll(io.LimitReader(body, maxBytes))
}
