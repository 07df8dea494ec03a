package codec

import (
	"bytes"
	"regexp"
	"strings"
	"sync"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

var (
	markdownOnce     sync.Once
	markdownRenderer goldmark.Markdown
)

func getMarkdown() goldmark.Markdown {
	markdownOnce.Do(func() {
		markdownRenderer = goldmark.New(
			goldmark.WithExtensions(
				extension.GFM,
			),
			// Inline HTML such as <del> passes through to formatted_body.
			goldmark.WithRendererOptions(
				html.WithUnsafe(),
			),
		)
	})
	return markdownRenderer
}

// RenderMarkdown converts markdown to the HTML used as formatted_body.
// Rendering failures fall back to the escaped source text.
func RenderMarkdown(source string) string {
	if source == "" {
		return ""
	}
	var buf bytes.Buffer
	if err := getMarkdown().Convert([]byte(source), &buf); err != nil {
		return htmlEscaper.Replace(source)
	}
	return strings.TrimSuffix(buf.String(), "\n")
}

var htmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
)

var delSpan = regexp.MustCompile(`(?is)<del>(.*?)</del>`)

// FilterDeleted handles <del> spans in a plain-text body. With keep the tags
// are dropped and their text stays; otherwise the whole span is removed.
func FilterDeleted(body string, keep bool) string {
	if keep {
		return delSpan.ReplaceAllString(body, "$1")
	}
	return delSpan.ReplaceAllString(body, "")
}
