package utils

import (
	"bytes"
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	gmhtml "github.com/yuin/goldmark/renderer/html"
)

var (
	sanitizer = bluemonday.UGCPolicy().RequireNoFollowOnLinks(true).AddTargetBlankToFullyQualifiedLinks(true)
	markdown  = goldmark.New(
		goldmark.WithExtensions(extension.Linkify, extension.Strikethrough),
		goldmark.WithRendererOptions(gmhtml.WithHardWraps()),
	)
)

// Sanitize cleans HTML content to prevent XSS attacks.
func Sanitize(input string) string {
	return sanitizer.Sanitize(input)
}

// RenderBody turns a submitted comment body into safe HTML. With markdown
// off, the text is escaped and line breaks are kept.
func RenderBody(body string, useMarkdown bool) string {
	body = strings.TrimSpace(body)
	if !useMarkdown {
		escaped := html.EscapeString(body)
		return Sanitize("<p>" + strings.ReplaceAll(escaped, "\n", "<br>") + "</p>")
	}
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(body), &buf); err != nil {
		return Sanitize(html.EscapeString(body))
	}
	return Sanitize(buf.String())
}
