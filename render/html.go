// CLAUDE:SUMMARY Markdown to sanitized HTML (goldmark GFM + bluemonday), the printable A4 document template, PDF post-processing (pdfcpu) and write-once report files.
// Package render turns report Markdown into the artefacts a user receives:
// an HTML body, a full printable document and a PDF.
package render

import (
	"bytes"
	"fmt"
	"html/template"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

var md = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
	goldmark.WithRendererOptions(html.WithUnsafe()),
)

// policy keeps the structural tags of a report and drops everything else,
// keeping the text of dropped elements.
var policy = func() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements(
		"p", "h1", "h2", "h3", "h4", "h5", "h6",
		"ul", "ol", "li", "blockquote", "pre", "code",
		"table", "thead", "tbody", "tr", "th", "td",
		"em", "strong", "a", "img", "span", "div", "br", "hr",
	)
	p.AllowAttrs("class").Globally()
	p.AllowAttrs("href", "title", "target", "rel").OnElements("a")
	p.AllowAttrs("src", "alt", "title").OnElements("img")
	p.AllowURLSchemes("http", "https", "mailto")
	p.AllowRelativeURLs(true)
	p.RequireParseableURLs(true)
	return p
}()

// MarkdownToHTML converts Markdown to a sanitized HTML fragment.
func MarkdownToHTML(markdown string) (string, error) {
	var buf bytes.Buffer
	if err := md.Convert([]byte(markdown), &buf); err != nil {
		return "", fmt.Errorf("render: markdown: %w", err)
	}
	return policy.Sanitize(buf.String()), nil
}

var docTmpl = template.Must(template.New("doc").Parse(`<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8" />
  <title>{{.Title}}</title>
  <style>
    :root { --fg: #111; --fg-2: #222; --fg-3: #444; --muted: #666; --border: #ddd; --shade: #f5f5f5; }
    @page { size: A4; margin: 22mm; }
    body {
      font-family: -apple-system, BlinkMacSystemFont, 'Helvetica Neue', Arial, 'Noto Sans CJK SC', sans-serif;
      color: var(--fg);
      line-height: 1.7;
    }
    .page-header {
      font-size: 12px; color: var(--muted);
      border-bottom: 1px solid var(--border);
      padding-bottom: 4px; margin-bottom: 12px;
    }
    article { font-size: 15px; }
    h1 { font-size: 24px; color: var(--fg-2); margin: 0 0 12px; }
    h2 { font-size: 20px; color: var(--fg-2); margin: 20px 0 8px; }
    h3 { font-size: 16px; color: var(--fg-2); margin: 16px 0 6px; }
    p { margin: 8px 0; }
    ul, ol { margin: 8px 0 8px 20px; }
    blockquote { border-left: 4px solid var(--border); background: #fafafa; margin: 8px 0; padding: 8px 12px; color: var(--fg-3); }
    pre, code { font-family: ui-monospace, SFMono-Regular, Menlo, Monaco, Consolas, 'Liberation Mono', 'Courier New', monospace; }
    pre { background: #f6f8fa; border: 1px solid var(--border); padding: 10px; border-radius: 6px; overflow: auto; }
    table { border-collapse: collapse; width: 100%; font-size: 14px; margin: 12px 0; }
    th, td { border: 1px solid var(--border); padding: 8px; text-align: left; }
    tbody tr:nth-child(even) { background: var(--shade); }
    a { color: #222; text-decoration: underline; text-decoration-color: #999; }
    @media screen { .page-header { display: none; } }
  </style>
</head>
<body>
  <header class="page-header"><div>{{.Title}}</div></header>
  <article>{{.Body}}</article>
</body>
</html>
`))

// FullHTML wraps a sanitized body fragment into a printable document. The
// title is escaped; body is trusted as produced by MarkdownToHTML.
func FullHTML(body, title string) string {
	if title == "" {
		title = "报告"
	}
	var buf bytes.Buffer
	// The template is static and both fields are strings; Execute cannot fail.
	_ = docTmpl.Execute(&buf, struct {
		Title string
		Body  template.HTML
	}{title, template.HTML(body)})
	return buf.String()
}
