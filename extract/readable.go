// CLAUDE:SUMMARY Readable extractor: HTML bytes to {title, main text}, content-type gated, never fails.
// Package extract turns a fetched HTML page into its readable main text.
//
// The pipeline: content-type gate → parse → landmark or density region
// selection → boilerplate removal → whitespace cleanup. Readable never
// returns an error; any failure yields an empty Result.
package extract

import (
	"bytes"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"
)

// Result is the readable view of a page.
type Result struct {
	Title string
	Text  string
}

// Empty reports whether no text was extracted.
func (r Result) Empty() bool { return r.Text == "" }

// Options controls extraction.
type Options struct {
	Selectors  []string // optional CSS-like selectors tried before density
	Format     string   // "text" (default) or "markdown"
	MinTextLen int      // minimum region length in bytes (default 50)
	BaseURL    string   // resolves relative links in markdown output
	Logger     *slog.Logger
}

func (o *Options) defaults() {
	if o.Format == "" {
		o.Format = "text"
	}
	if o.MinTextLen <= 0 {
		o.MinTextLen = 50
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// IsHTML reports whether contentType denotes an HTML document. An empty
// content type is sniffed from body.
func IsHTML(contentType string, body []byte) bool {
	if strings.TrimSpace(contentType) == "" {
		contentType = http.DetectContentType(body)
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt = strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	}
	return mt == "text/html" || mt == "application/xhtml+xml"
}

// Readable extracts the title and main text of an HTML page.
func Readable(body []byte, contentType string, opts Options) (res Result) {
	opts.defaults()
	defer func() {
		if r := recover(); r != nil {
			opts.Logger.Warn("extract: recovered", "panic", r)
			res = Result{}
		}
	}()

	if len(body) == 0 || !IsHTML(contentType, body) {
		return Result{}
	}

	// GBK and Big5 pages are common on the sites this reads.
	r, err := charset.NewReader(bytes.NewReader(body), contentType)
	if err != nil {
		r = bytes.NewReader(body)
	}
	doc, err := html.Parse(r)
	if err != nil {
		opts.Logger.Debug("extract: parse", "error", err)
		return Result{}
	}
	stripNoise(doc)

	title := CleanText(findTitle(doc))

	node := selectMain(doc, opts)
	if node == nil {
		return Result{Title: title}
	}

	if opts.Format == "markdown" {
		if md := toMarkdown(node, opts.BaseURL); md != "" {
			return Result{Title: title, Text: md}
		}
	}
	return Result{Title: title, Text: CleanText(collectText(node))}
}

// selectMain picks the node holding the main content: explicit selectors,
// then semantic landmarks, then the densest region, then the whole body.
func selectMain(doc *html.Node, opts Options) *html.Node {
	for _, sel := range opts.Selectors {
		for _, n := range querySelectorAll(doc, sel) {
			if len(collectText(n)) >= opts.MinTextLen {
				return n
			}
		}
	}
	for _, n := range findContentByLandmarks(doc) {
		if !isBoilerplate(n) && len(collectText(n)) >= opts.MinTextLen {
			return n
		}
	}
	body := findBody(doc)
	if body == nil {
		body = doc
	}
	if best := findDensestNode(body, opts.MinTextLen); best != nil {
		return best
	}
	if text := collectCleanText(body); len(text) < opts.MinTextLen {
		return nil
	}
	pruneBoilerplate(body)
	return body
}

var mdConverter = converter.NewConverter(
	converter.WithPlugins(
		base.NewBasePlugin(),
		commonmark.NewCommonmarkPlugin(),
		table.NewTablePlugin(),
	),
)

func toMarkdown(n *html.Node, baseURL string) string {
	var (
		md  string
		err error
	)
	if baseURL != "" {
		md, err = mdConverter.ConvertString(renderNode(n), converter.WithDomain(baseURL))
	} else {
		md, err = mdConverter.ConvertString(renderNode(n))
	}
	if err != nil {
		return ""
	}
	return strings.TrimSpace(md)
}
