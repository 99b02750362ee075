// Package merge combines extracted page content into one composite document.
package merge

import (
	"bytes"
	"fmt"
	"html/template"
	"sort"
	"sync"

	"github.com/JakeFAU/docs2pdf/internal/convert"
)

const compositeTemplate = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: -apple-system, "Segoe UI", Helvetica, Arial, sans-serif; margin: 0 1.5em; }
.page-break { page-break-after: always; break-after: page; }
.source-url { color: #666; font-size: 0.85em; margin-bottom: 1.5em; }
.merged-page img { max-width: 100%; }
</style>
</head>
<body>
{{- range $i, $p := .Pages}}
{{- if $i}}
<div class="page-break"></div>
{{- end}}
<section class="merged-page">
<h1>{{$p.Title}}</h1>
<p class="source-url">Source: <a href="{{$p.URL}}">{{$p.URL}}</a></p>
<div class="page-content">{{$p.HTML}}</div>
</section>
{{- end}}
</body>
</html>
`

var composite = template.Must(template.New("composite").Parse(compositeTemplate))

type entry struct {
	index   int
	seq     int
	content convert.PageContent
}

type page struct {
	Title string
	URL   string
	HTML  template.HTML
}

// Assembler buffers page content during a run. Append is safe for concurrent
// use.
type Assembler struct {
	mu      sync.Mutex
	order   convert.MergeOrder
	title   string
	entries []entry
}

// New returns an Assembler using order; an empty order means completion order.
func New(order convert.MergeOrder, title string) *Assembler {
	if order == "" {
		order = convert.OrderCompletion
	}
	return &Assembler{order: order, title: title}
}

// Append adds one page. index is the page's submission position and only
// matters for sitemap ordering.
func (a *Assembler) Append(index int, content convert.PageContent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, entry{index: index, seq: len(a.entries), content: content})
}

// Len returns the number of buffered pages.
func (a *Assembler) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.entries)
}

// Pages returns the buffered content in output order.
func (a *Assembler) Pages() []convert.PageContent {
	a.mu.Lock()
	entries := append([]entry(nil), a.entries...)
	a.mu.Unlock()

	if a.order == convert.OrderSitemap {
		sort.SliceStable(entries, func(i, j int) bool { return entries[i].index < entries[j].index })
	}
	out := make([]convert.PageContent, len(entries))
	for i, e := range entries {
		out[i] = e.content
	}
	return out
}

// Assemble renders the composite HTML document. Extracted page HTML is
// embedded verbatim; titles and URLs are escaped.
func (a *Assembler) Assemble() (string, error) {
	contents := a.Pages()
	pages := make([]page, len(contents))
	for i, c := range contents {
		title := c.Title
		if title == "" {
			title = c.URL
		}
		// #nosec G203 -- extracted page markup is embedded unescaped.
		pages[i] = page{Title: title, URL: c.URL, HTML: template.HTML(c.HTML)}
	}
	var buf bytes.Buffer
	if err := composite.Execute(&buf, struct {
		Title string
		Pages []page
	}{Title: a.title, Pages: pages}); err != nil {
		return "", fmt.Errorf("render composite document: %w", err)
	}
	return buf.String(), nil
}
