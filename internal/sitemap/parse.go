package sitemap

import (
	"fmt"
	"strings"

	"github.com/antchfx/xmlquery"

	"github.com/JakeFAU/docs2pdf/internal/convert"
)

// Kind distinguishes the two legal sitemap document shapes.
type Kind int

// Sitemap document kinds.
const (
	KindURLSet Kind = iota + 1
	KindIndex
)

func (k Kind) String() string {
	switch k {
	case KindURLSet:
		return "urlset"
	case KindIndex:
		return "sitemapindex"
	default:
		return "unknown"
	}
}

// Entry is one <url> or <sitemap> element. A sitemap may carry more than one
// <loc> per entry; Loc picks the first non-empty one.
type Entry struct {
	Locs       []string
	LastMod    string
	ChangeFreq string
	Priority   string
}

// Loc returns the first non-empty location of the entry.
func (e Entry) Loc() string {
	for _, l := range e.Locs {
		if l != "" {
			return l
		}
	}
	return ""
}

// Document is a parsed sitemap: exactly one of urlset or sitemapindex.
type Document struct {
	Kind    Kind
	Entries []Entry
}

// Parse decodes raw sitemap XML. Documents whose root element is neither
// urlset nor sitemapindex fail with convert.ErrUnknownSitemapShape.
func Parse(raw string) (Document, error) {
	doc, err := xmlquery.Parse(strings.NewReader(raw))
	if err != nil {
		return Document{}, fmt.Errorf("decode xml: %w", err)
	}
	root := firstElement(doc)
	if root == nil {
		return Document{}, fmt.Errorf("empty document: %w", convert.ErrUnknownSitemapShape)
	}

	var (
		kind     Kind
		itemName string
	)
	switch strings.ToLower(root.Data) {
	case "urlset":
		kind, itemName = KindURLSet, "url"
	case "sitemapindex":
		kind, itemName = KindIndex, "sitemap"
	default:
		return Document{}, fmt.Errorf("root element <%s>: %w", root.Data, convert.ErrUnknownSitemapShape)
	}

	out := Document{Kind: kind}
	for n := root.FirstChild; n != nil; n = n.NextSibling {
		if n.Type != xmlquery.ElementNode || !strings.EqualFold(n.Data, itemName) {
			continue
		}
		out.Entries = append(out.Entries, parseEntry(n))
	}
	return out, nil
}

func parseEntry(node *xmlquery.Node) Entry {
	var e Entry
	for c := node.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != xmlquery.ElementNode {
			continue
		}
		text := strings.TrimSpace(c.InnerText())
		switch strings.ToLower(c.Data) {
		case "loc":
			e.Locs = append(e.Locs, text)
		case "lastmod":
			e.LastMod = text
		case "changefreq":
			e.ChangeFreq = text
		case "priority":
			e.Priority = text
		}
	}
	return e
}

func firstElement(doc *xmlquery.Node) *xmlquery.Node {
	for n := doc.FirstChild; n != nil; n = n.NextSibling {
		if n.Type == xmlquery.ElementNode {
			return n
		}
	}
	return nil
}
