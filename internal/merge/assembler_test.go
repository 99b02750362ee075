package merge_test

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/docs2pdf/internal/convert"
	"github.com/JakeFAU/docs2pdf/internal/merge"
)

func page(n string) convert.PageContent {
	return convert.PageContent{
		URL:   "https://d.example.com/" + n,
		Title: "Page " + n,
		HTML:  "<p>body " + n + "</p>",
	}
}

func titles(pages []convert.PageContent) []string {
	out := make([]string, len(pages))
	for i, p := range pages {
		out[i] = p.Title
	}
	return out
}

// Completion order is the default: pages appear as tasks finish, whatever
// their position in the sitemap.
func TestCompletionOrderFollowsAppendOrder(t *testing.T) {
	t.Parallel()
	a := merge.New("", "Docs")
	a.Append(2, page("c"))
	a.Append(0, page("a"))
	a.Append(1, page("b"))
	assert.Equal(t, []string{"Page c", "Page a", "Page b"}, titles(a.Pages()))
}

// Sitemap order buffers everything and sorts by submission index.
func TestSitemapOrderFollowsSubmissionIndex(t *testing.T) {
	t.Parallel()
	a := merge.New(convert.OrderSitemap, "Docs")
	a.Append(2, page("c"))
	a.Append(0, page("a"))
	a.Append(1, page("b"))
	assert.Equal(t, []string{"Page a", "Page b", "Page c"}, titles(a.Pages()))
}

func TestSitemapOrderIsDeterministicUnderConcurrency(t *testing.T) {
	t.Parallel()
	a := merge.New(convert.OrderSitemap, "Docs")
	names := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	var wg sync.WaitGroup
	for i, n := range names {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.Append(i, page(n))
		}()
	}
	wg.Wait()
	require.Equal(t, len(names), a.Len())
	for i, p := range a.Pages() {
		assert.Equal(t, "Page "+names[i], p.Title)
	}
}

func TestAssembleComposite(t *testing.T) {
	t.Parallel()
	a := merge.New(convert.OrderSitemap, "Example <Docs>")
	a.Append(0, page("a"))
	a.Append(1, convert.PageContent{URL: "https://d.example.com/b?x=1&y=2", HTML: "<pre>code</pre>"})

	out, err := a.Assemble()
	require.NoError(t, err)
	assert.Contains(t, out, "<title>Example &lt;Docs&gt;</title>")
	assert.Contains(t, out, "<h1>Page a</h1>")
	assert.Contains(t, out, "<p>body a</p>")
	assert.Contains(t, out, "<pre>code</pre>")
	assert.Contains(t, out, "https://d.example.com/b?x=1&amp;y=2")
	assert.Equal(t, 1, strings.Count(out, `<div class="page-break"></div>`), "breaks only between entries")
	assert.Less(t, strings.Index(out, "Page a"), strings.Index(out, "<pre>code</pre>"))
}

func TestAssembleEmpty(t *testing.T) {
	t.Parallel()
	out, err := merge.New(convert.OrderCompletion, "Docs").Assemble()
	require.NoError(t, err)
	assert.NotContains(t, out, "merged-page\"")
	assert.NotContains(t, out, "page-break\"></div>")
}
