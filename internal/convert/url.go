package convert

import (
	"fmt"
	"hash/fnv"
	"net/url"
	"path"
	"regexp"
	"strings"
)

var unsafeSegmentChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// NormalizeURL lowercases scheme and host, drops default ports and fragments,
// and sorts query parameters so equivalent URLs dedupe to one entry.
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if !u.IsAbs() || u.Host == "" {
		return "", fmt.Errorf("url %q is not absolute", rawURL)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if u.Scheme == "http" {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}
	u.Fragment = ""
	u.RawFragment = ""
	if u.RawQuery != "" {
		u.RawQuery = u.Query().Encode()
	}
	return u.String(), nil
}

// pageExtensions are server-side page suffixes dropped from artifact names.
// Any other dot in the last segment, as in "v2.1" or "1.2", is kept.
var pageExtensions = map[string]struct{}{
	".html": {}, ".htm": {}, ".xhtml": {}, ".php": {}, ".asp": {}, ".aspx": {}, ".jsp": {}, ".shtml": {},
}

// ArtifactPath maps a page URL to a relative storage path such as
// "docs.example.com/guide/intro.pdf". Pages with a query string get a digest
// suffix from hasher so distinct variants never overwrite each other. Use
// ArtifactPaths for a whole run, which also separates pages whose paths
// only differ by a page extension or letter case.
func ArtifactPath(rawURL string, hasher Hasher) string {
	base, query := artifactBase(rawURL, hasher)
	if query {
		return withDigest(base, rawURL, hasher)
	}
	return base + ".pdf"
}

// ArtifactPaths assigns every URL of a run its own artifact path. URLs
// whose plain paths would coincide, compared case-insensitively, all get a
// digest suffix, so the mapping does not depend on list order and stays
// stable when a resumed run converts only part of the list.
func ArtifactPaths(urls []string, hasher Hasher) map[string]string {
	type candidate struct {
		base  string
		query bool
	}
	candidates := make(map[string]candidate, len(urls))
	owners := make(map[string]map[string]struct{}, len(urls))
	for _, u := range urls {
		if _, seen := candidates[u]; seen {
			continue
		}
		base, query := artifactBase(u, hasher)
		candidates[u] = candidate{base: base, query: query}
		if query {
			continue
		}
		key := strings.ToLower(base)
		if owners[key] == nil {
			owners[key] = make(map[string]struct{})
		}
		owners[key][u] = struct{}{}
	}

	out := make(map[string]string, len(candidates))
	for u, c := range candidates {
		if c.query || len(owners[strings.ToLower(c.base)]) > 1 {
			out[u] = withDigest(c.base, u, hasher)
			continue
		}
		out[u] = c.base + ".pdf"
	}
	return out
}

// artifactBase returns the extension-less artifact path for rawURL and
// whether the URL carries a query string.
func artifactBase(rawURL string, hasher Hasher) (string, bool) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "pages/" + digest(hasher, rawURL), false
	}
	host := unsafeSegmentChars.ReplaceAllString(u.Hostname(), "_")
	var segments []string
	for _, s := range strings.Split(strings.Trim(u.Path, "/"), "/") {
		if s == "" || s == "." || s == ".." {
			continue
		}
		segments = append(segments, unsafeSegmentChars.ReplaceAllString(s, "_"))
	}
	if len(segments) == 0 || strings.HasSuffix(u.Path, "/") {
		segments = append(segments, "index")
	}
	last := segments[len(segments)-1]
	if ext := path.Ext(last); ext != "" {
		if _, ok := pageExtensions[strings.ToLower(ext)]; ok {
			last = strings.TrimSuffix(last, ext)
		}
	}
	if last == "" {
		last = "index"
	}
	segments[len(segments)-1] = last
	return path.Join(append([]string{host}, segments...)...), u.RawQuery != ""
}

func withDigest(base, rawURL string, hasher Hasher) string {
	return base + "_" + digest(hasher, rawURL)[:12] + ".pdf"
}

func digest(hasher Hasher, raw string) string {
	if hasher != nil {
		if sum, err := hasher.Hash([]byte(raw)); err == nil && len(sum) >= 12 {
			return sum
		}
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(raw))
	return fmt.Sprintf("%016x", h.Sum64())
}
