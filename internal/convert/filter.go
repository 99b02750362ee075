package convert

import (
	"fmt"
	"regexp"
)

// FilterRules keeps or drops URLs by regular expression. Exclusions win.
type FilterRules struct {
	Include []*regexp.Regexp
	Exclude []*regexp.Regexp
}

// CompileFilterRules compiles the include and exclude pattern lists.
func CompileFilterRules(include, exclude []string) (FilterRules, error) {
	var rules FilterRules
	for _, p := range include {
		re, err := regexp.Compile(p)
		if err != nil {
			return FilterRules{}, fmt.Errorf("include pattern %q: %w", p, err)
		}
		rules.Include = append(rules.Include, re)
	}
	for _, p := range exclude {
		re, err := regexp.Compile(p)
		if err != nil {
			return FilterRules{}, fmt.Errorf("exclude pattern %q: %w", p, err)
		}
		rules.Exclude = append(rules.Exclude, re)
	}
	return rules, nil
}

// Allow reports whether url survives the rules.
func (r FilterRules) Allow(url string) bool {
	for _, re := range r.Exclude {
		if re.MatchString(url) {
			return false
		}
	}
	if len(r.Include) == 0 {
		return true
	}
	for _, re := range r.Include {
		if re.MatchString(url) {
			return true
		}
	}
	return false
}
