// Package filter selects projects by regular expressions matched against
// their full path.
package filter

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/utilitywarehouse/gitlab-mirror/gitlab"
)

// ErrConflictingPatterns is returned when both include and exclude patterns are given
var ErrConflictingPatterns = errors.New("include and exclude patterns are mutually exclusive")

// InvalidPatternError is returned when pattern is not a valid regular expression
type InvalidPatternError struct {
	Pattern string
	Err     error
}

func (e *InvalidPatternError) Error() string {
	return fmt.Sprintf("invalid pattern %q: %v", e.Pattern, e.Err)
}

func (e *InvalidPatternError) Unwrap() error { return e.Err }

// Patterns is either an include (whitelist) or exclude (blacklist) set
// of compiled regular expressions.
type Patterns struct {
	include bool
	exprs   []*regexp.Regexp
}

// New compiles given patterns. It returns nil Patterns if no patterns
// are given, which keeps every project.
func New(include, exclude []string) (*Patterns, error) {
	if len(include) > 0 && len(exclude) > 0 {
		return nil, ErrConflictingPatterns
	}

	raw, isInclude := exclude, false
	if len(include) > 0 {
		raw, isInclude = include, true
	}
	if len(raw) == 0 {
		return nil, nil
	}

	p := &Patterns{include: isInclude}
	for _, pattern := range raw {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, &InvalidPatternError{Pattern: pattern, Err: err}
		}
		p.exprs = append(p.exprs, re)
	}
	return p, nil
}

// Match reports whether project path should be kept
func (p *Patterns) Match(path string) bool {
	if p == nil {
		return true
	}
	for _, re := range p.exprs {
		if re.MatchString(path) {
			return p.include
		}
	}
	return !p.include
}

// Apply returns projects whose PathWithNamespace matches, preserving order
// and truncated to the first limit items. limit <= 0 means no limit.
func (p *Patterns) Apply(projects []gitlab.Project, limit int) []gitlab.Project {
	var kept []gitlab.Project
	for _, project := range projects {
		if limit > 0 && len(kept) == limit {
			break
		}
		if p.Match(project.PathWithNamespace) {
			kept = append(kept, project)
		}
	}
	return kept
}
