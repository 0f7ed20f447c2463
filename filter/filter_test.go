package filter

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/utilitywarehouse/gitlab-mirror/gitlab"
)

func projects(paths ...string) []gitlab.Project {
	var ps []gitlab.Project
	for i, p := range paths {
		ps = append(ps, gitlab.Project{ID: i + 1, PathWithNamespace: p})
	}
	return ps
}

func paths(ps []gitlab.Project) []string {
	var out []string
	for _, p := range ps {
		out = append(out, p.PathWithNamespace)
	}
	return out
}

func TestNew(t *testing.T) {
	if _, err := New([]string{"a"}, []string{"b"}); !errors.Is(err, ErrConflictingPatterns) {
		t.Errorf("New() with include and exclude error = %v, want %v", err, ErrConflictingPatterns)
	}

	_, err := New([]string{"ok", "(unclosed"}, nil)
	var invalid *InvalidPatternError
	if !errors.As(err, &invalid) {
		t.Fatalf("New() error = %v, want InvalidPatternError", err)
	}
	if invalid.Pattern != "(unclosed" {
		t.Errorf("InvalidPatternError.Pattern = %q, want %q", invalid.Pattern, "(unclosed")
	}

	p, err := New(nil, nil)
	if err != nil || p != nil {
		t.Errorf("New(nil, nil) = %v, %v, want nil, nil", p, err)
	}
}

func TestApply(t *testing.T) {
	all := projects("team/api", "team/web", "infra/terraform", "infra/api-gateway", "misc/notes")

	tests := []struct {
		name    string
		include []string
		exclude []string
		limit   int
		want    []string
	}{
		{
			name: "no patterns",
			want: []string{"team/api", "team/web", "infra/terraform", "infra/api-gateway", "misc/notes"},
		},
		{
			name:  "no patterns with limit",
			limit: 2,
			want:  []string{"team/api", "team/web"},
		},
		{
			name:    "include any of",
			include: []string{"^team/", "gateway$"},
			want:    []string{"team/api", "team/web", "infra/api-gateway"},
		},
		{
			name:    "exclude any of",
			exclude: []string{"api", "^misc/"},
			want:    []string{"team/web", "infra/terraform"},
		},
		{
			name:    "include with limit keeps order",
			include: []string{"api"},
			limit:   1,
			want:    []string{"team/api"},
		},
		{
			name:    "limit larger than result",
			include: []string{"^infra/"},
			limit:   10,
			want:    []string{"infra/terraform", "infra/api-gateway"},
		},
		{
			name:    "include nothing matches",
			include: []string{"^nope$"},
			want:    nil,
		},
		{
			name:    "exclude everything",
			exclude: []string{"."},
			want:    nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New(tt.include, tt.exclude)
			if err != nil {
				t.Fatalf("New() unexpected error: %v", err)
			}
			got := paths(p.Apply(all, tt.limit))
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Apply() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestApply_predicate(t *testing.T) {
	all := projects("a/x", "a/y", "b/x", "c/z")
	patterns := []string{"x$", "^c/"}

	inc, _ := New(patterns, nil)
	exc, _ := New(nil, patterns)

	included := inc.Apply(all, 0)
	excluded := exc.Apply(all, 0)

	// include and exclude with the same patterns partition the input
	if len(included)+len(excluded) != len(all) {
		t.Fatalf("include (%d) + exclude (%d) != total (%d)", len(included), len(excluded), len(all))
	}
	for _, p := range included {
		for _, e := range excluded {
			if p.ID == e.ID {
				t.Errorf("project %s is both included and excluded", p.PathWithNamespace)
			}
		}
	}
}
