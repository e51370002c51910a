package markdown

import (
	"slices"
	"testing"
)

func TestLinks(t *testing.T) {
	text := "see [run](a1_Run.toml) and [again](a1_Run.toml), " +
		"[plot](runs/r1/plot.png), [web](https://example.com/x) and [empty]()"
	got := Links(text)
	want := []string{"a1_Run.toml", "runs/r1/plot.png"}
	if !slices.Equal(got, want) {
		t.Errorf("Links = %v, want %v", got, want)
	}
	if got := Links("no links here"); got != nil {
		t.Errorf("Links = %v, want nil", got)
	}
}

func TestRewriteLinks(t *testing.T) {
	ids := map[string]string{"a1_Run.toml": "id-1"}
	resolve := func(loc string) (string, bool) {
		id, ok := ids[loc]
		return id, ok
	}
	got := RewriteLinks("[run](a1_Run.toml) [other](b2_Other.toml)", resolve)
	if want := "[run](id-1) [other](b2_Other.toml)"; got != want {
		t.Errorf("RewriteLinks = %q, want %q", got, want)
	}
}
