package gateway

import "testing"

func TestIsFollowUp(t *testing.T) {
	cases := []struct {
		q    string
		want bool
	}{
		{"when did I learn it?", true},
		{"what about this one", true},
		{"tell me its due date", true},
		{"when is it due", true},
		{"short one", true},
		{"Describe the entire curriculum across every course and topic in detail", false},
	}
	for _, c := range cases {
		if got := IsFollowUp(c.q); got != c.want {
			t.Errorf("IsFollowUp(%q) = %v, want %v", c.q, got, c.want)
		}
	}
}

func TestRewriteQuerySubstitutesSingularReference(t *testing.T) {
	got := RewriteQuery("when did I learn it?", "Topic 1")
	want := "when did I learn Topic 1?"
	if got != want {
		t.Errorf("RewriteQuery = %q, want %q", got, want)
	}
}

func TestRewriteQuerySubstitutesThis(t *testing.T) {
	got := RewriteQuery("when was this due", "Assignment 1")
	want := "when was Assignment 1 due"
	if got != want {
		t.Errorf("RewriteQuery = %q, want %q", got, want)
	}
}

func TestRewriteQueryIdentityWithoutReference(t *testing.T) {
	got := RewriteQuery("how many classes", "Topic 1")
	want := "how many classes"
	if got != want {
		t.Errorf("RewriteQuery = %q, want %q", got, want)
	}
}
