package intent

import (
	"testing"

	"github.com/seanblong/curricache/pkg/models"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		query string
		want  models.Intent
	}{
		{"hello", models.IntentGreeting},
		{"hi there", models.IntentGreeting},
		{"How many classes for C1-T1?", models.IntentFactual},
		{"When did I learn C2-T3?", models.IntentFactual},
		{"List all courses", models.IntentFactual},
		{"Describe each course", models.IntentSemantic},
		{"Explain the SQL topic and how many classes it has", models.IntentMixed},
		{"When is my next class?", models.IntentMixed},
		{"bananas", models.IntentMixed},
	}
	for _, c := range cases {
		got := Classify(c.query)
		if got != c.want {
			t.Errorf("Classify(%q) = %s, want %s", c.query, got, c.want)
		}
	}
}

func TestExtractTopicID(t *testing.T) {
	if got := ExtractTopicID("how many classes for c1-t1?"); got != "C1-T1" {
		t.Errorf("ExtractTopicID lowercase = %s, want C1-T1", got)
	}
	if got := ExtractTopicID("no topic here"); got != "" {
		t.Errorf("ExtractTopicID no match = %q, want empty", got)
	}
}
