package verify

import (
	"testing"

	"github.com/seanblong/curricache/internal/prompt"
)

func TestVerifyRefusal(t *testing.T) {
	r := Verify(prompt.RefusalString, map[string]string{})
	if !r.IsRefusal || !r.OK() {
		t.Fatalf("expected refusal to be ok, got %+v", r)
	}
}

func TestVerifyCitationMissing(t *testing.T) {
	r := Verify("You have 5 classes for C1-T1.", map[string]string{"C1-T1": "5 classes for C1-T1"})
	if r.OK() {
		t.Fatal("expected failure: no citation tokens")
	}
}

func TestVerifyCitationUnknownID(t *testing.T) {
	r := Verify("You have 5 classes. [source: C9-T9]", map[string]string{"C1-T1": "5 classes for C1-T1"})
	if r.OK() {
		t.Fatal("expected failure: cited id not in evidence")
	}
}

func TestVerifyCitationCaseInsensitive(t *testing.T) {
	r := Verify("You have 5 classes for C1-T1. [source: c1-t1]", map[string]string{"C1-T1": "5 classes for C1-T1"})
	if !r.OK() {
		t.Fatalf("expected pass, got %+v", r.Errors)
	}
}

func TestVerifyNumericNotInEvidence(t *testing.T) {
	r := Verify("You have 42 classes. [source: C1-T1]", map[string]string{"C1-T1": "5 classes for C1-T1"})
	if r.OK() {
		t.Fatal("expected failure: number 42 not in cited evidence")
	}
}

func TestVerifyDateCheck(t *testing.T) {
	r := Verify("You learned this on 2025-06-21. [source: C2-T3]", map[string]string{"C2-T3": "learned_at: 2025-06-21"})
	if !r.OK() {
		t.Fatalf("expected pass, got %+v", r.Errors)
	}
}

func TestVerifyCalcCheck(t *testing.T) {
	r := Verify("Total is [calc: 2 + 3 = 5] enrolled. [source: C1-T1]", map[string]string{"C1-T1": "5 enrolled"})
	if !r.OK() {
		t.Fatalf("expected pass, got %+v", r.Errors)
	}

	r2 := Verify("Total is [calc: 2 + 3 = 6] enrolled. [source: C1-T1]", map[string]string{"C1-T1": "enrollment facts"})
	if r2.OK() {
		t.Fatal("expected failure: calc mismatch")
	}
}

func TestEvalArith(t *testing.T) {
	cases := map[string]float64{
		"2 + 3":       5,
		"2 + 3 * 4":   14,
		"(2 + 3) * 4": 20,
		"-5 + 2":      -3,
		"10 / 4":      2.5,
		"2.5 * 2":     5,
		"-(2 + 3)":    -5,
	}
	for expr, want := range cases {
		got, err := evalArith(expr)
		if err != nil {
			t.Fatalf("evalArith(%q) error: %v", expr, err)
		}
		if got != want {
			t.Errorf("evalArith(%q) = %v, want %v", expr, got, want)
		}
	}
}
