package llm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestLocalCompletionProviderParsesContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"content":"the answer is 4"}`))
	}))
	defer srv.Close()

	p := NewLocalCompletionProvider(srv.URL, 0.2)
	out, err := p.Generate(context.Background(), "2+2?", 64)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "the answer is 4" {
		t.Fatalf("got %q", out)
	}
}

func TestLocalCompletionProviderMalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	p := NewLocalCompletionProvider(srv.URL, 0.2)
	_, err := p.Generate(context.Background(), "q", 10)
	if err == nil {
		t.Fatal("expected a ParseError")
	}
	var pe *ParseError
	if !asParseError(err, &pe) {
		t.Fatalf("expected *ParseError, got %T: %v", err, err)
	}
}

func TestChatProviderParsesChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[{"message":{"content":"hello there"}}]}`))
	}))
	defer srv.Close()

	p := NewChatProvider(srv.URL, "gpt", "key", 0.3)
	out, err := p.Generate(context.Background(), "hi", 32)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "hello there" {
		t.Fatalf("got %q", out)
	}
}

func TestGenericProviderTriesKnownFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"generated_text":"a fallback field answer"}`))
	}))
	defer srv.Close()

	p := NewGenericProvider(srv.URL, 0.1)
	out, err := p.Generate(context.Background(), "q", 16)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "a fallback field answer" {
		t.Fatalf("got %q", out)
	}
}

func TestGenericProviderNoKnownField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"unexpected":"field"}`))
	}))
	defer srv.Close()

	p := NewGenericProvider(srv.URL, 0.1)
	if _, err := p.Generate(context.Background(), "q", 16); err == nil {
		t.Fatal("expected a ParseError when no known field is present")
	}
}

func asParseError(err error, target **ParseError) bool {
	pe, ok := err.(*ParseError)
	if ok {
		*target = pe
	}
	return ok
}
