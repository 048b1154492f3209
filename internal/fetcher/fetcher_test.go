package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestFetchExtractsParagraphs(t *testing.T) {
	page := `<html><head><style>p { color: red }</style></head><body>
		<nav>Home | Chapters | About</nav>
		<article>
			<h1>Chapter 3</h1>
			<p>Hero walked   into the
			hall.</p>
			<p>Villain was waiting.</p>
		</article>
		<script>trackPageView()</script>
		<footer>copyright</footer>
	</body></html>`

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(page))
	}))
	defer srv.Close()

	text, err := Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}

	paragraphs := strings.Split(text, "\n\n")
	want := []string{"Chapter 3", "Hero walked into the hall.", "Villain was waiting."}
	if len(paragraphs) != len(want) {
		t.Fatalf("paragraphs = %q, want %q", paragraphs, want)
	}
	for i := range want {
		if paragraphs[i] != want[i] {
			t.Errorf("paragraph[%d] = %q, want %q", i, paragraphs[i], want[i])
		}
	}
	for _, junk := range []string{"trackPageView", "copyright", "Home |", "color: red"} {
		if strings.Contains(text, junk) {
			t.Errorf("extracted text contains ignored content %q", junk)
		}
	}
}

func TestFetchNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	if _, err := Fetch(context.Background(), srv.URL); err == nil {
		t.Fatal("expected error for 404 response")
	}
}

func TestFetchRejectsBadScheme(t *testing.T) {
	if _, err := Fetch(context.Background(), "ftp://example.com/chapter"); err == nil {
		t.Fatal("expected error for unsupported scheme")
	}
}

func TestIsURL(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"https://example.com/ch1", true},
		{"http://example.com", true},
		{"www.example.com", true},
		{"  https://example.com", true},
		{"the hero walked on", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsURL(tt.in); got != tt.want {
			t.Errorf("IsURL(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
