package gif

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

const searchResponse = `{"data":[
	{"images":{"original":{"url":"https://media.giphy.com/a.gif"}}},
	{"images":{"original":{"url":"https://media.giphy.com/b.gif"}}},
	{"images":{"fixed_height":{"url":"https://media.giphy.com/c.gif"}}}
],"meta":{"status":200}}`

func newTestGiphy(t *testing.T, handler http.HandlerFunc) *Giphy {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := DefaultConfig()
	cfg.APIKey = "key"
	cfg.Endpoint = srv.URL
	cfg.RequestsPerMinute = 0
	g, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return g
}

func TestNew_RequiresKey(t *testing.T) {
	t.Parallel()

	if _, err := New(DefaultConfig(), nil); !errors.Is(err, ErrNoAPIKey) {
		t.Errorf("got %v, want ErrNoAPIKey", err)
	}
}

func TestSearch(t *testing.T) {
	t.Parallel()

	queries := make(chan string, 1)
	g := newTestGiphy(t, func(w http.ResponseWriter, r *http.Request) {
		queries <- r.URL.RawQuery
		q := r.URL.Query()
		if q.Get("api_key") != "key" || q.Get("limit") != "20" || q.Get("rating") != "pg-13" || q.Get("lang") != "ru" {
			t.Errorf("unexpected query %q", r.URL.RawQuery)
		}
		io.WriteString(w, searchResponse)
	})
	g.pick = func(n int) int { return n - 1 }

	got, found, err := g.Search(context.Background(), "happy cat")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if !found || got != "https://media.giphy.com/b.gif" {
		t.Errorf("Search = %q, %v", got, found)
	}
	if raw := <-queries; raw == "" {
		t.Error("no query sent")
	}
}

func TestSearch_NoResults(t *testing.T) {
	t.Parallel()

	g := newTestGiphy(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"data":[]}`)
	})

	got, found, err := g.Search(context.Background(), "zzzz")
	if err != nil || found || got != "" {
		t.Errorf("Search = %q, %v, %v; want not found", got, found, err)
	}
}

func TestSearch_EmptyQuery(t *testing.T) {
	t.Parallel()

	g := newTestGiphy(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected for an empty query")
	})
	if _, found, err := g.Search(context.Background(), "  "); found || err != nil {
		t.Errorf("found=%v err=%v", found, err)
	}
}

func TestSearch_HTTPError(t *testing.T) {
	t.Parallel()

	g := newTestGiphy(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		io.WriteString(w, `{"message":"Invalid authentication credentials"}`)
	})
	if _, found, err := g.Search(context.Background(), "cat"); err == nil || found {
		t.Errorf("found=%v err=%v; want error", found, err)
	}
}

func TestSearch_Throttled(t *testing.T) {
	t.Parallel()

	g := newTestGiphy(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, searchResponse)
	})
	// One token per hour: the first call passes, the second is throttled.
	g.limiter.SetLimit(1.0 / 3600)

	if _, found, _ := g.Search(context.Background(), "cat"); !found {
		t.Fatal("first search should succeed")
	}
	if _, found, err := g.Search(context.Background(), "cat"); found || err != nil {
		t.Errorf("second search: found=%v err=%v; want throttled", found, err)
	}
}

func TestSearch_NetworkErrorHidesKey(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	endpoint := srv.URL
	srv.Close()

	cfg := DefaultConfig()
	cfg.APIKey = "super-secret-giphy-key"
	cfg.Endpoint = endpoint
	cfg.RequestsPerMinute = 0
	g, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, found, err := g.Search(context.Background(), "smile")
	if err == nil || found {
		t.Fatalf("found=%v err=%v; want connection error", found, err)
	}
	if strings.Contains(err.Error(), cfg.APIKey) {
		t.Errorf("error text contains the API key: %v", err)
	}
}
