package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mholloway/tideline/pkg/config"
)

func statusJSON(id string) string {
	return fmt.Sprintf(`{"id":%q,"created_at":"2025-06-01T12:00:00Z","content":"post %s","account":{"id":"9","acct":"someone"}}`, id, id)
}

func fetcherFor(serverURL string) *PageFetcher {
	return NewPageFetcher(config.Config{
		APIBaseURL:  serverURL,
		AccessToken: "token123",
	})
}

func TestFetchNewest(t *testing.T) {
	var gotPath, gotQuery, gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotAuth = r.Header.Get("Authorization")
		fmt.Fprintf(w, "[%s,%s]", statusJSON("102"), statusJSON("101"))
	}))
	defer server.Close()

	page, err := fetcherFor(server.URL).FetchNewest(context.Background(), "home", "100", 2)
	if err != nil {
		t.Fatal(err)
	}

	if gotPath != "/api/v1/timelines/home" {
		t.Errorf("unexpected path %q", gotPath)
	}
	if gotQuery != "limit=2&since_id=100" {
		t.Errorf("unexpected query %q", gotQuery)
	}
	if gotAuth != "Bearer token123" {
		t.Errorf("unexpected auth header %q", gotAuth)
	}
	if len(page.Entries) != 2 || page.Entries[0].ID != "102" {
		t.Errorf("unexpected entries %v", page.Entries)
	}
	if !page.Full {
		t.Error("expected a full page at the requested limit")
	}
}

func TestFetchOlderThanShortPage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("max_id") != "50" {
			t.Errorf("unexpected max_id %q", r.URL.Query().Get("max_id"))
		}
		fmt.Fprintf(w, "[%s]", statusJSON("49"))
	}))
	defer server.Close()

	page, err := fetcherFor(server.URL).FetchOlderThan(context.Background(), "home", "50", 20)
	if err != nil {
		t.Fatal(err)
	}
	if page.Full {
		t.Error("short page reported as full")
	}
	if len(page.Entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(page.Entries))
	}
	if page.Entries[0].Payload == nil || page.Entries[0].Payload.AuthorHandle != "someone" {
		t.Error("payload not parsed")
	}
}

func TestFetchBetweenCursors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("since_id") != "10" || q.Get("max_id") != "20" {
			t.Errorf("unexpected cursors since=%q max=%q", q.Get("since_id"), q.Get("max_id"))
		}
		fmt.Fprint(w, "[]")
	}))
	defer server.Close()

	page, err := fetcherFor(server.URL).FetchBetween(context.Background(), "home", "10", "20", 20)
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Entries) != 0 || page.Full {
		t.Errorf("expected empty short page, got %+v", page)
	}
}

func TestFetchStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer server.Close()

	_, err := fetcherFor(server.URL).FetchNewest(context.Background(), "home", "", 20)
	var statusErr StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if statusErr.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", statusErr.Code)
	}
}

func TestFetchCancelledContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "[]")
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := fetcherFor(server.URL).FetchNewest(ctx, "home", "", 20)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
