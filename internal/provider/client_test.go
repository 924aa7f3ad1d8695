package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/creator-leaderboard/internal/config"
	"github.com/creator-leaderboard/internal/domain"
)

func testConfig(baseURL string) *config.ProviderConfig {
	return &config.ProviderConfig{
		BaseURL:           baseURL,
		ClientID:          "test-client",
		Token:             "test-token",
		RequestTimeout:    5 * time.Second,
		RequestsPerSecond: 100,
		Burst:             100,
	}
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	c, err := New(testConfig(baseURL), slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func pageRows(prefix string, n int) []map[string]interface{} {
	rows := make([]map[string]interface{}, n)
	for i := range rows {
		rows[i] = map[string]interface{}{
			"username":  fmt.Sprintf("%s%d", prefix, i),
			"followers": 1000 - i,
		}
	}
	return rows
}

func TestNewRequiresCredentials(t *testing.T) {
	cfg := testConfig("http://example.com")
	cfg.Token = ""
	if _, err := New(cfg, slog.Default()); !errors.Is(err, ErrMissingCredentials) {
		t.Fatalf("expected ErrMissingCredentials, got %v", err)
	}

	cfg = testConfig("")
	if _, err := New(cfg, slog.Default()); err == nil {
		t.Fatal("expected error for missing base URL")
	}
}

func TestFetchTopPageSendsAuthAndMetric(t *testing.T) {
	var gotPath, gotQuery, gotClientID, gotToken string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotClientID = r.Header.Get("clientid")
		gotToken = r.Header.Get("token")
		json.NewEncoder(w).Encode(pageRows("yt", 3))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	rows, err := c.FetchTopPage(context.Background(), domain.PlatformYouTube, 1)
	if err != nil {
		t.Fatalf("FetchTopPage: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	if gotPath != "/youtube/top" {
		t.Fatalf("path = %q", gotPath)
	}
	if gotQuery != "query=subscribers&page=1" {
		t.Fatalf("query = %q", gotQuery)
	}
	if gotClientID != "test-client" || gotToken != "test-token" {
		t.Fatalf("auth headers = %q / %q", gotClientID, gotToken)
	}
}

func TestFetchTopPageUsesFollowersForNonYouTube(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		json.NewEncoder(w).Encode(pageRows("tt", 1))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	if _, err := c.FetchTopPage(context.Background(), domain.PlatformTikTok, 2); err != nil {
		t.Fatalf("FetchTopPage: %v", err)
	}
	if gotQuery != "query=followers&page=2" {
		t.Fatalf("query = %q", gotQuery)
	}
}

func TestFetchTopMergesTwoPagesInOrder(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		switch r.URL.Query().Get("page") {
		case "1":
			json.NewEncoder(w).Encode(pageRows("p1-", PageSize))
		case "2":
			json.NewEncoder(w).Encode(pageRows("p2-", PageSize))
		default:
			http.Error(w, "bad page", http.StatusBadRequest)
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	rows, err := c.FetchTop(context.Background(), domain.PlatformInstagram, 200)
	if err != nil {
		t.Fatalf("FetchTop: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("expected 2 upstream calls, got %d", got)
	}
	if len(rows) != 200 {
		t.Fatalf("expected 200 rows, got %d", len(rows))
	}
	if rows[0]["username"] != "p1-0" {
		t.Fatalf("row 0 = %v", rows[0]["username"])
	}
	if rows[100]["username"] != "p2-0" {
		t.Fatalf("row 100 = %v, page 2 must follow page 1", rows[100]["username"])
	}
}

func TestFetchTopSinglePageForSmallLimits(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		json.NewEncoder(w).Encode(pageRows("x", PageSize))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	rows, err := c.FetchTop(context.Background(), domain.PlatformYouTube, 50)
	if err != nil {
		t.Fatalf("FetchTop: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 upstream call, got %d", calls)
	}
	if len(rows) != 50 {
		t.Fatalf("expected truncation to 50 rows, got %d", len(rows))
	}
}

func TestFetchTopFailsWhenAnyPageFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "2" {
			http.Error(w, "boom", http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(pageRows("ok", PageSize))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.FetchTop(context.Background(), domain.PlatformYouTube, 200)
	var upstream *UpstreamError
	if !errors.As(err, &upstream) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
	if upstream.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d", upstream.StatusCode)
	}
}

func TestUpstreamErrorRetryable(t *testing.T) {
	tests := []struct {
		status int
		want   bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusInternalServerError, true},
		{http.StatusServiceUnavailable, true},
		{http.StatusBadRequest, false},
		{http.StatusNotFound, false},
		{http.StatusUnauthorized, false},
	}
	for _, tt := range tests {
		e := &UpstreamError{StatusCode: tt.status}
		if e.Retryable() != tt.want {
			t.Fatalf("Retryable(%d) = %v, want %v", tt.status, e.Retryable(), tt.want)
		}
	}
}

func TestDecodeRowsEnvelopeShapes(t *testing.T) {
	tests := []struct {
		name string
		body string
		n    int
	}{
		{"bare array", `[{"username":"a"},{"username":"b"}]`, 2},
		{"data envelope", `{"data":[{"username":"a"}]}`, 1},
		{"list envelope", `{"list":[{"username":"a"}]}`, 1},
		{"results envelope", `{"status":"ok","results":[{"username":"a"}]}`, 1},
		{"unknown key with array", `{"creators":[{"username":"a"}]}`, 1},
		{"empty bare array", `[]`, 0},
		{"empty data envelope", `{"data":[]}`, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, err := decodeRows([]byte(tt.body))
			if err != nil {
				t.Fatalf("decodeRows: %v", err)
			}
			if len(rows) != tt.n {
				t.Fatalf("expected %d rows, got %d", tt.n, len(rows))
			}
		})
	}
}

func TestDecodeRowsRejectsNonRowBodies(t *testing.T) {
	for _, body := range []string{`"just a string"`, `{"count":5}`, `{"data":"nope"}`} {
		if _, err := decodeRows([]byte(body)); err == nil {
			t.Fatalf("expected error for body %s", body)
		}
	}
}

func TestFetchStatistics(t *testing.T) {
	var gotURL string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotURL = r.URL.String()
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id":         map[string]interface{}{"username": "mrbeast"},
			"statistics": map[string]interface{}{"total": map[string]interface{}{"subscribers": 200000000}},
		})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	row, err := c.FetchStatistics(context.Background(), domain.PlatformYouTube, "mr beast")
	if err != nil {
		t.Fatalf("FetchStatistics: %v", err)
	}
	if gotURL != "/youtube/statistics?query=mr+beast" {
		t.Fatalf("url = %q", gotURL)
	}
	if _, ok := row["statistics"]; !ok {
		t.Fatal("expected statistics key in row")
	}
}
