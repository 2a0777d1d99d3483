package jina

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRead_Success(t *testing.T) {
	t.Parallel()

	want := ReadResponse{
		Code: 200,
		Data: ReadData{
			Title:   "Acme Plumbing",
			URL:     "https://acme.example",
			Content: "# Acme Plumbing\n\nEmail [info@acme.example](mailto:info@acme.example)",
			Usage:   ReadUsage{Tokens: 210},
		},
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "markdown", r.Header.Get("X-Return-Format"))
		assert.Equal(t, "4", r.Header.Get("X-Timeout"))
		assert.Equal(t, "/https://acme.example", r.URL.Path)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(want)
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	got, err := client.Read(context.Background(), "https://acme.example", WithWaitTimeout(4*time.Second))

	require.NoError(t, err)
	assert.Equal(t, want.Data.Title, got.Data.Title)
	assert.Equal(t, want.Data.Content, got.Data.Content)
}

func TestRead_StatusErrorNotRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"rate limit exceeded"}`))
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	_, err := client.Read(context.Background(), "https://acme.example")

	require.Error(t, err)
	assert.Equal(t, http.StatusTooManyRequests, StatusCode(err))
	assert.Contains(t, err.Error(), "429")
	assert.Equal(t, int32(1), calls.Load())
}

func TestRead_MalformedJSON(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{not json`))
	}))
	defer srv.Close()

	client := NewClient("", WithBaseURL(srv.URL))
	_, err := client.Read(context.Background(), "https://acme.example")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unmarshal")
	assert.Equal(t, 0, StatusCode(err))
}

func TestRead_ContextCancellation(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := NewClient("k", WithBaseURL(srv.URL))
	_, err := client.Read(ctx, "https://acme.example")
	require.Error(t, err)
}

func TestRead_NoAuthHeaderWithoutKey(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(ReadResponse{Code: 200})
	}))
	defer srv.Close()

	_, err := NewClient("", WithBaseURL(srv.URL)).Read(context.Background(), "https://acme.example")
	require.NoError(t, err)
}

func TestSearch_Success(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/Acme Plumbing Phoenix AZ", r.URL.Path)
		assert.Equal(t, "yelp.com", r.URL.Query().Get("site"))
		assert.Equal(t, "5", r.URL.Query().Get("count"))
		_ = json.NewEncoder(w).Encode(SearchResponse{
			Code: 200,
			Data: []SearchResult{
				{Title: "Acme Plumbing - Yelp", URL: "https://www.yelp.com/biz/acme", Description: "Plumber"},
			},
		})
	}))
	defer srv.Close()

	client := NewClient("k", WithSearchBaseURL(srv.URL))
	got, err := client.Search(context.Background(), "Acme Plumbing Phoenix AZ", WithSiteFilter("yelp.com"), WithCount(5))

	require.NoError(t, err)
	require.Len(t, got.Data, 1)
	assert.Equal(t, "https://www.yelp.com/biz/acme", got.Data[0].URL)
}

func TestSearch_NoResults(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	got, err := NewClient("k", WithSearchBaseURL(srv.URL)).Search(context.Background(), "nothing")
	require.NoError(t, err)
	assert.Empty(t, got.Data)
}

func TestSearch_HTTPError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewClient("k", WithSearchBaseURL(srv.URL)).Search(context.Background(), "acme")
	require.Error(t, err)
	assert.Equal(t, http.StatusBadGateway, StatusCode(err))
}

func TestWithHTTPClient(t *testing.T) {
	t.Parallel()

	hc := &http.Client{Timeout: 5 * time.Second}
	c := NewClient("k", WithHTTPClient(hc)).(*httpClient)
	assert.Same(t, hc, c.http)
}
