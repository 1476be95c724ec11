package httpcache

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGet_ConditionalRequests(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write([]byte("payload-v1"))
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir(), srv.Client())
	req := Request{ID: "test", URL: srv.URL + "/todos", Header: http.Header{"Authorization": {"Bearer tok"}}}

	first, err := f.Get(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, first.FromCache)
	assert.Equal(t, "payload-v1", string(first.Body))

	second, err := f.Get(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, "payload-v1", string(second.Body))
	assert.Equal(t, int32(2), hits.Load())
}

func TestGet_FallsBackOnServerError(t *testing.T) {
	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			http.Error(w, "boom", http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("good"))
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir(), srv.Client())
	req := Request{ID: "t", URL: srv.URL}

	_, err := f.Get(context.Background(), req)
	require.NoError(t, err)

	fail.Store(true)
	res, err := f.Get(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, res.FromCache)
	assert.Equal(t, "good", string(res.Body))
}

func TestGet_FallsBackOnNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("cached"))
	}))
	f := NewFetcher(t.TempDir(), srv.Client())
	req := Request{ID: "t", URL: srv.URL + "/feed.ics"}

	_, err := f.Get(context.Background(), req)
	require.NoError(t, err)
	srv.Close()

	res, err := f.Get(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, res.FromCache)
	assert.Equal(t, "cached", string(res.Body))
}

func TestGet_AuthFailureIsNotMasked(t *testing.T) {
	var deny atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if deny.Load() {
			http.Error(w, "nope", http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir(), srv.Client())
	req := Request{ID: "t", URL: srv.URL}
	_, err := f.Get(context.Background(), req)
	require.NoError(t, err)

	deny.Store(true)
	_, err = f.Get(context.Background(), req)
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusUnauthorized, se.StatusCode)
}

func TestGet_ErrorWithoutCache(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "missing", http.StatusNotFound)
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir(), srv.Client())
	_, err := f.Get(context.Background(), Request{ID: "t", URL: srv.URL})
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusNotFound, se.StatusCode)

	_, err = f.Get(context.Background(), Request{ID: "empty"})
	assert.Error(t, err)
}

func TestForget_DropsCachedBody(t *testing.T) {
	var up atomic.Bool
	up.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !up.Load() {
			http.Error(w, "down", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("body"))
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir(), srv.Client())
	req := Request{ID: "t", URL: srv.URL}
	_, err := f.Get(context.Background(), req)
	require.NoError(t, err)

	require.NoError(t, f.Forget(req.URL))
	up.Store(false)
	_, err = f.Get(context.Background(), req)
	assert.Error(t, err)
}

func TestFetchAll_JoinsErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/bad" {
			http.Error(w, "bad", http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(r.URL.Path))
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir(), srv.Client())
	results, err := f.FetchAll(context.Background(), []Request{
		{ID: "a", URL: srv.URL + "/a"},
		{ID: "bad", URL: srv.URL + "/bad"},
		{ID: "b", URL: srv.URL + "/b"},
	})
	require.Error(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "/a", string(results[0].Body))
	assert.Equal(t, "/b", string(results[1].Body))
}

func TestRedactURL(t *testing.T) {
	assert.Equal(t, "https://example.com/...(redacted)", RedactURL("https://example.com/path/private.ics?token=abcd"))
	assert.Equal(t, "http://host:8483/...(redacted)", RedactURL("http://host:8483"))
	assert.Equal(t, "url://...(redacted)", RedactURL("not a url"))
}
