// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package remote

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/ManuGH/matchvault/internal/resilience"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captured struct {
	method, path, auth, body string
}

func newServer(t *testing.T, status int, body string) (*httptest.Server, *[]captured) {
	t.Helper()
	var mu sync.Mutex
	var reqs []captured
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		reqs = append(reqs, captured{r.Method, r.URL.Path, r.Header.Get("Authorization"), string(b)})
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv, &reqs
}

func TestHTTPClient_Push(t *testing.T) {
	srv, reqs := newServer(t, http.StatusNoContent, "")
	c, err := NewHTTPClient(HTTPConfig{BaseURL: srv.URL + "/api", Token: "secret"})
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Push(context.Background(), EntityPlayers, "p 1", []byte(`{"id":"p 1"}`)))
	require.NoError(t, c.Push(context.Background(), EntityWarmupPlan, "", []byte(`{}`)))

	require.Len(t, *reqs, 2)
	assert.Equal(t, http.MethodPut, (*reqs)[0].method)
	assert.Equal(t, "/api/v1/players/p 1", (*reqs)[0].path)
	assert.Equal(t, "Bearer secret", (*reqs)[0].auth)
	assert.JSONEq(t, `{"id":"p 1"}`, (*reqs)[0].body)
	assert.Equal(t, "/api/v1/warmupPlan", (*reqs)[1].path)
}

func TestHTTPClient_ErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		code     string
		category resilience.Category
	}{
		{"service unavailable", 503, `{"message":"maintenance"}`, "", resilience.CategoryTransient},
		{"rate limited", 429, ``, "", resilience.CategoryTransient},
		{"serialization conflict", 400, `{"code":"40001","message":"could not serialize access"}`, "40001", resilience.CategoryConflict},
		{"conflict despite 503", 503, `{"code":"40001","message":"network"}`, "40001", resilience.CategoryConflict},
		{"admin shutdown", 500, `{"code":"57P01","message":"terminating connection"}`, "57P01", resilience.CategoryTransient},
		{"bad request", 400, `{"code":"22P02","message":"invalid input"}`, "22P02", resilience.CategoryPermanent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newServer(t, tt.status, tt.body)
			c, err := NewHTTPClient(HTTPConfig{BaseURL: srv.URL})
			require.NoError(t, err)

			err = c.Push(context.Background(), EntityTeams, "t1", []byte(`{}`))
			var rerr *Error
			require.ErrorAs(t, err, &rerr)
			assert.Equal(t, tt.status, rerr.StatusCode())
			assert.Equal(t, tt.code, rerr.ErrorCode())
			assert.NotEmpty(t, rerr.Message)
			assert.Equal(t, tt.category, resilience.Classify(err))
		})
	}
}

func TestHTTPClient_Ping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/health" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}))
	defer srv.Close()

	c, err := NewHTTPClient(HTTPConfig{BaseURL: srv.URL, RatePerSecond: 100})
	require.NoError(t, err)
	assert.NoError(t, c.Ping(context.Background()))
}

func TestHTTPClient_ConnectionRefusedIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := NewHTTPClient(HTTPConfig{BaseURL: url})
	require.NoError(t, err)
	err = c.Push(context.Background(), EntityPlayers, "p1", []byte(`{}`))
	require.Error(t, err)
	assert.True(t, resilience.IsTransientError(err), "got %v", err)
}

func TestNewHTTPClient_InvalidURL(t *testing.T) {
	_, err := NewHTTPClient(HTTPConfig{BaseURL: "not a url"})
	assert.Error(t, err)
}

func TestError_Message(t *testing.T) {
	assert.Equal(t, "remote error 503 (57P01): down", (&Error{Status: 503, Code: "57P01", Message: "down"}).Error())
	assert.Equal(t, "remote error 40001: conflict", (&Error{Code: "40001", Message: "conflict"}).Error())
	assert.Equal(t, "remote error 500: boom", (&Error{Status: 500, Message: "boom"}).Error())
}
