package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/EternisAI/mailbroker/internal/api/http/dto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "admin-key"

type request struct {
	method string
	path   string
	body   string
}

func newTestServer(t *testing.T, reply func(w http.ResponseWriter, r *http.Request)) (*httptest.Server, *[]request) {
	t.Helper()
	var seen []request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-API-Key") != testKey {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"Invalid API key"}`))
			return
		}
		var body bytes.Buffer
		_, _ = body.ReadFrom(r.Body)
		seen = append(seen, request{method: r.Method, path: r.URL.RequestURI(), body: strings.TrimSpace(body.String())})
		w.Header().Set("Content-Type", "application/json")
		reply(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv, &seen
}

func runCLI(srv *httptest.Server, args ...string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	full := append([]string{"--server", srv.URL, "--api-key", testKey}, args...)
	code := run(full, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func writeJSON(w http.ResponseWriter, v any) {
	_ = json.NewEncoder(w).Encode(v)
}

func TestKeysGenerate(t *testing.T) {
	srv, seen := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		writeJSON(w, dto.GenerateKeysResponse{Codes: []string{"AAAA-BBBB-CCCC", "DDDD-EEEE-FFFF"}, Count: 2})
	})

	code, stdout, stderr := runCLI(srv, "keys", "generate", "2")
	require.Equal(t, 0, code, stderr)
	assert.Equal(t, "AAAA-BBBB-CCCC\nDDDD-EEEE-FFFF\n", stdout)

	require.Len(t, *seen, 1)
	assert.Equal(t, request{method: "POST", path: "/api/v1/admin/keys", body: `{"count":2}`}, (*seen)[0])
}

func TestKeysGenerateRejectsBadCount(t *testing.T) {
	srv, seen := newTestServer(t, func(http.ResponseWriter, *http.Request) {})

	code, _, stderr := runCLI(srv, "keys", "generate", "many")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, `invalid count "many"`)
	assert.Empty(t, *seen)
}

func TestKeysList(t *testing.T) {
	srv, seen := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, dto.ListKeysResponse{Keys: []dto.KeyInfo{
			{Code: "AAAA-BBBB-CCCC", Claimant: "42"},
			{Code: "DDDD-EEEE-FFFF"},
		}, Count: 2})
	})

	code, stdout, _ := runCLI(srv, "keys", "list", "--status", "claimed")
	require.Equal(t, 0, code)
	assert.Contains(t, stdout, "AAAA-BBBB-CCCC  42")
	assert.Contains(t, stdout, "DDDD-EEEE-FFFF  -")
	assert.Equal(t, "/api/v1/admin/keys?status=claimed", (*seen)[0].path)
}

func TestUsage(t *testing.T) {
	srv, seen := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/admin/usage" {
			writeJSON(w, dto.UsageResponse{Requesters: []dto.UsageInfo{{RequesterID: "42", Count: 3}}, Total: 3})
			return
		}
		writeJSON(w, dto.UsageInfo{RequesterID: "42", Count: 3})
	})

	code, stdout, _ := runCLI(srv, "usage")
	require.Equal(t, 0, code)
	assert.Contains(t, stdout, "TOTAL")

	code, stdout, _ = runCLI(srv, "usage", "42")
	require.Equal(t, 0, code)
	assert.Equal(t, "42\t3\n", stdout)
	assert.Equal(t, "/api/v1/admin/usage/42", (*seen)[1].path)
}

func TestMonitorsClear(t *testing.T) {
	srv, seen := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, dto.MonitorInfo{RequesterID: "42", Address: "user@outlook.com"})
	})

	code, stdout, _ := runCLI(srv, "monitors", "clear", "42")
	require.Equal(t, 0, code)
	assert.Equal(t, "Cleared user@outlook.com for 42\n", stdout)
	assert.Equal(t, "DELETE", (*seen)[0].method)
}

func TestMonitorsClearNotFound(t *testing.T) {
	srv, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		writeJSON(w, map[string]string{"error": "No account under monitoring for this requester"})
	})

	code, _, stderr := runCLI(srv, "monitors", "clear", "42")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "HTTP 404: No account under monitoring")
}

func TestBroadcastJoinsWords(t *testing.T) {
	srv, seen := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, dto.BroadcastResponse{ID: "b-1", Total: 3, Sent: 2, Failed: 1})
	})

	code, stdout, _ := runCLI(srv, "broadcast", "service", "back", "online")
	require.Equal(t, 0, code)
	assert.Equal(t, "Broadcast b-1: 2 sent, 1 failed, 3 total\n", stdout)
	assert.Equal(t, `{"message":"service back online"}`, (*seen)[0].body)
}

func TestProviderBalance(t *testing.T) {
	srv, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"balance":"12.5"}`))
	})

	code, stdout, _ := runCLI(srv, "provider", "balance")
	require.Equal(t, 0, code)
	assert.Equal(t, "12.5\n", stdout)
}

func TestWrongAPIKey(t *testing.T) {
	srv, _ := newTestServer(t, func(http.ResponseWriter, *http.Request) {})

	var stdout, stderr bytes.Buffer
	code := run([]string{"--server", srv.URL, "--api-key", "wrong", "provider", "stock"}, &stdout, &stderr)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), "HTTP 401: Invalid API key")
}

func TestMissingAPIKey(t *testing.T) {
	t.Setenv("MAILBROKER_API_KEY", "")

	var stdout, stderr bytes.Buffer
	code := run([]string{"--server", "http://127.0.0.1:1", "usage"}, &stdout, &stderr)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), "admin API key is required")
}

func TestAPIKeyFromEnv(t *testing.T) {
	srv, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, dto.StockResponse{Stock: []dto.StockInfo{{Type: "outlook", Available: 9}}})
	})
	t.Setenv("MAILBROKER_API_KEY", testKey)
	t.Setenv("MAILBROKER_SERVER", srv.URL)

	var stdout, stderr bytes.Buffer
	code := run([]string{"provider", "stock"}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())
	assert.Contains(t, stdout.String(), "outlook")
}
