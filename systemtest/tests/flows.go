package tests

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/EternisAI/mailbroker/internal/api/http/dto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 5 * time.Second
	tick    = 20 * time.Millisecond
)

func TestHealthCheck(t *testing.T, s *Stack) {
	rr := doJSON(s.Router, "GET", "/health", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func sendEvent(t *testing.T, s *Stack, requesterID, text string) dto.EventResponse {
	t.Helper()
	rr := doJSON(s.Router, "POST", "/api/v1/events", WebhookSecret, dto.EventRequest{RequesterID: requesterID, Text: text})
	require.Equal(t, http.StatusOK, rr.Code)

	var resp dto.EventResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	return resp
}

func generateKey(t *testing.T, s *Stack) string {
	t.Helper()
	rr := doJSON(s.Router, "POST", "/api/v1/admin/keys", AdminKey, dto.GenerateKeysRequest{Count: 1})
	require.Equal(t, http.StatusCreated, rr.Code)

	var resp dto.GenerateKeysResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Len(t, resp.Codes, 1)
	return resp.Codes[0]
}

// TestAcquireAndDeliver walks one requester from activation to a delivered
// code and back to idle.
func TestAcquireAndDeliver(t *testing.T, s *Stack) {
	const requester = "1001"

	resp := sendEvent(t, s, requester, "/buyacc")
	assert.Equal(t, "not_activated", resp.Kind)

	code := generateKey(t, s)
	resp = sendEvent(t, s, requester, "/act "+code)
	require.Equal(t, "ok", resp.Kind, resp.Message)

	resp = sendEvent(t, s, requester, "/buyacc")
	require.Equal(t, "ok", resp.Kind, resp.Message)
	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	address, _ := data["address"].(string)
	require.NotEmpty(t, address)

	resp = sendEvent(t, s, requester, "/buyacc")
	assert.Equal(t, "conflict", resp.Kind)

	resp = sendEvent(t, s, requester, "/name")
	assert.Equal(t, "ok", resp.Kind)
	assert.Contains(t, resp.Message, address)

	s.Provider.Deliver(address, "Your security code is 731946")

	require.Eventually(t, func() bool {
		return containsAny(s.Sender.Messages(requester), "Code: 731946")
	}, waitFor, tick)

	require.Eventually(t, func() bool {
		_, monitoring, err := s.Engine.Status(context.Background(), requester)
		return err == nil && !monitoring
	}, waitFor, tick)

	resp = sendEvent(t, s, requester, "/name")
	assert.Nil(t, resp.Data)

	resp = sendEvent(t, s, requester, "/mycount")
	assert.Equal(t, "ok", resp.Kind)
	assert.Equal(t, map[string]any{"count": float64(1)}, resp.Data)

	rr := doJSON(s.Router, "GET", "/api/v1/admin/usage/"+requester, AdminKey, nil)
	var usage dto.UsageInfo
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &usage))
	assert.Equal(t, int64(1), usage.Count)
}

func TestCancel(t *testing.T, s *Stack) {
	const requester = "1002"

	resp := sendEvent(t, s, requester, "/act "+generateKey(t, s))
	require.Equal(t, "ok", resp.Kind, resp.Message)

	resp = sendEvent(t, s, requester, "/buyacc hotmail")
	require.Equal(t, "ok", resp.Kind, resp.Message)

	resp = sendEvent(t, s, requester, "/deleteacc")
	assert.Equal(t, "ok", resp.Kind)

	resp = sendEvent(t, s, requester, "/deleteacc")
	assert.Equal(t, "validation", resp.Kind)

	rr := doJSON(s.Router, "GET", "/api/v1/admin/monitors", AdminKey, nil)
	var monitors dto.MonitorsResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &monitors))
	for _, m := range monitors.Monitors {
		assert.NotEqual(t, requester, m.RequesterID)
	}
}

func TestAdminClear(t *testing.T, s *Stack) {
	const requester = "1003"

	require.Equal(t, "ok", sendEvent(t, s, requester, "/act "+generateKey(t, s)).Kind)
	require.Equal(t, "ok", sendEvent(t, s, requester, "/buyacc").Kind)

	rr := doJSON(s.Router, "DELETE", "/api/v1/admin/monitors/"+requester, AdminKey, nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = doJSON(s.Router, "DELETE", "/api/v1/admin/monitors/"+requester, AdminKey, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	resp := sendEvent(t, s, requester, "/buyacc")
	assert.Equal(t, "ok", resp.Kind)
}

func TestBroadcast(t *testing.T, s *Stack) {
	const requester = "1004"
	require.Equal(t, "ok", sendEvent(t, s, requester, "/act "+generateKey(t, s)).Kind)

	rr := doJSON(s.Router, "POST", "/api/v1/admin/broadcast", AdminKey, dto.BroadcastRequest{Message: "scheduled maintenance"})
	require.Equal(t, http.StatusOK, rr.Code)

	var report dto.BroadcastResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &report))
	assert.Equal(t, report.Total, report.Sent)
	assert.Contains(t, s.Sender.Messages(requester), "scheduled maintenance")
}

func TestProviderInfo(t *testing.T, s *Stack) {
	rr := doJSON(s.Router, "GET", "/api/v1/admin/provider/stock", AdminKey, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var stock dto.StockResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &stock))
	assert.Equal(t, []dto.StockInfo{{Type: "outlook", Available: 5}}, stock.Stock)

	rr = doJSON(s.Router, "GET", "/api/v1/admin/provider/balance", AdminKey, nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "3.75")
}

func TestUnrecognized(t *testing.T, s *Stack) {
	resp := sendEvent(t, s, "1005", "hello?")
	assert.Equal(t, "unrecognized", resp.Kind)

	resp = sendEvent(t, s, "1005", "/help")
	assert.Equal(t, "unrecognized", resp.Kind)
}
