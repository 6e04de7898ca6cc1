package tests

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/EternisAI/mailbroker/internal/activation"
	internalhttp "github.com/EternisAI/mailbroker/internal/api/http"
	"github.com/EternisAI/mailbroker/internal/broadcast"
	"github.com/EternisAI/mailbroker/internal/dispatch"
	"github.com/EternisAI/mailbroker/internal/engine"
	"github.com/EternisAI/mailbroker/internal/kv"
	"github.com/EternisAI/mailbroker/internal/monitoring"
	"github.com/EternisAI/mailbroker/internal/notify"
	"github.com/EternisAI/mailbroker/internal/provider"
	"github.com/EternisAI/mailbroker/internal/usage"
	"github.com/gin-gonic/gin"
)

const (
	AdminKey      = "system-admin-key"
	WebhookSecret = "system-webhook-secret"
)

// Stack is a fully wired broker in front of a fake provider.
type Stack struct {
	Router   *gin.Engine
	Engine   *engine.Engine
	Sender   *CaptureSender
	Provider *FakeProvider
}

func NewStack(t *testing.T, store kv.Store) *Stack {
	t.Helper()
	gin.SetMode(gin.TestMode)

	fake := NewFakeProvider()
	t.Cleanup(fake.Close)

	sender := &CaptureSender{}
	keys := activation.NewRegistry(store)
	ledger := usage.NewLedger(store)
	client := provider.NewClient(provider.Config{BaseURL: fake.URL(), ClientKey: "system-client"})

	broker := engine.New(client, monitoring.NewRegistry(store), ledger, notify.NewNotifier(sender), engine.Config{
		PollInterval: 20 * time.Millisecond,
		NoticeEvery:  1000,
	})
	t.Cleanup(broker.Shutdown)

	router := gin.New()
	router.Use(gin.Recovery())
	internalhttp.SetupRoute(router, internalhttp.Config{AdminAPIKey: AdminKey, WebhookSecret: WebhookSecret}, &internalhttp.Services{
		Dispatcher: dispatch.New(keys, broker, ledger, dispatch.Config{}),
		Keys:       keys,
		Usage:      ledger,
		Monitors:   broker,
		Provider:   client,
		Broadcast:  broadcast.NewService(keys, sender, broadcast.Config{Concurrency: 2}),
	})

	return &Stack{Router: router, Engine: broker, Sender: sender, Provider: fake}
}

// CaptureSender records outbound chat messages per recipient.
type CaptureSender struct {
	mu       sync.Mutex
	messages map[string][]string
}

func (c *CaptureSender) Send(_ context.Context, recipient string, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.messages == nil {
		c.messages = make(map[string][]string)
	}
	c.messages[recipient] = append(c.messages[recipient], text)
	return nil
}

func (c *CaptureSender) Messages(recipient string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.messages[recipient]...)
}

// FakeProvider speaks the provider's {success, message, data} protocol.
// Mailboxes stay empty until Deliver is called for their address.
type FakeProvider struct {
	server *httptest.Server

	mu      sync.Mutex
	sold    int
	inboxes map[string]string
}

func NewFakeProvider() *FakeProvider {
	f := &FakeProvider{inboxes: make(map[string]string)}
	f.server = httptest.NewServer(http.HandlerFunc(f.serve))
	return f
}

func (f *FakeProvider) URL() string { return f.server.URL }

func (f *FakeProvider) Close() { f.server.Close() }

func (f *FakeProvider) Deliver(address, content string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inboxes[address] = content
}

func (f *FakeProvider) serve(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("clientKey") != "system-client" {
		reply(w, false, "invalid client key", nil)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch r.URL.Path {
	case "/api/user/balance":
		reply(w, true, "", 3.75)
	case "/api/mail/getStock":
		reply(w, true, "", []map[string]any{{"type": "outlook", "stock": 5}})
	case "/api/mail/getMail":
		f.sold++
		reply(w, true, "", fmt.Sprintf("user%d@outlook.com:pw%d:refresh%d:client%d", f.sold, f.sold, f.sold, f.sold))
	case "/api/mail/getFirstMail":
		address := provider.AddressOf(r.URL.Query().Get("account"))
		reply(w, true, "", f.inboxes[address])
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func reply(w http.ResponseWriter, success bool, message string, data any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"success": success, "message": message, "data": data})
}

func doJSON(router *gin.Engine, method, path, apiKey string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", apiKey)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func containsAny(messages []string, substr string) bool {
	for _, m := range messages {
		if strings.Contains(m, substr) {
			return true
		}
	}
	return false
}
