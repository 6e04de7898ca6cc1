package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func setupRouter(apiKey string) *gin.Engine {
	r := gin.New()
	r.Use(RequestLogger())
	r.GET("/guarded", APIKeyAuth(apiKey), func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(RequestIDKey))
	})
	return r
}

func TestAPIKeyAuth(t *testing.T) {
	tests := []struct {
		name       string
		configured string
		provided   string
		want       int
	}{
		{"valid key", "s3cret", "s3cret", http.StatusOK},
		{"wrong key", "s3cret", "guess", http.StatusUnauthorized},
		{"missing key", "s3cret", "", http.StatusUnauthorized},
		{"not configured", "", "anything", http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := setupRouter(tt.configured)
			req, _ := http.NewRequest("GET", "/guarded", nil)
			if tt.provided != "" {
				req.Header.Set(apiKeyHeader, tt.provided)
			}
			w := httptest.NewRecorder()

			r.ServeHTTP(w, req)

			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestRequestLoggerAssignsID(t *testing.T) {
	r := setupRouter("k")
	req, _ := http.NewRequest("GET", "/guarded", nil)
	req.Header.Set(apiKeyHeader, "k")
	w := httptest.NewRecorder()

	r.ServeHTTP(w, req)

	id := w.Header().Get(requestIDHeader)
	assert.NotEmpty(t, id)
	assert.Equal(t, id, w.Body.String())
}

func TestRequestLoggerKeepsIncomingID(t *testing.T) {
	r := setupRouter("k")
	req, _ := http.NewRequest("GET", "/guarded", nil)
	req.Header.Set(apiKeyHeader, "k")
	req.Header.Set(requestIDHeader, "req-123")
	w := httptest.NewRecorder()

	r.ServeHTTP(w, req)

	assert.Equal(t, "req-123", w.Header().Get(requestIDHeader))
	assert.Equal(t, "req-123", w.Body.String())
}
