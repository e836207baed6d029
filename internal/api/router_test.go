package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/JebGy/parkingiot/internal/api/handler"
	"github.com/JebGy/parkingiot/internal/api/middleware"
	"github.com/JebGy/parkingiot/internal/ratelimit"
	"github.com/JebGy/parkingiot/internal/service"
)

func newTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	authMw := middleware.NewAuthMiddleware(service.NewAuthService(nil, "test-secret", time.Hour))
	rlStore := ratelimit.NewStore(time.Minute, 100)
	return SetupRouter(nil, nil, nil, nil, nil, authMw, rlStore, handler.NewWebSocketManager())
}

func TestEstadoCallbackRequiresBearerToken(t *testing.T) {
	r := newTestRouter()

	tests := []struct {
		name   string
		header string
	}{
		{"khong-co-header", ""},
		{"token-rac", "Bearer khong-phai-jwt"},
		{"sai-dinh-dang", "Basic abc123"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPatch, "/api/v1/codigos/123456/estado",
				strings.NewReader(`{"estado":"pagado"}`))
			req.Header.Set("Content-Type", "application/json")
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if w.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, muốn 401", w.Code)
			}
		})
	}
}

func TestProtectedRoutesRequireBearerToken(t *testing.T) {
	r := newTestRouter()

	for _, route := range []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/v1/codes"},
		{http.MethodPatch, "/api/v1/codes/claim"},
		{http.MethodGet, "/api/v1/payments"},
	} {
		req := httptest.NewRequest(route.method, route.path, nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("%s %s status = %d, muốn 401", route.method, route.path, w.Code)
		}
	}
}
