package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_LabelsByRoutePattern(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(Metrics())
	r.GET("/api/v1/messages/:token", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"token": c.Param("token")})
	})
	r.POST("/telegram/webhook", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	const route = "/api/v1/messages/:token"
	baseMsg := testutil.ToFloat64(httpReqs.WithLabelValues("GET", route, "200"))
	baseHook := testutil.ToFloat64(httpReqs.WithLabelValues("POST", "/telegram/webhook", "204"))
	baseMiss := testutil.ToFloat64(httpReqs.WithLabelValues("GET", UnmatchedRoute, "404"))

	for _, tc := range []struct {
		method, path string
		want         int
	}{
		{http.MethodGet, "/api/v1/messages/0b1e4c5e-9a51-4f0c-8d2f-3a2c1b0e9f77", http.StatusOK},
		{http.MethodGet, "/api/v1/messages/5d0c9b7e-1111-4a2b-9c3d-7e6f5a4b3c2d", http.StatusOK},
		{http.MethodPost, "/telegram/webhook", http.StatusNoContent},
		{http.MethodGet, "/wp-login.php", http.StatusNotFound},
		{http.MethodGet, "/.env", http.StatusNotFound},
	} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(tc.method, tc.path, nil))
		if w.Code != tc.want {
			t.Fatalf("%s %s -> %d; want %d", tc.method, tc.path, w.Code, tc.want)
		}
	}

	if got := testutil.ToFloat64(httpReqs.WithLabelValues("GET", route, "200")); got != baseMsg+2 {
		t.Fatalf("message route counter = %v; want %v (tokens must share one series)", got, baseMsg+2)
	}
	if got := testutil.ToFloat64(httpReqs.WithLabelValues("POST", "/telegram/webhook", "204")); got != baseHook+1 {
		t.Fatalf("webhook counter = %v; want %v", got, baseHook+1)
	}
	if got := testutil.ToFloat64(httpReqs.WithLabelValues("GET", UnmatchedRoute, "404")); got != baseMiss+2 {
		t.Fatalf("unmatched counter = %v; want %v", got, baseMiss+2)
	}
	if inFlight := testutil.ToFloat64(httpInflight); inFlight != 0 {
		t.Fatalf("httpInflight = %v; want 0", inFlight)
	}
}
