package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suPer8Hu/testerhub/internal/auth"
)

func init() { gin.SetMode(gin.TestMode) }

func newEngine(secret string) *gin.Engine {
	r := gin.New()
	r.Use(RequestID(), Recovery())
	r.GET("/panic", func(*gin.Context) { panic("boom") })
	g := r.Group("/", AuthRequired(secret))
	g.GET("/whoami", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(UserIDKey)+"|"+c.GetString(RoleKey))
	})
	return r
}

func TestAuthRequired(t *testing.T) {
	r := newEngine("s3cret")
	token, err := auth.SignJWT("u1", "tester", "s3cret", time.Hour)
	require.NoError(t, err)

	cases := []struct {
		name   string
		target string
		header string
		status int
		body   string
	}{
		{"header", "/whoami", "Bearer " + token, http.StatusOK, "u1|tester"},
		{"query", "/whoami?token=" + token, "", http.StatusOK, "u1|tester"},
		{"missing", "/whoami", "", http.StatusUnauthorized, ""},
		{"garbage", "/whoami", "Bearer nope", http.StatusUnauthorized, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.target, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tc.status, w.Code)
			if tc.body != "" {
				assert.Equal(t, tc.body, w.Body.String())
			}
		})
	}
}

func TestRecoveryAndRequestID(t *testing.T) {
	r := newEngine("x")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), `"code":50000`)
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set(RequestIDHeader, "req-1")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "req-1", w.Header().Get(RequestIDHeader))
}
