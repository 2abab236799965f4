package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "middleware-test-secret"

func token(t *testing.T, secret string, roles, perms []string, ttl time.Duration) string {
	t.Helper()
	now := time.Now()
	s, err := IssueToken(secret, JWTClaims{
		UserID:      "u1",
		Roles:       roles,
		Permissions: perms,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	require.NoError(t, err)
	return s
}

func router(extra ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	handlers := append([]gin.HandlerFunc{JWTAuth(testSecret)}, extra...)
	handlers = append(handlers, func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString("user_id"))
	})
	r.GET("/x", handlers...)
	return r
}

func do(r *gin.Engine, path, bearer string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestJWTAuth(t *testing.T) {
	r := router()

	w := do(r, "/x", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(r, "/x", token(t, "other-secret", nil, nil, time.Hour))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(r, "/x", token(t, testSecret, nil, nil, -time.Minute))
	assert.Equal(t, http.StatusUnauthorized, w.Code, "expired token")

	w = do(r, "/x", token(t, testSecret, nil, nil, time.Hour))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "u1", w.Body.String())

	// SSE 通过 query 传 token
	w = do(r, "/x?token="+token(t, testSecret, nil, nil, time.Hour), "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRequirePermission(t *testing.T) {
	r := router(RequirePermission("catalogue:write"))

	w := do(r, "/x", token(t, testSecret, nil, []string{"roster:read"}, time.Hour))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = do(r, "/x", token(t, testSecret, nil, []string{"catalogue:write"}, time.Hour))
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(r, "/x", token(t, testSecret, nil, []string{"*"}, time.Hour))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRequireRole(t *testing.T) {
	r := router(RequireRole("arbitrator"))

	w := do(r, "/x", token(t, testSecret, []string{"player"}, nil, time.Hour))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = do(r, "/x", token(t, testSecret, []string{RoleAdmin}, nil, time.Hour))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRequestIDAndMetrics(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID(), Metrics())
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, c.GetString("request_id")) })

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("X-Request-ID", "req-1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "req-1", w.Body.String())
	assert.Equal(t, "req-1", w.Header().Get("X-Request-ID"))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestRequireOwner(t *testing.T) {
	owners := map[string]string{"r1": "u1", "r2": "u2"}
	lookup := func(c *gin.Context) (string, bool) {
		owner, ok := owners[c.Query("roster")]
		if !ok {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"code": 40400})
			return "", false
		}
		return owner, true
	}
	r := router(RequireOwner(lookup))
	player := token(t, testSecret, []string{"player"}, nil, time.Hour)

	w := do(r, "/x?roster=r1", player)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(r, "/x?roster=r2", player)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "40300")

	w = do(r, "/x?roster=missing", player)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(r, "/x?roster=r2", token(t, testSecret, []string{RoleAdmin}, nil, time.Hour))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestJWTAuth_RejectsTokenWithoutUser(t *testing.T) {
	s, err := IssueToken(testSecret, JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	})
	require.NoError(t, err)
	w := do(router(), "/x", s)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
