package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"skillswap-backend/pkg/jwt"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// MockRevocationChecker is a mock implementation of RevocationChecker
type MockRevocationChecker struct {
	mock.Mock
}

func (m *MockRevocationChecker) IsTokenRevoked(ctx context.Context, tokenString string) (bool, error) {
	args := m.Called(ctx, tokenString)
	return args.Bool(0), args.Error(1)
}

// MockWindowCounter is a mock implementation of WindowCounter
type MockWindowCounter struct {
	mock.Mock
}

func (m *MockWindowCounter) SafeIncrWindow(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	args := m.Called(ctx, key, window)
	return args.Get(0).(int64), args.Get(1).(time.Duration), args.Error(2)
}

func (m *MockWindowCounter) IsDegraded() bool {
	return m.Called().Bool(0)
}

func newAuthRouter(manager *jwt.JWTManager, checker RevocationChecker) *gin.Engine {
	r := gin.New()
	r.Use(AuthMiddleware(manager, checker))
	r.GET("/me", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user_id": UserID(c), "display_name": DisplayName(c)})
	})
	return r
}

func doGet(r http.Handler, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthMiddleware_MissingHeader(t *testing.T) {
	manager := jwt.NewJWTManager("secret", "skillswap-api", time.Minute)

	w := doGet(newAuthRouter(manager, nil), "")

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "UNAUTHORIZED")
}

func TestAuthMiddleware_InvalidToken(t *testing.T) {
	manager := jwt.NewJWTManager("secret", "skillswap-api", time.Minute)
	other := jwt.NewJWTManager("other-secret", "skillswap-api", time.Minute)
	token, err := other.GenerateAccessToken("alice", "Alice")
	require.NoError(t, err)

	w := doGet(newAuthRouter(manager, nil), token)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthMiddleware_ValidTokenSetsIdentity(t *testing.T) {
	manager := jwt.NewJWTManager("secret", "skillswap-api", time.Minute)
	token, err := manager.GenerateAccessToken("alice", "Alice")
	require.NoError(t, err)
	checker := new(MockRevocationChecker)

	// Setup expectations
	checker.On("IsTokenRevoked", mock.Anything, token).Return(false, nil)

	// Execute
	w := doGet(newAuthRouter(manager, checker), token)

	// Assert
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"user_id":"alice","display_name":"Alice"}`, w.Body.String())
	checker.AssertExpectations(t)
}

func TestAuthMiddleware_RevokedToken(t *testing.T) {
	manager := jwt.NewJWTManager("secret", "skillswap-api", time.Minute)
	token, err := manager.GenerateAccessToken("alice", "Alice")
	require.NoError(t, err)
	checker := new(MockRevocationChecker)

	// Setup expectations
	checker.On("IsTokenRevoked", mock.Anything, token).Return(true, nil)

	// Execute
	w := doGet(newAuthRouter(manager, checker), token)

	// Assert
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "Token revoked")
}

func TestAuthMiddleware_RevocationLookupFailsOpen(t *testing.T) {
	manager := jwt.NewJWTManager("secret", "skillswap-api", time.Minute)
	token, err := manager.GenerateAccessToken("alice", "Alice")
	require.NoError(t, err)
	checker := new(MockRevocationChecker)

	// Setup expectations
	checker.On("IsTokenRevoked", mock.Anything, token).Return(false, errors.New("redis down"))

	// Execute
	w := doGet(newAuthRouter(manager, checker), token)

	// Assert
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		token  string
		ok     bool
	}{
		{"Bearer abc", "abc", true},
		{"bearer abc", "", false},
		{"Bearer ", "", false},
		{"abc", "", false},
	}
	for _, tt := range tests {
		token, ok := bearerToken(tt.header)
		assert.Equal(t, tt.ok, ok, tt.header)
		assert.Equal(t, tt.token, token, tt.header)
	}
}

func TestCORSMiddleware(t *testing.T) {
	r := gin.New()
	r.Use(CORSMiddleware([]string{" https://app.skillswap.dev "}))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	t.Run("configured origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		req.Header.Set("Origin", "https://app.skillswap.dev")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "https://app.skillswap.dev", w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("unknown origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		req.Header.Set("Origin", "https://evil.example")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("preflight", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/x", nil)
		req.Header.Set("Origin", "http://localhost:3000")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNoContent, w.Code)
	})
}

func newLimitedRouter(rl *RateLimiter) *gin.Engine {
	r := gin.New()
	r.Use(rl.Middleware())
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func hit(r http.Handler) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRateLimiter_RedisWindow(t *testing.T) {
	counter := new(MockWindowCounter)
	rl := NewRateLimiter(counter, 2, time.Minute)
	r := newLimitedRouter(rl)

	// Setup expectations
	counter.On("IsDegraded").Return(false)
	counter.On("SafeIncrWindow", mock.Anything, "ratelimit:ip:10.0.0.1", time.Minute).
		Return(int64(2), 30*time.Second, nil).Once()
	counter.On("SafeIncrWindow", mock.Anything, "ratelimit:ip:10.0.0.1", time.Minute).
		Return(int64(3), 29*time.Second, nil).Once()

	// Execute
	first := hit(r)
	second := hit(r)

	// Assert
	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "0", first.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	counter.AssertExpectations(t)
}

func TestRateLimiter_FallsBackWhenDegraded(t *testing.T) {
	counter := new(MockWindowCounter)
	rl := NewRateLimiter(counter, 2, time.Minute)
	r := newLimitedRouter(rl)

	// Setup expectations
	counter.On("IsDegraded").Return(true)

	// Execute
	codes := []int{hit(r).Code, hit(r).Code, hit(r).Code}

	// Assert
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
	counter.AssertNotCalled(t, "SafeIncrWindow", mock.Anything, mock.Anything, mock.Anything)
}

func TestRateLimiter_FallsBackOnRedisError(t *testing.T) {
	counter := new(MockWindowCounter)
	rl := NewRateLimiter(counter, 1, time.Minute)
	r := newLimitedRouter(rl)

	// Setup expectations
	counter.On("IsDegraded").Return(false)
	counter.On("SafeIncrWindow", mock.Anything, mock.Anything, mock.Anything).
		Return(int64(0), time.Duration(0), errors.New("connection reset"))

	// Execute
	first := hit(r)
	second := hit(r)

	// Assert
	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
}

func TestTimeoutMiddleware(t *testing.T) {
	r := gin.New()
	r.GET("/slow", SetTimeoutOverride(10*time.Millisecond), NewTimeoutMiddleware(time.Second).Middleware(), func(c *gin.Context) {
		<-c.Request.Context().Done()
	})
	r.GET("/fast", NewTimeoutMiddleware(time.Second).Middleware(), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	slow := httptest.NewRecorder()
	r.ServeHTTP(slow, httptest.NewRequest(http.MethodGet, "/slow", nil))
	fast := httptest.NewRecorder()
	r.ServeHTTP(fast, httptest.NewRequest(http.MethodGet, "/fast", nil))

	assert.Equal(t, http.StatusGatewayTimeout, slow.Code)
	assert.Contains(t, slow.Body.String(), "REQUEST_TIMEOUT")
	assert.Equal(t, http.StatusOK, fast.Code)
}

func TestRecovery(t *testing.T) {
	r := gin.New()
	r.Use(RequestLogger(), Recovery())
	r.GET("/boom", func(c *gin.Context) { panic("boom") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestHealthCheck(t *testing.T) {
	redisUp := false
	r := gin.New()
	r.Use(HealthCheck("call-service", HealthProbe{Name: "redis", Healthy: func() bool { return redisUp }}))
	r.GET("/other", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	tests := []struct {
		name    string
		redisUp bool
		want    string
	}{
		{"degraded without redis", false, `"status":"degraded"`},
		{"healthy with redis", true, `"status":"healthy"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			redisUp = tt.redisUp
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

			assert.Equal(t, http.StatusOK, w.Code)
			assert.Contains(t, w.Body.String(), tt.want)
			assert.Contains(t, w.Body.String(), `"service":"call-service"`)
		})
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/other", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
}
