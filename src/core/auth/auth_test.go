package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"snap-answer-server/src/configs"
	"snap-answer-server/src/core/utils"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	at, err := NewAuthToken("s3cret", time.Minute)
	require.NoError(t, err)

	token, err := at.GenerateToken("kiosk-1")
	require.NoError(t, err)

	id, err := at.VerifyToken(token)
	require.NoError(t, err)
	assert.Equal(t, "kiosk-1", id)

	other, err := NewAuthToken("different", time.Minute)
	require.NoError(t, err)
	_, err = other.VerifyToken(token)
	assert.Error(t, err)
}

func TestTokenExpired(t *testing.T) {
	claims := jwt.MapClaims{"device_id": "kiosk-1", "exp": time.Now().Add(-time.Minute).Unix()}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("s3cret"))
	require.NoError(t, err)

	at, err := NewAuthToken("s3cret", 0)
	require.NoError(t, err)
	_, err = at.VerifyToken(signed)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestEmptySecret(t *testing.T) {
	_, err := NewAuthToken("", 0)
	assert.Error(t, err)
}

func newAuthenticator(t *testing.T) *Authenticator {
	t.Helper()
	cfg := &configs.Config{}
	cfg.Server.Auth.Enabled = true
	cfg.Server.Auth.Secret = "s3cret"
	cfg.Server.Auth.AllowedDevices = []string{"trusted"}
	cfg.Server.Auth.Tokens = []configs.TokenConfig{{Token: "static-token"}}
	a, err := NewAuthenticator(cfg, utils.NewLoggerWithWriter("error", nil))
	require.NoError(t, err)
	return a
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	a := newAuthenticator(t)
	jwtToken, err := a.Issue("kiosk-1")
	require.NoError(t, err)

	r := gin.New()
	r.Use(a.Middleware())
	r.GET("/state", func(c *gin.Context) { c.Status(http.StatusOK) })

	cases := []struct {
		name   string
		url    string
		device string
		bearer string
		want   int
	}{
		{"no credentials", "/state", "", "", http.StatusUnauthorized},
		{"allowed device", "/state", "trusted", "", http.StatusOK},
		{"static token", "/state", "", "static-token", http.StatusOK},
		{"jwt matching device", "/state", "kiosk-1", jwtToken, http.StatusOK},
		{"jwt other device", "/state", "kiosk-2", jwtToken, http.StatusUnauthorized},
		{"garbage token", "/state", "kiosk-1", "nope", http.StatusUnauthorized},
		{"query parameters", "/state?token=" + jwtToken + "&device_id=kiosk-1", "", "", http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.url, nil)
			if tc.device != "" {
				req.Header.Set(DeviceIDHeader, tc.device)
			}
			if tc.bearer != "" {
				req.Header.Set("Authorization", "Bearer "+tc.bearer)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tc.want, w.Code)
		})
	}
}

func TestMiddlewareDisabled(t *testing.T) {
	gin.SetMode(gin.TestMode)
	a, err := NewAuthenticator(&configs.Config{}, utils.NewLoggerWithWriter("error", nil))
	require.NoError(t, err)
	assert.False(t, a.Enabled())

	r := gin.New()
	r.Use(a.Middleware())
	r.GET("/state", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/state", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestEnabledWithoutCredentials(t *testing.T) {
	cfg := &configs.Config{}
	cfg.Server.Auth.Enabled = true
	_, err := NewAuthenticator(cfg, utils.NewLoggerWithWriter("error", nil))
	assert.Error(t, err)
}
