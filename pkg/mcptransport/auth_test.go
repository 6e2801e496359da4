package mcptransport

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAuthBearerSetsHeader(t *testing.T) {
	req, _ := http.NewRequest(http.MethodGet, "http://example/", nil)
	Auth{Mode: AuthBearer, Token: "tok"}.apply(req)
	assert.Equal(t, "Bearer tok", req.Header.Get("Authorization"))
}

func TestAuthBasicSetsHeader(t *testing.T) {
	req, _ := http.NewRequest(http.MethodGet, "http://example/", nil)
	Auth{Mode: AuthBasic, Username: "u", Password: "p"}.apply(req)
	user, pass, ok := req.BasicAuth()
	assert.True(t, ok)
	assert.Equal(t, "u", user)
	assert.Equal(t, "p", pass)
}

func TestAuthAPIKeyDefaultsHeaderName(t *testing.T) {
	req, _ := http.NewRequest(http.MethodGet, "http://example/", nil)
	Auth{Mode: AuthAPIKey, APIKey: "secret"}.apply(req)
	assert.Equal(t, "secret", req.Header.Get(DefaultAPIKeyHeader))
}

func TestAuthAPIKeyCustomHeaderName(t *testing.T) {
	req, _ := http.NewRequest(http.MethodGet, "http://example/", nil)
	Auth{Mode: AuthAPIKey, HeaderName: "X-Custom", APIKey: "secret"}.apply(req)
	assert.Equal(t, "secret", req.Header.Get("X-Custom"))
}

func TestAuthNoneSetsNoHeaders(t *testing.T) {
	req, _ := http.NewRequest(http.MethodGet, "http://example/", nil)
	Auth{Mode: AuthNone}.apply(req)
	assert.Empty(t, req.Header.Get("Authorization"))
}
