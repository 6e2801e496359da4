package mcptransport

import "net/http"

// AuthMode enumerates the HTTP+SSE authentication modes (spec.md §4.I
// "Authentication modes: none, bearer, basic, api-key").
type AuthMode string

const (
	AuthNone   AuthMode = "none"
	AuthBearer AuthMode = "bearer"
	AuthBasic  AuthMode = "basic"
	AuthAPIKey AuthMode = "api_key"
)

// DefaultAPIKeyHeader is used when Auth.HeaderName is empty.
const DefaultAPIKeyHeader = "X-API-Key"

// Auth carries whichever credential fields the selected Mode needs; the
// others are ignored.
type Auth struct {
	Mode       AuthMode
	Token      string // bearer
	Username   string // basic
	Password   string // basic
	HeaderName string // api_key, defaults to DefaultAPIKeyHeader
	APIKey     string // api_key
}

// apply sets the request's auth header(s) for a.Mode. It is a few lines
// of header-setting, not a dependency — the teacher's mTLS CA machinery
// has no caller once gRPC is gone (see DESIGN.md), so this stays stdlib.
func (a Auth) apply(req *http.Request) {
	switch a.Mode {
	case AuthBearer:
		req.Header.Set("Authorization", "Bearer "+a.Token)
	case AuthBasic:
		req.SetBasicAuth(a.Username, a.Password)
	case AuthAPIKey:
		name := a.HeaderName
		if name == "" {
			name = DefaultAPIKeyHeader
		}
		req.Header.Set(name, a.APIKey)
	case AuthNone, "":
	}
}
