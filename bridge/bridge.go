// Package bridge is the client side of the session bridge: it exchanges a
// provider ID token for the server session cookie and tears it down again.
// It also resolves and registers backend users and drives phone
// verification over HTTP.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	auth "github.com/goliatone/go-portal-auth"
)

const (
	// DefaultLoginPath is the session creation endpoint.
	DefaultLoginPath = "/api/sessionLogin"
	// DefaultLogoutPath is the session destruction endpoint.
	DefaultLogoutPath = "/api/sessionLogout"
)

// HTTPBridge implements auth.SessionBridge against the session endpoints
// and auth.UserResolver against the user endpoints.
type HTTPBridge struct {
	baseURL      string
	loginPath    string
	logoutPath   string
	lookupPath   string
	registerPath string
	client       *http.Client
	logger       auth.Logger
}

// Option configures an HTTPBridge.
type Option func(*HTTPBridge)

// WithHTTPClient overrides the HTTP client. The client should keep a cookie
// jar so the session cookie is sent back on logout.
func WithHTTPClient(client *http.Client) Option {
	return func(b *HTTPBridge) {
		if client != nil {
			b.client = client
		}
	}
}

// WithPaths overrides DefaultLoginPath and DefaultLogoutPath.
func WithPaths(login, logout string) Option {
	return func(b *HTTPBridge) {
		if login != "" {
			b.loginPath = login
		}
		if logout != "" {
			b.logoutPath = logout
		}
	}
}

// WithUserPaths overrides DefaultLookupPath and DefaultRegisterPath.
func WithUserPaths(lookup, register string) Option {
	return func(b *HTTPBridge) {
		if lookup != "" {
			b.lookupPath = lookup
		}
		if register != "" {
			b.registerPath = register
		}
	}
}

// WithLogger overrides the logger.
func WithLogger(logger auth.Logger) Option {
	return func(b *HTTPBridge) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// New returns a bridge talking to baseURL.
func New(baseURL string, opts ...Option) *HTTPBridge {
	jar, _ := cookiejar.New(nil)
	b := &HTTPBridge{
		baseURL:      strings.TrimRight(baseURL, "/"),
		loginPath:    DefaultLoginPath,
		logoutPath:   DefaultLogoutPath,
		lookupPath:   DefaultLookupPath,
		registerPath: DefaultRegisterPath,
		client:       &http.Client{Timeout: 10 * time.Second, Jar: jar},
		logger:       auth.DefaultLogger("auth:bridge"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// CreateSession posts idToken to the login endpoint. A non 2xx answer is a
// SessionCreateFailed error carrying the status code.
func (b *HTTPBridge) CreateSession(ctx context.Context, idToken string) error {
	body, err := json.Marshal(map[string]string{"idToken": idToken})
	if err != nil {
		return auth.WrapError(auth.ErrUnknown, err, nil)
	}

	resp, err := b.post(ctx, b.loginPath, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		meta := map[string]any{"http_status": resp.StatusCode}
		if code := errorCode(resp.Body); code != "" {
			meta["server_code"] = code
		}
		return auth.ErrSessionCreateFailed.Clone().WithMetadata(meta)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// DestroySession asks the server to clear the session cookies. Failures are
// returned unlogged; callers treat them as best effort.
func (b *HTTPBridge) DestroySession(ctx context.Context) error {
	resp, err := b.post(ctx, b.logoutPath, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return auth.ErrNetwork.Clone().WithMetadata(map[string]any{"http_status": resp.StatusCode})
	}
	return nil
}

func (b *HTTPBridge) post(ctx context.Context, path string, body []byte) (*http.Response, error) {
	endpoint := b.baseURL + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, auth.WrapError(auth.ErrUnknown, err, map[string]any{"url": endpoint})
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, auth.WrapError(auth.ErrNetwork, err, map[string]any{"url": endpoint})
	}
	return resp, nil
}

func errorCode(r io.Reader) string {
	var payload auth.ErrorResponse
	if err := json.NewDecoder(io.LimitReader(r, 64<<10)).Decode(&payload); err != nil {
		return ""
	}
	return payload.Error.Code
}
