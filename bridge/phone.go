package bridge

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	auth "github.com/goliatone/go-portal-auth"
	"github.com/goliatone/go-portal-auth/phone"
)

const (
	// DefaultPhoneSendPath issues a phone challenge.
	DefaultPhoneSendPath = "/api/phone/send"
	// DefaultPhoneConfirmPath confirms a code and links the phone.
	DefaultPhoneConfirmPath = "/api/phone/confirm"
)

var remoteErrors = map[auth.Kind]*goerrors.Error{
	auth.KindInvalidPhoneFormat: auth.ErrInvalidPhoneFormat,
	auth.KindRateLimited:        auth.ErrRateLimited,
	auth.KindChallengeExpired:   auth.ErrChallengeExpired,
	auth.KindLinkIncomplete:     auth.ErrLinkIncomplete,
	auth.KindInvalidCode:        auth.ErrInvalidCode,
	auth.KindVerificationBusy:   auth.ErrVerificationInProgress,
	auth.KindInvalidSession:     auth.ErrInvalidSession,
}

// PhoneOption configures a PhoneClient.
type PhoneOption func(*PhoneClient)

// WithPhonePaths overrides DefaultPhoneSendPath and DefaultPhoneConfirmPath.
func WithPhonePaths(send, confirm string) PhoneOption {
	return func(c *PhoneClient) {
		if send != "" {
			c.sendPath = send
		}
		if confirm != "" {
			c.confirmPath = confirm
		}
	}
}

// PhoneClient implements phone.Provider and phone.Linker over the phone
// endpoints. The server links the phone while confirming the code, so a
// link that failed there is retried by posting the confirmed code again.
type PhoneClient struct {
	bridge      *HTTPBridge
	sendPath    string
	confirmPath string

	mu      sync.Mutex
	pending map[string]pendingLink
}

type pendingLink struct {
	code   string
	linked bool
}

var (
	_ phone.Provider = (*PhoneClient)(nil)
	_ phone.Linker   = (*PhoneClient)(nil)
)

// Phone returns a PhoneClient sharing the bridge's HTTP client, so the
// session cookie identifies the user.
func (b *HTTPBridge) Phone(opts ...PhoneOption) *PhoneClient {
	c := &PhoneClient{
		bridge:      b,
		sendPath:    DefaultPhoneSendPath,
		confirmPath: DefaultPhoneConfirmPath,
		pending:     map[string]pendingLink{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

type sendResponse struct {
	VerificationID string    `json:"verificationId"`
	ExpiresAt      time.Time `json:"expiresAt"`
}

type confirmResponse struct {
	Status   string `json:"status"`
	PhoneUID string `json:"phoneUid"`
}

// SendChallenge implements phone.Provider.
func (c *PhoneClient) SendChallenge(ctx context.Context, e164 string) (phone.Challenge, error) {
	var res sendResponse
	if err := c.call(ctx, c.sendPath, phone.SendRequest{PhoneNumber: e164}, &res); err != nil {
		return phone.Challenge{}, err
	}
	return phone.Challenge{VerificationID: res.VerificationID, ExpiresAt: res.ExpiresAt}, nil
}

// ConfirmCode implements phone.Provider. A LinkIncomplete answer means the
// code was accepted, so the credential is returned and LinkPhone retries.
func (c *PhoneClient) ConfirmCode(ctx context.Context, verificationID, code string) (auth.PhoneCredential, error) {
	cred := auth.PhoneCredential{VerificationID: verificationID}

	var res confirmResponse
	err := c.call(ctx, c.confirmPath, phone.ConfirmRequest{VerificationID: verificationID, Code: code}, &res)
	switch {
	case err == nil:
		cred.PhoneUID = res.PhoneUID
		c.remember(verificationID, pendingLink{code: code, linked: true})
		return cred, nil
	case auth.IsKind(err, auth.KindLinkIncomplete):
		c.bridge.logger.Debug("phone confirmed, link pending", "verification_id", verificationID)
		c.remember(verificationID, pendingLink{code: code})
		return cred, nil
	default:
		return auth.PhoneCredential{}, err
	}
}

// LinkPhone implements phone.Linker. The server links to the identity of
// the session cookie; identity is not sent.
func (c *PhoneClient) LinkPhone(ctx context.Context, _ auth.RawIdentity, cred auth.PhoneCredential) error {
	c.mu.Lock()
	link, ok := c.pending[cred.VerificationID]
	c.mu.Unlock()
	if !ok {
		return auth.ErrLinkIncomplete.Clone().WithMetadata(map[string]any{
			"reason":          "verification not confirmed",
			"verification_id": cred.VerificationID,
		})
	}

	if !link.linked {
		var res confirmResponse
		req := phone.ConfirmRequest{VerificationID: cred.VerificationID, Code: link.code}
		if err := c.call(ctx, c.confirmPath, req, &res); err != nil {
			return err
		}
	}

	c.mu.Lock()
	delete(c.pending, cred.VerificationID)
	c.mu.Unlock()
	return nil
}

func (c *PhoneClient) remember(verificationID string, link pendingLink) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending[verificationID] = link
}

func (c *PhoneClient) call(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return auth.WrapError(auth.ErrUnknown, err, nil)
	}

	resp, err := c.bridge.post(ctx, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return remoteError(resp.StatusCode, resp.Body)
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(out); err != nil {
		return auth.WrapError(auth.ErrNetwork, err, map[string]any{"reason": "malformed response"})
	}
	return nil
}

func remoteError(status int, r io.Reader) error {
	var payload auth.ErrorResponse
	_ = json.NewDecoder(io.LimitReader(r, 64<<10)).Decode(&payload)

	meta := map[string]any{"http_status": status}
	if payload.Error.Code != "" {
		meta["server_code"] = payload.Error.Code
	}
	if payload.Error.RetryAfter > 0 {
		meta[auth.MetaRetryAfterSeconds] = payload.Error.RetryAfter
	}

	base, ok := remoteErrors[auth.Kind(payload.Error.Code)]
	if !ok {
		base = auth.ErrNetwork
	}
	return base.Clone().WithMetadata(meta)
}
