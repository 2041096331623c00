package bridge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	auth "github.com/goliatone/go-portal-auth"
	"github.com/goliatone/go-portal-auth/phone"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type phoneServer struct {
	mu           sync.Mutex
	sends        int
	confirms     int
	linkFailures int
	rateLimited  bool
}

func (s *phoneServer) counts() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sends, s.confirms
}

func newPhoneServer(t *testing.T, state *phoneServer) *httptest.Server {
	t.Helper()

	writeError := func(w http.ResponseWriter, status int, body auth.ErrorBody) {
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(auth.ErrorResponse{Error: body})
	}

	mux := http.NewServeMux()
	mux.HandleFunc(DefaultPhoneSendPath, func(w http.ResponseWriter, r *http.Request) {
		state.mu.Lock()
		defer state.mu.Unlock()
		state.sends++
		if state.rateLimited {
			writeError(w, http.StatusTooManyRequests, auth.ErrorBody{Code: string(auth.KindRateLimited), RetryAfter: 30})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":         "challenge_sent",
			"verificationId": "vid-1",
			"expiresAt":      time.Now().Add(5 * time.Minute),
		})
	})
	mux.HandleFunc(DefaultPhoneConfirmPath, func(w http.ResponseWriter, r *http.Request) {
		var req phone.ConfirmRequest
		_ = json.NewDecoder(r.Body).Decode(&req)

		state.mu.Lock()
		defer state.mu.Unlock()
		state.confirms++
		if req.Code != "123456" {
			writeError(w, http.StatusBadRequest, auth.ErrorBody{Code: string(auth.KindInvalidCode)})
			return
		}
		if state.linkFailures > 0 {
			state.linkFailures--
			writeError(w, http.StatusConflict, auth.ErrorBody{Code: string(auth.KindLinkIncomplete)})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "verified", "phoneUid": "phone-uid-1"})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

type signedInIdentity struct{}

func (signedInIdentity) CurrentIdentity() *auth.RawIdentity {
	return &auth.RawIdentity{UID: "U1"}
}

func newPhoneVerifier(client *PhoneClient) *phone.Verifier {
	return phone.NewVerifier(client, client, signedInIdentity{}, phone.WithLogger(auth.NopLogger()))
}

func TestPhoneClientVerifiesAndLinks(t *testing.T) {
	state := &phoneServer{}
	srv := newPhoneServer(t, state)
	verifier := newPhoneVerifier(New(srv.URL, WithLogger(auth.NopLogger())).Phone())
	ctx := context.Background()

	sent, err := verifier.SubmitPhone(ctx, "+819012345678")
	require.NoError(t, err)
	assert.Equal(t, phone.StatusChallengeSent, sent.Status)
	assert.Equal(t, "vid-1", sent.VerificationID)

	verified, err := verifier.SubmitCode(ctx, "123456")
	require.NoError(t, err)
	assert.True(t, verified.IsVerified)
	assert.Equal(t, "phone-uid-1", verified.PhoneUID)

	sends, confirms := state.counts()
	assert.Equal(t, 1, sends)
	assert.Equal(t, 1, confirms)
}

func TestPhoneClientRetriesLinkWithoutResending(t *testing.T) {
	state := &phoneServer{linkFailures: 2}
	srv := newPhoneServer(t, state)
	verifier := newPhoneVerifier(New(srv.URL, WithLogger(auth.NopLogger())).Phone())
	ctx := context.Background()

	_, err := verifier.SubmitPhone(ctx, "+819012345678")
	require.NoError(t, err)

	failed, err := verifier.SubmitCode(ctx, "123456")
	require.Error(t, err)
	assert.Equal(t, auth.KindLinkIncomplete, auth.ErrorKind(err))
	assert.Equal(t, phone.StatusFailed, failed.Status)

	verified, err := verifier.RetryLink(ctx)
	require.NoError(t, err)
	assert.True(t, verified.IsVerified)

	sends, confirms := state.counts()
	assert.Equal(t, 1, sends)
	assert.Equal(t, 3, confirms)
}

func TestPhoneClientMapsServerErrors(t *testing.T) {
	state := &phoneServer{rateLimited: true}
	srv := newPhoneServer(t, state)
	client := New(srv.URL, WithLogger(auth.NopLogger())).Phone()
	ctx := context.Background()

	_, err := client.SendChallenge(ctx, "+819012345678")
	require.Error(t, err)
	assert.Equal(t, auth.KindRateLimited, auth.ErrorKind(err))
	assert.Equal(t, 30*time.Second, phone.RetryAfter(err))

	_, err = client.ConfirmCode(ctx, "vid-1", "000000")
	assert.Equal(t, auth.KindInvalidCode, auth.ErrorKind(err))

	err = client.LinkPhone(ctx, auth.RawIdentity{UID: "U1"}, auth.PhoneCredential{VerificationID: "unknown"})
	assert.Equal(t, auth.KindLinkIncomplete, auth.ErrorKind(err))
}
