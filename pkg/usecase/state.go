package usecase

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
)

const stateTTL = 10 * time.Minute

// IssueState returns an opaque OAuth state value and its HMAC signature.
// The state carries its own expiry so the verifier needs no storage.
func (uc *AuthUseCase) IssueState() (state, sig string) {
	state = uuid.NewString() + "." + strconv.FormatInt(time.Now().Add(stateTTL).Unix(), 10)
	return state, uc.signState(state)
}

func (uc *AuthUseCase) signState(state string) string {
	mac := hmac.New(sha256.New, uc.stateSecret)
	mac.Write([]byte(state))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyState checks the signature and expiry of a state value returned
// by the authorization server. Comparison is constant-time. Callers must
// map ErrInvalidSignature and ErrInvalidState to the same response.
func (uc *AuthUseCase) VerifyState(state, sig string) error {
	expected := uc.signState(state)
	if !hmac.Equal([]byte(expected), []byte(sig)) {
		return goerr.Wrap(ErrInvalidSignature, "state signature mismatch")
	}

	parts := strings.SplitN(state, ".", 2)
	if len(parts) != 2 {
		return goerr.Wrap(ErrInvalidState, "malformed state")
	}
	expiry, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return goerr.Wrap(ErrInvalidState, "malformed state expiry")
	}
	if time.Now().Unix() > expiry {
		return goerr.Wrap(ErrInvalidState, "state expired")
	}

	return nil
}
