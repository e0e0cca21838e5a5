package http

import (
	"net/http"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/iris/pkg/domain/types"
	"github.com/secmon-lab/iris/pkg/usecase"
	"github.com/secmon-lab/iris/pkg/utils/errutil"
)

const (
	stateCookieName    = "oauth_state"
	stateSigCookieName = "oauth_state_sig"
	userCookieName     = "user_id"
)

func setCookie(w http.ResponseWriter, r *http.Request, name, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   maxAge,
	})
}

// authLoginHandler starts the authorization code flow
func authLoginHandler(authUC *usecase.AuthUseCase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state, sig := authUC.IssueState()

		// The signature travels in its own cookie so the callback can
		// verify without server-side state
		setCookie(w, r, stateCookieName, state, 600)
		setCookie(w, r, stateSigCookieName, sig, 600)

		http.Redirect(w, r, authUC.AuthURL(state), http.StatusTemporaryRedirect)
	}
}

// authCallbackHandler completes the flow. Every verification failure maps
// to the same generic 401 so the response does not reveal which check
// tripped.
func authCallbackHandler(authUC *usecase.AuthUseCase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		fail := func(err error) {
			errutil.HandleHTTP(ctx, w, err, http.StatusUnauthorized)
		}

		stateCookie, err := r.Cookie(stateCookieName)
		if err != nil {
			fail(goerr.Wrap(err, "missing state cookie"))
			return
		}
		sigCookie, err := r.Cookie(stateSigCookieName)
		if err != nil {
			fail(goerr.Wrap(err, "missing state signature cookie"))
			return
		}

		state := r.URL.Query().Get("state")
		if state == "" || state != stateCookie.Value {
			fail(goerr.New("state parameter mismatch"))
			return
		}
		if err := authUC.VerifyState(state, sigCookie.Value); err != nil {
			fail(err)
			return
		}

		// Clear state cookies
		setCookie(w, r, stateCookieName, "", -1)
		setCookie(w, r, stateSigCookieName, "", -1)

		code := r.URL.Query().Get("code")
		if code == "" {
			fail(goerr.New("missing authorization code"))
			return
		}

		session, err := authUC.HandleCallback(ctx, code)
		if err != nil {
			fail(err)
			return
		}

		setCookie(w, r, userCookieName, session.UserID.String(), 0)

		http.Redirect(w, r, "/", http.StatusFound)
	}
}

// authLogoutHandler deletes the caller's session
func authLogoutHandler(authUC *usecase.AuthUseCase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		userCookie, err := r.Cookie(userCookieName)
		if err != nil {
			errutil.HandleHTTP(ctx, w, goerr.Wrap(err, "no active session"), http.StatusUnauthorized)
			return
		}

		if err := authUC.Logout(ctx, types.UserID(userCookie.Value)); err != nil {
			errutil.HandleHTTP(ctx, w, err, http.StatusInternalServerError)
			return
		}

		setCookie(w, r, userCookieName, "", -1)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":true}`)) //nolint:errcheck
	}
}
