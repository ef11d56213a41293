package cookie

import (
	"net/http"
	"time"

	"github.com/opendataworks/sso-front/internal/envutil"
	"github.com/opendataworks/sso-front/internal/log"
	"github.com/opendataworks/sso-front/internal/session"
)

// Cookie names are part of the contract with the host application and
// must not change.
const (
	AccessTokenCookie  = "access_token"
	IDTokenCookie      = "id_token"
	RefreshTokenCookie = "refresh_token"

	AuthTicketCookie = "auth_tkt"
	SessionCookie    = "sso_front_session"
)

// ReadTokens extracts the three token cookies from a request.
// Each cookie is optional; absence is not an error.
func ReadTokens(r *http.Request) session.TokenSet {
	return session.TokenSet{
		AccessToken:  Get(r, AccessTokenCookie),
		IDToken:      Get(r, IDTokenCookie),
		RefreshToken: Get(r, RefreshTokenCookie),
	}
}

// WriteTokens sets the three token cookies on a response. Empty tokens
// are skipped rather than written as empty cookies.
func WriteTokens(w http.ResponseWriter, tokens session.TokenSet, maxAge time.Duration) {
	secure := !envutil.IsDev()
	set := func(name, value string) {
		if value == "" {
			return
		}
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    value,
			Path:     "/",
			HttpOnly: true,
			Secure:   secure,
			SameSite: http.SameSiteLaxMode,
			MaxAge:   int(maxAge.Seconds()),
		})
	}

	set(AccessTokenCookie, tokens.AccessToken)
	set(IDTokenCookie, tokens.IDToken)
	set(RefreshTokenCookie, tokens.RefreshToken)

	log.LogTraceWithFields("cookie", "Token cookies set", map[string]any{
		"maxAge": maxAge.String(),
		"secure": secure,
	})
}

// SetTicket sets the signed local auth ticket cookie
func SetTicket(w http.ResponseWriter, value string, maxAge time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     AuthTicketCookie,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   !envutil.IsDev(),
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(maxAge.Seconds()),
	})
}

// Clear removes a cookie by setting MaxAge to -1
func Clear(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:   name,
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})
}

// ClearTokens removes the three token cookies
func ClearTokens(w http.ResponseWriter) {
	Clear(w, AccessTokenCookie)
	Clear(w, IDTokenCookie)
	Clear(w, RefreshTokenCookie)
	log.LogTraceWithFields("cookie", "Token cookies cleared", nil)
}

// ClearSession removes the two web-session cookies (auth ticket plus the
// host framework session)
func ClearSession(w http.ResponseWriter) {
	Clear(w, AuthTicketCookie)
	Clear(w, SessionCookie)
	log.LogTraceWithFields("cookie", "Session cookies cleared", nil)
}

// Get retrieves a cookie value from the request, empty if absent
func Get(r *http.Request, name string) string {
	cookie, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return cookie.Value
}
