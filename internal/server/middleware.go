package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/opendataworks/sso-front/internal/authflow"
	"github.com/opendataworks/sso-front/internal/cookie"
	"github.com/opendataworks/sso-front/internal/crypto"
	"github.com/opendataworks/sso-front/internal/directory"
	jsonwriter "github.com/opendataworks/sso-front/internal/json"
	"github.com/opendataworks/sso-front/internal/log"
	"github.com/opendataworks/sso-front/internal/session"
)

// MiddlewareFunc is a function that wraps an http.Handler
type MiddlewareFunc func(http.Handler) http.Handler

// ChainMiddleware chains multiple middleware functions
func ChainMiddleware(h http.Handler, middlewares ...MiddlewareFunc) http.Handler {
	for _, mw := range middlewares {
		h = mw(h)
	}
	return h
}

// responseWriterDelegator wraps http.ResponseWriter to capture status and bytes written
// while properly delegating all optional interfaces through Unwrap
type responseWriterDelegator struct {
	http.ResponseWriter
	status      int
	written     int
	wroteHeader bool
}

func wrapResponseWriter(w http.ResponseWriter) *responseWriterDelegator {
	return &responseWriterDelegator{
		ResponseWriter: w,
		status:         http.StatusOK,
	}
}

func (r *responseWriterDelegator) Status() int {
	return r.status
}

func (r *responseWriterDelegator) BytesWritten() int {
	return r.written
}

func (r *responseWriterDelegator) WriteHeader(code int) {
	if r.wroteHeader {
		return
	}
	r.status = code
	r.wroteHeader = true
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseWriterDelegator) Write(b []byte) (int, error) {
	if !r.wroteHeader {
		r.WriteHeader(http.StatusOK)
	}
	n, err := r.ResponseWriter.Write(b)
	r.written += n
	return n, err
}

// Unwrap returns the underlying ResponseWriter for interface detection
func (r *responseWriterDelegator) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Flush implements http.Flusher
func (r *responseWriterDelegator) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Verify interfaces
var _ http.ResponseWriter = (*responseWriterDelegator)(nil)
var _ http.Flusher = (*responseWriterDelegator)(nil)

// NewLoggerMiddleware adds request/response logging
func NewLoggerMiddleware(prefix string) MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := wrapResponseWriter(w)

			next.ServeHTTP(wrapped, r)

			fields := map[string]any{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      wrapped.Status(),
				"duration_ms": time.Since(start).Milliseconds(),
				"bytes":       wrapped.BytesWritten(),
				"remote_addr": r.RemoteAddr,
			}

			log.LogInfoWithFields(prefix, "request", fields)
		})
	}
}

// NewRecoverMiddleware recovers from panics
func NewRecoverMiddleware(prefix string) MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					log.Logf("<%s> Recovered from panic: %v", prefix, err)
					jsonwriter.WriteInternalServerError(w, "Internal Server Error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// loginPath and logoutPath are the host endpoints the flow intercepts
const (
	loginPath  = "/user/login"
	logoutPath = "/user/logout"
)

// authMiddleware drives the authentication flow on every request and
// applies the flow's decision to the response
type authMiddleware struct {
	flow       authflow.Authenticator
	dir        directory.Directory
	signer     crypto.TokenSigner
	sessionTTL time.Duration
}

// NewAuthMiddleware creates the middleware that recognises the login,
// logout, and callback requests, runs the flow, and applies the outcome:
// token cookies, the signed auth ticket, the redirect, and the
// request-context identity.
func NewAuthMiddleware(flow authflow.Authenticator, dir directory.Directory, signer crypto.TokenSigner, sessionTTL time.Duration) MiddlewareFunc {
	m := &authMiddleware{
		flow:       flow,
		dir:        dir,
		signer:     signer,
		sessionTTL: sessionTTL,
	}
	return m.wrap
}

func (m *authMiddleware) wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		user := m.resolveIdentity(w, r)
		req := authflow.Request{
			Endpoint: classifyEndpoint(r.URL.Path),
			Code:     r.URL.Query().Get("code"),
			Tokens:   cookie.ReadTokens(r),
			User:     user,
		}

		// The login view gets a pre-check: token cookies from a completed
		// flow short-circuit straight into the local session instead of
		// bouncing to the provider again.
		if req.Endpoint == authflow.EndpointLogin {
			if d := m.flow.Login(ctx, req); d.EstablishSession {
				if m.apply(w, r, d) {
					return
				}
				next.ServeHTTP(w, r.WithContext(withIdentity(ctx, d.Identity, user)))
				return
			}
		}

		d := m.flow.Identify(ctx, req)
		if m.apply(w, r, d) {
			return
		}

		next.ServeHTTP(w, r.WithContext(withIdentity(ctx, d.Identity, user)))
	})
}

func classifyEndpoint(path string) authflow.Endpoint {
	switch strings.TrimSuffix(path, "/") {
	case loginPath:
		return authflow.EndpointLogin
	case logoutPath:
		return authflow.EndpointLogout
	default:
		return authflow.EndpointOther
	}
}

// resolveIdentity verifies the auth ticket cookie and loads the bound
// directory user. A bad or stale ticket is cleared and treated as
// anonymous, never as an error.
func (m *authMiddleware) resolveIdentity(w http.ResponseWriter, r *http.Request) *directory.LocalUser {
	value := cookie.Get(r, cookie.AuthTicketCookie)
	if value == "" {
		return nil
	}

	var ticket session.Ticket
	if err := m.signer.Verify(value, &ticket); err != nil {
		log.LogDebug("Invalid auth ticket: %v", err)
		cookie.Clear(w, cookie.AuthTicketCookie)
		return nil
	}

	user, err := m.dir.GetUserByName(r.Context(), ticket.Name)
	if err != nil {
		log.LogDebugWithFields("server", "Auth ticket names an unknown user", map[string]any{
			"name": ticket.Name,
		})
		cookie.Clear(w, cookie.AuthTicketCookie)
		return nil
	}
	if user.IsDeleted() {
		return nil
	}
	return user
}

// apply carries out a flow decision on the response. Returns true when the
// decision answered the request.
func (m *authMiddleware) apply(w http.ResponseWriter, r *http.Request, d authflow.Decision) bool {
	if d.ClearTokens {
		cookie.ClearTokens(w)
	}
	if d.ClearSession {
		cookie.ClearSession(w)
	}
	if d.Tokens.HasAny() {
		cookie.WriteTokens(w, d.Tokens, m.sessionTTL)
	}
	if d.EstablishSession {
		m.establishSession(w, d.Identity)
	}

	if d.Kind == authflow.DecisionRedirect {
		http.Redirect(w, r, d.RedirectURL, http.StatusFound)
		return true
	}
	return false
}

// establishSession mints the signed auth ticket. Without a verified
// identity there is nothing to bind the ticket to, so none is written.
func (m *authMiddleware) establishSession(w http.ResponseWriter, user *directory.LocalUser) {
	if user == nil {
		log.LogDebugWithFields("server", "Session establish without identity, no ticket minted", nil)
		return
	}

	token, err := m.signer.Sign(session.Ticket{Name: user.Name, IssuedAt: time.Now()})
	if err != nil {
		log.LogErrorWithFields("server", "Failed to sign auth ticket", map[string]any{
			"name":  user.Name,
			"error": err.Error(),
		})
		return
	}
	cookie.SetTicket(w, token, m.sessionTTL)
}

func withIdentity(ctx context.Context, decided, resolved *directory.LocalUser) context.Context {
	if decided != nil {
		return WithUser(ctx, decided)
	}
	if resolved != nil {
		return WithUser(ctx, resolved)
	}
	return ctx
}
