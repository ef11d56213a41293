package server

import (
	"net/http"

	jsonwriter "github.com/opendataworks/sso-front/internal/json"
)

// UserHandler serves the identity bound to the current session. It sits
// behind the auth middleware, so the identity (when present) has already
// been verified against the directory.
type UserHandler struct{}

// NewUserHandler creates a new user handler
func NewUserHandler() *UserHandler {
	return &UserHandler{}
}

type userResponse struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	FullName string `json:"full_name,omitempty"`
}

// ServeHTTP implements http.Handler
func (h *UserHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonwriter.WriteMethodNotAllowed(w, "Method not allowed")
		return
	}

	user, ok := UserFromContext(r.Context())
	if !ok {
		jsonwriter.WriteUnauthorized(w, "Not authenticated")
		return
	}

	_ = jsonwriter.Write(w, userResponse{
		Name:     user.Name,
		Email:    user.Email,
		FullName: user.FullName,
	})
}
