package session

import "time"

// TokenSet carries the three provider tokens. Any subset may be absent;
// the server never stores them beyond the current request, the browser
// cookies are the only durable copy.
type TokenSet struct {
	AccessToken  string `json:"access_token"`
	IDToken      string `json:"id_token"`
	RefreshToken string `json:"refresh_token"`
}

// HasAny reports whether at least one token is present. Presence of any
// token cookie is the signal that a login flow already completed.
func (t TokenSet) HasAny() bool {
	return t.AccessToken != "" || t.IDToken != "" || t.RefreshToken != ""
}

// Ticket is the payload of the signed local auth ticket cookie that binds
// a directory username to the browser session
type Ticket struct {
	Name     string    `json:"name"`
	IssuedAt time.Time `json:"issued_at"`
}
