package directory

import (
	"context"
	"errors"
	"time"
)

// ErrUserNotFound is returned when a lookup matches no user. Absence is an
// expected outcome for callers, not an exceptional one.
var ErrUserNotFound = errors.New("user not found")

// ErrUserConflict is returned when a create violates a uniqueness
// constraint (subject or username). Callers treat it as "somebody else got
// there first" and re-fetch.
var ErrUserConflict = errors.New("user already exists")

// ErrNotAuthorized is returned when a write requires the system actor
// context and the caller did not provide it
var ErrNotAuthorized = errors.New("operation requires system context")

// UserState marks whether an account is usable
type UserState string

const (
	StateActive  UserState = "active"
	StateDeleted UserState = "deleted"
)

// LocalUser is a record in the local user directory
type LocalUser struct {
	ID           string
	Name         string
	Email        string
	FullName     string
	PasswordHash []byte
	SSOSubject   string // provider subject bridged into this account
	State        UserState
	Created      time.Time
}

// IsDeleted reports whether the account is soft-deleted
func (u *LocalUser) IsDeleted() bool {
	return u.State == StateDeleted
}

// NewUser carries the fields for account creation. Password is plaintext
// here and hashed by the directory before persisting.
type NewUser struct {
	Name       string
	Email      string
	FullName   string
	Password   string
	SSOSubject string
}

// Directory is the local user directory collaborator. Lookups return
// ErrUserNotFound for the expected absent case; CreateUser requires a
// context marked by WithSystemActor because provisioning runs before any
// end-user session exists.
type Directory interface {
	GetUserBySubject(ctx context.Context, subject string) (*LocalUser, error)
	GetUserByEmail(ctx context.Context, email string) (*LocalUser, error)
	GetUserByName(ctx context.Context, name string) (*LocalUser, error)
	CreateUser(ctx context.Context, user NewUser) (*LocalUser, error)
	Reactivate(ctx context.Context, id string) error
}

type contextKey string

const systemActorKey contextKey = "directory.system"

// WithSystemActor marks a context as acting with elevated directory
// privileges, the equivalent of a site-user context in the host
// application
func WithSystemActor(ctx context.Context) context.Context {
	return context.WithValue(ctx, systemActorKey, true)
}

// IsSystemActor reports whether the context carries the system marker
func IsSystemActor(ctx context.Context) bool {
	ok, _ := ctx.Value(systemActorKey).(bool)
	return ok
}
