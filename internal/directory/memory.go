package directory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/opendataworks/sso-front/internal/crypto"
	"github.com/opendataworks/sso-front/internal/emailutil"
	"github.com/opendataworks/sso-front/internal/log"
)

// Ensure MemoryDirectory implements the interface
var _ Directory = (*MemoryDirectory)(nil)

// MemoryDirectory is an in-process user directory. It enforces the same
// uniqueness constraints as the persistent backend (subject and username)
// so provisioning behaves identically in tests and single-node setups.
type MemoryDirectory struct {
	mu        sync.RWMutex
	users     map[string]*LocalUser // id -> user
	byName    map[string]string     // name -> id
	bySubject map[string]string     // sso subject -> id
	byEmail   map[string]string     // normalized email -> id, first writer wins
}

// NewMemoryDirectory creates an empty in-memory directory
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		users:     make(map[string]*LocalUser),
		byName:    make(map[string]string),
		bySubject: make(map[string]string),
		byEmail:   make(map[string]string),
	}
}

func (d *MemoryDirectory) GetUserBySubject(_ context.Context, subject string) (*LocalUser, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	id, ok := d.bySubject[subject]
	if !ok {
		return nil, ErrUserNotFound
	}
	return copyUser(d.users[id]), nil
}

func (d *MemoryDirectory) GetUserByEmail(_ context.Context, email string) (*LocalUser, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	id, ok := d.byEmail[emailutil.Normalize(email)]
	if !ok {
		return nil, ErrUserNotFound
	}
	return copyUser(d.users[id]), nil
}

func (d *MemoryDirectory) GetUserByName(_ context.Context, name string) (*LocalUser, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	id, ok := d.byName[name]
	if !ok {
		return nil, ErrUserNotFound
	}
	return copyUser(d.users[id]), nil
}

func (d *MemoryDirectory) CreateUser(ctx context.Context, user NewUser) (*LocalUser, error) {
	if !IsSystemActor(ctx) {
		return nil, ErrNotAuthorized
	}

	hash, err := crypto.HashPassword(user.Password)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	id, err := crypto.GenerateSecureToken()
	if err != nil {
		return nil, fmt.Errorf("generating user id: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, taken := d.byName[user.Name]; taken {
		return nil, fmt.Errorf("%w: name %s", ErrUserConflict, user.Name)
	}
	if user.SSOSubject != "" {
		if _, taken := d.bySubject[user.SSOSubject]; taken {
			return nil, fmt.Errorf("%w: subject %s", ErrUserConflict, user.SSOSubject)
		}
	}

	record := &LocalUser{
		ID:           id,
		Name:         user.Name,
		Email:        user.Email,
		FullName:     user.FullName,
		PasswordHash: hash,
		SSOSubject:   user.SSOSubject,
		State:        StateActive,
		Created:      time.Now(),
	}

	d.users[id] = record
	d.byName[user.Name] = id
	if user.SSOSubject != "" {
		d.bySubject[user.SSOSubject] = id
	}
	email := emailutil.Normalize(user.Email)
	if email != "" {
		if _, exists := d.byEmail[email]; !exists {
			d.byEmail[email] = id
		}
	}

	log.LogDebugWithFields("directory", "User created", map[string]any{
		"name":    user.Name,
		"subject": user.SSOSubject,
	})

	return copyUser(record), nil
}

// SoftDelete marks an account deleted without removing the record
func (d *MemoryDirectory) SoftDelete(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	user, ok := d.users[id]
	if !ok {
		return ErrUserNotFound
	}
	user.State = StateDeleted
	return nil
}

func (d *MemoryDirectory) Reactivate(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	user, ok := d.users[id]
	if !ok {
		return ErrUserNotFound
	}
	user.State = StateActive
	return nil
}

func copyUser(u *LocalUser) *LocalUser {
	if u == nil {
		return nil
	}
	out := *u
	return &out
}
