package provision

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/opendataworks/sso-front/internal/crypto"
	"github.com/opendataworks/sso-front/internal/directory"
	"github.com/opendataworks/sso-front/internal/emailutil"
	"github.com/opendataworks/sso-front/internal/idp"
	"github.com/opendataworks/sso-front/internal/log"
	"golang.org/x/sync/singleflight"
)

// maxNameAttempts bounds the random-suffix retries when a cleaned
// username is already taken
const maxNameAttempts = 10

var nonWord = regexp.MustCompile(`[^\w]`)

// Provisioner bridges provider identities into the local user directory
type Provisioner struct {
	dir directory.Directory

	// Collapses concurrent first-logins of the same identity within this
	// process. The directory's uniqueness constraint remains the guard
	// across processes.
	group singleflight.Group
}

// New creates a provisioner over a directory
func New(dir directory.Directory) *Provisioner {
	return &Provisioner{dir: dir}
}

// GetOrCreate returns the local user for a provider identity, creating it
// on first login. The lookup key is the custom:userid claim when present,
// the sub claim otherwise. A uniqueness conflict from the directory means
// a concurrent login won the race; the existing record is re-fetched and
// returned instead of surfacing an error.
func (p *Provisioner) GetOrCreate(ctx context.Context, info idp.UserInfo) (*directory.LocalUser, error) {
	key := info.LookupKey()
	if key == "" {
		return nil, fmt.Errorf("user info has no subject")
	}

	v, err, _ := p.group.Do("subject:"+key, func() (any, error) {
		return p.getOrCreate(ctx, key, info)
	})
	if err != nil {
		return nil, err
	}
	return v.(*directory.LocalUser), nil
}

func (p *Provisioner) getOrCreate(ctx context.Context, key string, info idp.UserInfo) (*directory.LocalUser, error) {
	user, err := p.dir.GetUserBySubject(ctx, key)
	if err == nil {
		log.LogDebugWithFields("provision", "User found", map[string]any{"name": user.Name})
		return user, nil
	}
	if !errors.Is(err, directory.ErrUserNotFound) {
		return nil, err
	}

	log.LogDebugWithFields("provision", "User not found, attempting to create it", map[string]any{
		"subject": key,
	})

	password, err := crypto.GeneratePassword()
	if err != nil {
		return nil, err
	}

	created, err := p.dir.CreateUser(directory.WithSystemActor(ctx), directory.NewUser{
		Name:       emailutil.LocalPart(info.Username),
		Email:      info.Email,
		FullName:   info.Name,
		Password:   password,
		SSOSubject: info.Sub,
	})
	if errors.Is(err, directory.ErrUserConflict) {
		// A concurrent login created the record between lookup and
		// create. The directory constraint is the real guard; re-fetch
		// and carry on.
		log.LogDebugWithFields("provision", "Create conflicted, re-fetching", map[string]any{
			"subject": key,
		})
		if user, ferr := p.dir.GetUserBySubject(ctx, info.Sub); ferr == nil {
			return user, nil
		}
		if user, ferr := p.dir.GetUserByName(ctx, emailutil.LocalPart(info.Username)); ferr == nil {
			return user, nil
		}
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	return created, nil
}

// ProcessUser is the email-keyed variant for providers that authenticate
// by email rather than a stable subject. A soft-deleted account matched by
// email is reactivated rather than duplicated.
func (p *Provisioner) ProcessUser(ctx context.Context, info idp.UserInfo) (*directory.LocalUser, error) {
	email := emailutil.Normalize(info.Email)
	if email == "" {
		return nil, fmt.Errorf("user info has no email")
	}

	v, err, _ := p.group.Do("email:"+email, func() (any, error) {
		return p.processUser(ctx, email, info)
	})
	if err != nil {
		return nil, err
	}
	return v.(*directory.LocalUser), nil
}

func (p *Provisioner) processUser(ctx context.Context, email string, info idp.UserInfo) (*directory.LocalUser, error) {
	user, err := p.dir.GetUserByEmail(ctx, email)
	if err == nil {
		return p.activateIfDeleted(ctx, user)
	}
	if !errors.Is(err, directory.ErrUserNotFound) {
		return nil, err
	}

	given := info.Name
	if given == "" {
		given = emailutil.LocalPart(info.Username)
	}
	name, err := p.EnsureUniqueUsername(ctx, given)
	if err != nil {
		return nil, err
	}

	password, err := crypto.GeneratePassword()
	if err != nil {
		return nil, err
	}

	created, err := p.dir.CreateUser(directory.WithSystemActor(ctx), directory.NewUser{
		Name:       name,
		Email:      email,
		FullName:   info.Name,
		Password:   password,
		SSOSubject: info.Sub,
	})
	if errors.Is(err, directory.ErrUserConflict) {
		if user, ferr := p.dir.GetUserByEmail(ctx, email); ferr == nil {
			return p.activateIfDeleted(ctx, user)
		}
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	return created, nil
}

// activateIfDeleted clears the soft-delete flag before returning the user
func (p *Provisioner) activateIfDeleted(ctx context.Context, user *directory.LocalUser) (*directory.LocalUser, error) {
	if !user.IsDeleted() {
		return user, nil
	}
	if err := p.dir.Reactivate(ctx, user.ID); err != nil {
		return nil, fmt.Errorf("reactivating user %s: %w", user.Name, err)
	}
	log.LogInfoWithFields("provision", "User reactivated", map[string]any{"name": user.Name})
	user.State = directory.StateActive
	return user, nil
}

// EnsureUniqueUsername derives a directory username from a display name:
// lower-cased, with non-word characters replaced by dashes. If the
// candidate is taken it retries up to maxNameAttempts with a random
// numeric suffix. When every attempt collides it falls back to the
// original colliding candidate; the directory create will then report the
// conflict.
func (p *Provisioner) EnsureUniqueUsername(ctx context.Context, given string) (string, error) {
	cleaned := strings.ToLower(nonWord.ReplaceAllString(given, "-"))

	if _, err := p.dir.GetUserByName(ctx, cleaned); errors.Is(err, directory.ErrUserNotFound) {
		return cleaned, nil
	} else if err != nil {
		return "", err
	}

	for i := 0; i < maxNameAttempts; i++ {
		suffix, err := crypto.RandomSuffix()
		if err != nil {
			return "", err
		}
		name := fmt.Sprintf("%s-%d", cleaned, suffix)
		if _, err := p.dir.GetUserByName(ctx, name); errors.Is(err, directory.ErrUserNotFound) {
			return name, nil
		} else if err != nil {
			return "", err
		}
	}

	log.LogWarnWithFields("provision", "Username attempts exhausted, falling back to base candidate", map[string]any{
		"name": cleaned,
	})
	return cleaned, nil
}
