package directory

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/opendataworks/sso-front/internal/crypto"
	"github.com/opendataworks/sso-front/internal/emailutil"
	"github.com/opendataworks/sso-front/internal/log"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// DefaultCollection is the Firestore collection holding user documents
const DefaultCollection = "portal_users"

// Ensure FirestoreDirectory implements the interface
var _ Directory = (*FirestoreDirectory)(nil)

// FirestoreDirectory persists the user directory in Google Cloud
// Firestore. Documents are keyed by username, which makes the username
// uniqueness constraint a property of the storage itself: a concurrent
// duplicate create surfaces as AlreadyExists and is mapped to
// ErrUserConflict for the provisioner to resolve.
type FirestoreDirectory struct {
	client     *firestore.Client
	collection string
}

// userDoc is the Firestore document shape for a directory user
type userDoc struct {
	ID           string    `firestore:"id"`
	Name         string    `firestore:"name"`
	Email        string    `firestore:"email"`
	FullName     string    `firestore:"full_name"`
	PasswordHash []byte    `firestore:"password_hash"`
	SSOSubject   string    `firestore:"sso_subject,omitempty"`
	State        string    `firestore:"state"`
	Created      time.Time `firestore:"created"`
}

func (d userDoc) toLocalUser() *LocalUser {
	return &LocalUser{
		ID:           d.ID,
		Name:         d.Name,
		Email:        d.Email,
		FullName:     d.FullName,
		PasswordHash: d.PasswordHash,
		SSOSubject:   d.SSOSubject,
		State:        UserState(d.State),
		Created:      d.Created,
	}
}

// NewFirestoreDirectory connects to Firestore and returns a directory
// backed by the given collection (DefaultCollection if empty)
func NewFirestoreDirectory(ctx context.Context, projectID, database, collection string) (*FirestoreDirectory, error) {
	var client *firestore.Client
	var err error
	if database != "" {
		client, err = firestore.NewClientWithDatabase(ctx, projectID, database)
	} else {
		client, err = firestore.NewClient(ctx, projectID)
	}
	if err != nil {
		return nil, fmt.Errorf("creating firestore client: %w", err)
	}

	if collection == "" {
		collection = DefaultCollection
	}

	log.LogInfoWithFields("directory", "Firestore directory ready", map[string]any{
		"project":    projectID,
		"collection": collection,
	})

	return &FirestoreDirectory{client: client, collection: collection}, nil
}

// Close releases the underlying Firestore client
func (d *FirestoreDirectory) Close() error {
	return d.client.Close()
}

func (d *FirestoreDirectory) queryOne(ctx context.Context, field, value string) (*LocalUser, error) {
	iter := d.client.Collection(d.collection).Where(field, "==", value).Limit(1).Documents(ctx)
	defer iter.Stop()

	doc, err := iter.Next()
	if err == iterator.Done {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying users by %s: %w", field, err)
	}

	var user userDoc
	if err := doc.DataTo(&user); err != nil {
		return nil, fmt.Errorf("unmarshaling user: %w", err)
	}
	return user.toLocalUser(), nil
}

func (d *FirestoreDirectory) GetUserBySubject(ctx context.Context, subject string) (*LocalUser, error) {
	return d.queryOne(ctx, "sso_subject", subject)
}

func (d *FirestoreDirectory) GetUserByEmail(ctx context.Context, email string) (*LocalUser, error) {
	return d.queryOne(ctx, "email", emailutil.Normalize(email))
}

func (d *FirestoreDirectory) GetUserByName(ctx context.Context, name string) (*LocalUser, error) {
	doc, err := d.client.Collection(d.collection).Doc(name).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting user %s: %w", name, err)
	}

	var user userDoc
	if err := doc.DataTo(&user); err != nil {
		return nil, fmt.Errorf("unmarshaling user: %w", err)
	}
	return user.toLocalUser(), nil
}

func (d *FirestoreDirectory) CreateUser(ctx context.Context, user NewUser) (*LocalUser, error) {
	if !IsSystemActor(ctx) {
		return nil, ErrNotAuthorized
	}

	// Subject is not the document key, so it is checked ahead of the
	// create. The window between check and create is closed by the
	// provisioner's re-fetch on conflict.
	if user.SSOSubject != "" {
		if _, err := d.GetUserBySubject(ctx, user.SSOSubject); err == nil {
			return nil, fmt.Errorf("%w: subject %s", ErrUserConflict, user.SSOSubject)
		} else if err != ErrUserNotFound {
			return nil, err
		}
	}

	hash, err := crypto.HashPassword(user.Password)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	id, err := crypto.GenerateSecureToken()
	if err != nil {
		return nil, fmt.Errorf("generating user id: %w", err)
	}

	doc := userDoc{
		ID:           id,
		Name:         user.Name,
		Email:        emailutil.Normalize(user.Email),
		FullName:     user.FullName,
		PasswordHash: hash,
		SSOSubject:   user.SSOSubject,
		State:        string(StateActive),
		Created:      time.Now(),
	}

	_, err = d.client.Collection(d.collection).Doc(user.Name).Create(ctx, doc)
	if status.Code(err) == codes.AlreadyExists {
		return nil, fmt.Errorf("%w: name %s", ErrUserConflict, user.Name)
	}
	if err != nil {
		return nil, fmt.Errorf("creating user %s: %w", user.Name, err)
	}

	log.LogDebugWithFields("directory", "User created", map[string]any{
		"name":    user.Name,
		"subject": user.SSOSubject,
	})

	return doc.toLocalUser(), nil
}

func (d *FirestoreDirectory) setState(ctx context.Context, id string, state UserState) error {
	iter := d.client.Collection(d.collection).Where("id", "==", id).Limit(1).Documents(ctx)
	defer iter.Stop()

	doc, err := iter.Next()
	if err == iterator.Done {
		return ErrUserNotFound
	}
	if err != nil {
		return fmt.Errorf("querying user %s: %w", id, err)
	}

	_, err = doc.Ref.Update(ctx, []firestore.Update{
		{Path: "state", Value: string(state)},
	})
	if err != nil {
		return fmt.Errorf("updating state of user %s: %w", id, err)
	}
	return nil
}

// SoftDelete marks an account deleted without removing the record
func (d *FirestoreDirectory) SoftDelete(ctx context.Context, id string) error {
	return d.setState(ctx, id, StateDeleted)
}

func (d *FirestoreDirectory) Reactivate(ctx context.Context, id string) error {
	return d.setState(ctx, id, StateActive)
}
