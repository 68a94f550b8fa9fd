package roster

import (
	"context"
	"time"
)

// IdentityGateway is the external identity provider. It is rate limited and
// its side effects (invitation email delivery) are not awaited to completion.
//
// Implementations return ErrNotFound when an account does not exist.
type IdentityGateway interface {
	// FindByEmail returns the account registered for email.
	FindByEmail(ctx context.Context, email string) (Profile, error)

	// Create registers a new account with its role, class context and
	// expiration, returning the profile with the provider-assigned ID.
	Create(ctx context.Context, account NewAccount) (Profile, error)

	// Delete removes the account.
	Delete(ctx context.Context, userID string) error

	// AssignRole grants role to the account.
	AssignRole(ctx context.Context, userID string, role Role) error

	// SendInvitation asks the provider to invite the user. Delivery is not awaited.
	SendInvitation(ctx context.Context, name, email string) error

	// ListRoles returns the roles currently granted to the account.
	ListRoles(ctx context.Context, userID string) ([]Role, error)
}

// StoreGateway is the persistent store for profiles, classes, membership
// and module entitlements.
//
// Implementations return ErrNotFound when a profile or group does not exist.
type StoreGateway interface {
	GetGroup(ctx context.Context, id string) (Group, error)
	UpdateGroup(ctx context.Context, id string, update GroupUpdate) (Group, error)
	GetUserByEmail(ctx context.Context, email string) (Profile, error)
	GetUserByID(ctx context.Context, id string) (Profile, error)
	CreateUser(ctx context.Context, profile Profile) (Profile, error)
	UpdateUserByEmail(ctx context.Context, email string, update ProfileUpdate) (Profile, error)
	DeleteUserByEmail(ctx context.Context, email string) error

	// ListExpiredUsers returns profiles whose account expiration is before t.
	ListExpiredUsers(ctx context.Context, before time.Time) ([]Profile, error)
}
