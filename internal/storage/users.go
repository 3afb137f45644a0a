package storage

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// User is the minimal profile record backing the OAuth stub and JWT
// subject resolution (SPEC_FULL.md §3 - OAuth is a thin stub, not a full
// flow). Adapted from algorave/users.User, with the tier/admin/AI-feature
// fields dropped - this domain has no usage tiers.
type User struct {
	ID          string
	Email       string
	Provider    string
	ProviderID  string
	Name        string
	AvatarURL   string
	CreatedAt   string
	UpdatedAt   string
}

// UserRepository is the narrow profile store the out-of-scope REST auth
// surface depends on, grounded in algorave/users/users.go's
// QueryRow(...).Scan(...) repository shape.
type UserRepository struct {
	db *pgxpool.Pool
}

func NewUserRepository(db *pgxpool.Pool) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) FindOrCreateByProvider(ctx context.Context, provider, providerID, email, name, avatarURL string) (*User, error) {
	var u User
	err := r.db.QueryRow(ctx, queryFindOrCreateUserByProvider, provider, providerID, email, name, avatarURL).
		Scan(&u.ID, &u.Email, &u.Provider, &u.ProviderID, &u.Name, &u.AvatarURL, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *UserRepository) FindByID(ctx context.Context, userID string) (*User, error) {
	var u User
	err := r.db.QueryRow(ctx, queryFindUserByID, userID).
		Scan(&u.ID, &u.Email, &u.Provider, &u.ProviderID, &u.Name, &u.AvatarURL, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *UserRepository) UpdateProfile(ctx context.Context, userID, name, avatarURL string) (*User, error) {
	var u User
	err := r.db.QueryRow(ctx, queryUpdateUserProfile, name, avatarURL, userID).
		Scan(&u.ID, &u.Email, &u.Provider, &u.ProviderID, &u.Name, &u.AvatarURL, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}
