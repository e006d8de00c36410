package repository

import (
	"context"

	"github.com/rardoz/witchly-app-api-sub002/internal/domain"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Error constants for the repository layer
var (
	ErrNotFound      = RepositoryError("not found")
	ErrAlreadyExists = RepositoryError("already exists")
	ErrUpdateFailed  = RepositoryError("update failed")
)

// RepositoryError helps distinguish repository errors
type RepositoryError string

func (e RepositoryError) Error() string {
	return string(e)
}

// UserRepository defines the interface for interacting with user data.
type UserRepository interface {
	Create(ctx context.Context, user *domain.User) (primitive.ObjectID, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	GetByID(ctx context.Context, id primitive.ObjectID) (*domain.User, error)
}

// AssetRepository is the persistence collaborator for asset metadata.
// Finalization and the direct-upload path create records through it;
// everything after creation is the persistence layer's responsibility.
type AssetRepository interface {
	Create(ctx context.Context, asset *domain.Asset) (primitive.ObjectID, error)
	GetByID(ctx context.Context, id primitive.ObjectID) (*domain.Asset, error)
	GetByUserID(ctx context.Context, userID primitive.ObjectID) ([]domain.Asset, error)
}
