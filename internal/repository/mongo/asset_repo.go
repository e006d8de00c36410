package mongo

import (
	"context"
	"errors"
	"time"

	"github.com/rardoz/witchly-app-api-sub002/internal/domain"
	"github.com/rardoz/witchly-app-api-sub002/internal/repository"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const assetCollectionName = "assets"

// mongoAssetRepository implements repository.AssetRepository
type mongoAssetRepository struct {
	collection *mongo.Collection
}

// NewMongoAssetRepository creates a new Asset repository backed by MongoDB.
func NewMongoAssetRepository(db *mongo.Database) repository.AssetRepository {
	return &mongoAssetRepository{
		collection: db.Collection(assetCollectionName),
	}
}

// Create inserts a new asset record. The record must reference a fully
// assembled storage object; callers verify sizes before creating it.
func (r *mongoAssetRepository) Create(ctx context.Context, asset *domain.Asset) (primitive.ObjectID, error) {
	if asset.UserID == primitive.NilObjectID || asset.StorageKey == "" {
		return primitive.NilObjectID, errors.New("asset requires userId and storageKey")
	}
	if asset.Size <= 0 {
		return primitive.NilObjectID, errors.New("asset size must be positive")
	}

	asset.ID = primitive.NewObjectID()
	now := time.Now().UTC()
	asset.CreatedAt = now
	asset.UpdatedAt = now

	result, err := r.collection.InsertOne(ctx, asset)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return primitive.NilObjectID, repository.ErrAlreadyExists
		}
		return primitive.NilObjectID, err
	}

	insertedID, ok := result.InsertedID.(primitive.ObjectID)
	if !ok {
		return primitive.NilObjectID, errors.New("failed to convert inserted ID")
	}

	return insertedID, nil
}

// GetByID retrieves asset metadata by its ID.
func (r *mongoAssetRepository) GetByID(ctx context.Context, id primitive.ObjectID) (*domain.Asset, error) {
	var asset domain.Asset
	filter := bson.M{"_id": id}

	err := r.collection.FindOne(ctx, filter).Decode(&asset)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &asset, nil
}

// GetByUserID retrieves all assets owned by a specific user, newest first.
func (r *mongoAssetRepository) GetByUserID(ctx context.Context, userID primitive.ObjectID) ([]domain.Asset, error) {
	filter := bson.M{"userId": userID}
	findOptions := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})

	cursor, err := r.collection.Find(ctx, filter, findOptions)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var assets []domain.Asset
	if err = cursor.All(ctx, &assets); err != nil {
		return nil, err
	}
	return assets, nil
}

// EnsureAssetIndexes creates necessary indexes for the assets collection.
func EnsureAssetIndexes(ctx context.Context, collection *mongo.Collection) {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "userId", Value: 1}},
			Options: options.Index(),
		},
		{
			// Storage keys are unique within the bucket
			Keys:    bson.D{{Key: "storageKey", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "uniqueName", Value: 1}},
			Options: options.Index(),
		},
	}

	_, _ = collection.Indexes().CreateMany(ctx, indexes)
}
