package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pilab-dev/clinic-sync/domain"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// CredentialRepository implements domain.CredentialStore on MongoDB.
// Credentials are never updated in place except for the active flag: a new
// login inserts a new document and supersedes older active ones.
type CredentialRepository struct {
	collection *mongo.Collection
}

func NewCredentialRepository(ctx context.Context, db *mongo.Database) (*CredentialRepository, error) {
	repo := &CredentialRepository{
		collection: db.Collection(CredentialsCollection),
	}
	indexModel := mongo.IndexModel{
		Keys: bson.D{{Key: "is_active", Value: 1}, {Key: "created_at", Value: -1}},
	}
	if _, err := repo.collection.Indexes().CreateOne(ctx, indexModel); err != nil {
		log.Warn().Err(err).Msgf("Failed to create %s indexes", CredentialsCollection)
	}
	return repo, nil
}

// StoreCredential inserts the new credential, then deactivates every active
// credential created no later than it. Whichever login is newest stays active.
func (r *CredentialRepository) StoreCredential(ctx context.Context, token string) error {
	if token == "" {
		return domain.ErrEmptyCredentialToken
	}
	cred := &domain.Credential{
		ID:        NewObjectID(),
		Token:     token,
		IsActive:  true,
		CreatedAt: time.Now().UTC(),
	}
	if _, err := r.collection.InsertOne(ctx, cred); err != nil {
		log.Error().Err(err).Msg("Error storing provider credential")
		return fmt.Errorf("failed to store credential: %w", err)
	}

	filter := bson.M{
		"_id":        bson.M{"$ne": cred.ID},
		"is_active":  true,
		"created_at": bson.M{"$lte": cred.CreatedAt},
	}
	if _, err := r.collection.UpdateMany(ctx, filter, bson.M{"$set": bson.M{"is_active": false}}); err != nil {
		log.Error().Err(err).Msg("Error superseding previous provider credentials")
		return fmt.Errorf("failed to supersede previous credentials: %w", err)
	}
	return nil
}

// GetActiveCredential returns the newest active credential.
func (r *CredentialRepository) GetActiveCredential(ctx context.Context) (*domain.Credential, error) {
	var cred domain.Credential
	opts := options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}})
	err := r.collection.FindOne(ctx, bson.M{"is_active": true}, opts).Decode(&cred)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrCredentialNotFound
		}
		log.Error().Err(err).Msg("Error loading active provider credential")
		return nil, err
	}
	return &cred, nil
}

// InvalidateActiveCredential flags every active credential inactive.
func (r *CredentialRepository) InvalidateActiveCredential(ctx context.Context) error {
	_, err := r.collection.UpdateMany(ctx, bson.M{"is_active": true}, bson.M{"$set": bson.M{"is_active": false}})
	if err != nil {
		log.Error().Err(err).Msg("Error invalidating provider credential")
		return fmt.Errorf("failed to invalidate credential: %w", err)
	}
	return nil
}

var _ domain.CredentialStore = (*CredentialRepository)(nil)
