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

// UserClinicLinkRepository implements domain.UserClinicLinkRepository
type UserClinicLinkRepository struct {
	collection *mongo.Collection
}

// NewUserClinicLinkRepository creates a new UserClinicLinkRepository.
func NewUserClinicLinkRepository(ctx context.Context, db *mongo.Database) (*UserClinicLinkRepository, error) {
	repo := &UserClinicLinkRepository{
		collection: db.Collection(UserClinicLinksCollection),
	}
	if err := repo.createIndexes(ctx); err != nil {
		log.Warn().Err(err).Msgf("Failed to create %s indexes", UserClinicLinksCollection)
	}
	return repo, nil
}

func (r *UserClinicLinkRepository) createIndexes(ctx context.Context) error {
	indexModels := []mongo.IndexModel{
		{
			// At most one link per (user, clinic).
			Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "clinic_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			// Deactivation pass: active provider links of one user.
			Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "is_active", Value: 1}},
			Options: options.Index(),
		},
	}

	_, err := r.collection.Indexes().CreateMany(ctx, indexModels)
	if err != nil {
		return fmt.Errorf("failed to create indexes for %s collection: %w", UserClinicLinksCollection, err)
	}
	log.Info().Msgf("Indexes for %s collection ensured.", UserClinicLinksCollection)
	return nil
}

func (r *UserClinicLinkRepository) GetByUserAndClinic(ctx context.Context, userID, clinicID string) (*domain.UserClinicLink, error) {
	var link domain.UserClinicLink
	err := r.collection.FindOne(ctx, bson.M{"user_id": userID, "clinic_id": clinicID}).Decode(&link)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrLinkNotFound
		}
		log.Error().Err(err).Str("userID", userID).Str("clinicID", clinicID).Msg("Error getting user clinic link")
		return nil, err
	}
	return &link, nil
}

func (r *UserClinicLinkRepository) ListByUser(ctx context.Context, userID string) ([]*domain.UserClinicLink, error) {
	return r.list(ctx, bson.M{"user_id": userID})
}

func (r *UserClinicLinkRepository) ListActiveExternalByUser(ctx context.Context, userID string) ([]*domain.UserClinicLink, error) {
	return r.list(ctx, bson.M{
		"user_id":            userID,
		"is_active":          true,
		"external_clinic_id": bson.M{"$nin": bson.A{nil, ""}},
	})
}

func (r *UserClinicLinkRepository) list(ctx context.Context, filter bson.M) ([]*domain.UserClinicLink, error) {
	opts := options.Find().SetSort(bson.D{{Key: "joined_at", Value: 1}})
	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		log.Error().Err(err).Interface("filter", filter).Msg("Error listing user clinic links")
		return nil, err
	}
	defer cursor.Close(ctx)

	var links []*domain.UserClinicLink
	if err := cursor.All(ctx, &links); err != nil {
		log.Error().Err(err).Msg("Error decoding user clinic links")
		return nil, err
	}
	return links, nil
}

// Upsert creates an active link or reactivates the existing one. The unique
// (user_id, clinic_id) index keeps concurrent upserts from duplicating it.
func (r *UserClinicLinkRepository) Upsert(ctx context.Context, in domain.LinkUpsert, at time.Time) (*domain.UserClinicLink, bool, error) {
	if in.UserID == "" || in.ClinicID == "" {
		return nil, false, domain.ErrInvalidLinkUpsert
	}

	set := bson.M{
		"is_active":  true,
		"updated_at": at,
	}
	if in.ExternalClinicID != "" {
		set["external_clinic_id"] = in.ExternalClinicID
	}
	newID := NewObjectID()
	onInsert := bson.M{"_id": newID, "joined_at": at}
	if in.ExternalClinicID == "" {
		onInsert["external_clinic_id"] = nil
	}
	if in.Role != "" {
		set["role"] = in.Role
	} else {
		onInsert["role"] = domain.DefaultLinkRole
	}

	filter := bson.M{"user_id": in.UserID, "clinic_id": in.ClinicID}
	update := bson.M{"$set": set, "$setOnInsert": onInsert}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var link domain.UserClinicLink
	err := r.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&link)
	if mongo.IsDuplicateKeyError(err) {
		err = r.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&link)
	}
	if err != nil {
		log.Error().Err(err).Str("userID", in.UserID).Str("clinicID", in.ClinicID).Msg("Error upserting user clinic link")
		return nil, false, err
	}
	return &link, link.ID == newID, nil
}

// Deactivate flips a link to inactive. Links are never deleted.
func (r *UserClinicLinkRepository) Deactivate(ctx context.Context, linkID string, at time.Time) error {
	update := bson.M{"$set": bson.M{"is_active": false, "updated_at": at}}
	result, err := r.collection.UpdateOne(ctx, bson.M{"_id": linkID}, update)
	if err != nil {
		log.Error().Err(err).Str("linkID", linkID).Msg("Error deactivating user clinic link")
		return err
	}
	if result.MatchedCount == 0 {
		return domain.ErrLinkNotFound
	}
	return nil
}

var _ domain.UserClinicLinkRepository = (*UserClinicLinkRepository)(nil)
