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

// ClinicRepository implements domain.ClinicRepository
type ClinicRepository struct {
	clinics *mongo.Collection
	now     func() time.Time
}

// NewClinicRepository creates a new ClinicRepository and ensures its indexes.
func NewClinicRepository(ctx context.Context, db *mongo.Database) (*ClinicRepository, error) {
	repo := &ClinicRepository{
		clinics: db.Collection(ClinicsCollection),
		now:     time.Now,
	}
	if err := repo.createIndexes(ctx); err != nil {
		log.Warn().Err(err).Msgf("Failed to create %s indexes", ClinicsCollection)
	}
	return repo, nil
}

func (r *ClinicRepository) createIndexes(ctx context.Context) error {
	indexModels := []mongo.IndexModel{
		{
			// One clinic per provider id. System clinics have no external id.
			Keys: bson.D{{Key: "external_id", Value: 1}},
			Options: options.Index().SetUnique(true).
				SetPartialFilterExpression(bson.M{"external_id": bson.M{"$type": "string"}}),
		},
		{
			Keys:    bson.D{{Key: "code", Value: 1}},
			Options: options.Index(),
		},
	}
	if _, err := r.clinics.Indexes().CreateMany(ctx, indexModels); err != nil {
		return fmt.Errorf("failed to create indexes for %s collection: %w", ClinicsCollection, err)
	}
	log.Info().Msgf("Indexes for %s collection ensured.", ClinicsCollection)
	return nil
}

// GetByExternalID finds the clinic correlated to a provider clinic id.
func (r *ClinicRepository) GetByExternalID(ctx context.Context, externalID string) (*domain.Clinic, error) {
	return r.findOne(ctx, bson.M{"external_id": externalID})
}

// GetByCode finds a system clinic by its well-known code. Provider clinics that
// happen to share the code are ignored.
func (r *ClinicRepository) GetByCode(ctx context.Context, code string) (*domain.Clinic, error) {
	return r.findOne(ctx, bson.M{"code": code, "external_id": nil})
}

func (r *ClinicRepository) findOne(ctx context.Context, filter bson.M) (*domain.Clinic, error) {
	var clinic domain.Clinic
	err := r.clinics.FindOne(ctx, filter).Decode(&clinic)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrClinicNotFound
		}
		log.Error().Err(err).Interface("filter", filter).Msg("Error getting clinic from MongoDB")
		return nil, err
	}
	return &clinic, nil
}

// UpsertByExternalID creates or refreshes a provider clinic in one round trip.
func (r *ClinicRepository) UpsertByExternalID(ctx context.Context, in domain.ClinicUpsert) (*domain.Clinic, bool, error) {
	if in.ExternalID == "" {
		return nil, false, domain.ErrInvalidClinicUpsert
	}
	syncedAt := in.SyncedAt
	if syncedAt.IsZero() {
		syncedAt = r.now().UTC()
	}

	set := bson.M{
		"name":           in.Name,
		"address":        in.Address,
		"phone":          in.Phone,
		"email":          in.Email,
		"last_synced_at": syncedAt,
		"is_active":      true,
		"updated_at":     syncedAt,
	}
	if in.Code != "" {
		set["code"] = in.Code
	}
	newID := NewObjectID()
	update := bson.M{
		"$set":         set,
		"$setOnInsert": bson.M{"_id": newID, "created_at": syncedAt},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var clinic domain.Clinic
	err := r.clinics.FindOneAndUpdate(ctx, bson.M{"external_id": in.ExternalID}, update, opts).Decode(&clinic)
	if mongo.IsDuplicateKeyError(err) {
		// Lost an insert race on the unique index; the document exists now.
		err = r.clinics.FindOneAndUpdate(ctx, bson.M{"external_id": in.ExternalID}, update, opts).Decode(&clinic)
	}
	if err != nil {
		log.Error().Err(err).Str("externalID", in.ExternalID).Msg("Error upserting clinic")
		return nil, false, err
	}
	return &clinic, clinic.ID == newID, nil
}

var _ domain.ClinicRepository = (*ClinicRepository)(nil)
