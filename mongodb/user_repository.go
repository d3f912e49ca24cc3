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

// UserRepository implements domain.UserRepository
type UserRepository struct {
	users *mongo.Collection
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(ctx context.Context, db *mongo.Database) (*UserRepository, error) {
	repo := &UserRepository{
		users: db.Collection(UsersCollection),
	}
	if err := repo.createIndexes(ctx); err != nil {
		// The portal owns the users collection; our index is best-effort.
		log.Warn().Err(err).Msg("Failed to create user indexes (might be due to existing compatible indexes)")
	}
	return repo, nil
}

func (r *UserRepository) createIndexes(ctx context.Context) error {
	indexModels := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "email", Value: 1}},
			Options: options.Index().SetCollation(&options.Collation{Locale: "en", Strength: 2}),
		},
	}
	if _, err := r.users.Indexes().CreateMany(ctx, indexModels); err != nil {
		return fmt.Errorf("failed to create indexes for users collection: %w", err)
	}
	log.Info().Msg("Indexes for users collection ensured.")
	return nil
}

// GetUserByID retrieves a user by their ID.
func (r *UserRepository) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	var user domain.User
	err := r.users.FindOne(ctx, bson.M{"_id": id}).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrUserNotFound
		}
		log.Error().Err(err).Str("id", id).Msg("Error getting user by ID from MongoDB")
		return nil, err
	}
	return &user, nil
}

// GetUserByEmail retrieves a user by their email.
func (r *UserRepository) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	var user domain.User
	opts := options.FindOne().SetCollation(&options.Collation{Locale: "en", Strength: 2})
	err := r.users.FindOne(ctx, bson.M{"email": email}, opts).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrUserNotFound
		}
		log.Error().Err(err).Str("email", email).Msg("Error getting user by email from MongoDB")
		return nil, err
	}
	return &user, nil
}

// AcquireSyncLock sets the clinic sync flag with a conditional update, so two
// callers racing for the same user cannot both win.
func (r *UserRepository) AcquireSyncLock(ctx context.Context, userID string, now time.Time, lease time.Duration) (bool, error) {
	free := bson.A{bson.M{"clinic_sync_in_progress": bson.M{"$ne": true}}}
	if lease > 0 {
		free = append(free, bson.M{"clinic_sync_started_at": bson.M{"$lt": now.Add(-lease)}})
	}
	filter := bson.M{"_id": userID, "$or": free}
	update := bson.M{"$set": bson.M{
		"clinic_sync_in_progress": true,
		"clinic_sync_started_at":  now.Truncate(time.Millisecond),
		"updated_at":              now,
	}}

	result, err := r.users.UpdateOne(ctx, filter, update)
	if err != nil {
		log.Error().Err(err).Str("userID", userID).Msg("Error acquiring clinic sync lock")
		return false, err
	}
	if result.MatchedCount == 1 {
		return true, nil
	}

	exists, err := r.users.CountDocuments(ctx, bson.M{"_id": userID}, options.Count().SetLimit(1))
	if err != nil {
		return false, err
	}
	if exists == 0 {
		return false, domain.ErrUserNotFound
	}
	return false, nil
}

// ReleaseSyncLock clears the clinic sync flag if the caller still holds it.
// Mongo keeps millisecond precision, so startedAt is matched at that precision.
func (r *UserRepository) ReleaseSyncLock(ctx context.Context, userID string, startedAt time.Time) error {
	filter := bson.M{
		"_id":                     userID,
		"clinic_sync_in_progress": true,
		"clinic_sync_started_at":  startedAt.Truncate(time.Millisecond),
	}
	update := bson.M{
		"$set":   bson.M{"clinic_sync_in_progress": false, "updated_at": time.Now().UTC()},
		"$unset": bson.M{"clinic_sync_started_at": ""},
	}
	result, err := r.users.UpdateOne(ctx, filter, update)
	if err != nil {
		log.Error().Err(err).Str("userID", userID).Msg("Error releasing clinic sync lock")
		return err
	}
	if result.MatchedCount == 1 {
		return nil
	}

	exists, err := r.users.CountDocuments(ctx, bson.M{"_id": userID}, options.Count().SetLimit(1))
	if err != nil {
		return err
	}
	if exists == 0 {
		return domain.ErrUserNotFound
	}
	return domain.ErrSyncLockLost
}

// MarkClinicsSynced stamps the user's last clinic sync time.
func (r *UserRepository) MarkClinicsSynced(ctx context.Context, userID string, at time.Time) error {
	update := bson.M{"$set": bson.M{"last_clinic_sync_at": at, "updated_at": at}}
	result, err := r.users.UpdateOne(ctx, bson.M{"_id": userID}, update)
	if err != nil {
		log.Error().Err(err).Str("userID", userID).Msg("Error stamping clinic sync time")
		return err
	}
	if result.MatchedCount == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

// Ensure interface compliance
var _ domain.UserRepository = (*UserRepository)(nil)
