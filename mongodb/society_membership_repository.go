package mongodb

import (
	"context"
	"errors"

	"github.com/pilab-dev/clinic-sync/domain"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// SocietyMembershipRepository reads the portal's society membership documents.
type SocietyMembershipRepository struct {
	collection *mongo.Collection
}

func NewSocietyMembershipRepository(db *mongo.Database) *SocietyMembershipRepository {
	return &SocietyMembershipRepository{
		collection: db.Collection(SocietyMembershipsCollection),
	}
}

// GetByUserID returns the most recently updated membership of the user.
func (r *SocietyMembershipRepository) GetByUserID(ctx context.Context, userID string) (*domain.SocietyMembership, error) {
	var membership domain.SocietyMembership
	opts := options.FindOne().SetSort(bson.D{{Key: "updated_at", Value: -1}})
	err := r.collection.FindOne(ctx, bson.M{"user_id": userID}, opts).Decode(&membership)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrMembershipNotFound
		}
		log.Error().Err(err).Str("userID", userID).Msg("Error getting society membership")
		return nil, err
	}
	return &membership, nil
}

var _ domain.SocietyMembershipRepository = (*SocietyMembershipRepository)(nil)
