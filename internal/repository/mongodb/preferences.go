package mongodb

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"cvesentinel.io/sentinel/internal/domain"
	"cvesentinel.io/sentinel/internal/notification"
)

// PreferencesStore implements notification.PreferencesStore.
type PreferencesStore struct {
	coll *mongo.Collection
}

var _ notification.PreferencesStore = (*PreferencesStore)(nil)

func NewPreferencesStore(db *mongo.Database) *PreferencesStore {
	return &PreferencesStore{coll: db.Collection(CollPreferences)}
}

func (s *PreferencesStore) Get(ctx context.Context, userID string) (*domain.Preferences, error) {
	var p domain.Preferences
	err := s.coll.FindOne(ctx, bson.M{"user_id": userID}).Decode(&p)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load preferences for %s: %w", userID, err)
	}
	return &p, nil
}

func (s *PreferencesStore) Upsert(ctx context.Context, p *domain.Preferences) error {
	_, err := s.coll.ReplaceOne(ctx,
		bson.M{"user_id": p.UserID},
		p,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("save preferences for %s: %w", p.UserID, err)
	}
	return nil
}
