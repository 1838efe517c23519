package mongodb

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"cvesentinel.io/sentinel/internal/domain"
	"cvesentinel.io/sentinel/internal/notification"
)

// AlertRuleStore reads user alert rules.
type AlertRuleStore struct {
	coll *mongo.Collection
}

var _ notification.RuleSource = (*AlertRuleStore)(nil)

func NewAlertRuleStore(db *mongo.Database) *AlertRuleStore {
	return &AlertRuleStore{coll: db.Collection(CollAlertRules)}
}

// ListEnabled returns every enabled rule, grouped by owner.
func (s *AlertRuleStore) ListEnabled(ctx context.Context) ([]domain.AlertRule, error) {
	cur, err := s.coll.Find(ctx,
		bson.M{"enabled": true},
		options.Find().SetSort(bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("find alert rules: %w", err)
	}
	var rules []domain.AlertRule
	if err := cur.All(ctx, &rules); err != nil {
		return nil, fmt.Errorf("decode alert rules: %w", err)
	}
	return rules, nil
}

// Upsert saves r keyed by its id.
func (s *AlertRuleStore) Upsert(ctx context.Context, r domain.AlertRule) error {
	_, err := s.coll.ReplaceOne(ctx, bson.M{"id": r.ID}, r, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("save alert rule %s: %w", r.ID, err)
	}
	return nil
}
