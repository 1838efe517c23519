package mongodb

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"cvesentinel.io/sentinel/internal/domain"
	"cvesentinel.io/sentinel/internal/vuln"
)

// VulnerabilityStore implements vuln.Repository.
type VulnerabilityStore struct {
	coll *mongo.Collection
}

var _ vuln.Repository = (*VulnerabilityStore)(nil)

func NewVulnerabilityStore(db *mongo.Database) *VulnerabilityStore {
	return &VulnerabilityStore{coll: db.Collection(CollVulnerabilities)}
}

func vulnFilter(f vuln.Filter) bson.M {
	filter := bson.M{}
	if f.Severity != "" {
		filter["severity"] = string(f.Severity)
	}
	if f.Software != "" {
		filter["affected_software"] = primitive.Regex{Pattern: regexp.QuoteMeta(f.Software), Options: "i"}
	}
	return filter
}

func (s *VulnerabilityStore) List(ctx context.Context, f vuln.Filter) ([]domain.Vulnerability, int64, error) {
	filter := vulnFilter(f)
	total, err := s.coll.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("count vulnerabilities: %w", err)
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "published_at", Value: -1}, {Key: "cve_id", Value: 1}}).
		SetSkip(int64(f.Offset)).
		SetLimit(int64(f.Limit))
	cur, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("find vulnerabilities: %w", err)
	}
	var items []domain.Vulnerability
	if err := cur.All(ctx, &items); err != nil {
		return nil, 0, fmt.Errorf("decode vulnerabilities: %w", err)
	}
	return items, total, nil
}

func (s *VulnerabilityStore) Get(ctx context.Context, cveID string) (*domain.Vulnerability, error) {
	var v domain.Vulnerability
	err := s.coll.FindOne(ctx, bson.M{"cve_id": cveID}).Decode(&v)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, vuln.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get vulnerability %s: %w", cveID, err)
	}
	return &v, nil
}

func (s *VulnerabilityStore) Aggregate(ctx context.Context, pipeline mongo.Pipeline, out interface{}) error {
	cur, err := s.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return fmt.Errorf("aggregate vulnerabilities: %w", err)
	}
	return cur.All(ctx, out)
}

// Upsert saves v keyed by CVE id.
func (s *VulnerabilityStore) Upsert(ctx context.Context, v domain.Vulnerability) error {
	_, err := s.coll.ReplaceOne(ctx, bson.M{"cve_id": v.CVEID}, v, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("save vulnerability %s: %w", v.CVEID, err)
	}
	return nil
}
