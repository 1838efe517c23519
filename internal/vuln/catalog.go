// Package vuln serves the vulnerability catalog and its aggregations.
//
// Import Path: cvesentinel.io/sentinel/internal/vuln
package vuln

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"cvesentinel.io/sentinel/internal/domain"
	apperrors "cvesentinel.io/sentinel/internal/pkg/errors"
)

// Top-software limits.
const (
	DefaultTopLimit = 10
	MaxTopLimit     = 100
)

// Listing limits.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// ErrNotFound is returned by repositories when no CVE matches.
var ErrNotFound = errors.New("vulnerability not found")

// Filter narrows a catalog listing.
type Filter struct {
	Severity domain.Severity
	Software string
	Limit    int
	Offset   int
}

// Repository is the catalog backend.
type Repository interface {
	List(ctx context.Context, f Filter) ([]domain.Vulnerability, int64, error)
	Get(ctx context.Context, cveID string) (*domain.Vulnerability, error)
	// Aggregate runs pipeline and decodes every result row into out.
	Aggregate(ctx context.Context, pipeline mongo.Pipeline, out interface{}) error
}

// Page is one slice of the catalog.
type Page struct {
	Items  []domain.Vulnerability `json:"items"`
	Total  int64                  `json:"total"`
	Limit  int                    `json:"limit"`
	Offset int                    `json:"offset"`
}

// Catalog is the read side used by handlers and triggers.
type Catalog struct {
	repo Repository
}

func NewCatalog(repo Repository) *Catalog {
	return &Catalog{repo: repo}
}

// List returns one page of vulnerabilities, newest first.
func (c *Catalog) List(ctx context.Context, f Filter) (*Page, error) {
	if f.Limit <= 0 || f.Limit > MaxPageSize {
		f.Limit = DefaultPageSize
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	f.Severity = f.Severity.Normalize()

	items, total, err := c.repo.List(ctx, f)
	if err != nil {
		return nil, apperrors.Storage(err, "list vulnerabilities")
	}
	if items == nil {
		items = []domain.Vulnerability{}
	}
	return &Page{Items: items, Total: total, Limit: f.Limit, Offset: f.Offset}, nil
}

// Get loads one CVE.
func (c *Catalog) Get(ctx context.Context, cveID string) (*domain.Vulnerability, error) {
	if cveID == "" {
		return nil, apperrors.Validationf("cveId is required")
	}
	v, err := c.repo.Get(ctx, cveID)
	if errors.Is(err, ErrNotFound) {
		return nil, apperrors.ErrVulnerabilityNotFound(cveID)
	}
	if err != nil {
		return nil, apperrors.Storage(err, "get vulnerability")
	}
	return v, nil
}

// ClampTopLimit applies the default and the upper bound.
func ClampTopLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultTopLimit
	case limit > MaxTopLimit:
		return MaxTopLimit
	}
	return limit
}

// TopSoftwarePipeline counts vulnerabilities per affected product.
// An empty severity counts across all severities.
func TopSoftwarePipeline(severity domain.Severity, limit int) mongo.Pipeline {
	match := bson.D{}
	if s := severity.Normalize(); s != "" {
		match = bson.D{{Key: "severity", Value: string(s)}}
	}
	return mongo.Pipeline{
		{{Key: "$match", Value: match}},
		{{Key: "$unwind", Value: "$affected_software"}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$affected_software"},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
			{Key: "max_cvss", Value: bson.D{{Key: "$max", Value: "$cvss_score"}}},
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "count", Value: -1}, {Key: "_id", Value: 1}}}},
		{{Key: "$limit", Value: int64(ClampTopLimit(limit))}},
	}
}

// TopAffectedSoftware returns the products with the most vulnerabilities.
func (c *Catalog) TopAffectedSoftware(ctx context.Context, severity domain.Severity, limit int) ([]domain.SoftwareCount, error) {
	var rows []domain.SoftwareCount
	if err := c.repo.Aggregate(ctx, TopSoftwarePipeline(severity, limit), &rows); err != nil {
		return nil, apperrors.Storage(err, "top affected software")
	}
	if rows == nil {
		rows = []domain.SoftwareCount{}
	}
	return rows, nil
}
