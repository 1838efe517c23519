// Package mongodb implements the document stores on MongoDB: notifications,
// notification preferences, alert rules and the vulnerability catalog.
//
// Import Path: cvesentinel.io/sentinel/internal/repository/mongodb
package mongodb

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"

	"cvesentinel.io/sentinel/internal/config"
	"cvesentinel.io/sentinel/internal/pkg/logger"
)

// Collection names.
const (
	CollNotifications   = "notifications"
	CollPreferences     = "notification_preferences"
	CollAlertRules      = "alert_rules"
	CollVulnerabilities = "vulnerabilities"
)

// Connect opens a client and verifies it with a primary ping.
func Connect(ctx context.Context, cfg config.MongoConfig) (*mongo.Client, *mongo.Database, error) {
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	opts := options.Client().
		ApplyURI(cfg.URI).
		SetConnectTimeout(timeout).
		SetServerSelectionTimeout(timeout)
	if cfg.MaxPoolSize > 0 {
		opts.SetMaxPoolSize(cfg.MaxPoolSize)
	}

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, nil, fmt.Errorf("connect mongo: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, fmt.Errorf("ping mongo: %w", err)
	}

	logger.Info("mongo connected", zap.String("database", cfg.Database))
	return client, client.Database(cfg.Database), nil
}

// Ping reports whether the deployment is reachable. Used by readiness.
func Ping(ctx context.Context, db *mongo.Database) error {
	return db.Client().Ping(ctx, readpref.Primary())
}

// indexSpecs are created idempotently at startup.
var indexSpecs = map[string][]mongo.IndexModel{
	CollNotifications: {
		{Keys: bson.D{{Key: "id", Value: 1}}, Options: options.Index().SetUnique(true).SetName("uniq_id")},
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "is_read", Value: 1}}, Options: options.Index().SetName("user_unread")},
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}}, Options: options.Index().SetName("user_created")},
		{Keys: bson.D{{Key: "deliveries.status", Value: 1}}, Options: options.Index().SetName("delivery_status")},
	},
	CollPreferences: {
		{Keys: bson.D{{Key: "user_id", Value: 1}}, Options: options.Index().SetUnique(true).SetName("uniq_user")},
	},
	CollAlertRules: {
		{Keys: bson.D{{Key: "id", Value: 1}}, Options: options.Index().SetUnique(true).SetName("uniq_id")},
		{Keys: bson.D{{Key: "enabled", Value: 1}, {Key: "user_id", Value: 1}}, Options: options.Index().SetName("enabled_user")},
	},
	CollVulnerabilities: {
		{Keys: bson.D{{Key: "cve_id", Value: 1}}, Options: options.Index().SetUnique(true).SetName("uniq_cve")},
		{Keys: bson.D{{Key: "severity", Value: 1}, {Key: "published_at", Value: -1}}, Options: options.Index().SetName("severity_published")},
	},
}

// EnsureIndexes creates every index the stores rely on.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	for coll, models := range indexSpecs {
		names, err := db.Collection(coll).Indexes().CreateMany(ctx, models)
		if err != nil {
			return fmt.Errorf("create indexes on %s: %w", coll, err)
		}
		logger.Debug("mongo indexes ensured",
			zap.String("collection", coll),
			zap.Strings("indexes", names),
		)
	}
	return nil
}
