package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"cvesentinel.io/sentinel/internal/domain"
	"cvesentinel.io/sentinel/internal/notification"
)

type deliveryDoc struct {
	Channel       string     `bson:"channel"`
	Status        string     `bson:"status"`
	Attempts      int        `bson:"attempts"`
	LastAttemptAt *time.Time `bson:"last_attempt_at,omitempty"`
	LastError     string     `bson:"last_error,omitempty"`
	Misconfigured bool       `bson:"misconfigured,omitempty"`
}

type notificationDoc struct {
	OID        primitive.ObjectID `bson:"_id,omitempty"`
	ID         string             `bson:"id"`
	UserID     string             `bson:"user_id"`
	Type       string             `bson:"type"`
	Title      string             `bson:"title"`
	Message    string             `bson:"message"`
	Data       bson.Raw           `bson:"data,omitempty"`
	Priority   string             `bson:"priority"`
	IsRead     bool               `bson:"is_read"`
	CreatedAt  time.Time          `bson:"created_at"`
	ReadAt     *time.Time         `bson:"read_at,omitempty"`
	ExpiresAt  *time.Time         `bson:"expires_at,omitempty"`
	Deliveries []deliveryDoc      `bson:"deliveries"`
	Suppressed []string           `bson:"suppressed,omitempty"`
}

func toDeliveryDocs(ds []domain.Delivery) []deliveryDoc {
	out := make([]deliveryDoc, 0, len(ds))
	for _, d := range ds {
		out = append(out, deliveryDoc{
			Channel:       string(d.Channel),
			Status:        string(d.Status),
			Attempts:      d.Attempts,
			LastAttemptAt: d.LastAttemptAt,
			LastError:     d.LastError,
			Misconfigured: d.Misconfigured,
		})
	}
	return out
}

func channelStrings(cs []domain.Channel) []string {
	if len(cs) == 0 {
		return nil
	}
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = string(c)
	}
	return out
}

func toNotificationDoc(n *domain.Notification) (*notificationDoc, error) {
	doc := &notificationDoc{
		ID:         n.ID,
		UserID:     n.UserID,
		Type:       string(n.Type),
		Title:      n.Title,
		Message:    n.Message,
		Priority:   string(n.Priority),
		IsRead:     n.IsRead,
		CreatedAt:  n.CreatedAt.UTC(),
		ReadAt:     n.ReadAt,
		ExpiresAt:  n.ExpiresAt,
		Deliveries: toDeliveryDocs(n.Deliveries),
		Suppressed: channelStrings(n.Suppressed),
	}
	if n.Data != nil {
		raw, err := bson.Marshal(n.Data)
		if err != nil {
			return nil, fmt.Errorf("encode %s data: %w", n.Type, err)
		}
		doc.Data = raw
	}
	return doc, nil
}

func (d *notificationDoc) toDomain() (*domain.Notification, error) {
	n := &domain.Notification{
		ID:        d.ID,
		UserID:    d.UserID,
		Type:      domain.NotificationType(d.Type),
		Title:     d.Title,
		Message:   d.Message,
		Priority:  domain.Priority(d.Priority),
		IsRead:    d.IsRead,
		CreatedAt: d.CreatedAt.UTC(),
		ReadAt:    d.ReadAt,
		ExpiresAt: d.ExpiresAt,
	}
	for _, dd := range d.Deliveries {
		n.Deliveries = append(n.Deliveries, domain.Delivery{
			Channel:       domain.Channel(dd.Channel),
			Status:        domain.DeliveryStatus(dd.Status),
			Attempts:      dd.Attempts,
			LastAttemptAt: dd.LastAttemptAt,
			LastError:     dd.LastError,
			Misconfigured: dd.Misconfigured,
		})
	}
	for _, s := range d.Suppressed {
		n.Suppressed = append(n.Suppressed, domain.Channel(s))
	}
	if len(d.Data) > 0 {
		p, err := domain.NewPayload(n.Type)
		if err != nil {
			return nil, err
		}
		if err := bson.Unmarshal(d.Data, p); err != nil {
			return nil, fmt.Errorf("decode %s data: %w", n.Type, err)
		}
		n.Data = domain.Deref(p)
	}
	return n, nil
}

// NotificationStore implements notification.Store.
type NotificationStore struct {
	coll *mongo.Collection
}

var _ notification.Store = (*NotificationStore)(nil)

// NewNotificationStore binds the notifications collection of db.
func NewNotificationStore(db *mongo.Database) *NotificationStore {
	return &NotificationStore{coll: db.Collection(CollNotifications)}
}

func (s *NotificationStore) Insert(ctx context.Context, n *domain.Notification) error {
	doc, err := toNotificationDoc(n)
	if err != nil {
		return err
	}
	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("insert notification %s: %w", n.ID, err)
	}
	return nil
}

func (s *NotificationStore) findOne(ctx context.Context, filter bson.M) (*domain.Notification, error) {
	var doc notificationDoc
	err := s.coll.FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, notification.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return doc.toDomain()
}

func (s *NotificationStore) Get(ctx context.Context, id string) (*domain.Notification, error) {
	return s.findOne(ctx, bson.M{"id": id})
}

func (s *NotificationStore) GetForUser(ctx context.Context, userID, id string) (*domain.Notification, error) {
	return s.findOne(ctx, bson.M{"id": id, "user_id": userID})
}

func listFilter(userID string, f notification.ListFilter) bson.M {
	filter := bson.M{"user_id": userID}
	if f.UnreadOnly {
		filter["is_read"] = false
	}
	if f.Type != "" {
		filter["type"] = string(f.Type)
	}
	return filter
}

func (s *NotificationStore) List(ctx context.Context, userID string, f notification.ListFilter) ([]*domain.Notification, int64, error) {
	filter := listFilter(userID, f)

	total, err := s.coll.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("count notifications: %w", err)
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "id", Value: -1}}).
		SetSkip(int64(f.Offset))
	if f.Limit > 0 {
		opts.SetLimit(int64(f.Limit))
	}
	cur, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("find notifications: %w", err)
	}
	defer cur.Close(ctx)

	var items []*domain.Notification
	for cur.Next(ctx) {
		var doc notificationDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, 0, err
		}
		n, err := doc.toDomain()
		if err != nil {
			return nil, 0, err
		}
		items = append(items, n)
	}
	return items, total, cur.Err()
}

func (s *NotificationStore) CountUnread(ctx context.Context, userID string) (int64, error) {
	return s.coll.CountDocuments(ctx, bson.M{"user_id": userID, "is_read": false})
}

func (s *NotificationStore) MarkRead(ctx context.Context, userID, id string, at time.Time) error {
	res, err := s.coll.UpdateOne(ctx,
		bson.M{"id": id, "user_id": userID, "is_read": false},
		bson.M{"$set": bson.M{"is_read": true, "read_at": at.UTC()}},
	)
	if err != nil {
		return fmt.Errorf("mark notification %s read: %w", id, err)
	}
	if res.MatchedCount > 0 {
		return nil
	}
	// Already read, or not the caller's.
	n, err := s.coll.CountDocuments(ctx, bson.M{"id": id, "user_id": userID})
	if err != nil {
		return err
	}
	if n == 0 {
		return notification.ErrNotFound
	}
	return nil
}

func (s *NotificationStore) MarkAllRead(ctx context.Context, userID string, at time.Time) (int64, error) {
	res, err := s.coll.UpdateMany(ctx,
		bson.M{"user_id": userID, "is_read": false},
		bson.M{"$set": bson.M{"is_read": true, "read_at": at.UTC()}},
	)
	if err != nil {
		return 0, fmt.Errorf("mark all read for %s: %w", userID, err)
	}
	return res.ModifiedCount, nil
}

func (s *NotificationStore) UpdateDeliveries(ctx context.Context, n *domain.Notification) error {
	res, err := s.coll.UpdateOne(ctx,
		bson.M{"id": n.ID},
		bson.M{"$set": bson.M{
			"deliveries": toDeliveryDocs(n.Deliveries),
			"suppressed": channelStrings(n.Suppressed),
		}},
	)
	if err != nil {
		return fmt.Errorf("update deliveries of %s: %w", n.ID, err)
	}
	if res.MatchedCount == 0 {
		return notification.ErrNotFound
	}
	return nil
}

// retryableFilter selects unexpired records with at least one failed,
// correctly configured external channel under the cap.
func retryableFilter(maxRetries int, now time.Time) bson.M {
	return bson.M{
		"deliveries": bson.M{"$elemMatch": bson.M{
			"channel":       bson.M{"$ne": string(domain.ChannelInApp)},
			"status":        string(domain.DeliveryFailed),
			"misconfigured": bson.M{"$ne": true},
			"attempts":      bson.M{"$lt": maxRetries},
		}},
		"$or": bson.A{
			bson.M{"expires_at": nil},
			bson.M{"expires_at": bson.M{"$gt": now.UTC()}},
		},
	}
}

func (s *NotificationStore) EachRetryable(ctx context.Context, maxRetries int, now time.Time, fn func(*domain.Notification) error) error {
	return s.each(ctx, retryableFilter(maxRetries, now), fn)
}

func (s *NotificationStore) EachSince(ctx context.Context, since time.Time, fn func(*domain.Notification) error) error {
	return s.each(ctx, bson.M{"created_at": bson.M{"$gte": since.UTC()}}, fn)
}

func (s *NotificationStore) each(ctx context.Context, filter bson.M, fn func(*domain.Notification) error) error {
	cur, err := s.coll.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return fmt.Errorf("find notifications: %w", err)
	}
	defer cur.Close(ctx)

	for cur.Next(ctx) {
		var doc notificationDoc
		if err := cur.Decode(&doc); err != nil {
			return fmt.Errorf("decode notification: %w", err)
		}
		n, err := doc.toDomain()
		if err != nil {
			return err
		}
		if err := fn(n); err != nil {
			return err
		}
	}
	return cur.Err()
}

func (s *NotificationStore) DeleteReadBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.coll.DeleteMany(ctx, bson.M{
		"is_read":    true,
		"created_at": bson.M{"$lt": cutoff.UTC()},
	})
	if err != nil {
		return 0, fmt.Errorf("delete read notifications before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	return res.DeletedCount, nil
}
