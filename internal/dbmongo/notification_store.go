package dbmongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"billingdesk/internal/common"
)

const notificationsCollection = "notifications"

type notificationStore struct {
	col *mongo.Collection
	now func() time.Time
}

func NewNotificationStore(mc *MongoClient) common.NotificationRepository {
	return &notificationStore{
		col: mc.Database.Collection(notificationsCollection),
		now: func() time.Time { return time.Now().UTC() },
	}
}

// EnsureNotificationIndexes creates the indexes the upsert engine relies on.
// The partial unique index allows one unresolved row per identity hash while
// resolved history and legacy rows without a hash are left alone.
func EnsureNotificationIndexes(ctx context.Context, mc *MongoClient, retention time.Duration) error {
	col := mc.Database.Collection(notificationsCollection)
	_, err := col.Indexes().CreateMany(ctx, notificationIndexes(retention))
	return storeErr("ensure notification indexes", err)
}

func notificationIndexes(retention time.Duration) []mongo.IndexModel {
	return []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "identity_hash", Value: 1}},
			Options: options.Index().
				SetName("uniq_active_identity").
				SetUnique(true).
				SetPartialFilterExpression(bson.M{
					"identity_hash": bson.M{"$exists": true},
					"is_resolved":   false,
				}),
		},
		{
			Keys:    bson.D{{Key: "is_resolved", Value: 1}, {Key: "kind", Value: 1}, {Key: "last_updated", Value: -1}},
			Options: options.Index().SetName("active_feed"),
		},
		{
			Keys: bson.D{{Key: "resolved_at", Value: 1}},
			Options: options.Index().
				SetName("resolved_ttl").
				SetExpireAfterSeconds(int32(retention.Seconds())),
		},
	}
}

func (s *notificationStore) Insert(ctx context.Context, n *common.Notification) error {
	_, err := s.col.InsertOne(ctx, n)
	return storeErr("insert notification", err)
}

func activeByHashFilter(hash string, since time.Time) bson.M {
	filter := bson.M{"identity_hash": hash, "is_resolved": false}
	if !since.IsZero() {
		filter["created_at"] = bson.M{"$gte": since}
	}
	return filter
}

func (s *notificationStore) FindActiveByHash(ctx context.Context, hash string, since time.Time) (*common.Notification, error) {
	var n common.Notification
	opts := options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}})
	if err := s.col.FindOne(ctx, activeByHashFilter(hash, since), opts).Decode(&n); err != nil {
		return nil, storeErr("find active notification", err)
	}
	return &n, nil
}

func (s *notificationStore) ByID(ctx context.Context, id string) (*common.Notification, error) {
	var n common.Notification
	if err := s.col.FindOne(ctx, bson.M{"_id": id}).Decode(&n); err != nil {
		return nil, storeErr("get notification", err)
	}
	return &n, nil
}

func activeByIDFilter(id string) bson.M {
	return bson.M{"_id": id, "is_resolved": false}
}

// ApplyUpdate only touches an unresolved row; a row resolved since it was
// read comes back as ErrNotFound.
func (s *notificationStore) ApplyUpdate(ctx context.Context, id string, fields map[string]interface{}) (*common.Notification, error) {
	return s.findOneAndSet(ctx, "update notification", activeByIDFilter(id), bson.M(fields))
}

func listActiveFilter(f common.ListFilter) bson.M {
	filter := bson.M{"is_resolved": false}
	if len(f.Kinds) == 1 {
		filter["kind"] = f.Kinds[0]
	} else if len(f.Kinds) > 1 {
		filter["kind"] = bson.M{"$in": f.Kinds}
	}
	return filter
}

func (s *notificationStore) ListActive(ctx context.Context, f common.ListFilter) ([]*common.Notification, error) {
	opts := options.Find().SetSort(bson.D{{Key: "last_updated", Value: -1}})
	if f.Limit > 0 {
		opts.SetLimit(f.Limit)
	}
	out, err := findAll[common.Notification](ctx, s.col, listActiveFilter(f), opts)
	if err != nil {
		return nil, storeErr("list active notifications", err)
	}
	return out, nil
}

func (s *notificationStore) UnreadCount(ctx context.Context) (int64, error) {
	count, err := s.col.CountDocuments(ctx, bson.M{"is_resolved": false, "is_read": false})
	if err != nil {
		return 0, storeErr("count unread notifications", err)
	}
	return count, nil
}

func (s *notificationStore) MarkAsRead(ctx context.Context, id string) (*common.Notification, error) {
	return s.setActive(ctx, "mark notification read", id, bson.M{
		"is_read":      true,
		"last_updated": s.now(),
	})
}

func (s *notificationStore) MarkAllRead(ctx context.Context) (int64, error) {
	res, err := s.col.UpdateMany(ctx,
		bson.M{"is_resolved": false, "is_read": false},
		bson.M{"$set": bson.M{"is_read": true, "last_updated": s.now()}},
	)
	if err != nil {
		return 0, storeErr("mark all notifications read", err)
	}
	return res.ModifiedCount, nil
}

func resolveSet(note string, at time.Time) bson.M {
	set := bson.M{
		"is_resolved":  true,
		"resolved_at":  at,
		"last_updated": at,
	}
	if note != "" {
		set["resolution_note"] = note
	}
	return set
}

func (s *notificationStore) Resolve(ctx context.Context, id, note string) (*common.Notification, error) {
	return s.setActive(ctx, "resolve notification", id, resolveSet(note, s.now()))
}

func (s *notificationStore) ResolveByHash(ctx context.Context, hash, note string) ([]*common.Notification, error) {
	active, err := findAll[common.Notification](ctx, s.col, activeByHashFilter(hash, time.Time{}), options.Find())
	if err != nil {
		return nil, storeErr("find notifications to resolve", err)
	}
	if len(active) == 0 {
		return nil, nil
	}

	now := s.now()
	ids := make([]string, len(active))
	for i, n := range active {
		ids[i] = n.ID
		n.IsResolved = true
		n.ResolvedAt = &now
		n.LastUpdated = now
		if note != "" {
			n.ResolutionNote = note
		}
	}

	_, err = s.col.UpdateMany(ctx,
		bson.M{"_id": bson.M{"$in": ids}, "is_resolved": false},
		bson.M{"$set": resolveSet(note, now)},
	)
	if err != nil {
		return nil, storeErr("resolve notifications by hash", err)
	}
	return active, nil
}

func (s *notificationStore) Delete(ctx context.Context, id string) (*common.Notification, error) {
	var n common.Notification
	if err := s.col.FindOneAndDelete(ctx, bson.M{"_id": id}).Decode(&n); err != nil {
		return nil, storeErr("delete notification", err)
	}
	return &n, nil
}

func (s *notificationStore) ClearResolved(ctx context.Context) (int64, error) {
	res, err := s.col.DeleteMany(ctx, bson.M{"is_resolved": true})
	if err != nil {
		return 0, storeErr("clear resolved notifications", err)
	}
	return res.DeletedCount, nil
}

// setActive updates an unresolved row. A row that exists but is already
// resolved is left untouched and reported as ErrAlreadyResolved.
func (s *notificationStore) setActive(ctx context.Context, op, id string, set bson.M) (*common.Notification, error) {
	n, err := s.findOneAndSet(ctx, op, activeByIDFilter(id), set)
	if !errors.Is(err, common.ErrNotFound) {
		return n, err
	}
	count, cerr := s.col.CountDocuments(ctx, bson.M{"_id": id})
	if cerr != nil {
		return nil, storeErr(op, cerr)
	}
	if count > 0 {
		return nil, fmt.Errorf("%s %s: %w", op, id, common.ErrAlreadyResolved)
	}
	return nil, err
}

func (s *notificationStore) findOneAndSet(ctx context.Context, op string, filter, set bson.M) (*common.Notification, error) {
	var n common.Notification
	err := s.col.FindOneAndUpdate(ctx, filter, bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&n)
	if err != nil {
		return nil, storeErr(op, err)
	}
	return &n, nil
}
