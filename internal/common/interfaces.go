package common

import (
	"context" // provides context for cancellation, deletion, update anything
	"time"
)

type Observer interface {
	Update(event NotificationEvent) error
	Name() string
}

type Subject interface {
	Subscribe(observer Observer)
	Unsubscribe(observer Observer)
	Publish(event NotificationEvent)
	PublishAsync(event NotificationEvent)
}

type NotificationRepository interface {
	Insert(ctx context.Context, notification *Notification) error
	FindActiveByHash(ctx context.Context, hash string, since time.Time) (*Notification, error)
	ByID(ctx context.Context, id string) (*Notification, error)
	ApplyUpdate(ctx context.Context, id string, fields map[string]interface{}) (*Notification, error)
	ListActive(ctx context.Context, filter ListFilter) ([]*Notification, error)
	UnreadCount(ctx context.Context) (int64, error)
	MarkAsRead(ctx context.Context, id string) (*Notification, error)
	MarkAllRead(ctx context.Context) (int64, error)
	Resolve(ctx context.Context, id, note string) (*Notification, error)
	ResolveByHash(ctx context.Context, hash, note string) ([]*Notification, error)
	Delete(ctx context.Context, id string) (*Notification, error)
	ClearResolved(ctx context.Context) (int64, error)
}

type ProductRepository interface {
	BelowThreshold(ctx context.Context, limit int64) ([]*Product, error)
	ByIDs(ctx context.Context, ids []string) ([]*Product, error)
	ByID(ctx context.Context, id string) (*Product, error)
}

type TaxEntryRepository interface {
	Pending(ctx context.Context, limit int64) ([]*TaxEntry, error)
	PaidSince(ctx context.Context, since time.Time, limit int64) ([]*TaxEntry, error)
}

type OrderRepository interface {
	PendingPayment(ctx context.Context, limit int64) ([]*Order, error)
	PaidSince(ctx context.Context, since time.Time, limit int64) ([]*Order, error)
}
