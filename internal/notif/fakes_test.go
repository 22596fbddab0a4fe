package notif

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"billingdesk/internal/common"
)

// memStore is an in-memory NotificationRepository that enforces the same
// one-unresolved-row-per-hash constraint as the partial unique index.
type memStore struct {
	mu   sync.Mutex
	rows map[string]*common.Notification
	now  func() time.Time

	// failList makes ListActive fail when set
	failList error
}

func newMemStore() *memStore {
	return &memStore{
		rows: map[string]*common.Notification{},
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func clone(n *common.Notification) *common.Notification {
	c := *n
	return &c
}

func (s *memStore) Insert(_ context.Context, n *common.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[n.ID]; ok {
		return common.ErrDuplicateIdentity
	}
	if n.IdentityHash != "" {
		for _, row := range s.rows {
			if row.IdentityHash == n.IdentityHash && !row.IsResolved {
				return common.ErrDuplicateIdentity
			}
		}
	}
	s.rows[n.ID] = clone(n)
	return nil
}

func (s *memStore) FindActiveByHash(_ context.Context, hash string, since time.Time) (*common.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *common.Notification
	for _, row := range s.rows {
		if row.IdentityHash != hash || row.IsResolved {
			continue
		}
		if !since.IsZero() && row.CreatedAt.Before(since) {
			continue
		}
		if best == nil || row.CreatedAt.After(best.CreatedAt) {
			best = row
		}
	}
	if best == nil {
		return nil, common.ErrNotFound
	}
	return clone(best), nil
}

func (s *memStore) ByID(_ context.Context, id string) (*common.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	return clone(row), nil
}

func (s *memStore) ApplyUpdate(_ context.Context, id string, fields map[string]interface{}) (*common.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok || row.IsResolved {
		return nil, common.ErrNotFound
	}
	for k, v := range fields {
		switch k {
		case "kind":
			row.Kind = common.NotificationKind(v.(string))
		case "title":
			row.Title = v.(string)
		case "message":
			row.Message = v.(string)
		case "priority":
			row.Priority = common.Priority(v.(string))
		case "color":
			row.Color = v.(string)
		case "category":
			row.Category = v.(string)
		case "current_stock":
			x := v.(int)
			row.CurrentStock = &x
		case "min_stock":
			x := v.(int)
			row.MinStock = &x
		case "days_since":
			x := v.(int)
			row.DaysSince = &x
		case "amount":
			x := v.(float64)
			row.Amount = &x
		case "is_read":
			row.IsRead = v.(bool)
		case "is_resolved":
			row.IsResolved = v.(bool)
		case "product_name":
			row.ProductName = v.(string)
		case "customer_phone":
			row.CustomerPhone = v.(string)
		case "payment_mode":
			row.PaymentMode = v.(string)
		case "last_updated":
			row.LastUpdated = v.(time.Time)
		case "created_at":
			row.CreatedAt = v.(time.Time)
		case "resolved_at":
			t := v.(time.Time)
			row.ResolvedAt = &t
		default:
			return nil, errors.New("memStore: unexpected field " + k)
		}
	}
	return clone(row), nil
}

func (s *memStore) ListActive(_ context.Context, f common.ListFilter) ([]*common.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failList != nil {
		return nil, s.failList
	}
	out := []*common.Notification{}
	for _, row := range s.rows {
		if row.IsResolved {
			continue
		}
		if len(f.Kinds) > 0 && !containsKind(f.Kinds, row.Kind) {
			continue
		}
		out = append(out, clone(row))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastUpdated.After(out[j].LastUpdated) })
	if f.Limit > 0 && int64(len(out)) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func containsKind(kinds []common.NotificationKind, k common.NotificationKind) bool {
	for _, x := range kinds {
		if x == k {
			return true
		}
	}
	return false
}

func (s *memStore) UnreadCount(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, row := range s.rows {
		if !row.IsResolved && !row.IsRead {
			n++
		}
	}
	return n, nil
}

func (s *memStore) MarkAsRead(_ context.Context, id string) (*common.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	if row.IsResolved {
		return nil, common.ErrAlreadyResolved
	}
	row.IsRead = true
	row.LastUpdated = s.now()
	return clone(row), nil
}

func (s *memStore) MarkAllRead(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, row := range s.rows {
		if !row.IsResolved && !row.IsRead {
			row.IsRead = true
			n++
		}
	}
	return n, nil
}

func (s *memStore) resolveLocked(row *common.Notification, note string) {
	now := s.now()
	row.IsResolved = true
	row.ResolvedAt = &now
	row.LastUpdated = now
	if note != "" {
		row.ResolutionNote = note
	}
}

func (s *memStore) Resolve(_ context.Context, id, note string) (*common.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	if row.IsResolved {
		return nil, common.ErrAlreadyResolved
	}
	s.resolveLocked(row, note)
	return clone(row), nil
}

func (s *memStore) ResolveByHash(_ context.Context, hash, note string) ([]*common.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*common.Notification
	for _, row := range s.rows {
		if row.IdentityHash == hash && !row.IsResolved {
			s.resolveLocked(row, note)
			out = append(out, clone(row))
		}
	}
	return out, nil
}

func (s *memStore) Delete(_ context.Context, id string) (*common.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	delete(s.rows, id)
	return row, nil
}

func (s *memStore) ClearResolved(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, row := range s.rows {
		if row.IsResolved {
			delete(s.rows, id)
			n++
		}
	}
	return n, nil
}

// all returns every stored row, resolved or not.
func (s *memStore) all() []*common.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*common.Notification, 0, len(s.rows))
	for _, row := range s.rows {
		out = append(out, clone(row))
	}
	return out
}

// recorder captures published events in order.
type recorder struct {
	mu     sync.Mutex
	events []common.NotificationEvent
}

func (r *recorder) PublishAsync(event common.NotificationEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recorder) kinds() []common.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]common.EventKind, len(r.events))
	for i, e := range r.events {
		out[i] = e.Kind
	}
	return out
}

type fakeProducts struct {
	mu       sync.Mutex
	products map[string]*common.Product
}

func newFakeProducts(ps ...*common.Product) *fakeProducts {
	f := &fakeProducts{products: map[string]*common.Product{}}
	for _, p := range ps {
		f.products[p.ID] = p
	}
	return f
}

func (f *fakeProducts) set(id string, stock int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.products[id].Stock = stock
}

func (f *fakeProducts) BelowThreshold(_ context.Context, limit int64) ([]*common.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*common.Product
	for _, p := range f.products {
		if p.Stock <= p.MinStock {
			c := *p
			out = append(out, &c)
		}
	}
	return out, nil
}

func (f *fakeProducts) ByIDs(_ context.Context, ids []string) ([]*common.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*common.Product
	for _, id := range ids {
		if p, ok := f.products[id]; ok {
			c := *p
			out = append(out, &c)
		}
	}
	return out, nil
}

func (f *fakeProducts) ByID(_ context.Context, id string) (*common.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.products[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	c := *p
	return &c, nil
}

type fakeTaxes struct {
	pending []*common.TaxEntry
	paid    []*common.TaxEntry
	err     error
}

func (f *fakeTaxes) Pending(context.Context, int64) ([]*common.TaxEntry, error) {
	return f.pending, f.err
}

func (f *fakeTaxes) PaidSince(context.Context, time.Time, int64) ([]*common.TaxEntry, error) {
	return f.paid, f.err
}

type fakeOrders struct {
	pending []*common.Order
	paid    []*common.Order
}

func (f *fakeOrders) PendingPayment(context.Context, int64) ([]*common.Order, error) {
	return f.pending, nil
}

func (f *fakeOrders) PaidSince(context.Context, time.Time, int64) ([]*common.Order, error) {
	return f.paid, nil
}

const testRetention = 30 * 24 * time.Hour

func newTestEngine() (*Engine, *memStore, *recorder) {
	store := newMemStore()
	rec := &recorder{}
	return NewEngine(store, rec, testRetention, zap.NewNop().Sugar()), store, rec
}

func boolPtr(v bool) *bool { return &v }
