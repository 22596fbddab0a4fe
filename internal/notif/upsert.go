package notif

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"billingdesk/internal/common"
	"billingdesk/internal/config"
)

type Action string

const (
	ActionCreated   Action = "created"
	ActionUpdated   Action = "updated"
	ActionUnchanged Action = "unchanged"
	ActionRecovered Action = "recovered"
)

const staleNote = "superseded: stale alert"

// Publisher is the slice of the broadcast channel the engine needs.
type Publisher interface {
	PublishAsync(event common.NotificationEvent)
}

// Candidate is a proposed notification. Zero-valued optional fields mean
// "no opinion" and are never compared or written on update.
type Candidate struct {
	common.Notification

	IsRead         *bool
	IsResolved     *bool
	ResetCreatedAt bool
}

type UpsertResult struct {
	Action       Action
	Notification *common.Notification
}

type Engine struct {
	repo      common.NotificationRepository
	publisher Publisher
	retention time.Duration
	now       func() time.Time
	log       *zap.SugaredLogger
}

func NewEngine(repo common.NotificationRepository, publisher Publisher, retention time.Duration, log *zap.SugaredLogger) *Engine {
	return &Engine{
		repo:      repo,
		publisher: publisher,
		retention: retention,
		now:       func() time.Time { return time.Now().UTC() },
		log:       log,
	}
}

func NewEngineFromConfig(cfg *config.Config, repo common.NotificationRepository, b *Broadcaster, log *zap.SugaredLogger) *Engine {
	return NewEngine(repo, b, cfg.Retention(), log)
}

func validateCandidate(n *common.Notification) error {
	if !n.Kind.IsValid() {
		return fmt.Errorf("%w: unknown kind %q", common.ErrValidation, n.Kind)
	}
	n.Title = strings.TrimSpace(n.Title)
	n.Message = strings.TrimSpace(n.Message)
	if n.Title == "" {
		return fmt.Errorf("%w: title is required", common.ErrValidation)
	}
	if n.Message == "" {
		return fmt.Errorf("%w: message is required", common.ErrValidation)
	}
	if n.Priority == "" {
		n.Priority = common.PriorityMedium
	}
	if !n.Priority.IsValid() {
		return fmt.Errorf("%w: unknown priority %q", common.ErrValidation, n.Priority)
	}
	if missing := MissingIdentityFields(n); len(missing) > 0 {
		names := make([]string, len(missing))
		for i, f := range missing {
			names[i] = string(f)
		}
		return fmt.Errorf("%w: %s requires %s", common.ErrValidation, n.Kind, strings.Join(names, ", "))
	}
	return nil
}

// Upsert turns a candidate into exactly one of created, updated, unchanged or
// recovered. Created and updated publish one event; the others publish nothing.
func (e *Engine) Upsert(ctx context.Context, c Candidate, requestedBy string) (*UpsertResult, error) {
	n := c.Notification
	if err := validateCandidate(&n); err != nil {
		return nil, err
	}
	if n.IdentityHash == "" {
		n.IdentityHash = IdentityHash(&n)
	}

	now := e.now()
	existing, err := e.repo.FindActiveByHash(ctx, n.IdentityHash, now.Add(-e.retention))
	switch {
	case err == nil:
		return e.update(ctx, existing, c, &n, requestedBy, now)
	case errors.Is(err, common.ErrNotFound):
		return e.create(ctx, &n, c, requestedBy, now)
	default:
		return nil, err
	}
}

func (e *Engine) create(ctx context.Context, n *common.Notification, c Candidate, requestedBy string, now time.Time) (*UpsertResult, error) {
	if c.IsResolved != nil && *c.IsResolved {
		return nil, fmt.Errorf("no active %s notification to resolve: %w", n.Kind, common.ErrNotFound)
	}

	n.ID = uuid.NewString()
	n.IsResolved = false
	n.ResolvedAt = nil
	n.ResolutionNote = ""
	n.IsRead = c.IsRead != nil && *c.IsRead
	n.CreatedAt = now
	n.LastUpdated = now
	if requestedBy != "" {
		n.Source = requestedBy
	}

	// one retry: either a stale row was retired or the winner vanished in between
	for attempt := 0; attempt < 2; attempt++ {
		err := e.repo.Insert(ctx, n)
		if err == nil {
			e.publish(common.EventCreated, n)
			return &UpsertResult{Action: ActionCreated, Notification: n}, nil
		}
		if !errors.Is(err, common.ErrDuplicateIdentity) {
			return nil, err
		}

		winner, ferr := e.repo.FindActiveByHash(ctx, n.IdentityHash, time.Time{})
		if errors.Is(ferr, common.ErrNotFound) {
			continue
		}
		if ferr != nil {
			return nil, ferr
		}

		if winner.CreatedAt.Before(now.Add(-e.retention)) {
			retired, rerr := e.repo.Resolve(ctx, winner.ID, staleNote)
			if rerr != nil && !errors.Is(rerr, common.ErrNotFound) && !errors.Is(rerr, common.ErrAlreadyResolved) {
				return nil, rerr
			}
			if retired != nil {
				e.publish(common.EventResolved, retired)
			}
			e.log.Infow("retired stale notification", "id", winner.ID, "kind", winner.Kind)
			continue
		}

		e.log.Debugw("recovered concurrent insert", "id", winner.ID, "hash", n.IdentityHash)
		return &UpsertResult{Action: ActionRecovered, Notification: winner}, nil
	}

	return nil, fmt.Errorf("%w: could not settle identity %s", common.ErrStoreUnavailable, n.IdentityHash)
}

func (e *Engine) update(ctx context.Context, existing *common.Notification, c Candidate, n *common.Notification, requestedBy string, now time.Time) (*UpsertResult, error) {
	fields := trackedChanges(existing, n, c)
	if len(fields) == 0 {
		return &UpsertResult{Action: ActionUnchanged, Notification: existing}, nil
	}

	for k, v := range displayFields(n) {
		fields[k] = v
	}
	fields["last_updated"] = now
	if c.ResetCreatedAt {
		fields["created_at"] = now
	}
	resolving := c.IsResolved != nil && *c.IsResolved
	if resolving {
		fields["resolved_at"] = now
	}

	updated, err := e.repo.ApplyUpdate(ctx, existing.ID, fields)
	if errors.Is(err, common.ErrNotFound) {
		// resolved or deleted since the lookup
		e.log.Debugw("active notification gone before update", "id", existing.ID, "hash", n.IdentityHash)
		return e.create(ctx, n, c, requestedBy, now)
	}
	if err != nil {
		return nil, err
	}

	if resolving {
		e.publish(common.EventResolved, updated)
	} else {
		e.publish(common.EventUpdated, updated)
	}
	return &UpsertResult{Action: ActionUpdated, Notification: updated}, nil
}

// trackedChanges returns the bson fields whose candidate value differs from the stored one.
func trackedChanges(old, n *common.Notification, c Candidate) map[string]interface{} {
	changes := map[string]interface{}{}

	setIfDiff := func(key, oldVal, newVal string) {
		if newVal != "" && newVal != oldVal {
			changes[key] = newVal
		}
	}
	setIfDiff("kind", string(old.Kind), string(n.Kind))
	setIfDiff("title", old.Title, n.Title)
	setIfDiff("message", old.Message, n.Message)
	setIfDiff("priority", string(old.Priority), string(n.Priority))
	setIfDiff("color", old.Color, n.Color)
	setIfDiff("category", old.Category, n.Category)

	if n.CurrentStock != nil && !intPtrEqual(old.CurrentStock, n.CurrentStock) {
		changes["current_stock"] = *n.CurrentStock
	}
	if n.MinStock != nil && !intPtrEqual(old.MinStock, n.MinStock) {
		changes["min_stock"] = *n.MinStock
	}
	if n.DaysSince != nil && !intPtrEqual(old.DaysSince, n.DaysSince) {
		changes["days_since"] = *n.DaysSince
	}
	if n.Amount != nil && (old.Amount == nil || *old.Amount != *n.Amount) {
		changes["amount"] = *n.Amount
	}
	if c.IsRead != nil && *c.IsRead != old.IsRead {
		changes["is_read"] = *c.IsRead
	}
	if c.IsResolved != nil && *c.IsResolved != old.IsResolved {
		changes["is_resolved"] = *c.IsResolved
	}
	return changes
}

// displayFields are refreshed alongside a tracked change but never trigger one.
func displayFields(n *common.Notification) map[string]interface{} {
	out := map[string]interface{}{}
	if n.ProductName != "" {
		out["product_name"] = n.ProductName
	}
	if n.CustomerPhone != "" {
		out["customer_phone"] = n.CustomerPhone
	}
	if n.PaymentMode != "" {
		out["payment_mode"] = n.PaymentMode
	}
	return out
}

func intPtrEqual(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func (e *Engine) publish(kind common.EventKind, n *common.Notification) {
	if e.publisher == nil {
		return
	}
	e.publisher.PublishAsync(common.NotificationEvent{
		Kind:         kind,
		Notification: n,
		At:           e.now(),
	})
}

// ResolveIdentity resolves every unresolved notification sharing the hash and
// publishes one resolved event per record.
func (e *Engine) ResolveIdentity(ctx context.Context, hash, note string) ([]*common.Notification, error) {
	resolved, err := e.repo.ResolveByHash(ctx, hash, note)
	if err != nil {
		return nil, err
	}
	for _, n := range resolved {
		e.publish(common.EventResolved, n)
	}
	return resolved, nil
}
