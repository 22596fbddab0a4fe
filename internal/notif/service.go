package notif

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"billingdesk/internal/common"
	"billingdesk/internal/config"
)

const (
	defaultFeedLimit = 100
	maxFeedLimit     = 500
	manualResolve    = "resolved manually"
)

// Feed is the active notification list plus what the generator pass reported.
type Feed struct {
	Notifications []*common.Notification `json:"notifications"`
	Reports       []*GeneratorReport     `json:"reports,omitempty"`
	Warnings      []string               `json:"warnings,omitempty"`
}

type Service struct {
	repo       common.NotificationRepository
	engine     *Engine
	stock      *StockGenerator
	generators []Generator
	log        *zap.SugaredLogger
}

func NewService(
	cfg *config.Config,
	repo common.NotificationRepository,
	engine *Engine,
	products common.ProductRepository,
	taxes common.TaxEntryRepository,
	orders common.OrderRepository,
	log *zap.SugaredLogger,
) *Service {
	stock, generators := NewGenerators(cfg, engine, repo, products, taxes, orders)
	return &Service{
		repo:       repo,
		engine:     engine,
		stock:      stock,
		generators: generators,
		log:        log,
	}
}

// Ingest upserts a notification pushed by an external caller.
func (s *Service) Ingest(ctx context.Context, c Candidate, requestedBy string) (*UpsertResult, error) {
	res, err := s.engine.Upsert(ctx, c, requestedBy)
	if err != nil {
		return nil, err
	}
	s.log.Debugw("notification ingested", "id", res.Notification.ID, "action", res.Action, "by", requestedBy)
	return res, nil
}

// RunGenerators runs every generator concurrently. A failing generator is
// logged and reported; it never stops the others.
func (s *Service) RunGenerators(ctx context.Context) ([]*GeneratorReport, []string) {
	reports := make([]*GeneratorReport, len(s.generators))

	var wg sync.WaitGroup
	for i, g := range s.generators {
		wg.Add(1)
		go func(i int, g Generator) {
			defer wg.Done()
			report := &GeneratorReport{Generator: g.Name()}
			var failures []string
			if err := g.Scan(ctx, report); err != nil {
				failures = append(failures, fmt.Sprintf("scan: %v", err))
			}
			if err := g.Sweep(ctx, report); err != nil {
				failures = append(failures, fmt.Sprintf("sweep: %v", err))
			}
			report.Error = strings.Join(failures, "; ")
			reports[i] = report
		}(i, g)
	}
	wg.Wait()

	var warnings []string
	for _, r := range reports {
		if r.Error == "" {
			continue
		}
		s.log.Warnw("generator failed", "generator", r.Generator, "error", r.Error)
		warnings = append(warnings, fmt.Sprintf("%s generator: %s", r.Generator, r.Error))
	}
	return reports, warnings
}

// ActiveFeed refreshes generated alerts and lists every unresolved notification,
// high priority first and newest first within a priority. Generator failures
// degrade to warnings; only a failing list query fails the call.
func (s *Service) ActiveFeed(ctx context.Context, filter common.ListFilter) (*Feed, error) {
	filter.Limit = clampLimit(filter.Limit)
	reports, warnings := s.RunGenerators(ctx)

	list, err := s.repo.ListActive(ctx, filter)
	if err != nil {
		return nil, err
	}
	sortFeed(list)

	return &Feed{Notifications: list, Reports: reports, Warnings: warnings}, nil
}

func (s *Service) ListByKind(ctx context.Context, kind common.NotificationKind, limit int64) ([]*common.Notification, error) {
	if !kind.IsValid() {
		return nil, fmt.Errorf("%w: unknown kind %q", common.ErrValidation, kind)
	}
	list, err := s.repo.ListActive(ctx, common.ListFilter{
		Kinds: []common.NotificationKind{kind},
		Limit: clampLimit(limit),
	})
	if err != nil {
		return nil, err
	}
	sortFeed(list)
	return list, nil
}

func (s *Service) UnreadCount(ctx context.Context) (int64, error) {
	return s.repo.UnreadCount(ctx)
}

func (s *Service) MarkRead(ctx context.Context, id string) (*common.Notification, error) {
	n, err := s.repo.MarkAsRead(ctx, id)
	if errors.Is(err, common.ErrAlreadyResolved) {
		return s.repo.ByID(ctx, id)
	}
	if err != nil {
		return nil, err
	}
	s.engine.publish(common.EventUpdated, n)
	return n, nil
}

func (s *Service) MarkAllRead(ctx context.Context) (int64, error) {
	return s.repo.MarkAllRead(ctx)
}

func (s *Service) Resolve(ctx context.Context, id, note string) (*common.Notification, error) {
	note = strings.TrimSpace(note)
	if note == "" {
		note = manualResolve
	}
	n, err := s.repo.Resolve(ctx, id, note)
	if errors.Is(err, common.ErrAlreadyResolved) {
		// resolved rows keep their note and timestamp
		return s.repo.ByID(ctx, id)
	}
	if err != nil {
		return nil, err
	}
	s.engine.publish(common.EventResolved, n)
	return n, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	n, err := s.repo.Delete(ctx, id)
	if err != nil {
		return err
	}
	s.engine.publish(common.EventDeleted, n)
	return nil
}

func (s *Service) ClearResolved(ctx context.Context) (int64, error) {
	return s.repo.ClearResolved(ctx)
}

// HandleStockChange re-checks one product after the counter reports a new stock level.
func (s *Service) HandleStockChange(ctx context.Context, productID string, currentStock int) error {
	if strings.TrimSpace(productID) == "" {
		return fmt.Errorf("%w: productId is required", common.ErrValidation)
	}
	report, err := s.stock.CheckProduct(ctx, productID, currentStock)
	if err != nil {
		return err
	}
	s.log.Debugw("stock change processed", "product", productID, "stock", currentStock,
		"created", report.Created, "updated", report.Updated, "resolved", report.Resolved)
	return nil
}

func clampLimit(limit int64) int64 {
	if limit <= 0 {
		return defaultFeedLimit
	}
	if limit > maxFeedLimit {
		return maxFeedLimit
	}
	return limit
}

func priorityRank(p common.Priority) int {
	switch p {
	case common.PriorityHigh:
		return 0
	case common.PriorityMedium:
		return 1
	default:
		return 2
	}
}

func sortFeed(list []*common.Notification) {
	sort.SliceStable(list, func(i, j int) bool {
		ri, rj := priorityRank(list[i].Priority), priorityRank(list[j].Priority)
		if ri != rj {
			return ri < rj
		}
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
}
