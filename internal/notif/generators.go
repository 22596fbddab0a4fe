package notif

import (
	"context"
	"errors"
	"fmt"
	"time"

	"billingdesk/internal/common"
	"billingdesk/internal/config"
)

const (
	colorRed    = "red"
	colorOrange = "orange"
	colorBlue   = "blue"
)

// alertSink is what a generator feeds: the upsert engine.
type alertSink interface {
	Upsert(ctx context.Context, c Candidate, requestedBy string) (*UpsertResult, error)
	ResolveIdentity(ctx context.Context, hash, note string) ([]*common.Notification, error)
}

// Generator scans one source collection and keeps its alerts in step with it.
// Scan and Sweep are idempotent: unchanged source data produces no writes.
type Generator interface {
	Name() string
	Scan(ctx context.Context, report *GeneratorReport) error
	Sweep(ctx context.Context, report *GeneratorReport) error
}

type GeneratorReport struct {
	Generator string `json:"generator"`
	Created   int    `json:"created"`
	Updated   int    `json:"updated"`
	Unchanged int    `json:"unchanged"`
	Recovered int    `json:"recovered"`
	Resolved  int    `json:"resolved"`
	Error     string `json:"error,omitempty"`
}

func (r *GeneratorReport) record(res *UpsertResult) {
	switch res.Action {
	case ActionCreated:
		r.Created++
	case ActionUpdated:
		r.Updated++
	case ActionUnchanged:
		r.Unchanged++
	case ActionRecovered:
		r.Recovered++
	}
}

func daysBetween(from, to time.Time) int {
	if from.IsZero() || to.Before(from) {
		return 0
	}
	return int(to.Sub(from).Hours() / 24)
}

func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }

// upsertAll pushes every candidate and keeps going past individual failures.
func upsertAll(ctx context.Context, sink alertSink, source string, candidates []Candidate, report *GeneratorReport) error {
	var errs []error
	for _, c := range candidates {
		res, err := sink.Upsert(ctx, c, source)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		report.record(res)
	}
	return errors.Join(errs...)
}

// ---- stock ----

type StockGenerator struct {
	products      common.ProductRepository
	notifications common.NotificationRepository
	sink          alertSink
	limit         int64
}

func NewStockGenerator(products common.ProductRepository, notifications common.NotificationRepository, sink alertSink, limit int64) *StockGenerator {
	return &StockGenerator{products: products, notifications: notifications, sink: sink, limit: limit}
}

func (g *StockGenerator) Name() string { return "stock" }

func stockIdentity(productID string) *common.Notification {
	return &common.Notification{Kind: common.KindLowStock, ProductID: productID}
}

func stockCandidate(p *common.Product) Candidate {
	n := common.Notification{
		ProductID:    p.ID,
		ProductName:  p.Name,
		CurrentStock: intPtr(p.Stock),
		MinStock:     intPtr(p.MinStock),
		Category:     "inventory",
	}

	if p.Stock <= 0 {
		n.Kind = common.KindOutOfStock
		n.Title = "Out of Stock!"
		n.Message = fmt.Sprintf("%s is out of stock. Reorder now.", p.Name)
		n.Priority = common.PriorityHigh
		n.Color = colorRed
	} else {
		n.Kind = common.KindLowStock
		n.Title = "Low Stock Alert"
		n.Message = fmt.Sprintf("%s is running low: %d left (minimum %d).", p.Name, p.Stock, p.MinStock)
		n.Priority = common.PriorityMedium
		if p.Stock*2 <= p.MinStock {
			n.Priority = common.PriorityHigh
		}
		n.Color = colorOrange
	}
	return Candidate{Notification: n}
}

func (g *StockGenerator) Scan(ctx context.Context, report *GeneratorReport) error {
	products, err := g.products.BelowThreshold(ctx, g.limit)
	if err != nil {
		return err
	}
	candidates := make([]Candidate, 0, len(products))
	for _, p := range products {
		candidates = append(candidates, stockCandidate(p))
	}
	return upsertAll(ctx, g.sink, "generator:stock", candidates, report)
}

// Sweep resolves stock alerts whose product is back above its minimum.
func (g *StockGenerator) Sweep(ctx context.Context, report *GeneratorReport) error {
	active, err := g.notifications.ListActive(ctx, common.ListFilter{
		Kinds: []common.NotificationKind{common.KindLowStock, common.KindOutOfStock},
		Limit: g.limit,
	})
	if err != nil {
		return err
	}
	if len(active) == 0 {
		return nil
	}

	ids := make([]string, 0, len(active))
	for _, n := range active {
		ids = append(ids, n.ProductID)
	}
	products, err := g.products.ByIDs(ctx, ids)
	if err != nil {
		return err
	}
	byID := make(map[string]*common.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	var errs []error
	for _, n := range active {
		note := ""
		if p, ok := byID[n.ProductID]; !ok {
			note = "product no longer in catalog"
		} else if p.Stock > p.MinStock {
			note = fmt.Sprintf("restocked to %d units", p.Stock)
		} else {
			continue
		}
		resolved, err := g.sink.ResolveIdentity(ctx, IdentityHash(stockIdentity(n.ProductID)), note)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		report.Resolved += len(resolved)
	}
	return errors.Join(errs...)
}

// CheckProduct re-evaluates one product after a stock change. A negative
// currentStock means "use the stored stock level".
func (g *StockGenerator) CheckProduct(ctx context.Context, productID string, currentStock int) (*GeneratorReport, error) {
	report := &GeneratorReport{Generator: g.Name()}
	p, err := g.products.ByID(ctx, productID)
	if err != nil {
		return report, err
	}
	if currentStock >= 0 {
		p.Stock = currentStock
	}

	if p.Stock <= p.MinStock {
		res, err := g.sink.Upsert(ctx, stockCandidate(p), "realtime:stock_changed")
		if err != nil {
			return report, err
		}
		report.record(res)
		return report, nil
	}

	resolved, err := g.sink.ResolveIdentity(ctx, IdentityHash(stockIdentity(p.ID)), fmt.Sprintf("restocked to %d units", p.Stock))
	if err != nil {
		return report, err
	}
	report.Resolved = len(resolved)
	return report, nil
}

// ---- GST ----

type GstGenerator struct {
	taxes    common.TaxEntryRepository
	sink     alertSink
	limit    int64
	lookback time.Duration
	now      func() time.Time
}

func NewGstGenerator(taxes common.TaxEntryRepository, sink alertSink, limit int64, lookback time.Duration) *GstGenerator {
	return &GstGenerator{taxes: taxes, sink: sink, limit: limit, lookback: lookback, now: time.Now}
}

func (g *GstGenerator) Name() string { return "gst" }

func gstIdentity(e *common.TaxEntry) common.Notification {
	return common.Notification{
		Kind:          common.KindGstAlert,
		TaxID:         e.ID,
		InvoiceNumber: e.InvoiceNumber,
		CustomerName:  e.CustomerName,
		GSTIN:         e.GSTIN,
	}
}

func gstCandidate(e *common.TaxEntry, now time.Time) Candidate {
	n := gstIdentity(e)
	days := daysBetween(e.InvoiceDate, now)
	n.Amount = floatPtr(e.TaxAmount)
	n.DaysSince = intPtr(days)
	n.Category = "tax"

	switch {
	case days > 7:
		n.Title = "GST Payment Overdue!"
		n.Priority = common.PriorityHigh
		n.Color = colorRed
		n.Message = fmt.Sprintf("GST of ₹%.2f for invoice %s (%s) is overdue by %d days.", e.TaxAmount, e.InvoiceNumber, e.CustomerName, days)
	case days > 3:
		n.Title = "GST Payment Due Soon"
		n.Priority = common.PriorityMedium
		n.Color = colorOrange
		n.Message = fmt.Sprintf("GST of ₹%.2f for invoice %s (%s) has been pending for %d days.", e.TaxAmount, e.InvoiceNumber, e.CustomerName, days)
	default:
		n.Title = "GST Payment Pending"
		n.Priority = common.PriorityLow
		n.Color = colorBlue
		n.Message = fmt.Sprintf("GST of ₹%.2f for invoice %s (%s) is pending.", e.TaxAmount, e.InvoiceNumber, e.CustomerName)
	}
	return Candidate{Notification: n}
}

func (g *GstGenerator) Scan(ctx context.Context, report *GeneratorReport) error {
	entries, err := g.taxes.Pending(ctx, g.limit)
	if err != nil {
		return err
	}
	now := g.now()
	candidates := make([]Candidate, 0, len(entries))
	for _, e := range entries {
		candidates = append(candidates, gstCandidate(e, now))
	}
	return upsertAll(ctx, g.sink, "generator:gst", candidates, report)
}

func (g *GstGenerator) Sweep(ctx context.Context, report *GeneratorReport) error {
	paid, err := g.taxes.PaidSince(ctx, g.now().Add(-g.lookback), g.limit)
	if err != nil {
		return err
	}
	var errs []error
	for _, e := range paid {
		id := gstIdentity(e)
		resolved, err := g.sink.ResolveIdentity(ctx, IdentityHash(&id), fmt.Sprintf("GST paid for invoice %s", e.InvoiceNumber))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		report.Resolved += len(resolved)
	}
	return errors.Join(errs...)
}

// ---- payments ----

type PaymentGenerator struct {
	orders    common.OrderRepository
	sink      alertSink
	limit     int64
	highValue float64
	lookback  time.Duration
	now       func() time.Time
}

func NewPaymentGenerator(orders common.OrderRepository, sink alertSink, limit int64, highValue float64, lookback time.Duration) *PaymentGenerator {
	return &PaymentGenerator{orders: orders, sink: sink, limit: limit, highValue: highValue, lookback: lookback, now: time.Now}
}

func (g *PaymentGenerator) Name() string { return "payment" }

func paymentIdentity(o *common.Order) common.Notification {
	return common.Notification{
		Kind:         common.KindPaymentAlert,
		OrderID:      o.ID,
		BillNumber:   o.BillNumber,
		CustomerName: o.CustomerName,
	}
}

func paymentCandidate(o *common.Order, now time.Time, highValue float64) Candidate {
	n := paymentIdentity(o)
	days := daysBetween(o.CreatedAt, now)
	n.CustomerPhone = o.CustomerPhone
	n.PaymentMode = o.PaymentMode
	n.Amount = floatPtr(o.Total)
	n.DaysSince = intPtr(days)
	n.Category = "payments"
	n.Message = fmt.Sprintf("Bill %s for %s: ₹%.2f pending for %d days.", o.BillNumber, o.CustomerName, o.Total, days)

	switch {
	case days > 7:
		n.Title = "Payment Overdue!"
		n.Priority = common.PriorityHigh
		n.Color = colorRed
	case highValue > 0 && o.Total >= highValue:
		n.Title = "High Value Payment Pending"
		n.Priority = common.PriorityHigh
		n.Color = colorRed
	case days > 3:
		n.Title = "Payment Reminder"
		n.Priority = common.PriorityMedium
		n.Color = colorOrange
	default:
		n.Title = "Payment Pending"
		n.Priority = common.PriorityLow
		n.Color = colorBlue
	}
	return Candidate{Notification: n}
}

func (g *PaymentGenerator) Scan(ctx context.Context, report *GeneratorReport) error {
	orders, err := g.orders.PendingPayment(ctx, g.limit)
	if err != nil {
		return err
	}
	now := g.now()
	candidates := make([]Candidate, 0, len(orders))
	for _, o := range orders {
		candidates = append(candidates, paymentCandidate(o, now, g.highValue))
	}
	return upsertAll(ctx, g.sink, "generator:payment", candidates, report)
}

func (g *PaymentGenerator) Sweep(ctx context.Context, report *GeneratorReport) error {
	paid, err := g.orders.PaidSince(ctx, g.now().Add(-g.lookback), g.limit)
	if err != nil {
		return err
	}
	var errs []error
	for _, o := range paid {
		id := paymentIdentity(o)
		resolved, err := g.sink.ResolveIdentity(ctx, IdentityHash(&id), fmt.Sprintf("payment received for bill %s", o.BillNumber))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		report.Resolved += len(resolved)
	}
	return errors.Join(errs...)
}

// NewGenerators builds the three generators the feed runs.
func NewGenerators(
	cfg *config.Config,
	engine *Engine,
	notifications common.NotificationRepository,
	products common.ProductRepository,
	taxes common.TaxEntryRepository,
	orders common.OrderRepository,
) (*StockGenerator, []Generator) {
	limit := cfg.Notification.ScanLimit
	stock := NewStockGenerator(products, notifications, engine, limit)
	return stock, []Generator{
		stock,
		NewGstGenerator(taxes, engine, limit, cfg.Retention()),
		NewPaymentGenerator(orders, engine, limit, cfg.Notification.HighValueAmount, cfg.Retention()),
	}
}
