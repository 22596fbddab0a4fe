package common

import (
	"time"
)

type NotificationKind string

const (
	KindLowStock     NotificationKind = "LowStock"
	KindOutOfStock   NotificationKind = "OutOfStock"
	KindPaymentAlert NotificationKind = "PaymentAlert"
	KindGstAlert     NotificationKind = "GstAlert"
	KindSystemAlert  NotificationKind = "SystemAlert"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// EventKind is the action carried by a broadcast event.
type EventKind string

const (
	EventCreated  EventKind = "created"
	EventUpdated  EventKind = "updated"
	EventResolved EventKind = "resolved"
	EventDeleted  EventKind = "deleted"
)

// Notification is the persisted alert document. Context fields are kind dependent
// and omitted when empty.
type Notification struct {
	ID       string           `json:"id" bson:"_id"`
	Kind     NotificationKind `json:"kind" bson:"kind"`
	Title    string           `json:"title" bson:"title"`
	Message  string           `json:"message" bson:"message"`
	Priority Priority         `json:"priority" bson:"priority"`
	Color    string           `json:"color,omitempty" bson:"color,omitempty"`
	Category string           `json:"category,omitempty" bson:"category,omitempty"`

	ProductID     string   `json:"productId,omitempty" bson:"product_id,omitempty"`
	ProductName   string   `json:"productName,omitempty" bson:"product_name,omitempty"`
	CurrentStock  *int     `json:"currentStock,omitempty" bson:"current_stock,omitempty"`
	MinStock      *int     `json:"minStock,omitempty" bson:"min_stock,omitempty"`
	OrderID       string   `json:"orderId,omitempty" bson:"order_id,omitempty"`
	TaxID         string   `json:"taxId,omitempty" bson:"tax_id,omitempty"`
	InvoiceNumber string   `json:"invoiceNumber,omitempty" bson:"invoice_number,omitempty"`
	CustomerName  string   `json:"customerName,omitempty" bson:"customer_name,omitempty"`
	CustomerPhone string   `json:"customerPhone,omitempty" bson:"customer_phone,omitempty"`
	GSTIN         string   `json:"gstin,omitempty" bson:"gstin,omitempty"`
	BillNumber    string   `json:"billNumber,omitempty" bson:"bill_number,omitempty"`
	Amount        *float64 `json:"amount,omitempty" bson:"amount,omitempty"`
	PaymentMode   string   `json:"paymentMode,omitempty" bson:"payment_mode,omitempty"`
	DaysSince     *int     `json:"daysSince,omitempty" bson:"days_since,omitempty"`

	IsRead         bool   `json:"isRead" bson:"is_read"`
	IsResolved     bool   `json:"isResolved" bson:"is_resolved"`
	ResolutionNote string `json:"resolutionNote,omitempty" bson:"resolution_note,omitempty"`
	IdentityHash   string `json:"identityHash,omitempty" bson:"identity_hash,omitempty"`
	Source         string `json:"source,omitempty" bson:"source,omitempty"`

	CreatedAt   time.Time  `json:"createdAt" bson:"created_at"`
	LastUpdated time.Time  `json:"lastUpdated" bson:"last_updated"`
	ResolvedAt  *time.Time `json:"resolvedAt,omitempty" bson:"resolved_at,omitempty"`
}

// NotificationEvent is what the broadcast channel fans out.
type NotificationEvent struct {
	Kind         EventKind     `json:"event"`
	Notification *Notification `json:"notification"`
	Origin       string        `json:"origin,omitempty"`
	At           time.Time     `json:"at"`
}

// ListFilter narrows an active feed query. Empty Kinds means every kind.
type ListFilter struct {
	Kinds []NotificationKind
	Limit int64
}

type Product struct {
	ID        string    `json:"id" bson:"_id"`
	Name      string    `json:"name" bson:"name"`
	SKU       string    `json:"sku,omitempty" bson:"sku,omitempty"`
	Stock     int       `json:"stock" bson:"stock"`
	MinStock  int       `json:"minStock" bson:"min_stock"`
	UpdatedAt time.Time `json:"updatedAt" bson:"updated_at"`
}

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
)

// TaxEntry is a GST entry raised against an invoice.
type TaxEntry struct {
	ID            string        `json:"id" bson:"_id"`
	InvoiceNumber string        `json:"invoiceNumber" bson:"invoice_number"`
	CustomerName  string        `json:"customerName" bson:"customer_name"`
	GSTIN         string        `json:"gstin" bson:"gstin"`
	TaxAmount     float64       `json:"taxAmount" bson:"tax_amount"`
	Status        PaymentStatus `json:"status" bson:"status"`
	InvoiceDate   time.Time     `json:"invoiceDate" bson:"invoice_date"`
	PaidAt        *time.Time    `json:"paidAt,omitempty" bson:"paid_at,omitempty"`
}

// Order is a bill raised at the counter.
type Order struct {
	ID            string        `json:"id" bson:"_id"`
	BillNumber    string        `json:"billNumber" bson:"bill_number"`
	CustomerName  string        `json:"customerName" bson:"customer_name"`
	CustomerPhone string        `json:"customerPhone,omitempty" bson:"customer_phone,omitempty"`
	Total         float64       `json:"total" bson:"total"`
	PaymentMode   string        `json:"paymentMode" bson:"payment_mode"`
	PaymentStatus PaymentStatus `json:"paymentStatus" bson:"payment_status"`
	CreatedAt     time.Time     `json:"createdAt" bson:"created_at"`
	PaidAt        *time.Time    `json:"paidAt,omitempty" bson:"paid_at,omitempty"`
}
