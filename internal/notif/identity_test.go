package notif

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"billingdesk/internal/common"
)

func TestIdentityHash_Deterministic(t *testing.T) {
	n := &common.Notification{Kind: common.KindGstAlert, InvoiceNumber: "INV-001", CustomerName: "Asha Traders"}

	h1 := IdentityHash(n)
	h2 := IdentityHash(n)

	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
}

func TestIdentityHash_IgnoresIncidentalFields(t *testing.T) {
	a := &common.Notification{Kind: common.KindLowStock, ProductID: "p-1", Title: "Low Stock Alert", CurrentStock: intPtr(3)}
	b := &common.Notification{Kind: common.KindLowStock, ProductID: "p-1", Title: "changed", CurrentStock: intPtr(1), OrderID: "o-9"}

	assert.Equal(t, IdentityHash(a), IdentityHash(b))
}

func TestIdentityHash_StockKindsShareFamily(t *testing.T) {
	low := &common.Notification{Kind: common.KindLowStock, ProductID: "p-1"}
	out := &common.Notification{Kind: common.KindOutOfStock, ProductID: "p-1"}

	assert.Equal(t, IdentityHash(low), IdentityHash(out))
}

func TestIdentityHash_DistinguishesKindsAndValues(t *testing.T) {
	gst := &common.Notification{Kind: common.KindGstAlert, InvoiceNumber: "INV-001"}
	sys := &common.Notification{Kind: common.KindSystemAlert, InvoiceNumber: "INV-001"}
	other := &common.Notification{Kind: common.KindGstAlert, InvoiceNumber: "INV-002"}

	assert.NotEqual(t, IdentityHash(gst), IdentityHash(sys))
	assert.NotEqual(t, IdentityHash(gst), IdentityHash(other))
}

func TestIdentityHash_CaseAndWhitespaceInsensitive(t *testing.T) {
	a := &common.Notification{Kind: common.KindPaymentAlert, OrderID: "ORD-7", BillNumber: "B-7"}
	b := &common.Notification{Kind: common.KindPaymentAlert, OrderID: " ord-7 ", BillNumber: "b-7"}

	assert.Equal(t, IdentityHash(a), IdentityHash(b))
}

func TestMissingIdentityFields(t *testing.T) {
	tests := []struct {
		name string
		n    *common.Notification
		want []IdentityField
	}{
		{"stock without product", &common.Notification{Kind: common.KindLowStock}, []IdentityField{FieldProductID}},
		{"stock ok", &common.Notification{Kind: common.KindOutOfStock, ProductID: "p"}, nil},
		{"payment without order", &common.Notification{Kind: common.KindPaymentAlert, BillNumber: "B-1"}, []IdentityField{FieldOrderID}},
		{"gst without gstin is fine", &common.Notification{Kind: common.KindGstAlert, InvoiceNumber: "INV-1"}, nil},
		{"system needs one field", &common.Notification{Kind: common.KindSystemAlert}, identitySlots},
		{"system with any field", &common.Notification{Kind: common.KindSystemAlert, CustomerName: "x"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MissingIdentityFields(tt.n))
		})
	}
}
