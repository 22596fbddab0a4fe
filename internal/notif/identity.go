package notif

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"billingdesk/internal/common"
)

// IdentityField names one slot of the identity digest.
type IdentityField string

const (
	FieldProductID     IdentityField = "productId"
	FieldOrderID       IdentityField = "orderId"
	FieldTaxID         IdentityField = "taxId"
	FieldInvoiceNumber IdentityField = "invoiceNumber"
	FieldCustomerName  IdentityField = "customerName"
	FieldBillNumber    IdentityField = "billNumber"
	FieldGSTIN         IdentityField = "gstin"
)

// identitySlots is the fixed digest order. It never depends on the caller.
var identitySlots = []IdentityField{
	FieldProductID,
	FieldOrderID,
	FieldTaxID,
	FieldInvoiceNumber,
	FieldCustomerName,
	FieldBillNumber,
	FieldGSTIN,
}

// IdentitySchema declares which fields make two alerts of a kind the same alert.
// Required fields must be present on ingestion; an empty Required list means
// at least one of Fields.
type IdentitySchema struct {
	Family   string
	Fields   []IdentityField
	Required []IdentityField
}

var identitySchemas = map[common.NotificationKind]IdentitySchema{
	// both stock kinds share a family: one active stock alert per product
	common.KindLowStock: {
		Family:   "stock",
		Fields:   []IdentityField{FieldProductID},
		Required: []IdentityField{FieldProductID},
	},
	common.KindOutOfStock: {
		Family:   "stock",
		Fields:   []IdentityField{FieldProductID},
		Required: []IdentityField{FieldProductID},
	},
	common.KindPaymentAlert: {
		Family:   "payment",
		Fields:   []IdentityField{FieldOrderID, FieldBillNumber, FieldCustomerName},
		Required: []IdentityField{FieldOrderID},
	},
	common.KindGstAlert: {
		Family:   "gst",
		Fields:   []IdentityField{FieldTaxID, FieldInvoiceNumber, FieldCustomerName, FieldGSTIN},
		Required: []IdentityField{FieldInvoiceNumber},
	},
	common.KindSystemAlert: {
		Family: "system",
		Fields: identitySlots,
	},
}

func SchemaFor(kind common.NotificationKind) (IdentitySchema, bool) {
	s, ok := identitySchemas[kind]
	return s, ok
}

func (s IdentitySchema) declares(f IdentityField) bool {
	for _, d := range s.Fields {
		if d == f {
			return true
		}
	}
	return false
}

func identityValue(n *common.Notification, f IdentityField) string {
	switch f {
	case FieldProductID:
		return n.ProductID
	case FieldOrderID:
		return n.OrderID
	case FieldTaxID:
		return n.TaxID
	case FieldInvoiceNumber:
		return n.InvoiceNumber
	case FieldCustomerName:
		return n.CustomerName
	case FieldBillNumber:
		return n.BillNumber
	case FieldGSTIN:
		return n.GSTIN
	}
	return ""
}

// MissingIdentityFields lists the required identity fields the notification leaves blank.
func MissingIdentityFields(n *common.Notification) []IdentityField {
	schema, ok := SchemaFor(n.Kind)
	if !ok {
		return nil
	}

	if len(schema.Required) == 0 {
		for _, f := range schema.Fields {
			if strings.TrimSpace(identityValue(n, f)) != "" {
				return nil
			}
		}
		return schema.Fields
	}

	var missing []IdentityField
	for _, f := range schema.Required {
		if strings.TrimSpace(identityValue(n, f)) == "" {
			missing = append(missing, f)
		}
	}
	return missing
}

// IdentityHash derives the dedup key. Fields outside the kind's schema are
// blanked, so incidental context never changes the digest.
func IdentityHash(n *common.Notification) string {
	schema, ok := SchemaFor(n.Kind)
	if !ok {
		schema = IdentitySchema{Family: string(n.Kind)}
	}

	parts := make([]string, 0, len(identitySlots)+1)
	parts = append(parts, schema.Family)
	for _, f := range identitySlots {
		v := ""
		if schema.declares(f) {
			v = strings.TrimSpace(identityValue(n, f))
		}
		parts = append(parts, v)
	}

	sum := sha256.Sum256([]byte(strings.ToLower(strings.Join(parts, "|"))))
	return hex.EncodeToString(sum[:])
}
