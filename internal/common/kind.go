package common

import "strings"

var knownKinds = map[NotificationKind]bool{
	KindLowStock:     true,
	KindOutOfStock:   true,
	KindPaymentAlert: true,
	KindGstAlert:     true,
	KindSystemAlert:  true,
}

func (k NotificationKind) String() string {
	return string(k)
}

func (k NotificationKind) IsValid() bool {
	return knownKinds[k]
}

// IsStock reports whether the kind belongs to the stock alert family.
func (k NotificationKind) IsStock() bool {
	return k == KindLowStock || k == KindOutOfStock
}

// ParseKind accepts the canonical name in any letter case.
func ParseKind(raw string) (NotificationKind, bool) {
	raw = strings.TrimSpace(raw)
	for k := range knownKinds {
		if strings.EqualFold(string(k), raw) {
			return k, true
		}
	}
	return "", false
}

func (p Priority) IsValid() bool {
	return p == PriorityLow || p == PriorityMedium || p == PriorityHigh
}
