package order

import (
	"strings"

	"github.com/google/uuid"
)

// VendorIdentifiers are the ids sent to the vendor. They are generated once
// per order and reused by every retry so the vendor can deduplicate.
type VendorIdentifiers struct {
	OrderID   string
	RefNo     string
	ReceiptNo string
}

func newVendorIdentifiers() VendorIdentifiers {
	compact := func() string {
		return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	}
	return VendorIdentifiers{
		OrderID:   "GCO" + compact()[:20],
		RefNo:     "REF" + compact()[:20],
		ReceiptNo: "RCPT" + compact()[:16],
	}
}
