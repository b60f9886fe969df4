// Package dispatch provides the validated request object for dispatch
// reconciliation. The surrounding HTTP layer maps its form fields onto a
// Request exactly once at the boundary; the reconciliation engine only
// ever sees validated numeric fields.
package dispatch

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"
)

// Limits for boundary input.
const (
	// MaxDispatchQuantity is the hard ceiling for a single dispatch call.
	MaxDispatchQuantity = 10_000_000

	// MaxDispatchNoLength is the maximum length for dispatch numbers.
	MaxDispatchNoLength = 64

	// MaxRemarkLength is the maximum stored length for free-text remarks.
	MaxRemarkLength = 2048
)

// Validation errors.
var (
	ErrNonPositiveQuantity = errors.New("prodflow: dispatch quantity must be positive")
	ErrQuantityTooLarge    = errors.New("prodflow: dispatch quantity exceeds limit")
	ErrNegativeLeftover    = errors.New("prodflow: leftover quantity must not be negative")
	ErrMissingDispatchNo   = errors.New("prodflow: dispatch number is required")
	ErrDispatchNoTooLong   = errors.New("prodflow: dispatch number too long")
	ErrMissingOperator     = errors.New("prodflow: operator id is required")
)

// Request is a single dispatch action against a job.
type Request struct {
	NrcJobNo   string
	Quantity   int
	DispatchNo string
	OperatorID string
	Date       time.Time

	// LeftoverQty is finished stock produced this run beyond the dispatch
	// itself, banked into the ledger as its own available entry.
	LeftoverQty int

	Remark string
}

// Validate checks the request's fields. It must pass before the request
// reaches the reconciliation engine.
func (r *Request) Validate() error {
	if r.Quantity <= 0 {
		return ErrNonPositiveQuantity
	}
	if r.Quantity > MaxDispatchQuantity {
		return ErrQuantityTooLarge
	}
	if r.LeftoverQty < 0 {
		return ErrNegativeLeftover
	}
	if strings.TrimSpace(r.DispatchNo) == "" {
		return ErrMissingDispatchNo
	}
	if len(r.DispatchNo) > MaxDispatchNoLength {
		return ErrDispatchNoTooLong
	}
	if strings.TrimSpace(r.OperatorID) == "" {
		return ErrMissingOperator
	}
	return nil
}

// SanitizeRemark strips control characters and truncates over-long remarks
// before they are stored on ledger entries.
func SanitizeRemark(remark string) string {
	if remark == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(remark))
	for _, r := range remark {
		if r == '\n' || r == '\t' || (r >= 32 && r != 127) {
			b.WriteRune(r)
		}
	}

	out := b.String()
	if utf8.RuneCountInString(out) > MaxRemarkLength {
		runes := []rune(out)
		out = string(runes[:MaxRemarkLength-3]) + "..."
	}
	return out
}
