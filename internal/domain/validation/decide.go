package validation

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/apexfin/invoiceflow/internal/domain/entity"
	"github.com/apexfin/invoiceflow/internal/domain/workflow"
)

// Thresholds defines the decision boundaries for routing a freshly extracted
// invoice.
type Thresholds struct {
	ReviewCutoff   float64         // below this, always route to review
	AutoAdvance    float64         // at or above this, auto-advance to the approval queue
	MoneyTolerance decimal.Decimal // allowed absolute drift in reconciliation checks
}

// DefaultThresholds returns the production routing configuration.
func DefaultThresholds() Thresholds {
	return Thresholds{
		ReviewCutoff:   0.75,
		AutoAdvance:    0.95,
		MoneyTolerance: decimal.NewFromFloat(0.01),
	}
}

// Validate ensures threshold values are within valid ranges and logically
// consistent: both cutoffs in [0,1] and AutoAdvance above ReviewCutoff.
func (t Thresholds) Validate() error {
	if t.ReviewCutoff < 0.0 || t.ReviewCutoff > 1.0 {
		return fmt.Errorf("ReviewCutoff must be between 0.0 and 1.0, got %.2f", t.ReviewCutoff)
	}
	if t.AutoAdvance < 0.0 || t.AutoAdvance > 1.0 {
		return fmt.Errorf("AutoAdvance must be between 0.0 and 1.0, got %.2f", t.AutoAdvance)
	}
	if t.AutoAdvance <= t.ReviewCutoff {
		return fmt.Errorf("AutoAdvance must be greater than ReviewCutoff (auto: %.2f, review: %.2f)", t.AutoAdvance, t.ReviewCutoff)
	}
	if t.MoneyTolerance.IsNegative() {
		return fmt.Errorf("MoneyTolerance must not be negative, got %s", t.MoneyTolerance)
	}
	return nil
}

// DecideStatus computes the initial status for an extracted invoice. It is a
// pure function: no I/O, deterministic for identical inputs.
//
// Order of checks:
//  1. overall confidence below the review cutoff routes to review,
//  2. line items that do not sum to the subtotal route to review,
//  3. subtotal + tax that does not match the total routes to review,
//  4. confidence at or above the auto-advance cutoff goes straight to the
//     approval queue,
//  5. everything else (the mid-confidence band) falls through to review.
func DecideStatus(doc entity.ExtractedDocument, confidence entity.ConfidenceReport, t Thresholds) workflow.State {
	if confidence.OverallConfidence < t.ReviewCutoff {
		return workflow.StateNeedsReview
	}

	lineTotal := decimal.Zero
	for _, item := range doc.LineItems {
		lineTotal = lineTotal.Add(item.LineTotal)
	}
	if lineTotal.Sub(doc.Subtotal).Abs().GreaterThan(t.MoneyTolerance) {
		return workflow.StateNeedsReview
	}

	if doc.Subtotal.Add(doc.TaxAmount).Sub(doc.TotalAmount).Abs().GreaterThan(t.MoneyTolerance) {
		return workflow.StateNeedsReview
	}

	if confidence.OverallConfidence >= t.AutoAdvance {
		return workflow.StateAwaitingApproval
	}

	return workflow.StateNeedsReview
}
