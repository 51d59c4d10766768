package reconcile

import "github.com/eshaffer321/mpesa-reconciler/internal/domain/payments"

// PendingDelta describes a change to the pending working set. Operations
// build a delta and the workflow applies it, so the transition can be
// inspected (and inverted) without touching the set itself.
type PendingDelta struct {
	Removed []string
	Updated []payments.UnmatchedPayment
}

// IsEmpty reports whether applying the delta changes nothing.
func (d PendingDelta) IsEmpty() bool {
	return len(d.Removed) == 0 && len(d.Updated) == 0
}

// removeDelta is the optimistic update issued after a confirmed reconciliation.
func removeDelta(paymentIDs ...string) PendingDelta {
	return PendingDelta{Removed: paymentIDs}
}

// linkDelta records a student linked to a pending payment.
func linkDelta(p payments.UnmatchedPayment, studentID string) PendingDelta {
	id := studentID
	p.StudentID = &id
	return PendingDelta{Updated: []payments.UnmatchedPayment{p}}
}

// applyDelta returns a new pending slice with the delta applied. The input
// slice is never modified.
func applyDelta(pending []payments.UnmatchedPayment, d PendingDelta) []payments.UnmatchedPayment {
	removed := make(map[string]bool, len(d.Removed))
	for _, id := range d.Removed {
		removed[id] = true
	}
	updated := make(map[string]payments.UnmatchedPayment, len(d.Updated))
	for _, p := range d.Updated {
		updated[p.ID] = p
	}

	next := make([]payments.UnmatchedPayment, 0, len(pending))
	for _, p := range pending {
		if removed[p.ID] {
			continue
		}
		if u, ok := updated[p.ID]; ok {
			p = u
		}
		next = append(next, p)
	}
	return next
}

func findPending(pending []payments.UnmatchedPayment, id string) (payments.UnmatchedPayment, bool) {
	for _, p := range pending {
		if p.ID == id {
			return p, true
		}
	}
	return payments.UnmatchedPayment{}, false
}
