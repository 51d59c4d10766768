package matcher

import (
	"sort"

	"github.com/eshaffer321/mpesa-reconciler/internal/domain/payments"
)

// RankCandidates returns every eligible candidate for the payment, highest
// confidence first. Candidates with equal confidence keep their input order,
// so the first element always equals FindMatch's result.
func (m *Matcher) RankCandidates(payment payments.UnmatchedPayment, candidates []payments.BankTransaction) []MatchCandidate {
	p := m.prepare(payment)

	ranked := make([]MatchCandidate, 0)
	for _, tx := range candidates {
		if c, ok := m.score(p, tx); ok {
			ranked = append(ranked, c)
		}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Confidence > ranked[j].Confidence
	})

	return ranked
}

// MatchAll finds the best candidate for each payment. A bank line is never
// suggested for more than one payment: once taken by an earlier payment it
// is skipped for the rest, mirroring the 1:1 confirmation rule. The result
// is keyed by payment ID and omits payments with no eligible candidate.
func (m *Matcher) MatchAll(pending []payments.UnmatchedPayment, candidates []payments.BankTransaction) map[string]*MatchCandidate {
	result := make(map[string]*MatchCandidate, len(pending))
	used := make(map[string]bool)

	for _, payment := range pending {
		available := make([]payments.BankTransaction, 0, len(candidates))
		for _, tx := range candidates {
			if !used[tx.TransactionRef] {
				available = append(available, tx)
			}
		}

		match := m.FindMatch(payment, available)
		if match == nil {
			continue
		}
		used[match.BankRef()] = true
		result[payment.ID] = match
	}

	return result
}
