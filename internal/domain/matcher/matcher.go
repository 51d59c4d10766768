// Package matcher correlates unmatched M-Pesa payments with open bank
// statement lines.
//
// Each candidate is scored with three rules:
//   - Student: both sides carry the same student ID (3, or 4 when the
//     amounts agree, plus 0.5 when the dates are within a week)
//   - Phone: a spelling of the payer's phone appears in the narration or
//     reference and the amounts agree (3.5)
//   - M-Pesa code: the provider transaction code appears in the narration
//     or reference (4, amount not required)
//
// Amount and date never qualify a match on their own. Only candidates
// scoring at least MinConfidence are eligible; the highest wins and ties go
// to the first one seen.
//
// Example usage:
//
//	m := matcher.NewMatcher(matcher.DefaultConfig())
//	if c := m.FindMatch(payment, bankLines); c != nil {
//		fmt.Println(c.BankRef(), c.MatchType, c.Confidence)
//	}
package matcher

import (
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/eshaffer321/mpesa-reconciler/internal/domain/payments"
)

// Matcher scores bank transactions against payments
type Matcher struct {
	config    Config
	tolerance decimal.Decimal
}

// NewMatcher creates a new matcher with the given config
func NewMatcher(config Config) *Matcher {
	if config.Policy == "" {
		config.Policy = PolicyBestRule
	}
	return &Matcher{
		config:    config,
		tolerance: decimal.NewFromFloat(config.AmountTolerance),
	}
}

// Config returns the matcher's configuration.
func (m *Matcher) Config() Config {
	return m.config
}

// FindMatch returns the best eligible candidate for the payment, or nil.
func (m *Matcher) FindMatch(payment payments.UnmatchedPayment, candidates []payments.BankTransaction) *MatchCandidate {
	p := m.prepare(payment)

	var best *MatchCandidate
	for _, tx := range candidates {
		c, ok := m.score(p, tx)
		if !ok {
			continue
		}
		// Strictly greater keeps the first-seen candidate on ties
		if best == nil || c.Confidence > best.Confidence {
			cand := c
			best = &cand
		}
	}
	return best
}

// preparedPayment caches the normalized payment fields used by every rule.
type preparedPayment struct {
	payment   payments.UnmatchedPayment
	studentID string
	phones    []string // empty when the phone is too short
	code      string   // empty when the code is too short
}

func (m *Matcher) prepare(payment payments.UnmatchedPayment) preparedPayment {
	p := preparedPayment{
		payment:   payment,
		studentID: strings.TrimSpace(payments.Deref(payment.StudentID)),
	}

	if digits := DigitsOnly(payment.PhoneNumber); len(digits) >= m.config.PhoneMinDigits {
		p.phones = PhoneVariants(digits, m.config.CountryCode)
	}

	if code := strings.ToUpper(strings.TrimSpace(payment.TransactionCode)); len(code) >= m.config.CodeMinLength {
		p.code = code
	}

	return p
}

// score evaluates one candidate. ok is false when the candidate is closed
// or falls below MinConfidence.
func (m *Matcher) score(p preparedPayment, tx payments.BankTransaction) (MatchCandidate, bool) {
	if !tx.IsOpen() {
		return MatchCandidate{}, false
	}

	amountMatches := tx.Amount.Sub(p.payment.Amount).Abs().LessThan(m.tolerance)
	dateDiff, dateKnown := daysBetween(p.payment.TransactionDate, tx.TransactionDate)
	dateClose := dateKnown && dateDiff <= m.config.DateToleranceDays

	narration := strings.ToUpper(tx.Narration)
	ref := strings.ToUpper(tx.TransactionRef)

	var (
		confidence float64
		matchType  MatchType
	)
	consider := func(t MatchType, c float64) {
		if c > confidence {
			confidence, matchType = c, t
		}
	}

	studentRule := p.studentID != "" && p.studentID == strings.TrimSpace(payments.Deref(tx.StudentID))
	phoneRule := len(p.phones) > 0
	codeRule := p.code != ""

	switch m.config.Policy {
	case PolicyFirstRule:
		switch {
		case studentRule:
			consider(MatchStudent, studentConfidence(amountMatches, dateClose))
		case phoneRule:
			consider(MatchPhone, phoneConfidence(p.phones, narration, ref, amountMatches))
		case codeRule:
			consider(MatchMpesaCode, codeConfidence(p.code, narration, ref))
		}
	default:
		if studentRule {
			consider(MatchStudent, studentConfidence(amountMatches, dateClose))
		}
		if phoneRule {
			consider(MatchPhone, phoneConfidence(p.phones, narration, ref, amountMatches))
		}
		if codeRule {
			consider(MatchMpesaCode, codeConfidence(p.code, narration, ref))
		}
	}

	if confidence < m.config.MinConfidence || matchType == 0 {
		return MatchCandidate{}, false
	}

	if !dateKnown {
		dateDiff = -1
	}

	return MatchCandidate{
		BankTransaction: tx,
		MatchType:       matchType,
		Confidence:      confidence,
		AmountMatches:   amountMatches,
		DateDiffDays:    dateDiff,
	}, true
}

func studentConfidence(amountMatches, dateClose bool) float64 {
	confidence := StudentBaseConfidence
	if amountMatches {
		confidence = StudentAmountConfidence
	}
	if dateClose {
		confidence += DateCloseBonus
	}
	return confidence
}

func phoneConfidence(variants []string, narration, ref string, amountMatches bool) float64 {
	if !amountMatches {
		return 0
	}
	for _, v := range variants {
		if strings.Contains(narration, v) || strings.Contains(ref, v) {
			return PhoneConfidence
		}
	}
	return 0
}

func codeConfidence(code, narration, ref string) float64 {
	if strings.Contains(narration, code) || strings.Contains(ref, code) {
		return CodeConfidence
	}
	return 0
}

// daysBetween returns the absolute difference in days. ok is false when
// either side is missing.
func daysBetween(a, b time.Time) (float64, bool) {
	if a.IsZero() || b.IsZero() {
		return 0, false
	}
	return math.Abs(a.Sub(b).Hours() / 24), true
}
