package matcher

import (
	"fmt"

	"github.com/eshaffer321/mpesa-reconciler/internal/domain/payments"
)

// Policy selects how the per-candidate rules are combined.
type Policy string

const (
	// PolicyBestRule evaluates every rule against a candidate and keeps the
	// highest confidence any of them produced.
	PolicyBestRule Policy = "best_rule"

	// PolicyFirstRule evaluates student, then phone, then code, and stops at
	// the first rule whose precondition holds, even when that rule finds
	// nothing. Kept for parity with the dashboard's historical behaviour.
	PolicyFirstRule Policy = "first_rule"
)

// Config holds matcher configuration
type Config struct {
	AmountTolerance   float64 // Default: 0.01 (1 cent), exclusive
	DateToleranceDays float64 // Default: 7
	MinConfidence     float64 // Default: 3
	PhoneMinDigits    int     // Default: 9
	CodeMinLength     int     // Default: 8
	CountryCode       string  // Default: "254"
	Policy            Policy  // Default: PolicyBestRule
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		AmountTolerance:   0.01,
		DateToleranceDays: 7,
		MinConfidence:     3,
		PhoneMinDigits:    9,
		CodeMinLength:     8,
		CountryCode:       "254",
		Policy:            PolicyBestRule,
	}
}

// Confidence values awarded by each rule.
const (
	StudentBaseConfidence   = 3.0
	StudentAmountConfidence = 4.0
	DateCloseBonus          = 0.5
	PhoneConfidence         = 3.5
	CodeConfidence          = 4.0
)

// MatchType identifies the signal that qualified a candidate.
type MatchType int

const (
	MatchStudent MatchType = iota + 1
	MatchPhone
	MatchMpesaCode
)

// String returns the wire name of the match type.
func (t MatchType) String() string {
	switch t {
	case MatchStudent:
		return "student"
	case MatchPhone:
		return "phone"
	case MatchMpesaCode:
		return "mpesa_code"
	default:
		return fmt.Sprintf("MatchType(%d)", int(t))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (t MatchType) MarshalText() ([]byte, error) {
	switch t {
	case MatchStudent, MatchPhone, MatchMpesaCode:
		return []byte(t.String()), nil
	default:
		return nil, fmt.Errorf("invalid match type %d", int(t))
	}
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *MatchType) UnmarshalText(text []byte) error {
	parsed, err := ParseMatchType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ParseMatchType converts a wire name back to a MatchType.
func ParseMatchType(s string) (MatchType, error) {
	switch s {
	case "student":
		return MatchStudent, nil
	case "phone":
		return MatchPhone, nil
	case "mpesa_code":
		return MatchMpesaCode, nil
	default:
		return 0, fmt.Errorf("unknown match type %q", s)
	}
}

// Label is a human readable description used in suggestion tooltips.
func (t MatchType) Label() string {
	switch t {
	case MatchStudent:
		return "Same student"
	case MatchPhone:
		return "Phone number match"
	case MatchMpesaCode:
		return "M-Pesa code match"
	default:
		return "Potential match"
	}
}

// MatchCandidate is a bank transaction suggested for a payment. It is
// derived on demand and never persisted.
type MatchCandidate struct {
	BankTransaction payments.BankTransaction `json:"bank_transaction"`
	MatchType       MatchType                `json:"match_type"`
	Confidence      float64                  `json:"confidence"`
	AmountMatches   bool                     `json:"amount_matches"`
	DateDiffDays    float64                  `json:"date_diff_days"` // -1 when either date is unknown
}

// BankRef is a shorthand for the candidate's statement reference.
func (c *MatchCandidate) BankRef() string {
	return c.BankTransaction.TransactionRef
}

// HighConfidence reports whether the candidate reached the top tier.
func (c *MatchCandidate) HighConfidence() bool {
	return c.Confidence >= CodeConfidence
}
