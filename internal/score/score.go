// Package score computes match confidence between a bank statement line
// and a ledger transaction. Scoring is pure and deterministic: the same
// pair always produces the same 0-100 score.
package score

import (
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/veloxbooks/reckon/internal/model"
)

// Component weights. The total is capped at 100 even though the weights
// already sum to it.
const (
	amountWeight      = 40.0
	dateWeight        = 30.0
	descriptionWeight = 20.0
	referenceWeight   = 10.0
)

var (
	bankJargonRe      = regexp.MustCompile(`\b(pos|atm|ach|wire|check|dep|wd|transfer)\b`)
	nonAlphanumericRe = regexp.MustCompile(`[^a-z0-9 ]+`)
	whitespaceRe      = regexp.MustCompile(`\s+`)
)

// Score returns the match confidence between one statement line and one
// ledger transaction, in [0, 100].
func Score(bank *model.StatementTransaction, ledger *model.Transaction) float64 {
	total := amountScore(bank.Amount, ledger.Amount) +
		dateScore(bank.Date, ledger.Date) +
		descriptionScore(bank.Description, ledger.Description) +
		referenceScore(bank.ReferenceNumber, ledger.ReferenceNumber)

	return math.Min(total, 100)
}

// amountScore buckets the absolute amount difference: exact (within a
// cent) earns full points, within a dollar earns half, anything further
// earns nothing. Statement amounts are unsigned; ledger amounts are signed.
func amountScore(bankAmount, ledgerAmount float64) float64 {
	diff := math.Abs(bankAmount - math.Abs(ledgerAmount))
	switch {
	case diff < 0.01:
		return amountWeight
	case diff < 1.00:
		return amountWeight / 2
	default:
		return 0
	}
}

func dateScore(bankDate, ledgerDate time.Time) float64 {
	days := DaysBetween(bankDate, ledgerDate)
	switch {
	case days == 0:
		return dateWeight
	case days <= 1:
		return 25
	case days <= 3:
		return 15
	case days <= 7:
		return 5
	default:
		return 0
	}
}

func descriptionScore(bankDesc, ledgerDesc string) float64 {
	a := NormalizeBankDescription(bankDesc)
	b := NormalizeLedgerDescription(ledgerDesc)
	return SimilarText(a, b) / 100 * descriptionWeight
}

func referenceScore(bankRef, ledgerRef string) float64 {
	if bankRef != "" && bankRef == ledgerRef {
		return referenceWeight
	}
	return 0
}

// DaysBetween returns the absolute distance between two dates in whole
// calendar days, ignoring time of day.
func DaysBetween(a, b time.Time) int {
	ad := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	bd := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	days := int(ad.Sub(bd).Hours() / 24)
	if days < 0 {
		days = -days
	}
	return days
}

// NormalizeBankDescription lower-cases, strips a fixed stop-set of bank
// jargon tokens, drops non-alphanumerics, and collapses whitespace.
func NormalizeBankDescription(s string) string {
	s = strings.ToLower(s)
	s = bankJargonRe.ReplaceAllString(s, " ")
	s = nonAlphanumericRe.ReplaceAllString(s, " ")
	s = whitespaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// NormalizeLedgerDescription lower-cases and drops non-alphanumerics.
// Ledger descriptions keep their words; only bank lines carry jargon.
func NormalizeLedgerDescription(s string) string {
	s = strings.ToLower(s)
	s = nonAlphanumericRe.ReplaceAllString(s, " ")
	s = whitespaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// SimilarText returns the character-level similarity percentage between
// two strings using the recursive longest-common-substring decomposition:
// the longest common substring is counted, then the regions to its left
// and right are compared recursively. The percentage is
// 2*matched/(len(a)+len(b))*100.
func SimilarText(a, b string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	matched := similarChars(a, b)
	return float64(2*matched) / float64(len(a)+len(b)) * 100
}

func similarChars(a, b string) int {
	posA, posB, max := longestCommonSubstring(a, b)
	if max == 0 {
		return 0
	}

	sum := max
	if posA > 0 && posB > 0 {
		sum += similarChars(a[:posA], b[:posB])
	}
	if posA+max < len(a) && posB+max < len(b) {
		sum += similarChars(a[posA+max:], b[posB+max:])
	}
	return sum
}

// longestCommonSubstring returns the start offsets and length of the
// longest common substring, preferring the earliest occurrence in a.
func longestCommonSubstring(a, b string) (posA, posB, max int) {
	for i := 0; i < len(a); i++ {
		for j := 0; j < len(b); j++ {
			length := 0
			for i+length < len(a) && j+length < len(b) && a[i+length] == b[j+length] {
				length++
			}
			if length > max {
				posA, posB, max = i, j, length
			}
		}
	}
	return posA, posB, max
}
