// Package cli provides styled terminal output using lipgloss.
package cli

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"github.com/veloxbooks/reckon/internal/model"
)

var (
	// PrimaryColor is the main theme color.
	PrimaryColor = lipgloss.Color("#5FAFD7")
	// SuccessColor indicates successful operations.
	SuccessColor = lipgloss.Color("#4ECDC4")
	// WarningColor indicates warnings or caution messages.
	WarningColor = lipgloss.Color("#FFE66D")
	// ErrorColor indicates errors or failure messages.
	ErrorColor = lipgloss.Color("#FF6B6B")
	// SubtleColor indicates less prominent UI elements.
	SubtleColor = lipgloss.Color("#666666")

	// TitleStyle is used for section titles.
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(PrimaryColor).
			MarginBottom(1)

	// SuccessStyle formats success messages.
	SuccessStyle = lipgloss.NewStyle().
			Foreground(SuccessColor)

	// WarningStyle formats warning messages.
	WarningStyle = lipgloss.NewStyle().
			Foreground(WarningColor)

	// ErrorStyle formats error messages.
	ErrorStyle = lipgloss.NewStyle().
			Foreground(ErrorColor)

	// SubtleStyle formats less prominent text.
	SubtleStyle = lipgloss.NewStyle().
			Foreground(SubtleColor)

	// BoldStyle makes text bold.
	BoldStyle = lipgloss.NewStyle().
			Bold(true)

	// BoxStyle is used for bordered content boxes.
	BoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#333")).
			Padding(1, 2)
)

// statusStyles maps lifecycle states to their display style.
var statusStyles = map[model.ReconciliationStatus]lipgloss.Style{
	model.ReconciliationInProgress: WarningStyle,
	model.ReconciliationCompleted:  SuccessStyle,
	model.ReconciliationReviewed:   SuccessStyle,
	model.ReconciliationApproved:   BoldStyle.Foreground(SuccessColor),
}

// RenderStatus renders a lifecycle status with its color.
func RenderStatus(status model.ReconciliationStatus) string {
	style, ok := statusStyles[status]
	if !ok {
		style = SubtleStyle
	}
	return style.Render(string(status))
}

// RenderReconciliationSummary renders the box shown by `reckon reconcile status`.
func RenderReconciliationSummary(rec *model.Reconciliation, progress float64) string {
	balanced := ErrorStyle.Render("✗ out of balance")
	if rec.IsBalanced() {
		balanced = SuccessStyle.Render("✓ balanced")
	}

	body := fmt.Sprintf(
		"%s\n\nStatus:            %s\nPeriod:            %s to %s\n\nStatement closing: %12.2f\nBook closing:      %12.2f\nDifference:        %12.2f  %s\n\nMatched:           %d (%.2f)\nUnmatched bank:    %d (%.2f)\nUnmatched book:    %d (%.2f)\nProgress:          %.2f%%",
		TitleStyle.Render(rec.ReconciliationNumber),
		RenderStatus(rec.Status),
		rec.PeriodStart.Format("2006-01-02"), rec.PeriodEnd.Format("2006-01-02"),
		rec.StatementClosingBalance,
		rec.BookClosingBalance,
		rec.Difference, balanced,
		rec.MatchedCount, rec.MatchedAmount,
		rec.UnmatchedBankCount, rec.UnmatchedBankAmount,
		rec.UnmatchedBookCount, rec.UnmatchedBookAmount,
		progress,
	)

	return BoxStyle.Render(body)
}
