package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/veloxbooks/reckon/internal/cli"
	"github.com/veloxbooks/reckon/internal/common"
	"github.com/veloxbooks/reckon/internal/engine"
	"github.com/veloxbooks/reckon/internal/model"
	"github.com/veloxbooks/reckon/internal/service"
)

func reconcileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Reconcile bank statements against the ledger",
		Long: `Open a reconciliation for an imported statement, match its lines
against ledger transactions, and walk it through the lifecycle:

  reckon reconcile new --account chk --statement chk-stm-20240131-001 \
      --book-opening 1000.00 --book-closing 2485.50
  reckon reconcile auto chk-rec-20240131-001
  reckon reconcile status chk-rec-20240131-001
  reckon reconcile complete chk-rec-20240131-001`,
	}

	cmd.AddCommand(reconcileNewCmd())
	cmd.AddCommand(reconcileListCmd())
	cmd.AddCommand(reconcileAutoCmd())
	cmd.AddCommand(reconcileMatchCmd())
	cmd.AddCommand(reconcileUnmatchCmd())
	cmd.AddCommand(reconcileSuggestCmd())
	cmd.AddCommand(reconcileItemsCmd())
	cmd.AddCommand(reconcileStatusCmd())
	cmd.AddCommand(reconcileClearCmd())
	cmd.AddCommand(reconcileTransitionCmd("complete", "Mark an in-progress reconciliation completed"))
	cmd.AddCommand(reconcileTransitionCmd("review", "Mark a completed reconciliation reviewed"))
	cmd.AddCommand(reconcileTransitionCmd("approve", "Mark a reviewed reconciliation approved"))

	return cmd
}

func reconcileNewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "new",
		Short: "Open a new reconciliation for a statement",
		RunE:  runReconcileNew,
	}
	cmd.Flags().String("account", "", "account id (required)")
	cmd.Flags().String("statement", "", "bank statement id (required)")
	cmd.Flags().Float64("book-opening", 0, "book opening balance (required)")
	cmd.Flags().Float64("book-closing", 0, "book closing balance (required)")
	addActorFlag(cmd)
	_ = cmd.MarkFlagRequired("account")
	_ = cmd.MarkFlagRequired("statement")
	_ = cmd.MarkFlagRequired("book-opening")
	_ = cmd.MarkFlagRequired("book-closing")
	return cmd
}

func runReconcileNew(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	store, err := openStorage(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	actor, err := actorFromFlags(cmd)
	if err != nil {
		return err
	}

	accountID, _ := cmd.Flags().GetString("account")
	statementID, _ := cmd.Flags().GetString("statement")
	bookOpening, _ := cmd.Flags().GetFloat64("book-opening")
	bookClosing, _ := cmd.Flags().GetFloat64("book-closing")

	eng := newEngine(store)
	rec, err := eng.CreateReconciliation(ctx, engine.CreateParams{
		AccountID:          accountID,
		BankStatementID:    statementID,
		BookOpeningBalance: bookOpening,
		BookClosingBalance: bookClosing,
	}, actor)
	if err != nil {
		return err
	}

	cmd.Println(cli.SuccessStyle.Render(fmt.Sprintf("✓ Opened reconciliation %s", rec.ReconciliationNumber)))
	cmd.Printf("  id: %s\n  initial difference: %.2f\n", rec.ID, rec.Difference)
	return nil
}

func reconcileListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List reconciliations for an account",
		RunE:  runReconcileList,
	}
	cmd.Flags().String("account", "", "account id (required)")
	_ = cmd.MarkFlagRequired("account")
	return cmd
}

func runReconcileList(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	store, err := openStorage(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	accountID, _ := cmd.Flags().GetString("account")
	recs, err := store.ListReconciliations(ctx, accountID)
	if err != nil {
		return err
	}

	if len(recs) == 0 {
		cmd.Println(cli.SubtleStyle.Render("No reconciliations."))
		return nil
	}

	cmd.Println(cli.TitleStyle.Render("Reconciliations"))
	for _, rec := range recs {
		cmd.Printf("%-26s %s to %s  diff %10.2f  %s\n",
			rec.ReconciliationNumber,
			rec.PeriodStart.Format("2006-01-02"), rec.PeriodEnd.Format("2006-01-02"),
			rec.Difference, cli.RenderStatus(rec.Status))
	}
	return nil
}

func reconcileAutoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auto [reconciliation-id]",
		Short: "Auto-match statement lines against the ledger",
		Args:  cobra.ExactArgs(1),
		RunE:  runReconcileAuto,
	}
	addActorFlag(cmd)
	return cmd
}

func runReconcileAuto(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	store, err := openStorage(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	actor, err := actorFromFlags(cmd)
	if err != nil {
		return err
	}

	eng := newEngine(store)

	// Auto-match is idempotent, so losing a race to another process just
	// means running it again.
	var result *engine.AutoMatchResult
	err = common.WithRetry(ctx, func() error {
		var matchErr error
		result, matchErr = eng.AutoMatch(ctx, args[0], actor)
		return matchErr
	}, service.RetryOptions{})
	if err != nil {
		return err
	}

	cmd.Println(cli.SuccessStyle.Render(fmt.Sprintf("✓ Matched %d pairs", result.MatchedCount)))
	cmd.Printf("  scored pairs:    %d\n  unmatched bank:  %d\n  unmatched book:  %d\n",
		result.ScoredPairs, result.UnmatchedBankCount, result.UnmatchedBookCount)
	return nil
}

func reconcileMatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "match [reconciliation-id]",
		Short: "Manually match a statement line to a ledger transaction",
		Args:  cobra.ExactArgs(1),
		RunE:  runReconcileMatch,
	}
	cmd.Flags().String("bank", "", "bank statement transaction id (required)")
	cmd.Flags().String("ledger", "", "ledger transaction id (required)")
	cmd.Flags().String("notes", "", "notes recorded on the match")
	cmd.Flags().Bool("suggested", false, "record the match as an accepted suggestion")
	addActorFlag(cmd)
	_ = cmd.MarkFlagRequired("bank")
	_ = cmd.MarkFlagRequired("ledger")
	return cmd
}

func runReconcileMatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	store, err := openStorage(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	actor, err := actorFromFlags(cmd)
	if err != nil {
		return err
	}

	bankID, _ := cmd.Flags().GetString("bank")
	ledgerID, _ := cmd.Flags().GetString("ledger")
	notes, _ := cmd.Flags().GetString("notes")
	suggested, _ := cmd.Flags().GetBool("suggested")

	eng := newEngine(store)

	var item *model.ReconciliationItem
	if suggested {
		item, err = eng.AcceptSuggestion(ctx, args[0], bankID, ledgerID, actor)
	} else {
		item, err = eng.ManualMatch(ctx, args[0], bankID, ledgerID, actor, notes)
	}
	if err != nil {
		return err
	}

	confidence := 0.0
	if item.MatchConfidence != nil {
		confidence = *item.MatchConfidence
	}
	cmd.Println(cli.SuccessStyle.Render(fmt.Sprintf(
		"✓ Matched %s ↔ %s (confidence %.1f, amount diff %.2f)",
		bankID, ledgerID, confidence, item.AmountDifference)))
	return nil
}

func reconcileUnmatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "unmatch [reconciliation-id] [item-id]",
		Short: "Revert a matched item back to the unmatched buckets",
		Args:  cobra.ExactArgs(2),
		RunE:  runReconcileUnmatch,
	}
	addActorFlag(cmd)
	return cmd
}

func runReconcileUnmatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	store, err := openStorage(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	actor, err := actorFromFlags(cmd)
	if err != nil {
		return err
	}

	itemID, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid item id %q: %w", args[1], err)
	}

	eng := newEngine(store)
	if err := eng.Unmatch(ctx, args[0], itemID, actor); err != nil {
		return err
	}

	cmd.Println(cli.SuccessStyle.Render(fmt.Sprintf("✓ Unmatched item %d", itemID)))
	return nil
}

func reconcileSuggestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "suggest [reconciliation-id] [bank-transaction-id]",
		Short: "Show scored ledger candidates for a statement line",
		Args:  cobra.ExactArgs(2),
		RunE:  runReconcileSuggest,
	}
	cmd.Flags().Int("limit", 10, "maximum suggestions to show")
	return cmd
}

func runReconcileSuggest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	store, err := openStorage(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	limit, _ := cmd.Flags().GetInt("limit")

	eng := newEngine(store)
	suggestions, err := eng.Suggest(ctx, args[0], args[1])
	if err != nil {
		return err
	}

	if len(suggestions) == 0 {
		cmd.Println(cli.SubtleStyle.Render("No candidates within tolerance."))
		return nil
	}
	if limit > 0 && len(suggestions) > limit {
		suggestions = suggestions[:limit]
	}

	cmd.Println(cli.TitleStyle.Render("Suggestions"))
	for _, s := range suggestions {
		cmd.Printf("%5.1f  %-16s %s %10.2f  %dd  %s\n",
			s.Confidence, s.Transaction.ID,
			s.Transaction.Date.Format("2006-01-02"),
			s.Transaction.Amount, s.DateDiff, s.Transaction.Description)
	}
	return nil
}

func reconcileItemsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "items [reconciliation-id]",
		Short: "List the items of a reconciliation",
		Args:  cobra.ExactArgs(1),
		RunE:  runReconcileItems,
	}
	cmd.Flags().String("type", "", "filter by match type (matched, unmatched_bank, unmatched_book)")
	return cmd
}

func runReconcileItems(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	store, err := openStorage(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	typeFilter, _ := cmd.Flags().GetString("type")

	items, err := store.ListItems(ctx, args[0])
	if err != nil {
		return err
	}

	shown := 0
	for _, item := range items {
		if typeFilter != "" && string(item.MatchType) != typeFilter {
			continue
		}
		if shown == 0 {
			cmd.Println(cli.TitleStyle.Render("Reconciliation items"))
		}
		shown++

		cleared := " "
		if item.IsCleared {
			cleared = "C"
		}
		confidence := "     "
		if item.MatchConfidence != nil {
			confidence = fmt.Sprintf("%5.1f", *item.MatchConfidence)
		}
		cmd.Printf("%s %6d  %-14s %-9s %s  bank=%-16s ledger=%-16s diff %8.2f\n",
			cleared, item.ID, item.MatchType, item.MatchMethod, confidence,
			item.BankStatementTransactionID, item.TransactionID, item.AmountDifference)
	}

	if shown == 0 {
		cmd.Println(cli.SubtleStyle.Render("No items. Run auto-match first."))
	}
	return nil
}

func reconcileStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status [reconciliation-id]",
		Short: "Show the reconciliation summary",
		Args:  cobra.ExactArgs(1),
		RunE:  runReconcileStatus,
	}
}

func runReconcileStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	store, err := openStorage(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	rec, err := store.GetReconciliation(ctx, args[0])
	if err != nil {
		return err
	}

	eng := newEngine(store)
	progress, err := eng.ProgressPercentage(ctx, rec.ID)
	if err != nil {
		return err
	}

	cmd.Println(cli.RenderReconciliationSummary(rec, progress))
	return nil
}

func reconcileClearCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clear [reconciliation-id] [item-id]",
		Short: "Toggle the cleared flag on an item",
		Args:  cobra.ExactArgs(2),
		RunE:  runReconcileClear,
	}
	cmd.Flags().Bool("undo", false, "mark the item uncleared instead")
	return cmd
}

func runReconcileClear(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	store, err := openStorage(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	itemID, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid item id %q: %w", args[1], err)
	}
	undo, _ := cmd.Flags().GetBool("undo")

	eng := newEngine(store)
	if err := eng.ClearItem(ctx, args[0], itemID, !undo); err != nil {
		return err
	}

	verb := "cleared"
	if undo {
		verb = "uncleared"
	}
	cmd.Println(cli.SuccessStyle.Render(fmt.Sprintf("✓ Item %d %s", itemID, verb)))
	return nil
}

// reconcileTransitionCmd builds the complete/review/approve commands, which
// only differ in the lifecycle edge they take.
func reconcileTransitionCmd(use, short string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use + " [reconciliation-id]",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			store, err := openStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			actor, err := actorFromFlags(cmd)
			if err != nil {
				return err
			}

			eng := newEngine(store)
			switch use {
			case "complete":
				err = eng.Complete(ctx, args[0], actor)
			case "review":
				err = eng.Review(ctx, args[0], actor)
			case "approve":
				err = eng.Approve(ctx, args[0], actor)
			}
			if err != nil {
				return err
			}

			rec, err := store.GetReconciliation(ctx, args[0])
			if err != nil {
				return err
			}
			cmd.Println(cli.SuccessStyle.Render(
				fmt.Sprintf("✓ %s is now %s", rec.ReconciliationNumber, rec.Status)))
			return nil
		},
	}
	addActorFlag(cmd)
	return cmd
}
