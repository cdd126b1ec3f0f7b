package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/veloxbooks/reckon/internal/cli"
	"github.com/veloxbooks/reckon/internal/model"
	"github.com/veloxbooks/reckon/internal/ofx"
)

func importStatementCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import-statement [file]",
		Short: "Import a bank statement from an OFX/QFX file",
		Long: `Import a bank statement exported from your bank as OFX or QFX.

Each statement in the file becomes one immutable period snapshot with its
line items, ready to reconcile:

  reckon import-statement ~/Downloads/chase_jan_2024.qfx --account chk`,
		Args: cobra.ExactArgs(1),
		RunE: runImportStatement,
	}

	cmd.Flags().String("account", "", "account id to attach the statement to (required)")
	cmd.Flags().BoolP("dry-run", "d", false, "preview import without saving")
	_ = cmd.MarkFlagRequired("account")

	return cmd
}

func runImportStatement(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	accountID, _ := cmd.Flags().GetString("account")
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	store, err := openStorage(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	eng := newEngine(store)

	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer func() { _ = f.Close() }()

	parser := ofx.NewParser()
	statements, err := parser.ParseFile(ctx, f)
	if err != nil {
		return err
	}
	if len(statements) == 0 {
		return fmt.Errorf("no statements found in %s", args[0])
	}

	for _, parsed := range statements {
		if dryRun {
			cmd.Printf("Would import statement: %s to %s, %d lines, closing %.2f\n",
				parsed.PeriodStart.Format("2006-01-02"),
				parsed.PeriodEnd.Format("2006-01-02"),
				len(parsed.Lines), parsed.ClosingBalance)
			continue
		}

		number, err := eng.GenerateStatementNumber(ctx, accountID, time.Now().UTC())
		if err != nil {
			return err
		}

		stmt := &model.BankStatement{
			ID:              strings.ToLower(number),
			StatementNumber: number,
			AccountID:       accountID,
			PeriodStart:     parsed.PeriodStart,
			PeriodEnd:       parsed.PeriodEnd,
			OpeningBalance:  parsed.OpeningBalance,
			ClosingBalance:  parsed.ClosingBalance,
			Status:          model.StatementPending,
		}

		bar := progressbar.Default(int64(len(parsed.Lines)), "Importing lines")
		lines := make([]model.StatementTransaction, 0, len(parsed.Lines))
		for _, line := range parsed.Lines {
			lines = append(lines, line)
			_ = bar.Add(1)
		}

		if err := store.SaveStatement(ctx, stmt, lines); err != nil {
			return err
		}
		if err := store.UpdateStatementStatus(ctx, stmt.ID, model.StatementCompleted); err != nil {
			return err
		}

		cmd.Println(cli.SuccessStyle.Render(fmt.Sprintf(
			"✓ Imported %s: %d lines, opening %.2f, closing %.2f",
			stmt.StatementNumber, len(lines), stmt.OpeningBalance, stmt.ClosingBalance)))
	}

	return nil
}
