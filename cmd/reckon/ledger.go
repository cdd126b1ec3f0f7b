package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/veloxbooks/reckon/internal/cli"
	"github.com/veloxbooks/reckon/internal/model"
	"github.com/veloxbooks/reckon/internal/service"
)

func ledgerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Manage ledger transactions",
	}

	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Record a ledger transaction",
		RunE:  runLedgerAdd,
	}
	addCmd.Flags().String("account", "", "account id (required)")
	addCmd.Flags().Float64("amount", 0, "signed amount: expenses negative, income positive (required)")
	addCmd.Flags().String("date", "", "transaction date YYYY-MM-DD (default: today)")
	addCmd.Flags().String("type", "payment", "transaction type (payment, deposit, transfer, expense)")
	addCmd.Flags().String("description", "", "description")
	addCmd.Flags().String("reference", "", "reference number")
	addCmd.Flags().Bool("pending", false, "record as pending instead of completed")
	_ = addCmd.MarkFlagRequired("account")
	_ = addCmd.MarkFlagRequired("amount")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List ledger transactions for an account",
		RunE:  runLedgerList,
	}
	listCmd.Flags().String("account", "", "account id (required)")
	listCmd.Flags().Bool("unreconciled", false, "only show unreconciled transactions")
	_ = listCmd.MarkFlagRequired("account")

	cmd.AddCommand(addCmd)
	cmd.AddCommand(listCmd)
	return cmd
}

func runLedgerAdd(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	store, err := openStorage(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	accountID, _ := cmd.Flags().GetString("account")
	amount, _ := cmd.Flags().GetFloat64("amount")
	dateStr, _ := cmd.Flags().GetString("date")
	txnType, _ := cmd.Flags().GetString("type")
	description, _ := cmd.Flags().GetString("description")
	reference, _ := cmd.Flags().GetString("reference")
	pending, _ := cmd.Flags().GetBool("pending")

	date := time.Now().UTC()
	if dateStr != "" {
		date, err = time.Parse("2006-01-02", dateStr)
		if err != nil {
			return fmt.Errorf("invalid date %q: %w", dateStr, err)
		}
	}

	status := model.TransactionCompleted
	if pending {
		status = model.TransactionPending
	}

	txn := model.Transaction{
		Date:            date,
		AccountID:       accountID,
		Type:            txnType,
		Description:     description,
		ReferenceNumber: reference,
		Status:          status,
		Amount:          amount,
	}
	txn.ID = txn.GenerateHash()[:16]

	if err := store.SaveTransactions(ctx, []model.Transaction{txn}); err != nil {
		return err
	}

	cmd.Println(cli.SuccessStyle.Render(fmt.Sprintf("✓ Recorded transaction %s (%.2f)", txn.ID, txn.Amount)))
	return nil
}

func runLedgerList(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	store, err := openStorage(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	accountID, _ := cmd.Flags().GetString("account")
	unreconciled, _ := cmd.Flags().GetBool("unreconciled")

	transactions, err := store.GetTransactions(ctx, service.TransactionFilter{
		AccountID:    accountID,
		Unreconciled: unreconciled,
	})
	if err != nil {
		return err
	}

	if len(transactions) == 0 {
		cmd.Println(cli.SubtleStyle.Render("No transactions."))
		return nil
	}

	cmd.Println(cli.TitleStyle.Render("Ledger transactions"))
	for _, txn := range transactions {
		flag := " "
		if txn.IsReconciled {
			flag = "R"
		}
		cmd.Printf("%s %-16s %s %10.2f  %-10s %s\n",
			flag, txn.ID, txn.Date.Format("2006-01-02"), txn.Amount, txn.Status, txn.Description)
	}
	return nil
}
