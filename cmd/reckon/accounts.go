package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/veloxbooks/reckon/internal/cli"
	"github.com/veloxbooks/reckon/internal/model"
)

func accountsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "Manage accounts",
	}

	addCmd := &cobra.Command{
		Use:   "add [name]",
		Short: "Add an account",
		Args:  cobra.ExactArgs(1),
		RunE:  runAccountsAdd,
	}
	addCmd.Flags().String("code", "", "short code used as the prefix in generated numbers, e.g. CHK (required)")
	addCmd.Flags().String("type", "checking", "account type (checking, savings, credit, cash)")
	addCmd.Flags().Float64("opening-balance", 0, "opening balance")
	addActorFlag(addCmd)
	_ = addCmd.MarkFlagRequired("code")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List accounts",
		RunE:  runAccountsList,
	}

	cmd.AddCommand(addCmd)
	cmd.AddCommand(listCmd)
	return cmd
}

func runAccountsAdd(cmd *cobra.Command, args []string) error {
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

	code, _ := cmd.Flags().GetString("code")
	accountType, _ := cmd.Flags().GetString("type")
	openingBalance, _ := cmd.Flags().GetFloat64("opening-balance")

	account := &model.Account{
		ID:             strings.ToLower(code),
		Name:           args[0],
		Code:           strings.ToUpper(code),
		OwnerID:        actor,
		Type:           model.AccountType(accountType),
		OpeningBalance: openingBalance,
	}

	if err := store.CreateAccount(ctx, account); err != nil {
		return err
	}

	cmd.Println(cli.SuccessStyle.Render(fmt.Sprintf("✓ Created account %s (%s)", account.Name, account.ID)))
	return nil
}

func runAccountsList(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	store, err := openStorage(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	accounts, err := store.ListAccounts(ctx)
	if err != nil {
		return err
	}

	if len(accounts) == 0 {
		cmd.Println(cli.SubtleStyle.Render("No accounts yet. Add one with: reckon accounts add"))
		return nil
	}

	cmd.Println(cli.TitleStyle.Render("Accounts"))
	for _, account := range accounts {
		cmd.Printf("%-10s %-30s %-10s %12.2f\n",
			account.ID, account.Name, account.Type, account.OpeningBalance)
	}
	return nil
}
