package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/SatoriAU/site-audit/satori/store"
)

var apikeyCmd = &cobra.Command{
	Use:   "apikey",
	Short: "Manage API keys",
}

var apikeyCreateCmd = &cobra.Command{
	Use:   "create <owner>",
	Short: "Create an API key acting as owner",
	Long: `Create an API key. The owner is an email address, login or numeric
user id and is checked against the access settings on every request. The
raw key is printed once and never stored.`,
	Args: cobra.ExactArgs(1),
	RunE: runAPIKeyCreate,
}

var apikeyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List API keys",
	Args:  cobra.NoArgs,
	RunE:  runAPIKeyList,
}

var apikeyRevokeCmd = &cobra.Command{
	Use:   "revoke <id>",
	Short: "Revoke an API key by id",
	Args:  cobra.ExactArgs(1),
	RunE:  runAPIKeyRevoke,
}

var apikeyLabel string

func init() {
	rootCmd.AddCommand(apikeyCmd)
	apikeyCmd.AddCommand(apikeyCreateCmd, apikeyListCmd, apikeyRevokeCmd)

	apikeyCreateCmd.Flags().StringVar(&apikeyLabel, "label", "", "Free-form label")
}

func runAPIKeyCreate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	raw, err := store.GenerateAPIKey()
	if err != nil {
		return err
	}
	meta, err := store.StoreAPIKey(ctx, a.kv, raw, apikeyLabel, args[0])
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, raw)
	fmt.Fprintf(out, "id %s  owner %s\n", meta.ID, meta.Owner)
	return nil
}

func runAPIKeyList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	keys, err := store.ListAPIKeys(ctx, a.kv)
	if err != nil {
		return err
	}
	for _, k := range keys {
		used := k.LastUsedAt
		if used == "" {
			used = "never"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s…  %-24s %-16s last used %s\n  id %s\n", k.Prefix, k.Owner, k.Label, used, k.ID)
	}
	return nil
}

func runAPIKeyRevoke(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	return store.RevokeAPIKey(ctx, a.kv, args[0])
}
