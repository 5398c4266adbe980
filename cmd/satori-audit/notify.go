package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var notifyCmd = &cobra.Command{
	Use:   "notify",
	Short: "Notification tools",
}

var notifyTestCmd = &cobra.Command{
	Use:   "test [email]",
	Short: "Send the recipient preview email",
	Long: `Send a test email to one address (default: notify.admin_email) listing
who a real report would reach after the safelist. No client is contacted.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runNotifyTest,
}

func init() {
	rootCmd.AddCommand(notifyCmd)
	notifyCmd.AddCommand(notifyTestCmd)
}

func runNotifyTest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	me := ""
	if len(args) == 1 {
		me = args[0]
	}
	recipients, err := a.notifier.SendTest(ctx, me)
	if err != nil {
		return err
	}
	list := strings.Join(recipients, ", ")
	if list == "" {
		list = "none"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Test email sent. Report recipients after safelist: %s\n", list)
	return nil
}
