// Command awectl is the operator and user CLI for an awed node.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	sdk "Awe-Chain/sdk/go/awe"

	"github.com/spf13/cobra"
)

var (
	nodeURL string
	timeout time.Duration
)

var rootCmd = &cobra.Command{
	Use:           "awectl",
	Short:         "Operate the awe agent-creator license gate",
	Long:          `Create mints and token accounts, manage awe metadata, buy agent licenses and run batch payouts against an awed node.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	defaultURL := os.Getenv("AWE_URL")
	if defaultURL == "" {
		defaultURL = "http://127.0.0.1:8080"
	}
	rootCmd.PersistentFlags().StringVar(&nodeURL, "url", defaultURL, "awed API base url (env AWE_URL)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "overall deadline for one command")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "awectl: %v\n", err)
		os.Exit(1)
	}
}

// connect returns a session bound to the configured node and a context that
// honours --timeout.
func connect(cmd *cobra.Command) (*sdk.Session, *sdk.Client, context.Context, context.CancelFunc, error) {
	client, err := sdk.NewClient(nodeURL, nil)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	return sdk.NewSession(client), client, ctx, cancel, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
