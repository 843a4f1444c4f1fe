package main

import (
	"Awe-Chain/internal/address"
	"Awe-Chain/internal/token"
	sdk "Awe-Chain/sdk/go/awe"

	"github.com/spf13/cobra"
)

// metadataInputs resolves the mint, collector and base-unit price flags shared
// by init-metadata and update-metadata. The collector defaults to the
// authority's associated account, which is created when missing.
func metadataInputs(cmd *cobra.Command) (mint, collector address.Address, price uint64, err error) {
	path, _ := cmd.Flags().GetString("key")
	key, err := loadKey(path)
	if err != nil {
		return
	}
	if mint, err = addressFlag(cmd, "mint"); err != nil {
		return
	}
	session, _, ctx, cancel, err := connect(cmd)
	if err != nil {
		return
	}
	defer cancel()
	state, err := session.Mint(ctx, mint)
	if err != nil {
		return
	}
	raw, _ := cmd.Flags().GetString("price")
	if price, err = token.ParseUIAmount(raw, state.Decimals); err != nil {
		return
	}
	if rawCollector, _ := cmd.Flags().GetString("collector"); rawCollector != "" {
		collector, err = addressFlag(cmd, "collector")
		return
	}
	collector, err = session.GetOrCreateATA(ctx, key, sdk.AddressOf(key), mint)
	return
}

var initMetadataCmd = &cobra.Command{
	Use:   "init-metadata",
	Short: "Get or create the awe metadata owned by the key holder",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		path, _ := cmd.Flags().GetString("key")
		key, err := loadKey(path)
		if err != nil {
			return err
		}
		mint, collector, price, err := metadataInputs(cmd)
		if err != nil {
			return err
		}
		session, _, ctx, cancel, err := connect(cmd)
		if err != nil {
			return err
		}
		defer cancel()
		record, created, err := session.GetOrCreateMetadata(ctx, key, mint, collector, price)
		if err != nil {
			return err
		}
		return printJSON(cmd, map[string]any{"created": created, "metadata": record})
	},
}

var updateMetadataCmd = &cobra.Command{
	Use:   "update-metadata",
	Short: "Overwrite mint, collector and price of the key holder's metadata",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		path, _ := cmd.Flags().GetString("key")
		key, err := loadKey(path)
		if err != nil {
			return err
		}
		mint, collector, price, err := metadataInputs(cmd)
		if err != nil {
			return err
		}
		session, _, ctx, cancel, err := connect(cmd)
		if err != nil {
			return err
		}
		defer cancel()
		receipt, err := session.UpdateMetadata(ctx, key, mint, collector, price)
		if err != nil {
			return err
		}
		return printJSON(cmd, receipt)
	},
}

var showMetadataCmd = &cobra.Command{
	Use:   "show-metadata",
	Short: "Print the decoded metadata of an authority",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		authority, err := addressFlag(cmd, "authority")
		if err != nil {
			return err
		}
		_, client, ctx, cancel, err := connect(cmd)
		if err != nil {
			return err
		}
		defer cancel()
		view, err := client.Metadata(ctx, authority)
		if err != nil {
			return err
		}
		return printJSON(cmd, view)
	},
}

var createAgentCmd = &cobra.Command{
	Use:   "create-agent",
	Short: "Pay the agent price and bump the creator counter",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		path, _ := cmd.Flags().GetString("key")
		key, err := loadKey(path)
		if err != nil {
			return err
		}
		authority, err := addressFlag(cmd, "authority")
		if err != nil {
			return err
		}
		session, _, ctx, cancel, err := connect(cmd)
		if err != nil {
			return err
		}
		defer cancel()
		result, err := session.CreateAgent(ctx, key, authority)
		if err != nil {
			return err
		}
		return printJSON(cmd, map[string]any{
			"transaction": result.Receipt.ID,
			"creator":     result.Creator,
			"agent_count": result.AgentCount,
			"initialized": result.Initialized,
		})
	},
}

var accountCmd = &cobra.Command{
	Use:   "account <address>",
	Short: "Print an account with its decoded view",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, err := address.Parse(args[0])
		if err != nil {
			return err
		}
		_, client, ctx, cancel, err := connect(cmd)
		if err != nil {
			return err
		}
		defer cancel()
		view, err := client.AccountView(ctx, addr)
		if err != nil {
			return err
		}
		return printJSON(cmd, view)
	},
}

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Print recently published program events",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		_, client, ctx, cancel, err := connect(cmd)
		if err != nil {
			return err
		}
		defer cancel()
		recent, err := client.Events(ctx, limit)
		if err != nil {
			return err
		}
		return printJSON(cmd, recent)
	},
}

func init() {
	for _, c := range []*cobra.Command{initMetadataCmd, updateMetadataCmd} {
		c.Flags().String("key", "", "metadata authority key file")
		c.Flags().String("mint", "", "payment token mint")
		c.Flags().String("collector", "", "token account receiving payments (defaults to the authority's associated account)")
		c.Flags().String("price", "", "agent price in whole tokens")
	}
	showMetadataCmd.Flags().String("authority", "", "metadata authority address")
	createAgentCmd.Flags().String("key", "", "buyer key file")
	createAgentCmd.Flags().String("authority", "", "metadata authority address")
	eventsCmd.Flags().Int("limit", 20, "number of events")

	rootCmd.AddCommand(initMetadataCmd, updateMetadataCmd, showMetadataCmd, createAgentCmd, accountCmd, eventsCmd)
}
