package main

import (
	"fmt"
	"os"

	"Awe-Chain/internal/address"
	"Awe-Chain/internal/token"
	sdk "Awe-Chain/sdk/go/awe"

	"github.com/spf13/cobra"
)

func addressFlag(cmd *cobra.Command, name string) (address.Address, error) {
	raw, _ := cmd.Flags().GetString(name)
	if raw == "" {
		return address.Zero, fmt.Errorf("--%s is required", name)
	}
	addr, err := address.Parse(raw)
	if err != nil {
		return address.Zero, fmt.Errorf("--%s: %w", name, err)
	}
	return addr, nil
}

var airdropCmd = &cobra.Command{
	Use:   "airdrop",
	Short: "Request faucet lamports",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		_, client, ctx, cancel, err := connect(cmd)
		if err != nil {
			return err
		}
		defer cancel()
		to, err := addressFlag(cmd, "to")
		if err != nil {
			return err
		}
		lamports, _ := cmd.Flags().GetUint64("lamports")
		balance, err := client.Airdrop(ctx, to, lamports)
		if err != nil {
			return err
		}
		return printJSON(cmd, map[string]any{"address": to, "balance": balance})
	},
}

var createMintCmd = &cobra.Command{
	Use:   "create-mint",
	Short: "Create a mint whose authority is the key holder",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		path, _ := cmd.Flags().GetString("key")
		key, err := loadKey(path)
		if err != nil {
			return err
		}
		decimals, _ := cmd.Flags().GetUint8("decimals")
		session, _, ctx, cancel, err := connect(cmd)
		if err != nil {
			return err
		}
		defer cancel()
		mint, err := session.CreateMint(ctx, key, decimals)
		if err != nil {
			return err
		}
		return printJSON(cmd, map[string]any{"mint": mint, "decimals": decimals, "authority": sdk.AddressOf(key)})
	},
}

var createTokenAccountCmd = &cobra.Command{
	Use:   "create-token-account",
	Short: "Get or create the associated token account of an owner",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		path, _ := cmd.Flags().GetString("key")
		key, err := loadKey(path)
		if err != nil {
			return err
		}
		mint, err := addressFlag(cmd, "mint")
		if err != nil {
			return err
		}
		owner := sdk.AddressOf(key)
		if raw, _ := cmd.Flags().GetString("owner"); raw != "" {
			if owner, err = addressFlag(cmd, "owner"); err != nil {
				return err
			}
		}
		session, _, ctx, cancel, err := connect(cmd)
		if err != nil {
			return err
		}
		defer cancel()
		ata, err := session.GetOrCreateATA(ctx, key, owner, mint)
		if err != nil {
			return err
		}
		return printJSON(cmd, map[string]any{"token_account": ata, "owner": owner, "mint": mint})
	},
}

var mintCmd = &cobra.Command{
	Use:   "mint",
	Short: "Mint tokens to an owner's associated account",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		path, _ := cmd.Flags().GetString("key")
		key, err := loadKey(path)
		if err != nil {
			return err
		}
		mint, err := addressFlag(cmd, "mint")
		if err != nil {
			return err
		}
		to, err := addressFlag(cmd, "to")
		if err != nil {
			return err
		}
		session, _, ctx, cancel, err := connect(cmd)
		if err != nil {
			return err
		}
		defer cancel()
		state, err := session.Mint(ctx, mint)
		if err != nil {
			return err
		}
		raw, _ := cmd.Flags().GetString("amount")
		amount, err := token.ParseUIAmount(raw, state.Decimals)
		if err != nil {
			return err
		}
		ata, err := session.MintTokens(ctx, key, mint, to, amount)
		if err != nil {
			return err
		}
		return printJSON(cmd, map[string]any{"token_account": ata, "amount": amount, "ui_amount": token.ToUIAmount(amount, state.Decimals).String()})
	},
}

var batchTransferCmd = &cobra.Command{
	Use:   "batch-transfer",
	Short: "Pay every address,amount row of a CSV file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		path, _ := cmd.Flags().GetString("key")
		key, err := loadKey(path)
		if err != nil {
			return err
		}
		mint, err := addressFlag(cmd, "mint")
		if err != nil {
			return err
		}
		file, _ := cmd.Flags().GetString("file")
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		defer f.Close()
		transfers, err := sdk.ParseTransfers(f)
		if err != nil {
			return err
		}
		batch, _ := cmd.Flags().GetInt("batch")
		session, _, ctx, cancel, err := connect(cmd)
		if err != nil {
			return err
		}
		defer cancel()
		result, err := session.BatchTransfer(ctx, key, mint, transfers, batch)
		if result != nil {
			ids := make([]string, 0, len(result.Receipts))
			for _, r := range result.Receipts {
				ids = append(ids, r.ID)
			}
			if printErr := printJSON(cmd, map[string]any{"transactions": ids, "recipients": result.Recipients, "total": result.Total}); printErr != nil {
				return printErr
			}
		}
		return err
	},
}

func init() {
	airdropCmd.Flags().String("to", "", "recipient address")
	airdropCmd.Flags().Uint64("lamports", 1_000_000_000, "lamports to request")

	createMintCmd.Flags().String("key", "", "mint authority key file")
	createMintCmd.Flags().Uint8("decimals", 6, "mint decimals")

	createTokenAccountCmd.Flags().String("key", "", "payer key file")
	createTokenAccountCmd.Flags().String("mint", "", "mint address")
	createTokenAccountCmd.Flags().String("owner", "", "account owner (defaults to the payer)")

	mintCmd.Flags().String("key", "", "mint authority key file")
	mintCmd.Flags().String("mint", "", "mint address")
	mintCmd.Flags().String("to", "", "owner of the receiving associated account")
	mintCmd.Flags().String("amount", "", "amount in whole tokens, e.g. 12.5")

	batchTransferCmd.Flags().String("key", "", "sender key file")
	batchTransferCmd.Flags().String("mint", "", "mint address")
	batchTransferCmd.Flags().String("file", "", "CSV file of address,amount rows")
	batchTransferCmd.Flags().Int("batch", sdk.DefaultBatchSize, "recipients per transaction")

	rootCmd.AddCommand(airdropCmd, createMintCmd, createTokenAccountCmd, mintCmd, batchTransferCmd)
}
