package main

import (
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"os"

	"Awe-Chain/internal/address"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"
)

// keyFile is the on-disk form of a signing key.
type keyFile struct {
	Address    address.Address `json:"address"`
	PrivateKey hexutil.Bytes   `json:"private_key"`
}

func loadKey(path string) (ed25519.PrivateKey, error) {
	if path == "" {
		return nil, fmt.Errorf("--key is required")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}
	var kf keyFile
	if err := json.Unmarshal(raw, &kf); err != nil {
		return nil, fmt.Errorf("decode key file %s: %w", path, err)
	}
	if len(kf.PrivateKey) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("key file %s: private key must be %d bytes", path, ed25519.PrivateKeySize)
	}
	key := ed25519.PrivateKey(kf.PrivateKey)
	if address.FromPublicKey(key.Public().(ed25519.PublicKey)) != kf.Address {
		return nil, fmt.Errorf("key file %s: address does not match private key", path)
	}
	return key, nil
}

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate an ed25519 signing key",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		out, _ := cmd.Flags().GetString("out")
		pub, priv, err := ed25519.GenerateKey(nil)
		if err != nil {
			return err
		}
		kf := keyFile{Address: address.FromPublicKey(pub), PrivateKey: hexutil.Bytes(priv)}
		raw, err := json.MarshalIndent(kf, "", "  ")
		if err != nil {
			return err
		}
		if _, err := os.Stat(out); err == nil {
			return fmt.Errorf("%s already exists", out)
		}
		if err := os.WriteFile(out, append(raw, '\n'), 0o600); err != nil {
			return err
		}
		return printJSON(cmd, map[string]string{"address": kf.Address.String(), "key_file": out})
	},
}

func init() {
	keygenCmd.Flags().String("out", "awe-key.json", "where to write the key file")
	rootCmd.AddCommand(keygenCmd)
}
