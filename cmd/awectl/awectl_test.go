package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"Awe-Chain/internal/address"
	"Awe-Chain/internal/api"
	"Awe-Chain/internal/ledger"
	"Awe-Chain/internal/program/awe"
	"Awe-Chain/internal/runtime"
	"Awe-Chain/internal/token"
	sdk "Awe-Chain/sdk/go/awe"
)

func execute(t *testing.T, args ...string) map[string]any {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("awectl %v: %v", args, err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(out.Bytes(), &decoded); err != nil {
		t.Fatalf("decode output of %v: %v (%s)", args, err, out.String())
	}
	return decoded
}

func TestOperatorWorkflow(t *testing.T) {
	rt := runtime.New(ledger.NewMemoryStore(), ledger.NewMemoryLocker(0))
	for _, p := range []runtime.Program{token.Program{}, token.AssociatedProgram{}, awe.New()} {
		if err := rt.Register(p); err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	srv := httptest.NewServer(api.NewServer(":0", rt, api.WithAirdropLimit(10_000_000_000)).Handler())
	defer srv.Close()

	keyPath := filepath.Join(t.TempDir(), "authority.json")
	generated := execute(t, "keygen", "--out", keyPath)
	key, err := loadKey(keyPath)
	if err != nil {
		t.Fatalf("load key: %v", err)
	}
	authority := sdk.AddressOf(key)
	if generated["address"] != authority.String() {
		t.Fatalf("keygen printed %v, key file holds %s", generated["address"], authority)
	}

	execute(t, "--url", srv.URL, "airdrop", "--to", authority.String(), "--lamports", "5000000000")
	mint := execute(t, "--url", srv.URL, "create-mint", "--key", keyPath, "--decimals", "6")["mint"].(string)
	execute(t, "--url", srv.URL, "init-metadata", "--key", keyPath, "--mint", mint, "--price", "1.5")

	shown := execute(t, "--url", srv.URL, "show-metadata", "--authority", authority.String())
	if shown["ui_price"] != "1.5" {
		t.Fatalf("unexpected metadata view %v", shown)
	}
	record := shown["metadata"].(map[string]any)
	mintAddr := address.MustParse(mint)
	if record["collector"] != token.AssociatedAddress(authority, mintAddr).String() {
		t.Fatalf("collector should default to the authority's associated account, got %v", record["collector"])
	}
}
