package main

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"net/http/httptest"
	"time"

	"Awe-Chain/internal/api"
	"Awe-Chain/internal/events"
	"Awe-Chain/internal/ledger"
	program "Awe-Chain/internal/program/awe"
	"Awe-Chain/internal/runtime"
	"Awe-Chain/internal/token"
	"Awe-Chain/sdk/go/awe"
)

func main() {
	bus := events.NewMemoryBus(64)
	rt := runtime.New(ledger.NewMemoryStore(), ledger.NewMemoryLocker(time.Second), runtime.WithPublisher(bus))
	for _, p := range []runtime.Program{token.Program{}, token.AssociatedProgram{}, program.New()} {
		if err := rt.Register(p); err != nil {
			panic(err)
		}
	}
	srv := httptest.NewServer(api.NewServer(":0", rt, api.WithEvents(bus), api.WithAirdropLimit(10_000_000_000)).Handler())
	defer srv.Close()

	client, err := awe.NewClient(srv.URL, srv.Client())
	if err != nil {
		panic(err)
	}
	session := awe.NewSession(client)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	authority := newWallet(ctx, client, 5_000_000_000)
	mint, err := session.CreateMint(ctx, authority, 6)
	if err != nil {
		panic(err)
	}
	collector, err := session.GetOrCreateATA(ctx, authority, awe.AddressOf(authority), mint)
	if err != nil {
		panic(err)
	}
	if _, _, err := session.GetOrCreateMetadata(ctx, authority, mint, collector, 1_000_000); err != nil {
		panic(err)
	}
	fmt.Printf("metadata %s sells agents for 1 token of %s\n", program.MetadataAddress(awe.AddressOf(authority)), mint)

	buyer := newWallet(ctx, client, 1_000_000_000)
	if _, err := session.MintTokens(ctx, authority, mint, awe.AddressOf(buyer), 5_000_000); err != nil {
		panic(err)
	}
	for i := 0; i < 4; i++ {
		result, err := session.CreateAgent(ctx, buyer, awe.AddressOf(authority))
		if err != nil {
			panic(err)
		}
		fmt.Printf("agent purchase %d: count=%d tx=%s\n", i+1, result.AgentCount, result.Receipt.ID)
	}

	balance, err := session.TokenAccount(ctx, collector)
	if err != nil {
		panic(err)
	}
	fmt.Printf("collector holds %s tokens\n", token.ToUIAmount(balance.Amount, 6))

	recent, err := client.Events(ctx, 10)
	if err != nil {
		panic(err)
	}
	for _, evt := range recent {
		fmt.Printf("event %s agent_count=%s\n", evt.Type, evt.Attr("agent_count"))
	}
}

func newWallet(ctx context.Context, client *awe.Client, lamports uint64) ed25519.PrivateKey {
	_, key, err := ed25519.GenerateKey(nil)
	if err != nil {
		panic(err)
	}
	if _, err := client.Airdrop(ctx, awe.AddressOf(key), lamports); err != nil {
		panic(err)
	}
	return key
}
