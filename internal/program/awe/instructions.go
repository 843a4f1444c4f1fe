package awe

import (
	"encoding/binary"
	"strconv"

	xerrors "Awe-Chain/internal/errors"
	"Awe-Chain/internal/events"
	"Awe-Chain/internal/runtime"
)

func readPrice(payload []byte) (uint64, error) {
	if len(payload) != 8 {
		return 0, xerrors.New(xerrors.CodeInvalidInstruction, "agent price must be 8 bytes")
	}
	return binary.LittleEndian.Uint64(payload), nil
}

func (p *Program) initMetadata(ic *runtime.InvokeContext, accounts []*runtime.AccountInfo, payload []byte) error {
	price, err := readPrice(payload)
	if err != nil {
		return err
	}
	a, err := parseMetadataAccounts(accounts, "init_awe_metadata")
	if err != nil {
		return err
	}
	if err := allocate(ic, a.signer.Key, a.metadata.Key, MetadataSpace, withBump(metadataSeeds(a.signer.Key), a.bump)); err != nil {
		return err
	}
	ic.Log("Initialize metadata %s", a.metadata.Key)
	return p.storeMetadata(ic, a, price, events.TypeMetadataInitialized)
}

func (p *Program) updateMetadata(ic *runtime.InvokeContext, accounts []*runtime.AccountInfo, payload []byte) error {
	price, err := readPrice(payload)
	if err != nil {
		return err
	}
	a, err := parseMetadataAccounts(accounts, "update_awe_metadata")
	if err != nil {
		return err
	}
	if _, err := loadMetadata(a.metadata); err != nil {
		return err
	}
	ic.Log("Update metadata %s", a.metadata.Key)
	return p.storeMetadata(ic, a, price, events.TypeMetadataUpdated)
}

// storeMetadata overwrites the whole record; there are no partial updates.
func (p *Program) storeMetadata(ic *runtime.InvokeContext, a *metadataAccounts, price uint64, eventType string) error {
	record := &Metadata{Mint: a.mint.Key, Collector: a.collector.Key, AgentPrice: price}
	a.metadata.SetData(record.Marshal())
	ic.Emit(eventType, map[string]string{
		"authority": a.signer.Key.String(),
		"metadata":  a.metadata.Key.String(),
		"mint":      record.Mint.String(),
		"collector": record.Collector.String(),
		"price":     strconv.FormatUint(price, 10),
	})
	return nil
}

func (p *Program) initCreator(ic *runtime.InvokeContext, accounts []*runtime.AccountInfo) error {
	a, err := parseCreatorAccounts(accounts, "init_agent_creator", true)
	if err != nil {
		return err
	}
	if a.creator.IsAllocated() {
		return xerrors.New(xerrors.CodeAllocationFailed, "agent creator already exists",
			xerrors.WithMetadata("account", a.creator.Key.String()))
	}
	ic.Log("Initialize agent creator for %s", a.signer.Key)
	if err := payAgentPrice(ic, a); err != nil {
		return err
	}
	if err := allocate(ic, a.signer.Key, a.creator.Key, CreatorSpace, withBump(creatorSeeds(a.metadata.Key, a.signer.Key), a.creatorBump)); err != nil {
		return err
	}
	counter := &CreatorCounter{AgentCount: 1}
	a.creator.SetData(counter.Marshal())
	p.emitCreator(ic, events.TypeCreatorInitialized, a, counter)
	return nil
}

func (p *Program) createAgent(ic *runtime.InvokeContext, accounts []*runtime.AccountInfo) error {
	a, err := parseCreatorAccounts(accounts, "create_agent", false)
	if err != nil {
		return err
	}
	counter, err := loadCreator(a.creator)
	if err != nil {
		return err
	}
	next, err := p.increment(counter.AgentCount)
	if err != nil {
		return err
	}
	ic.Log("Create agent %d for %s", next, a.signer.Key)
	if err := payAgentPrice(ic, a); err != nil {
		return err
	}
	counter.AgentCount = next
	a.creator.SetData(counter.Marshal())
	p.emitCreator(ic, events.TypeAgentCreated, a, counter)
	return nil
}

func (p *Program) increment(count uint8) (uint8, error) {
	if count == 255 && p.overflow != OverflowWrap {
		return 0, xerrors.New(xerrors.CodeOverflow, "agent count would exceed 255")
	}
	return count + 1, nil
}

func (p *Program) emitCreator(ic *runtime.InvokeContext, eventType string, a *creatorAccounts, counter *CreatorCounter) {
	ic.Emit(eventType, map[string]string{
		"user":        a.signer.Key.String(),
		"metadata":    a.metadata.Key.String(),
		"creator":     a.creator.Key.String(),
		"sender":      a.sender.Key.String(),
		"collector":   a.collector.Key.String(),
		"price":       strconv.FormatUint(a.record.AgentPrice, 10),
		"agent_count": strconv.Itoa(int(counter.AgentCount)),
	})
}
