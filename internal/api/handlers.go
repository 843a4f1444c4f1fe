package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"Awe-Chain/internal/address"
	xerrors "Awe-Chain/internal/errors"
	"Awe-Chain/internal/events"
	"Awe-Chain/internal/ledger"
	"Awe-Chain/internal/program/awe"
	"Awe-Chain/internal/runtime"
	"Awe-Chain/internal/token"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// AccountView 是账户的原始数据加上可识别时的解码结果。
type AccountView struct {
	Address    address.Address `json:"address"`
	Owner      address.Address `json:"owner"`
	Lamports   uint64          `json:"lamports"`
	Data       hexutil.Bytes   `json:"data"`
	Executable bool            `json:"executable"`
	Kind       string          `json:"kind"`
	Decoded    any             `json:"decoded,omitempty"`
}

// MetadataView 描述某个授权方的 metadata。
type MetadataView struct {
	Address  address.Address `json:"address"`
	Bump     uint8           `json:"bump"`
	Metadata *awe.Metadata   `json:"metadata"`
	Decimals uint8           `json:"decimals"`
	UIPrice  string          `json:"ui_price"`
}

// CreatorView 描述某个用户在 metadata 下的计数器。
type CreatorView struct {
	Address    address.Address `json:"address"`
	Bump       uint8           `json:"bump"`
	AgentCount uint8           `json:"agent_count"`
}

// ProgramView 列出程序地址与委托地址。
type ProgramView struct {
	ProgramID              address.Address       `json:"program_id"`
	Delegate               address.Address       `json:"delegate"`
	DelegateBump           uint8                 `json:"delegate_bump"`
	TokenProgram           address.Address       `json:"token_program"`
	AssociatedTokenProgram address.Address       `json:"associated_token_program"`
	SystemProgram          address.Address       `json:"system_program"`
	OverflowPolicy         string                `json:"overflow_policy,omitempty"`
	Programs               []runtime.ProgramInfo `json:"programs"`
}

// AirdropRequest 是空投请求体。
type AirdropRequest struct {
	Address  address.Address `json:"address"`
	Lamports uint64          `json:"lamports"`
}

// AirdropResponse 返回空投后的余额。
type AirdropResponse struct {
	Address address.Address `json:"address"`
	Balance uint64          `json:"balance"`
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体解析失败")
	}
	return nil
}

func pathAddress(r *http.Request, name string) (address.Address, error) {
	addr, err := address.Parse(r.PathValue(name))
	if err != nil {
		return address.Address{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "地址格式错误",
			xerrors.WithMetadata(name, r.PathValue(name)))
	}
	return addr, nil
}

func (s *Server) handleSubmitTransaction(w http.ResponseWriter, r *http.Request) {
	var tx runtime.Transaction
	if err := s.decode(w, r, &tx); err != nil {
		writeError(w, err)
		return
	}
	receipt, err := s.chain.Execute(r.Context(), &tx)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

// load 读取账户，不存在时返回 NOT_FOUND。
func (s *Server) load(r *http.Request, addr address.Address) (*ledger.Account, error) {
	acct, err := s.chain.Account(r.Context(), addr)
	if errors.Is(err, ledger.ErrAccountNotFound) {
		return nil, xerrors.New(xerrors.CodeNotFound, "账户不存在", xerrors.WithMetadata("address", addr.String()))
	}
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取账户失败")
	}
	return acct, nil
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	addr, err := pathAddress(r, "address")
	if err != nil {
		writeError(w, err)
		return
	}
	acct, err := s.load(r, addr)
	if err != nil {
		writeError(w, err)
		return
	}
	view := AccountView{
		Address:    acct.Address,
		Owner:      acct.Owner,
		Lamports:   acct.Lamports,
		Data:       acct.Data,
		Executable: acct.Owner == runtime.NativeLoaderID,
	}
	view.Kind, view.Decoded = describe(acct)
	writeJSON(w, http.StatusOK, view)
}

// describe 按所有者与长度识别账户类型。
func describe(acct *ledger.Account) (string, any) {
	switch acct.Owner {
	case runtime.NativeLoaderID:
		return "program", nil
	case runtime.SystemProgramID:
		return "wallet", nil
	case awe.ProgramID:
		if m, err := awe.DecodeMetadata(acct.Data); err == nil {
			return "awe_metadata", m
		}
		if c, err := awe.DecodeCreatorCounter(acct.Data); err == nil {
			return "agent_creator", c
		}
	case token.ProgramID:
		switch len(acct.Data) {
		case token.MintSize:
			if m, err := token.UnpackMint(acct.Data); err == nil {
				return "mint", m
			}
		case token.AccountSize:
			if a, err := token.UnpackAccount(acct.Data); err == nil {
				return "token_account", a
			}
		}
	}
	return "unknown", nil
}

func (s *Server) handleMetadata(w http.ResponseWriter, r *http.Request) {
	authority, err := pathAddress(r, "authority")
	if err != nil {
		writeError(w, err)
		return
	}
	addr, bump := awe.FindMetadataAddress(authority)
	acct, err := s.load(r, addr)
	if err != nil {
		writeError(w, err)
		return
	}
	record, err := awe.DecodeMetadata(acct.Data)
	if err != nil {
		writeError(w, err)
		return
	}
	view := MetadataView{Address: addr, Bump: bump, Metadata: record}
	if mintAcct, err := s.load(r, record.Mint); err == nil {
		if mint, err := token.UnpackMint(mintAcct.Data); err == nil {
			view.Decimals = mint.Decimals
		}
	}
	view.UIPrice = token.ToUIAmount(record.AgentPrice, view.Decimals).String()
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleCreator(w http.ResponseWriter, r *http.Request) {
	metadata, err := pathAddress(r, "metadata")
	if err != nil {
		writeError(w, err)
		return
	}
	user, err := pathAddress(r, "user")
	if err != nil {
		writeError(w, err)
		return
	}
	addr, bump := awe.FindCreatorAddress(metadata, user)
	acct, err := s.load(r, addr)
	if err != nil {
		writeError(w, err)
		return
	}
	counter, err := awe.DecodeCreatorCounter(acct.Data)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, CreatorView{Address: addr, Bump: bump, AgentCount: counter.AgentCount})
}

func (s *Server) handleProgram(w http.ResponseWriter, _ *http.Request) {
	delegate, bump := awe.FindDelegateAddress()
	writeJSON(w, http.StatusOK, ProgramView{
		ProgramID:              awe.ProgramID,
		Delegate:               delegate,
		DelegateBump:           bump,
		TokenProgram:           token.ProgramID,
		AssociatedTokenProgram: token.AssociatedProgramID,
		SystemProgram:          runtime.SystemProgramID,
		OverflowPolicy:         s.overflow,
		Programs:               s.chain.Programs(),
	})
}

func (s *Server) handleAirdrop(w http.ResponseWriter, r *http.Request) {
	if s.airdropLimit == 0 {
		writeError(w, xerrors.New(xerrors.CodeNotFound, "空投接口未开启"))
		return
	}
	var req AirdropRequest
	if err := s.decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Lamports > s.airdropLimit {
		writeError(w, xerrors.Newf(xerrors.CodeInvalidArgument, "单次空投不能超过 %d lamports", s.airdropLimit))
		return
	}
	balance, err := s.chain.Airdrop(r.Context(), req.Address, req.Lamports)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, AirdropResponse{Address: req.Address, Balance: balance})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeJSON(w, http.StatusOK, []events.Event{})
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	recent := s.events.Recent(limit)
	if recent == nil {
		recent = []events.Event{}
	}
	writeJSON(w, http.StatusOK, recent)
}
