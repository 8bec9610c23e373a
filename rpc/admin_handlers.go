package rpc

import (
	"net/http"
	"strings"

	"lendledger/ledger"
	"lendledger/oracle"
)

type sourceParams struct {
	Kind  string `json:"kind"`
	Pool  string `json:"pool,omitempty"`
	Quote string `json:"quote,omitempty"`
}

type registerAssetParams struct {
	Asset     string        `json:"asset"`
	Weight    uint64        `json:"weight"`
	Source    *sourceParams `json:"source"`
	BorrowCap string        `json:"borrowCap,omitempty"`
}

type setAssetActiveParams struct {
	Asset  string `json:"asset"`
	Active bool   `json:"active"`
}

type setFeesParams struct {
	DepositFeeBps uint64 `json:"depositFeeBps"`
}

type setPausesParams struct {
	Deposit   bool `json:"deposit"`
	Withdraw  bool `json:"withdraw"`
	Borrow    bool `json:"borrow"`
	Repay     bool `json:"repay"`
	Liquidate bool `json:"liquidate"`
}

type treasuryParams struct {
	Asset  string `json:"asset"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

type setPairParams struct {
	Pool     string `json:"pool"`
	Token0   string `json:"token0"`
	Token1   string `json:"token1"`
	Reserve0 string `json:"reserve0"`
	Reserve1 string `json:"reserve1"`
}

type setPoolParams struct {
	Pool         string `json:"pool"`
	Token0       string `json:"token0"`
	Token1       string `json:"token1"`
	SqrtPriceX96 string `json:"sqrtPriceX96"`
}

type vaultFundParams struct {
	User   string `json:"user"`
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

type vaultFundResult struct {
	User    string `json:"user"`
	Asset   string `json:"asset"`
	Balance string `json:"balance"`
}

type acceptedResult struct {
	Status string `json:"status"`
}

func accepted() acceptedResult {
	return acceptedResult{Status: "ok"}
}

func parseSource(params *sourceParams) (oracle.Source, *RPCError) {
	if params == nil {
		return oracle.Source{}, &RPCError{Code: codeInvalidParams, Message: "source required"}
	}
	switch strings.TrimSpace(params.Kind) {
	case "fixed":
		return oracle.Source{Kind: oracle.SourceFixedUSD}, nil
	case "pairV2":
		pool, rpcErr := parseAddress(params.Pool, "source pool")
		if rpcErr != nil {
			return oracle.Source{}, rpcErr
		}
		quote, rpcErr := parseAddress(params.Quote, "source quote")
		if rpcErr != nil {
			return oracle.Source{}, rpcErr
		}
		return oracle.Source{Kind: oracle.SourcePairV2, Pool: pool, Quote: quote}, nil
	case "poolV3":
		pool, rpcErr := parseAddress(params.Pool, "source pool")
		if rpcErr != nil {
			return oracle.Source{}, rpcErr
		}
		quote, rpcErr := parseAddress(params.Quote, "source quote")
		if rpcErr != nil {
			return oracle.Source{}, rpcErr
		}
		return oracle.Source{Kind: oracle.SourcePoolV3, Pool: pool, Quote: quote}, nil
	default:
		return oracle.Source{}, &RPCError{Code: codeInvalidParams, Message: "unknown source kind"}
	}
}

func (s *Server) handleRegisterAsset(w http.ResponseWriter, req *RPCRequest) {
	if !s.requireEngine(w, req) {
		return
	}
	var params registerAssetParams
	if !decodeObjectParams(w, req, &params) {
		return
	}
	asset, rpcErr := parseAddress(params.Asset, "asset")
	if rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	source, rpcErr := parseSource(params.Source)
	if rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	borrowCap, rpcErr := parseOptionalAmount(params.BorrowCap, "borrowCap")
	if rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	if err := s.engine.RegisterAsset(asset, params.Weight, source, borrowCap); err != nil {
		s.writeLedgerError(w, req, "registerAsset", err)
		return
	}
	writeResult(w, req.ID, accepted())
}

func (s *Server) handleSetAssetActive(w http.ResponseWriter, req *RPCRequest) {
	if !s.requireEngine(w, req) {
		return
	}
	var params setAssetActiveParams
	if !decodeObjectParams(w, req, &params) {
		return
	}
	asset, rpcErr := parseAddress(params.Asset, "asset")
	if rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	if err := s.engine.SetAssetActive(asset, params.Active); err != nil {
		s.writeLedgerError(w, req, "setAssetActive", err)
		return
	}
	writeResult(w, req.ID, accepted())
}

func (s *Server) handleSetFees(w http.ResponseWriter, req *RPCRequest) {
	if !s.requireEngine(w, req) {
		return
	}
	var params setFeesParams
	if !decodeObjectParams(w, req, &params) {
		return
	}
	if err := s.engine.SetFees(params.DepositFeeBps); err != nil {
		s.writeLedgerError(w, req, "setFees", err)
		return
	}
	writeResult(w, req.ID, accepted())
}

func (s *Server) handleSetPauses(w http.ResponseWriter, req *RPCRequest) {
	if !s.requireEngine(w, req) {
		return
	}
	var params setPausesParams
	if !decodeObjectParams(w, req, &params) {
		return
	}
	pauses := ledger.Pauses{
		Deposit:   params.Deposit,
		Withdraw:  params.Withdraw,
		Borrow:    params.Borrow,
		Repay:     params.Repay,
		Liquidate: params.Liquidate,
	}
	if err := s.engine.SetPauses(pauses); err != nil {
		s.writeLedgerError(w, req, "setPauses", err)
		return
	}
	writeResult(w, req.ID, accepted())
}

func (s *Server) handleWithdrawFees(w http.ResponseWriter, req *RPCRequest) {
	if !s.requireEngine(w, req) {
		return
	}
	var params treasuryParams
	if !decodeObjectParams(w, req, &params) {
		return
	}
	asset, rpcErr := parseAddress(params.Asset, "asset")
	if rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	to, rpcErr := parseAddress(params.To, "to")
	if rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	amount, rpcErr := parseAmount(params.Amount, "amount")
	if rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	if err := s.engine.WithdrawFees(asset, to, amount); err != nil {
		s.writeLedgerError(w, req, "withdrawFees", err)
		return
	}
	writeResult(w, req.ID, accepted())
}

func (s *Server) handleWithdrawReserve(w http.ResponseWriter, req *RPCRequest) {
	if !s.requireEngine(w, req) {
		return
	}
	var params treasuryParams
	if !decodeObjectParams(w, req, &params) {
		return
	}
	asset, rpcErr := parseAddress(params.Asset, "asset")
	if rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	to, rpcErr := parseAddress(params.To, "to")
	if rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	amount, rpcErr := parseAmount(params.Amount, "amount")
	if rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	if err := s.engine.WithdrawReserve(asset, to, amount); err != nil {
		s.writeLedgerError(w, req, "withdrawReserve", err)
		return
	}
	writeResult(w, req.ID, accepted())
}

func (s *Server) handleOracleSetPair(w http.ResponseWriter, req *RPCRequest) {
	if s.pools == nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "oracle pools not available", nil)
		return
	}
	var params setPairParams
	if !decodeObjectParams(w, req, &params) {
		return
	}
	pool, rpcErr := parseAddress(params.Pool, "pool")
	if rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	token0, rpcErr := parseAddress(params.Token0, "token0")
	if rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	token1, rpcErr := parseAddress(params.Token1, "token1")
	if rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	reserve0, rpcErr := parseWord(params.Reserve0, "reserve0")
	if rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	reserve1, rpcErr := parseWord(params.Reserve1, "reserve1")
	if rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	s.pools.SetPair(pool, &oracle.PairState{
		Token0:   token0,
		Token1:   token1,
		Reserve0: reserve0,
		Reserve1: reserve1,
	})
	writeResult(w, req.ID, accepted())
}

func (s *Server) handleOracleSetPool(w http.ResponseWriter, req *RPCRequest) {
	if s.pools == nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "oracle pools not available", nil)
		return
	}
	var params setPoolParams
	if !decodeObjectParams(w, req, &params) {
		return
	}
	pool, rpcErr := parseAddress(params.Pool, "pool")
	if rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	token0, rpcErr := parseAddress(params.Token0, "token0")
	if rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	token1, rpcErr := parseAddress(params.Token1, "token1")
	if rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	sqrtPrice, rpcErr := parseWord(params.SqrtPriceX96, "sqrtPriceX96")
	if rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	s.pools.SetPool(pool, &oracle.PoolState{
		Token0:       token0,
		Token1:       token1,
		SqrtPriceX96: sqrtPrice,
	})
	writeResult(w, req.ID, accepted())
}

func (s *Server) handleVaultFund(w http.ResponseWriter, req *RPCRequest) {
	if s.vault == nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "vault not available", nil)
		return
	}
	var params vaultFundParams
	if !decodeObjectParams(w, req, &params) {
		return
	}
	user, rpcErr := parseAddress(params.User, "user")
	if rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	asset, rpcErr := parseAddress(params.Asset, "asset")
	if rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	amount, rpcErr := parseAmount(params.Amount, "amount")
	if rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	if err := s.vault.Fund(user, asset, amount); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	balance, err := s.vault.BalanceOf(user, asset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, err.Error(), nil)
		return
	}
	writeResult(w, req.ID, vaultFundResult{
		User:    user.Hex(),
		Asset:   asset.Hex(),
		Balance: balance.String(),
	})
}
