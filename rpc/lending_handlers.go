package rpc

import (
	"math/big"
	"net/http"
)

type lendingAmountParams struct {
	From   string `json:"from"`
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
	Value  string `json:"value,omitempty"`
}

type lendingLiquidateParams struct {
	Liquidator      string `json:"liquidator"`
	Borrower        string `json:"borrower"`
	DebtAsset       string `json:"debtAsset"`
	CollateralAsset string `json:"collateralAsset"`
	Amount          string `json:"amount"`
}

type lendingDepositResult struct {
	Credited string `json:"credited"`
	Fee      string `json:"fee"`
}

type lendingAmountResult struct {
	Amount string `json:"amount"`
}

type lendingRepayResult struct {
	Repaid string `json:"repaid"`
}

type lendingLiquidateResult struct {
	Seized string `json:"seized"`
}

func (s *Server) handleLendingDeposit(w http.ResponseWriter, req *RPCRequest) {
	if !s.requireEngine(w, req) {
		return
	}
	var params lendingAmountParams
	if !decodeObjectParams(w, req, &params) {
		return
	}
	from, rpcErr := parseAddress(params.From, "from")
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
	if rpcErr := validateValueAttachment(asset, amount, params.Value); rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	credited, err := s.engine.Deposit(from, asset, amount)
	if err != nil {
		s.writeLedgerError(w, req, "deposit", err)
		return
	}
	fee := new(big.Int).Sub(amount, credited)
	writeResult(w, req.ID, lendingDepositResult{Credited: credited.String(), Fee: fee.String()})
}

func (s *Server) handleLendingWithdraw(w http.ResponseWriter, req *RPCRequest) {
	if !s.requireEngine(w, req) {
		return
	}
	var params lendingAmountParams
	if !decodeObjectParams(w, req, &params) {
		return
	}
	from, rpcErr := parseAddress(params.From, "from")
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
	if params.Value != "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "withdrawals do not accept a value attachment", nil)
		return
	}
	if err := s.engine.Withdraw(from, asset, amount); err != nil {
		s.writeLedgerError(w, req, "withdraw", err)
		return
	}
	writeResult(w, req.ID, lendingAmountResult{Amount: amount.String()})
}

func (s *Server) handleLendingBorrow(w http.ResponseWriter, req *RPCRequest) {
	if !s.requireEngine(w, req) {
		return
	}
	var params lendingAmountParams
	if !decodeObjectParams(w, req, &params) {
		return
	}
	from, rpcErr := parseAddress(params.From, "from")
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
	if params.Value != "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "borrows do not accept a value attachment", nil)
		return
	}
	if err := s.engine.Borrow(from, asset, amount); err != nil {
		s.writeLedgerError(w, req, "borrow", err)
		return
	}
	writeResult(w, req.ID, lendingAmountResult{Amount: amount.String()})
}

func (s *Server) handleLendingRepay(w http.ResponseWriter, req *RPCRequest) {
	if !s.requireEngine(w, req) {
		return
	}
	var params lendingAmountParams
	if !decodeObjectParams(w, req, &params) {
		return
	}
	from, rpcErr := parseAddress(params.From, "from")
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
	if rpcErr := validateValueAttachment(asset, amount, params.Value); rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	repaid, err := s.engine.Repay(from, asset, amount)
	if err != nil {
		s.writeLedgerError(w, req, "repay", err)
		return
	}
	writeResult(w, req.ID, lendingRepayResult{Repaid: repaid.String()})
}

func (s *Server) handleLendingLiquidate(w http.ResponseWriter, req *RPCRequest) {
	if !s.requireEngine(w, req) {
		return
	}
	var params lendingLiquidateParams
	if !decodeObjectParams(w, req, &params) {
		return
	}
	liquidator, rpcErr := parseAddress(params.Liquidator, "liquidator")
	if rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	borrower, rpcErr := parseAddress(params.Borrower, "borrower")
	if rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	debtAsset, rpcErr := parseAddress(params.DebtAsset, "debtAsset")
	if rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	collateralAsset, rpcErr := parseAddress(params.CollateralAsset, "collateralAsset")
	if rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	amount, rpcErr := parseAmount(params.Amount, "amount")
	if rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	seized, err := s.engine.Liquidate(liquidator, borrower, debtAsset, collateralAsset, amount)
	if err != nil {
		s.writeLedgerError(w, req, "liquidate", err)
		return
	}
	writeResult(w, req.ID, lendingLiquidateResult{Seized: seized.String()})
}

type poolResult struct {
	Asset           string `json:"asset"`
	TotalCollateral string `json:"totalCollateral"`
	TotalDebt       string `json:"totalDebt"`
	Reserve         string `json:"reserve"`
	FeesAccrued     string `json:"feesAccrued"`
	InterestIndex   string `json:"interestIndex"`
	UpdatedAt       int64  `json:"updatedAt"`
	Utilization     string `json:"utilization"`
	BorrowRate      string `json:"borrowRate"`
}

type positionResult struct {
	Asset      string `json:"asset"`
	Collateral string `json:"collateral"`
	Debt       string `json:"debt"`
}

type accountResult struct {
	User      string           `json:"user"`
	Positions []positionResult `json:"positions"`
}

type riskResult struct {
	CapacityUSD  string `json:"capacityUsd"`
	DebtUSD      string `json:"debtUsd"`
	Indebtedness string `json:"indebtedness"`
}

type sourceResult struct {
	Kind  string `json:"kind"`
	Pool  string `json:"pool,omitempty"`
	Quote string `json:"quote,omitempty"`
}

type assetResult struct {
	Asset     string       `json:"asset"`
	Weight    uint64       `json:"weight"`
	Active    bool         `json:"active"`
	Source    sourceResult `json:"source"`
	BorrowCap string       `json:"borrowCap,omitempty"`
}

type poolRateResult struct {
	Asset       string `json:"asset"`
	Utilization string `json:"utilization"`
	BorrowRate  string `json:"borrowRate"`
}

type ratesResult struct {
	BaseRate string           `json:"baseRate"`
	Slope    string           `json:"slope"`
	Pools    []poolRateResult `json:"pools"`
}

type quoteResult struct {
	Asset    string `json:"asset"`
	PriceUSD string `json:"priceUsd"`
}

func (s *Server) handleLendingGetPool(w http.ResponseWriter, req *RPCRequest) {
	if !s.requireEngine(w, req) {
		return
	}
	asset, ok := decodeAddressParam(w, req, "asset")
	if !ok {
		return
	}
	view, err := s.engine.PoolOf(asset)
	if err != nil {
		s.writeLedgerError(w, req, "getPool", err)
		return
	}
	writeResult(w, req.ID, poolResult{
		Asset:           view.Pool.Token.Hex(),
		TotalCollateral: view.Pool.TotalCollateral.String(),
		TotalDebt:       view.Pool.TotalDebt.String(),
		Reserve:         view.Pool.Reserve.String(),
		FeesAccrued:     view.Pool.FeesAccrued.String(),
		InterestIndex:   view.LiveIndex.String(),
		UpdatedAt:       view.Pool.UpdatedAt,
		Utilization:     view.Utilization.String(),
		BorrowRate:      view.BorrowRate.String(),
	})
}

func (s *Server) handleLendingGetAccount(w http.ResponseWriter, req *RPCRequest) {
	if !s.requireEngine(w, req) {
		return
	}
	user, ok := decodeAddressParam(w, req, "user")
	if !ok {
		return
	}
	positions, err := s.engine.AccountOf(user)
	if err != nil {
		s.writeLedgerError(w, req, "getAccount", err)
		return
	}
	result := accountResult{User: user.Hex(), Positions: make([]positionResult, 0, len(positions))}
	for _, pos := range positions {
		result.Positions = append(result.Positions, positionResult{
			Asset:      pos.Token.Hex(),
			Collateral: pos.Collateral.String(),
			Debt:       pos.Debt.String(),
		})
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleLendingGetRisk(w http.ResponseWriter, req *RPCRequest) {
	if !s.requireEngine(w, req) {
		return
	}
	user, ok := decodeAddressParam(w, req, "user")
	if !ok {
		return
	}
	view, err := s.engine.RiskOf(user)
	if err != nil {
		s.writeLedgerError(w, req, "getRisk", err)
		return
	}
	writeResult(w, req.ID, riskResult{
		CapacityUSD:  view.CapacityUSD.String(),
		DebtUSD:      view.DebtUSD.String(),
		Indebtedness: view.Indebtedness.String(),
	})
}

func (s *Server) handleLendingListAssets(w http.ResponseWriter, req *RPCRequest) {
	if !s.requireEngine(w, req) {
		return
	}
	assets, err := s.engine.Assets()
	if err != nil {
		s.writeLedgerError(w, req, "listAssets", err)
		return
	}
	results := make([]assetResult, 0, len(assets))
	for _, asset := range assets {
		entry := assetResult{
			Asset:  asset.Token.Hex(),
			Weight: asset.Weight,
			Active: asset.Active,
			Source: sourceResult{Kind: asset.Source.Kind.String()},
		}
		if asset.Source.Pool != (emptyAddress) {
			entry.Source.Pool = asset.Source.Pool.Hex()
		}
		if asset.Source.Quote != (emptyAddress) {
			entry.Source.Quote = asset.Source.Quote.Hex()
		}
		if asset.BorrowCap != nil && asset.BorrowCap.Sign() > 0 {
			entry.BorrowCap = asset.BorrowCap.String()
		}
		results = append(results, entry)
	}
	writeResult(w, req.ID, results)
}

func (s *Server) handleLendingGetRates(w http.ResponseWriter, req *RPCRequest) {
	if !s.requireEngine(w, req) {
		return
	}
	model := s.engine.Model()
	if model == nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "rate model not available", nil)
		return
	}
	assets, err := s.engine.Assets()
	if err != nil {
		s.writeLedgerError(w, req, "getRates", err)
		return
	}
	result := ratesResult{
		BaseRate: model.Base.String(),
		Slope:    model.Slope.String(),
		Pools:    make([]poolRateResult, 0, len(assets)),
	}
	for _, asset := range assets {
		view, err := s.engine.PoolOf(asset.Token)
		if err != nil {
			s.writeLedgerError(w, req, "getRates", err)
			return
		}
		result.Pools = append(result.Pools, poolRateResult{
			Asset:       asset.Token.Hex(),
			Utilization: view.Utilization.String(),
			BorrowRate:  view.BorrowRate.String(),
		})
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleOracleQuote(w http.ResponseWriter, req *RPCRequest) {
	if s.quoter == nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "price oracle not available", nil)
		return
	}
	asset, ok := decodeAddressParam(w, req, "asset")
	if !ok {
		return
	}
	price, err := s.quoter.QuoteUSD(asset)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	writeResult(w, req.ID, quoteResult{Asset: asset.Hex(), PriceUSD: price.String()})
}
