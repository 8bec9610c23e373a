package rpc

import (
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"lendledger/ledger"
	"lendledger/observability/metrics"
	"lendledger/vault"
)

var emptyAddress common.Address

func parseAddress(value, field string) (common.Address, *RPCError) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return common.Address{}, &RPCError{Code: codeInvalidParams, Message: field + " required"}
	}
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, &RPCError{Code: codeInvalidParams, Message: "invalid " + field}
	}
	return common.HexToAddress(trimmed), nil
}

func parseAmount(value, field string) (*big.Int, *RPCError) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, &RPCError{Code: codeInvalidParams, Message: field + " required"}
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, &RPCError{Code: codeInvalidParams, Message: "invalid " + field}
	}
	if amount.Sign() <= 0 {
		return nil, &RPCError{Code: codeInvalidParams, Message: field + " must be positive"}
	}
	return amount, nil
}

// parseOptionalAmount admits empty and zero as "unset", returning nil.
func parseOptionalAmount(value, field string) (*big.Int, *RPCError) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, &RPCError{Code: codeInvalidParams, Message: "invalid " + field}
	}
	if amount.Sign() < 0 {
		return nil, &RPCError{Code: codeInvalidParams, Message: field + " must not be negative"}
	}
	if amount.Sign() == 0 {
		return nil, nil
	}
	return amount, nil
}

func parseWord(value, field string) (*uint256.Int, *RPCError) {
	amount, rpcErr := parseAmount(value, field)
	if rpcErr != nil {
		return nil, rpcErr
	}
	word, overflow := uint256.FromBig(amount)
	if overflow {
		return nil, &RPCError{Code: codeInvalidParams, Message: field + " exceeds 256 bits"}
	}
	return word, nil
}

// validateValueAttachment enforces the native-asset convention: transfers of
// the zero address carry a value attachment equal to the amount, all other
// assets carry none.
func validateValueAttachment(asset common.Address, amount *big.Int, value string) *RPCError {
	attached := strings.TrimSpace(value)
	if asset == (common.Address{}) {
		if attached == "" {
			return &RPCError{Code: codeInvalidParams, Message: "native transfers require a value attachment"}
		}
		parsed, ok := new(big.Int).SetString(attached, 10)
		if !ok || parsed.Cmp(amount) != 0 {
			return &RPCError{Code: codeInvalidParams, Message: "value attachment must match amount"}
		}
		return nil
	}
	if attached != "" {
		return &RPCError{Code: codeInvalidParams, Message: "value attachment only valid for the native asset"}
	}
	return nil
}

// decodeObjectParams unwraps the single positional parameter object.
func decodeObjectParams(w http.ResponseWriter, req *RPCRequest, out interface{}) bool {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "expected parameter object", nil)
		return false
	}
	if err := json.Unmarshal(req.Params[0], out); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return false
	}
	return true
}

// decodeAddressParam accepts either a bare string parameter or an object
// carrying the named field.
func decodeAddressParam(w http.ResponseWriter, req *RPCRequest, field string) (common.Address, bool) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "expected "+field+" parameter", nil)
		return common.Address{}, false
	}
	var value string
	if err := json.Unmarshal(req.Params[0], &value); err != nil {
		var wrapped map[string]string
		if err := json.Unmarshal(req.Params[0], &wrapped); err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid "+field+" parameter", err.Error())
			return common.Address{}, false
		}
		value = wrapped[field]
	}
	addr, rpcErr := parseAddress(value, field)
	if rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return common.Address{}, false
	}
	return addr, true
}

var ledgerUserErrors = []error{
	ledger.ErrUnsupportedAsset,
	ledger.ErrAssetInactive,
	ledger.ErrDuplicateAsset,
	ledger.ErrInvalidWeight,
	ledger.ErrInvalidAmount,
	ledger.ErrInvalidParams,
	ledger.ErrInsufficientBalance,
	ledger.ErrInsufficientLiquidity,
	ledger.ErrInsufficientFees,
	ledger.ErrHealthCheckFailed,
	ledger.ErrBorrowCapExceeded,
	ledger.ErrNoDebtToRepay,
	ledger.ErrNotLiquidatable,
	ledger.ErrActionPaused,
	vault.ErrInsufficientFunds,
}

// writeLedgerError translates engine failures into JSON-RPC errors. Ledger
// and vault validation sentinels map to invalid-params; anything else is a
// server fault.
func (s *Server) writeLedgerError(w http.ResponseWriter, req *RPCRequest, op string, err error) {
	if errors.Is(err, ledger.ErrHealthCheckFailed) || errors.Is(err, ledger.ErrNotLiquidatable) {
		metrics.Lending().ObserveHealthCheckFailure(op)
	}
	status := http.StatusInternalServerError
	code := codeServerError
	for _, sentinel := range ledgerUserErrors {
		if errors.Is(err, sentinel) {
			status = http.StatusBadRequest
			code = codeInvalidParams
			break
		}
	}
	writeError(w, status, req.ID, code, err.Error(), nil)
}

func (s *Server) requireEngine(w http.ResponseWriter, req *RPCRequest) bool {
	if s.engine == nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "ledger engine not available", nil)
		return false
	}
	return true
}
