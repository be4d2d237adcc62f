package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"cdpcore/core/events"
	"cdpcore/native/cdp"
	"cdpcore/observability"
	"cdpcore/oracle"
)

type accountParams struct {
	Account string `json:"account"`
}

type depositParams struct {
	Account string `json:"account"`
	Asset   string `json:"asset"`
	Amount  string `json:"amount"`
}

type mintParams struct {
	Account string `json:"account"`
	Amount  string `json:"amount"`
}

type depositAndMintParams struct {
	Account          string `json:"account"`
	Asset            string `json:"asset"`
	CollateralAmount string `json:"collateralAmount"`
	SynthAmount      string `json:"synthAmount"`
}

type redeemForSynthParams struct {
	Account          string `json:"account"`
	Asset            string `json:"asset"`
	CollateralAmount string `json:"collateralAmount"`
	BurnAmount       string `json:"burnAmount"`
}

type liquidateParams struct {
	Liquidator  string `json:"liquidator"`
	Account     string `json:"account"`
	Asset       string `json:"asset"`
	DebtToCover string `json:"debtToCover"`
}

type balanceParams struct {
	Account string `json:"account"`
	Asset   string `json:"asset"`
}

type ackResult struct {
	Status string `json:"status"`
}

type accountInfoResult struct {
	Debt            string `json:"debt"`
	CollateralValue string `json:"collateralValue"`
}

type healthFactorResult struct {
	HealthFactor string `json:"healthFactor"`
}

type balanceResult struct {
	Balance string `json:"balance"`
}

type collateralTokenResult struct {
	Symbol       string `json:"symbol"`
	Address      string `json:"address"`
	FeedDecimals uint8  `json:"feedDecimals"`
}

var acked = ackResult{Status: "ok"}

func decodeParams(req *RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return fmt.Errorf("expected a single params object")
	}
	return json.Unmarshal(req.Params[0], out)
}

func parseAddress(field, value string) (common.Address, error) {
	if !common.IsHexAddress(value) {
		return common.Address{}, fmt.Errorf("invalid %s address %q", field, value)
	}
	return common.HexToAddress(value), nil
}

func parseAmount(field, value string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return nil, fmt.Errorf("invalid %s amount %q", field, value)
	}
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("%s amount must be positive", field)
	}
	return amount, nil
}

// writeEngineError maps engine failures onto JSON-RPC error codes.
// Health factor failures attach the computed factor as error data.
func writeEngineError(w http.ResponseWriter, id interface{}, err error) {
	var factor *big.Int
	var tooLow *cdp.HealthFactorTooLowError
	var healthyTarget *cdp.HealthFactorOKError
	var notImproved *cdp.HealthFactorNotImprovedError
	switch {
	case errors.As(err, &tooLow):
		factor = tooLow.Factor
	case errors.As(err, &healthyTarget):
		factor = healthyTarget.Factor
	case errors.As(err, &notImproved):
		factor = notImproved.Factor
	}
	if factor != nil {
		writeError(w, http.StatusConflict, id, codeUnhealthy, err.Error(), healthFactorResult{HealthFactor: factor.String()})
		return
	}

	switch {
	case errors.Is(err, oracle.ErrStalePrice), errors.Is(err, oracle.ErrNoQuote):
		writeError(w, http.StatusServiceUnavailable, id, codeStaleOracle, err.Error(), nil)
	case errors.Is(err, cdp.ErrInsufficientBalance),
		errors.Is(err, cdp.ErrInsufficientCollateralToSeize),
		errors.Is(err, cdp.ErrTransferFailed):
		writeError(w, http.StatusConflict, id, codeInsufficient, err.Error(), nil)
	case errors.Is(err, cdp.ErrAmountZero),
		errors.Is(err, cdp.ErrNotAllowedToken),
		errors.Is(err, cdp.ErrDebtBelowZero):
		writeError(w, http.StatusBadRequest, id, codeInvalidParams, err.Error(), nil)
	default:
		writeError(w, http.StatusInternalServerError, id, codeServerError, err.Error(), nil)
	}
}

func (s *Server) observeEngine(op string, started time.Time, err error) {
	observability.Engine().Observe(op, time.Since(started), err)
}

func (s *Server) handleDepositCollateral(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params depositParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	account, err := parseAddress("account", params.Account)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	asset, err := parseAddress("asset", params.Asset)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	amount, err := parseAmount("deposit", params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}

	started := time.Now()
	err = s.engine.DepositCollateral(r.Context(), account, asset, amount)
	s.observeEngine("deposit_collateral", started, err)
	if err != nil {
		s.logger.Warn("deposit rejected", "account", account.Hex(), "asset", asset.Hex(), "error", err)
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, acked)
}

func (s *Server) handleMintSynth(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params mintParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	account, err := parseAddress("account", params.Account)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	amount, err := parseAmount("mint", params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}

	started := time.Now()
	err = s.engine.MintSynth(r.Context(), account, amount)
	s.observeEngine("mint_synth", started, err)
	if err != nil {
		s.logger.Warn("mint rejected", "account", account.Hex(), "error", err)
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, acked)
}

func (s *Server) handleDepositCollateralAndMintSynth(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params depositAndMintParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	account, err := parseAddress("account", params.Account)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	asset, err := parseAddress("asset", params.Asset)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	collateralAmount, err := parseAmount("collateral", params.CollateralAmount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	synthAmount, err := parseAmount("synth", params.SynthAmount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}

	started := time.Now()
	err = s.engine.DepositCollateralAndMintSynth(r.Context(), account, asset, collateralAmount, synthAmount)
	s.observeEngine("deposit_and_mint", started, err)
	if err != nil {
		s.logger.Warn("deposit-and-mint rejected", "account", account.Hex(), "error", err)
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, acked)
}

func (s *Server) handleBurnSynth(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params mintParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	account, err := parseAddress("account", params.Account)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	amount, err := parseAmount("burn", params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}

	started := time.Now()
	err = s.engine.BurnSynth(r.Context(), account, amount)
	s.observeEngine("burn_synth", started, err)
	if err != nil {
		s.logger.Warn("burn rejected", "account", account.Hex(), "error", err)
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, acked)
}

func (s *Server) handleRedeemCollateral(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params depositParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	account, err := parseAddress("account", params.Account)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	asset, err := parseAddress("asset", params.Asset)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	amount, err := parseAmount("redeem", params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}

	started := time.Now()
	err = s.engine.RedeemCollateral(r.Context(), account, asset, amount)
	s.observeEngine("redeem_collateral", started, err)
	if err != nil {
		s.logger.Warn("redeem rejected", "account", account.Hex(), "asset", asset.Hex(), "error", err)
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, acked)
}

func (s *Server) handleRedeemCollateralForSynth(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params redeemForSynthParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	account, err := parseAddress("account", params.Account)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	asset, err := parseAddress("asset", params.Asset)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	collateralAmount, err := parseAmount("collateral", params.CollateralAmount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	burnAmount, err := parseAmount("burn", params.BurnAmount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}

	started := time.Now()
	err = s.engine.RedeemCollateralForSynth(r.Context(), account, asset, collateralAmount, burnAmount)
	s.observeEngine("redeem_for_synth", started, err)
	if err != nil {
		s.logger.Warn("redeem-for-synth rejected", "account", account.Hex(), "error", err)
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, acked)
}

func (s *Server) handleLiquidate(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params liquidateParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	liquidator, err := parseAddress("liquidator", params.Liquidator)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	account, err := parseAddress("account", params.Account)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	asset, err := parseAddress("asset", params.Asset)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	debtToCover, err := parseAmount("debtToCover", params.DebtToCover)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}

	started := time.Now()
	err = s.engine.Liquidate(r.Context(), liquidator, account, asset, debtToCover)
	s.observeEngine("liquidate", started, err)
	if err != nil {
		s.logger.Warn("liquidation rejected",
			"liquidator", liquidator.Hex(), "account", account.Hex(), "error", err)
		writeEngineError(w, req.ID, err)
		return
	}
	s.logger.Info("position liquidated",
		"liquidator", liquidator.Hex(), "account", account.Hex(), "asset", asset.Hex())
	writeResult(w, req.ID, acked)
}

func (s *Server) handleGetAccountInformation(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params accountParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	account, err := parseAddress("account", params.Account)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	info, err := s.engine.GetAccountInformation(r.Context(), account)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, accountInfoResult{
		Debt:            info.Debt.String(),
		CollateralValue: info.CollateralValue.String(),
	})
}

func (s *Server) handleGetHealthFactor(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params accountParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	account, err := parseAddress("account", params.Account)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	factor, err := s.engine.GetHealthFactor(r.Context(), account)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, healthFactorResult{HealthFactor: factor.String()})
}

func (s *Server) handleGetCollateralBalance(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params balanceParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	account, err := parseAddress("account", params.Account)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	asset, err := parseAddress("asset", params.Asset)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	balance := s.engine.GetCollateralBalance(account, asset)
	writeResult(w, req.ID, balanceResult{Balance: balance.String()})
}

func (s *Server) handleGetCollateralTokens(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	assets := s.engine.CollateralAssets()
	result := make([]collateralTokenResult, 0, len(assets))
	for _, asset := range assets {
		result = append(result, collateralTokenResult{
			Symbol:       asset.Symbol,
			Address:      asset.Address.Hex(),
			FeedDecimals: asset.FeedDecimals,
		})
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleGetParams(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	writeResult(w, req.ID, s.engine.Params())
}

func (s *Server) handleGetEvents(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if s.recorder == nil {
		writeResult(w, req.ID, []events.Entry{})
		return
	}
	writeResult(w, req.ID, s.recorder.Entries())
}
