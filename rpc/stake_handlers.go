package rpc

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"stakeledger/crypto"
)

type createRecordParams struct {
	Owner string `json:"owner"`
}

type stakeAmountParams struct {
	Caller string `json:"caller"`
	Amount string `json:"amount"`
}

type stakeCallerParams struct {
	Caller string `json:"caller"`
}

type stakeRecordResult struct {
	Owner           string `json:"owner"`
	StakedAmount    string `json:"stakedAmount"`
	TotalPointsRaw  string `json:"totalPointsRaw"`
	LastUpdateTime  int64  `json:"lastUpdateTime"`
	DerivationNonce uint8  `json:"derivationNonce"`
}

type stakeRecordDetail struct {
	stakeRecordResult
	VaultAddress string `json:"vaultAddress"`
	VaultBalance string `json:"vaultBalance"`
}

type pointsResult struct {
	Points string `json:"points"`
}

func decodeParams(req *RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return fmt.Errorf("expected exactly one parameter object")
	}
	if err := json.Unmarshal(req.Params[0], out); err != nil {
		return fmt.Errorf("invalid parameter object: %w", err)
	}
	return nil
}

func decodeOwner(addrStr string) ([20]byte, error) {
	var owner [20]byte
	trimmed := strings.TrimSpace(addrStr)
	if trimmed == "" {
		return owner, fmt.Errorf("address required")
	}
	addr, err := crypto.DecodeAddress(trimmed)
	if err != nil {
		return owner, err
	}
	if addr.Prefix() != crypto.StakePrefix {
		return owner, fmt.Errorf("address must carry the %s prefix", crypto.StakePrefix)
	}
	copy(owner[:], addr.Bytes())
	return owner, nil
}

func parseAmount(value string) (uint64, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, fmt.Errorf("amount required")
	}
	amount, err := strconv.ParseUint(trimmed, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("amount must be an unsigned base units integer: %w", err)
	}
	return amount, nil
}

func renderRecord(owner [20]byte, staked, points uint64, lastUpdate int64, nonce uint8) stakeRecordResult {
	return stakeRecordResult{
		Owner:           crypto.MustNewAddress(crypto.StakePrefix, owner[:]).String(),
		StakedAmount:    strconv.FormatUint(staked, 10),
		TotalPointsRaw:  strconv.FormatUint(points, 10),
		LastUpdateTime:  lastUpdate,
		DerivationNonce: nonce,
	}
}

func (s *Server) handleCreateRecord(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params createRecordParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	owner, err := decodeOwner(params.Owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	record, err := s.node.CreateRecord(owner)
	if err != nil {
		s.metrics.ObserveOp("createRecord", "error")
		status, code, message := stakeErrorResponse(err)
		writeError(w, status, req.ID, code, message, nil)
		return
	}
	s.metrics.ObserveOp("createRecord", "ok")
	writeResult(w, req.ID, renderRecord(record.Owner, record.StakedAmount, record.TotalPoints, record.LastUpdateTime, record.DerivationNonce))
}

func (s *Server) handleStake(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params stakeAmountParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	caller, err := decodeOwner(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	record, err := s.node.Stake(caller, amount)
	if err != nil {
		s.metrics.ObserveOp("stake", "error")
		status, code, message := stakeErrorResponse(err)
		writeError(w, status, req.ID, code, message, nil)
		return
	}
	s.metrics.ObserveOp("stake", "ok")
	writeResult(w, req.ID, renderRecord(record.Owner, record.StakedAmount, record.TotalPoints, record.LastUpdateTime, record.DerivationNonce))
}

func (s *Server) handleUnstake(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params stakeAmountParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	caller, err := decodeOwner(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	record, err := s.node.Unstake(caller, amount)
	if err != nil {
		s.metrics.ObserveOp("unstake", "error")
		status, code, message := stakeErrorResponse(err)
		writeError(w, status, req.ID, code, message, nil)
		return
	}
	s.metrics.ObserveOp("unstake", "ok")
	writeResult(w, req.ID, renderRecord(record.Owner, record.StakedAmount, record.TotalPoints, record.LastUpdateTime, record.DerivationNonce))
}

func (s *Server) handleClaimPoints(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params stakeCallerParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	caller, err := decodeOwner(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	claimed, err := s.node.ClaimPoints(caller)
	if err != nil {
		s.metrics.ObserveOp("claimPoints", "error")
		status, code, message := stakeErrorResponse(err)
		writeError(w, status, req.ID, code, message, nil)
		return
	}
	s.metrics.ObserveOp("claimPoints", "ok")
	s.metrics.AddPointsClaimed(claimed)
	writeResult(w, req.ID, pointsResult{Points: strconv.FormatUint(claimed, 10)})
}

func (s *Server) handleGetPoints(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params stakeCallerParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	caller, err := decodeOwner(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	points, err := s.node.Points(caller)
	if err != nil {
		s.metrics.ObserveOp("getPoints", "error")
		status, code, message := stakeErrorResponse(err)
		writeError(w, status, req.ID, code, message, nil)
		return
	}
	s.metrics.ObserveOp("getPoints", "ok")
	writeResult(w, req.ID, pointsResult{Points: strconv.FormatUint(points, 10)})
}

func (s *Server) handleGetRecord(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params stakeCallerParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	caller, err := decodeOwner(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	record, vaultAddr, balance, err := s.node.StakeRecord(caller)
	if err != nil {
		s.metrics.ObserveOp("getRecord", "error")
		status, code, message := stakeErrorResponse(err)
		writeError(w, status, req.ID, code, message, nil)
		return
	}
	s.metrics.ObserveOp("getRecord", "ok")
	writeResult(w, req.ID, stakeRecordDetail{
		stakeRecordResult: renderRecord(record.Owner, record.StakedAmount, record.TotalPoints, record.LastUpdateTime, record.DerivationNonce),
		VaultAddress:      crypto.MustNewAddress(crypto.StakePrefix, vaultAddr[:]).String(),
		VaultBalance:      balance.String(),
	})
}

func (s *Server) handleRecentEvents(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "expected no parameters", nil)
		return
	}
	writeResult(w, req.ID, s.node.RecentEvents())
}
