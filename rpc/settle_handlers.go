package rpc

import (
	"encoding/json"
	"net/http"
)

type claimParams struct {
	PositionID uint64 `json:"positionId"`
	Caller     string `json:"caller"`
}

type claimResult struct {
	PositionID uint64 `json:"positionId"`
	Paid       string `json:"paid"`
}

func (s *Server) handleSettleClaim(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "parameter object required", nil)
		return
	}
	var params claimParams
	if err := json.Unmarshal(req.Params[0], &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid claim parameters", err.Error())
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	paid, err := s.node.Claim(params.PositionID, caller)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, claimResult{PositionID: params.PositionID, Paid: paid.String()})
}
