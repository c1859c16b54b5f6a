package rpc

import (
	"encoding/json"
	"net/http"

	"omen/native/market"
)

type dueMarketResult struct {
	Due      bool   `json:"due"`
	MarketID uint64 `json:"marketId,omitempty"`
}

func (s *Server) handleOracleDue(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	id, due, err := s.node.HasDueMarket()
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	result := dueMarketResult{Due: due}
	if due {
		result.MarketID = id
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleOracleResolve(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "market id required", nil)
		return
	}
	id, err := parseIDParam(req.Params[0])
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := s.node.Resolve(id); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	mkt, err := s.node.GetMarket(id)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, marketResultFrom(mkt))
}

type resolveManualParams struct {
	ID      uint64 `json:"id"`
	Outcome string `json:"outcome"`
	Caller  string `json:"caller"`
}

func parseOutcome(raw string) (market.Outcome, bool) {
	switch raw {
	case "bearish":
		return market.OutcomeBearish, true
	case "bullish":
		return market.OutcomeBullish, true
	default:
		return 0, false
	}
}

func (s *Server) handleOracleResolveManual(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "parameter object required", nil)
		return
	}
	var params resolveManualParams
	if err := json.Unmarshal(req.Params[0], &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid resolution parameters", err.Error())
		return
	}
	outcome, ok := parseOutcome(params.Outcome)
	if !ok {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "outcome must be bearish or bullish", params.Outcome)
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := s.node.ResolveManual(params.ID, outcome, caller); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	mkt, err := s.node.GetMarket(params.ID)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, marketResultFrom(mkt))
}
