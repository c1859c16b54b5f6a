package rpc

import (
	"encoding/json"
	"net/http"

	"omen/native/market"
)

type MarketResult struct {
	ID                uint64 `json:"id"`
	Description       string `json:"description"`
	AssetPairKey      string `json:"assetPairKey"`
	ExpirationTime    int64  `json:"expirationTime"`
	PriceThreshold    string `json:"priceThreshold"`
	OracleRef         string `json:"oracleRef"`
	TotalStakeBearish string `json:"totalStakeBearish"`
	TotalStakeBullish string `json:"totalStakeBullish"`
	Resolved          bool   `json:"resolved"`
	WinningOutcome    string `json:"winningOutcome,omitempty"`
	ResolutionReason  string `json:"resolutionReason,omitempty"`
	CreatedAt         int64  `json:"createdAt"`
}

type PositionResult struct {
	ID              uint64 `json:"id"`
	MarketID        uint64 `json:"marketId"`
	Outcome         string `json:"outcome"`
	ConvictionStake string `json:"convictionStake"`
	Owner           string `json:"owner"`
	MintedAt        int64  `json:"mintedAt"`
}

func marketResultFrom(mkt *market.Market) MarketResult {
	result := MarketResult{
		ID:                mkt.ID,
		Description:       mkt.Description,
		AssetPairKey:      mkt.AssetPairKey,
		ExpirationTime:    mkt.ExpirationTime,
		PriceThreshold:    mkt.PriceThreshold.String(),
		OracleRef:         mkt.OracleRef,
		TotalStakeBearish: mkt.TotalStakeBearish.String(),
		TotalStakeBullish: mkt.TotalStakeBullish.String(),
		Resolved:          mkt.Resolved,
		CreatedAt:         mkt.CreatedAt,
	}
	if mkt.Resolved {
		result.WinningOutcome = mkt.WinningOutcome.String()
		result.ResolutionReason = mkt.ResolutionReason
	}
	return result
}

func positionResultFrom(pos *market.Position) PositionResult {
	return PositionResult{
		ID:              pos.ID,
		MarketID:        pos.MarketID,
		Outcome:         pos.Outcome.String(),
		ConvictionStake: pos.ConvictionStake.String(),
		Owner:           formatAddress(pos.Owner),
		MintedAt:        pos.MintedAt,
	}
}

type createMarketParams struct {
	Description    string `json:"description"`
	AssetPairKey   string `json:"assetPairKey"`
	ExpirationTime int64  `json:"expirationTime"`
	OracleRef      string `json:"oracleRef"`
	PriceThreshold string `json:"priceThreshold"`
}

func (s *Server) handleMarketCreate(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "parameter object required", nil)
		return
	}
	var params createMarketParams
	if err := json.Unmarshal(req.Params[0], &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid market parameters", err.Error())
		return
	}
	threshold, err := parseAmount(params.PriceThreshold)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid price threshold", err.Error())
		return
	}
	mkt, err := s.node.CreateMarket(params.Description, params.AssetPairKey, params.ExpirationTime, params.OracleRef, threshold)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, marketResultFrom(mkt))
}

func parseIDParam(raw json.RawMessage) (uint64, error) {
	var direct uint64
	if err := json.Unmarshal(raw, &direct); err == nil {
		return direct, nil
	}
	var wrapper struct {
		ID *uint64 `json:"id"`
	}
	if err := json.Unmarshal(raw, &wrapper); err == nil && wrapper.ID != nil {
		return *wrapper.ID, nil
	}
	return 0, errInvalidID
}

func (s *Server) handleMarketGet(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "market id required", nil)
		return
	}
	id, err := parseIDParam(req.Params[0])
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	mkt, err := s.node.GetMarket(id)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, marketResultFrom(mkt))
}

func (s *Server) handleMarketList(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	ids, err := s.node.MarketIDs()
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	markets := make([]MarketResult, 0, len(ids))
	for _, id := range ids {
		mkt, err := s.node.GetMarket(id)
		if err != nil {
			writeEngineError(w, req.ID, err)
			return
		}
		markets = append(markets, marketResultFrom(mkt))
	}
	writeResult(w, req.ID, markets)
}

func (s *Server) handlePositionGet(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "position id required", nil)
		return
	}
	id, err := parseIDParam(req.Params[0])
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	pos, err := s.node.GetPosition(id)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, positionResultFrom(pos))
}

type transferPositionParams struct {
	ID   uint64 `json:"id"`
	From string `json:"from"`
	To   string `json:"to"`
}

func (s *Server) handlePositionTransfer(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "parameter object required", nil)
		return
	}
	var params transferPositionParams
	if err := json.Unmarshal(req.Params[0], &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid transfer parameters", err.Error())
		return
	}
	from, err := parseAddress(params.From)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	to, err := parseAddress(params.To)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := s.node.TransferPosition(params.ID, from, to); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, "position transferred")
}
