package gateway

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"omen/core"
	"omen/gateway/middleware"
	"omen/native/market"
)

// Config wires the read-only HTTP surface.
type Config struct {
	Node        *core.Node
	RateLimiter *middleware.RateLimiter
}

// New builds the public read router. All mutations go through the JSON-RPC
// surface; this router only serves queries, health and metrics.
func New(cfg Config) (http.Handler, error) {
	if cfg.Node == nil {
		return nil, fmt.Errorf("gateway: node required")
	}
	g := &gatewayHandlers{node: cfg.Node}

	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(sr chi.Router) {
		if cfg.RateLimiter != nil {
			sr.Use(cfg.RateLimiter.Middleware())
		}
		sr.Get("/markets", g.listMarkets)
		sr.Get("/markets/{id}", g.getMarket)
		sr.Get("/positions/{id}", g.getPosition)
		sr.Get("/accounts/{address}", g.getAccount)
		sr.Get("/treasury", g.getTreasury)
		sr.Get("/stats", g.getStats)
	})
	return r, nil
}

type gatewayHandlers struct {
	node *core.Node
}

type marketPayload struct {
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

type positionPayload struct {
	ID              uint64 `json:"id"`
	MarketID        uint64 `json:"marketId"`
	Outcome         string `json:"outcome"`
	ConvictionStake string `json:"convictionStake"`
	Owner           string `json:"owner"`
	MintedAt        int64  `json:"mintedAt"`
}

type accountPayload struct {
	Address string `json:"address"`
	Balance string `json:"balance"`
}

type statsPayload struct {
	Markets         int    `json:"markets"`
	ResolvedMarkets int    `json:"resolvedMarkets"`
	TreasuryBalance string `json:"treasuryBalance"`
	FeeRateBps      uint32 `json:"feeRateBps"`
	IngestionPaused bool   `json:"ingestionPaused"`
}

func marketPayloadFrom(mkt *market.Market) marketPayload {
	payload := marketPayload{
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
		payload.WinningOutcome = mkt.WinningOutcome.String()
		payload.ResolutionReason = mkt.ResolutionReason
	}
	return payload
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeErrorJSON(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, market.ErrMarketNotFound), errors.Is(err, market.ErrPositionNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func pathID(r *http.Request) (uint64, error) {
	raw := chi.URLParam(r, "id")
	return strconv.ParseUint(raw, 10, 64)
}

func (g *gatewayHandlers) listMarkets(w http.ResponseWriter, _ *http.Request) {
	ids, err := g.node.MarketIDs()
	if err != nil {
		writeErrorJSON(w, http.StatusInternalServerError, err.Error())
		return
	}
	markets := make([]marketPayload, 0, len(ids))
	for _, id := range ids {
		mkt, err := g.node.GetMarket(id)
		if err != nil {
			writeErrorJSON(w, statusForError(err), err.Error())
			return
		}
		markets = append(markets, marketPayloadFrom(mkt))
	}
	writeJSON(w, http.StatusOK, markets)
}

func (g *gatewayHandlers) getMarket(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeErrorJSON(w, http.StatusBadRequest, "market id must be an integer")
		return
	}
	mkt, err := g.node.GetMarket(id)
	if err != nil {
		writeErrorJSON(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, marketPayloadFrom(mkt))
}

func (g *gatewayHandlers) getPosition(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeErrorJSON(w, http.StatusBadRequest, "position id must be an integer")
		return
	}
	pos, err := g.node.GetPosition(id)
	if err != nil {
		writeErrorJSON(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, positionPayload{
		ID:              pos.ID,
		MarketID:        pos.MarketID,
		Outcome:         pos.Outcome.String(),
		ConvictionStake: pos.ConvictionStake.String(),
		Owner:           "0x" + hex.EncodeToString(pos.Owner[:]),
		MintedAt:        pos.MintedAt,
	})
}

func (g *gatewayHandlers) getAccount(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimPrefix(chi.URLParam(r, "address"), "0x")
	decoded, err := hex.DecodeString(raw)
	if err != nil || len(decoded) != 20 {
		writeErrorJSON(w, http.StatusBadRequest, "address must be 20 hex bytes")
		return
	}
	var addr [20]byte
	copy(addr[:], decoded)
	balance, err := g.node.BalanceOf(addr)
	if err != nil {
		writeErrorJSON(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, accountPayload{
		Address: "0x" + hex.EncodeToString(addr[:]),
		Balance: balance.String(),
	})
}

func (g *gatewayHandlers) getTreasury(w http.ResponseWriter, _ *http.Request) {
	balance, err := g.node.TreasuryBalance()
	if err != nil {
		writeErrorJSON(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"balance": balance.String()})
}

func (g *gatewayHandlers) getStats(w http.ResponseWriter, _ *http.Request) {
	ids, err := g.node.MarketIDs()
	if err != nil {
		writeErrorJSON(w, http.StatusInternalServerError, err.Error())
		return
	}
	resolved := 0
	for _, id := range ids {
		mkt, err := g.node.GetMarket(id)
		if err != nil {
			writeErrorJSON(w, statusForError(err), err.Error())
			return
		}
		if mkt.Resolved {
			resolved++
		}
	}
	treasury, err := g.node.TreasuryBalance()
	if err != nil {
		writeErrorJSON(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, statsPayload{
		Markets:         len(ids),
		ResolvedMarkets: resolved,
		TreasuryBalance: treasury.String(),
		FeeRateBps:      g.node.FeeRate(),
		IngestionPaused: g.node.IngestionPaused(),
	})
}
