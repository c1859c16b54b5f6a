package rpc

import (
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"omen/native/ingest"
)

type ingestPredictionParams struct {
	Payload      string `json:"payload"`
	InputAmount  string `json:"inputAmount"`
	OutputAmount string `json:"outputAmount"`
	StakeRateBps uint32 `json:"stakeRateBps"`
}


// handleIngestPrediction is the venue-facing entry point. The payload is the
// hex-encoded prediction tuple carried inside the swap transaction; any error
// response tells the venue to abort the enclosing swap.
func (s *Server) handleIngestPrediction(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "parameter object required", nil)
		return
	}
	var params ingestPredictionParams
	if err := json.Unmarshal(req.Params[0], &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid ingestion parameters", err.Error())
		return
	}

	source := clientSource(r)
	if !s.allowSource(source, time.Now()) {
		writeError(w, http.StatusTooManyRequests, req.ID, codeRateLimited, "ingestion rate limit exceeded", source)
		return
	}

	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(params.Payload), "0x"))
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "payload must be hex encoded", err.Error())
		return
	}
	swap := ingest.SwapResult{}
	if strings.TrimSpace(params.InputAmount) != "" {
		if swap.InputAmount, err = parseAmount(params.InputAmount); err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid input amount", err.Error())
			return
		}
	}
	if strings.TrimSpace(params.OutputAmount) != "" {
		if swap.OutputAmount, err = parseAmount(params.OutputAmount); err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid output amount", err.Error())
			return
		}
	}

	pos, err := s.node.IngestPrediction(raw, swap, params.StakeRateBps)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, positionResultFrom(pos))
}

func (s *Server) handleIngestPause(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	s.node.PauseIngestion()
	writeResult(w, req.ID, "ingestion paused")
}

func (s *Server) handleIngestResume(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	s.node.ResumeIngestion()
	writeResult(w, req.ID, "ingestion resumed")
}
