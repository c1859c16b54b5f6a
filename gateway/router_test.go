package gateway

import (
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"omen/core"
	"omen/gateway/middleware"
	"omen/native/oracle"
	"omen/storage"
)

func newTestRouter(t *testing.T) (http.Handler, *core.Node) {
	t.Helper()
	node, err := core.NewNode(storage.NewMemDB(), oracle.NewManualSource(), core.Config{
		FeeRateBps:         500,
		OracleMaxSampleAge: 5 * time.Minute,
	})
	require.NoError(t, err)
	handler, err := New(Config{Node: node})
	require.NoError(t, err)
	return handler, node
}

func bigInt(t *testing.T, raw string) *big.Int {
	t.Helper()
	value, ok := new(big.Int).SetString(raw, 10)
	require.True(t, ok)
	return value
}

func doGet(t *testing.T, handler http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)
	return recorder
}

func TestHealthz(t *testing.T) {
	handler, _ := newTestRouter(t)
	recorder := doGet(t, handler, "/healthz")
	require.Equal(t, http.StatusOK, recorder.Code)
	require.Equal(t, "ok", recorder.Body.String())
}

func TestGetMarket(t *testing.T) {
	handler, node := newTestRouter(t)
	mkt, err := node.CreateMarket("BTC above 50k", "BTC/USD", time.Now().Add(time.Hour).Unix(), "btc-usd", bigInt(t, "5000000000000"))
	require.NoError(t, err)

	recorder := doGet(t, handler, "/v1/markets/1")
	require.Equal(t, http.StatusOK, recorder.Code)
	var payload marketPayload
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &payload))
	require.Equal(t, mkt.ID, payload.ID)
	require.Equal(t, "BTC/USD", payload.AssetPairKey)
	require.False(t, payload.Resolved)

	recorder = doGet(t, handler, "/v1/markets/99")
	require.Equal(t, http.StatusNotFound, recorder.Code)

	recorder = doGet(t, handler, "/v1/markets/abc")
	require.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestListMarkets(t *testing.T) {
	handler, node := newTestRouter(t)
	for i := 0; i < 3; i++ {
		_, err := node.CreateMarket("m", "BTC/USD", time.Now().Add(time.Hour).Unix(), "btc-usd", bigInt(t, "1"))
		require.NoError(t, err)
	}

	recorder := doGet(t, handler, "/v1/markets")
	require.Equal(t, http.StatusOK, recorder.Code)
	var payload []marketPayload
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &payload))
	require.Len(t, payload, 3)
}

func TestGetAccount(t *testing.T) {
	handler, node := newTestRouter(t)
	var addr [20]byte
	addr[19] = 0x05
	require.NoError(t, node.Deposit(addr, bigInt(t, "777")))

	recorder := doGet(t, handler, "/v1/accounts/0x"+strings.Repeat("00", 19)+"05")
	require.Equal(t, http.StatusOK, recorder.Code)
	var payload accountPayload
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &payload))
	require.Equal(t, "777", payload.Balance)

	recorder = doGet(t, handler, "/v1/accounts/0x1234")
	require.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestGetStats(t *testing.T) {
	handler, node := newTestRouter(t)
	_, err := node.CreateMarket("m", "BTC/USD", time.Now().Add(time.Hour).Unix(), "btc-usd", bigInt(t, "1"))
	require.NoError(t, err)
	node.PauseIngestion()

	recorder := doGet(t, handler, "/v1/stats")
	require.Equal(t, http.StatusOK, recorder.Code)
	var payload statsPayload
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &payload))
	require.Equal(t, 1, payload.Markets)
	require.Equal(t, 0, payload.ResolvedMarkets)
	require.Equal(t, uint32(500), payload.FeeRateBps)
	require.True(t, payload.IngestionPaused)
}

func TestRateLimiterBlocksAfterBurst(t *testing.T) {
	node, err := core.NewNode(storage.NewMemDB(), oracle.NewManualSource(), core.Config{
		FeeRateBps:         500,
		OracleMaxSampleAge: 5 * time.Minute,
	})
	require.NoError(t, err)
	handler, err := New(Config{
		Node:        node,
		RateLimiter: middleware.NewRateLimiter(middleware.RateLimit{RequestsPerMinute: 1, Burst: 2}),
	})
	require.NoError(t, err)

	statuses := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/v1/markets", nil)
		req.RemoteAddr = "198.51.100.1:1234"
		recorder := httptest.NewRecorder()
		handler.ServeHTTP(recorder, req)
		statuses = append(statuses, recorder.Code)
	}
	require.Equal(t, http.StatusOK, statuses[0])
	require.Equal(t, http.StatusOK, statuses[1])
	require.Equal(t, http.StatusTooManyRequests, statuses[2])

	// Health endpoint stays outside the limited subtree.
	recorder := doGet(t, handler, "/healthz")
	require.Equal(t, http.StatusOK, recorder.Code)
}
