package rpc

import (
	"bytes"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/time/rate"

	"cdpcore/core/events"
	"cdpcore/native/cdp"
	"cdpcore/oracle"
	"cdpcore/storage"
	"cdpcore/token"
)

const testBearerToken = "test-token"

var testJWTSecret = []byte("test-jwt-secret")

var (
	testEngineAddr = common.HexToAddress("0x0000000000000000000000000000000000000001")
	testAdminAddr  = common.HexToAddress("0x0000000000000000000000000000000000000002")
	testUserAddr   = common.HexToAddress("0x0000000000000000000000000000000000000010")
	testWethAddr   = common.HexToAddress("0x00000000000000000000000000000000000000A0")
)

type testServer struct {
	server *Server
	http   *httptest.Server
	weth   *token.Ledger
	feed   *oracle.ManualFeed
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	now := time.Unix(1_700_000_000, 0)
	feed := oracle.NewManualFeed()
	feed.Set(new(big.Int).Mul(big.NewInt(2000), big.NewInt(100_000_000)), now)
	guard := oracle.NewGuard(feed, 3*time.Hour)
	guard.SetClock(func() time.Time { return now })

	weth := token.NewLedger("WETH", 18, testAdminAddr)
	synth := token.NewLedger("SUSD", 18, testEngineAddr)
	oneThousand := new(big.Int).Mul(big.NewInt(1_000), big.NewInt(1_000_000_000_000_000_000))
	if err := weth.Mint(testAdminAddr, testUserAddr, oneThousand); err != nil {
		t.Fatalf("fund user: %v", err)
	}

	registry, err := cdp.NewRegistry([]cdp.Asset{{
		Symbol:       "WETH",
		Address:      testWethAddr,
		FeedDecimals: 8,
		Feed:         guard,
		Token:        weth,
	}})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}

	engine := cdp.NewEngine(registry, cdp.NewKVState(storage.NewMemDB()), synth, testEngineAddr)
	recorder := events.NewRecorder(0)
	engine.SetEmitter(recorder)

	server := NewServer(engine, recorder, nil, Options{
		BearerToken:       testBearerToken,
		JWTSecret:         testJWTSecret,
		RequestsPerSecond: 1000,
		Burst:             1000,
	})
	ts := httptest.NewServer(server.Router())
	t.Cleanup(ts.Close)

	return &testServer{server: server, http: ts, weth: weth, feed: feed}
}

func (ts *testServer) call(t *testing.T, token, method string, params interface{}) (*RPCResponse, int) {
	t.Helper()
	var rawParams []json.RawMessage
	if params != nil {
		encoded, err := json.Marshal(params)
		if err != nil {
			t.Fatalf("marshal params: %v", err)
		}
		rawParams = []json.RawMessage{encoded}
	}
	payload, err := json.Marshal(map[string]interface{}{
		"jsonrpc": jsonRPCVersion,
		"id":      1,
		"method":  method,
		"params":  rawParams,
	})
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}

	req, err := http.NewRequest(http.MethodPost, ts.http.URL, bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := ts.http.Client().Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()

	decoded := &RPCResponse{}
	if err := json.NewDecoder(resp.Body).Decode(decoded); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return decoded, resp.StatusCode
}

func TestMutatingMethodsRequireAuth(t *testing.T) {
	ts := newTestServer(t)

	resp, status := ts.call(t, "", "cdp_depositCollateral", depositParams{
		Account: testUserAddr.Hex(),
		Asset:   testWethAddr.Hex(),
		Amount:  "1000000000000000000",
	})
	if status != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", status)
	}
	if resp.Error == nil || resp.Error.Code != codeUnauthorized {
		t.Fatalf("expected unauthorized error, got %+v", resp.Error)
	}

	resp, status = ts.call(t, "wrong-token", "cdp_depositCollateral", depositParams{
		Account: testUserAddr.Hex(),
		Asset:   testWethAddr.Hex(),
		Amount:  "1000000000000000000",
	})
	if status != http.StatusUnauthorized || resp.Error == nil {
		t.Fatalf("expected rejection for bad token, got %d %+v", status, resp.Error)
	}
}

func TestJWTAuthAccepted(t *testing.T) {
	ts := newTestServer(t)

	claims := jwt.MapClaims{"sub": "ops", "exp": time.Now().Add(time.Hour).Unix()}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testJWTSecret)
	if err != nil {
		t.Fatalf("sign jwt: %v", err)
	}

	resp, status := ts.call(t, signed, "cdp_depositCollateral", depositParams{
		Account: testUserAddr.Hex(),
		Asset:   testWethAddr.Hex(),
		Amount:  "1000000000000000000",
	})
	if status != http.StatusOK || resp.Error != nil {
		t.Fatalf("expected jwt auth to pass, got %d %+v", status, resp.Error)
	}
}

func TestDepositMintAndReadBack(t *testing.T) {
	ts := newTestServer(t)

	resp, status := ts.call(t, testBearerToken, "cdp_depositCollateral", depositParams{
		Account: testUserAddr.Hex(),
		Asset:   testWethAddr.Hex(),
		Amount:  "10000000000000000000", // 10 WETH
	})
	if status != http.StatusOK || resp.Error != nil {
		t.Fatalf("deposit failed: %d %+v", status, resp.Error)
	}

	resp, status = ts.call(t, testBearerToken, "cdp_mintSynth", mintParams{
		Account: testUserAddr.Hex(),
		Amount:  "5000000000000000000000", // $5,000
	})
	if status != http.StatusOK || resp.Error != nil {
		t.Fatalf("mint failed: %d %+v", status, resp.Error)
	}

	resp, status = ts.call(t, "", "cdp_getAccountInformation", accountParams{Account: testUserAddr.Hex()})
	if status != http.StatusOK || resp.Error != nil {
		t.Fatalf("account info failed: %d %+v", status, resp.Error)
	}
	var info accountInfoResult
	remarshal(t, resp.Result, &info)
	if info.Debt != "5000000000000000000000" {
		t.Fatalf("unexpected debt: %s", info.Debt)
	}
	if info.CollateralValue != "20000000000000000000000" {
		t.Fatalf("unexpected collateral value: %s", info.CollateralValue)
	}

	resp, status = ts.call(t, "", "cdp_getHealthFactor", accountParams{Account: testUserAddr.Hex()})
	if status != http.StatusOK || resp.Error != nil {
		t.Fatalf("health factor failed: %d %+v", status, resp.Error)
	}
	var hf healthFactorResult
	remarshal(t, resp.Result, &hf)
	if hf.HealthFactor != "2000000000000000000" {
		t.Fatalf("unexpected health factor: %s", hf.HealthFactor)
	}
}

func TestUnhealthyMintReportsFactor(t *testing.T) {
	ts := newTestServer(t)

	resp, status := ts.call(t, testBearerToken, "cdp_depositCollateral", depositParams{
		Account: testUserAddr.Hex(),
		Asset:   testWethAddr.Hex(),
		Amount:  "1000000000000000000", // 1 WETH = $2,000 backing $1,000
	})
	if status != http.StatusOK || resp.Error != nil {
		t.Fatalf("deposit failed: %d %+v", status, resp.Error)
	}

	resp, status = ts.call(t, testBearerToken, "cdp_mintSynth", mintParams{
		Account: testUserAddr.Hex(),
		Amount:  "2000000000000000000000", // $2,000 against $1,000 of power
	})
	if status != http.StatusConflict {
		t.Fatalf("expected 409, got %d", status)
	}
	if resp.Error == nil || resp.Error.Code != codeUnhealthy {
		t.Fatalf("expected unhealthy error, got %+v", resp.Error)
	}
	var data healthFactorResult
	remarshal(t, resp.Error.Data, &data)
	if data.HealthFactor != "500000000000000000" {
		t.Fatalf("unexpected reported factor: %s", data.HealthFactor)
	}
}

func TestStaleOracleMapsToServiceUnavailable(t *testing.T) {
	ts := newTestServer(t)

	resp, status := ts.call(t, testBearerToken, "cdp_depositCollateral", depositParams{
		Account: testUserAddr.Hex(),
		Asset:   testWethAddr.Hex(),
		Amount:  "1000000000000000000",
	})
	if status != http.StatusOK || resp.Error != nil {
		t.Fatalf("deposit failed: %d %+v", status, resp.Error)
	}

	ts.feed.Set(new(big.Int).Mul(big.NewInt(2000), big.NewInt(100_000_000)),
		time.Unix(1_700_000_000, 0).Add(-4*time.Hour))

	resp, status = ts.call(t, testBearerToken, "cdp_mintSynth", mintParams{
		Account: testUserAddr.Hex(),
		Amount:  "1000000000000000000",
	})
	if status != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", status)
	}
	if resp.Error == nil || resp.Error.Code != codeStaleOracle {
		t.Fatalf("expected stale oracle error, got %+v", resp.Error)
	}
}

func TestMethodNotFound(t *testing.T) {
	ts := newTestServer(t)
	resp, status := ts.call(t, "", "cdp_unknown", nil)
	if status != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", status)
	}
	if resp.Error == nil || resp.Error.Code != codeMethodNotFound {
		t.Fatalf("expected method-not-found, got %+v", resp.Error)
	}
}

func TestInvalidParamsRejected(t *testing.T) {
	ts := newTestServer(t)

	resp, status := ts.call(t, testBearerToken, "cdp_depositCollateral", depositParams{
		Account: "not-an-address",
		Asset:   testWethAddr.Hex(),
		Amount:  "1",
	})
	if status != http.StatusBadRequest || resp.Error == nil || resp.Error.Code != codeInvalidParams {
		t.Fatalf("expected invalid params, got %d %+v", status, resp.Error)
	}

	resp, status = ts.call(t, testBearerToken, "cdp_depositCollateral", depositParams{
		Account: testUserAddr.Hex(),
		Asset:   testWethAddr.Hex(),
		Amount:  "-5",
	})
	if status != http.StatusBadRequest || resp.Error == nil || resp.Error.Code != codeInvalidParams {
		t.Fatalf("expected negative amount rejection, got %d %+v", status, resp.Error)
	}
}

func TestGetCollateralTokensAndParams(t *testing.T) {
	ts := newTestServer(t)

	resp, status := ts.call(t, "", "cdp_getCollateralTokens", nil)
	if status != http.StatusOK || resp.Error != nil {
		t.Fatalf("collateral tokens failed: %d %+v", status, resp.Error)
	}
	var tokens []collateralTokenResult
	remarshal(t, resp.Result, &tokens)
	if len(tokens) != 1 || tokens[0].Symbol != "WETH" || tokens[0].FeedDecimals != 8 {
		t.Fatalf("unexpected tokens: %+v", tokens)
	}

	resp, status = ts.call(t, "", "cdp_getParams", nil)
	if status != http.StatusOK || resp.Error != nil {
		t.Fatalf("params failed: %d %+v", status, resp.Error)
	}
	var params cdp.Params
	remarshal(t, resp.Result, &params)
	if params.LiquidationThresholdPct != 50 || params.LiquidationBonusPct != 10 {
		t.Fatalf("unexpected params: %+v", params)
	}
}

func TestRateLimitThrottlesMutatingMethods(t *testing.T) {
	ts := newTestServer(t)
	ts.server.limit = 1
	ts.server.burst = 1
	ts.server.limiters = map[string]*rate.Limiter{}

	throttled := false
	for i := 0; i < 5; i++ {
		resp, status := ts.call(t, testBearerToken, "cdp_depositCollateral", depositParams{
			Account: testUserAddr.Hex(),
			Asset:   testWethAddr.Hex(),
			Amount:  "1000000000000000000",
		})
		if status == http.StatusTooManyRequests {
			if resp.Error == nil || resp.Error.Code != codeRateLimited {
				t.Fatalf("expected rate limit error, got %+v", resp.Error)
			}
			throttled = true
			break
		}
	}
	if !throttled {
		t.Fatal("expected at least one throttled request")
	}
}

func TestHealthzReportsFeedAge(t *testing.T) {
	ts := newTestServer(t)

	resp, err := ts.http.Client().Get(ts.http.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body struct {
		Status string `json:"status"`
		Feeds  []struct {
			Symbol string `json:"symbol"`
			Stale  bool   `json:"stale"`
		} `json:"feeds"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode healthz: %v", err)
	}
	if body.Status != "ok" || len(body.Feeds) != 1 || body.Feeds[0].Stale {
		t.Fatalf("unexpected healthz body: %+v", body)
	}
}

func remarshal(t *testing.T, from interface{}, to interface{}) {
	t.Helper()
	raw, err := json.Marshal(from)
	if err != nil {
		t.Fatalf("remarshal encode: %v", err)
	}
	if err := json.Unmarshal(raw, to); err != nil {
		t.Fatalf("remarshal decode: %v", err)
	}
}
