package rpc

import (
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"lendledger/core/events"
	"lendledger/ledger"
	"lendledger/oracle"
	"lendledger/state"
	"lendledger/storage"
	"lendledger/vault"
)

const (
	testRPCToken    = "test-rpc-token"
	testAdminSecret = "test-admin-secret"
)

var (
	custodyAddr    = common.HexToAddress("0x00000000000000000000000000000000000000fe")
	treasuryAddr   = common.HexToAddress("0x00000000000000000000000000000000000000fd")
	userAddr       = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	whaleAddr      = common.HexToAddress("0x00000000000000000000000000000000000000a2")
	liquidatorAddr = common.HexToAddress("0x00000000000000000000000000000000000000a3")
	assetUSD       = common.HexToAddress("0x0000000000000000000000000000000000000101")
	assetTOK       = common.HexToAddress("0x0000000000000000000000000000000000000202")
	pairAddr       = common.HexToAddress("0x0000000000000000000000000000000000000a0a")
	poolAddr       = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

type testStack struct {
	server  *Server
	router  http.Handler
	engine  *ledger.Engine
	vault   *vault.Vault
	pools   *oracle.MemoryPools
	broker  *events.Broker
	manager *state.Manager
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()
	t.Setenv(envRPCToken, testRPCToken)
	t.Setenv(envAdminSecret, testAdminSecret)

	db := storage.NewMemDB()
	manager := state.NewManager(db)
	vlt := vault.NewVault(db, custodyAddr)
	pools := oracle.NewMemoryPools()
	adapter := oracle.NewAdapter(manager, pools)
	broker := events.NewBroker(64)

	engine := ledger.NewEngine(ledger.DefaultRiskParams())
	engine.SetState(manager)
	engine.SetOracle(adapter)
	engine.SetVault(vlt)
	engine.SetEmitter(broker)

	server := NewServer(Config{
		Engine:            engine,
		Vault:             vlt,
		Quoter:            adapter,
		Pools:             pools,
		Broker:            broker,
		RequestsPerMinute: -1,
	})
	return &testStack{
		server:  server,
		router:  server.Router(),
		engine:  engine,
		vault:   vlt,
		pools:   pools,
		broker:  broker,
		manager: manager,
	}
}

func (ts *testStack) post(t *testing.T, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	recorder := httptest.NewRecorder()
	ts.router.ServeHTTP(recorder, req)
	return recorder
}

func (ts *testStack) call(t *testing.T, method string, params interface{}, headers map[string]string) (int, RPCResponse) {
	t.Helper()
	request := RPCRequest{JSONRPC: jsonRPCVersion, Method: method, ID: 1}
	if params != nil {
		raw, err := json.Marshal(params)
		require.NoError(t, err)
		request.Params = []json.RawMessage{raw}
	}
	payload, err := json.Marshal(request)
	require.NoError(t, err)

	recorder := ts.post(t, string(payload), headers)
	var resp RPCResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &resp), "body: %s", recorder.Body.String())
	return recorder.Code, resp
}

func userHeaders() map[string]string {
	return map[string]string{"Authorization": "Bearer " + testRPCToken}
}

func adminHeaders(t *testing.T) map[string]string {
	return adminHeadersForSubject(t, adminSubject)
}

func adminHeadersForSubject(t *testing.T, subject string) map[string]string {
	t.Helper()
	claims := jwt.MapClaims{"sub": subject, "exp": time.Now().Add(time.Hour).Unix()}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testAdminSecret))
	require.NoError(t, err)
	return map[string]string{"Authorization": "Bearer " + token}
}

func resultObject(t *testing.T, resp RPCResponse) map[string]interface{} {
	t.Helper()
	require.Nil(t, resp.Error, "unexpected rpc error: %+v", resp.Error)
	obj, ok := resp.Result.(map[string]interface{})
	require.True(t, ok, "result is not an object: %#v", resp.Result)
	return obj
}

func registerFixedAsset(t *testing.T, ts *testStack, token common.Address, weight uint64) {
	t.Helper()
	source := oracle.Source{Kind: oracle.SourceFixedUSD}
	require.NoError(t, ts.engine.RegisterAsset(token, weight, source, nil))
}

func fund(t *testing.T, ts *testStack, holder, asset common.Address, amount int64) {
	t.Helper()
	require.NoError(t, ts.vault.Fund(holder, asset, big.NewInt(amount)))
}
