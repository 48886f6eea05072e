package server

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"

	"gacha-ledger/internal/api"
	"gacha-ledger/internal/catalog"
	"gacha-ledger/internal/config"
	"gacha-ledger/internal/database"
	"gacha-ledger/internal/metrics"
	"gacha-ledger/internal/progress"
	"gacha-ledger/internal/repository"
	"gacha-ledger/internal/service"
)

const srgfDoc = `{
  "info": {"srgf_version": "v1.0", "uid": "800000001", "region_time_zone": 8},
  "list": [
    {"gacha_type": "11", "item_id": "20000", "time": "2023-05-01 10:00:00", "item_type": "Light Cone", "id": "1685600000000000002"},
    {"gacha_type": "11", "item_id": "1102", "time": "2023-05-01 10:01:00", "item_type": "Character", "id": "1685600000000000003"}
  ]
}`

type testServer struct {
	url      string
	importer *service.Importer
	client   *http.Client
}

type noFetcher struct{}

func (noFetcher) FetchPage(context.Context, api.PageRequest) ([]byte, error) {
	return []byte(`{"retcode":0,"data":{"list":[]}}`), nil
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := zerolog.Nop()
	cfg := config.Default()

	db, err := database.Open(filepath.Join(t.TempDir(), "ledger.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cat, err := catalog.New(cfg, logger)
	require.NoError(t, err)

	m := metrics.NewManager()
	pulls := repository.NewPullRepository(db, logger)
	stats := repository.NewStatsRepository(db, logger)
	engine := service.NewStatsService(pulls, stats, cat, logger)
	tracker := progress.New(time.Minute, logger)
	importer := service.NewImporter(cfg, noFetcher{}, pulls, engine, cat, tracker, nil, m, logger)
	svc := service.NewGachaService(importer, tracker, pulls, stats, logger)

	stream := NewJobStream(svc, logger)
	stream.interval = 10 * time.Millisecond

	srv := httptest.NewServer(NewRouter(NewGachaServer(svc, logger), stream, m, logger))
	t.Cleanup(srv.Close)
	return &testServer{url: srv.URL, importer: importer, client: srv.Client()}
}

func (s *testServer) call(t *testing.T, procedure string, fields map[string]any) (*structpb.Struct, error) {
	t.Helper()
	msg, err := structpb.NewStruct(fields)
	require.NoError(t, err)
	client := connect.NewClient[structpb.Struct, structpb.Struct](s.client, s.url+procedure)
	resp, err := client.CallUnary(context.Background(), connect.NewRequest(msg))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

func (s *testServer) importDocument(t *testing.T) string {
	t.Helper()
	resp, err := s.call(t, StartImportProcedure, map[string]any{
		"game":     "hsr",
		"format":   "srgf",
		"document": srgfDoc,
	})
	require.NoError(t, err)
	s.importer.Wait()
	return stringField(resp, "job_id")
}

func TestImportAndRead(t *testing.T) {
	s := newTestServer(t)
	jobID := s.importDocument(t)
	require.NotEmpty(t, jobID)

	job, err := s.call(t, PollProcedure, map[string]any{"job_id": jobID})
	require.NoError(t, err)
	assert.Equal(t, "finished", stringField(job, "status"))
	assert.Equal(t, "800000001", stringField(job, "account_id"))

	ledger, err := s.call(t, GetLedgerProcedure, map[string]any{"account_id": "800000001", "category": "hsr_character"})
	require.NoError(t, err)
	list := ledger.GetFields()["pulls"].GetListValue().GetValues()
	require.Len(t, list, 2)
	first := list[0].GetStructValue()
	assert.Equal(t, "1685600000000000002", stringField(first, "sequence_id"))
	assert.Equal(t, "2023-05-01T02:00:00Z", stringField(first, "timestamp"))

	stat, err := s.call(t, GetAccountStatProcedure, map[string]any{"account_id": 800000001, "category": "hsr_character"})
	require.NoError(t, err)
	assert.True(t, boolField(stat, "found"))
	body := stat.GetFields()["stat"].GetStructValue()
	assert.Equal(t, 2.0, body.GetFields()["avg_pulls_to_tier_b"].GetNumberValue())
	_, isNull := body.GetFields()["avg_pulls_to_tier_a"].GetKind().(*structpb.Value_NullValue)
	assert.True(t, isNull, "undefined averages are null")

	pct, err := s.call(t, GetGlobalPercentileProcedure, map[string]any{"account_id": "800000001", "category": "hsr_character"})
	require.NoError(t, err)
	assert.False(t, boolField(pct, "found"))

	violations, err := s.call(t, GetViolationsProcedure, map[string]any{"account_id": "800000001", "category": "hsr_character"})
	require.NoError(t, err)
	assert.Empty(t, violations.GetFields()["violations"].GetListValue().GetValues())
}

func TestErrorCodes(t *testing.T) {
	s := newTestServer(t)

	_, err := s.call(t, PollProcedure, map[string]any{"job_id": "nope"})
	assert.Equal(t, connect.CodeNotFound, connect.CodeOf(err))

	_, err = s.call(t, GetLedgerProcedure, map[string]any{"account_id": "1", "category": "hsr_gacha"})
	assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))

	_, err = s.call(t, GetLedgerProcedure, map[string]any{"category": "hsr_character"})
	assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))

	_, err = s.call(t, StartImportProcedure, map[string]any{"game": "hsr", "format": "paimon", "document": "{}"})
	assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))

	_, err = s.call(t, StartImportProcedure, map[string]any{"game": "wuwa"})
	assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))
}

func TestJSONOverHTTP(t *testing.T) {
	s := newTestServer(t)
	resp, err := s.client.Post(s.url+PollProcedure, "application/json", strings.NewReader(`{"job_id":"nope"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestJobStream(t *testing.T) {
	s := newTestServer(t)
	jobID := s.importDocument(t)

	wsURL := "ws" + strings.TrimPrefix(s.url, "http") + "/ws/imports/" + jobID
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	var snapshot map[string]any
	require.NoError(t, conn.ReadJSON(&snapshot))
	assert.Equal(t, jobID, snapshot["job_id"])
	assert.Equal(t, "finished", snapshot["status"])

	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure))
}

func TestJobStreamUnknownJob(t *testing.T) {
	s := newTestServer(t)
	wsURL := "ws" + strings.TrimPrefix(s.url, "http") + "/ws/imports/missing"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)
	_, _ = s.call(t, PollProcedure, map[string]any{"job_id": "nope"})

	resp, err := s.client.Get(s.url + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = s.client.Get(s.url + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	buf := new(strings.Builder)
	_, err = io.Copy(buf, resp.Body)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `gacha_rpc_requests_total{code="not_found",procedure="/gacha.v1.GachaService/Poll"} 1`)
}
