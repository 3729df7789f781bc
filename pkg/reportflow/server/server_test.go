package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/reportflow/pkg/reportflow"
	"github.com/randalmurphal/reportflow/pkg/reportflow/catalog"
	"github.com/randalmurphal/reportflow/pkg/reportflow/checkpoint"
	"github.com/randalmurphal/reportflow/pkg/reportflow/durable"
	rferrors "github.com/randalmurphal/reportflow/pkg/reportflow/errors"
	"github.com/randalmurphal/reportflow/pkg/reportflow/gateway"
	"github.com/randalmurphal/reportflow/pkg/reportflow/server"
	"github.com/randalmurphal/reportflow/pkg/reportflow/signal"
	"github.com/randalmurphal/reportflow/pkg/reportflow/stage"
	"github.com/randalmurphal/reportflow/pkg/reportflow/store"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

var responses = map[string]string{
	catalog.Framing:     `{"problem_statement": "Lower the thermal resistance of a 300 bar heat exchanger", "title": "High-pressure heat exchanger"}`,
	catalog.Retrieval:   `{"search_queries": ["microchannel heat exchanger"], "prior_art": []}`,
	catalog.Innovation:  `{"contradictions": [], "principles": []}`,
	catalog.Concepts:    `{"concepts": [{"id": "c1", "name": "Diffusion-bonded plates"}]}`,
	catalog.Evaluation:  `{"evaluations": [{"concept_id": "c1", "rating": "strong", "score": 80}], "recommended_concept_id": "c1"}`,
	catalog.FinalReport: `{"title": "Microchannel plates", "headline": "40% lower resistance", "report": "Adopt diffusion-bonded plates."}`,
}

const askPressure = `{"problem_statement": "heat exchanger", "needs_clarification": true, "clarification_question": "What operating pressure?"}`

type testServer struct {
	svc *reportflow.Service
	srv *httptest.Server
}

func newTestServer(t *testing.T, mock *gateway.Mock) *testServer {
	t.Helper()
	graph, err := reportflow.NewGraph().AddStages(catalog.Core()...).Compile()
	require.NoError(t, err)

	gw := gateway.New(mock, gateway.DefaultConfig(), gateway.WithLogger(quiet))
	exec := stage.NewExecutor(gw, stage.WithLogger(quiet), stage.WithRetry(rferrors.NoBackoff))
	engine := durable.New(checkpoint.NewMemoryStore(), signal.NewMemoryStore(), durable.WithLogger(quiet))
	svc := reportflow.New(graph, exec, engine, store.NewMemoryStore(), reportflow.WithLogger(quiet))

	handler, err := server.New(server.Config{Chains: svc, BenchmarkAccountID: "bench", Logger: quiet})
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	t.Cleanup(func() {
		srv.Close()
		_ = svc.Close()
	})
	return &testServer{svc: svc, srv: srv}
}

func scripted(overrides map[string][]gateway.MockResponse) *gateway.Mock {
	mock := gateway.NewMock("")
	for name, text := range responses {
		mock.WithStage(name, gateway.MockResponse{Text: text})
	}
	for name, rs := range overrides {
		mock.WithStage(name, rs...)
	}
	return mock
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(data, &v), string(data))
	return v
}

func (s *testServer) start(t *testing.T) string {
	t.Helper()
	res, data := doJSON(t, http.MethodPost, s.srv.URL+"/v1/reports", map[string]string{
		"userInput": "reduce thermal resistance in heat exchangers",
		"accountId": "acct-1",
		"userId":    "user-1",
	})
	require.Equal(t, http.StatusAccepted, res.StatusCode, string(data))
	ref := decode[server.ReportRef](t, data)
	require.NotEmpty(t, ref.ReportID)
	s.svc.Wait()
	return ref.ReportID
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, scripted(nil))
	res, data := doJSON(t, http.MethodGet, s.srv.URL+"/healthz", nil)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.JSONEq(t, `{"status": "ok"}`, string(data))
}

func TestStartReport_RunsToCompletion(t *testing.T) {
	s := newTestServer(t, scripted(nil))
	id := s.start(t)

	res, data := doJSON(t, http.MethodGet, s.srv.URL+"/v1/reports/"+id, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	view := decode[server.ReportView](t, data)
	assert.Equal(t, id, view.ReportID)
	assert.Equal(t, "complete", view.Status)
	assert.Equal(t, 100, view.PhaseProgress)
	assert.Equal(t, "Microchannel plates", view.Title)
	assert.Nil(t, view.Error)
	assert.Equal(t, "Adopt diffusion-bonded plates.", view.ReportData["report"])
	assert.Contains(t, view.ReportData, catalog.Concepts)
	assert.Equal(t, 6, view.Usage.Calls)

	res, data = doJSON(t, http.MethodGet, s.srv.URL+"/v1/reports/"+id+"/progress", nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	progress := decode[server.ProgressView](t, data)
	assert.Equal(t, "complete", progress.Status)
	assert.Equal(t, 100, progress.OverallProgress)
	assert.Equal(t, "40% lower resistance", progress.Headline)
}

func TestStartReport_Validation(t *testing.T) {
	s := newTestServer(t, scripted(nil))

	res, _ := doJSON(t, http.MethodPost, s.srv.URL+"/v1/reports", map[string]string{"userInput": "   "})
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	res, _ = doJSON(t, http.MethodPost, s.srv.URL+"/v1/reports", map[string]string{})
	assert.GreaterOrEqual(t, res.StatusCode, 400)
	assert.Less(t, res.StatusCode, 500)
}

func TestClarificationFlow(t *testing.T) {
	s := newTestServer(t, scripted(map[string][]gateway.MockResponse{
		catalog.Framing: {{Text: askPressure}, {Text: responses[catalog.Framing]}},
	}))
	id := s.start(t)

	res, data := doJSON(t, http.MethodGet, s.srv.URL+"/v1/reports/"+id, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	view := decode[server.ReportView](t, data)
	assert.Equal(t, "clarifying", view.Status)
	assert.Equal(t, "What operating pressure?", view.ClarificationQuestion)

	url := s.srv.URL + "/v1/reports/" + id + "/clarification"
	res, _ = doJSON(t, http.MethodPost, url, map[string]string{"answer": "  "})
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	res, data = doJSON(t, http.MethodPost, url, map[string]string{"answer": "300 bar"})
	require.Equal(t, http.StatusAccepted, res.StatusCode, string(data))
	s.svc.Wait()

	res, data = doJSON(t, http.MethodGet, s.srv.URL+"/v1/reports/"+id, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "complete", decode[server.ReportView](t, data).Status)

	res, _ = doJSON(t, http.MethodPost, url, map[string]string{"answer": "again"})
	assert.Equal(t, http.StatusConflict, res.StatusCode)
}

func TestCancelWhileClarifying(t *testing.T) {
	s := newTestServer(t, scripted(map[string][]gateway.MockResponse{
		catalog.Framing: {{Text: askPressure}},
	}))
	id := s.start(t)

	res, data := doJSON(t, http.MethodPost, s.srv.URL+"/v1/reports/"+id+"/cancel", nil)
	require.Equal(t, http.StatusAccepted, res.StatusCode, string(data))

	res, data = doJSON(t, http.MethodGet, s.srv.URL+"/v1/reports/"+id+"/progress", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "cancelled", decode[server.ProgressView](t, data).Status)
}

func TestFailedReportsAsError(t *testing.T) {
	s := newTestServer(t, scripted(map[string][]gateway.MockResponse{
		catalog.Retrieval: {{Text: "I can't help with that.", StopReason: gateway.StopRefusal}},
	}))
	id := s.start(t)

	res, data := doJSON(t, http.MethodGet, s.srv.URL+"/v1/reports/"+id, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	view := decode[server.ReportView](t, data)
	assert.Equal(t, "error", view.Status)
	require.NotNil(t, view.Error)
	assert.Equal(t, "refusal", view.Error.Kind)
	assert.Equal(t, catalog.Retrieval, view.Error.Stage)
	assert.NotEmpty(t, view.Error.UserMessage)
}

func TestUnknownReport(t *testing.T) {
	s := newTestServer(t, scripted(nil))
	missing := "00000000-0000-4000-8000-000000000000"

	for _, tc := range []struct {
		method, path string
		body         any
	}{
		{http.MethodGet, "/v1/reports/" + missing, nil},
		{http.MethodGet, "/v1/reports/" + missing + "/progress", nil},
		{http.MethodPost, "/v1/reports/" + missing + "/cancel", nil},
		{http.MethodPost, "/v1/reports/" + missing + "/clarification", map[string]string{"answer": "x"}},
		{http.MethodGet, "/v1/benchmark/reports/" + missing, nil},
	} {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			res, _ := doJSON(t, tc.method, s.srv.URL+tc.path, tc.body)
			assert.Equal(t, http.StatusNotFound, res.StatusCode)
		})
	}
}

func TestBenchmarkReports(t *testing.T) {
	s := newTestServer(t, scripted(nil))

	res, data := doJSON(t, http.MethodPost, s.srv.URL+"/v1/benchmark/reports", map[string]string{
		"designChallenge": "quieter cooling fans",
	})
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	id := decode[server.ReportRef](t, data).ReportID
	s.svc.Wait()

	st, err := s.svc.GetState(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "bench", st.AccountID)
	assert.Equal(t, "quieter cooling fans", st.UserInput)

	res, data = doJSON(t, http.MethodGet, s.srv.URL+"/v1/benchmark/reports/"+id, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	view := decode[server.BenchmarkReportView](t, data)
	assert.Equal(t, "complete", view.Status)
	assert.Equal(t, "Adopt diffusion-bonded plates.", view.ReportData.Report)
}

func TestClosedServiceIsUnavailable(t *testing.T) {
	s := newTestServer(t, scripted(nil))
	require.NoError(t, s.svc.Close())

	res, _ := doJSON(t, http.MethodPost, s.srv.URL+"/v1/reports", map[string]string{"userInput": "anything"})
	assert.Equal(t, http.StatusServiceUnavailable, res.StatusCode)
}

func TestNew_RequiresChains(t *testing.T) {
	_, err := server.New(server.Config{})
	assert.Error(t, err)
}
