package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantumlife/internal/authority"
	"quantumlife/internal/authority/binding"
	"quantumlife/internal/authority/bridge"
	"quantumlife/internal/authority/workorder"
	"quantumlife/pkg/clock"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	core, err := authority.New(authority.Deps{
		Clock:        clock.NewFixed(now),
		ContextTuple: binding.Tuple{ContextID: "ctx-1", Timestamp: now, SourceHash: "h1"},
	})
	require.NoError(t, err)
	core.Bridges.Register(workorder.ExecutionDomain("calendar"), bridge.LoopbackBridge{})
	return New(core)
}

func doJSON(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func TestHandleSubmitProposal(t *testing.T) {
	srv := newTestServer(t)
	rec := doJSON(t, srv, http.MethodPost, "/v1/proposals", submitProposalRequest{ActionID: "action-1"})

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "action-1", resp["action_id"])
	assert.Equal(t, "GENERATED", resp["state"])
}

func TestHandleAdvanceUnknownProposal(t *testing.T) {
	srv := newTestServer(t)
	rec := doJSON(t, srv, http.MethodPost, "/v1/proposals/missing/advance", advanceRequest{Op: "reveal"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleAdvanceRevealThenUnknownOp(t *testing.T) {
	srv := newTestServer(t)
	doJSON(t, srv, http.MethodPost, "/v1/proposals", submitProposalRequest{ActionID: "action-1"})

	rec := doJSON(t, srv, http.MethodPost, "/v1/proposals/action-1/advance", advanceRequest{Op: "reveal"})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "VISIBLE_GHOST", resp["state"])

	rec = doJSON(t, srv, http.MethodPost, "/v1/proposals/action-1/advance", advanceRequest{Op: "nonsense"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleAdvanceForbiddenTransitionIsConflict(t *testing.T) {
	srv := newTestServer(t)
	doJSON(t, srv, http.MethodPost, "/v1/proposals", submitProposalRequest{ActionID: "action-1"})

	// GENERATED cannot go straight to CONFIRM_READY.
	rec := doJSON(t, srv, http.MethodPost, "/v1/proposals/action-1/advance", advanceRequest{Op: "confirm_ready"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandleAttest(t *testing.T) {
	srv := newTestServer(t)
	rec := doJSON(t, srv, http.MethodPost, "/v1/work-orders/wo-1/attestations", attestRequest{
		SessionID: "session-a",
		RiskLevel: workorder.RiskLow,
		Signature: "sig-a",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "wo-1", resp["work_order_id"])
	assert.Equal(t, true, resp["complete"])
}

func TestHandleDispatchMissingAuditBindingIsUnprocessable(t *testing.T) {
	srv := newTestServer(t)
	order := *workorder.New("action-1", "desc", "calendar", "loopback", nil, workorder.RiskLow)

	rec := doJSON(t, srv, http.MethodPost, "/v1/dispatch", dispatchRequest{
		WorkOrder: order,
		SessionID: "session-a",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestHandleDispatchSucceeds(t *testing.T) {
	srv := newTestServer(t)
	order := workorder.New("action-1", "desc", "calendar", "loopback", nil, workorder.RiskLow).WithAudit(workorder.AuditBinding{
		AuditID:     "audit-1",
		ContextID:   "ctx-1",
		ContextHash: "ctxhash-1",
		SourceHash:  "src-1",
	})

	doJSON(t, srv, http.MethodPost, "/v1/work-orders/action-1/attestations", attestRequest{
		SessionID: "session-a",
		RiskLevel: workorder.RiskLow,
		Signature: "sig-a",
	})

	rec := doJSON(t, srv, http.MethodPost, "/v1/dispatch", dispatchRequest{
		WorkOrder: *order,
		SessionID: "session-a",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var result workorder.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, workorder.StatusSuccess, result.Status)
}

func TestHandleVerify(t *testing.T) {
	srv := newTestServer(t)
	rec := doJSON(t, srv, http.MethodGet, "/v1/forensic-log/verify", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["OK"])
}
