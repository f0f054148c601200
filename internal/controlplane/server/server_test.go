package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/futbot/gofut/internal/domain"
	"github.com/futbot/gofut/internal/step"
	"github.com/futbot/gofut/internal/store"
)

func newTestServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return New(Config{Listen: ":0"}, st), st
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	var payload map[string]any
	if rr.Body.Len() > 0 {
		_ = json.Unmarshal(rr.Body.Bytes(), &payload)
	}
	return rr, payload
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)
	rr, _ := doJSON(t, srv.Router(), http.MethodGet, "/healthz", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status got=%d want=200", rr.Code)
	}
}

func TestWorkflowOpenCreatesPositionAndBlock(t *testing.T) {
	srv, st := newTestServer(t)
	router := srv.Router()

	rr, payload := doJSON(t, router, http.MethodPost, "/api/workflows/open", `{
		"venue": "binance", "account_id": "main", "symbol": "btcusdt",
		"side": "long", "size": "0.5", "leverage": 5
	}`)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("status got=%d want=202 body=%s", rr.Code, rr.Body)
	}
	blockUUID, _ := payload["block_uuid"].(string)
	positionID, _ := payload["position_id"].(string)
	if blockUUID == "" || positionID == "" {
		t.Fatalf("missing ids in response: %v", payload)
	}

	ctx := context.Background()
	pos, err := st.GetPosition(ctx, positionID)
	if err != nil {
		t.Fatalf("GetPosition: %v", err)
	}
	if pos.Symbol != "BTCUSDT" || pos.Status != domain.PositionStatusPending {
		t.Fatalf("position got=%+v", pos)
	}

	steps, err := st.StepsInBlock(ctx, blockUUID)
	if err != nil {
		t.Fatalf("StepsInBlock: %v", err)
	}
	if len(steps) == 0 {
		t.Fatal("workflow block has no steps")
	}
	if steps[0].Handler != "position.claim" {
		t.Fatalf("first step got=%s want=position.claim", steps[0].Handler)
	}
	last := steps[len(steps)-1]
	if last.Type != step.TypeResolveException || last.Status != step.StatusStandby {
		t.Fatalf("compensation step got type=%s status=%s", last.Type, last.Status)
	}

	audits, err := st.ListAudits(ctx, blockUUID, 10)
	if err != nil {
		t.Fatalf("ListAudits: %v", err)
	}
	if len(audits) != 1 || audits[0].Kind != "workflow_start" {
		t.Fatalf("audits got=%+v", audits)
	}
}

func TestWorkflowOpenValidation(t *testing.T) {
	srv, _ := newTestServer(t)
	router := srv.Router()

	cases := []struct {
		name string
		body string
	}{
		{"bad json", `{`},
		{"missing venue", `{"account_id":"a","symbol":"BTCUSDT","size":"1"}`},
		{"bad size", `{"venue":"binance","account_id":"a","symbol":"BTCUSDT","size":"-1"}`},
	}
	for _, tc := range cases {
		rr, _ := doJSON(t, router, http.MethodPost, "/api/workflows/open", tc.body)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("%s: status got=%d want=400", tc.name, rr.Code)
		}
	}
}

func TestWorkflowCloseRejectsFinalPosition(t *testing.T) {
	srv, st := newTestServer(t)
	router := srv.Router()

	rr, payload := doJSON(t, router, http.MethodPost, "/api/workflows/open", `{
		"venue": "bybit", "account_id": "main", "symbol": "ETHUSDT", "size": "1"
	}`)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("open status got=%d", rr.Code)
	}
	positionID := payload["position_id"].(string)
	if err := st.SetStatus(context.Background(), positionID, domain.PositionStatusClosed); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}

	rr, _ = doJSON(t, router, http.MethodPost, "/api/workflows/close",
		`{"position_id":"`+positionID+`"}`)
	if rr.Code != http.StatusConflict {
		t.Fatalf("close on final position: status got=%d want=409", rr.Code)
	}
}

func TestWorkflowCloseUnknownPosition(t *testing.T) {
	srv, _ := newTestServer(t)
	rr, _ := doJSON(t, srv.Router(), http.MethodPost, "/api/workflows/close",
		`{"position_id":"nope"}`)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status got=%d want=404", rr.Code)
	}
}

func TestBlockGet(t *testing.T) {
	srv, st := newTestServer(t)
	router := srv.Router()

	blockUUID, err := step.NewBlock(context.Background(), st, "default", []step.Spec{
		{Handler: "h1", Args: map[string]string{}},
	})
	if err != nil {
		t.Fatalf("NewBlock: %v", err)
	}

	rr, _ := doJSON(t, router, http.MethodGet, "/api/blocks/"+blockUUID, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status got=%d want=200 body=%s", rr.Code, rr.Body)
	}

	rr, _ = doJSON(t, router, http.MethodGet, "/api/blocks/does-not-exist", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("unknown block: status got=%d want=404", rr.Code)
	}
}
