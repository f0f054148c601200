package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/futbot/gofut/internal/domain"
	"github.com/futbot/gofut/internal/lifecycle"
	"github.com/futbot/gofut/internal/store"
)

// 工作流触发端点
// open 创建仓位记录并发起开仓；close/cancel/apply_wap 针对既有仓位。
// 落库即返回 202，推进交给 worker

func decodeBody(r *http.Request, out any) error {
	return json.NewDecoder(r.Body).Decode(out)
}

type openWorkflowRequest struct {
	Venue      string `json:"venue"`
	AccountID  string `json:"account_id"`
	Symbol     string `json:"symbol"`
	Side       string `json:"side"` // long / short
	Size       string `json:"size"`
	Leverage   int    `json:"leverage"`
	MarginMode string `json:"margin_mode"`
	Levels     int    `json:"levels"`
	StartBps   int64  `json:"start_bps"`
	EndBps     int64  `json:"end_bps"`
}

func (s *Server) handleWorkflowOpen(w http.ResponseWriter, r *http.Request) {
	var req openWorkflowRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, 400, "invalid json body")
		return
	}
	req.Venue = strings.TrimSpace(req.Venue)
	req.Symbol = strings.TrimSpace(strings.ToUpper(req.Symbol))
	if req.Venue == "" || req.AccountID == "" || req.Symbol == "" {
		writeError(w, 400, "venue, account_id and symbol are required")
		return
	}
	size, err := decimal.NewFromString(req.Size)
	if err != nil || size.Sign() <= 0 {
		writeError(w, 400, "size must be a positive decimal")
		return
	}
	side := domain.PositionSideLong
	if req.Side == string(domain.PositionSideShort) {
		side = domain.PositionSideShort
	}
	if req.Leverage <= 0 {
		req.Leverage = 1
	}
	if req.MarginMode == "" {
		req.MarginMode = "isolated"
	}

	ctx, cancel := reqCtx(r)
	defer cancel()

	now := time.Now()
	pos := &domain.Position{
		ID:         uuid.NewString(),
		AccountID:  req.AccountID,
		Venue:      req.Venue,
		Symbol:     req.Symbol,
		Side:       side,
		Leverage:   req.Leverage,
		MarginMode: req.MarginMode,
		Size:       size,
		FilledSize: decimal.Zero,
		EntryPrice: decimal.Zero,
		Status:     domain.PositionStatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.CreatePosition(ctx, pos); err != nil {
		writeError(w, 500, fmt.Sprintf("db create position: %v", err))
		return
	}

	s.launchWorkflow(w, r, "open", pos, lifecycle.OpenWorkflow(lifecycle.WorkflowParams{
		PositionID: pos.ID,
		Venue:      req.Venue,
		AccountID:  req.AccountID,
		Levels:     req.Levels,
		StartBps:   req.StartBps,
		EndBps:     req.EndBps,
	}))
}

type positionWorkflowRequest struct {
	PositionID string `json:"position_id"`
	Levels     int    `json:"levels"`
	StartBps   int64  `json:"start_bps"`
	EndBps     int64  `json:"end_bps"`
}

func (s *Server) handleWorkflowClose(w http.ResponseWriter, r *http.Request) {
	s.positionWorkflow(w, r, "close", lifecycle.CloseWorkflow)
}

func (s *Server) handleWorkflowCancel(w http.ResponseWriter, r *http.Request) {
	s.positionWorkflow(w, r, "cancel", lifecycle.CancelWorkflow)
}

func (s *Server) handleWorkflowApplyWAP(w http.ResponseWriter, r *http.Request) {
	s.positionWorkflow(w, r, "apply_wap", lifecycle.ApplyWAPWorkflow)
}

func (s *Server) positionWorkflow(w http.ResponseWriter, r *http.Request, name string,
	compose func(lifecycle.WorkflowParams) lifecycle.Composer) {

	var req positionWorkflowRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, 400, "invalid json body")
		return
	}
	if req.PositionID == "" {
		writeError(w, 400, "position_id is required")
		return
	}

	ctx, cancel := reqCtx(r)
	defer cancel()

	pos, err := s.store.GetPosition(ctx, req.PositionID)
	if err != nil {
		writeError(w, 404, "position not found")
		return
	}
	if pos.IsFinal() {
		writeError(w, 409, fmt.Sprintf("position is already %s", pos.Status))
		return
	}

	s.launchWorkflow(w, r, name, pos, compose(lifecycle.WorkflowParams{
		PositionID: pos.ID,
		Venue:      pos.Venue,
		AccountID:  pos.AccountID,
		Levels:     req.Levels,
		StartBps:   req.StartBps,
		EndBps:     req.EndBps,
	}))
}

func (s *Server) launchWorkflow(w http.ResponseWriter, r *http.Request, name string,
	pos *domain.Position, composer lifecycle.Composer) {

	ctx, cancel := reqCtx(r)
	defer cancel()

	blockUUID, err := composer.Launch(ctx, s.store)
	if err != nil {
		writeError(w, 500, fmt.Sprintf("launch workflow: %v", err))
		return
	}
	_ = s.store.AppendAudit(ctx, store.AuditRecord{
		Kind:      "workflow_start",
		BlockUUID: blockUUID,
		Workflow:  name,
		AccountID: pos.AccountID,
		Detail:    "position=" + pos.ID,
	})
	writeJSON(w, 202, map[string]any{"ok": true, "block_uuid": blockUUID, "position_id": pos.ID})
}
