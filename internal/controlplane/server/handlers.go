package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/futbot/gofut/internal/step"
)

func queryLimit(r *http.Request, def, max int) int {
	limit := def
	if v := strings.TrimSpace(r.URL.Query().Get("limit")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= max {
			limit = n
		}
	}
	return limit
}

func reqCtx(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), 5*time.Second)
}

type stepView struct {
	ID             string    `json:"id"`
	Handler        string    `json:"handler"`
	Queue          string    `json:"queue"`
	BlockUUID      string    `json:"block_uuid"`
	ChildBlockUUID string    `json:"child_block_uuid,omitempty"`
	Index          int       `json:"index"`
	Type           string    `json:"type"`
	Status         string    `json:"status"`
	Attempts       int       `json:"attempts"`
	DispatchAfter  time.Time `json:"dispatch_after"`
	Venue          string    `json:"venue,omitempty"`
	AccountID      string    `json:"account_id,omitempty"`
	Args           string    `json:"args,omitempty"`
	Response       string    `json:"response,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func toStepView(st *step.WorkStep) stepView {
	return stepView{
		ID:             st.ID,
		Handler:        st.Handler,
		Queue:          st.Queue,
		BlockUUID:      st.BlockUUID,
		ChildBlockUUID: st.ChildBlockUUID,
		Index:          st.Index,
		Type:           string(st.Type),
		Status:         string(st.Status),
		Attempts:       st.Attempts,
		DispatchAfter:  st.DispatchAfter,
		Venue:          st.Venue,
		AccountID:      st.AccountID,
		Args:           string(st.Args),
		Response:       string(st.Response),
		CreatedAt:      st.CreatedAt,
		UpdatedAt:      st.UpdatedAt,
	}
}

func (s *Server) handleStepsRecent(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := reqCtx(r)
	defer cancel()

	steps, err := s.store.ListRecentSteps(ctx, queryLimit(r, 50, 500))
	if err != nil {
		writeError(w, 500, fmt.Sprintf("db list steps: %v", err))
		return
	}
	out := make([]stepView, 0, len(steps))
	for _, st := range steps {
		out = append(out, toStepView(st))
	}
	writeJSON(w, 200, map[string]any{"steps": out})
}

func (s *Server) handleBlockGet(w http.ResponseWriter, r *http.Request) {
	blockUUID := pathParam(r, "blockUUID")
	if blockUUID == "" {
		writeError(w, 400, "block uuid is required")
		return
	}
	ctx, cancel := reqCtx(r)
	defer cancel()

	steps, err := s.store.StepsInBlock(ctx, blockUUID)
	if err != nil {
		writeError(w, 500, fmt.Sprintf("db get block: %v", err))
		return
	}
	if len(steps) == 0 {
		writeError(w, 404, "block not found")
		return
	}
	out := make([]stepView, 0, len(steps))
	for _, st := range steps {
		out = append(out, toStepView(st))
	}
	writeJSON(w, 200, map[string]any{"block_uuid": blockUUID, "steps": out})
}

func (s *Server) handleBansList(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := reqCtx(r)
	defer cancel()

	bans, err := s.store.ListBans(ctx)
	if err != nil {
		writeError(w, 500, fmt.Sprintf("db list bans: %v", err))
		return
	}
	writeJSON(w, 200, map[string]any{"bans": bans})
}

type banDeleteRequest struct {
	Venue     string `json:"venue"`
	AccountID string `json:"account_id"`
	IP        string `json:"ip"`
	BanType   string `json:"ban_type"`
}

// handleBanDelete 人工确认限制已解除后，从账本移除记录
func (s *Server) handleBanDelete(w http.ResponseWriter, r *http.Request) {
	var req banDeleteRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, 400, "invalid json body")
		return
	}
	if req.Venue == "" || req.BanType == "" {
		writeError(w, 400, "venue and ban_type are required")
		return
	}
	ctx, cancel := reqCtx(r)
	defer cancel()

	if err := s.store.DeleteBan(ctx, req.Venue, req.AccountID, req.IP, req.BanType); err != nil {
		writeError(w, 500, fmt.Sprintf("db delete ban: %v", err))
		return
	}
	writeJSON(w, 200, map[string]any{"ok": true})
}

func (s *Server) handleRepeatersList(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := reqCtx(r)
	defer cancel()

	tasks, err := s.store.ListTasks(ctx)
	if err != nil {
		writeError(w, 500, fmt.Sprintf("db list repeaters: %v", err))
		return
	}
	writeJSON(w, 200, map[string]any{"repeaters": tasks})
}

func (s *Server) handleAuditsList(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := reqCtx(r)
	defer cancel()

	audits, err := s.store.ListAudits(ctx, strings.TrimSpace(r.URL.Query().Get("block_uuid")),
		queryLimit(r, 50, 500))
	if err != nil {
		writeError(w, 500, fmt.Sprintf("db list audits: %v", err))
		return
	}
	writeJSON(w, 200, map[string]any{"audits": audits})
}

func (s *Server) handlePositionsList(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := reqCtx(r)
	defer cancel()

	positions, err := s.store.ListPositions(ctx, strings.TrimSpace(r.URL.Query().Get("account_id")))
	if err != nil {
		writeError(w, 500, fmt.Sprintf("db list positions: %v", err))
		return
	}
	writeJSON(w, 200, map[string]any{"positions": positions})
}

func (s *Server) handlePositionGet(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "positionID")
	if id == "" {
		writeError(w, 400, "position id is required")
		return
	}
	ctx, cancel := reqCtx(r)
	defer cancel()

	pos, err := s.store.GetPosition(ctx, id)
	if err != nil {
		writeError(w, 404, "position not found")
		return
	}
	writeJSON(w, 200, pos)
}
