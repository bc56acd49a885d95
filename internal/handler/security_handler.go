package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/minakata/civicgate/internal/attack"
	"github.com/minakata/civicgate/internal/middleware"
	"github.com/minakata/civicgate/internal/model"
)

// maxEventListLimit は一覧取得1回あたりの最大件数。
const maxEventListLimit = 200

// AttackPipelineInterface はセキュリティハンドラーが必要とするパイプラインインターフェース。
type AttackPipelineInterface interface {
	// Observe は内容をシグネチャと照合し、一致した場合にイベントとして記録する。
	Observe(content, sourceIP, path string, blocked bool) (model.AttackCategory, bool)
	// Record は分類済みの攻撃イベントを記録し、必要に応じてアラートを積む。
	Record(category model.AttackCategory, payload, sourceIP, path string, blocked bool)
	// Stats はフィードの集計値を返す。
	Stats() attack.Stats
	// Recent は新しい順に最大n件のイベントを返す。
	Recent(n int) []model.AttackEvent
}

// SecurityHandler は攻撃イベントの通報・照会のHTTPハンドラー。
type SecurityHandler struct {
	pipeline AttackPipelineInterface
}

// NewSecurityHandler はSecurityHandlerを生成する。
func NewSecurityHandler(pipeline AttackPipelineInterface) *SecurityHandler {
	return &SecurityHandler{
		pipeline: pipeline,
	}
}

// reportAlertRequest は攻撃イベント通報リクエストのボディ。
// 各コンポーネントの入力検証で拒否された内容を、分類済みのイベントとして通報する。
type reportAlertRequest struct {
	Category string `json:"category"`
	Payload  string `json:"payload"`
	Blocked  bool   `json:"blocked"`
}

// reportAlertResponse は通報結果のレスポンス。
// dispatchedはアラート送信キューに積まれたかどうかを表す。
type reportAlertResponse struct {
	Success    bool   `json:"success"`
	Category   string `json:"category"`
	Dispatched bool   `json:"dispatched"`
}

// attackEventResponse は攻撃イベント1件のAPIレスポンス。
type attackEventResponse struct {
	Category  string    `json:"category"`
	Payload   string    `json:"payload"`
	SourceIP  string    `json:"source_ip"`
	Path      string    `json:"path"`
	Blocked   bool      `json:"blocked"`
	Critical  bool      `json:"critical"`
	Timestamp time.Time `json:"timestamp"`
}

// attackStatsResponse はフィード集計値のAPIレスポンス。
type attackStatsResponse struct {
	Total      uint64            `json:"total"`
	Blocked    uint64            `json:"blocked"`
	ByCategory map[string]uint64 `json:"by_category"`
}

// ReportAlert は分類済みの攻撃イベントを通報する。
// criticalカテゴリの場合はアラート送信キューに積まれる。
// POST /api/security/alert
func (h *SecurityHandler) ReportAlert(w http.ResponseWriter, r *http.Request) {
	var req reportAlertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidBodyResponse(w)
		return
	}

	category := model.AttackCategory(req.Category)
	if !model.ValidAttackCategory(category) {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidInputError("未知の攻撃カテゴリです"))
		return
	}
	if req.Payload == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidInputError("ペイロードが空です"))
		return
	}

	h.pipeline.Record(category, req.Payload, middleware.ClientIP(r), r.URL.Path, req.Blocked)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(reportAlertResponse{
		Success:    true,
		Category:   string(category),
		Dispatched: attack.Critical(category),
	})
}

// ListEvents は直近の攻撃イベントを新しい順に返す。
// GET /api/security/events?limit=N
func (h *SecurityHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidInputError("limitは正の整数で指定してください"))
			return
		}
		limit = parsed
	}
	if limit > maxEventListLimit {
		limit = maxEventListLimit
	}

	events := h.pipeline.Recent(limit)
	results := make([]attackEventResponse, len(events))
	for i, ev := range events {
		results[i] = attackEventResponse{
			Category:  string(ev.Category),
			Payload:   ev.Payload,
			SourceIP:  ev.SourceIP,
			Path:      ev.Path,
			Blocked:   ev.Blocked,
			Critical:  ev.Critical,
			Timestamp: ev.Timestamp,
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"events": results,
	})
}

// GetStats はフィードの集計値を返す。
// GET /api/security/stats
func (h *SecurityHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats := h.pipeline.Stats()

	byCategory := make(map[string]uint64, len(stats.ByCategory))
	for category, count := range stats.ByCategory {
		byCategory[string(category)] = count
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(attackStatsResponse{
		Total:      stats.Total,
		Blocked:    stats.Blocked,
		ByCategory: byCategory,
	})
}
