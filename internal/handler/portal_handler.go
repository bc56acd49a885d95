package handler

import (
	"encoding/json"
	"net/http"

	"github.com/minakata/civicgate/internal/middleware"
	"github.com/minakata/civicgate/internal/model"
)

// portalServiceEntry は各行政ドメインが提供する窓口1件の情報。
type portalServiceEntry struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// portalDomainResponse は行政ドメインのAPIレスポンス。
type portalDomainResponse struct {
	Domain   string               `json:"domain"`
	Services []portalServiceEntry `json:"services"`
}

// portalDomains はゲートウェイの背後にある各行政ドメインの窓口一覧。
// 窓口の実体は各ドメインのバックエンドが提供し、ここでは入口情報のみを返す。
var portalDomains = map[string]portalDomainResponse{
	"agriculture": {
		Domain: "agriculture",
		Services: []portalServiceEntry{
			{ID: "farmland-registry", Name: "農地台帳の閲覧", Description: "農地の登録情報を確認できます。"},
			{ID: "subsidy-application", Name: "農業補助金の申請", Description: "補助金の申請と審査状況の確認ができます。"},
		},
	},
	"urban": {
		Domain: "urban",
		Services: []portalServiceEntry{
			{ID: "building-permit", Name: "建築確認申請", Description: "建築確認の申請と進捗確認ができます。"},
			{ID: "city-planning", Name: "都市計画情報の閲覧", Description: "用途地域や都市計画の情報を確認できます。"},
		},
	},
	"healthcare": {
		Domain: "healthcare",
		Services: []portalServiceEntry{
			{ID: "checkup-booking", Name: "健康診断の予約", Description: "自治体健診の予約と変更ができます。"},
			{ID: "vaccination-record", Name: "予防接種記録の閲覧", Description: "接種履歴を確認できます。"},
		},
	},
	"monitoring": {
		Domain: "monitoring",
		Services: []portalServiceEntry{
			{ID: "security-dashboard", Name: "セキュリティダッシュボード", Description: "攻撃イベントの統計を確認できます。"},
		},
	},
}

// PortalHandler は行政ドメイン入口のHTTPハンドラー。
// 認可ミドルウェアの背後に配置され、権限判定はミドルウェアが行う。
type PortalHandler struct{}

// NewPortalHandler はPortalHandlerを生成する。
func NewPortalHandler() *PortalHandler {
	return &PortalHandler{}
}

// Domain は指定された行政ドメインの窓口一覧を返す。
func (h *PortalHandler) Domain(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		domain, ok := portalDomains[name]
		if !ok {
			middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewInvalidInputError("未知のドメインです"))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(domain)
	}
}
