package middleware

import (
	"bytes"
	"io"
	"net/http"
)

// maxObservedBodyBytes は攻撃シグネチャ照合のために読み取るボディの上限。
// これを超える分は照合対象とせず、そのままハンドラーに渡す。
const maxObservedBodyBytes = 64 * 1024

// ObserveFunc はリクエスト内容をシグネチャと照合する関数。
// attack.Pipeline.Observeをラップして渡す。
type ObserveFunc func(content, sourceIP, path string)

// NewAttackObserverMiddleware はリクエストのパス・クエリ・ボディを
// 攻撃シグネチャと照合するミドルウェアを返す。
// 照合は観測のためのもので、一致してもリクエストはブロックしない。
// ボディは読み取り後に復元してハンドラーに渡す。
func NewAttackObserverMiddleware(observe ObserveFunc) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			content := r.URL.RequestURI()
			if r.Body != nil && r.Body != http.NoBody {
				limited := io.LimitReader(r.Body, maxObservedBodyBytes)
				body, err := io.ReadAll(limited)
				if err == nil {
					// 読み取った分を復元してハンドラーに渡す
					r.Body = io.NopCloser(io.MultiReader(bytes.NewReader(body), r.Body))
					content += "\n" + string(body)
				}
			}

			observe(content, ClientIP(r), r.URL.Path)

			next.ServeHTTP(w, r)
		})
	}
}
