// Package attack は攻撃シグネチャの分類・イベントフィード・アラート通知を提供する。
package attack

import (
	"regexp"
	"strings"

	"github.com/minakata/civicgate/internal/model"
)

// rule は1つの攻撃カテゴリに対応するシグネチャ。
type rule struct {
	category model.AttackCategory
	pattern  *regexp.Regexp
}

// Classifier はリクエスト内容を攻撃シグネチャと照合する。
// ルールは順序付きリストで、先にマッチしたカテゴリを返す。
// 分類は観測・通報のためのもので、リクエストのブロック自体は
// 入力を検証する各コンポーネントの責務とする。
type Classifier struct {
	rules []rule
}

// NewClassifier は既定のシグネチャセットを持つClassifierを生成する。
func NewClassifier() *Classifier {
	// より特異なシグネチャを先に照合する
	return &Classifier{rules: []rule{
		{model.AttackNoSQLInjection, regexp.MustCompile(`"\$(gt|gte|lt|lte|ne|eq|in|nin|or|and|not|where|regex|exists)"`)},
		{model.AttackPrototypePollution, regexp.MustCompile(`__proto__|constructor\s*\[|\.prototype\s*[.\[]|"prototype"`)},
		{model.AttackXXE, regexp.MustCompile(`<!entity|<!doctype[^>]*\[|system\s+["']file:`)},
		{model.AttackXSS, regexp.MustCompile(`<script|javascript:|on(error|load|click|mouseover)\s*=|<svg[\s>]|<iframe|document\.cookie`)},
		{model.AttackSQLInjection, regexp.MustCompile(`union\s+select|'\s*(or|and)\s+'?\d|or\s+1\s*=\s*1|;\s*drop\s+table|'\s*--|sleep\s*\(\s*\d|benchmark\s*\(`)},
		{model.AttackShellInjection, regexp.MustCompile("\\$\\(|`[^`]+`|;\\s*(rm|cat|wget|curl|sh|bash)\\s|\\|\\s*(sh|bash|nc)\\b|/etc/passwd")},
		{model.AttackPathTraversal, regexp.MustCompile(`\.\./|\.\.\\|%2e%2e%2f|%2e%2e/`)},
	}}
}

// Classify は内容を正規化してシグネチャと照合し、最初に一致したカテゴリを返す。
// どのシグネチャにも一致しない場合は第2戻り値がfalseになる。
func (c *Classifier) Classify(content string) (model.AttackCategory, bool) {
	normalized := strings.ToLower(content)
	for _, r := range c.rules {
		if r.pattern.MatchString(normalized) {
			return r.category, true
		}
	}
	return "", false
}
