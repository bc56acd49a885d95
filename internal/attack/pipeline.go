package attack

import (
	"time"

	"github.com/minakata/civicgate/internal/metrics"
	"github.com/minakata/civicgate/internal/model"
	"github.com/minakata/civicgate/internal/security"
)

// criticalCategories はアラート送信の対象となるカテゴリ。
// 観測のみのカテゴリ（XSS、パストラバーサル等）は各コンポーネントの
// 入力検証で無害化される前提で、通知までは行わない。
var criticalCategories = map[model.AttackCategory]bool{
	model.AttackSQLInjection:   true,
	model.AttackNoSQLInjection: true,
	model.AttackShellInjection: true,
	model.AttackXXE:            true,
	model.AttackTokenTampering: true,
}

// Critical はアラート送信の対象となるカテゴリかどうかを判定する。
func Critical(category model.AttackCategory) bool {
	return criticalCategories[category]
}

// Pipeline は分類・記録・アラートを束ねる攻撃検知パイプライン。
// 分類は観測のためのもので、リクエストをブロックしない。
type Pipeline struct {
	classifier *Classifier
	feed       *Feed
	dispatcher *Dispatcher
	sanitizer  security.PayloadSanitizerService
	collector  metrics.MetricsCollector
	recipients []string
	now        func() time.Time
}

// NewPipeline はPipelineを生成する。
// dispatcherがnilの場合、アラートは送信しない（記録のみ行う）。
func NewPipeline(
	classifier *Classifier,
	feed *Feed,
	dispatcher *Dispatcher,
	sanitizer security.PayloadSanitizerService,
	collector metrics.MetricsCollector,
	recipients []string,
) *Pipeline {
	return &Pipeline{
		classifier: classifier,
		feed:       feed,
		dispatcher: dispatcher,
		sanitizer:  sanitizer,
		collector:  collector,
		recipients: recipients,
		now:        time.Now,
	}
}

// Observe はリクエスト内容をシグネチャと照合し、一致した場合は
// イベントとして記録する。分類結果のカテゴリを返す。
// blockedは入力検証側でリクエストが拒否されたかどうかを表す。
func (p *Pipeline) Observe(content, sourceIP, path string, blocked bool) (model.AttackCategory, bool) {
	category, matched := p.classifier.Classify(content)
	if !matched {
		return "", false
	}

	p.Record(category, content, sourceIP, path, blocked)
	return category, true
}

// Record は分類済みのイベントをフィードに追加し、criticalカテゴリであれば
// アラートを1回だけキューに積む。トークン改ざんやブルートフォースのように
// 内容のパターン照合を経ずに検出されるカテゴリの通報にも使用する。
func (p *Pipeline) Record(category model.AttackCategory, payload, sourceIP, path string, blocked bool) {
	now := p.now()
	critical := criticalCategories[category]

	p.feed.Record(model.AttackEvent{
		Category:  category,
		Payload:   p.sanitizer.Sanitize(payload),
		SourceIP:  sourceIP,
		Path:      path,
		Blocked:   blocked,
		Critical:  critical,
		Timestamp: now,
	})
	if p.collector != nil {
		p.collector.RecordAttackEvent(string(category), blocked)
	}

	if critical && p.dispatcher != nil {
		p.dispatcher.Emit(model.Alert{
			Recipients: p.recipients,
			Category:   category,
			Payload:    p.sanitizer.Obfuscate(payload),
			Timestamp:  now,
		})
		if p.collector != nil {
			p.collector.RecordAlertDispatched()
		}
	}
}

// Stats はフィードの集計値を返す。
func (p *Pipeline) Stats() Stats {
	return p.feed.Snapshot()
}

// Recent は新しい順に最大n件のイベントを返す。
func (p *Pipeline) Recent(n int) []model.AttackEvent {
	return p.feed.Recent(n)
}
