package attack

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/minakata/civicgate/internal/model"
)

// captureNotifier はテスト用の送信先。受け取ったアラートを記録する。
type captureNotifier struct {
	mu     sync.Mutex
	alerts []model.Alert
	err    error
	block  chan struct{}
}

func (n *captureNotifier) Notify(_ context.Context, alert model.Alert) error {
	if n.block != nil {
		<-n.block
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, alert)
	return n.err
}

func (n *captureNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.alerts)
}

// countingCollector はアラート系カウンタの呼び出しだけを数えるテスト用コレクター。
type countingCollector struct {
	mu          sync.Mutex
	alertFailed int
}

func (c *countingCollector) RecordAttackEvent(string, bool)     {}
func (c *countingCollector) RecordAlertDispatched()             {}
func (c *countingCollector) RecordLoginFailure()                {}
func (c *countingCollector) RecordLockout()                     {}
func (c *countingCollector) RecordHTTPStatus(int)               {}
func (c *countingCollector) RecordRequestLatency(time.Duration) {}

func (c *countingCollector) RecordAlertFailed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alertFailed++
}

func (c *countingCollector) failedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.alertFailed
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func testAlert() model.Alert {
	return model.Alert{
		Recipients: []string{"ops@example.com"},
		Category:   model.AttackNoSQLInjection,
		Payload:    "b2JmdXNjYXRlZA==",
		Timestamp:  time.Now(),
	}
}

// Emitしたアラートがワーカー経由で送信されることを検証
func TestDispatcher_EmitDelivers(t *testing.T) {
	notifier := &captureNotifier{}
	d := NewDispatcher(DispatcherConfig{BufferSize: 8}, notifier, nil, discardLogger())

	d.Emit(testAlert())
	d.Close()

	if got := notifier.count(); got != 1 {
		t.Errorf("delivered = %d, want 1", got)
	}
}

// Closeがバッファに残ったアラートを送り切ることを検証
func TestDispatcher_CloseFlushesBuffer(t *testing.T) {
	notifier := &captureNotifier{}
	d := NewDispatcher(DispatcherConfig{BufferSize: 16}, notifier, nil, discardLogger())

	for i := 0; i < 5; i++ {
		d.Emit(testAlert())
	}
	d.Close()

	if got := notifier.count(); got != 5 {
		t.Errorf("delivered = %d, want 5", got)
	}
}

// Close後のEmitが破棄され、パニックしないことを検証
func TestDispatcher_EmitAfterCloseIsNoop(t *testing.T) {
	notifier := &captureNotifier{}
	d := NewDispatcher(DispatcherConfig{BufferSize: 8}, notifier, nil, discardLogger())
	d.Close()

	d.Emit(testAlert())

	if got := notifier.count(); got != 0 {
		t.Errorf("delivered = %d, want 0", got)
	}
}

// 送信失敗が呼び出し元に伝播しないことを検証
func TestDispatcher_NotifyFailureIsSwallowed(t *testing.T) {
	notifier := &captureNotifier{err: errors.New("webhook down")}
	d := NewDispatcher(DispatcherConfig{BufferSize: 8}, notifier, nil, discardLogger())

	// Emitはエラーを返さない設計。失敗はログに記録されるだけ。
	d.Emit(testAlert())
	d.Close()

	if got := notifier.count(); got != 1 {
		t.Errorf("notify attempts = %d, want 1", got)
	}
}

// 送信失敗がRecordAlertFailedとしてメトリクスに記録されることを検証
func TestDispatcher_NotifyFailureRecordedInMetrics(t *testing.T) {
	notifier := &captureNotifier{err: errors.New("webhook down")}
	collector := &countingCollector{}
	d := NewDispatcher(DispatcherConfig{BufferSize: 8}, notifier, collector, discardLogger())

	d.Emit(testAlert())
	d.Emit(testAlert())
	d.Close()

	if got := collector.failedCount(); got != 2 {
		t.Errorf("RecordAlertFailed calls = %d, want 2", got)
	}
}

// バッファ満杯時にEmitがブロックせず破棄カウントが増えることを検証
func TestDispatcher_DropsWhenBufferFull(t *testing.T) {
	block := make(chan struct{})
	notifier := &captureNotifier{block: block}
	d := NewDispatcher(DispatcherConfig{BufferSize: 1}, notifier, nil, discardLogger())

	// ワーカーが1件目の送信でブロックしている間にバッファを溢れさせる
	for i := 0; i < 10; i++ {
		d.Emit(testAlert())
	}

	if d.Dropped() == 0 {
		t.Error("expected dropped alerts when buffer is full")
	}

	close(block)
	d.Close()
}
