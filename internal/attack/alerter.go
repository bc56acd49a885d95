package attack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/minakata/civicgate/internal/metrics"
	"github.com/minakata/civicgate/internal/model"
	"github.com/minakata/civicgate/internal/security"
)

// Notifier はアラートの送信先を抽象化する。
type Notifier interface {
	Notify(ctx context.Context, alert model.Alert) error
}

// WebhookNotifier はアラートをJSONでWebhookにPOSTする。
// HTTPクライアントはSSRF防止機能付きで、内部ネットワークへの送信を拒否する。
type WebhookNotifier struct {
	client *http.Client
	url    string
}

// NewWebhookNotifier はWebhookNotifierを生成する。
func NewWebhookNotifier(guard security.SSRFGuardService, url string, timeout time.Duration) *WebhookNotifier {
	return &WebhookNotifier{
		client: guard.NewSafeClient(timeout, 1<<20),
		url:    url,
	}
}

// Notify はアラートをWebhookに送信する。
func (n *WebhookNotifier) Notify(ctx context.Context, alert model.Alert) error {
	body, err := json.Marshal(map[string]any{
		"recipients": alert.Recipients,
		"category":   alert.Category,
		"payload":    alert.Payload,
		"timestamp":  alert.Timestamp.Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build alert request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to deliver alert: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("alert webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// DispatcherConfig はDispatcherのバッファリング設定。
type DispatcherConfig struct {
	BufferSize int
	// Timeout は1件の送信にかける時間の上限。
	Timeout time.Duration
}

// Dispatcher はアラートを非同期に送信するワーカー。
// 送信はfire-and-forgetで、元リクエストの応答をブロックしない。
// バッファが満杯の場合は破棄してカウントのみ行う。
// 送信失敗はログとメトリクスに記録するだけで、再送はしない。
type Dispatcher struct {
	config    DispatcherConfig
	notifier  Notifier
	collector metrics.MetricsCollector
	logger    *slog.Logger
	ch        chan model.Alert
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

// NewDispatcher はワーカーを起動してDispatcherを生成する。
// collectorがnilの場合、メトリクスは記録しない。
func NewDispatcher(config DispatcherConfig, notifier Notifier, collector metrics.MetricsCollector, logger *slog.Logger) *Dispatcher {
	if config.BufferSize <= 0 {
		config.BufferSize = 64
	}
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Second
	}

	d := &Dispatcher{
		config:    config,
		notifier:  notifier,
		collector: collector,
		logger:    logger,
		ch:        make(chan model.Alert, config.BufferSize),
		done:      make(chan struct{}),
	}

	d.wg.Add(1)
	go d.run()

	return d
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case alert := <-d.ch:
			d.deliver(alert)
		case <-d.done:
			// 終了前にバッファに残った分を送り切る
			for {
				select {
				case alert := <-d.ch:
					d.deliver(alert)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(alert model.Alert) {
	ctx, cancel := context.WithTimeout(context.Background(), d.config.Timeout)
	defer cancel()

	if err := d.notifier.Notify(ctx, alert); err != nil {
		// 送信失敗は記録するだけで伝播させない
		if d.collector != nil {
			d.collector.RecordAlertFailed()
		}
		d.logger.Warn("アラート送信に失敗しました",
			slog.String("category", string(alert.Category)),
			slog.String("error", err.Error()),
		)
	}
}

// Emit はアラートを送信キューに積む。ブロックしない。
// バッファ満杯または終了後の呼び出しは破棄される。
func (d *Dispatcher) Emit(alert model.Alert) {
	if d == nil || d.closed.Load() {
		return
	}

	select {
	case d.ch <- alert:
	default:
		d.dropped.Add(1)
	}
}

// Close はワーカーを停止し、バッファに残ったアラートの送信完了を待つ。
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.done)
		d.wg.Wait()
	})
}

// Dropped はバッファ満杯で破棄されたアラート数を返す。
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
