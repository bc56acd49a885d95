package attack

import (
	"sync"

	"github.com/minakata/civicgate/internal/model"
)

// defaultFeedCapacity は保持する攻撃イベントの既定上限。
const defaultFeedCapacity = 1024

// Stats はフィードの集計値。
type Stats struct {
	Total      uint64
	Blocked    uint64
	ByCategory map[model.AttackCategory]uint64
}

// Feed は攻撃イベントのプロセス内フィード。
// 直近のイベントを上限件数まで保持し、古いものから破棄する。
// 集計カウンタは破棄の影響を受けず単調増加する。
// イベントはプロセス終了とともに消える。永続化はしない。
type Feed struct {
	mu         sync.Mutex
	events     []model.AttackEvent
	capacity   int
	total      uint64
	blocked    uint64
	byCategory map[model.AttackCategory]uint64
}

// NewFeed は既定の上限件数でFeedを生成する。
func NewFeed() *Feed {
	return NewFeedWithCapacity(defaultFeedCapacity)
}

// NewFeedWithCapacity は指定の上限件数でFeedを生成する。
func NewFeedWithCapacity(capacity int) *Feed {
	if capacity <= 0 {
		capacity = defaultFeedCapacity
	}
	return &Feed{
		capacity:   capacity,
		byCategory: map[model.AttackCategory]uint64{},
	}
}

// Record はイベントをフィードに追加し、集計カウンタを増分する。
func (f *Feed) Record(event model.AttackEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.events = append(f.events, event)
	if len(f.events) > f.capacity {
		f.events = f.events[len(f.events)-f.capacity:]
	}

	f.total++
	if event.Blocked {
		f.blocked++
	}
	f.byCategory[event.Category]++
}

// Recent は新しい順に最大n件のイベントを返す。
func (f *Feed) Recent(n int) []model.AttackEvent {
	f.mu.Lock()
	defer f.mu.Unlock()

	if n <= 0 || n > len(f.events) {
		n = len(f.events)
	}
	result := make([]model.AttackEvent, n)
	for i := 0; i < n; i++ {
		result[i] = f.events[len(f.events)-1-i]
	}
	return result
}

// Snapshot は現在の集計値を返す。
func (f *Feed) Snapshot() Stats {
	f.mu.Lock()
	defer f.mu.Unlock()

	byCategory := make(map[model.AttackCategory]uint64, len(f.byCategory))
	for category, count := range f.byCategory {
		byCategory[category] = count
	}
	return Stats{
		Total:      f.total,
		Blocked:    f.blocked,
		ByCategory: byCategory,
	}
}
