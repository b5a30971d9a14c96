package provider

import (
	"sync"
	"time"

	"tempmailhub/backend/internal/domain"
)

// Tracker 渠道统计计数器，互斥锁保护。
//
// 每个适配器实例持有一个，只由该适配器更新；
// 聚合层读取时拿到的是防御性拷贝。
type Tracker struct {
	mu    sync.Mutex
	stats domain.ChannelStats
	day   time.Time // 当日计数器所属的日期（UTC 零点）
}

// NewTracker 创建统计计数器。
func NewTracker() *Tracker {
	return &Tracker{day: todayUTC()}
}

// RecordRequest 记录一次请求进入。每个合约操作进入时恰好调用一次。
func (t *Tracker) RecordRequest() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.rolloverLocked()
	t.stats.TotalRequests++
	t.stats.RequestsToday++
	now := time.Now().UTC()
	t.stats.LastRequestTime = &now
}

// RecordSuccess 记录一次成功并折算运行平均延迟。
func (t *Tracker) RecordSuccess(elapsed time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.rolloverLocked()
	t.stats.SuccessfulRequests++
	// 累计均值：avg += (x - avg) / n
	n := float64(t.stats.SuccessfulRequests)
	x := float64(elapsed.Milliseconds())
	t.stats.AverageResponseTime += (x - t.stats.AverageResponseTime) / n
}

// RecordFailure 记录一次失败。
func (t *Tracker) RecordFailure() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.rolloverLocked()
	t.stats.FailedRequests++
	t.stats.ErrorsToday++
}

// Snapshot 返回当前计数器的拷贝。
func (t *Tracker) Snapshot() domain.ChannelStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	snapshot := t.stats
	if t.stats.LastRequestTime != nil {
		lastRequest := *t.stats.LastRequestTime
		snapshot.LastRequestTime = &lastRequest
	}
	return snapshot
}

// rolloverLocked 跨天时清零当日计数器。调用方必须已持锁。
func (t *Tracker) rolloverLocked() {
	today := todayUTC()
	if !today.Equal(t.day) {
		t.day = today
		t.stats.RequestsToday = 0
		t.stats.ErrorsToday = 0
	}
}

func todayUTC() time.Time {
	return time.Now().UTC().Truncate(24 * time.Hour)
}
