package metrics

import (
	"sync"
	"time"

	"github.com/llmproxy/credpool/internal/credential"
)

type Metrics struct {
	mutex      sync.RWMutex
	selections map[int64]int64
	byGroup    map[credential.ModelGroup]int64
	rejections map[string]int64
	retries    int64
	completed  int64
	requests   int64
	startTime  time.Time
}

type Snapshot struct {
	TotalRequests int64                           `json:"total_requests"`
	Completed     int64                           `json:"completed"`
	Retries       int64                           `json:"retries"`
	Uptime        time.Duration                   `json:"uptime"`
	PoolMode      string                          `json:"pool_mode"`
	Selections    map[int64]int64                 `json:"selections_by_credential"`
	ByGroup       map[credential.ModelGroup]int64 `json:"selections_by_group"`
	Rejections    map[string]int64                `json:"rejections_by_reason"`
}

func NewMetrics() *Metrics {
	return &Metrics{
		selections: make(map[int64]int64),
		byGroup:    make(map[credential.ModelGroup]int64),
		rejections: make(map[string]int64),
		startTime:  time.Now(),
	}
}

func (m *Metrics) IncrementRequests() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.requests++
}

func (m *Metrics) RecordSelection(credID int64, group credential.ModelGroup) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.selections[credID]++
	m.byGroup[group]++
}

func (m *Metrics) RecordRejection(reason string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.rejections[reason]++
}

func (m *Metrics) RecordRetry() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.retries++
}

func (m *Metrics) RecordCompletion() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.completed++
}

func (m *Metrics) Snapshot(poolMode string) Snapshot {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	snap := Snapshot{
		TotalRequests: m.requests,
		Completed:     m.completed,
		Retries:       m.retries,
		Uptime:        time.Since(m.startTime),
		PoolMode:      poolMode,
		Selections:    make(map[int64]int64, len(m.selections)),
		ByGroup:       make(map[credential.ModelGroup]int64, len(m.byGroup)),
		Rejections:    make(map[string]int64, len(m.rejections)),
	}

	for id, n := range m.selections {
		snap.Selections[id] = n
	}
	for g, n := range m.byGroup {
		snap.ByGroup[g] = n
	}
	for reason, n := range m.rejections {
		snap.Rejections[reason] = n
	}

	return snap
}
