package usage

import (
	"context"
	"sync"
	"time"
)

// Memory is a process-local [Meter].
type Memory struct {
	mu  sync.Mutex
	rec Record
	now func() time.Time
}

// NewMemory creates an empty [Memory] meter. A nil clock uses time.Now.
func NewMemory(now func() time.Time) *Memory {
	if now == nil {
		now = time.Now
	}
	return &Memory{rec: newRecord(), now: now}
}

func (m *Memory) AddUsage(_ context.Context, n int64) error {
	if n < 0 {
		return ErrNegative
	}
	if n == 0 {
		return nil
	}
	now := m.now()
	k := KeysAt(now)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.rec.Daily[k.Day] += n
	m.rec.Weekly[k.Week] += n
	m.rec.Monthly[k.Month] += n
	m.rec.LastUpdated = now
	return nil
}

func (m *Memory) Stats(_ context.Context) (Stats, error) {
	k := KeysAt(m.now())

	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		Today:     m.rec.Daily[k.Day],
		ThisWeek:  m.rec.Weekly[k.Week],
		ThisMonth: m.rec.Monthly[k.Month],
	}, nil
}

func (m *Memory) Record(_ context.Context) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := newRecord()
	for k, v := range m.rec.Daily {
		out.Daily[k] = v
	}
	for k, v := range m.rec.Weekly {
		out.Weekly[k] = v
	}
	for k, v := range m.rec.Monthly {
		out.Monthly[k] = v
	}
	out.LastUpdated = m.rec.LastUpdated
	return out, nil
}

func (m *Memory) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rec = newRecord()
	m.rec.LastUpdated = m.now()
	return nil
}
