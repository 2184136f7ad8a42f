package graph

import (
	"context"
	"time"

	"graphmirror/backend/internal/signal"
)

// CallRecorder receives per-call measurements
type CallRecorder interface {
	RecordRemoteCall(backend, operation string, err error, duration time.Duration)
	RecordSignal(action string)
}

// InstrumentedRemote records the outcome and latency of every call
type InstrumentedRemote struct {
	next     Remote
	recorder CallRecorder
}

// WithMetrics wraps next so each call is reported to recorder
func WithMetrics(next Remote, recorder CallRecorder) *InstrumentedRemote {
	return &InstrumentedRemote{next: next, recorder: recorder}
}

func (m *InstrumentedRemote) Backend() string {
	return m.next.Backend()
}

func (m *InstrumentedRemote) CreateGraph(ctx context.Context) (string, error) {
	start := time.Now()
	id, err := m.next.CreateGraph(ctx)
	m.recorder.RecordRemoteCall(m.Backend(), "create_graph", err, time.Since(start))
	return id, err
}

func (m *InstrumentedRemote) DownloadGraph(ctx context.Context, graphID string) (*GraphData, error) {
	start := time.Now()
	data, err := m.next.DownloadGraph(ctx, graphID)
	m.recorder.RecordRemoteCall(m.Backend(), "download_graph", err, time.Since(start))
	return data, err
}

func (m *InstrumentedRemote) SendSignals(ctx context.Context, graphID string, signals []signal.Signal) (*SignalsResponse, error) {
	start := time.Now()
	resp, err := m.next.SendSignals(ctx, graphID, signals)
	m.recorder.RecordRemoteCall(m.Backend(), "send_signals", err, time.Since(start))
	if err == nil {
		for _, s := range signals {
			m.recorder.RecordSignal(string(s.Action))
		}
	}
	return resp, err
}

func (m *InstrumentedRemote) Mentioners(ctx context.Context, graphID, userRemoteID string) ([]string, error) {
	start := time.Now()
	ids, err := m.next.Mentioners(ctx, graphID, userRemoteID)
	m.recorder.RecordRemoteCall(m.Backend(), "mentioners", err, time.Since(start))
	return ids, err
}

func (m *InstrumentedRemote) Mentioned(ctx context.Context, graphID, userRemoteID string) ([]string, error) {
	start := time.Now()
	ids, err := m.next.Mentioned(ctx, graphID, userRemoteID)
	m.recorder.RecordRemoteCall(m.Backend(), "mentioned", err, time.Since(start))
	return ids, err
}

func (m *InstrumentedRemote) GraphURL(graphID string) string {
	return m.next.GraphURL(graphID)
}
