package backend

import (
	"context"
	"sync"

	"github.com/hugomdz/consultavirtual/internal/report"
)

// Mock is a canned backend used when no inference service is configured and
// by the orchestrator tests.
type Mock struct {
	mu        sync.Mutex
	submitted []string

	SubmitFunc  func(ctx context.Context, sessionID, text string) (QueryResponse, error)
	HistoryFunc func(ctx context.Context) ([]report.HistoryEntry, error)
}

func NewMock() *Mock { return &Mock{} }

func (m *Mock) SubmitQuery(ctx context.Context, sessionID, text string) (QueryResponse, error) {
	m.mu.Lock()
	m.submitted = append(m.submitted, text)
	fn := m.SubmitFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, sessionID, text)
	}
	return QueryResponse{
		Respuesta: "Gracias por tu consulta. Un profesional de salud puede orientarte mejor.",
		Reporte: &report.Report{
			Consulta:  text,
			Respuesta: "Gracias por tu consulta. Un profesional de salud puede orientarte mejor.",
			Analisis:  &report.Analysis{Resumen: "Consulta simulada", Urgencia: report.UrgenciaBajo},
		},
	}, nil
}

func (m *Mock) FetchHistory(ctx context.Context) ([]report.HistoryEntry, error) {
	m.mu.Lock()
	fn := m.HistoryFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx)
	}
	return nil, nil
}

// Submitted returns every query text received, in order.
func (m *Mock) Submitted() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.submitted))
	copy(out, m.submitted)
	return out
}
