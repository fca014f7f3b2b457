package chart

import (
	"sync"

	"go.uber.org/zap"

	"github.com/dentalink/clinic-portal/internal/audit"
	"github.com/dentalink/clinic-portal/internal/backend"
)

// Manager hands out one Workspace per patient id for a session. Workspaces
// are created lazily and live until the session goes away.
type Manager struct {
	mu     sync.Mutex
	client *backend.Client
	audits audit.Service
	logger *zap.Logger
	actor  Actor
	open   map[int64]*Workspace
}

// NewManager creates a workspace manager bound to one session's backend
// client. audits and logger may be nil.
func NewManager(client *backend.Client, audits audit.Service, logger *zap.Logger, actor Actor) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		client: client,
		audits: audits,
		logger: logger,
		actor:  actor,
		open:   make(map[int64]*Workspace),
	}
}

// Workspace returns the patient's workspace, creating it on first use. The
// workspace still needs Open before any clinical operation.
func (m *Manager) Workspace(patientID int64) *Workspace {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ws, ok := m.open[patientID]; ok {
		return ws
	}
	ws := newWorkspace(patientID, m.client, m.audits, m.logger, m.actor)
	m.open[patientID] = ws
	return ws
}

// Close drops a patient's workspace.
func (m *Manager) Close(patientID int64) {
	m.mu.Lock()
	delete(m.open, patientID)
	m.mu.Unlock()
}
