package daemon

import (
	"github.com/robfig/cron/v3"

	"github.com/forgehive/colony/pkg/store"
)

// Maintenance runs the daemon's periodic chores: a store flush safety net
// in case the debounce timer is starved, and a status sweep that logs
// agents stuck in error.
type Maintenance struct {
	daemon *Daemon
	cron   *cron.Cron
}

// NewMaintenance creates the maintenance schedule.
func NewMaintenance(d *Daemon) *Maintenance {
	return &Maintenance{
		daemon: d,
		cron:   cron.New(),
	}
}

// Start registers the jobs and begins the schedule.
func (m *Maintenance) Start() {
	// Safety-net flush. The debounced flush covers the normal path; this
	// bounds data loss if the process dies between mutation and timer.
	_, _ = m.cron.AddFunc("@every 1m", func() {
		m.daemon.store.Flush()
	})
	_, _ = m.cron.AddFunc("@every 5m", m.statusSweep)
	m.cron.Start()
}

// Stop halts the schedule; running jobs finish.
func (m *Maintenance) Stop() {
	<-m.cron.Stop().Done()
}

func (m *Maintenance) statusSweep() {
	for _, ws := range m.daemon.store.ListWorkspaces() {
		if ws.Status != store.WorkspaceActive {
			continue
		}
		for _, agent := range m.daemon.store.ListAgents(ws.ID) {
			if agent.Status == store.AgentError {
				m.daemon.logger.Warn().
					Str("workspace", ws.ID).
					Str("agent", agent.ID).
					Str("role", agent.Role).
					Msg("Agent is in error status")
			}
		}
	}
}
