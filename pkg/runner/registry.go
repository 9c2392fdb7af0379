package runner

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/forgehive/colony/internal/metrics"
	"github.com/forgehive/colony/pkg/events"
	"github.com/forgehive/colony/pkg/store"
	"github.com/forgehive/colony/pkg/tools"
)

// Registry owns all live runners. It satisfies tools.Orchestrator so that
// agent tool calls can start and wake peers, and Waker so that runner
// speech propagates.
type Registry struct {
	st     *store.Store
	gw     Gateway
	exec   *tools.Executor
	bus    *events.Bus
	logger zerolog.Logger
	opts   []Option

	mu      sync.Mutex
	runners map[string]*Runner
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithRegistryLogger sets the registry logger, also inherited by runners.
func WithRegistryLogger(logger zerolog.Logger) RegistryOption {
	return func(reg *Registry) { reg.logger = logger }
}

// WithRunnerOptions forwards options to every runner the registry starts.
func WithRunnerOptions(opts ...Option) RegistryOption {
	return func(reg *Registry) { reg.opts = opts }
}

// NewRegistry creates an empty registry.
func NewRegistry(st *store.Store, gw Gateway, exec *tools.Executor, bus *events.Bus, opts ...RegistryOption) *Registry {
	reg := &Registry{
		st:      st,
		gw:      gw,
		exec:    exec,
		bus:     bus,
		logger:  zerolog.Nop(),
		runners: make(map[string]*Runner),
	}
	for _, opt := range opts {
		opt(reg)
	}
	return reg
}

// StartAgent creates and starts a runner for the agent. Starting an agent
// that is already running is a no-op.
func (reg *Registry) StartAgent(agentID string) error {
	if _, ok := reg.st.GetAgent(agentID); !ok {
		return fmt.Errorf("unknown agent: %s", agentID)
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()

	if _, running := reg.runners[agentID]; running {
		return nil
	}

	opts := append([]Option{
		WithLogger(reg.logger.With().Str("agent", agentID).Logger()),
		WithWaker(reg),
	}, reg.opts...)
	r := New(agentID, reg.st, reg.gw, reg.exec, reg.bus, opts...)
	reg.runners[agentID] = r
	r.Start(context.Background())
	metrics.SetRunnersActive(len(reg.runners))

	// Catch up on anything that arrived before the runner existed.
	r.Wake()
	return nil
}

// Stop stops one runner and blocks until its loop has exited.
func (reg *Registry) Stop(agentID string) {
	reg.mu.Lock()
	r, ok := reg.runners[agentID]
	if ok {
		delete(reg.runners, agentID)
		metrics.SetRunnersActive(len(reg.runners))
	}
	reg.mu.Unlock()

	if ok {
		r.Stop()
	}
}

// StopAll stops every runner. Used on daemon shutdown.
func (reg *Registry) StopAll() {
	reg.mu.Lock()
	stopped := make([]*Runner, 0, len(reg.runners))
	for id, r := range reg.runners {
		stopped = append(stopped, r)
		delete(reg.runners, id)
	}
	metrics.SetRunnersActive(0)
	reg.mu.Unlock()

	for _, r := range stopped {
		r.Stop()
	}
}

// Wake signals one agent's runner. Unknown or stopped agents are ignored.
func (reg *Registry) Wake(agentID string) {
	reg.mu.Lock()
	r, ok := reg.runners[agentID]
	reg.mu.Unlock()

	if ok {
		r.Wake()
	}
}

// WakeAll signals every member of a group except the sender. The caller
// typically just appended a message on the sender's behalf.
func (reg *Registry) WakeAll(group *store.Group, exceptID string) {
	for _, memberID := range group.MemberIDs {
		if memberID != exceptID {
			reg.Wake(memberID)
		}
	}
}

// Running reports whether the agent currently has a live runner.
func (reg *Registry) Running(agentID string) bool {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	_, ok := reg.runners[agentID]
	return ok
}

// RunningCount returns the number of live runners.
func (reg *Registry) RunningCount() int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return len(reg.runners)
}

var _ tools.Orchestrator = (*Registry)(nil)
var _ Waker = (*Registry)(nil)
