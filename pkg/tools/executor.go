// Package tools implements the fixed catalog of actions an agent may
// invoke: identity lookup, spawning sub-agents, messaging, group
// management, a guarded shell command and completion reporting. Inputs are
// validated against JSON schemas; failures of any kind come back as result
// values, never as errors crossing the execution boundary.
package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"

	"github.com/forgehive/colony/internal/metrics"
	"github.com/forgehive/colony/pkg/events"
	"github.com/forgehive/colony/pkg/llm"
	"github.com/forgehive/colony/pkg/store"
)

const (
	// DefaultBashTimeout bounds one shell command, independent of any
	// gateway timeout.
	DefaultBashTimeout = 30 * time.Second
	// DefaultMaxOutputBytes truncates each of stdout and stderr.
	DefaultMaxOutputBytes = 16 * 1024
)

// Orchestrator is the slice of the runner registry the executor needs:
// starting the runner of a freshly spawned agent and waking message
// targets. Injected after construction to break the executor/registry
// cycle at the composition root.
type Orchestrator interface {
	StartAgent(agentID string) error
	Wake(agentID string)
}

// Parameter describes one tool input.
type Parameter struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
}

// Handler executes a tool on behalf of the calling agent.
type Handler func(ctx context.Context, caller *store.Agent, args map[string]interface{}) (map[string]interface{}, error)

// Definition is one catalog entry.
type Definition struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Parameters  []Parameter `json:"parameters"`
	Handler     Handler     `json:"-"`
}

// Result is the value returned for every execution. Validation failures
// and subprocess errors land in Error; Execute itself never fails.
type Result struct {
	Success bool                   `json:"success"`
	Output  map[string]interface{} `json:"output,omitempty"`
	Error   string                 `json:"error,omitempty"`
}

// Executor manages and executes the tool catalog.
type Executor struct {
	st     *store.Store
	bus    *events.Bus
	logger zerolog.Logger
	orch   Orchestrator

	bashTimeout    time.Duration
	maxOutputBytes int

	order   []string
	tools   map[string]*Definition
	schemas map[string]*gojsonschema.Schema
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithLogger sets the executor logger.
func WithLogger(logger zerolog.Logger) ExecutorOption {
	return func(e *Executor) { e.logger = logger }
}

// WithBashTimeout overrides the shell command timeout.
func WithBashTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) { e.bashTimeout = d }
}

// New creates an Executor with the full catalog registered.
func New(st *store.Store, bus *events.Bus, opts ...ExecutorOption) (*Executor, error) {
	e := &Executor{
		st:             st,
		bus:            bus,
		logger:         zerolog.Nop(),
		bashTimeout:    DefaultBashTimeout,
		maxOutputBytes: DefaultMaxOutputBytes,
		tools:          make(map[string]*Definition),
		schemas:        make(map[string]*gojsonschema.Schema),
	}
	for _, opt := range opts {
		opt(e)
	}

	for _, def := range e.catalog() {
		if err := e.register(def); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// SetOrchestrator injects the runner registry. Must be called before any
// agent executes create, send, send_group_message or report_done.
func (e *Executor) SetOrchestrator(orch Orchestrator) {
	e.orch = orch
}

func (e *Executor) register(def *Definition) error {
	schemaDoc := inputSchema(def)
	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(schemaDoc))
	if err != nil {
		return fmt.Errorf("failed to compile schema for tool %s: %w", def.Name, err)
	}
	e.tools[def.Name] = def
	e.schemas[def.Name] = schema
	e.order = append(e.order, def.Name)
	return nil
}

// Schemas returns the catalog as gateway tool schemas, in registration
// order.
func (e *Executor) Schemas() []llm.ToolSchema {
	out := make([]llm.ToolSchema, 0, len(e.order))
	for _, name := range e.order {
		def := e.tools[name]
		out = append(out, llm.ToolSchema{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: inputSchema(def),
		})
	}
	return out
}

// Execute runs one tool call for the agent. An unknown tool name, a
// validation failure or a handler failure all come back inside the
// Result; the tool loop proceeds to its next round either way.
func (e *Executor) Execute(ctx context.Context, callerID string, call llm.ToolCall) Result {
	caller, ok := e.st.GetAgent(callerID)
	if !ok {
		return Result{Error: fmt.Sprintf("unknown calling agent: %s", callerID)}
	}

	def, ok := e.tools[call.Name]
	if !ok {
		metrics.RecordToolExecution(call.Name, false)
		return Result{Error: fmt.Sprintf("unknown tool: %s", call.Name)}
	}

	args := call.Arguments
	if args == nil {
		args = map[string]interface{}{}
	}
	if errMsg := e.validate(call.Name, args); errMsg != "" {
		metrics.RecordToolExecution(call.Name, false)
		return Result{Error: errMsg}
	}

	output, err := def.Handler(ctx, caller, args)
	if err != nil {
		metrics.RecordToolExecution(call.Name, false)
		e.logger.Debug().
			Str("tool", call.Name).
			Str("agent", callerID).
			Err(err).
			Msg("Tool execution failed")
		return Result{Error: err.Error()}
	}

	metrics.RecordToolExecution(call.Name, true)
	return Result{Success: true, Output: output}
}

func (e *Executor) validate(name string, args map[string]interface{}) string {
	result, err := e.schemas[name].Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return fmt.Sprintf("invalid arguments for %s: %v", name, err)
	}
	if !result.Valid() {
		first := result.Errors()[0]
		return fmt.Sprintf("invalid arguments for %s: %s", name, first.String())
	}
	return ""
}

// inputSchema renders a definition's parameters as a JSON schema document,
// the shape shared by the model-facing declaration and input validation.
func inputSchema(def *Definition) map[string]interface{} {
	properties := make(map[string]interface{})
	var required []string
	for _, p := range def.Parameters {
		properties[p.Name] = map[string]interface{}{
			"type":        p.Type,
			"description": p.Description,
		}
		if p.Required {
			required = append(required, p.Name)
		}
	}
	schema := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func stringArg(args map[string]interface{}, key string) string {
	v, _ := args[key].(string)
	return v
}
