// Package flow ties workflow and activity definitions to an engine backend.
// A Manager holds the registry the worker loops dispatch on: workflow name to
// decider, activity name to activity code.
package flow

import (
	"context"
	"fmt"
	"iter"
	"sync"

	"goa.design/flow/activity"
	"goa.design/flow/decider"
	"goa.design/flow/engine"
)

type (
	// WorkflowDefinition binds a workflow type to its decider.
	WorkflowDefinition struct {
		// Name is the workflow type name.
		Name string
		// Options are passed to the engine at registration; zero fields take
		// the engine defaults.
		Options engine.WorkflowOptions
		// Decider produces decisions for the workflow's processes.
		Decider decider.Decider
	}

	// ActivityDefinition binds an activity type to its implementation.
	ActivityDefinition struct {
		// Name is the activity type name.
		Name string
		// Options are passed to the engine at registration; zero fields take
		// the engine defaults.
		Options engine.ActivityOptions
		// Activity is the code run for each execution. May be nil when
		// ManualComplete is set.
		Activity activity.Activity
		// ManualComplete marks executions that are completed out of band:
		// the worker runs the activity (if any) but never submits a result,
		// leaving completion to a later CompleteActivityTask call.
		ManualComplete bool
	}

	// Manager pairs an engine with the definitions registered on it.
	Manager struct {
		eng engine.Engine

		mu         sync.RWMutex
		workflows  map[string]WorkflowDefinition
		activities map[string]ActivityDefinition
	}
)

// NewManager builds a manager over the given engine.
func NewManager(eng engine.Engine) *Manager {
	return &Manager{
		eng:        eng,
		workflows:  make(map[string]WorkflowDefinition),
		activities: make(map[string]ActivityDefinition),
	}
}

// Engine returns the underlying engine.
func (m *Manager) Engine() engine.Engine { return m.eng }

// RegisterWorkflow registers the workflow with the engine and records its
// decider for dispatch.
func (m *Manager) RegisterWorkflow(ctx context.Context, def WorkflowDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("register workflow: missing name: %w", engine.ErrInvalidInput)
	}
	if def.Decider == nil {
		return fmt.Errorf("register workflow %q: missing decider: %w", def.Name, engine.ErrInvalidInput)
	}
	if err := m.eng.RegisterWorkflow(ctx, def.Name, def.Options); err != nil {
		return err
	}
	m.mu.Lock()
	m.workflows[def.Name] = def
	m.mu.Unlock()
	return nil
}

// RegisterActivity registers the activity with the engine and records its
// implementation for dispatch.
func (m *Manager) RegisterActivity(ctx context.Context, def ActivityDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("register activity: missing name: %w", engine.ErrInvalidInput)
	}
	if def.Activity == nil && !def.ManualComplete {
		return fmt.Errorf("register activity %q: missing implementation: %w", def.Name, engine.ErrInvalidInput)
	}
	if err := m.eng.RegisterActivity(ctx, def.Name, def.Options); err != nil {
		return err
	}
	m.mu.Lock()
	m.activities[def.Name] = def
	m.mu.Unlock()
	return nil
}

// StartProcess starts a process on the underlying engine.
func (m *Manager) StartProcess(ctx context.Context, proc *engine.Process) error {
	return m.eng.StartProcess(ctx, proc)
}

// SignalProcess delivers a signal through the underlying engine.
func (m *Manager) SignalProcess(ctx context.Context, processID string, signal engine.Signal) error {
	return m.eng.SignalProcess(ctx, processID, signal)
}

// CancelProcess cancels a process through the underlying engine.
func (m *Manager) CancelProcess(ctx context.Context, processID string, details, reason string) error {
	return m.eng.CancelProcess(ctx, processID, details, reason)
}

// Processes lists open processes from the underlying engine.
func (m *Manager) Processes(ctx context.Context, filter engine.ProcessFilter) iter.Seq2[*engine.Process, error] {
	return m.eng.Processes(ctx, filter)
}

// ProcessByID returns a process snapshot from the underlying engine.
func (m *Manager) ProcessByID(ctx context.Context, processID string) (*engine.Process, error) {
	return m.eng.ProcessByID(ctx, processID)
}

// WorkflowFor returns the definition registered for the workflow type.
func (m *Manager) WorkflowFor(name string) (WorkflowDefinition, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	def, ok := m.workflows[name]
	return def, ok
}

// ActivityFor returns the definition registered for the activity type.
func (m *Manager) ActivityFor(name string) (ActivityDefinition, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	def, ok := m.activities[name]
	return def, ok
}

// CopyWithEngine returns a manager carrying the same definitions bound to a
// different engine, re-registering them there. Worker pools use it to run
// against their own backend connections.
func (m *Manager) CopyWithEngine(ctx context.Context, eng engine.Engine) (*Manager, error) {
	cp := NewManager(eng)
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, def := range m.workflows {
		if err := cp.RegisterWorkflow(ctx, def); err != nil {
			return nil, err
		}
	}
	for _, def := range m.activities {
		if err := cp.RegisterActivity(ctx, def); err != nil {
			return nil, err
		}
	}
	return cp, nil
}
