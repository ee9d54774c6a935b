// Package capability declares the fixed, auditable catalog of operations the
// agent is permitted to perform. Every side-effecting action passes through
// an Operation registered here; the sandbox validates synthesized scripts
// against this catalog before anything runs.
package capability

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"deskmate/pkg/task"
)

// Operation is one whitelisted capability. Parameters returns a JSON-schema
// object whose "properties" keys form the operation's argument contract;
// anything outside it is dropped at synthesis time.
type Operation interface {
	Name() string
	Description() string
	Parameters() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) *task.Result
}

// Destructive is implemented by operations that require confirmation before
// execution (deletion, bulk writes, closing applications).
type Destructive interface {
	Destructive() bool
}

type Registry struct {
	mu  sync.RWMutex
	ops map[string]Operation
}

func NewRegistry() *Registry {
	return &Registry{ops: make(map[string]Operation)}
}

func (r *Registry) Register(op Operation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := op.Name()
	if name == "" {
		return fmt.Errorf("operation has empty name")
	}
	if _, exists := r.ops[name]; exists {
		return fmt.Errorf("operation %q already registered", name)
	}
	r.ops[name] = op
	return nil
}

func (r *Registry) Get(name string) (Operation, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	op, ok := r.ops[name]
	return op, ok
}

func (r *Registry) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// Names returns all registered operation names in stable order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.ops))
	for name := range r.ops {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DeclaredParams returns the argument names declared by an operation's
// parameter schema. Unknown operations return nil.
func (r *Registry) DeclaredParams(name string) map[string]bool {
	op, ok := r.Get(name)
	if !ok {
		return nil
	}
	schema := op.Parameters()
	props, ok := schema["properties"].(map[string]interface{})
	if !ok {
		return map[string]bool{}
	}
	declared := make(map[string]bool, len(props))
	for key := range props {
		declared[key] = true
	}
	return declared
}

// RequiredParams returns the operation's required argument names.
func (r *Registry) RequiredParams(name string) []string {
	op, ok := r.Get(name)
	if !ok {
		return nil
	}
	schema := op.Parameters()
	switch req := schema["required"].(type) {
	case []string:
		out := make([]string, len(req))
		copy(out, req)
		return out
	case []interface{}:
		out := make([]string, 0, len(req))
		for _, item := range req {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// FilterArgs drops every argument not declared by the operation's contract.
// The input map is not modified.
func (r *Registry) FilterArgs(name string, args map[string]interface{}) map[string]interface{} {
	declared := r.DeclaredParams(name)
	filtered := make(map[string]interface{}, len(args))
	for key, value := range args {
		if declared[key] {
			filtered[key] = value
		}
	}
	return filtered
}

// IsDestructive reports whether the named operation requires confirmation.
func (r *Registry) IsDestructive(name string) bool {
	op, ok := r.Get(name)
	if !ok {
		return false
	}
	d, ok := op.(Destructive)
	return ok && d.Destructive()
}
