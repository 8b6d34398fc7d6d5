package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/aviv90/tasker-server-sub013/pkg/models"
)

// Tool argument limits to prevent resource exhaustion
const (
	// MaxToolNameLength is the maximum length of a tool name.
	MaxToolNameLength = 256

	// MaxToolArgsSize is the maximum size of tool arguments JSON (1MB).
	MaxToolArgsSize = 1 << 20
)

// Registry manages available tools with thread-safe registration and
// lookup. Tools are registered by name before the engine starts and the
// registry is shared read-only across all concurrent requests.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	schemas map[string]*jsonschema.Schema
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:   make(map[string]Tool),
		schemas: make(map[string]*jsonschema.Schema),
	}
}

// Register adds a tool to the registry by its name, compiling its argument
// schema for validation at dispatch time. A tool with the same name is
// replaced. An invalid schema is rejected.
func (r *Registry) Register(tool Tool) error {
	name := tool.Name()
	if name == "" || len(name) > MaxToolNameLength {
		return fmt.Errorf("invalid tool name %q", name)
	}

	var compiled *jsonschema.Schema
	if raw := tool.Schema(); len(raw) > 0 {
		var err error
		compiled, err = jsonschema.CompileString(name+".json", string(raw))
		if err != nil {
			return fmt.Errorf("compile schema for %s: %w", name, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[name] = tool
	if compiled != nil {
		r.schemas[name] = compiled
	} else {
		delete(r.schemas, name)
	}
	return nil
}

// Get returns a tool by name and whether it was found.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Declarations returns every registered tool's declaration for passing to
// the decision backend.
func (r *Registry) Declarations() []ToolDeclaration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	decls := make([]ToolDeclaration, 0, len(r.tools))
	for _, t := range r.tools {
		decls = append(decls, ToolDeclaration{
			Name:        t.Name(),
			Description: t.Description(),
			Schema:      t.Schema(),
		})
	}
	return decls
}

// Invoke runs a tool by name with the given JSON arguments, validating
// them against the tool's declared schema first. A missing tool or invalid
// arguments produce an error result, not an error return, so the decision
// backend can react to the failure.
func (r *Registry) Invoke(ctx context.Context, name string, args json.RawMessage, state *models.ContextState) (*models.ToolResult, error) {
	if len(name) > MaxToolNameLength {
		return &models.ToolResult{
			Content: fmt.Sprintf("tool name exceeds maximum length of %d characters", MaxToolNameLength),
			IsError: true,
		}, nil
	}
	if len(args) > MaxToolArgsSize {
		return &models.ToolResult{
			Content: fmt.Sprintf("tool arguments exceed maximum size of %d bytes", MaxToolArgsSize),
			IsError: true,
		}, nil
	}

	r.mu.RLock()
	tool, ok := r.tools[name]
	schema := r.schemas[name]
	r.mu.RUnlock()
	if !ok {
		return &models.ToolResult{
			Content: "tool not found: " + name,
			IsError: true,
		}, nil
	}

	if schema != nil && len(args) > 0 {
		var decoded any
		if err := json.Unmarshal(args, &decoded); err != nil {
			return &models.ToolResult{
				Content: "invalid tool arguments: " + err.Error(),
				IsError: true,
			}, nil
		}
		if err := schema.Validate(decoded); err != nil {
			return &models.ToolResult{
				Content: fmt.Sprintf("arguments for %s failed validation: %v", name, err),
				IsError: true,
			}, nil
		}
	}

	return tool.Execute(ctx, args, state)
}
