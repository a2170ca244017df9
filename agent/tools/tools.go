// Package tools defines the tool metadata and invocation contract the Agent
// Loop dispatches against: specs, JSON Schema validation, middleware, and
// structured tool errors. Grounded on the teacher's tools.ToolSpec/JSONCodec
// pair and its toolerrors.ToolError chain.
package tools

import (
	"bytes"
	"context"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// RetryHint tells the Agent Loop how to treat a failed tool call.
type RetryHint string

const (
	// RetryNone means the call failed terminally; do not retry.
	RetryNone RetryHint = "none"
	// RetryImmediate means the call may be retried without delay.
	RetryImmediate RetryHint = "immediate"
	// RetryBackoff means the call may be retried after a backoff delay.
	RetryBackoff RetryHint = "backoff"
)

// Handler executes a single tool call. Implementations receive already
// JSON-Schema-validated input and return either a result payload or an
// error; errors should be wrapped with NewError to carry a RetryHint.
type Handler func(ctx context.Context, input []byte) ([]byte, error)

// Spec describes one tool's identity, schema, and executable handler.
type Spec struct {
	// Name is the fully qualified tool identifier exposed to the model.
	Name string
	// Description is surfaced to the model as tool-selection guidance.
	Description string
	// InputSchema is the tool's JSON Schema for its input payload, compiled
	// lazily on first Validate call.
	InputSchema []byte
	// Handler executes the tool once input validates.
	Handler Handler

	compiled *jsonschema.Schema
}

// compile lazily compiles InputSchema; a tool with no schema always passes.
func (s *Spec) compile() (*jsonschema.Schema, error) {
	if s.compiled != nil {
		return s.compiled, nil
	}
	if len(s.InputSchema) == 0 {
		return nil, nil
	}
	c := jsonschema.NewCompiler()
	resourceName := s.Name + ".schema.json"
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(s.InputSchema))
	if err != nil {
		return nil, fmt.Errorf("tools: parse schema for %s: %w", s.Name, err)
	}
	if err := c.AddResource(resourceName, doc); err != nil {
		return nil, fmt.Errorf("tools: add schema resource for %s: %w", s.Name, err)
	}
	sch, err := c.Compile(resourceName)
	if err != nil {
		return nil, fmt.Errorf("tools: compile schema for %s: %w", s.Name, err)
	}
	s.compiled = sch
	return sch, nil
}

// Validate checks the raw JSON input against the tool's InputSchema. A
// validation failure is a tool-dispatch-boundary error (becomes a tool.error
// event), never a gate on the run itself.
func (s *Spec) Validate(input []byte) error {
	sch, err := s.compile()
	if err != nil {
		return err
	}
	if sch == nil {
		return nil
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(input))
	if err != nil {
		return NewError(fmt.Sprintf("invalid JSON input for tool %s", s.Name), RetryNone)
	}
	if err := sch.Validate(inst); err != nil {
		return NewError(fmt.Sprintf("tool %s: input validation: %v", s.Name, err), RetryNone)
	}
	return nil
}

// Registry is a name-keyed collection of tool specs available to a run.
// Registration enforces unique names, matching the teacher's
// duplicate-tool-name-is-an-error convention for toolset registration.
type Registry struct {
	specs map[string]*Spec
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{specs: make(map[string]*Spec)}
}

// Register adds a tool spec, returning an error if the name is already
// registered.
func (r *Registry) Register(spec *Spec) error {
	if _, exists := r.specs[spec.Name]; exists {
		return fmt.Errorf("tools: duplicate tool name %q", spec.Name)
	}
	r.specs[spec.Name] = spec
	return nil
}

// Lookup returns the spec for name, or false if unregistered.
func (r *Registry) Lookup(name string) (*Spec, bool) {
	spec, ok := r.specs[name]
	return spec, ok
}

// Names returns every registered tool name.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.specs))
	for name := range r.specs {
		names = append(names, name)
	}
	return names
}
