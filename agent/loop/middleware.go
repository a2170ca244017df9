package loop

import (
	"context"
	"fmt"

	"github.com/agentkit/runtime/agent/model"
)

// JumpTarget short-circuits the remainder of a tick from beforeModel.
type JumpTarget string

const (
	JumpNone  JumpTarget = ""
	JumpTools JumpTarget = "tools"
	JumpEnd   JumpTarget = "end"
)

// State is the mutable per-tick context threaded through the middleware
// chain: the composed system prompt and message history, plus a scratch
// bag every middleware may read and write.
type State struct {
	ThreadID     string
	SystemPrompt string
	Messages     []*model.Message
	Meta         map[string]any
}

// Middleware participates in every tick's beforeModel/modifyModelRequest/
// afterModel chain and may contribute tool definitions. Implementations that
// don't need every hook can embed NopMiddleware.
type Middleware interface {
	// Name identifies the middleware for tool-name-conflict error messages.
	Name() string
	// ToolDefs returns the tool definitions this middleware contributes to
	// the model request, or nil.
	ToolDefs() []*model.ToolDefinition
	// BeforeModel runs in declared order before request composition. A
	// non-empty JumpTarget short-circuits the remaining beforeModel chain
	// and the rest of the tick.
	BeforeModel(ctx context.Context, st *State) (JumpTarget, error)
	// ModifyModelRequest runs in declared order after request composition.
	ModifyModelRequest(ctx context.Context, st *State, req *model.Request) error
	// AfterModel runs in reverse declared order after the model responds. A
	// middleware enacting HITL populates st.Meta["pendingToolCalls"].
	AfterModel(ctx context.Context, st *State, resp *model.Response) error
}

// NopMiddleware implements every Middleware hook as a no-op; embed it to
// implement only the hooks a concrete middleware actually needs.
type NopMiddleware struct{}

func (NopMiddleware) ToolDefs() []*model.ToolDefinition { return nil }
func (NopMiddleware) BeforeModel(context.Context, *State) (JumpTarget, error) {
	return JumpNone, nil
}
func (NopMiddleware) ModifyModelRequest(context.Context, *State, *model.Request) error { return nil }
func (NopMiddleware) AfterModel(context.Context, *State, *model.Response) error        { return nil }

// runBeforeModel runs every middleware's BeforeModel in declared order,
// stopping at the first non-empty JumpTarget.
func runBeforeModel(ctx context.Context, mws []Middleware, st *State) (JumpTarget, error) {
	for _, mw := range mws {
		jump, err := mw.BeforeModel(ctx, st)
		if err != nil {
			return JumpNone, fmt.Errorf("loop: middleware %s beforeModel: %w", mw.Name(), err)
		}
		if jump != JumpNone {
			return jump, nil
		}
	}
	return JumpNone, nil
}

// runModifyModelRequest runs every middleware's ModifyModelRequest in
// declared order.
func runModifyModelRequest(ctx context.Context, mws []Middleware, st *State, req *model.Request) error {
	for _, mw := range mws {
		if err := mw.ModifyModelRequest(ctx, st, req); err != nil {
			return fmt.Errorf("loop: middleware %s modifyModelRequest: %w", mw.Name(), err)
		}
	}
	return nil
}

// runAfterModel runs every middleware's AfterModel in reverse declared
// order.
func runAfterModel(ctx context.Context, mws []Middleware, st *State, resp *model.Response) error {
	for i := len(mws) - 1; i >= 0; i-- {
		mw := mws[i]
		if err := mw.AfterModel(ctx, st, resp); err != nil {
			return fmt.Errorf("loop: middleware %s afterModel: %w", mw.Name(), err)
		}
	}
	return nil
}

// collectToolDefs gathers tool definitions from every middleware, in
// declared order. A tool name declared by more than one middleware is a
// conflict error — first-declared wins is not silent override, it is a
// registration error, mirroring the teacher's duplicate-tool-name
// rejection in addToolSpecsLocked.
func collectToolDefs(mws []Middleware) ([]*model.ToolDefinition, error) {
	seen := make(map[string]string, len(mws))
	var defs []*model.ToolDefinition
	for _, mw := range mws {
		for _, d := range mw.ToolDefs() {
			if owner, exists := seen[d.Name]; exists {
				return nil, fmt.Errorf("loop: tool %q declared by both %s and %s", d.Name, owner, mw.Name())
			}
			seen[d.Name] = mw.Name()
			defs = append(defs, d)
		}
	}
	return defs, nil
}
