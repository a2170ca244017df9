package loop

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentkit/runtime/agent/model"
)

type recordingMiddleware struct {
	NopMiddleware
	name      string
	jump      JumpTarget
	toolDefs  []*model.ToolDefinition
	beforeLog *[]string
	afterLog  *[]string
}

func (m recordingMiddleware) Name() string { return m.name }

func (m recordingMiddleware) BeforeModel(_ context.Context, _ *State) (JumpTarget, error) {
	*m.beforeLog = append(*m.beforeLog, m.name)
	return m.jump, nil
}

func (m recordingMiddleware) AfterModel(_ context.Context, _ *State, _ *model.Response) error {
	*m.afterLog = append(*m.afterLog, m.name)
	return nil
}

func (m recordingMiddleware) ToolDefs() []*model.ToolDefinition { return m.toolDefs }

func TestBeforeModelRunsInDeclaredOrderAndStopsAtFirstJump(t *testing.T) {
	var before []string
	mws := []Middleware{
		recordingMiddleware{name: "a", beforeLog: &before},
		recordingMiddleware{name: "b", jump: JumpEnd, beforeLog: &before},
		recordingMiddleware{name: "c", beforeLog: &before},
	}
	jump, err := runBeforeModel(context.Background(), mws, &State{})
	require.NoError(t, err)
	require.Equal(t, JumpEnd, jump)
	require.Equal(t, []string{"a", "b"}, before, "middleware c must not run after b short-circuits")
}

func TestAfterModelRunsInReverseDeclaredOrder(t *testing.T) {
	var after []string
	mws := []Middleware{
		recordingMiddleware{name: "a", afterLog: &after},
		recordingMiddleware{name: "b", afterLog: &after},
		recordingMiddleware{name: "c", afterLog: &after},
	}
	err := runAfterModel(context.Background(), mws, &State{}, &model.Response{})
	require.NoError(t, err)
	require.Equal(t, []string{"c", "b", "a"}, after)
}

func TestCollectToolDefsMergesAcrossMiddleware(t *testing.T) {
	mws := []Middleware{
		recordingMiddleware{name: "a", toolDefs: []*model.ToolDefinition{{Name: "search"}}},
		recordingMiddleware{name: "b", toolDefs: []*model.ToolDefinition{{Name: "fetch"}}},
	}
	defs, err := collectToolDefs(mws)
	require.NoError(t, err)
	require.Len(t, defs, 2)
}

func TestCollectToolDefsRejectsDuplicateToolNameAcrossMiddleware(t *testing.T) {
	mws := []Middleware{
		recordingMiddleware{name: "a", toolDefs: []*model.ToolDefinition{{Name: "search"}}},
		recordingMiddleware{name: "b", toolDefs: []*model.ToolDefinition{{Name: "search"}}},
	}
	_, err := collectToolDefs(mws)
	require.Error(t, err)
}
