package codex_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"ember/internal/provider"
	"ember/internal/provider/codex"
)

func TestBuildCommandDefaultsBinary(t *testing.T) {
	a := codex.New("", "")
	cmd, err := a.BuildCommand(provider.Request{Prompt: "fix the bug"})
	require.NoError(t, err)
	require.Equal(t, "codex", cmd.Path)
	require.Contains(t, cmd.Args, "exec")
	require.Equal(t, "fix the bug", cmd.Args[len(cmd.Args)-1])
}

func TestHandleOutputLineTaskComplete(t *testing.T) {
	a := codex.New("codex", "")
	ev, ok := a.HandleOutputLine(`{"type":"task_complete","content":"patched"}`)
	require.True(t, ok)
	require.Equal(t, provider.KindResult, ev.Kind)
	require.Equal(t, "patched", ev.ResultMessage)
	require.True(t, a.IsTerminalStream(`{"type":"task_complete","content":"patched"}`))
}

func TestHandleOutputLineAgentMessageDelta(t *testing.T) {
	a := codex.New("codex", "")
	ev, ok := a.HandleOutputLine(`{"type":"agent_message_delta","delta":"wor"}`)
	require.True(t, ok)
	require.Equal(t, provider.KindToken, ev.Kind)
	require.Equal(t, "wor", ev.Message)
}

func TestHandleOutputLineEmptyDeltaIsSkipped(t *testing.T) {
	a := codex.New("codex", "")
	_, ok := a.HandleOutputLine(`{"type":"agent_message_delta","delta":""}`)
	require.False(t, ok)
}

func TestGetTerminalResultTextPrefersTaskComplete(t *testing.T) {
	a := codex.New("codex", "")
	lines := []string{
		`{"type":"agent_message","content":"working"}`,
		`{"type":"task_complete","content":"final"}`,
	}
	require.Equal(t, "final", a.GetTerminalResultText(lines))
}
