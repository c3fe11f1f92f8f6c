package claudecode_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"ember/internal/provider"
	"ember/internal/provider/claudecode"
)

func TestBuildCommandIncludesModel(t *testing.T) {
	a := claudecode.New("", "claude-3-5-sonnet")
	cmd, err := a.BuildCommand(provider.Request{Prompt: "do the thing"})
	require.NoError(t, err)
	require.Equal(t, "claude", cmd.Path)
	require.Contains(t, cmd.Args, "--model")
	require.Contains(t, cmd.Args, "claude-3-5-sonnet")
	require.Equal(t, "do the thing", cmd.Args[len(cmd.Args)-1])
}

func TestHandleOutputLineResult(t *testing.T) {
	a := claudecode.New("claude", "")
	ev, ok := a.HandleOutputLine(`{"type":"result","result":"all done"}`)
	require.True(t, ok)
	require.Equal(t, provider.KindResult, ev.Kind)
	require.Equal(t, "all done", ev.ResultMessage)
	require.True(t, a.IsTerminalStream(`{"type":"result","result":"all done"}`))
}

func TestHandleOutputLineToolCall(t *testing.T) {
	a := claudecode.New("claude", "")
	ev, ok := a.HandleOutputLine(`{"type":"assistant","tool_name":"read_file","tool_args":{"path":"x.go"}}`)
	require.True(t, ok)
	require.Equal(t, provider.KindToolCall, ev.Kind)
	require.Equal(t, "read_file", ev.Message)
}

func TestHandleOutputLineIgnoresUnparseable(t *testing.T) {
	a := claudecode.New("claude", "")
	_, ok := a.HandleOutputLine("not json")
	require.False(t, ok)
}

func TestGetTerminalResultTextScansBackward(t *testing.T) {
	a := claudecode.New("claude", "")
	lines := []string{
		`{"type":"assistant","message":{"content":"thinking"}}`,
		`{"type":"result","result":"final answer"}`,
	}
	require.Equal(t, "final answer", a.GetTerminalResultText(lines))
}
