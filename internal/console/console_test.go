package console

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nodeio_tester/internal/manager"
	"nodeio_tester/internal/shared/globalstate"
	"nodeio_tester/internal/shared/types"
)

// mockManager records calls and keeps a tiny registry.
type mockManager struct {
	mu        sync.Mutex
	calls     []string
	nodes     map[int]types.ActivityState
	shutdowns int
}

func newMockManager() *mockManager {
	return &mockManager{nodes: make(map[int]types.ActivityState)}
}

func (m *mockManager) record(format string, args ...interface{}) {
	m.calls = append(m.calls, fmt.Sprintf(format, args...))
}

func (m *mockManager) Add(id int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("add %d", id)
	if _, ok := m.nodes[id]; ok {
		return fmt.Errorf("node %d: %w", id, manager.ErrNodeExists)
	}
	m.nodes[id] = types.StateActive
	return nil
}

func (m *mockManager) Remove(id int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("remove %d", id)
	if _, ok := m.nodes[id]; !ok {
		return fmt.Errorf("node %d: %w", id, manager.ErrNodeNotFound)
	}
	delete(m.nodes, id)
	return nil
}

func (m *mockManager) setState(verb string, id int, st types.ActivityState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("%s %d", verb, id)
	if _, ok := m.nodes[id]; !ok {
		return fmt.Errorf("node %d: %w", id, manager.ErrNodeNotFound)
	}
	m.nodes[id] = st
	return nil
}

func (m *mockManager) Pause(id int) error  { return m.setState("pause", id, types.StatePaused) }
func (m *mockManager) Resume(id int) error { return m.setState("resume", id, types.StateActive) }

func (m *mockManager) List() []types.NodeStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("list")
	var out []types.NodeStatus
	for id := 0; id < 100; id++ {
		if st, ok := m.nodes[id]; ok {
			out = append(out, types.NodeStatus{ID: id, State: st, Running: id != 99})
		}
	}
	return out
}

func (m *mockManager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("shutdown")
	m.shutdowns++
	m.nodes = make(map[int]types.ActivityState)
}

func runConsole(t *testing.T, input string) (*mockManager, string, *globalstate.LogSwitch) {
	t.Helper()
	mgr := newMockManager()
	logs := globalstate.NewLogSwitch(true)
	var out bytes.Buffer
	err := New(mgr, strings.NewReader(input), &out, logs).Run(context.Background())
	require.NoError(t, err)
	return mgr, out.String(), logs
}

func TestConsole_CommandMode(t *testing.T) {
	mgr, out, logs := runConsole(t, strings.Join([]string{
		"cmd",
		"add 1",
		"add 2",
		"add 1",
		"pause 2",
		"list",
		"resume 2",
		"remove 1",
		"remove 1",
		"done",
		"exit",
	}, "\n"))

	assert.Equal(t, []string{
		"add 1", "add 2", "add 1", "pause 2", "list", "resume 2", "remove 1", "remove 1", "shutdown",
	}, mgr.calls)
	assert.Contains(t, out, "Node 1 added and started.")
	assert.Contains(t, out, "Node 1 already exists.")
	assert.Contains(t, out, "Node 2 paused.")
	assert.Contains(t, out, "  Node 1: active")
	assert.Contains(t, out, "  Node 2: paused")
	assert.Contains(t, out, "Node 1 removed.")
	assert.Contains(t, out, "Node 1 does not exist.")
	assert.Contains(t, out, "Exiting command mode. Resuming log printing.")
	assert.Contains(t, out, "Exiting the tester.")
	assert.True(t, logs.Enabled())
}

func TestConsole_CommandModeDisablesLogs(t *testing.T) {
	mgr := newMockManager()
	logs := globalstate.NewLogSwitch(true)
	pr, pw := io.Pipe()
	done := make(chan error, 1)
	go func() { done <- New(mgr, pr, io.Discard, logs).Run(context.Background()) }()

	_, err := io.WriteString(pw, "cmd\n")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return !logs.Enabled() }, time.Second, 2*time.Millisecond)

	_, err = io.WriteString(pw, "done\n")
	require.NoError(t, err)
	require.Eventually(t, logs.Enabled, time.Second, 2*time.Millisecond)

	require.NoError(t, pw.Close())
	require.NoError(t, <-done)
	assert.Equal(t, 1, mgr.shutdowns)
}

func TestConsole_MalformedCommands(t *testing.T) {
	mgr, out, _ := runConsole(t, "cmd\nadd\nadd x\nfrobnicate 3\nremove 1 2\n\ndone\nquit\n")

	assert.Equal(t, []string{"shutdown"}, mgr.calls)
	assert.Equal(t, 3, strings.Count(out, "Unknown command."))
	assert.Contains(t, out, `Invalid node id "x".`)
}

func TestConsole_ListIgnoresTrailingArguments(t *testing.T) {
	mgr, out, _ := runConsole(t, "cmd\nadd 1\nlist all nodes\nexit\n")

	assert.Equal(t, []string{"add 1", "list", "shutdown"}, mgr.calls)
	assert.Contains(t, out, "Node 1: active")
	assert.NotContains(t, out, "Unknown command.")
}

func TestConsole_QuitNMReturnsToTopLevel(t *testing.T) {
	mgr, out, logs := runConsole(t, "cmd\nadd 4\nquitnm\nexit\n")

	assert.Equal(t, []string{"add 4", "shutdown", "shutdown"}, mgr.calls)
	assert.Contains(t, out, "Log printing resumed")
	assert.True(t, logs.Enabled())
}

func TestConsole_ExitFromCommandMode(t *testing.T) {
	mgr, _, _ := runConsole(t, "cmd\nadd 1\nexit\nadd 2\n")
	assert.Equal(t, []string{"add 1", "shutdown"}, mgr.calls)
}

func TestConsole_TopLevelIgnoresOtherInput(t *testing.T) {
	mgr, _, _ := runConsole(t, "add 1\nlist\nQUIT\n")
	assert.Equal(t, []string{"shutdown"}, mgr.calls)
}

func TestConsole_EOFShutsDown(t *testing.T) {
	mgr, _, _ := runConsole(t, "cmd\nadd 1\n")
	assert.Equal(t, []string{"add 1", "shutdown"}, mgr.calls)
}

func TestConsole_ListMarksEndedSessions(t *testing.T) {
	_, out, _ := runConsole(t, "cmd\nadd 99\nlist\nexit\n")
	assert.Contains(t, out, "  Node 99: active (session ended)")
}

func TestConsole_ContextCancel(t *testing.T) {
	mgr := newMockManager()
	pr, pw := io.Pipe()
	defer pw.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- New(mgr, pr, io.Discard, globalstate.NewLogSwitch(true)).Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("console did not stop on cancel")
	}
	assert.Equal(t, 1, mgr.shutdowns)
}
