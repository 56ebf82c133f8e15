// Package console 把交互式文本命令翻译为 Manager 调用。
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"nodeio_tester/internal/manager"
	"nodeio_tester/internal/shared/globalstate"
	"nodeio_tester/internal/shared/types"
)

// NodeManager 是 Console 需要的 Manager 方法集合。
type NodeManager interface {
	Add(id types.NodeID) error
	Remove(id types.NodeID) error
	Pause(id types.NodeID) error
	Resume(id types.NodeID) error
	List() []types.NodeStatus
	Shutdown()
}

var _ NodeManager = (*manager.Manager)(nil)

const usage = "Commands: add <id>, remove <id>, pause <id>, resume <id>, list, quitnm, exit, done\n<id>: Node ID to be managed"

// Console 读取命令行输入并分发给 NodeManager。
type Console struct {
	mgr  NodeManager
	in   io.Reader
	out  io.Writer
	logs *globalstate.LogSwitch
}

func New(mgr NodeManager, in io.Reader, out io.Writer, logs *globalstate.LogSwitch) *Console {
	return &Console{mgr: mgr, in: in, out: out, logs: logs}
}

// Run 处理输入直到 exit/quit、输入结束或 ctx 结束。返回前总会关闭所有节点。
func (c *Console) Run(ctx context.Context) error {
	stop := make(chan struct{})
	defer close(stop)
	lines := c.readLines(stop)
	c.println("Type 'cmd' and press Enter to enter command mode at any time.")

	for {
		line, ok, err := c.next(ctx, lines)
		if !ok {
			c.mgr.Shutdown()
			return err
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "exit":
			c.println("Exiting the tester.")
			c.mgr.Shutdown()
			return nil
		case "quit":
			c.mgr.Shutdown()
			return nil
		case "cmd":
			c.logs.Disable()
			c.println("\n--- Command mode: log printing paused. Type commands, or 'done' to resume logs. ---")
			exit, err := c.commandMode(ctx, lines)
			if exit {
				return err
			}
			c.println("--- Log printing resumed. Type 'cmd' to enter command mode again, or 'exit' to fully quit. ---\n")
		}
	}
}

// commandMode 返回 true 表示整个 Console 应当退出。
func (c *Console) commandMode(ctx context.Context, lines <-chan string) (bool, error) {
	c.println(usage)
	for {
		line, ok, err := c.next(ctx, lines)
		if !ok {
			c.mgr.Shutdown()
			return true, err
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		action := strings.ToLower(fields[0])

		switch {
		case action == "list":
			c.list()
		case action == "done" && len(fields) == 1:
			c.println("Exiting command mode. Resuming log printing.")
			c.logs.Enable()
			return false, nil
		case action == "quitnm" && len(fields) == 1:
			c.mgr.Shutdown()
			c.logs.Enable()
			return false, nil
		case action == "exit" && len(fields) == 1:
			c.println("Exiting the tester.")
			c.mgr.Shutdown()
			return true, nil
		case isNodeCommand(action) && len(fields) == 2:
			id, err := strconv.Atoi(fields[1])
			if err != nil {
				c.printf("Invalid node id %q.\n", fields[1])
				continue
			}
			c.nodeCommand(action, id)
		default:
			c.println("Unknown command.")
		}
	}
}

func isNodeCommand(action string) bool {
	switch action {
	case "add", "remove", "pause", "resume":
		return true
	}
	return false
}

func (c *Console) nodeCommand(action string, id types.NodeID) {
	var (
		err  error
		done string
	)
	switch action {
	case "add":
		err, done = c.mgr.Add(id), "added and started"
	case "remove":
		err, done = c.mgr.Remove(id), "removed"
	case "pause":
		err, done = c.mgr.Pause(id), "paused"
	case "resume":
		err, done = c.mgr.Resume(id), "resumed"
	}

	switch {
	case err == nil:
		c.printf("Node %d %s.\n", id, done)
	case errors.Is(err, manager.ErrNodeExists):
		c.printf("Node %d already exists.\n", id)
	case errors.Is(err, manager.ErrNodeNotFound):
		c.printf("Node %d does not exist.\n", id)
	default:
		c.printf("Node %d: %v\n", id, err)
	}
}

func (c *Console) list() {
	c.println("Active nodes:")
	for _, st := range c.mgr.List() {
		if st.Running {
			c.printf("  Node %d: %s\n", st.ID, st.State)
		} else {
			c.printf("  Node %d: %s (session ended)\n", st.ID, st.State)
		}
	}
}

// readLines 在独立 goroutine 中读取输入，输入结束时关闭 channel。
func (c *Console) readLines(stop <-chan struct{}) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-stop:
				return
			}
		}
	}()
	return lines
}

func (c *Console) next(ctx context.Context, lines <-chan string) (string, bool, error) {
	select {
	case line, ok := <-lines:
		return line, ok, nil
	case <-ctx.Done():
		return "", false, ctx.Err()
	}
}

func (c *Console) println(s string) {
	fmt.Fprintln(c.out, s)
}

func (c *Console) printf(format string, args ...interface{}) {
	fmt.Fprintf(c.out, format, args...)
}
