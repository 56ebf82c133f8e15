package main

import (
	"fmt"
	"strconv"
	"time"

	"nodeio_tester/internal/shared/types"
)

// applyArgs 用位置参数 <uri> [interval_sec] [num_nodes] 覆盖配置。
func applyArgs(cfg *types.Config, args []string) error {
	if len(args) > 3 {
		return fmt.Errorf("too many arguments")
	}
	if len(args) > 0 {
		cfg.URI = args[0]
	}
	if len(args) > 1 {
		sec, err := strconv.ParseFloat(args[1], 64)
		if err != nil || sec <= 0 {
			return fmt.Errorf("invalid interval %q", args[1])
		}
		cfg.Interval = time.Duration(sec * float64(time.Second))
	}
	if len(args) > 2 {
		n, err := strconv.Atoi(args[2])
		if err != nil || n < 0 {
			return fmt.Errorf("invalid node count %q", args[2])
		}
		cfg.Nodes = n
	}
	if cfg.URI == "" {
		return fmt.Errorf("missing server uri")
	}
	return nil
}
