package ctl

import (
	"context"
	"fmt"
	"os"
)

// MainWithArgs runs vramctl and returns the process exit code: 0 on success,
// 1 on command failure and 2 when no command was given.
func MainWithArgs(args []string) int {
	cfg := defaultConfig()
	root := buildRootCmdWith(cfg)
	if len(args) == 0 {
		_ = root.Help()
		return 2
	}
	root.SetArgs(args)
	root.SetOut(cfg.Out)
	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		return 1
	}
	return 0
}

// Main returns an exit code for use by cmd/vramctl.
func Main() int { return MainWithArgs(os.Args[1:]) }
