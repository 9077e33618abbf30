package main

import (
	"os"

	"vramd/internal/ctl"
)

func main() { os.Exit(ctl.Main()) }
