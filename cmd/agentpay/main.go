package main

import (
	"os"

	"github.com/codecollab/agentpay/internal/app"
)

func main() {
	runner := app.NewRunner()
	os.Exit(runner.Run(os.Args[1:]))
}
