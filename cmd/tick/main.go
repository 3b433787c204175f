// Command tick runs one scheduler invocation (cleanup, audit engine,
// presence tracking, quarterly trigger) and exits, for local development
// and manual operator runs outside Encore's cron.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/vatpac-currency/watchtower/scheduler"
)

func main() {
	if err := scheduler.Tick(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "watchtower: tick failed: %v\n", err)
		os.Exit(1)
	}
}
