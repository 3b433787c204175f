// Command server runs the REST API (component G) as a standalone HTTP
// process, for local development outside `encore run`.
package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/vatpac-currency/watchtower/api"
	"github.com/vatpac-currency/watchtower/config"
	"github.com/vatpac-currency/watchtower/fetch"
	"github.com/vatpac-currency/watchtower/obs"
	"github.com/vatpac-currency/watchtower/store"
)

func main() {
	cfg := config.Load()
	logger := obs.NewLogger(cfg.LogLevel)
	metrics := obs.NewMetrics()

	backend := store.NewGitHubContentStore(cfg.GitHubRepo, cfg.GitHubBranch, cfg.GitHubToken, "https://api.github.com", http.DefaultClient)
	retrying := fetch.NewRetryingContentStore(backend, metrics)

	svc := api.NewService(retrying, cfg.GitHubDir+"/store.json", cfg.VATSIMDataURL, cfg.MembersBaseURL, cfg.AllowedOrigin, metrics, logger)

	addr := ":" + cfg.Port
	logger.Sugar().Infof("watchtower: listening on %s", addr)
	if err := http.ListenAndServe(addr, svc); err != nil {
		fmt.Fprintf(os.Stderr, "watchtower: server exited: %v\n", err)
		os.Exit(1)
	}
}
