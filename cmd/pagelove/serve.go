package main

import (
	"github.com/spf13/cobra"

	"github.com/alistaircroll/pagelove/bootstrap"
	"github.com/alistaircroll/pagelove/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the document server",
	Long: `Start the pagelove document server.

The server will:
  - Load configuration from pagelove.yaml (or --config)
  - Or load configuration from PAGELOVE_* environment variables
  - Open the configured document store (memory, fs or sqlite)
  - Serve every stored document under its path, addressed by CSS
    selectors through Range headers

Environment variables (for Docker deployments):
  PAGELOVE_STORE_DRIVER  - Store driver: memory, fs or sqlite (required)
  PAGELOVE_STORE_ROOT    - Docroot directory for the fs driver
  PAGELOVE_STORE_PATH    - Database file for the sqlite driver
  PAGELOVE_SERVER_PORT   - Server port (default: 8080)
  PAGELOVE_RULE_DOC      - Rule document path (default: /auth.html)
  PAGELOVE_ADMINS        - Comma-separated admin actor names
  PAGELOVE_LOG_LEVEL     - Log level: debug, info, warn, error

Examples:
  pagelove serve
  pagelove serve --config /etc/pagelove/config.yaml

  # Docker (env vars only):
  PAGELOVE_STORE_DRIVER=fs PAGELOVE_STORE_ROOT=/srv/docs pagelove serve`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadWithFallback(cfgFile)
	if err != nil {
		return err
	}

	app, err := bootstrap.New(cfg)
	if err != nil {
		return err
	}

	return app.Run()
}
