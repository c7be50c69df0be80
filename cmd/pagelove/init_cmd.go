package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/alistaircroll/pagelove/adapters/hasher"
)

var (
	initDocroot  string
	initAdmin    string
	initPassword string
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter config and docroot",
	Long: `Create a pagelove.yaml and a docroot with a rule document.

The generated rule document grants the admin actor full access and lets
anyone read the index page. Edit docroot/auth.html to open things up;
rule edits are picked up within seconds, no restart needed.`,
	RunE: runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)

	initCmd.Flags().StringVar(&initDocroot, "docroot", "docroot", "directory to create for documents")
	initCmd.Flags().StringVar(&initAdmin, "admin", "admin", "admin actor name")
	initCmd.Flags().StringVar(&initPassword, "password", "", "admin password (required)")
}

const starterConfig = `server:
  host: 0.0.0.0
  port: 8080

store:
  driver: fs
  root: %s
  watch: true

policy:
  rule_doc: /auth.html
  admins: [%s]

actors:
  - name: %s
    password_hash: "%s"
    admin: true

logging:
  level: info
  format: console

metrics:
  enabled: true
`

const starterRuleDoc = `<!DOCTYPE html>
<html>
<head><title>Authorization rules</title></head>
<body>
  <h1>Authorization rules</h1>

  <div class="rule">
    <span class="actor">%s</span>
    <span class="resource">/**</span>
    <span class="method">GET</span>
    <span class="method">PUT</span>
    <span class="method">POST</span>
    <span class="method">DELETE</span>
    <span class="method">OPTIONS</span>
    <span class="action">allow</span>
  </div>

  <div class="rule">
    <span class="actor">*</span>
    <span class="resource">/index.html</span>
    <span class="method">GET</span>
    <span class="method">OPTIONS</span>
    <span class="action">allow</span>
  </div>
</body>
</html>
`

const starterIndexDoc = `<!DOCTYPE html>
<html>
<head><title>pagelove</title></head>
<body>
  <h1 id="welcome">It works</h1>
  <p>This page is a document in the store. GET it whole, or scope a
  request with <code>Range: selector=#welcome</code>.</p>
</body>
</html>
`

func runInit(cmd *cobra.Command, args []string) error {
	if initPassword == "" {
		return fmt.Errorf("--password is required")
	}
	if _, err := os.Stat(cfgFile); err == nil {
		return fmt.Errorf("%s already exists, refusing to overwrite", cfgFile)
	}

	hash, err := hasher.NewBcrypt(bcrypt.DefaultCost).Hash(initPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	if err := os.MkdirAll(initDocroot, 0o755); err != nil {
		return fmt.Errorf("create docroot: %w", err)
	}
	ruleDoc := filepath.Join(initDocroot, "auth.html")
	if err := os.WriteFile(ruleDoc, []byte(fmt.Sprintf(starterRuleDoc, initAdmin)), 0o644); err != nil {
		return fmt.Errorf("write rule document: %w", err)
	}
	indexDoc := filepath.Join(initDocroot, "index.html")
	if err := os.WriteFile(indexDoc, []byte(starterIndexDoc), 0o644); err != nil {
		return fmt.Errorf("write index document: %w", err)
	}

	cfg := fmt.Sprintf(starterConfig, initDocroot, initAdmin, initAdmin, hash)
	if err := os.WriteFile(cfgFile, []byte(cfg), 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	fmt.Printf("Wrote %s\n", cfgFile)
	fmt.Printf("Wrote %s\n", ruleDoc)
	fmt.Printf("Wrote %s\n", indexDoc)
	fmt.Printf("\nStart the server with: pagelove serve\n")
	return nil
}
