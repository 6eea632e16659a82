package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var setupForce bool

func init() {
	rootCmd.AddCommand(setupCmd)
	setupCmd.Flags().BoolVar(&setupForce, "force", false, "Overwrite an existing .env")
}

const envTemplate = `# dumpsleuth configuration. Values here are loaded before the
# process environment; unset lines fall back to built-in defaults.

# Oracle provider: openai, azure, ollama, bedrock
DUMPSLEUTH_PROVIDER=openai
DUMPSLEUTH_MODEL=gpt-4o
DUMPSLEUTH_API_KEY=
# DUMPSLEUTH_BASE_URL=https://api.openai.com/v1
# AZURE_OPENAI_API_VERSION=2024-06-01
# DUMPSLEUTH_BEDROCK_MODEL_ID=anthropic.claude-3-5-sonnet-20240620-v1:0
# AWS_REGION=us-east-1

# Debugger
DUMPSLEUTH_CDB_PATH=cdb
# DUMPSLEUTH_SYMBOL_PATH=srv*c:\symbols*https://msdl.microsoft.com/download/symbols
# DUMPSLEUTH_COMMAND_TIMEOUT=1800

# Evidence retrieval embeddings (optional)
DUMPSLEUTH_USE_EMBEDDINGS=false
# DUMPSLEUTH_EMBED_PROVIDER=ollama
# GEMINI_API_KEY=
# OLLAMA_ENDPOINT=http://localhost:11434

# Engine bounds
# DUMPSLEUTH_MAX_ITERATIONS=15
# DUMPSLEUTH_MAX_COMMAND_RETRIES=3

# Redaction
# DUMPSLEUTH_REDACT_PATTERNS=redact_patterns.yaml
`

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Write a starter .env in the current directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := os.Stat(".env"); err == nil && !setupForce {
			return fmt.Errorf(".env already exists (use --force to overwrite)")
		}
		if err := os.WriteFile(".env", []byte(envTemplate), 0o600); err != nil {
			return fmt.Errorf("write .env: %w", err)
		}
		fmt.Println("wrote .env; fill in your provider credentials")
		return nil
	},
}
