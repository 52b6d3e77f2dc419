// Command datachat answers questions about tabular datasets by letting a
// language model write analysis code that runs in a Docker sandbox.
//
// Usage:
//
//	export OPENAI_API_KEY="your-api-key"
//	datachat ask --dataset sales.csv "Which region sold the most?"
//	datachat serve
//	datachat chat
package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
)

// CLI defines the command-line interface. Global flags override values from
// the config file.
type CLI struct {
	Config   string `help:"Config file path (default: ./datachat.toml if present)" type:"path"`
	LogLevel string `help:"Log level: trace, debug, info, warn, error" env:"DATACHAT_LOG_LEVEL"`
	Provider string `help:"Reasoning backend: openai or gemini" env:"DATACHAT_PROVIDER"`
	Model    string `help:"Model name" env:"DATACHAT_MODEL"`
	Store    string `help:"Session store: memory, jsonl or sqlite" env:"DATACHAT_STORE"`

	Ask      AskCmd      `cmd:"" help:"Ask one question about a dataset"`
	Chat     ChatCmd     `cmd:"" help:"Interactive terminal chat"`
	Serve    ServeCmd    `cmd:"" help:"Run the HTTP and WebSocket server"`
	Sessions SessionsCmd `cmd:"" help:"List saved sessions"`
	Models   ModelsCmd   `cmd:"" help:"List models offered by the reasoning backend"`
}

func main() {
	// Load .env for API keys and base URLs.
	_ = godotenv.Load()

	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("datachat"),
		kong.Description("Conversational data analysis over a sandboxed Python interpreter."),
		kong.UsageOnError(),
	)
	if err := ctx.Run(&cli); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
