package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/shawkym/roomsync/pkg/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a roomsync configuration interactively",
	Long: `Create a configuration file by answering a few questions about the
homeserver, account, logging and optional features.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		outputPath, _ := cmd.Flags().GetString("output")
		if outputPath == "" {
			outputPath = defaultConfigFile()
		}
		return runInit(newPrompter(cmd.InOrStdin(), cmd.OutOrStdout()), outputPath)
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().StringP("output", "o", "", "Output configuration file path (default: ~/.roomsync/config.yaml)")
}

// prompter reads answers line by line. At end of input every prompt takes
// its default.
type prompter struct {
	reader *bufio.Reader
	out    io.Writer
}

func newPrompter(in io.Reader, out io.Writer) *prompter {
	return &prompter{reader: bufio.NewReader(in), out: out}
}

func section(w io.Writer, title string) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Fprintf(w, "  %s\n", title)
	fmt.Fprintln(w, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Fprintln(w)
}

func runInit(p *prompter, outputPath string) error {
	w := p.out
	fmt.Fprintln(w, "╔═══════════════════════════════════════════════════╗")
	fmt.Fprintln(w, "║           roomsync Configuration Setup            ║")
	fmt.Fprintln(w, "╚═══════════════════════════════════════════════════╝")

	if _, err := os.Stat(outputPath); err == nil {
		fmt.Fprintf(w, "\n⚠️  Configuration file '%s' already exists.\n", outputPath)
		if !p.yesNo("Overwrite?", false) {
			fmt.Fprintln(w, "❌ Canceled.")
			return nil
		}
	}

	cfg := config.NewDefaultConfig()

	section(w, "Account")
	for {
		cfg.Homeserver = p.str("Homeserver URL (default: https://matrix.org)", "https://matrix.org")
		if strings.HasPrefix(cfg.Homeserver, "http://") || strings.HasPrefix(cfg.Homeserver, "https://") {
			break
		}
		fmt.Fprintln(w, "  ❌ The URL must start with http:// or https://")
	}
	cfg.UserID = p.str("User (e.g. @alice:matrix.org)", "")
	if p.yesNo("Store the password in the config file? (otherwise you are prompted at login)", false) {
		cfg.Password = p.str("Password", "")
	}
	cfg.DeviceName = p.str("Device name (default: roomsync)", "roomsync")

	section(w, "Sync")
	cfg.Sync.TimeoutMs = p.integer("Long-poll timeout in milliseconds", cfg.Sync.TimeoutMs)
	cfg.Sync.FullState = p.yesNo("Request full room state on every sync?", false)

	section(w, "Logging")
	cfg.Logging.Level = p.choice("Log level", []string{"debug", "info", "warn", "error"}, 2)
	cfg.Logging.Enabled = p.yesNo("Write a chat log file?", true)
	if cfg.Logging.Enabled {
		cfg.Logging.ChatLogDir = p.str(fmt.Sprintf("Log directory (default: %s)", cfg.Logging.ChatLogDir), cfg.Logging.ChatLogDir)
		cfg.Logging.LogFormat = p.choice("Log format", []string{"text", "json"}, 1)
	}
	cfg.Logging.Console = p.yesNo("Print messages to the terminal?", true)

	section(w, "Features")
	cfg.AutoJoin.Enabled = p.yesNo("Join rooms automatically when invited?", false)
	cfg.Archive.Enabled = p.yesNo("Archive messages in SQLite?", false)
	if cfg.Archive.Enabled {
		cfg.Archive.Path = p.str(fmt.Sprintf("Archive path (default: %s)", cfg.Archive.Path), cfg.Archive.Path)
	}
	cfg.Metrics.Enabled = p.yesNo("Serve Prometheus metrics?", false)
	if cfg.Metrics.Enabled {
		cfg.Metrics.Addr = p.str(fmt.Sprintf("Metrics address (default: %s)", cfg.Metrics.Addr), cfg.Metrics.Addr)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	section(w, "Saving Configuration")
	if err := cfg.SaveConfig(outputPath); err != nil {
		return err
	}

	fmt.Fprintf(w, "✅ Configuration saved to: %s\n", outputPath)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Next steps:")
	fmt.Fprintln(w, "  1. Log in:          roomsync login --config "+outputPath)
	fmt.Fprintln(w, "  2. Follow rooms:    roomsync run --config "+outputPath)
	fmt.Fprintln(w, "  3. Or interactive:  roomsync watch --config "+outputPath)
	fmt.Fprintln(w)
	return nil
}

// line returns the trimmed answer and whether input is exhausted.
func (p *prompter) line() (string, bool) {
	input, err := p.reader.ReadString('\n')
	return strings.TrimSpace(input), err != nil
}

func (p *prompter) str(prompt, defaultValue string) string {
	if defaultValue != "" {
		fmt.Fprintf(p.out, "%s: ", prompt)
	} else {
		fmt.Fprintf(p.out, "%s (leave empty to skip): ", prompt)
	}

	input, _ := p.line()
	if input == "" {
		return defaultValue
	}
	return input
}

func (p *prompter) integer(prompt string, defaultValue int) int {
	for {
		fmt.Fprintf(p.out, "%s (default: %d): ", prompt, defaultValue)
		input, eof := p.line()
		if input == "" {
			return defaultValue
		}

		value, err := strconv.Atoi(input)
		if err != nil || value < 0 {
			fmt.Fprintf(p.out, "  ❌ Invalid number. Please try again.\n")
			if eof {
				return defaultValue
			}
			continue
		}
		return value
	}
}

func (p *prompter) yesNo(prompt string, defaultValue bool) bool {
	defaultStr := "y/N"
	if defaultValue {
		defaultStr = "Y/n"
	}

	for {
		fmt.Fprintf(p.out, "%s [%s]: ", prompt, defaultStr)
		input, eof := p.line()
		switch strings.ToLower(input) {
		case "":
			return defaultValue
		case "y", "yes":
			return true
		case "n", "no":
			return false
		}

		fmt.Fprintln(p.out, "  ❌ Please answer 'y' or 'n'")
		if eof {
			return defaultValue
		}
	}
}

func (p *prompter) choice(prompt string, choices []string, defaultIndex int) string {
	for {
		fmt.Fprintf(p.out, "%s [%s] (1-%d, default: %d): ", prompt, strings.Join(choices, ", "), len(choices), defaultIndex)
		input, eof := p.line()
		if input == "" {
			return choices[defaultIndex-1]
		}

		n, err := strconv.Atoi(input)
		if err == nil && n >= 1 && n <= len(choices) {
			return choices[n-1]
		}
		for _, c := range choices {
			if strings.EqualFold(c, input) {
				return c
			}
		}

		fmt.Fprintf(p.out, "  ❌ Please select a number between 1 and %d\n", len(choices))
		if eof {
			return choices[defaultIndex-1]
		}
	}
}
