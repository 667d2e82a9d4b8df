// ABOUTME: Entry point for the onebot-gateway bot runtime
// ABOUTME: Loads config, sets up logging and runs the gateway until interrupted

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fatih/color"

	"github.com/2389/onebot-gateway/internal/config"
	"github.com/2389/onebot-gateway/internal/gateway"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                 _           _                    _
  ___  _ __   ___| |__   ___ | |_       __ _  __ _| |_ _____      ____ _ _   _
 / _ \| '_ \ / _ \ '_ \ / _ \| __|____ / _' |/ _' | __/ _ \ \ /\ / / _' | | | |
| (_) | | | |  __/ |_) | (_) | ||_____| (_| | (_| | ||  __/\ V  V / (_| | |_| |
 \___/|_| |_|\___|_.__/ \___/ \__|     \__, |\__,_|\__\___| \_/\_/ \__,_|\__, |
                                       |___/                             |___/
`

// getConfigPath returns the path to the gateway config file.
// Priority: ONEBOT_GATEWAY_CONFIG env var > XDG_CONFIG_HOME/onebot-gateway/gateway.yaml > ~/.config/onebot-gateway/gateway.yaml
func getConfigPath() string {
	if envPath := os.Getenv("ONEBOT_GATEWAY_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "onebot-gateway", "gateway.yaml")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: onebot-gateway <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve      Connect to the OneBot backend and run the applications")
		fmt.Println("  init       Create a new config file interactively")
		fmt.Println("  health     Check gateway liveness")
		fmt.Println("  status     Print connection status and application counters")
		fmt.Println("  version    Print the version")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit(os.Stdin, os.Stdout)
	case "health":
		err = runHealth(ctx)
	case "status":
		err = runStatus(ctx)
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("OneBot:    %s", cfg.OneBot.Endpoint)
	if cfg.OneBot.AccessToken != "" {
		gray.Print(" (token)")
	}
	fmt.Println()
	if cfg.Server.HTTPAddr != "" {
		green.Print("    ▶ ")
		fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	}
	if cfg.GSCore.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("GSCore:    ")
		cyan.Print(cfg.GSCore.Endpoint)
		yellow.Printf(" [%d groups]", len(cfg.GSCore.EnabledGroups))
		fmt.Println()
	}
	if cfg.Matrix.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Matrix:    ")
		cyan.Print(cfg.Matrix.RoomID)
		gray.Printf(" (%s)", cfg.Matrix.Homeserver)
		fmt.Println()
	}

	fmt.Println()

	logger.Info("starting onebot-gateway",
		"config", configPath,
		"endpoint", cfg.OneBot.Endpoint,
		"http_addr", cfg.Server.HTTPAddr,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

func runHealth(ctx context.Context) error {
	body, status, err := fetch(ctx, "/health")
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d: %s", status, body)
	}

	fmt.Println("healthy")
	return nil
}

// runStatus prints the readiness body. A 503 still carries the status
// document, so it is printed before reporting the failure.
func runStatus(ctx context.Context) error {
	body, status, err := fetch(ctx, "/health/ready")
	if err != nil {
		return fmt.Errorf("status check failed: %w", err)
	}

	fmt.Println(strings.TrimSpace(string(body)))
	if status != http.StatusOK {
		return fmt.Errorf("not connected: status %d", status)
	}
	return nil
}

func fetch(ctx context.Context, path string) ([]byte, int, error) {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return nil, 0, fmt.Errorf("loading config: %w", err)
	}
	if cfg.Server.HTTPAddr == "" {
		return nil, 0, fmt.Errorf("server.http_addr is not configured")
	}

	url := fmt.Sprintf("http://%s%s", cfg.Server.HTTPAddr, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("reading response: %w", err)
	}
	return body, resp.StatusCode, nil
}

// initAnswers holds the values collected by runInit.
type initAnswers struct {
	Endpoint    string
	AccessToken string
	HTTPAddr    string
	OwnerID     string
	MainGroup   string
	GSCore      string // empty disables the bridge
	LogLevel    string
	LogFormat   string
}

func runInit(in io.Reader, out io.Writer) error {
	reader := bufio.NewReader(in)

	fmt.Fprintln(out, "onebot-gateway configuration setup")
	fmt.Fprintln(out, "==================================")
	fmt.Fprintln(out)

	outputFile := prompt(reader, out, "Config file path", getConfigPath())

	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, out, "File exists. Overwrite?", "no")
		if !isYes(overwrite) {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	var a initAnswers

	fmt.Fprintln(out, "\n--- OneBot Backend ---")
	a.Endpoint = prompt(reader, out, "WebSocket endpoint", "ws://127.0.0.1:3001")
	a.AccessToken = prompt(reader, out, "Access token (leave empty for none)", "")

	fmt.Fprintln(out, "\n--- Applications ---")
	a.OwnerID = prompt(reader, out, "Owner user id", "0")
	a.MainGroup = prompt(reader, out, "Main group id", "0")
	if isYes(prompt(reader, out, "Enable GSCore bridge?", "no")) {
		a.GSCore = prompt(reader, out, "GSCore endpoint", "ws://127.0.0.1:8765/ws/onebot")
	}

	fmt.Fprintln(out, "\n--- Server ---")
	a.HTTPAddr = prompt(reader, out, "Health endpoint address (leave empty to disable)", "127.0.0.1:8080")

	fmt.Fprintln(out, "\n--- Logging ---")
	a.LogLevel = prompt(reader, out, "Log level (debug/info/warn/error)", "info")
	a.LogFormat = prompt(reader, out, "Log format (text/json)", "text")

	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	// The file may hold the access token.
	if err := os.WriteFile(outputFile, []byte(renderConfig(a)), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	fmt.Fprintf(out, "\nConfig written to %s\n", outputFile)
	fmt.Fprintln(out, "\nTo start the gateway:")
	fmt.Fprintln(out, "  onebot-gateway serve")
	return nil
}

func renderConfig(a initAnswers) string {
	var cfg strings.Builder
	cfg.WriteString("# onebot-gateway configuration\n")
	cfg.WriteString("# Generated by onebot-gateway init\n\n")

	cfg.WriteString("onebot:\n")
	fmt.Fprintf(&cfg, "  endpoint: %q\n", a.Endpoint)
	if a.AccessToken != "" {
		fmt.Fprintf(&cfg, "  access_token: %q\n", a.AccessToken)
	}
	cfg.WriteString("  queue_size: 100\n")
	cfg.WriteString("  reconnect_delay: \"3s\"\n")
	cfg.WriteString("  request_timeout: \"120s\"\n")
	cfg.WriteString("  sweep_interval: \"30s\"\n")
	cfg.WriteString("\n")

	if a.HTTPAddr != "" {
		cfg.WriteString("server:\n")
		fmt.Fprintf(&cfg, "  http_addr: %q\n", a.HTTPAddr)
		cfg.WriteString("\n")
	}

	cfg.WriteString("apps:\n")
	fmt.Fprintf(&cfg, "  owner_id: %s\n", a.OwnerID)
	fmt.Fprintf(&cfg, "  main_group: %s\n", a.MainGroup)
	cfg.WriteString("\n")

	cfg.WriteString("gscore:\n")
	fmt.Fprintf(&cfg, "  enabled: %t\n", a.GSCore != "")
	if a.GSCore != "" {
		fmt.Fprintf(&cfg, "  endpoint: %q\n", a.GSCore)
		fmt.Fprintf(&cfg, "  enabled_groups: [%s]\n", a.MainGroup)
	}
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	fmt.Fprintf(&cfg, "  level: %q\n", a.LogLevel)
	fmt.Fprintf(&cfg, "  format: %q\n", a.LogFormat)
	return cfg.String()
}

func isYes(s string) bool {
	s = strings.ToLower(s)
	return s == "yes" || s == "y"
}

func prompt(reader *bufio.Reader, out io.Writer, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Fprintf(out, "%s [%s]: ", question, defaultVal)
	} else {
		fmt.Fprintf(out, "%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Fprintln(out)
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
