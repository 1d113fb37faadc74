package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/samhotchkiss/agentdesk/internal/deskapi"
)

const (
	authSetupCommand = "agentdesk auth login --token <your-token> --tenant <tenant-id>"
	authTokenHelpURL = "https://app.agentdesk.app/settings"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := os.Args[1]
	switch cmd {
	case "auth":
		handleAuth(os.Args[2:])
	case "agents":
		dieIf(runAgentsCommand(ctx, os.Args[2:], newListClient, os.Stdout))
	case "sessions":
		dieIf(runSessionsCommand(ctx, os.Args[2:], newListClient, os.Stdout))
	case "chat":
		dieIf(runChatCommand(ctx, os.Args[2:], newChatClient, os.Stdin, os.Stdout))
	case "version":
		fmt.Println("agentdesk dev")
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Println(`agentdesk <command> [args]

Commands:
  auth login       Store API token + default tenant
  agents list      List chat agents
  sessions list    List chat sessions
  chat             Chat with an agent interactively
  chat close       Close a chat session
  chat export      Email a chat transcript
  version          Show CLI version`)
}

func handleAuth(args []string) {
	const authUsage = "usage: agentdesk auth login [--token <token>] [--tenant <tenant-id>] [--api <url>]"
	if len(args) == 0 || args[0] != "login" {
		fmt.Println(authUsage)
		os.Exit(1)
	}

	flags := flag.NewFlagSet("auth login", flag.ExitOnError)
	token := flags.String("token", "", "API token")
	tenant := flags.String("tenant", "", "default tenant id")
	api := flags.String("api", "", "API base URL")
	_ = flags.Parse(args[1:])

	cfg, err := deskapi.LoadConfig()
	dieIf(err)

	if *api != "" {
		cfg.APIBaseURL = *api
	}
	if *token == "" {
		*token = prompt("Token: ")
	}
	if *tenant == "" {
		*tenant = prompt("Default tenant id (optional): ")
	}
	if strings.TrimSpace(*token) == "" {
		die("token is required")
	}
	cfg.Token = strings.TrimSpace(*token)
	if strings.TrimSpace(*tenant) != "" {
		cfg.DefaultTenant = strings.TrimSpace(*tenant)
	}
	dieIf(deskapi.SaveConfig(cfg))
	fmt.Println("Saved config to", mustConfigPath())
}

func prompt(label string) string {
	fmt.Print(label)
	reader := bufio.NewReader(os.Stdin)
	text, _ := reader.ReadString('\n')
	return strings.TrimSpace(text)
}

func die(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(1)
}

func dieIf(err error) {
	if err == nil {
		return
	}
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	die(formatCLIError(err))
}

func formatCLIError(err error) string {
	if err == nil {
		return ""
	}
	message := strings.TrimSpace(err.Error())
	if strings.Contains(strings.ToLower(message), "missing auth token") {
		return fmt.Sprintf("No auth config found. Run:\n\n  %s\n\nGet your token at: %s -> API Tokens", authSetupCommand, authTokenHelpURL)
	}
	return message
}

func mustConfigPath() string {
	path, err := deskapi.ConfigPath()
	if err != nil {
		return "config"
	}
	return path
}
