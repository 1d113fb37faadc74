package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/samhotchkiss/agentdesk/internal/chat"
	"github.com/samhotchkiss/agentdesk/internal/deskapi"
)

type listCommandClient interface {
	ListAgents(ctx context.Context) ([]chat.Agent, error)
	ListSessions(ctx context.Context, agentID string) ([]deskapi.SessionSummary, error)
}

type listClientFactory func(tenantOverride string) (listCommandClient, error)

func newListClient(tenantOverride string) (listCommandClient, error) {
	cfg, err := deskapi.LoadConfig()
	if err != nil {
		return nil, err
	}
	return deskapi.NewClient(cfg, tenantOverride)
}

func runAgentsCommand(ctx context.Context, args []string, factory listClientFactory, out io.Writer) error {
	const agentsUsage = "usage: agentdesk agents list [--tenant <tenant-id>] [--json]"
	if len(args) == 0 || args[0] != "list" {
		return errors.New(agentsUsage)
	}

	flags := flag.NewFlagSet("agents list", flag.ContinueOnError)
	flags.SetOutput(io.Discard)
	tenant := flags.String("tenant", "", "tenant id override")
	jsonOut := flags.Bool("json", false, "JSON output")
	if err := flags.Parse(args[1:]); err != nil || flags.NArg() > 0 {
		return errors.New(agentsUsage)
	}

	client, err := factory(*tenant)
	if err != nil {
		return err
	}
	agents, err := client.ListAgents(ctx)
	if err != nil {
		return err
	}
	if *jsonOut {
		printJSONTo(out, agents)
		return nil
	}

	if len(agents) == 0 {
		fmt.Fprintln(out, "No agents found.")
		return nil
	}
	for _, agent := range agents {
		fmt.Fprintf(out, "%-36s  %-28s  %s\n", agent.ID, agent.Name, agentStatus(agent))
	}
	return nil
}

func agentStatus(agent chat.Agent) string {
	switch {
	case !agent.IsActive:
		return "inactive"
	case !chat.CanSend(agent):
		return "quota exhausted"
	case agent.MonthlyLimit == chat.UnlimitedQuota:
		return "active"
	default:
		return fmt.Sprintf("active (%s tokens left)", formatInt64WithCommas(agent.MonthlyLimit))
	}
}

func runSessionsCommand(ctx context.Context, args []string, factory listClientFactory, out io.Writer) error {
	const sessionsUsage = "usage: agentdesk sessions list [--agent <agent-id>] [--tenant <tenant-id>] [--json]"
	if len(args) == 0 || args[0] != "list" {
		return errors.New(sessionsUsage)
	}

	flags := flag.NewFlagSet("sessions list", flag.ContinueOnError)
	flags.SetOutput(io.Discard)
	agentID := flags.String("agent", "", "agent id filter")
	tenant := flags.String("tenant", "", "tenant id override")
	jsonOut := flags.Bool("json", false, "JSON output")
	if err := flags.Parse(args[1:]); err != nil || flags.NArg() > 0 {
		return errors.New(sessionsUsage)
	}

	client, err := factory(*tenant)
	if err != nil {
		return err
	}
	sessions, err := client.ListSessions(ctx, strings.TrimSpace(*agentID))
	if err != nil {
		return err
	}
	if *jsonOut {
		printJSONTo(out, sessions)
		return nil
	}

	if len(sessions) == 0 {
		fmt.Fprintln(out, "No sessions found.")
		return nil
	}
	for _, session := range sessions {
		agentLabel := strings.TrimSpace(session.AgentName)
		if agentLabel == "" {
			agentLabel = session.AgentID
		}
		state := "open"
		if !session.IsActive {
			state = "closed"
		}
		last := "-"
		if !session.LastMessageAt.IsZero() {
			last = session.LastMessageAt.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(out, "%-36s  %-24s  %-6s  %4d msgs  %s\n", session.ID, agentLabel, state, session.MessageCount, last)
	}
	return nil
}
