package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/samhotchkiss/agentdesk/internal/chat"
	"github.com/samhotchkiss/agentdesk/internal/deskapi"
)

const (
	chatUsage       = "usage: agentdesk chat (--agent <agent-id> | --session <session-id> | --public <slug>) [--tenant <tenant-id>] [--follow]"
	chatCloseUsage  = "usage: agentdesk chat close <session-id> [--tenant <tenant-id>]"
	chatExportUsage = "usage: agentdesk chat export <session-id> <email> [--tenant <tenant-id>]"
	chatHelp        = `Commands:
  /like <id>       Rate an agent reply up
  /dislike <id>    Rate an agent reply down
  /retry <id>      Resend a failed message
  /discard <id>    Drop a failed message
  /export <email>  Email the transcript
  /refresh         Reload the conversation
  /close           Close the conversation
  /quit            Leave without closing`
)

type chatOptions struct {
	AgentID    string
	SessionID  string
	PublicSlug string
	Tenant     string
	Follow     bool
}

// chatClientFactory returns the backend for opts and, when live updates were
// requested, a subscriber for server pushes.
type chatClientFactory func(opts chatOptions) (chat.Backend, chat.Subscriber, error)

func newChatClient(opts chatOptions) (chat.Backend, chat.Subscriber, error) {
	cfg, err := deskapi.LoadConfig()
	if err != nil {
		return nil, nil, err
	}
	if opts.PublicSlug != "" {
		backend, err := deskapi.NewPublicClient(cfg.APIBaseURL, nil)
		if err != nil {
			return nil, nil, err
		}
		return backend, nil, nil
	}

	client, err := deskapi.NewClient(cfg, opts.Tenant)
	if err != nil {
		return nil, nil, err
	}
	if !opts.Follow {
		return client, nil, nil
	}
	subscriber, err := deskapi.NewSubscriber(client)
	if err != nil {
		return nil, nil, err
	}
	return client, subscriber, nil
}

func runChatCommand(ctx context.Context, args []string, factory chatClientFactory, in io.Reader, out io.Writer) error {
	if len(args) > 0 {
		switch args[0] {
		case "close":
			return runChatClose(ctx, args[1:], factory, out)
		case "export":
			return runChatExport(ctx, args[1:], factory, out)
		}
	}

	opts, err := parseChatOptions(args)
	if err != nil {
		return err
	}
	backend, subscriber, err := factory(opts)
	if err != nil {
		return err
	}

	console := newChatConsole(out)
	target := chat.Target{AgentID: opts.AgentID, SessionID: opts.SessionID}
	if opts.PublicSlug != "" {
		target.AgentID = opts.PublicSlug
	}
	chatOpts := []chat.Option{chat.WithNotifier(console), chat.WithObserver(console.Render)}
	if subscriber != nil {
		chatOpts = append(chatOpts, chat.WithSubscriber(subscriber))
	}

	session, err := chat.Open(ctx, backend, target, chatOpts...)
	if err != nil {
		return err
	}
	defer session.Detach()

	console.Intro(session.View())
	return runChatLoop(ctx, session, console, in, subscriber != nil)
}

func parseChatOptions(args []string) (chatOptions, error) {
	flags := flag.NewFlagSet("chat", flag.ContinueOnError)
	flags.SetOutput(io.Discard)
	agentID := flags.String("agent", "", "agent id")
	sessionID := flags.String("session", "", "existing session id")
	slug := flags.String("public", "", "public agent slug")
	tenant := flags.String("tenant", "", "tenant id override")
	follow := flags.Bool("follow", false, "subscribe to live updates")
	if err := flags.Parse(args); err != nil || flags.NArg() > 0 {
		return chatOptions{}, errors.New(chatUsage)
	}

	opts := chatOptions{
		AgentID:    strings.TrimSpace(*agentID),
		SessionID:  strings.TrimSpace(*sessionID),
		PublicSlug: strings.TrimSpace(*slug),
		Tenant:     strings.TrimSpace(*tenant),
		Follow:     *follow,
	}
	targets := 0
	for _, value := range []string{opts.AgentID, opts.SessionID, opts.PublicSlug} {
		if value != "" {
			targets++
		}
	}
	if targets != 1 {
		return chatOptions{}, errors.New(chatUsage)
	}
	if opts.PublicSlug != "" && opts.Follow {
		return chatOptions{}, errors.New("--follow requires an authenticated session; it cannot be used with --public")
	}
	return opts, nil
}

func runChatLoop(ctx context.Context, session *chat.Session, console *chatConsole, in io.Reader, follow bool) error {
	watching := false
	startWatch := func() {
		if !follow || watching || session.SessionID() == "" || session.State() == chat.StateClosed {
			return
		}
		watching = true
		go func() {
			if err := session.Watch(ctx); err != nil && ctx.Err() == nil {
				console.Notify(chat.Notice{Level: chat.NoticeWarning, Text: "Live updates stopped: " + err.Error()})
			}
		}()
	}
	startWatch()

	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		before := console.NoticeCount()
		var (
			quit bool
			err  error
		)
		if strings.HasPrefix(line, "/") {
			quit, err = runSlashCommand(ctx, session, console, line)
		} else {
			_, err = session.Send(ctx, line)
		}
		// Session operations report most failures through the notifier already.
		if err != nil && console.NoticeCount() == before {
			console.Notify(chat.Notice{Level: chat.NoticeError, Text: describeChatError(err)})
		}
		if quit || ctx.Err() != nil {
			return nil
		}
		startWatch()
	}
	return scanner.Err()
}

func runSlashCommand(ctx context.Context, session *chat.Session, console *chatConsole, line string) (bool, error) {
	fields := strings.Fields(line)
	command := strings.ToLower(fields[0])
	arg := ""
	if len(fields) > 1 {
		arg = fields[1]
	}

	needsArg := func(usage string) bool {
		if arg == "" {
			console.Notify(chat.Notice{Level: chat.NoticeWarning, Text: "usage: " + usage})
			return false
		}
		return true
	}

	var err error
	switch command {
	case "/quit", "/exit":
		return true, nil
	case "/help":
		console.Println(chatHelp)
	case "/like", "/dislike":
		if needsArg(command + " <message-id>") {
			_, err = session.Feedback(ctx, arg, command == "/like")
		}
	case "/retry":
		if needsArg("/retry <message-id>") {
			_, err = session.Retry(ctx, arg)
		}
	case "/discard":
		if needsArg("/discard <message-id>") {
			if _, err = session.Discard(arg); err == nil {
				console.Println("Discarded " + arg + ".")
			}
		}
	case "/export":
		if needsArg("/export <email>") {
			_, err = session.Export(ctx, arg)
		}
	case "/refresh":
		_, err = session.Refresh(ctx)
	case "/close":
		_, err = session.Close(ctx)
	default:
		console.Notify(chat.Notice{Level: chat.NoticeWarning, Text: "Unknown command " + command + "; type /help."})
	}
	return false, err
}

func describeChatError(err error) string {
	switch {
	case errors.Is(err, chat.ErrUnknownMessage):
		return "No message with that id."
	case errors.Is(err, chat.ErrMessageNotFailed):
		return "Only failed messages can be retried or discarded."
	}
	return chat.UserMessage(err)
}

func parseSessionArgs(args []string, want int, usage string) ([]string, string, error) {
	var (
		positional []string
		tenant     string
	)
	for i := 0; i < len(args); i++ {
		arg := strings.TrimSpace(args[i])
		switch {
		case arg == "--tenant":
			if i+1 >= len(args) {
				return nil, "", errors.New(usage)
			}
			i++
			tenant = strings.TrimSpace(args[i])
		case strings.HasPrefix(arg, "--tenant="):
			tenant = strings.TrimSpace(strings.TrimPrefix(arg, "--tenant="))
		case strings.HasPrefix(arg, "-"):
			return nil, "", errors.New(usage)
		case arg != "":
			positional = append(positional, arg)
		}
	}
	if len(positional) != want {
		return nil, "", errors.New(usage)
	}
	return positional, tenant, nil
}

func openExistingSession(ctx context.Context, factory chatClientFactory, sessionID, tenant string, out io.Writer) (*chat.Session, error) {
	backend, _, err := factory(chatOptions{SessionID: sessionID, Tenant: tenant})
	if err != nil {
		return nil, err
	}
	return chat.Open(ctx, backend, chat.Target{SessionID: sessionID}, chat.WithNotifier(newChatConsole(out)))
}

func runChatClose(ctx context.Context, args []string, factory chatClientFactory, out io.Writer) error {
	positional, tenant, err := parseSessionArgs(args, 1, chatCloseUsage)
	if err != nil {
		return err
	}
	session, err := openExistingSession(ctx, factory, positional[0], tenant, out)
	if err != nil {
		return err
	}
	defer session.Detach()
	_, err = session.Close(ctx)
	return err
}

func runChatExport(ctx context.Context, args []string, factory chatClientFactory, out io.Writer) error {
	positional, tenant, err := parseSessionArgs(args, 2, chatExportUsage)
	if err != nil {
		return err
	}
	session, err := openExistingSession(ctx, factory, positional[0], tenant, out)
	if err != nil {
		return err
	}
	defer session.Detach()
	_, err = session.Export(ctx, positional[1])
	return err
}

// chatConsole renders session views and notices as plain text lines. Each
// message is printed once, and again only if its status or rating changes.
type chatConsole struct {
	mu      sync.Mutex
	out     io.Writer
	printed map[string]string
	state   chat.State
	notices int
}

func newChatConsole(out io.Writer) *chatConsole {
	return &chatConsole{out: out, printed: make(map[string]string)}
}

func (c *chatConsole) Notify(n chat.Notice) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notices++
	fmt.Fprintf(c.out, "! %s\n", n.Text)
}

func (c *chatConsole) NoticeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.notices
}

func (c *chatConsole) Println(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, text)
}

func (c *chatConsole) Intro(view chat.View) {
	c.mu.Lock()
	name := agentLabel(view.Agent)
	if view.SessionID != "" {
		fmt.Fprintf(c.out, "Chatting with %s (session %s). Type /help for commands.\n", name, view.SessionID)
	} else {
		fmt.Fprintf(c.out, "Chatting with %s. Type /help for commands.\n", name)
	}
	if view.Banner != "" {
		fmt.Fprintf(c.out, "! %s\n", view.Banner)
	}
	c.mu.Unlock()
	c.Render(view)
}

func (c *chatConsole) Render(view chat.View) {
	c.mu.Lock()
	defer c.mu.Unlock()

	name := agentLabel(view.Agent)
	for _, msg := range view.Messages {
		if msg.Status == chat.StatusPending {
			continue
		}
		fingerprint := messageFingerprint(msg)
		if c.printed[msg.ID] == fingerprint {
			continue
		}
		c.printed[msg.ID] = fingerprint
		fmt.Fprintln(c.out, formatChatMessage(name, msg))
	}
	if view.State == chat.StateClosed && c.state != chat.StateClosed {
		fmt.Fprintln(c.out, "-- conversation closed --")
	}
	c.state = view.State
}

func agentLabel(agent chat.Agent) string {
	if name := strings.TrimSpace(agent.Name); name != "" {
		return name
	}
	if agent.ID != "" {
		return agent.ID
	}
	return "agent"
}

func messageFingerprint(msg chat.Message) string {
	fingerprint := string(msg.Status)
	if msg.Liked != nil {
		fingerprint += fmt.Sprintf(":%t", *msg.Liked)
	}
	return fingerprint
}

func formatChatMessage(agentName string, msg chat.Message) string {
	if msg.Role == chat.RoleUser {
		line := "you: " + msg.Text
		if msg.Status == chat.StatusFailed {
			line += fmt.Sprintf("  (not sent; /retry %s or /discard %s)", msg.ID, msg.ID)
		}
		return line
	}

	line := agentName + ": " + msg.Text
	if msg.ID != "" && msg.ID != chat.WelcomeMessageID {
		line += "  [" + msg.ID + "]"
	}
	if msg.Liked != nil {
		if *msg.Liked {
			line += " (liked)"
		} else {
			line += " (disliked)"
		}
	}
	return line
}
