// Command chatsync is an interactive terminal client for the conference
// discovery assistant, driving the sync engine against a live server.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/confscout/chatsync/internal/action"
	"github.com/confscout/chatsync/internal/config"
	"github.com/confscout/chatsync/internal/engine"
	"github.com/confscout/chatsync/internal/prefstore"
	"github.com/confscout/chatsync/internal/protocol"
	"github.com/confscout/chatsync/internal/transport"
)

func main() {
	cfg := config.Load()
	addr := flag.String("addr", cfg.ServerURL, "WebSocket server address")
	token := flag.String("token", cfg.Token, "credential for the handshake")
	flag.Parse()
	cfg.ServerURL = *addr
	cfg.Token = *token

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	store, err := prefstore.Open(cfg.SnapshotPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open preference store: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	snap, err := store.Load(context.Background())
	if err != nil {
		logger.Warn("failed to load snapshot", "err", err)
	}

	ch := transport.NewWSChannel(cfg.ServerURL, transport.Options{
		PingInterval:   cfg.PingInterval,
		WriteTimeout:   cfg.WriteTimeout,
		ReadTimeout:    cfg.ReadTimeout,
		MaxMessageSize: cfg.MaxMessageSize,
	}, logger)

	ui := newConsoleUI()
	eng := engine.New(cfg, ch, snap, engine.Collaborators{
		Prompt:    ui,
		Navigator: ui,
	}, logger)
	eng.SetOnUpdate(ui.render(eng))

	fmt.Printf("Connecting to %s...\n", cfg.ServerURL)
	if err := eng.Connect(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		snapshot := eng.Snapshot()
		if err := store.Save(context.Background(), snapshot); err != nil {
			logger.Warn("failed to save snapshot", "err", err)
		}
		eng.Disconnect()
	}()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	go func() {
		<-interrupt
		fmt.Println("\nInterrupted")
		os.Exit(0)
	}()

	fmt.Println("Type a message and press Enter. Commands: /new /list /load <id> /rename <id> <title> /pin <id> /unpin <id> /clear <id> /delete <id> /confirm <id> /cancel <id> /quit")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if !strings.HasPrefix(input, "/") {
			eng.Send(input)
			continue
		}
		if input == "/quit" {
			fmt.Println("Bye!")
			return
		}
		runCommand(eng, input)
	}
}

func runCommand(eng *engine.Engine, input string) {
	fields := strings.Fields(input)
	arg := func(i int) string {
		if i < len(fields) {
			return fields[i]
		}
		return ""
	}

	switch fields[0] {
	case "/new":
		eng.StartNewConversation()
	case "/list":
		for _, c := range eng.Conversations() {
			pin := " "
			if c.Pinned {
				pin = "*"
			}
			fmt.Printf("%s %s  %s\n", pin, c.ID, c.Title)
		}
	case "/load":
		eng.LoadConversation(arg(1))
	case "/rename":
		eng.RenameConversation(arg(1), strings.Join(fields[2:], " "))
	case "/pin":
		eng.PinConversation(arg(1), true)
	case "/unpin":
		eng.PinConversation(arg(1), false)
	case "/clear":
		eng.ClearConversation(arg(1))
	case "/delete":
		if err := eng.DeleteConversation(arg(1)); err != nil {
			fmt.Printf("delete failed: %v\n", err)
		}
	case "/confirm":
		eng.ConfirmPendingAction(arg(1))
	case "/cancel":
		eng.CancelPendingAction(arg(1))
	default:
		fmt.Printf("unknown command: %s\n", fields[0])
	}
}

// consoleUI renders streaming output and fulfils the collaborator ports.
type consoleUI struct {
	printed  map[string]int // message id -> characters already printed
	rendered map[string]bool
}

var _ action.Renderer = (*consoleUI)(nil)

func newConsoleUI() *consoleUI {
	return &consoleUI{printed: make(map[string]int), rendered: make(map[string]bool)}
}

// render returns the update callback: it prints the text of new or growing
// assistant messages as deltas, so streamed replies appear incrementally.
func (u *consoleUI) render(eng *engine.Engine) func() {
	return func() {
		for _, m := range eng.Messages() {
			if m.Role != "assistant" || m.Text == "" {
				continue
			}
			done := u.printed[m.ID]
			if done >= len(m.Text) {
				continue
			}
			if done == 0 {
				prefix := "\nassistant"
				if m.Severity != "" {
					prefix += " [" + m.Severity + "]"
				}
				fmt.Printf("%s: ", prefix)
			}
			fmt.Print(m.Text[done:])
			u.printed[m.ID] = len(m.Text)
			if !m.Pending {
				fmt.Println()
			}
		}
		for _, m := range eng.Messages() {
			if m.Pending || m.Action == nil || u.rendered[m.ID] {
				continue
			}
			if action.SelfRendering(m.Action.Type) {
				u.RenderAction(m.ID, *m.Action)
				u.rendered[m.ID] = true
			}
		}
	}
}

// RenderAction implements action.Renderer for the self-rendering action types.
func (u *consoleUI) RenderAction(_ string, a protocol.Action) {
	switch a.Type {
	case protocol.ActionMap:
		fmt.Printf("[map] %s\n", a.Location)
	case protocol.ActionFollowUpdate:
		fmt.Printf("[follow] %s\n", a.Status)
	case protocol.ActionSources:
		for _, src := range a.Sources {
			fmt.Printf("[source] %s  %s\n", src.Title, src.URL)
		}
	}
}

// ShowConfirmation implements action.ConfirmPrompt.
func (u *consoleUI) ShowConfirmation(req action.ConfirmRequest) {
	fmt.Printf("\n[confirmation %s] %s\n%s\nUse /confirm %s or /cancel %s (expires %s)\n",
		req.ConfirmationID, req.Subject, req.Body, req.ConfirmationID, req.ConfirmationID,
		req.ExpiresAt.Format("15:04:05"))
}

// ResolveConfirmation implements action.ConfirmPrompt.
func (u *consoleUI) ResolveConfirmation(confirmationID, status, message string) {
	fmt.Printf("\n[confirmation %s] %s %s\n", confirmationID, status, message)
}

// Navigate implements action.Navigator.
func (u *consoleUI) Navigate(url string) {
	fmt.Printf("\n[navigate] %s\n", url)
}
