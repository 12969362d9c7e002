package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/makt28/stockwatch/internal/config"
	"github.com/makt28/stockwatch/internal/monitor"
	"github.com/makt28/stockwatch/internal/notify"
	"github.com/makt28/stockwatch/internal/storage"
)

// Monitors is the part of the registry driven by chat commands.
type Monitors interface {
	Start(ctx context.Context, subscriberID, targetURL string) (monitor.Task, error)
	Stop(subscriberID string) (time.Duration, error)
	Get(subscriberID string) (monitor.Task, bool)
}

// Message is an inbound chat message reduced to what the commands need.
type Message struct {
	ChatID       string
	Username     string
	FirstName    string
	Text         string
	HasPhoto     bool
	DocumentName string // set when a file was attached
}

// DisplayName returns the username, or the first name when there is none.
func (m Message) DisplayName() string {
	if m.Username != "" {
		return m.Username
	}
	return m.FirstName
}

type Options struct {
	Monitors Monitors
	Prober   monitor.Prober
	Out      notify.Messenger
	History  *storage.History // optional
	Config   *config.Manager
	Clock    func() time.Time // optional
}

// Handler answers chat commands.
type Handler struct {
	monitors Monitors
	prober   monitor.Prober
	out      notify.Messenger
	history  *storage.History
	cfgMgr   *config.Manager
	now      func() time.Time
	commands []command
}

func NewHandler(opts Options) *Handler {
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	h := &Handler{
		monitors: opts.Monitors,
		prober:   opts.Prober,
		out:      opts.Out,
		history:  opts.History,
		cfgMgr:   opts.Config,
		now:      now,
	}
	h.commands = h.commandTable()
	return h
}

type command struct {
	name        string
	description string
	run         func(ctx context.Context, msg Message, arg string)
}

func (h *Handler) commandTable() []command {
	return []command{
		{name: "start", description: "Start the bot", run: h.cmdStart},
		{name: "help", description: "Show this help", run: h.cmdHelp},
		{name: "ping", description: "Check that the bot is alive", run: h.cmdPing},
		{name: "check", description: "Check availability once [url]", run: h.cmdCheck},
		{name: "watch", description: "Start automatic monitoring [url]", run: h.cmdWatch},
		{name: "stop", description: "Stop automatic monitoring", run: h.cmdStop},
		{name: "status", description: "Show the current monitoring status", run: h.cmdStatus},
	}
}

// Handle routes one inbound message. Reply failures are logged.
func (h *Handler) Handle(ctx context.Context, msg Message) {
	switch {
	case msg.HasPhoto:
		slog.Info("photo received", "chat", msg.ChatID, "from", msg.DisplayName())
		h.reply(ctx, msg, "Photo received, thanks!")
		return
	case msg.DocumentName != "":
		slog.Info("document received", "chat", msg.ChatID, "from", msg.DisplayName(), "file", msg.DocumentName)
		h.reply(ctx, msg, "File received: "+msg.DocumentName)
		return
	case msg.Text == "":
		return
	}

	name, arg, ok := parseCommand(msg.Text)
	if !ok {
		slog.Info("message received", "chat", msg.ChatID, "from", msg.DisplayName())
		h.reply(ctx, msg, "Received: "+msg.Text)
		return
	}

	for _, c := range h.commands {
		if c.name == name {
			slog.Info("command received", "command", name, "chat", msg.ChatID, "from", msg.DisplayName())
			c.run(ctx, msg, arg)
			return
		}
	}
	h.reply(ctx, msg, "Unknown command. Use /help to see the available commands.")
}

// parseCommand splits "/watch@my_bot https://..." into "watch" and the URL.
func parseCommand(text string) (name, arg string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", "", false
	}
	fields := strings.Fields(text[1:])
	if len(fields) == 0 {
		return "", "", false
	}
	name, _, _ = strings.Cut(fields[0], "@")
	if len(fields) > 1 {
		arg = fields[1]
	}
	return strings.ToLower(name), arg, true
}

func (h *Handler) cmdStart(ctx context.Context, msg Message, _ string) {
	h.reply(ctx, msg, fmt.Sprintf("Hello %s! Welcome to the bot. Use /help to see the available commands.", msg.DisplayName()))
}

func (h *Handler) cmdHelp(ctx context.Context, msg Message, _ string) {
	var b strings.Builder
	b.WriteString("Available commands:\n")
	for _, c := range h.commands {
		fmt.Fprintf(&b, "/%s - %s\n", c.name, c.description)
	}
	h.reply(ctx, msg, b.String())
}

func (h *Handler) cmdPing(ctx context.Context, msg Message, _ string) {
	start := h.now()
	h.reply(ctx, msg, "Pinging...")
	h.reply(ctx, msg, fmt.Sprintf("Pong! Response in %dms", h.now().Sub(start).Milliseconds()))
}

func (h *Handler) targetURL(arg string) (string, bool) {
	if arg == "" {
		return h.cfgMgr.Get().Monitor.DefaultURL, true
	}
	return arg, config.IsHTTPURL(arg)
}

func (h *Handler) cmdCheck(ctx context.Context, msg Message, arg string) {
	target, ok := h.targetURL(arg)
	if !ok {
		h.reply(ctx, msg, "The URL does not look valid. Usage: /check [url]")
		return
	}

	h.reply(ctx, msg, "Checking availability... please wait.")

	probeCtx, cancel := context.WithTimeout(ctx, h.cfgMgr.Get().Monitor.ProbeTimeoutDuration())
	result := h.prober.Probe(probeCtx, target)
	cancel()

	if result.Errored || result.Signal == monitor.StatusUnknown {
		slog.Warn("one-off check failed", "chat", msg.ChatID, "url", target, "reason", result.Reason)
		h.reply(ctx, msg, "An error occurred while checking availability. Please try again later.")
		return
	}

	if result.Signal == monitor.StatusAvailable {
		h.reply(ctx, msg, "The item is available ✅ Sending a screenshot...")
	} else {
		h.reply(ctx, msg, "The item is not available yet ❌ Use /watch to be notified when it is.")
	}

	img, err := h.prober.CaptureEvidence(ctx, target)
	if err != nil {
		slog.Warn("one-off capture failed", "chat", msg.ChatID, "url", target, "error", err)
		h.reply(ctx, msg, "Could not capture a screenshot of the page.")
		return
	}
	if err := h.out.SendImage(ctx, msg.ChatID, img, "Status: "+monitor.StatusLabel(result.Signal)); err != nil {
		slog.Error("send screenshot failed", "chat", msg.ChatID, "error", err)
	}
}

func (h *Handler) cmdWatch(ctx context.Context, msg Message, arg string) {
	target, ok := h.targetURL(arg)
	if !ok {
		h.reply(ctx, msg, "The URL does not look valid. Usage: /watch [url]")
		return
	}
	if _, active := h.monitors.Get(msg.ChatID); active {
		h.reply(ctx, msg, "Monitoring is already active. Use /stop to stop it first.")
		return
	}

	interval := h.cfgMgr.Get().Monitor.IntervalDuration()
	h.reply(ctx, msg, fmt.Sprintf(
		"Starting automatic monitoring every %s.\n%s\nUse /stop to stop it.",
		cadence(interval), target))

	_, err := h.monitors.Start(ctx, msg.ChatID, target)
	switch {
	case err == nil:
	case errors.Is(err, monitor.ErrAlreadyActive):
		h.reply(ctx, msg, "Monitoring is already active. Use /stop to stop it first.")
	case errors.Is(err, monitor.ErrCapacity):
		h.reply(ctx, msg, "Too many monitors are active right now. Please try again later.")
	default:
		slog.Error("start monitor failed", "chat", msg.ChatID, "error", err)
		h.reply(ctx, msg, "Could not start monitoring. Please try again later.")
	}
}

func (h *Handler) cmdStop(ctx context.Context, msg Message, _ string) {
	elapsed, err := h.monitors.Stop(msg.ChatID)
	if errors.Is(err, monitor.ErrNotFound) {
		h.reply(ctx, msg, "There is no active monitoring to stop.")
		return
	}
	if err != nil {
		slog.Error("stop monitor failed", "chat", msg.ChatID, "error", err)
		h.reply(ctx, msg, "Could not stop monitoring. Please try again later.")
		return
	}
	h.reply(ctx, msg, fmt.Sprintf("Automatic monitoring stopped. It was active for %s.", monitor.FormatDuration(elapsed)))
}

func (h *Handler) cmdStatus(ctx context.Context, msg Message, _ string) {
	task, ok := h.monitors.Get(msg.ChatID)
	if !ok {
		h.reply(ctx, msg, "No active monitoring. Use /watch to start one.")
		return
	}

	now := h.now()
	var b strings.Builder
	fmt.Fprintf(&b, "Monitoring %s\n", task.TargetURL)
	fmt.Fprintf(&b, "Status: %s\n", monitor.StatusLabel(task.LastStatus))
	fmt.Fprintf(&b, "Checks: %d\n", task.CheckCount)
	fmt.Fprintf(&b, "Running for: %s\n", monitor.FormatDuration(task.Elapsed(now)))
	if task.HasEvidence() {
		fmt.Fprintf(&b, "Last screenshot: %s ago", monitor.FormatDuration(now.Sub(task.LastEvidence)))
	} else {
		b.WriteString("Last screenshot: never")
	}

	if h.history != nil {
		if s, ok := h.history.Summarize(msg.ChatID, now, 24*time.Hour); ok {
			fmt.Fprintf(&b, "\nAvailable %.1f%% of the last %d checks (%d errors)", s.AvailableRatio, s.Checks, s.Errors)
		}
	}
	h.reply(ctx, msg, b.String())
}

func (h *Handler) reply(ctx context.Context, msg Message, text string) {
	if err := h.out.SendText(ctx, msg.ChatID, text); err != nil {
		slog.Error("reply failed", "chat", msg.ChatID, "error", err)
	}
}

// cadence renders a polling interval as "2 minutes", "1 minute" or "45 seconds".
func cadence(d time.Duration) string {
	if d >= time.Minute && d%time.Minute == 0 {
		if m := int(d / time.Minute); m != 1 {
			return fmt.Sprintf("%d minutes", m)
		}
		return "1 minute"
	}
	return fmt.Sprintf("%d seconds", int(d/time.Second))
}
