package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"mediassist/internal/assistant"
	"mediassist/internal/backend"
	"mediassist/internal/scan"
)

const helpText = `Commands:
  <text>            ask the assistant
  /scan <path>      pick a scan file (JPEG, PNG or DICOM)
  /clear            drop the picked scan
  /analyze          upload the picked scan for analysis
  /insights         key findings of the latest analysis
  /history          analyzed scans, newest first
  /tab <name>       switch view: chat, scan or history
  /session          show the session id
  /ask <text>       quick question, kept out of the transcript
  /health           check the analysis service
  /help             show this help
  /quit             exit`

type serviceClient interface {
	Health(ctx context.Context) (*backend.HealthStatus, error)
	SimpleChat(ctx context.Context, message, sessionID string) (*backend.ChatResponse, error)
}

type repl struct {
	session *assistant.Session
	service serviceClient
	in      io.Reader
	out     io.Writer

	readFile func(name string) ([]byte, error)

	lastNotification string
	shown            int
}

func newREPL(session *assistant.Session, service serviceClient, in io.Reader, out io.Writer) *repl {
	return &repl{session: session, service: service, in: in, out: out, readFile: os.ReadFile}
}

// Run reads commands until EOF, /quit or ctx is done.
func (r *repl) Run(ctx context.Context) error {
	r.printNewMessages()
	fmt.Fprintln(r.out, `Type /help for commands.`)

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(r.in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- sc.Err()
	}()

	for {
		fmt.Fprint(r.out, "> ")
		select {
		case <-ctx.Done():
			fmt.Fprintln(r.out)
			return nil
		case line, ok := <-lines:
			if !ok {
				fmt.Fprintln(r.out)
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			if quit := r.handle(ctx, strings.TrimSpace(line)); quit {
				return nil
			}
		}
	}
}

func (r *repl) handle(ctx context.Context, line string) bool {
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, "/") {
		_ = r.session.SendMessage(ctx, line)
		r.printNewMessages()
		r.printNotification()
		return false
	}

	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch cmd {
	case "/quit", "/exit":
		return true
	case "/help":
		fmt.Fprintln(r.out, helpText)
	case "/scan":
		r.selectScan(arg)
	case "/clear":
		r.session.ClearSelection()
		fmt.Fprintln(r.out, "Selection cleared.")
	case "/analyze":
		r.analyze(ctx)
	case "/insights":
		r.printInsights(r.session.Snapshot())
	case "/history":
		r.printHistory(r.session.Snapshot())
	case "/tab":
		if err := r.session.SetTab(assistant.Tab(arg)); err != nil {
			fmt.Fprintf(r.out, "Unknown tab %q. Use chat, scan or history.\n", arg)
			break
		}
		r.printTab(r.session.Snapshot())
	case "/session":
		if id := r.session.SessionID(); id != "" {
			fmt.Fprintln(r.out, "Session:", id)
		} else {
			fmt.Fprintln(r.out, "No session yet.")
		}
	case "/ask":
		r.ask(ctx, arg)
	case "/health":
		r.checkHealth(ctx)
	default:
		fmt.Fprintf(r.out, "Unknown command %s. Type /help.\n", cmd)
	}
	return false
}

func (r *repl) selectScan(path string) {
	if path == "" {
		fmt.Fprintln(r.out, "Usage: /scan <path>")
		return
	}
	info, err := os.Stat(path)
	if err != nil {
		fmt.Fprintf(r.out, "Cannot read %s: %v\n", path, err)
		return
	}
	if info.IsDir() {
		fmt.Fprintf(r.out, "%s is a directory.\n", path)
		return
	}

	file := scan.File{
		Name:        filepath.Base(path),
		ContentType: mime.TypeByExtension(strings.ToLower(filepath.Ext(path))),
		Size:        info.Size(),
	}
	// oversized files are rejected on their stat size without being read
	if file.Size <= r.session.MaxScanBytes() {
		data, err := r.readFile(path)
		if err != nil {
			fmt.Fprintf(r.out, "Cannot read %s: %v\n", path, err)
			return
		}
		file.Data = data
		file.Size = int64(len(data))
	}
	if err := r.session.SelectFile(file); err != nil {
		r.printNotification()
		return
	}
	sel := r.session.Snapshot().Selection
	fmt.Fprintf(r.out, "Selected %s (%s, %d bytes). Type /analyze to upload.\n", sel.Filename, sel.ContentType, sel.Size)
}

func (r *repl) analyze(ctx context.Context) {
	if err := r.session.UploadAndAnalyze(ctx); err != nil {
		if errors.Is(err, assistant.ErrBusy) {
			fmt.Fprintln(r.out, "An upload is already running.")
		}
		r.printNotification()
		return
	}
	r.printNotification()

	snap := r.session.Snapshot()
	fmt.Fprintln(r.out, "Analysis:")
	fmt.Fprintln(r.out, snap.Analysis)
	r.printInsights(snap)
	r.printNewMessages()
}

func (r *repl) ask(ctx context.Context, question string) {
	if question == "" {
		fmt.Fprintln(r.out, "Usage: /ask <text>")
		return
	}
	resp, err := r.service.SimpleChat(ctx, question, r.session.SessionID())
	if err != nil {
		fmt.Fprintln(r.out, "Ask failed:", backend.UserMessage(err))
		return
	}
	fmt.Fprintln(r.out, "MediAssist:", resp.Reply)
}

func (r *repl) checkHealth(ctx context.Context) {
	status, err := r.service.Health(ctx)
	if err != nil {
		fmt.Fprintln(r.out, "Analysis service unavailable:", backend.UserMessage(err))
		return
	}
	fmt.Fprintf(r.out, "Analysis service %s (version %s).\n", status.Status, status.Version)
}

func (r *repl) printNewMessages() {
	msgs := r.session.Snapshot().Messages
	for _, m := range msgs[min(r.shown, len(msgs)):] {
		switch m.Role {
		case assistant.RoleUser:
			continue
		case assistant.RoleSystem:
			fmt.Fprintln(r.out, "*", m.Content)
		default:
			fmt.Fprintln(r.out, "MediAssist:", m.Content)
		}
	}
	r.shown = len(msgs)
}

func (r *repl) printNotification() {
	note := r.session.Snapshot().Notification
	if note == nil || note.ID == r.lastNotification {
		return
	}
	r.lastNotification = note.ID
	fmt.Fprintf(r.out, "[%s] %s\n", note.Severity, note.Message)
}

func (r *repl) printInsights(snap assistant.Snapshot) {
	if len(snap.Insights) == 0 {
		fmt.Fprintln(r.out, "No key findings yet.")
		return
	}
	fmt.Fprintln(r.out, "Key findings:")
	for _, in := range snap.Insights {
		fmt.Fprintf(r.out, "  %s: %s\n", in.Label, in.Text)
	}
}

func (r *repl) printHistory(snap assistant.Snapshot) {
	if len(snap.History) == 0 {
		fmt.Fprintln(r.out, "No scans analyzed yet.")
		return
	}
	for i, rec := range snap.History {
		fmt.Fprintf(r.out, "%d. %s  %s\n", i+1, rec.Filename, rec.Timestamp)
	}
}

func (r *repl) printTab(snap assistant.Snapshot) {
	names := make([]string, len(snap.VisibleTabs))
	for i, t := range snap.VisibleTabs {
		names[i] = string(t)
		if t == snap.ActiveTab {
			names[i] = "[" + names[i] + "]"
		}
	}
	fmt.Fprintln(r.out, strings.Join(names, " "))
}
