// Package assistant holds the state of one patient's assistant session: the chat
// transcript, the pending scan selection, completed analyses and the backend
// session identifier tying them together.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"mediassist/internal/backend"
	"mediassist/internal/scan"
)

const (
	DefaultStoreKey = "medicalChatSessionId"
	DefaultGreeting = "Hello! I'm MediAssist, your healthcare assistant. How can I help you today?"

	scanAnalyzedNotice = "I've analyzed your scan. Feel free to ask me any questions about the results."
	chatFallbackReply  = "Sorry, I encountered an error processing your request. Please try again later."

	msgInvalidScanType = "Please upload a valid medical image (JPEG, PNG, or DICOM)"
	msgNoSelection     = "Please select a file first"
	msgScanAnalyzed    = "Scan analyzed successfully"
	msgChatFailed      = "Error sending message. Please try again."
)

type Options struct {
	// StoreKey is the SessionStore key holding the backend session id.
	StoreKey string
	// Greeting opens the transcript; empty starts with no messages.
	Greeting        string
	MaxScanBytes    int64
	PreviewEdge     int
	NotificationTTL time.Duration
	Now             func() time.Time
	Sink            EventSink
	Logger          *slog.Logger
}

// Session is safe for concurrent use. Backend calls are made without holding
// the lock; the upload and chat workflows each refuse a second request while
// one is in flight.
type Session struct {
	mu       sync.Mutex
	backend  Backend
	store    SessionStore
	opts     Options
	logger   *slog.Logger
	notifier *Notifier

	sessionID   string
	messages    []ChatMessage
	selection   *scan.Selection
	analysis    string
	history     []ScanRecord
	activeTab   Tab
	uploadState UploadState
	chatState   ChatState
	restored    bool

	subsMu    sync.Mutex
	subs      map[int]chan Snapshot
	nextSubID int
	closed    bool
}

// PendingTurn is a chat message already shown in the transcript whose reply
// has not arrived yet.
type PendingTurn struct {
	Request backend.ChatRequest

	// held is the user message event of a turn started before the backend
	// issued a session id. It is emitted once the reply settles the id.
	held *Event
}

func NewSession(b Backend, store SessionStore, opts Options) *Session {
	if opts.StoreKey == "" {
		opts.StoreKey = DefaultStoreKey
	}
	if opts.MaxScanBytes <= 0 {
		opts.MaxScanBytes = scan.MaxBytes
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	s := &Session{
		backend:     b,
		store:       store,
		opts:        opts,
		logger:      opts.Logger,
		messages:    []ChatMessage{},
		history:     []ScanRecord{},
		activeTab:   TabChat,
		uploadState: UploadIdle,
		chatState:   ChatIdle,
		subs:        make(map[int]chan Snapshot),
	}
	if opts.Greeting != "" {
		s.messages = append(s.messages, ChatMessage{Role: RoleAssistant, Content: opts.Greeting})
	}
	s.notifier = NewNotifier(opts.NotificationTTL, opts.Now, s.broadcast)
	return s
}

// Restore picks up a previously persisted backend session. Every failure is
// logged and ignored; the session then simply starts empty.
func (s *Session) Restore(ctx context.Context) {
	s.mu.Lock()
	if s.restored {
		s.mu.Unlock()
		return
	}
	s.restored = true
	s.mu.Unlock()

	if s.store == nil {
		return
	}
	storedID, ok, err := s.store.Get(ctx, s.opts.StoreKey)
	if err != nil {
		s.logger.Warn("read stored session id failed", "key", s.opts.StoreKey, "error", err)
		return
	}
	if !ok || storedID == "" {
		return
	}

	s.mu.Lock()
	if s.sessionID == "" {
		s.sessionID = storedID
	}
	s.mu.Unlock()

	info, err := s.backend.GetSession(ctx, storedID)
	if err != nil {
		s.logger.Warn("fetch session info failed", "session_id", storedID, "error", err)
		s.broadcast()
		return
	}
	if latest := info.LatestAnalysis; latest != nil {
		s.mu.Lock()
		s.analysis = latest.Analysis
		s.history = append([]ScanRecord{{
			Filename:  latest.Filename,
			Timestamp: latest.Timestamp,
			Analysis:  latest.Analysis,
			ImageType: latest.ContentType,
		}}, s.history...)
		s.mu.Unlock()
	}
	s.broadcast()
}

// SelectFile replaces the pending selection if f passes validation. A rejected
// file raises an error notification and leaves the previous selection alone.
func (s *Session) SelectFile(f scan.File) error {
	sel, err := scan.NewSelection(f, s.opts.MaxScanBytes, s.opts.PreviewEdge)
	if err != nil {
		switch {
		case errors.Is(err, scan.ErrTooLarge):
			s.notifier.Show(fmt.Sprintf("File size exceeds %dMB limit", s.opts.MaxScanBytes>>20), SeverityError)
		default:
			s.notifier.Show(msgInvalidScanType, SeverityError)
		}
		s.broadcast()
		return fmt.Errorf("%w: %w", ErrRejectedFile, err)
	}

	s.mu.Lock()
	s.selection = sel
	s.mu.Unlock()
	s.broadcast()
	return nil
}

// ClearSelection drops the pending scan. Analysis and history are kept.
func (s *Session) ClearSelection() {
	s.mu.Lock()
	s.selection = nil
	s.mu.Unlock()
	s.broadcast()
}

func (s *Session) UploadAndAnalyze(ctx context.Context) error {
	s.mu.Lock()
	if s.uploadState == UploadUploading {
		s.mu.Unlock()
		return ErrBusy
	}
	sel := s.selection
	if sel == nil {
		s.mu.Unlock()
		s.notifier.Show(msgNoSelection, SeverityError)
		s.broadcast()
		return ErrNoSelection
	}
	s.uploadState = UploadUploading
	sessionID := s.sessionID
	s.mu.Unlock()
	s.broadcast()

	resp, err := s.backend.AnalyzeScan(ctx, backend.AnalyzeRequest{
		Filename:    sel.Filename,
		ContentType: sel.ContentType,
		Data:        sel.Data,
		SessionID:   sessionID,
	})
	if err != nil {
		s.mu.Lock()
		s.uploadState = UploadError
		s.mu.Unlock()
		s.logger.Warn("analyze scan failed", "filename", sel.Filename, "error", err)
		s.notifier.Show(analyzeFailureMessage(err), SeverityError)
		s.broadcast()
		return fmt.Errorf("analyze scan failed: %w", err)
	}

	record := ScanRecord{
		Filename:  sel.Filename,
		Timestamp: resp.Timestamp,
		Analysis:  resp.Analysis,
		ImageType: resp.ImageType,
	}
	notice := ChatMessage{Role: RoleSystem, Content: scanAnalyzedNotice}

	s.mu.Lock()
	s.analysis = resp.Analysis
	s.history = append([]ScanRecord{record}, s.history...)
	s.messages = append(s.messages, notice)
	// a file picked while this one was uploading stays selected
	if s.selection == sel {
		s.selection = nil
	}
	s.activeTab = TabChat
	s.uploadState = UploadIdle
	adopted := s.adoptSessionIDLocked(resp.SessionID)
	sessionID = s.sessionID
	s.mu.Unlock()

	s.persistSessionID(ctx, adopted)
	s.notifier.Show(msgScanAnalyzed, SeveritySuccess)
	s.emit(ctx, Event{Kind: EventScanAnalyzed, SessionID: sessionID, Scan: &record})
	s.emit(ctx, Event{Kind: EventMessageAppended, SessionID: sessionID, Message: &notice})
	s.broadcast()
	return nil
}

// SendMessage runs both phases of a chat turn.
func (s *Session) SendMessage(ctx context.Context, text string) error {
	turn, err := s.BeginSend(ctx, text)
	if err != nil {
		return err
	}
	resp, callErr := s.backend.Chat(ctx, turn.Request)
	return s.CompleteSend(ctx, turn, resp, callErr)
}

// BeginSend appends the user message right away and returns the request to
// send. Local system notices are left out of the outbound transcript.
func (s *Session) BeginSend(ctx context.Context, text string) (*PendingTurn, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyMessage
	}

	s.mu.Lock()
	if s.chatState == ChatSending {
		s.mu.Unlock()
		return nil, ErrBusy
	}
	msg := ChatMessage{Role: RoleUser, Content: text}
	s.messages = append(s.messages, msg)
	s.chatState = ChatSending
	outbound := make([]backend.ChatMessage, 0, len(s.messages))
	for _, m := range s.messages {
		if m.Role == RoleSystem {
			continue
		}
		outbound = append(outbound, backend.ChatMessage{Role: string(m.Role), Content: m.Content})
	}
	sessionID := s.sessionID
	s.mu.Unlock()

	turn := &PendingTurn{Request: backend.ChatRequest{Messages: outbound, SessionID: sessionID}}
	event := Event{Kind: EventMessageAppended, SessionID: sessionID, Message: &msg, At: s.now()}
	if sessionID == "" {
		turn.held = &event
	} else {
		s.emit(ctx, event)
	}
	s.broadcast()
	return turn, nil
}

// CompleteSend reconciles a pending turn with the backend outcome. On failure
// a fallback reply is appended; the user message stays in the transcript.
func (s *Session) CompleteSend(ctx context.Context, turn *PendingTurn, resp *backend.ChatResponse, callErr error) error {
	if callErr == nil && resp == nil {
		callErr = errors.New("empty chat response")
	}

	var reply ChatMessage
	var adopted string
	s.mu.Lock()
	if callErr == nil {
		reply = ChatMessage{Role: RoleAssistant, Content: resp.Reply}
		adopted = s.adoptSessionIDLocked(resp.SessionID)
		s.chatState = ChatIdle
	} else {
		reply = ChatMessage{Role: RoleAssistant, Content: chatFallbackReply}
		s.chatState = ChatError
	}
	s.messages = append(s.messages, reply)
	sessionID := s.sessionID
	s.mu.Unlock()

	if callErr != nil {
		s.logger.Warn("chat request failed", "messages", len(turn.Request.Messages), "error", callErr)
		s.notifier.Show(msgChatFailed, SeverityError)
	} else {
		s.persistSessionID(ctx, adopted)
	}
	if turn.held != nil {
		held := *turn.held
		held.SessionID = sessionID
		s.emit(ctx, held)
	}
	s.emit(ctx, Event{Kind: EventMessageAppended, SessionID: sessionID, Message: &reply})
	s.broadcast()

	if callErr != nil {
		return fmt.Errorf("chat failed: %w", callErr)
	}
	return nil
}

// SetTab switches the active view. Tabs have no transition guards.
func (s *Session) SetTab(tab Tab) error {
	if _, err := ParseTab(string(tab)); err != nil {
		return err
	}
	s.mu.Lock()
	s.activeTab = tab
	s.mu.Unlock()
	s.broadcast()
	return nil
}

func (s *Session) VisibleTabs() []Tab {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.visibleTabsLocked()
}

// MaxScanBytes is the size limit SelectFile enforces.
func (s *Session) MaxScanBytes() int64 {
	return s.opts.MaxScanBytes
}

func (s *Session) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		SessionID:    s.sessionID,
		Messages:     append([]ChatMessage{}, s.messages...),
		Analysis:     s.analysis,
		Insights:     ExtractInsights(s.analysis),
		History:      append([]ScanRecord{}, s.history...),
		Notification: s.notifier.Current(),
		ActiveTab:    s.activeTab,
		VisibleTabs:  s.visibleTabsLocked(),
		UploadState:  s.uploadState,
		ChatState:    s.chatState,
	}
	if snap.Insights == nil {
		snap.Insights = []Insight{}
	}
	if s.selection != nil {
		snap.Selection = &SelectionView{
			Filename:    s.selection.Filename,
			ContentType: s.selection.ContentType,
			Size:        s.selection.Size,
			Preview:     s.selection.Preview,
		}
	}
	return snap
}

// Subscribe streams a fresh snapshot after every change. Slow readers only see
// the latest one. The returned func unsubscribes.
func (s *Session) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)

	s.subsMu.Lock()
	if s.closed {
		s.subsMu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := s.nextSubID
	s.nextSubID++
	s.subs[id] = ch
	s.subsMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subsMu.Lock()
			defer s.subsMu.Unlock()
			if sub, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(sub)
			}
		})
	}
}

// Close stops the notification timer and ends all subscriptions.
func (s *Session) Close() {
	s.notifier.Stop()

	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	s.closed = true
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
}

func (s *Session) visibleTabsLocked() []Tab {
	tabs := []Tab{TabChat, TabScan}
	if len(s.history) > 0 {
		tabs = append(tabs, TabHistory)
	}
	return tabs
}

// adoptSessionIDLocked keeps the first identifier ever held. It returns the
// id that needs persisting, or "".
func (s *Session) adoptSessionIDLocked(id string) string {
	if id == "" || s.sessionID != "" {
		return ""
	}
	s.sessionID = id
	return id
}

func (s *Session) persistSessionID(ctx context.Context, id string) {
	if id == "" || s.store == nil {
		return
	}
	if err := s.store.Set(ctx, s.opts.StoreKey, id); err != nil {
		s.logger.Warn("persist session id failed", "key", s.opts.StoreKey, "error", err)
	}
}

func (s *Session) emit(ctx context.Context, event Event) {
	if s.opts.Sink == nil {
		return
	}
	if event.At.IsZero() {
		event.At = s.now()
	}
	s.opts.Sink.Emit(ctx, event)
}

// analyzeFailureMessage names the failed upload step for backend rejections.
func analyzeFailureMessage(err error) string {
	var apiErr *backend.APIError
	if errors.As(err, &apiErr) {
		return "Error analyzing scan: Failed to analyze scan: " + apiErr.Message()
	}
	return "Error analyzing scan: " + err.Error()
}

func (s *Session) now() time.Time {
	if s.opts.Now != nil {
		return s.opts.Now()
	}
	return time.Now()
}

func (s *Session) broadcast() {
	s.subsMu.Lock()
	if len(s.subs) == 0 {
		s.subsMu.Unlock()
		return
	}
	s.subsMu.Unlock()

	snap := s.Snapshot()

	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}
