package assistant

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"mediassist/internal/backend"
	"mediassist/internal/scan"
)

type fakeBackend struct {
	mu sync.Mutex

	sessionInfo *backend.SessionInfo
	sessionErr  error
	analyzeResp *backend.AnalyzeResponse
	analyzeErr  error
	chatReplies []*backend.ChatResponse
	chatErr     error
	analyzeGate chan struct{}

	sessionCalls []string
	analyzeCalls []backend.AnalyzeRequest
	chatCalls    []backend.ChatRequest
}

func (f *fakeBackend) GetSession(_ context.Context, id string) (*backend.SessionInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessionCalls = append(f.sessionCalls, id)
	return f.sessionInfo, f.sessionErr
}

func (f *fakeBackend) AnalyzeScan(_ context.Context, req backend.AnalyzeRequest) (*backend.AnalyzeResponse, error) {
	f.mu.Lock()
	f.analyzeCalls = append(f.analyzeCalls, req)
	gate := f.analyzeGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.analyzeResp, f.analyzeErr
}

func (f *fakeBackend) Chat(_ context.Context, req backend.ChatRequest) (*backend.ChatResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chatCalls = append(f.chatCalls, req)
	if f.chatErr != nil {
		return nil, f.chatErr
	}
	if len(f.chatReplies) == 0 {
		return &backend.ChatResponse{Reply: "ok"}, nil
	}
	reply := f.chatReplies[0]
	f.chatReplies = f.chatReplies[1:]
	return reply, nil
}

func (f *fakeBackend) analyzeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.analyzeCalls)
}

type memStore struct {
	mu     sync.Mutex
	values map[string]string
	sets   int
}

func newMemStore() *memStore { return &memStore{values: map[string]string{}} }

func (m *memStore) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *memStore) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	m.sets++
	return nil
}

type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingSink) Emit(_ context.Context, e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func newTestSession(b *fakeBackend, store *memStore) *Session {
	return NewSession(b, store, Options{})
}

func pngFile(name string) scan.File {
	return scan.File{Name: name, ContentType: "image/png", Data: []byte("not-really-a-png")}
}

func TestSelectFileRejectsOversizeScan(t *testing.T) {
	s := newTestSession(&fakeBackend{}, newMemStore())
	if err := s.SelectFile(pngFile("first.png")); err != nil {
		t.Fatalf("select valid file: %v", err)
	}

	big := pngFile("huge.png")
	big.Size = scan.MaxBytes + 1
	err := s.SelectFile(big)
	if !errors.Is(err, ErrRejectedFile) || !errors.Is(err, scan.ErrTooLarge) {
		t.Fatalf("expected size rejection, got %v", err)
	}

	snap := s.Snapshot()
	if snap.Selection == nil || snap.Selection.Filename != "first.png" {
		t.Fatalf("selection changed after rejection: %+v", snap.Selection)
	}
	if snap.Notification == nil || snap.Notification.Severity != SeverityError {
		t.Fatalf("expected error notification, got %+v", snap.Notification)
	}
	if snap.Notification.Message != "File size exceeds 10MB limit" {
		t.Fatalf("unexpected notification text %q", snap.Notification.Message)
	}
}

func TestSelectFileAcceptedTypes(t *testing.T) {
	cases := []struct {
		name        string
		contentType string
		wantErr     bool
	}{
		{"scan.jpg", "image/jpeg", false},
		{"scan.png", "image/png", false},
		{"scan.img", "image/dicom", false},
		{"scan.img", "application/dicom", false},
		{"series.dcm", "application/octet-stream", false},
		{"series.dcm", "", false},
		{"scan.bin", "", true},
		{"notes.txt", "text/plain", true},
		{"photo.gif", "image/gif", true},
	}
	for _, tc := range cases {
		t.Run(tc.name+"_"+tc.contentType, func(t *testing.T) {
			s := newTestSession(&fakeBackend{}, newMemStore())
			err := s.SelectFile(scan.File{Name: tc.name, ContentType: tc.contentType, Data: []byte{1, 2, 3}})
			if tc.wantErr {
				if !errors.Is(err, scan.ErrUnsupportedType) {
					t.Fatalf("expected type rejection, got %v", err)
				}
				if s.Snapshot().Selection != nil {
					t.Fatal("rejected file must not be selected")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestClearSelectionKeepsResults(t *testing.T) {
	b := &fakeBackend{analyzeResp: &backend.AnalyzeResponse{Analysis: "Lungs look clear.", SessionID: "s1", Timestamp: "2025-01-01T10:00:00"}}
	s := newTestSession(b, newMemStore())
	_ = s.SelectFile(pngFile("a.png"))
	if err := s.UploadAndAnalyze(context.Background()); err != nil {
		t.Fatalf("upload: %v", err)
	}
	_ = s.SelectFile(pngFile("b.png"))
	s.ClearSelection()

	snap := s.Snapshot()
	if snap.Selection != nil {
		t.Fatal("selection should be cleared")
	}
	if snap.Analysis != "Lungs look clear." || len(snap.History) != 1 {
		t.Fatalf("results lost: analysis=%q history=%d", snap.Analysis, len(snap.History))
	}
}

func TestUploadAndAnalyzeSuccess(t *testing.T) {
	b := &fakeBackend{
		analyzeResp: &backend.AnalyzeResponse{
			Analysis:  "The brain appears normal.",
			SessionID: "sess-1",
			Timestamp: "2025-02-03T04:05:06",
			ImageType: "image/png",
		},
	}
	store := newMemStore()
	sink := &recordingSink{}
	s := NewSession(b, store, Options{Sink: sink})
	s.Restore(context.Background())

	_ = s.SelectFile(pngFile("old.png"))
	_ = s.SelectFile(pngFile("head.png"))
	if err := s.SetTab(TabScan); err != nil {
		t.Fatal(err)
	}
	before := len(s.Snapshot().Messages)

	if err := s.UploadAndAnalyze(context.Background()); err != nil {
		t.Fatalf("upload: %v", err)
	}

	snap := s.Snapshot()
	if snap.Selection != nil {
		t.Fatal("selection must be cleared after upload")
	}
	if len(snap.History) != 1 || snap.History[0].Filename != "head.png" || snap.History[0].Timestamp != "2025-02-03T04:05:06" {
		t.Fatalf("unexpected history %+v", snap.History)
	}
	if snap.ActiveTab != TabChat {
		t.Fatalf("active tab = %s, want chat", snap.ActiveTab)
	}
	if snap.Analysis != "The brain appears normal." {
		t.Fatalf("analysis = %q", snap.Analysis)
	}
	if len(snap.Messages) != before+1 || snap.Messages[len(snap.Messages)-1].Role != RoleSystem {
		t.Fatalf("expected a trailing system notice, got %+v", snap.Messages)
	}
	if snap.SessionID != "sess-1" || store.values[DefaultStoreKey] != "sess-1" {
		t.Fatalf("session id not adopted: snap=%q store=%q", snap.SessionID, store.values[DefaultStoreKey])
	}
	if snap.Notification == nil || snap.Notification.Severity != SeveritySuccess {
		t.Fatalf("expected success notification, got %+v", snap.Notification)
	}
	if snap.UploadState != UploadIdle {
		t.Fatalf("upload state = %s", snap.UploadState)
	}
	if b.analyzeCalls[0].SessionID != "" || b.analyzeCalls[0].ContentType != "image/png" {
		t.Fatalf("unexpected analyze request %+v", b.analyzeCalls[0])
	}
	if len(sink.events) == 0 || sink.events[0].Kind != EventScanAnalyzed {
		t.Fatalf("expected scan event, got %+v", sink.events)
	}

	b.analyzeResp = &backend.AnalyzeResponse{Analysis: "second", SessionID: "sess-1", Timestamp: "t2"}
	_ = s.SelectFile(pngFile("knee.png"))
	if err := s.UploadAndAnalyze(context.Background()); err != nil {
		t.Fatal(err)
	}
	snap = s.Snapshot()
	if len(snap.History) != 2 || snap.History[0].Filename != "knee.png" {
		t.Fatalf("newest scan must come first: %+v", snap.History)
	}
	if b.analyzeCalls[1].SessionID != "sess-1" {
		t.Fatalf("second upload should carry session id, got %q", b.analyzeCalls[1].SessionID)
	}
}

func TestUploadAndAnalyzeFailureLeavesStateUnchanged(t *testing.T) {
	b := &fakeBackend{analyzeResp: &backend.AnalyzeResponse{Analysis: "first", SessionID: "s1", Timestamp: "t1"}}
	s := newTestSession(b, newMemStore())
	_ = s.SelectFile(pngFile("first.png"))
	if err := s.UploadAndAnalyze(context.Background()); err != nil {
		t.Fatal(err)
	}
	_ = s.SelectFile(pngFile("second.png"))
	before := s.Snapshot()

	b.analyzeErr = &backend.APIError{StatusCode: 500, Detail: "Error processing scan: quota exceeded"}
	err := s.UploadAndAnalyze(context.Background())
	var apiErr *backend.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected api error, got %v", err)
	}

	after := s.Snapshot()
	if !reflect.DeepEqual(before.Selection, after.Selection) {
		t.Fatalf("selection changed: %+v -> %+v", before.Selection, after.Selection)
	}
	if before.Analysis != after.Analysis || !reflect.DeepEqual(before.History, after.History) {
		t.Fatal("analysis or history changed after failure")
	}
	if after.UploadState != UploadError {
		t.Fatalf("upload state = %s, want error", after.UploadState)
	}
	want := "Error analyzing scan: Failed to analyze scan: Error processing scan: quota exceeded"
	if after.Notification == nil || after.Notification.Message != want {
		t.Fatalf("notification = %+v, want %q", after.Notification, want)
	}
}

func TestUploadAndAnalyzeFailureWithoutDetailUsesStatusText(t *testing.T) {
	b := &fakeBackend{analyzeErr: &backend.APIError{StatusCode: 502}}
	s := newTestSession(b, newMemStore())
	_ = s.SelectFile(pngFile("a.png"))
	_ = s.UploadAndAnalyze(context.Background())

	note := s.Snapshot().Notification
	if note == nil || note.Message != "Error analyzing scan: Failed to analyze scan: Bad Gateway" {
		t.Fatalf("unexpected notification %+v", note)
	}
}

func TestUploadAndAnalyzeTransportFailureMessage(t *testing.T) {
	b := &fakeBackend{analyzeErr: errors.New("connection refused")}
	s := newTestSession(b, newMemStore())
	_ = s.SelectFile(pngFile("a.png"))
	_ = s.UploadAndAnalyze(context.Background())

	note := s.Snapshot().Notification
	if note == nil || note.Message != "Error analyzing scan: connection refused" {
		t.Fatalf("unexpected notification %+v", note)
	}
}

func TestUploadAndAnalyzeWithoutSelection(t *testing.T) {
	b := &fakeBackend{}
	s := newTestSession(b, newMemStore())

	if err := s.UploadAndAnalyze(context.Background()); !errors.Is(err, ErrNoSelection) {
		t.Fatalf("expected ErrNoSelection, got %v", err)
	}
	if b.analyzeCount() != 0 {
		t.Fatal("no request expected without selection")
	}
	if note := s.Snapshot().Notification; note == nil || note.Message != "Please select a file first" {
		t.Fatalf("unexpected notification %+v", note)
	}
}

func TestUploadAndAnalyzeRejectsSecondTriggerWhileBusy(t *testing.T) {
	gate := make(chan struct{})
	b := &fakeBackend{
		analyzeResp: &backend.AnalyzeResponse{Analysis: "x", SessionID: "s1", Timestamp: "t"},
		analyzeGate: gate,
	}
	s := newTestSession(b, newMemStore())
	_ = s.SelectFile(pngFile("a.png"))

	done := make(chan error, 1)
	go func() { done <- s.UploadAndAnalyze(context.Background()) }()

	deadline := time.Now().Add(2 * time.Second)
	for s.Snapshot().UploadState != UploadUploading {
		if time.Now().After(deadline) {
			t.Fatal("upload never started")
		}
		time.Sleep(time.Millisecond)
	}

	if err := s.UploadAndAnalyze(context.Background()); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	close(gate)
	if err := <-done; err != nil {
		t.Fatalf("first upload: %v", err)
	}
	if n := b.analyzeCount(); n != 1 {
		t.Fatalf("analyze called %d times, want 1", n)
	}
}

func TestSendMessageIgnoresBlankInput(t *testing.T) {
	b := &fakeBackend{}
	s := NewSession(b, newMemStore(), Options{Greeting: DefaultGreeting})
	before := len(s.Snapshot().Messages)

	for _, text := range []string{"", "   "} {
		if err := s.SendMessage(context.Background(), text); !errors.Is(err, ErrEmptyMessage) {
			t.Fatalf("SendMessage(%q) = %v, want ErrEmptyMessage", text, err)
		}
	}
	if got := len(s.Snapshot().Messages); got != before {
		t.Fatalf("transcript grew from %d to %d", before, got)
	}
	if len(b.chatCalls) != 0 {
		t.Fatal("blank input must not reach the backend")
	}
}

func TestSendMessageExcludesSystemMessagesFromPayload(t *testing.T) {
	b := &fakeBackend{
		chatReplies: []*backend.ChatResponse{{Reply: "b"}, {Reply: "e"}},
		analyzeResp: &backend.AnalyzeResponse{Analysis: "scan", Timestamp: "t"},
	}
	s := newTestSession(b, newMemStore())
	ctx := context.Background()

	if err := s.SendMessage(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	_ = s.SelectFile(pngFile("c.png"))
	if err := s.UploadAndAnalyze(ctx); err != nil {
		t.Fatal(err)
	}
	msgs := s.Snapshot().Messages
	if len(msgs) != 3 || msgs[2].Role != RoleSystem {
		t.Fatalf("expected [user assistant system], got %+v", msgs)
	}

	if err := s.SendMessage(ctx, "d"); err != nil {
		t.Fatal(err)
	}
	want := []backend.ChatMessage{
		{Role: "user", Content: "a"},
		{Role: "assistant", Content: "b"},
		{Role: "user", Content: "d"},
	}
	got := b.chatCalls[1].Messages
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("outbound messages = %+v, want %+v", got, want)
	}
}

func TestSendMessageFailureKeepsUserMessage(t *testing.T) {
	b := &fakeBackend{chatErr: errors.New("connection refused")}
	s := newTestSession(b, newMemStore())

	err := s.SendMessage(context.Background(), "hello")
	if err == nil {
		t.Fatal("expected error")
	}

	snap := s.Snapshot()
	if len(snap.Messages) != 2 {
		t.Fatalf("expected user message plus fallback, got %+v", snap.Messages)
	}
	if snap.Messages[0] != (ChatMessage{Role: RoleUser, Content: "hello"}) {
		t.Fatalf("user message lost: %+v", snap.Messages[0])
	}
	if snap.Messages[1].Role != RoleAssistant || snap.Messages[1].Content != chatFallbackReply {
		t.Fatalf("unexpected fallback %+v", snap.Messages[1])
	}
	if snap.Notification == nil || snap.Notification.Message != "Error sending message. Please try again." {
		t.Fatalf("unexpected notification %+v", snap.Notification)
	}
	if snap.ChatState != ChatError {
		t.Fatalf("chat state = %s", snap.ChatState)
	}

	b.chatErr = nil
	if err := s.SendMessage(context.Background(), "again"); err != nil {
		t.Fatalf("send after failure: %v", err)
	}
}

func TestBeginSendExposesPendingState(t *testing.T) {
	b := &fakeBackend{}
	s := newTestSession(b, newMemStore())
	ctx := context.Background()

	turn, err := s.BeginSend(ctx, "is this normal?")
	if err != nil {
		t.Fatal(err)
	}
	pending := s.Snapshot()
	if pending.ChatState != ChatSending || len(pending.Messages) != 1 {
		t.Fatalf("unexpected pending snapshot %+v", pending)
	}
	if _, err := s.BeginSend(ctx, "second"); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}

	if err := s.CompleteSend(ctx, turn, &backend.ChatResponse{Reply: "It looks typical.", SessionID: "s9"}, nil); err != nil {
		t.Fatal(err)
	}
	done := s.Snapshot()
	if done.ChatState != ChatIdle || len(done.Messages) != 2 || done.SessionID != "s9" {
		t.Fatalf("unexpected final snapshot %+v", done)
	}
}

func TestSessionIDFirstWriterWins(t *testing.T) {
	b := &fakeBackend{
		chatReplies: []*backend.ChatResponse{{Reply: "1", SessionID: "first"}, {Reply: "2", SessionID: "second"}},
		analyzeResp: &backend.AnalyzeResponse{Analysis: "x", SessionID: "third", Timestamp: "t"},
	}
	store := newMemStore()
	s := newTestSession(b, store)
	ctx := context.Background()

	_ = s.SendMessage(ctx, "one")
	_ = s.SendMessage(ctx, "two")
	_ = s.SelectFile(pngFile("a.png"))
	_ = s.UploadAndAnalyze(ctx)

	if got := s.SessionID(); got != "first" {
		t.Fatalf("session id = %q, want first", got)
	}
	if store.values[DefaultStoreKey] != "first" || store.sets != 1 {
		t.Fatalf("store = %v after %d writes", store.values, store.sets)
	}
	if b.chatCalls[1].SessionID != "first" || b.analyzeCalls[0].SessionID != "first" {
		t.Fatal("later requests must carry the held session id")
	}
}

func TestRestoreSeedsHistoryFromLatestAnalysis(t *testing.T) {
	b := &fakeBackend{sessionInfo: &backend.SessionInfo{
		SessionID: "s-old",
		LatestAnalysis: &backend.AnalysisRecord{
			Filename:    "chest.png",
			ContentType: "image/png",
			Timestamp:   "2025-01-01T00:00:00",
			Analysis:    "Heart size is within range.",
		},
	}}
	store := newMemStore()
	store.values[DefaultStoreKey] = "s-old"
	s := newTestSession(b, store)

	s.Restore(context.Background())
	s.Restore(context.Background())

	snap := s.Snapshot()
	if len(b.sessionCalls) != 1 || b.sessionCalls[0] != "s-old" {
		t.Fatalf("session calls = %v", b.sessionCalls)
	}
	if snap.SessionID != "s-old" || snap.Analysis != "Heart size is within range." {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if len(snap.History) != 1 || snap.History[0].Filename != "chest.png" {
		t.Fatalf("unexpected history %+v", snap.History)
	}
	if len(snap.VisibleTabs) != 3 {
		t.Fatalf("history tab should be visible: %v", snap.VisibleTabs)
	}
}

func TestRestoreSwallowsBackendFailure(t *testing.T) {
	b := &fakeBackend{sessionErr: &backend.APIError{StatusCode: 404, Detail: "Session not found"}}
	store := newMemStore()
	store.values[DefaultStoreKey] = "gone"
	s := newTestSession(b, store)

	s.Restore(context.Background())

	snap := s.Snapshot()
	if snap.Notification != nil {
		t.Fatalf("restore failure must stay silent, got %+v", snap.Notification)
	}
	if len(snap.History) != 0 || snap.Analysis != "" {
		t.Fatalf("expected empty session, got %+v", snap)
	}
}

func TestRestoreWithoutStoredID(t *testing.T) {
	b := &fakeBackend{}
	s := newTestSession(b, newMemStore())
	s.Restore(context.Background())
	if len(b.sessionCalls) != 0 {
		t.Fatal("no backend call expected without a stored id")
	}
}

func TestVisibleTabsHideEmptyHistory(t *testing.T) {
	s := newTestSession(&fakeBackend{}, newMemStore())
	if got := s.VisibleTabs(); !reflect.DeepEqual(got, []Tab{TabChat, TabScan}) {
		t.Fatalf("visible tabs = %v", got)
	}
	if err := s.SetTab(TabHistory); err != nil {
		t.Fatalf("hidden tab is still selectable: %v", err)
	}
	if err := s.SetTab(Tab("settings")); !errors.Is(err, ErrUnknownTab) {
		t.Fatalf("expected ErrUnknownTab, got %v", err)
	}
}

func TestSubscribeReceivesSnapshots(t *testing.T) {
	s := newTestSession(&fakeBackend{}, newMemStore())
	updates, cancel := s.Subscribe()
	defer cancel()

	_ = s.SetTab(TabScan)

	select {
	case snap := <-updates:
		if snap.ActiveTab != TabScan {
			t.Fatalf("active tab = %s", snap.ActiveTab)
		}
	case <-time.After(time.Second):
		t.Fatal("no snapshot received")
	}

	s.Close()
	if _, ok := <-updates; ok {
		t.Fatal("channel should be closed after Close")
	}
}

func TestGreetingOpensTranscript(t *testing.T) {
	s := NewSession(&fakeBackend{}, nil, Options{Greeting: DefaultGreeting})
	msgs := s.Snapshot().Messages
	if len(msgs) != 1 || msgs[0].Role != RoleAssistant || msgs[0].Content != DefaultGreeting {
		t.Fatalf("unexpected transcript %+v", msgs)
	}
}
