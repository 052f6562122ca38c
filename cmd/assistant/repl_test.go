package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"mediassist/internal/assistant"
	"mediassist/internal/backend"
	"mediassist/internal/cache"
)

func newAnalysisServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/chat":
			_, _ = io.WriteString(w, `{"reply":"Hello, how are you feeling?","session_id":"cli-1"}`)
		case "/api/analyze-scan":
			_, _ = io.WriteString(w, `{"session_id":"cli-1","filename":"knee.png","timestamp":"2025-03-01T09:30:00","analysis":"The bones are intact. Image quality is good.","image_type":"image/png"}`)
		case "/api/simple-chat":
			_, _ = io.WriteString(w, `{"reply":"Drink water: `+r.FormValue("message")+`","session_id":"cli-1"}`)
		case "/api/healthcheck":
			_, _ = io.WriteString(w, `{"status":"healthy","timestamp":"now","version":"1.0.0"}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func runScript(t *testing.T, script string) (string, *assistant.Session, *cache.FileStore) {
	t.Helper()
	srv := newAnalysisServer(t)
	client := backend.NewClient(srv.URL, 0)
	store := cache.NewFileStore(filepath.Join(t.TempDir(), "state.json"))
	session := assistant.NewSession(client, store, assistant.Options{Greeting: assistant.DefaultGreeting})
	t.Cleanup(session.Close)

	var out bytes.Buffer
	if err := newREPL(session, client, strings.NewReader(script), &out).Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	return out.String(), session, store
}

func TestREPLChatAndScan(t *testing.T) {
	scanPath := filepath.Join(t.TempDir(), "knee.png")
	if err := os.WriteFile(scanPath, []byte("fake image bytes"), 0o600); err != nil {
		t.Fatal(err)
	}

	out, session, store := runScript(t, strings.Join([]string{
		"hello",
		"/scan " + scanPath,
		"/analyze",
		"/history",
		"/tab history",
		"/quit",
		"never read",
	}, "\n"))

	for _, want := range []string{
		"MediAssist: " + assistant.DefaultGreeting,
		"MediAssist: Hello, how are you feeling?",
		"Selected knee.png (image/png",
		"[success] Scan analyzed successfully",
		"Bone Structure: The bones are intact.",
		"Image Quality: Image quality is good.",
		"1. knee.png  2025-03-01T09:30:00",
		"chat scan [history]",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q\n%s", want, out)
		}
	}
	if len(session.Snapshot().Messages) != 4 {
		t.Fatalf("unexpected transcript %+v", session.Snapshot().Messages)
	}
	if id, ok, _ := store.Get(context.Background(), assistant.DefaultStoreKey); !ok || id != "cli-1" {
		t.Fatalf("persisted id = %q, %v", id, ok)
	}
}

func TestREPLRejectsBadScan(t *testing.T) {
	notes := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(notes, []byte("hello"), 0o600); err != nil {
		t.Fatal(err)
	}

	out, session, _ := runScript(t, "/analyze\n/scan "+notes+"\n/bogus\n")
	for _, want := range []string{
		"[error] Please select a file first",
		"[error] Please upload a valid medical image (JPEG, PNG, or DICOM)",
		"Unknown command /bogus",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q\n%s", want, out)
		}
	}
	if session.Snapshot().Selection != nil {
		t.Fatal("text file must not be selected")
	}
}

func TestREPLHealth(t *testing.T) {
	out, _, _ := runScript(t, "/health\n")
	if !strings.Contains(out, "Analysis service healthy (version 1.0.0).") {
		t.Fatalf("unexpected output\n%s", out)
	}
}

func TestREPLAskStaysOutOfTranscript(t *testing.T) {
	out, session, _ := runScript(t, "/ask\n/ask headache\n")
	if !strings.Contains(out, "Usage: /ask <text>") {
		t.Errorf("missing usage line\n%s", out)
	}
	if !strings.Contains(out, "MediAssist: Drink water: headache") {
		t.Fatalf("missing reply\n%s", out)
	}
	if n := len(session.Snapshot().Messages); n != 1 {
		t.Fatalf("transcript has %d messages, want only the greeting", n)
	}
}

func TestREPLRejectsOversizeScanWithoutReading(t *testing.T) {
	scanPath := filepath.Join(t.TempDir(), "large.png")
	if err := os.WriteFile(scanPath, bytes.Repeat([]byte{0xff}, 64), 0o600); err != nil {
		t.Fatal(err)
	}

	srv := newAnalysisServer(t)
	client := backend.NewClient(srv.URL, 0)
	session := assistant.NewSession(client, cache.NewMemoryStore(), assistant.Options{MaxScanBytes: 32})
	t.Cleanup(session.Close)

	var out bytes.Buffer
	r := newREPL(session, client, strings.NewReader("/scan "+scanPath+"\n"), &out)
	r.readFile = func(name string) ([]byte, error) {
		t.Errorf("oversize file %s should not be read", name)
		return nil, os.ErrInvalid
	}
	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if !strings.Contains(out.String(), "[error] File size exceeds") {
		t.Fatalf("missing size notification\n%s", out.String())
	}
	if session.Snapshot().Selection != nil {
		t.Fatal("oversize file must not be selected")
	}
}
