package app

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"mediassist/internal/assistant"
	"mediassist/internal/cache"
	"mediassist/internal/model"
	"mediassist/internal/scan"
)

var ErrProfileRequired = errors.New("profile id is required")

const publishTimeout = 3 * time.Second

type EventPublisher interface {
	Publish(ctx context.Context, event model.AssistantEvent) error
}

type ScanArchive interface {
	ListByProfile(ctx context.Context, profileID uint, limit int) ([]model.ScanRecord, error)
}

type SessionArchive interface {
	ListByProfile(ctx context.Context, profileID uint) ([]model.AssistantSession, error)
}

type MessageArchive interface {
	ListBySession(ctx context.Context, profileID uint, sessionID string, limit int) ([]model.ChatMessage, error)
}

type AssistantConfig struct {
	StoreKey        string
	Greeting        string
	NotificationTTL time.Duration
	MaxScanBytes    int64
	PreviewEdge     int
	// IdleTTL evicts sessions nobody touched or watched for this long. 0 keeps them.
	IdleTTL time.Duration
}

type AssistantDeps struct {
	Backend   assistant.Backend
	Store     assistant.SessionStore
	Publisher EventPublisher
	Scans     ScanArchive
	Sessions  SessionArchive
	Messages  MessageArchive
	Now       func() time.Time
}

// AssistantService keeps one live assistant session per profile.
type AssistantService struct {
	deps AssistantDeps
	cfg  AssistantConfig

	mu      sync.Mutex
	entries map[uint]*sessionEntry

	stopOnce sync.Once
	stop     chan struct{}
	wg       sync.WaitGroup
}

type sessionEntry struct {
	session  *assistant.Session
	lastUsed time.Time
	watchers int
}

func NewAssistantService(deps AssistantDeps, cfg AssistantConfig) *AssistantService {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if cfg.StoreKey == "" {
		cfg.StoreKey = assistant.DefaultStoreKey
	}
	return &AssistantService{
		deps:    deps,
		cfg:     cfg,
		entries: make(map[uint]*sessionEntry),
		stop:    make(chan struct{}),
	}
}

// Session returns the profile's live session, creating and restoring it on
// first use.
func (s *AssistantService) Session(ctx context.Context, profileID uint) (*assistant.Session, error) {
	if profileID == 0 {
		return nil, ErrProfileRequired
	}

	s.mu.Lock()
	entry, ok := s.entries[profileID]
	if ok {
		entry.lastUsed = s.deps.Now()
		s.mu.Unlock()
		return entry.session, nil
	}
	session := assistant.NewSession(s.deps.Backend, s.deps.Store, assistant.Options{
		StoreKey:        cache.ProfileKey(s.cfg.StoreKey, profileID),
		Greeting:        s.cfg.Greeting,
		MaxScanBytes:    s.cfg.MaxScanBytes,
		PreviewEdge:     s.cfg.PreviewEdge,
		NotificationTTL: s.cfg.NotificationTTL,
		Sink:            &profileSink{profileID: profileID, publisher: s.deps.Publisher},
		Logger:          slog.Default().With("profile_id", profileID),
	})
	s.entries[profileID] = &sessionEntry{session: session, lastUsed: s.deps.Now()}
	s.mu.Unlock()

	session.Restore(context.WithoutCancel(ctx))
	return session, nil
}

func (s *AssistantService) State(ctx context.Context, profileID uint) (assistant.Snapshot, error) {
	session, err := s.Session(ctx, profileID)
	if err != nil {
		return assistant.Snapshot{}, err
	}
	return session.Snapshot(), nil
}

func (s *AssistantService) SelectScan(ctx context.Context, profileID uint, file scan.File) (assistant.Snapshot, error) {
	session, err := s.Session(ctx, profileID)
	if err != nil {
		return assistant.Snapshot{}, err
	}
	err = session.SelectFile(file)
	return session.Snapshot(), err
}

func (s *AssistantService) ClearScan(ctx context.Context, profileID uint) (assistant.Snapshot, error) {
	session, err := s.Session(ctx, profileID)
	if err != nil {
		return assistant.Snapshot{}, err
	}
	session.ClearSelection()
	return session.Snapshot(), nil
}

// AnalyzeScan uploads the pending selection. The backend call is not
// cancelled if the client goes away.
func (s *AssistantService) AnalyzeScan(ctx context.Context, profileID uint) (assistant.Snapshot, error) {
	session, err := s.Session(ctx, profileID)
	if err != nil {
		return assistant.Snapshot{}, err
	}
	err = session.UploadAndAnalyze(context.WithoutCancel(ctx))
	return session.Snapshot(), err
}

func (s *AssistantService) SendMessage(ctx context.Context, profileID uint, content string) (assistant.Snapshot, error) {
	session, err := s.Session(ctx, profileID)
	if err != nil {
		return assistant.Snapshot{}, err
	}
	err = session.SendMessage(context.WithoutCancel(ctx), content)
	return session.Snapshot(), err
}

func (s *AssistantService) SetTab(ctx context.Context, profileID uint, tab assistant.Tab) (assistant.Snapshot, error) {
	session, err := s.Session(ctx, profileID)
	if err != nil {
		return assistant.Snapshot{}, err
	}
	err = session.SetTab(tab)
	return session.Snapshot(), err
}

// Watch subscribes to the profile's snapshots. The session is not evicted
// while it has watchers; call the returned func to stop.
func (s *AssistantService) Watch(ctx context.Context, profileID uint) (<-chan assistant.Snapshot, func(), error) {
	session, err := s.Session(ctx, profileID)
	if err != nil {
		return nil, nil, err
	}

	s.mu.Lock()
	entry, ok := s.entries[profileID]
	if ok && entry.session == session {
		entry.watchers++
	}
	s.mu.Unlock()

	updates, cancel := session.Subscribe()
	var once sync.Once
	return updates, func() {
		once.Do(func() {
			cancel()
			s.mu.Lock()
			defer s.mu.Unlock()
			if entry, ok := s.entries[profileID]; ok && entry.session == session && entry.watchers > 0 {
				entry.watchers--
				entry.lastUsed = s.deps.Now()
			}
		})
	}, nil
}

func (s *AssistantService) ScanArchive(ctx context.Context, profileID uint, limit int) ([]model.ScanRecord, error) {
	if profileID == 0 {
		return nil, ErrProfileRequired
	}
	if s.deps.Scans == nil {
		return []model.ScanRecord{}, nil
	}
	return s.deps.Scans.ListByProfile(ctx, profileID, limit)
}

func (s *AssistantService) SessionArchive(ctx context.Context, profileID uint) ([]model.AssistantSession, error) {
	if profileID == 0 {
		return nil, ErrProfileRequired
	}
	if s.deps.Sessions == nil {
		return []model.AssistantSession{}, nil
	}
	return s.deps.Sessions.ListByProfile(ctx, profileID)
}

func (s *AssistantService) MessageArchive(ctx context.Context, profileID uint, sessionID string, limit int) ([]model.ChatMessage, error) {
	if profileID == 0 || sessionID == "" {
		return nil, ErrInvalidInput
	}
	if s.deps.Messages == nil {
		return []model.ChatMessage{}, nil
	}
	return s.deps.Messages.ListBySession(ctx, profileID, sessionID, limit)
}

// StartJanitor evicts idle sessions every interval until Close.
func (s *AssistantService) StartJanitor(interval time.Duration) {
	if s.cfg.IdleTTL <= 0 || interval <= 0 {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stop:
				return
			case <-ticker.C:
				if n := s.EvictIdle(); n > 0 {
					slog.Info("evicted idle assistant sessions", "count", n)
				}
			}
		}
	}()
}

func (s *AssistantService) EvictIdle() int {
	if s.cfg.IdleTTL <= 0 {
		return 0
	}
	cutoff := s.deps.Now().Add(-s.cfg.IdleTTL)

	var evicted []*assistant.Session
	s.mu.Lock()
	for id, entry := range s.entries {
		if entry.watchers == 0 && entry.lastUsed.Before(cutoff) {
			evicted = append(evicted, entry.session)
			delete(s.entries, id)
		}
	}
	s.mu.Unlock()

	for _, session := range evicted {
		session.Close()
	}
	return len(evicted)
}

func (s *AssistantService) ActiveSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *AssistantService) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
	s.wg.Wait()

	s.mu.Lock()
	entries := s.entries
	s.entries = make(map[uint]*sessionEntry)
	s.mu.Unlock()

	for _, entry := range entries {
		entry.session.Close()
	}
}

// profileSink forwards committed session changes to the persist queue.
type profileSink struct {
	profileID uint
	publisher EventPublisher
}

func (p *profileSink) Emit(ctx context.Context, event assistant.Event) {
	if p.publisher == nil {
		return
	}

	payload := model.AssistantEvent{
		EventID:    uuid.NewString(),
		Kind:       string(event.Kind),
		ProfileID:  p.profileID,
		SessionID:  event.SessionID,
		OccurredAt: event.At,
	}
	if event.Message != nil {
		payload.Role = string(event.Message.Role)
		payload.Content = event.Message.Content
	}
	if event.Scan != nil {
		payload.Filename = event.Scan.Filename
		payload.ImageType = event.Scan.ImageType
		payload.AnalyzedAt = event.Scan.Timestamp
		payload.Analysis = event.Scan.Analysis
	}

	publishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := p.publisher.Publish(publishCtx, payload); err != nil {
		slog.Warn("publish assistant event failed",
			"profile_id", p.profileID,
			"kind", payload.Kind,
			"error", err,
		)
	}
}
