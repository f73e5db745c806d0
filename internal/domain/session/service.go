package session

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yanqian/truthcard/internal/domain/card"
	"github.com/yanqian/truthcard/internal/domain/usage"
	apperrors "github.com/yanqian/truthcard/pkg/errors"
)

const minSweepInterval = time.Second

// Export is a rendered result card.
type Export struct {
	FileName    string
	ContentType string
	Data        []byte
	StorageKey  string
	Stored      bool
}

// Service owns every live session machine.
type Service struct {
	cfg     Config
	scorer  Scorer
	decoder Decoder
	storage ObjectStorage
	gate    UploadGate
	clock   Clock
	rand    RandSource
	timers  *Timers
	logger  *slog.Logger

	mu       sync.RWMutex
	machines map[uuid.UUID]*Machine
	closed   bool
}

// NewService constructs a Service and starts the idle session janitor.
// A nil decoder reads image headers, a nil clock uses wall time and a nil
// rand uses math/rand/v2.
func NewService(cfg Config, scorer Scorer, decoder Decoder, storage ObjectStorage, gate UploadGate, clock Clock, rnd RandSource, logger *slog.Logger) *Service {
	if decoder == nil {
		decoder = HeaderDecoder{}
	}
	if clock == nil {
		clock = SystemClock()
	}
	if rnd == nil {
		rnd = globalRand{}
	}
	s := &Service{
		cfg:      cfg,
		scorer:   scorer,
		decoder:  decoder,
		storage:  storage,
		gate:     gate,
		clock:    clock,
		rand:     rnd,
		timers:   NewTimers(clock),
		logger:   logger.With("component", "session.service"),
		machines: make(map[uuid.UUID]*Machine),
	}
	if cfg.IdleTTL > 0 {
		interval := cfg.IdleTTL / 2
		if interval < minSweepInterval {
			interval = minSweepInterval
		}
		s.timers.Every(interval, func() bool {
			s.sweep()
			return true
		})
	}
	return s
}

type globalRand struct{}

func (globalRand) Float64() float64 { return rand.Float64() }

// Create starts a new session at onboarding, owned by deviceID.
func (s *Service) Create(_ context.Context, deviceID string, tier usage.Tier) (Snapshot, error) {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return Snapshot{}, apperrors.Wrap("invalid_input", "device id is required", nil)
	}
	if tier == "" {
		tier = usage.TierFree
	}
	m := newMachine(uuid.New(), deviceID, tier, s.cfg, s.scorer, s.decoder, s.storage, s.clock, s.rand, s.logger)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Snapshot{}, apperrors.Wrap(CodeInvalidState, "service is shutting down", nil)
	}
	s.machines[m.id] = m
	s.mu.Unlock()

	m.start()
	s.logger.Info("session created", "session", m.id.String(), "device", deviceID, "tier", tier)
	return m.Snapshot(), nil
}

func (s *Service) machine(id uuid.UUID) (*Machine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.machines[id]
	if !ok {
		return nil, apperrors.Wrap(CodeNotFound, "session not found", nil)
	}
	return m, nil
}

// owned resolves a session for its creating device. Other devices get
// not_found so session ids leaked through share links grant nothing.
func (s *Service) owned(id uuid.UUID, deviceID string) (*Machine, error) {
	m, err := s.machine(id)
	if err != nil {
		return nil, err
	}
	if m.Owner() != strings.TrimSpace(deviceID) {
		return nil, apperrors.Wrap(CodeNotFound, "session not found", nil)
	}
	return m, nil
}

// Get returns the current snapshot.
func (s *Service) Get(_ context.Context, id uuid.UUID, deviceID string) (Snapshot, error) {
	m, err := s.owned(id, deviceID)
	if err != nil {
		return Snapshot{}, err
	}
	return m.Snapshot(), nil
}

// Upload validates the file, consumes one upload from the quota of the
// calling device at its own tier and starts the analysis. The session slot
// is reserved before the quota is touched, so rejected files and concurrent
// uploads cost nothing, and a failed store hands the upload back.
func (s *Service) Upload(ctx context.Context, id uuid.UUID, deviceID string, tier usage.Tier, in UploadInput) (Snapshot, usage.Decision, error) {
	m, err := s.owned(id, deviceID)
	if err != nil {
		return Snapshot{}, usage.Decision{}, err
	}
	if err := m.Reserve(in); err != nil {
		return m.Snapshot(), usage.Decision{}, err
	}
	decision, err := s.gate.Authorize(ctx, deviceID, tier)
	if err != nil {
		m.Release()
		if apperrors.IsCode(err, usage.CodeUploadLimitReached) {
			m.setNotice(usage.CodeUploadLimitReached, "Daily upload limit reached. Upgrade to keep roasting.")
		}
		return m.Snapshot(), decision, err
	}
	snap, err := m.Upload(ctx, in)
	if err != nil {
		if refundErr := s.gate.Refund(ctx, deviceID, tier); refundErr != nil {
			s.logger.Error("refund upload failed", "session", id.String(), "device", deviceID, "error", refundErr)
		} else if decision.Remaining >= 0 {
			decision.Count--
			decision.Remaining++
		}
		return snap, decision, err
	}
	return snap, decision, nil
}

// Restart returns the session to the upload screen.
func (s *Service) Restart(ctx context.Context, id uuid.UUID, deviceID string) (Snapshot, error) {
	m, err := s.owned(id, deviceID)
	if err != nil {
		return Snapshot{}, err
	}
	return m.Restart(ctx)
}

// PopFlag explodes one red flag on the results screen.
func (s *Service) PopFlag(_ context.Context, id uuid.UUID, deviceID string, flagID int) (Snapshot, error) {
	m, err := s.owned(id, deviceID)
	if err != nil {
		return Snapshot{}, err
	}
	return m.PopFlag(flagID)
}

// DismissSupportPrompt hides the support overlay.
func (s *Service) DismissSupportPrompt(_ context.Context, id uuid.UUID, deviceID string) (Snapshot, error) {
	m, err := s.owned(id, deviceID)
	if err != nil {
		return Snapshot{}, err
	}
	return m.DismissSupportPrompt(), nil
}

// SetTier switches the session entitlement shown on the results screen.
func (s *Service) SetTier(_ context.Context, id uuid.UUID, deviceID string, tier usage.Tier) (Snapshot, error) {
	m, err := s.owned(id, deviceID)
	if err != nil {
		return Snapshot{}, err
	}
	return m.SetTier(tier), nil
}

// Subscribe streams snapshots until cancel is called or the session ends.
func (s *Service) Subscribe(_ context.Context, id uuid.UUID, deviceID string) (<-chan Snapshot, func(), error) {
	m, err := s.owned(id, deviceID)
	if err != nil {
		return nil, nil, err
	}
	ch, cancel := m.Subscribe()
	return ch, cancel, nil
}

// Export renders the result card and keeps a copy in object storage until
// the result is cleared. Any device may export: the card link is what a
// share hands out.
func (s *Service) Export(ctx context.Context, id uuid.UUID, format card.Format) (Export, error) {
	m, err := s.machine(id)
	if err != nil {
		return Export{}, err
	}
	c, err := m.Card()
	if err != nil {
		return Export{}, err
	}
	data, err := card.Render(c, format)
	if err != nil {
		return Export{}, err
	}
	out := Export{
		FileName:    format.Filename(),
		ContentType: format.ContentType(),
		Data:        data,
		StorageKey:  fmt.Sprintf("exports/%s/%s", id, format.Filename()),
	}
	if _, err := s.storage.Put(ctx, out.StorageKey, data, out.ContentType); err != nil {
		s.logger.Warn("store export failed", "session", id.String(), "error", err)
		return out, nil
	}
	if !m.trackExport(out.StorageKey) {
		m.deleteBlob(out.StorageKey)
		return out, nil
	}
	out.Stored = true
	return out, nil
}

// Share builds the share payload for the current result.
func (s *Service) Share(_ context.Context, id uuid.UUID, deviceID, pageURL, imageURL string) (card.SharePayload, error) {
	m, err := s.owned(id, deviceID)
	if err != nil {
		return card.SharePayload{}, err
	}
	c, err := m.Card()
	if err != nil {
		return card.SharePayload{}, err
	}
	return card.Share(c, pageURL, imageURL), nil
}

// Len reports the number of live sessions.
func (s *Service) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.machines)
}

func (s *Service) sweep() {
	now := s.clock.Now()
	var idle []*Machine
	s.mu.Lock()
	for id, m := range s.machines {
		if m.idleSince(now) >= s.cfg.IdleTTL {
			idle = append(idle, m)
			delete(s.machines, id)
		}
	}
	s.mu.Unlock()
	for _, m := range idle {
		m.Close()
	}
	if len(idle) > 0 {
		s.logger.Info("swept idle sessions", "count", len(idle))
	}
}

// Close tears down every session.
func (s *Service) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	machines := s.machines
	s.machines = make(map[uuid.UUID]*Machine)
	s.mu.Unlock()

	s.timers.CancelAll()
	for _, m := range machines {
		m.Close()
	}
	s.logger.Info("session service closed", "sessions", len(machines))
}
