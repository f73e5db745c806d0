package session

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yanqian/truthcard/internal/domain/card"
	"github.com/yanqian/truthcard/internal/domain/roast"
	"github.com/yanqian/truthcard/internal/domain/usage"
	apperrors "github.com/yanqian/truthcard/pkg/errors"
)

// Config holds the timings of the analysis flow.
type Config struct {
	OnboardingCharInterval time.Duration
	OnboardingAdvanceDelay time.Duration
	ProgressTick           time.Duration
	ProgressMaxStep        float64
	LipSyncDuration        time.Duration
	ShareCardDelay         time.Duration
	SupportPromptDelay     time.Duration
	SupportURL             string
	IdleTTL                time.Duration
	SkipOnboarding         bool
	MaxUploadBytes         int64
}

const blobDeleteTimeout = 10 * time.Second

// Machine drives one session through onboarding, upload, analysis and the
// results screen. All mutations happen under mu; timer callbacks and the
// decode goroutine carry the epoch they were started in and are dropped once
// the machine has left that state.
type Machine struct {
	id      uuid.UUID
	owner   string
	cfg     Config
	scorer  Scorer
	decoder Decoder
	storage ObjectStorage
	clock   Clock
	rand    RandSource
	timers  *Timers
	logger  *slog.Logger

	mu         sync.Mutex
	epoch      uint64
	closed     bool
	snap       Snapshot
	lineIdx    int
	charIdx    int
	progressed bool
	decoded    bool
	accepting  bool
	dims       Dimensions
	exports    map[string]struct{}
	subs       map[uint64]chan Snapshot
	nextSub    uint64
	lastActive time.Time
	decodes    sync.WaitGroup
}

func newMachine(id uuid.UUID, owner string, tier usage.Tier, cfg Config, scorer Scorer, decoder Decoder, storage ObjectStorage, clock Clock, rand RandSource, logger *slog.Logger) *Machine {
	m := &Machine{
		id:      id,
		owner:   owner,
		cfg:     cfg,
		scorer:  scorer,
		decoder: decoder,
		storage: storage,
		clock:   clock,
		rand:    rand,
		timers:  NewTimers(clock),
		logger:  logger.With("session", id.String()),
		subs:    make(map[uint64]chan Snapshot),
		exports: make(map[string]struct{}),
	}
	m.snap = m.blank(tier)
	m.lastActive = clock.Now()
	return m
}

func (m *Machine) blank(tier usage.Tier) Snapshot {
	return Snapshot{
		ID:              m.id,
		OnboardingLines: []string{},
		RoastLines:      []roast.Line{},
		RedFlags:        []roast.RedFlag{},
		Heatmap:         []roast.HeatmapMetric{},
		Tier:            tier,
		SupportPrompt:   SupportPrompt{URL: m.cfg.SupportURL},
	}
}

// ID returns the session identifier.
func (m *Machine) ID() uuid.UUID { return m.id }

// Owner returns the device that created the session.
func (m *Machine) Owner() string { return m.owner }

func (m *Machine) start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cfg.SkipOnboarding {
		m.enterUpload(nil)
		return
	}
	m.enterOnboarding()
}

// Snapshot returns a copy of the current state.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap.clone()
}

// exit leaves the current state: pending timers are cancelled and in-flight
// callbacks become stale.
func (m *Machine) exit() {
	m.epoch++
	m.timers.CancelAll()
}

func (m *Machine) after(d time.Duration, fn func()) {
	epoch := m.epoch
	m.timers.After(d, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.closed || m.epoch != epoch {
			return
		}
		fn()
	})
}

func (m *Machine) every(d time.Duration, fn func() bool) {
	epoch := m.epoch
	m.timers.Every(d, func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.closed || m.epoch != epoch {
			return false
		}
		return fn()
	})
}

func (m *Machine) enterOnboarding() {
	m.exit()
	m.snap.State = StateOnboarding
	m.snap.OnboardingLines = []string{""}
	m.lineIdx, m.charIdx = 0, 0
	m.publish()
	m.every(m.cfg.OnboardingCharInterval, m.typeNext)
}

func (m *Machine) typeNext() bool {
	line := []rune(onboardingScript[m.lineIdx])
	if m.charIdx < len(line) {
		m.charIdx++
		m.snap.OnboardingLines[m.lineIdx] = string(line[:m.charIdx])
		m.publish()
		return true
	}
	m.lineIdx++
	m.charIdx = 0
	if m.lineIdx < len(onboardingScript) {
		m.snap.OnboardingLines = append(m.snap.OnboardingLines, "")
		return true
	}
	m.after(m.cfg.OnboardingAdvanceDelay, func() { m.enterUpload(nil) })
	return false
}

func (m *Machine) enterUpload(notice *Notice) {
	m.exit()
	tier := m.snap.Tier
	lines := m.snap.OnboardingLines
	m.snap = m.blank(tier)
	m.snap.OnboardingLines = lines
	m.snap.State = StateUpload
	m.snap.Notice = notice
	m.progressed, m.decoded = false, false
	m.dims = Dimensions{}
	m.publish()
}

// Reserve validates in and holds the upload slot until Upload or Release.
// Only the user notice changes, so a rejected file costs nothing.
func (m *Machine) Reserve(in UploadInput) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastActive = m.clock.Now()
	if err := m.validateLocked(in); err != nil {
		return err
	}
	if len(in.Data) == 0 {
		m.notice(CodeFileReadFailure, "Failed to read the file. Please try again.")
		return apperrors.Wrap(CodeFileReadFailure, "file is empty", nil)
	}
	m.accepting = true
	return nil
}

// Release gives up a reservation that will not be followed by Upload.
func (m *Machine) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accepting = false
}

func (m *Machine) validateLocked(in UploadInput) error {
	if m.closed {
		return apperrors.Wrap(CodeNotFound, "session not found", nil)
	}
	if m.snap.State != StateUpload {
		return apperrors.Wrap(CodeInvalidState, fmt.Sprintf("cannot upload while %s", m.snap.State), nil)
	}
	if m.accepting {
		return apperrors.Wrap(CodeInvalidState, "an upload is already in progress", nil)
	}
	if m.cfg.MaxUploadBytes > 0 && int64(len(in.Data)) > m.cfg.MaxUploadBytes {
		return apperrors.Wrap("invalid_input", "file exceeds maximum allowed size", nil)
	}
	if !strings.HasPrefix(detectMime(in), "image/") {
		m.notice(CodeInvalidFileType, "Please upload an image file!")
		return apperrors.Wrap(CodeInvalidFileType, "please upload an image file", nil)
	}
	return nil
}

func detectMime(in UploadInput) string {
	mime := strings.ToLower(strings.TrimSpace(in.MimeType))
	if mime == "" || mime == "application/octet-stream" {
		mime = http.DetectContentType(in.Data)
	}
	return mime
}

func (m *Machine) notice(code, message string) {
	m.snap.Notice = &Notice{Code: code, Message: message}
	m.publish()
}

// Upload stores the screenshot and starts the analysis. It consumes the
// reservation taken by Reserve.
func (m *Machine) Upload(ctx context.Context, in UploadInput) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastActive = m.clock.Now()
	if !m.accepting {
		return m.snap.clone(), apperrors.Wrap(CodeInvalidState, "upload was not reserved", nil)
	}
	m.accepting = false
	if m.closed {
		return m.snap.clone(), apperrors.Wrap(CodeNotFound, "session not found", nil)
	}
	if m.snap.State != StateUpload {
		return m.snap.clone(), apperrors.Wrap(CodeInvalidState, fmt.Sprintf("cannot upload while %s", m.snap.State), nil)
	}

	mime := detectMime(in)
	name := sanitizeFileName(in.FileName)
	key := fmt.Sprintf("uploads/%s/%s%s", m.id, uuid.NewString(), strings.ToLower(filepath.Ext(name)))
	obj, err := m.storage.Put(ctx, key, in.Data, mime)
	if err != nil {
		m.logger.Warn("store upload failed", "error", err)
		m.notice(CodeFileReadFailure, "Failed to read the file. Please try again.")
		return m.snap.clone(), apperrors.Wrap(CodeFileReadFailure, "failed to store upload", err)
	}

	m.exit()
	m.snap.State = StateAnalyzing
	m.snap.Notice = nil
	m.snap.Progress = 0
	m.snap.Image = &ImageRef{Key: obj.Key, FileName: name, MimeType: mime, Size: obj.Size}
	m.progressed, m.decoded = false, false
	m.dims = Dimensions{}
	m.publish()

	m.every(m.cfg.ProgressTick, m.tickProgress)

	epoch := m.epoch
	data := in.Data
	m.decodes.Add(1)
	go func() {
		defer m.decodes.Done()
		dims, err := m.decoder.Decode(data)
		if stale := m.onDecoded(epoch, dims, err); stale != "" {
			m.deleteBlob(stale)
		}
	}()
	return m.snap.clone(), nil
}

func (m *Machine) tickProgress() bool {
	m.snap.Progress = math.Min(100, m.snap.Progress+m.rand.Float64()*m.cfg.ProgressMaxStep)
	if m.snap.Progress >= 100 {
		m.snap.Progress = 100
		m.progressed = true
		m.publish()
		m.maybeScore()
		return false
	}
	m.publish()
	return true
}

// onDecoded records the decode outcome. It returns the storage key to delete
// when the upload was rejected.
func (m *Machine) onDecoded(epoch uint64, dims Dimensions, err error) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.epoch != epoch {
		return ""
	}
	if err != nil {
		m.logger.Info("image decode failed", "error", err)
		key := m.snap.Image.Key
		m.enterUpload(&Notice{Code: CodeImageDecodeFailure, Message: "Failed to load the image. Please try a different file."})
		return key
	}
	m.decoded = true
	m.dims = dims
	m.snap.Image.Width = dims.Width
	m.snap.Image.Height = dims.Height
	m.publish()
	m.maybeScore()
	return ""
}

func (m *Machine) maybeScore() {
	if !m.progressed || !m.decoded {
		return
	}
	if m.dims.Width <= 0 || m.dims.Height <= 0 {
		m.enterError("image has no measurable dimensions")
		return
	}
	res, err := m.scorer.Score(m.dims.Width, m.dims.Height)
	if err != nil {
		m.enterError(err.Error())
		return
	}
	m.enterRoasting(res)
}

func (m *Machine) enterRoasting(res roast.Result) {
	m.exit()
	m.snap.State = StateRoasting
	m.snap.Score = res.Score
	m.snap.Severity = res.Severity
	m.snap.RoastLines = res.Lines
	m.snap.RedFlags = res.Flags
	m.snap.Heatmap = res.Heatmap
	m.snap.LipSyncing = true
	m.snap.ShowShareCard = false
	m.snap.SupportPrompt = SupportPrompt{URL: m.cfg.SupportURL}
	m.publish()
	m.logger.Info("roast ready", "score", res.Score, "severity", res.Severity)

	m.after(m.cfg.LipSyncDuration, func() {
		m.snap.LipSyncing = false
		m.publish()
	})
	m.after(m.cfg.ShareCardDelay, func() {
		m.snap.ShowShareCard = true
		m.publish()
	})
	m.after(m.cfg.SupportPromptDelay, func() {
		m.snap.SupportPrompt.Visible = true
		m.publish()
	})
}

func (m *Machine) enterError(reason string) {
	m.exit()
	m.snap.State = StateError
	m.snap.Failure = reason
	m.logger.Warn("analysis failed", "reason", reason)
	m.publish()
}

// Restart clears the result and returns to the upload screen. The tier is kept.
func (m *Machine) Restart(ctx context.Context) (Snapshot, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return Snapshot{}, apperrors.Wrap(CodeNotFound, "session not found", nil)
	}
	if m.snap.State == StateOnboarding {
		snap := m.snap.clone()
		m.mu.Unlock()
		return snap, apperrors.Wrap(CodeInvalidState, "cannot restart during onboarding", nil)
	}
	m.lastActive = m.clock.Now()
	keys := m.blobKeysLocked()
	m.enterUpload(nil)
	snap := m.snap.clone()
	m.mu.Unlock()

	for _, key := range keys {
		if err := m.storage.Delete(ctx, key); err != nil {
			m.logger.Warn("delete blob failed", "key", key, "error", err)
		}
	}
	return snap, nil
}

// blobKeysLocked hands over every stored object of the current result: the
// upload and any exported cards.
func (m *Machine) blobKeysLocked() []string {
	keys := make([]string, 0, len(m.exports)+1)
	if m.snap.Image != nil {
		keys = append(keys, m.snap.Image.Key)
	}
	for key := range m.exports {
		keys = append(keys, key)
	}
	clear(m.exports)
	return keys
}

// trackExport records a stored card so it is removed with the result. It
// reports false once the machine is closed; the caller then owns the blob.
func (m *Machine) trackExport(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	m.exports[key] = struct{}{}
	return true
}

// PopFlag marks a red flag as exploded.
func (m *Machine) PopFlag(flagID int) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastActive = m.clock.Now()
	if m.snap.State != StateRoasting {
		return m.snap.clone(), apperrors.Wrap(CodeInvalidState, "no results to pop flags on", nil)
	}
	for i := range m.snap.RedFlags {
		if m.snap.RedFlags[i].ID != flagID {
			continue
		}
		if !m.snap.RedFlags[i].Exploded {
			m.snap.RedFlags[i].Exploded = true
			m.publish()
		}
		return m.snap.clone(), nil
	}
	return m.snap.clone(), apperrors.Wrap(CodeNotFound, fmt.Sprintf("red flag %d not found", flagID), nil)
}

// DismissSupportPrompt hides the support overlay.
func (m *Machine) DismissSupportPrompt() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastActive = m.clock.Now()
	if m.snap.SupportPrompt.Visible {
		m.snap.SupportPrompt.Visible = false
		m.publish()
	}
	return m.snap.clone()
}

// SetTier changes the entitlement shown with the result.
func (m *Machine) SetTier(tier usage.Tier) Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastActive = m.clock.Now()
	if m.snap.Tier != tier {
		m.snap.Tier = tier
		m.publish()
	}
	return m.snap.clone()
}

// Card returns the renderable result.
func (m *Machine) Card() (card.Card, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snap.State != StateRoasting {
		return card.Card{}, apperrors.Wrap(CodeInvalidState, "truth card not found", nil)
	}
	s := m.snap.clone()
	return card.Card{
		Score:    s.Score,
		Severity: s.Severity,
		Lines:    s.RoastLines,
		Flags:    s.RedFlags,
		Heatmap:  s.Heatmap,
	}, nil
}

// Subscribe streams snapshots. The current snapshot is delivered first and
// the channel is closed when cancel is called or the machine is closed.
func (m *Machine) Subscribe() (<-chan Snapshot, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := make(chan Snapshot, 1)
	if m.closed {
		close(ch)
		return ch, func() {}
	}
	ch <- m.snap.clone()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = ch
	return ch, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if sub, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(sub)
		}
	}
}

func (m *Machine) publish() {
	m.snap.Version++
	m.snap.UpdatedAt = m.clock.Now()
	if len(m.subs) == 0 {
		return
	}
	snap := m.snap.clone()
	for _, ch := range m.subs {
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

func (m *Machine) idleSince(now time.Time) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.subs) > 0 {
		return 0
	}
	return now.Sub(m.lastActive)
}

// Close tears the machine down: timers stop, subscribers are released and
// the upload and exported cards are deleted.
func (m *Machine) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.exit()
	keys := m.blobKeysLocked()
	for id, ch := range m.subs {
		delete(m.subs, id)
		close(ch)
	}
	m.mu.Unlock()

	m.decodes.Wait()
	for _, key := range keys {
		m.deleteBlob(key)
	}
}

func (m *Machine) deleteBlob(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), blobDeleteTimeout)
	defer cancel()
	if err := m.storage.Delete(ctx, key); err != nil {
		m.logger.Warn("delete blob failed", "key", key, "error", err)
	}
}

func sanitizeFileName(name string) string {
	name = filepath.Base(strings.TrimSpace(name))
	if name == "" || name == "." || name == "/" {
		return "screenshot"
	}
	return name
}

func (m *Machine) setNotice(code, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notice(code, message)
}
