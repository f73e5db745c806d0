package session

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/yanqian/truthcard/internal/domain/roast"
	"github.com/yanqian/truthcard/internal/domain/usage"
	apperrors "github.com/yanqian/truthcard/pkg/errors"
	"github.com/yanqian/truthcard/pkg/logger"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	fn      func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, time.March, 10, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), fn: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}

// Advance moves time forward, firing due timers in order on the calling goroutine.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()
	for {
		c.mu.Lock()
		due := c.timers[:0:0]
		for _, t := range c.timers {
			if !t.fired && !t.stopped && !t.at.After(target) {
				due = append(due, t)
			}
		}
		if len(due) == 0 {
			c.now = target
			c.mu.Unlock()
			return
		}
		sort.SliceStable(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
		next := due[0]
		next.fired = true
		c.now = next.at
		c.mu.Unlock()
		next.fn()
	}
}

type fixedRand float64

func (f fixedRand) Float64() float64 { return float64(f) }

type memStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
	deleted []string
	putErr  error
}

func newMemStorage() *memStorage {
	return &memStorage{objects: make(map[string][]byte)}
}

func (s *memStorage) Put(_ context.Context, key string, data []byte, mimeType string) (StoredObject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.putErr != nil {
		return StoredObject{}, s.putErr
	}
	s.objects[key] = append([]byte(nil), data...)
	return StoredObject{Key: key, Size: int64(len(data)), MimeType: mimeType}, nil
}

func (s *memStorage) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	s.deleted = append(s.deleted, key)
	return nil
}

func (s *memStorage) keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.objects))
	for k := range s.objects {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (s *memStorage) has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[key]
	return ok
}

type stubGate struct {
	mu      sync.Mutex
	calls   int
	refunds int
	tiers   []usage.Tier
	err     error
}

func (g *stubGate) Authorize(_ context.Context, _ string, tier usage.Tier) (usage.Decision, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	g.tiers = append(g.tiers, tier)
	if g.err != nil {
		return usage.Decision{Tier: tier, Locked: true}, g.err
	}
	return usage.Decision{Allowed: true, Tier: tier}, nil
}

func (g *stubGate) Refund(_ context.Context, _ string, _ usage.Tier) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.refunds++
	return nil
}

// Used reports uploads authorized and not refunded.
func (g *stubGate) Used() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return 0
	}
	return g.calls - g.refunds
}

func (g *stubGate) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type funcDecoder func([]byte) (Dimensions, error)

func (f funcDecoder) Decode(data []byte) (Dimensions, error) { return f(data) }

const testDevice = "dev-1"

type env struct {
	svc     *Service
	clock   *fakeClock
	storage *memStorage
	gate    *stubGate
}

func testConfig() Config {
	return Config{
		OnboardingCharInterval: 50 * time.Millisecond,
		OnboardingAdvanceDelay: 1500 * time.Millisecond,
		ProgressTick:           300 * time.Millisecond,
		ProgressMaxStep:        10,
		LipSyncDuration:        4 * time.Second,
		ShareCardDelay:         5 * time.Second,
		SupportPromptDelay:     10 * time.Second,
		SupportURL:             "https://support.example",
		IdleTTL:                30 * time.Minute,
		SkipOnboarding:         true,
		MaxUploadBytes:         10 << 20,
	}
}

func newEnv(t *testing.T, cfg Config, decoder Decoder) *env {
	t.Helper()
	e := &env{clock: newFakeClock(), storage: newMemStorage(), gate: &stubGate{}}
	e.svc = NewService(cfg, roast.NewEngine(fixedRand(0.5)), decoder, e.storage, e.gate, e.clock, fixedRand(0.5), logger.Discard())
	t.Cleanup(e.svc.Close)
	return e
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))))
	return buf.Bytes()
}

func (e *env) create(t *testing.T) uuid.UUID {
	t.Helper()
	snap, err := e.svc.Create(context.Background(), testDevice, usage.TierFree)
	require.NoError(t, err)
	return snap.ID
}

func (e *env) snapshot(t *testing.T, id uuid.UUID) Snapshot {
	t.Helper()
	snap, err := e.svc.Get(context.Background(), id, testDevice)
	require.NoError(t, err)
	return snap
}

// roast uploads a w x h image and drives the clock until the results screen.
func (e *env) roast(t *testing.T, w, h int) uuid.UUID {
	t.Helper()
	id := e.create(t)
	_, _, err := e.svc.Upload(context.Background(), id, testDevice, usage.TierFree, UploadInput{FileName: "shot.png", MimeType: "image/png", Data: pngBytes(t, w, h)})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		snap := e.snapshot(t, id)
		return snap.Image != nil && snap.Image.Width == w
	}, time.Second, 5*time.Millisecond)
	e.clock.Advance(6 * time.Second)
	require.Equal(t, StateRoasting, e.snapshot(t, id).State)
	return id
}

func requireCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, code, apperrors.CodeOf(err), err.Error())
}
