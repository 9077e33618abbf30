package manager

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"vramd/internal/catalog"
	"vramd/pkg/types"
)

// createModelFile writes size bytes at dir/name and returns its path.
func createModelFile(t *testing.T, dir, name string, size int) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(p, make([]byte, size), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	return p
}

func sha(b []byte) string {
	s := sha256.Sum256(b)
	return hex.EncodeToString(s[:])
}

// fakeHardware replays a sequence of percent readings; the last one repeats.
type fakeHardware struct {
	mu       sync.Mutex
	accel    bool
	percents []float64
	calls    int
	releases int
	probeErr string
}

func (f *fakeHardware) Metrics(ctx context.Context) types.HardwareSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := types.HardwareSnapshot{HasAccelerator: f.accel, Degraded: !f.accel, Error: f.probeErr}
	if len(f.percents) > 0 {
		i := f.calls
		if i >= len(f.percents) {
			i = len(f.percents) - 1
		}
		s.Percent = f.percents[i]
	}
	f.calls++
	return s
}

func (f *fakeHardware) HasAccelerator() bool { return f.accel }

func (f *fakeHardware) ReleaseCache() {
	f.mu.Lock()
	f.releases++
	f.mu.Unlock()
}

func (f *fakeHardware) setPercents(p ...float64) {
	f.mu.Lock()
	f.percents = p
	f.calls = 0
	f.mu.Unlock()
}

type fakeHandle struct {
	id     string
	closed atomic.Bool
}

func (h *fakeHandle) Close() error {
	h.closed.Store(true)
	return nil
}

// countingLoader counts invocations; gate, when set, blocks each call until closed.
type countingLoader struct {
	id    string
	calls atomic.Int32
	gate  chan struct{}
	err   error
	mu    sync.Mutex
	last  *fakeHandle
}

func (l *countingLoader) Load(ctx context.Context) (Handle, error) {
	l.calls.Add(1)
	if l.gate != nil {
		select {
		case <-l.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if l.err != nil {
		return nil, l.err
	}
	h := &fakeHandle{id: l.id}
	l.mu.Lock()
	l.last = h
	l.mu.Unlock()
	return h, nil
}

func (l *countingLoader) handle() *fakeHandle {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.last
}

type testEnv struct {
	m    *Manager
	dir  string
	hw   *fakeHardware
	pub  *MemoryPublisher
	load map[string]*countingLoader
}

// newTestEnv builds a manager over descs in a temp dir with an accelerator
// reading 0% and a counting loader for every descriptor.
func newTestEnv(t *testing.T, descs ...catalog.Descriptor) *testEnv {
	t.Helper()
	env := &testEnv{
		dir:  t.TempDir(),
		hw:   &fakeHardware{accel: true},
		pub:  NewMemoryPublisher(),
		load: make(map[string]*countingLoader),
	}
	env.m = NewWithConfig(ManagerConfig{
		Catalog:   catalog.New(descs...),
		ModelsDir: env.dir,
		Hardware:  env.hw,
		ChunkSize: 4,
		Publisher: env.pub,
		Logger:    zerolog.Nop(),
	})
	for _, d := range descs {
		l := &countingLoader{id: d.ID}
		env.load[d.ID] = l
		if err := env.m.RegisterLoader(d.ID, l); err != nil {
			t.Fatalf("register %s: %v", d.ID, err)
		}
	}
	t.Cleanup(func() { _ = env.m.Close() })
	return env
}

func (e *testEnv) install(t *testing.T, id string) {
	t.Helper()
	d, ok := e.m.Catalog().Get(id)
	if !ok {
		t.Fatalf("unknown id %s", id)
	}
	createModelFile(t, e.dir, d.Filename, 16)
}

// weightServer serves body and counts requests.
type weightServer struct {
	*httptest.Server
	hits atomic.Int32
}

func newWeightServer(t *testing.T, body []byte) *weightServer {
	t.Helper()
	ws := &weightServer{}
	ws.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws.hits.Add(1)
		_, _ = w.Write(body)
	}))
	t.Cleanup(ws.Close)
	return ws
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// testCtx returns a context with a short timeout, canceled on test cleanup.
func testCtx(t *testing.T) context.Context {
	t.Helper()
	c, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	t.Cleanup(cancel)
	return c
}

var errBoom = errors.New("boom")
