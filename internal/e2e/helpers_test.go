package e2e

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
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
	"vramd/internal/config"
	"vramd/internal/hardware"
	"vramd/internal/httpapi"
	"vramd/internal/loader"
	"vramd/internal/manager"
	"vramd/internal/router"
	"vramd/pkg/types"
)

// residentHardware reports usage proportional to the number of resident
// models, so loads past the threshold force eviction.
type residentHardware struct {
	mu       sync.Mutex
	perModel float64
	resident func() int
}

func (h *residentHardware) Metrics(context.Context) types.HardwareSnapshot {
	h.mu.Lock()
	per, count := h.perModel, h.resident
	h.mu.Unlock()
	n := 0
	if count != nil {
		n = count()
	}
	pct := per * float64(n)
	return types.HardwareSnapshot{
		Device:         "fake-gpu",
		HasAccelerator: true,
		TotalBytes:     1000,
		AllocatedBytes: uint64(pct * 10),
		FreeBytes:      1000 - uint64(pct*10),
		Percent:        pct,
		TimestampMs:    time.Now().UnixMilli(),
	}
}

func (h *residentHardware) HasAccelerator() bool { return true }
func (h *residentHardware) ReleaseCache()        {}

// weights serves fixed bodies by path and counts requests.
type weights struct {
	*httptest.Server
	hits atomic.Int32
}

func newWeights(t *testing.T, files map[string][]byte) *weights {
	t.Helper()
	w := &weights{}
	w.Server = httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		w.hits.Add(1)
		b, ok := files[r.URL.Path]
		if !ok {
			http.NotFound(rw, r)
			return
		}
		_, _ = rw.Write(b)
	}))
	t.Cleanup(w.Close)
	return w
}

func sum(b []byte) string {
	s := sha256.Sum256(b)
	return hex.EncodeToString(s[:])
}

type stack struct {
	dir string
	mgr *manager.Manager
	hw  *residentHardware
	srv *httptest.Server
	pub *manager.MemoryPublisher
}

// newStack wires the real catalog, manager, file loader, router and HTTP
// mux over a temp models dir.
func newStack(t *testing.T, descs ...catalog.Descriptor) *stack {
	t.Helper()
	s := &stack{dir: t.TempDir(), hw: &residentHardware{perModel: 10}, pub: manager.NewMemoryPublisher()}
	cat := catalog.New(descs...)
	s.mgr = manager.NewWithConfig(manager.ManagerConfig{
		Catalog:        cat,
		ModelsDir:      s.dir,
		Hardware:       s.hw,
		EvictThreshold: 0.9,
		ChunkSize:      8,
		Publisher:      s.pub,
		Logger:         zerolog.Nop(),
	})
	s.hw.mu.Lock()
	s.hw.resident = func() int { return len(s.mgr.Resident()) }
	s.hw.mu.Unlock()

	if _, err := loader.RegisterConfigured(s.mgr, cat, s.dir, map[string]string{config.LoaderAll: config.LoaderFile}); err != nil {
		t.Fatalf("register loaders: %v", err)
	}
	rt := router.New([]hardware.DeviceMemory{{Index: 0, Name: "fake-gpu", TotalBytes: 1000, FreeBytes: 1000}})
	s.srv = httptest.NewServer(httpapi.NewMux(s.mgr, s.hw, rt, httpapi.Options{StreamInterval: 20 * time.Millisecond}))
	t.Cleanup(func() {
		s.srv.Close()
		_ = s.mgr.Close()
	})
	return s
}

func (s *stack) write(t *testing.T, name string, body []byte) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(s.dir, name), body, 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func (s *stack) call(t *testing.T, method, path string, out any) int {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), method, s.srv.URL+path, nil)
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do %s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	if out != nil {
		if err := json.Unmarshal(b, out); err != nil {
			t.Fatalf("decode %s %s: %v body=%q", method, path, err, b)
		}
	}
	return resp.StatusCode
}

func (s *stack) state(t *testing.T, id string) string {
	t.Helper()
	var st types.ModelStatus
	if code := s.call(t, http.MethodGet, "/models/"+id, &st); code != http.StatusOK {
		t.Fatalf("get %s: %d", id, code)
	}
	return st.State
}

func waitState(t *testing.T, s *stack, id, want string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if s.state(t, id) == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("%s never reached %s (now %s)", id, want, s.state(t, id))
}
