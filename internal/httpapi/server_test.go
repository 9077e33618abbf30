package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"vramd/internal/hardware"
	"vramd/internal/manager"
	"vramd/internal/router"
	"vramd/pkg/types"
)

type mockService struct {
	mu       sync.Mutex
	models   map[string]types.ModelStatus
	ready    bool
	ticket   types.DownloadTicket
	loadErr  error
	delErr   error
	progress map[string]float64
}

func newMockService(ids ...string) *mockService {
	m := &mockService{models: make(map[string]types.ModelStatus), ready: true}
	for _, id := range ids {
		m.models[id] = types.ModelStatus{ID: id, Name: id, State: string(manager.StateOnDisk)}
	}
	return m
}

func (m *mockService) Status() []types.ModelStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.ModelStatus, 0, len(m.models))
	for _, s := range m.models {
		out = append(out, s)
	}
	return out
}

func (m *mockService) ModelStatus(id string) (types.ModelStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.models[id]
	if !ok {
		return s, manager.ErrModelNotFound(id)
	}
	return s, nil
}

func (m *mockService) States() map[string]manager.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]manager.State, len(m.models))
	for id, s := range m.models {
		out[id] = manager.State(s.State)
	}
	return out
}

func (m *mockService) Progress() map[string]float64 { return m.progress }

func (m *mockService) StartDownload(id string) (types.DownloadTicket, error) {
	if _, err := m.ModelStatus(id); err != nil {
		return types.DownloadTicket{ID: id}, err
	}
	t := m.ticket
	t.ID = id
	return t, nil
}

func (m *mockService) Load(ctx context.Context, id string) (manager.State, error) {
	if _, err := m.ModelStatus(id); err != nil {
		return manager.StateNotInstalled, err
	}
	if m.loadErr != nil {
		return manager.StateOnDisk, m.loadErr
	}
	m.set(id, manager.StateInVRAM)
	return manager.StateInVRAM, nil
}

func (m *mockService) Unload(id string) (manager.State, error) {
	s, err := m.ModelStatus(id)
	if err != nil {
		return manager.StateNotInstalled, err
	}
	if s.State != string(manager.StateInVRAM) {
		return manager.State(s.State), manager.ErrIllegalTransition(id, manager.State(s.State), manager.StateOnDisk, "not resident")
	}
	m.set(id, manager.StateOnDisk)
	return manager.StateOnDisk, nil
}

func (m *mockService) Delete(id string) (manager.State, error) {
	if _, err := m.ModelStatus(id); err != nil {
		return manager.StateNotInstalled, err
	}
	if m.delErr != nil {
		return manager.StateOnDisk, m.delErr
	}
	m.set(id, manager.StateNotInstalled)
	return manager.StateNotInstalled, nil
}

func (m *mockService) Ready() bool { return m.ready }

func (m *mockService) set(id string, st manager.State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.models[id]
	s.State = string(st)
	m.models[id] = s
}

type fakeHW struct{ percent float64 }

func (f fakeHW) Metrics(context.Context) types.HardwareSnapshot {
	return types.HardwareSnapshot{Device: "gpu-test", HasAccelerator: true, Percent: f.percent, TotalBytes: 100}
}

func newTestMux(svc Service, opts Options) http.Handler {
	r := router.New([]hardware.DeviceMemory{{Index: 0, Name: "a"}, {Index: 1, Name: "b"}})
	return NewMux(svc, fakeHW{percent: 42.5}, r, opts)
}

func do(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(method, path, nil))
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("json: %v body=%q", err, w.Body.String())
	}
	return v
}

func TestModelsHandler(t *testing.T) {
	h := newTestMux(newMockService("m1", "m2"), Options{})
	w := do(t, h, http.MethodGet, "/models")
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.Contains(ct, "application/json") {
		t.Fatalf("content-type=%s", ct)
	}
	if w.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatalf("missing nosniff header")
	}
	body := decode[types.ModelsResponse](t, w)
	if len(body.Models) != 2 || body.Hardware.Percent != 42.5 {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestGetModel_NotFound(t *testing.T) {
	h := newTestMux(newMockService("m1"), Options{})
	if w := do(t, h, http.MethodGet, "/models/m1"); w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	w := do(t, h, http.MethodGet, "/models/nope")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status=%d", w.Code)
	}
	e := decode[types.ErrorResponse](t, w)
	if e.Code != 404 || !strings.Contains(e.Error, "nope") {
		t.Fatalf("error body: %+v", e)
	}
}

func TestDownload_StatusCodes(t *testing.T) {
	svc := newMockService("m1")
	h := newTestMux(svc, Options{})

	svc.ticket = types.DownloadTicket{Status: types.DownloadStarted, State: "downloading", OperationID: "op"}
	w := do(t, h, http.MethodPost, "/models/m1/download")
	if w.Code != http.StatusAccepted {
		t.Fatalf("started status=%d", w.Code)
	}
	if tk := decode[types.DownloadTicket](t, w); tk.OperationID != "op" || tk.ID != "m1" {
		t.Fatalf("ticket=%+v", tk)
	}

	svc.ticket = types.DownloadTicket{Status: types.AlreadyInstalled, State: "on_disk"}
	if w := do(t, h, http.MethodPost, "/models/m1/download"); w.Code != http.StatusOK {
		t.Fatalf("installed status=%d", w.Code)
	}
	if w := do(t, h, http.MethodPost, "/models/x/download"); w.Code != http.StatusNotFound {
		t.Fatalf("missing status=%d", w.Code)
	}
}

func TestLoadUnloadDelete(t *testing.T) {
	svc := newMockService("m1")
	h := newTestMux(svc, Options{})

	w := do(t, h, http.MethodPost, "/models/m1/load")
	if w.Code != http.StatusOK {
		t.Fatalf("load status=%d", w.Code)
	}
	if a := decode[types.ActionResponse](t, w); !a.OK || a.State != "in_vram" {
		t.Fatalf("load body=%+v", a)
	}
	if w := do(t, h, http.MethodPost, "/models/m1/unload"); w.Code != http.StatusOK {
		t.Fatalf("unload status=%d", w.Code)
	}
	w = do(t, h, http.MethodPost, "/models/m1/unload")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("second unload status=%d", w.Code)
	}
	if e := decode[types.ErrorResponse](t, w); e.State != "on_disk" {
		t.Fatalf("error should carry state: %+v", e)
	}
	w = do(t, h, http.MethodDelete, "/models/m1")
	if a := decode[types.ActionResponse](t, w); w.Code != http.StatusOK || a.State != "not_installed" {
		t.Fatalf("delete code=%d body=%+v", w.Code, a)
	}
}

func TestErrorMapping(t *testing.T) {
	svc := newMockService("m1")
	h := newTestMux(svc, Options{})

	svc.loadErr = manager.ErrResourceExhausted("m1", 97, 90)
	if w := do(t, h, http.MethodPost, "/models/m1/load"); w.Code != http.StatusBadRequest {
		t.Fatalf("exhausted status=%d", w.Code)
	}
	svc.loadErr = errors.New("loader exploded")
	if w := do(t, h, http.MethodPost, "/models/m1/load"); w.Code != http.StatusBadRequest {
		t.Fatalf("loader failure status=%d", w.Code)
	}
	if w := do(t, h, http.MethodPost, "/models/zz/load"); w.Code != http.StatusNotFound {
		t.Fatalf("unknown id status=%d", w.Code)
	}
	svc.delErr = manager.ErrTransientIO("m1", "remove", errors.New("busy"))
	if w := do(t, h, http.MethodDelete, "/models/m1"); w.Code != http.StatusInternalServerError {
		t.Fatalf("transient status=%d", w.Code)
	}
}

func TestHardwareAndProbes(t *testing.T) {
	svc := newMockService()
	svc.ready = false
	h := newTestMux(svc, Options{})
	w := do(t, h, http.MethodGet, "/hardware")
	if s := decode[types.HardwareSnapshot](t, w); s.Device != "gpu-test" {
		t.Fatalf("snapshot=%+v", s)
	}
	if w := do(t, h, http.MethodGet, "/healthz"); w.Code != http.StatusOK {
		t.Fatalf("healthz=%d", w.Code)
	}
	if w := do(t, h, http.MethodGet, "/readyz"); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz=%d", w.Code)
	}
	if w := do(t, h, http.MethodGet, "/metrics"); w.Code != http.StatusOK {
		t.Fatalf("metrics=%d", w.Code)
	}
}

func TestQueues(t *testing.T) {
	h := newTestMux(newMockService(), Options{DefaultStrategy: "round_robin"})

	qs := decode[types.QueuesResponse](t, do(t, h, http.MethodGet, "/queues"))
	if len(qs.Queues) != 2 || qs.Strategy != "round_robin" {
		t.Fatalf("queues=%+v", qs)
	}
	w := do(t, h, http.MethodPost, "/queues/gpu_0/tasks")
	if c := decode[types.TaskCountResponse](t, w); c.ActiveTasks != 1 {
		t.Fatalf("count=%+v", c)
	}
	best := decode[types.BestQueueResponse](t, do(t, h, http.MethodGet, "/queues/best?strategy=least_loaded"))
	if best.Queue != "gpu_1" || best.Fallback {
		t.Fatalf("best=%+v", best)
	}
	w = do(t, h, http.MethodDelete, "/queues/gpu_0/tasks")
	if c := decode[types.TaskCountResponse](t, w); c.ActiveTasks != 0 {
		t.Fatalf("count after delete=%+v", c)
	}
	if w := do(t, h, http.MethodPost, "/queues/gpu_7/tasks"); w.Code != http.StatusNotFound {
		t.Fatalf("unknown queue=%d", w.Code)
	}
	if w := do(t, h, http.MethodGet, "/queues/best?strategy=random"); w.Code != http.StatusBadRequest {
		t.Fatalf("unknown strategy=%d", w.Code)
	}
}

func TestQueues_NotMountedWithoutRouter(t *testing.T) {
	h := NewMux(newMockService(), nil, nil, Options{})
	if w := do(t, h, http.MethodGet, "/queues"); w.Code != http.StatusNotFound {
		t.Fatalf("status=%d", w.Code)
	}
	if s := decode[types.HardwareSnapshot](t, do(t, h, http.MethodGet, "/hardware")); !s.Degraded {
		t.Fatalf("expected degraded snapshot without a source: %+v", s)
	}
}

func TestStream_SendsFramesUntilClientLeaves(t *testing.T) {
	svc := newMockService("m1")
	svc.progress = map[string]float64{"m1": 0.5}
	srv := httptest.NewServer(newTestMux(svc, Options{StreamInterval: 20 * time.Millisecond}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/hardware/stream", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content-type=%s", ct)
	}

	sc := bufio.NewScanner(resp.Body)
	frames := 0
	for sc.Scan() && frames < 2 {
		line := sc.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev types.MetricsEvent
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			t.Fatalf("frame: %v", err)
		}
		if ev.Models["m1"] != "on_disk" || ev.DownloadProgress["m1"] != 0.5 || ev.Hardware.Device != "gpu-test" {
			t.Fatalf("frame=%+v", ev)
		}
		frames++
	}
	if frames != 2 {
		t.Fatalf("frames=%d err=%v", frames, sc.Err())
	}
}

func TestStream_StopsOnServerShutdown(t *testing.T) {
	base, cancel := context.WithCancel(context.Background())
	SetBaseContext(base)
	defer SetBaseContext(nil)

	h := newTestMux(newMockService(), Options{StreamInterval: time.Hour})
	done := make(chan struct{})
	w := httptest.NewRecorder()
	go func() {
		defer close(done)
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/hardware/stream", nil))
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("stream did not stop")
	}
}
