package manager

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"vramd/internal/catalog"
	"vramd/pkg/types"
)

func TestDownload_ExistingDestinationSkipsNetwork(t *testing.T) {
	ws := newWeightServer(t, []byte("unused"))
	env := newTestEnv(t, catalog.Descriptor{ID: "m", Filename: "m.bin", URL: ws.URL})
	env.install(t, "m")

	st, err := env.m.Download(testCtx(t), "m")
	if err != nil || st != StateOnDisk {
		t.Fatalf("st=%s err=%v", st, err)
	}
	ticket, err := env.m.StartDownload("m")
	if err != nil || ticket.Status != types.AlreadyInstalled {
		t.Fatalf("ticket=%+v err=%v", ticket, err)
	}
	if n := ws.hits.Load(); n != 0 {
		t.Fatalf("expected no network calls, got %d", n)
	}
}

func TestDownload_ChecksumMismatchCleansUp(t *testing.T) {
	ws := newWeightServer(t, []byte("corrupted bytes"))
	env := newTestEnv(t, catalog.Descriptor{ID: "m", Filename: "m.bin", URL: ws.URL, Checksum: sha([]byte("expected bytes"))})

	st, err := env.m.Download(testCtx(t), "m")
	if !IsIntegrity(err) {
		t.Fatalf("expected integrity error, got %v", err)
	}
	if st != StateNotInstalled {
		t.Fatalf("state=%s", st)
	}
	for _, name := range []string{"m.bin", "m.bin.part"} {
		if _, err := os.Stat(filepath.Join(env.dir, name)); !os.IsNotExist(err) {
			t.Fatalf("%s left on disk: %v", name, err)
		}
	}
	if p := env.m.Progress(); len(p) != 0 {
		t.Fatalf("progress not cleared: %v", p)
	}
	if len(env.pub.Named("download_failed")) != 1 {
		t.Fatalf("expected download_failed event")
	}
}

func TestDownload_WritesVerifiedFileAndPublishesProgress(t *testing.T) {
	body := []byte("0123456789abcdef0123")
	ws := newWeightServer(t, body)
	env := newTestEnv(t, catalog.Descriptor{ID: "m", Filename: filepath.Join("sub", "m.bin"), URL: ws.URL, Checksum: sha(body)})

	st, err := env.m.Download(testCtx(t), "m")
	if err != nil || st != StateOnDisk {
		t.Fatalf("st=%s err=%v", st, err)
	}
	got, err := os.ReadFile(filepath.Join(env.dir, "sub", "m.bin"))
	if err != nil || string(got) != string(body) {
		t.Fatalf("content=%q err=%v", got, err)
	}
	prog := env.pub.Named("download_progress")
	if len(prog) == 0 {
		t.Fatalf("expected at least one progress event")
	}
	if p, _ := prog[0].Fields["progress"].(float64); p <= 0 || p > 1 {
		t.Fatalf("first progress=%v", prog[0].Fields["progress"])
	}
	if len(env.pub.Named("download_done")) != 1 {
		t.Fatalf("expected download_done")
	}
}

func TestDownload_HTTPErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)
	env := newTestEnv(t, catalog.Descriptor{ID: "m", Filename: "m.bin", URL: srv.URL})

	st, err := env.m.Download(testCtx(t), "m")
	if !IsTransientIO(err) || st != StateNotInstalled {
		t.Fatalf("st=%s err=%v", st, err)
	}
}

func TestDownload_TruncatedBodyCleansUp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1000")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("0123456789"))
		w.(http.Flusher).Flush()
		conn, _, err := w.(http.Hijacker).Hijack()
		if err != nil {
			return
		}
		_ = conn.Close()
	}))
	t.Cleanup(srv.Close)
	env := newTestEnv(t, catalog.Descriptor{ID: "a", Filename: "a.bin", URL: srv.URL})

	st, err := env.m.Download(testCtx(t), "a")
	if !IsTransientIO(err) {
		t.Fatalf("expected transient I/O error, got %v", err)
	}
	if st != StateNotInstalled {
		t.Fatalf("state=%s", st)
	}
	for _, name := range []string{"a.bin", "a.bin.part"} {
		if _, err := os.Stat(filepath.Join(env.dir, name)); !os.IsNotExist(err) {
			t.Fatalf("%s left on disk: %v", name, err)
		}
	}
	if p := env.m.Progress(); len(p) != 0 {
		t.Fatalf("progress not cleared: %v", p)
	}
	if len(env.pub.Named("download_failed")) != 1 {
		t.Fatalf("expected download_failed event")
	}
}

func TestDownload_NoURLIsIllegal(t *testing.T) {
	env := newTestEnv(t, catalog.Descriptor{ID: "m", Filename: "m.bin"})
	if _, err := env.m.Download(testCtx(t), "m"); !IsIllegalTransition(err) {
		t.Fatalf("expected illegal transition, got %v", err)
	}
}

// slowServer sends half the body, then waits for release before sending the rest.
func slowServer(t *testing.T, body []byte) (*httptest.Server, func()) {
	t.Helper()
	gate := make(chan struct{})
	var once sync.Once
	release := func() { once.Do(func() { close(gate) }) }
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", itoa(len(body)))
		half := len(body) / 2
		_, _ = w.Write(body[:half])
		w.(http.Flusher).Flush()
		select {
		case <-gate:
		case <-r.Context().Done():
			return
		}
		_, _ = w.Write(body[half:])
	}))
	t.Cleanup(func() {
		release()
		srv.Close()
	})
	return srv, release
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

func TestStartDownload_BackgroundSingleWriter(t *testing.T) {
	body := []byte("abcdefghijklmnop")
	srv, release := slowServer(t, body)
	env := newTestEnv(t, catalog.Descriptor{ID: "m", Filename: "m.bin", URL: srv.URL, Checksum: sha(body)})

	ticket, err := env.m.StartDownload("m")
	if err != nil || ticket.Status != types.DownloadStarted || ticket.OperationID == "" {
		t.Fatalf("ticket=%+v err=%v", ticket, err)
	}
	waitFor(t, "partial progress", func() bool {
		p := env.m.Progress()["m"]
		return p > 0 && p < 1
	})
	if st, _ := env.m.State("m"); st != StateDownloading {
		t.Fatalf("state while downloading=%s", st)
	}
	// refresh keeps the in-flight state
	env.m.Refresh()
	if st, _ := env.m.State("m"); st != StateDownloading {
		t.Fatalf("refresh clobbered downloading: %s", st)
	}

	again, err := env.m.StartDownload("m")
	if err != nil || again.Status != types.AlreadyDownloading {
		t.Fatalf("second ticket=%+v err=%v", again, err)
	}
	if _, err := env.m.Download(testCtx(t), "m"); !IsIllegalTransition(err) {
		t.Fatalf("concurrent Download: %v", err)
	}
	if _, err := env.m.Load(testCtx(t), "m"); !IsIllegalTransition(err) {
		t.Fatalf("load during download: %v", err)
	}
	if _, err := env.m.Delete("m"); !IsIllegalTransition(err) {
		t.Fatalf("delete during download: %v", err)
	}

	release()
	waitFor(t, "download completion", func() bool {
		st, _ := env.m.State("m")
		return st == StateOnDisk
	})
	if len(env.m.Progress()) != 0 {
		t.Fatalf("progress not cleared after completion")
	}
}

func TestDownloadTask_ProgressClamped(t *testing.T) {
	task := &downloadTask{}
	if task.progress() != 0 {
		t.Fatalf("unknown total should report 0")
	}
	task.total.Store(10)
	task.received.Store(5)
	if task.progress() != 0.5 {
		t.Fatalf("progress=%v", task.progress())
	}
	task.received.Store(15)
	if task.progress() != 1 {
		t.Fatalf("progress should clamp to 1, got %v", task.progress())
	}
}
