package manager

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"vramd/internal/catalog"
	"vramd/pkg/types"
)

// downloadTask is one in-flight transfer. Counters are atomic so progress can
// be read while the transfer runs.
type downloadTask struct {
	id       string
	opID     string
	started  time.Time
	received atomic.Int64
	total    atomic.Int64
}

func (t *downloadTask) progress() float64 {
	total := t.total.Load()
	if total <= 0 {
		return 0
	}
	p := float64(t.received.Load()) / float64(total)
	switch {
	case p < 0:
		return 0
	case p > 1:
		return 1
	}
	return p
}

// Download fetches and verifies id's weights, blocking until done. A model
// already on disk succeeds without touching the network; a second download of
// the same id while one is in flight is rejected.
func (m *Manager) Download(ctx context.Context, id string) (State, error) {
	d, task, st, status, err := m.beginDownload(id)
	if err != nil {
		return st, err
	}
	if status == types.AlreadyDownloading {
		return st, ErrIllegalTransition(id, st, StateDownloading, "download already in progress")
	}
	if task == nil {
		return st, nil
	}
	if m.dlTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.dlTimeout)
		defer cancel()
	}
	return m.runDownload(ctx, d, task)
}

// StartDownload evaluates the same preconditions as Download and runs the
// transfer in the background, bound to the manager's lifetime rather than the
// caller's.
func (m *Manager) StartDownload(id string) (types.DownloadTicket, error) {
	d, task, st, status, err := m.beginDownload(id)
	ticket := types.DownloadTicket{ID: id, Status: status, State: string(st)}
	if err != nil || task == nil {
		return ticket, err
	}
	ticket.OperationID = task.opID

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ctx := m.baseCtx
		if m.dlTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, m.dlTimeout)
			defer cancel()
		}
		_, _ = m.runDownload(ctx, d, task)
	}()
	return ticket, nil
}

// beginDownload registers a task and moves id to downloading. task is nil
// when no transfer is needed or allowed.
func (m *Manager) beginDownload(id string) (catalog.Descriptor, *downloadTask, State, string, error) {
	d, ok := m.cat.Get(id)
	if !ok {
		return d, nil, StateNotInstalled, "", ErrModelNotFound(id)
	}
	onDisk := m.installed(d)

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, busy := m.downloads[id]; busy {
		return d, nil, StateDownloading, types.AlreadyDownloading, nil
	}
	if onDisk {
		st := m.computeLocked(d, true)
		m.states[id] = st
		return d, nil, st, types.AlreadyInstalled, nil
	}
	if d.URL == "" {
		st := m.computeLocked(d, false)
		return d, nil, st, "", ErrIllegalTransition(id, st, StateDownloading, "no download url")
	}
	task := &downloadTask{id: id, opID: uuid.NewString(), started: time.Now()}
	task.total.Store(d.Size)
	m.downloads[id] = task
	m.states[id] = StateDownloading
	return d, task, StateDownloading, types.DownloadStarted, nil
}

func (m *Manager) runDownload(ctx context.Context, d catalog.Descriptor, task *downloadTask) (State, error) {
	ctx, span := tracer.Start(ctx, "manager.download", trace.WithAttributes(
		attribute.String("model.id", d.ID),
		attribute.String("operation.id", task.opID),
	))
	defer span.End()

	m.log.Info().Str("model", d.ID).Str("op", task.opID).Str("url", d.URL).Msg("download start")
	m.publish("download_start", d.ID, map[string]any{"operation_id": task.opID})

	err := m.fetch(ctx, d, task)
	onDisk := err == nil

	m.mu.Lock()
	delete(m.downloads, d.ID)
	st := m.computeLocked(d, onDisk)
	m.states[d.ID] = st
	m.mu.Unlock()

	fields := map[string]any{
		"operation_id": task.opID,
		"bytes":        task.received.Load(),
		"duration_ms":  time.Since(task.started).Milliseconds(),
	}
	if err != nil {
		result := "io_error"
		if IsIntegrity(err) {
			result = "checksum_mismatch"
		}
		downloadsTotal.WithLabelValues(result).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, result)
		m.log.Error().Err(err).Str("model", d.ID).Str("op", task.opID).Msg("download failed")
		fields["error"] = err.Error()
		m.publish("download_failed", d.ID, fields)
		return st, err
	}
	downloadsTotal.WithLabelValues("ok").Inc()
	span.SetAttributes(attribute.Int64("bytes", task.received.Load()))
	m.log.Info().Str("model", d.ID).Str("op", task.opID).Int64("bytes", task.received.Load()).Msg("download complete")
	m.publish("download_done", d.ID, fields)
	return st, nil
}

// fetch streams the body into <dest>.part in chunks, hashing as it goes, and
// renames it into place only after the checksum matches.
func (m *Manager) fetch(ctx context.Context, d catalog.Descriptor, task *downloadTask) (err error) {
	dest := d.Path(m.root)
	part := d.PartialPath(m.root)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.URL, nil)
	if err != nil {
		return ErrTransientIO(d.ID, "build request", err)
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return ErrTransientIO(d.ID, "request", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return ErrTransientIO(d.ID, "request", fmt.Errorf("unexpected status %s", resp.Status))
	}
	if resp.ContentLength > 0 {
		task.total.Store(resp.ContentLength)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return ErrTransientIO(d.ID, "mkdir", err)
	}
	f, err := os.Create(part)
	if err != nil {
		return ErrTransientIO(d.ID, "create", err)
	}
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(part)
		}
	}()

	h := sha256.New()
	buf := make([]byte, m.chunkSize)
	limiter := rate.NewLimiter(rate.Limit(m.rate), 1)
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				return ErrTransientIO(d.ID, "write", werr)
			}
			h.Write(buf[:n])
			task.received.Add(int64(n))
			downloadBytesTotal.Add(float64(n))
			if limiter.Allow() {
				m.publish("download_progress", d.ID, map[string]any{
					"operation_id": task.opID,
					"progress":     task.progress(),
				})
			}
		}
		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			return ErrTransientIO(d.ID, "read", rerr)
		}
	}
	if err := f.Sync(); err != nil {
		return ErrTransientIO(d.ID, "sync", err)
	}
	if err := f.Close(); err != nil {
		return ErrTransientIO(d.ID, "close", err)
	}

	if d.Checksum != "" {
		if got := hex.EncodeToString(h.Sum(nil)); got != d.Checksum {
			return ErrIntegrity(d.ID, d.Checksum, got)
		}
	}
	if err := os.Rename(part, dest); err != nil {
		return ErrTransientIO(d.ID, "install", err)
	}
	return nil
}
