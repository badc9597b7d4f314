package execution

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/sourcegraph/conc"
	"go.uber.org/multierr"
)

var (
	ErrQueueFull     = errors.New("artifact queue full")
	ErrWriterClosed  = errors.New("artifact writer closed")
	errUnknownFormat = errors.New("unknown artifact format")
)

type format int

const (
	formatCSV format = iota
	formatJSONL
)

type artifact struct {
	format format
	path   string
	header []string
	row    []string
	value  any
}

// ArtifactWriter appends CSV and JSONL rows from a bounded queue on its own
// goroutine so file I/O never blocks the caller.
type ArtifactWriter struct {
	ch      chan artifact
	wg      conc.WaitGroup
	files   map[string]*os.File
	dropped atomic.Int64
	started atomic.Bool
	closed  atomic.Bool

	mu  sync.Mutex
	err error

	// sendMu keeps enqueue from racing the channel close.
	sendMu sync.RWMutex
}

func NewArtifactWriter(queueSize int) *ArtifactWriter {
	if queueSize <= 0 {
		queueSize = 1024
	}
	return &ArtifactWriter{
		ch:    make(chan artifact, queueSize),
		files: map[string]*os.File{},
	}
}

// Start runs the writer loop. Cancelling ctx drains what is queued.
func (w *ArtifactWriter) Start(ctx context.Context) {
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	w.wg.Go(func() { w.run(ctx) })
}

// Close stops intake, flushes the queue and closes every file.
func (w *ArtifactWriter) Close() error {
	w.sendMu.Lock()
	if w.closed.CompareAndSwap(false, true) {
		close(w.ch)
	}
	w.sendMu.Unlock()
	if !w.started.Load() {
		w.drain()
		w.closeFiles()
	}
	w.wg.Wait()
	return w.Err()
}

// Err is the first write error seen, if any.
func (w *ArtifactWriter) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Dropped counts rows rejected because the queue was full.
func (w *ArtifactWriter) Dropped() int64 {
	return w.dropped.Load()
}

// AppendCSV queues a CSV row. header is written when the file is new.
func (w *ArtifactWriter) AppendCSV(path string, header, row []string) error {
	return w.enqueue(artifact{format: formatCSV, path: path, header: header, row: row})
}

func (w *ArtifactWriter) AppendJSONL(path string, v any) error {
	return w.enqueue(artifact{format: formatJSONL, path: path, value: v})
}

func (w *ArtifactWriter) enqueue(a artifact) error {
	w.sendMu.RLock()
	defer w.sendMu.RUnlock()
	if w.closed.Load() {
		return ErrWriterClosed
	}
	select {
	case w.ch <- a:
		return nil
	default:
		w.dropped.Add(1)
		return ErrQueueFull
	}
}

func (w *ArtifactWriter) run(ctx context.Context) {
	defer w.closeFiles()
	for {
		select {
		case <-ctx.Done():
			w.drain()
			return
		case a, ok := <-w.ch:
			if !ok {
				return
			}
			w.write(a)
		}
	}
}

func (w *ArtifactWriter) drain() {
	for {
		select {
		case a, ok := <-w.ch:
			if !ok {
				return
			}
			w.write(a)
		default:
			return
		}
	}
}

func (w *ArtifactWriter) write(a artifact) {
	f, fresh, err := w.open(a.path)
	if err != nil {
		w.setErr(err)
		return
	}

	switch a.format {
	case formatCSV:
		cw := csv.NewWriter(f)
		if fresh && len(a.header) > 0 {
			_ = cw.Write(a.header)
		}
		_ = cw.Write(a.row)
		cw.Flush()
		err = cw.Error()
	case formatJSONL:
		err = json.NewEncoder(f).Encode(a.value)
	default:
		err = errUnknownFormat
	}
	if err != nil {
		w.setErr(fmt.Errorf("write %s: %w", filepath.Base(a.path), err))
	}
}

// open returns a cached append handle and whether the file was empty.
func (w *ArtifactWriter) open(path string) (*os.File, bool, error) {
	if f, ok := w.files[path]; ok {
		return f, false, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, false, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, false, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, false, err
	}
	w.files[path] = f
	return f, info.Size() == 0, nil
}

func (w *ArtifactWriter) closeFiles() {
	var err error
	for path, f := range w.files {
		err = multierr.Append(err, f.Sync())
		err = multierr.Append(err, f.Close())
		delete(w.files, path)
	}
	if err != nil {
		w.setErr(err)
	}
}

func (w *ArtifactWriter) setErr(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err == nil {
		w.err = err
	}
}
