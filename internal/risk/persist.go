package risk

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
)

// Run drives the durable ledger: every LedgerInterval new records are
// appended to DataDir/ledger_<date>.jsonl, ledgers older than the retention
// window are gzipped, and an idle book still gets its periodic summary.
func (l *Ledger) Run(ctx context.Context) {
	interval := l.cfg.LedgerInterval
	if interval <= 0 {
		interval = time.Minute
	}
	t := l.clock.Ticker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := l.FlushLedger(); err != nil {
				l.logEntry().WithError(err).Warn("final ledger flush failed")
			}
			return
		case <-t.C:
			if err := l.FlushLedger(); err != nil {
				l.logEntry().WithError(err).Warn("ledger flush failed")
			}
			if err := l.ArchiveLedgers(); err != nil {
				l.logEntry().WithError(err).Warn("ledger archive failed")
			}
			l.Mark()
		}
	}
}

// FlushLedger appends records booked since the previous flush, then
// records annotated after they were flushed. A reader keeps the last line
// per id. A failed append leaves everything pending for the next flush.
func (l *Ledger) FlushLedger() error {
	l.flushMu.Lock()
	defer l.flushMu.Unlock()

	l.mu.Lock()
	start, end := l.ledgerIdx, len(l.trades)
	dirty := make([]int, 0, len(l.reflush))
	for i := range l.reflush {
		dirty = append(dirty, i)
	}
	sort.Ints(dirty)
	rows := make([]any, 0, end-start+len(dirty))
	for _, i := range dirty {
		rows = append(rows, l.trades[i])
	}
	for i := start; i < end; i++ {
		rows = append(rows, l.trades[i])
	}
	l.reflush = map[int]struct{}{}
	l.flushEnd = end
	now := l.clock.Now().UTC()
	l.mu.Unlock()

	if len(rows) == 0 {
		return nil
	}
	path := filepath.Join(l.dataDir(), fmt.Sprintf("ledger_%s.jsonl", now.Format(time.DateOnly)))
	err := appendJSONL(path, rows...)

	l.mu.Lock()
	defer l.mu.Unlock()
	if err != nil {
		l.flushEnd = start
		for _, i := range dirty {
			l.reflush[i] = struct{}{}
		}
		for i := range l.reflush {
			if i >= start {
				delete(l.reflush, i)
			}
		}
		return err
	}
	l.ledgerIdx = end
	return nil
}

// ArchiveLedgers gzips ledger files last modified before the retention
// window. A file already archived is left alone.
func (l *Ledger) ArchiveLedgers() error {
	retention := l.cfg.LedgerRetention
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	matches, err := filepath.Glob(filepath.Join(l.dataDir(), "ledger_*.jsonl"))
	if err != nil {
		return err
	}
	cutoff := l.clock.Now().Add(-retention)
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		if _, err := os.Stat(path + ".gz"); err == nil {
			continue
		}
		if err := gzipFile(path); err != nil {
			return fmt.Errorf("archive %s: %w", filepath.Base(path), err)
		}
		l.logEntry().WithField("file", filepath.Base(path)).Info("ledger archived")
	}
	return nil
}

// WriteSnapshot appends the portfolio snapshot to the summary file. A
// non-empty tag replaces the timestamp, as with the final TOTAL line.
func (l *Ledger) WriteSnapshot(tag string) (Portfolio, error) {
	snap := l.PortfolioSnapshot()
	if tag != "" {
		snap.Timestamp = tag
	}
	if l.cfg.SummaryPath == "" {
		return snap, nil
	}
	return snap, appendJSONL(l.cfg.SummaryPath, snap)
}

func (l *Ledger) writeSummary(row map[string]any) {
	if l.cfg.SummaryPath == "" {
		return
	}
	if err := appendJSONL(l.cfg.SummaryPath, row); err != nil {
		l.logEntry().WithError(err).Warn("summary write failed")
	}
}

func (l *Ledger) dataDir() string {
	if l.cfg.DataDir == "" {
		return "data"
	}
	return l.cfg.DataDir
}

func appendJSONL(path string, rows ...any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	for _, r := range rows {
		if err := enc.Encode(r); err != nil {
			f.Close()
			return err
		}
	}
	return f.Close()
}

func gzipFile(path string) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	tmp := path + ".gz.tmp"
	dst, err := os.Create(tmp)
	if err != nil {
		return err
	}
	zw := gzip.NewWriter(dst)
	zw.Name = filepath.Base(path)
	if _, err := io.Copy(zw, src); err != nil {
		dst.Close()
		os.Remove(tmp)
		return err
	}
	if err := zw.Close(); err != nil {
		dst.Close()
		os.Remove(tmp)
		return err
	}
	if err := dst.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, strings.TrimSuffix(tmp, ".tmp")); err != nil {
		return err
	}
	src.Close()
	return os.Remove(path)
}
