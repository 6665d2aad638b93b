// Package storage keeps the round journal: one JSON line per finished
// collection round, written asynchronously into date directories.
package storage

import (
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

const journalFile = "rounds.jsonl"

// RoundRecord summarises a round. Collected content is never journalled.
type RoundRecord struct {
	RoundID    string    `json:"round_id"`
	Kind       string    `json:"kind"`
	TabIDs     []string  `json:"tab_ids"`
	Outcome    string    `json:"outcome"`
	Collected  int       `json:"collected"`
	Failed     int       `json:"failed"`
	DurationMS int64     `json:"duration_ms"`
	FinishedAt time.Time `json:"finished_at"`
}

var (
	ErrJournalClosed = errors.New("journal is closed")
	ErrJournalFull   = errors.New("journal buffer full")
)

// Journal writes RoundRecords as JSON lines. Write never blocks; records
// are dropped when the buffer is full.
type Journal struct {
	baseDir     string
	maxSizeMB   int
	writeCh     chan RoundRecord
	done        chan struct{}
	closeOnce   sync.Once
	wg          sync.WaitGroup
	currentDate string
	logger      *lumberjack.Logger
	mu          sync.Mutex
	now         func() time.Time
}

func NewJournal(baseDir string, bufferSize, maxSizeMB int) *Journal {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	j := &Journal{
		baseDir:   baseDir,
		maxSizeMB: maxSizeMB,
		writeCh:   make(chan RoundRecord, bufferSize),
		done:      make(chan struct{}),
		now:       time.Now,
	}

	j.wg.Add(1)
	go j.writeLoop()
	return j
}

// Write queues a record for async writing.
func (j *Journal) Write(rec RoundRecord) error {
	select {
	case <-j.done:
		return ErrJournalClosed
	default:
	}
	select {
	case j.writeCh <- rec:
		return nil
	default:
		slog.Warn("storage journal buffer full, dropping record", "round_id", rec.RoundID)
		return ErrJournalFull
	}
}

// Close flushes queued records and closes the file.
func (j *Journal) Close() error {
	j.closeOnce.Do(func() { close(j.done) })
	j.wg.Wait()

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.logger != nil {
		err := j.logger.Close()
		j.logger = nil
		return err
	}
	return nil
}

func (j *Journal) writeLoop() {
	defer j.wg.Done()

	for {
		select {
		case rec := <-j.writeCh:
			j.writeRecord(rec)
		case <-j.done:
			j.drain()
			return
		}
	}
}

func (j *Journal) drain() {
	for {
		select {
		case rec := <-j.writeCh:
			j.writeRecord(rec)
		default:
			return
		}
	}
}

func (j *Journal) writeRecord(rec RoundRecord) {
	data, err := json.Marshal(rec)
	if err != nil {
		slog.Error("storage journal marshal failed", "error", err, "round_id", rec.RoundID)
		return
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	date := j.now().UTC().Format("2006-01-02")
	if date != j.currentDate || j.logger == nil {
		if !j.rotateForDate(date) {
			return
		}
	}

	if _, err := j.logger.Write(append(data, '\n')); err != nil {
		slog.Error("storage journal write failed", "error", err, "round_id", rec.RoundID)
	}
}

func (j *Journal) rotateForDate(date string) bool {
	if j.logger != nil {
		if err := j.logger.Close(); err != nil {
			slog.Debug("storage journal close failed", "error", err)
		}
		j.logger = nil
	}

	dir := filepath.Join(j.baseDir, date)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		slog.Error("storage journal mkdir failed", "error", err, "dir", dir)
		return false
	}

	filename := filepath.Join(dir, journalFile)
	j.logger = &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    j.maxSizeMB,
		MaxBackups: 30,
		MaxAge:     90,
		LocalTime:  false,
	}
	j.currentDate = date
	slog.Info("storage journal opened", "file", filename)
	return true
}
