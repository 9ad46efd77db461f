// Package logger writes the per-run CSV: one row per sample tick with a
// timestamp, one column per logged device and a trailing event column.
package logger

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Placeholder steht in jeder Zelle ohne Wert.
const Placeholder = "-"

// DefaultInterval is the sample period when the config carries none.
const DefaultInterval = 250 * time.Millisecond

const timestampLayout = "2006-01-02 15:04:05.000"

// ValueSource is the polymorphic "current loggable value" contract. State
// devices report until the state changes, reading devices report once per
// explicit read; ok=false means no cell this row.
type ValueSource interface {
	LogValue() (string, bool)
}

// Column binds one CSV column to its source.
type Column struct {
	Alias  string
	Source ValueSource
}

// Row is one written sample, handed to the row hook for live streaming.
type Row struct {
	Timestamp time.Time `json:"timestamp"`
	Values    []string  `json:"values"`
	Event     string    `json:"event"`
}

// RunLogger samples the bench into a CSV file for the lifetime of one run.
type RunLogger struct {
	path     string
	interval time.Duration
	columns  []Column
	tap      *EventTap
	logger   *zap.Logger

	mu    sync.Mutex
	file  *os.File
	w     *csv.Writer
	onRow func(Row)

	stopChan chan struct{}
	wg       sync.WaitGroup
	running  bool
}

func New(path string, interval time.Duration, columns []Column, tap *EventTap, logger *zap.Logger) *RunLogger {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if tap == nil {
		tap = NewEventTap()
	}
	return &RunLogger{
		path:     path,
		interval: interval,
		columns:  columns,
		tap:      tap,
		logger:   logger,
		stopChan: make(chan struct{}),
	}
}

// Path returns the CSV file path.
func (rl *RunLogger) Path() string { return rl.path }

// OnRow registers a hook that sees every written row. Set it before Start.
func (rl *RunLogger) OnRow(fn func(Row)) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.onRow = fn
}

// Start opens the file, writes the header row and begins sampling.
func (rl *RunLogger) Start() error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if rl.running {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(rl.path), 0o755); err != nil {
		return fmt.Errorf("create run log dir: %w", err)
	}
	file, err := os.Create(rl.path)
	if err != nil {
		return fmt.Errorf("create run log: %w", err)
	}
	rl.file = file
	rl.w = csv.NewWriter(file)

	header := make([]string, 0, len(rl.columns)+2)
	header = append(header, "timestamp")
	for _, col := range rl.columns {
		header = append(header, col.Alias)
	}
	header = append(header, "event")
	if err := rl.w.Write(header); err != nil {
		file.Close()
		return fmt.Errorf("write run log header: %w", err)
	}
	rl.w.Flush()

	rl.running = true
	rl.wg.Add(1)
	go rl.sampleLoop()

	rl.logger.Info("run logger started",
		zap.String("path", rl.path),
		zap.Duration("interval", rl.interval),
		zap.Int("columns", len(rl.columns)))
	return nil
}

// Stop ends sampling, flushes and closes the file.
func (rl *RunLogger) Stop() error {
	rl.mu.Lock()
	if !rl.running {
		rl.mu.Unlock()
		return nil
	}
	rl.running = false
	rl.mu.Unlock()

	close(rl.stopChan)
	rl.wg.Wait()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.w.Flush()
	err := rl.w.Error()
	if cerr := rl.file.Close(); err == nil {
		err = cerr
	}
	rl.logger.Info("run logger stopped", zap.String("path", rl.path))
	return err
}

// InsertBreak writes one row immediately with the label in the event
// column, serialized against the sampler.
func (rl *RunLogger) InsertBreak(label string) {
	rl.writeRow(label)
}

func (rl *RunLogger) sampleLoop() {
	defer rl.wg.Done()

	ticker := time.NewTicker(rl.interval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stopChan:
			return
		case <-ticker.C:
			rl.writeRow("")
		}
	}
}

// writeRow pulls every column, fills the event cell and writes one record.
// Ohne explizites Label kommt das Event aus dem Tap, genau eines pro Zeile.
func (rl *RunLogger) writeRow(event string) {
	rl.mu.Lock()
	if !rl.running || rl.w == nil {
		rl.mu.Unlock()
		return
	}

	row := Row{
		Timestamp: time.Now(),
		Values:    make([]string, 0, len(rl.columns)),
	}
	for _, col := range rl.columns {
		value, ok := col.Source.LogValue()
		if !ok {
			value = Placeholder
		}
		row.Values = append(row.Values, value)
	}

	row.Event = event
	if row.Event == "" {
		if msg, ok := rl.tap.TakeOne(); ok {
			row.Event = msg
		} else {
			row.Event = Placeholder
		}
	}

	record := make([]string, 0, len(row.Values)+2)
	record = append(record, row.Timestamp.Format(timestampLayout))
	record = append(record, row.Values...)
	record = append(record, row.Event)

	if err := rl.w.Write(record); err != nil {
		rl.logger.Error("run log write failed", zap.Error(err))
	}
	rl.w.Flush()
	if err := rl.w.Error(); err != nil {
		rl.logger.Error("run log flush failed", zap.Error(err))
	}

	hook := rl.onRow
	rl.mu.Unlock()

	if hook != nil {
		hook(row)
	}
}
