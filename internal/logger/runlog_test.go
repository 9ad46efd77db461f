package logger

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stateSource meldet einen Zustand, bis er geändert wird.
type stateSource struct {
	mu    sync.Mutex
	value string
}

func (s *stateSource) set(v string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.value = v
}

func (s *stateSource) LogValue() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.value == "" {
		return "", false
	}
	return s.value, true
}

// readingSource meldet eine Messung genau einmal.
type readingSource struct {
	mu    sync.Mutex
	value string
	valid bool
}

func (s *readingSource) record(v string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.value, s.valid = v, true
}

func (s *readingSource) LogValue() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.valid {
		return "", false
	}
	s.valid = false
	return s.value, true
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestRunLoggerHeaderAndRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.csv")
	valves := &stateSource{}
	force := &readingSource{}

	rl := New(path, 20*time.Millisecond, []Column{
		{Alias: "valves", Source: valves},
		{Alias: "force", Source: force},
	}, nil, nil)

	valves.set("1.A")
	force.record("20.00 lbf")

	require.NoError(t, rl.Start())
	time.Sleep(90 * time.Millisecond)
	require.NoError(t, rl.Stop())

	rows := readCSV(t, path)
	require.GreaterOrEqual(t, len(rows), 3) // Header + mindestens 2 Samples
	assert.Equal(t, []string{"timestamp", "valves", "force", "event"}, rows[0])

	first := rows[1]
	require.Len(t, first, 4)
	_, err := time.Parse("2006-01-02 15:04:05.000", first[0])
	require.NoError(t, err)

	// Zustandswert wiederholt sich, die Messung steht genau einmal drin
	assert.Equal(t, "1.A", rows[1][1])
	assert.Equal(t, "1.A", rows[2][1])
	assert.Equal(t, "20.00 lbf", rows[1][2])
	assert.Equal(t, Placeholder, rows[2][2])
}

func TestRunLoggerEventConsumedOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.csv")
	tap := NewEventTap()
	rl := New(path, 15*time.Millisecond, nil, tap, nil)

	tap.Push("section extend")
	require.NoError(t, rl.Start())
	time.Sleep(80 * time.Millisecond)
	require.NoError(t, rl.Stop())

	rows := readCSV(t, path)
	require.GreaterOrEqual(t, len(rows), 3)

	events := make([]string, 0)
	for _, row := range rows[1:] {
		events = append(events, row[len(row)-1])
	}
	assert.Equal(t, "section extend", events[0])
	for _, ev := range events[1:] {
		assert.Equal(t, Placeholder, ev)
	}
}

func TestRunLoggerQueuedEventsDrainOnePerRow(t *testing.T) {
	tap := NewEventTap()
	tap.Push("first")
	tap.Push("second")

	path := filepath.Join(t.TempDir(), "run.csv")
	rl := New(path, 15*time.Millisecond, nil, tap, nil)
	require.NoError(t, rl.Start())

	rl.InsertBreak("break") // explizites Label lässt die Queue unberührt
	assert.Equal(t, 2, tap.Pending())

	time.Sleep(60 * time.Millisecond)
	require.NoError(t, rl.Stop())
	assert.Equal(t, 0, tap.Pending())

	rows := readCSV(t, path)
	events := make([]string, 0)
	for _, row := range rows[1:] {
		events = append(events, row[len(row)-1])
	}
	assert.Equal(t, "break", events[0])
	assert.Equal(t, "first", events[1])
	assert.Equal(t, "second", events[2])
}

func TestRunLoggerRowHook(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.csv")
	valves := &stateSource{}
	valves.set("2.B")

	rl := New(path, 10*time.Millisecond, []Column{{Alias: "valves", Source: valves}}, nil, nil)

	var mu sync.Mutex
	var got []Row
	rl.OnRow(func(r Row) {
		mu.Lock()
		got = append(got, r)
		mu.Unlock()
	})

	require.NoError(t, rl.Start())
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, rl.Stop())

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, got)
	assert.Equal(t, []string{"2.B"}, got[0].Values)
	assert.Equal(t, Placeholder, got[0].Event)
}

func TestRunLoggerStopIsIdempotent(t *testing.T) {
	rl := New(filepath.Join(t.TempDir(), "run.csv"), 10*time.Millisecond, nil, nil, nil)
	require.NoError(t, rl.Start())
	require.NoError(t, rl.Stop())
	require.NoError(t, rl.Stop())
}

func TestEventTapFIFO(t *testing.T) {
	tap := NewEventTap()

	_, ok := tap.TakeOne()
	assert.False(t, ok)

	tap.Push("a")
	tap.Push("b")

	msg, ok := tap.TakeOne()
	require.True(t, ok)
	assert.Equal(t, "a", msg)

	msg, ok = tap.TakeOne()
	require.True(t, ok)
	assert.Equal(t, "b", msg)

	_, ok = tap.TakeOne()
	assert.False(t, ok)
}
