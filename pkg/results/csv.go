package results

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/capvision/go-inspect/internal/log"
	"github.com/capvision/go-inspect/pkg/policy"
)

const timeLayout = "2006-01-02 15:04:05"

var csvHeader = []string{"timestamp", "prediction", "confidence", "status"}

// CSVLog is the durable Log implementation: an append-only CSV file
// written by a single goroutine behind a bounded queue. Appends never
// block the caller; when the queue is saturated the record is dropped
// with a warning, because delaying camera release is worse than losing
// one log row.
type CSVLog struct {
	path    string
	queue   chan Record
	stopped chan struct{}
	metrics *Metrics

	mu     sync.Mutex // guards file and totals
	totals Totals
}

// NewCSV opens (or creates) the log at path, replays it to restore the
// counters, and starts the writer. metrics may be nil.
func NewCSV(path string, metrics *Metrics) (*CSVLog, error) {
	l := &CSVLog{
		path:    path,
		queue:   make(chan Record, 128),
		stopped: make(chan struct{}),
		metrics: metrics,
	}

	if err := l.replay(); err != nil {
		return nil, err
	}

	go l.writer()
	return l, nil
}

// Append implements Log. Fire-and-forget.
func (l *CSVLog) Append(rec Record) {
	select {
	case l.queue <- rec:
	default:
		log.Warn("result log queue full, dropping record", "label", rec.Label)
	}
}

// Totals implements Log.
func (l *CSVLog) Totals() Totals {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.totals
}

// Summary implements Log.
func (l *CSVLog) Summary() Summary {
	return summarize(l.Totals())
}

// Reset implements Log: truncates the file and zeroes the counters.
func (l *CSVLog) Reset() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Create(l.path)
	if err != nil {
		return fmt.Errorf("results: reset log: %w", err)
	}
	w := csv.NewWriter(f)
	w.Write(csvHeader)
	w.Flush()
	if err := f.Close(); err != nil {
		return fmt.Errorf("results: reset log: %w", err)
	}

	l.totals = Totals{}
	return nil
}

// ReadAll implements Log: parses every record in the file.
func (l *CSVLog) ReadAll() ([]Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.parse()
}

// Close drains the queue and stops the writer.
func (l *CSVLog) Close() {
	close(l.queue)
	<-l.stopped
}

// writer consumes the queue; it is the only goroutine appending rows.
func (l *CSVLog) writer() {
	defer close(l.stopped)
	for rec := range l.queue {
		if err := l.write(rec); err != nil {
			log.Error("result log write failed", "error", err)
		}
	}
}

func (l *CSVLog) write(rec Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	conf := ""
	if rec.Confidence != nil {
		conf = strconv.FormatFloat(*rec.Confidence, 'f', 3, 64)
	}

	w := csv.NewWriter(f)
	w.Write([]string{
		rec.Timestamp.Format(timeLayout),
		rec.Label,
		conf,
		string(rec.Status),
	})
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}

	l.totals.count(rec.Status)
	if l.metrics != nil {
		l.metrics.Count(rec.Status)
	}
	return nil
}

// replay restores the counters from an existing log, creating the file
// with a header when missing.
func (l *CSVLog) replay() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := os.Stat(l.path); os.IsNotExist(err) {
		f, err := os.Create(l.path)
		if err != nil {
			return fmt.Errorf("results: create log: %w", err)
		}
		w := csv.NewWriter(f)
		w.Write(csvHeader)
		w.Flush()
		return f.Close()
	}

	recs, err := l.parse()
	if err != nil {
		return err
	}
	for _, rec := range recs {
		l.totals.count(rec.Status)
	}
	return nil
}

// parse reads the whole file. Malformed rows are skipped, not fatal: a
// half-written last line must not take the service down.
func (l *CSVLog) parse() ([]Record, error) {
	f, err := os.Open(l.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("results: open log: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("results: parse log: %w", err)
	}

	var recs []Record
	for i, row := range rows {
		if i == 0 || len(row) < 4 {
			continue // header or malformed
		}
		ts, err := time.ParseInLocation(timeLayout, row[0], time.Local)
		if err != nil {
			continue
		}
		rec := Record{
			Timestamp: ts,
			Label:     row[1],
			Status:    policy.Status(row[3]),
		}
		if row[2] != "" {
			if c, err := strconv.ParseFloat(row[2], 64); err == nil {
				rec.Confidence = &c
			}
		}
		recs = append(recs, rec)
	}
	return recs, nil
}
