package ingest

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

const defaultPollInterval = 100 * time.Millisecond

// TailerOption customises a Tailer.
type TailerOption func(*Tailer)

// FromStart replays records already in the file instead of seeking to EOF.
func FromStart() TailerOption {
	return func(t *Tailer) { t.fromStart = true }
}

// OnFailure registers fn for records the ingestor rejects.
func OnFailure(fn FailureFunc) TailerOption {
	return func(t *Tailer) { t.onFailure = fn }
}

// WithPollInterval changes how often the file is checked for new lines.
func WithPollInterval(d time.Duration) TailerOption {
	return func(t *Tailer) {
		if d > 0 {
			t.poll = d
		}
	}
}

// WithLogger sets the tailer's logger.
func WithLogger(logger *slog.Logger) TailerOption {
	return func(t *Tailer) { t.logger = logger }
}

// ---------------------------------------------------------------------------
// Tailer watches a snapshot feed file for new records and submits them to
// an Ingestor.
// ---------------------------------------------------------------------------

type Tailer struct {
	filePath  string
	ingestor  *Ingestor
	onFailure FailureFunc
	fromStart bool
	poll      time.Duration
	logger    *slog.Logger

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	linesRead  atomic.Int64
	parseErrs  atomic.Int64
	submitErrs atomic.Int64
	startedAt  time.Time
}

// NewTailer creates a tailer for filePath. Call Start to begin watching.
func NewTailer(filePath string, ingestor *Ingestor, opts ...TailerOption) *Tailer {
	t := &Tailer{
		filePath: filePath,
		ingestor: ingestor,
		poll:     defaultPollInterval,
		logger:   slog.Default(),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// FilePath returns the path being tailed.
func (t *Tailer) FilePath() string { return t.filePath }

// Start opens the feed and begins polling it in the background until ctx is
// cancelled or Stop is called.
func (t *Tailer) Start(ctx context.Context) error {
	f, err := os.Open(t.filePath)
	if err != nil {
		return fmt.Errorf("ingest: open %s: %w", t.filePath, err)
	}

	if !t.fromStart {
		if _, err := f.Seek(0, io.SeekEnd); err != nil {
			f.Close()
			return fmt.Errorf("ingest: seek to end of %s: %w", t.filePath, err)
		}
	}

	t.startedAt = time.Now().UTC()
	t.wg.Add(1)

	t.logger.Info("snapshot feed tailer started", "file", t.filePath, "from_start", t.fromStart)

	go func() {
		defer t.wg.Done()
		defer f.Close()
		t.readLoop(ctx, f)
	}()

	return nil
}

// Stop signals the tailer to stop and waits for the read loop to finish.
func (t *Tailer) Stop() {
	t.stopOnce.Do(func() { close(t.done) })
	t.wg.Wait()
	t.logger.Info("snapshot feed tailer stopped",
		"file", t.filePath,
		"lines_read", t.linesRead.Load(),
	)
}

func (t *Tailer) readLoop(ctx context.Context, f *os.File) {
	reader := bufio.NewReader(f)
	ticker := time.NewTicker(t.poll)
	defer ticker.Stop()

	// partial holds a line whose newline has not been written yet.
	var partial []byte

	t.drainLines(ctx, reader, &partial)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.done:
			return
		case <-ticker.C:
			t.drainLines(ctx, reader, &partial)
		}
	}
}

func (t *Tailer) drainLines(ctx context.Context, reader *bufio.Reader, partial *[]byte) {
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			if len(*partial) > 0 {
				line = append(*partial, line...)
				*partial = nil
			}

			if line[len(line)-1] != '\n' {
				*partial = line
				return
			}

			t.linesRead.Add(1)
			t.processLine(ctx, line)
		}

		if err != nil {
			if err == io.EOF {
				return
			}
			t.logger.Error("snapshot feed read error", "file", t.filePath, "error", err)
			return
		}
	}
}

func (t *Tailer) processLine(ctx context.Context, line []byte) {
	if len(bytes.TrimSpace(line)) == 0 {
		return
	}

	var rec Record
	if err := json.Unmarshal(line, &rec); err != nil {
		t.parseErrs.Add(1)
		if t.parseErrs.Load()%100 == 1 {
			t.logger.Warn("snapshot feed: malformed line",
				"file", t.filePath,
				"error", err,
				"sample", truncate(string(line), 120),
			)
		}
		return
	}

	if err := t.ingestor.Submit(ctx, rec); err != nil {
		t.submitErrs.Add(1)
		t.logger.Warn("snapshot feed: submit error",
			"file", t.filePath,
			"incident", rec.IncidentID,
			"error", err,
		)
		if t.onFailure != nil {
			t.onFailure(rec, err)
		}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}

// Status returns a snapshot of the tailer's current state.
func (t *Tailer) Status() TailerStatus {
	return TailerStatus{
		FilePath:   t.filePath,
		Active:     true,
		LinesRead:  t.linesRead.Load(),
		ParseErrs:  t.parseErrs.Load(),
		SubmitErrs: t.submitErrs.Load(),
		StartedAt:  t.startedAt,
		Accepted:   t.ingestor.Count(),
	}
}

// TailerStatus is a JSON-friendly snapshot of tailer state.
type TailerStatus struct {
	FilePath   string    `json:"filePath"`
	Active     bool      `json:"active"`
	LinesRead  int64     `json:"linesRead"`
	ParseErrs  int64     `json:"parseErrors"`
	SubmitErrs int64     `json:"submitErrors"`
	StartedAt  time.Time `json:"startedAt"`
	Accepted   int64     `json:"accepted"`
}
