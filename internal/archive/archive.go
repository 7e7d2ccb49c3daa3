// Package archive copies accepted topology snapshots to S3 so incident
// history outlives the local database.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/cenkalti/backoff/v4"

	"github.com/Arvo-AI/aurora-sub002/internal/topology"
)

const (
	defaultQueueSize    = 256
	defaultWorkers      = 2
	defaultMaxRetryTime = 30 * time.Second
)

// ErrQueueFull is returned by Enqueue when uploads are backed up.
var ErrQueueFull = errors.New("archive: queue full")

// ErrClosed is returned by Enqueue after Close.
var ErrClosed = errors.New("archive: closed")

// ObjectPutter is the subset of the S3 client the archiver needs.
type ObjectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Config selects the archive destination.
type Config struct {
	Bucket  string
	Prefix  string
	Region  string
	Workers int
}

// Option customises an Archiver.
type Option func(*Archiver)

// WithBackoff overrides the retry policy applied to each upload.
func WithBackoff(newBackoff func() backoff.BackOff) Option {
	return func(a *Archiver) {
		a.newBackoff = newBackoff
	}
}

// WithLogger sets the archiver's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Archiver) {
		a.logger = logger
	}
}

// Stats counts archive outcomes.
type Stats struct {
	Queued   int   `json:"queued"`
	Uploaded int64 `json:"uploaded"`
	Failed   int64 `json:"failed"`
	Dropped  int64 `json:"dropped"`
}

type job struct {
	incidentID string
	snap       *topology.Snapshot
}

// Archiver uploads snapshots from a background worker pool.
type Archiver struct {
	client     ObjectPutter
	bucket     string
	prefix     string
	newBackoff func() backoff.BackOff
	logger     *slog.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan job

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	closeOnce sync.Once

	uploaded atomic.Int64
	failed   atomic.Int64
	dropped  atomic.Int64
}

// New loads the default AWS configuration for cfg.Region and starts an
// archiver backed by a real S3 client.
func New(ctx context.Context, cfg Config, opts ...Option) (*Archiver, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("archive: bucket is required")
	}
	var loadOpts []func(*awscfg.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awscfg.WithRegion(cfg.Region))
	}
	awsCfg, err := awscfg.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("archive: load aws config: %w", err)
	}
	return NewWithClient(s3.NewFromConfig(awsCfg), cfg, opts...), nil
}

// NewWithClient starts an archiver that uploads through client.
func NewWithClient(client ObjectPutter, cfg Config, opts ...Option) *Archiver {
	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}

	ctx, cancel := context.WithCancel(context.Background())
	a := &Archiver{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		newBackoff: func() backoff.BackOff {
			return backoff.NewExponentialBackOff(
				backoff.WithInitialInterval(250*time.Millisecond),
				backoff.WithMaxInterval(5*time.Second),
				backoff.WithMaxElapsedTime(defaultMaxRetryTime),
			)
		},
		logger: slog.Default(),
		queue:  make(chan job, defaultQueueSize),
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(a)
	}

	for i := 0; i < workers; i++ {
		a.wg.Add(1)
		go a.worker(i)
	}
	a.logger.Info("snapshot archive started", "bucket", a.bucket, "prefix", a.prefix, "workers", workers)
	return a
}

// Key returns the object key for one snapshot version.
func (a *Archiver) Key(incidentID string, version int64) string {
	return path.Join(a.prefix, incidentID, fmt.Sprintf("%d.json", version))
}

// Enqueue schedules snap for upload without blocking.
func (a *Archiver) Enqueue(incidentID string, snap *topology.Snapshot) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrClosed
	}

	select {
	case a.queue <- job{incidentID: incidentID, snap: snap}:
		return nil
	default:
		a.dropped.Add(1)
		return ErrQueueFull
	}
}

// Upload writes snap to S3 synchronously, retrying transient failures.
func (a *Archiver) Upload(ctx context.Context, incidentID string, snap *topology.Snapshot) error {
	body, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("archive: marshal snapshot: %w", err)
	}
	key := a.Key(incidentID, snap.Version)

	attempt := 0
	op := func() error {
		attempt++
		_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(a.bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(body),
			ContentType: aws.String("application/json"),
		})
		if err != nil {
			a.logger.Debug("archive upload attempt failed", "key", key, "attempt", attempt, "error", err)
		}
		return err
	}
	if err := backoff.Retry(op, backoff.WithContext(a.newBackoff(), ctx)); err != nil {
		return fmt.Errorf("archive: put %s after %d attempts: %w", key, attempt, err)
	}
	return nil
}

// Stats returns a snapshot of the archiver's counters.
func (a *Archiver) Stats() Stats {
	return Stats{
		Queued:   len(a.queue),
		Uploaded: a.uploaded.Load(),
		Failed:   a.failed.Load(),
		Dropped:  a.dropped.Load(),
	}
}

// Close stops the workers. Uploads still queued are abandoned.
// Safe to call multiple times.
func (a *Archiver) Close() {
	a.closeOnce.Do(func() {
		a.cancel()
		a.mu.Lock()
		a.closed = true
		close(a.queue)
		a.mu.Unlock()
		a.wg.Wait()
		a.logger.Info("snapshot archive shut down", "uploaded", a.uploaded.Load(), "failed", a.failed.Load())
	})
}

// ---------------------------------------------------------------------------
// Worker loop
// ---------------------------------------------------------------------------

func (a *Archiver) worker(id int) {
	defer a.wg.Done()
	for {
		select {
		case <-a.ctx.Done():
			return
		case j, ok := <-a.queue:
			if !ok {
				return
			}
			if err := a.Upload(a.ctx, j.incidentID, j.snap); err != nil {
				a.failed.Add(1)
				a.logger.Error("snapshot archive failed",
					"worker", id,
					"incident", j.incidentID,
					"version", j.snap.Version,
					"error", err,
				)
				continue
			}
			a.uploaded.Add(1)
			a.logger.Debug("snapshot archived", "worker", id, "incident", j.incidentID, "version", j.snap.Version)
		}
	}
}
