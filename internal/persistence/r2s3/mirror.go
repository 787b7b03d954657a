package r2s3

import (
	"context"
	"fmt"
	"log"
	"path"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"voxelstream.ai/internal/mapserver"
)

type Stats struct {
	QueueDepth          int
	QueueCapacity       int
	EnqueuedTotal       uint64
	QueueSaturatedTotal uint64
	DroppedTotal        uint64
	UploadSuccessTotal  uint64
	UploadFailTotal     uint64
	LastSuccessUnix     int64
	LastErrorUnix       int64
}

// Putter is the subset of Client the mirror needs.
type Putter interface {
	PutObject(ctx context.Context, objectKey string, body []byte, contentType, cacheControl string) error
}

type tileJob struct {
	key     string
	version uint64
	body    []byte
}

// Mirror copies every rendered tile to an S3-compatible bucket as
// <prefix>/tiles/<x>/<z>.png. Uploads are best effort: the local cache stays
// authoritative and a saturated queue drops tiles.
type Mirror struct {
	client       Putter
	prefix       string
	contentType  string
	cacheControl string
	logger       *log.Logger

	jobs        chan tileJob
	enqueueWait time.Duration
	wg          sync.WaitGroup
	closeOnce   sync.Once

	enqueuedTotal       atomic.Uint64
	queueSaturatedTotal atomic.Uint64
	droppedTotal        atomic.Uint64
	uploadSuccessTotal  atomic.Uint64
	uploadFailTotal     atomic.Uint64
	lastSuccessUnix     atomic.Int64
	lastErrorUnix       atomic.Int64

	backoff func(attempt int) time.Duration
}

type MirrorConfig struct {
	Prefix        string
	ContentType   string
	CacheControl  string
	Workers       int
	QueueCapacity int
	EnqueueWait   time.Duration
}

func NewMirror(client Putter, cfg MirrorConfig, logger *log.Logger) *Mirror {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 1024
	}
	if cfg.EnqueueWait <= 0 {
		cfg.EnqueueWait = 25 * time.Millisecond
	}
	if cfg.ContentType == "" {
		cfg.ContentType = "image/png"
	}
	m := &Mirror{
		client:       client,
		prefix:       strings.Trim(strings.ReplaceAll(cfg.Prefix, "\\", "/"), "/"),
		contentType:  cfg.ContentType,
		cacheControl: cfg.CacheControl,
		logger:       logger,
		jobs:         make(chan tileJob, cfg.QueueCapacity),
		enqueueWait:  cfg.EnqueueWait,
		backoff: func(attempt int) time.Duration {
			return time.Duration(attempt*attempt) * 200 * time.Millisecond
		},
	}
	for i := 0; i < cfg.Workers; i++ {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			for j := range m.jobs {
				m.uploadOne(j)
			}
		}()
	}
	return m
}

// ObjectKey is the bucket key for tile (x,z).
func (m *Mirror) ObjectKey(x, z int32) string {
	key := fmt.Sprintf("tiles/%d/%d.png", x, z)
	if m.prefix != "" {
		key = path.Join(m.prefix, key)
	}
	return key
}

// TileRendered implements mapserver.TileSink.
func (m *Mirror) TileRendered(rec mapserver.TileRecord, body []byte) {
	if m == nil || m.client == nil {
		return
	}
	m.enqueue(tileJob{key: m.ObjectKey(rec.X, rec.Z), version: rec.Version, body: body})
}

func (m *Mirror) enqueue(j tileJob) {
	m.enqueuedTotal.Add(1)
	select {
	case m.jobs <- j:
		return
	default:
	}

	m.queueSaturatedTotal.Add(1)
	timer := time.NewTimer(m.enqueueWait)
	defer timer.Stop()
	select {
	case m.jobs <- j:
	case <-timer.C:
		dropped := m.droppedTotal.Add(1)
		m.printf("tile mirror drop key=%s version=%d reason=queue_saturated dropped_total=%d", j.key, j.version, dropped)
	}
}

// Close waits for queued uploads to finish.
func (m *Mirror) Close() {
	if m == nil {
		return
	}
	m.closeOnce.Do(func() {
		close(m.jobs)
		m.wg.Wait()
	})
}

func (m *Mirror) Stats() Stats {
	if m == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:          len(m.jobs),
		QueueCapacity:       cap(m.jobs),
		EnqueuedTotal:       m.enqueuedTotal.Load(),
		QueueSaturatedTotal: m.queueSaturatedTotal.Load(),
		DroppedTotal:        m.droppedTotal.Load(),
		UploadSuccessTotal:  m.uploadSuccessTotal.Load(),
		UploadFailTotal:     m.uploadFailTotal.Load(),
		LastSuccessUnix:     m.lastSuccessUnix.Load(),
		LastErrorUnix:       m.lastErrorUnix.Load(),
	}
}

func (m *Mirror) uploadOne(j tileJob) {
	if err := m.uploadWithRetry(j); err != nil {
		m.uploadFailTotal.Add(1)
		m.lastErrorUnix.Store(time.Now().UTC().Unix())
		m.printf("tile mirror upload failed key=%s version=%d err=%v", j.key, j.version, err)
		return
	}
	m.uploadSuccessTotal.Add(1)
	m.lastSuccessUnix.Store(time.Now().UTC().Unix())
}

func (m *Mirror) uploadWithRetry(j tileJob) error {
	const maxAttempts = 4
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := m.client.PutObject(ctx, j.key, j.body, m.contentType, m.cacheControl)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt < maxAttempts {
			time.Sleep(m.backoff(attempt))
		}
	}
	return lastErr
}

func (m *Mirror) printf(format string, args ...any) {
	if m.logger != nil {
		m.logger.Printf(format, args...)
	}
}
