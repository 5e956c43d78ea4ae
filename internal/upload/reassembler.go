package upload

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/rx3lixir/rill/internal/apperr"
)

const (
	// DefaultMaxFileBytes caps the reassembly buffer for one upload.
	DefaultMaxFileBytes = 64 << 20

	// DefaultMaxAge is how long an in-flight upload may sit without
	// completing before the sweep reclaims it.
	DefaultMaxAge = 10 * time.Minute

	// idBucketSeconds is the coarse time bucket folded into derived
	// upload ids so back-to-back transfers of the same file by the
	// same user do not collide.
	idBucketSeconds = 30
)

// Chunk is one fragment of an in-flight upload, already decoded from
// its transport encoding.
type Chunk struct {
	UploadID    string // optional, derived when empty
	Index       int
	Total       int
	ChunkSize   int // declared uniform fragment size, offsets are Index*ChunkSize
	FileName    string
	ContentType string
	Owner       string
	RoomID      string
	Data        []byte
}

// Completed describes a fully reassembled and stored artifact.
type Completed struct {
	UploadID    string
	Path        string
	Hash        string
	FileName    string
	ContentType string
	Size        int64
	Owner       string
	RoomID      string
}

// Storage is where completed artifacts are flushed. Implemented by
// s3storage.Client.
type Storage interface {
	UploadFile(ctx context.Context, objectName string, data []byte, contentType string) (string, error)
}

// pending is one in-progress upload. Mutated only under its own mu so
// unrelated uploads reassemble in parallel.
type pending struct {
	mu          sync.Mutex
	buf         []byte
	received    map[int]struct{}
	total       int
	chunkSize   int
	lastLen     int
	fileName    string
	contentType string
	owner       string
	roomID      string
	createdAt   time.Time
}

// Reassembler turns an ordered or unordered stream of chunks into a
// complete artifact exactly once per upload id.
type Reassembler struct {
	storage  Storage
	logger   *log.Logger
	maxBytes int

	mu        sync.Mutex
	uploads   map[string]*pending
	completed map[string]time.Time
}

func NewReassembler(storage Storage, logger *log.Logger, maxBytes int) *Reassembler {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxFileBytes
	}
	return &Reassembler{
		storage:   storage,
		logger:    logger,
		maxBytes:  maxBytes,
		uploads:   make(map[string]*pending),
		completed: make(map[string]time.Time),
	}
}

// DeriveUploadID builds a stable id for one transfer out of its
// metadata plus a coarse time bucket, so the first fragment can create
// the record without a begin handshake while two back-to-back sends of
// the same file land in different buckets.
func DeriveUploadID(owner, fileName string, total int, at time.Time) string {
	bucket := at.Unix() / idBucketSeconds
	sum := sha256.Sum256(fmt.Appendf(nil, "%s:%s:%d:%d", owner, fileName, total, bucket))
	return hex.EncodeToString(sum[:16])
}

// Submit buffers one chunk. It returns a Completed result on the
// submission that supplies the last missing index, nil otherwise.
// Resubmitting an already-seen index is a no-op.
func (r *Reassembler) Submit(ctx context.Context, c *Chunk) (*Completed, error) {
	if err := validate(c); err != nil {
		return nil, err
	}
	if c.Total*c.ChunkSize > r.maxBytes {
		return nil, apperr.New(apperr.KindBadRequest, "declared file size exceeds upload limit")
	}

	id := c.UploadID
	if id == "" {
		id = DeriveUploadID(c.Owner, c.FileName, c.Total, time.Now())
	}

	p, late := r.lookupOrCreate(id, c)
	if late {
		r.logger.Warn("Chunk for already-completed upload dropped",
			"upload_id", id, "index", c.Index, "owner", c.Owner)
		return nil, nil
	}

	done, err := r.place(p, id, c)
	if err != nil || !done {
		return nil, err
	}

	// Last missing index just landed. Drop the entry before flushing
	// so no lock is held across storage I/O.
	r.mu.Lock()
	delete(r.uploads, id)
	r.completed[id] = time.Now()
	r.mu.Unlock()

	return r.flush(ctx, p, id)
}

// lookupOrCreate finds the pending entry for id, creating it from the
// first-seen chunk's metadata. Chunks for recently completed uploads
// report late=true.
func (r *Reassembler) lookupOrCreate(id string, c *Chunk) (p *pending, late bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.completed[id]; ok {
		return nil, true
	}

	p, ok := r.uploads[id]
	if !ok {
		p = &pending{
			buf:         make([]byte, c.Total*c.ChunkSize),
			received:    make(map[int]struct{}, c.Total),
			total:       c.Total,
			chunkSize:   c.ChunkSize,
			fileName:    c.FileName,
			contentType: c.ContentType,
			owner:       c.Owner,
			roomID:      c.RoomID,
			createdAt:   time.Now(),
		}
		r.uploads[id] = p
	}

	return p, false
}

// place writes the chunk into its offset slot and reports whether the
// upload is now complete.
func (r *Reassembler) place(p *pending, id string, c *Chunk) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c.Total != p.total {
		return false, apperr.New(apperr.KindBadRequest,
			fmt.Sprintf("total chunk count %d disagrees with %d declared earlier", c.Total, p.total))
	}
	if c.ChunkSize != p.chunkSize {
		return false, apperr.New(apperr.KindBadRequest,
			fmt.Sprintf("chunk size %d disagrees with %d declared earlier", c.ChunkSize, p.chunkSize))
	}

	if _, seen := p.received[c.Index]; seen {
		// Client retransmission, already counted.
		r.logger.Debug("Duplicate chunk ignored", "upload_id", id, "index", c.Index)
		return false, nil
	}

	offset := c.Index * p.chunkSize
	copy(p.buf[offset:], c.Data)
	p.received[c.Index] = struct{}{}

	if c.Index == p.total-1 {
		p.lastLen = len(c.Data)
	}

	return len(p.received) == p.total, nil
}

// flush trims the buffer to its exact size, hashes it and hands it to
// durable storage. Called with the entry already removed from the
// table, outside all locks.
func (r *Reassembler) flush(ctx context.Context, p *pending, id string) (*Completed, error) {
	size := (p.total-1)*p.chunkSize + p.lastLen
	data := p.buf[:size]

	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	objectName := fmt.Sprintf("uploads/%s/%s/%s", p.roomID, id, p.fileName)
	path, err := r.storage.UploadFile(ctx, objectName, data, p.contentType)
	if err != nil {
		return nil, fmt.Errorf("failed to store completed upload %s: %w", id, err)
	}

	r.logger.Info("Upload reassembled",
		"upload_id", id,
		"file", p.fileName,
		"size", size,
		"chunks", p.total,
		"owner", p.owner,
	)

	return &Completed{
		UploadID:    id,
		Path:        path,
		Hash:        hash,
		FileName:    p.fileName,
		ContentType: p.contentType,
		Size:        int64(size),
		Owner:       p.owner,
		RoomID:      p.roomID,
	}, nil
}

func validate(c *Chunk) error {
	switch {
	case c.Total <= 0:
		return apperr.New(apperr.KindBadRequest, "total chunk count must be positive")
	case c.Index < 0 || c.Index >= c.Total:
		return apperr.New(apperr.KindBadRequest,
			fmt.Sprintf("chunk index %d out of range for %d chunks", c.Index, c.Total))
	case c.ChunkSize <= 0:
		return apperr.New(apperr.KindBadRequest, "chunk size must be positive")
	case len(c.Data) == 0:
		return apperr.New(apperr.KindBadRequest, "chunk payload is empty")
	case len(c.Data) > c.ChunkSize:
		return apperr.New(apperr.KindBadRequest, "chunk payload exceeds declared chunk size")
	case c.Index < c.Total-1 && len(c.Data) != c.ChunkSize:
		return apperr.New(apperr.KindBadRequest, "non-final chunk shorter than declared chunk size")
	case c.FileName == "":
		return apperr.New(apperr.KindBadRequest, "file name is required")
	case c.Owner == "":
		return apperr.New(apperr.KindAuthRequired, "chunk has no owner")
	}

	return nil
}

// InFlight returns the number of uploads currently being reassembled.
func (r *Reassembler) InFlight() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.uploads)
}

// Sweep evicts in-flight uploads older than maxAge and forgets
// completed ids of the same vintage. An abandoned transfer is
// otherwise a memory leak: the client never says goodbye.
func (r *Reassembler) Sweep(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)

	r.mu.Lock()
	defer r.mu.Unlock()

	evicted := 0
	for id, p := range r.uploads {
		if p.createdAt.Before(cutoff) {
			delete(r.uploads, id)
			evicted++
			r.logger.Warn("Abandoned upload evicted",
				"upload_id", id, "file", p.fileName, "owner", p.owner,
				"received", len(p.received), "total", p.total)
		}
	}

	for id, at := range r.completed {
		if at.Before(cutoff) {
			delete(r.completed, id)
		}
	}

	return evicted
}

// RunSweeper sweeps on a ticker until ctx is cancelled.
func (r *Reassembler) RunSweeper(ctx context.Context, interval, maxAge time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(maxAge)
		}
	}
}
