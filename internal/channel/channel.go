// Package channel implements the per-channel storage engine: a segmented,
// append-only, time-indexed binary log.
//
// A channel owns an ordered list of segments (parts), a fixed-capacity LRU
// cache of decoded index entries, and the retention configuration. Appends go
// to the tail part and roll over into a new part when size or age thresholds
// trip; retention evicts the head part once its age or the accumulated volume
// exceeds the configured bounds. Random access reads and the time bisection
// search go through the index cache.
//
// Construction scans the channel directory for existing parts. A channel with
// any pre-existing data is immutable: it opens in read-only mode and append
// is rejected. Only freshly created channels accept writes.
//
// Every public operation holds the channel mutex for its full duration, so
// operations are serialized per channel; different channels are independent.
// I/O failures set a sticky failure flag that permanently rejects subsequent
// operations.
package channel

import (
	"context"
	"math"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/sonarlab/hydrodb/internal/cache"
	"github.com/sonarlab/hydrodb/internal/segment"
	"github.com/sonarlab/hydrodb/pkg/clock"
	"github.com/sonarlab/hydrodb/pkg/errors"
	"github.com/sonarlab/hydrodb/pkg/filesys"
	"github.com/sonarlab/hydrodb/pkg/options"
)

// Channel is one logical append-only time-indexed stream backed by segment
// files in a single directory.
type Channel struct {
	path string // Directory holding the channel's part files.
	name string // Channel name; prefix of every part file.

	log *zap.SugaredLogger
	fs  afero.Fs
	clk clock.Clock

	mu       sync.Mutex
	readonly bool // Existing channels and finalized channels reject appends.
	failed   bool // Sticky: set on I/O failure, rejects all operations.

	maxSegmentSize int32 // Max data file size including header.
	retentionTime  int64 // Age bound for head eviction, microseconds.
	retentionSize  int64 // Volume bound for head eviction, bytes.

	dataSize int64 // Payload bytes across all parts, excluding file headers.

	parts []*segment.Segment
	cache *cache.Cache

	metrics *channelMetrics
}

// Config holds the parameters needed to open or create a channel engine.
type Config struct {
	// Path is the directory the channel's part files live in. It must exist.
	Path string

	// Name is the channel name used as the part file prefix.
	Name string

	// ReadOnly requests read-only mode. A channel whose directory already
	// contains part files is read-only regardless of this flag.
	ReadOnly bool

	Options *options.Options
	Logger  *zap.SugaredLogger
}

// New opens a channel engine, scanning the directory for existing parts.
//
// Scanning walks part numbers upwards from zero. If the first part cannot be
// opened the channel enters the permanent failed state; if a later part fails
// to open or breaks index continuity, scanning stops and the successfully
// loaded prefix is kept. Opening in read-only mode with no parts on disk is
// also a failure.
//
// New itself errors only on invalid configuration; recoverable storage
// problems surface as the sticky failure state on subsequent operations.
func New(ctx context.Context, config *Config) (*Channel, error) {
	if config == nil || config.Name == "" || config.Path == "" ||
		config.Options == nil || config.Logger == nil {
		return nil, errors.NewValidationError(
			nil, errors.ErrorCodeInvalidInput, "Channel configuration is required",
		).WithField("config").WithRule("required").WithProvided(config)
	}

	c := &Channel{
		path:           config.Path,
		name:           config.Name,
		log:            config.Logger,
		fs:             config.Options.Fs,
		clk:            config.Options.Clock,
		readonly:       config.ReadOnly,
		maxSegmentSize: config.Options.MaxSegmentSize,
		retentionTime:  config.Options.RetentionTime,
		retentionSize:  config.Options.RetentionSize,
		cache:          cache.New(options.CacheCapacity),
		metrics:        newChannelMetrics(config.Name),
	}

	c.scan()

	if c.readonly && len(c.parts) == 0 {
		c.failed = true
	}

	if c.failed {
		c.log.Errorw("Channel entered failed state during open",
			"channel", c.name, "path", c.path)
	} else {
		c.log.Infow("Channel opened",
			"channel", c.name,
			"path", c.path,
			"parts", len(c.parts),
			"readOnly", c.readonly,
			"dataSize", c.dataSize,
		)
	}

	return c, nil
}

// scan loads existing parts in order. Any pre-existing part forces read-only
// mode: channels with recorded data are immutable.
func (c *Channel) scan() {
	for part := 0; part < options.MaxParts; part++ {
		indexExists, err := filesys.Exists(c.fs, filepath.Join(c.path, segment.IndexFileName(c.name, part)))
		if err != nil {
			c.failPart(part, err)
			return
		}
		dataExists, err := filesys.Exists(c.fs, filepath.Join(c.path, segment.DataFileName(c.name, part)))
		if err != nil {
			c.failPart(part, err)
			return
		}
		if !indexExists && !dataExists {
			return
		}

		c.readonly = true

		seg, err := segment.OpenExisting(c.fs, c.clk, c.path, c.name, part)
		if err != nil {
			c.failPart(part, err)
			return
		}

		// Cross-part continuity: each part continues exactly where the
		// previous one ended.
		if len(c.parts) > 0 && seg.BeginIndex() != c.parts[len(c.parts)-1].EndIndex()+1 {
			c.log.Warnw("Channel truncated at discontinuous part",
				"channel", c.name,
				"part", part,
				"beginIndex", seg.BeginIndex(),
				"expected", c.parts[len(c.parts)-1].EndIndex()+1,
			)
			seg.Close()
			return
		}

		c.parts = append(c.parts, seg)
		c.dataSize += seg.PayloadBytes()
	}
}

// failPart records a scan failure: the loaded prefix is kept, and the channel
// fails outright only when not even the first part loaded.
func (c *Channel) failPart(part int, err error) {
	if len(c.parts) == 0 {
		c.failed = true
		c.log.Errorw("Failed to open first channel part",
			"channel", c.name, "part", part, "error", err)
		return
	}
	c.log.Warnw("Channel truncated at unreadable part",
		"channel", c.name, "part", part, "loadedParts", len(c.parts), "error", err)
}

// Append writes one record and returns its assigned index.
//
// Timestamps must be non-negative and strictly greater than the last written
// timestamp. The payload must fit a segment data file. Retention eviction
// runs first; rollover into a new part happens when size or age thresholds
// trip.
func (c *Channel) Append(time int64, payload []byte) (int32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.failed {
		return 0, c.failedError("append")
	}
	if c.readonly {
		return 0, errors.NewChannelError(
			nil, errors.ErrorCodeReadOnly, "Cannot append to read-only channel",
		).WithChannel(c.name).WithOperation("append")
	}
	if time < 0 {
		return 0, errors.NewValidationError(
			nil, errors.ErrorCodeInvalidInput, "Record timestamp cannot be negative",
		).WithField("time").WithRule("non_negative").WithProvided(time)
	}
	if int64(len(payload)) > int64(c.maxSegmentSize)-segment.DataHeaderSize {
		return 0, errors.NewValidationError(
			nil, errors.ErrorCodeInvalidInput, "Record payload exceeds segment capacity",
		).WithField("payload").
			WithRule("max_size").
			WithProvided(len(payload)).
			WithExpected(int64(c.maxSegmentSize) - segment.DataHeaderSize)
	}

	if err := c.evictExpired(); err != nil {
		return 0, err
	}

	if len(c.parts) == 0 {
		if err := c.addPart(); err != nil {
			return 0, err
		}
	} else {
		tail := c.parts[len(c.parts)-1]

		if tail.Count() > 0 {
			if tail.EndIndex() == math.MaxInt32 {
				return 0, errors.NewChannelError(
					nil, errors.ErrorCodeChannelFull, "Record index space exhausted",
				).WithChannel(c.name).WithOperation("append").WithIndex(tail.EndIndex())
			}
			if tail.EndTime() >= time {
				return 0, errors.NewChannelError(
					nil, errors.ErrorCodeOutOfOrderTime, "Record timestamp is not after the last written timestamp",
				).WithChannel(c.name).
					WithOperation("append").
					WithTime(time).
					WithDetail("lastTime", tail.EndTime())
			}
		}

		if c.needsRollover(tail, int32(len(payload))) {
			if err := c.addPart(); err != nil {
				return 0, err
			}
		}
	}

	tail := c.parts[len(c.parts)-1]
	index, entry, err := tail.Append(time, payload)
	if err != nil {
		c.failed = true
		c.log.Errorw("Append failed", "channel", c.name, "part", tail.Part(), "error", err)
		return 0, err
	}

	c.dataSize += int64(entry.Size)
	c.cache.Insert(index, tail, entry)

	c.metrics.appends.Inc()
	c.metrics.appendBytes.Add(float64(entry.Size))

	return index, nil
}

// needsRollover reports whether the next record of the given size must go
// into a new part: the data file would outgrow its maximum, the part has been
// collecting records for over a fifth of the retention interval, or it would
// hold more than a fifth of the retention volume.
func (c *Channel) needsRollover(tail *segment.Segment, size int32) bool {
	if int64(tail.DataSize())+int64(size) > int64(c.maxSegmentSize) {
		return true
	}
	if c.clk.Now()-tail.CreateTime() > c.retentionTime/5 {
		return true
	}
	if int64(tail.DataSize())+int64(size) > c.retentionSize/5-segment.DataHeaderSize {
		return true
	}
	return false
}

// addPart closes the current tail's writer and appends a fresh writable part
// continuing the index sequence.
func (c *Channel) addPart() error {
	if len(c.parts) == options.MaxParts {
		return errors.NewChannelError(
			nil, errors.ErrorCodeChannelFull, "Channel part count exhausted",
		).WithChannel(c.name).WithOperation("append").WithDetail("maxParts", options.MaxParts)
	}

	begin := int32(0)
	if len(c.parts) > 0 {
		tail := c.parts[len(c.parts)-1]
		tail.CloseWriter()
		begin = tail.EndIndex() + 1
	}

	seg, err := segment.Create(c.fs, c.clk, c.path, c.name, len(c.parts), begin)
	if err != nil {
		c.failed = true
		c.log.Errorw("Failed to create channel part",
			"channel", c.name, "part", len(c.parts), "error", err)
		return err
	}

	c.parts = append(c.parts, seg)
	c.metrics.rollovers.Inc()

	c.log.Infow("Channel part created",
		"channel", c.name, "part", seg.Part(), "beginIndex", begin)

	return nil
}

// evictExpired removes the head part when retention bounds are exceeded: the
// head has not been appended to for longer than the retention interval, or
// the remaining parts alone already hold more than the retention volume. At
// most one part is evicted per call; a backlog drains across appends.
//
// After eviction the remaining part files are renamed so numbering stays
// dense from zero. Record indices are not renumbered.
func (c *Channel) evictExpired() error {
	if c.readonly || len(c.parts) < 2 {
		return nil
	}

	head := c.parts[0]
	now := c.clk.Now()
	if now-head.LastAppendTime() <= c.retentionTime &&
		c.dataSize-head.PayloadBytes() <= c.retentionSize {
		return nil
	}

	freed := head.PayloadBytes()
	evicted := [2]int32{head.BeginIndex(), head.EndIndex()}

	c.parts = c.parts[1:]
	c.cache.InvalidateSegment(head)

	if err := head.Remove(); err != nil {
		c.failed = true
		c.log.Errorw("Failed to remove evicted part",
			"channel", c.name, "error", err)
		return err
	}
	c.dataSize -= freed

	for i, seg := range c.parts {
		if err := seg.Rename(i); err != nil {
			c.failed = true
			c.log.Errorw("Failed to renumber part after eviction",
				"channel", c.name, "part", seg.Part(), "target", i, "error", err)
			return err
		}
	}

	c.metrics.evictions.Inc()

	c.log.Infow("Evicted head part",
		"channel", c.name,
		"beginIndex", evicted[0],
		"endIndex", evicted[1],
		"freedBytes", freed,
		"remainingParts", len(c.parts),
	)

	return nil
}

// Read returns the record at the given index.
//
// With a non-nil buf, up to min(len(buf), record size) payload bytes are
// copied into it and the byte count is returned. With a nil buf the record's
// size is returned without any data I/O. The record's timestamp is returned
// in both cases.
func (c *Channel) Read(index int32, buf []byte) (int, int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.failed {
		return 0, 0, c.failedError("read")
	}

	seg, entry, err := c.readIndex(index)
	if err != nil {
		return 0, 0, err
	}

	if buf == nil {
		return int(entry.Size), entry.Time, nil
	}

	n := len(buf)
	if int64(n) > int64(entry.Size) {
		n = int(entry.Size)
	}
	if n > 0 {
		if _, err := seg.ReadData(entry.Offset, buf[:n]); err != nil {
			c.failed = true
			c.log.Errorw("Read failed", "channel", c.name, "index", index, "error", err)
			return 0, 0, err
		}
	}

	return n, entry.Time, nil
}

// readIndex resolves a record index to its decoded index entry, consulting
// the cache first and falling back to a positioned read from the covering
// part. Must be called with the channel lock held.
func (c *Channel) readIndex(index int32) (*segment.Segment, segment.Entry, error) {
	if seg, entry, ok := c.cache.Lookup(index); ok {
		c.metrics.cacheHits.Inc()
		return seg, entry, nil
	}
	c.metrics.cacheMisses.Inc()

	// Part count is small and bounded; a linear scan beats anything clever.
	for _, seg := range c.parts {
		if !seg.Covers(index) {
			continue
		}

		entry, err := seg.ReadEntry(index)
		if err != nil {
			c.failed = true
			c.log.Errorw("Failed to read index entry",
				"channel", c.name, "index", index, "part", seg.Part(), "error", err)
			return nil, segment.Entry{}, err
		}

		c.cache.Insert(index, seg, entry)
		return seg, entry, nil
	}

	return nil, segment.Entry{}, errors.NewChannelError(
		nil, errors.ErrorCodeNotFound, "Record index is outside current coverage",
	).WithChannel(c.name).WithOperation("read").WithIndex(index)
}

// Range returns the first and last record indices currently covered.
func (c *Channel) Range() (int32, int32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.failed {
		return 0, 0, c.failedError("range")
	}
	if len(c.parts) == 0 {
		return 0, 0, errors.NewChannelError(
			nil, errors.ErrorCodeEmpty, "Channel has no records",
		).WithChannel(c.name).WithOperation("range")
	}

	return c.parts[0].BeginIndex(), c.parts[len(c.parts)-1].EndIndex(), nil
}

// Finalize closes all part writers and flips the channel to read-only.
// The transition is irreversible: subsequent appends fail, and no further
// rollover or eviction occurs.
func (c *Channel) Finalize() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, seg := range c.parts {
		seg.CloseWriter()
	}
	c.readonly = true

	c.log.Infow("Channel finalized", "channel", c.name, "parts", len(c.parts))
}

// SetMaxSegmentSize updates the maximum data file size, in bytes including
// the file header. The value must lie within [1MiB, 1GiB].
func (c *Channel) SetMaxSegmentSize(size int32) error {
	if size < options.MinSegmentSize || size > options.MaxSegmentSize {
		return errors.NewValidationError(
			nil, errors.ErrorCodeInvalidInput, "Segment size out of bounds",
		).WithField("maxSegmentSize").
			WithRule("range").
			WithProvided(size).
			WithExpected([2]int32{options.MinSegmentSize, options.MaxSegmentSize})
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.maxSegmentSize = size

	return nil
}

// SetRetentionTime updates the retention interval, in microseconds.
// The value must be at least five seconds.
func (c *Channel) SetRetentionTime(interval int64) error {
	if interval < options.MinRetentionTime {
		return errors.NewValidationError(
			nil, errors.ErrorCodeInvalidInput, "Retention time out of bounds",
		).WithField("retentionTime").
			WithRule("min").
			WithProvided(interval).
			WithExpected(options.MinRetentionTime)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.retentionTime = interval

	return nil
}

// SetRetentionSize updates the retention volume bound, in bytes.
// The value must be at least 1MiB.
func (c *Channel) SetRetentionSize(size int64) error {
	if size < options.MinRetentionSize {
		return errors.NewValidationError(
			nil, errors.ErrorCodeInvalidInput, "Retention size out of bounds",
		).WithField("retentionSize").
			WithRule("min").
			WithProvided(size).
			WithExpected(options.MinRetentionSize)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.retentionSize = size

	return nil
}

// IsWritable reports whether the channel currently accepts appends.
func (c *Channel) IsWritable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.readonly && !c.failed
}

// SegmentCreateTimes returns the monotonic creation time of each part, head
// first. Scanned parts report zero. Exposed for observability.
func (c *Channel) SegmentCreateTimes() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	times := make([]int64, len(c.parts))
	for i, seg := range c.parts {
		times[i] = seg.CreateTime()
	}
	return times
}

// Name returns the channel name.
func (c *Channel) Name() string {
	return c.name
}

// Close releases all file handles. The channel must not be used afterwards.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var err error
	for _, seg := range c.parts {
		err = multierr.Append(err, seg.Close())
	}
	c.parts = nil

	c.log.Infow("Channel closed", "channel", c.name)

	return err
}

func (c *Channel) failedError(op string) error {
	return errors.NewChannelError(
		nil, errors.ErrorCodeChannelFailed, "Channel is in the failed state",
	).WithChannel(c.name).WithOperation(op)
}
