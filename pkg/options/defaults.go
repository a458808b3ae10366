package options

import "math"

const (
	// Represents the minimum allowed size for a segment data file in bytes (1MiB),
	// including its 8-byte header.
	MinSegmentSize int32 = 1 * 1024 * 1024

	// Represents the maximum allowed size for a segment data file in bytes (1GiB).
	MaxSegmentSize int32 = 1024 * 1024 * 1024

	// Specifies the default target size for a segment data file in bytes (1GiB).
	DefaultSegmentSize int32 = MaxSegmentSize

	// Represents the minimum allowed retention interval in microseconds (5 seconds).
	MinRetentionTime int64 = 5_000_000

	// Specifies the default retention interval: effectively infinite, so data
	// is never evicted by age unless the caller opts in.
	DefaultRetentionTime int64 = math.MaxInt64

	// Represents the minimum allowed retention size in bytes (1MiB).
	MinRetentionSize int64 = 1 * 1024 * 1024

	// Specifies the default retention size: effectively infinite, so data is
	// never evicted by volume unless the caller opts in.
	DefaultRetentionSize int64 = math.MaxInt64

	// MaxParts bounds the number of data parts per channel. Part numbers run
	// from 000000 to 999999 inclusive.
	MaxParts = 1_000_000

	// CacheCapacity is the fixed number of decoded index entries each channel
	// keeps in its LRU cache.
	CacheCapacity = 2048
)
