// Package options provides data structures and functions for configuring
// hydrodb. It defines the parameters that control storage behavior: segment
// sizing, retention bounds, the backing filesystem, and the clock.
package options

import (
	"github.com/spf13/afero"

	"github.com/sonarlab/hydrodb/pkg/clock"
)

// Defines the configuration parameters for a hydrodb instance.
// It provides control over storage, retention and testability aspects.
type Options struct {
	// Specifies the base path where projects, tracks and channel files
	// will be stored.
	DataDir string `json:"dataDir"`

	// Maximum size a segment data file can grow to before rollover, including
	// its 8-byte header. When appending would exceed this size a new part is
	// created.
	//
	//  - Default: 1GiB
	//  - Maximum: 1GiB
	//  - Minimum: 1MiB
	MaxSegmentSize int32 `json:"maxSegmentSize"`

	// Interval of time, in microseconds, for which written records are kept.
	// Parts whose last append is older than this are evicted on subsequent
	// appends. Must be at least 5 seconds.
	//
	// Default: effectively infinite.
	RetentionTime int64 `json:"retentionTime"`

	// Maximum volume of payload bytes kept per channel. Head parts are
	// evicted once the remaining parts alone exceed this bound. Must be at
	// least 1MiB.
	//
	// Default: effectively infinite.
	RetentionSize int64 `json:"retentionSize"`

	// Filesystem all reads and writes go through. Tests substitute an
	// in-memory filesystem here.
	Fs afero.Fs `json:"-"`

	// Monotonic clock used for part creation times, last-append times and
	// retention comparisons. Tests substitute a manually advanced clock.
	Clock clock.Clock `json:"-"`
}

// OptionFunc is a function type that modifies the hydrodb configuration.
type OptionFunc func(*Options)

// NewDefaultOptions returns the default configuration: OS filesystem,
// monotonic clock, 1GiB segments, infinite retention.
func NewDefaultOptions() Options {
	return Options{
		DataDir:        "/var/lib/hydrodb",
		MaxSegmentSize: DefaultSegmentSize,
		RetentionTime:  DefaultRetentionTime,
		RetentionSize:  DefaultRetentionSize,
		Fs:             afero.NewOsFs(),
		Clock:          clock.NewMonotonic(),
	}
}

// WithDataDir sets the base data directory.
func WithDataDir(directory string) OptionFunc {
	return func(o *Options) {
		if directory != "" {
			o.DataDir = directory
		}
	}
}

// WithMaxSegmentSize sets the maximum size of individual segment data files.
// Out-of-range values are ignored.
func WithMaxSegmentSize(size int32) OptionFunc {
	return func(o *Options) {
		if size >= MinSegmentSize && size <= MaxSegmentSize {
			o.MaxSegmentSize = size
		}
	}
}

// WithRetentionTime sets the interval for which records are retained,
// in microseconds. Values below the minimum are ignored.
func WithRetentionTime(interval int64) OptionFunc {
	return func(o *Options) {
		if interval >= MinRetentionTime {
			o.RetentionTime = interval
		}
	}
}

// WithRetentionSize sets the maximum retained payload volume per channel,
// in bytes. Values below the minimum are ignored.
func WithRetentionSize(size int64) OptionFunc {
	return func(o *Options) {
		if size >= MinRetentionSize {
			o.RetentionSize = size
		}
	}
}

// WithFs sets the backing filesystem.
func WithFs(fs afero.Fs) OptionFunc {
	return func(o *Options) {
		if fs != nil {
			o.Fs = fs
		}
	}
}

// WithClock sets the monotonic clock.
func WithClock(c clock.Clock) OptionFunc {
	return func(o *Options) {
		if c != nil {
			o.Clock = c
		}
	}
}
