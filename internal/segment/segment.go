// Package segment owns the two on-disk files of one channel data part and
// exposes positioned read and append operations over them.
//
// A segment is the unit of rollover and retention for a channel. It consists
// of an index file and a data file:
//
//	index file: | magic | version | begin index | entry 0 | entry 1 | ...
//	data file:  | magic | version | payload bytes ...
//
// Every index entry is a fixed 16-byte record {time int64, offset int32,
// size int32} locating one payload within the data file. All multi-byte
// integers are little-endian regardless of host endianness.
//
// Segments are not safe for concurrent use; the owning channel serializes
// access under its lock.
package segment

import (
	stdErrors "errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"
	"go.uber.org/multierr"

	"github.com/sonarlab/hydrodb/pkg/clock"
	"github.com/sonarlab/hydrodb/pkg/errors"
)

const (
	// IndexFileMagic is "HSIX" interpreted as a little-endian int32.
	IndexFileMagic int32 = 0x58495348

	// DataFileMagic is "HSDT" interpreted as a little-endian int32.
	DataFileMagic int32 = 0x54445348

	// FileVersion is "1507" interpreted as a little-endian int32.
	FileVersion int32 = 0x37303531

	// IndexHeaderSize is the byte size of the index file header:
	// magic + version + begin index.
	IndexHeaderSize = 12

	// DataHeaderSize is the byte size of the data file header: magic + version.
	DataHeaderSize = 8

	// IndexEntrySize is the byte size of one packed index entry.
	IndexEntrySize = 16
)

var (
	// ErrWriterClosed is returned when appending to a segment whose writer
	// has been closed by rollover or finalization.
	ErrWriterClosed = stdErrors.New("segment: writer closed")
)

// Entry is one decoded index record: the on-disk locator for a payload.
type Entry struct {
	Time   int64 // Record timestamp in microseconds.
	Offset int32 // Byte offset of the payload within the data file.
	Size   int32 // Payload size in bytes.
}

// Segment owns one (index, data) file pair holding a contiguous sub-range of
// a channel's records.
type Segment struct {
	fs   afero.Fs
	clk  clock.Clock
	dir  string // Directory holding the channel's files.
	name string // Channel name; the file name prefix.
	part int    // Current part number, 0..999999.

	writable bool

	beginIndex int32 // Index of the first record in this part.
	count      int32 // Number of records written so far.

	beginTime int64 // Timestamp of the first record; valid once count > 0.
	endTime   int64 // Timestamp of the last record; valid once count > 0.

	dataSize       int32 // Data file size: header plus all payload bytes.
	createTime     int64 // Monotonic creation time; zero for scanned parts.
	lastAppendTime int64 // Monotonic time of the last append.

	indexFile afero.File
	dataFile  afero.File
}

// IndexFileName returns the index file name for a channel part.
func IndexFileName(name string, part int) string {
	return fmt.Sprintf("%s.%06d.i", name, part)
}

// DataFileName returns the data file name for a channel part.
func DataFileName(name string, part int) string {
	return fmt.Sprintf("%s.%06d.d", name, part)
}

// Create makes a fresh writable segment: both files are created (they must
// not already exist), headers are written, and the supplied begin index is
// recorded in the index header.
func Create(fs afero.Fs, clk clock.Clock, dir, name string, part int, beginIndex int32) (*Segment, error) {
	s := &Segment{
		fs:         fs,
		clk:        clk,
		dir:        dir,
		name:       name,
		part:       part,
		writable:   true,
		beginIndex: beginIndex,
		dataSize:   DataHeaderSize,
		createTime: clk.Now(),
	}

	var err error
	if s.indexFile, err = createFile(fs, s.indexPath()); err != nil {
		return nil, err
	}
	if s.dataFile, err = createFile(fs, s.dataPath()); err != nil {
		s.indexFile.Close()
		return nil, err
	}

	var header [IndexHeaderSize]byte
	putInt32(header[0:], IndexFileMagic)
	putInt32(header[4:], FileVersion)
	putInt32(header[8:], beginIndex)
	if _, err := s.indexFile.WriteAt(header[:], 0); err != nil {
		s.closeFiles()
		return nil, errors.NewStorageError(
			err, errors.ErrorCodeHeaderWriteFailure, "Failed to write index file header",
		).WithPath(s.indexPath()).WithPart(part)
	}

	putInt32(header[0:], DataFileMagic)
	putInt32(header[4:], FileVersion)
	if _, err := s.dataFile.WriteAt(header[:DataHeaderSize], 0); err != nil {
		s.closeFiles()
		return nil, errors.NewStorageError(
			err, errors.ErrorCodeHeaderWriteFailure, "Failed to write data file header",
		).WithPath(s.dataPath()).WithPart(part)
	}

	return s, nil
}

// OpenExisting opens both files of an existing part read-only and validates
// the stored format: magics, versions, index size alignment, begin index, and
// the data file size implied by the last index entry. Any mismatch yields a
// CORRUPT_FORMAT error.
func OpenExisting(fs afero.Fs, clk clock.Clock, dir, name string, part int) (*Segment, error) {
	s := &Segment{
		fs:   fs,
		clk:  clk,
		dir:  dir,
		name: name,
		part: part,
	}

	var err error
	if s.indexFile, err = fs.Open(s.indexPath()); err != nil {
		return nil, errors.ClassifyFileOpenError(err, s.indexPath(), IndexFileName(name, part))
	}
	if s.dataFile, err = fs.Open(s.dataPath()); err != nil {
		s.indexFile.Close()
		return nil, errors.ClassifyFileOpenError(err, s.dataPath(), DataFileName(name, part))
	}

	if err := s.loadExisting(); err != nil {
		s.closeFiles()
		return nil, err
	}

	return s, nil
}

// loadExisting validates headers and derives the index range and time range
// from the files of a scanned part.
func (s *Segment) loadExisting() error {
	indexStat, err := s.indexFile.Stat()
	if err != nil {
		return s.ioError(err, "Failed to stat index file", s.indexPath())
	}
	dataStat, err := s.dataFile.Stat()
	if err != nil {
		return s.ioError(err, "Failed to stat data file", s.dataPath())
	}
	indexSize := indexStat.Size()
	dataSize := dataStat.Size()

	// At least one entry must be present, and the entry region must be an
	// exact multiple of the entry size.
	if indexSize < IndexHeaderSize+IndexEntrySize {
		return s.corruptError("invalid index file size", s.indexPath()).
			WithDetail("size", indexSize)
	}
	if (indexSize-IndexHeaderSize)%IndexEntrySize != 0 {
		return s.corruptError("index file size is not entry aligned", s.indexPath()).
			WithDetail("size", indexSize)
	}

	var header [IndexHeaderSize]byte
	if _, err := s.indexFile.ReadAt(header[:], 0); err != nil {
		return s.ioError(err, "Failed to read index file header", s.indexPath())
	}
	if magic := getInt32(header[0:]); magic != IndexFileMagic {
		return s.corruptError("unknown index file format", s.indexPath()).
			WithDetail("magic", magic)
	}
	if version := getInt32(header[4:]); version != FileVersion {
		return s.corruptError("unknown index file version", s.indexPath()).
			WithDetail("version", version)
	}

	var dataHeader [DataHeaderSize]byte
	if _, err := s.dataFile.ReadAt(dataHeader[:], 0); err != nil {
		return s.ioError(err, "Failed to read data file header", s.dataPath())
	}
	if magic := getInt32(dataHeader[0:]); magic != DataFileMagic {
		return s.corruptError("unknown data file format", s.dataPath()).
			WithDetail("magic", magic)
	}
	if version := getInt32(dataHeader[4:]); version != FileVersion {
		return s.corruptError("unknown data file version", s.dataPath()).
			WithDetail("version", version)
	}

	beginIndex := getInt32(header[8:])
	if beginIndex < 0 {
		return s.corruptError("negative begin index", s.indexPath()).
			WithDetail("beginIndex", beginIndex)
	}
	s.beginIndex = beginIndex
	s.count = int32((indexSize - IndexHeaderSize) / IndexEntrySize)

	first, err := s.ReadEntry(s.beginIndex)
	if err != nil {
		return err
	}
	last, err := s.ReadEntry(s.beginIndex + s.count - 1)
	if err != nil {
		return err
	}
	s.beginTime = first.Time
	s.endTime = last.Time

	// The data file must end exactly where the last record ends.
	if dataSize != int64(last.Offset)+int64(last.Size) {
		return s.corruptError("invalid data file size", s.dataPath()).
			WithDetail("size", dataSize).
			WithDetail("expected", int64(last.Offset)+int64(last.Size))
	}
	s.dataSize = int32(dataSize)

	return nil
}

// Append writes the payload to the data file, then the index entry to the
// index file, flushing each stream in that order so an index entry is never
// visible without its payload bytes. It returns the index assigned to the
// record and the entry that was written.
//
// The caller is responsible for ordering and capacity checks; Append assumes
// the record fits and its timestamp is valid.
func (s *Segment) Append(time int64, payload []byte) (int32, Entry, error) {
	if !s.writable {
		return 0, Entry{}, ErrWriterClosed
	}

	entry := Entry{Time: time, Offset: s.dataSize, Size: int32(len(payload))}

	if _, err := s.dataFile.WriteAt(payload, int64(entry.Offset)); err != nil {
		return 0, Entry{}, s.ioError(err, "Failed to write record payload", s.dataPath())
	}
	if err := s.dataFile.Sync(); err != nil {
		return 0, Entry{}, errors.ClassifySyncError(
			err, DataFileName(s.name, s.part), s.dataPath(), int64(entry.Offset))
	}

	var buf [IndexEntrySize]byte
	putInt64(buf[0:], entry.Time)
	putInt32(buf[8:], entry.Offset)
	putInt32(buf[12:], entry.Size)
	entryOffset := int64(IndexHeaderSize) + int64(s.count)*IndexEntrySize
	if _, err := s.indexFile.WriteAt(buf[:], entryOffset); err != nil {
		return 0, Entry{}, s.ioError(err, "Failed to write index entry", s.indexPath())
	}
	if err := s.indexFile.Sync(); err != nil {
		return 0, Entry{}, errors.ClassifySyncError(
			err, IndexFileName(s.name, s.part), s.indexPath(), entryOffset)
	}

	index := s.beginIndex + s.count
	s.count++
	if s.count == 1 {
		s.beginTime = time
	}
	s.endTime = time
	s.dataSize += entry.Size
	s.lastAppendTime = s.clk.Now()

	return index, entry, nil
}

// ReadEntry reads and decodes the index entry for the given record index.
// The index must be within this segment's range.
func (s *Segment) ReadEntry(index int32) (Entry, error) {
	offset := int64(IndexHeaderSize) + int64(index-s.beginIndex)*IndexEntrySize

	var buf [IndexEntrySize]byte
	if _, err := s.indexFile.ReadAt(buf[:], offset); err != nil {
		return Entry{}, s.ioError(err, "Failed to read index entry", s.indexPath()).
			WithOffset(offset)
	}

	return Entry{
		Time:   getInt64(buf[0:]),
		Offset: getInt32(buf[8:]),
		Size:   getInt32(buf[12:]),
	}, nil
}

// ReadData fills buf with payload bytes starting at the given data file
// offset and returns the number of bytes read. The caller sizes buf from the
// index entry, so a short read is an error.
func (s *Segment) ReadData(offset int32, buf []byte) (int, error) {
	n, err := s.dataFile.ReadAt(buf, int64(offset))
	if err != nil {
		return n, errors.NewStorageError(
			err, errors.ErrorCodePayloadReadFailure, "Failed to read record payload",
		).WithPath(s.dataPath()).WithPart(s.part).WithOffset(int64(offset))
	}
	return n, nil
}

// CloseWriter drops the writable state; the segment becomes read-only.
// Reads continue to work against the open handles.
func (s *Segment) CloseWriter() {
	s.writable = false
}

// Rename moves both files to the given part number. Open handles stay valid
// across the rename. Used by retention eviction to keep part numbering dense.
func (s *Segment) Rename(part int) error {
	if part == s.part {
		return nil
	}

	oldIndex, oldData := s.indexPath(), s.dataPath()
	newIndex := filepath.Join(s.dir, IndexFileName(s.name, part))
	newData := filepath.Join(s.dir, DataFileName(s.name, part))

	if err := s.fs.Rename(oldIndex, newIndex); err != nil {
		return s.ioError(err, "Failed to rename index file", oldIndex).
			WithDetail("target", newIndex)
	}
	if err := s.fs.Rename(oldData, newData); err != nil {
		return s.ioError(err, "Failed to rename data file", oldData).
			WithDetail("target", newData)
	}
	s.part = part

	return nil
}

// Remove closes all handles and deletes both files from disk.
func (s *Segment) Remove() error {
	err := s.Close()

	if rmErr := s.fs.Remove(s.indexPath()); rmErr != nil {
		err = multierr.Append(err, s.ioError(rmErr, "Failed to remove index file", s.indexPath()))
	}
	if rmErr := s.fs.Remove(s.dataPath()); rmErr != nil {
		err = multierr.Append(err, s.ioError(rmErr, "Failed to remove data file", s.dataPath()))
	}

	return err
}

// Close releases both file handles. The segment must not be used afterwards.
func (s *Segment) Close() error {
	s.writable = false
	return s.closeFiles()
}

// BeginIndex returns the index of the first record in this part.
func (s *Segment) BeginIndex() int32 { return s.beginIndex }

// EndIndex returns the index of the last record in this part.
// Only meaningful once Count() > 0.
func (s *Segment) EndIndex() int32 { return s.beginIndex + s.count - 1 }

// Count returns the number of records written to this part.
func (s *Segment) Count() int32 { return s.count }

// BeginTime returns the timestamp of the first record; valid once Count() > 0.
func (s *Segment) BeginTime() int64 { return s.beginTime }

// EndTime returns the timestamp of the last record; valid once Count() > 0.
func (s *Segment) EndTime() int64 { return s.endTime }

// DataSize returns the data file size: header plus all payload bytes.
func (s *Segment) DataSize() int32 { return s.dataSize }

// PayloadBytes returns the payload volume stored in this part, excluding the
// data file header.
func (s *Segment) PayloadBytes() int64 { return int64(s.dataSize) - DataHeaderSize }

// CreateTime returns the monotonic creation time; zero for scanned parts.
func (s *Segment) CreateTime() int64 { return s.createTime }

// LastAppendTime returns the monotonic time of the last append.
func (s *Segment) LastAppendTime() int64 { return s.lastAppendTime }

// Part returns the current part number.
func (s *Segment) Part() int { return s.part }

// Writable reports whether the segment still accepts appends.
func (s *Segment) Writable() bool { return s.writable }

// Covers reports whether the given record index falls inside this part.
func (s *Segment) Covers(index int32) bool {
	return s.count > 0 && index >= s.beginIndex && index <= s.EndIndex()
}

func (s *Segment) indexPath() string {
	return filepath.Join(s.dir, IndexFileName(s.name, s.part))
}

func (s *Segment) dataPath() string {
	return filepath.Join(s.dir, DataFileName(s.name, s.part))
}

func (s *Segment) closeFiles() error {
	var err error
	if s.indexFile != nil {
		err = multierr.Append(err, s.indexFile.Close())
		s.indexFile = nil
	}
	if s.dataFile != nil {
		err = multierr.Append(err, s.dataFile.Close())
		s.dataFile = nil
	}
	return err
}

func (s *Segment) ioError(err error, msg, path string) *errors.StorageError {
	return errors.NewStorageError(err, errors.ErrorCodeIO, msg).
		WithPath(path).
		WithPart(s.part)
}

func (s *Segment) corruptError(msg, path string) *errors.StorageError {
	return errors.NewStorageError(nil, errors.ErrorCodeCorruptFormat, msg).
		WithPath(path).
		WithPart(s.part)
}

func createFile(fs afero.Fs, path string) (afero.File, error) {
	file, err := fs.OpenFile(path, createFlags, 0644)
	if err != nil {
		return nil, errors.ClassifyFileOpenError(err, path, filepath.Base(path))
	}
	return file, nil
}
