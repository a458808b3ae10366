package channel

import (
	"context"
	"encoding/binary"
	"fmt"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/sonarlab/hydrodb/internal/segment"
	"github.com/sonarlab/hydrodb/pkg/clock"
	"github.com/sonarlab/hydrodb/pkg/errors"
	"github.com/sonarlab/hydrodb/pkg/logger"
	"github.com/sonarlab/hydrodb/pkg/options"
)

const (
	mib     = 1024 * 1024
	testDir = "/data"
)

func testOptions(fs afero.Fs, clk clock.Clock) *options.Options {
	opts := options.NewDefaultOptions()
	opts.Fs = fs
	opts.Clock = clk
	return &opts
}

func newTestChannel(t *testing.T, opts *options.Options, readOnly bool) *Channel {
	t.Helper()

	require.NoError(t, opts.Fs.MkdirAll(testDir, 0755))

	ch, err := New(context.Background(), &Config{
		Path:     testDir,
		Name:     "ch",
		ReadOnly: readOnly,
		Options:  opts,
		Logger:   logger.NewNop(),
	})
	require.NoError(t, err)

	return ch
}

func partFilesExist(t *testing.T, fs afero.Fs, part int) bool {
	t.Helper()

	indexExists, err := afero.Exists(fs, testDir+"/"+segment.IndexFileName("ch", part))
	require.NoError(t, err)
	dataExists, err := afero.Exists(fs, testDir+"/"+segment.DataFileName("ch", part))
	require.NoError(t, err)
	require.Equal(t, indexExists, dataExists, "part %d files out of sync", part)

	return indexExists
}

func TestAppendReadRoundTrip(t *testing.T) {
	opts := testOptions(afero.NewMemMapFs(), clock.NewFake(0))
	opts.MaxSegmentSize = 1 * mib
	ch := newTestChannel(t, opts, false)
	defer ch.Close()

	payloads := [][]byte{{0x01}, {0x02, 0x02}, {0x03, 0x03, 0x03}}
	times := []int64{100, 200, 300}
	for i := range payloads {
		index, err := ch.Append(times[i], payloads[i])
		require.NoError(t, err)
		require.EqualValues(t, i, index)
	}

	first, last, err := ch.Range()
	require.NoError(t, err)
	require.EqualValues(t, 0, first)
	require.EqualValues(t, 2, last)

	buf := make([]byte, 16)
	n, recordTime, err := ch.Read(1, buf)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.EqualValues(t, 200, recordTime)
	require.Equal(t, []byte{0x02, 0x02}, buf[:n])

	// Size-only read does no data I/O.
	n, recordTime, err = ch.Read(2, nil)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.EqualValues(t, 300, recordTime)

	// A short buffer truncates.
	small := make([]byte, 1)
	n, _, err = ch.Read(2, small)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, []byte{0x03}, small)
}

func TestRolloverBySize(t *testing.T) {
	fs := afero.NewMemMapFs()
	opts := testOptions(fs, clock.NewFake(0))
	opts.MaxSegmentSize = 1*mib + segment.DataHeaderSize
	ch := newTestChannel(t, opts, false)
	defer ch.Close()

	payload := make([]byte, 256*1024)
	for i := 0; i < 5; i++ {
		index, err := ch.Append(int64((i+1)*10), payload)
		require.NoError(t, err)
		require.EqualValues(t, i, index)
	}

	require.Len(t, ch.parts, 2)
	require.EqualValues(t, 0, ch.parts[0].BeginIndex())
	require.EqualValues(t, 3, ch.parts[0].EndIndex())
	require.EqualValues(t, 4, ch.parts[1].BeginIndex())
	require.EqualValues(t, 4, ch.parts[1].EndIndex())
	require.False(t, ch.parts[0].Writable())
	require.True(t, ch.parts[1].Writable())

	require.True(t, partFilesExist(t, fs, 0))
	require.True(t, partFilesExist(t, fs, 1))
	require.False(t, partFilesExist(t, fs, 2))

	first, last, err := ch.Range()
	require.NoError(t, err)
	require.EqualValues(t, 0, first)
	require.EqualValues(t, 4, last)

	// Records on both sides of the boundary read back.
	buf := make([]byte, len(payload))
	n, recordTime, err := ch.Read(3, buf)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)
	require.EqualValues(t, 40, recordTime)

	n, recordTime, err = ch.Read(4, buf)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)
	require.EqualValues(t, 50, recordTime)
}

func TestAppendRejectsOutOfOrderTime(t *testing.T) {
	opts := testOptions(afero.NewMemMapFs(), clock.NewFake(0))
	ch := newTestChannel(t, opts, false)
	defer ch.Close()

	index, err := ch.Append(500, []byte{0x01})
	require.NoError(t, err)
	require.EqualValues(t, 0, index)

	_, err = ch.Append(500, []byte{0x02})
	require.Equal(t, errors.ErrorCodeOutOfOrderTime, errors.GetErrorCode(err))

	_, err = ch.Append(499, []byte{0x02})
	require.Equal(t, errors.ErrorCodeOutOfOrderTime, errors.GetErrorCode(err))

	index, err = ch.Append(501, []byte{0x02})
	require.NoError(t, err)
	require.EqualValues(t, 1, index)
}

func TestAppendRejectsInvalidArguments(t *testing.T) {
	opts := testOptions(afero.NewMemMapFs(), clock.NewFake(0))
	opts.MaxSegmentSize = 1 * mib
	ch := newTestChannel(t, opts, false)
	defer ch.Close()

	_, err := ch.Append(-1, []byte{0x01})
	require.Equal(t, errors.ErrorCodeInvalidInput, errors.GetErrorCode(err))

	// One byte over the per-record capacity.
	_, err = ch.Append(100, make([]byte, 1*mib-segment.DataHeaderSize+1))
	require.Equal(t, errors.ErrorCodeInvalidInput, errors.GetErrorCode(err))

	// Exactly at capacity is fine.
	index, err := ch.Append(100, make([]byte, 1*mib-segment.DataHeaderSize))
	require.NoError(t, err)
	require.EqualValues(t, 0, index)
}

func TestRetentionBySize(t *testing.T) {
	fs := afero.NewMemMapFs()
	opts := testOptions(fs, clock.NewFake(0))
	opts.MaxSegmentSize = 1 * mib
	opts.RetentionSize = 4 * mib
	ch := newTestChannel(t, opts, false)
	defer ch.Close()

	payload := make([]byte, 256*1024)

	var appended int32
	var first int32
	for i := 0; i < 40; i++ {
		index, err := ch.Append(int64(i+1)*1000, payload)
		require.NoError(t, err)
		require.Equal(t, appended, index, "indices are never renumbered")
		appended++

		var last int32
		var rangeErr error
		first, last, rangeErr = ch.Range()
		require.NoError(t, rangeErr)
		require.Equal(t, appended-1, last)
		if first > 0 {
			break
		}
	}
	require.Positive(t, first, "retention never evicted the head part")

	// The retention bound holds modulo one head part.
	require.LessOrEqual(t, ch.dataSize-ch.parts[0].PayloadBytes(), opts.RetentionSize)

	// Part numbering is dense from zero again.
	for i := range ch.parts {
		require.Equal(t, i, ch.parts[i].Part())
		require.True(t, partFilesExist(t, fs, i))
	}
	require.False(t, partFilesExist(t, fs, len(ch.parts)))

	// Evicted indices are gone, surviving ones still read.
	_, _, err := ch.Read(0, nil)
	require.Equal(t, errors.ErrorCodeNotFound, errors.GetErrorCode(err))

	n, recordTime, err := ch.Read(first, nil)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)
	require.EqualValues(t, int64(first+1)*1000, recordTime)
}

func TestRetentionByTime(t *testing.T) {
	fs := afero.NewMemMapFs()
	clk := clock.NewFake(0)
	opts := testOptions(fs, clk)
	opts.RetentionTime = 5_000_000
	ch := newTestChannel(t, opts, false)
	defer ch.Close()

	_, err := ch.Append(1, []byte{0x01})
	require.NoError(t, err)

	// Old enough for a rollover (more than retention/5) but not eviction.
	clk.Advance(2_000_000)
	index, err := ch.Append(2, []byte{0x02})
	require.NoError(t, err)
	require.EqualValues(t, 1, index)
	require.Len(t, ch.parts, 2)

	// Now the head is stale beyond the full retention interval.
	clk.Advance(6_000_000)
	_, err = ch.Append(3, []byte{0x03})
	require.NoError(t, err)

	first, _, err := ch.Range()
	require.NoError(t, err)
	require.EqualValues(t, 1, first)

	_, _, err = ch.Read(0, nil)
	require.Equal(t, errors.ErrorCodeNotFound, errors.GetErrorCode(err))

	require.True(t, partFilesExist(t, fs, 0))
}

func TestFindBisection(t *testing.T) {
	opts := testOptions(afero.NewMemMapFs(), clock.NewFake(0))
	ch := newTestChannel(t, opts, false)
	defer ch.Close()

	payload := make([]byte, 4)
	for i := 0; i < 1000; i++ {
		binary.LittleEndian.PutUint32(payload, uint32(i))
		_, err := ch.Append(int64(i)*10, payload)
		require.NoError(t, err)
	}

	result, err := ch.Find(0)
	require.NoError(t, err)
	require.Equal(t, FindExact, result.Kind)
	require.Equal(t, Bound{Index: 0, Time: 0}, result.Left)
	require.Equal(t, result.Left, result.Right)

	result, err = ch.Find(4990)
	require.NoError(t, err)
	require.Equal(t, FindExact, result.Kind)
	require.Equal(t, Bound{Index: 499, Time: 4990}, result.Left)

	result, err = ch.Find(4995)
	require.NoError(t, err)
	require.Equal(t, FindBetween, result.Kind)
	require.Equal(t, Bound{Index: 499, Time: 4990}, result.Left)
	require.Equal(t, Bound{Index: 500, Time: 5000}, result.Right)

	result, err = ch.Find(-1)
	require.NoError(t, err)
	require.Equal(t, FindBefore, result.Kind)
	require.Equal(t, Bound{Index: 0, Time: 0}, result.Right)

	result, err = ch.Find(10_000)
	require.NoError(t, err)
	require.Equal(t, FindAfter, result.Kind)
	require.Equal(t, Bound{Index: 999, Time: 9990}, result.Left)
}

func TestFindBetweenBoundsAreAdjacent(t *testing.T) {
	opts := testOptions(afero.NewMemMapFs(), clock.NewFake(0))
	ch := newTestChannel(t, opts, false)
	defer ch.Close()

	for i := 0; i < 100; i++ {
		_, err := ch.Append(int64(i)*100, []byte{byte(i)})
		require.NoError(t, err)
	}

	for _, target := range []int64{50, 1250, 4444, 9899} {
		result, err := ch.Find(target)
		require.NoError(t, err)
		require.Equal(t, FindBetween, result.Kind, "target %d", target)
		require.Equal(t, result.Left.Index+1, result.Right.Index)
		require.LessOrEqual(t, result.Left.Time, target)
		require.Greater(t, result.Right.Time, target)
	}
}

func TestRangeAndFindOnEmptyChannel(t *testing.T) {
	opts := testOptions(afero.NewMemMapFs(), clock.NewFake(0))
	ch := newTestChannel(t, opts, false)
	defer ch.Close()

	_, _, err := ch.Range()
	require.Equal(t, errors.ErrorCodeEmpty, errors.GetErrorCode(err))

	_, err = ch.Find(100)
	require.Equal(t, errors.ErrorCodeEmpty, errors.GetErrorCode(err))
}

func TestReadUnknownIndex(t *testing.T) {
	opts := testOptions(afero.NewMemMapFs(), clock.NewFake(0))
	ch := newTestChannel(t, opts, false)
	defer ch.Close()

	_, err := ch.Append(100, []byte{0x01})
	require.NoError(t, err)

	_, _, err = ch.Read(5, nil)
	require.Equal(t, errors.ErrorCodeNotFound, errors.GetErrorCode(err))
}

func TestReopenAfterClose(t *testing.T) {
	fs := afero.NewMemMapFs()
	opts := testOptions(fs, clock.NewFake(0))
	ch := newTestChannel(t, opts, false)

	for i := 0; i < 10; i++ {
		_, err := ch.Append(int64(i+1)*100, []byte{byte(i), byte(i)})
		require.NoError(t, err)
	}
	require.NoError(t, ch.Close())

	reopened := newTestChannel(t, opts, false)
	defer reopened.Close()

	// Existing channels are immutable regardless of the requested mode.
	require.False(t, reopened.IsWritable())

	first, last, err := reopened.Range()
	require.NoError(t, err)
	require.EqualValues(t, 0, first)
	require.EqualValues(t, 9, last)

	buf := make([]byte, 2)
	for i := 0; i < 10; i++ {
		n, recordTime, err := reopened.Read(int32(i), buf)
		require.NoError(t, err)
		require.Equal(t, 2, n)
		require.EqualValues(t, int64(i+1)*100, recordTime)
		require.Equal(t, []byte{byte(i), byte(i)}, buf)
	}

	_, err = reopened.Append(10_000, []byte{0xff})
	require.Equal(t, errors.ErrorCodeReadOnly, errors.GetErrorCode(err))
}

func TestReopenSpansParts(t *testing.T) {
	fs := afero.NewMemMapFs()
	opts := testOptions(fs, clock.NewFake(0))
	opts.MaxSegmentSize = 1*mib + segment.DataHeaderSize
	ch := newTestChannel(t, opts, false)

	payload := make([]byte, 256*1024)
	for i := 0; i < 6; i++ {
		_, err := ch.Append(int64(i+1)*10, payload)
		require.NoError(t, err)
	}
	require.NoError(t, ch.Close())

	reopened := newTestChannel(t, opts, false)
	defer reopened.Close()

	require.Len(t, reopened.parts, 2)
	first, last, err := reopened.Range()
	require.NoError(t, err)
	require.EqualValues(t, 0, first)
	require.EqualValues(t, 5, last)

	buf := make([]byte, len(payload))
	n, recordTime, err := reopened.Read(4, buf)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)
	require.EqualValues(t, 50, recordTime)
}

func TestOpenReadOnlyWithoutDataFails(t *testing.T) {
	opts := testOptions(afero.NewMemMapFs(), clock.NewFake(0))
	ch := newTestChannel(t, opts, true)
	defer ch.Close()

	require.False(t, ch.IsWritable())

	_, _, err := ch.Range()
	require.Equal(t, errors.ErrorCodeChannelFailed, errors.GetErrorCode(err))

	_, err = ch.Append(100, []byte{0x01})
	require.Equal(t, errors.ErrorCodeChannelFailed, errors.GetErrorCode(err))
}

func TestOpenWithCorruptFirstPartFails(t *testing.T) {
	fs := afero.NewMemMapFs()
	opts := testOptions(fs, clock.NewFake(0))
	ch := newTestChannel(t, opts, false)
	_, err := ch.Append(100, []byte{0x01})
	require.NoError(t, err)
	require.NoError(t, ch.Close())

	index, err := afero.ReadFile(fs, testDir+"/ch.000000.i")
	require.NoError(t, err)
	index[0] ^= 0xff
	require.NoError(t, afero.WriteFile(fs, testDir+"/ch.000000.i", index, 0644))

	reopened := newTestChannel(t, opts, false)
	defer reopened.Close()

	_, _, err = reopened.Range()
	require.Equal(t, errors.ErrorCodeChannelFailed, errors.GetErrorCode(err))
}

func TestScanTruncatesAtDiscontinuousPart(t *testing.T) {
	fs := afero.NewMemMapFs()
	opts := testOptions(fs, clock.NewFake(0))
	opts.MaxSegmentSize = 1*mib + segment.DataHeaderSize
	ch := newTestChannel(t, opts, false)

	payload := make([]byte, 256*1024)
	for i := 0; i < 6; i++ {
		_, err := ch.Append(int64(i+1)*10, payload)
		require.NoError(t, err)
	}
	require.Len(t, ch.parts, 2)
	require.NoError(t, ch.Close())

	// Break the second part's begin index so continuity fails.
	index, err := afero.ReadFile(fs, testDir+"/ch.000001.i")
	require.NoError(t, err)
	binary.LittleEndian.PutUint32(index[8:], 99)
	require.NoError(t, afero.WriteFile(fs, testDir+"/ch.000001.i", index, 0644))

	reopened := newTestChannel(t, opts, false)
	defer reopened.Close()

	// The loaded prefix stays usable.
	require.Len(t, reopened.parts, 1)
	first, last, err := reopened.Range()
	require.NoError(t, err)
	require.EqualValues(t, 0, first)
	require.EqualValues(t, 3, last)
}

func TestFinalizeFlipsToReadOnly(t *testing.T) {
	opts := testOptions(afero.NewMemMapFs(), clock.NewFake(0))
	ch := newTestChannel(t, opts, false)
	defer ch.Close()

	_, err := ch.Append(100, []byte{0x01})
	require.NoError(t, err)
	require.True(t, ch.IsWritable())

	ch.Finalize()
	require.False(t, ch.IsWritable())

	_, err = ch.Append(200, []byte{0x02})
	require.Equal(t, errors.ErrorCodeReadOnly, errors.GetErrorCode(err))

	// Reads keep working after finalization.
	n, recordTime, err := ch.Read(0, nil)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.EqualValues(t, 100, recordTime)
}

func TestConfigurationSetterBounds(t *testing.T) {
	opts := testOptions(afero.NewMemMapFs(), clock.NewFake(0))
	ch := newTestChannel(t, opts, false)
	defer ch.Close()

	require.NoError(t, ch.SetMaxSegmentSize(options.MinSegmentSize))
	require.NoError(t, ch.SetMaxSegmentSize(options.MaxSegmentSize))
	err := ch.SetMaxSegmentSize(options.MinSegmentSize - 1)
	require.Equal(t, errors.ErrorCodeInvalidInput, errors.GetErrorCode(err))

	require.NoError(t, ch.SetRetentionTime(options.MinRetentionTime))
	err = ch.SetRetentionTime(options.MinRetentionTime - 1)
	require.Equal(t, errors.ErrorCodeInvalidInput, errors.GetErrorCode(err))

	require.NoError(t, ch.SetRetentionSize(options.MinRetentionSize))
	err = ch.SetRetentionSize(options.MinRetentionSize - 1)
	require.Equal(t, errors.ErrorCodeInvalidInput, errors.GetErrorCode(err))
}

func TestSegmentCreateTimes(t *testing.T) {
	clk := clock.NewFake(42)
	opts := testOptions(afero.NewMemMapFs(), clk)
	opts.RetentionTime = options.MinRetentionTime
	ch := newTestChannel(t, opts, false)
	defer ch.Close()

	_, err := ch.Append(1, []byte{0x01})
	require.NoError(t, err)

	clk.Advance(2_000_000)
	_, err = ch.Append(2, []byte{0x02})
	require.NoError(t, err)

	times := ch.SegmentCreateTimes()
	require.Equal(t, []int64{42, 2_000_042}, times)
}

func TestTimestampsStrictlyIncreaseAcrossParts(t *testing.T) {
	opts := testOptions(afero.NewMemMapFs(), clock.NewFake(0))
	opts.MaxSegmentSize = 1 * mib
	ch := newTestChannel(t, opts, false)
	defer ch.Close()

	// Fill across a rollover boundary.
	payload := make([]byte, 512*1024)
	for i := 0; i < 4; i++ {
		_, err := ch.Append(int64(i+1)*10, payload)
		require.NoError(t, err)
	}
	require.Greater(t, len(ch.parts), 1)

	// The ordering check still applies against the new tail.
	_, err := ch.Append(40, []byte{0x01})
	require.Equal(t, errors.ErrorCodeOutOfOrderTime, errors.GetErrorCode(err))

	var prev int64 = -1
	first, last, err := ch.Range()
	require.NoError(t, err)
	for i := first; i <= last; i++ {
		_, recordTime, err := ch.Read(i, nil)
		require.NoError(t, err)
		require.Greater(t, recordTime, prev)
		prev = recordTime
	}
}

func TestCachedReadsSurviveEviction(t *testing.T) {
	fs := afero.NewMemMapFs()
	opts := testOptions(fs, clock.NewFake(0))
	opts.MaxSegmentSize = 1 * mib
	opts.RetentionSize = 4 * mib
	ch := newTestChannel(t, opts, false)
	defer ch.Close()

	payload := make([]byte, 256*1024)
	for i := 0; i < 25; i++ {
		_, err := ch.Append(int64(i+1)*1000, payload)
		require.NoError(t, err)
	}

	first, last, err := ch.Range()
	require.NoError(t, err)
	require.Positive(t, first)

	// Warm the cache across the whole live range, then read again: entries
	// for evicted parts must not resurface stale data.
	for i := first; i <= last; i++ {
		_, _, err := ch.Read(i, nil)
		require.NoError(t, err)
	}
	for i := int32(0); i < first; i++ {
		_, _, err := ch.Read(i, nil)
		require.Equal(t, errors.ErrorCodeNotFound, errors.GetErrorCode(err), "index %d", i)
	}
}

func TestAppendReadManyRecordsAcrossParts(t *testing.T) {
	opts := testOptions(afero.NewMemMapFs(), clock.NewFake(0))
	opts.MaxSegmentSize = 1 * mib
	ch := newTestChannel(t, opts, false)
	defer ch.Close()

	payload := make([]byte, 128*1024)
	count := 24
	for i := 0; i < count; i++ {
		binary.LittleEndian.PutUint32(payload, uint32(i))
		index, err := ch.Append(int64(i+1)*500, payload)
		require.NoError(t, err)
		require.EqualValues(t, i, index)
	}
	require.Greater(t, len(ch.parts), 2)

	// Adjacent parts join exactly.
	for i := 1; i < len(ch.parts); i++ {
		require.Equal(t, ch.parts[i-1].EndIndex()+1, ch.parts[i].BeginIndex(),
			fmt.Sprintf("parts %d and %d", i-1, i))
	}

	buf := make([]byte, len(payload))
	for i := 0; i < count; i++ {
		n, recordTime, err := ch.Read(int32(i), buf)
		require.NoError(t, err)
		require.Equal(t, len(payload), n)
		require.EqualValues(t, int64(i+1)*500, recordTime)
		require.Equal(t, uint32(i), binary.LittleEndian.Uint32(buf))
	}
}
