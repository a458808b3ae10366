package channel

import (
	"math"

	"github.com/sonarlab/hydrodb/pkg/errors"
)

// FindKind classifies the outcome of a time search.
type FindKind int

const (
	// FindExact means a record with exactly the target timestamp exists;
	// both bounds name it.
	FindExact FindKind = iota

	// FindBefore means the target precedes all recorded data; only the right
	// bound carries a real record.
	FindBefore

	// FindAfter means the target follows all recorded data; only the left
	// bound carries a real record.
	FindAfter

	// FindBetween means the target falls between two adjacent records, named
	// by the left and right bounds.
	FindBetween
)

// Bound is one endpoint of a find result: a record index and its timestamp.
type Bound struct {
	Index int32
	Time  int64
}

// FindResult is the outcome of a time search. For FindBefore the left bound
// is pinned at the minimum representable values; for FindAfter the right
// bound is pinned at the maximums.
type FindResult struct {
	Kind  FindKind
	Left  Bound
	Right Bound
}

// Find locates the target timestamp by bisection over the channel's records.
//
// Targets outside the recorded time range report FindBefore or FindAfter with
// the nearest real record as the bound. Otherwise the search narrows an index
// interval by halving (left-biased midpoint) until it hits the target exactly
// or the interval shrinks to two adjacent records.
func (c *Channel) Find(target int64) (FindResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.failed {
		return FindResult{}, c.failedError("find")
	}
	if len(c.parts) == 0 {
		return FindResult{}, errors.NewChannelError(
			nil, errors.ErrorCodeEmpty, "Channel has no records",
		).WithChannel(c.name).WithOperation("find")
	}

	head := c.parts[0]
	tail := c.parts[len(c.parts)-1]

	if target < head.BeginTime() {
		return FindResult{
			Kind:  FindBefore,
			Left:  Bound{Index: math.MinInt32, Time: math.MinInt64},
			Right: Bound{Index: head.BeginIndex(), Time: head.BeginTime()},
		}, nil
	}

	if target > tail.EndTime() {
		return FindResult{
			Kind:  FindAfter,
			Left:  Bound{Index: tail.EndIndex(), Time: tail.EndTime()},
			Right: Bound{Index: math.MaxInt32, Time: math.MaxInt64},
		}, nil
	}

	begin := Bound{Index: head.BeginIndex(), Time: head.BeginTime()}
	end := Bound{Index: tail.EndIndex(), Time: tail.EndTime()}

	for {
		if begin.Time == target {
			return FindResult{Kind: FindExact, Left: begin, Right: begin}, nil
		}
		if end.Time == target {
			return FindResult{Kind: FindExact, Left: end, Right: end}, nil
		}
		if end.Index-begin.Index == 1 {
			return FindResult{Kind: FindBetween, Left: begin, Right: end}, nil
		}

		mid := begin.Index + (end.Index-begin.Index)/2
		_, entry, err := c.readIndex(mid)
		if err != nil {
			return FindResult{}, err
		}

		if entry.Time <= target {
			begin = Bound{Index: mid, Time: entry.Time}
		} else {
			end = Bound{Index: mid, Time: entry.Time}
		}
	}
}
