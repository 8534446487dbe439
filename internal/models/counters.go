package models

// Counters holds the live engagement counters of an item. Providers that do
// not expose a metric leave it at zero.
type Counters struct {
	View     int64 `json:"view"`
	Like     int64 `json:"like"`
	Share    int64 `json:"share"`
	Comment  int64 `json:"comment"`
	Quote    int64 `json:"quote"`
	Bookmark int64 `json:"bookmark"`
	Collect  int64 `json:"collect"`
}

// Sum returns the total across all metrics.
func (c Counters) Sum() int64 {
	return c.View + c.Like + c.Share + c.Comment + c.Quote + c.Bookmark + c.Collect
}

// DeltaFrom computes c - prev per metric, clamping negatives to zero.
// Providers occasionally revise counters down; negative deltas are never
// emitted.
func (c Counters) DeltaFrom(prev Counters) Counters {
	return Counters{
		View:     clampNonNegative(c.View - prev.View),
		Like:     clampNonNegative(c.Like - prev.Like),
		Share:    clampNonNegative(c.Share - prev.Share),
		Comment:  clampNonNegative(c.Comment - prev.Comment),
		Quote:    clampNonNegative(c.Quote - prev.Quote),
		Bookmark: clampNonNegative(c.Bookmark - prev.Bookmark),
		Collect:  clampNonNegative(c.Collect - prev.Collect),
	}
}

// Max returns the per-metric maximum of c and other. Used to keep stored
// counters non-decreasing after clamping.
func (c Counters) Max(other Counters) Counters {
	return Counters{
		View:     maxInt64(c.View, other.View),
		Like:     maxInt64(c.Like, other.Like),
		Share:    maxInt64(c.Share, other.Share),
		Comment:  maxInt64(c.Comment, other.Comment),
		Quote:    maxInt64(c.Quote, other.Quote),
		Bookmark: maxInt64(c.Bookmark, other.Bookmark),
		Collect:  maxInt64(c.Collect, other.Collect),
	}
}

func clampNonNegative(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
