package profile

// SummaryStats accumulates min/max/mean/variance over a stream of
// int64 samples, mirroring the boost::accumulators::accumulator_set
// the original coordinator used for per-fragment bytes_assigned,
// completion_times, and rates (spec.md §4.9). Variance is computed
// with Welford's online algorithm so samples never need to be kept
// around.
//
// No library in the retrieval pack offers streaming min/max/mean/
// variance over arbitrary named counters (see DESIGN.md); this is the
// one piece of the Profile Aggregator built on plain arithmetic.
type SummaryStats struct {
	count    int64
	sum      int64
	mean     float64
	m2       float64
	min, max int64
}

// Add folds one sample into the running statistics.
func (s *SummaryStats) Add(v int64) {
	if s.count == 0 {
		s.min, s.max = v, v
	} else {
		if v < s.min {
			s.min = v
		}
		if v > s.max {
			s.max = v
		}
	}
	s.count++
	s.sum += v
	delta := float64(v) - s.mean
	s.mean += delta / float64(s.count)
	delta2 := float64(v) - s.mean
	s.m2 += delta * delta2
}

// Count returns the number of samples folded in.
func (s *SummaryStats) Count() int64 { return s.count }

// Sum returns the running total of every sample folded in.
func (s *SummaryStats) Sum() int64 { return s.sum }

// Mean returns the running mean, or 0 if no samples were added.
func (s *SummaryStats) Mean() float64 { return s.mean }

// Min returns the minimum sample, or 0 if no samples were added.
func (s *SummaryStats) Min() int64 { return s.min }

// Max returns the maximum sample, or 0 if no samples were added.
func (s *SummaryStats) Max() int64 { return s.max }

// Variance returns the population variance, or 0 for fewer than 2
// samples.
func (s *SummaryStats) Variance() float64 {
	if s.count < 2 {
		return 0
	}
	return s.m2 / float64(s.count)
}
