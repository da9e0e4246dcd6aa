package design

import (
	"fmt"
	"math/rand"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/inference-sim/simexp/sim"
)

// DefaultMaxConfigurations bounds designs that do not set a maximum.
const DefaultMaxConfigurations = 1_000_000

// Plan selects which factor combinations a design runs. Configurations are
// returned as level-index vectors in run order.
type Plan interface {
	Levels(f *Factors, maxConfigurations int, seed int64) ([][]int, error)
}

// FullPlan enumerates every combination with a mixed-radix odometer, the
// last factor varying fastest. It fails before enumerating when the number
// of combinations exceeds maxConfigurations (if positive).
type FullPlan struct{}

// Levels implements Plan.
func (FullPlan) Levels(f *Factors, maxConfigurations int, _ int64) ([][]int, error) {
	total, err := f.Total()
	if err != nil {
		return nil, err
	}
	if maxConfigurations > 0 && total > maxConfigurations {
		return nil, fmt.Errorf("%w: %d combinations, maximum is %d", ErrTooManyConfigurations, total, maxConfigurations)
	}
	return odometer(f.Levels(), total), nil
}

func odometer(radix []int, total int) [][]int {
	out := make([][]int, 0, total)
	if total == 0 {
		return out
	}
	cur := make([]int, len(radix))
	for {
		out = append(out, append([]int(nil), cur...))
		i := len(cur) - 1
		for ; i >= 0; i-- {
			cur[i]++
			if cur[i] < radix[i] {
				break
			}
			cur[i] = 0
		}
		if i < 0 {
			return out
		}
	}
}

// FractionalPlan samples min(maxConfigurations, total) distinct combinations
// so that every level of a factor with v levels appears ⌊m/v⌋ or ⌈m/v⌉
// times in a sample of size m. Sampling is driven by the seed; the sample
// is returned in lexicographic order of level indices.
type FractionalPlan struct {
	// Attempts bounds the reshuffles before falling back to unbalanced
	// filling; 0 means 10.
	Attempts int
}

// Levels implements Plan.
func (p FractionalPlan) Levels(f *Factors, maxConfigurations int, seed int64) ([][]int, error) {
	total, err := f.Total()
	if err != nil {
		return nil, err
	}
	size := total
	if maxConfigurations > 0 && maxConfigurations < total {
		size = maxConfigurations
	}
	if size == total {
		return odometer(f.Levels(), total), nil
	}

	s := newSampler(f.Levels(), size, sim.NewRand(seed, "fractional-design"))
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = 10
	}
	var keys []int
	for a := 0; a < attempts; a++ {
		s.shuffle()
		if keys = s.repair(); keys != nil {
			break
		}
		logrus.Debugf("fractional design: attempt %d left duplicates, reshuffling", a+1)
	}
	if keys == nil {
		logrus.Warnf("fractional design: no balanced sample of %d out of %d found, filling randomly", size, total)
		keys = s.fill(total)
	}
	sort.Ints(keys)
	out := make([][]int, len(keys))
	for i, k := range keys {
		out[i] = f.decode(k)
	}
	return out, nil
}

// sampler holds one balanced column of level indices per factor. Rows are
// identified by their mixed-radix key.
type sampler struct {
	radix   []int
	strides []int
	cols    [][]int
	size    int
	rng     *rand.Rand
}

func newSampler(radix []int, size int, rng *rand.Rand) *sampler {
	s := &sampler{radix: radix, size: size, rng: rng}
	s.strides = make([]int, len(radix))
	stride := 1
	for k := len(radix) - 1; k >= 0; k-- {
		s.strides[k] = stride
		stride *= radix[k]
	}
	s.cols = make([][]int, len(radix))
	for k, v := range radix {
		col := make([]int, 0, size)
		for level := 0; level < v; level++ {
			for i := 0; i < size/v; i++ {
				col = append(col, level)
			}
		}
		col = append(col, rng.Perm(v)[:size-len(col)]...)
		s.cols[k] = col
	}
	return s
}

func (s *sampler) shuffle() {
	for _, col := range s.cols {
		s.rng.Shuffle(len(col), func(i, j int) { col[i], col[j] = col[j], col[i] })
	}
}

func (s *sampler) key(row int) int {
	k := 0
	for f, col := range s.cols {
		k += col[row] * s.strides[f]
	}
	return k
}

// repair swaps entries within columns, which keeps every column's level
// counts, until all rows are distinct. It returns the row keys, or nil if
// duplicates remain after a bounded number of swaps.
func (s *sampler) repair() []int {
	counts := make(map[int]int, s.size)
	for r := 0; r < s.size; r++ {
		counts[s.key(r)]++
	}
	budget := 50 * s.size
	for len(counts) < s.size && budget > 0 && len(s.cols) > 0 {
		budget--
		i := s.duplicateRow(counts)
		j := s.rng.Intn(s.size)
		f := s.rng.Intn(len(s.cols))
		col := s.cols[f]
		if col[i] == col[j] {
			continue
		}
		before := len(counts)
		oldI, oldJ := s.key(i), s.key(j)
		remove(counts, oldI)
		remove(counts, oldJ)
		col[i], col[j] = col[j], col[i]
		newI, newJ := s.key(i), s.key(j)
		counts[newI]++
		counts[newJ]++
		if len(counts) < before {
			remove(counts, newI)
			remove(counts, newJ)
			col[i], col[j] = col[j], col[i]
			counts[oldI]++
			counts[oldJ]++
		}
	}
	if len(counts) < s.size {
		return nil
	}
	keys := make([]int, 0, s.size)
	for k := range counts {
		keys = append(keys, k)
	}
	return keys
}

func (s *sampler) duplicateRow(counts map[int]int) int {
	start := s.rng.Intn(s.size)
	for n := 0; n < s.size; n++ {
		r := (start + n) % s.size
		if counts[s.key(r)] > 1 {
			return r
		}
	}
	return start
}

// fill keeps the distinct rows of the current columns and adds random unseen
// combinations up to the sample size.
func (s *sampler) fill(total int) []int {
	seen := make(map[int]bool, s.size)
	keys := make([]int, 0, s.size)
	for r := 0; r < s.size; r++ {
		if k := s.key(r); !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	for len(keys) < s.size {
		k := s.rng.Intn(total)
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	return keys
}

func remove(counts map[int]int, k int) {
	counts[k]--
	if counts[k] == 0 {
		delete(counts, k)
	}
}
