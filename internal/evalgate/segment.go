package evalgate

import (
	"fmt"
	"math"
	"sort"
	"strconv"

	"driftguard/internal/featureset"
	"driftguard/internal/stats"
)

// Segmenter buckets rows into quantile segments over configured columns.
// Cut points are fitted on the training partition and then applied
// unchanged to replay rows, so production and shadow are compared on the
// same subgroups.
type Segmenter struct {
	schema  featureset.Schema
	columns []string
	indexes []int
	bins    int
	cuts    [][]float64
}

// NewSegmenter returns an unfitted Segmenter for the given columns. It
// fails if a column is not part of the schema or bins is less than two.
func NewSegmenter(schema featureset.Schema, columns []string, bins int) (*Segmenter, error) {
	if bins < 2 {
		return nil, fmt.Errorf("segment bins must be at least 2, got %d", bins)
	}
	indexes := make([]int, len(columns))
	for i, col := range columns {
		idx := schema.Index(col)
		if idx < 0 {
			return nil, fmt.Errorf("segment column %s not in schema", col)
		}
		indexes[i] = idx
	}
	return &Segmenter{
		schema:  schema,
		columns: columns,
		indexes: indexes,
		bins:    bins,
	}, nil
}

// Fit computes the per-column quantile cut points over rows, ignoring
// missing values. A column whose values collapse to a single point gets no
// usable cuts and assigns no segments.
func (s *Segmenter) Fit(rows []featureset.Row) {
	s.cuts = make([][]float64, len(s.columns))
	col := make([]float64, 0, len(rows))
	for i, idx := range s.indexes {
		col = col[:0]
		lo, hi := math.Inf(1), math.Inf(-1)
		for _, row := range rows {
			if idx < len(row) && !math.IsNaN(row[idx]) {
				col = append(col, row[idx])
				lo = math.Min(lo, row[idx])
				hi = math.Max(hi, row[idx])
			}
		}
		if len(col) == 0 || lo == hi {
			continue
		}
		cuts := make([]float64, 0, s.bins-1)
		for b := 1; b < s.bins; b++ {
			q := stats.Quantile(col, float64(b)/float64(s.bins))
			if len(cuts) == 0 || q > cuts[len(cuts)-1] {
				cuts = append(cuts, q)
			}
		}
		s.cuts[i] = cuts
	}
}

// Segments returns the segment names a row belongs to, one per configured
// column with a usable value.
func (s *Segmenter) Segments(row featureset.Row) []string {
	if s.cuts == nil {
		return nil
	}
	names := make([]string, 0, len(s.columns))
	for i, idx := range s.indexes {
		cuts := s.cuts[i]
		if len(cuts) == 0 || idx >= len(row) || math.IsNaN(row[idx]) {
			continue
		}
		names = append(names, segmentName(s.columns[i], cuts, row[idx]))
	}
	return names
}

// segmentName renders a bucket like age<35, 35<=age<52, age>=52.
func segmentName(column string, cuts []float64, v float64) string {
	if v < cuts[0] {
		return fmt.Sprintf("%s<%s", column, formatCut(cuts[0]))
	}
	for i := 1; i < len(cuts); i++ {
		if v < cuts[i] {
			return fmt.Sprintf("%s<=%s<%s", formatCut(cuts[i-1]), column, formatCut(cuts[i]))
		}
	}
	return fmt.Sprintf("%s>=%s", column, formatCut(cuts[len(cuts)-1]))
}

func formatCut(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// ReplayOutcome is one replay row scored by both models.
type ReplayOutcome struct {
	Features    featureset.Row
	TrueClass   int
	ProdClass   int
	ShadowClass int
}

// SegmentEvidence groups replay outcomes by segment and computes both
// models' F1 per segment. Segments smaller than segmentMin are marked
// insufficient so the gate abstains on them. Results are ordered by name.
func (s *Segmenter) SegmentEvidence(outcomes []ReplayOutcome, segmentMin int) []SegmentEvidence {
	groups := make(map[string][]int)
	for i, o := range outcomes {
		for _, name := range s.Segments(o.Features) {
			groups[name] = append(groups[name], i)
		}
	}

	names := make([]string, 0, len(groups))
	for name := range groups {
		names = append(names, name)
	}
	sort.Strings(names)

	evidence := make([]SegmentEvidence, 0, len(names))
	for _, name := range names {
		members := groups[name]
		se := SegmentEvidence{Name: name, N: len(members)}
		if len(members) < segmentMin {
			se.Insufficient = true
			evidence = append(evidence, se)
			continue
		}
		truth := make([]int, len(members))
		prod := make([]int, len(members))
		shadow := make([]int, len(members))
		for j, i := range members {
			truth[j] = outcomes[i].TrueClass
			prod[j] = outcomes[i].ProdClass
			shadow[j] = outcomes[i].ShadowClass
		}
		se.ProductionF1 = stats.NewConfusion(truth, prod).F1()
		se.ShadowF1 = stats.NewConfusion(truth, shadow).F1()
		evidence = append(evidence, se)
	}
	return evidence
}
