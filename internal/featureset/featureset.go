// Package featureset defines the feature schema and row representation shared
// by the reference store, the drift detector, and the trainer.
//
// A Row is an ordered slice of float64 values aligned with a Schema; a missing
// value is NaN. Drift tests and training dispatch on the per-field Kind tag,
// so schemas carry explicit semantics instead of inferring them from data.
package featureset

import (
	"fmt"
	"math"
)

// Kind classifies how a feature's values are interpreted statistically.
type Kind string

const (
	Continuous  Kind = "continuous"  // real-valued, distribution compared by KS test
	Ordinal     Kind = "ordinal"     // integer-valued with order, compared by KS test
	Categorical Kind = "categorical" // discrete codes without order, compared by chi-squared
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case Continuous, Ordinal, Categorical:
		return true
	}
	return false
}

// Field is one column of the feature schema.
type Field struct {
	Name string `json:"name" yaml:"name"`
	Kind Kind   `json:"semantic_type" yaml:"semantic_type"`
}

// Schema is an ordered list of fields. Order is significant: rows, reference
// columns, and model weights are all aligned by position.
type Schema []Field

// Validate checks that the schema is non-empty, has unique names, and uses
// known kinds.
func (s Schema) Validate() error {
	if len(s) == 0 {
		return fmt.Errorf("schema has no fields")
	}
	seen := make(map[string]struct{}, len(s))
	for i, f := range s {
		if f.Name == "" {
			return fmt.Errorf("field %d has empty name", i)
		}
		if _, dup := seen[f.Name]; dup {
			return fmt.Errorf("duplicate field name %q", f.Name)
		}
		seen[f.Name] = struct{}{}
		if !f.Kind.Valid() {
			return fmt.Errorf("field %q has unknown kind %q", f.Name, f.Kind)
		}
	}
	return nil
}

// Index returns the position of the named field, or -1 if absent.
func (s Schema) Index(name string) int {
	for i, f := range s {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// Names returns the field names in schema order.
func (s Schema) Names() []string {
	names := make([]string, len(s))
	for i, f := range s {
		names[i] = f.Name
	}
	return names
}

// Equal reports whether two schemas have identical fields in the same order.
func (s Schema) Equal(other Schema) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}

// CreditRisk returns the built-in schema for the credit-risk workload
// (the Give Me Some Credit feature set).
func CreditRisk() Schema {
	return Schema{
		{Name: "RevolvingUtilizationOfUnsecuredLines", Kind: Continuous},
		{Name: "age", Kind: Ordinal},
		{Name: "NumberOfTime30_59DaysPastDueNotWorse", Kind: Ordinal},
		{Name: "DebtRatio", Kind: Continuous},
		{Name: "MonthlyIncome", Kind: Continuous},
		{Name: "NumberOfOpenCreditLinesAndLoans", Kind: Ordinal},
		{Name: "NumberOfTimes90DaysLate", Kind: Ordinal},
		{Name: "NumberRealEstateLoansOrLines", Kind: Ordinal},
		{Name: "NumberOfTime60_89DaysPastDueNotWorse", Kind: Ordinal},
		{Name: "NumberOfDependents", Kind: Ordinal},
	}
}

// Row holds one value per schema field, in schema order. NaN marks a missing
// value.
type Row []float64

// Clone returns a copy of the row.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	copy(out, r)
	return out
}

// IsMissing reports whether the i-th value is absent.
func (r Row) IsMissing(i int) bool {
	return math.IsNaN(r[i])
}

// Columns transposes rows into per-field value slices, preserving NaN
// placeholders. The result has one slice per schema field.
func Columns(s Schema, rows []Row) [][]float64 {
	cols := make([][]float64, len(s))
	for i := range cols {
		cols[i] = make([]float64, 0, len(rows))
	}
	for _, row := range rows {
		for i := range s {
			v := math.NaN()
			if i < len(row) {
				v = row[i]
			}
			cols[i] = append(cols[i], v)
		}
	}
	return cols
}

// NonNull filters NaN values out of a column.
func NonNull(col []float64) []float64 {
	out := make([]float64, 0, len(col))
	for _, v := range col {
		if !math.IsNaN(v) {
			out = append(out, v)
		}
	}
	return out
}
