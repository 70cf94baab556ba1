// Package estimate seeds bond dissociation energies with a linear least
// squares fit of molecule reference energies against bond-type counts.
package estimate

import (
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strconv"

	"gonum.org/v1/gonum/mat"

	"github.com/cwbudde/fftune/internal/forcefield"
	"github.com/cwbudde/fftune/internal/params"
)

// ErrSingular is returned when the normal equations cannot be inverted.
// Use errors.Is(err, ErrSingular) to check for it.
var ErrSingular = &SingularMatrixError{}

// SingularMatrixError reports a non-invertible AᵀA. Row is the 1-based size
// of the first leading block that is singular; Label names its bond type.
type SingularMatrixError struct {
	Row       int
	Label     string
	Condition float64
}

func (e *SingularMatrixError) Error() string {
	msg := "matrix inversion failed"
	if e.Row > 0 {
		msg += fmt.Sprintf(". Incorrect row = %d", e.Row)
		if e.Label != "" {
			msg += " (bond " + e.Label + ")"
		}
	}
	return msg + ". This probably indicates that you do not have sufficient data points, or that some parameters are linearly dependent"
}

func (e *SingularMatrixError) Is(target error) bool {
	_, ok := target.(*SingularMatrixError)
	return ok
}

// Design is the regression problem: one row per supported molecule, one
// column per optimized bond type.
type Design struct {
	// Molecules names the rows
	Molecules []string
	// Labels names the columns ("c3-h")
	Labels []string
	// Copies is the number of bond instances per column over all rows
	Copies []int
	// A holds occurrence counts, X the reference energies
	A *mat.Dense
	X []float64

	slots []int
}

// BuildDesign counts bond types per molecule. Columns follow the registry's
// bond slots; excluded molecules are skipped.
func BuildDesign(pop forcefield.Population, reg *params.Registry) (*Design, error) {
	d := &Design{}
	column := make(map[int]int)
	for i, s := range reg.Slots() {
		if s.Kind() != forcefield.Bond {
			continue
		}
		column[i] = len(d.slots)
		d.slots = append(d.slots, i)
		d.Labels = append(d.Labels, s.Entry.AtomTypes()[0]+"-"+s.Entry.AtomTypes()[1])
	}
	if len(d.slots) == 0 {
		return nil, &params.ConfigError{Kind: "bond", Reason: "dissociation estimate needs optimized bond types"}
	}
	d.Copies = make([]int, len(d.slots))

	var rows [][]float64
	for _, m := range pop {
		if m.Support == forcefield.SupportExcluded {
			continue
		}
		row := make([]float64, len(d.slots))
		for _, in := range m.Interactions {
			if in.Kind != forcefield.Bond {
				continue
			}
			slot, ok := reg.Lookup(forcefield.Bond, in.TypeIndex)
			if !ok {
				types, _ := m.InteractionTypes(in)
				return nil, fmt.Errorf("molecule %s: bond %v is not optimized", m.Name, types)
			}
			col := column[slot]
			row[col]++
			d.Copies[col]++
		}
		rows = append(rows, row)
		d.Molecules = append(d.Molecules, m.Name)
		d.X = append(d.X, m.Reference)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("no supported molecules for the dissociation estimate")
	}

	d.A = mat.NewDense(len(rows), len(d.slots), nil)
	for i, row := range rows {
		d.A.SetRow(i, row)
	}

	slog.Info("Collected dissociation energy data",
		"bond_types", len(d.slots),
		"molecules", len(rows),
	)
	return d, nil
}

// WriteCSV dumps the design matrix with the molecule name first and the
// reference energy last on every row.
func (d *Design) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	header := append([]string{"molecule"}, d.Labels...)
	if err := cw.Write(append(header, "energy")); err != nil {
		return err
	}
	r, c := d.A.Dims()
	for i := 0; i < r; i++ {
		rec := make([]string, 0, c+2)
		rec = append(rec, d.Molecules[i])
		for j := 0; j < c; j++ {
			rec = append(rec, strconv.FormatFloat(d.A.At(i, j), 'g', -1, 64))
		}
		rec = append(rec, strconv.FormatFloat(d.X[i], 'f', 3, 64))
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Options controls the offset iteration
type Options struct {
	// FitOffset estimates an additive global offset by fixed-point iteration
	FitOffset bool
	// Tolerance is the absolute offset update below which iteration stops
	Tolerance float64
	// MaxIter caps the offset iteration; reaching it is not an error
	MaxIter int
}

// DefaultOptions returns the offset iteration defaults
func DefaultOptions() Options {
	return Options{Tolerance: 1e-5, MaxIter: 1000}
}

// Solution holds the fitted per-column coefficients
type Solution struct {
	Coefficients []float64
	Offset       float64
	// Chi2 is the mean squared residual over the rows
	Chi2       float64
	Iterations int
	Converged  bool
}

// Solve fits X ≈ offset + A·c through the normal equations.
func Solve(d *Design, opts Options) (*Solution, error) {
	if opts.Tolerance <= 0 {
		opts.Tolerance = 1e-5
	}
	if opts.MaxIter <= 0 {
		opts.MaxIter = 1000
	}

	nmol, nd := d.A.Dims()

	var ata mat.Dense
	ata.Mul(d.A.T(), d.A)
	var inv mat.Dense
	if err := inv.Inverse(&ata); err != nil {
		return nil, singularError(&ata, d.Labels, err)
	}

	sol := &Solution{Converged: true}
	x := mat.NewVecDense(nmol, nil)
	var atx, fit, ax mat.VecDense

	solveAt := func(a0 float64) {
		for j := 0; j < nmol; j++ {
			x.SetVec(j, d.X[j]-a0)
		}
		atx.MulVec(d.A.T(), x)
		fit.MulVec(&inv, &atx)
	}

	a0 := 0.0
	iter := 0
	solveAt(a0)
	for opts.FitOffset {
		ax.MulVec(d.A, &fit)
		da0, chi2 := 0.0, 0.0
		for j := 0; j < nmol; j++ {
			r := d.X[j] - a0 - ax.AtVec(j)
			da0 += r
			chi2 += r * r
		}
		da0 /= float64(nmol)
		a0 += da0
		iter++
		solveAt(a0)
		slog.Debug("Dissociation offset iteration", "iter", iter, "a0", a0, "chi2", chi2/float64(nmol))

		if math.Abs(da0) <= opts.Tolerance {
			break
		}
		if iter >= opts.MaxIter {
			sol.Converged = false
			slog.Warn("Dissociation offset did not converge", "iterations", iter, "a0", a0, "last_update", da0)
			break
		}
	}

	sol.Coefficients = make([]float64, nd)
	for i := range sol.Coefficients {
		sol.Coefficients[i] = fit.AtVec(i)
	}
	sol.Offset = a0
	sol.Iterations = iter

	ax.MulVec(d.A, &fit)
	for j := 0; j < nmol; j++ {
		r := d.X[j] - a0 - ax.AtVec(j)
		sol.Chi2 += r * r
	}
	sol.Chi2 /= float64(nmol)
	return sol, nil
}

// singularError finds the smallest leading block of ata that is singular
func singularError(ata *mat.Dense, labels []string, cause error) error {
	e := &SingularMatrixError{Condition: math.Inf(1)}
	if c, ok := cause.(mat.Condition); ok {
		e.Condition = float64(c)
	}

	n, _ := ata.Dims()
	for k := 1; k <= n; k++ {
		var lu mat.LU
		lu.Factorize(ata.Slice(0, k, 0, k))
		if c := lu.Cond(); math.IsInf(c, 1) || c > mat.ConditionTolerance {
			e.Row = k
			e.Label = labels[k-1]
			break
		}
	}
	return e
}

// Seed runs the estimate and stores -c as the leading coefficient of every
// bond slot. The registry's original values are refreshed afterwards.
func Seed(reg *params.Registry, pop forcefield.Population, opts Options) (*Solution, error) {
	d, err := BuildDesign(pop, reg)
	if err != nil {
		return nil, err
	}
	sol, err := Solve(d, opts)
	if err != nil {
		return nil, err
	}
	if err := Apply(reg, d, sol); err != nil {
		return nil, err
	}
	return sol, nil
}

// Apply writes a solution into the registry and the force-field store
func Apply(reg *params.Registry, d *Design, sol *Solution) error {
	v := reg.ToFlat()
	slots := reg.Slots()
	for col, slot := range d.slots {
		v[slots[slot].Offset] = -sol.Coefficients[col]
		slog.Info("Optimized dissociation energy",
			"bond", d.Labels[col],
			"copies", d.Copies[col],
			"energy", sol.Coefficients[col],
		)
	}
	if err := reg.FromFlat(v); err != nil {
		return err
	}
	reg.SetOrig()
	return nil
}
