package fit

import (
	"fmt"
	"io"
	"math"
	"text/tabwriter"

	"github.com/cwbudde/fftune/internal/forcefield"
	"github.com/cwbudde/fftune/internal/params"
)

// ReportRow is one flat parameter in the final report
type ReportRow struct {
	Index int     `json:"index"`
	Label string  `json:"label"`
	Orig  float64 `json:"orig"`
	Best  float64 `json:"best"`
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
}

// NewReport lists every flat index with its original and best value
func NewReport(reg *params.Registry) []ReportRow {
	rows := make([]ReportRow, reg.Len())
	for i := range rows {
		rows[i] = ReportRow{
			Index: i,
			Label: reg.Label(i),
			Orig:  reg.Orig[i],
			Best:  reg.Best[i],
			Lower: reg.Lower[i],
			Upper: reg.Upper[i],
		}
	}
	return rows
}

// WriteReport prints the parameter report as an aligned table
func WriteReport(w io.Writer, rows []ReportRow) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "INDEX\tPARAMETER\tORIGINAL\tBEST\tLOWER\tUPPER")
	fmt.Fprintln(tw, "-----\t---------\t--------\t----\t-----\t-----")
	for _, r := range rows {
		fmt.Fprintf(tw, "%d\t%s\t%g\t%g\t%g\t%g\n", r.Index, r.Label, r.Orig, r.Best, r.Lower, r.Upper)
	}
	return tw.Flush()
}

// MoleculeRow compares computed energies before and after calibration
type MoleculeRow struct {
	Name      string  `json:"name"`
	Support   string  `json:"support"`
	Reference float64 `json:"reference"`
	Before    float64 `json:"before"`
	After     float64 `json:"after"`
}

// Snapshot records the computed energy of every molecule by name
func Snapshot(pop forcefield.Population) map[string]float64 {
	out := make(map[string]float64, len(pop))
	for _, m := range pop {
		out[m.Name] = m.Calculated
	}
	return out
}

// MoleculeTable pairs a before snapshot with the population's current values
func MoleculeTable(before map[string]float64, pop forcefield.Population) []MoleculeRow {
	rows := make([]MoleculeRow, 0, len(pop))
	for _, m := range pop {
		rows = append(rows, MoleculeRow{
			Name:      m.Name,
			Support:   m.Support.String(),
			Reference: m.Reference,
			Before:    before[m.Name],
			After:     m.Calculated,
		})
	}
	return rows
}

// RMSD returns the before and after root mean square deviation over rows
// that are not excluded
func RMSD(rows []MoleculeRow) (before, after float64) {
	n := 0
	for _, r := range rows {
		if r.Support == forcefield.SupportExcluded.String() {
			continue
		}
		before += (r.Before - r.Reference) * (r.Before - r.Reference)
		after += (r.After - r.Reference) * (r.After - r.Reference)
		n++
	}
	if n == 0 {
		return 0, 0
	}
	return math.Sqrt(before / float64(n)), math.Sqrt(after / float64(n))
}

// WriteMoleculeTable prints per-molecule energies and the RMSD summary
func WriteMoleculeTable(w io.Writer, rows []MoleculeRow) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "MOLECULE\tSUPPORT\tREFERENCE\tBEFORE\tDIFF\tAFTER\tDIFF")
	fmt.Fprintln(tw, "--------\t-------\t---------\t------\t----\t-----\t----")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%.3f\t%.3f\t%.3f\t%.3f\t%.3f\n",
			r.Name, r.Support, r.Reference,
			r.Before, r.Before-r.Reference,
			r.After, r.After-r.Reference,
		)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	before, after := RMSD(rows)
	_, err := fmt.Fprintf(w, "RMSD before %.3f after %.3f\n", before, after)
	return err
}
