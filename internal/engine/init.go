package engine

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/epiforge/cascade/internal/framework"
)

// ErrBadInitialization reports that the declared setup values are mutually
// inconsistent or imply negative compartment sizes.
var ErrBadInitialization = errors.New("engine: bad initialization")

const initTolerance = 1e-6

// initialize solves the t=0 compartment sizes from the setup-weighted
// characteristic and compartment values by least squares on the inclusion
// matrix. Source and sink compartments start at zero.
func (p *population) initialize(f *framework.Framework) error {
	// Unknowns are the ordinary and junction compartments.
	var unknowns []*compartment
	index := map[string]int{}
	for _, c := range p.comps {
		if c.def.Source || c.def.Sink {
			continue
		}
		index[c.def.Name] = len(unknowns)
		unknowns = append(unknowns, c)
	}
	if len(unknowns) == 0 {
		return nil
	}

	var (
		rows  [][]float64
		b     []float64
		names []string
	)
	addRow := func(name string, weight float64, coeffs map[string]float64, target float64) {
		row := make([]float64, len(unknowns))
		for comp, coeff := range coeffs {
			row[index[comp]] = weight * coeff
		}
		rows = append(rows, row)
		b = append(b, weight*target)
		names = append(names, name)
	}

	for _, c := range p.characs {
		w := f.CharacSetupWeight(c.def)
		if w == 0 {
			continue
		}
		target, err := p.characTarget(c)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrBadInitialization, err)
		}
		coeffs := map[string]float64{}
		if err := p.expandComponents(c, 1, coeffs); err != nil {
			return fmt.Errorf("%w: %v", ErrBadInitialization, err)
		}
		addRow(c.def.Name, w, coeffs, target)
	}
	for _, c := range p.comps {
		w := f.CompSetupWeight(c.def)
		if w == 0 {
			continue
		}
		if c.def.Default == nil {
			return fmt.Errorf("%w: compartment %q has a setup weight but no initial value", ErrBadInitialization, c.def.Name)
		}
		addRow(c.def.Name, w, map[string]float64{c.def.Name: 1}, *c.def.Default)
	}
	if len(rows) == 0 {
		return fmt.Errorf("%w: no setup values declared", ErrBadInitialization)
	}

	x, err := solveLeastSquares(rows, b)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadInitialization, err)
	}

	scale := 1.0
	for _, v := range b {
		if a := math.Abs(v); a > scale {
			scale = a
		}
	}
	var negative []string
	for i, v := range x {
		if v < -initTolerance*scale {
			negative = append(negative, unknowns[i].def.Name)
		}
		if v < 0 {
			x[i] = 0
		}
	}
	if len(negative) > 0 {
		return fmt.Errorf("%w: negative initial sizes for %s", ErrBadInitialization, strings.Join(negative, ", "))
	}

	var mismatched []string
	for i, row := range rows {
		got := 0.0
		for j, coeff := range row {
			got += coeff * x[j]
		}
		if math.Abs(got-b[i]) > initTolerance*math.Max(1, math.Abs(b[i])) {
			mismatched = append(mismatched, fmt.Sprintf("%s (want %g, got %g)", names[i], b[i], got))
		}
	}
	if len(mismatched) > 0 {
		return fmt.Errorf("%w: setup values cannot be satisfied: %s", ErrBadInitialization, strings.Join(mismatched, "; "))
	}

	for i, c := range unknowns {
		c.vals[0] = x[i]
	}
	return nil
}

// characTarget resolves the absolute initial target of a characteristic. A
// denominator turns the declared value into a fraction, so the absolute
// target is the product with the denominator's own target.
func (p *population) characTarget(c *characteristic) (float64, error) {
	if c.def.Default == nil {
		return 0, fmt.Errorf("characteristic %q has a setup weight but no initial value", c.def.Name)
	}
	target := *c.def.Default
	if c.def.Denominator == "" {
		return target, nil
	}
	denom, err := p.initTarget(c.def.Denominator)
	if err != nil {
		return 0, err
	}
	return target * denom, nil
}

// initTarget resolves the absolute initial value of any named quantity.
func (p *population) initTarget(name string) (float64, error) {
	if c, ok := p.compByName[name]; ok {
		if c.def.Default == nil {
			return 0, fmt.Errorf("compartment %q has no initial value to denominate by", name)
		}
		return *c.def.Default, nil
	}
	if c, ok := p.characByName[name]; ok {
		return p.characTarget(c)
	}
	return 0, fmt.Errorf("unknown quantity %q", name)
}

// expandComponents flattens a characteristic's membership into per
// compartment coefficients, following nested characteristics.
func (p *population) expandComponents(c *characteristic, coeff float64, out map[string]float64) error {
	if c.def.Denominator != "" && coeff != 1 {
		return fmt.Errorf("characteristic %q with a denominator cannot be nested in setup values", c.def.Name)
	}
	for _, name := range c.def.Components {
		if _, ok := p.compByName[name]; ok {
			out[name] += coeff
			continue
		}
		nested, ok := p.characByName[name]
		if !ok {
			return fmt.Errorf("unknown component %q", name)
		}
		if nested.def.Denominator != "" {
			return fmt.Errorf("characteristic %q with a denominator cannot be nested in setup values", name)
		}
		if err := p.expandComponents(nested, coeff, out); err != nil {
			return err
		}
	}
	return nil
}

// solveLeastSquares minimizes ||Ax - b|| via the normal equations, solved
// with Gaussian elimination and partial pivoting.
func solveLeastSquares(a [][]float64, b []float64) ([]float64, error) {
	if len(a) == 0 {
		return nil, fmt.Errorf("no equations")
	}
	n := len(a[0])

	// Form AtA and Atb.
	ata := make([][]float64, n)
	atb := make([]float64, n)
	for i := range ata {
		ata[i] = make([]float64, n)
	}
	for r, row := range a {
		for i := 0; i < n; i++ {
			if row[i] == 0 {
				continue
			}
			for j := 0; j < n; j++ {
				ata[i][j] += row[i] * row[j]
			}
			atb[i] += row[i] * b[r]
		}
	}

	for col := 0; col < n; col++ {
		pivot := col
		for r := col + 1; r < n; r++ {
			if math.Abs(ata[r][col]) > math.Abs(ata[pivot][col]) {
				pivot = r
			}
		}
		if math.Abs(ata[pivot][col]) < 1e-12 {
			return nil, fmt.Errorf("initialization is under-determined, add setup values")
		}
		ata[col], ata[pivot] = ata[pivot], ata[col]
		atb[col], atb[pivot] = atb[pivot], atb[col]
		for r := col + 1; r < n; r++ {
			factor := ata[r][col] / ata[col][col]
			if factor == 0 {
				continue
			}
			for j := col; j < n; j++ {
				ata[r][j] -= factor * ata[col][j]
			}
			atb[r] -= factor * atb[col]
		}
	}

	x := make([]float64, n)
	for i := n - 1; i >= 0; i-- {
		sum := atb[i]
		for j := i + 1; j < n; j++ {
			sum -= ata[i][j] * x[j]
		}
		x[i] = sum / ata[i][i]
	}
	return x, nil
}
