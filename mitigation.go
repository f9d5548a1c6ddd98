// mitigation.go: Measurement-error mitigation filters
//
// Sifting may pass every per-qubit count pair through a MitigationFilter
// before thresholding. Filters are registered by name on a MitigationManager,
// which can also carry a github.com/agilira/go-plugins manager for filters
// served out of process.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package quackd

import (
	"context"
	"fmt"
	"sort"
	"sync"

	goerrors "github.com/agilira/go-errors"
	goplugins "github.com/agilira/go-plugins"
	"gonum.org/v1/gonum/mat"
)

// MitigationFilter corrects the two-outcome counts of one qubit. It must be a
// pure function of its inputs; it may omit keys and may return fractional
// counts.
type MitigationFilter interface {
	Apply(qubit int, counts map[string]float64) (map[string]float64, error)
}

// MitigationFunc adapts a function to MitigationFilter.
type MitigationFunc func(qubit int, counts map[string]float64) (map[string]float64, error)

// Apply calls f.
func (f MitigationFunc) Apply(qubit int, counts map[string]float64) (map[string]float64, error) {
	return f(qubit, counts)
}

// IdentityFilter returns counts unchanged.
type IdentityFilter struct{}

// Apply returns a copy of counts.
func (IdentityFilter) Apply(_ int, counts map[string]float64) (map[string]float64, error) {
	out := make(map[string]float64, len(counts))
	for k, v := range counts {
		out[k] = v
	}
	return out, nil
}

// CalibrationCounts are the readouts of one qubit prepared in |0> and in |1>.
type CalibrationCounts struct {
	Prepared0 map[string]int
	Prepared1 map[string]int
}

// CalibrationFilter inverts a per-qubit 2x2 assignment matrix
// A[measured][prepared] fitted from calibration runs.
type CalibrationFilter struct {
	inverses []*mat.Dense
}

// NewCalibrationFilter fits one assignment matrix per qubit.
func NewCalibrationFilter(cal []CalibrationCounts) (*CalibrationFilter, error) {
	f := &CalibrationFilter{inverses: make([]*mat.Dense, len(cal))}
	for q, c := range cal {
		col0, err := readoutColumn(c.Prepared0)
		if err != nil {
			return nil, fmt.Errorf("qubit %d prepared |0>: %w", q, err)
		}
		col1, err := readoutColumn(c.Prepared1)
		if err != nil {
			return nil, fmt.Errorf("qubit %d prepared |1>: %w", q, err)
		}
		a := mat.NewDense(2, 2, []float64{
			col0[0], col1[0],
			col0[1], col1[1],
		})
		inv, err := invert(a)
		if err != nil {
			return nil, fmt.Errorf("qubit %d: %w", q, err)
		}
		f.inverses[q] = inv
	}
	return f, nil
}

// NewSymmetricCalibrationFilter builds the filter for a symmetric readout
// error p on every one of qubits.
func NewSymmetricCalibrationFilter(p float64, qubits int) (*CalibrationFilter, error) {
	if p < 0 || p >= 0.5 {
		return nil, fmt.Errorf("%w: readout error %v outside [0, 0.5)", ErrInvalidConfig, p)
	}
	f := &CalibrationFilter{inverses: make([]*mat.Dense, qubits)}
	for q := range f.inverses {
		inv, err := invert(mat.NewDense(2, 2, []float64{1 - p, p, p, 1 - p}))
		if err != nil {
			return nil, fmt.Errorf("qubit %d: %w", q, err)
		}
		f.inverses[q] = inv
	}
	return f, nil
}

// Qubits returns the number of calibrated qubits.
func (f *CalibrationFilter) Qubits() int {
	return len(f.inverses)
}

// Apply solves A x = counts for qubit, clamps negative estimates to zero and
// rescales to the raw shot total.
func (f *CalibrationFilter) Apply(qubit int, counts map[string]float64) (map[string]float64, error) {
	if qubit < 0 || qubit >= len(f.inverses) {
		return nil, goerrors.New(ErrCodeMitigation, fmt.Sprintf("qubit %d is not calibrated", qubit))
	}
	total := counts["0"] + counts["1"]
	raw := mat.NewVecDense(2, []float64{counts["0"], counts["1"]})

	var est mat.VecDense
	est.MulVec(f.inverses[qubit], raw)

	c0, c1 := max(est.AtVec(0), 0), max(est.AtVec(1), 0)
	if sum := c0 + c1; sum > 0 {
		c0, c1 = c0*total/sum, c1*total/sum
	}
	return map[string]float64{"0": c0, "1": c1}, nil
}

func readoutColumn(counts map[string]int) ([2]float64, error) {
	n0, n1 := float64(counts["0"]), float64(counts["1"])
	total := n0 + n1
	if total <= 0 {
		return [2]float64{}, goerrors.New(ErrCodeMitigation, "calibration run has no shots")
	}
	return [2]float64{n0 / total, n1 / total}, nil
}

func invert(a *mat.Dense) (*mat.Dense, error) {
	var inv mat.Dense
	if err := inv.Inverse(a); err != nil {
		richErr := goerrors.Wrap(err, ErrCodeMitigation, "assignment matrix is singular")
		return nil, fmt.Errorf("%w: %w", ErrMitigation, richErr)
	}
	return &inv, nil
}

// MitigationRequest is the payload sent to an out-of-process filter plugin.
type MitigationRequest struct {
	Qubit  int                `json:"qubit"`
	Counts map[string]float64 `json:"counts"`
}

// MitigationResponse is a filter plugin's reply.
type MitigationResponse struct {
	Counts map[string]float64 `json:"counts"`
	Error  string             `json:"error,omitempty"`
}

// PluginFilter runs a filter served by a go-plugins plugin.
type PluginFilter struct {
	Manager *goplugins.Manager[MitigationRequest, MitigationResponse]
	Name    string
}

// Apply sends counts to the plugin. Transport failures and errors reported
// by the plugin both surface as ErrMitigation.
func (f PluginFilter) Apply(qubit int, counts map[string]float64) (map[string]float64, error) {
	resp, err := f.Manager.Execute(context.Background(), f.Name, MitigationRequest{Qubit: qubit, Counts: counts})
	if err != nil {
		richErr := goerrors.Wrap(err, ErrCodeMitigation, fmt.Sprintf("plugin %s", f.Name))
		return nil, fmt.Errorf("%w: %w", ErrMitigation, richErr)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("%w: plugin %s: %s", ErrMitigation, f.Name, resp.Error)
	}
	return resp.Counts, nil
}

// MitigationManager is a registry of named filters with one active filter.
// It implements MitigationFilter by delegating to the active filter, or
// passing counts through when none is selected.
type MitigationManager struct {
	mu            sync.RWMutex
	pluginManager *goplugins.Manager[MitigationRequest, MitigationResponse]
	filters       map[string]MitigationFilter
	active        string
}

// NewMitigationManager creates an empty registry. pluginManager may be nil.
func NewMitigationManager(pluginManager *goplugins.Manager[MitigationRequest, MitigationResponse]) *MitigationManager {
	return &MitigationManager{
		pluginManager: pluginManager,
		filters:       make(map[string]MitigationFilter),
	}
}

// PluginManager returns the plugin manager supplied at construction.
func (m *MitigationManager) PluginManager() *goplugins.Manager[MitigationRequest, MitigationResponse] {
	return m.pluginManager
}

// Register adds a filter under name. The first registered filter becomes
// active.
func (m *MitigationManager) Register(name string, filter MitigationFilter) error {
	if filter == nil {
		return fmt.Errorf("%w: filter %q is nil", ErrInvalidConfig, name)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.filters[name] = filter
	if m.active == "" {
		m.active = name
	}
	return nil
}

// Use selects the active filter. Names not registered locally are looked up
// on the plugin manager. An empty name disables mitigation.
func (m *MitigationManager) Use(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if name != "" {
		if _, ok := m.filters[name]; !ok {
			if m.pluginManager == nil {
				return fmt.Errorf("%w: unknown mitigation filter %q", ErrInvalidConfig, name)
			}
			if _, err := m.pluginManager.GetPlugin(name); err != nil {
				return fmt.Errorf("%w: unknown mitigation filter %q: %w", ErrInvalidConfig, name, err)
			}
			m.filters[name] = PluginFilter{Manager: m.pluginManager, Name: name}
		}
	}
	m.active = name
	return nil
}

// Active returns the active filter name, empty when mitigation is off.
func (m *MitigationManager) Active() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active
}

// Names lists the registered filters.
func (m *MitigationManager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.filters))
	for n := range m.filters {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Apply runs the active filter.
func (m *MitigationManager) Apply(qubit int, counts map[string]float64) (map[string]float64, error) {
	m.mu.RLock()
	filter := m.filters[m.active]
	m.mu.RUnlock()

	if filter == nil {
		return IdentityFilter{}.Apply(qubit, counts)
	}
	return filter.Apply(qubit, counts)
}
