// Package simservice coordinates the model library, catalog, and engine.
package simservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/epiforge/cascade/internal/apperr"
	"github.com/epiforge/cascade/internal/checksum"
	"github.com/epiforge/cascade/internal/engine"
	"github.com/epiforge/cascade/internal/framework"
	"github.com/epiforge/cascade/internal/library"
	"github.com/epiforge/cascade/internal/parset"
	"github.com/epiforge/cascade/internal/progset"
	"github.com/epiforge/cascade/internal/results"
	"github.com/epiforge/cascade/internal/scenario"
	"github.com/epiforge/cascade/internal/sse"
	"github.com/epiforge/cascade/internal/store"
	"github.com/epiforge/cascade/internal/timeseries"
)

// Defaults holds the simulation horizon used when a run request leaves the
// corresponding fields zero.
type Defaults struct {
	Start float64
	End   float64
	Dt    float64
}

// ModelDetail is the full representation of a model document.
type ModelDetail struct {
	Path            string    `json:"path"`
	Name            string    `json:"name"`
	Content         string    `json:"content"`
	Checksum        string    `json:"checksum"`
	Valid           bool      `json:"valid"`
	Error           string    `json:"error,omitempty"`
	Compartments    int       `json:"compartments"`
	Characteristics int       `json:"characteristics"`
	Parameters      int       `json:"parameters"`
	Populations     []string  `json:"populations"`
	Cascades        []string  `json:"cascades"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// SeriesInput is a time/value pair list in a run request.
type SeriesInput struct {
	T []float64 `json:"t"`
	V []float64 `json:"v"`
}

// ValueInput sets calibration data for one parameter in one population.
type ValueInput struct {
	Parameter  string  `json:"parameter"`
	Population string  `json:"population"`
	SeriesInput
	YFactor float64 `json:"y_factor,omitempty"`
}

// OverwriteInput is one scenario overwrite in a run request.
type OverwriteInput struct {
	Parameter  string    `json:"parameter"`
	Population string    `json:"population"`
	T          []float64 `json:"t"`
	V          []float64 `json:"v"`
}

// ScenarioInput describes parameter overwrites applied on top of the
// calibrated values.
type ScenarioInput struct {
	Name       string           `json:"name"`
	Onset      float64          `json:"onset,omitempty"`
	Overwrites []OverwriteInput `json:"overwrites"`
}

// ProgramInput defines one program in a run request.
type ProgramInput struct {
	Name               string      `json:"name"`
	Display            string      `json:"display,omitempty"`
	UnitCost           float64     `json:"unit_cost"`
	CapacityConstraint float64     `json:"capacity_constraint,omitempty"`
	Spending           SeriesInput `json:"spending"`
	TargetPopulations  []string    `json:"target_populations"`
	TargetCompartments []string    `json:"target_compartments,omitempty"`
	Outcomes           []struct {
		Parameter  string  `json:"parameter"`
		Population string  `json:"population"`
		Value      float64 `json:"value"`
	} `json:"outcomes"`
}

// ProgramsInput attaches a program set, and optionally a budget, capacity, or
// coverage scenario, to a run.
type ProgramsInput struct {
	Programs  []ProgramInput         `json:"programs"`
	Start     float64                `json:"start"`
	Stop      float64                `json:"stop,omitempty"`
	Kind      string                 `json:"kind,omitempty"`
	Overrides map[string]SeriesInput `json:"overrides,omitempty"`
}

// RunRequest describes one simulation run.
type RunRequest struct {
	ModelPath   string         `json:"model_path"`
	Name        string         `json:"name,omitempty"`
	Start       float64        `json:"start,omitempty"`
	End         float64        `json:"end,omitempty"`
	Dt          float64        `json:"dt,omitempty"`
	Populations []string       `json:"populations,omitempty"`
	Values      []ValueInput   `json:"values,omitempty"`
	Scenario    *ScenarioInput `json:"scenario,omitempty"`
	Programs    *ProgramsInput `json:"programs,omitempty"`
}

// RunSummary is the persisted outcome of a run.
type RunSummary struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	ModelPath   string     `json:"model_path"`
	Scenario    string     `json:"scenario,omitempty"`
	Status      string     `json:"status"`
	Error       string     `json:"error,omitempty"`
	StartYear   float64    `json:"start_year"`
	EndYear     float64    `json:"end_year"`
	Dt          float64    `json:"dt"`
	Populations []string   `json:"populations,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

// Service coordinates library and catalog operations and executes runs.
type Service struct {
	lib      library.Provider
	db       *store.DB
	broker   *sse.Broker
	log      *slog.Logger
	defaults Defaults
}

// NewService creates a new simulation service.
func NewService(lib library.Provider, db *store.DB, broker *sse.Broker, log *slog.Logger, defaults Defaults) *Service {
	return &Service{lib: lib, db: db, broker: broker, log: log, defaults: defaults}
}

// GetModel reads a model document from the library and describes it.
func (s *Service) GetModel(_ context.Context, path string) (*ModelDetail, error) {
	data, err := s.lib.Read(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, apperr.ErrNotFound
		}
		return nil, err
	}
	return s.buildModelDetail(path, data), nil
}

// CreateModel validates and writes a new model document.
func (s *Service) CreateModel(_ context.Context, path string, content []byte) (*ModelDetail, error) {
	if !library.IsModelDoc(path) {
		return nil, fmt.Errorf("%w: model documents must use a .yaml or .yml extension", apperr.ErrInvalid)
	}
	if _, err := s.lib.Read(path); err == nil {
		return nil, apperr.ErrAlreadyExists
	}
	if _, err := framework.Load(content); err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrInvalid, err)
	}
	if err := s.lib.Write(path, content); err != nil {
		return nil, err
	}
	if err := store.CatalogModel(s.db, path, content); err != nil {
		return nil, err
	}
	s.broker.PublishModelEvent("created", path)
	return s.buildModelDetail(path, content), nil
}

// UpdateModel writes updated content with optimistic concurrency.
func (s *Service) UpdateModel(_ context.Context, path string, content []byte, ifMatch string) (*ModelDetail, error) {
	existing, err := s.lib.Read(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, apperr.ErrNotFound
		}
		return nil, err
	}
	if ifMatch != "" && ifMatch != checksum.Sum(existing) {
		return nil, apperr.ErrConflict
	}
	if _, err := framework.Load(content); err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrInvalid, err)
	}
	if err := s.lib.Write(path, content); err != nil {
		return nil, err
	}
	if err := store.CatalogModel(s.db, path, content); err != nil {
		return nil, err
	}
	s.broker.PublishModelEvent("updated", path)
	return s.buildModelDetail(path, content), nil
}

// DeleteModel removes a model document from the library and catalog.
func (s *Service) DeleteModel(_ context.Context, path string) error {
	if err := s.lib.Delete(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return apperr.ErrNotFound
		}
		return err
	}
	if err := s.db.DeleteModel(path); err != nil {
		return err
	}
	s.broker.PublishModelEvent("deleted", path)
	return nil
}

// ListModels returns the cataloged model documents.
func (s *Service) ListModels(_ context.Context) ([]store.ModelRow, error) {
	return s.db.ListModels()
}

// ValidateModel checks a document without writing it. A nil error means the
// document defines a well-formed model.
func (s *Service) ValidateModel(_ context.Context, content []byte) error {
	if _, err := framework.Load(content); err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrInvalid, err)
	}
	return nil
}

// RunSimulation executes a run synchronously, persisting the result or the
// failure, and returns the run summary.
func (s *Service) RunSimulation(ctx context.Context, req RunRequest) (*RunSummary, error) {
	data, err := s.lib.Read(req.ModelPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, apperr.ErrNotFound
		}
		return nil, err
	}
	f, err := framework.Load(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrInvalid, err)
	}

	opts := engine.Options{
		Name:   req.Name,
		Start:  req.Start,
		End:    req.End,
		Dt:     req.Dt,
		Logger: s.log,
	}
	if opts.Start == 0 {
		opts.Start = s.defaults.Start
	}
	if opts.End == 0 {
		opts.End = s.defaults.End
	}
	if opts.Dt == 0 {
		opts.Dt = s.defaults.Dt
	}
	if opts.Name == "" {
		opts.Name = "run"
	}

	pops := req.Populations
	if len(pops) == 0 {
		pops = []string{"default"}
	}

	ps, err := buildParameterSet(f, pops, req.Values)
	if err != nil {
		return nil, err
	}

	scenarioName := ""
	if req.Scenario != nil {
		sc := &scenario.ParameterScenario{Name: req.Scenario.Name, Onset: req.Scenario.Onset}
		for _, o := range req.Scenario.Overwrites {
			sc.Overwrites = append(sc.Overwrites, scenario.Overwrite{
				Parameter:  o.Parameter,
				Population: o.Population,
				T:          o.T,
				V:          o.V,
			})
		}
		ps, err = sc.Apply(ps)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", apperr.ErrInvalid, err)
		}
		scenarioName = sc.Name
	}

	if req.Programs != nil {
		set, in, err := buildPrograms(req.Programs)
		if err != nil {
			return nil, err
		}
		opts.Programs = set
		opts.Instructions = in
	}

	id := uuid.NewString()
	row := store.RunRow{
		ID:        id,
		Name:      opts.Name,
		ModelPath: req.ModelPath,
		Scenario:  scenarioName,
		Status:    store.StatusRunning,
		StartYear: opts.Start,
		EndYear:   opts.End,
		Dt:        opts.Dt,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.db.InsertRun(row); err != nil {
		return nil, err
	}
	s.broker.PublishRunEvent("started", id, map[string]string{"name": opts.Name})

	res, err := engine.Run(ctx, f, ps, opts)
	if err != nil {
		if dbErr := s.db.MarkRunFailed(id, err.Error()); dbErr != nil {
			s.log.Error("marking run failed", "id", id, "error", dbErr)
		}
		s.broker.PublishRunEvent("failed", id, map[string]string{"error": err.Error()})
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", apperr.ErrInvalid, err)
	}
	if err := s.db.SaveResult(id, res); err != nil {
		if dbErr := s.db.MarkRunFailed(id, err.Error()); dbErr != nil {
			s.log.Error("marking run failed", "id", id, "error", dbErr)
		}
		s.broker.PublishRunEvent("failed", id, map[string]string{"error": err.Error()})
		return nil, err
	}
	s.broker.PublishRunEvent("completed", id, map[string]string{"name": opts.Name})

	saved, err := s.db.GetRun(id)
	if err != nil {
		return nil, err
	}
	return summarize(saved), nil
}

// GetRun returns one run summary.
func (s *Service) GetRun(_ context.Context, id string) (*RunSummary, error) {
	row, err := s.db.GetRun(id)
	if err != nil {
		return nil, err
	}
	return summarize(row), nil
}

// ListRuns returns recent run summaries.
func (s *Service) ListRuns(_ context.Context, limit, offset int) ([]RunSummary, error) {
	rows, err := s.db.ListRuns(limit, offset)
	if err != nil {
		return nil, err
	}
	out := make([]RunSummary, len(rows))
	for i := range rows {
		out[i] = *summarize(&rows[i])
	}
	return out, nil
}

// DeleteRun removes a run and its series.
func (s *Service) DeleteRun(_ context.Context, id string) error {
	if _, err := s.db.GetRun(id); err != nil {
		return err
	}
	return s.db.DeleteRun(id)
}

// RunSeries is one named series from a completed run.
type RunSeries struct {
	ID         string    `json:"id"`
	Population string    `json:"population"`
	Name       string    `json:"name"`
	T          []float64 `json:"t"`
	Values     []float64 `json:"values"`
}

// GetRunSeries returns one output series of a completed run.
func (s *Service) GetRunSeries(_ context.Context, id, pop, name string) (*RunSeries, error) {
	row, err := s.db.GetRun(id)
	if err != nil {
		return nil, err
	}
	vals, err := s.db.GetSeries(id, pop, name)
	if err != nil {
		return nil, err
	}
	return &RunSeries{ID: id, Population: pop, Name: name, T: row.T, Values: vals}, nil
}

// GetCascade evaluates a cascade of a completed run at the given year.
func (s *Service) GetCascade(_ context.Context, id, name string, pops []string, year float64) (*results.CascadeOutput, error) {
	row, err := s.db.GetRun(id)
	if err != nil {
		return nil, err
	}
	if row.Status != store.StatusCompleted {
		return nil, fmt.Errorf("%w: run %q is %s", apperr.ErrInvalid, id, row.Status)
	}
	data, err := s.lib.Read(row.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("simservice: reading model for run %q: %w", id, err)
	}
	f, err := framework.Load(data)
	if err != nil {
		return nil, fmt.Errorf("simservice: loading model for run %q: %w", id, err)
	}

	c, err := f.Cascade(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrInvalid, err)
	}
	if len(pops) == 0 {
		pops = row.Populations
	}

	// Rebuild just enough of the result to evaluate the cascade.
	res := &results.Result{
		Name:        row.Name,
		Framework:   f,
		T:           row.T,
		Dt:          row.Dt,
		Populations: row.Populations,
		Outputs:     make(map[string]*results.PopulationOutput),
	}
	for _, pop := range row.Populations {
		res.Outputs[pop] = &results.PopulationOutput{
			Characteristics: make(map[string][]float64),
		}
	}
	for _, stage := range c.Stages {
		for _, constituent := range stage.Constituents {
			for _, pop := range pops {
				vals, err := s.db.GetSeries(id, pop, constituent)
				if err != nil {
					return nil, err
				}
				res.Outputs[pop].Characteristics[constituent] = vals
			}
		}
	}
	return res.CascadeVals(name, pops, year)
}

func (s *Service) buildModelDetail(path string, data []byte) *ModelDetail {
	detail := &ModelDetail{
		Path:      path,
		Content:   string(data),
		Checksum:  checksum.Sum(data),
		UpdatedAt: time.Now().UTC(),
	}
	f, err := framework.Load(data)
	if err != nil {
		detail.Error = err.Error()
		return detail
	}
	detail.Valid = true
	detail.Name = f.Name
	detail.Compartments = len(f.Compartments)
	detail.Characteristics = len(f.Characteristics)
	detail.Parameters = len(f.Parameters)
	for _, c := range f.Cascades {
		detail.Cascades = append(detail.Cascades, c.Name)
	}
	return detail
}

func buildParameterSet(f *framework.Framework, pops []string, values []ValueInput) (*parset.ParameterSet, error) {
	ps := parset.New("default", f, pops)
	for _, v := range values {
		series, err := timeseries.New(v.T, v.V)
		if err != nil {
			return nil, fmt.Errorf("%w: parameter %q: %v", apperr.ErrInvalid, v.Parameter, err)
		}
		if err := ps.Set(v.Parameter, v.Population, series); err != nil {
			return nil, fmt.Errorf("%w: %v", apperr.ErrInvalid, err)
		}
		if v.YFactor != 0 {
			if err := ps.SetYFactor(v.Parameter, v.Population, v.YFactor); err != nil {
				return nil, fmt.Errorf("%w: %v", apperr.ErrInvalid, err)
			}
		}
	}
	return ps, nil
}

func buildPrograms(in *ProgramsInput) (*progset.ProgramSet, *progset.Instructions, error) {
	var programs []*progset.Program
	for _, p := range in.Programs {
		spending, err := timeseries.New(p.Spending.T, p.Spending.V)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: program %q spending: %v", apperr.ErrInvalid, p.Name, err)
		}
		prog := &progset.Program{
			Name:               p.Name,
			Display:            p.Display,
			UnitCost:           p.UnitCost,
			CapacityConstraint: p.CapacityConstraint,
			Spending:           spending,
			TargetPopulations:  p.TargetPopulations,
			TargetCompartments: p.TargetCompartments,
		}
		for _, o := range p.Outcomes {
			prog.Outcomes = append(prog.Outcomes, progset.Outcome{
				Parameter:  o.Parameter,
				Population: o.Population,
				Value:      o.Value,
			})
		}
		programs = append(programs, prog)
	}
	set, err := progset.New("programs", programs)
	if err != nil {
		return nil, nil, err
	}

	if in.Kind == "" {
		return set, &progset.Instructions{Start: in.Start, Stop: in.Stop}, nil
	}

	sc := scenario.ProgramScenario{
		Name:  "programs",
		Kind:  in.Kind,
		Start: in.Start,
		Stop:  in.Stop,
	}
	for name, s := range in.Overrides {
		series, err := timeseries.New(s.T, s.V)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: override for %q: %v", apperr.ErrInvalid, name, err)
		}
		if sc.Overrides == nil {
			sc.Overrides = make(map[string]*timeseries.Series)
		}
		sc.Overrides[name] = series
	}
	instr, err := sc.Instructions()
	if err != nil {
		return nil, nil, err
	}
	return set, instr, nil
}

func summarize(r *store.RunRow) *RunSummary {
	return &RunSummary{
		ID:          r.ID,
		Name:        r.Name,
		ModelPath:   r.ModelPath,
		Scenario:    r.Scenario,
		Status:      r.Status,
		Error:       r.Error,
		StartYear:   r.StartYear,
		EndYear:     r.EndYear,
		Dt:          r.Dt,
		Populations: r.Populations,
		CreatedAt:   r.CreatedAt,
		FinishedAt:  r.FinishedAt,
	}
}
