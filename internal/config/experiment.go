package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/me/gotune/internal/asha"
	"github.com/me/gotune/internal/executor"
	"github.com/me/gotune/internal/sampler"
	"github.com/me/gotune/internal/scheduler"
	"github.com/me/gotune/pkg/model"
)

// Experiment is a tuning experiment as written in an experiment file.
type Experiment struct {
	Name          string         `yaml:"name"`
	Metric        string         `yaml:"metric"`
	Mode          model.Mode     `yaml:"mode"`
	NumSamples    int            `yaml:"num_samples"`
	MaxConcurrent int            `yaml:"max_concurrent"`
	Seed          uint64         `yaml:"seed"`
	Sampler       sampler.Kind   `yaml:"sampler"`
	Scheduler     SchedulerBlock `yaml:"scheduler"`
	Trainable     TrainableBlock `yaml:"trainable"`
	Space         sampler.Space  `yaml:"space"`
}

// SchedulerBlock configures the successive-halving ladders.
type SchedulerBlock struct {
	ReductionFactor float64 `yaml:"reduction_factor"`
	MinResource     int     `yaml:"min_resource"`
	MaxResource     int     `yaml:"max_resource"`
	Brackets        int     `yaml:"brackets"`
	Rungs           []int   `yaml:"rungs"`
	// Async defaults to true.
	Async *bool `yaml:"async"`
}

// TrainableBlock selects what trains a trial.
type TrainableBlock struct {
	// Kind is "command" or "curve".
	Kind    string        `yaml:"kind"`
	Command []string      `yaml:"command"`
	WorkDir string        `yaml:"work_dir"`
	Step    int           `yaml:"step"`
	Delay   time.Duration `yaml:"delay"`
}

// Load reads and validates an experiment file.
func Load(path string) (*Experiment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading experiment %s: %w", path, err)
	}
	exp, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("experiment %s: %w", path, err)
	}
	return exp, nil
}

// Parse decodes and validates an experiment document.
func Parse(data []byte) (*Experiment, error) {
	var exp Experiment
	if err := yaml.Unmarshal(data, &exp); err != nil {
		return nil, fmt.Errorf("parsing: %w", err)
	}
	if err := validate(&exp); err != nil {
		return nil, fmt.Errorf("invalid: %w", err)
	}
	return &exp, nil
}

func validate(exp *Experiment) error {
	if exp.Name == "" {
		return fmt.Errorf("name is required")
	}
	if exp.Metric == "" {
		exp.Metric = "metric"
	}
	if exp.Mode == "" {
		exp.Mode = model.ModeMax
	}
	if exp.NumSamples < 1 {
		return fmt.Errorf("num_samples must be >= 1, got %d", exp.NumSamples)
	}
	if exp.MaxConcurrent == 0 {
		exp.MaxConcurrent = 1
	}
	if exp.Sampler == "" {
		exp.Sampler = sampler.KindRandom
	}

	def := asha.DefaultConfig()
	sc := &exp.Scheduler
	if sc.ReductionFactor == 0 {
		sc.ReductionFactor = def.ReductionFactor
	}
	if sc.MinResource == 0 {
		sc.MinResource = def.MinResource
	}
	if sc.MaxResource == 0 {
		sc.MaxResource = def.MaxResource
	}
	if sc.Brackets == 0 {
		sc.Brackets = def.Brackets
	}
	if sc.Async == nil {
		async := true
		sc.Async = &async
	}
	if err := exp.Ladder().Validate(); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	if err := exp.Options("validate").Validate(); err != nil {
		return err
	}

	if err := exp.Space.Validate(); err != nil {
		return fmt.Errorf("space: %w", err)
	}
	smp, err := sampler.New(exp.Sampler, exp.Space, exp.Seed)
	if err != nil {
		return fmt.Errorf("sampler: %w", err)
	}
	// A grid cannot yield more distinct trials than it has points.
	if g, ok := smp.(*sampler.GridSampler); ok && exp.NumSamples > g.Size() {
		exp.NumSamples = g.Size()
	}

	tr := &exp.Trainable
	if tr.Kind == "" {
		tr.Kind = "command"
	}
	switch tr.Kind {
	case "command":
		if len(tr.Command) == 0 {
			return fmt.Errorf("trainable: command is required for kind command")
		}
	case "curve":
	default:
		return fmt.Errorf("trainable: unknown kind %q", tr.Kind)
	}
	if tr.Step == 0 {
		tr.Step = 1
	}
	if tr.Step < 0 || tr.Delay < 0 {
		return fmt.Errorf("trainable: step and delay must not be negative")
	}
	return nil
}

// Ladder returns the asha configuration of the experiment.
func (e *Experiment) Ladder() asha.Config {
	async := true
	if e.Scheduler.Async != nil {
		async = *e.Scheduler.Async
	}
	return asha.Config{
		ReductionFactor: e.Scheduler.ReductionFactor,
		MinResource:     e.Scheduler.MinResource,
		MaxResource:     e.Scheduler.MaxResource,
		Brackets:        e.Scheduler.Brackets,
		Rungs:           e.Scheduler.Rungs,
		Mode:            e.Mode,
		Async:           async,
	}
}

// MaxResource is the resource level at which trials complete.
func (e *Experiment) MaxResource() int {
	if n := len(e.Scheduler.Rungs); n > 0 {
		return e.Scheduler.Rungs[n-1]
	}
	return e.Scheduler.MaxResource
}

// Options returns the scheduler options of a run of the experiment.
func (e *Experiment) Options(runID string) scheduler.Options {
	return scheduler.Options{
		RunID:         runID,
		NumSamples:    e.NumSamples,
		MaxConcurrent: e.MaxConcurrent,
		Seed:          e.Seed,
		Ladder:        e.Ladder(),
	}
}

// NewSampler builds the experiment's sampler.
func (e *Experiment) NewSampler() (sampler.Sampler, error) {
	return sampler.New(e.Sampler, e.Space, e.Seed)
}

// Run returns the store record of a run of the experiment.
func (e *Experiment) Run(runID string, now time.Time) *model.Run {
	return &model.Run{
		ID:            runID,
		Name:          e.Name,
		Metric:        e.Metric,
		Mode:          e.Mode,
		NumSamples:    e.NumSamples,
		MaxConcurrent: e.MaxConcurrent,
		Seed:          e.Seed,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// NewTrainable builds the experiment's trainable. workDir overrides the
// trainable block's work_dir when set.
func (e *Experiment) NewTrainable(workDir string, logger *slog.Logger) (executor.Trainable, error) {
	tr := e.Trainable
	if workDir == "" {
		workDir = tr.WorkDir
	}
	if workDir == "" {
		workDir = e.Name
	}

	reg := executor.NewRegistry(logger)
	curve := executor.NewCurveTrainable(e.Mode, e.MaxResource(), tr.Step)
	curve.Delay = tr.Delay
	reg.Register(curve)
	if len(tr.Command) > 0 {
		reg.Register(executor.NewCommandTrainable(tr.Command, workDir, logger))
	}
	return reg.Get(tr.Kind)
}
