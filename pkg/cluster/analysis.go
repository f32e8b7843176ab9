package cluster

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Job flavors. They run the same way and differ only in which processing
// plugin the payload names.
const (
	FlavorCharacterisation = "characterisation"
	FlavorAutoproc         = "autoproc"
	FlavorRebuild          = "rebuild"
)

// CollectionParams describes one data collection, the input every analysis
// flavor starts from.
type CollectionParams struct {
	Directory    string  `yaml:"directory"`
	Prefix       string  `yaml:"prefix"`
	RunNumber    int     `yaml:"run_number"`
	FirstImage   int     `yaml:"first_image"`
	NumImages    int     `yaml:"num_images"`
	Exposure     float64 `yaml:"exposure_time"`
	Wavelength   float64 `yaml:"wavelength"`
	Resolution   float64 `yaml:"resolution"`
	Transmission float64 `yaml:"transmission"`
}

func (p CollectionParams) validate() error {
	if p.Directory == "" {
		return fmt.Errorf("collection directory is empty")
	}
	if p.Prefix == "" {
		return fmt.Errorf("collection prefix is empty")
	}
	if p.NumImages <= 0 {
		return fmt.Errorf("invalid number of images: %d", p.NumImages)
	}
	if p.Wavelength <= 0 {
		return fmt.Errorf("invalid wavelength: %g", p.Wavelength)
	}
	return nil
}

// Analysis builds and runs the data-analysis jobs.
type Analysis struct {
	cluster *Cluster
	logger  log.FieldLogger
}

func NewAnalysis(cluster *Cluster, logger log.FieldLogger) *Analysis {
	return &Analysis{
		cluster: cluster,
		logger:  logger,
	}
}

// Characterise submits a strategy-characterisation job for the collection.
func (a *Analysis) Characterise(ctx context.Context, p CollectionParams) (*Job, error) {
	spec, err := a.buildSpec(p, "strategy", "run_strategy.py", FlavorCharacterisation)
	if err != nil {
		return nil, err
	}
	return a.cluster.Submit(ctx, FlavorCharacterisation, spec)
}

// Autoprocess submits an automatic data-processing job for the collection.
func (a *Analysis) Autoprocess(ctx context.Context, p CollectionParams) (*Job, error) {
	spec, err := a.buildSpec(p, "autoproc", "run_autoproc.py", FlavorAutoproc)
	if err != nil {
		return nil, err
	}
	return a.cluster.Submit(ctx, FlavorAutoproc, spec)
}

// Rebuild resubmits processing for an already collected dataset.
func (a *Analysis) Rebuild(ctx context.Context, p CollectionParams) (*Job, error) {
	spec, err := a.buildSpec(p, "autoproc", "run_rebuild.py", FlavorRebuild)
	if err != nil {
		return nil, err
	}
	return a.cluster.Submit(ctx, FlavorRebuild, spec)
}

// Run drives a submitted job to completion and returns the result file path.
func (a *Analysis) Run(ctx context.Context, job *Job) (string, error) {
	state, err := a.cluster.WaitDone(ctx, job)
	if err != nil {
		return "", err
	}
	if state != StateCompleted {
		return "", fmt.Errorf("job %s ended in state %s", job.Name, state)
	}

	return a.cluster.WaitResult(ctx, job)
}

// buildSpec writes the flavor's input file next to the collection and
// assembles the job payload.
func (a *Analysis) buildSpec(p CollectionParams, plugin, script, flavor string) (Spec, error) {
	if err := p.validate(); err != nil {
		return Spec{}, err
	}

	input, err := yaml.Marshal(p)
	if err != nil {
		return Spec{}, fmt.Errorf("failed to marshal collection params: %v", err)
	}

	inputPath := filepath.Join(p.Directory, fmt.Sprintf("%s_%d_%s_input.yaml", p.Prefix, p.RunNumber, flavor))
	if err := os.WriteFile(inputPath, input, 0644); err != nil {
		return Spec{}, fmt.Errorf("failed to write input file: %v", err)
	}

	outputDir := filepath.Join(p.Directory, "process", flavor)

	return Spec{
		Plugin:     plugin,
		Script:     script,
		InputFile:  inputPath,
		OutputDir:  outputDir,
		ResultFile: flavor + "_result.yaml",
		Params: map[string]string{
			"prefix": p.Prefix,
			"run":    strconv.Itoa(p.RunNumber),
		},
	}, nil
}
