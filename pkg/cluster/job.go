// Package cluster submits analysis jobs to the facility batch cluster and
// tracks them to completion.
package cluster

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// State is the scheduler's job state string. The scheduler may report states
// beyond the known set; anything terminal that is not COMPLETED counts as a
// failure.
type State string

const (
	StateUnknown   State = ""
	StatePending   State = "PENDING"
	StateRunning   State = "RUNNING"
	StateCompleted State = "COMPLETED"
)

// Terminal reports whether the job has left the scheduler's active states.
func (s State) Terminal() bool {
	return s != StateUnknown && s != StatePending && s != StateRunning
}

var ErrJobTimeout = errors.New("timed out waiting for job completion")

// Spec is the job payload written as YAML and handed to the scheduler.
type Spec struct {
	Name       string            `yaml:"name"`
	Queue      string            `yaml:"queue"`
	Plugin     string            `yaml:"plugin"`
	Script     string            `yaml:"script,omitempty"`
	InputFile  string            `yaml:"input_file,omitempty"`
	OutputDir  string            `yaml:"output_dir"`
	ResultFile string            `yaml:"result_file,omitempty"`
	Params     map[string]string `yaml:"params,omitempty"`
}

// Job is one submitted unit of batch work.
type Job struct {
	Name        string
	Flavor      string
	Spec        Spec
	PayloadPath string
	ResultPath  string

	state State
}

func (j *Job) State() State {
	return j.state
}

type Config struct {
	SchedulerURL string
	Queue        string
	JobsDir      string
	LedgerPath   string

	PollPeriod time.Duration // state poll cadence, default 500 ms
	MaxWait    time.Duration // hard bound on WaitDone, default 4 h
	ResultWait time.Duration // bound on result-file appearance, default 30 s
}

// Cluster is the job-submission client.
type Cluster struct {
	sched  *schedulerClient
	ledger *Ledger
	config Config
	logger log.FieldLogger
}

func New(cfg Config, logger log.FieldLogger) (*Cluster, error) {
	if cfg.PollPeriod <= 0 {
		cfg.PollPeriod = 500 * time.Millisecond
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = 4 * time.Hour
	}
	if cfg.ResultWait <= 0 {
		cfg.ResultWait = 30 * time.Second
	}

	if err := os.MkdirAll(cfg.JobsDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create jobs directory: %v", err)
	}

	ledger, err := OpenLedger(cfg.LedgerPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open job ledger: %v", err)
	}

	return &Cluster{
		sched:  newSchedulerClient(cfg.SchedulerURL, logger),
		ledger: ledger,
		config: cfg,
		logger: logger,
	}, nil
}

func (c *Cluster) Close() error {
	return c.ledger.Close()
}

// Submit writes the job payload file and hands the job to the scheduler.
func (c *Cluster) Submit(ctx context.Context, flavor string, spec Spec) (*Job, error) {
	name := fmt.Sprintf("%s-%s", flavor, uuid.NewString()[:8])
	spec.Name = name
	if spec.Queue == "" {
		spec.Queue = c.config.Queue
	}

	payload, err := yaml.Marshal(spec)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job payload: %v", err)
	}

	payloadPath := filepath.Join(c.config.JobsDir, name+".yaml")
	if err := os.WriteFile(payloadPath, payload, 0644); err != nil {
		return nil, fmt.Errorf("failed to write job payload: %v", err)
	}

	if _, err := c.sched.submit(ctx, submitRequest{
		Name:        name,
		Queue:       spec.Queue,
		PayloadPath: payloadPath,
	}); err != nil {
		return nil, err
	}

	if err := c.ledger.Record(name, flavor); err != nil {
		c.logger.Errorf("Failed to record job %s in ledger: %v", name, err)
	}

	job := Job{
		Name:        name,
		Flavor:      flavor,
		Spec:        spec,
		PayloadPath: payloadPath,
		state:       StatePending,
	}
	if spec.OutputDir != "" && spec.ResultFile != "" {
		job.ResultPath = filepath.Join(spec.OutputDir, spec.ResultFile)
	}

	return &job, nil
}

// State queries the scheduler for the job's current state.
func (c *Cluster) State(ctx context.Context, job *Job) (State, error) {
	state, err := c.sched.state(ctx, job.Name)
	if err != nil {
		return StateUnknown, err
	}
	job.state = state
	return state, nil
}

// Cancel asks the scheduler to drop the job.
func (c *Cluster) Cancel(ctx context.Context, job *Job) error {
	return c.sched.cancel(ctx, job.Name)
}

// WaitDone polls the job state until it leaves {PENDING, RUNNING}. The wait
// is bounded by the context and the configured maximum; it always terminates.
func (c *Cluster) WaitDone(ctx context.Context, job *Job) (State, error) {
	deadline := time.Now().Add(c.config.MaxWait)

	ticker := time.NewTicker(c.config.PollPeriod)
	defer ticker.Stop()

	last := job.state
	for {
		select {
		case <-ctx.Done():
			c.setDone(job.Name, last, "wait cancelled")
			return last, ctx.Err()

		case <-ticker.C:
			if time.Now().After(deadline) {
				c.setDone(job.Name, last, ErrJobTimeout.Error())
				return last, ErrJobTimeout
			}

			state, err := c.sched.state(ctx, job.Name)
			if err != nil {
				// Transient scheduler hiccups do not fail the wait.
				c.logger.Warnf("Failed to poll job %s: %v", job.Name, err)
				continue
			}

			if state != last {
				c.logger.Infof("Job %s: %s -> %s", job.Name, last, state)
				last = state
				job.state = state
				if err := c.ledger.UpdateState(job.Name, state); err != nil {
					c.logger.Errorf("Failed to update job %s state in ledger: %v", job.Name, err)
				}
			}

			if state.Terminal() {
				errMsg := ""
				if state != StateCompleted {
					errMsg = fmt.Sprintf("job ended in state %s", state)
				}
				c.setDone(job.Name, state, errMsg)
				return state, nil
			}
		}
	}
}

// setDone marks the job done in the ledger. Ledger trouble must not fail a
// finished wait, so the error is only logged.
func (c *Cluster) setDone(name string, state State, errMsg string) {
	if err := c.ledger.SetDone(name, state, errMsg); err != nil {
		c.logger.Errorf("Failed to mark job %s done in ledger: %v", name, err)
	}
}

// WaitResult waits for the job's result file to appear. The filesystem can
// lag the scheduler state, so a completed job gets a bounded grace period.
func (c *Cluster) WaitResult(ctx context.Context, job *Job) (string, error) {
	if job.ResultPath == "" {
		return "", fmt.Errorf("job %s has no result file", job.Name)
	}

	deadline := time.Now().Add(c.config.ResultWait)
	for {
		if _, err := os.Stat(job.ResultPath); err == nil {
			return job.ResultPath, nil
		}

		if time.Now().After(deadline) {
			return "", fmt.Errorf("result file %s did not appear", job.ResultPath)
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(c.config.PollPeriod):
		}
	}
}

// Jobs lists the ledger entries, newest first.
func (c *Cluster) Jobs() ([]Entry, error) {
	return c.ledger.List()
}

// Lookup returns the ledger entry for a job name.
func (c *Cluster) Lookup(name string) (Entry, error) {
	return c.ledger.Get(name)
}
