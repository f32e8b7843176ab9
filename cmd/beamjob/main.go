package main

import (
	"beamhub/pkg/cluster"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	cli "github.com/urfave/cli/v2"
)

func newCluster(c *cli.Context) (*cluster.Cluster, error) {
	if c.Bool("debug") {
		log.SetLevel(log.DebugLevel)
	}

	return cluster.New(cluster.Config{
		SchedulerURL: c.String("scheduler"),
		Queue:        c.String("queue"),
		JobsDir:      c.String("jobs-dir"),
		LedgerPath:   c.String("ledger"),
	}, log.StandardLogger())
}

func params(c *cli.Context) cluster.CollectionParams {
	return cluster.CollectionParams{
		Directory:  c.String("directory"),
		Prefix:     c.String("prefix"),
		RunNumber:  c.Int("run"),
		FirstImage: 1,
		NumImages:  c.Int("images"),
		Wavelength: c.Float64("wavelength"),
	}
}

func submit(c *cli.Context) error {
	cl, err := newCluster(c)
	if err != nil {
		return err
	}
	defer cl.Close()

	analysis := cluster.NewAnalysis(cl, log.StandardLogger())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var job *cluster.Job
	switch flavor := c.String("flavor"); flavor {
	case cluster.FlavorCharacterisation:
		job, err = analysis.Characterise(ctx, params(c))
	case cluster.FlavorAutoproc:
		job, err = analysis.Autoprocess(ctx, params(c))
	case cluster.FlavorRebuild:
		job, err = analysis.Rebuild(ctx, params(c))
	default:
		return fmt.Errorf("unknown flavor: %s", flavor)
	}
	if err != nil {
		return err
	}

	if !c.Bool("wait") {
		fmt.Println(job.Name)
		return nil
	}

	result, err := analysis.Run(ctx, job)
	if err != nil {
		return err
	}

	fmt.Println(result)
	return nil
}

func state(c *cli.Context) error {
	cl, err := newCluster(c)
	if err != nil {
		return err
	}
	defer cl.Close()

	entry, err := cl.Lookup(c.Args().First())
	if err != nil {
		return err
	}

	fmt.Printf("%s\t%s\t%s\t%s\n", entry.Name, entry.Flavor, entry.State, entry.SubmittedAt)
	if entry.Error != "" {
		fmt.Printf("error: %s\n", entry.Error)
	}
	return nil
}

func cancel(c *cli.Context) error {
	cl, err := newCluster(c)
	if err != nil {
		return err
	}
	defer cl.Close()

	name := c.Args().First()
	if name == "" {
		return fmt.Errorf("missing job name")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return cl.Cancel(ctx, &cluster.Job{Name: name})
}

func list(c *cli.Context) error {
	cl, err := newCluster(c)
	if err != nil {
		return err
	}
	defer cl.Close()

	entries, err := cl.Jobs()
	if err != nil {
		return err
	}

	for _, e := range entries {
		fmt.Printf("%s\t%s\t%s\t%s\n", e.Name, e.Flavor, e.State, e.SubmittedAt)
	}
	return nil
}

func main() {
	app := cli.App{
		Name:  "beamjob",
		Usage: "Submit and track beamline analysis jobs",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "debug",
				Aliases: []string{"d"},
				Usage:   "Enable debug logging",
				EnvVars: []string{"DEBUG"},
			},
			&cli.StringFlag{
				Name:    "scheduler",
				Usage:   "Scheduler base URL",
				Value:   "http://localhost:8500",
				EnvVars: []string{"BEAMJOB_SCHEDULER"},
			},
			&cli.StringFlag{
				Name:    "queue",
				Usage:   "Scheduler queue",
				Value:   "mx",
				EnvVars: []string{"BEAMJOB_QUEUE"},
			},
			&cli.StringFlag{
				Name:    "jobs-dir",
				Usage:   "Directory for job payload files",
				Value:   "jobs",
				EnvVars: []string{"BEAMJOB_JOBS_DIR"},
			},
			&cli.StringFlag{
				Name:    "ledger",
				Usage:   "Path to the job ledger database",
				Value:   "beamjob.sqlite3",
				EnvVars: []string{"BEAMJOB_LEDGER"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "submit",
				Usage: "Submit an analysis job for a collection",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "flavor",
						Usage: "Analysis flavor: characterisation, autoproc or rebuild",
						Value: cluster.FlavorAutoproc,
					},
					&cli.StringFlag{Name: "directory", Usage: "Collection directory", Required: true},
					&cli.StringFlag{Name: "prefix", Usage: "Image prefix", Required: true},
					&cli.IntFlag{Name: "run", Usage: "Run number", Value: 1},
					&cli.IntFlag{Name: "images", Usage: "Number of images", Value: 1},
					&cli.Float64Flag{Name: "wavelength", Usage: "Wavelength in angstrom", Value: 0.9793},
					&cli.BoolFlag{Name: "wait", Usage: "Wait for completion and print the result path"},
				},
				Action: submit,
			},
			{
				Name:      "state",
				Usage:     "Show one job from the ledger",
				ArgsUsage: "<job name>",
				Action:    state,
			},
			{
				Name:      "cancel",
				Usage:     "Ask the scheduler to drop a job",
				ArgsUsage: "<job name>",
				Action:    cancel,
			},
			{
				Name:   "list",
				Usage:  "List submitted jobs, newest first",
				Action: list,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("Error: %v", err)
	}
}
