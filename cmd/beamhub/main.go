package main

import (
	"beamhub/pkg/drivers/backlight"
	"beamhub/pkg/drivers/cats"
	"beamhub/pkg/drivers/flux"
	"beamhub/pkg/drivers/simulator"
	"beamhub/pkg/drivers/supervisor"
	"beamhub/pkg/drivers/zoom"
	"beamhub/pkg/hwobj"
	"beamhub/templates"
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	cli "github.com/urfave/cli/v2"
	bolt "go.etcd.io/bbolt"
)

func run(c *cli.Context) error {
	if c.Bool("debug") {
		log.SetLevel(log.DebugLevel)
	}

	log.Info("Beamhub Server")

	tmpl, err := templates.LoadTemplates()
	if err != nil {
		return fmt.Errorf("failed to load templates: %v", err)
	}

	db, err := bolt.Open(c.String("db"), 0600, nil)
	if err != nil {
		return fmt.Errorf("failed to open database: %v", err)
	}
	defer db.Close()

	store, err := hwobj.NewStore(db)
	if err != nil {
		return fmt.Errorf("failed to create store: %v", err)
	}

	cfg, err := store.GetConfig()
	if err != nil {
		return fmt.Errorf("failed to read server config: %v", err)
	}

	emitter := hwobj.NewEmitter(16)

	// Simulated objects under number 0, real hardware under number 1
	simZoom := simulator.NewZoomSimulator(0, emitter, log.WithField("device", "sim-zoom"))
	simLight := simulator.NewBacklightSimulator(0, emitter, log.WithField("device", "sim-backlight"))
	simChanger := simulator.NewChangerSimulator(0, emitter, log.WithField("device", "sim-changer"))

	zoomDrv, err := zoom.NewDriver(1, db, emitter, tmpl, log.WithField("device", "zoom"))
	if err != nil {
		return fmt.Errorf("failed to create zoom driver: %v", err)
	}
	defer zoomDrv.Close()

	backlightDrv, err := backlight.NewDriver("Backlight", 1, db, emitter, log.WithField("device", "backlight"))
	if err != nil {
		return fmt.Errorf("failed to create backlight driver: %v", err)
	}
	defer backlightDrv.Close()

	catsDrv, err := cats.NewDriver(1, db, emitter, log.WithField("device", "cats"))
	if err != nil {
		return fmt.Errorf("failed to create sample changer driver: %v", err)
	}
	defer catsDrv.Close()

	supervisorDrv, err := supervisor.NewDriver(1, db, emitter, log.WithField("device", "supervisor"))
	if err != nil {
		return fmt.Errorf("failed to create supervisor driver: %v", err)
	}
	defer supervisorDrv.Close()

	fluxDrv, err := flux.NewDriver(1, db, emitter, log.WithField("device", "flux"))
	if err != nil {
		return fmt.Errorf("failed to create flux driver: %v", err)
	}
	defer fluxDrv.Close()

	// Sample transfers are only safe in the supervisor's transfer phase
	catsDrv.SetGuard(supervisorDrv)

	serverDesc := hwobj.ServerDescription{
		Name:     "Beamhub Server",
		Facility: "ALBA",
		Version:  "1.0",
		Beamline: cfg.Beamline,
	}

	objects := []hwobj.Object{
		simZoom,
		simLight,
		simChanger,
		zoomDrv,
		backlightDrv,
		catsDrv,
		supervisorDrv,
		fluxDrv,
	}
	server := hwobj.NewServer(serverDesc, objects, emitter, store, tmpl)

	mux := server.AddRoutes()

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", c.Int("port")),
		Handler: mux,
	}

	// Channel to listen for interrupt or terminate signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		log.Debugf("Server started on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Could not listen on %s: %v\n", srv.Addr, err)
		}
		wg.Done()
	}()

	// Create discovery responder
	discoveryLogger := log.WithField("component", "discovery")
	dr, err := hwobj.NewDiscoveryResponder("0.0.0.0", c.Int("port"), discoveryLogger)
	if err != nil {
		log.Fatalf("Failed to start discovery responder: %v", err)
	}

	wg.Add(1)
	go func() {
		if err := dr.Run(ctx); err != nil {
			log.Fatalf("Discovery responder failed: %v", err)
		}
		wg.Done()
		log.Debug("Discovery responder stopped")
	}()

	<-ctx.Done()

	log.Info("Shutting down server...")

	ctx2, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx2); err != nil {
		return fmt.Errorf("server forced to shutdown: %v", err)
	}

	wg.Wait()
	log.Info("Server stopped")
	return nil
}

func main() {
	app := cli.App{
		Name:  "Beamhub Server",
		Usage: "Beamline hardware object server",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "debug",
				Aliases: []string{"d"},
				Usage:   "Enable debug logging",
				Value:   false,
				EnvVars: []string{"DEBUG"},
			},
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to listen on",
				Value:   8090,
				EnvVars: []string{"BEAMHUB_PORT"},
			},
			&cli.StringFlag{
				Name:    "db",
				Usage:   "Path to the configuration database",
				Value:   "beamhub.db",
				EnvVars: []string{"BEAMHUB_DB"},
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("Error: %v", err)
	}

}
