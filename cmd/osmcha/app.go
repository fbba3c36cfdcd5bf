package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/osmcha/osmcha/analyser"
	"github.com/osmcha/osmcha/api"
	"github.com/osmcha/osmcha/config"
	"github.com/osmcha/osmcha/deadletter"
	"github.com/osmcha/osmcha/geo"
	"github.com/osmcha/osmcha/ingest"
	"github.com/osmcha/osmcha/integrations"
	"github.com/osmcha/osmcha/log"
	"github.com/osmcha/osmcha/osm"
	"github.com/osmcha/osmcha/review"
	"github.com/osmcha/osmcha/store"
)

// app bundles the wired components of one process.
type app struct {
	store    *store.Store
	ingestor *ingest.Ingestor
	server   *api.Server
	deadLog  *deadletter.Log
	sweepAge time.Duration
	bind     string
}

func setup(opts config.Base) *app {
	if opts.Quiet {
		log.SetMinLevel(log.LWarn)
	}

	st, err := store.Open(opts.Connection)
	if err != nil {
		log.Fatalf("opening store: %s", err)
	}
	if err := st.Init(); err != nil {
		log.Fatalf("initializing schema: %s", err)
	}

	client := osm.NewClient(opts.OSMAPIURL, opts.ReplicationURL, opts.UserAgent)

	var limiter *geo.Limiter
	if opts.AreaFilter != "" {
		finish := log.Step("Reading area filter geometries")
		limiter, err = geo.LimiterFromGeoJSON(opts.AreaFilter)
		if err != nil {
			log.Fatalf("reading area filter: %s", err)
		}
		finish()
	}

	var deadLog *deadletter.Log
	if opts.DeadLetterDir != "" {
		deadLog, err = deadletter.Open(opts.DeadLetterDir)
		if err != nil {
			log.Fatalf("opening dead-letter log: %s", err)
		}
	}

	ingestor := ingest.New(client, st, analyser.New(analyser.DefaultRules()), limiter, deadLog, ingest.Options{
		Workers:       opts.Workers,
		MaxSeqPerTick: opts.MaxSeqPerTick,
		TickInterval:  opts.TickInterval.Duration,
	})

	commenter := integrations.NewCommenter(client, st, opts.FrontendURL, opts.EnableComments)
	forwarder := integrations.NewTaskForwarder(opts.MapRouletteURL, opts.MapRouletteAPIKey, st)
	engine := review.New(st, opts.ReviewsPerMinute, commenter)

	server := api.NewServer(st, engine, commenter, forwarder, api.Options{
		DefaultPageSize: opts.PageSize,
		MaxPageSize:     opts.MaxPageSize,
	})

	return &app{
		store:    st,
		ingestor: ingestor,
		server:   server,
		deadLog:  deadLog,
		sweepAge: time.Duration(opts.SweepAgeDays) * 24 * time.Hour,
		bind:     opts.Bind,
	}
}

func (a *app) close() {
	if a.deadLog != nil {
		if err := a.deadLog.Close(); err != nil {
			log.Errorf("closing dead-letter log: %s", err)
		}
	}
	if err := a.store.Close(); err != nil {
		log.Errorf("closing store: %s", err)
	}
}

// run starts the replication loop, the periodic sweep and, unless
// disabled, the HTTP API, until SIGTERM or SIGINT.
func run(opts config.Run) {
	a := setup(opts.Base)
	defer a.close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 3)
	go func() {
		done <- a.ingestor.Run(ctx)
	}()
	go func() {
		a.sweepLoop(ctx)
		done <- nil
	}()

	var httpServer *http.Server
	if !opts.NoAPI {
		httpServer = &http.Server{Addr: a.bind, Handler: a.server.Router()}
		go func() {
			log.Infof("listening on %s", a.bind)
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				done <- err
			}
		}()
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGTERM, syscall.SIGINT)
	select {
	case sig := <-sigc:
		log.Infof("received %s, shutting down", sig)
	case err := <-done:
		if err != nil {
			log.Errorf("%s", err)
		}
	}
	cancel()
	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Errorf("shutting down http server: %s", err)
		}
	}
}

// sweepLoop deletes stale unchecked changesets once a day.
func (a *app) sweepLoop(ctx context.Context) {
	if a.sweepAge <= 0 {
		return
	}
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.sweep(ctx)
		}
	}
}

func (a *app) sweep(ctx context.Context) {
	n, err := a.store.Sweep(ctx, time.Now().Add(-a.sweepAge))
	if err != nil {
		log.Errorf("sweep: %s", err)
		return
	}
	log.Infof("sweep removed %d changesets", n)
}

// serve runs the HTTP API without the replication loop.
func serve(opts config.Run) {
	a := setup(opts.Base)
	defer a.close()

	httpServer := &http.Server{Addr: a.bind, Handler: a.server.Router()}
	go func() {
		sigc := make(chan os.Signal, 1)
		signal.Notify(sigc, syscall.SIGTERM, syscall.SIGINT)
		sig := <-sigc
		log.Infof("received %s, shutting down", sig)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Errorf("shutting down http server: %s", err)
		}
	}()
	log.Infof("listening on %s", a.bind)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("http server: %s", err)
	}
}

// fetch imports an explicit range of replication sequences.
func fetch(opts config.Fetch) {
	a := setup(opts.Base)
	defer a.close()

	ctx := signalContext()
	if err := a.ingestor.ImportReplications(ctx, opts.Start, opts.End); err != nil {
		log.Fatalf("fetch: %s", err)
	}
}

// backfill ingests missing changesets in a date range.
func backfill(opts config.Backfill) {
	a := setup(opts.Base)
	defer a.close()

	start, err := time.Parse("2006-01-02", opts.StartDate)
	if err != nil {
		log.Fatalf("invalid start date: %s", err)
	}
	end, err := time.Parse("2006-01-02", opts.EndDate)
	if err != nil {
		log.Fatalf("invalid end date: %s", err)
	}

	ctx := signalContext()
	if err := a.ingestor.Backfill(ctx, start, end.Add(24*time.Hour)); err != nil {
		log.Fatalf("backfill: %s", err)
	}
}

// requeue reingests all dead-letter entries.
func requeue(opts config.Base) {
	a := setup(opts)
	defer a.close()
	if err := a.ingestor.RetryDeadLetters(signalContext()); err != nil {
		log.Fatalf("requeue: %s", err)
	}
}

// sweepOnce runs a single sweep and exits.
func sweepOnce(opts config.Base) {
	a := setup(opts)
	defer a.close()
	a.sweep(signalContext())
}

func signalContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-sigc
		cancel()
	}()
	return ctx
}
