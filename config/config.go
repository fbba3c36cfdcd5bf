package config

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"
)

// Config holds the settings shared by all subcommands. Values can be
// set in a JSON config file and overridden by command line flags.
type Config struct {
	Connection        string  `json:"connection"`
	ReplicationURL    string  `json:"replication_url"`
	OSMAPIURL         string  `json:"osm_api_url"`
	UserAgent         string  `json:"user_agent"`
	AreaFilter        string  `json:"area_filter"`
	FrontendURL       string  `json:"frontend_url"`
	EnableComments    bool    `json:"enable_comments"`
	MapRouletteURL    string  `json:"maproulette_url"`
	MapRouletteAPIKey string  `json:"maproulette_api_key"`
	ReviewsPerMinute  int     `json:"reviews_per_minute"`
	SweepAgeDays      int     `json:"sweep_age_days"`
	PageSize          int     `json:"page_size"`
	MaxPageSize       int     `json:"max_page_size"`
	Bind              string  `json:"bind"`
	Workers           int     `json:"workers"`
	DeadLetterDir     string  `json:"deadletter_dir"`
	TickInterval      jsonDur `json:"tick_interval"`
	MaxSeqPerTick     int     `json:"max_sequences_per_tick"`
}

type jsonDur struct {
	time.Duration
}

func (d *jsonDur) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = dur
	return nil
}

const (
	defaultReplicationURL = "https://planet.openstreetmap.org/replication/changesets/"
	defaultOSMAPIURL      = "https://www.openstreetmap.org/api/0.6/"
	defaultFrontendURL    = "https://osmcha.org"
	defaultUserAgent      = "osmcha"
	defaultReviewRate     = 3
	defaultSweepAgeDays   = 180
	defaultPageSize       = 50
	defaultMaxPageSize    = 500
	defaultBind           = ":8000"
	defaultWorkers        = 4
	defaultDeadLetterDir  = "/tmp/osmcha-deadletter"
	defaultMaxSeqPerTick  = 1000
)

type Base struct {
	Config
	ConfigFile string
	Quiet      bool
}

type Run struct {
	Base
	NoAPI bool
}

type Fetch struct {
	Base
	Start int
	End   int
}

type Backfill struct {
	Base
	StartDate string
	EndDate   string
}

func (b *Base) updateFromConfig() error {
	conf := Config{
		ReplicationURL:   defaultReplicationURL,
		OSMAPIURL:        defaultOSMAPIURL,
		FrontendURL:      defaultFrontendURL,
		UserAgent:        defaultUserAgent,
		ReviewsPerMinute: defaultReviewRate,
		SweepAgeDays:     defaultSweepAgeDays,
		PageSize:         defaultPageSize,
		MaxPageSize:      defaultMaxPageSize,
		Bind:             defaultBind,
		Workers:          defaultWorkers,
		DeadLetterDir:    defaultDeadLetterDir,
		MaxSeqPerTick:    defaultMaxSeqPerTick,
		TickInterval:     jsonDur{60 * time.Second},
	}

	if b.ConfigFile != "" {
		f, err := os.Open(b.ConfigFile)
		if err != nil {
			return err
		}
		defer f.Close()
		if err := json.NewDecoder(f).Decode(&conf); err != nil {
			return err
		}
	}

	// flags win over the config file
	if b.Connection == "" {
		b.Connection = conf.Connection
	}
	if b.ReplicationURL == defaultReplicationURL || b.ReplicationURL == "" {
		b.ReplicationURL = conf.ReplicationURL
	}
	if b.OSMAPIURL == defaultOSMAPIURL || b.OSMAPIURL == "" {
		b.OSMAPIURL = conf.OSMAPIURL
	}
	if b.AreaFilter == "" {
		b.AreaFilter = conf.AreaFilter
	}
	if b.Bind == defaultBind {
		b.Bind = conf.Bind
	}
	b.UserAgent = conf.UserAgent
	b.FrontendURL = conf.FrontendURL
	b.EnableComments = conf.EnableComments
	b.MapRouletteURL = conf.MapRouletteURL
	b.MapRouletteAPIKey = conf.MapRouletteAPIKey
	b.ReviewsPerMinute = conf.ReviewsPerMinute
	b.SweepAgeDays = conf.SweepAgeDays
	b.PageSize = conf.PageSize
	b.MaxPageSize = conf.MaxPageSize
	b.Workers = conf.Workers
	b.DeadLetterDir = conf.DeadLetterDir
	b.MaxSeqPerTick = conf.MaxSeqPerTick
	b.TickInterval = conf.TickInterval
	return nil
}

func (b *Base) check() []error {
	errs := []error{}
	if b.Connection == "" {
		errs = append(errs, errors.New("missing connection"))
	}
	if b.ReviewsPerMinute <= 0 {
		errs = append(errs, errors.New("reviews_per_minute must be positive"))
	}
	if b.PageSize <= 0 || b.MaxPageSize < b.PageSize {
		errs = append(errs, errors.New("invalid page size settings"))
	}
	return errs
}

var RunFlags = flag.NewFlagSet("run", flag.ExitOnError)
var ServeFlags = flag.NewFlagSet("serve", flag.ExitOnError)
var FetchFlags = flag.NewFlagSet("fetch", flag.ExitOnError)
var BackfillFlags = flag.NewFlagSet("backfill", flag.ExitOnError)
var SweepFlags = flag.NewFlagSet("sweep", flag.ExitOnError)
var RequeueFlags = flag.NewFlagSet("requeue", flag.ExitOnError)

var RunOptions = Run{}
var FetchOptions = Fetch{}
var BackfillOptions = Backfill{}

func addBaseFlags(opts *Base, flags *flag.FlagSet) {
	flags.StringVar(&opts.Connection, "connection", "", "postgres connection parameters")
	flags.StringVar(&opts.ConfigFile, "config", "", "config (json)")
	flags.StringVar(&opts.ReplicationURL, "replication-url", defaultReplicationURL, "changeset replication base URL")
	flags.StringVar(&opts.OSMAPIURL, "api-url", defaultOSMAPIURL, "OSM API base URL")
	flags.StringVar(&opts.AreaFilter, "area-filter", "", "GeoJSON file to limit imports to an area")
	flags.StringVar(&opts.Bind, "bind", defaultBind, "bind address for the HTTP API")
	flags.BoolVar(&opts.Quiet, "quiet", false, "quiet log output")
}

func init() {
	addBaseFlags(&RunOptions.Base, RunFlags)
	RunFlags.BoolVar(&RunOptions.NoAPI, "no-api", false, "run the import loop without the HTTP API")
	addBaseFlags(&RunOptions.Base, ServeFlags)
	addBaseFlags(&FetchOptions.Base, FetchFlags)
	FetchFlags.IntVar(&FetchOptions.Start, "start", 0, "first replication sequence")
	FetchFlags.IntVar(&FetchOptions.End, "end", 0, "last replication sequence")
	addBaseFlags(&BackfillOptions.Base, BackfillFlags)
	BackfillFlags.StringVar(&BackfillOptions.StartDate, "start", "", "start date (YYYY-MM-DD)")
	BackfillFlags.StringVar(&BackfillOptions.EndDate, "end", "", "end date (YYYY-MM-DD)")
	addBaseFlags(&BackfillOptions.Base, SweepFlags)
	addBaseFlags(&BackfillOptions.Base, RequeueFlags)
}

func usage(flags *flag.FlagSet) {
	fmt.Fprintf(os.Stderr, "Usage: %s %s [args]\n\n", os.Args[0], flags.Name())
	flags.PrintDefaults()
	os.Exit(2)
}

func parse(opts *Base, flags *flag.FlagSet, args []string) {
	if err := flags.Parse(args); err != nil {
		log.Fatal(err)
	}
	if err := opts.updateFromConfig(); err != nil {
		log.Fatal(err)
	}
	if errs := opts.check(); len(errs) != 0 {
		reportErrors(errs)
		usage(flags)
	}
}

func ParseRun(args []string) Run {
	parse(&RunOptions.Base, RunFlags, args)
	return RunOptions
}

func ParseServe(args []string) Run {
	parse(&RunOptions.Base, ServeFlags, args)
	RunOptions.NoAPI = false
	return RunOptions
}

func ParseFetch(args []string) Fetch {
	parse(&FetchOptions.Base, FetchFlags, args)
	if FetchOptions.Start <= 0 || FetchOptions.End < FetchOptions.Start {
		reportErrors([]error{errors.New("invalid -start/-end sequence range")})
		usage(FetchFlags)
	}
	return FetchOptions
}

func ParseBackfill(args []string) Backfill {
	parse(&BackfillOptions.Base, BackfillFlags, args)
	if BackfillOptions.StartDate == "" || BackfillOptions.EndDate == "" {
		reportErrors([]error{errors.New("missing -start/-end date")})
		usage(BackfillFlags)
	}
	return BackfillOptions
}

func ParseSweep(args []string) Base {
	parse(&BackfillOptions.Base, SweepFlags, args)
	return BackfillOptions.Base
}

func ParseRequeue(args []string) Base {
	parse(&BackfillOptions.Base, RequeueFlags, args)
	return BackfillOptions.Base
}

func reportErrors(errs []error) {
	fmt.Println("errors in config/options:")
	for _, err := range errs {
		fmt.Printf("\t%s\n", err)
	}
	os.Exit(1)
}
