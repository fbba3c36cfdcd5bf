// Package ingest keeps the local changeset table caught up with the
// OSM replication stream and turns raw changesets into analysed
// records.
package ingest

import (
	"context"
	"sync"
	"time"

	osmparser "github.com/omniscale/go-osm"
	"github.com/pkg/errors"

	"github.com/osmcha/osmcha/analyser"
	"github.com/osmcha/osmcha/deadletter"
	"github.com/osmcha/osmcha/errs"
	"github.com/osmcha/osmcha/geo"
	"github.com/osmcha/osmcha/log"
	"github.com/osmcha/osmcha/osm"
	"github.com/osmcha/osmcha/store"
)

type Options struct {
	// Workers is the number of concurrent changeset fetchers.
	Workers int
	// MaxSeqPerTick caps how many replication files one tick
	// processes, so a long downtime does not turn into a runaway
	// catch-up.
	MaxSeqPerTick int
	TickInterval  time.Duration
	// MaxAttempts bounds the retries of one changeset before it
	// goes to the dead-letter log.
	MaxAttempts  int
	RetryBackoff time.Duration
}

func (o *Options) setDefaults() {
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.MaxSeqPerTick <= 0 {
		o.MaxSeqPerTick = 1000
	}
	if o.TickInterval <= 0 {
		o.TickInterval = time.Minute
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 5
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = 2 * time.Second
	}
}

type Ingestor struct {
	client   *osm.Client
	store    *store.Store
	analyser *analyser.Analyser
	limiter  *geo.Limiter
	deadLog  *deadletter.Log
	opts     Options
}

// New creates an ingestor. limiter and deadLog may be nil.
func New(client *osm.Client, st *store.Store, an *analyser.Analyser, limiter *geo.Limiter, deadLog *deadletter.Log, opts Options) *Ingestor {
	opts.setDefaults()
	return &Ingestor{
		client:   client,
		store:    st,
		analyser: an,
		limiter:  limiter,
		deadLog:  deadLog,
		opts:     opts,
	}
}

// Run ticks until the context is cancelled. An immediate first tick
// starts the catch-up without waiting a full interval.
func (i *Ingestor) Run(ctx context.Context) error {
	ticker := time.NewTicker(i.opts.TickInterval)
	defer ticker.Stop()
	for {
		if err := i.Tick(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Errorf("replication tick: %s", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Tick imports the next window of replication sequences. The import
// cursor only advances after the whole window was processed, so a
// crash mid-window is retried from the window start.
func (i *Ingestor) Tick(ctx context.Context) error {
	last, err := i.store.LastImportedSequence(ctx)
	if err != nil {
		return err
	}
	latest, err := i.client.LatestSequence(ctx)
	if err != nil {
		return err
	}
	if last == 0 {
		// first run, start from the current head
		log.Infof("initializing import cursor at sequence %d", latest)
		return i.store.RecordImportWindow(ctx, latest, latest)
	}
	if latest <= last {
		return nil
	}
	start := last + 1
	end := latest
	if end > last+i.opts.MaxSeqPerTick {
		end = last + i.opts.MaxSeqPerTick
	}
	if err := i.ImportReplications(ctx, start, end); err != nil {
		return err
	}
	return i.store.RecordImportWindow(ctx, start, end)
}

// ImportReplications downloads the replication files of [start, end]
// and ingests every changeset that passes the area filter.
func (i *Ingestor) ImportReplications(ctx context.Context, start, end int) error {
	defer log.Step(logStepName(start, end))()

	ids := make(chan int64, 64)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	wg := sync.WaitGroup{}
	for w := 0; w < i.opts.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range ids {
				i.ingestOne(ctx, id)
			}
		}()
	}

	var filterErr error
	for seq := start; seq <= end; seq++ {
		if err := i.FilterFile(ctx, seq, ids); err != nil {
			if errs.Is(err, errs.KindNotFound) {
				// gap in the replication stream, skip
				log.Warnf("replication file %d missing, skipping", seq)
				continue
			}
			filterErr = errors.Wrapf(err, "replication file %d", seq)
			break
		}
	}
	close(ids)
	wg.Wait()
	return filterErr
}

func logStepName(start, end int) string {
	if start == end {
		return "Importing replication sequence " + osm.SequencePath(start)
	}
	return "Importing replication sequences " + osm.SequencePath(start) + " to " + osm.SequencePath(end)
}

// FilterFile streams one replication file and forwards the ids of
// changesets inside the configured area.
func (i *Ingestor) FilterFile(ctx context.Context, seq int, ids chan<- int64) error {
	return i.client.FetchReplication(ctx, seq, func(ch osmparser.Changeset) error {
		if i.limiter != nil {
			bounds := geo.BoundsFromExtent(ch.MaxExtent)
			if bounds.IsNil() || !i.limiter.IntersectsBounds(bounds) {
				return nil
			}
		}
		select {
		case ids <- ch.ID:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
}

// ingestOne runs CreateChangeset with retries; persistent failures
// go to the dead-letter log instead of stalling the pipeline.
func (i *Ingestor) ingestOne(ctx context.Context, id int64) {
	backoff := i.opts.RetryBackoff
	var err error
	attempt := 1
	for ; attempt <= i.opts.MaxAttempts; attempt++ {
		err = i.CreateChangeset(ctx, id)
		if err == nil {
			return
		}
		if ctx.Err() != nil {
			return
		}
		if !errs.Is(err, errs.KindNetwork) {
			break
		}
		log.Warnf("changeset %d attempt %d: %s", id, attempt, err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	log.Errorf("changeset %d failed: %s", id, err)
	if i.deadLog != nil {
		if dlErr := i.deadLog.Record(id, err, attempt); dlErr != nil {
			log.Errorf("recording dead letter for %d: %s", id, dlErr)
		}
	}
}

// CreateChangeset fetches, analyses and stores one changeset. Safe
// to run concurrently for the same id.
func (i *Ingestor) CreateChangeset(ctx context.Context, id int64) error {
	ch, err := i.client.FetchChangeset(ctx, id)
	if err != nil {
		return err
	}
	counts, err := i.client.FetchChangesetCounts(ctx, id)
	if err != nil && !errs.Is(err, errs.KindNotFound) {
		return err
	}

	userChangesets := 0
	if ch.UserID != 0 {
		user, err := i.client.FetchUser(ctx, int64(ch.UserID))
		if err == nil {
			userChangesets = user.ChangesetsCount
		} else if errs.Is(err, errs.KindNetwork) {
			return err
		}
		// deleted accounts just skip the new-mapper check
	}

	rec := i.analyser.Analyse(analyser.Input{
		Changeset:      *ch,
		Create:         counts.Create,
		Modify:         counts.Modify,
		Delete:         counts.Delete,
		UserChangesets: userChangesets,
		ChangedTags:    counts.ChangedTags,
	})
	return i.store.UpsertChangeset(ctx, toStoreRecord(rec))
}

func toStoreRecord(rec analyser.Record) store.ChangesetRecord {
	return store.ChangesetRecord{
		ID:             rec.ID,
		User:           rec.User,
		UID:            rec.UID,
		Editor:         rec.Editor,
		PowerfulEditor: rec.PowerfulEditor,
		Comment:        rec.Comment,
		Source:         rec.Source,
		ImageryUsed:    rec.ImageryUsed,
		Date:           rec.Date,
		Create:         rec.Create,
		Modify:         rec.Modify,
		Delete:         rec.Delete,
		CommentsCount:  rec.CommentsCount,
		Bounds:         rec.Bounds,
		HasBounds:      !rec.Bounds.IsNil(),
		Area:           rec.Area,
		Metadata:       rec.Metadata,
		TagChanges:     rec.TagChanges,
		Reasons:        rec.Reasons,
	}
}

// Backfill ingests every changeset id in the date range that is not
// stored yet, walking the known id range in batches.
func (i *Ingestor) Backfill(ctx context.Context, startDate, endDate time.Time) error {
	minID, maxID, ok, err := i.store.ChangesetIDRange(ctx, startDate, endDate)
	if err != nil {
		return err
	}
	if !ok {
		log.Infof("no known changesets between %s and %s",
			startDate.Format("2006-01-02"), endDate.Format("2006-01-02"))
		return nil
	}
	defer log.Step("Backfilling changesets")()

	ids := make(chan int64, 64)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	wg := sync.WaitGroup{}
	for w := 0; w < i.opts.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range ids {
				i.ingestOne(ctx, id)
			}
		}()
	}

	var fillErr error
	cursor := minID
	for cursor <= maxID {
		missing, err := i.store.MissingChangesetIDs(ctx, cursor, maxID, 1000)
		if err != nil {
			fillErr = err
			break
		}
		if len(missing) == 0 {
			break
		}
		for _, id := range missing {
			select {
			case ids <- id:
			case <-ctx.Done():
				fillErr = ctx.Err()
			}
			if fillErr != nil {
				break
			}
		}
		if fillErr != nil {
			break
		}
		cursor = missing[len(missing)-1] + 1
	}
	close(ids)
	wg.Wait()
	return fillErr
}

// RetryDeadLetters reingests all dead-letter entries, dropping the
// ones that now succeed.
func (i *Ingestor) RetryDeadLetters(ctx context.Context) error {
	if i.deadLog == nil {
		return nil
	}
	entries, err := i.deadLog.List()
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if err := i.CreateChangeset(ctx, entry.ChangesetID); err != nil {
			log.Warnf("dead letter %d still failing: %s", entry.ChangesetID, err)
			if err := i.deadLog.Record(entry.ChangesetID, err, 1); err != nil {
				return err
			}
			continue
		}
		if err := i.deadLog.Remove(entry.ChangesetID); err != nil {
			return err
		}
	}
	return nil
}
