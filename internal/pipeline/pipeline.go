// Package pipeline drives the end-to-end ingestion run: year by year,
// archive batch by archive batch, document by document.
package pipeline

import (
	"context"
	"encoding/json"
	"runtime/debug"
	"sort"
	"time"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/michaelpawlus/990-beacon/internal/archive"
	"github.com/michaelpawlus/990-beacon/internal/config"
	"github.com/michaelpawlus/990-beacon/internal/events"
	"github.com/michaelpawlus/990-beacon/internal/index"
	"github.com/michaelpawlus/990-beacon/internal/loader"
	"github.com/michaelpawlus/990-beacon/internal/memstat"
	"github.com/michaelpawlus/990-beacon/internal/model"
	"github.com/michaelpawlus/990-beacon/internal/parser"
)

const (
	ModeHistorical  = "historical"
	ModeIncremental = "incremental"
)

// Counters aggregates per-document outcomes over a whole run.
type Counters struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Skipped   int `json:"skipped"`
	Errors    int `json:"errors"`
}

type outcome int

const (
	outcomeLoaded outcome = iota
	outcomeSkipped
	outcomeErrored
)

type Pipeline struct {
	cfg     *config.Config
	db      *gorm.DB
	index   *index.Resolver
	archive *archive.Fetcher
	emitter *events.Emitter
	log     *logrus.Entry
}

func New(cfg *config.Config, db *gorm.DB, resolver *index.Resolver, fetcher *archive.Fetcher, emitter *events.Emitter, log *logrus.Entry) *Pipeline {
	return &Pipeline{
		cfg:     cfg,
		db:      db,
		index:   resolver,
		archive: fetcher,
		emitter: emitter,
		log:     log,
	}
}

// Run executes one ingestion pass and returns the final counters.
//
// Historical mode walks every configured year under a default cap;
// incremental mode walks only the most recent year, uncapped unless a limit
// is given. Failures below the run level never stop the run: the only early
// exit is the processing cap.
func (p *Pipeline) Run(ctx context.Context, mode string, limit int) Counters {
	years := p.cfg.HistoricalYears
	if mode == ModeIncremental {
		years = []int{p.cfg.LatestYear()}
	} else if limit <= 0 {
		limit = p.cfg.HistoricalDefaultLimit
	}

	p.log.WithFields(logrus.Fields{"mode": mode, "years": years, "limit": limit}).
		Info("starting ingestion")

	startedAt := time.Now().UTC()
	var counters Counters
	hitLimit := false

	for _, year := range years {
		if hitLimit {
			break
		}
		hitLimit = p.runYear(ctx, year, limit, &counters)
	}

	p.log.WithFields(logrus.Fields{
		"total":     counters.Total,
		"succeeded": counters.Succeeded,
		"skipped":   counters.Skipped,
		"errors":    counters.Errors,
	}).Info("ingestion complete")

	p.recordRun(mode, years, startedAt, counters)
	return counters
}

// runYear processes one year's batches and reports whether the global cap
// was reached.
func (p *Pipeline) runYear(ctx context.Context, year, limit int, counters *Counters) bool {
	log := p.log.WithField("year", year)

	entries := p.index.FetchIndex(ctx, year)
	if len(entries) == 0 {
		log.Warn("no index entries for year")
		return false
	}

	// Entries with no batch id cannot be located inside any archive.
	batches := lo.GroupBy(entries, func(e index.Entry) string { return e.BatchID })
	if unbatched := batches[""]; len(unbatched) > 0 {
		log.WithField("count", len(unbatched)).Warn("skipping entries without a batch id")
		delete(batches, "")
	}

	batchIDs := lo.Keys(batches)
	sort.Strings(batchIDs)
	log.WithFields(logrus.Fields{
		"entries": len(entries),
		"batches": len(batchIDs),
	}).Info("grouped index entries")

	for _, batchID := range batchIDs {
		if p.runBatch(ctx, year, batchID, batches[batchID], limit, counters) {
			return true
		}
	}
	return false
}

// runBatch streams one archive's documents through parse and load. Returns
// true when the global cap was reached mid-batch.
func (p *Pipeline) runBatch(ctx context.Context, year int, batchID string, entries []index.Entry, limit int, counters *Counters) bool {
	log := p.log.WithFields(logrus.Fields{"year": year, "batch_id": batchID})

	byFilename := lo.KeyBy(entries, func(e index.Entry) string { return e.Filename() })

	docs := p.archive.Documents(ctx, year, batchID)
	if docs == nil {
		log.WithField("entries", len(entries)).
			Warn("skipping batch: archive unavailable or over size cap")
		return false
	}

	hitLimit := false
	for filename, data := range docs {
		if limit > 0 && counters.Total >= limit {
			log.WithField("limit", limit).Info("reached processing limit")
			hitLimit = true
			break
		}

		entry, ok := byFilename[filename]
		if !ok {
			// Present in the archive but not in our filtered index.
			continue
		}

		counters.Total++
		switch p.processDocument(ctx, entry, data) {
		case outcomeLoaded:
			counters.Succeeded++
		case outcomeSkipped:
			counters.Skipped++
		case outcomeErrored:
			counters.Errors++
		}

		if p.cfg.MemoryLogEvery > 0 && counters.Total%p.cfg.MemoryLogEvery == 0 {
			memstat.Log(log)
		}
		if p.cfg.ProgressLogEvery > 0 && counters.Total%p.cfg.ProgressLogEvery == 0 {
			log.WithFields(logrus.Fields{
				"total":     counters.Total,
				"succeeded": counters.Succeeded,
				"skipped":   counters.Skipped,
				"errors":    counters.Errors,
			}).Info("progress")
		}
	}

	// Archives and their documents are large; reclaim between batches so a
	// long run's footprint stays flat.
	debug.FreeOSMemory()
	memstat.Log(log)
	return hitLimit
}

// processDocument runs parse+load for one filing in its own transaction.
// Every failure mode, panics included, is contained here so one bad
// document never aborts the batch.
func (p *Pipeline) processDocument(ctx context.Context, entry index.Entry, data []byte) (result outcome) {
	log := p.log.WithField("object_id", entry.ObjectID)

	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).WithField("stack", string(debug.Stack())).
				Error("panic while processing filing")
			result = outcomeErrored
		}
	}()

	parsed, err := parser.Parse(data)
	if err != nil {
		log.WithError(err).Warn("failed to parse filing")
		return outcomeErrored
	}

	tx := p.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		log.WithError(tx.Error).Error("failed to begin transaction")
		return outcomeErrored
	}
	// Release the transaction even when the load panics; a leaked
	// transaction would pin its pooled connection for the rest of the run.
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	src := loader.Source{
		ObjectID:  entry.ObjectID,
		FiledAt:   parseSubDate(entry.SubDate),
		RawXMLURL: p.cfg.XMLURL(entry.ObjectID),
	}
	inserted, err := loader.LoadFiling(tx, parsed, src, log)
	if err != nil {
		log.WithError(err).Error("failed to load filing")
		return outcomeErrored
	}
	if err := tx.Commit().Error; err != nil {
		log.WithError(err).Error("failed to commit filing")
		return outcomeErrored
	}
	committed = true

	if !inserted {
		return outcomeSkipped
	}

	p.emitter.Emit(ctx, events.FilingIngested{
		ObjectID:   entry.ObjectID,
		EIN:        parsed.EIN,
		TaxYear:    intValue(parsed.TaxYear),
		FilingType: strValue(parsed.FormType),
		IngestedAt: time.Now().UTC(),
	})
	return outcomeLoaded
}

// recordRun persists one row of run history. Failures are logged only; run
// history never fails an otherwise finished run.
func (p *Pipeline) recordRun(mode string, years []int, startedAt time.Time, counters Counters) {
	finishedAt := time.Now().UTC()
	yearsJSON, _ := json.Marshal(years)
	countersJSON, _ := json.Marshal(counters)

	run := model.IngestRun{
		Mode:       mode,
		Years:      datatypes.JSON(yearsJSON),
		Counters:   datatypes.JSON(countersJSON),
		StartedAt:  startedAt,
		FinishedAt: &finishedAt,
	}
	if err := p.db.Create(&run).Error; err != nil {
		p.log.WithError(err).Warn("failed to record ingest run")
	}
}

// subDateLayouts covers the date formats seen in index manifests over the
// years.
var subDateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"01-02-2006",
	"1/2/2006",
	"1/2/2006 3:04:05 PM",
}

func parseSubDate(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range subDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

func intValue(n *int) int {
	if n == nil {
		return 0
	}
	return *n
}

func strValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
