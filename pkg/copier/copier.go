// Package copier is the Chunk Copier component (spec.md §4.5): it streams
// primary-key-ordered ranges of the source table into per-chunk outfiles
// and loads them into the shadow table.
package copier

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/opsql/osc/pkg/dbconn"
	"github.com/opsql/osc/pkg/ocerr"
	"github.com/opsql/osc/pkg/table"
)

// HealthProbe is consulted between chunks; when Throttled returns true the
// copier backs off, following teacher's migration.Throttler.IsThrottled
// pattern (replication lag, running-query count, load average are all
// plausible implementations — the copier only depends on the bool).
type HealthProbe interface {
	Throttled(ctx context.Context) bool
}

// NoopProbe never throttles, the copier's default (teacher's throttler.Noop).
type NoopProbe struct{}

func (NoopProbe) Throttled(context.Context) bool { return false }

// Options configures one copy run, mapping onto spec.md §6's recognized
// options relevant to the copier.
type Options struct {
	ChunkSize                 uint64
	AdditionalWhere           string
	EliminateDups             bool
	EnableOutfileCompression  bool
	CompressedOutfileExt      string
	Compressor                string // e.g. "zstd"
	OutfileDir                string
	MaxChunkRetries           int
	MaxThrottleBackoff        time.Duration
	SkipAffectedRowsCheck     bool

	// Concurrency bounds how many chunks are in flight at once (teacher's
	// subscription.flushDeltaMap uses the same errgroup.SetLimit shape for
	// its parallel statement flush). The chunker itself is walked
	// sequentially; only the outfile/load work for each chunk runs
	// concurrently.
	Concurrency int

	// AfterChunkHook, if set, runs once per successfully loaded chunk
	// (spec.md §6's after_select_chunk_into_outfile hook point). A hook
	// failure aborts the copy, matching hook.Runner's "not recoverable"
	// contract.
	AfterChunkHook func(ctx context.Context) error
}

// Copier copies Source into Target in PK-ordered chunks.
type Copier struct {
	db      *sql.DB
	cfg     *dbconn.Config
	source  *table.TableInfo
	target  *table.TableInfo
	chunker table.Chunker
	opts    Options
	probe   HealthProbe
	logger  *logrus.Logger

	ChunksCopied atomic.Uint64
	RowsCopied   atomic.Uint64

	// StartTime is set when Run begins, used by the controller's periodic
	// status line to report elapsed copy time and ETA.
	StartTime time.Time
}

// New returns a Copier for source -> target using the given chunker.
func New(db *sql.DB, cfg *dbconn.Config, source, target *table.TableInfo, chunker table.Chunker, opts Options, probe HealthProbe, logger *logrus.Logger) *Copier {
	if opts.ChunkSize == 0 {
		opts.ChunkSize = table.DefaultChunkSize
	}
	if opts.MaxChunkRetries == 0 {
		opts.MaxChunkRetries = 5
	}
	if opts.MaxThrottleBackoff == 0 {
		opts.MaxThrottleBackoff = 30 * time.Second
	}
	if opts.Concurrency == 0 {
		opts.Concurrency = 4
	}
	if probe == nil {
		probe = NoopProbe{}
	}
	return &Copier{db: db, cfg: cfg, source: source, target: target, chunker: chunker, opts: opts, probe: probe, logger: logger}
}

// Run copies the whole table, chunk by chunk, stopping when ctx is
// cancelled or the chunker reports the table is fully read (spec.md §4.5:
// "an empty chunk terminates the copy phase"). The chunker is walked
// sequentially (its watermark is not safe for concurrent Next calls), but
// up to Concurrency chunks' outfile/load work runs in parallel, following
// teacher's subscription.flushDeltaMap errgroup.SetLimit pattern.
func (c *Copier) Run(ctx context.Context) error {
	c.StartTime = time.Now()
	if err := c.chunker.Open(ctx); err != nil {
		return ocerr.Wrap(ocerr.KindFatalDB, err, "failed to open chunker")
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.Concurrency)

	for {
		if err := gctx.Err(); err != nil {
			break
		}
		c.throttle(ctx)

		chunk, err := c.chunker.Next(ctx)
		if err == table.ErrTableIsRead {
			break
		}
		if err != nil {
			_ = g.Wait()
			return ocerr.Wrap(ocerr.KindTransientDB, err, "failed to compute next chunk")
		}
		ch := chunk
		g.Go(func() error {
			if err := c.copyChunkWithRetry(gctx, ch); err != nil {
				return err
			}
			if c.opts.AfterChunkHook != nil {
				return c.opts.AfterChunkHook(gctx)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return ocerr.Wrap(ocerr.KindCancelled, err, "copy cancelled")
	}
	return nil
}

// Progress renders "rows=<copied>/<estimated> chunks=<copied>" for the
// controller's periodic status line, following teacher's
// Runner.dumpStatus which reports copier.GetProgress() alongside state.
func (c *Copier) Progress() string {
	estimated := uint64(0)
	if c.source != nil {
		estimated = c.source.EstimatedRows
	}
	return fmt.Sprintf("rows=%d/%d chunks=%d", c.RowsCopied.Load(), estimated, c.ChunksCopied.Load())
}

// ETA estimates remaining copy time by extrapolating the observed
// rows-per-second rate against EstimatedRows. It returns 0 once rows
// copied has reached or passed the estimate, or while too little has
// elapsed to extrapolate safely.
func (c *Copier) ETA() time.Duration {
	if c.source == nil || c.StartTime.IsZero() {
		return 0
	}
	elapsed := time.Since(c.StartTime)
	copied := c.RowsCopied.Load()
	if elapsed < time.Second || copied == 0 || copied >= c.source.EstimatedRows {
		return 0
	}
	rate := float64(copied) / elapsed.Seconds()
	remaining := float64(c.source.EstimatedRows - copied)
	return time.Duration(remaining/rate) * time.Second
}

// throttle sleeps with exponential backoff while the health probe reports
// the server under load, capped at MaxThrottleBackoff (spec.md §4.5).
func (c *Copier) throttle(ctx context.Context) {
	backoff := 100 * time.Millisecond
	for c.probe.Throttled(ctx) {
		if c.logger != nil {
			c.logger.Debugf("copier throttled, sleeping %s", backoff)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = time.Duration(math.Min(float64(backoff*2), float64(c.opts.MaxThrottleBackoff)))
	}
}

func (c *Copier) copyChunkWithRetry(ctx context.Context, chunk *table.Chunk) error {
	var lastErr error
	for attempt := 0; attempt < c.opts.MaxChunkRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return ocerr.Wrap(ocerr.KindCancelled, err, "copy cancelled mid-chunk")
		}
		n, err := c.copyOneChunk(ctx, chunk)
		if err == nil {
			c.ChunksCopied.Add(1)
			c.RowsCopied.Add(n)
			return nil
		}
		lastErr = err
		if c.logger != nil {
			c.logger.Warnf("chunk copy attempt %d failed: %v", attempt+1, err)
		}
		time.Sleep(backoffDuration(attempt))
	}
	return ocerr.Wrap(ocerr.KindFatalDB, lastErr, "chunk copy exhausted retries")
}

func backoffDuration(attempt int) time.Duration {
	d := time.Duration(1<<attempt) * 200 * time.Millisecond
	if d > 10*time.Second {
		return 10 * time.Second
	}
	return d
}

// copyOneChunk runs the three-step outfile dance of spec.md §4.5: SELECT
// INTO OUTFILE under REPEATABLE READ, optional compression, then LOAD DATA
// INFILE into the target with the safe-copy projection column list.
func (c *Copier) copyOneChunk(ctx context.Context, chunk *table.Chunk) (uint64, error) {
	outfile, err := c.outfilePath()
	if err != nil {
		return 0, ocerr.Wrap(ocerr.KindIO, err, "failed to allocate outfile path")
	}
	defer os.Remove(outfile)

	where := chunk.String()
	if c.opts.AdditionalWhere != "" {
		where += " AND (" + c.opts.AdditionalWhere + ")"
	}
	projection := table.IntersectNonGeneratedColumns(c.source, c.target)

	selectStmt := fmt.Sprintf(
		"SELECT %s INTO OUTFILE %s FIELDS TERMINATED BY ',' ENCLOSED BY '\"' ESCAPED BY '\\\\' LINES TERMINATED BY '\\n' FROM %s WHERE %s",
		projection, quoteStringLiteral(outfile), c.source.QuotedName(), where,
	)

	trx, err := c.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead})
	if err != nil {
		return 0, err
	}
	selectRes, err := trx.ExecContext(ctx, selectStmt)
	if err != nil {
		_ = trx.Rollback()
		return 0, err
	}
	if err := trx.Commit(); err != nil {
		return 0, err
	}
	selected, _ := selectRes.RowsAffected() // MySQL reports rows written by INTO OUTFILE here

	// If compression is enabled, the plaintext outfile is compressed and
	// removed immediately, and LOAD DATA LOCAL INFILE streams it back
	// through a decompressing io.Reader rather than ever materializing a
	// second plaintext copy on disk (spec.md §4.5 names the compress step;
	// round-tripping back to plaintext before load would defeat it).
	localKeyword := ""
	loadSource := quoteStringLiteral(outfile)
	if c.opts.EnableOutfileCompression {
		compressed, err := c.compress(outfile)
		if err != nil {
			return 0, ocerr.Wrap(ocerr.KindIO, err, "failed to compress outfile")
		}
		if err := os.Remove(outfile); err != nil {
			return 0, ocerr.Wrap(ocerr.KindIO, err, "failed to remove plaintext outfile after compression")
		}
		defer os.Remove(compressed)

		readerName := "osc-chunk-" + filepath.Base(compressed)
		mysql.RegisterReaderHandler(readerName, func() io.Reader {
			return c.decompressingReader(compressed)
		})
		defer mysql.DeregisterReaderHandler(readerName)

		localKeyword = "LOCAL "
		loadSource = quoteStringLiteral("Reader::" + readerName)
	}

	var conflictKeyword string
	if c.opts.EliminateDups {
		conflictKeyword = "REPLACE"
	} else {
		conflictKeyword = ""
	}
	loadStmt := fmt.Sprintf(
		"LOAD DATA %sINFILE %s %s INTO TABLE %s CHARACTER SET binary FIELDS TERMINATED BY ',' ENCLOSED BY '\"' ESCAPED BY '\\\\' LINES TERMINATED BY '\\n' (%s)",
		localKeyword, loadSource, conflictKeyword, c.target.QuotedName(), projection,
	)
	n, err := dbconn.RetryableTransaction(ctx, c.db, c.cfg, loadStmt)
	if err != nil {
		return 0, err
	}
	if !c.opts.SkipAffectedRowsCheck && !c.opts.EliminateDups && n != selected {
		return 0, ocerr.New(ocerr.KindFatalDB, fmt.Sprintf("chunk affected-rows mismatch: selected %d rows into outfile but loaded %d", selected, n))
	}
	return uint64(n), nil
}

func (c *Copier) outfilePath() (string, error) {
	dir := c.opts.OutfileDir
	if dir == "" {
		dir = os.TempDir()
	}
	f, err := os.CreateTemp(dir, "chunk-*.csv")
	if err != nil {
		return "", err
	}
	name := f.Name()
	f.Close()
	os.Remove(name) // MySQL server must create the file itself
	return name, nil
}

// compress pipes outfile through the configured compressor, naming the
// result with compressed_outfile_extension (spec.md §4.5).
func (c *Copier) compress(outfile string) (string, error) {
	compressor := c.opts.Compressor
	if compressor == "" {
		compressor = "zstd"
	}
	ext := c.opts.CompressedOutfileExt
	if ext == "" {
		ext = ".zst"
	}
	dest := outfile + ext
	cmd := exec.Command(compressor, "-f", "-o", dest, outfile)
	if out, err := cmd.CombinedOutput(); err != nil {
		return "", fmt.Errorf("%s: %s: %w", compressor, out, err)
	}
	return dest, nil
}

// decompressingReader streams compressed's decompressed contents without
// ever writing them to disk: the compressor's stdout is piped straight
// through an io.Pipe, which the LOAD DATA LOCAL INFILE reader handler
// consumes chunk by chunk.
func (c *Copier) decompressingReader(compressed string) io.Reader {
	compressor := c.opts.Compressor
	if compressor == "" {
		compressor = "zstd"
	}
	pr, pw := io.Pipe()
	go func() {
		cmd := exec.Command(compressor, "-d", "-c", compressed)
		cmd.Stdout = pw
		var stderr strings.Builder
		cmd.Stderr = &stderr
		if err := cmd.Run(); err != nil {
			pw.CloseWithError(fmt.Errorf("%s: %s: %w", compressor, stderr.String(), err))
			return
		}
		pw.Close()
	}()
	return pr
}

func quoteStringLiteral(path string) string {
	return "'" + filepath.ToSlash(path) + "'"
}
