package copier

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/opsql/osc/pkg/table"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
	os.Exit(m.Run())
}

func TestNoopProbeNeverThrottles(t *testing.T) {
	assert.False(t, NoopProbe{}.Throttled(context.Background()))
}

func TestBackoffDurationGrowsAndCaps(t *testing.T) {
	assert.Equal(t, 200*time.Millisecond, backoffDuration(0))
	assert.Equal(t, 400*time.Millisecond, backoffDuration(1))
	assert.Equal(t, 10*time.Second, backoffDuration(10))
}

func TestQuoteStringLiteral(t *testing.T) {
	assert.Equal(t, "'/tmp/chunk-1.csv'", quoteStringLiteral("/tmp/chunk-1.csv"))
}

func TestOutfilePathUsesConfiguredDirAndDoesNotLeaveFile(t *testing.T) {
	dir := t.TempDir()
	c := &Copier{opts: Options{OutfileDir: dir}}

	path, err := c.outfilePath()
	require.NoError(t, err)
	assert.Equal(t, dir, filepath.Dir(path))

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr), "outfilePath must remove the placeholder so the server can create it")
}

func TestOutfilePathDefaultsToTempDir(t *testing.T) {
	c := &Copier{}
	path, err := c.outfilePath()
	require.NoError(t, err)
	assert.Equal(t, os.TempDir(), filepath.Dir(path))
}

type flakyProbe struct {
	remaining int
}

func (p *flakyProbe) Throttled(context.Context) bool {
	if p.remaining <= 0 {
		return false
	}
	p.remaining--
	return true
}

func TestThrottleStopsOnceProbeClears(t *testing.T) {
	c := &Copier{
		probe: &flakyProbe{remaining: 2},
		opts:  Options{MaxThrottleBackoff: 5 * time.Millisecond},
	}
	done := make(chan struct{})
	go func() {
		c.throttle(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("throttle did not return after probe stopped throttling")
	}
}

func TestThrottleReturnsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := &Copier{
		probe: &flakyProbe{remaining: 1000},
		opts:  Options{MaxThrottleBackoff: time.Second},
	}
	done := make(chan struct{})
	go func() {
		c.throttle(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("throttle did not return promptly after context cancellation")
	}
}

func TestProgressWithEstimate(t *testing.T) {
	c := &Copier{source: &table.TableInfo{EstimatedRows: 100}}
	c.RowsCopied.Store(40)
	c.ChunksCopied.Store(2)
	assert.Equal(t, "rows=40/100 chunks=2", c.Progress())
}

func TestProgressWithoutSource(t *testing.T) {
	c := &Copier{}
	assert.Equal(t, "rows=0/0 chunks=0", c.Progress())
}

func TestETAZeroWithoutStartTime(t *testing.T) {
	c := &Copier{source: &table.TableInfo{EstimatedRows: 100}}
	assert.Equal(t, time.Duration(0), c.ETA())
}

func TestETAZeroOnceComplete(t *testing.T) {
	c := &Copier{source: &table.TableInfo{EstimatedRows: 100}, StartTime: time.Now().Add(-time.Minute)}
	c.RowsCopied.Store(100)
	assert.Equal(t, time.Duration(0), c.ETA())
}

func TestETAExtrapolatesRemainingTime(t *testing.T) {
	c := &Copier{source: &table.TableInfo{EstimatedRows: 100}, StartTime: time.Now().Add(-10 * time.Second)}
	c.RowsCopied.Store(50)
	eta := c.ETA()
	assert.InDelta(t, 10*time.Second, eta, float64(2*time.Second))
}

func TestNewAppliesDefaults(t *testing.T) {
	c := New(nil, nil, nil, nil, nil, Options{}, nil, nil)
	assert.Equal(t, uint64(500), c.opts.ChunkSize)
	assert.Equal(t, 5, c.opts.MaxChunkRetries)
	assert.Equal(t, 30*time.Second, c.opts.MaxThrottleBackoff)
	assert.Equal(t, 4, c.opts.Concurrency)
	assert.NotNil(t, c.probe)
}
