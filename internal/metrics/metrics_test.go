package metrics_test

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/calvinalkan/mdboard/internal/metrics"
)

func Test_Metrics_Counts_Cache_Lookups_By_Result(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	m.CacheHit()
	m.CacheHit()
	m.CacheMiss()

	if got, want := testutil.CollectAndCount(reg, "mdboard_cache_lookups_total"), 2; got != want {
		t.Fatalf("series=%d, want %d", got, want)
	}

	m.DocumentWritten("write", nil)
	m.DocumentWritten("write", errors.New("disk full"))
	m.ObserveLockWait(10 * time.Millisecond)

	if got, want := testutil.CollectAndCount(reg, "mdboard_document_writes_total"), 2; got != want {
		t.Fatalf("write series=%d, want %d", got, want)
	}
}

func Test_Metrics_Methods_Are_NoOps_When_Nil(t *testing.T) {
	t.Parallel()

	var m *metrics.Metrics

	m.CacheHit()
	m.CacheMiss()
	m.LockRetry()
	m.LockFailure()
	m.ObserveLockWait(time.Second)
	m.DocumentWritten("delete", nil)
	m.ParseFailure()
}
