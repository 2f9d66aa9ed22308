package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecord(t *testing.T) {
	m := New("ftpfs")

	m.RecordAcquire("ftp", false, 0)
	m.RecordAcquire("ftp", true, 10*time.Millisecond)
	m.RecordAcquire("ftps", true, 0)
	m.RecordConnect("ftp", true, 50*time.Millisecond)
	m.RecordConnect("ftp", false, time.Second)
	m.RecordEviction("idle")
	m.RecordEviction("idle")
	m.RecordEviction("invalidated")
	m.RecordRetry("list")
	m.SetLiveSessions(3)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Acquires.WithLabelValues("ftp", "false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Acquires.WithLabelValues("ftp", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Acquires.WithLabelValues("ftps", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Connects.WithLabelValues("ftp", "false")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Evictions.WithLabelValues("idle")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Retries.WithLabelValues("list")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.LiveSessions))
	assert.Equal(t, 1, testutil.CollectAndCount(m.ConnectDuration))
}

func TestRegister(t *testing.T) {
	m := New("ftpfs")
	reg := prometheus.NewPedanticRegistry()
	m.MustRegister(reg)

	m.SetLiveSessions(1)
	expected := `
# HELP ftpfs_pool_live_sessions Open sessions.
# TYPE ftpfs_pool_live_sessions gauge
ftpfs_pool_live_sessions 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "ftpfs_pool_live_sessions"))

	var nilMetrics *Metrics
	assert.Nil(t, nilMetrics.Collectors())
}
