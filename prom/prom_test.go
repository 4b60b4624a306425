package prom

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordEncode(100, time.Millisecond, nil)
	c.RecordEncode(0, time.Millisecond, errors.New("boom"))
	c.RecordCluster(2, 7, time.Millisecond, nil)
	c.RecordStep(0.7, time.Microsecond)
	c.RecordStep(0.5, time.Microsecond)
	c.RecordEpoch(1, 0.6, time.Second)
	c.RecordEvaluate(0.55, time.Millisecond, nil)

	assert.Equal(t, 100.0, testutil.ToFloat64(c.encodedRows))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.steps))
	assert.Equal(t, 0.5, testutil.ToFloat64(c.stepLoss))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.epochs))
	assert.Equal(t, 0.6, testutil.ToFloat64(c.epochLoss))
	assert.Equal(t, 0.55, testutil.ToFloat64(c.evalLoss))
	assert.Equal(t, 7.0, testutil.ToFloat64(c.clusterIter))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.ops.WithLabelValues("encode", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.ops.WithLabelValues("encode", "success")))
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RecordStep(0.25, time.Millisecond)

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "vecclf_train_steps_total 1"))
}
