package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCollectors(t *testing.T) {
	before := testutil.ToFloat64(Recalculations.WithLabelValues("user", "error"))
	Recalculations.WithLabelValues("user", Result(errors.New("x"))).Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(Recalculations.WithLabelValues("user", "error")))
	assert.Equal(t, "ok", Result(nil))
}
