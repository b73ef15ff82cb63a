package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecorderCounts(t *testing.T) {
	recorder := NewRecorder()

	before := testutil.ToFloat64(votesTotal.WithLabelValues("add", "finalized"))
	recorder.VoteRecorded("add", "finalized")
	assert.Equal(t, before+1, testutil.ToFloat64(votesTotal.WithLabelValues("add", "finalized")))

	beforeRSVP := testutil.ToFloat64(rsvpsCreatedTotal)
	recorder.RSVPsMaterialized(3)
	recorder.RSVPsMaterialized(0)
	assert.Equal(t, beforeRSVP+3, testutil.ToFloat64(rsvpsCreatedTotal))

	beforeWon := testutil.ToFloat64(finalizationsTotal.WithLabelValues("won"))
	recorder.FinalizationAttempted("won")
	assert.Equal(t, beforeWon+1, testutil.ToFloat64(finalizationsTotal.WithLabelValues("won")))

	recorder.EvaluationObserved(time.Millisecond, true)
	assert.Equal(t, 1, testutil.CollectAndCount(evaluationDuration))
}
