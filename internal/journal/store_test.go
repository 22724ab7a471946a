package journal

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ktxgo/ktxgo/internal/errors"
	"github.com/ktxgo/ktxgo/internal/logging"
	"github.com/ktxgo/ktxgo/internal/protocol"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "data", DefaultFile), logging.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	clock := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)
	s.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return s
}

func testQuery() protocol.SearchQuery {
	return protocol.SearchQuery{Departure: "서울", Arrival: "부산", Date: "20261020", Hour: "06", Adults: 1}
}

func TestRunLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	assert.Equal(t, "", s.RunID())
	// Callbacks before a run are dropped.
	s.PollCompleted(1, nil)

	id, err := s.StartRun(ctx, RunInfo{Query: testQuery(), Seat: "any", AutoPay: true})
	require.NoError(t, err)
	assert.Equal(t, id, s.RunID())

	train := protocol.Train{TrainNo: "101", DepDate: "20261020", DepTime: "060000"}
	s.PollCompleted(1, []protocol.Train{train})
	s.ErrorClassified(errors.OpSearch, errors.KindTransient)
	s.PollCompleted(2, []protocol.Train{train})
	s.ReservationAttempted(train, protocol.SeatGeneral, &errors.VendorError{Code: "WRR800029", Message: "잔여석 없음"})
	s.ReservationAttempted(train, protocol.SeatSpecial, nil)
	require.NoError(t, s.RecordPayment(ctx, "PNR1", "59800", nil))
	require.NoError(t, s.FinishRun(ctx, OutcomeReserved, "PNR1"))

	runs, err := s.Runs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	run := runs[0]
	assert.Equal(t, id, run.ID)
	assert.Equal(t, "서울", run.Departure)
	assert.Equal(t, "06", run.Hour)
	assert.Equal(t, 2, run.Polls)
	assert.Equal(t, 1, run.Errors)
	assert.Equal(t, OutcomeReserved, run.Outcome)
	assert.Equal(t, "PNR1", run.PNR)
	assert.True(t, run.Paid)
	require.NotNil(t, run.FinishedAt)
	assert.True(t, run.FinishedAt.After(run.StartedAt))

	attempts, err := s.Attempts(ctx, id)
	require.NoError(t, err)
	require.Len(t, attempts, 2)
	assert.Equal(t, "general", attempts[0].Seat)
	assert.Equal(t, errors.KindVendor.String(), attempts[0].ErrorKind)
	assert.Equal(t, AttemptFailed, attempts[0].Outcome)
	assert.Contains(t, attempts[0].Message, "잔여석 없음")
	assert.Equal(t, AttemptReserved, attempts[1].Outcome)

	counts, err := s.ErrorCounts(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"transient": 1}, counts)
}

func TestFailedPaymentKeepsRunUnpaid(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	_, err := s.StartRun(ctx, RunInfo{Query: testQuery(), Seat: "general"})
	require.NoError(t, err)

	require.NoError(t, s.RecordPayment(ctx, "PNR2", "", fmt.Errorf("card declined")))
	require.NoError(t, s.FinishRun(ctx, OutcomeReserved, "PNR2"))

	runs, err := s.Runs(ctx, 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.False(t, runs[0].Paid)
	assert.Equal(t, "PNR2", runs[0].PNR)
}

func TestRunsNewestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	first, err := s.StartRun(ctx, RunInfo{Query: testQuery(), Seat: "any"})
	require.NoError(t, err)
	second, err := s.StartRun(ctx, RunInfo{Query: testQuery(), Seat: "any"})
	require.NoError(t, err)

	runs, err := s.Runs(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, second, runs[0].ID)
	assert.Equal(t, first, runs[1].ID)
	assert.Equal(t, OutcomeRunning, runs[1].Outcome)
	assert.Nil(t, runs[1].FinishedAt)
}

func TestFinishWithoutRun(t *testing.T) {
	s := openTestStore(t)
	assert.Error(t, s.FinishRun(context.Background(), OutcomeFailed, ""))
	assert.Error(t, s.RecordPayment(context.Background(), "PNR", "", nil))
}

func TestReopenKeepsHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFile)
	s, err := Open(path, logging.Discard())
	require.NoError(t, err)
	_, err = s.StartRun(context.Background(), RunInfo{Query: testQuery(), Seat: "any"})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := Open(path, logging.Discard())
	require.NoError(t, err)
	defer reopened.Close()
	runs, err := reopened.Runs(context.Background(), 5)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
	assert.Equal(t, "", reopened.RunID())
}
