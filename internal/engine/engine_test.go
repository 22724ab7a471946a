package engine_test

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ktxgo/ktxgo/internal/engine"
	"github.com/ktxgo/ktxgo/internal/errors"
	"github.com/ktxgo/ktxgo/internal/logging"
	"github.com/ktxgo/ktxgo/internal/protocol"
	"github.com/ktxgo/ktxgo/internal/protocol/protocoltest"
)

var query = protocol.SearchQuery{
	Departure: "서울",
	Arrival:   "부산",
	Date:      "20261020",
	Hour:      "06",
	Adults:    1,
}

type fakeLogin struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeLogin) EnsureLogin(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.err
}

func (f *fakeLogin) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type recordingObserver struct {
	polls    []int
	kinds    []errors.Kind
	attempts []string
}

func (r *recordingObserver) PollCompleted(attempt int, _ []protocol.Train) {
	r.polls = append(r.polls, attempt)
}

func (r *recordingObserver) ErrorClassified(_ errors.Operation, kind errors.Kind) {
	r.kinds = append(r.kinds, kind)
}

func (r *recordingObserver) ReservationAttempted(train protocol.Train, _ protocol.SeatClass, _ error) {
	r.attempts = append(r.attempts, train.TrainNo)
}

type harness struct {
	driver   *protocoltest.FakeDriver
	login    *fakeLogin
	observer *recordingObserver
	sleeps   []time.Duration
}

func newEngine(t *testing.T, cfg engine.Config, driver *protocoltest.FakeDriver) (*engine.Engine, *harness) {
	t.Helper()
	client, err := protocol.NewClient(driver,
		protocol.WithMinCallSpacing(0),
		protocol.WithLogger(logging.Discard()))
	require.NoError(t, err)

	h := &harness{driver: driver, login: &fakeLogin{}, observer: &recordingObserver{}}
	if cfg.Query.Departure == "" {
		cfg.Query = query
	}
	e, err := engine.New(cfg, client, client, h.login, h.observer, logging.Discard())
	require.NoError(t, err)
	e.Sleep = func(ctx context.Context, d time.Duration) error {
		h.sleeps = append(h.sleeps, d)
		return ctx.Err()
	}
	return e, h
}

func reserved(pnr string) protocoltest.Response {
	return protocoltest.OK(map[string]interface{}{"h_pnr_no": pnr})
}

func TestRunReservesFirstEligibleTrain(t *testing.T) {
	driver := protocoltest.NewFakeDriver().
		Queue(protocol.EndpointSchedule,
			protocoltest.Schedule(protocoltest.TrainRow("101", "06:00", "13", "13")),
			protocoltest.Schedule(
				protocoltest.TrainRow("101", "06:00", "13", "13"),
				protocoltest.TrainRow("103", "06:30", "11", "13"),
			)).
		Always(protocol.EndpointReserve, reserved("81000001"))
	e, h := newEngine(t, engine.Config{}, driver)

	res, err := e.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "103", res.Train.TrainNo)
	assert.Equal(t, protocol.SeatGeneral, res.Seat)
	assert.Equal(t, "81000001", res.PNR())
	assert.Equal(t, []int{1, 2}, h.observer.polls)
	assert.Equal(t, []time.Duration{engine.DefaultPollInterval}, h.sleeps)
}

func TestRunSkipsRejectedCandidate(t *testing.T) {
	driver := protocoltest.NewFakeDriver().
		Always(protocol.EndpointSchedule, protocoltest.Schedule(
			protocoltest.TrainRow("101", "06:00", "11", "13"),
			protocoltest.TrainRow("103", "06:30", "11", "13"),
		)).
		Queue(protocol.EndpointReserve,
			protocoltest.Fail("WRR800029", "잔여석없음"),
			reserved("81000002"))
	e, h := newEngine(t, engine.Config{}, driver)

	res, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "103", res.Train.TrainNo)
	assert.Equal(t, []string{"101", "103"}, h.observer.attempts)
	assert.Equal(t, []errors.Kind{errors.KindBusinessRejection}, h.observer.kinds)
}

func TestRunOnlyTriesSelectedTrains(t *testing.T) {
	driver := protocoltest.NewFakeDriver().
		Always(protocol.EndpointSchedule, protocoltest.Schedule(
			protocoltest.TrainRow("101", "06:00", "11", "13"),
			protocoltest.TrainRow("103", "06:30", "11", "13"),
		)).
		Always(protocol.EndpointReserve, reserved("81000003"))
	target := protocol.TrainKey{DepDate: "20261020", TrainNo: "103", DepTime: "06:30", Departure: "서울", Arrival: "부산"}
	e, h := newEngine(t, engine.Config{Targets: []protocol.TrainKey{target}}, driver)

	res, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "103", res.Train.TrainNo)
	assert.Equal(t, []string{"103"}, h.observer.attempts)
}

func TestRunStopsAfterConsecutiveErrors(t *testing.T) {
	driver := protocoltest.NewFakeDriver().
		Always(protocol.EndpointSchedule, protocoltest.Error(stderrors.New("connection reset")))
	e, h := newEngine(t, engine.Config{PollInterval: time.Second}, driver)

	_, err := e.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrTooManyErrors)
	assert.Len(t, driver.Calls(protocol.EndpointSchedule), engine.DefaultMaxConsecutiveErrors)
	assert.Len(t, h.sleeps, engine.DefaultMaxConsecutiveErrors-1)
	for _, d := range h.sleeps {
		assert.Equal(t, 2*time.Second, d)
	}
}

func TestRunCapsRepeatedSessionExpiry(t *testing.T) {
	driver := protocoltest.NewFakeDriver().
		Always(protocol.EndpointSchedule, protocoltest.Fail("P058", "로그인 후 이용하십시오"))
	e, h := newEngine(t, engine.Config{PollInterval: time.Second}, driver)

	_, err := e.Run(context.Background())
	require.ErrorIs(t, err, errors.ErrTooManyErrors)
	assert.Len(t, driver.Calls(protocol.EndpointSchedule), engine.DefaultMaxConsecutiveErrors)
	assert.Equal(t, engine.DefaultMaxConsecutiveErrors-1, h.login.Calls())
	assert.Equal(t, []time.Duration{time.Second, time.Second, time.Second}, h.sleeps,
		"only repeated expiries wait")
}

func TestRunCapsSessionExpiryDuringReserve(t *testing.T) {
	driver := protocoltest.NewFakeDriver().
		Always(protocol.EndpointSchedule, protocoltest.Schedule(protocoltest.TrainRow("101", "06:00", "11", "13"))).
		Always(protocol.EndpointReserve, protocoltest.Fail("P058", "로그인 후 이용하십시오"))
	e, h := newEngine(t, engine.Config{}, driver)

	_, err := e.Run(context.Background())
	require.ErrorIs(t, err, errors.ErrTooManyErrors)
	assert.Equal(t, engine.DefaultMaxConsecutiveErrors-1, h.login.Calls())
	assert.Len(t, driver.Calls(protocol.EndpointReserve), engine.DefaultMaxConsecutiveErrors)
}

func TestRunResetsErrorCountOnSuccess(t *testing.T) {
	transient := protocoltest.Raw("")
	driver := protocoltest.NewFakeDriver().
		Queue(protocol.EndpointSchedule,
			transient, transient, transient, transient,
			protocoltest.Schedule(),
			transient, transient, transient, transient,
			protocoltest.Schedule(protocoltest.TrainRow("101", "06:00", "11", "13"))).
		Always(protocol.EndpointReserve, reserved("81000004"))
	e, _ := newEngine(t, engine.Config{}, driver)

	res, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "101", res.Train.TrainNo)
}

func TestRunSessionExpiredSearchIsNotCounted(t *testing.T) {
	driver := protocoltest.NewFakeDriver().
		Queue(protocol.EndpointSchedule,
			protocoltest.Fail("P058", "로그인 후 이용하십시오"),
			protocoltest.Fail("P058", "로그인 후 이용하십시오")).
		Always(protocol.EndpointSchedule, protocoltest.Schedule())
	e, h := newEngine(t, engine.Config{MaxAttempts: 2}, driver)

	_, err := e.Run(context.Background())
	assert.ErrorIs(t, err, errors.ErrAttemptsExhausted)
	assert.Equal(t, 2, h.login.Calls())
	assert.Len(t, driver.Calls(protocol.EndpointSchedule), 4)
	assert.Equal(t, []int{1, 2}, h.observer.polls)
}

func TestRunNoDataIsEmptyListing(t *testing.T) {
	driver := protocoltest.NewFakeDriver().
		Always(protocol.EndpointSchedule, protocoltest.Fail("P100", "조회 결과가 없습니다"))
	e, h := newEngine(t, engine.Config{MaxAttempts: 3}, driver)

	_, err := e.Run(context.Background())
	assert.ErrorIs(t, err, errors.ErrAttemptsExhausted)
	assert.Equal(t, []int{1, 2, 3}, h.observer.polls)
	assert.Equal(t, 0, h.login.Calls())
}

func TestRunSessionExpiredDuringReserve(t *testing.T) {
	driver := protocoltest.NewFakeDriver().
		Always(protocol.EndpointSchedule, protocoltest.Schedule(
			protocoltest.TrainRow("101", "06:00", "11", "13"),
			protocoltest.TrainRow("103", "06:30", "11", "13"),
		)).
		Queue(protocol.EndpointReserve, protocoltest.Fail("WRT300004", "세션이 만료되었습니다")).
		Always(protocol.EndpointReserve, reserved("81000005"))
	e, h := newEngine(t, engine.Config{}, driver)

	res, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "101", res.Train.TrainNo)
	assert.Equal(t, 1, h.login.Calls())
	assert.Len(t, driver.Calls(protocol.EndpointSchedule), 2)
	assert.Equal(t, []string{"101", "101"}, h.observer.attempts)
}

func TestRunLoginFailureIsFatal(t *testing.T) {
	driver := protocoltest.NewFakeDriver().
		Always(protocol.EndpointSchedule, protocoltest.Fail("P058", "로그인 후 이용하십시오"))
	e, h := newEngine(t, engine.Config{}, driver)
	h.login.err = errors.ErrReauthTimeout

	_, err := e.Run(context.Background())
	assert.ErrorIs(t, err, errors.ErrReauthTimeout)
}

func TestRunCancelled(t *testing.T) {
	driver := protocoltest.NewFakeDriver().Always(protocol.EndpointSchedule, protocoltest.Schedule())
	e, _ := newEngine(t, engine.Config{}, driver)

	ctx, cancel := context.WithCancel(context.Background())
	e.Sleep = func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}

	_, err := e.Run(ctx)
	assert.ErrorIs(t, err, errors.ErrCancelled)
	assert.Len(t, driver.Calls(protocol.EndpointSchedule), 1)
}

func TestRunWaitingListAfterSeats(t *testing.T) {
	waiting := protocoltest.TrainRow("105", "07:00", "13", "13")
	waiting["h_wait_rsv_flg"] = "9"
	driver := protocoltest.NewFakeDriver().
		Always(protocol.EndpointSchedule, protocoltest.Schedule(
			waiting,
			protocoltest.TrainRow("101", "06:00", "11", "13"),
		)).
		Queue(protocol.EndpointReserve,
			protocoltest.Fail("WRR800029", "잔여석없음"),
			reserved("81000006"))
	e, h := newEngine(t, engine.Config{WaitingList: true}, driver)

	res, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "105", res.Train.TrainNo)
	assert.True(t, res.Waitlisted)
	assert.Equal(t, []string{"101", "105"}, h.observer.attempts)

	calls := driver.Calls(protocol.EndpointReserve)
	require.Len(t, calls, 2)
	assert.Equal(t, "1101", calls[0].Params["txtJobId"])
	assert.Equal(t, "1102", calls[1].Params["txtJobId"])
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := engine.New(engine.Config{}, nil, nil, nil, nil, nil)
	assert.Error(t, err)
}

func seats(general, special, standing string) protocol.Train {
	return protocol.Train{TrainNo: "101", GeneralCode: general, SpecialCode: special, StandingCode: standing}
}

func TestIsEligibleAnyIsGeneralOrSpecial(t *testing.T) {
	codes := []string{protocol.SeatAvailable, protocol.SeatSoldOut, protocol.SeatWaiting, ""}
	for _, g := range codes {
		for _, s := range codes {
			for _, st := range codes {
				train := seats(g, s, st)
				want := engine.IsEligible(train, engine.PreferGeneral) || engine.IsEligible(train, engine.PreferSpecial)
				assert.Equal(t, want, engine.IsEligible(train, engine.PreferAny), "general=%q special=%q standing=%q", g, s, st)
			}
		}
	}
}

func TestIsEligible(t *testing.T) {
	tests := []struct {
		name  string
		train protocol.Train
		pref  engine.SeatPreference
		want  bool
	}{
		{"general open", seats("11", "13", "13"), engine.PreferGeneral, true},
		{"general sold out", seats("13", "11", "11"), engine.PreferGeneral, false},
		{"special open", seats("13", "11", "13"), engine.PreferSpecial, true},
		{"special sold out", seats("11", "13", "11"), engine.PreferSpecial, false},
		{"standing open", seats("13", "13", "11"), engine.PreferStanding, true},
		{"standing sold out", seats("11", "11", "13"), engine.PreferStanding, false},
		{"any ignores standing", seats("13", "13", "11"), engine.PreferAny, false},
		{"any on special only", seats("13", "11", "13"), engine.PreferAny, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, engine.IsEligible(tt.train, tt.pref))
		})
	}
}

func TestChooseSeatClass(t *testing.T) {
	tests := []struct {
		name  string
		train protocol.Train
		pref  engine.SeatPreference
		want  protocol.SeatClass
	}{
		{"general", seats("11", "11", "11"), engine.PreferGeneral, protocol.SeatGeneral},
		{"special", seats("11", "11", "11"), engine.PreferSpecial, protocol.SeatSpecial},
		{"standing", seats("13", "13", "11"), engine.PreferStanding, protocol.SeatStanding},
		{"any prefers general", seats("11", "11", "13"), engine.PreferAny, protocol.SeatGeneral},
		{"any falls back to special", seats("13", "11", "13"), engine.PreferAny, protocol.SeatSpecial},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, engine.ChooseSeatClass(tt.train, tt.pref))
		})
	}
}

func TestResolveFollowsTargetOrder(t *testing.T) {
	row := func(no, dep string) protocol.Train {
		return protocol.Train{TrainNo: no, DepTime: dep, DepDate: "20261020", Departure: "서울", Arrival: "부산"}
	}
	trains := []protocol.Train{row("101", "0600"), row("103", "0630"), row("105", "0700")}
	targets := []protocol.TrainKey{row("105", "0700").Key(), row("999", "2300").Key(), row("101", "0600").Key()}

	found, missing := engine.Resolve(trains, targets)
	assert.Equal(t, 1, missing)
	require.Len(t, found, 2)
	assert.Equal(t, "105", found[0].TrainNo)
	assert.Equal(t, "101", found[1].TrainNo)

	again, missingAgain := engine.Resolve(trains, targets)
	assert.Equal(t, found, again)
	assert.Equal(t, missing, missingAgain)

	none, missingAll := engine.Resolve(nil, targets)
	assert.Empty(t, none)
	assert.Equal(t, len(targets), missingAll)
}
