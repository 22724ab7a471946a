package session_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ktxgo/ktxgo/internal/logging"
	"github.com/ktxgo/ktxgo/internal/protocol"
	"github.com/ktxgo/ktxgo/internal/protocol/protocoltest"
	"github.com/ktxgo/ktxgo/internal/session"
)

var (
	loggedIn  = protocoltest.OK(map[string]interface{}{"strMbCrdNo": "1234567890", "strCustNm": "홍길동"})
	loggedOut = protocoltest.OK(map[string]interface{}{"h_msg_txt": "로그인 정보가 없습니다."})
)

func fastOptions() session.Options {
	return session.Options{
		StableChecks:  2,
		ProbeInterval: time.Millisecond,
		StableWindow:  500 * time.Millisecond,
		RetryPause:    time.Millisecond,
	}
}

func newManager(t *testing.T, driver *protocoltest.FakeDriver) *session.Manager {
	t.Helper()
	client, err := protocol.NewClient(driver,
		protocol.WithMinCallSpacing(0),
		protocol.WithLogger(logging.Discard()),
		protocol.WithBaseURL("http://vendor.test"))
	require.NoError(t, err)
	return session.NewManager(client, fastOptions(), logging.Discard())
}

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name string
		data protocol.Payload
		want bool
	}{
		{"success with member number", protocol.Payload{"strResult": "SUCC", "strMbCrdNo": "123"}, true},
		{"success with name", protocol.Payload{"strResult": "SUCCESS", "strCustNm": "홍길동"}, true},
		{"success without identity", protocol.Payload{"strResult": "SUCC"}, false},
		{"success with placeholder identity", protocol.Payload{"strResult": "Y", "strMbCrdNo": "N", "mbCrdNo": "0"}, false},
		{"no-login marker wins over identity", protocol.Payload{"strResult": "SUCC", "strMbCrdNo": "123", "h_msg_txt": "로그인 정보가 없습니다."}, false},
		{"loose no-login marker", protocol.Payload{"strResult": "SUCC", "loginYn": "Y", "h_msg_txt": "로그인 이력이 없습니다"}, false},
		{"login flag alone", protocol.Payload{"loginYn": "Y"}, true},
		{"login flag negative", protocol.Payload{"isLogin": "false"}, false},
		{"failure result with identity", protocol.Payload{"strResult": "N", "strMbCrdNo": "123"}, false},
		{"empty payload", protocol.Payload{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, session.Evaluate(tt.data))
		})
	}
}

func TestExtractProfile(t *testing.T) {
	p := session.ExtractProfile(protocol.Payload{
		"strResult": "SUCC",
		"mbCrdNo":   "0",
		"custNo":    "555",
		"custNm":    "김철수",
		"userId":    "kim",
	})
	require.NotNil(t, p)
	assert.Equal(t, session.Profile{MemberNo: "555", Name: "김철수", LoginID: "kim"}, *p)

	empty := session.ExtractProfile(protocol.Payload{"strResult": "FAIL"})
	require.NotNil(t, empty)
	assert.Equal(t, session.Profile{}, *empty)

	assert.Nil(t, session.ExtractProfile(protocol.Payload{"h_msg_txt": "로그인 정보가 없습니다."}))
}

func TestIsAuthenticatedProbeFailure(t *testing.T) {
	driver := protocoltest.NewFakeDriver().Queue(protocol.EndpointLoginCheck, protocoltest.Raw(""))
	assert.False(t, newManager(t, driver).IsAuthenticated(context.Background()))
}

func TestCheckReturnsExplicitState(t *testing.T) {
	driver := protocoltest.NewFakeDriver().Queue(protocol.EndpointLoginCheck, loggedIn, loggedOut)
	m := newManager(t, driver)

	state := m.Check(context.Background())
	assert.True(t, state.Authenticated)
	require.NotNil(t, state.Profile)
	assert.Equal(t, "홍길동", state.Profile.Name)

	state = m.Check(context.Background())
	assert.False(t, state.Authenticated)
	assert.Nil(t, state.Profile)
}

func TestWaitStableRequiresConsecutiveSuccesses(t *testing.T) {
	driver := protocoltest.NewFakeDriver().
		Queue(protocol.EndpointLoginCheck, loggedIn, loggedOut, loggedIn, loggedIn)
	m := newManager(t, driver)

	ok, err := m.WaitStable(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Len(t, driver.Calls(protocol.EndpointLoginCheck), 4)
}

func TestReauthenticateSucceeds(t *testing.T) {
	driver := protocoltest.NewFakeDriver().
		Queue(protocol.EndpointLoginCheck, loggedOut, loggedOut, loggedIn).
		Always(protocol.EndpointLoginCheck, loggedIn)
	m := newManager(t, driver)

	ok, err := m.Reauthenticate(context.Background(), 5*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{
		"http://vendor.test" + protocol.LoginPath,
		"http://vendor.test" + protocol.SearchPath,
	}, driver.Navigated())
}

func TestReauthenticateTimesOut(t *testing.T) {
	driver := protocoltest.NewFakeDriver().Always(protocol.EndpointLoginCheck, loggedOut)
	m := newManager(t, driver)

	ok, err := m.Reauthenticate(context.Background(), 50*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, []string{"http://vendor.test" + protocol.LoginPath}, driver.Navigated())
}

func TestReauthenticateCancelled(t *testing.T) {
	driver := protocoltest.NewFakeDriver().Always(protocol.EndpointLoginCheck, loggedOut)
	m := newManager(t, driver)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	ok, err := m.Reauthenticate(ctx, time.Minute)
	assert.False(t, ok)
	assert.Error(t, err)
}
