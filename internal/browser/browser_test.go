package browser_test

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ktxgo/ktxgo/internal/browser"
	"github.com/ktxgo/ktxgo/internal/errors"
	"github.com/ktxgo/ktxgo/internal/interfaces"
	"github.com/ktxgo/ktxgo/internal/logging"
	"github.com/ktxgo/ktxgo/internal/protocol"
	"github.com/ktxgo/ktxgo/internal/protocol/protocoltest"
	"github.com/ktxgo/ktxgo/internal/session"
)

func newVendorServer(t *testing.T) (*protocoltest.Vendor, *httptest.Server) {
	t.Helper()
	vendor := protocoltest.NewVendor(protocoltest.VendorConfig{
		Trains: []map[string]interface{}{protocoltest.TrainRow("101", "06:00", "11", "13")},
	}, logging.Discard())
	srv := httptest.NewServer(vendor.Handler())
	t.Cleanup(srv.Close)
	return vendor, srv
}

func newClient(t *testing.T, driver interfaces.Driver, baseURL string) *protocol.Client {
	t.Helper()
	client, err := protocol.NewClient(driver,
		protocol.WithBaseURL(baseURL),
		protocol.WithMinCallSpacing(0),
		protocol.WithLogger(logging.Discard()))
	require.NoError(t, err)
	return client
}

func TestHTTPDriverLoginAndSearch(t *testing.T) {
	_, srv := newVendorServer(t)
	state := browser.NewState(t.TempDir())
	driver, err := browser.NewHTTP(browser.HTTPOptions{
		BaseURL: srv.URL,
		State:   state,
		Login:   &browser.Credentials{Member: "1234567890", Password: "secret"},
	}, logging.Discard())
	require.NoError(t, err)
	defer driver.Close()

	client := newClient(t, driver, srv.URL)
	sessions := session.NewManager(client, session.DefaultOptions(), logging.Discard())
	ctx := context.Background()

	assert.False(t, sessions.IsAuthenticated(ctx))
	_, err = client.Search(ctx, protocol.SearchQuery{Departure: "서울", Arrival: "부산", Date: "20261020", Hour: "06", Adults: 1})
	assert.True(t, errors.IsSessionExpired(err))

	require.NoError(t, driver.Navigate(ctx, client.LoginURL()))
	assert.True(t, sessions.IsAuthenticated(ctx))

	trains, err := client.Search(ctx, protocol.SearchQuery{Departure: "서울", Arrival: "부산", Date: "20261020", Hour: "06", Adults: 1})
	require.NoError(t, err)
	require.Len(t, trains, 1)
	assert.Equal(t, "101", trains[0].TrainNo)
	assert.Equal(t, "20261020", trains[0].DepDate)
}

func TestHTTPDriverRejectsBadLogin(t *testing.T) {
	_, srv := newVendorServer(t)
	driver, err := browser.NewHTTP(browser.HTTPOptions{
		BaseURL: srv.URL,
		State:   browser.NewState(t.TempDir()),
		Login:   &browser.Credentials{Member: "1234567890", Password: "wrong"},
	}, logging.Discard())
	require.NoError(t, err)

	assert.Error(t, driver.Navigate(context.Background(), protocol.LoginPath))
}

func TestHTTPDriverPersistsAndRestoresSession(t *testing.T) {
	_, srv := newVendorServer(t)
	dir := filepath.Join(t.TempDir(), "data")
	state := browser.NewState(dir)
	opts := browser.HTTPOptions{
		BaseURL: srv.URL,
		State:   state,
		Login:   &browser.Credentials{Member: "1234567890", Password: "secret"},
	}

	first, err := browser.NewHTTP(opts, logging.Discard())
	require.NoError(t, err)
	assert.False(t, first.IsSessionPersisted())
	require.NoError(t, first.Navigate(context.Background(), protocol.LoginPath))
	require.NoError(t, first.PersistSession())
	assert.True(t, first.IsSessionPersisted())

	info, err := os.Stat(state.CookiePath())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	dirInfo, err := os.Stat(dir)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o700), dirInfo.Mode().Perm())

	opts.Login = nil
	second, err := browser.NewHTTP(opts, logging.Discard())
	require.NoError(t, err)
	sessions := session.NewManager(newClient(t, second, srv.URL), session.DefaultOptions(), logging.Discard())
	assert.True(t, sessions.IsAuthenticated(context.Background()))

	require.NoError(t, second.ClearSession())
	assert.False(t, second.IsSessionPersisted())
}

func TestStateCookiesRoundTrip(t *testing.T) {
	state := browser.NewState(t.TempDir())
	cookies, err := state.ReadCookies()
	require.NoError(t, err)
	assert.Empty(t, cookies)

	want := []browser.Cookie{{Name: "JSESSIONID", Value: "abc", Domain: "www.korail.com", Path: "/", HttpOnly: true}}
	require.NoError(t, state.WriteCookies(want))
	got, err := state.ReadCookies()
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.True(t, state.Exists())
	assert.False(t, state.HasStorage())

	require.NoError(t, state.Clear())
	assert.False(t, state.Exists())
	require.NoError(t, state.Clear())
}

func TestHandleRestartSwapsDriver(t *testing.T) {
	var opened []*protocoltest.FakeDriver
	var modes []bool
	factory := func(ctx context.Context, headless bool) (interfaces.Driver, error) {
		d := protocoltest.NewFakeDriver().Always("/ping", protocoltest.OK(nil))
		opened = append(opened, d)
		modes = append(modes, headless)
		return d, nil
	}

	h, err := browser.Open(context.Background(), factory, true, logging.Discard())
	require.NoError(t, err)
	assert.True(t, h.Headless())

	require.NoError(t, h.Restart(context.Background(), false))
	assert.False(t, h.Headless())
	require.Len(t, opened, 2)
	assert.True(t, opened[0].Closed())
	assert.Equal(t, []bool{true, false}, modes)

	_, err = h.CallEndpoint(context.Background(), "/ping", nil)
	require.NoError(t, err)
	assert.Empty(t, opened[0].Calls("/ping"))
	assert.Len(t, opened[1].Calls("/ping"), 1)

	require.NoError(t, h.PersistSession())
	assert.True(t, h.IsSessionPersisted())
	assert.Equal(t, 1, opened[1].PersistCount())

	require.NoError(t, h.Close())
	assert.True(t, opened[1].Closed())
	_, err = h.CallEndpoint(context.Background(), "/ping", nil)
	assert.Error(t, err)
	assert.False(t, h.IsSessionPersisted())
}
