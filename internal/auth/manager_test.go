package auth

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ktxgo/ktxgo/internal/errors"
	"github.com/ktxgo/ktxgo/internal/logging"
	"github.com/ktxgo/ktxgo/internal/payment"
)

func TestManagerStoreRetrieveDelete(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir, logging.Discard())
	require.NoError(t, err)

	_, err = m.Retrieve(Key(ServiceKTX, CardNumber))
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, m.Exists(Key(ServiceKTX, CardNumber)))

	require.NoError(t, m.Store(Key(ServiceKTX, CardNumber), []byte("9410123412341234")))
	assert.True(t, m.Exists(Key(ServiceKTX, CardNumber)))

	raw, err := os.ReadFile(filepath.Join(dir, CredentialsFile))
	require.NoError(t, err)
	assert.False(t, bytes.Contains(raw, []byte("9410123412341234")))
	info, err := os.Stat(filepath.Join(dir, CredentialsFile))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	reopened, err := NewManager(dir, logging.Discard())
	require.NoError(t, err)
	value, err := reopened.Retrieve(Key(ServiceKTX, CardNumber))
	require.NoError(t, err)
	assert.Equal(t, "9410123412341234", string(value))

	keys, err := reopened.Keys()
	require.NoError(t, err)
	assert.Equal(t, []string{"KTX/card_number"}, keys)

	require.NoError(t, reopened.Delete(Key(ServiceKTX, CardNumber)))
	require.NoError(t, reopened.Delete(Key(ServiceKTX, CardNumber)))
	assert.False(t, reopened.Exists(Key(ServiceKTX, CardNumber)))
}

func TestManagerRejectsEmptyInput(t *testing.T) {
	m, err := NewManager(t.TempDir(), logging.Discard())
	require.NoError(t, err)
	assert.Error(t, m.Store("", []byte("x")))
	assert.Error(t, m.Store("KTX/card_number", nil))
}

func TestManagerClear(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir, logging.Discard())
	require.NoError(t, err)
	require.NoError(t, m.Store(Key(ServiceTelegram, TelegramToken), []byte("bot")))

	require.NoError(t, m.Clear())
	assert.False(t, m.Exists(Key(ServiceTelegram, TelegramToken)))
	_, err = os.Stat(filepath.Join(dir, CredentialsFile))
	assert.True(t, os.IsNotExist(err))
}

func TestOpenDisabledWarnsOnce(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewLoggerWithWriter(logging.DefaultConfig(), &buf)
	warnings := NewWarnings(logger)

	// A regular file where the data directory should be makes key setup fail.
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))
	dataDir := filepath.Join(blocker, "data")

	first := Open(dataDir, warnings, logger)
	second := Open(dataDir, warnings, logger)
	assert.False(t, first.Enabled())
	assert.False(t, second.Enabled())
	assert.True(t, warnings.Warned())
	assert.Equal(t, 1, bytes.Count(buf.Bytes(), []byte("Stored credentials/settings are disabled.")))

	_, err := first.Retrieve(Key(ServiceKTX, CardNumber))
	assert.ErrorIs(t, err, ErrDisabled)
	assert.ErrorIs(t, first.Store(Key(ServiceKTX, CardNumber), []byte("1")), ErrDisabled)
	assert.False(t, first.Exists(Key(ServiceKTX, CardNumber)))
}

func TestOpenEnabledDoesNotWarn(t *testing.T) {
	warnings := NewWarnings(logging.Discard())
	m := Open(t.TempDir(), warnings, logging.Discard())
	assert.True(t, m.Enabled())
	assert.False(t, warnings.Warned())
}

func TestCardRoundTrip(t *testing.T) {
	m, err := NewManager(t.TempDir(), logging.Discard())
	require.NoError(t, err)

	card, err := LoadCard(m)
	require.NoError(t, err)
	assert.Len(t, card.Missing(), 4)

	require.NoError(t, SaveCard(m, payment.Card{
		Number:   "9410-1234-1234-1234",
		Password: "12",
		Birthday: "900101",
		Expire:   "28/07",
	}))
	card, err = LoadCard(m)
	require.NoError(t, err)
	assert.Equal(t, payment.Card{Number: "9410123412341234", Password: "12", Birthday: "900101", Expire: "2807"}, card)
	assert.Empty(t, card.Missing())

	require.NoError(t, ClearCard(m))
	card, err = LoadCard(m)
	require.NoError(t, err)
	assert.Len(t, card.Missing(), 4)
}

func TestSaveCardRejectsIncompleteCard(t *testing.T) {
	m, err := NewManager(t.TempDir(), logging.Discard())
	require.NoError(t, err)
	err = SaveCard(m, payment.Card{Number: "9410123412341234"})
	assert.ErrorIs(t, err, errors.ErrCardIncomplete)
	assert.False(t, m.Exists(Key(ServiceKTX, CardNumber)))
}

func TestTelegramCredentials(t *testing.T) {
	m, err := NewManager(t.TempDir(), logging.Discard())
	require.NoError(t, err)

	tg, err := LoadTelegram(m)
	require.NoError(t, err)
	assert.False(t, tg.Complete())

	assert.Error(t, SaveTelegram(m, Telegram{Token: "bot"}))
	require.NoError(t, SaveTelegram(m, Telegram{Token: "123:abc", ChatID: "42"}))
	tg, err = LoadTelegram(m)
	require.NoError(t, err)
	assert.Equal(t, Telegram{Token: "123:abc", ChatID: "42"}, tg)
}
