package auth

import (
	stderrors "errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ktxgo/ktxgo/internal/interfaces"
	"github.com/ktxgo/ktxgo/internal/logging"
	"github.com/ktxgo/ktxgo/internal/payment"
)

// Card secret names under ServiceKTX
const (
	CardNumber   = "card_number"
	CardPassword = "card_password"
	CardBirthday = "birthday"
	CardExpire   = "card_expire"
)

// Telegram secret names under ServiceTelegram
const (
	TelegramToken  = "token"
	TelegramChatID = "chat_id"
)

// Warnings reports a disabled credential store once per process. It is
// created by the caller and handed to everything that opens the store.
type Warnings struct {
	logger        *logging.Logger
	alreadyWarned bool
	mutex         sync.Mutex
}

// NewWarnings creates a warn-once reporter.
func NewWarnings(logger *logging.Logger) *Warnings {
	if logger == nil {
		logger = logging.GetAuthLogger()
	}
	return &Warnings{logger: logger}
}

// Disabled logs that stored credentials are unavailable. Only the first
// call logs.
func (w *Warnings) Disabled(cause error) {
	if w == nil {
		return
	}
	w.mutex.Lock()
	defer w.mutex.Unlock()
	if w.alreadyWarned {
		return
	}
	w.alreadyWarned = true
	w.logger.Warn("Stored credentials/settings are disabled.", "error", cause.Error())
}

// Warned reports whether the warning has been emitted.
func (w *Warnings) Warned() bool {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	return w.alreadyWarned
}

func lookup(store interfaces.SecretStore, service, name string) (string, error) {
	value, err := store.Retrieve(Key(service, name))
	if stderrors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(value)), nil
}

// LoadCard reads the payment card. Missing fields are left empty; use
// Card.Missing to check completeness.
func LoadCard(store interfaces.SecretStore) (payment.Card, error) {
	var card payment.Card
	fields := []struct {
		name string
		dst  *string
	}{
		{CardNumber, &card.Number},
		{CardPassword, &card.Password},
		{CardBirthday, &card.Birthday},
		{CardExpire, &card.Expire},
	}
	for _, f := range fields {
		value, err := lookup(store, ServiceKTX, f.name)
		if err != nil {
			return payment.Card{}, fmt.Errorf("failed to load %s: %w", f.name, err)
		}
		*f.dst = value
	}
	return card, nil
}

// SaveCard validates and stores the payment card.
func SaveCard(store interfaces.SecretStore, card payment.Card) error {
	if err := card.Validate(); err != nil {
		return err
	}
	card = card.Normalized()
	for name, value := range map[string]string{
		CardNumber:   card.Number,
		CardPassword: card.Password,
		CardBirthday: card.Birthday,
		CardExpire:   card.Expire,
	} {
		if err := store.Store(Key(ServiceKTX, name), []byte(value)); err != nil {
			return fmt.Errorf("failed to store %s: %w", name, err)
		}
	}
	return nil
}

// ClearCard removes the payment card.
func ClearCard(store interfaces.SecretStore) error {
	for _, name := range []string{CardNumber, CardPassword, CardBirthday, CardExpire} {
		if err := store.Delete(Key(ServiceKTX, name)); err != nil {
			return fmt.Errorf("failed to delete %s: %w", name, err)
		}
	}
	return nil
}

// Telegram holds the bot token and destination chat.
type Telegram struct {
	Token  string
	ChatID string
}

// Complete reports whether both values are present.
func (t Telegram) Complete() bool {
	return t.Token != "" && t.ChatID != ""
}

// LoadTelegram reads the Telegram credentials.
func LoadTelegram(store interfaces.SecretStore) (Telegram, error) {
	token, err := lookup(store, ServiceTelegram, TelegramToken)
	if err != nil {
		return Telegram{}, fmt.Errorf("failed to load telegram token: %w", err)
	}
	chatID, err := lookup(store, ServiceTelegram, TelegramChatID)
	if err != nil {
		return Telegram{}, fmt.Errorf("failed to load telegram chat id: %w", err)
	}
	return Telegram{Token: token, ChatID: chatID}, nil
}

// SaveTelegram stores the Telegram credentials.
func SaveTelegram(store interfaces.SecretStore, t Telegram) error {
	if !t.Complete() {
		return fmt.Errorf("telegram token and chat id are both required")
	}
	if err := store.Store(Key(ServiceTelegram, TelegramToken), []byte(t.Token)); err != nil {
		return fmt.Errorf("failed to store telegram token: %w", err)
	}
	if err := store.Store(Key(ServiceTelegram, TelegramChatID), []byte(t.ChatID)); err != nil {
		return fmt.Errorf("failed to store telegram chat id: %w", err)
	}
	return nil
}
