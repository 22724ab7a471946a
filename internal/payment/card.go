package payment

import (
	"fmt"
	"strings"

	"github.com/ktxgo/ktxgo/internal/errors"
	"github.com/ktxgo/ktxgo/internal/protocol"
)

// Holder types
const (
	HolderPersonal = "J"
	HolderBusiness = "S"
)

// Card is the payment card. Birthday is YYMMDD for a personal card or the
// business registration number for a corporate card.
type Card struct {
	Number   string
	Password string // first two digits
	Birthday string
	Expire   string // YYMM
}

// HolderType is personal for identifiers of at most six characters.
func (c Card) HolderType() string {
	if len(strings.TrimSpace(c.Birthday)) <= 6 {
		return HolderPersonal
	}
	return HolderBusiness
}

// Missing lists the fields that are empty.
func (c Card) Missing() []string {
	var missing []string
	for _, f := range []struct{ name, value string }{
		{"card_number", c.Number},
		{"card_password", c.Password},
		{"birthday", c.Birthday},
		{"card_expire", c.Expire},
	} {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	return missing
}

// Validate checks the card before any vendor call is made.
func (c Card) Validate() error {
	if missing := c.Missing(); len(missing) > 0 {
		return fmt.Errorf("%w: card fields missing: %s", errors.ErrCardIncomplete, strings.Join(missing, ", "))
	}
	if len(protocol.DigitsOnly(c.Expire)) != 4 {
		return errors.NewValidationError("payment").
			WithMessage("card expiry must be YYMM").
			WithCode("invalid_card_expire").
			Build()
	}
	return nil
}

// Normalized strips separators from the card number and expiry.
func (c Card) Normalized() Card {
	return Card{
		Number:   protocol.DigitsOnly(c.Number),
		Password: strings.TrimSpace(c.Password),
		Birthday: strings.TrimSpace(c.Birthday),
		Expire:   protocol.DigitsOnly(c.Expire),
	}
}

// Options tunes the payment request
type Options struct {
	SmartTicket bool
	Installment int
	// HolderType overrides the type derived from the card.
	HolderType string
}

// DefaultOptions issues a smart ticket paid in one installment.
func DefaultOptions() Options {
	return Options{SmartTicket: true}
}
