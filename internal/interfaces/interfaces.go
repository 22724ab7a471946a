// Package interfaces defines the narrow contracts between the reservation
// engine and its collaborators: the browser driver that owns the vendor
// session, the secret store holding payment credentials, outbound
// notification channels and interactive prompting. Concrete adapters live in
// their own packages so the engine can be exercised against test doubles.
package interfaces

import (
	"context"
	"time"
)

// Driver executes vendor calls inside an authenticated browsing context.
// A Driver is owned by one engine at a time and is not safe for concurrent use.
type Driver interface {
	// Navigate loads url and waits until the page settles.
	Navigate(ctx context.Context, url string) error

	// CallEndpoint POSTs params form-encoded to path (relative to the vendor
	// origin) using the session's cookies and returns the raw response body.
	CallEndpoint(ctx context.Context, path string, params map[string]string) (string, error)

	// IsSessionPersisted reports whether a saved session was found on disk.
	IsSessionPersisted() bool

	// PersistSession writes the current session (cookies and storage) to disk.
	PersistSession() error

	// ClearSession removes any persisted session.
	ClearSession() error

	// Close releases the browsing context.
	Close() error
}

// DriverFactory opens a Driver. headless selects whether a window is shown.
type DriverFactory func(ctx context.Context, headless bool) (Driver, error)

// SecretStore persists secrets keyed by name
type SecretStore interface {
	// Store saves a secret value under the given key
	Store(key string, value []byte) error

	// Retrieve loads the secret stored under key
	Retrieve(key string) ([]byte, error)

	// Delete removes the secret stored under key
	Delete(key string) error

	// Exists reports whether a secret is stored under key
	Exists(key string) bool
}

// Event describes a terminal reservation outcome for notification channels.
type Event struct {
	RunID      string    `json:"runId"`
	Paid       bool      `json:"paid"`
	PNR        string    `json:"pnr"`
	TrainType  string    `json:"trainType"`
	TrainNo    string    `json:"trainNo"`
	Departure  string    `json:"departure"`
	Arrival    string    `json:"arrival"`
	DepDate    string    `json:"depDate"`
	DepTime    string    `json:"depTime"`
	SeatClass  string    `json:"seatClass"`
	Amount     string    `json:"amount,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

// Notifier delivers reservation outcomes to an external channel.
type Notifier interface {
	// Name identifies the channel in logs and metrics
	Name() string

	// Notify delivers the event. Failures never affect the reservation.
	Notify(ctx context.Context, event Event) error
}

// Choice is one option offered by a Prompter.
type Choice struct {
	Label string
	Value string
}

// Prompter asks the operator to choose among options.
type Prompter interface {
	// Select returns the value of one chosen option
	Select(title string, choices []Choice, defaultValue string) (string, error)

	// MultiSelect returns the values of the chosen options, in option order
	MultiSelect(title string, choices []Choice) ([]string, error)

	// Confirm asks a yes/no question
	Confirm(title string, defaultYes bool) (bool, error)
}
