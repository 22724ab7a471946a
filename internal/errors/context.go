// Package errors implements the error taxonomy of the reservation engine.
// It carries vendor failures as values with the vendor's message and code
// intact, classifies them with a pure function, and maps each class to a
// single recovery decision that the poller, the attempter and the payment
// resolver all consult.
package errors

import (
	"context"
	stderrors "errors"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/ktxgo/ktxgo/internal/logging"
)

// ErrorType names the layer a non-vendor failure came from.
type ErrorType string

const (
	ErrorTypeNetwork       ErrorType = "network"
	ErrorTypeProtocol      ErrorType = "protocol"
	ErrorTypeConfiguration ErrorType = "configuration"
	ErrorTypeValidation    ErrorType = "validation"
	ErrorTypeBrowser       ErrorType = "browser"
	ErrorTypeMultiple      ErrorType = "multiple"
)

// fatalTypes never get better by retrying the same input.
var fatalTypes = map[ErrorType]bool{
	ErrorTypeConfiguration: true,
	ErrorTypeValidation:    true,
}

// ContextualError is a failure raised by ktxgo itself rather than by the
// vendor: a navigation that timed out, a response that did not decode, a
// card that failed local validation. Fields carries lookup keys such as the
// endpoint or URL for logs; secrets never go there.
type ContextualError struct {
	Type      ErrorType
	Component string
	Operation string
	Message   string
	Code      string
	Fields    map[string]string
	Cause     error
}

func (e *ContextualError) Error() string {
	var b strings.Builder
	b.WriteString(e.Component)
	if e.Operation != "" {
		b.WriteString(" " + e.Operation)
	}
	b.WriteString(": " + e.Message)
	if e.Cause != nil {
		b.WriteString(": " + e.Cause.Error())
	}
	return b.String()
}

func (e *ContextualError) Unwrap() error {
	return e.Cause
}

// Kind places the error in the engine taxonomy. Configuration and
// validation failures are fatal, everything else is transient.
func (e *ContextualError) Kind() Kind {
	if fatalTypes[e.Type] {
		return KindFatal
	}
	return KindTransient
}

// LogValue renders the error as a structured group so that handlers log
// the type, operation and fields as separate attributes.
func (e *ContextualError) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("type", string(e.Type)),
		slog.String("component", e.Component),
		slog.String("message", e.Message),
	}
	if e.Operation != "" {
		attrs = append(attrs, slog.String("operation", e.Operation))
	}
	if e.Code != "" {
		attrs = append(attrs, slog.String("code", e.Code))
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		attrs = append(attrs, slog.String(k, e.Fields[k]))
	}
	if e.Cause != nil {
		attrs = append(attrs, slog.String("cause", e.Cause.Error()))
	}
	return slog.GroupValue(attrs...)
}

// Attr is the "error" log attribute for err. When err wraps a
// ContextualError its details are logged as a nested group.
func Attr(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "")
	}
	var ctxErr *ContextualError
	if stderrors.As(err, &ctxErr) {
		return slog.Group("error", slog.String("text", err.Error()), slog.Any("detail", ctxErr))
	}
	return slog.String("error", err.Error())
}

// ErrorBuilder assembles a ContextualError.
type ErrorBuilder struct {
	err *ContextualError
}

// NewErrorBuilder starts an error of the given type raised by component.
func NewErrorBuilder(errorType ErrorType, component string) *ErrorBuilder {
	return &ErrorBuilder{err: &ContextualError{Type: errorType, Component: component}}
}

func NewNetworkError(component string) *ErrorBuilder {
	return NewErrorBuilder(ErrorTypeNetwork, component)
}

func NewProtocolError(component string) *ErrorBuilder {
	return NewErrorBuilder(ErrorTypeProtocol, component)
}

func NewConfigurationError(component string) *ErrorBuilder {
	return NewErrorBuilder(ErrorTypeConfiguration, component)
}

func NewValidationError(component string) *ErrorBuilder {
	return NewErrorBuilder(ErrorTypeValidation, component)
}

func NewBrowserError(component string) *ErrorBuilder {
	return NewErrorBuilder(ErrorTypeBrowser, component)
}

func (eb *ErrorBuilder) WithMessage(message string) *ErrorBuilder {
	eb.err.Message = message
	return eb
}

func (eb *ErrorBuilder) WithCode(code string) *ErrorBuilder {
	eb.err.Code = code
	return eb
}

func (eb *ErrorBuilder) WithOperation(operation string) *ErrorBuilder {
	eb.err.Operation = operation
	return eb
}

func (eb *ErrorBuilder) WithCause(cause error) *ErrorBuilder {
	eb.err.Cause = cause
	return eb
}

// WithContext records a lookup key such as the endpoint or URL.
func (eb *ErrorBuilder) WithContext(key, value string) *ErrorBuilder {
	if eb.err.Fields == nil {
		eb.err.Fields = make(map[string]string)
	}
	eb.err.Fields[key] = value
	return eb
}

func (eb *ErrorBuilder) Build() *ContextualError {
	return eb.err
}

// ErrorChain collects the failures of steps that all run regardless of
// earlier failures, such as the lookups of payment hydration or the
// close sequence of a browser.
type ErrorChain struct {
	errors []error
	logger *logging.Logger
}

// NewErrorChain creates an empty chain. logger may be nil.
func NewErrorChain(logger *logging.Logger) *ErrorChain {
	return &ErrorChain{logger: logger}
}

// Add appends err if it is not nil.
func (ec *ErrorChain) Add(err error) *ErrorChain {
	if err == nil {
		return ec
	}
	ec.errors = append(ec.errors, err)
	if ec.logger != nil {
		ec.logger.Debug("Step failed", "error", err.Error(), "failures", len(ec.errors))
	}
	return ec
}

func (ec *ErrorChain) HasErrors() bool {
	return len(ec.errors) > 0
}

func (ec *ErrorChain) Errors() []error {
	return ec.errors
}

// Combined returns nil for an empty chain and otherwise one error whose
// message lists every failure. errors.Is and errors.As match any of them.
func (ec *ErrorChain) Combined(component, message string) error {
	if !ec.HasErrors() {
		return nil
	}
	return NewErrorBuilder(ErrorTypeMultiple, component).
		WithMessage(message).
		WithCause(append(joined(nil), ec.errors...)).
		Build()
}

type joined []error

func (j joined) Error() string {
	messages := make([]string, len(j))
	for i, err := range j {
		messages[i] = err.Error()
	}
	return strings.Join(messages, "; ")
}

func (j joined) Unwrap() []error {
	return j
}

// Sleep waits for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
