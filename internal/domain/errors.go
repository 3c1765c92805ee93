package domain

import "errors"

// RetriableError defines an interface for errors that can be retried
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetriable checks if an error is retriable
func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

// NetworkError represents a network-related error that may be retriable
type NetworkError struct {
	Op        string // Operation that failed (e.g., "query_positions", "place_order")
	Err       error  // Underlying error
	Retriable bool   // Whether this error is retriable
}

func (e *NetworkError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *NetworkError) IsRetriable() bool {
	return e.Retriable
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// NewNetworkError creates a new retriable network error
func NewNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: true}
}

// NewFatalNetworkError creates a non-retriable network error
func NewFatalNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: false}
}

// ConfigError represents a configuration error (never retriable)
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return "config error [" + e.Field + "]: " + e.Err.Error()
}

func (e *ConfigError) IsRetriable() bool {
	return false
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// OrderRejectedError is returned when the venue answers with a non-success code.
// The next trigger retries the whole cycle, so it is not retriable in place.
type OrderRejectedError struct {
	Code string
	Msg  string
}

func (e *OrderRejectedError) Error() string {
	return "order rejected: code=" + e.Code + " msg=" + e.Msg
}

func (e *OrderRejectedError) IsRetriable() bool {
	return false
}

var (
	// ErrConnectionFailed is returned when websocket connection fails. It's usually retriable.
	ErrConnectionFailed = errors.New("connection failed")

	// ErrFeedExhausted is returned when the feed gave up reconnecting.
	ErrFeedExhausted = errors.New("feed reconnect attempts exhausted")

	// ErrInvalidSymbol is returned when a symbol is not supported or malformed. Not retriable.
	ErrInvalidSymbol = errors.New("invalid symbol")

	// ErrInvalidPrice is returned when a price is zero or negative.
	ErrInvalidPrice = errors.New("invalid price")

	// ErrZeroQuantity is returned when sizing rounds down to nothing.
	ErrZeroQuantity = errors.New("computed quantity is not positive")

	// ErrUnconfirmedPlacement means an order was accepted but never observed open.
	// Capital may be committed without the engine knowing; operators must check.
	ErrUnconfirmedPlacement = errors.New("placed order not confirmed open")

	// ErrConfigNotFound is returned when configuration file is missing
	ErrConfigNotFound = errors.New("configuration not found")
)
