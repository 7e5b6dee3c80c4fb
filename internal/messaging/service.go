// Package messaging provides the pluggable outbound channel abstraction for BookingBridge.
package messaging

import (
	"context"
	"errors"
	"regexp"
	"time"

	"github.com/BTreeMap/BookingBridge/internal/models"
)

// Channel buffer and emit settings shared by service implementations.
const (
	// DefaultChannelBufferSize is the buffer size for receipt channels.
	DefaultChannelBufferSize = 64
	// DefaultChannelTimeout bounds how long an emit may block before dropping.
	DefaultChannelTimeout = 100 * time.Millisecond
)

// ErrServiceStopped is returned when a send is attempted after Stop.
var ErrServiceStopped = errors.New("messaging service stopped")

// phoneNumberRegex strips everything that is not a digit during
// canonicalization of operator-supplied recipients.
var phoneNumberRegex = regexp.MustCompile(`[^0-9]`)

// Service defines a pluggable message delivery abstraction.
type Service interface {
	// ValidateAndCanonicalizeRecipient validates and canonicalizes an
	// operator-supplied recipient identifier. Webhook replies bypass this:
	// they reuse the inbound sender address byte-for-byte.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendMessage sends a message to a recipient address as given.
	SendMessage(ctx context.Context, to string, body string) error

	// Stop stops the service and closes its channels.
	Stop() error

	// Receipts returns a channel of delivery receipt events.
	Receipts() <-chan models.Receipt
}
