package channel

import (
	"context"
	"errors"
)

// ErrNotConnected is returned when a dispatch or validation is attempted
// against a credential that is not connected.
var ErrNotConnected = errors.New("channel not connected for tenant")

// Adapter is implemented once per channel. Normalize parses a raw platform
// event into the canonical Inbound form; ok=false means the event is
// recognized but intentionally ignored (non-text payloads, self-authored
// echoes, delivery status updates). Dispatch performs a single best-effort
// send; callers log and swallow its error without retrying.
type Adapter interface {
	Type() Type
	Normalize(raw []byte) (msg Inbound, ok bool, err error)
	Dispatch(ctx context.Context, cred Credential, msg Outbound) error
	// ValidateCredential checks a credential against the platform's own
	// identity-check API before it is persisted.
	ValidateCredential(ctx context.Context, cred Credential) (Identity, error)
}
