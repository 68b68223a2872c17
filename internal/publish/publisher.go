// Package publish implements the social-media publishing capability: one
// variant per destination, each owning its credential lifecycle and its
// reply-chain token semantics.
package publish

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/a2council/a2councilbot/internal/compose"
)

// Publisher is the polymorphic publishing capability. Reply-chain tokens are
// opaque to callers: a scalar post ID for most destinations, a structured
// parent/root reference for Bluesky. Callers persist tokens as-is and hand
// them back on the next Publish.
type Publisher interface {
	// Name is the destination's registry name.
	Name() string

	// RefreshCredentials obtains or renews credentials. It is idempotent and
	// must succeed before the first Publish. Variants with expiring tokens
	// also invoke it lazily from Publish.
	RefreshCredentials(ctx context.Context) error

	// Publish renders the post for this destination and sends it, replying
	// to inReplyTo when non-nil. It returns the token a follow-up post must
	// use to continue the thread.
	Publish(ctx context.Context, post *compose.Post, inReplyTo json.RawMessage) (json.RawMessage, error)
}

// AuthError reports a failed credential refresh. Publishing to the affected
// destination is blocked, but other destinations are unaffected.
type AuthError struct {
	Platform string
	Err      error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s credential refresh failed: %v", e.Platform, e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// PublishError reports a failed publish call, carrying the destination's raw
// error payload when one was returned.
type PublishError struct {
	Platform string
	Payload  string
	Err      error
}

func (e *PublishError) Error() string {
	if e.Payload != "" {
		return fmt.Sprintf("%s publish failed: %v (payload: %s)", e.Platform, e.Err, e.Payload)
	}
	return fmt.Sprintf("%s publish failed: %v", e.Platform, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}
