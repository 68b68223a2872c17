package publish

import (
	"fmt"

	"github.com/a2council/a2councilbot/internal/config"
	"github.com/a2council/a2councilbot/internal/logging"
)

// Names lists the destinations available for selection at startup.
var Names = []string{"twitter", "mastodon", "bsky", "mock"}

// New builds the named destination, loading its credentials from the path
// configured in the environment (or the conventional default).
func New(name string, logger logging.Logger) (Publisher, error) {
	switch name {
	case "twitter":
		return NewTwitterClient(config.GetEnv("TWITTER_CREDS_FILE", "twitter_creds.json"), logger)
	case "mastodon":
		return NewMastodonClient(config.GetEnv("MASTODON_CREDS_FILE", "mastodon_creds.json"), logger)
	case "bsky":
		return NewBlueskyClient(config.GetEnv("BSKY_CREDS_FILE", "bsky_creds.json"), logger)
	case "mock":
		return NewMockClient(logger), nil
	default:
		return nil, fmt.Errorf("unknown posting platform %q (known: %v)", name, Names)
	}
}
