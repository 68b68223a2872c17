package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/a2council/a2councilbot/internal/compose"
	"github.com/a2council/a2councilbot/internal/logging"
)

const (
	mastodonURLWeight     = 23
	mastodonMaxPostLength = 499
)

type mastodonCreds struct {
	AccessToken struct {
		AccessToken string `json:"access_token"`
	} `json:"access_token"`
	ClientCredentials struct {
		ClientID     string `json:"client_id"`
		ClientSecret string `json:"client_secret"`
	} `json:"client_credentials"`
	Instance string `json:"instance"`
}

// MastodonClient publishes statuses to a Mastodon instance. Its bearer token
// is long-lived, so credential refresh is a startup validation only.
type MastodonClient struct {
	bearerToken string
	instance    string
	httpClient  *http.Client
	logger      logging.Logger
}

// NewMastodonClient loads credentials from credsFile.
func NewMastodonClient(credsFile string, logger logging.Logger) (*MastodonClient, error) {
	raw, err := os.ReadFile(credsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read mastodon credentials: %w", err)
	}
	var creds mastodonCreds
	if err := json.Unmarshal(raw, &creds); err != nil {
		return nil, fmt.Errorf("failed to parse mastodon credentials: %w", err)
	}
	return &MastodonClient{
		bearerToken: creds.AccessToken.AccessToken,
		instance:    strings.TrimRight(creds.Instance, "/"),
		httpClient:  newHTTPClient(),
		logger:      logger,
	}, nil
}

func (c *MastodonClient) Name() string { return "mastodon" }

// RefreshCredentials verifies the loaded credentials are present. Mastodon
// access tokens do not expire, so there is nothing to renew.
func (c *MastodonClient) RefreshCredentials(ctx context.Context) error {
	if c.bearerToken == "" || c.instance == "" {
		return &AuthError{Platform: c.Name(), Err: fmt.Errorf("credentials file is missing access_token or instance")}
	}
	return nil
}

// Publish sends the post as a status, replying to the previous status when
// inReplyTo is set. The returned token is the new status ID.
func (c *MastodonClient) Publish(ctx context.Context, post *compose.Post, inReplyTo json.RawMessage) (json.RawMessage, error) {
	text, _, err := post.Render(mastodonURLWeight, mastodonMaxPostLength, nil, nil)
	if err != nil {
		return nil, err
	}

	c.logger.WithField("length", len(text)).Info("Sending toot")

	body := map[string]interface{}{"status": text}
	if inReplyTo != nil {
		var previousID string
		if err := json.Unmarshal(inReplyTo, &previousID); err != nil {
			return nil, &PublishError{Platform: c.Name(), Err: fmt.Errorf("bad reply token: %w", err)}
		}
		body["in_reply_to_id"] = previousID
	}

	respBody, status, err := postJSON(ctx, c.httpClient, c.instance+"/api/v1/statuses", http.Header{
		"Authorization": {"Bearer " + c.bearerToken},
	}, body)
	if err != nil {
		return nil, &PublishError{Platform: c.Name(), Err: err}
	}

	var result struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil || result.ID == "" || status >= 400 {
		return nil, &PublishError{
			Platform: c.Name(),
			Payload:  string(respBody),
			Err:      fmt.Errorf("status creation failed with status %d", status),
		}
	}

	token, err := json.Marshal(result.ID)
	if err != nil {
		return nil, &PublishError{Platform: c.Name(), Err: err}
	}
	return token, nil
}
