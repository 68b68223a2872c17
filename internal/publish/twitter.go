package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/a2council/a2councilbot/internal/compose"
	"github.com/a2council/a2councilbot/internal/logging"
)

const (
	twitterURLWeight     = 23
	twitterMaxPostLength = 279

	defaultTwitterAPIURL = "https://api.twitter.com"

	// Refresh this far before the access token's reported expiry.
	tokenExpiryMargin = 60 * time.Second
)

type twitterCreds struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	RefreshToken string `json:"refresh_token"`
}

// TwitterClient publishes via the Twitter v2 API. Its OAuth refresh token is
// single-use: every refresh rotates it, and the rotated token is written back
// to the credentials file before the refresh returns, since losing that write
// would break all future runs.
type TwitterClient struct {
	credsFile  string
	creds      twitterCreds
	apiURL     string
	httpClient *http.Client
	logger     logging.Logger

	bearerToken  string
	bearerExpiry time.Time
}

// NewTwitterClient loads credentials from credsFile.
func NewTwitterClient(credsFile string, logger logging.Logger) (*TwitterClient, error) {
	raw, err := os.ReadFile(credsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read twitter credentials: %w", err)
	}
	var creds twitterCreds
	if err := json.Unmarshal(raw, &creds); err != nil {
		return nil, fmt.Errorf("failed to parse twitter credentials: %w", err)
	}
	return &TwitterClient{
		credsFile:  credsFile,
		creds:      creds,
		apiURL:     defaultTwitterAPIURL,
		httpClient: newHTTPClient(),
		logger:     logger,
	}, nil
}

func (c *TwitterClient) Name() string { return "twitter" }

// RefreshCredentials exchanges the refresh token for a new bearer token and
// durably persists the rotated refresh token.
func (c *TwitterClient) RefreshCredentials(ctx context.Context) error {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {c.creds.RefreshToken},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+"/2/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return &AuthError{Platform: c.Name(), Err: err}
	}
	req.SetBasicAuth(c.creds.ClientID, c.creds.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &AuthError{Platform: c.Name(), Err: err}
	}
	defer resp.Body.Close()

	var token struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int    `json:"expires_in"`
		ErrorCode    string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return &AuthError{Platform: c.Name(), Err: fmt.Errorf("failed to parse token response: %w", err)}
	}
	if token.ErrorCode != "" || token.AccessToken == "" {
		return &AuthError{Platform: c.Name(), Err: fmt.Errorf("token endpoint returned error %q (status %d)", token.ErrorCode, resp.StatusCode)}
	}

	// The old refresh token is now dead server-side. Persist the new one
	// before anything else can go wrong.
	c.creds.RefreshToken = token.RefreshToken
	if err := c.persistCreds(); err != nil {
		return &AuthError{Platform: c.Name(), Err: fmt.Errorf("failed to persist rotated refresh token: %w", err)}
	}

	c.bearerToken = token.AccessToken
	c.bearerExpiry = time.Now().Add(time.Duration(token.ExpiresIn) * time.Second).Add(-tokenExpiryMargin)
	return nil
}

func (c *TwitterClient) persistCreds() error {
	data, err := json.Marshal(c.creds)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(c.credsFile), ".twitter-creds-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, c.credsFile)
}

// Publish sends the post as a tweet, replying to the previous tweet in the
// thread when inReplyTo is set. The returned token is the new tweet's ID.
func (c *TwitterClient) Publish(ctx context.Context, post *compose.Post, inReplyTo json.RawMessage) (json.RawMessage, error) {
	text, _, err := post.Render(twitterURLWeight, twitterMaxPostLength, nil, nil)
	if err != nil {
		return nil, err
	}

	if time.Now().After(c.bearerExpiry) {
		if err := c.RefreshCredentials(ctx); err != nil {
			return nil, err
		}
	}

	c.logger.WithField("length", len(text)).Info("Sending tweet")

	body := map[string]interface{}{"text": text}
	if inReplyTo != nil {
		var previousID string
		if err := json.Unmarshal(inReplyTo, &previousID); err != nil {
			return nil, &PublishError{Platform: c.Name(), Err: fmt.Errorf("bad reply token: %w", err)}
		}
		body["reply"] = map[string]string{"in_reply_to_tweet_id": previousID}
	}

	respBody, status, err := postJSON(ctx, c.httpClient, c.apiURL+"/2/tweets", http.Header{
		"Authorization": {"Bearer " + c.bearerToken},
	}, body)
	if err != nil {
		return nil, &PublishError{Platform: c.Name(), Err: err}
	}

	var result struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil || result.Data.ID == "" || status >= 400 {
		return nil, &PublishError{
			Platform: c.Name(),
			Payload:  string(respBody),
			Err:      fmt.Errorf("tweet creation failed with status %d", status),
		}
	}

	token, err := json.Marshal(result.Data.ID)
	if err != nil {
		return nil, &PublishError{Platform: c.Name(), Err: err}
	}
	return token, nil
}
