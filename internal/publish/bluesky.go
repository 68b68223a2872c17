package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"regexp"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/a2council/a2councilbot/internal/compose"
	"github.com/a2council/a2councilbot/internal/logging"
)

const (
	// Bluesky does not force a displayed URL width; 34 is our own display
	// budget for shortened links.
	bskyURLWeight     = 34
	bskyMaxPostLength = 300
)

var bskyURLRe = regexp.MustCompile(`^(https?://)(\S+)$`)

type bskyCreds struct {
	PDSURL      string `json:"pds_url"`
	Handle      string `json:"handle"`
	AppPassword string `json:"app_password"`
}

type bskySession struct {
	AccessJwt  string `json:"accessJwt"`
	RefreshJwt string `json:"refreshJwt"`
	DID        string `json:"did"`
}

// bskyPostRef identifies one post in a thread.
type bskyPostRef struct {
	URI string `json:"uri"`
	CID string `json:"cid"`
}

// bskyReplyRef is the structured reply-chain token: parent is replaced with
// the just-created post on every publish, root is carried forward unchanged
// from the first post of the thread.
type bskyReplyRef struct {
	Root   bskyPostRef `json:"root"`
	Parent bskyPostRef `json:"parent"`
}

// BlueskyClient publishes AT-proto feed posts via a PDS. Access tokens are
// short-lived JWTs; expiry is read from the token's exp claim and refresh is
// invoked lazily from Publish.
type BlueskyClient struct {
	creds      bskyCreds
	httpClient *http.Client
	logger     logging.Logger

	session      *bskySession
	accessExpiry time.Time
}

// NewBlueskyClient loads credentials from credsFile.
func NewBlueskyClient(credsFile string, logger logging.Logger) (*BlueskyClient, error) {
	raw, err := os.ReadFile(credsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read bluesky credentials: %w", err)
	}
	var creds bskyCreds
	if err := json.Unmarshal(raw, &creds); err != nil {
		return nil, fmt.Errorf("failed to parse bluesky credentials: %w", err)
	}
	return &BlueskyClient{
		creds:      creds,
		httpClient: newHTTPClient(),
		logger:     logger,
	}, nil
}

func (c *BlueskyClient) Name() string { return "bsky" }

// RefreshCredentials creates a session on first use and refreshes it after,
// then derives the access expiry from the token's exp claim.
func (c *BlueskyClient) RefreshCredentials(ctx context.Context) error {
	var (
		respBody []byte
		status   int
		err      error
	)
	if c.session == nil {
		respBody, status, err = postJSON(ctx, c.httpClient, c.creds.PDSURL+"/xrpc/com.atproto.server.createSession", nil, map[string]string{
			"identifier": c.creds.Handle,
			"password":   c.creds.AppPassword,
		})
	} else {
		respBody, status, err = postJSON(ctx, c.httpClient, c.creds.PDSURL+"/xrpc/com.atproto.server.refreshSession", http.Header{
			"Authorization": {"Bearer " + c.session.RefreshJwt},
		}, nil)
	}
	if err != nil {
		return &AuthError{Platform: c.Name(), Err: err}
	}
	if status >= 400 {
		return &AuthError{Platform: c.Name(), Err: fmt.Errorf("session request failed with status %d: %s", status, respBody)}
	}

	var session bskySession
	if err := json.Unmarshal(respBody, &session); err != nil || session.AccessJwt == "" {
		return &AuthError{Platform: c.Name(), Err: fmt.Errorf("failed to parse session response: %v", err)}
	}
	c.session = &session

	expiry, err := accessTokenExpiry(session.AccessJwt)
	if err != nil {
		return &AuthError{Platform: c.Name(), Err: err}
	}
	c.accessExpiry = expiry.Add(-tokenExpiryMargin)
	return nil
}

// accessTokenExpiry reads the exp claim from the access JWT. The token is
// not verified; the PDS issued it and we only need its lifetime.
func accessTokenExpiry(accessJwt string) (time.Time, error) {
	token, _, err := jwt.NewParser().ParseUnverified(accessJwt, jwt.MapClaims{})
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to decode access token: %w", err)
	}
	exp, err := token.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, fmt.Errorf("access token has no exp claim: %v", err)
	}
	return exp.Time, nil
}

// Publish renders the post with link and tag facets and creates a feed post
// record, attaching it to the thread described by inReplyTo.
func (c *BlueskyClient) Publish(ctx context.Context, post *compose.Post, inReplyTo json.RawMessage) (json.RawMessage, error) {
	if c.session == nil || time.Now().After(c.accessExpiry) {
		if err := c.RefreshCredentials(ctx); err != nil {
			return nil, err
		}
	}

	urlHook := func(prefix, rawURL string) (string, *compose.Annotation) {
		display := rawURL
		if match := bskyURLRe.FindStringSubmatch(rawURL); match != nil {
			// Drop the scheme from the displayed text; the facet carries
			// the full URI.
			display = match[2]
		} else {
			c.logger.WithField("url", rawURL).Warn("Bad URL in post")
		}
		shortened, err := compose.Truncate(display, bskyURLWeight)
		if err != nil {
			shortened = display
		}
		return shortened, &compose.Annotation{
			ByteStart: len(prefix),
			ByteEnd:   len(prefix) + len(shortened),
			Kind:      compose.AnnotationLink,
			Payload:   rawURL,
		}
	}
	tagHook := func(prefix, tag string) (string, *compose.Annotation) {
		payload := tag
		if len(payload) > 0 && payload[0] == '#' {
			payload = payload[1:]
		}
		return tag, &compose.Annotation{
			ByteStart: len(prefix),
			ByteEnd:   len(prefix) + len(tag),
			Kind:      compose.AnnotationTag,
			Payload:   payload,
		}
	}

	text, annotations, err := post.Render(bskyURLWeight, bskyMaxPostLength, urlHook, tagHook)
	if err != nil {
		return nil, err
	}

	record := map[string]interface{}{
		"$type":     "app.bsky.feed.post",
		"text":      text,
		"createdAt": time.Now().UTC().Format(time.RFC3339),
		"facets":    facetsFromAnnotations(annotations),
	}

	var previous *bskyReplyRef
	if inReplyTo != nil {
		previous = &bskyReplyRef{}
		if err := json.Unmarshal(inReplyTo, previous); err != nil {
			return nil, &PublishError{Platform: c.Name(), Err: fmt.Errorf("bad reply token: %w", err)}
		}
		record["reply"] = previous
	}

	c.logger.WithField("length", len(text)).Info("Sending bluesky post")

	respBody, status, err := postJSON(ctx, c.httpClient, c.creds.PDSURL+"/xrpc/com.atproto.repo.createRecord", http.Header{
		"Authorization": {"Bearer " + c.session.AccessJwt},
	}, map[string]interface{}{
		"repo":       c.session.DID,
		"collection": "app.bsky.feed.post",
		"record":     record,
	})
	if err != nil {
		return nil, &PublishError{Platform: c.Name(), Err: err}
	}

	var created bskyPostRef
	if err := json.Unmarshal(respBody, &created); err != nil || created.URI == "" || status >= 400 {
		return nil, &PublishError{
			Platform: c.Name(),
			Payload:  string(respBody),
			Err:      fmt.Errorf("record creation failed with status %d", status),
		}
	}

	next := bskyReplyRef{Parent: created, Root: created}
	if previous != nil {
		next.Root = previous.Root
	}
	token, err := json.Marshal(next)
	if err != nil {
		return nil, &PublishError{Platform: c.Name(), Err: err}
	}
	return token, nil
}

func facetsFromAnnotations(annotations []compose.Annotation) []map[string]interface{} {
	facets := make([]map[string]interface{}, 0, len(annotations))
	for _, ann := range annotations {
		var feature map[string]interface{}
		switch ann.Kind {
		case compose.AnnotationLink:
			feature = map[string]interface{}{
				"$type": "app.bsky.richtext.facet#link",
				"uri":   ann.Payload,
			}
		case compose.AnnotationTag:
			feature = map[string]interface{}{
				"$type": "app.bsky.richtext.facet#tag",
				"tag":   ann.Payload,
			}
		default:
			continue
		}
		facets = append(facets, map[string]interface{}{
			"index": map[string]int{
				"byteStart": ann.ByteStart,
				"byteEnd":   ann.ByteEnd,
			},
			"features": []map[string]interface{}{feature},
		})
	}
	return facets
}
