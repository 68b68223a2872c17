package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/a2council/a2councilbot/internal/compose"
	"github.com/a2council/a2councilbot/internal/logging"
)

const (
	mockURLWeight     = 23
	mockMaxPostLength = 279
)

var mockURLRe = regexp.MustCompile(`(^|\s)(https?://\S+)`)

// MockClient logs what would be posted instead of talking to a real
// destination. It uses Twitter's length profile so dry runs exercise the
// tightest budget, and fabricates thread tokens of the form "<uuid> <seq>".
type MockClient struct {
	logger logging.Logger
}

// NewMockClient creates a mock destination.
func NewMockClient(logger logging.Logger) *MockClient {
	return &MockClient{logger: logger}
}

func (c *MockClient) Name() string { return "mock" }

// RefreshCredentials is a no-op; the mock has no credentials.
func (c *MockClient) RefreshCredentials(ctx context.Context) error {
	return nil
}

// Publish renders the post, logs it with the length the real platform would
// compute, and returns the next fabricated token in the chain.
func (c *MockClient) Publish(ctx context.Context, post *compose.Post, inReplyTo json.RawMessage) (json.RawMessage, error) {
	text, _, err := post.Render(mockURLWeight, mockMaxPostLength, nil, nil)
	if err != nil {
		return nil, err
	}

	// Recompute the length the way the platform would (URLs at fixed
	// weight) as a sanity check on the renderer's budget math.
	platformLength := len(text)
	if match := mockURLRe.FindStringSubmatchIndex(text); match != nil {
		urlStart, urlEnd := match[4], match[5]
		platformLength = urlStart + mockURLWeight + (len(text) - urlEnd)
	}

	c.logger.WithFields(logging.Fields{
		"length":          len(text),
		"platform_length": platformLength,
	}).Infof("Would send post: %s", text)

	next := mockNextToken(inReplyTo)
	token, err := json.Marshal(next)
	if err != nil {
		return nil, &PublishError{Platform: c.Name(), Err: err}
	}
	return token, nil
}

func mockNextToken(inReplyTo json.RawMessage) string {
	if inReplyTo == nil {
		return uuid.NewString() + " 0"
	}
	var previous string
	if err := json.Unmarshal(inReplyTo, &previous); err != nil {
		return uuid.NewString() + " 0"
	}
	id, seqText, ok := strings.Cut(previous, " ")
	if !ok {
		return uuid.NewString() + " 0"
	}
	seq, err := strconv.Atoi(seqText)
	if err != nil {
		return uuid.NewString() + " 0"
	}
	return fmt.Sprintf("%s %d", id, seq+1)
}
