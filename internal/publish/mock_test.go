package publish

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockPublishChainsTokens(t *testing.T) {
	client := NewMockClient(testLogger())
	ctx := context.Background()

	first, err := client.Publish(ctx, simplePost(t), nil)
	require.NoError(t, err)

	var firstToken string
	require.NoError(t, json.Unmarshal(first, &firstToken))
	id, seq, ok := strings.Cut(firstToken, " ")
	require.True(t, ok)
	assert.Equal(t, "0", seq)

	second, err := client.Publish(ctx, simplePost(t), first)
	require.NoError(t, err)

	var secondToken string
	require.NoError(t, json.Unmarshal(second, &secondToken))
	assert.Equal(t, id+" 1", secondToken, "thread keeps its id and bumps the sequence")
}

func TestMockPublishRecoversFromGarbageToken(t *testing.T) {
	client := NewMockClient(testLogger())

	token, err := client.Publish(context.Background(), simplePost(t), json.RawMessage(`{"not":"a string"}`))
	require.NoError(t, err)

	var next string
	require.NoError(t, json.Unmarshal(token, &next))
	assert.True(t, strings.HasSuffix(next, " 0"), "garbage tokens restart the chain")
}

func TestMockRefreshCredentialsIsNoop(t *testing.T) {
	client := NewMockClient(testLogger())
	assert.NoError(t, client.RefreshCredentials(context.Background()))
	assert.Equal(t, "mock", client.Name())
}
