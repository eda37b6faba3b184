package agion

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agion-ai/agion-go/event"
)

// newEventTestClient wires a started client against miniredis and a stub
// governance service.
func newEventTestClient(t *testing.T) (*Client, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/policies":
			_ = json.NewEncoder(w).Encode(PolicyList{})
		default:
			_ = json.NewEncoder(w).Encode(map[string]any{})
		}
	}))
	t.Cleanup(srv.Close)

	cfg := DefaultConfig()
	cfg.GatewayURL = srv.URL
	cfg.RedisURL = "redis://" + mr.Addr()
	cfg.AgentID = "agent-1"
	cfg.EventFlushInterval = 20 * time.Millisecond
	c, err := New(cfg, WithLogger(testLogger()))
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = c.Close(ctx)
	})

	reader := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = reader.Close() })
	return c, reader
}

func streamLen(t *testing.T, rdb *redis.Client, stream string) int {
	t.Helper()
	entries, err := rdb.XRange(context.Background(), stream, "-", "+").Result()
	require.NoError(t, err)
	return len(entries)
}

func TestTrustEventsReachStream(t *testing.T) {
	c, reader := newEventTestClient(t)

	c.ReportTaskCompleted(map[string]any{"task": "summarize"})
	c.ReportTaskFailed(assert.AnError, nil)
	c.ReportPolicyViolation("blocked by policy", nil)

	require.Eventually(t, func() bool {
		return streamLen(t, reader, event.StreamTrust) == 3
	}, 3*time.Second, 20*time.Millisecond)

	entries, err := reader.XRange(context.Background(), event.StreamTrust, "-", "+").Result()
	require.NoError(t, err)
	assert.Equal(t, "task_completed", entries[0].Values["event_type"])
	assert.Equal(t, "0.01", entries[0].Values["impact"])
	assert.Equal(t, "task_failed", entries[1].Values["event_type"])
	assert.Equal(t, "-0.05", entries[1].Values["impact"])
	assert.Equal(t, "policy_violation", entries[2].Values["event_type"])
	assert.Equal(t, "-0.1", entries[2].Values["impact"])
	assert.Equal(t, "1", entries[2].Values["confidence"])
}

func TestUserFeedbackProducesFeedbackAndTrust(t *testing.T) {
	c, reader := newEventTestClient(t)

	c.ReportUserFeedback("exec-1", "user-1", 5, true, "great answer")

	require.Eventually(t, func() bool {
		return streamLen(t, reader, event.StreamFeedback) == 1 &&
			streamLen(t, reader, event.StreamTrust) == 1
	}, 3*time.Second, 20*time.Millisecond)

	feedback, err := reader.XRange(context.Background(), event.StreamFeedback, "-", "+").Result()
	require.NoError(t, err)
	assert.Equal(t, "thumbs_up", feedback[0].Values["feedback_type"])
	assert.Equal(t, "5", feedback[0].Values["rating"])

	trust, err := reader.XRange(context.Background(), event.StreamTrust, "-", "+").Result()
	require.NoError(t, err)
	assert.Equal(t, "user_feedback", trust[0].Values["event_type"])
	assert.Equal(t, "2", trust[0].Values["impact"])
}

func TestLLMInteractionDefaults(t *testing.T) {
	c, reader := newEventTestClient(t)

	c.PublishLLMInteraction(event.LLMInteraction{
		ExecutionID:      "exec-1",
		Model:            "gpt-large",
		Provider:         "openai",
		UserPrompt:       "hello",
		ResponseText:     "hi",
		PromptTokens:     10,
		CompletionTokens: 5,
	})

	require.Eventually(t, func() bool {
		return streamLen(t, reader, event.StreamLLMInteractions) == 1
	}, 3*time.Second, 20*time.Millisecond)

	entries, err := reader.XRange(context.Background(), event.StreamLLMInteractions, "-", "+").Result()
	require.NoError(t, err)
	assert.Equal(t, "agent-1", entries[0].Values["agent_id"])
	assert.Equal(t, "15", entries[0].Values["total_tokens"])
	assert.NotEmpty(t, entries[0].Values["interaction_id"])
}

func TestPublishingWithoutRedisIsNoop(t *testing.T) {
	cfg := DefaultConfig()
	cfg.GatewayURL = "http://127.0.0.1:1"
	c, err := New(cfg, WithLogger(testLogger()))
	require.NoError(t, err)

	// No Redis configured: these must not panic or block.
	c.ReportTaskCompleted(nil)
	c.ReportUserFeedback("e", "u", 3, true, "")
	c.PublishLLMInteraction(event.LLMInteraction{})
	assert.Zero(t, c.Metrics().Events.Published)
}
