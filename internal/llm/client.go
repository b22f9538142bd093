// Package llm wraps the chat-completion API used by the tutor copilot and
// the learner course assistant.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"metalearn/api/internal/logging"
	"metalearn/api/internal/metrics"
)

const (
	DefaultTemperature = 0.2
	DefaultMaxTokens   = 500

	breakerFailures = 5
	breakerTimeout  = 30 * time.Second
)

var (
	ErrUnavailable = errors.New("Tutor assistant is unavailable right now. Please try again.")
	ErrEmptyReply  = errors.New("OpenAI did not return a chat completion")
)

const tutorCopilotPrompt = "You are MetaLearn's tutor analytics copilot. Use only the provided learner roster and stats. Call out concrete numbers, " +
	"flag at-risk learners, and keep responses concise (3-5 sentences). If information is missing, say so directly."

const assistantPrompt = "You are MetaLearn's course assistant. Answer the learner's question using only the lesson context provided. " +
	"If the context does not cover the question, say so and suggest what to review. Keep answers short and practical."

type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	// RequestsPerMinute caps outgoing calls; zero disables the limiter.
	RequestsPerMinute int
	HTTPClient        *http.Client
}

type Client struct {
	api     *openai.Client
	model   string
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[string]
}

func New(cfg Config) *Client {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.HTTPClient != nil {
		clientCfg.HTTPClient = cfg.HTTPClient
	}

	c := &Client{
		api:   openai.NewClientWithConfig(clientCfg),
		model: cfg.Model,
	}
	if cfg.RequestsPerMinute > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60), cfg.RequestsPerMinute)
	}

	metrics.LLMBreakerState.Set(0)
	c.breaker = gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:    "llm",
		Timeout: breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("llm circuit breaker state change")
			metrics.LLMBreakerState.Set(float64(to))
		},
	})
	return c
}

type completion struct {
	system      string
	user        string
	temperature float32
	maxTokens   int
}

// TutorCopilotAnswer answers a tutor question over a roster prompt.
func (c *Client) TutorCopilotAnswer(ctx context.Context, prompt string) (string, error) {
	return c.complete(ctx, "tutor_copilot", completion{
		system:      tutorCopilotPrompt,
		user:        prompt,
		temperature: 0.15,
	})
}

// AssistantAnswer answers a learner question scoped to lesson context.
func (c *Client) AssistantAnswer(ctx context.Context, lessonContext, question string) (string, error) {
	user := fmt.Sprintf("Lesson context:\n%s\n\nLearner question: %s\nAnswer:", strings.TrimSpace(lessonContext), question)
	return c.complete(ctx, "assistant", completion{system: assistantPrompt, user: user})
}

func (c *Client) complete(ctx context.Context, operation string, req completion) (string, error) {
	if req.temperature == 0 {
		req.temperature = DefaultTemperature
	}
	if req.maxTokens == 0 {
		req.maxTokens = DefaultMaxTokens
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("wait for llm rate limit: %w", err)
		}
	}

	start := time.Now()
	answer, err := c.breaker.Execute(func() (string, error) {
		resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:       c.model,
			Temperature: req.temperature,
			MaxTokens:   req.maxTokens,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: req.system},
				{Role: openai.ChatMessageRoleUser, Content: req.user},
			},
		})
		if err != nil {
			return "", fmt.Errorf("create chat completion: %w", err)
		}
		if len(resp.Choices) == 0 {
			return "", ErrEmptyReply
		}
		message := strings.TrimSpace(resp.Choices[0].Message.Content)
		if message == "" {
			return "", ErrEmptyReply
		}
		return message, nil
	})
	metrics.RecordLLMRequest(operation, time.Since(start), err)

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		logging.Ctx(ctx).Warn().Str("operation", operation).Msg("llm request rejected by circuit breaker")
		return "", ErrUnavailable
	}
	return answer, err
}
