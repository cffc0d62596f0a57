package ai

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/zjjiang/opd/internal/capability"
)

const (
	defaultModel     = "claude-sonnet-4-5"
	defaultMaxTokens = 16384
)

// ClaudeSchema is the config schema for the claude provider.
var ClaudeSchema = []capability.ConfigField{
	{Name: "auth_token", Label: "API token", Type: capability.FieldPassword, Required: true},
	{Name: "base_url", Label: "API base URL", Type: capability.FieldText},
	{Name: "model", Label: "Model", Type: capability.FieldText, Default: defaultModel},
	{Name: "max_tokens", Label: "Max output tokens", Type: capability.FieldText, Default: strconv.Itoa(defaultMaxTokens)},
}

// Claude streams completions from the Anthropic Messages API.
type Claude struct {
	config    map[string]string
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
}

// NewClaude builds a Claude provider from config. The client is constructed
// lazily in Initialize so CreateTemp instances stay cheap.
func NewClaude(config map[string]string) (capability.Provider, error) {
	if config == nil {
		config = map[string]string{}
	}
	return &Claude{config: config}, nil
}

// ProviderName identifies this implementation in the registry catalog.
func (c *Claude) ProviderName() string { return "claude" }

// Config returns the raw provider config.
func (c *Claude) Config() map[string]string { return c.config }

// Initialize validates config and constructs the API client.
func (c *Claude) Initialize(ctx context.Context) error {
	token := c.config["auth_token"]
	if token == "" {
		return fmt.Errorf("claude: auth_token is required")
	}

	opts := []option.RequestOption{option.WithAPIKey(token)}
	if base := c.config["base_url"]; base != "" {
		opts = append(opts, option.WithBaseURL(base))
	}
	c.client = anthropic.NewClient(opts...)

	c.model = anthropic.Model(defaultModel)
	if m := c.config["model"]; m != "" {
		c.model = anthropic.Model(m)
	}
	c.maxTokens = defaultMaxTokens
	if raw := c.config["max_tokens"]; raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n <= 0 {
			return fmt.Errorf("claude: invalid max_tokens %q", raw)
		}
		c.maxTokens = n
	}
	return nil
}

// Cleanup releases nothing; the API client is stateless.
func (c *Claude) Cleanup(ctx context.Context) error { return nil }

// HealthCheck verifies the token is present and counts tokens on a trivial
// request to confirm the API is reachable.
func (c *Claude) HealthCheck(ctx context.Context) capability.HealthStatus {
	start := time.Now()
	if c.config["auth_token"] == "" {
		return capability.HealthStatus{
			Healthy:   false,
			Message:   "auth_token not configured",
			CheckedAt: start,
		}
	}

	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	_, err := c.client.Messages.CountTokens(probeCtx, anthropic.MessageCountTokensParams{
		Model:    c.model,
		Messages: []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock("ping"))},
	})
	status := capability.HealthStatus{
		Healthy:   err == nil,
		LatencyMS: time.Since(start).Milliseconds(),
		CheckedAt: start,
	}
	if err != nil {
		status.Message = err.Error()
	}
	return status
}

func (c *Claude) PreparePRD(ctx context.Context, system, user string) (<-chan Event, error) {
	return c.stream(ctx, system, user)
}

func (c *Claude) Clarify(ctx context.Context, system, user string) (<-chan Event, error) {
	return c.stream(ctx, system, user)
}

func (c *Claude) Plan(ctx context.Context, system, user string) (<-chan Event, error) {
	return c.stream(ctx, system, user)
}

func (c *Claude) Design(ctx context.Context, system, user string) (<-chan Event, error) {
	return c.stream(ctx, system, user)
}

// Code runs the coding prompt. The work directory is included as context;
// this provider has no local tool execution, so file operations surface as
// tool events for the orchestrator to log.
func (c *Claude) Code(ctx context.Context, system, user, workDir string) (<-chan Event, error) {
	if workDir != "" {
		system = system + "\n\nWorking directory: " + workDir
	}
	return c.stream(ctx, system, user)
}

func (c *Claude) RefinePRD(ctx context.Context, system, user string) (<-chan Event, error) {
	return c.stream(ctx, system, user)
}

// stream starts one streaming Messages request and adapts SDK events onto
// the provider event channel. The goroutine exits when the stream drains
// or ctx is cancelled; the channel always closes.
func (c *Claude) stream(ctx context.Context, system, user string) (<-chan Event, error) {
	params := anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		Messages:  []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(user))},
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	stream := c.client.Messages.NewStreaming(ctx, params)
	out := make(chan Event)

	go func() {
		defer close(out)
		for stream.Next() {
			event := stream.Current()
			switch ev := event.AsAny().(type) {
			case anthropic.ContentBlockStartEvent:
				if tool, ok := ev.ContentBlock.AsAny().(anthropic.ToolUseBlock); ok {
					if !emit(ctx, out, Event{Type: EventTool, Name: tool.Name}) {
						return
					}
				}
			case anthropic.ContentBlockDeltaEvent:
				if delta, ok := ev.Delta.AsAny().(anthropic.TextDelta); ok && delta.Text != "" {
					if !emit(ctx, out, Event{Type: EventAssistant, Content: delta.Text}) {
						return
					}
				}
			}
		}
		if err := stream.Err(); err != nil && ctx.Err() == nil {
			emit(ctx, out, Event{Type: EventError, Content: err.Error()})
		}
	}()

	return out, nil
}

// emit delivers an event unless the context is gone. Returns false when the
// consumer is gone and the producer should stop.
func emit(ctx context.Context, out chan<- Event, ev Event) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
