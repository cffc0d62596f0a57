package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/zjjiang/opd/internal/capability"
	"github.com/zjjiang/opd/internal/model"
	"github.com/zjjiang/opd/internal/provider/ai"
	"github.com/zjjiang/opd/internal/sse"
)

// timeNow is a package-level var to allow test injection.
var timeNow = time.Now

// StageContext is everything a stage handler works from: the fully-loaded
// aggregate, the (project-scoped) capability view, and the publish hook.
// Handlers never re-enter the persistence layer.
type StageContext struct {
	Bundle *model.StoryBundle
	Caps   *capability.Registry
	// Publish forwards a streamed event to subscribers; nil disables
	// streaming (e.g. in tests).
	Publish func(sse.Event)
	// SourceContext is the bounded workspace scan, when available.
	SourceContext string
}

func (sc *StageContext) publish(ev sse.Event) {
	if sc.Publish != nil {
		sc.Publish(ev)
	}
}

// StageResult is the outcome of one stage execution.
type StageResult struct {
	Success bool
	// Output maps output keys (prd, questions, technical_design, ...) to
	// their content. The orchestrator persists each under its canonical
	// doc filename.
	Output map[string]string
	// NextStatus, when set, is the automatic transition after success.
	NextStatus model.StoryStatus
	Errors     []string
}

func failure(msgs ...string) *StageResult {
	return &StageResult{Success: false, Errors: msgs}
}

// Stage is the contract one story status handler satisfies.
type Stage interface {
	Status() model.StoryStatus
	RequiredCapabilities() []string
	OptionalCapabilities() []string

	// Preconditions is cheap validation against the in-memory bundle.
	Preconditions(sc *StageContext) []string
	// Execute runs the stage, streaming through sc.Publish.
	Execute(ctx context.Context, sc *StageContext) (*StageResult, error)
	// ValidateOutput asserts the result shape after a successful run.
	ValidateOutput(result *StageResult) []string
}

// Stages builds the full handler set keyed by story status.
func Stages() map[model.StoryStatus]Stage {
	all := []Stage{
		&PreparingStage{},
		&ClarifyingStage{},
		&PlanningStage{},
		&DesigningStage{},
		&CodingStage{},
		&VerifyingStage{},
	}
	m := make(map[model.StoryStatus]Stage, len(all))
	for _, st := range all {
		m[st.Status()] = st
	}
	return m
}

// aiProvider resolves the AI capability from the stage's registry view.
func aiProvider(sc *StageContext) (ai.Provider, error) {
	cap := sc.Caps.Get(capability.CategoryAI)
	if cap == nil {
		return nil, fmt.Errorf("ai capability not available")
	}
	prov, ok := cap.Provider.(ai.Provider)
	if !ok {
		return nil, fmt.Errorf("ai capability provider does not implement the AI contract")
	}
	return prov, nil
}

// collected is the drained output of one AI stream.
type collected struct {
	Assistant string
	ToolCalls []string
}

// collectStream drains an AI event channel: assistant chunks accumulate
// and are forwarded to subscribers, tool events are logged, an error event
// aborts. Cancellation unwinds between events.
func collectStream(ctx context.Context, sc *StageContext, events <-chan ai.Event) (*collected, error) {
	var out collected
	var b strings.Builder
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case ev, ok := <-events:
			if !ok {
				out.Assistant = b.String()
				return &out, nil
			}
			switch ev.Type {
			case ai.EventAssistant:
				b.WriteString(ev.Content)
				sc.publish(sse.Event{Type: sse.TypeAssistant, Content: ev.Content})
			case ai.EventTool:
				line := ev.Name
				if ev.Content != "" {
					line = ev.Name + ": " + ev.Content
				}
				out.ToolCalls = append(out.ToolCalls, line)
				sc.publish(sse.Event{Type: sse.TypeTool, Content: line, Name: ev.Name})
			case ai.EventError:
				return nil, fmt.Errorf("ai provider error: %s", ev.Content)
			}
		}
	}
}

// CollectChat drains an AI stream without forwarding raw chunks, returning
// the accumulated assistant text. Used by the chat loop, whose replies are
// parsed before anything reaches subscribers.
func CollectChat(ctx context.Context, sc *StageContext, events <-chan ai.Event) (string, error) {
	silent := *sc
	silent.Publish = nil
	got, err := collectStream(ctx, &silent, events)
	if err != nil {
		return "", err
	}
	return got.Assistant, nil
}

// Continuation loop bounds for long-document stages.
const (
	maxContinuations = 3
	continuationTail = 500
)

// streamFunc is one AI provider method bound to its receiver.
type streamFunc func(ctx context.Context, system, user string) (<-chan ai.Event, error)

// collectDocument runs a long-document stage call and, when the output
// lacks the completion marker, issues up to three continuation requests
// seeded with the output tail. The marker is stripped from the result.
// After three failed continuations the text is kept as-is.
func collectDocument(ctx context.Context, sc *StageContext, call streamFunc, system, user string) (string, error) {
	events, err := call(ctx, system, user)
	if err != nil {
		return "", err
	}
	got, err := collectStream(ctx, sc, events)
	if err != nil {
		return "", err
	}
	text := got.Assistant

	for i := 0; i < maxContinuations && text != "" && !HasCompletionMarker(text); i++ {
		tail := text
		if len(tail) > continuationTail {
			tail = tail[len(tail)-continuationTail:]
		}
		events, err := call(ctx, system, BuildContinuationPrompt(tail))
		if err != nil {
			return "", err
		}
		got, err := collectStream(ctx, sc, events)
		if err != nil {
			return "", err
		}
		if got.Assistant == "" {
			break
		}
		text += got.Assistant
	}

	return StripCompletionMarker(text), nil
}
