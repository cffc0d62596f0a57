// Package orchestrator is the public façade over the workflow engine: it
// owns story lifecycle operations, schedules background AI tasks, and
// bridges them onto the SSE bus.
package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/zjjiang/opd/internal/capability"
	"github.com/zjjiang/opd/internal/engine"
	"github.com/zjjiang/opd/internal/executor"
	"github.com/zjjiang/opd/internal/model"
	"github.com/zjjiang/opd/internal/sse"
	"github.com/zjjiang/opd/internal/store"
	"github.com/zjjiang/opd/internal/workspace"
)

// stoppedMessage is appended to the round log when the user stops a task.
const stoppedMessage = "[Stopped] 用户手动停止了当前任务"

// aiStages are the statuses whose entry triggers a background AI run.
var aiStages = map[model.StoryStatus]bool{
	model.StatusClarifying: true,
	model.StatusPlanning:   true,
	model.StatusDesigning:  true,
	model.StatusCoding:     true,
}

// chatStages are the statuses in which the chat-refinement loop is open.
var chatStages = map[model.StoryStatus]bool{
	model.StatusPreparing:  true,
	model.StatusClarifying: true,
	model.StatusPlanning:   true,
	model.StatusDesigning:  true,
}

// Orchestrator coordinates the store, engine, executor, capability
// registry, and SSE bus. Construct once at startup and inject into the
// HTTP layer.
type Orchestrator struct {
	log    *zap.Logger
	store  *store.Store
	caps   *capability.Registry
	stages map[model.StoryStatus]engine.Stage
	exec   *executor.Executor
	bus    *sse.Bus
	git    *workspace.Git

	// gitToken authenticates workspace clones when set.
	gitToken string
}

// Options carries the orchestrator's collaborators.
type Options struct {
	Log      *zap.Logger
	Store    *store.Store
	Caps     *capability.Registry
	Exec     *executor.Executor
	Bus      *sse.Bus
	Git      *workspace.Git
	GitToken string
}

// New wires an orchestrator.
func New(opts Options) *Orchestrator {
	return &Orchestrator{
		log:      opts.Log,
		store:    opts.Store,
		caps:     opts.Caps,
		stages:   engine.Stages(),
		exec:     opts.Exec,
		bus:      opts.Bus,
		git:      opts.Git,
		gitToken: opts.GitToken,
	}
}

// Store exposes the persistence gateway to the HTTP layer for reads.
func (o *Orchestrator) Store() *store.Store { return o.store }

// Capabilities exposes the process-level registry.
func (o *Orchestrator) Capabilities() *capability.Registry { return o.caps }

// Bus exposes the SSE bus for the stream endpoint.
func (o *Orchestrator) Bus() *sse.Bus { return o.bus }

// AIRunning reports whether a stage or chat task is registered for a story.
func (o *Orchestrator) AIRunning(storyID string) (stage, chat bool) {
	return o.exec.Running(executor.StageKey(storyID)), o.exec.Running(executor.ChatKey(storyID))
}

// --- Project operations ---

// CreateProject inserts a project and schedules the workspace clone.
func (o *Orchestrator) CreateProject(ctx context.Context, p *model.Project) error {
	if err := o.store.CreateProject(ctx, p); err != nil {
		return err
	}
	o.scheduleClone(p.ID)
	return nil
}

// UpdateProject persists edits; a changed repo URL re-clones.
func (o *Orchestrator) UpdateProject(ctx context.Context, p *model.Project, repoChanged bool) error {
	if err := o.store.UpdateProject(ctx, p); err != nil {
		return err
	}
	if repoChanged {
		if err := o.store.SetWorkspaceStatus(ctx, p.ID, model.WorkspacePending, ""); err != nil {
			return err
		}
		o.scheduleClone(p.ID)
	}
	return nil
}

// InitWorkspace schedules (or re-schedules) the project clone.
func (o *Orchestrator) InitWorkspace(ctx context.Context, projectID string) error {
	if _, err := o.store.GetProject(ctx, projectID); err != nil {
		return err
	}
	o.scheduleClone(projectID)
	return nil
}

// --- Story operations ---

// CreateStory inserts the story with its initial round and schedules the
// preparing stage.
func (o *Orchestrator) CreateStory(ctx context.Context, projectID string, story *model.Story) error {
	if _, err := o.store.GetProject(ctx, projectID); err != nil {
		return err
	}
	story.ProjectID = projectID
	story.Status = model.StatusPreparing
	if _, err := o.store.CreateStory(ctx, story); err != nil {
		return err
	}
	o.scheduleStage(story.ID)
	return nil
}

// ConfirmStage advances a story past its current stage and schedules the
// next AI run when one applies.
func (o *Orchestrator) ConfirmStage(ctx context.Context, storyID string) (*model.Story, error) {
	story, err := o.store.GetStory(ctx, storyID)
	if err != nil {
		return nil, err
	}

	var target model.StoryStatus
	switch story.Status {
	case model.StatusPreparing:
		target = model.StatusClarifying
	case model.StatusClarifying:
		target = model.StatusPlanning
	case model.StatusPlanning:
		target = model.StatusDesigning
	case model.StatusDesigning:
		target = model.StatusCoding
	case model.StatusVerifying:
		target = model.StatusDone
	default:
		return nil, &engine.InvalidTransitionError{From: story.Status, To: story.Status}
	}
	if err := engine.Transition(story.Status, target); err != nil {
		return nil, err
	}

	// Confirming clarification locks the PRD in as the planning input.
	if story.Status == model.StatusClarifying && story.ConfirmedPRD == "" {
		story.ConfirmedPRD = story.PRD
	}

	story.Status = target
	if err := o.store.UpdateStory(ctx, story); err != nil {
		return nil, err
	}

	if target == model.StatusDone {
		// A done story has no registered tasks.
		o.exec.Stop(executor.StageKey(storyID))
		o.exec.Stop(executor.ChatKey(storyID))
	} else if aiStages[target] {
		o.scheduleStage(storyID)
	}
	return story, nil
}

// RejectStage re-triggers the current stage's AI run.
func (o *Orchestrator) RejectStage(ctx context.Context, storyID string) (*model.Story, error) {
	story, err := o.store.GetStory(ctx, storyID)
	if err != nil {
		return nil, err
	}
	o.scheduleStage(storyID)
	return story, nil
}

// Rollback jumps a story back to an earlier document stage, clearing
// everything downstream, then re-triggers the target stage.
func (o *Orchestrator) Rollback(ctx context.Context, storyID string, target model.StoryStatus) (*model.Story, error) {
	story, err := o.store.GetStory(ctx, storyID)
	if err != nil {
		return nil, err
	}
	if model.DocStageIndex(target) < 0 {
		return nil, validationf("invalid rollback target %q", target)
	}
	if !engine.CanRollback(story.Status, target) {
		return nil, validationf("cannot rollback from %s to %s (target must be an earlier stage)", story.Status, target)
	}

	// Cancel whatever is running before touching state.
	o.exec.Stop(executor.StageKey(storyID))
	o.exec.Stop(executor.ChatKey(storyID))

	project, err := o.store.GetProject(ctx, story.ProjectID)
	if err != nil {
		return nil, err
	}

	o.clearDownstream(story, project, target)

	if target == model.StatusPreparing {
		if err := o.store.DeleteClarifications(ctx, storyID); err != nil {
			return nil, err
		}
	}
	// Tasks are planning output; they go whenever planning is redone.
	if model.DocStageIndex(target) <= model.DocStageIndex(model.StatusPlanning) {
		if err := o.store.DeleteTasks(ctx, storyID); err != nil {
			return nil, err
		}
	}
	if round, err := o.store.ActiveRound(ctx, storyID); err == nil {
		if err := o.store.DeleteMessages(ctx, round.ID); err != nil {
			return nil, err
		}
	}

	story.Status = target
	if err := o.store.UpdateStory(ctx, story); err != nil {
		return nil, err
	}

	o.scheduleStage(storyID)
	return story, nil
}

// stageDocs maps each status to the documents that stage produces, used to
// compute what a rollback clears.
var stageDocs = map[model.StoryStatus][]model.StoryDoc{
	model.StatusPreparing:  {model.DocPRD},
	model.StatusClarifying: {model.DocConfirmedPRD},
	model.StatusPlanning:   {model.DocTechnicalDesign},
	model.StatusDesigning:  {model.DocDetailedDesign},
	model.StatusCoding:     {model.DocCodingReport, model.DocTestGuide},
}

// stageOrder is the pipeline order used for downstream computation.
var stageOrder = []model.StoryStatus{
	model.StatusPreparing, model.StatusClarifying, model.StatusPlanning,
	model.StatusDesigning, model.StatusCoding,
}

// clearDownstream empties the document and hash fields of every stage
// strictly after target and deletes their doc files.
func (o *Orchestrator) clearDownstream(story *model.Story, project *model.Project, target model.StoryStatus) {
	ti := model.DocStageIndex(target)
	for i, status := range stageOrder {
		if i <= ti {
			continue
		}
		for _, d := range stageDocs[status] {
			if story.Get(d) != "" {
				// confirmed_prd shares prd.md; only delete files owned
				// outright by the cleared stage.
				if d != model.DocConfirmedPRD {
					if err := workspace.DeleteDoc(project, story, d.Filename()); err != nil {
						o.log.Warn("rollback: deleting doc failed",
							zap.String("story", story.ID), zap.String("doc", d.Filename()), zap.Error(err))
					}
				}
				story.Set(d, "")
			}
		}
		if si, ok := engine.StageInputFor(status); ok {
			story.SetHash(si.HashField, "")
		}
	}
}

// Chat appends the user message and schedules the chat-refinement task.
func (o *Orchestrator) Chat(ctx context.Context, storyID, message string) error {
	story, err := o.store.GetStory(ctx, storyID)
	if err != nil {
		return err
	}
	if !chatStages[story.Status] {
		return validationf("chat is only available in preparing/clarifying/planning/designing stages")
	}
	round, err := o.store.ActiveRound(ctx, storyID)
	if err != nil {
		return err
	}
	if _, err := o.store.AppendMessage(ctx, round.ID, model.RoleUser, message); err != nil {
		return err
	}
	o.bus.Publish(round.ID, sse.Event{Type: sse.TypeUser, Content: message})
	o.scheduleChat(storyID, message)
	return nil
}

// Answer is one clarification answer from the user.
type Answer struct {
	ID       string
	Question string
	Reply    string
}

// AnswerClarifications records answers (matched by id, else by question
// text) and continues the discussion through the chat loop with a
// synthesized summary.
func (o *Orchestrator) AnswerClarifications(ctx context.Context, storyID string, answers []Answer) (int64, error) {
	if _, err := o.store.GetStory(ctx, storyID); err != nil {
		return 0, err
	}
	var updated int64
	for _, a := range answers {
		var n int64
		var err error
		if a.ID != "" {
			n, err = o.store.AnswerClarificationByID(ctx, storyID, a.ID, a.Reply)
		} else {
			n, err = o.store.AnswerClarificationByQuestion(ctx, storyID, a.Question, a.Reply)
		}
		if err != nil {
			return updated, err
		}
		updated += n
	}

	var parts []string
	for _, a := range answers {
		parts = append(parts, fmt.Sprintf("Q: %s\nA: %s", a.Question, a.Reply))
	}
	summary := "The user answered the following clarification questions:\n\n" + strings.Join(parts, "\n\n")
	o.scheduleChat(storyID, summary)
	return updated, nil
}

// Iterate re-enters coding on the same round and branch.
func (o *Orchestrator) Iterate(ctx context.Context, storyID string) (*model.Story, error) {
	story, err := o.store.GetStory(ctx, storyID)
	if err != nil {
		return nil, err
	}
	if story.Status != model.StatusVerifying {
		return nil, validationf("can only iterate from verifying status")
	}
	if err := engine.Transition(story.Status, model.StatusCoding); err != nil {
		return nil, err
	}
	story.Status = model.StatusCoding
	if err := o.store.UpdateStory(ctx, story); err != nil {
		return nil, err
	}
	o.scheduleStage(storyID)
	return story, nil
}

// Restart closes the active round, opens a fresh one, and re-enters
// designing.
func (o *Orchestrator) Restart(ctx context.Context, storyID string) (*model.Story, error) {
	story, err := o.store.GetStory(ctx, storyID)
	if err != nil {
		return nil, err
	}
	if story.Status != model.StatusVerifying {
		return nil, validationf("can only restart from verifying status")
	}
	if err := engine.Transition(story.Status, model.StatusDesigning); err != nil {
		return nil, err
	}
	if _, err := o.store.RotateRound(ctx, story, model.RoundRestart, "restarted from verifying"); err != nil {
		return nil, err
	}
	story.Status = model.StatusDesigning
	if err := o.store.UpdateStory(ctx, story); err != nil {
		return nil, err
	}
	o.scheduleStage(storyID)
	return story, nil
}

// Stop cancels the story's stage and chat tasks, records the stop in the
// round log, and rewinds a stopped coding run to designing so the stage
// can be re-entered cleanly.
func (o *Orchestrator) Stop(ctx context.Context, storyID string) (bool, error) {
	stoppedStage := o.exec.Stop(executor.StageKey(storyID))
	stoppedChat := o.exec.Stop(executor.ChatKey(storyID))
	if !stoppedStage && !stoppedChat {
		return false, nil
	}

	story, err := o.store.GetStory(ctx, storyID)
	if err != nil {
		return true, err
	}
	if round, err := o.store.ActiveRound(ctx, storyID); err == nil {
		if _, err := o.store.AppendMessage(ctx, round.ID, model.RoleAssistant, stoppedMessage); err != nil {
			o.log.Warn("stop: appending message failed", zap.String("story", storyID), zap.Error(err))
		}
		o.bus.Publish(round.ID, sse.Event{Type: sse.TypeAssistant, Content: stoppedMessage})
	}
	if stoppedStage && story.Status == model.StatusCoding {
		story.Status = model.StatusDesigning
		if err := o.store.UpdateStory(ctx, story); err != nil {
			return true, err
		}
	}
	return true, nil
}

// Preflight runs the capability gate for the story's current stage.
func (o *Orchestrator) Preflight(ctx context.Context, storyID string) (capability.PreflightResult, error) {
	story, err := o.store.GetStory(ctx, storyID)
	if err != nil {
		return capability.PreflightResult{}, err
	}
	stage, ok := o.stages[story.Status]
	if !ok {
		return capability.PreflightResult{Errors: []string{}, Warnings: []string{}}, nil
	}
	return o.caps.Preflight(ctx, stage.RequiredCapabilities(), stage.OptionalCapabilities()), nil
}
