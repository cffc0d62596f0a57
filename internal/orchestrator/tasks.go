package orchestrator

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/zjjiang/opd/internal/capability"
	"github.com/zjjiang/opd/internal/engine"
	"github.com/zjjiang/opd/internal/executor"
	"github.com/zjjiang/opd/internal/model"
	"github.com/zjjiang/opd/internal/provider/ai"
	"github.com/zjjiang/opd/internal/sse"
	"github.com/zjjiang/opd/internal/workspace"
)

// chatProvider resolves the AI capability for the chat loop.
func chatProvider(caps *capability.Registry) (ai.Provider, error) {
	cap := caps.Get(capability.CategoryAI)
	if cap == nil {
		return nil, &ValidationError{Msg: "ai capability not available"}
	}
	prov, ok := cap.Provider.(ai.Provider)
	if !ok {
		return nil, &ValidationError{Msg: "ai capability provider does not implement the AI contract"}
	}
	return prov, nil
}

// stageOutputDocs maps stage output keys to the story document they land
// in. The "questions" key is special-cased into clarification rows.
var stageOutputDocs = map[string]model.StoryDoc{
	"prd":              model.DocPRD,
	"technical_design": model.DocTechnicalDesign,
	"detailed_design":  model.DocDetailedDesign,
	"coding_report":    model.DocCodingReport,
	"test_guide":       model.DocTestGuide,
}

// scheduleStage launches the background AI run for a story's current
// stage. A second trigger while one is registered is a no-op.
func (o *Orchestrator) scheduleStage(storyID string) {
	o.exec.Launch(executor.StageKey(storyID), executor.StageDelay, func(ctx context.Context) {
		o.runStageTask(ctx, storyID)
	})
}

// scheduleChat launches the chat-refinement task for a story.
func (o *Orchestrator) scheduleChat(storyID, userMessage string) {
	o.exec.Launch(executor.ChatKey(storyID), executor.ChatDelay, func(ctx context.Context) {
		o.runChatTask(ctx, storyID, userMessage)
	})
}

// scheduleClone launches the workspace clone for a project.
func (o *Orchestrator) scheduleClone(projectID string) {
	o.exec.Launch(executor.CloneKey(projectID), 0, func(ctx context.Context) {
		o.runCloneTask(ctx, projectID)
	})
}

// projectView builds the per-project capability registry for a bundle.
// The returned cleanup must run when the task finishes.
func (o *Orchestrator) projectView(ctx context.Context, bundle *model.StoryBundle) (*capability.Registry, func(), error) {
	if len(bundle.CapOverrides) == 0 {
		return o.caps, func() {}, nil
	}
	overrides := make([]capability.Override, 0, len(bundle.CapOverrides))
	for _, ov := range bundle.CapOverrides {
		overrides = append(overrides, capability.Override{
			Capability:       ov.Capability,
			Enabled:          ov.Enabled,
			ProviderOverride: ov.ProviderOverride,
			ConfigOverride:   ov.ConfigOverride,
		})
	}
	view, err := o.caps.WithProjectOverrides(ctx, overrides)
	if err != nil {
		return nil, nil, err
	}
	return view, func() { view.Cleanup(context.Background()) }, nil
}

// runStageTask is the background body of one AI stage run. It re-reads
// the story aggregate, gates on preflight and preconditions, executes the
// handler with streaming, persists outputs, and publishes the terminal
// event only after the writes land.
func (o *Orchestrator) runStageTask(ctx context.Context, storyID string) {
	log := o.log.With(zap.String("story_id", storyID))

	bundle, err := o.store.LoadBundle(ctx, storyID)
	if err != nil {
		log.Warn("stage task: loading bundle failed", zap.Error(err))
		return
	}
	if bundle.ActiveRound == nil {
		log.Warn("stage task: no active round")
		return
	}
	roundID := bundle.ActiveRound.ID
	log = log.With(zap.String("round_id", roundID), zap.String("stage", string(bundle.Story.Status)))

	stage, ok := o.stages[bundle.Story.Status]
	if !ok {
		log.Warn("stage task: no handler for status")
		return
	}

	caps, cleanup, err := o.projectView(ctx, bundle)
	if err != nil {
		log.Error("stage task: building capability view failed", zap.Error(err))
		o.bus.Publish(roundID, sse.Event{Type: sse.TypeError, Content: err.Error()})
		return
	}
	defer cleanup()

	preflight := caps.Preflight(ctx, stage.RequiredCapabilities(), stage.OptionalCapabilities())
	for _, w := range preflight.Warnings {
		o.bus.Publish(roundID, sse.Event{Type: sse.TypeInfo, Content: w})
	}
	if !preflight.OK() {
		log.Warn("stage task: preflight failed", zap.Strings("errors", preflight.Errors))
		o.bus.Publish(roundID, sse.Event{Type: sse.TypeError, Content: joinErrors(preflight.Errors)})
		return
	}

	if errs := stage.Preconditions(&engine.StageContext{Bundle: bundle, Caps: caps}); len(errs) > 0 {
		log.Warn("stage task: preconditions failed", zap.Strings("errors", errs))
		o.bus.Publish(roundID, sse.Event{Type: sse.TypeError, Content: joinErrors(errs)})
		return
	}

	// Unchanged input: reuse the existing output instead of re-running.
	if engine.ShouldSkipAI(bundle.Project, bundle.Story, bundle.Story.Status) {
		log.Info("stage task: input unchanged, skipping AI run")
		o.bus.Publish(roundID, sse.Event{Type: sse.TypeInfo, Content: "input unchanged, reusing existing output"})
		o.finishSkippedStage(ctx, bundle, roundID, log)
		return
	}

	// Memoize the input hash before the run consumes it.
	inputHash, hasInput := engine.StageInputHash(bundle.Project, bundle.Story, bundle.Story.Status)

	// Coding runs on a dedicated branch.
	if bundle.Story.Status == model.StatusCoding {
		o.ensureCodingBranch(ctx, bundle, log)
	}

	sc := &engine.StageContext{
		Bundle: bundle,
		Caps:   caps,
		Publish: func(ev sse.Event) {
			o.bus.Publish(roundID, ev)
			if ev.Type == sse.TypeAssistant || ev.Type == sse.TypeTool {
				if _, err := o.store.AppendMessage(ctx, roundID, model.MessageRole(ev.Type), ev.Content); err != nil {
					log.Warn("stage task: persisting message failed", zap.Error(err))
				}
			}
		},
	}
	if dir, err := workspace.Dir(bundle.Project); err == nil {
		sc.SourceContext = workspace.ScanSource(dir)
	}

	result, err := stage.Execute(ctx, sc)
	if err != nil {
		if ctx.Err() != nil {
			// User stop: unwind without publishing.
			log.Info("stage task cancelled")
			return
		}
		log.Error("stage task: execution failed", zap.Error(err))
		o.bus.Publish(roundID, sse.Event{Type: sse.TypeError, Content: err.Error()})
		return
	}
	if !result.Success {
		log.Error("stage task: stage reported failure", zap.Strings("errors", result.Errors))
		o.bus.Publish(roundID, sse.Event{Type: sse.TypeError, Content: joinErrors(result.Errors)})
		return
	}
	if errs := stage.ValidateOutput(result); len(errs) > 0 {
		log.Error("stage task: output validation failed", zap.Strings("errors", errs))
		o.bus.Publish(roundID, sse.Event{Type: sse.TypeError, Content: joinErrors(errs)})
		return
	}

	// Persist outputs: docs to the workspace, paths onto the story.
	for key, content := range result.Output {
		doc, ok := stageOutputDocs[key]
		if !ok {
			continue
		}
		relPath, err := workspace.WriteDoc(bundle.Project, bundle.Story, doc.Filename(), content)
		if err != nil {
			log.Error("stage task: writing doc failed", zap.String("doc", doc.Filename()), zap.Error(err))
			o.bus.Publish(roundID, sse.Event{Type: sse.TypeError, Content: err.Error()})
			return
		}
		bundle.Story.Set(doc, relPath)
	}
	if raw, ok := result.Output["questions"]; ok {
		o.saveClarifications(ctx, bundle.Story, raw, log)
	}

	if si, hasStageInput := engine.StageInputFor(bundle.Story.Status); hasStageInput && hasInput {
		bundle.Story.SetHash(si.HashField, inputHash)
	}

	if result.NextStatus != "" {
		if err := engine.Transition(bundle.Story.Status, result.NextStatus); err != nil {
			log.Error("stage task: illegal next status", zap.Error(err))
			o.bus.Publish(roundID, sse.Event{Type: sse.TypeError, Content: err.Error()})
			return
		}
		bundle.Story.Status = result.NextStatus
	}

	if err := o.store.UpdateStory(ctx, bundle.Story); err != nil {
		log.Error("stage task: persisting story failed", zap.Error(err))
		o.bus.Publish(roundID, sse.Event{Type: sse.TypeError, Content: err.Error()})
		return
	}

	// Writes are committed; subscribers re-reading after done see them.
	log.Info("stage task completed")
	o.bus.Publish(roundID, sse.Event{Type: sse.TypeDone})
}

// finishSkippedStage applies the stage's automatic transition (if any)
// when the AI run is skipped, then publishes done.
func (o *Orchestrator) finishSkippedStage(ctx context.Context, bundle *model.StoryBundle, roundID string, log *zap.Logger) {
	// The only stage with an automatic transition is coding; a skipped
	// coding run still advances to verifying.
	if bundle.Story.Status == model.StatusCoding {
		if err := engine.Transition(bundle.Story.Status, model.StatusVerifying); err == nil {
			bundle.Story.Status = model.StatusVerifying
			if err := o.store.UpdateStory(ctx, bundle.Story); err != nil {
				log.Error("skip: persisting story failed", zap.Error(err))
				o.bus.Publish(roundID, sse.Event{Type: sse.TypeError, Content: err.Error()})
				return
			}
		}
	}
	o.bus.Publish(roundID, sse.Event{Type: sse.TypeDone})
}

// ensureCodingBranch creates and records the round branch when missing.
// Branch trouble degrades to a warning; the coding run proceeds on main.
func (o *Orchestrator) ensureCodingBranch(ctx context.Context, bundle *model.StoryBundle, log *zap.Logger) {
	round := bundle.ActiveRound
	if round.BranchName != "" {
		return
	}
	name := workspace.BranchName(bundle.Story.ID, round.RoundNumber)
	if err := workspace.CreateCodingBranch(ctx, o.git, bundle.Project, name); err != nil {
		log.Warn("coding branch creation failed, continuing on main", zap.Error(err))
		o.bus.Publish(round.ID, sse.Event{Type: sse.TypeWorkspace, Content: "branch creation failed: " + err.Error()})
		return
	}
	round.BranchName = name
	if err := o.store.UpdateRound(ctx, round); err != nil {
		log.Warn("persisting branch name failed", zap.Error(err))
	}
	o.bus.Publish(round.ID, sse.Event{Type: sse.TypeWorkspace, Content: "created branch " + name})
}

// saveClarifications parses the clarifying output and inserts one row per
// question. Malformed output inserts nothing.
func (o *Orchestrator) saveClarifications(ctx context.Context, story *model.Story, raw string, log *zap.Logger) {
	questions := engine.ParseClarifyQuestions(raw)
	if questions == nil {
		log.Warn("clarifying output had no parseable question array")
		return
	}
	for _, q := range questions {
		options := ""
		if len(q.Options) > 0 {
			if encoded, err := json.Marshal(q.Options); err == nil {
				options = string(encoded)
			}
		}
		c := &model.Clarification{StoryID: story.ID, Question: q.Question, Options: options}
		if err := o.store.CreateClarification(ctx, c); err != nil {
			log.Warn("saving clarification failed", zap.Error(err))
		}
	}
}

// runChatTask is the background body of one chat-refinement turn. The raw
// model output is collected silently; only the parsed discussion reaches
// the message log, and a document block replaces the stage's doc file.
func (o *Orchestrator) runChatTask(ctx context.Context, storyID, userMessage string) {
	log := o.log.With(zap.String("story_id", storyID), zap.String("task", "chat"))

	bundle, err := o.store.LoadBundle(ctx, storyID)
	if err != nil {
		log.Warn("chat task: loading bundle failed", zap.Error(err))
		return
	}
	if bundle.ActiveRound == nil {
		log.Warn("chat task: no active round")
		return
	}
	roundID := bundle.ActiveRound.ID

	caps, cleanup, err := o.projectView(ctx, bundle)
	if err != nil {
		log.Error("chat task: building capability view failed", zap.Error(err))
		o.bus.Publish(roundID, sse.Event{Type: sse.TypeError, Content: err.Error()})
		return
	}
	defer cleanup()

	prov, err := chatProvider(caps)
	if err != nil {
		o.bus.Publish(roundID, sse.Event{Type: sse.TypeError, Content: err.Error()})
		return
	}

	history, err := o.chatHistory(ctx, roundID)
	if err != nil {
		log.Warn("chat task: loading history failed", zap.Error(err))
	}

	system, user := engine.BuildChatPrompt(bundle, history, userMessage)
	events, err := prov.RefinePRD(ctx, system, user)
	if err != nil {
		o.bus.Publish(roundID, sse.Event{Type: sse.TypeError, Content: err.Error()})
		return
	}

	// Collect the full response without streaming raw chunks.
	silent := &engine.StageContext{Bundle: bundle, Caps: caps}
	got, err := engine.CollectChat(ctx, silent, events)
	if err != nil {
		if ctx.Err() != nil {
			log.Info("chat task cancelled")
			return
		}
		log.Error("chat task: collection failed", zap.Error(err))
		o.bus.Publish(roundID, sse.Event{Type: sse.TypeError, Content: err.Error()})
		return
	}

	discussion, updatedDoc := engine.ParseRefineResponse(got)

	var postEvents []sse.Event
	if discussion != "" {
		if _, err := o.store.AppendMessage(ctx, roundID, model.RoleAssistant, discussion); err != nil {
			log.Warn("chat task: persisting discussion failed", zap.Error(err))
		}
		postEvents = append(postEvents, sse.Event{Type: sse.TypeAssistant, Content: discussion})
	}

	if updatedDoc != "" {
		d, ok := engine.ChatDocFor(bundle.Story.Status)
		if !ok {
			d = model.DocPRD
		}
		relPath, err := workspace.WriteDoc(bundle.Project, bundle.Story, d.Filename(), updatedDoc)
		if err != nil {
			log.Error("chat task: writing doc failed", zap.Error(err))
			o.bus.Publish(roundID, sse.Event{Type: sse.TypeError, Content: err.Error()})
			return
		}
		bundle.Story.Set(d, relPath)
		if err := o.store.UpdateStory(ctx, bundle.Story); err != nil {
			log.Error("chat task: persisting story failed", zap.Error(err))
			o.bus.Publish(roundID, sse.Event{Type: sse.TypeError, Content: err.Error()})
			return
		}
		postEvents = append(postEvents, sse.Event{
			Type:     sse.TypeDocUpdated,
			Content:  updatedDoc,
			Filename: d.Filename(),
		})
	}

	postEvents = append(postEvents, sse.Event{Type: sse.TypeDone})
	for _, ev := range postEvents {
		o.bus.Publish(roundID, ev)
	}
	log.Info("chat task completed")
}

// chatHistory loads the round's user/assistant exchanges for the prompt.
func (o *Orchestrator) chatHistory(ctx context.Context, roundID string) ([]engine.ChatTurn, error) {
	msgs, err := o.store.ListMessages(ctx, roundID)
	if err != nil {
		return nil, err
	}
	var history []engine.ChatTurn
	for _, m := range msgs {
		if m.Role == model.RoleUser || m.Role == model.RoleAssistant {
			history = append(history, engine.ChatTurn{Role: m.Role, Content: m.Content})
		}
	}
	return history, nil
}

// runCloneTask is the background body of a workspace clone.
func (o *Orchestrator) runCloneTask(ctx context.Context, projectID string) {
	log := o.log.With(zap.String("project_id", projectID), zap.String("task", "clone"))

	project, err := o.store.GetProject(ctx, projectID)
	if err != nil {
		log.Warn("clone task: loading project failed", zap.Error(err))
		return
	}
	if err := o.store.SetWorkspaceStatus(ctx, projectID, model.WorkspaceCloning, ""); err != nil {
		log.Warn("clone task: setting status failed", zap.Error(err))
	}

	publish := func(eventType, content string) {
		log.Info("workspace", zap.String("event", content))
	}
	if err := workspace.CloneWorkspace(ctx, o.git, project, project.RepoURL, o.gitToken, publish); err != nil {
		log.Error("clone failed", zap.Error(err))
		if err := o.store.SetWorkspaceStatus(ctx, projectID, model.WorkspaceError, err.Error()); err != nil {
			log.Warn("clone task: setting error status failed", zap.Error(err))
		}
		return
	}
	if err := o.store.SetWorkspaceStatus(ctx, projectID, model.WorkspaceReady, ""); err != nil {
		log.Warn("clone task: setting ready status failed", zap.Error(err))
	}
	log.Info("workspace ready")
}

func joinErrors(errs []string) string {
	out := ""
	for i, e := range errs {
		if i > 0 {
			out += "; "
		}
		out += e
	}
	return out
}
