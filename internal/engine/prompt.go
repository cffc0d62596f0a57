package engine

import (
	"fmt"
	"strings"

	"github.com/zjjiang/opd/internal/model"
	"github.com/zjjiang/opd/internal/workspace"
)

// Prompt assembly. Pure functions over the loaded story bundle: the
// project block, enabled rules, the stage input document, clarification
// Q/A, ordered tasks, and (for chat) conversation history.

// ChatTurn is one prior exchange fed into a chat prompt.
type ChatTurn struct {
	Role    model.MessageRole
	Content string
}

// chatFormatInstruction is appended to every chat prompt so replies can be
// parsed by ParseRefineResponse.
const chatFormatInstruction = `Reply in exactly one of two forms:
1. <discussion>your short reply</discussion>
2. <discussion>your short reply</discussion><updated_doc>the complete updated document</updated_doc>
When you change the document, include its FULL content in <updated_doc>, not a diff.`

// markerInstruction asks long-document stages to signal completion.
const markerInstruction = "After emitting the full document, output `" + CompletionMarker + "` on its own line."

func rulesBlock(rules []model.Rule) string {
	var lines []string
	for _, r := range rules {
		if !r.Enabled {
			continue
		}
		lines = append(lines, fmt.Sprintf("- [%s] %s", r.Category, r.Content))
	}
	if len(lines) == 0 {
		return ""
	}
	return "## Project Rules\n\n" + strings.Join(lines, "\n") + "\n"
}

func clarificationsBlock(clarifications []model.Clarification) string {
	if len(clarifications) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("## Clarifications\n\n")
	for _, c := range clarifications {
		answer := c.Answer
		if !c.Answered {
			answer = "(not yet answered)"
		}
		fmt.Fprintf(&b, "**Q:** %s\n**A:** %s\n\n", c.Question, answer)
	}
	return b.String()
}

func tasksBlock(tasks []model.Task) string {
	if len(tasks) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("## Tasks\n\n")
	for _, t := range tasks {
		fmt.Fprintf(&b, "%d. %s", t.Order, t.Title)
		if t.DependsOn != "" {
			fmt.Fprintf(&b, " (depends on: %s)", t.DependsOn)
		}
		b.WriteString("\n")
		if t.Description != "" {
			fmt.Fprintf(&b, "   %s\n", t.Description)
		}
	}
	return b.String()
}

func historyBlock(history []ChatTurn) string {
	if len(history) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("## Conversation so far\n\n")
	for _, turn := range history {
		fmt.Fprintf(&b, "%s: %s\n", turn.Role, turn.Content)
	}
	return b.String()
}

// systemPrompt builds the shared system preamble: role, project block,
// enabled rules, then stage-specific directives.
func systemPrompt(project *model.Project, rules []model.Rule, directives ...string) string {
	parts := []string{
		"You are an expert software engineer working on the following project.",
		"",
		"# Project: " + project.Name,
		"",
	}
	if project.Description != "" {
		parts = append(parts, "## Description\n"+project.Description+"\n")
	}
	if project.TechStack != "" {
		parts = append(parts, "## Tech Stack\n"+project.TechStack+"\n")
	}
	if project.Architecture != "" {
		parts = append(parts, "## Architecture\n"+project.Architecture+"\n")
	}
	if rb := rulesBlock(rules); rb != "" {
		parts = append(parts, rb)
	}
	parts = append(parts, "Follow the project rules strictly.")
	parts = append(parts, directives...)
	return strings.Join(parts, "\n")
}

// resolveInput reads the effective content of a story document for prompt
// inclusion, falling back to empty.
func resolveInput(b *model.StoryBundle, d model.StoryDoc) string {
	content, ok, err := workspace.ResolveDoc(b.Project, b.Story, d)
	if err != nil || !ok {
		return ""
	}
	return content
}

// BuildPreparingPrompt asks for a PRD from the raw story input.
func BuildPreparingPrompt(b *model.StoryBundle, sourceContext string) (system, user string) {
	system = systemPrompt(b.Project, b.Rules,
		"Produce a complete, structured PRD in markdown for the feature request you are given.")
	var u strings.Builder
	fmt.Fprintf(&u, "# Story: %s\n\n## Raw request\n%s\n", b.Story.Title, b.Story.RawInput)
	if b.Story.FeatureTag != "" {
		fmt.Fprintf(&u, "\nFeature tag: %s\n", b.Story.FeatureTag)
	}
	if sourceContext != "" {
		u.WriteString("\n" + sourceContext + "\n")
	}
	u.WriteString("\nWrite the PRD now.")
	return system, u.String()
}

// BuildClarifyingPrompt asks for clarification questions over the PRD.
func BuildClarifyingPrompt(b *model.StoryBundle) (system, user string) {
	system = systemPrompt(b.Project, b.Rules,
		`Analyze the PRD and return a JSON array of clarifying questions. Each element is an object with a "question" key and an optional "options" array. Return ONLY the JSON array.`)
	var u strings.Builder
	fmt.Fprintf(&u, "# Story: %s\n\n## PRD\n%s\n", b.Story.Title, resolveInput(b, model.DocPRD))
	u.WriteString(clarificationsBlock(b.Clarifications))
	return system, u.String()
}

// BuildPlanningPrompt asks for the technical design from the confirmed PRD.
func BuildPlanningPrompt(b *model.StoryBundle, sourceContext string) (system, user string) {
	system = systemPrompt(b.Project, b.Rules,
		"Produce a technical design document in markdown: architecture, component breakdown, and an ordered implementation task list.",
		markerInstruction)
	input := resolveInput(b, model.DocConfirmedPRD)
	if input == "" {
		input = resolveInput(b, model.DocPRD)
	}
	var u strings.Builder
	fmt.Fprintf(&u, "# Story: %s\n\n## Confirmed PRD\n%s\n", b.Story.Title, input)
	u.WriteString(clarificationsBlock(b.Clarifications))
	if sourceContext != "" {
		u.WriteString("\n" + sourceContext + "\n")
	}
	return system, u.String()
}

// BuildDesigningPrompt asks for the detailed design from the technical
// design and task list.
func BuildDesigningPrompt(b *model.StoryBundle, sourceContext string) (system, user string) {
	system = systemPrompt(b.Project, b.Rules,
		"Produce a detailed design document in markdown covering every task: interfaces, data structures, file-level changes, and edge cases.",
		markerInstruction)
	var u strings.Builder
	fmt.Fprintf(&u, "# Story: %s\n\n## Technical design\n%s\n", b.Story.Title, resolveInput(b, model.DocTechnicalDesign))
	u.WriteString(tasksBlock(b.Tasks))
	u.WriteString(clarificationsBlock(b.Clarifications))
	if sourceContext != "" {
		u.WriteString("\n" + sourceContext + "\n")
	}
	return system, u.String()
}

// BuildCodingPrompt asks for the implementation of the detailed design.
func BuildCodingPrompt(b *model.StoryBundle, branchName string) (system, user string) {
	system = systemPrompt(b.Project, b.Rules,
		"Implement the detailed design. Write tests for new functionality, keep changes focused, and commit with clear messages.")
	var u strings.Builder
	fmt.Fprintf(&u, "# Story: %s\n\n## Detailed design\n%s\n", b.Story.Title, resolveInput(b, model.DocDetailedDesign))
	u.WriteString(tasksBlock(b.Tasks))
	if branchName != "" {
		fmt.Fprintf(&u, "\nWork on branch %s (round %d).\n", branchName, b.Story.CurrentRound)
	}
	return system, u.String()
}

// BuildContinuationPrompt asks the model to continue a document that was
// cut off before the completion marker appeared.
func BuildContinuationPrompt(tail string) string {
	return fmt.Sprintf(
		"Your previous output was cut off. Continue from the cutoff; do not repeat.\n\nThe output so far ends with:\n...%s\n\n%s",
		tail, markerInstruction)
}

// chatDoc maps a story status to the document the chat loop edits.
var chatDoc = map[model.StoryStatus]model.StoryDoc{
	model.StatusPreparing:  model.DocPRD,
	model.StatusClarifying: model.DocPRD,
	model.StatusPlanning:   model.DocTechnicalDesign,
	model.StatusDesigning:  model.DocDetailedDesign,
}

// ChatDocFor returns the document the chat loop targets in a stage,
// ok=false when the stage has no chat.
func ChatDocFor(status model.StoryStatus) (model.StoryDoc, bool) {
	d, ok := chatDoc[status]
	return d, ok
}

// BuildChatPrompt builds the refinement prompt for the current stage's
// document, with conversation history and the triggering user message.
func BuildChatPrompt(b *model.StoryBundle, history []ChatTurn, userMessage string) (system, user string) {
	d, ok := ChatDocFor(b.Story.Status)
	if !ok {
		d = model.DocPRD
	}
	system = systemPrompt(b.Project, b.Rules,
		fmt.Sprintf("You are refining the story's %s document in conversation with the user.", d),
		chatFormatInstruction)

	var u strings.Builder
	fmt.Fprintf(&u, "# Story: %s\n\n## Current document (%s)\n%s\n",
		b.Story.Title, d.Filename(), resolveInput(b, d))
	u.WriteString(clarificationsBlock(b.Clarifications))
	u.WriteString(historyBlock(history))
	fmt.Fprintf(&u, "## User message\n%s\n", userMessage)
	return system, u.String()
}
