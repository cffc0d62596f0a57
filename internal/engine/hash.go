package engine

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/zjjiang/opd/internal/model"
	"github.com/zjjiang/opd/internal/workspace"
)

// StageInput fixes, per AI stage, which document feeds it, where the memo
// hash lives, and which document it produces.
type StageInput struct {
	InputDoc  model.StoryDoc
	Filename  string
	HashField model.HashField
	OutputDoc model.StoryDoc
}

// stageInputs is the change-detection table.
var stageInputs = map[model.StoryStatus]StageInput{
	model.StatusPlanning: {
		InputDoc:  model.DocConfirmedPRD,
		Filename:  "prd.md",
		HashField: model.HashPlanning,
		OutputDoc: model.DocTechnicalDesign,
	},
	model.StatusDesigning: {
		InputDoc:  model.DocTechnicalDesign,
		Filename:  "technical_design.md",
		HashField: model.HashDesigning,
		OutputDoc: model.DocDetailedDesign,
	},
	model.StatusCoding: {
		InputDoc:  model.DocDetailedDesign,
		Filename:  "detailed_design.md",
		HashField: model.HashCoding,
		OutputDoc: model.DocCodingReport,
	},
}

// StageInputFor returns the change-detection tuple for a stage, ok=false
// when the stage has no memoized input.
func StageInputFor(status model.StoryStatus) (StageInput, bool) {
	si, ok := stageInputs[status]
	return si, ok
}

// ComputeHash returns the SHA-256 hex digest of content.
func ComputeHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// StageInputContent resolves the input content for a stage: the doc file
// when present, otherwise the inline field value. ok=false when there is
// no input at all.
func StageInputContent(project *model.Project, story *model.Story, status model.StoryStatus) (string, bool) {
	si, ok := stageInputs[status]
	if !ok {
		return "", false
	}
	content, found, err := workspace.ReadDoc(project, story, si.Filename)
	if err == nil && found && content != "" {
		return content, true
	}
	val := story.Get(si.InputDoc)
	if val != "" && !model.IsDocPath(val) {
		return val, true
	}
	return "", false
}

// StageInputHash computes the current input hash for a stage, ok=false
// when no input is available.
func StageInputHash(project *model.Project, story *model.Story, status model.StoryStatus) (string, bool) {
	content, ok := StageInputContent(project, story, status)
	if !ok {
		return "", false
	}
	return ComputeHash(content), true
}

// ShouldSkipAI reports whether the stage can skip its AI run: it already
// has output and the stored input hash matches the current input.
func ShouldSkipAI(project *model.Project, story *model.Story, status model.StoryStatus) bool {
	si, ok := stageInputs[status]
	if !ok {
		return false
	}
	if story.Get(si.OutputDoc) == "" {
		return false
	}
	stored := story.GetHash(si.HashField)
	if stored == "" {
		return false
	}
	current, ok := StageInputHash(project, story, status)
	return ok && current == stored
}
