// Package model defines the domain entities driven through the workflow:
// projects, stories, rounds, clarifications, AI messages, and pull requests.
//
// Entities carry string UUIDs and RFC3339 UTC timestamps. Persistence lives
// in the store package; nothing here touches the database.
package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// --- Story status enum ---

// StoryStatus is the stage a story currently sits in. The state machine in
// the engine package owns which transitions between statuses are legal.
type StoryStatus string

const (
	StatusPreparing  StoryStatus = "preparing"
	StatusClarifying StoryStatus = "clarifying"
	StatusPlanning   StoryStatus = "planning"
	StatusDesigning  StoryStatus = "designing"
	StatusCoding     StoryStatus = "coding"
	StatusVerifying  StoryStatus = "verifying"
	StatusDone       StoryStatus = "done"
)

// validStatuses is the set of allowed story statuses.
var validStatuses = map[StoryStatus]bool{
	StatusPreparing:  true,
	StatusClarifying: true,
	StatusPlanning:   true,
	StatusDesigning:  true,
	StatusCoding:     true,
	StatusVerifying:  true,
	StatusDone:       true,
}

// ValidateStatus returns an error if the status is not recognized.
func ValidateStatus(s StoryStatus) error {
	if !validStatuses[s] {
		return fmt.Errorf("invalid story status %q", s)
	}
	return nil
}

// DocStages lists the statuses whose output is a reviewable document,
// in pipeline order. Rollback targets come from this list.
var DocStages = []StoryStatus{StatusPreparing, StatusClarifying, StatusPlanning, StatusDesigning}

// DocStageIndex returns the ordinal of a document stage, or -1 if the
// status is not a document stage.
func DocStageIndex(s StoryStatus) int {
	for i, st := range DocStages {
		if st == s {
			return i
		}
	}
	return -1
}

// --- Round enums ---

// RoundType records why a round was opened.
type RoundType string

const (
	RoundInitial RoundType = "initial"
	RoundIterate RoundType = "iterate"
	RoundRestart RoundType = "restart"
)

// RoundStatus is the round lifecycle: exactly one round per story is active.
type RoundStatus string

const (
	RoundActive RoundStatus = "active"
	RoundClosed RoundStatus = "closed"
)

// --- Rule and skill enums ---

// RuleCategory classifies a project rule.
type RuleCategory string

const (
	RuleCoding       RuleCategory = "coding"
	RuleArchitecture RuleCategory = "architecture"
	RuleTesting      RuleCategory = "testing"
	RuleGit          RuleCategory = "git"
	RuleForbidden    RuleCategory = "forbidden"
)

// SkillTrigger tells the coding stage when a skill command fires.
type SkillTrigger string

const (
	SkillAutoAfterCoding SkillTrigger = "auto_after_coding"
	SkillAutoBeforePR    SkillTrigger = "auto_before_pr"
	SkillManual          SkillTrigger = "manual"
)

// --- Misc enums ---

// PRStatus mirrors the remote pull request state.
type PRStatus string

const (
	PROpen   PRStatus = "open"
	PRClosed PRStatus = "closed"
	PRMerged PRStatus = "merged"
)

// MessageRole is the author of an AI message log entry.
type MessageRole string

const (
	RoleAssistant MessageRole = "assistant"
	RoleTool      MessageRole = "tool"
	RoleUser      MessageRole = "user"
)

// WorkspaceStatus tracks the project workspace clone lifecycle.
// It only ever moves forward (pending → cloning → ready|error) except on
// explicit re-initialize.
type WorkspaceStatus string

const (
	WorkspacePending WorkspaceStatus = "pending"
	WorkspaceCloning WorkspaceStatus = "cloning"
	WorkspaceReady   WorkspaceStatus = "ready"
	WorkspaceError   WorkspaceStatus = "error"
)

// --- Entities ---

// Project is one configured code repository.
type Project struct {
	ID              string          `db:"id" json:"id"`
	Name            string          `db:"name" json:"name"`
	RepoURL         string          `db:"repo_url" json:"repo_url"`
	Description     string          `db:"description" json:"description,omitempty"`
	TechStack       string          `db:"tech_stack" json:"tech_stack,omitempty"`
	Architecture    string          `db:"architecture" json:"architecture,omitempty"`
	WorkspaceDir    string          `db:"workspace_dir" json:"workspace_dir,omitempty"`
	WorkspaceStatus WorkspaceStatus `db:"workspace_status" json:"workspace_status"`
	WorkspaceError  string          `db:"workspace_error" json:"workspace_error,omitempty"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updated_at"`
}

// Rule is a named constraint fed into every prompt for its project.
type Rule struct {
	ID        string       `db:"id" json:"id"`
	ProjectID string       `db:"project_id" json:"project_id"`
	Category  RuleCategory `db:"category" json:"category"`
	Content   string       `db:"content" json:"content"`
	Enabled   bool         `db:"enabled" json:"enabled"`
	CreatedAt time.Time    `db:"created_at" json:"created_at"`
}

// Skill is a named command the coding stage may run.
type Skill struct {
	ID          string       `db:"id" json:"id"`
	ProjectID   string       `db:"project_id" json:"project_id"`
	Name        string       `db:"name" json:"name"`
	Description string       `db:"description" json:"description,omitempty"`
	Command     string       `db:"command" json:"command"`
	Trigger     SkillTrigger `db:"trigger" json:"trigger"`
	CreatedAt   time.Time    `db:"created_at" json:"created_at"`
}

// Story is one feature request in flight.
//
// Document fields hold either inline markdown (legacy) or a relative path
// beginning with "docs/"; when a path is present the file on disk is
// authoritative. The hash fields memoize the input content each AI stage
// consumed the last time it produced output.
type Story struct {
	ID           string      `db:"id" json:"id"`
	ProjectID    string      `db:"project_id" json:"project_id"`
	Title        string      `db:"title" json:"title"`
	FeatureTag   string      `db:"feature_tag" json:"feature_tag,omitempty"`
	RawInput     string      `db:"raw_input" json:"raw_input"`
	Status       StoryStatus `db:"status" json:"status"`
	CurrentRound int         `db:"current_round" json:"current_round"`

	PRD             string `db:"prd" json:"prd,omitempty"`
	ConfirmedPRD    string `db:"confirmed_prd" json:"confirmed_prd,omitempty"`
	TechnicalDesign string `db:"technical_design" json:"technical_design,omitempty"`
	DetailedDesign  string `db:"detailed_design" json:"detailed_design,omitempty"`
	CodingReport    string `db:"coding_report" json:"coding_report,omitempty"`
	TestGuide       string `db:"test_guide" json:"test_guide,omitempty"`

	PlanningInputHash  string `db:"planning_input_hash" json:"-"`
	DesigningInputHash string `db:"designing_input_hash" json:"-"`
	CodingInputHash    string `db:"coding_input_hash" json:"-"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Round is one attempt at driving a story to merge.
type Round struct {
	ID          string      `db:"id" json:"id"`
	StoryID     string      `db:"story_id" json:"story_id"`
	RoundNumber int         `db:"round_number" json:"round_number"`
	Type        RoundType   `db:"type" json:"type"`
	Status      RoundStatus `db:"status" json:"status"`
	BranchName  string      `db:"branch_name" json:"branch_name,omitempty"`
	CloseReason string      `db:"close_reason" json:"close_reason,omitempty"`
	CreatedAt   time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time   `db:"updated_at" json:"updated_at"`
}

// Clarification is a Q/A pair produced by the clarifying stage.
// Answer stays empty until the user responds; Answer and Answered are the
// only fields ever updated after creation.
type Clarification struct {
	ID        string    `db:"id" json:"id"`
	StoryID   string    `db:"story_id" json:"story_id"`
	Question  string    `db:"question" json:"question"`
	Options   string    `db:"options" json:"options,omitempty"` // JSON array, optional
	Answer    string    `db:"answer" json:"answer,omitempty"`
	Answered  bool      `db:"answered" json:"answered"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// AIMessage is an append-only log entry in a round, used for audit and
// for SSE history replay.
type AIMessage struct {
	ID        string      `db:"id" json:"id"`
	RoundID   string      `db:"round_id" json:"round_id"`
	Role      MessageRole `db:"role" json:"role"`
	Content   string      `db:"content" json:"content"`
	CreatedAt time.Time   `db:"created_at" json:"created_at"`
}

// PullRequest tracks a remote PR owned by a round.
type PullRequest struct {
	ID        string    `db:"id" json:"id"`
	RoundID   string    `db:"round_id" json:"round_id"`
	Number    int       `db:"pr_number" json:"pr_number"`
	URL       string    `db:"pr_url" json:"pr_url"`
	Status    PRStatus  `db:"status" json:"status"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Task is one ordered implementation step extracted during planning.
type Task struct {
	ID          string    `db:"id" json:"id"`
	StoryID     string    `db:"story_id" json:"story_id"`
	Title       string    `db:"title" json:"title"`
	Description string    `db:"description" json:"description,omitempty"`
	Order       int       `db:"task_order" json:"order"`
	DependsOn   string    `db:"depends_on" json:"depends_on,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// CapabilityConfig is the global provider choice for one capability.
type CapabilityConfig struct {
	Capability string            `db:"capability" json:"capability"`
	Provider   string            `db:"provider" json:"provider"`
	Config     map[string]string `db:"-" json:"config"`
	ConfigJSON string            `db:"config" json:"-"`
}

// ProjectCapabilityConfig shadows a global capability config for one project.
type ProjectCapabilityConfig struct {
	ID               string            `db:"id" json:"id"`
	ProjectID        string            `db:"project_id" json:"project_id"`
	Capability       string            `db:"capability" json:"capability"`
	Enabled          bool              `db:"enabled" json:"enabled"`
	ProviderOverride string            `db:"provider_override" json:"provider_override,omitempty"`
	ConfigOverride   map[string]string `db:"-" json:"config_override"`
	ConfigJSON       string            `db:"config_override" json:"-"`
}

// StoryBundle is the fully-loaded aggregate a background task works from.
// It is read in a single store call; stage handlers never re-enter the
// persistence layer for reads.
type StoryBundle struct {
	Story          *Story
	Project        *Project
	Rules          []Rule
	Skills         []Skill
	ActiveRound    *Round
	Rounds         []Round
	Clarifications []Clarification
	Tasks          []Task
	PullRequests   []PullRequest
	CapOverrides   []ProjectCapabilityConfig
}

// NewID returns a fresh string UUID.
func NewID() string {
	return uuid.NewString()
}
