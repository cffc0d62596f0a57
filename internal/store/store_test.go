package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/zjjiang/opd/internal/model"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testProject(t *testing.T, s *Store) *model.Project {
	t.Helper()
	p := &model.Project{Name: "demo", RepoURL: "https://example.test/repo.git"}
	if err := s.CreateProject(context.Background(), p); err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	return p
}

func testStory(t *testing.T, s *Store, projectID string) (*model.Story, *model.Round) {
	t.Helper()
	story := &model.Story{ProjectID: projectID, Title: "add login", RawInput: "Implement POST /login"}
	round, err := s.CreateStory(context.Background(), story)
	if err != nil {
		t.Fatalf("CreateStory: %v", err)
	}
	return story, round
}

func TestCreateProject_UniqueName(t *testing.T) {
	s := testStore(t)
	testProject(t, s)
	dup := &model.Project{Name: "demo", RepoURL: "https://example.test/other.git"}
	if err := s.CreateProject(context.Background(), dup); err == nil {
		t.Error("duplicate project name accepted")
	}
}

func TestGetProject_NotFound(t *testing.T) {
	s := testStore(t)
	_, err := s.GetProject(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestCreateStory_InitialRound(t *testing.T) {
	s := testStore(t)
	p := testProject(t, s)
	story, round := testStory(t, s, p.ID)

	if story.Status != model.StatusPreparing {
		t.Errorf("status = %s", story.Status)
	}
	if story.CurrentRound != 1 {
		t.Errorf("current_round = %d", story.CurrentRound)
	}
	if round.RoundNumber != 1 || round.Type != model.RoundInitial || round.Status != model.RoundActive {
		t.Errorf("round = %+v", round)
	}
}

func TestRotateRound_KeepsOneActive(t *testing.T) {
	s := testStore(t)
	p := testProject(t, s)
	story, first := testStory(t, s, p.ID)
	ctx := context.Background()

	next, err := s.RotateRound(ctx, story, model.RoundRestart, "restart")
	if err != nil {
		t.Fatalf("RotateRound: %v", err)
	}
	if next.RoundNumber != 2 || next.Type != model.RoundRestart {
		t.Errorf("next = %+v", next)
	}

	rounds, err := s.ListRounds(ctx, story.ID)
	if err != nil {
		t.Fatal(err)
	}
	active := 0
	for _, r := range rounds {
		if r.Status == model.RoundActive {
			active++
		}
		if r.ID == first.ID && r.Status != model.RoundClosed {
			t.Errorf("old round still %s", r.Status)
		}
	}
	if active != 1 {
		t.Errorf("active rounds = %d, want exactly 1", active)
	}

	got, err := s.GetStory(ctx, story.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.CurrentRound != 2 {
		t.Errorf("current_round = %d, want 2", got.CurrentRound)
	}
}

func TestMessages_AppendListDelete(t *testing.T) {
	s := testStore(t)
	p := testProject(t, s)
	_, round := testStory(t, s, p.ID)
	ctx := context.Background()

	for _, content := range []string{"a", "b"} {
		if _, err := s.AppendMessage(ctx, round.ID, model.RoleAssistant, content); err != nil {
			t.Fatal(err)
		}
	}
	msgs, err := s.ListMessages(ctx, round.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 || msgs[0].Content != "a" || msgs[1].Content != "b" {
		t.Errorf("msgs = %+v", msgs)
	}

	if err := s.DeleteMessages(ctx, round.ID); err != nil {
		t.Fatal(err)
	}
	msgs, _ = s.ListMessages(ctx, round.ID)
	if len(msgs) != 0 {
		t.Errorf("messages survived delete: %+v", msgs)
	}
}

func TestClarifications_AnswerByQuestion(t *testing.T) {
	s := testStore(t)
	p := testProject(t, s)
	story, _ := testStory(t, s, p.ID)
	ctx := context.Background()

	c := &model.Clarification{StoryID: story.ID, Question: "scope?"}
	if err := s.CreateClarification(ctx, c); err != nil {
		t.Fatal(err)
	}

	n, err := s.AnswerClarificationByQuestion(ctx, story.ID, "scope?", "just login")
	if err != nil || n != 1 {
		t.Fatalf("answer: n=%d err=%v", n, err)
	}

	// Already answered: the fallback must not overwrite.
	n, err = s.AnswerClarificationByQuestion(ctx, story.ID, "scope?", "other")
	if err != nil || n != 0 {
		t.Errorf("second answer: n=%d err=%v, want 0 rows", n, err)
	}

	list, _ := s.ListClarifications(ctx, story.ID)
	if len(list) != 1 || list[0].Answer != "just login" || !list[0].Answered {
		t.Errorf("clarifications = %+v", list)
	}
}

func TestClarifications_AnswerByID(t *testing.T) {
	s := testStore(t)
	p := testProject(t, s)
	story, _ := testStory(t, s, p.ID)
	ctx := context.Background()

	c := &model.Clarification{StoryID: story.ID, Question: "auth?"}
	if err := s.CreateClarification(ctx, c); err != nil {
		t.Fatal(err)
	}
	n, err := s.AnswerClarificationByID(ctx, story.ID, c.ID, "JWT")
	if err != nil || n != 1 {
		t.Fatalf("answer by id: n=%d err=%v", n, err)
	}
}

func TestCapabilityConfigs_RoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	cfg := &model.CapabilityConfig{
		Capability: "ai",
		Provider:   "claude",
		Config:     map[string]string{"auth_token": "tok", "model": "fast"},
	}
	if err := s.SaveCapabilityConfig(ctx, cfg); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetCapabilityConfig(ctx, "ai")
	if err != nil {
		t.Fatal(err)
	}
	if got.Provider != "claude" || got.Config["auth_token"] != "tok" {
		t.Errorf("got = %+v", got)
	}

	// Upsert replaces.
	cfg.Provider = "claude"
	cfg.Config["model"] = "slow"
	if err := s.SaveCapabilityConfig(ctx, cfg); err != nil {
		t.Fatal(err)
	}
	got, _ = s.GetCapabilityConfig(ctx, "ai")
	if got.Config["model"] != "slow" {
		t.Errorf("upsert did not replace config: %+v", got.Config)
	}
}

func TestProjectCapabilityConfigs_Upsert(t *testing.T) {
	s := testStore(t)
	p := testProject(t, s)
	ctx := context.Background()

	cfg := &model.ProjectCapabilityConfig{
		ProjectID:      p.ID,
		Capability:     "ai",
		Enabled:        true,
		ConfigOverride: map[string]string{"model": "fast"},
	}
	if err := s.SaveProjectCapabilityConfig(ctx, cfg); err != nil {
		t.Fatal(err)
	}
	cfg2 := &model.ProjectCapabilityConfig{
		ProjectID:  p.ID,
		Capability: "ai",
		Enabled:    false,
	}
	if err := s.SaveProjectCapabilityConfig(ctx, cfg2); err != nil {
		t.Fatal(err)
	}

	list, err := s.ListProjectCapabilityConfigs(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].Enabled {
		t.Errorf("list = %+v, want single disabled override", list)
	}
}

func TestLoadBundle(t *testing.T) {
	s := testStore(t)
	p := testProject(t, s)
	story, round := testStory(t, s, p.ID)
	ctx := context.Background()

	if err := s.CreateRule(ctx, &model.Rule{
		ProjectID: p.ID, Category: model.RuleCoding, Content: "table tests", Enabled: true,
	}); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateClarification(ctx, &model.Clarification{StoryID: story.ID, Question: "q?"}); err != nil {
		t.Fatal(err)
	}
	if err := s.CreatePullRequest(ctx, &model.PullRequest{
		RoundID: round.ID, Number: 5, URL: "https://example.test/pr/5",
	}); err != nil {
		t.Fatal(err)
	}

	bundle, err := s.LoadBundle(ctx, story.ID)
	if err != nil {
		t.Fatalf("LoadBundle: %v", err)
	}
	if bundle.Story.ID != story.ID || bundle.Project.ID != p.ID {
		t.Error("bundle identity mismatch")
	}
	if bundle.ActiveRound == nil || bundle.ActiveRound.ID != round.ID {
		t.Error("active round missing")
	}
	if len(bundle.Rules) != 1 || len(bundle.Clarifications) != 1 || len(bundle.PullRequests) != 1 {
		t.Errorf("bundle collections = %d rules, %d clarifications, %d prs",
			len(bundle.Rules), len(bundle.Clarifications), len(bundle.PullRequests))
	}
}

func TestFindRoundByPRNumber(t *testing.T) {
	s := testStore(t)
	p := testProject(t, s)
	_, round := testStory(t, s, p.ID)
	ctx := context.Background()

	if err := s.CreatePullRequest(ctx, &model.PullRequest{
		RoundID: round.ID, Number: 42, URL: "https://example.test/pr/42",
	}); err != nil {
		t.Fatal(err)
	}

	gotRound, gotPR, err := s.FindRoundByPRNumber(ctx, 42)
	if err != nil {
		t.Fatal(err)
	}
	if gotRound.ID != round.ID || gotPR.Number != 42 {
		t.Errorf("got round %s pr %d", gotRound.ID, gotPR.Number)
	}

	if _, _, err := s.FindRoundByPRNumber(ctx, 999); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing PR err = %v", err)
	}
}
