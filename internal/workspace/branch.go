package workspace

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/zjjiang/opd/internal/model"
)

// BranchName is the coding branch for a story round: opd/story-{id}-r{n}.
func BranchName(storyID string, roundNumber int) string {
	return fmt.Sprintf("opd/story-%s-r%d", storyID, roundNumber)
}

// CreateCodingBranch checks out main, best-effort pulls, creates the round
// branch and pushes it upstream. The pull is non-fatal: a stale main still
// yields a usable branch.
func CreateCodingBranch(ctx context.Context, git *Git, project *model.Project, name string) error {
	dir, err := Dir(project)
	if err != nil {
		return err
	}
	if _, err := git.Run(ctx, dir, localTimeout, "checkout", "main"); err != nil {
		return fmt.Errorf("switching to main: %w", err)
	}
	if _, err := git.Run(ctx, dir, pullTimeout, "pull", "--ff-only"); err != nil {
		git.log.Warn("pull before branch failed, continuing",
			zap.String("project", project.ID), zap.Error(err))
	}
	if _, err := git.Run(ctx, dir, localTimeout, "checkout", "-b", name); err != nil {
		return fmt.Errorf("creating branch %q: %w", name, err)
	}
	if _, err := git.Run(ctx, dir, pushTimeout, "push", "-u", "origin", name); err != nil {
		return fmt.Errorf("pushing branch %q: %w", name, err)
	}
	return nil
}

// DiscardBranch switches back to main and deletes the branch locally and
// remotely. Both deletions are best-effort.
func DiscardBranch(ctx context.Context, git *Git, project *model.Project, name string) error {
	dir, err := Dir(project)
	if err != nil {
		return err
	}
	if _, err := git.Run(ctx, dir, localTimeout, "checkout", "main"); err != nil {
		return fmt.Errorf("switching to main: %w", err)
	}
	if _, err := git.Run(ctx, dir, localTimeout, "branch", "-D", name); err != nil {
		git.log.Warn("local branch delete failed", zap.String("branch", name), zap.Error(err))
	}
	if _, err := git.Run(ctx, dir, pushTimeout, "push", "origin", "--delete", name); err != nil {
		git.log.Warn("remote branch delete failed", zap.String("branch", name), zap.Error(err))
	}
	return nil
}
