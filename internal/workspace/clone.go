package workspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/zjjiang/opd/internal/model"
)

// PublishFunc receives workspace progress events (type "workspace").
type PublishFunc func(eventType, content string)

// CloneWorkspace clones the project repository into its workspace
// directory, or fast-forward pulls when a clone already exists. A token,
// when given, is injected into HTTPS URLs for authentication.
func CloneWorkspace(ctx context.Context, git *Git, project *model.Project, repoURL, token string, publish PublishFunc) error {
	dir, err := Dir(project)
	if err != nil {
		return err
	}

	if _, statErr := os.Stat(filepath.Join(dir, ".git")); statErr == nil {
		git.log.Info("workspace already cloned, pulling",
			zap.String("project", project.ID), zap.String("dir", dir))
		if _, err := git.Run(ctx, dir, pullTimeout, "pull", "--ff-only"); err != nil {
			return fmt.Errorf("updating workspace: %w", err)
		}
		if publish != nil {
			publish("workspace", "Workspace updated (git pull)")
		}
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
		return fmt.Errorf("creating workspace parent: %w", err)
	}
	if publish != nil {
		publish("workspace", "Cloning "+repoURL+"...")
	}

	authURL := InjectToken(repoURL, token)
	if _, err := git.Run(ctx, "", cloneTimeout, "clone", authURL, dir); err != nil {
		return fmt.Errorf("cloning workspace: %w", err)
	}
	if publish != nil {
		publish("workspace", "Clone complete")
	}
	return nil
}
