package repopool

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/utilitywarehouse/gitlab-mirror/gitlab"
	"github.com/utilitywarehouse/gitlab-mirror/internal/utils"
)

// clearDestination removes all content of the destination dir. The dir
// itself is kept as it might be a mount point.
func clearDestination(dst string, log *slog.Logger) error {
	log.Info("clearing destination dir", "path", dst)

	err := utils.RemoveDirContents(dst, log)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("unable to clear destination dir err:%w", err)
	}
	return nil
}

// checkDuplicateSlugs returns error if 2 projects would be cloned into the
// same dir when hierarchy is disabled
func checkDuplicateSlugs(projects []gitlab.Project) error {
	seen := make(map[string]string, len(projects))
	var dups []string
	for _, p := range projects {
		if other, ok := seen[p.Path]; ok {
			dups = append(dups, fmt.Sprintf("%s (%s, %s)", p.Path, other, p.PathWithNamespace))
			continue
		}
		seen[p.Path] = p.PathWithNamespace
	}
	if len(dups) > 0 {
		return fmt.Errorf("projects with same path found with hierarchy disabled: %s", strings.Join(dups, ", "))
	}
	return nil
}
