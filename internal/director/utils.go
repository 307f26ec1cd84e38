package director

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ManifestName is the file name of a project manifest inside its directory.
const ManifestName = "project.yaml"

// GenerateProjectDir creates a timestamped project directory path under root.
func GenerateProjectDir(root, id string) string {
	timestamp := time.Now().Format("2006-01-02_15-04-05")
	if len(id) > 8 {
		id = id[:8]
	}
	return filepath.Join(root, fmt.Sprintf("project_%s_%s", timestamp, id))
}

// FindLatestProject finds the most recently written manifest among the
// project directories under root.
func FindLatestProject(root string) (string, error) {
	dirs, err := filepath.Glob(filepath.Join(root, "*", ManifestName))
	if err != nil {
		return "", err
	}
	if len(dirs) == 0 {
		return "", fmt.Errorf("no project manifests found in %s", root)
	}

	latest := ""
	var latestTime time.Time
	for _, path := range dirs {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if info.ModTime().After(latestTime) {
			latest, latestTime = path, info.ModTime()
		}
	}
	if latest == "" {
		return "", fmt.Errorf("no readable project manifests in %s", root)
	}
	return latest, nil
}
