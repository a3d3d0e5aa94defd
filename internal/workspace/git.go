package workspace

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

const safeSystemPath = "PATH=/usr/bin:/bin:/usr/sbin:/sbin"

var gitExecutables = []string{
	"/usr/bin/git",
	"/bin/git",
}

// CurrentCommitSHA returns HEAD of the repository containing projectPath.
func CurrentCommitSHA(ctx context.Context, projectPath string) (string, error) {
	normalized, err := NormalizeProjectPath(projectPath)
	if err != nil {
		return "", err
	}
	gitPath, err := resolveGitBinaryPath()
	if err != nil {
		return "", err
	}
	// #nosec G204 -- arguments are fixed and projectPath is normalized to an absolute directory.
	cmd := exec.CommandContext(ctx, gitPath, "-C", normalized, "rev-parse", "--verify", "HEAD")
	cmd.Env = sanitizedEnv()
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("resolve git commit sha: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(string(output)), nil
}

func resolveGitBinaryPath() (string, error) {
	for _, candidate := range gitExecutables {
		if executableAvailable(candidate) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("git binary not found in fixed system paths")
}

func executableAvailable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return info.Mode()&0o111 != 0
}

// sanitizedEnv drops variables that would point git at another repository.
func sanitizedEnv() []string {
	env := os.Environ()
	filtered := make([]string, 0, len(env)+1)
	for _, entry := range env {
		if strings.HasPrefix(entry, "GIT_DIR=") ||
			strings.HasPrefix(entry, "GIT_WORK_TREE=") ||
			strings.HasPrefix(entry, "GIT_INDEX_FILE=") ||
			strings.HasPrefix(entry, "PATH=") {
			continue
		}
		filtered = append(filtered, entry)
	}
	return append(filtered, safeSystemPath)
}
