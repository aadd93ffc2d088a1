package fastimport

import (
	"fmt"
	"io/ioutil"
	"os"
	"os/exec"
	"strings"

	shellquote "github.com/kballard/go-shellquote"
	log "github.com/sirupsen/logrus"
)

// TreeWriter turns a working directory into a git tree object, the way
// spec.md §4.G describes: "git add -A && git write-tree equivalent
// under a scratch index", grounded on the teacher's own
// exec.Command/shutil.CopyTree idiom for working-tree materialization
// (surgeon/reposurgeon.go, surgeon/extractor.go).
type TreeWriter struct {
	// GitDir is the host repository's .git directory. Left empty, git
	// resolves GIT_DIR from the environment the remote helper inherits.
	GitDir string
}

// WriteTree stages dir's contents into a throwaway index and returns
// the resulting tree object id.
func (tw TreeWriter) WriteTree(dir string) (string, error) {
	idx, err := ioutil.TempFile("", "gitdeb-index-*")
	if err != nil {
		return "", err
	}
	idxPath := idx.Name()
	idx.Close()
	defer os.Remove(idxPath)

	env := append(os.Environ(), "GIT_INDEX_FILE="+idxPath, "GIT_WORK_TREE="+dir)
	if tw.GitDir != "" {
		env = append(env, "GIT_DIR="+tw.GitDir)
	}

	if err := runGit(env, dir, "add", "-A"); err != nil {
		return "", fmt.Errorf("fastimport: staging %s: %w", dir, err)
	}
	out, err := captureGit(env, dir, "write-tree")
	if err != nil {
		return "", fmt.Errorf("fastimport: writing tree for %s: %w", dir, err)
	}
	return strings.TrimSpace(out), nil
}

func runGit(env []string, cwd string, args ...string) error {
	_, err := captureGit(env, cwd, args...)
	return err
}

func captureGit(env []string, cwd string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Env = env
	cmd.Dir = cwd
	logged := shellquote.Join(append([]string{"git"}, args...)...)
	log.WithField("command", logged).Debug("fastimport: running")
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("%s: %w: %s", logged, err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}
