package gitsource

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/require"
)

func commitFile(t *testing.T, repo *git.Repository, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	wt, err := repo.Worktree()
	require.NoError(t, err)
	_, err = wt.Add(name)
	require.NoError(t, err)
	_, err = wt.Commit("add "+name, &git.CommitOptions{
		Author: &object.Signature{Name: "test", Email: "test@example.com", When: time.Now()},
	})
	require.NoError(t, err)
}

func TestSource_CloneThenPull(t *testing.T) {
	if _, err := exec.LookPath("git-upload-pack"); err != nil {
		if _, err := exec.LookPath("git"); err != nil {
			t.Skip("git is not installed")
		}
	}

	origin := t.TempDir()
	repo, err := git.PlainInit(origin, false)
	require.NoError(t, err)
	commitFile(t, repo, origin, "hello.yaml", "name: Hello\ndescription: first\n")

	checkout := filepath.Join(t.TempDir(), "scenarios")
	src := New(Options{URL: origin, Dir: checkout})

	require.NoError(t, src.Sync(context.Background()))
	require.FileExists(t, filepath.Join(checkout, "hello.yaml"))

	commitFile(t, repo, origin, "second.yaml", "name: Second\ndescription: later\n")
	require.NoError(t, src.Sync(context.Background()))
	require.FileExists(t, filepath.Join(checkout, "second.yaml"))

	// nothing new upstream
	require.NoError(t, src.Sync(context.Background()))
}

func TestSource_CloneFailure(t *testing.T) {
	src := New(Options{
		URL: filepath.Join(t.TempDir(), "does-not-exist"),
		Dir: filepath.Join(t.TempDir(), "scenarios"),
	})
	require.Error(t, src.Sync(context.Background()))
}

func TestSourceLogsAsComponent(t *testing.T) {
	s := New(Options{URL: "https://example.com/scenarios.git", Dir: t.TempDir()})
	require.Equal(t, "gitsource", s.log.Data["component"])
	require.Equal(t, "https://example.com/scenarios.git", s.log.Data["url"])
}
