// Package gitsource keeps the scenario directory in sync with a git repository.
package gitsource

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/melih/lighthouse-runner/internal/logging"
	"github.com/sirupsen/logrus"
)

// Options describes the repository to mirror.
type Options struct {
	URL   string
	Ref   string // branch name; empty means the remote HEAD
	Dir   string // local checkout, the scenario registry root
	Depth int
}

type Source struct {
	opts Options
	log  *logrus.Entry
}

func New(opts Options) *Source {
	return &Source{opts: opts, log: logging.Component("gitsource").WithField("url", opts.URL)}
}

// Sync clones the repository on first use and fast-forwards it afterwards.
func (s *Source) Sync(ctx context.Context) error {
	repo, err := git.PlainOpen(s.opts.Dir)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return s.clone(ctx)
	}
	if err != nil {
		return fmt.Errorf("failed to open scenario checkout %s: %w", s.opts.Dir, err)
	}
	return s.pull(ctx, repo)
}

func (s *Source) clone(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(s.opts.Dir), 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(s.opts.Dir), err)
	}

	s.log.WithField("dir", s.opts.Dir).Info("cloning scenario repository")
	cloneOpts := &git.CloneOptions{
		URL:          s.opts.URL,
		Depth:        s.opts.Depth,
		SingleBranch: s.opts.Ref != "",
	}
	if s.opts.Ref != "" {
		cloneOpts.ReferenceName = plumbing.NewBranchReferenceName(s.opts.Ref)
	}
	if _, err := git.PlainCloneContext(ctx, s.opts.Dir, false, cloneOpts); err != nil {
		return fmt.Errorf("failed to clone %s: %w", s.opts.URL, err)
	}
	return nil
}

func (s *Source) pull(ctx context.Context, repo *git.Repository) error {
	wt, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("failed to open worktree: %w", err)
	}
	pullOpts := &git.PullOptions{
		RemoteName: git.DefaultRemoteName,
		Depth:      s.opts.Depth,
	}
	if s.opts.Ref != "" {
		pullOpts.ReferenceName = plumbing.NewBranchReferenceName(s.opts.Ref)
		pullOpts.SingleBranch = true
	}
	err = wt.PullContext(ctx, pullOpts)
	if errors.Is(err, git.NoErrAlreadyUpToDate) {
		s.log.Debug("scenario repository already up to date")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to pull %s: %w", s.opts.URL, err)
	}
	s.log.Info("scenario repository updated")
	return nil
}
