package repository

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/ceolin/mobilidade/backend/go-services/internal/document"
	"github.com/ceolin/mobilidade/backend/go-services/pkg/logger"
	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// GitRepo stores the document as one file in a local git repository.
// The version token is the hash of the commit at the head of the branch;
// a write commits on top of that head only if it has not moved.
type GitRepo struct {
	mu     sync.Mutex
	dir    string
	file   string
	branch plumbing.ReferenceName
	author object.Signature
	log    *logger.Logger
}

// OpenGitRepo opens the repository at dir, initializing it when missing,
// and points HEAD at branch.
func OpenGitRepo(dir, file, branch, authorName, authorEmail string) (*GitRepo, error) {
	if branch == "" {
		branch = "main"
	}
	repo, err := git.PlainOpen(dir)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create repo dir: %w", err)
		}
		repo, err = git.PlainInit(dir, false)
	}
	if err != nil {
		return nil, fmt.Errorf("open repo %s: %w", dir, err)
	}
	branchRef := plumbing.NewBranchReferenceName(branch)
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, branchRef)); err != nil {
		return nil, fmt.Errorf("set HEAD to %s: %w", branch, err)
	}
	return &GitRepo{
		dir:    dir,
		file:   path.Clean(filepath.ToSlash(file)),
		branch: branchRef,
		author: object.Signature{Name: authorName, Email: authorEmail},
		log:    logger.For("store/git"),
	}, nil
}

func (g *GitRepo) Name() string { return "git" }

func (g *GitRepo) Read(ctx context.Context) (*document.Blob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	repo, err := git.PlainOpen(g.dir)
	if err != nil {
		return nil, g.storeError("read", "open repo", err)
	}
	head, err := g.head(repo)
	if err != nil {
		return nil, err
	}
	if head == nil {
		return nil, document.ErrNotFound
	}
	file, err := head.File(g.file)
	if errors.Is(err, object.ErrFileNotFound) {
		return nil, document.ErrNotFound
	}
	if err != nil {
		return nil, g.storeError("read", "load file from commit", err)
	}
	contents, err := file.Contents()
	if err != nil {
		return nil, g.storeError("read", "read file contents", err)
	}
	return &document.Blob{Content: []byte(contents), Version: document.Version(head.Hash.String())}, nil
}

func (g *GitRepo) WriteIfMatch(ctx context.Context, content []byte, expected document.Version, message string) (*document.WriteResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	repo, err := git.PlainOpen(g.dir)
	if err != nil {
		return nil, g.storeError("write", "open repo", err)
	}
	head, err := g.head(repo)
	if err != nil {
		return nil, err
	}
	current := document.Version("")
	if head != nil {
		if _, ferr := head.File(g.file); ferr == nil {
			current = document.Version(head.Hash.String())
		} else if !errors.Is(ferr, object.ErrFileNotFound) {
			return nil, g.storeError("write", "load file from commit", ferr)
		}
	}
	if current != expected {
		return nil, document.ErrConflict
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return nil, g.storeError("write", "open worktree", err)
	}
	abs := filepath.Join(worktree.Filesystem.Root(), filepath.FromSlash(g.file))
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, g.storeError("write", "create document dir", err)
	}
	if err := os.WriteFile(abs, content, 0o644); err != nil {
		return nil, g.storeError("write", "write document file", err)
	}
	if _, err := worktree.Add(g.file); err != nil {
		return nil, g.storeError("write", "git add", err)
	}
	sig := g.author
	sig.When = time.Now()
	hash, err := worktree.Commit(message, &git.CommitOptions{
		Author:            &sig,
		AllowEmptyCommits: true,
	})
	if err != nil {
		return nil, g.storeError("write", "commit", err)
	}
	g.log.Debugf("committed %s at %s", g.file, hash.String()[:7])
	return &document.WriteResult{
		Store:       g.Name(),
		Path:        g.file,
		Version:     document.Version(hash.String()),
		CommitID:    hash.String(),
		Message:     message,
		CommittedAt: sig.When.UTC(),
	}, nil
}

// History lists up to limit commits touching the branch, newest first.
func (g *GitRepo) History(ctx context.Context, limit int) ([]document.WriteResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	repo, err := git.PlainOpen(g.dir)
	if err != nil {
		return nil, g.storeError("history", "open repo", err)
	}
	head, err := g.head(repo)
	if err != nil || head == nil {
		return nil, err
	}
	iter, err := repo.Log(&git.LogOptions{From: head.Hash})
	if err != nil {
		return nil, g.storeError("history", "read log", err)
	}
	defer iter.Close()

	var out []document.WriteResult
	for {
		c, err := iter.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, g.storeError("history", "walk log", err)
		}
		out = append(out, document.WriteResult{
			Store:       g.Name(),
			Path:        g.file,
			Version:     document.Version(c.Hash.String()),
			CommitID:    c.Hash.String(),
			Message:     c.Message,
			CommittedAt: c.Author.When.UTC(),
		})
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// head returns the commit at the branch tip, or nil when the branch has no commits yet.
func (g *GitRepo) head(repo *git.Repository) (*object.Commit, error) {
	ref, err := repo.Reference(g.branch, true)
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, g.storeError("resolve", "resolve branch "+g.branch.Short(), err)
	}
	c, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, g.storeError("resolve", "load head commit", err)
	}
	return c, nil
}

func (g *GitRepo) storeError(op, msg string, err error) error {
	g.log.Warnf("%s: %s: %v", op, msg, err)
	return &document.StoreError{Store: g.Name(), Op: op, Message: msg, Err: err}
}
