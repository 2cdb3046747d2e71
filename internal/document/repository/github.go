package repository

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ceolin/mobilidade/backend/go-services/internal/document"
	"github.com/ceolin/mobilidade/backend/go-services/pkg/logger"
	"github.com/google/go-github/v66/github"
)

// GitHubRepo stores the document as one file in a GitHub repository,
// using the contents API. The version token is the file's blob SHA, which
// GitHub checks on update and answers with 409 when it is stale.
type GitHubRepo struct {
	client *github.Client
	owner  string
	repo   string
	path   string
	branch string
	log    *logger.Logger
}

// NewGitHubClient returns a token-authenticated client. A non-empty baseURL
// points it at another API root (GitHub Enterprise or a test server).
func NewGitHubClient(token, baseURL string, httpClient *http.Client) (*github.Client, error) {
	c := github.NewClient(httpClient)
	if token != "" {
		c = c.WithAuthToken(token)
	}
	if baseURL != "" {
		if !strings.HasSuffix(baseURL, "/") {
			baseURL += "/"
		}
		u, err := url.Parse(baseURL)
		if err != nil {
			return nil, fmt.Errorf("parse github api url: %w", err)
		}
		c.BaseURL = u
	}
	return c, nil
}

func NewGitHubRepo(client *github.Client, owner, repo, path, branch string) *GitHubRepo {
	return &GitHubRepo{
		client: client,
		owner:  owner,
		repo:   repo,
		path:   strings.TrimPrefix(path, "/"),
		branch: branch,
		log:    logger.For("store/github"),
	}
}

func (g *GitHubRepo) Name() string { return "github" }

func (g *GitHubRepo) Read(ctx context.Context) (*document.Blob, error) {
	var opts *github.RepositoryContentGetOptions
	if g.branch != "" {
		opts = &github.RepositoryContentGetOptions{Ref: g.branch}
	}
	file, _, resp, err := g.client.Repositories.GetContents(ctx, g.owner, g.repo, g.path, opts)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, document.ErrNotFound
		}
		g.log.Warnf("get %s/%s:%s failed: %v", g.owner, g.repo, g.path, err)
		return nil, g.storeError("read", resp, err)
	}
	if file == nil {
		return nil, &document.StoreError{Store: g.Name(), Op: "read", Message: fmt.Sprintf("%s is a directory, not a file", g.path)}
	}
	if enc := file.GetEncoding(); enc != "base64" {
		return nil, &document.StoreError{Store: g.Name(), Op: "read", Message: fmt.Sprintf("unexpected file encoding %q", enc)}
	}
	content, err := file.GetContent()
	if err != nil {
		return nil, &document.StoreError{Store: g.Name(), Op: "read", Message: "decode file content", Err: err}
	}
	return &document.Blob{Content: []byte(content), Version: document.Version(file.GetSHA())}, nil
}

func (g *GitHubRepo) WriteIfMatch(ctx context.Context, content []byte, expected document.Version, message string) (*document.WriteResult, error) {
	opts := &github.RepositoryContentFileOptions{
		Message: github.String(message),
		Content: content,
	}
	if g.branch != "" {
		opts.Branch = github.String(g.branch)
	}

	var (
		res  *github.RepositoryContentResponse
		resp *github.Response
		err  error
	)
	if expected.IsZero() {
		res, resp, err = g.client.Repositories.CreateFile(ctx, g.owner, g.repo, g.path, opts)
	} else {
		opts.SHA = github.String(string(expected))
		res, resp, err = g.client.Repositories.UpdateFile(ctx, g.owner, g.repo, g.path, opts)
	}
	if err != nil {
		if resp != nil {
			switch {
			case resp.StatusCode == http.StatusConflict:
				return nil, document.ErrConflict
			case resp.StatusCode == http.StatusUnprocessableEntity && expected.IsZero():
				// the file appeared after we looked and GitHub wants its sha
				return nil, document.ErrConflict
			}
		}
		g.log.Warnf("put %s/%s:%s failed: %v", g.owner, g.repo, g.path, err)
		return nil, g.storeError("write", resp, err)
	}

	out := &document.WriteResult{
		Store:       g.Name(),
		Path:        g.path,
		Message:     message,
		CommittedAt: time.Now().UTC(),
	}
	if res != nil {
		if res.Content != nil {
			out.Version = document.Version(res.Content.GetSHA())
			if p := res.Content.GetPath(); p != "" {
				out.Path = p
			}
		}
		out.CommitID = res.Commit.GetSHA()
		if msg := res.Commit.GetMessage(); msg != "" {
			out.Message = msg
		}
		if c := res.Commit.GetCommitter(); c != nil && c.Date != nil {
			out.CommittedAt = c.Date.Time
		}
	}
	return out, nil
}

func (g *GitHubRepo) storeError(op string, resp *github.Response, err error) error {
	se := &document.StoreError{Store: g.Name(), Op: op, Err: err}
	if resp != nil {
		se.Status = resp.StatusCode
	}
	var ghErr *github.ErrorResponse
	if errors.As(err, &ghErr) {
		se.Message = ghErr.Message
	}
	return se
}
