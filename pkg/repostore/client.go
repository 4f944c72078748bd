// Package repostore manages the GitHub repository that hosts a generated site:
// idempotent repository acquisition, file publishing with optimistic
// concurrency, Pages enablement and commit inspection.
package repostore

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/go-github/v66/github"
	"github.com/rs/zerolog"

	"github.com/nedaZarei/PagesDeployService/pkg/apperrors"
	"github.com/nedaZarei/PagesDeployService/pkg/retry"
)

const (
	DefaultBranch  = "main"
	DefaultTimeout = 30 * time.Second
)

type Config struct {
	Owner   string
	Token   string
	Branch  string
	BaseURL string // API root; empty means api.github.com
	Timeout time.Duration
	Retry   retry.Policy
}

// ProjectInfo describes an existing repository.
type ProjectInfo struct {
	Name          string
	FullName      string
	HTMLURL       string
	DefaultBranch string
}

// CommitInfo is the result of publishing one file.
type CommitInfo struct {
	FileName  string
	FileSHA   string
	CommitSHA string
}

// Client talks to the GitHub REST API on behalf of a single owner.
type Client struct {
	gh      *github.Client
	owner   string
	branch  string
	timeout time.Duration
	policy  retry.Policy
	log     zerolog.Logger

	mu    sync.Mutex
	login string // authenticated user, resolved on first create
}

func NewClient(cfg Config, logger zerolog.Logger) (*Client, error) {
	if cfg.Branch == "" {
		cfg.Branch = DefaultBranch
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry.MaxAttempts = 3
	}
	if cfg.Retry.BaseDelay <= 0 {
		cfg.Retry.BaseDelay = 500 * time.Millisecond
	}

	gh := github.NewClient(&http.Client{Timeout: cfg.Timeout}).WithAuthToken(cfg.Token)
	if cfg.BaseURL != "" {
		base, err := url.Parse(strings.TrimSuffix(cfg.BaseURL, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("invalid GitHub API URL %q: %w", cfg.BaseURL, err)
		}
		gh.BaseURL = base
	}

	c := &Client{
		gh:      gh,
		owner:   cfg.Owner,
		branch:  cfg.Branch,
		timeout: cfg.Timeout,
		policy:  cfg.Retry,
		log:     logger.With().Str("component", "repostore").Str("owner", cfg.Owner).Logger(),
	}
	return c, nil
}

// Owner returns the account the repositories belong to.
func (c *Client) Owner() string { return c.owner }

// RepoURL returns the browser URL of a repository.
func (c *Client) RepoURL(name string) string {
	return fmt.Sprintf("https://github.com/%s/%s", c.owner, name)
}

// FindProject returns the repository or nil when it does not exist.
// It never mutates anything.
func (c *Client) FindProject(ctx context.Context, name string) (*ProjectInfo, error) {
	var repo *github.Repository
	err := c.call(ctx, "get repository", func(ctx context.Context) (*github.Response, error) {
		r, resp, err := c.gh.Repositories.Get(ctx, c.owner, name)
		if isStatus(resp, http.StatusNotFound) {
			return resp, nil
		}
		repo = r
		return resp, err
	})
	if err != nil {
		return nil, fmt.Errorf("repository %s: %w: %w", name, apperrors.ErrProjectLookup, err)
	}
	if repo == nil {
		return nil, nil
	}
	return toProjectInfo(repo), nil
}

// CreateOrGetProject returns the named repository, creating it if needed.
// A creation rejected because the name already exists falls back to a lookup,
// so repeated calls never fail only because the repository is there.
func (c *Client) CreateOrGetProject(ctx context.Context, name string) (*ProjectInfo, error) {
	info, err := c.FindProject(ctx, name)
	if err != nil {
		return nil, err
	}
	if info != nil {
		c.log.Info().Str("repo", name).Msg("repository already exists, using existing one")
		return info, nil
	}

	org, err := c.createOrg(ctx)
	if err != nil {
		return nil, fmt.Errorf("repository %s: %w: %w", name, apperrors.ErrProjectCreate, err)
	}

	var (
		created *github.Repository
		exists  bool
	)
	err = c.call(ctx, "create repository", func(ctx context.Context) (*github.Response, error) {
		r, resp, err := c.gh.Repositories.Create(ctx, org, &github.Repository{
			Name:     github.String(name),
			Private:  github.Bool(false),
			AutoInit: github.Bool(false),
		})
		if isStatus(resp, http.StatusUnprocessableEntity) {
			exists = true
			return resp, nil
		}
		created = r
		return resp, err
	})
	if err != nil {
		return nil, fmt.Errorf("repository %s: %w: %w", name, apperrors.ErrProjectCreate, err)
	}

	if exists {
		info, err := c.FindProject(ctx, name)
		if err != nil {
			return nil, err
		}
		if info == nil {
			return nil, apperrors.Wrapf(apperrors.ErrProjectCreate, "repository %s: creation rejected (422) and subsequent lookup found nothing", name)
		}
		return info, nil
	}

	c.log.Info().Str("repo", name).Msg("created repository")
	return toProjectInfo(created), nil
}

// createOrg returns the organization new repositories are created in, or ""
// when the owner is the token holder itself.
func (c *Client) createOrg(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.login == "" {
		var user *github.User
		err := c.call(ctx, "get authenticated user", func(ctx context.Context) (*github.Response, error) {
			u, resp, err := c.gh.Users.Get(ctx, "")
			user = u
			return resp, err
		})
		if err != nil {
			return "", err
		}
		c.login = user.GetLogin()
	}
	if strings.EqualFold(c.login, c.owner) {
		return "", nil
	}
	return c.owner, nil
}

// PublishFile writes content to fileName as one commit on the configured branch.
// The current blob SHA is sent when the file exists so the store can reject a
// conflicting concurrent edit. Each attempt re-reads the SHA, so a retry after
// an ambiguous failure does not trip over its own earlier write.
func (c *Client) PublishFile(ctx context.Context, project, fileName string, content []byte, message string) (*CommitInfo, error) {
	var res *github.RepositoryContentResponse
	err := c.call(ctx, "publish "+fileName, func(ctx context.Context) (*github.Response, error) {
		sha, resp, err := c.fileSHA(ctx, project, fileName)
		if err != nil {
			return resp, err
		}

		opts := &github.RepositoryContentFileOptions{
			Message: github.String(message),
			Content: content,
			Branch:  github.String(c.branch),
		}
		if sha != "" {
			opts.SHA = github.String(sha)
			res, resp, err = c.gh.Repositories.UpdateFile(ctx, c.owner, project, fileName, opts)
		} else {
			res, resp, err = c.gh.Repositories.CreateFile(ctx, c.owner, project, fileName, opts)
		}
		return resp, err
	})
	if err != nil {
		return nil, fmt.Errorf("push %s to %s: %w: %w", fileName, project, apperrors.ErrStoreWrite, err)
	}

	info := &CommitInfo{FileName: fileName, CommitSHA: res.Commit.GetSHA()}
	if res.Content != nil {
		info.FileSHA = res.Content.GetSHA()
	}
	c.log.Info().Str("repo", project).Str("file", fileName).Str("commit_sha", info.CommitSHA).Msg("pushed file")
	return info, nil
}

// fileSHA returns the blob SHA of fileName on the branch, or "" when absent.
func (c *Client) fileSHA(ctx context.Context, project, fileName string) (string, *github.Response, error) {
	fc, _, resp, err := c.gh.Repositories.GetContents(ctx, c.owner, project, fileName, &github.RepositoryContentGetOptions{Ref: c.branch})
	if isStatus(resp, http.StatusNotFound) {
		return "", resp, nil
	}
	if err != nil {
		return "", resp, err
	}
	if fc == nil {
		return "", resp, nil
	}
	return fc.GetSHA(), resp, nil
}

// EnableStaticHosting turns on Pages for the branch root and returns the site URL.
// Pages already being enabled counts as success.
func (c *Client) EnableStaticHosting(ctx context.Context, project string) (string, error) {
	err := c.call(ctx, "enable pages", func(ctx context.Context) (*github.Response, error) {
		_, resp, err := c.gh.Repositories.EnablePages(ctx, c.owner, project, &github.Pages{
			Source: &github.PagesSource{
				Branch: github.String(c.branch),
				Path:   github.String("/"),
			},
		})
		if isStatus(resp, http.StatusConflict) {
			return resp, nil
		}
		return resp, err
	})
	if err != nil {
		return "", fmt.Errorf("repository %s: %w: %w", project, apperrors.ErrHostingEnable, err)
	}
	c.log.Info().Str("repo", project).Msg("GitHub Pages enabled")

	var pages *github.Pages
	err = c.call(ctx, "get pages", func(ctx context.Context) (*github.Response, error) {
		p, resp, err := c.gh.Repositories.GetPagesInfo(ctx, c.owner, project)
		if isStatus(resp, http.StatusNotFound) {
			return resp, nil
		}
		pages = p
		return resp, err
	})
	if err != nil {
		c.log.Warn().Err(err).Str("repo", project).Msg("could not read pages info, using default URL")
	}
	if pages != nil && pages.GetHTMLURL() != "" {
		return pages.GetHTMLURL(), nil
	}
	return c.DefaultPagesURL(project), nil
}

// DefaultPagesURL is the conventional Pages address of a repository.
func (c *Client) DefaultPagesURL(project string) string {
	return fmt.Sprintf("https://%s.github.io/%s/", c.owner, project)
}

// LatestCommitSHA returns the head commit of branch, or "" when the
// repository or branch has no commits yet.
func (c *Client) LatestCommitSHA(ctx context.Context, project, branch string) (string, error) {
	if branch == "" {
		branch = c.branch
	}
	var sha string
	err := c.call(ctx, "get latest commit", func(ctx context.Context) (*github.Response, error) {
		commit, resp, err := c.gh.Repositories.GetCommit(ctx, c.owner, project, branch, nil)
		if isStatus(resp, http.StatusNotFound) || isStatus(resp, http.StatusConflict) {
			return resp, nil
		}
		if err != nil {
			return resp, err
		}
		sha = commit.GetSHA()
		return resp, nil
	})
	if err != nil {
		return "", fmt.Errorf("repository %s: %w: %w", project, apperrors.ErrCommitLookup, err)
	}
	return sha, nil
}

// call runs one API operation under the retry policy with a per-call timeout.
// Transport failures, 429 and 5xx responses are retried; other errors are not.
func (c *Client) call(ctx context.Context, op string, fn func(ctx context.Context) (*github.Response, error)) error {
	policy := c.policy
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		c.log.Warn().Err(err).Str("op", op).Int("attempt", attempt).Dur("retry_in", delay).Msg("GitHub call failed, retrying")
	}
	return policy.Do(ctx, func(ctx context.Context, _ int) error {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		resp, err := fn(callCtx)
		return classify(ctx, resp, err)
	})
}

func classify(ctx context.Context, resp *github.Response, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return retry.Permanent(err)
	}
	if resp != nil {
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
			return err
		}
		return retry.Permanent(err)
	}
	return err
}

func isStatus(resp *github.Response, status int) bool {
	return resp != nil && resp.Response != nil && resp.StatusCode == status
}

func toProjectInfo(r *github.Repository) *ProjectInfo {
	return &ProjectInfo{
		Name:          r.GetName(),
		FullName:      r.GetFullName(),
		HTMLURL:       r.GetHTMLURL(),
		DefaultBranch: r.GetDefaultBranch(),
	}
}
