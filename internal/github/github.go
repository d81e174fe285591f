// Package github reads pull request changes and posts review comments.
package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	gh "github.com/google/go-github/v68/github"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/ysxu666/llm-mr-reviewer/internal/retry"
	"github.com/ysxu666/llm-mr-reviewer/internal/types"
)

// Options configures Client.
type Options struct {
	Token       string
	Owner       string
	Repo        string
	PullRequest int
	// BaseURL defaults to the public GitHub API.
	BaseURL string
	// RatePerSecond limits comment creation; zero or less means no limit.
	RatePerSecond float64
	Retry         retry.Config
	HTTPClient    *http.Client
}

// Client is bound to one pull request. The head commit is resolved once by
// New and every comment is anchored to it.
type Client struct {
	gh      *gh.Client
	owner   string
	repo    string
	number  int
	headSHA string
	limiter *rate.Limiter
	retry   retry.Config
	logger  zerolog.Logger
}

// New connects to the pull request and resolves its head commit.
func New(ctx context.Context, opts Options, logger zerolog.Logger) (*Client, error) {
	if opts.PullRequest <= 0 {
		return nil, fmt.Errorf("invalid pull request id %d", opts.PullRequest)
	}

	client := gh.NewClient(opts.HTTPClient)
	if opts.Token != "" {
		client = client.WithAuthToken(opts.Token)
	}
	if opts.BaseURL != "" {
		base, err := url.Parse(opts.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("parse github url: %w", err)
		}
		if !strings.HasSuffix(base.Path, "/") {
			base.Path += "/"
		}
		client.BaseURL = base
	}

	limit := rate.Inf
	if opts.RatePerSecond > 0 {
		limit = rate.Limit(opts.RatePerSecond)
	}

	c := &Client{
		gh:      client,
		owner:   opts.Owner,
		repo:    opts.Repo,
		number:  opts.PullRequest,
		limiter: rate.NewLimiter(limit, 1),
		retry:   opts.Retry,
		logger: logger.With().
			Str("component", "github").
			Str("repo", opts.Owner+"/"+opts.Repo).
			Int("pull_request", opts.PullRequest).
			Logger(),
	}

	var pr *gh.PullRequest
	result := retry.Do(ctx, c.retry, c.logger, func(ctx context.Context) error {
		var (
			resp *gh.Response
			err  error
		)
		pr, resp, err = c.gh.PullRequests.Get(ctx, c.owner, c.repo, c.number)
		return classify(resp, err)
	})
	if !result.Success {
		return nil, fmt.Errorf("get pull request %d: %w", c.number, result.LastError)
	}
	c.headSHA = pr.GetHead().GetSHA()
	if c.headSHA == "" {
		return nil, fmt.Errorf("pull request %d has no head commit", c.number)
	}

	c.logger.Info().Str("head_sha", c.headSHA).Msg("Pull request loaded")
	return c, nil
}

// HeadSHA is the commit comments are attached to.
func (c *Client) HeadSHA() string { return c.headSHA }

// ChangedFiles lists every file of the pull request. Removed files are left
// out since they have no post-change lines to comment on.
func (c *Client) ChangedFiles(ctx context.Context) ([]types.FileDiff, error) {
	var diffs []types.FileDiff
	opts := &gh.ListOptions{PerPage: 100}
	for {
		var (
			files []*gh.CommitFile
			resp  *gh.Response
		)
		result := retry.Do(ctx, c.retry, c.logger, func(ctx context.Context) error {
			var err error
			files, resp, err = c.gh.PullRequests.ListFiles(ctx, c.owner, c.repo, c.number, opts)
			return classify(resp, err)
		})
		if !result.Success {
			return nil, fmt.Errorf("list files of pull request %d: %w", c.number, result.LastError)
		}

		for _, f := range files {
			if f.GetStatus() == "removed" {
				c.logger.Debug().Str("file", f.GetFilename()).Msg("Skipping removed file")
				continue
			}
			oldPath := f.GetPreviousFilename()
			if oldPath == "" {
				oldPath = f.GetFilename()
			}
			diffs = append(diffs, types.FileDiff{
				OldPath:   oldPath,
				NewPath:   f.GetFilename(),
				Diff:      f.GetPatch(),
				Additions: f.GetAdditions(),
				Deletions: f.GetDeletions(),
			})
		}

		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	c.logger.Info().Int("files", len(diffs)).Msg("Fetched changed files")
	return diffs, nil
}

// Post creates a review comment on the right-hand side of the diff at line.
func (c *Client) Post(ctx context.Context, file string, line int, body string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	comment := &gh.PullRequestComment{
		Body:     gh.Ptr(body),
		CommitID: gh.Ptr(c.headSHA),
		Path:     gh.Ptr(file),
		Side:     gh.Ptr("RIGHT"),
		Line:     gh.Ptr(line),
	}
	result := retry.Do(ctx, c.retry, c.logger, func(ctx context.Context) error {
		_, resp, err := c.gh.PullRequests.CreateComment(ctx, c.owner, c.repo, c.number, comment)
		return classify(resp, err)
	})
	if !result.Success {
		return fmt.Errorf("post comment on %s:%d: %w", file, line, result.LastError)
	}

	c.logger.Debug().Str("file", file).Int("line", line).Msg("Comment posted")
	return nil
}

// classify marks client errors other than rate limiting as permanent.
func classify(resp *gh.Response, err error) error {
	if err == nil {
		return nil
	}
	var (
		rateErr  *gh.RateLimitError
		abuseErr *gh.AbuseRateLimitError
	)
	if errors.As(err, &rateErr) || errors.As(err, &abuseErr) {
		return err
	}
	if resp != nil && resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
		return retry.Permanent(err)
	}
	return err
}
