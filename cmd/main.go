package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/ysxu666/llm-mr-reviewer/internal/ai"
	"github.com/ysxu666/llm-mr-reviewer/internal/config"
	"github.com/ysxu666/llm-mr-reviewer/internal/diff"
	"github.com/ysxu666/llm-mr-reviewer/internal/filter"
	"github.com/ysxu666/llm-mr-reviewer/internal/git"
	"github.com/ysxu666/llm-mr-reviewer/internal/github"
	"github.com/ysxu666/llm-mr-reviewer/internal/logging"
	"github.com/ysxu666/llm-mr-reviewer/internal/output"
	"github.com/ysxu666/llm-mr-reviewer/internal/parser"
	"github.com/ysxu666/llm-mr-reviewer/internal/prompt"
	"github.com/ysxu666/llm-mr-reviewer/internal/retry"
	"github.com/ysxu666/llm-mr-reviewer/internal/review"
	"github.com/ysxu666/llm-mr-reviewer/internal/types"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		exitWithError(err)
	}
}

func run(ctx context.Context, args []string) error {
	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}

	logger, closer, err := logging.Setup(logging.Options{
		Level: cfg.Log.Level,
		File:  cfg.Log.File,
		Debug: cfg.Log.Debug,
	})
	if err != nil {
		return err
	}
	defer closer.Close()

	logger.Info().Object("config", cfg).Msg("Starting review")

	builder, err := loadPrompt(cfg.Review, logger)
	if err != nil {
		return err
	}

	reviewer, err := ai.New(cfg.LLM, logger)
	if err != nil {
		return err
	}

	p, err := parser.New(cfg.Review.Concurrency)
	if err != nil {
		return err
	}
	defer p.Close()

	var (
		diffs  []types.FileDiff
		ref    string
		from   diff.Source
		poster review.Poster
	)
	collector := &output.Collector{}

	if cfg.Review.Local {
		diffs, err = git.LocalChanges(ctx, git.LocalOptions{
			RepoPath:           cfg.Review.ProjectPath,
			TargetBranch:       cfg.Review.TargetBranch,
			Local:              cfg.Review.Direct,
			IncludeUncommitted: true,
		}, logger)
		if err != nil {
			return err
		}
		ref = "HEAD"
		from = diff.WorkingTree
		poster = collector
	} else {
		client, err := github.New(ctx, github.Options{
			Token:         cfg.GitHub.Token,
			Owner:         cfg.GitHub.Owner,
			Repo:          cfg.GitHub.Repo,
			PullRequest:   cfg.Review.PullRequest,
			BaseURL:       cfg.GitHub.APIURL,
			RatePerSecond: cfg.GitHub.RatePerSecond,
			Retry:         retry.DefaultConfig(),
		}, logger)
		if err != nil {
			return err
		}
		diffs, err = client.ChangedFiles(ctx)
		if err != nil {
			return err
		}
		// The checkout may be a merge ref; comment lines follow the head commit.
		ref = client.HeadSHA()
		from = diff.Commit
		poster = client
		if cfg.Review.DryRun {
			poster = collector
		}
	}

	logger.Info().Int("files", len(diffs)).Msg("Found changed files")
	diffs = filter.Eligible(diffs, cfg.Review.MaxFiles, logger)
	logger.Info().Int("files", len(diffs)).Msg("Files eligible for review")

	coordinator := review.New(review.Options{
		Parser:      p,
		Reviewer:    reviewer,
		Poster:      poster,
		Prompt:      builder.Build,
		Concurrency: cfg.Review.Concurrency,
		Logger:      logger,
	})
	reports := coordinator.Run(ctx, review.LoadInputs(ctx, cfg.Review.ProjectPath, ref, from, diffs))

	if poster == collector {
		output.PrintLocal(os.Stdout, collector.Comments())
	}
	summary, failures := output.Summarize(reports)
	output.PrintSummary(os.Stdout, summary, failures)

	if err := ctx.Err(); err != nil {
		return err
	}
	if failures != nil {
		return fmt.Errorf("%d review step(s) failed", summary.Failed)
	}
	return nil
}

func loadConfig(args []string) (*config.Config, error) {
	flags := pflag.NewFlagSet("reviewer", pflag.ContinueOnError)
	flags.Usage = func() {
		fmt.Fprintf(os.Stderr, "LLM review of changed functions\n\nUsage:\n  reviewer [flags] <pull-request-id>\n  reviewer --local [flags]\n\nLanguages:\n")
		for _, lang := range parser.Languages() {
			fmt.Fprintf(os.Stderr, "  %-12s %s\n", lang.Name, strings.Join(lang.Extensions, " "))
		}
		fmt.Fprintf(os.Stderr, "\nFlags:\n")
		flags.PrintDefaults()
	}
	config.RegisterFlags(flags)
	if err := flags.Parse(args); err != nil {
		return nil, err
	}

	cfg, err := config.Load(flags)
	if err != nil {
		return nil, err
	}

	if !cfg.Review.Local {
		if flags.NArg() != 1 {
			flags.Usage()
			return nil, errors.New("expected exactly one pull request id")
		}
		id, err := strconv.Atoi(flags.Arg(0))
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid pull request id %q", flags.Arg(0))
		}
		cfg.Review.PullRequest = id
	}

	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadPrompt(cfg config.Review, logger zerolog.Logger) (*prompt.Builder, error) {
	levels, err := prompt.LoadLevels(cfg.PromptFile)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		logger.Warn().Str("file", cfg.PromptFile).Msg("Prompt level file not found, using default prompt")
	}
	if cfg.PromptLevel != "" {
		if _, ok := levels[cfg.PromptLevel]; !ok {
			logger.Warn().Str("level", cfg.PromptLevel).Msg("Unknown prompt level, using default prompt")
		}
	}

	var rules string
	if cfg.RulesFile != "" {
		rules, err = prompt.LoadRules(cfg.RulesFile)
		if err != nil {
			return nil, err
		}
	}
	return prompt.NewBuilder(levels, cfg.PromptLevel, rules), nil
}

func exitWithError(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
