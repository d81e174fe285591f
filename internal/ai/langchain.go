package ai

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/ysxu666/llm-mr-reviewer/internal/config"
	"github.com/ysxu666/llm-mr-reviewer/internal/retry"
)

// LangChain reviews through a langchaingo model.
type LangChain struct {
	llm         llms.Model
	temperature float64
	timeout     time.Duration
	retry       retry.Config
	logger      zerolog.Logger
}

// NewLangChain builds an openai or ollama backed reviewer.
func NewLangChain(cfg config.LLM, logger zerolog.Logger) (*LangChain, error) {
	var (
		model llms.Model
		err   error
	)
	switch cfg.Provider {
	case "openai":
		opts := []openai.Option{
			openai.WithModel(cfg.Model),
			openai.WithToken(cfg.APIKey),
		}
		if cfg.APIURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.APIURL))
		}
		model, err = openai.New(opts...)
	case "ollama":
		url := cfg.APIURL
		if url == "" {
			url = "http://localhost:11434"
		}
		model, err = ollama.New(ollama.WithServerURL(url), ollama.WithModel(cfg.Model))
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s model: %w", cfg.Provider, err)
	}

	return &LangChain{
		llm:         model,
		temperature: cfg.Temperature,
		timeout:     cfg.Timeout,
		retry:       retry.LLMConfig(),
		logger:      logger.With().Str("component", "ai").Str("provider", cfg.Provider).Str("model", cfg.Model).Logger(),
	}, nil
}

func (l *LangChain) Review(ctx context.Context, prompt string) (string, error) {
	var content string
	result := retry.Do(ctx, l.retry, l.logger, func(ctx context.Context) error {
		if l.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, l.timeout)
			defer cancel()
		}
		var err error
		content, err = llms.GenerateFromSinglePrompt(ctx, l.llm, prompt, llms.WithTemperature(l.temperature))
		return err
	})
	if !result.Success {
		return "", fmt.Errorf("generate: %w", result.LastError)
	}
	return content, nil
}

// New returns the reviewer selected by cfg.Backend.
func New(cfg config.LLM, logger zerolog.Logger) (Reviewer, error) {
	switch cfg.Backend {
	case "", "http":
		return NewClient(Options{
			APIURL:      cfg.APIURL,
			APIKey:      cfg.APIKey,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			Timeout:     cfg.Timeout,
			Retry:       retry.LLMConfig(),
		}, logger), nil
	case "langchain":
		return NewLangChain(cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported llm backend: %s", cfg.Backend)
	}
}
