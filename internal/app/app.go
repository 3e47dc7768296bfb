// Package app wires configuration into a ready SessionService.
package app

import (
	"context"
	"fmt"
	"log/slog"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"manual-tutor/internal/config"
	"manual-tutor/internal/domain"
	"manual-tutor/internal/integrations/openai"
	"manual-tutor/internal/integrations/paramstore"
	"manual-tutor/internal/integrations/translate"
	"manual-tutor/internal/repository"
	"manual-tutor/internal/usecase"
)

// loadAWSConfig is replaced in tests.
var loadAWSConfig = awsconfig.LoadDefaultConfig

// Deps are the constructed collaborators, exposed for logging and tests.
type Deps struct {
	Service    *usecase.SessionService
	Store      usecase.SessionStore
	Assistants *openai.Client
	Translator *translate.Client
}

// Build constructs every client named by cfg. AWS configuration is only
// loaded when a state table or parameter prefix is set; without a table the
// in-memory store is used.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Deps, error) {
	var (
		params openai.Getter
		store  usecase.SessionStore
	)
	if cfg.NeedsAWS() {
		awsCfg, err := loadAWSConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("app: load AWS config: %w", err)
		}
		if cfg.AWS.ParamPrefix != "" {
			ps, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
			if err != nil {
				return nil, fmt.Errorf("app: create paramstore client: %w", err)
			}
			params = ps
		}
		if cfg.AWS.StateTable != "" {
			repo, err := repository.New(awsdynamodb.NewFromConfig(awsCfg), cfg.AWS.StateTable)
			if err != nil {
				return nil, fmt.Errorf("app: create state client: %w", err)
			}
			store = repo
		}
	}
	if store == nil {
		logger.Info("no state table configured, sessions are kept in memory")
		store = repository.NewMemoryStore()
	}

	assistantOpts := []openai.Option{openai.WithBaseURL(cfg.OpenAI.BaseURL)}
	if cfg.OpenAI.APIKey != "" {
		assistantOpts = append(assistantOpts, openai.WithAPIKey(cfg.OpenAI.APIKey))
	}
	assistants, err := openai.NewClient(params, cfg.AWS.ParamPrefix, assistantOpts...)
	if err != nil {
		return nil, fmt.Errorf("app: create assistants client: %w", err)
	}

	opts := usecase.Options{
		DocumentsDir:    cfg.Documents.Dir,
		VectorStoreName: cfg.Documents.VectorStoreName,
		Assistant: domain.AssistantConfig{
			Name:         cfg.Assistant.Name,
			Instructions: cfg.Assistant.Instructions,
			Model:        cfg.Assistant.Model,
		},
		PollInterval:      cfg.Polling.Interval,
		PollMaxAttempts:   cfg.Polling.MaxAttempts,
		MaxQuestionLength: cfg.MaxQuestionLength,
		Logger:            logger,
	}
	if cfg.ModerateQuestions {
		opts.Moderator = assistants
	}

	deps := &Deps{Store: store, Assistants: assistants}
	if cfg.Translate.Enabled {
		var translateOpts []translate.Option
		if cfg.Translate.BaseURL != "" {
			translateOpts = append(translateOpts, translate.WithBaseURL(cfg.Translate.BaseURL))
		}
		if cfg.Translate.APIKey != "" {
			translateOpts = append(translateOpts, translate.WithAPIKey(cfg.Translate.APIKey))
		}
		var translateParams translate.Getter
		if params != nil {
			translateParams = params
		}
		tr, err := translate.NewClient(translateParams, cfg.AWS.ParamPrefix, translateOpts...)
		if err != nil {
			return nil, fmt.Errorf("app: create translate client: %w", err)
		}
		deps.Translator = tr
		opts.Translator = tr
		opts.TranslateTarget = cfg.Translate.Target
	}

	svc, err := usecase.NewSessionService(assistants, store, opts)
	if err != nil {
		return nil, fmt.Errorf("app: create session service: %w", err)
	}
	deps.Service = svc
	return deps, nil
}
