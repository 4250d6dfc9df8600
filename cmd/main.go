package main

import (
	"context"
	"log/slog"
	"os"
	_ "time/tzdata"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/joho/godotenv"

	"github.com/tylr-r/helix/handler"
	"github.com/tylr-r/helix/internal/config"
	"github.com/tylr-r/helix/internal/dossier"
	"github.com/tylr-r/helix/internal/integrations/graph"
	"github.com/tylr-r/helix/internal/integrations/notion"
	"github.com/tylr-r/helix/internal/integrations/openai"
	"github.com/tylr-r/helix/internal/integrations/paramstore"
	"github.com/tylr-r/helix/internal/repository"
	"github.com/tylr-r/helix/internal/usecase"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	// A missing .env is normal outside local runs.
	_ = godotenv.Load()
	cfg, err := config.Load(os.LookupEnv)
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel})))

	// ---- AWS SDK config ----
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		fatal("failed to load AWS config", err)
	}

	// ---- Clients ----
	ssmClient, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
	if err != nil {
		fatal("failed to create SSM client", err)
	}
	users, err := repository.New(awsdynamodb.NewFromConfig(awsCfg), cfg.StateTable)
	if err != nil {
		fatal("failed to create user store", err)
	}

	openaiClient, err := openai.NewClient(ssmClient, cfg.ParamPrefix)
	if err != nil {
		fatal("failed to create OpenAI client", err)
	}
	requester, err := openai.NewRequester(openaiClient,
		openai.WithRetryAttempts(cfg.RetryAttempts),
		openai.WithBackoff(openai.LinearBackoff(cfg.RetryDelay)),
		openai.WithVectorStore(cfg.VectorStoreID),
	)
	if err != nil {
		fatal("failed to create requester", err)
	}

	graphClient, err := graph.NewClient(ssmClient, cfg.ParamPrefix, graph.WithAPIVersion(cfg.GraphAPIVersion))
	if err != nil {
		fatal("failed to create Graph client", err)
	}

	memory, err := dossier.NewService(users, openaiClient, cfg.VectorStoreID)
	if err != nil {
		fatal("failed to create dossier service", err)
	}

	deps := usecase.Deps{
		Params:    ssmClient,
		Requester: requester,
		Platform:  graphClient,
		Users:     users,
		Memory:    memory,
	}
	if cfg.NotionBlockID != "" {
		primer, err := notion.NewClient(ssmClient, cfg.ParamPrefix, cfg.NotionBlockID)
		if err != nil {
			fatal("failed to create Notion client", err)
		}
		deps.Primer = primer
	} else {
		slog.Warn("NOTION_BLOCK_ID not set, using the built-in primer")
	}

	// ---- Handler ----
	relay, err := usecase.NewRelay(deps, cfg.ParamPrefix, cfg.HistoryLimit, cfg.Location())
	if err != nil {
		fatal("failed to create relay", err)
	}

	verifyToken, err := ssmClient.GetParameter(ctx, cfg.ParamPrefix+"/verify-token")
	if err != nil {
		fatal("failed to load webhook verify token", err)
	}
	h, err := handler.NewHandler(relay, verifyToken)
	if err != nil {
		fatal("failed to create handler", err)
	}

	lambda.Start(h.Handle)
}

func fatal(msg string, err error) {
	slog.Error(msg, "err", err)
	os.Exit(1)
}
