// Command seed bootstraps the database schema and, when a bot token is
// configured, installs a development workspace token so the service can
// post to Slack without going through the OAuth flow.
package main

import (
	"context"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5/pgxpool"

	"socialtracker/backend/internal/config"
	"socialtracker/backend/internal/logging"
	"socialtracker/backend/internal/repository"
	"socialtracker/backend/pkg/models"
)

func main() {
	ctx := context.Background()
	logger := logging.NewLogger()

	// Load config
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Connect to DB
	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.DB.Host, cfg.DB.Port, cfg.DB.User, cfg.DB.Password, cfg.DB.Name, cfg.DB.SSLMode,
	)
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		log.Fatalf("Failed to connect to DB: %v", err)
	}
	defer pool.Close()

	if err := repository.Migrate(ctx, pool); err != nil {
		log.Fatalf("Failed to migrate schema: %v", err)
	}
	logger.Info("Schema migrated")

	if cfg.Slack.BotToken == "" {
		logger.Info("No slack.bot_token configured, skipping dev token seed")
		return
	}

	tokens := repository.NewPostgresTokenStore(pool)
	token := &models.SlackToken{
		TeamID:         "TDEV",
		TeamName:       "Local Dev Workspace",
		BotAccessToken: cfg.Slack.BotToken,
		Scope:          "app_mentions:read,chat:write,im:history",
	}
	if err := tokens.Save(ctx, token); err != nil {
		log.Fatalf("Failed to seed dev token: %v", err)
	}
	logger.Info("Seeded dev workspace token for team %s", token.TeamID)

	logger.Info("Seeding complete!")
}
