package database

import (
	"context"
	"database/sql"
	"fmt"

	"match-service/config"

	_ "github.com/lib/pq"
)

type PostgresClient struct {
	db     *sql.DB
	config *config.DBConfig
}

func NewPostgresClient(cfg *config.DBConfig) (*PostgresClient, error) {
	connStr := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode,
	)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresClient{
		db:     db,
		config: cfg,
	}, nil
}

func (c *PostgresClient) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

func (c *PostgresClient) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *PostgresClient) GetDB() *sql.DB {
	return c.db
}

func (c *PostgresClient) InitSchema(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS users (
			fid BIGINT PRIMARY KEY,
			username VARCHAR(255) NOT NULL,
			display_name VARCHAR(255) NOT NULL DEFAULT '',
			pfp_url TEXT NOT NULL DEFAULT '',
			badge VARCHAR(64),
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS questions (
			id UUID PRIMARY KEY,
			topic VARCHAR(64) NOT NULL,
			prompt TEXT NOT NULL,
			options JSONB NOT NULL,
			correct_answer TEXT NOT NULL,
			image_url TEXT,
			active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_questions_topic ON questions(topic) WHERE active;

		CREATE TABLE IF NOT EXISTS matches (
			id UUID PRIMARY KEY,
			match_type VARCHAR(32) NOT NULL,
			topic VARCHAR(64) NOT NULL,
			player1_fid BIGINT NOT NULL,
			player2_fid BIGINT,
			question_ids JSONB NOT NULL DEFAULT '[]',
			player1_score INTEGER NOT NULL DEFAULT 0,
			player2_score INTEGER NOT NULL DEFAULT 0,
			player1_completed_at TIMESTAMP,
			player2_completed_at TIMESTAMP,
			status VARCHAR(20) NOT NULL DEFAULT 'waiting',
			winner_fid BIGINT,
			forfeited_by BIGINT,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			completed_at TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_matches_player1 ON matches(player1_fid);
		CREATE INDEX IF NOT EXISTS idx_matches_player2 ON matches(player2_fid);
		CREATE INDEX IF NOT EXISTS idx_matches_status ON matches(status);

		CREATE TABLE IF NOT EXISTS match_answers (
			match_id UUID NOT NULL,
			player_fid BIGINT NOT NULL,
			question_id UUID NOT NULL,
			answer TEXT NOT NULL,
			is_correct BOOLEAN NOT NULL,
			response_ms BIGINT NOT NULL,
			points INTEGER NOT NULL,
			answered_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (match_id, player_fid, question_id)
		);
		CREATE INDEX IF NOT EXISTS idx_match_answers_match ON match_answers(match_id);

		CREATE TABLE IF NOT EXISTS user_topic_stats (
			fid BIGINT NOT NULL,
			topic VARCHAR(64) NOT NULL,
			matches_played INTEGER NOT NULL DEFAULT 0,
			wins INTEGER NOT NULL DEFAULT 0,
			losses INTEGER NOT NULL DEFAULT 0,
			draws INTEGER NOT NULL DEFAULT 0,
			questions_answered INTEGER NOT NULL DEFAULT 0,
			correct_answers INTEGER NOT NULL DEFAULT 0,
			total_response_ms BIGINT NOT NULL DEFAULT 0,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (fid, topic)
		);
	`

	if _, err := c.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}
