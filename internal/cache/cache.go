// Package cache persists messages in an on-disk sqlite database so a
// restarted client can show history before the first network round trip
// and only re-sync what is newer. Eviction is left to the caller.
package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	_ "github.com/mattn/go-sqlite3"

	"github.com/codefionn/slackline/internal/model"
)

// Cache handles SQLite operations for the message cache
type Cache struct {
	db     *sql.DB
	dbPath string
}

// Open opens or creates the cache database at dbPath.
func Open(dbPath string) (*Cache, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}
	// a single connection keeps :memory: databases alive and serializes writers
	db.SetMaxOpenConns(1)

	c := &Cache{db: db, dbPath: dbPath}
	if err := c.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return c, nil
}

// Close closes the database connection
func (c *Cache) Close() error {
	return c.db.Close()
}

func (c *Cache) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS messages (
		team_id TEXT NOT NULL,
		channel_id TEXT NOT NULL,
		ts TEXT NOT NULL,
		user_id TEXT NOT NULL DEFAULT '',
		username TEXT NOT NULL DEFAULT '',
		text TEXT NOT NULL DEFAULT '',
		body TEXT NOT NULL DEFAULT '',
		attachments TEXT,
		mentions TEXT,
		edited BOOLEAN NOT NULL DEFAULT FALSE,
		PRIMARY KEY (team_id, channel_id, ts)
	);

	CREATE INDEX IF NOT EXISTS idx_messages_channel ON messages(team_id, channel_id);
	`
	if _, err := c.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Save upserts messages of a team. A message already cached under the same
// (channel, ts) is overwritten, matching the engine's edit rule.
func (c *Cache) Save(ctx context.Context, teamID string, msgs []model.Message) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO messages (team_id, channel_id, ts, user_id, username, text, body, attachments, mentions, edited)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (team_id, channel_id, ts) DO UPDATE SET
			user_id = excluded.user_id,
			username = excluded.username,
			text = excluded.text,
			body = excluded.body,
			attachments = excluded.attachments,
			mentions = excluded.mentions,
			edited = excluded.edited`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, m := range msgs {
		attachments, err := json.Marshal(m.Attachments)
		if err != nil {
			return fmt.Errorf("failed to encode attachments: %w", err)
		}
		mentions, err := json.Marshal(m.Mentions)
		if err != nil {
			return fmt.Errorf("failed to encode mentions: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, teamID, m.ChannelID, string(m.Timestamp),
			m.UserID, m.Username, m.Text, m.Body, string(attachments), string(mentions), m.Edited); err != nil {
			return fmt.Errorf("failed to store message %s/%s: %w", m.ChannelID, m.Timestamp, err)
		}
	}

	return tx.Commit()
}

// LoadChannel returns up to limit of the newest cached messages of a
// channel, oldest first.
func (c *Cache) LoadChannel(ctx context.Context, teamID, channelID string, limit int) ([]model.Message, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT channel_id, ts, user_id, username, text, body, attachments, mentions, edited
		FROM messages WHERE team_id = ? AND channel_id = ?`, teamID, channelID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	return newest(msgs, limit), nil
}

// Load returns up to perChannel of the newest cached messages of every
// channel of a team, each channel oldest first.
func (c *Cache) Load(ctx context.Context, teamID string, perChannel int) ([]model.Message, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT channel_id, ts, user_id, username, text, body, attachments, mentions, edited
		FROM messages WHERE team_id = ?`, teamID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}

	byChannel := make(map[string][]model.Message)
	var order []string
	for _, m := range msgs {
		if _, ok := byChannel[m.ChannelID]; !ok {
			order = append(order, m.ChannelID)
		}
		byChannel[m.ChannelID] = append(byChannel[m.ChannelID], m)
	}
	sort.Strings(order)

	var out []model.Message
	for _, id := range order {
		out = append(out, newest(byChannel[id], perChannel)...)
	}
	return out, nil
}

// newest sorts msgs by timestamp and keeps the last limit of them. Sorting
// happens here rather than in SQL because ts order is numeric.
func newest(msgs []model.Message, limit int) []model.Message {
	sort.Slice(msgs, func(i, j int) bool {
		return msgs[i].Timestamp.Before(msgs[j].Timestamp)
	})
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs
}

func scanMessages(rows *sql.Rows) ([]model.Message, error) {
	defer rows.Close()

	var msgs []model.Message
	for rows.Next() {
		var (
			m                     model.Message
			ts                    string
			attachments, mentions sql.NullString
		)
		if err := rows.Scan(&m.ChannelID, &ts, &m.UserID, &m.Username, &m.Text, &m.Body,
			&attachments, &mentions, &m.Edited); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m.Timestamp = model.Timestamp(ts)
		if attachments.Valid && attachments.String != "" {
			if err := json.Unmarshal([]byte(attachments.String), &m.Attachments); err != nil {
				return nil, fmt.Errorf("failed to decode attachments of %s/%s: %w", m.ChannelID, ts, err)
			}
		}
		if mentions.Valid && mentions.String != "" {
			if err := json.Unmarshal([]byte(mentions.String), &m.Mentions); err != nil {
				return nil, fmt.Errorf("failed to decode mentions of %s/%s: %w", m.ChannelID, ts, err)
			}
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// Clear removes all cached messages of a team.
func (c *Cache) Clear(ctx context.Context, teamID string) error {
	if _, err := c.db.ExecContext(ctx, "DELETE FROM messages WHERE team_id = ?", teamID); err != nil {
		return fmt.Errorf("failed to clear cache: %w", err)
	}
	return nil
}
