package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/datapilot/datapilot/internal/store"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) HealthCheck(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping catalog db: %w", err)
	}
	return nil
}

// EnsureDefaultUser creates the fallback user when the instance has no
// users yet. Kept until real account management lands.
func (r *Repository) EnsureDefaultUser(ctx context.Context) (store.User, error) {
	query := `
INSERT INTO app_user (email)
VALUES ($1)
ON CONFLICT (email)
DO UPDATE SET email = app_user.email
RETURNING user_id, email, created_at`

	var user store.User
	if err := r.db.QueryRowContext(ctx, query, "default@localhost").Scan(
		&user.UserID,
		&user.Email,
		&user.CreatedAt,
	); err != nil {
		return store.User{}, fmt.Errorf("ensure default user: %w", err)
	}
	return user, nil
}

func (r *Repository) CreateServer(ctx context.Context, in store.CreateServerInput) (store.Server, error) {
	query := `
INSERT INTO server (server_id, alias, db_type, host, port, username, password, default_database)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING created_at`

	server := store.Server{
		ServerID:        in.ServerID,
		Alias:           in.Alias,
		DBType:          in.DBType,
		Host:            in.Host,
		Port:            in.Port,
		Username:        in.Username,
		Password:        in.Password,
		DefaultDatabase: in.DefaultDatabase,
	}
	if err := r.db.QueryRowContext(ctx, query,
		in.ServerID, in.Alias, string(in.DBType), in.Host, in.Port, in.Username, in.Password, in.DefaultDatabase,
	).Scan(&server.CreatedAt); err != nil {
		return store.Server{}, fmt.Errorf("create server: %w", err)
	}
	return server, nil
}

func (r *Repository) GetServerByID(ctx context.Context, serverID string) (store.Server, error) {
	query := `
SELECT server_id, alias, db_type, host, port, username, password, default_database, created_at
FROM server
WHERE server_id = $1`

	return r.scanServer(r.db.QueryRowContext(ctx, query, serverID), "get server by id")
}

func (r *Repository) GetServerByAlias(ctx context.Context, alias string) (store.Server, error) {
	query := `
SELECT server_id, alias, db_type, host, port, username, password, default_database, created_at
FROM server
WHERE alias = $1`

	return r.scanServer(r.db.QueryRowContext(ctx, query, alias), "get server by alias")
}

func (r *Repository) scanServer(row *sql.Row, op string) (store.Server, error) {
	var server store.Server
	var dbType string
	if err := row.Scan(
		&server.ServerID,
		&server.Alias,
		&dbType,
		&server.Host,
		&server.Port,
		&server.Username,
		&server.Password,
		&server.DefaultDatabase,
		&server.CreatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Server{}, store.ErrNotFound
		}
		return store.Server{}, fmt.Errorf("%s: %w", op, err)
	}
	server.DBType = store.DBType(dbType)
	return server, nil
}

func (r *Repository) ListServers(ctx context.Context) ([]store.Server, error) {
	query := `
SELECT server_id, alias, db_type, host, port, username, password, default_database, created_at
FROM server
ORDER BY alias ASC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list servers: %w", err)
	}
	defer func() { _ = rows.Close() }()

	servers := make([]store.Server, 0)
	for rows.Next() {
		var server store.Server
		var dbType string
		if err := rows.Scan(
			&server.ServerID,
			&server.Alias,
			&dbType,
			&server.Host,
			&server.Port,
			&server.Username,
			&server.Password,
			&server.DefaultDatabase,
			&server.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan server row: %w", err)
		}
		server.DBType = store.DBType(dbType)
		servers = append(servers, server)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate server rows: %w", err)
	}
	return servers, nil
}

func (r *Repository) DeleteServer(ctx context.Context, serverID string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
DELETE FROM server
WHERE server_id = $1`, serverID)
	if err != nil {
		return false, fmt.Errorf("delete server: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete server rows affected: %w", err)
	}
	return rows > 0, nil
}

func (r *Repository) CreateConversation(ctx context.Context, in store.CreateConversationInput) (store.Conversation, error) {
	query := `
INSERT INTO conversation (user_id, server_alias, database_name, name)
VALUES ($1, $2, $3, $4)
RETURNING conversation_id, created_at`

	conversation := store.Conversation{
		UserID:       in.UserID,
		ServerAlias:  in.ServerAlias,
		DatabaseName: in.DatabaseName,
		Name:         in.Name,
	}
	if err := r.db.QueryRowContext(ctx, query, in.UserID, in.ServerAlias, in.DatabaseName, in.Name).Scan(
		&conversation.ConversationID,
		&conversation.CreatedAt,
	); err != nil {
		return store.Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	return conversation, nil
}

func (r *Repository) GetConversation(ctx context.Context, conversationID int64) (store.Conversation, error) {
	query := `
SELECT conversation_id, user_id, server_alias, database_name, name, created_at
FROM conversation
WHERE conversation_id = $1`

	var conversation store.Conversation
	if err := r.db.QueryRowContext(ctx, query, conversationID).Scan(
		&conversation.ConversationID,
		&conversation.UserID,
		&conversation.ServerAlias,
		&conversation.DatabaseName,
		&conversation.Name,
		&conversation.CreatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Conversation{}, store.ErrNotFound
		}
		return store.Conversation{}, fmt.Errorf("get conversation: %w", err)
	}

	messages, err := r.listMessages(ctx, conversationID)
	if err != nil {
		return store.Conversation{}, err
	}
	conversation.Messages = messages
	return conversation, nil
}

func (r *Repository) ListConversations(ctx context.Context, userID int64, serverAlias string) ([]store.Conversation, error) {
	query := `
SELECT conversation_id, user_id, server_alias, database_name, name, created_at
FROM conversation
WHERE user_id = $1 AND ($2 = '' OR server_alias = $2)
ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, userID, serverAlias)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	conversations := make([]store.Conversation, 0)
	for rows.Next() {
		var conversation store.Conversation
		if err := rows.Scan(
			&conversation.ConversationID,
			&conversation.UserID,
			&conversation.ServerAlias,
			&conversation.DatabaseName,
			&conversation.Name,
			&conversation.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan conversation row: %w", err)
		}
		conversations = append(conversations, conversation)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversation rows: %w", err)
	}

	for i := range conversations {
		messages, err := r.listMessages(ctx, conversations[i].ConversationID)
		if err != nil {
			return nil, err
		}
		conversations[i].Messages = messages
	}
	return conversations, nil
}

func (r *Repository) listMessages(ctx context.Context, conversationID int64) ([]store.ConversationMessage, error) {
	query := `
SELECT message_id, conversation_id, prompt, sql_query, results_summary, result_data, created_at
FROM conversation_message
WHERE conversation_id = $1
ORDER BY created_at ASC`

	rows, err := r.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list conversation messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	messages := make([]store.ConversationMessage, 0)
	for rows.Next() {
		var message store.ConversationMessage
		if err := rows.Scan(
			&message.MessageID,
			&message.ConversationID,
			&message.Prompt,
			&message.SQLQuery,
			&message.ResultsSummary,
			&message.ResultData,
			&message.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan conversation message row: %w", err)
		}
		messages = append(messages, message)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversation message rows: %w", err)
	}
	return messages, nil
}

// DeleteConversation removes messages first to keep referential
// integrity without relying on cascade rules.
func (r *Repository) DeleteConversation(ctx context.Context, conversationID int64) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin delete conversation: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
DELETE FROM conversation_message
WHERE conversation_id = $1`, conversationID); err != nil {
		return false, fmt.Errorf("delete conversation messages: %w", err)
	}

	result, err := tx.ExecContext(ctx, `
DELETE FROM conversation
WHERE conversation_id = $1`, conversationID)
	if err != nil {
		return false, fmt.Errorf("delete conversation: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete conversation rows affected: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit delete conversation: %w", err)
	}
	return rows > 0, nil
}

func (r *Repository) DeleteConversationsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin delete conversations: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
DELETE FROM conversation_message
WHERE conversation_id IN (
    SELECT conversation_id FROM conversation WHERE created_at < $1
)`, cutoff); err != nil {
		return 0, fmt.Errorf("delete expired conversation messages: %w", err)
	}

	result, err := tx.ExecContext(ctx, `
DELETE FROM conversation
WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete expired conversations: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete expired conversations rows affected: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit delete expired conversations: %w", err)
	}
	return rows, nil
}

func (r *Repository) AppendMessage(ctx context.Context, in store.AppendMessageInput) (store.ConversationMessage, error) {
	resultData := in.ResultData
	if len(resultData) == 0 {
		resultData = []byte("{}")
	}

	query := `
INSERT INTO conversation_message (conversation_id, prompt, sql_query, results_summary, result_data)
VALUES ($1, $2, $3, $4, $5::jsonb)
RETURNING message_id, created_at`

	message := store.ConversationMessage{
		ConversationID: in.ConversationID,
		Prompt:         in.Prompt,
		SQLQuery:       in.SQLQuery,
		ResultsSummary: in.ResultsSummary,
		ResultData:     resultData,
	}
	if err := r.db.QueryRowContext(ctx, query,
		in.ConversationID, in.Prompt, in.SQLQuery, in.ResultsSummary, string(resultData),
	).Scan(&message.MessageID, &message.CreatedAt); err != nil {
		return store.ConversationMessage{}, fmt.Errorf("append conversation message: %w", err)
	}
	return message, nil
}

func (r *Repository) UpsertSchemaSnapshot(ctx context.Context, in store.UpsertSchemaSnapshotInput) (store.SchemaSnapshot, error) {
	query := `
INSERT INTO schema_snapshot (server_alias, database_name, content, refreshed_at)
VALUES ($1, $2, $3, NOW())
ON CONFLICT (server_alias, database_name)
DO UPDATE SET
    content = EXCLUDED.content,
    refreshed_at = NOW()
RETURNING refreshed_at`

	snapshot := store.SchemaSnapshot{
		ServerAlias:  in.ServerAlias,
		DatabaseName: in.DatabaseName,
		Content:      in.Content,
	}
	if err := r.db.QueryRowContext(ctx, query, in.ServerAlias, in.DatabaseName, in.Content).Scan(&snapshot.RefreshedAt); err != nil {
		return store.SchemaSnapshot{}, fmt.Errorf("upsert schema snapshot: %w", err)
	}
	return snapshot, nil
}

func (r *Repository) GetSchemaSnapshot(ctx context.Context, serverAlias, databaseName string) (store.SchemaSnapshot, error) {
	query := `
SELECT server_alias, database_name, content, refreshed_at
FROM schema_snapshot
WHERE server_alias = $1 AND database_name = $2`

	var snapshot store.SchemaSnapshot
	if err := r.db.QueryRowContext(ctx, query, serverAlias, databaseName).Scan(
		&snapshot.ServerAlias,
		&snapshot.DatabaseName,
		&snapshot.Content,
		&snapshot.RefreshedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.SchemaSnapshot{}, store.ErrNotFound
		}
		return store.SchemaSnapshot{}, fmt.Errorf("get schema snapshot: %w", err)
	}
	return snapshot, nil
}

func (r *Repository) ListSchemaSnapshots(ctx context.Context) ([]store.SchemaSnapshot, error) {
	query := `
SELECT server_alias, database_name, content, refreshed_at
FROM schema_snapshot
ORDER BY server_alias ASC, database_name ASC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list schema snapshots: %w", err)
	}
	defer func() { _ = rows.Close() }()

	snapshots := make([]store.SchemaSnapshot, 0)
	for rows.Next() {
		var snapshot store.SchemaSnapshot
		if err := rows.Scan(
			&snapshot.ServerAlias,
			&snapshot.DatabaseName,
			&snapshot.Content,
			&snapshot.RefreshedAt,
		); err != nil {
			return nil, fmt.Errorf("scan schema snapshot: %w", err)
		}
		snapshots = append(snapshots, snapshot)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate schema snapshots: %w", err)
	}
	return snapshots, nil
}

func (r *Repository) DeleteSchemaSnapshot(ctx context.Context, serverAlias, databaseName string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
DELETE FROM schema_snapshot
WHERE server_alias = $1 AND database_name = $2`, serverAlias, databaseName)
	if err != nil {
		return false, fmt.Errorf("delete schema snapshot: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete schema snapshot rows affected: %w", err)
	}
	return rows > 0, nil
}
