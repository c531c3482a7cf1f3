package store

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("store: not found")

// DBType enumerates the engines a server registration may point at.
type DBType string

const (
	DBTypePostgres DBType = "postgresql"
	DBTypeMySQL    DBType = "mysql"
	DBTypeDuckDB   DBType = "duckdb"
)

func (t DBType) Valid() bool {
	switch t {
	case DBTypePostgres, DBTypeMySQL, DBTypeDuckDB:
		return true
	default:
		return false
	}
}

type Repository interface {
	HealthCheck(ctx context.Context) error
	EnsureDefaultUser(ctx context.Context) (User, error)
	CreateServer(ctx context.Context, in CreateServerInput) (Server, error)
	GetServerByID(ctx context.Context, serverID string) (Server, error)
	GetServerByAlias(ctx context.Context, alias string) (Server, error)
	ListServers(ctx context.Context) ([]Server, error)
	DeleteServer(ctx context.Context, serverID string) (bool, error)
	CreateConversation(ctx context.Context, in CreateConversationInput) (Conversation, error)
	GetConversation(ctx context.Context, conversationID int64) (Conversation, error)
	ListConversations(ctx context.Context, userID int64, serverAlias string) ([]Conversation, error)
	DeleteConversation(ctx context.Context, conversationID int64) (bool, error)
	DeleteConversationsBefore(ctx context.Context, cutoff time.Time) (int64, error)
	AppendMessage(ctx context.Context, in AppendMessageInput) (ConversationMessage, error)
	UpsertSchemaSnapshot(ctx context.Context, in UpsertSchemaSnapshotInput) (SchemaSnapshot, error)
	GetSchemaSnapshot(ctx context.Context, serverAlias, databaseName string) (SchemaSnapshot, error)
	ListSchemaSnapshots(ctx context.Context) ([]SchemaSnapshot, error)
	DeleteSchemaSnapshot(ctx context.Context, serverAlias, databaseName string) (bool, error)
}

type User struct {
	UserID    int64
	Email     string
	CreatedAt time.Time
}

// Server is a user-registered database server. Password is held for
// gateway DSN construction and must never be serialized to clients.
type Server struct {
	ServerID        string
	Alias           string
	DBType          DBType
	Host            string
	Port            int
	Username        string
	Password        string
	DefaultDatabase string
	CreatedAt       time.Time
}

type Conversation struct {
	ConversationID int64
	UserID         int64
	ServerAlias    string
	DatabaseName   string
	Name           string
	CreatedAt      time.Time
	Messages       []ConversationMessage
}

type ConversationMessage struct {
	MessageID      int64
	ConversationID int64
	Prompt         string
	SQLQuery       string
	ResultsSummary string
	ResultData     []byte
	CreatedAt      time.Time
}

// SchemaSnapshot caches the rendered schema text for a server/database
// pair so prompt building does not re-introspect on every query.
type SchemaSnapshot struct {
	ServerAlias  string
	DatabaseName string
	Content      string
	RefreshedAt  time.Time
}

type CreateServerInput struct {
	ServerID        string
	Alias           string
	DBType          DBType
	Host            string
	Port            int
	Username        string
	Password        string
	DefaultDatabase string
}

type CreateConversationInput struct {
	UserID       int64
	ServerAlias  string
	DatabaseName string
	Name         string
}

type AppendMessageInput struct {
	ConversationID int64
	Prompt         string
	SQLQuery       string
	ResultsSummary string
	ResultData     []byte
}

type UpsertSchemaSnapshotInput struct {
	ServerAlias  string
	DatabaseName string
	Content      string
}
