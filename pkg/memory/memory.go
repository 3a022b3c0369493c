// Package memory keeps a bounded window of recent conversation turns for a
// single session and renders it as compact prompt context.
package memory

import (
	"fmt"
	"strings"
	"sync"
	"time"

	llmtypes "github.com/sqlpilot/sqlpilot/pkg/types/llm"
)

const (
	// DefaultMaxExchanges is the number of user+assistant pairs retained
	DefaultMaxExchanges = 5
	// DefaultMaxTokensPerMessage caps a single message at roughly this many tokens
	DefaultMaxTokensPerMessage = 500
	// TruncationMarker is appended to messages cut at the size cap
	TruncationMarker = "... [truncated]"

	charsPerToken     = 4
	summaryMessages   = 6
	summaryCharsLimit = 200
)

// Config controls the size of the conversation window
type Config struct {
	MaxExchanges        int `mapstructure:"max_exchanges" json:"max_exchanges"`
	MaxTokensPerMessage int `mapstructure:"max_tokens_per_message" json:"max_tokens_per_message"`
}

// DefaultConfig returns the window used when nothing is configured
func DefaultConfig() Config {
	return Config{
		MaxExchanges:        DefaultMaxExchanges,
		MaxTokensPerMessage: DefaultMaxTokensPerMessage,
	}
}

// Message is a single stored turn
type Message struct {
	Role      llmtypes.Role  `json:"role"`
	Content   string         `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata"`
}

// Intent returns the intent tag recorded in the message metadata, if any
func (m Message) Intent() string {
	if v, ok := m.Metadata[MetadataIntent].(string); ok {
		return v
	}
	return ""
}

// Metadata keys written by the query engine
const (
	MetadataIntent     = "intent"
	MetadataTablesUsed = "tables_used"
)

// Snapshot is the serialisable form of a conversation
type Snapshot struct {
	SessionID     string    `json:"session_id"`
	CreatedAt     time.Time `json:"created_at"`
	MessageCount  int       `json:"message_count"`
	Messages      []Message `json:"messages"`
	TokenEstimate int       `json:"token_estimate"`
}

// ConversationMemory is a FIFO ring buffer holding at most MaxExchanges*2
// messages. It is safe for concurrent use.
type ConversationMemory struct {
	mu        sync.RWMutex
	sessionID string
	createdAt time.Time
	config    Config
	messages  []Message
	now       func() time.Time
}

// Option configures a ConversationMemory
type Option func(*ConversationMemory)

// WithConfig overrides the window size. Non-positive values keep the defaults.
func WithConfig(config Config) Option {
	return func(m *ConversationMemory) {
		if config.MaxExchanges > 0 {
			m.config.MaxExchanges = config.MaxExchanges
		}
		if config.MaxTokensPerMessage > 0 {
			m.config.MaxTokensPerMessage = config.MaxTokensPerMessage
		}
	}
}

// WithClock replaces time.Now, for tests
func WithClock(now func() time.Time) Option {
	return func(m *ConversationMemory) {
		m.now = now
	}
}

// New creates an empty conversation. An empty sessionID gets a
// timestamp-derived one.
func New(sessionID string, opts ...Option) *ConversationMemory {
	m := &ConversationMemory{
		config: DefaultConfig(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.createdAt = m.now()
	if sessionID == "" {
		sessionID = DefaultSessionID(m.createdAt)
	}
	m.sessionID = sessionID
	return m
}

// DefaultSessionID formats t as session_YYYYMMDD_HHMMSS
func DefaultSessionID(t time.Time) string {
	return "session_" + t.Format("20060102_150405")
}

// SessionID returns the session identifier
func (m *ConversationMemory) SessionID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessionID
}

// CreatedAt returns when the conversation was created or last restored from
func (m *ConversationMemory) CreatedAt() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.createdAt
}

// Config returns the window configuration
func (m *ConversationMemory) Config() Config {
	return m.config
}

// Capacity is the maximum number of stored messages
func (m *ConversationMemory) Capacity() int {
	return m.config.MaxExchanges * 2
}

// Len returns the number of stored messages
func (m *ConversationMemory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.messages)
}

// AddMessage appends a message, truncating oversized content and evicting
// the oldest messages once the buffer is full.
func (m *ConversationMemory) AddMessage(role llmtypes.Role, content string, metadata map[string]any) {
	limit := m.config.MaxTokensPerMessage * charsPerToken
	if len(content) > limit {
		content = content[:limit] + TruncationMarker
	}
	if metadata == nil {
		metadata = map[string]any{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.messages = append(m.messages, Message{
		Role:      role,
		Content:   content,
		Timestamp: m.now(),
		Metadata:  metadata,
	})
	if overflow := len(m.messages) - m.Capacity(); overflow > 0 {
		m.messages = append([]Message(nil), m.messages[overflow:]...)
	}
}

// Messages returns a copy of the stored messages, oldest first
func (m *ConversationMemory) Messages() []Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Message(nil), m.messages...)
}

// RecentTurns returns up to n of the latest messages as prompt history
func (m *ConversationMemory) RecentTurns(n int) []llmtypes.Turn {
	m.mu.RLock()
	defer m.mu.RUnlock()

	start := len(m.messages) - n
	if start < 0 {
		start = 0
	}
	turns := make([]llmtypes.Turn, 0, len(m.messages)-start)
	for _, msg := range m.messages[start:] {
		turns = append(turns, llmtypes.Turn{Role: msg.Role, Content: msg.Content})
	}
	return turns
}

// ContextSummary renders the last three exchanges as "Role: text" lines,
// each cut to its first 200 characters.
func (m *ConversationMemory) ContextSummary() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.messages) == 0 {
		return ""
	}
	start := len(m.messages) - summaryMessages
	if start < 0 {
		start = 0
	}

	parts := make([]string, 0, summaryMessages)
	for _, msg := range m.messages[start:] {
		role := "Assistant"
		if msg.Role == llmtypes.RoleUser {
			role = "User"
		}
		content := msg.Content
		if len(content) > summaryCharsLimit {
			content = content[:summaryCharsLimit]
		}
		parts = append(parts, fmt.Sprintf("%s: %s", role, content))
	}
	return strings.Join(parts, "\n")
}

// TokenEstimate approximates the tokens held as total characters / 4
func (m *ConversationMemory) TokenEstimate() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tokenEstimateLocked()
}

func (m *ConversationMemory) tokenEstimateLocked() int {
	total := 0
	for _, msg := range m.messages {
		total += len(msg.Content)
	}
	return total / charsPerToken
}

// Snapshot exports the full conversation
func (m *ConversationMemory) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return Snapshot{
		SessionID:     m.sessionID,
		CreatedAt:     m.createdAt,
		MessageCount:  len(m.messages),
		Messages:      append([]Message(nil), m.messages...),
		TokenEstimate: m.tokenEstimateLocked(),
	}
}

// Restore replaces the conversation with the snapshot, keeping only the
// most recent Capacity() messages. Nothing is merged with the current state.
func (m *ConversationMemory) Restore(snapshot Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sessionID = snapshot.SessionID
	m.createdAt = snapshot.CreatedAt
	if m.createdAt.IsZero() {
		m.createdAt = m.now()
	}

	messages := snapshot.Messages
	if overflow := len(messages) - m.Capacity(); overflow > 0 {
		messages = messages[overflow:]
	}
	m.messages = append([]Message(nil), messages...)
}

// Clear drops every message. The session id is kept.
func (m *ConversationMemory) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = nil
}
