package memory

import (
	"math"
	"time"

	llmtypes "github.com/sqlpilot/sqlpilot/pkg/types/llm"
)

// Stats summarises a conversation for the stats endpoint
type Stats struct {
	SessionID         string         `json:"session_id"`
	CreatedAt         time.Time      `json:"created_at"`
	TotalMessages     int            `json:"total_messages"`
	UserMessages      int            `json:"user_messages"`
	AssistantMessages int            `json:"ai_messages"`
	TokenEstimate     int            `json:"token_estimate"`
	MaxExchanges      int            `json:"max_exchanges_limit"`
	IntentBreakdown   map[string]int `json:"intent_breakdown"`
	Usage             WindowUsage    `json:"memory_usage"`
}

// WindowUsage reports how full the ring buffer is
type WindowUsage struct {
	CurrentExchanges   int     `json:"current_exchanges"`
	MaxExchanges       int     `json:"max_exchanges"`
	UtilizationPercent float64 `json:"utilization_percent"`
}

// Stats counts messages by role and assistant messages by intent tag.
// Assistant messages without an intent are counted as "unknown".
func (m *ConversationMemory) Stats() Stats {
	snapshot := m.Snapshot()

	stats := Stats{
		SessionID:       snapshot.SessionID,
		CreatedAt:       snapshot.CreatedAt,
		TotalMessages:   snapshot.MessageCount,
		TokenEstimate:   snapshot.TokenEstimate,
		MaxExchanges:    m.config.MaxExchanges,
		IntentBreakdown: map[string]int{},
	}
	for _, msg := range snapshot.Messages {
		switch msg.Role {
		case llmtypes.RoleUser:
			stats.UserMessages++
		case llmtypes.RoleAssistant:
			stats.AssistantMessages++
			intent := msg.Intent()
			if intent == "" {
				intent = "unknown"
			}
			stats.IntentBreakdown[intent]++
		}
	}

	exchanges := snapshot.MessageCount / 2
	stats.Usage = WindowUsage{
		CurrentExchanges:   exchanges,
		MaxExchanges:       m.config.MaxExchanges,
		UtilizationPercent: math.Round(float64(exchanges)/float64(m.config.MaxExchanges)*1000) / 10,
	}
	return stats
}
