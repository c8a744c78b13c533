package dotdir

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"
)

const conversationFile = "conversation.json"

// ConversationState is the chat session persisted between `ragrelay chat`
// invocations. ConversationID is the id the backend assigned on the first
// turn; sending it back continues the same server-side conversation.
type ConversationState struct {
	ConversationID string                `json:"conversation_id"`
	UpdatedAt      time.Time             `json:"updated_at"`
	Messages       []ConversationMessage `json:"messages"`
}

// ConversationMessage is one turn of the persisted transcript.
type ConversationMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// LoadConversation loads the conversation state from a target
// .ragrelay/conversation.json. Returns nil, nil when no conversation has been
// saved yet.
func (m *Manager) LoadConversation(overrideDir string) (*ConversationState, error) {
	path, err := m.Path(overrideDir, conversationFile)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading conversation state: %w", err)
	}

	state := &ConversationState{}
	if err := json.Unmarshal(data, state); err != nil {
		return nil, fmt.Errorf("parsing conversation state: %w", err)
	}

	return state, nil
}

// SaveConversation persists the conversation state to a target
// .ragrelay/conversation.json.
func (m *Manager) SaveConversation(state *ConversationState, overrideDir string) error {
	if state == nil {
		return errors.New("cannot save nil conversation state")
	}

	path, err := m.Path(overrideDir, conversationFile)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling conversation state: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing conversation state: %w", err)
	}

	return nil
}

// ClearConversation removes the conversation state so the next chat starts a
// new conversation. Returns nil if there is nothing to clear.
func (m *Manager) ClearConversation(overrideDir string) error {
	path, err := m.Path(overrideDir, conversationFile)
	if err != nil {
		return err
	}

	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("removing conversation state: %w", err)
	}

	return nil
}
