package provider

import (
	"context"
	"fmt"
	"os"
	"sort"

	"digest_server/core/domain"
	"digest_server/core/port/out"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

// mailboxFile is the on-disk fixture shape.
type mailboxFile struct {
	Messages []*domain.RawMessage `json:"messages"`
}

// LocalAdapter implements out.MailProvider over a JSON mailbox fixture.
// It backs development runs and tests where no Gmail account exists.
type LocalAdapter struct {
	messages []*domain.RawMessage
	byID     map[string]*domain.RawMessage
	log      zerolog.Logger
}

var _ out.MailProvider = (*LocalAdapter)(nil)

// NewLocalAdapter loads the mailbox file once at construction. Messages
// are served newest first, matching the Gmail listing order.
func NewLocalAdapter(path string, log zerolog.Logger) (*LocalAdapter, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read mailbox file: %w", err)
	}

	var file mailboxFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse mailbox file: %w", err)
	}

	messages := file.Messages
	sort.SliceStable(messages, func(i, j int) bool {
		if messages[i].InternalDate != messages[j].InternalDate {
			return messages[i].InternalDate > messages[j].InternalDate
		}
		return messages[i].MessageID < messages[j].MessageID
	})

	byID := make(map[string]*domain.RawMessage, len(messages))
	for _, m := range messages {
		byID[m.MessageID] = m
	}

	log.Info().Str("path", path).Int("messages", len(messages)).Msg("local mailbox loaded")
	return &LocalAdapter{
		messages: messages,
		byID:     byID,
		log:      log.With().Str("component", "local_adapter").Logger(),
	}, nil
}

// ProviderType returns the provider type.
func (a *LocalAdapter) ProviderType() string {
	return "local"
}

// ListMessageIDs returns up to limit message IDs, newest first.
func (a *LocalAdapter) ListMessageIDs(_ context.Context, _ string, limit int) ([]string, error) {
	if limit <= 0 || limit > len(a.messages) {
		limit = len(a.messages)
	}
	ids := make([]string, 0, limit)
	for _, m := range a.messages[:limit] {
		ids = append(ids, m.MessageID)
	}
	return ids, nil
}

// GetMessage returns the fixture message by ID.
func (a *LocalAdapter) GetMessage(_ context.Context, messageID string) (*domain.RawMessage, error) {
	if m, ok := a.byID[messageID]; ok {
		return m, nil
	}
	return nil, out.NewProviderError("local", out.ProviderErrNotFound, "message not found", nil, false)
}
