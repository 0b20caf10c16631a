package repositories

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ems-dashboard/backend/internal/models"
	"github.com/redis/go-redis/v9"
)

const auditSpillKey = "audit:pending"

// AuditSpill is a Redis list of audit entries waiting to be written to Postgres.
// Entries are appended at the tail and drained from the head.
type AuditSpill struct {
	client *redis.Client
	key    string
}

func NewAuditSpill(client *redis.Client) *AuditSpill {
	return &AuditSpill{client: client, key: auditSpillKey}
}

func (s *AuditSpill) Push(ctx context.Context, entries []models.AuditEntry) error {
	if len(entries) == 0 {
		return nil
	}
	values := make([]any, 0, len(entries))
	for _, e := range entries {
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("encode audit entry %s: %w", e.ID, err)
		}
		values = append(values, data)
	}
	return s.client.RPush(ctx, s.key, values...).Err()
}

// Peek returns up to n entries from the head without removing them.
func (s *AuditSpill) Peek(ctx context.Context, n int) ([]models.AuditEntry, error) {
	if n <= 0 {
		return nil, nil
	}
	raw, err := s.client.LRange(ctx, s.key, 0, int64(n-1)).Result()
	if err != nil {
		return nil, err
	}
	entries := make([]models.AuditEntry, 0, len(raw))
	for _, r := range raw {
		var e models.AuditEntry
		if err := json.Unmarshal([]byte(r), &e); err != nil {
			return nil, fmt.Errorf("decode spilled audit entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Ack removes the first n entries.
func (s *AuditSpill) Ack(ctx context.Context, n int) error {
	if n <= 0 {
		return nil
	}
	return s.client.LTrim(ctx, s.key, int64(n), -1).Err()
}

func (s *AuditSpill) Len(ctx context.Context) (int64, error) {
	return s.client.LLen(ctx, s.key).Result()
}
