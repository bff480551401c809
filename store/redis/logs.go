package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/steveoberholzer/ShareSync/joblog"
)

func (s *Store) AppendLogs(ctx context.Context, entries []*joblog.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	pipe := s.client.TxPipeline()
	for _, e := range entries {
		id, err := s.client.Incr(ctx, logSeqKey).Result()
		if err != nil {
			return fmt.Errorf("sharesync/redis: append logs: %w", err)
		}
		cp := *e
		cp.ID = id

		body, err := json.Marshal(&cp)
		if err != nil {
			return fmt.Errorf("sharesync/redis: append logs: %w", err)
		}
		pipe.RPush(ctx, logsAllKey, body)
		if cp.JobID != uuid.Nil {
			pipe.RPush(ctx, logsKey(cp.JobID.String()), body)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("sharesync/redis: append logs: %w", err)
	}
	return nil
}

func (s *Store) ListLogs(ctx context.Context, jobID uuid.UUID, limit int) ([]*joblog.Entry, error) {
	key := logsAllKey
	if jobID != uuid.Nil {
		key = logsKey(jobID.String())
	}

	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	raw, err := s.client.LRange(ctx, key, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("sharesync/redis: list logs: %w", err)
	}

	out := make([]*joblog.Entry, 0, len(raw))
	for _, body := range raw {
		var e joblog.Entry
		if err := json.Unmarshal([]byte(body), &e); err != nil {
			return nil, fmt.Errorf("sharesync/redis: decode log: %w", err)
		}
		out = append(out, &e)
	}
	return out, nil
}
