package redis

import (
	"context"
	"encoding/base64"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	sharesync "github.com/steveoberholzer/ShareSync"
	"github.com/steveoberholzer/ShareSync/job"
)

func (s *Store) CreateItem(ctx context.Context, it *job.Item) error {
	mID := it.MessageID.String()
	key := itemKey(mID)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("sharesync/redis: create item: %w", err)
	}
	if exists > 0 {
		return sharesync.ErrDuplicateItem
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, itemToMap(it))
	pipe.SAdd(ctx, itemIDsKey, mID)
	pipe.SAdd(ctx, jobItemsKey(it.JobID.String()), mID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("sharesync/redis: create item: %w", err)
	}
	return nil
}

func (s *Store) GetItem(ctx context.Context, messageID uuid.UUID) (*job.Item, error) {
	fields, err := s.client.HGetAll(ctx, itemKey(messageID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("sharesync/redis: get item: %w", err)
	}
	if len(fields) == 0 {
		return nil, sharesync.ErrItemNotFound
	}
	return itemFromMap(fields)
}

func (s *Store) ListItems(ctx context.Context, jobID uuid.UUID, opts job.ItemListOpts) ([]*job.Item, error) {
	ids, err := s.client.SMembers(ctx, jobItemsKey(jobID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("sharesync/redis: list items: %w", err)
	}

	out, err := s.collectItems(ctx, ids, func(it *job.Item) bool {
		return opts.Status == "" || it.Status == opts.Status
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) SearchItems(ctx context.Context, opts job.ItemSearchOpts) ([]*job.Item, int, error) {
	ids, err := s.client.SMembers(ctx, itemIDsKey).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("sharesync/redis: search items: %w", err)
	}

	out, err := s.collectItems(ctx, ids, func(it *job.Item) bool {
		if opts.Status != "" && it.Status != opts.Status {
			return false
		}
		if opts.Kind != "" && it.Kind != opts.Kind {
			return false
		}
		if opts.Search != "" && !strings.Contains(strings.ToLower(it.Identifier), strings.ToLower(opts.Search)) {
			return false
		}
		return true
	})
	if err != nil {
		return nil, 0, err
	}

	total := len(out)
	return paginate(out, opts.Offset, opts.Limit), total, nil
}

// updateItemScript applies a status change with optional error and
// retry-count overwrites, stamping processed_at on the first terminal
// transition.
var updateItemScript = goredis.NewScript(`
	if redis.call('EXISTS', KEYS[1]) == 0 then
		return 0
	end
	redis.call('HSET', KEYS[1], 'status', ARGV[1])
	if ARGV[2] ~= '\0' then
		redis.call('HSET', KEYS[1], 'error', ARGV[2])
	end
	if ARGV[3] ~= '\0' then
		redis.call('HSET', KEYS[1], 'retry_count', ARGV[3])
	end
	if ARGV[4] == '1' and redis.call('HGET', KEYS[1], 'processed_at') == '' then
		redis.call('HSET', KEYS[1], 'processed_at', ARGV[5])
	end
	return 1
`)

func (s *Store) UpdateItemStatus(ctx context.Context, messageID uuid.UUID, status job.ItemStatus, upd job.ItemUpdate) error {
	// The NUL sentinel marks "leave untouched" since empty string is a
	// legal error value.
	errArg := "\x00"
	if upd.Error != nil {
		errArg = *upd.Error
	}
	retryArg := "\x00"
	if upd.RetryCount != nil {
		retryArg = fmt.Sprintf("%d", *upd.RetryCount)
	}
	terminal := "0"
	if status.Terminal() {
		terminal = "1"
	}

	err := updateItemScript.Run(ctx, s.client, []string{itemKey(messageID.String())},
		string(status), errArg, retryArg, terminal,
		time.Now().UTC().Format(time.RFC3339Nano),
	).Err()
	if err != nil {
		return fmt.Errorf("sharesync/redis: update item: %w", err)
	}
	return nil
}

func (s *Store) DeleteItem(ctx context.Context, messageID uuid.UUID) error {
	it, err := s.GetItem(ctx, messageID)
	if err != nil {
		return err
	}
	if !it.Status.Terminal() {
		return sharesync.ErrItemActive
	}

	mID := messageID.String()
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, itemKey(mID))
	pipe.SRem(ctx, itemIDsKey, mID)
	pipe.SRem(ctx, jobItemsKey(it.JobID.String()), mID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("sharesync/redis: delete item: %w", err)
	}
	return nil
}

func (s *Store) collectItems(ctx context.Context, ids []string, keep func(*job.Item) bool) ([]*job.Item, error) {
	out := make([]*job.Item, 0, len(ids))
	for _, id := range ids {
		fields, err := s.client.HGetAll(ctx, itemKey(id)).Result()
		if err != nil {
			return nil, fmt.Errorf("sharesync/redis: collect items: %w", err)
		}
		if len(fields) == 0 {
			continue
		}
		it, err := itemFromMap(fields)
		if err != nil {
			return nil, err
		}
		if keep(it) {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, k int) bool {
		return out[i].CreatedAt.Before(out[k].CreatedAt)
	})
	return out, nil
}

func itemToMap(it *job.Item) map[string]any {
	return map[string]any{
		"message_id":   it.MessageID.String(),
		"job_id":       it.JobID.String(),
		"kind":         it.Kind,
		"identifier":   it.Identifier,
		"payload":      base64.StdEncoding.EncodeToString(it.Payload),
		"status":       string(it.Status),
		"retry_count":  it.RetryCount,
		"max_retries":  it.MaxRetries,
		"error":        it.Error,
		"created_at":   it.CreatedAt.UTC().Format(time.RFC3339Nano),
		"processed_at": formatTimePtr(it.ProcessedAt),
	}
}

func itemFromMap(fields map[string]string) (*job.Item, error) {
	messageID, err := uuid.Parse(fields["message_id"])
	if err != nil {
		return nil, fmt.Errorf("sharesync/redis: parse message id: %w", err)
	}
	jobID, err := uuid.Parse(fields["job_id"])
	if err != nil {
		return nil, fmt.Errorf("sharesync/redis: parse item job id: %w", err)
	}
	payload, err := base64.StdEncoding.DecodeString(fields["payload"])
	if err != nil {
		return nil, fmt.Errorf("sharesync/redis: decode item payload: %w", err)
	}
	createdAt, err := parseTime(fields["created_at"])
	if err != nil {
		return nil, fmt.Errorf("sharesync/redis: parse item created_at: %w", err)
	}

	it := &job.Item{
		MessageID:  messageID,
		JobID:      jobID,
		Kind:       fields["kind"],
		Identifier: fields["identifier"],
		Payload:    payload,
		Status:     job.ItemStatus(fields["status"]),
		RetryCount: atoi(fields["retry_count"]),
		MaxRetries: atoi(fields["max_retries"]),
		Error:      fields["error"],
		CreatedAt:  createdAt,
	}
	if it.ProcessedAt, err = parseTimePtr(fields["processed_at"]); err != nil {
		return nil, fmt.Errorf("sharesync/redis: parse item processed_at: %w", err)
	}
	return it, nil
}
