package redis

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	sharesync "github.com/steveoberholzer/ShareSync"
	"github.com/steveoberholzer/ShareSync/job"
)

func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	jID := j.ID.String()
	key := jobKey(jID)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("sharesync/redis: create job: %w", err)
	}
	if exists > 0 {
		return sharesync.ErrJobExists
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, jobToMap(j))
	pipe.SAdd(ctx, jobIDsKey, jID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("sharesync/redis: create job: %w", err)
	}
	return nil
}

func (s *Store) GetJob(ctx context.Context, jobID uuid.UUID) (*job.Job, error) {
	fields, err := s.client.HGetAll(ctx, jobKey(jobID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("sharesync/redis: get job: %w", err)
	}
	if len(fields) == 0 {
		return nil, sharesync.ErrJobNotFound
	}
	return jobFromMap(fields)
}

func (s *Store) ListJobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	ids, err := s.client.SMembers(ctx, jobIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("sharesync/redis: list jobs: %w", err)
	}

	out := make([]*job.Job, 0, len(ids))
	for _, id := range ids {
		fields, err := s.client.HGetAll(ctx, jobKey(id)).Result()
		if err != nil {
			return nil, fmt.Errorf("sharesync/redis: list jobs: %w", err)
		}
		if len(fields) == 0 {
			continue
		}
		j, err := jobFromMap(fields)
		if err != nil {
			return nil, err
		}
		if opts.Status != "" && j.Status != opts.Status {
			continue
		}
		out = append(out, j)
	}
	sort.Slice(out, func(i, k int) bool {
		return out[i].CreatedAt.After(out[k].CreatedAt)
	})
	return paginate(out, opts.Offset, opts.Limit), nil
}

func (s *Store) SetJobStatus(ctx context.Context, jobID uuid.UUID, status job.Status, errMsg string) error {
	key := jobKey(jobID.String())
	if err := s.ensureJobExists(ctx, key); err != nil {
		return err
	}

	fields := map[string]any{"status": string(status)}
	if errMsg != "" {
		fields["error"] = errMsg
	}
	if err := s.client.HSet(ctx, key, fields).Err(); err != nil {
		return fmt.Errorf("sharesync/redis: set job status: %w", err)
	}
	return nil
}

func (s *Store) SetJobPriority(ctx context.Context, jobID uuid.UUID, p job.Priority) error {
	key := jobKey(jobID.String())
	if err := s.ensureJobExists(ctx, key); err != nil {
		return err
	}
	if err := s.client.HSet(ctx, key, "priority", string(p)).Err(); err != nil {
		return fmt.Errorf("sharesync/redis: set job priority: %w", err)
	}
	return nil
}

func (s *Store) IncrementProcessed(ctx context.Context, jobID uuid.UUID) error {
	key := jobKey(jobID.String())
	if err := s.ensureJobExists(ctx, key); err != nil {
		return err
	}
	if err := s.client.HIncrBy(ctx, key, "processed", 1).Err(); err != nil {
		return fmt.Errorf("sharesync/redis: increment processed: %w", err)
	}
	return nil
}

func (s *Store) IncrementFailed(ctx context.Context, jobID uuid.UUID) error {
	key := jobKey(jobID.String())
	if err := s.ensureJobExists(ctx, key); err != nil {
		return err
	}
	if err := s.client.HIncrBy(ctx, key, "failed", 1).Err(); err != nil {
		return fmt.Errorf("sharesync/redis: increment failed: %w", err)
	}
	return nil
}

// decrementFailedScript decrements the failed counter without going
// below zero.
var decrementFailedScript = goredis.NewScript(`
	local v = tonumber(redis.call('HGET', KEYS[1], 'failed') or '0')
	if v > 0 then
		redis.call('HSET', KEYS[1], 'failed', v - 1)
	end
	return v
`)

func (s *Store) DecrementFailed(ctx context.Context, jobID uuid.UUID) error {
	key := jobKey(jobID.String())
	if err := s.ensureJobExists(ctx, key); err != nil {
		return err
	}
	if err := decrementFailedScript.Run(ctx, s.client, []string{key}).Err(); err != nil {
		return fmt.Errorf("sharesync/redis: decrement failed: %w", err)
	}
	return nil
}

// markStartedScript transitions Queued to Processing and stamps
// started_at once for any non-terminal job, so a pause/resume before
// the first delivery still gets its start time recorded.
var markStartedScript = goredis.NewScript(`
	local status = redis.call('HGET', KEYS[1], 'status')
	if status ~= 'Completed' and status ~= 'Failed' then
		if status == 'Queued' then
			redis.call('HSET', KEYS[1], 'status', 'Processing')
		end
		if redis.call('HGET', KEYS[1], 'started_at') == '' then
			redis.call('HSET', KEYS[1], 'started_at', ARGV[1])
		end
	end
	return status
`)

func (s *Store) MarkStarted(ctx context.Context, jobID uuid.UUID) error {
	key := jobKey(jobID.String())
	if err := s.ensureJobExists(ctx, key); err != nil {
		return err
	}
	err := markStartedScript.Run(ctx, s.client, []string{key},
		time.Now().UTC().Format(time.RFC3339Nano)).Err()
	if err != nil {
		return fmt.Errorf("sharesync/redis: mark started: %w", err)
	}
	return nil
}

// markFinishedScript sets a terminal status once and stamps
// completed_at; a job already terminal is left untouched.
var markFinishedScript = goredis.NewScript(`
	local status = redis.call('HGET', KEYS[1], 'status')
	if status ~= 'Completed' and status ~= 'Failed' then
		redis.call('HSET', KEYS[1], 'status', ARGV[1])
		if redis.call('HGET', KEYS[1], 'completed_at') == '' then
			redis.call('HSET', KEYS[1], 'completed_at', ARGV[2])
		end
	end
	return status
`)

func (s *Store) MarkFinished(ctx context.Context, jobID uuid.UUID, final job.Status) error {
	key := jobKey(jobID.String())
	if err := s.ensureJobExists(ctx, key); err != nil {
		return err
	}
	err := markFinishedScript.Run(ctx, s.client, []string{key},
		string(final), time.Now().UTC().Format(time.RFC3339Nano)).Err()
	if err != nil {
		return fmt.Errorf("sharesync/redis: mark finished: %w", err)
	}
	return nil
}

func (s *Store) PurgeJobs(ctx context.Context, before time.Time) (int, error) {
	ids, err := s.client.SMembers(ctx, jobIDsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("sharesync/redis: purge jobs: %w", err)
	}

	purged := 0
	for _, id := range ids {
		fields, err := s.client.HGetAll(ctx, jobKey(id)).Result()
		if err != nil {
			return purged, fmt.Errorf("sharesync/redis: purge jobs: %w", err)
		}
		if len(fields) == 0 {
			continue
		}
		j, err := jobFromMap(fields)
		if err != nil {
			return purged, err
		}
		if !j.Status.Terminal() || j.CompletedAt == nil || !j.CompletedAt.Before(before) {
			continue
		}

		itemIDs, err := s.client.SMembers(ctx, jobItemsKey(id)).Result()
		if err != nil {
			return purged, fmt.Errorf("sharesync/redis: purge jobs: %w", err)
		}

		pipe := s.client.TxPipeline()
		for _, messageID := range itemIDs {
			pipe.Del(ctx, itemKey(messageID))
			pipe.SRem(ctx, itemIDsKey, messageID)
		}
		pipe.Del(ctx, jobItemsKey(id), logsKey(id), jobKey(id))
		pipe.SRem(ctx, jobIDsKey, id)
		if _, err := pipe.Exec(ctx); err != nil {
			return purged, fmt.Errorf("sharesync/redis: purge jobs: %w", err)
		}
		purged++
	}
	return purged, nil
}

func (s *Store) Stats(ctx context.Context) (*job.Stats, error) {
	stats := &job.Stats{
		Jobs:  make(map[job.Status]int),
		Items: make(map[job.ItemStatus]int),
	}

	jobs, err := s.ListJobs(ctx, job.ListOpts{})
	if err != nil {
		return nil, err
	}
	for _, j := range jobs {
		stats.Jobs[j.Status]++
	}

	items, _, err := s.SearchItems(ctx, job.ItemSearchOpts{})
	if err != nil {
		return nil, err
	}
	for _, it := range items {
		stats.Items[it.Status]++
	}
	return stats, nil
}

func (s *Store) ensureJobExists(ctx context.Context, key string) error {
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("sharesync/redis: check job: %w", err)
	}
	if exists == 0 {
		return sharesync.ErrJobNotFound
	}
	return nil
}

func jobToMap(j *job.Job) map[string]any {
	return map[string]any{
		"id":           j.ID.String(),
		"kind":         j.Kind,
		"file_name":    j.FileName,
		"requested_by": j.RequestedBy,
		"environment":  j.Environment,
		"site_url":     j.SiteURL,
		"total":        j.Total,
		"processed":    j.Processed,
		"failed":       j.Failed,
		"status":       string(j.Status),
		"priority":     string(j.Priority),
		"error":        j.Error,
		"created_at":   j.CreatedAt.UTC().Format(time.RFC3339Nano),
		"started_at":   formatTimePtr(j.StartedAt),
		"completed_at": formatTimePtr(j.CompletedAt),
	}
}

func jobFromMap(fields map[string]string) (*job.Job, error) {
	id, err := uuid.Parse(fields["id"])
	if err != nil {
		return nil, fmt.Errorf("sharesync/redis: parse job id: %w", err)
	}
	createdAt, err := parseTime(fields["created_at"])
	if err != nil {
		return nil, fmt.Errorf("sharesync/redis: parse job created_at: %w", err)
	}

	j := &job.Job{
		ID:          id,
		Kind:        fields["kind"],
		FileName:    fields["file_name"],
		RequestedBy: fields["requested_by"],
		Environment: fields["environment"],
		SiteURL:     fields["site_url"],
		Total:       atoi(fields["total"]),
		Processed:   atoi(fields["processed"]),
		Failed:      atoi(fields["failed"]),
		Status:      job.Status(fields["status"]),
		Priority:    job.Priority(fields["priority"]),
		Error:       fields["error"],
		CreatedAt:   createdAt,
	}
	if j.StartedAt, err = parseTimePtr(fields["started_at"]); err != nil {
		return nil, fmt.Errorf("sharesync/redis: parse job started_at: %w", err)
	}
	if j.CompletedAt, err = parseTimePtr(fields["completed_at"]); err != nil {
		return nil, fmt.Errorf("sharesync/redis: parse job completed_at: %w", err)
	}
	return j, nil
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func parseTimePtr(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := parseTime(s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func paginate[T any](in []T, offset, limit int) []T {
	if offset >= len(in) {
		return []T{}
	}
	in = in[offset:]
	if limit > 0 && len(in) > limit {
		in = in[:limit]
	}
	return in
}
