// Package redis provides a Redis persistence implementation for review pipelines.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"

	"github.com/Naoya-Yasuda/agent-store-sub000/pkg/models"
	"github.com/Naoya-Yasuda/agent-store-sub000/pkg/persistence"
	redis "github.com/redis/go-redis/v9"
)

const defaultPrefix = "agentstore:review"

// saveScript writes the snapshot hash and maintains the active index only when the
// offered sequence is not older than the stored one.
var saveScript = redis.NewScript(`
local current = redis.call('HGET', KEYS[1], 'seq')
if current and tonumber(current) > tonumber(ARGV[1]) then
	return 0
end
redis.call('HSET', KEYS[1], 'seq', ARGV[1], 'terminal_state', ARGV[2], 'snapshot', ARGV[3])
if ARGV[2] == 'running' then
	redis.call('ZADD', KEYS[2], ARGV[4], ARGV[5])
else
	redis.call('ZREM', KEYS[2], ARGV[5])
end
return 1
`)

// Persistence stores snapshots as hashes, journals as seq-keyed hashes and keeps
// running submissions in a sorted set ordered by last update.
type Persistence struct {
	client redis.UniversalClient
	logger *slog.Logger
	prefix string
}

var _ persistence.Persistence = (*Persistence)(nil)

// NewPersistence connects to the Redis server described by redisURL (redis:// or rediss://).
func NewPersistence(ctx context.Context, logger *slog.Logger, redisURL string) (*Persistence, error) {
	options, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := redis.NewClient(options)

	err = client.Ping(ctx).Err()
	if err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return NewWithClient(client, logger, defaultPrefix), nil
}

// NewWithClient wraps an existing client. Keys are namespaced under prefix.
func NewWithClient(client redis.UniversalClient, logger *slog.Logger, prefix string) *Persistence {
	if prefix == "" {
		prefix = defaultPrefix
	}

	return &Persistence{
		client: client,
		logger: logger.With("module", "redis_persistence"),
		prefix: prefix,
	}
}

func (p *Persistence) snapshotKey(submissionID string) string {
	return p.prefix + ":snapshot:" + submissionID
}

func (p *Persistence) journalKey(submissionID string) string {
	return p.prefix + ":journal:" + submissionID
}

func (p *Persistence) activeKey() string {
	return p.prefix + ":active"
}

func (p *Persistence) SaveSnapshot(ctx context.Context, snapshot *models.PipelineSnapshot) error {
	submissionID := snapshot.Input.SubmissionID

	if err := persistence.ValidateSubmissionID(submissionID); err != nil {
		return persistence.NewSnapshotError("SaveSnapshot", submissionID, err)
	}

	data, err := json.Marshal(snapshot)
	if err != nil {
		return persistence.NewSnapshotError("SaveSnapshot", submissionID, err)
	}

	terminalState := models.TerminalStateRunning
	if snapshot.Progress != nil {
		terminalState = snapshot.Progress.TerminalState
	}

	applied, err := saveScript.Run(ctx, p.client,
		[]string{p.snapshotKey(submissionID), p.activeKey()},
		snapshot.Seq, string(terminalState), string(data), snapshot.UpdatedAt.UnixMilli(), submissionID,
	).Int()
	if err != nil {
		p.logger.ErrorContext(ctx, "Failed to save snapshot", "submission_id", submissionID, "error", err)

		return persistence.NewSnapshotError("SaveSnapshot", submissionID, err)
	}

	if applied == 0 {
		return persistence.NewSnapshotError("SaveSnapshot", submissionID, persistence.ErrStaleSnapshot)
	}

	return nil
}

func (p *Persistence) SnapshotByID(ctx context.Context, submissionID string) (*models.PipelineSnapshot, error) {
	data, err := p.client.HGet(ctx, p.snapshotKey(submissionID), "snapshot").Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, persistence.NewSnapshotError("SnapshotByID", submissionID, persistence.ErrSnapshotNotFound)
	}

	if err != nil {
		return nil, persistence.NewSnapshotError("SnapshotByID", submissionID, err)
	}

	var snapshot models.PipelineSnapshot

	err = json.Unmarshal(data, &snapshot)
	if err != nil {
		return nil, persistence.NewSnapshotError("SnapshotByID", submissionID, err)
	}

	return &snapshot, nil
}

func (p *Persistence) ActiveSnapshots(ctx context.Context) ([]*models.PipelineSnapshot, error) {
	ids, err := p.client.ZRange(ctx, p.activeKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list active snapshots: %w", err)
	}

	snapshots := make([]*models.PipelineSnapshot, 0, len(ids))

	for _, id := range ids {
		snapshot, err := p.SnapshotByID(ctx, id)
		if persistence.IsSnapshotNotFound(err) {
			p.logger.WarnContext(ctx, "Active index references a missing snapshot", "submission_id", id)

			continue
		}

		if err != nil {
			return nil, err
		}

		snapshots = append(snapshots, snapshot)
	}

	return snapshots, nil
}

func (p *Persistence) AppendJournal(ctx context.Context, record models.JournalRecord) error {
	if err := persistence.ValidateSubmissionID(record.SubmissionID); err != nil {
		return persistence.NewSnapshotError("AppendJournal", record.SubmissionID, err)
	}

	data, err := json.Marshal(record)
	if err != nil {
		return persistence.NewSnapshotError("AppendJournal", record.SubmissionID, err)
	}

	err = p.client.HSet(ctx, p.journalKey(record.SubmissionID), strconv.FormatInt(record.Seq, 10), data).Err()
	if err != nil {
		p.logger.ErrorContext(ctx, "Failed to append journal record", "submission_id", record.SubmissionID, "seq", record.Seq, "error", err)

		return persistence.NewSnapshotError("AppendJournal", record.SubmissionID, err)
	}

	return nil
}

func (p *Persistence) Journal(ctx context.Context, submissionID string) ([]models.JournalRecord, error) {
	values, err := p.client.HGetAll(ctx, p.journalKey(submissionID)).Result()
	if err != nil {
		return nil, persistence.NewSnapshotError("Journal", submissionID, err)
	}

	records := make([]models.JournalRecord, 0, len(values))

	for _, value := range values {
		var record models.JournalRecord
		if err := json.Unmarshal([]byte(value), &record); err != nil {
			return nil, persistence.NewSnapshotError("Journal", submissionID, err)
		}

		records = append(records, record)
	}

	sort.Slice(records, func(i, j int) bool { return records[i].Seq < records[j].Seq })

	return records, nil
}

// HealthCheck pings the server.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.client.Ping(ctx).Err()
	if err != nil {
		return fmt.Errorf("failed to ping redis: %w", err)
	}

	return nil
}

func (p *Persistence) Close(_ context.Context) error {
	err := p.client.Close()
	if err != nil {
		return fmt.Errorf("failed to close redis client: %w", err)
	}

	return nil
}
