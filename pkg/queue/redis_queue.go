package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"churnboard/internal/util"
	"github.com/redis/go-redis/v9"
)

// RedisQueueConfig configures a stream-backed extraction queue. Zero values
// fall back to the defaults applied by withDefaults.
type RedisQueueConfig struct {
	Addr       string
	Password   string
	Stream     string
	Group      string
	Consumer   string
	JobTTL     time.Duration
	MaxRetries int
	Block      time.Duration
	ClaimIdle  time.Duration
	RetryDelay time.Duration
	MaxLen     int64
	BatchSize  int64
	Logger     *slog.Logger
}

func (cfg RedisQueueConfig) withDefaults() (RedisQueueConfig, error) {
	cfg.Addr = strings.TrimSpace(cfg.Addr)
	cfg.Stream = strings.TrimSpace(cfg.Stream)
	if cfg.Addr == "" {
		return cfg, errors.New("redis addr required")
	}
	if cfg.Stream == "" {
		return cfg, errors.New("queue stream required")
	}
	cfg.Group = orString(strings.TrimSpace(cfg.Group), "churn-workers")
	cfg.Consumer = orString(strings.TrimSpace(cfg.Consumer), util.NewID())
	cfg.JobTTL = orPositive(cfg.JobTTL, 24*time.Hour)
	cfg.MaxRetries = orPositive(cfg.MaxRetries, 3)
	cfg.Block = orPositive(cfg.Block, 5*time.Second)
	cfg.ClaimIdle = orPositive(cfg.ClaimIdle, 30*time.Second)
	cfg.RetryDelay = orPositive(cfg.RetryDelay, 2*time.Second)
	cfg.MaxLen = orPositive(cfg.MaxLen, 10000)
	cfg.BatchSize = orPositive(cfg.BatchSize, 10)
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return cfg, nil
}

// RedisJobQueue delivers extraction jobs through a Redis stream consumer
// group. Job state lives in a hash per job so callers can poll progress.
type RedisJobQueue struct {
	client *redis.Client
	cfg    RedisQueueConfig
	stream string
	group  string
	logger *slog.Logger
	once   sync.Once
}

func NewRedisJobQueue(cfg RedisQueueConfig) (*RedisJobQueue, error) {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}
	return &RedisJobQueue{
		client: redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password}),
		cfg:    cfg,
		stream: cfg.Stream,
		group:  cfg.Group,
		logger: cfg.Logger,
	}, nil
}

// Enqueue records a queued job for recordID and appends it to the stream.
func (q *RedisJobQueue) Enqueue(ctx context.Context, recordID int64) (JobStatus, error) {
	if recordID <= 0 {
		return JobStatus{}, errors.New("record id required")
	}
	now := time.Now().UTC()
	job := JobStatus{
		ID:        util.NewID(),
		RecordID:  recordID,
		Status:    StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := q.save(ctx, job); err != nil {
		return JobStatus{}, err
	}
	if err := q.client.XAdd(ctx, q.addArgs(job.ID, recordID)).Err(); err != nil {
		return JobStatus{}, fmt.Errorf("enqueue record %d: %w", recordID, err)
	}
	return job, nil
}

// GetJob returns the last recorded state of jobID.
func (q *RedisJobQueue) GetJob(ctx context.Context, jobID string) (JobStatus, bool, error) {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return JobStatus{}, false, nil
	}
	data, err := q.client.HGetAll(ctx, q.statusKey(jobID)).Result()
	if err != nil {
		return JobStatus{}, false, err
	}
	if len(data) == 0 {
		return JobStatus{}, false, nil
	}
	return decodeJobStatus(jobID, data), true, nil
}

// Start launches concurrency consumers that run handler until ctx is done.
func (q *RedisJobQueue) Start(ctx context.Context, concurrency int, handler Handler) {
	q.ensureGroup(ctx)
	for i := range max(concurrency, 1) {
		go q.consume(ctx, fmt.Sprintf("%s-%d", q.cfg.Consumer, i), handler)
	}
}

// Close releases the Redis connection pool.
func (q *RedisJobQueue) Close() error {
	return q.client.Close()
}

func (q *RedisJobQueue) ensureGroup(ctx context.Context) {
	q.once.Do(func() {
		// "0" so jobs enqueued before the first consumer are still delivered.
		err := q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "0").Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			q.logger.Warn("queue_group_create_failed", "stream", q.stream, "err", err)
		}
	})
}

func (q *RedisJobQueue) consume(ctx context.Context, consumer string, handler Handler) {
	for ctx.Err() == nil {
		for _, msg := range q.nextBatch(ctx, consumer) {
			q.handle(ctx, msg, handler)
		}
	}
}

// nextBatch prefers messages abandoned by dead consumers over new ones.
func (q *RedisJobQueue) nextBatch(ctx context.Context, consumer string) []redis.XMessage {
	claimed, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.stream,
		Group:    q.group,
		Consumer: consumer,
		MinIdle:  q.cfg.ClaimIdle,
		Start:    "0-0",
		Count:    q.cfg.BatchSize,
	}).Result()
	if err == nil && len(claimed) > 0 {
		return claimed
	}

	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: consumer,
		Streams:  []string{q.stream, ">"},
		Count:    q.cfg.BatchSize,
		Block:    q.cfg.Block,
	}).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
			q.logger.Warn("queue_read_failed", "consumer", consumer, "err", err)
			select {
			case <-ctx.Done():
			case <-time.After(q.cfg.Block):
			}
		}
		return nil
	}
	var out []redis.XMessage
	for _, s := range streams {
		out = append(out, s.Messages...)
	}
	return out
}

func (q *RedisJobQueue) handle(ctx context.Context, msg redis.XMessage, handler Handler) {
	jobID, recordID, ok := parseMessage(msg.Values)
	if !ok {
		q.logger.Warn("queue_message_dropped", "msg_id", msg.ID)
		q.drop(ctx, msg.ID)
		return
	}
	job, err := q.begin(ctx, jobID, recordID)
	if err != nil {
		q.drop(ctx, msg.ID)
		return
	}

	err = handler(ctx, job)
	switch {
	case err == nil:
		_ = q.setStatus(ctx, jobID, StatusDone, "")
		q.drop(ctx, msg.ID)
	case IsPermanent(err) || job.Attempts >= q.cfg.MaxRetries:
		q.logger.Error("queue_job_failed", "job_id", jobID, "record_id", recordID, "attempts", job.Attempts, "err", err)
		_ = q.setStatus(ctx, jobID, StatusFailed, err.Error())
		q.drop(ctx, msg.ID)
	default:
		q.logger.Warn("queue_job_retry", "job_id", jobID, "record_id", recordID, "attempts", job.Attempts, "err", err)
		_ = q.setStatus(ctx, jobID, StatusQueued, err.Error())
		select {
		case <-ctx.Done():
			return
		case <-time.After(q.cfg.RetryDelay):
		}
		_ = q.retryLater(ctx, msg.ID, jobID, recordID)
	}
}

func (q *RedisJobQueue) drop(ctx context.Context, msgID string) {
	_ = q.client.XAck(ctx, q.stream, q.group, msgID).Err()
	_ = q.client.XDel(ctx, q.stream, msgID).Err()
}

// retryLater re-appends the job to the tail of the stream and retires the
// delivered message in one transaction.
func (q *RedisJobQueue) retryLater(ctx context.Context, msgID, jobID string, recordID int64) error {
	pipe := q.client.TxPipeline()
	pipe.XAdd(ctx, q.addArgs(jobID, recordID))
	pipe.XAck(ctx, q.stream, q.group, msgID)
	pipe.XDel(ctx, q.stream, msgID)
	_, err := pipe.Exec(ctx)
	return err
}

func (q *RedisJobQueue) addArgs(jobID string, recordID int64) *redis.XAddArgs {
	return &redis.XAddArgs{
		Stream: q.stream,
		MaxLen: q.cfg.MaxLen,
		Approx: true,
		Values: messageValues(jobID, recordID),
	}
}

// begin counts a delivery attempt and marks the job processing.
func (q *RedisJobQueue) begin(ctx context.Context, jobID string, recordID int64) (JobStatus, error) {
	job, found, err := q.GetJob(ctx, jobID)
	if err != nil {
		return JobStatus{}, err
	}
	now := time.Now().UTC()
	if !found {
		job = JobStatus{ID: jobID, CreatedAt: now}
	}
	job.RecordID = recordID
	job.Attempts++
	job.Status = StatusProcessing
	job.UpdatedAt = now
	return job, q.save(ctx, job)
}

func (q *RedisJobQueue) setStatus(ctx context.Context, jobID, status, errMsg string) error {
	job, _, err := q.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	job.Status = status
	job.ErrorMessage = errMsg
	job.UpdatedAt = time.Now().UTC()
	return q.save(ctx, job)
}

func (q *RedisJobQueue) save(ctx context.Context, job JobStatus) error {
	key := q.statusKey(job.ID)
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, map[string]any{
			"recordId":  strconv.FormatInt(job.RecordID, 10),
			"status":    job.Status,
			"error":     job.ErrorMessage,
			"attempts":  strconv.Itoa(job.Attempts),
			"createdAt": job.CreatedAt.Format(time.RFC3339Nano),
			"updatedAt": job.UpdatedAt.Format(time.RFC3339Nano),
		})
		pipe.Expire(ctx, key, q.cfg.JobTTL)
		return nil
	})
	return err
}

func (q *RedisJobQueue) statusKey(jobID string) string {
	return q.stream + ":job:" + jobID
}

func messageValues(jobID string, recordID int64) map[string]any {
	return map[string]any{
		"job_id":    jobID,
		"record_id": strconv.FormatInt(recordID, 10),
	}
}

func parseMessage(values map[string]any) (string, int64, bool) {
	jobID, _ := values["job_id"].(string)
	raw, _ := values["record_id"].(string)
	recordID, err := strconv.ParseInt(raw, 10, 64)
	if jobID == "" || err != nil || recordID <= 0 {
		return "", 0, false
	}
	return jobID, recordID, true
}

func decodeJobStatus(jobID string, data map[string]string) JobStatus {
	job := JobStatus{
		ID:           jobID,
		Status:       data["status"],
		ErrorMessage: data["error"],
	}
	job.RecordID, _ = strconv.ParseInt(data["recordId"], 10, 64)
	job.Attempts, _ = strconv.Atoi(data["attempts"])
	job.CreatedAt, _ = time.Parse(time.RFC3339Nano, data["createdAt"])
	job.UpdatedAt, _ = time.Parse(time.RFC3339Nano, data["updatedAt"])
	return job
}

func orString(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func orPositive[T int | int64 | time.Duration](v, fallback T) T {
	if v <= 0 {
		return fallback
	}
	return v
}
