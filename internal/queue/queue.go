// Package queue manages the Redis streams linking record ingestion to
// correction workers and the review queue to validator tooling.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

const (
	// StreamRecords is the Redis stream for ingested records awaiting
	// detection and correction.
	StreamRecords = "mend_records"
	// StreamReview is the Redis stream announcing corrections waiting
	// for human review.
	StreamReview = "mend_review"

	// GroupWorkers is the consumer group for correction workers.
	GroupWorkers = "worker_pool"
	// GroupReviewers is the consumer group for review notification consumers.
	GroupReviewers = "review_pool"
)

// RecordMessage is the payload pushed to the mend_records stream.
type RecordMessage struct {
	DatasetID string         `json:"dataset_id"`
	RecordID  string         `json:"record_id"`
	Fields    map[string]any `json:"fields"`
}

// ReviewMessage is the payload pushed to the mend_review stream.
type ReviewMessage struct {
	ItemID       string  `json:"item_id"`
	CorrectionID string  `json:"correction_id"`
	Field        string  `json:"field"`
	Priority     int     `json:"priority"`
	Confidence   float64 `json:"confidence"`
}

// Queue manages Redis streams for the correction pipeline.
type Queue struct {
	client *redis.Client
}

// New creates a Queue from a Redis client.
func New(client *redis.Client) *Queue {
	return &Queue{client: client}
}

// ConnectRedis creates a Redis client from a URL.
func ConnectRedis(redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	return redis.NewClient(opts), nil
}

// EnsureStreams creates the consumer groups if they don't exist.
func (q *Queue) EnsureStreams(ctx context.Context) error {
	for _, pair := range []struct {
		stream, group string
	}{
		{StreamRecords, GroupWorkers},
		{StreamReview, GroupReviewers},
	} {
		err := q.client.XGroupCreateMkStream(ctx, pair.stream, pair.group, "0").Err()
		if err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
			return fmt.Errorf("create group %s on %s: %w", pair.group, pair.stream, err)
		}
	}
	return nil
}

// PushRecord adds a record message to the mend_records stream.
func (q *Queue) PushRecord(ctx context.Context, msg RecordMessage) (string, error) {
	fieldsJSON, err := json.Marshal(msg.Fields)
	if err != nil {
		return "", fmt.Errorf("marshal record fields: %w", err)
	}
	result, err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamRecords,
		Values: map[string]any{
			"dataset_id": msg.DatasetID,
			"record_id":  msg.RecordID,
			"fields":     string(fieldsJSON),
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("push record: %w", err)
	}
	return result, nil
}

// PushReview adds a review notification to the mend_review stream.
func (q *Queue) PushReview(ctx context.Context, msg ReviewMessage) (string, error) {
	result, err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamReview,
		Values: map[string]any{
			"item_id":       msg.ItemID,
			"correction_id": msg.CorrectionID,
			"field":         msg.Field,
			"priority":      strconv.Itoa(msg.Priority),
			"confidence":    strconv.FormatFloat(msg.Confidence, 'f', -1, 64),
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("push review notification: %w", err)
	}
	return result, nil
}

// ReadRecord reads one record message from the mend_records stream (blocking).
func (q *Queue) ReadRecord(ctx context.Context, consumer string) (*RecordMessage, string, error) {
	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    GroupWorkers,
		Consumer: consumer,
		Streams:  []string{StreamRecords, ">"},
		Count:    1,
		Block:    0,
	}).Result()
	if err != nil {
		return nil, "", fmt.Errorf("read record: %w", err)
	}

	for _, stream := range streams {
		for _, msg := range stream.Messages {
			rec := &RecordMessage{
				DatasetID: getString(msg.Values, "dataset_id"),
				RecordID:  getString(msg.Values, "record_id"),
			}
			if raw := getString(msg.Values, "fields"); raw != "" {
				if err := json.Unmarshal([]byte(raw), &rec.Fields); err != nil {
					return nil, msg.ID, fmt.Errorf("unmarshal record %s: %w", rec.RecordID, err)
				}
			}
			return rec, msg.ID, nil
		}
	}
	return nil, "", fmt.Errorf("no messages")
}

// ReadReview reads one review notification from the mend_review stream (blocking).
func (q *Queue) ReadReview(ctx context.Context, consumer string) (*ReviewMessage, string, error) {
	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    GroupReviewers,
		Consumer: consumer,
		Streams:  []string{StreamReview, ">"},
		Count:    1,
		Block:    0,
	}).Result()
	if err != nil {
		return nil, "", fmt.Errorf("read review notification: %w", err)
	}

	for _, stream := range streams {
		for _, msg := range stream.Messages {
			priority, _ := strconv.Atoi(getString(msg.Values, "priority"))
			confidence, _ := strconv.ParseFloat(getString(msg.Values, "confidence"), 64)
			rm := &ReviewMessage{
				ItemID:       getString(msg.Values, "item_id"),
				CorrectionID: getString(msg.Values, "correction_id"),
				Field:        getString(msg.Values, "field"),
				Priority:     priority,
				Confidence:   confidence,
			}
			return rm, msg.ID, nil
		}
	}
	return nil, "", fmt.Errorf("no messages")
}

// AckRecord acknowledges a record message.
func (q *Queue) AckRecord(ctx context.Context, msgID string) error {
	return q.client.XAck(ctx, StreamRecords, GroupWorkers, msgID).Err()
}

// AckReview acknowledges a review notification.
func (q *Queue) AckReview(ctx context.Context, msgID string) error {
	return q.client.XAck(ctx, StreamReview, GroupReviewers, msgID).Err()
}

// Status returns pending message counts for both streams.
func (q *Queue) Status(ctx context.Context) (records, reviews int64, err error) {
	recordsLen, err := q.client.XLen(ctx, StreamRecords).Result()
	if err != nil {
		return 0, 0, err
	}
	reviewsLen, err := q.client.XLen(ctx, StreamReview).Result()
	if err != nil {
		return 0, 0, err
	}
	return recordsLen, reviewsLen, nil
}

func getString(values map[string]any, key string) string {
	if v, ok := values[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
