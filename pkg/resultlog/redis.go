// Package resultlog публикует итоги отправок программ во внешнее
// хранилище, чтобы оркестраторы могли опрашивать состояние длинных
// аналитических сессий или подписываться на их события.
package resultlog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ruslano69/sasiom/pkg/session"
)

// SubmissionResult представляет итог одной отправки, публикуемый в Redis
// после завершения выполнения (успешного или с ошибкой).
//
// Redis-ключи:
//
//	SET  sasiom:session:<name>:state  <JSON>  EX <ttl>  — для GET-запросов оркестратора
//	PUB  sasiom:session:<name>                          — для event-driven маршрутизации
type SubmissionResult struct {
	SessionName  string    `json:"session_name"`
	WorkspaceID  string    `json:"workspace_id"`
	Status       string    `json:"status"` // "success" | "failed"
	SubmittedAt  time.Time `json:"submitted_at"`
	FinishedAt   time.Time `json:"finished_at"`
	DurationMs   int64     `json:"duration_ms"`
	LogBytes     int       `json:"log_bytes"`
	ListingBytes int       `json:"listing_bytes"`
	Error        *string   `json:"error,omitempty"`
}

// RedisPublisher публикует итоги отправок сессии в Redis
type RedisPublisher struct {
	client *redis.Client
	config session.ResultLogConfig
}

// NewRedisPublisher создает новый Redis publisher на основе конфигурации
func NewRedisPublisher(config session.ResultLogConfig) *RedisPublisher {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Address,
		Password: config.Password,
		DB:       config.DB,
	})
	return &RedisPublisher{client: client, config: config}
}

// Publish публикует итог отправки:
//   - SET sasiom:session:<name>:state <JSON> EX <ttl>  → для опроса (polling)
//   - PUBLISH sasiom:session:<name> <JSON>             → для подписки (pub/sub)
//
// Вызывается независимо от итога выполнения. execErr == nil означает
// успешную отправку.
func (p *RedisPublisher) Publish(ctx context.Context, workspaceID string, submittedAt, finishedAt time.Time, result *session.Result, execErr error) error {
	payload := SubmissionResult{
		SessionName: p.config.Name,
		WorkspaceID: workspaceID,
		SubmittedAt: submittedAt,
		FinishedAt:  finishedAt,
		DurationMs:  finishedAt.Sub(submittedAt).Milliseconds(),
	}
	if result != nil {
		payload.LogBytes = len(result.Log)
		payload.ListingBytes = len(result.Listing)
	}

	if execErr != nil {
		payload.Status = "failed"
		errStr := execErr.Error()
		payload.Error = &errStr
	} else {
		payload.Status = "success"
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	stateKey := fmt.Sprintf("sasiom:session:%s:state", p.config.Name)
	eventChannel := fmt.Sprintf("sasiom:session:%s", p.config.Name)
	ttl := time.Duration(p.config.TTL) * time.Second

	// SET ключ с TTL — оркестратор может GET для получения последнего состояния
	if err := p.client.Set(ctx, stateKey, body, ttl).Err(); err != nil {
		return fmt.Errorf("redis SET failed: %w", err)
	}

	// PUBLISH событие — оркестратор может SUBSCRIBE для event-driven маршрутизации
	if err := p.client.Publish(ctx, eventChannel, body).Err(); err != nil {
		return fmt.Errorf("redis PUBLISH failed: %w", err)
	}

	return nil
}

// Close закрывает соединение с Redis
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
