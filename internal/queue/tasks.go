package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dunamismax/pixelforge/internal/transform"
	"github.com/hibiken/asynq"
)

const TypeWarmDerivative = "derivative:warm"

// WarmDerivativePayload asks a worker to produce a derivative ahead of the
// first request for it.
type WarmDerivativePayload struct {
	ImageID     string            `json:"image_id,omitempty"`
	SourceURL   string            `json:"source_url"`
	Fingerprint string            `json:"fingerprint"`
	Spec        transform.Request `json:"spec"`
	WebhookURL  string            `json:"webhook_url,omitempty"`
	RequestedAt time.Time         `json:"requested_at"`
}

func NewWarmDerivativeTask(payload WarmDerivativePayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal warm payload: %w", err)
	}
	return asynq.NewTask(TypeWarmDerivative, body), nil
}

func ParseWarmDerivativePayload(task *asynq.Task) (WarmDerivativePayload, error) {
	var payload WarmDerivativePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return WarmDerivativePayload{}, fmt.Errorf("unmarshal warm payload: %w", err)
	}
	return payload, nil
}
