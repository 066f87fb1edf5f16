package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/noah-isme/toko-fulfillment/internal/fulfillment"
)

// TaskKind is the queue kind carrying "run stage X" tasks.
const TaskKind = "fulfillment-stage"

type stagePayload struct {
	Stage fulfillment.Stage `json:"stage"`
}

// EncodeStage builds the task payload for stage.
func EncodeStage(stage fulfillment.Stage) ([]byte, error) {
	return json.Marshal(stagePayload{Stage: stage})
}

// DecodeStage parses a task payload produced by EncodeStage.
func DecodeStage(payload []byte) (fulfillment.Stage, error) {
	var p stagePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return "", fmt.Errorf("decode stage payload: %w", err)
	}
	return fulfillment.ParseStage(string(p.Stage))
}

// IdempotencyKey buckets at by interval so every scheduler tick within the
// same window maps to the same key, e.g. "ready:1714557600".
func IdempotencyKey(stage fulfillment.Stage, at time.Time, interval time.Duration) string {
	if interval <= 0 {
		interval = time.Minute
	}
	return fmt.Sprintf("%s:%d", stage, at.Truncate(interval).Unix())
}

// LockKey is the Redis lock guarding runs of stage.
func LockKey(stage fulfillment.Stage) string {
	return "fulfillment:lock:" + string(stage)
}
