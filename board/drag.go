package board

import (
	"encoding/json"
	"fmt"

	"github.com/GoCodeAlone/opsboard/task"
)

// DragPayload is the wire form carried on the platform's drag-data channel
// between the drag source and the drop target.
type DragPayload struct {
	TaskID       string      `json:"taskId"`
	SourceStatus task.Status `json:"sourceStatus"`
}

// EncodeDragPayload serializes a payload for the drag-data channel.
func EncodeDragPayload(p DragPayload) ([]byte, error) {
	return json.Marshal(p)
}

// ParseDragPayload decodes a drag payload. Malformed input — unparseable
// bytes or a missing task identifier — returns an error; drop handlers log
// it and treat the drop as a no-op rather than failing.
func ParseDragPayload(data []byte) (DragPayload, error) {
	var p DragPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return DragPayload{}, fmt.Errorf("parse drag payload: %w", err)
	}
	if p.TaskID == "" {
		return DragPayload{}, fmt.Errorf("parse drag payload: missing task id")
	}
	return p, nil
}
