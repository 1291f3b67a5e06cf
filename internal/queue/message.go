package queue

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/riptide-app/riptide/internal/job"
)

// Message is the wire payload delivered to download workers. The job row
// in the database remains the source of truth; the payload carries enough
// of the request to let a worker begin without an extra round-trip.
type Message struct {
	JobID     uuid.UUID           `json:"job_id"`
	URLs      []string            `json:"urls"`
	Artifacts job.ArtifactRequest `json:"artifacts"`
}

func NewMessage(j *job.Job) *Message {
	return &Message{
		JobID:     j.ID,
		URLs:      j.URLs,
		Artifacts: j.Artifacts,
	}
}

func (m *Message) Encode() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode queue message for job %s: %w", m.JobID, err)
	}

	return data, nil
}

func DecodeMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to decode queue message: %w", err)
	}

	if msg.JobID == uuid.Nil {
		return nil, fmt.Errorf("queue message is missing a job ID")
	}

	return &msg, nil
}
