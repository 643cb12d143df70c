package model

// WebSocket message types
const (
	WSMessageTypeJob     = "job"
	WSMessageTypeDeleted = "job_deleted"
	WSMessageTypePing    = "ping"
	WSMessageTypePong    = "pong"
)

// WSMessage represents a generic WebSocket message
type WSMessage struct {
	Type string `json:"type"`
}

// WSJobMessage carries the latest state of a job in a project's ledger
type WSJobMessage struct {
	Type      string `json:"type"`
	ProjectID string `json:"projectId"`
	Job       *Job   `json:"job"`
}

// WSJobDeletedMessage announces removal of a job from the ledger
type WSJobDeletedMessage struct {
	Type      string `json:"type"`
	ProjectID string `json:"projectId"`
	JobID     string `json:"jobId"`
}
