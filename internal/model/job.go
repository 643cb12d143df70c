package model

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/automlhub/api/internal/apperrors"
)

// Key types used by the compute service.
const (
	KeyTypeJob         = "Key<Job>"
	KeyTypeFrame       = "Key<Frame>"
	KeyTypeModel       = "Key<Model>"
	KeyTypeLeaderboard = "Key<Leaderboard>"
)

// Key identifies an object on the compute service.
type Key struct {
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
	URL  string `json:"URL,omitempty"`
}

// String returns the namespaced form, e.g. "Key<Job>/<uuid>".
func (k Key) String() string {
	if k.Type == "" {
		return k.Name
	}
	return k.Type + "/" + k.Name
}

// Job is the persisted status record of one asynchronous workflow.
type Job struct {
	Key          Key       `json:"key"`
	Description  string    `json:"description"`
	Status       JobStatus `json:"status"`
	Progress     Float     `json:"progress"`
	ProgressMsg  string    `json:"progress_msg,omitempty"`
	StartTime    int64     `json:"start_time"`
	Msec         int64     `json:"msec"`
	Dest         *Key      `json:"dest,omitempty"`
	Warnings     []string  `json:"warnings,omitempty"`
	Exception    string    `json:"exception,omitempty"`
	Stacktrace   string    `json:"stacktrace,omitempty"`
	ReadyForView bool      `json:"ready_for_view"`
}

// NewJob creates a RUNNING placeholder job started at now.
func NewJob(description string, progress float64, dest *Key, now time.Time) *Job {
	return &Job{
		Key:          Key{Name: uuid.New().String(), Type: KeyTypeJob},
		Description:  description,
		Status:       JobStatusRunning,
		Progress:     Float(progress),
		StartTime:    now.UnixMilli(),
		Dest:         dest,
		ReadyForView: true,
	}
}

// ID returns the ledger identity of the job.
func (j *Job) ID() string {
	return j.Key.Name
}

// Kind classifies the job. Precedence is fixed: an "AutoML build" that also
// mentions "Parse" is still AUTO_ML.
func (j *Job) Kind() JobKind {
	return KindOf(j.Description)
}

// KindOf classifies a job description.
func KindOf(description string) JobKind {
	switch {
	case strings.TrimSpace(description) == "":
		return JobKindUnknown
	case strings.Contains(description, "AutoML build"):
		return JobKindAutoML
	case strings.Contains(description, "Parse"):
		return JobKindFrame
	case strings.Contains(description, "Grid Search"):
		return JobKindGrid
	default:
		return JobKindModel
	}
}

// Advance raises progress while running. Progress never goes backwards.
func (j *Job) Advance(progress float64, msg string) {
	if j.Status.Terminal() {
		return
	}
	if Float(progress) > j.Progress {
		j.Progress = Float(progress)
	}
	if msg != "" {
		j.ProgressMsg = msg
	}
}

// Finalize moves a running job to DONE, or to FAILED when err is non-nil.
func (j *Job) Finalize(now time.Time, err error) {
	if j.Status.Terminal() {
		return
	}
	j.Progress = 1.0
	j.Msec = now.UnixMilli() - j.StartTime
	if err == nil {
		j.Status = JobStatusDone
		return
	}
	j.Status = JobStatusFailed
	j.Exception = err.Error()
	j.Stacktrace = apperrors.StackTrace(err)
}

// Cancel moves a running job to CANCELLED.
func (j *Job) Cancel(now time.Time) {
	if j.Status.Terminal() {
		return
	}
	j.Status = JobStatusCancelled
	j.Progress = 1.0
	j.Msec = now.UnixMilli() - j.StartTime
}

// Clone returns a deep copy.
func (j *Job) Clone() *Job {
	c := *j
	if j.Dest != nil {
		d := *j.Dest
		c.Dest = &d
	}
	if j.Warnings != nil {
		c.Warnings = append([]string(nil), j.Warnings...)
	}
	return &c
}

// Equal reports whether two records carry the same persisted state.
func (j *Job) Equal(o *Job) bool {
	if j.Key != o.Key || j.Description != o.Description || j.Status != o.Status ||
		j.Progress != o.Progress || j.ProgressMsg != o.ProgressMsg ||
		j.StartTime != o.StartTime || j.Msec != o.Msec ||
		j.Exception != o.Exception || j.Stacktrace != o.Stacktrace ||
		j.ReadyForView != o.ReadyForView {
		return false
	}
	if (j.Dest == nil) != (o.Dest == nil) || (j.Dest != nil && *j.Dest != *o.Dest) {
		return false
	}
	if len(j.Warnings) != len(o.Warnings) {
		return false
	}
	for i := range j.Warnings {
		if j.Warnings[i] != o.Warnings[i] {
			return false
		}
	}
	return true
}
