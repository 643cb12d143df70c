package model

// JobStatus is the lifecycle state of a job.
type JobStatus string

const (
	JobStatusRunning   JobStatus = "RUNNING"
	JobStatusDone      JobStatus = "DONE"
	JobStatusFailed    JobStatus = "FAILED"
	JobStatusCancelled JobStatus = "CANCELLED"
)

// Terminal reports whether no further transition is allowed.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusDone, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// JobKind classifies a job by its description.
type JobKind string

const (
	JobKindAutoML  JobKind = "AUTO_ML"
	JobKindFrame   JobKind = "FRAME"
	JobKindGrid    JobKind = "GRID"
	JobKindModel   JobKind = "MODEL"
	JobKindUnknown JobKind = "UNKNOWN"
)

// DataSetType tells training data apart from scoring data.
type DataSetType string

const (
	DataSetTypeTrain   DataSetType = "TRAIN"
	DataSetTypeTest    DataSetType = "TEST"
	DataSetTypePredict DataSetType = "PREDICT"
)

// Job descriptions issued by workflows. Kind classification matches on these.
const (
	DescParseSchema     = "Parse Schema"
	DescParseFrame      = "Parse Frame"
	DescAutoMLStarting  = "AutoML starting"
	DescExportPredict   = "Export Prediction"
	DescExportModel     = "Export Model"
	DescExportAllModels = "Export All Models"
)

// Column types accepted by the compute service.
const (
	ColumnTypeCharacter = "character"
	ColumnTypeFactor    = "factor"
	ColumnTypeNumeric   = "numeric"
)
