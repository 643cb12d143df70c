package model

import (
	"encoding/base64"
	"strings"
	"time"
)

// Project groups datasets, jobs and models under one storage prefix.
type Project struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// DataSet is a file uploaded to a project plus its parsed schema.
type DataSet struct {
	ID        string      `json:"id"`
	Name      string      `json:"name"`
	Type      DataSetType `json:"type"`
	Path      string      `json:"path"`
	Schema    *ParseSetup `json:"schema,omitempty"`
	CreatedAt time.Time   `json:"createdAt"`
}

// NewDataSet derives id and type from the uploaded file name.
func NewDataSet(fileName string, now time.Time) *DataSet {
	ds := &DataSet{
		ID:        EncodeID(fileName),
		Name:      fileName,
		Type:      DataSetTypeTrain,
		CreatedAt: now,
	}
	if strings.Contains(fileName, "test") {
		ds.Type = DataSetTypeTest
	}
	return ds
}

// EncodeID turns an arbitrary name into a path-safe identifier.
func EncodeID(name string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(name))
}

// DecodeID reverses EncodeID.
func DecodeID(id string) (string, error) {
	b, err := base64.RawURLEncoding.DecodeString(id)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// CreateProjectRequest is the body of POST /api/projects.
type CreateProjectRequest struct {
	Name        string `json:"name" validate:"required,max=128"`
	Description string `json:"description" validate:"max=1024"`
}

// RunAutoMLRequest is the body of POST /api/projects/:projectId/automl.
type RunAutoMLRequest struct {
	DataSetID      string   `json:"dataSetId" validate:"required"`
	ResponseColumn string   `json:"responseColumn" validate:"required"`
	MaxModels      int      `json:"maxModels" validate:"min=0,max=1000"`
	MaxRuntimeSecs int      `json:"maxRuntimeSecs" validate:"min=0"`
	ExcludeAlgos   []string `json:"excludeAlgos,omitempty"`
	Seed           int64    `json:"seed"`
}

// PredictRequest is the body of POST /api/projects/:projectId/predict.
type PredictRequest struct {
	FrameID string `json:"frameId" validate:"required"`
	ModelID string `json:"modelId" validate:"required"`
	Name    string `json:"name" validate:"required,max=256"`
}

// FilterColumnsRequest maps each kept column to its name in the rewritten file.
type FilterColumnsRequest struct {
	Columns map[string]string `json:"columns" validate:"required,min=1"`
}

// ChangeColumnTypeRequest is the body of POST .../columns/:index/type.
type ChangeColumnTypeRequest struct {
	Type string `json:"type" validate:"required"`
	From int64  `json:"from" validate:"min=0"`
	To   int64  `json:"to" validate:"min=0"`
}

// JobAccepted is returned when a workflow has been dispatched.
type JobAccepted struct {
	Job *Job `json:"job"`
}
