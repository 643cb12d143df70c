package store

import (
	"path"
	"strings"

	"github.com/automlhub/api/internal/model"
)

// Paths maps project entities to object keys. Every key lives under
// <folder>/<projectId>/.
type Paths struct {
	Folder string
	Bucket string
}

// ProjectsPrefix is the prefix every project lives under.
func (p Paths) ProjectsPrefix() string {
	return strings.TrimSuffix(p.Folder, "/") + "/"
}

// ProjectPrefix is the prefix of one project.
func (p Paths) ProjectPrefix(projectID string) string {
	return p.ProjectsPrefix() + projectID + "/"
}

// ProjectFile is the project record.
func (p Paths) ProjectFile(projectID string) string {
	return p.ProjectPrefix(projectID) + "project.json"
}

// JobsFile is the job ledger.
func (p Paths) JobsFile(projectID string) string {
	return p.ProjectPrefix(projectID) + "jobs.json"
}

// ConfigPrefix holds dataset records.
func (p Paths) ConfigPrefix(projectID string) string {
	return p.ProjectPrefix(projectID) + "config/"
}

// DataSetFile is a dataset record.
func (p Paths) DataSetFile(projectID, dataSetID string) string {
	return p.ConfigPrefix(projectID) + dataSetID + "_dataset.json"
}

// DataFile is an uploaded raw file.
func (p Paths) DataFile(projectID, fileName string) string {
	return p.ProjectPrefix(projectID) + "data/" + CleanFileName(fileName)
}

// ModelPrefix holds snapshots and artifacts of one leaderboard.
func (p Paths) ModelPrefix(projectID, leaderboardID string) string {
	return p.ProjectPrefix(projectID) + "model/" + model.EncodeID(leaderboardID) + "/"
}

// ModelSnapshotFile is the JSON metadata snapshot of an exported model.
func (p Paths) ModelSnapshotFile(projectID, leaderboardID, modelID string) string {
	return p.ModelPrefix(projectID, leaderboardID) + modelID + ".json"
}

// ModelArtifactFile is where the compute service writes a serialized model.
func (p Paths) ModelArtifactFile(projectID, leaderboardID, modelID string) string {
	return p.ModelPrefix(projectID, leaderboardID) + modelID
}

// PredictFile is an exported prediction CSV. It lives with the uploaded data
// so the PREDICT dataset reads like any other.
func (p Paths) PredictFile(projectID, name string) string {
	return p.DataFile(projectID, name+".csv")
}

// URI is the form of key the compute service reads and writes.
func (p Paths) URI(key string) string {
	return "s3://" + p.Bucket + "/" + key
}

// FrameName is the frame a dataset is parsed into.
func FrameName(projectID, dataSetID string) string {
	return projectID + "_" + dataSetID + ".hex"
}

// CleanFileName drops any directory part, so names cannot escape their prefix.
func CleanFileName(name string) string {
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	if base == "." || base == ".." || base == "/" {
		return ""
	}
	return base
}
