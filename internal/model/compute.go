package model

import (
	"slices"
	"sync"
)

// ParseSetup is the parse plan derived from imported raw frames.
type ParseSetup struct {
	SourceFrames     []Key    `json:"source_frames"`
	ParseType        string   `json:"parse_type"`
	Separator        int      `json:"separator"`
	CheckHeader      int      `json:"check_header"`
	NumberColumns    int      `json:"number_columns"`
	ColumnNames      []string `json:"column_names"`
	ColumnTypes      []string `json:"column_types"`
	DestinationFrame string   `json:"destination_frame"`
	ChunkSize        int      `json:"chunk_size,omitempty"`
}

// ImportResult lists the raw frames created by an import.
type ImportResult struct {
	Files             []string `json:"files"`
	DestinationFrames []string `json:"destination_frames"`
	Fails             []string `json:"fails,omitempty"`
}

// ParseResult carries the remote job of a parse and its output frame.
type ParseResult struct {
	Job              *Job `json:"job"`
	DestinationFrame Key  `json:"destination_frame"`
}

// AutoMLSpec configures a remote AutoML build.
type AutoMLSpec struct {
	ProjectName    string   `json:"project_name"`
	TrainingFrame  string   `json:"training_frame"`
	ResponseColumn string   `json:"response_column"`
	MaxModels      int      `json:"max_models,omitempty"`
	MaxRuntimeSecs int      `json:"max_runtime_secs,omitempty"`
	ExcludeAlgos   []string `json:"exclude_algos,omitempty"`
	Seed           int64    `json:"seed,omitempty"`
}

// LeaderboardID is the destination id of an AutoML build.
func (s AutoMLSpec) LeaderboardID() string {
	return s.ProjectName + "@@" + s.ResponseColumn
}

// AutoMLResult carries the remote job of an AutoML build.
type AutoMLResult struct {
	Job *Job `json:"job"`
}

// Leaderboard ranks the models trained by one AutoML build.
type Leaderboard struct {
	ProjectName string           `json:"project_name"`
	SortMetric  string           `json:"sort_metric,omitempty"`
	Models      []Key            `json:"models"`
	Rows        []map[string]any `json:"rows,omitempty"`
}

// ModelIDs returns the names of the ranked models, blanks skipped.
func (l *Leaderboard) ModelIDs() []string {
	ids := make([]string, 0, len(l.Models))
	for _, k := range l.Models {
		if k.Name != "" {
			ids = append(ids, k.Name)
		}
	}
	return ids
}

// Model is model metadata as reported by the compute service.
type Model struct {
	ModelID        Key              `json:"model_id"`
	Algo           string           `json:"algo"`
	AlgoFullName   string           `json:"algo_full_name,omitempty"`
	ResponseColumn string           `json:"response_column_name,omitempty"`
	TrainingFrame  string           `json:"training_frame,omitempty"`
	Metrics        map[string]Float `json:"metrics,omitempty"`
	Timestamp      int64            `json:"timestamp,omitempty"`
}

// PredictResult names the frame holding predictions.
type PredictResult struct {
	PredictionsFrame Key              `json:"predictions_frame"`
	Metrics          map[string]Float `json:"model_metrics,omitempty"`
}

// Column is one column of a frame with its summary statistics.
type Column struct {
	Label      string   `json:"label"`
	Type       string   `json:"type"`
	MissingCnt int64    `json:"missing_count"`
	Mean       Float    `json:"mean"`
	Sigma      Float    `json:"sigma"`
	Mins       []Float  `json:"mins,omitempty"`
	Maxs       []Float  `json:"maxs,omitempty"`
	Domain     []string `json:"domain,omitempty"`
	Data       []Float  `json:"data,omitempty"`
	StringData []string `json:"string_data,omitempty"`
}

// Frame is a remote frame, optionally with a window of row data.
type Frame struct {
	FrameID    Key      `json:"frame_id"`
	Rows       int64    `json:"rows"`
	NumColumns int      `json:"num_columns"`
	RowOffset  int64    `json:"row_offset"`
	RowCount   int64    `json:"row_count"`
	Columns    []Column `json:"columns"`

	mu    sync.Mutex
	index map[string]int
}

// Refresh rebuilds the label index. Cached frames are refreshed on every hit,
// so concurrent readers may share one frame.
func (f *Frame) Refresh() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rebuild()
}

func (f *Frame) rebuild() {
	idx := make(map[string]int, len(f.Columns))
	for i, c := range f.Columns {
		idx[c.Label] = i
	}
	f.index = idx
}

// Column looks a column up by label.
func (f *Frame) Column(label string) (*Column, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.index == nil {
		f.rebuild()
	}
	i, ok := f.index[label]
	if !ok {
		return nil, false
	}
	return &f.Columns[i], true
}

// Clone copies the frame metadata and columns without the label index.
func (f *Frame) Clone() *Frame {
	return &Frame{
		FrameID:    f.FrameID,
		Rows:       f.Rows,
		NumColumns: f.NumColumns,
		RowOffset:  f.RowOffset,
		RowCount:   f.RowCount,
		Columns:    slices.Clone(f.Columns),
	}
}

// FrameQuery selects a row window of a frame.
type FrameQuery struct {
	FrameID   string `json:"frame_id"`
	RowOffset int64  `json:"row_offset"`
	RowCount  int64  `json:"row_count"`
	Column    string `json:"column,omitempty"`
}
