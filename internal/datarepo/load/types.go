package load

import (
	"github.com/google/uuid"

	"github.com/dinvlad/jade-data-repo/internal/datarepo/filesystem"
)

// State is the lifecycle position of one file of a load.
type State string

const (
	NotTried  State = "not_tried"
	Running   State = "running"
	Succeeded State = "succeeded"
	Failed    State = "failed"
)

func (s State) IsTerminal() bool {
	return s == Succeeded || s == Failed
}

// FileModel is one file of a bulk load request.
type FileModel struct {
	SourcePath  string `json:"sourcePath"`
	TargetPath  string `json:"targetPath"`
	MimeType    string `json:"mimeType,omitempty"`
	Description string `json:"description,omitempty"`
}

// LoadFile is the ledger row of one file of a load. Rows are kept after they reach a terminal state.
type LoadFile struct {
	LoadId      uuid.UUID            `json:"loadId"`
	SourcePath  string               `json:"sourcePath"`
	TargetPath  string               `json:"targetPath"`
	MimeType    string               `json:"mimeType,omitempty"`
	Description string               `json:"description,omitempty"`
	State       State                `json:"state"`
	FlightId    string               `json:"flightId,omitempty"`
	FileId      string               `json:"fileId,omitempty"`
	Checksums   filesystem.Checksums `json:"checksums,omitempty"`
	Size        int64                `json:"size,omitempty"`
	Error       string               `json:"error,omitempty"`
}

// Load is the lock record of a load tag. Loads with the same tag share one id and therefore one set of rows.
type Load struct {
	Id              uuid.UUID
	LoadTag         string
	Locked          bool
	LockingFlightId string
}

// Candidates is the driver's view of a load in one iteration.
type Candidates struct {
	RunningLoads   []*LoadFile
	CandidateFiles []*LoadFile
	FailedLoads    int
}

type Summary struct {
	LoadId         uuid.UUID `json:"loadId"`
	LoadTag        string    `json:"loadTag,omitempty"`
	TotalFiles     int       `json:"totalFiles"`
	SucceededFiles int       `json:"succeededFiles"`
	FailedFiles    int       `json:"failedFiles"`
	NotTriedFiles  int       `json:"notTriedFiles"`
	RunningFiles   int       `json:"runningFiles"`
}

func (s *Summary) add(state State, count int) {
	s.TotalFiles += count
	switch state {
	case NotTried:
		s.NotTriedFiles += count
	case Running:
		s.RunningFiles += count
	case Succeeded:
		s.SucceededFiles += count
	case Failed:
		s.FailedFiles += count
	}
}

// Summarize counts files by state.
func Summarize(loadId uuid.UUID, files []*LoadFile) *Summary {
	summary := &Summary{LoadId: loadId}
	for _, file := range files {
		summary.add(file.State, 1)
	}
	return summary
}
