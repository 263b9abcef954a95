package mediasvc

import (
	"fmt"
	"strings"
	"time"
)

// AssetOptions selects how an asset stores its content.
type AssetOptions struct {
	StorageEncrypted bool
}

// Asset is a remote container of files.
type Asset struct {
	ID      string
	Name    string
	Created time.Time
}

// AssetFile is one file inside an asset.
type AssetFile struct {
	ID   string
	Name string
	Size int64
}

// KeyType identifies the purpose of a content key.
type KeyType int

const (
	KeyTypeCommonEncryption KeyType = iota
	KeyTypeStorageEncryption
	KeyTypeConfigurationEncryption
	KeyTypeEnvelopeEncryption
)

func (t KeyType) String() string {
	switch t {
	case KeyTypeCommonEncryption:
		return "common"
	case KeyTypeStorageEncryption:
		return "storage"
	case KeyTypeConfigurationEncryption:
		return "configuration"
	case KeyTypeEnvelopeEncryption:
		return "envelope"
	default:
		return fmt.Sprintf("KeyType(%d)", int(t))
	}
}

// ContentKey describes a key without its value.
type ContentKey struct {
	ID   string
	Name string
	Type KeyType
}

// KeySpec is the input to CreateKey. GUID is the bare identifier, without
// the key id prefix.
type KeySpec struct {
	GUID  string
	Name  string
	Type  KeyType
	Value []byte
}

// Processor is a remote media processor.
type Processor struct {
	ID      string
	Name    string
	Version string
}

// TaskSpec describes one task in a job.
type TaskSpec struct {
	Name            string
	ProcessorID     string
	Configuration   string
	InputAssetIDs   []string
	OutputAssetName string
}

// JobSpec describes a job to create.
type JobSpec struct {
	Name  string
	Tasks []TaskSpec
}

// Job is a created job. OutputAssetIDs holds the assets created for the
// job's task outputs, in task order.
type Job struct {
	ID             string
	Name           string
	OutputAssetIDs []string
}

// JobState mirrors the remote job lifecycle.
type JobState int

const (
	JobQueued JobState = iota
	JobScheduled
	JobProcessing
	JobFinished
	JobError
	JobCanceled
	JobCanceling
)

var jobStateNames = map[JobState]string{
	JobQueued:     "queued",
	JobScheduled:  "scheduled",
	JobProcessing: "processing",
	JobFinished:   "finished",
	JobError:      "error",
	JobCanceled:   "canceled",
	JobCanceling:  "canceling",
}

func (s JobState) String() string {
	if name, ok := jobStateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("JobState(%d)", int(s))
}

// Terminal reports whether no further processing occurs after s.
func (s JobState) Terminal() bool {
	return s == JobFinished || s == JobError || s == JobCanceled
}

// ParseJobState maps a state name back to its value.
func ParseJobState(name string) (JobState, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for state, candidate := range jobStateNames {
		if candidate == name {
			return state, true
		}
	}
	return 0, false
}

// TaskError is one error detail reported by a task.
type TaskError struct {
	Code    string
	Message string
}

// JobStatus is a snapshot of a job.
type JobStatus struct {
	State          JobState
	StartTime      time.Time
	EndTime        time.Time
	TaskErrors     []TaskError
	OutputAssetIDs []string
}

// FirstError returns the first reported task error, if any.
func (s JobStatus) FirstError() (TaskError, bool) {
	if len(s.TaskErrors) == 0 {
		return TaskError{}, false
	}
	return s.TaskErrors[0], true
}

// ReservedUnitType is the processing speed tier of reserved capacity.
type ReservedUnitType string

const (
	ReservedUnitS1 ReservedUnitType = "S1"
	ReservedUnitS2 ReservedUnitType = "S2"
	ReservedUnitS3 ReservedUnitType = "S3"
)

// ReservedUnits is the account-wide processing capacity setting.
type ReservedUnits struct {
	Count int
	Type  ReservedUnitType
}
