package emulator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"mediaindex/internal/logging"
	"mediaindex/internal/mediasvc"
)

// Transition is one observed state change of a job.
type Transition struct {
	State mediasvc.JobState
	At    time.Time
}

type job struct {
	mediasvc.Job
	spec      mediasvc.JobSpec
	status    mediasvc.JobStatus
	submitted bool
	cancel    chan struct{}
	canceled  bool
	history   []Transition
}

var errJobCanceled = errors.New("job canceled")

// IndexDocument is the JSON document the emulator writes for every indexed
// input file.
type IndexDocument struct {
	Source        string    `json:"source"`
	Bytes         int       `json:"bytes"`
	SHA256        string    `json:"sha256"`
	Processor     string    `json:"processor"`
	Configuration string    `json:"configuration,omitempty"`
	Words         int       `json:"words"`
	IndexedAt     time.Time `json:"indexed_at"`
}

// CreateJob registers a job and its output assets. The job stays Queued
// until SubmitJob.
func (s *Service) CreateJob(ctx context.Context, spec mediasvc.JobSpec) (mediasvc.Job, error) {
	if err := ctx.Err(); err != nil {
		return mediasvc.Job{}, err
	}
	if len(spec.Tasks) == 0 {
		return mediasvc.Job{}, errors.New("job has no tasks")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("CreateJob", spec.Name)
	for _, task := range spec.Tasks {
		if !s.hasProcessorLocked(task.ProcessorID) {
			return mediasvc.Job{}, fmt.Errorf("task %q processor %s: %w", task.Name, task.ProcessorID, mediasvc.ErrNotFound)
		}
		if len(task.InputAssetIDs) == 0 {
			return mediasvc.Job{}, fmt.Errorf("task %q has no input assets", task.Name)
		}
		for _, id := range task.InputAssetIDs {
			if _, err := s.lookupAsset(id); err != nil {
				return mediasvc.Job{}, fmt.Errorf("task %q: %w", task.Name, err)
			}
		}
	}
	j := &job{
		Job:    mediasvc.Job{ID: "job-" + uuid.NewString(), Name: spec.Name},
		spec:   spec,
		cancel: make(chan struct{}),
	}
	for _, task := range spec.Tasks {
		out, err := s.createAssetLocked(task.OutputAssetName, true)
		if err != nil {
			return mediasvc.Job{}, err
		}
		j.OutputAssetIDs = append(j.OutputAssetIDs, out.ID)
	}
	j.status = mediasvc.JobStatus{State: mediasvc.JobQueued, OutputAssetIDs: append([]string(nil), j.OutputAssetIDs...)}
	j.history = append(j.history, Transition{State: mediasvc.JobQueued, At: time.Now()})
	s.jobs[j.ID] = j
	return j.Job, nil
}

func (s *Service) hasProcessorLocked(id string) bool {
	for _, p := range s.processors {
		if p.ID == id {
			return true
		}
	}
	return false
}

// SubmitJob starts a created job. A job can be submitted once.
func (s *Service) SubmitJob(ctx context.Context, jobID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("SubmitJob", jobID)
	j, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %s: %w", jobID, mediasvc.ErrNotFound)
	}
	if j.submitted {
		return fmt.Errorf("job %s already submitted", jobID)
	}
	j.submitted = true
	s.wg.Add(1)
	go s.run(j)
	return nil
}

// JobStatus returns a snapshot of a job's state, errors and outputs.
func (s *Service) JobStatus(ctx context.Context, jobID string) (mediasvc.JobStatus, error) {
	if err := ctx.Err(); err != nil {
		return mediasvc.JobStatus{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return mediasvc.JobStatus{}, fmt.Errorf("job %s: %w", jobID, mediasvc.ErrNotFound)
	}
	status := j.status
	status.TaskErrors = append([]mediasvc.TaskError(nil), j.status.TaskErrors...)
	status.OutputAssetIDs = append([]string(nil), j.status.OutputAssetIDs...)
	return status, nil
}

// CancelJob requests cancellation of a submitted job. The job passes through
// Canceling and ends Canceled.
func (s *Service) CancelJob(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %s: %w", jobID, mediasvc.ErrNotFound)
	}
	if j.canceled || j.status.State.Terminal() {
		return nil
	}
	j.canceled = true
	close(j.cancel)
	s.setStateLocked(j, mediasvc.JobCanceling)
	return nil
}

// JobHistory returns the state transitions of a job.
func (s *Service) JobHistory(jobID string) []Transition {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return nil
	}
	return append([]Transition(nil), j.history...)
}

// JobIDByName finds a job by its name.
func (s *Service) JobIDByName(name string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, j := range s.jobs {
		if j.Name == name {
			return id, true
		}
	}
	return "", false
}

func (s *Service) setStateLocked(j *job, state mediasvc.JobState) {
	now := time.Now()
	j.status.State = state
	switch state {
	case mediasvc.JobProcessing:
		j.status.StartTime = now
	case mediasvc.JobFinished, mediasvc.JobError, mediasvc.JobCanceled:
		j.status.EndTime = now
	}
	j.history = append(j.history, Transition{State: state, At: now})
}

func (s *Service) setState(j *job, state mediasvc.JobState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setStateLocked(j, state)
}

func (s *Service) run(j *job) {
	defer s.wg.Done()
	logger := s.logger.With(logging.String(logging.FieldJobID, j.ID))

	if err := s.acquireUnit(j); err != nil {
		s.finish(j, mediasvc.JobCanceled, nil)
		return
	}
	defer s.releaseUnit()

	s.setState(j, mediasvc.JobScheduled)
	if err := s.pause(j, s.opts.ScheduleDelay); err != nil {
		s.finish(j, mediasvc.JobCanceled, nil)
		return
	}
	s.setState(j, mediasvc.JobProcessing)
	if err := s.pause(j, s.opts.ProcessingTime); err != nil {
		s.finish(j, mediasvc.JobCanceled, nil)
		return
	}

	s.mu.Lock()
	hook := s.faults.Job
	s.mu.Unlock()
	if hook != nil {
		if detail, fail := hook(j.Name); fail {
			s.finish(j, mediasvc.JobError, &detail)
			return
		}
	}
	if detail := s.process(j); detail != nil {
		logger.Debug("emulated job failed", logging.String("code", detail.Code), logging.String("reason", detail.Message))
		s.finish(j, mediasvc.JobError, detail)
		return
	}
	s.finish(j, mediasvc.JobFinished, nil)
}

func (s *Service) finish(j *job, state mediasvc.JobState, detail *mediasvc.TaskError) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if detail != nil {
		j.status.TaskErrors = append(j.status.TaskErrors, *detail)
	}
	s.setStateLocked(j, state)
}

// acquireUnit blocks until a reserved unit is free. Jobs stay Queued meanwhile.
func (s *Service) acquireUnit(j *job) error {
	for {
		s.mu.Lock()
		if s.busyUnits < s.reserved.Count {
			s.busyUnits++
			s.mu.Unlock()
			return nil
		}
		wait := s.unitFreed
		s.mu.Unlock()
		select {
		case <-wait:
		case <-j.cancel:
			return errJobCanceled
		case <-s.ctx.Done():
			return s.ctx.Err()
		}
	}
}

func (s *Service) releaseUnit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.busyUnits--
	s.signalUnitsLocked()
}

func (s *Service) pause(j *job, d time.Duration) error {
	if d <= 0 {
		select {
		case <-j.cancel:
			return errJobCanceled
		default:
			return nil
		}
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-j.cancel:
		return errJobCanceled
	case <-s.ctx.Done():
		return s.ctx.Err()
	}
}

// process reads every input file and writes an index document plus a plain
// text summary into the task's output asset.
func (s *Service) process(j *job) *mediasvc.TaskError {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ti, task := range j.spec.Tasks {
		processor := ""
		for _, p := range s.processors {
			if p.ID == task.ProcessorID {
				processor = p.Name
			}
		}
		out, err := s.lookupAsset(j.OutputAssetIDs[ti])
		if err != nil {
			return &mediasvc.TaskError{Code: "OutputAssetMissing", Message: err.Error()}
		}
		for _, inputID := range task.InputAssetIDs {
			in, err := s.lookupAsset(inputID)
			if err != nil {
				return &mediasvc.TaskError{Code: "InputAssetMissing", Message: err.Error()}
			}
			for _, f := range in.files {
				plain, err := s.readFileLocked(in, f)
				if err != nil {
					return &mediasvc.TaskError{Code: "ContentKeyMissing", Message: fmt.Sprintf("cannot read %s: %v", f.Name, err)}
				}
				if detail := s.writeOutputsLocked(out, f.Name, plain, processor, task.Configuration); detail != nil {
					return detail
				}
			}
		}
	}
	return nil
}

func (s *Service) writeOutputsLocked(out *asset, name string, plain []byte, processor, configuration string) *mediasvc.TaskError {
	sum := sha256.Sum256(plain)
	doc := IndexDocument{
		Source:        name,
		Bytes:         len(plain),
		SHA256:        hex.EncodeToString(sum[:]),
		Processor:     processor,
		Configuration: configuration,
		Words:         len(strings.Fields(string(plain))),
		IndexedAt:     time.Now().UTC(),
	}
	encoded, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return &mediasvc.TaskError{Code: "ProcessingFailed", Message: err.Error()}
	}
	base := strings.TrimSuffix(name, path.Ext(name))
	if _, err := s.storeFileLocked(out, base+".index.json", encoded); err != nil {
		return &mediasvc.TaskError{Code: "ProcessingFailed", Message: err.Error()}
	}
	summary := fmt.Sprintf("source=%s bytes=%d words=%d\n", name, doc.Bytes, doc.Words)
	if _, err := s.storeFileLocked(out, base+".txt", []byte(summary)); err != nil {
		return &mediasvc.TaskError{Code: "ProcessingFailed", Message: err.Error()}
	}
	return nil
}
