package indexing

import (
	"mediaindex/internal/mediasvc"
)

// jobMachine follows a remote job through its states. Polling can miss
// states, so advance reports every state the job must have passed through to
// reach the observed one, in order.
type jobMachine struct {
	current mediasvc.JobState
}

func newJobMachine() *jobMachine {
	return &jobMachine{current: mediasvc.JobQueued}
}

// progressRank orders the non-terminal states a successful job moves
// through. Canceling sits outside the ordering.
func progressRank(s mediasvc.JobState) int {
	switch s {
	case mediasvc.JobQueued:
		return 0
	case mediasvc.JobScheduled:
		return 1
	case mediasvc.JobProcessing:
		return 2
	default:
		return -1
	}
}

var progression = []mediasvc.JobState{mediasvc.JobQueued, mediasvc.JobScheduled, mediasvc.JobProcessing}

// advance moves the machine to observed and returns the states entered.
// A job seen Finished from an earlier state replays the skipped progress
// states first. Error and Canceled are entered directly. Observations that
// would move the machine backwards, or out of a terminal state, are ignored.
func (m *jobMachine) advance(observed mediasvc.JobState) []mediasvc.JobState {
	if observed == m.current || m.current.Terminal() {
		return nil
	}
	var entered []mediasvc.JobState
	switch observed {
	case mediasvc.JobQueued, mediasvc.JobScheduled, mediasvc.JobProcessing:
		from := progressRank(m.current)
		if from < 0 || progressRank(observed) < from {
			return nil
		}
		entered = append(entered, progression[from+1:progressRank(observed)+1]...)
	case mediasvc.JobFinished:
		if from := progressRank(m.current); from >= 0 {
			entered = append(entered, progression[from+1:]...)
		}
		entered = append(entered, observed)
	case mediasvc.JobCanceling, mediasvc.JobError, mediasvc.JobCanceled:
		entered = append(entered, observed)
	default:
		return nil
	}
	m.current = observed
	return entered
}

func (m *jobMachine) state() mediasvc.JobState { return m.current }
