package indexing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"mediaindex/internal/config"
	"mediaindex/internal/jobrecord"
	"mediaindex/internal/logging"
	"mediaindex/internal/mediasvc"
	"mediaindex/internal/services"
	"mediaindex/internal/stage"
)

// StageName labels the indexing stage in logs and status output.
const StageName = "indexing"

// Remote object name prefixes.
const (
	JobNamePrefix         = "Indexing Job:"
	TaskNamePrefix        = "Indexing Task:"
	OutputAssetNamePrefix = "Indexing Output Asset:"
)

// DefaultTaskConfiguration is sent with every task when no configuration
// file is set.
const DefaultTaskConfiguration = `{"version":"1.0","Features":[{"Options":{"Formats":["WebVtt","TTML"],"Language":"EnUs","Type":"RecoOptions"},"Type":"SpReco"}]}`

// maxPollFailures is how many consecutive JobStatus errors are tolerated
// before the job is abandoned.
const maxPollFailures = 3

var errNotPrepared = errors.New("reserved units have not been declared")

// Indexer is the indexing stage handler.
type Indexer struct {
	svc          mediasvc.Service
	logger       *slog.Logger
	units        mediasvc.ReservedUnits
	processor    string
	configFile   string
	pollInterval time.Duration
	restoreOn    mediasvc.JobState

	prepared atomic.Bool

	mu           sync.Mutex
	resolved     *mediasvc.Processor
	taskConfig   string
	taskConfigOK bool
}

// NewIndexer constructs the indexing stage.
func NewIndexer(cfg *config.Config, svc mediasvc.Service, logger *slog.Logger) *Indexer {
	idx := &Indexer{
		svc:          svc,
		logger:       logging.NewComponentLogger(logger, StageName),
		pollInterval: cfg.IndexingPollInterval(),
		processor:    cfg.Indexing.Processor,
		configFile:   cfg.Indexing.TaskConfigFile,
		units: mediasvc.ReservedUnits{
			Count: cfg.Indexing.ReservedUnits,
			Type:  mediasvc.ReservedUnitType(cfg.Indexing.ReservedUnitType),
		},
		restoreOn: mediasvc.JobProcessing,
	}
	if cfg.Indexing.RestoreKeyOn == config.RestoreOnScheduled {
		idx.restoreOn = mediasvc.JobScheduled
	}
	return idx
}

// Name implements stage.Handler.
func (x *Indexer) Name() string { return StageName }

// Prepare declares the reserved-unit quota on the remote service and reads
// it back. Jobs are only submitted after Prepare succeeds.
func (x *Indexer) Prepare(ctx context.Context) error {
	if err := x.svc.SetReservedUnits(ctx, x.units); err != nil {
		return services.Wrap(services.ErrRemote, StageName, "set reserved units", fmt.Sprintf("%d %s", x.units.Count, x.units.Type), err)
	}
	current, err := x.svc.ReservedUnits(ctx)
	if err != nil {
		return services.Wrap(services.ErrRemote, StageName, "read reserved units", "", err)
	}
	if current.Count != x.units.Count || current.Type != x.units.Type {
		logging.WarnWithContext(x.logger, "reserved units differ from request", "reserved_units_mismatch",
			logging.Int("requested", x.units.Count),
			logging.Int("current", current.Count),
			logging.String("unit_type", string(current.Type)),
			logging.String(logging.FieldErrorHint, "check the account's reserved unit limits"),
			logging.String(logging.FieldImpact, "fewer jobs run concurrently than configured"),
		)
	}
	x.prepared.Store(true)
	x.logger.Info("reserved units declared",
		logging.String(logging.FieldEventType, "reserved_units_set"),
		logging.Int("count", current.Count),
		logging.String("unit_type", string(current.Type)),
	)
	return nil
}

// Execute runs one remote indexing job for rec and returns once the job is
// terminal. Only a Finished job returns nil; its record then holds the
// output asset. The input asset is gone in every case.
func (x *Indexer) Execute(ctx context.Context, rec *jobrecord.Record) error {
	if !x.prepared.Load() {
		return services.Wrap(services.ErrConfiguration, StageName, "submit job", "", errNotPrepared)
	}
	input, ok := rec.InputAsset()
	if !ok {
		return services.Wrap(services.ErrValidation, StageName, "submit job", "record has no input asset", nil)
	}
	if !rec.HasKey() {
		return services.Wrap(services.ErrValidation, StageName, "submit job", "record holds no content key", nil)
	}
	logger := logging.WithContext(ctx, x.logger).With(
		logging.String(logging.FieldFile, rec.FileName()),
		logging.String(logging.FieldAssetID, input.ID),
	)

	job, err := x.submit(ctx, rec, input)
	if err != nil {
		return err
	}
	logger = logger.With(logging.String(logging.FieldJobID, job.ID))
	logger.Info("indexing job submitted",
		logging.String(logging.FieldEventType, "job_submitted"),
		logging.String("job_name", job.Name),
	)
	return x.monitor(ctx, rec, input, job, logger)
}

func (x *Indexer) submit(ctx context.Context, rec *jobrecord.Record, input jobrecord.AssetRef) (mediasvc.Job, error) {
	processor, err := x.resolveProcessor(ctx)
	if err != nil {
		return mediasvc.Job{}, services.Wrap(services.ErrRemote, StageName, "resolve processor", x.processor, err)
	}
	taskConfig, err := x.taskConfiguration()
	if err != nil {
		return mediasvc.Job{}, services.Wrap(services.ErrConfiguration, StageName, "load task configuration", x.configFile, err)
	}
	name := rec.FileName()
	job, err := x.svc.CreateJob(ctx, mediasvc.JobSpec{
		Name: JobNamePrefix + name,
		Tasks: []mediasvc.TaskSpec{{
			Name:            TaskNamePrefix + name,
			ProcessorID:     processor.ID,
			Configuration:   taskConfig,
			InputAssetIDs:   []string{input.ID},
			OutputAssetName: OutputAssetNamePrefix + name,
		}},
	})
	if err != nil {
		return mediasvc.Job{}, services.Wrap(services.ErrRemote, StageName, "create job", name, err)
	}
	if len(job.OutputAssetIDs) > 0 {
		rec.SetOutputAsset(jobrecord.AssetRef{ID: job.OutputAssetIDs[0], Name: OutputAssetNamePrefix + name})
	}
	if err := x.svc.SubmitJob(ctx, job.ID); err != nil {
		return mediasvc.Job{}, services.Wrap(services.ErrRemote, StageName, "submit job", name, err)
	}
	return job, nil
}

func (x *Indexer) monitor(ctx context.Context, rec *jobrecord.Record, input jobrecord.AssetRef, job mediasvc.Job, logger *slog.Logger) error {
	machine := newJobMachine()
	ticker := time.NewTicker(x.pollInterval)
	defer ticker.Stop()

	failures := 0
	for {
		status, err := x.svc.JobStatus(ctx, job.ID)
		switch {
		case err != nil:
			failures++
			if failures >= maxPollFailures {
				return services.Wrap(services.ErrRemote, StageName, "poll job", job.Name, err)
			}
			logging.WarnWithContext(logger, "job status unavailable", "job_poll_failed",
				logging.Error(err),
				logging.Int("attempt", failures),
				logging.String(logging.FieldErrorHint, "transient media service error; polling continues"),
				logging.String(logging.FieldImpact, "state changes are observed late"),
			)
		default:
			failures = 0
			for _, state := range machine.advance(status.State) {
				logger.Debug("job state changed",
					logging.String(logging.FieldEventType, "job_state"),
					logging.String("state", state.String()),
				)
				if state == x.restoreOn {
					if err := x.restoreKey(ctx, rec, input); err != nil {
						return services.Wrap(services.ErrRemote, StageName, "restore key", job.Name, err)
					}
					logger.Info("content key restored", logging.String(logging.FieldEventType, "key_restored"))
				}
				if state.Terminal() {
					return x.finish(ctx, rec, job, status, logger)
				}
			}
		}

		select {
		case <-ctx.Done():
			return services.Wrap(services.ErrTimeout, StageName, "poll job", job.Name+" abandoned in state "+machine.state().String(), ctx.Err())
		case <-ticker.C:
		}
	}
}

// restoreKey recreates the captured key under its original id and attaches
// it to the input asset. The record's copy is cleared afterwards.
func (x *Indexer) restoreKey(ctx context.Context, rec *jobrecord.Record, input jobrecord.AssetRef) error {
	key, ok := rec.Key()
	if !ok {
		return errors.New("no key material held")
	}
	guid, err := mediasvc.GUIDFromKeyID(key.ID)
	if err != nil {
		return err
	}
	created, err := x.svc.CreateKey(ctx, mediasvc.KeySpec{GUID: guid, Name: key.Name, Type: key.Type, Value: key.Value})
	if err != nil {
		return fmt.Errorf("create key: %w", err)
	}
	if err := x.svc.AddAssetKey(ctx, input.ID, created.ID); err != nil {
		return fmt.Errorf("attach key: %w", err)
	}
	rec.Stamp(jobrecord.KeyRestored)
	rec.ClearKey()
	return nil
}

// finish handles a terminal job: the input asset is deleted first whatever
// the outcome.
func (x *Indexer) finish(ctx context.Context, rec *jobrecord.Record, job mediasvc.Job, status mediasvc.JobStatus, logger *slog.Logger) error {
	rec.ClearKey()
	if input, ok := rec.TakeInputAsset(); ok {
		if err := stage.DeleteAsset(ctx, x.svc, input.ID); err != nil {
			return services.Wrap(services.ErrRemote, StageName, "delete input asset", input.ID, err)
		}
		rec.Stamp(jobrecord.InputDeleted)
		logger.Debug("input asset deleted", logging.String(logging.FieldEventType, "input_deleted"))
	}

	switch status.State {
	case mediasvc.JobFinished:
		if ids := status.OutputAssetIDs; len(ids) > 0 {
			if current, ok := rec.OutputAsset(); !ok || current.ID != ids[0] {
				rec.SetOutputAsset(jobrecord.AssetRef{ID: ids[0], Name: OutputAssetNamePrefix + rec.FileName()})
			}
		}
		if _, ok := rec.OutputAsset(); !ok {
			return services.Wrap(services.ErrRemote, StageName, "capture output", job.Name+" finished without an output asset", nil)
		}
		rec.Stamp(jobrecord.OutputCreated)
		logger.Info("indexing job finished",
			logging.String(logging.FieldEventType, "job_finished"),
			logging.Duration("remote_duration", status.EndTime.Sub(status.StartTime)),
		)
		return nil
	case mediasvc.JobError:
		detail, _ := status.FirstError()
		x.discardOutput(ctx, rec, logger)
		return services.Wrap(services.ErrJobFailed, StageName, "run job", job.Name, taskError(detail))
	default:
		x.discardOutput(ctx, rec, logger)
		return services.Wrap(services.ErrJobCanceled, StageName, "run job", job.Name, nil)
	}
}

func taskError(detail mediasvc.TaskError) error {
	if detail.Code == "" && detail.Message == "" {
		return errors.New("no error detail reported")
	}
	return fmt.Errorf("%s: %s", detail.Code, detail.Message)
}

func (x *Indexer) discardOutput(ctx context.Context, rec *jobrecord.Record, logger *slog.Logger) {
	out, ok := rec.TakeOutputAsset()
	if !ok {
		return
	}
	if err := stage.DeleteAsset(ctx, x.svc, out.ID); err != nil {
		logging.WarnWithContext(logger, "output asset cleanup failed", "asset_cleanup_failed",
			logging.String("output_asset_id", out.ID),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "delete the asset manually on the media service"),
			logging.String(logging.FieldImpact, "remote storage remains allocated"),
		)
	}
}

func (x *Indexer) resolveProcessor(ctx context.Context) (mediasvc.Processor, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.resolved != nil {
		return *x.resolved, nil
	}
	p, err := x.svc.ProcessorByName(ctx, x.processor)
	if err != nil {
		return mediasvc.Processor{}, err
	}
	x.resolved = &p
	x.logger.Info("media processor resolved",
		logging.String("processor", p.Name),
		logging.String("processor_version", p.Version),
	)
	return p, nil
}

func (x *Indexer) taskConfiguration() (string, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.taskConfigOK {
		return x.taskConfig, nil
	}
	blob := DefaultTaskConfiguration
	if strings.TrimSpace(x.configFile) != "" {
		data, err := os.ReadFile(x.configFile)
		if err != nil {
			return "", err
		}
		if !json.Valid(data) {
			return "", errors.New("task configuration is not valid JSON")
		}
		blob = string(data)
	}
	x.taskConfig, x.taskConfigOK = blob, true
	return blob, nil
}

// HealthCheck implements stage.Handler.
func (x *Indexer) HealthCheck(context.Context) stage.Health {
	if x.svc == nil {
		return stage.Unhealthy(StageName, "media service unavailable")
	}
	if !x.prepared.Load() {
		return stage.Unhealthy(StageName, errNotPrepared.Error())
	}
	return stage.Healthy(StageName)
}
