package stage

import (
	"context"

	"mediaindex/internal/jobrecord"
)

// Handler describes the contract the pipeline needs from each stage.
type Handler interface {
	Name() string
	Execute(context.Context, *jobrecord.Record) error
	HealthCheck(context.Context) Health
}

// Preparer is implemented by handlers that must complete a one-time setup
// before their pool accepts work.
type Preparer interface {
	Prepare(context.Context) error
}

// Health is a stage's answer to HealthCheck. Detail explains a stage that is
// not ready and is shown verbatim by `mediaindex status`.
type Health struct {
	Name   string
	Ready  bool
	Detail string
}

func Healthy(name string) Health { return Health{Name: name, Ready: true} }

func Unhealthy(name, detail string) Health { return Health{Name: name, Detail: detail} }
