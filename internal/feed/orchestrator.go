package feed

import (
	"context"
	"time"
)

// Orchestrator binds one feed descriptor to its generator and owns the
// regeneration schedule. Scheduled and manual triggers both funnel through
// RegenerateFeed, so the at-most-one-active-generation invariant holds no
// matter where a trigger comes from.
type Orchestrator struct {
	desc Descriptor
	gen  *Generator
}

// NewOrchestrator returns an orchestrator for the feed described by desc.
func NewOrchestrator(desc Descriptor, source Source, mapper RowMapper, batchSize BatchSize, outputDir string, args ...GeneratorOptions) (*Orchestrator, error) {
	gen, err := NewGenerator(desc, source, mapper, batchSize, outputDir, args...)
	if err != nil {
		return nil, err
	}
	return &Orchestrator{desc: desc, gen: gen}, nil
}

// Type returns the feed type of this orchestrator.
func (o *Orchestrator) Type() Type {
	return o.desc.Type()
}

// Descriptor returns the feed descriptor of this orchestrator.
func (o *Orchestrator) Descriptor() Descriptor {
	return o.desc
}

// Interval returns the regeneration interval of the feed.
func (o *Orchestrator) Interval() time.Duration {
	return o.desc.Interval()
}

// RegenerateFeed starts a new generation run at batch 1 if the feed is idle,
// complete or failed. It reports whether a run was started; a feed already
// running is left untouched.
func (o *Orchestrator) RegenerateFeed() bool {
	return o.gen.Start()
}

// RunBatch processes at most one batch of the in-progress run.
func (o *Orchestrator) RunBatch(ctx context.Context) error {
	return o.gen.RunBatch(ctx)
}

// Run drives the in-progress run to completion or failure.
func (o *Orchestrator) Run(ctx context.Context) error {
	return o.gen.Run(ctx)
}

// PublishedPath returns the path the feed file is published at once a run
// completes.
func (o *Orchestrator) PublishedPath() string {
	return o.gen.PublishedPath()
}

// Reset cancels any in-progress run and returns the feed to idle.
func (o *Orchestrator) Reset() {
	o.gen.Reset()
}

// Progress returns a snapshot of the feed's generation job.
func (o *Orchestrator) Progress() Job {
	return o.gen.Progress()
}
