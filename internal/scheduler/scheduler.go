// Package scheduler drives polling triggers on a fixed cadence. Each job
// polls one trigger node of one workflow and hands new events to a sink.
// Deduplication is the poll engine's job; the scheduler only keeps time.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/flowpilot/flowpilot/internal/plugin"
)

// Poller runs one poll of a trigger. runtime.Runtime implements it.
type Poller interface {
	PollTrigger(ctx context.Context, triggerID, workflowID, triggerNodeID string, raw map[string]any, connectionID string, exec plugin.ExecutionContext, testing bool) ([]any, error)
}

// EventSink receives the new events of one poll, oldest first. It is only
// called when there is at least one event.
type EventSink interface {
	Deliver(ctx context.Context, job PollJob, events []any) error
}

const (
	SourceConfig  = "config"
	SourceDynamic = "dynamic"
)

// PollJob binds a polling trigger node of a workflow to an interval.
type PollJob struct {
	Name          string         `yaml:"name" json:"name"`
	WorkspaceID   string         `yaml:"workspace_id" json:"workspace_id"`
	ProjectID     string         `yaml:"project_id,omitempty" json:"project_id,omitempty"`
	WorkflowID    string         `yaml:"workflow_id" json:"workflow_id"`
	TriggerNodeID string         `yaml:"trigger_node_id" json:"trigger_node_id"`
	TriggerID     string         `yaml:"trigger_id" json:"trigger_id"`
	ConnectionID  string         `yaml:"connection_id,omitempty" json:"connection_id,omitempty"`
	Config        map[string]any `yaml:"config,omitempty" json:"config,omitempty"`
	Interval      string         `yaml:"interval" json:"interval"`
	Paused        bool           `yaml:"paused,omitempty" json:"paused,omitempty"`
	Source        string         `yaml:"source,omitempty" json:"source,omitempty"`
}

var (
	ErrConfigProtected = errors.New("config-defined jobs cannot be modified or removed")
	ErrNotFound        = errors.New("job not found")
)

func (j *PollJob) parseInterval() (time.Duration, error) {
	d, err := time.ParseDuration(j.Interval)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("interval must be positive, got %s", j.Interval)
	}
	return d, nil
}

func (j *PollJob) validate() error {
	if j.Name == "" {
		return fmt.Errorf("job name is required")
	}
	if j.WorkflowID == "" || j.TriggerNodeID == "" || j.TriggerID == "" {
		return fmt.Errorf("job %q: workflow_id, trigger_node_id and trigger_id are required", j.Name)
	}
	if _, err := j.parseInterval(); err != nil {
		return fmt.Errorf("invalid interval for job %q: %w", j.Name, err)
	}
	return nil
}

// every fires at a fixed delay after each run, with no rounding.
type every time.Duration

func (e every) Next(t time.Time) time.Time { return t.Add(time.Duration(e)) }

// JobStatus is the outcome of a job's most recent run.
type JobStatus struct {
	LastRun    time.Time
	LastEvents int
	LastError  string
	Runs       int
}

type runningJob struct {
	job     PollJob
	entryID cron.EntryID
	status  JobStatus
}

type Scheduler struct {
	mu      sync.RWMutex
	jobs    map[string]*runningJob
	poller  Poller
	sink    EventSink
	dataDir string
	cron    *cron.Cron
	logger  *slog.Logger

	maxJobsPerWorkspace int

	ctx    context.Context
	cancel context.CancelFunc
}

type Option func(*Scheduler)

// WithMaxJobsPerWorkspace limits dynamic jobs per workspace when n > 0.
func WithMaxJobsPerWorkspace(n int) Option {
	return func(s *Scheduler) { s.maxJobsPerWorkspace = n }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

func New(poller Poller, sink EventSink, dataDir string, opts ...Option) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		jobs:    make(map[string]*runningJob),
		poller:  poller,
		sink:    sink,
		dataDir: dataDir,
		logger:  slog.Default(),
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, o := range opts {
		o(s)
	}
	cl := cronLogger{s.logger}
	s.cron = cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	return s
}

// Start registers static jobs and persisted dynamic jobs and starts the
// clock. Invalid jobs are logged and skipped.
func (s *Scheduler) Start(staticJobs []PollJob) error {
	for i := range staticJobs {
		staticJobs[i].Source = SourceConfig
		if err := s.add(staticJobs[i]); err != nil {
			s.logger.Warn("scheduler: skipping static job", "job", staticJobs[i].Name, "error", err)
		}
	}

	dynamicJobs, err := s.loadDynamic()
	if err != nil {
		s.logger.Error("scheduler: loading dynamic jobs", "error", err)
	}
	for _, j := range dynamicJobs {
		j.Source = SourceDynamic
		if err := s.add(j); err != nil {
			s.logger.Warn("scheduler: skipping dynamic job", "job", j.Name, "error", err)
		}
	}

	s.cron.Start()
	return nil
}

// Stop stops the clock, waits for running polls to finish, then cancels
// the context handed to them.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.cancel()
}

// AddJob registers and persists a dynamic job.
func (s *Scheduler) AddJob(job PollJob) error {
	job.Source = SourceDynamic
	if s.maxJobsPerWorkspace > 0 {
		s.mu.RLock()
		count := s.countWorkspaceJobs(job.WorkspaceID)
		s.mu.RUnlock()
		if count >= s.maxJobsPerWorkspace {
			return fmt.Errorf("job limit reached: workspace %q already has %d jobs (max %d)", job.WorkspaceID, count, s.maxJobsPerWorkspace)
		}
	}
	if err := s.add(job); err != nil {
		return err
	}
	return s.persistDynamic()
}

func (s *Scheduler) countWorkspaceJobs(workspaceID string) int {
	n := 0
	for _, rj := range s.jobs {
		if rj.job.Source == SourceDynamic && rj.job.WorkspaceID == workspaceID {
			n++
		}
	}
	return n
}

// RemoveJob unschedules and forgets a dynamic job. The trigger's cursor is
// left in the store.
func (s *Scheduler) RemoveJob(name string) error {
	s.mu.Lock()
	rj, ok := s.jobs[name]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("job %q: %w", name, ErrNotFound)
	}
	if rj.job.Source == SourceConfig {
		s.mu.Unlock()
		return ErrConfigProtected
	}
	s.cron.Remove(rj.entryID)
	delete(s.jobs, name)
	s.mu.Unlock()

	return s.persistDynamic()
}

func (s *Scheduler) PauseJob(name string) error {
	s.mu.Lock()
	rj, ok := s.jobs[name]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("job %q: %w", name, ErrNotFound)
	}
	if !rj.job.Paused {
		s.cron.Remove(rj.entryID)
		rj.entryID = 0
		rj.job.Paused = true
	}
	s.mu.Unlock()

	return s.persistDynamic()
}

func (s *Scheduler) ResumeJob(name string) error {
	s.mu.Lock()
	rj, ok := s.jobs[name]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("job %q: %w", name, ErrNotFound)
	}
	if !rj.job.Paused {
		s.mu.Unlock()
		return fmt.Errorf("job %q is not paused", name)
	}
	rj.job.Paused = false
	s.scheduleLocked(rj)
	s.mu.Unlock()

	return s.persistDynamic()
}

// UpdateJob changes the interval of a dynamic job and resumes it.
func (s *Scheduler) UpdateJob(name, interval string) error {
	s.mu.Lock()
	rj, ok := s.jobs[name]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("job %q: %w", name, ErrNotFound)
	}
	if rj.job.Source == SourceConfig {
		s.mu.Unlock()
		return ErrConfigProtected
	}
	next := rj.job
	next.Interval = interval
	if err := next.validate(); err != nil {
		s.mu.Unlock()
		return err
	}
	if rj.entryID != 0 {
		s.cron.Remove(rj.entryID)
	}
	next.Paused = false
	rj.job = next
	s.scheduleLocked(rj)
	s.mu.Unlock()

	return s.persistDynamic()
}

// ListJobs returns all jobs sorted by name.
func (s *Scheduler) ListJobs() []PollJob {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]PollJob, 0, len(s.jobs))
	for _, rj := range s.jobs {
		out = append(out, rj.job)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Scheduler) GetJob(name string) (PollJob, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rj, ok := s.jobs[name]
	if !ok {
		return PollJob{}, false
	}
	return rj.job, true
}

func (s *Scheduler) Status(name string) (JobStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rj, ok := s.jobs[name]
	if !ok {
		return JobStatus{}, false
	}
	return rj.status, true
}

// RunNow polls a job once, synchronously, outside its schedule.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.RLock()
	rj, ok := s.jobs[name]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("job %q: %w", name, ErrNotFound)
	}
	return s.execute(ctx, rj)
}

func (s *Scheduler) add(job PollJob) error {
	if err := job.validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.Name]; exists {
		return fmt.Errorf("job %q already exists", job.Name)
	}
	rj := &runningJob{job: job}
	s.jobs[job.Name] = rj
	if !job.Paused {
		s.scheduleLocked(rj)
	}
	return nil
}

func (s *Scheduler) scheduleLocked(rj *runningJob) {
	d, _ := rj.job.parseInterval()
	rj.entryID = s.cron.Schedule(every(d), cron.FuncJob(func() {
		_ = s.execute(s.ctx, rj)
	}))
}

func (s *Scheduler) snapshot(rj *runningJob) PollJob {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return rj.job
}

// execute runs one poll. A poll error leaves the cursor untouched, so the
// next tick retries the same window.
func (s *Scheduler) execute(ctx context.Context, rj *runningJob) error {
	job := s.snapshot(rj)
	exec := plugin.ExecutionContext{
		WorkspaceID:   job.WorkspaceID,
		ProjectID:     job.ProjectID,
		WorkflowID:    job.WorkflowID,
		TriggerNodeID: job.TriggerNodeID,
	}
	events, err := s.poller.PollTrigger(ctx, job.TriggerID, job.WorkflowID, job.TriggerNodeID, job.Config, job.ConnectionID, exec, false)
	if err == nil && len(events) > 0 && s.sink != nil {
		if derr := s.sink.Deliver(ctx, job, events); derr != nil {
			err = fmt.Errorf("delivering %d events: %w", len(events), derr)
		}
	}

	s.mu.Lock()
	rj.status.LastRun = time.Now()
	rj.status.Runs++
	rj.status.LastEvents = len(events)
	rj.status.LastError = ""
	if err != nil {
		rj.status.LastError = err.Error()
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn("scheduler: poll failed", "job", job.Name, "trigger", job.TriggerID, "error", err)
		return err
	}
	return nil
}

func (s *Scheduler) persistPath() string {
	return filepath.Join(s.dataDir, "scheduler", "jobs.yaml")
}

func (s *Scheduler) persistDynamic() error {
	if s.dataDir == "" {
		return nil
	}

	var dynamicJobs []PollJob
	for _, j := range s.ListJobs() {
		if j.Source == SourceDynamic {
			dynamicJobs = append(dynamicJobs, j)
		}
	}

	if err := os.MkdirAll(filepath.Dir(s.persistPath()), 0700); err != nil {
		return fmt.Errorf("creating scheduler dir: %w", err)
	}
	data, err := yaml.Marshal(dynamicJobs)
	if err != nil {
		return fmt.Errorf("marshaling jobs: %w", err)
	}
	return os.WriteFile(s.persistPath(), data, 0600)
}

func (s *Scheduler) loadDynamic() ([]PollJob, error) {
	if s.dataDir == "" {
		return nil, nil
	}
	data, err := os.ReadFile(s.persistPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading jobs file: %w", err)
	}
	var jobs []PollJob
	if err := yaml.Unmarshal(data, &jobs); err != nil {
		return nil, fmt.Errorf("parsing jobs file: %w", err)
	}
	return jobs, nil
}

// cronLogger routes cron's own messages to slog.
type cronLogger struct{ l *slog.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
