package worker

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/microq/uworker/pkg/client"
	"github.com/microq/uworker/pkg/executor"
	"github.com/microq/uworker/pkg/log"
	"github.com/microq/uworker/pkg/metrics"
	"github.com/microq/uworker/pkg/platform"
	uruntime "github.com/microq/uworker/pkg/runtime"
)

const (
	// DefaultIdleSleep is the pause after a fetch that returned no job.
	DefaultIdleSleep = 600 * time.Second

	// DefaultErrorSleep is the pause after an unhandled error or a
	// failed claim attempt.
	DefaultErrorSleep = 30 * time.Second

	// DefaultClaimRetries bounds claim attempts per job.
	DefaultClaimRetries = 5

	// jobProcessName labels executor log events and framing records.
	jobProcessName = "Job"
)

// Platform exposes the host introspection the worker needs; injectable
// so tests can simulate running inside a container.
type Platform interface {
	InContainer() bool
}

// RuntimeProber verifies container runtime connectivity at image-mode
// startup.
type RuntimeProber interface {
	Ping(ctx context.Context) error
}

type hostPlatform struct{}

func (hostPlatform) InContainer() bool { return platform.InContainer() }

// Worker is the agent: it fetches jobs from the coordinator, claims
// them, executes them via a command or container executor, streams
// output back, and reports a terminal status. One job is in flight at
// a time.
type Worker struct {
	name     string
	cfg      Config
	api      *client.Client
	platform Platform
	logger   zerolog.Logger

	idleSleep    time.Duration
	errorSleep   time.Duration
	claimRetries int

	jobCount int

	stopOnce sync.Once
	stopCh   chan struct{}
}

type workerOptions struct {
	api        *client.Client
	platform   Platform
	prober     RuntimeProber
	idleSleep  time.Duration
	errorSleep time.Duration
	retries    int
	logger     *zerolog.Logger
}

// WorkerOption configures a Worker.
type WorkerOption func(*workerOptions)

// WithIdleSleep overrides the idle pause.
func WithIdleSleep(d time.Duration) WorkerOption {
	return func(o *workerOptions) { o.idleSleep = d }
}

// WithErrorSleep overrides the error pause.
func WithErrorSleep(d time.Duration) WorkerOption {
	return func(o *workerOptions) { o.errorSleep = d }
}

// WithRetries overrides the client transport retry budget.
func WithRetries(n int) WorkerOption {
	return func(o *workerOptions) { o.retries = n }
}

// WithClient supplies a preconfigured API client.
func WithClient(c *client.Client) WorkerOption {
	return func(o *workerOptions) { o.api = c }
}

// WithPlatform supplies the host introspection capability.
func WithPlatform(p Platform) WorkerOption {
	return func(o *workerOptions) { o.platform = p }
}

// WithRuntimeProber supplies the image-mode runtime connectivity check.
func WithRuntimeProber(p RuntimeProber) WorkerOption {
	return func(o *workerOptions) { o.prober = p }
}

// WithLogger overrides the worker logger.
func WithLogger(l zerolog.Logger) WorkerOption {
	return func(o *workerOptions) { o.logger = &l }
}

// New creates a worker, verifying the mode invariants: image mode must
// not run inside a container and needs a reachable container runtime.
func New(cfg Config, opts ...WorkerOption) (*Worker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := workerOptions{
		idleSleep:  DefaultIdleSleep,
		errorSleep: DefaultErrorSleep,
		retries:    client.DefaultRetries,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.platform == nil {
		o.platform = hostPlatform{}
	}

	hostname, err := os.Hostname()
	if err != nil {
		return nil, fmt.Errorf("failed to determine hostname: %w", err)
	}

	w := &Worker{
		name:         "uworker_" + hostname,
		cfg:          cfg,
		platform:     o.platform,
		idleSleep:    o.idleSleep,
		errorSleep:   o.errorSleep,
		claimRetries: DefaultClaimRetries,
		stopCh:       make(chan struct{}),
	}

	w.logger = log.WithWorker(w.name)
	if o.logger != nil {
		w.logger = *o.logger
	}

	if cfg.Mode == ModeImage {
		if w.platform.InContainer() {
			return nil, &ConfigError{Reason: "image mode cannot run inside a container"}
		}
		if err := w.probeRuntime(o.prober); err != nil {
			return nil, err
		}
	}

	w.api = o.api
	if w.api == nil {
		clientOpts := []client.Option{
			client.WithRetries(o.retries),
			client.WithRetryWait(w.errorSleep),
			client.WithLogger(w.logger.With().Str("component", "client").Logger()),
		}
		if cfg.CredentialsFile != "" {
			clientOpts = append(clientOpts, client.WithCredentialsFile(cfg.CredentialsFile))
		} else {
			clientOpts = append(clientOpts, client.WithCredentials(cfg.APIUsername, cfg.APIPassword))
		}
		api, err := client.New(cfg.APIRoot, clientOpts...)
		if err != nil {
			return nil, err
		}
		w.api = api
	}

	metrics.Init()
	cfg.logConfig(w.logger)

	return w, nil
}

// probeRuntime checks container runtime connectivity, constructing the
// default containerd probe when none was injected.
func (w *Worker) probeRuntime(prober RuntimeProber) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if prober == nil {
		p, err := uruntime.NewProbe(w.cfg.RuntimeSocket)
		if err != nil {
			return &ConfigError{Reason: fmt.Sprintf("image mode requires a container runtime: %v", err)}
		}
		defer p.Close()
		prober = p
	}
	if err := prober.Ping(ctx); err != nil {
		return &ConfigError{Reason: fmt.Sprintf("image mode requires a container runtime: %v", err)}
	}
	return nil
}

// Name returns the worker identity used when claiming jobs.
func (w *Worker) Name() string {
	return w.name
}

// JobCount returns the number of jobs run to a terminal status.
func (w *Worker) JobCount() int {
	return w.jobCount
}

// Run executes the worker loop until Stop is called. Any error from an
// iteration is logged and followed by the error pause, so transient
// coordinator outages degrade to slow progress rather than agent death.
func (w *Worker) Run() {
	for w.alive() {
		if err := w.RunOnce(context.Background()); err != nil {
			w.logger.Error().Err(err).Msg("unhandled error in worker loop")
			w.sleep(w.errorSleep)
		}
	}
	w.logger.Info().Int("job_count", w.jobCount).Msg("worker stopped")
}

// RunOnce performs a single loop iteration: fetch, claim, execute,
// report.
func (w *Worker) RunOnce(ctx context.Context) error {
	project := ""
	if w.cfg.Mode == ModeCommand {
		project = w.cfg.Project
	}

	job, err := w.api.FetchJob(ctx, w.cfg.JobType, project)
	if err != nil {
		return err
	}
	if job == nil {
		metrics.FetchEmpty.Inc()
		w.logger.Debug().Msg("no job available")
		w.sleep(w.idleSleep)
		return nil
	}

	// The coordinator may hand out jobs this agent cannot run.
	if job.URLImage() != "" && w.cfg.Mode == ModeCommand {
		w.logger.Warn().Str("image", job.URLImage()).
			Msg("refusing image job in command mode")
		w.sleep(w.idleSleep)
		return nil
	}
	if job.URLImage() == "" && w.cfg.Mode == ModeImage {
		w.logger.Warn().Msg("refusing job without image in image mode")
		w.sleep(w.idleSleep)
		return nil
	}

	if !w.claimJob(ctx, job) {
		return nil
	}

	if err := job.SendStatus(ctx, client.StatusStarted, nil); err != nil {
		return err
	}

	exitCode, elapsed, err := w.doJob(ctx, job)
	if err != nil {
		return err
	}

	processingTime := elapsed.Seconds()
	status := client.StatusFinished
	if exitCode != 0 {
		status = client.StatusFailed
	}
	if err := job.SendStatus(ctx, status, &processingTime); err != nil {
		return err
	}

	w.jobCount++
	metrics.JobsTotal.WithLabelValues(string(status)).Inc()
	metrics.JobDuration.Observe(processingTime)
	w.logger.Info().Int("exit_code", exitCode).
		Float64("processing_time", processingTime).
		Str("status", string(status)).Msg("job done")
	return nil
}

// claimJob tries to claim the job, retrying transient errors with the
// error pause in between. A 409 means another worker won the race and
// ends the attempts immediately.
func (w *Worker) claimJob(ctx context.Context, job *client.Job) bool {
	policy := backoff.WithMaxRetries(
		backoff.NewConstantBackOff(w.errorSleep), uint64(w.claimRetries-1))

	err := backoff.Retry(func() error {
		if err := job.Claim(ctx, w.name); err != nil {
			if client.IsConflict(err) {
				return backoff.Permanent(err)
			}
			w.logger.Error().Err(err).Msg("failed job claim")
			return err
		}
		return nil
	}, policy)

	if err != nil {
		if client.IsConflict(err) {
			metrics.ClaimConflicts.Inc()
			w.logger.Info().Msg("job already claimed by another worker")
		}
		return false
	}
	return true
}

// doJob executes the claimed job with the executor matching its shape,
// forwarding buffered output to the coordinator as it accumulates.
func (w *Worker) doJob(ctx context.Context, job *client.Job) (int, time.Duration, error) {
	args := w.jobArgs(job.URLSource(), job.URLTarget())

	outputURL := job.URLOutput()
	callback := func(output string) {
		if outputURL == "" {
			return
		}
		// Progress failures never abort a running job.
		if err := w.api.UpdateOutput(ctx, outputURL, output); err != nil {
			w.logger.Error().Err(err).Msg("failed sending output to job api")
		}
	}

	w.logger.Info().Strs("args", args).Msg("starting job")
	if job.URLImage() != "" {
		exec := executor.NewContainerExecutor(
			jobProcessName, job.URLImage(), w.logger,
			executor.WithEnvironment(job.Environment()),
			executor.WithRuntimeCLI(w.runtimeCLI()),
		)
		return exec.Execute(args, callback, w.cfg.JobTimeout)
	}

	exec := executor.NewFromString(jobProcessName, w.cfg.JobCommand, w.logger)
	exec.InContainer = w.platform.InContainer
	return exec.Execute(args, callback, w.cfg.JobTimeout)
}

// RunInput runs the configured command once against the given input
// URL, without any coordinator interaction. Used by one-shot mode.
func (w *Worker) RunInput(sourceURL string) (int, error) {
	if w.cfg.Mode != ModeCommand {
		return 0, &ConfigError{Reason: "one-shot execution requires command mode"}
	}
	exec := executor.NewFromString(jobProcessName, w.cfg.JobCommand, w.logger)
	exec.InContainer = w.platform.InContainer
	code, _, err := exec.Execute([]string{sourceURL}, func(string) {}, w.cfg.JobTimeout)
	return code, err
}

// jobArgs builds the child argument list: source URL, then target URL
// with pass-through credentials when both are configured.
func (w *Worker) jobArgs(sourceURL, targetURL string) []string {
	args := []string{sourceURL}
	if targetURL == "" {
		return args
	}
	args = append(args, targetURL)
	if w.cfg.ExternalUsername != "" {
		args = append(args, w.cfg.ExternalUsername)
	}
	if w.cfg.ExternalPassword != "" {
		args = append(args, w.cfg.ExternalPassword)
	}
	return args
}

func (w *Worker) runtimeCLI() string {
	if w.cfg.RuntimeCLI != "" {
		return w.cfg.RuntimeCLI
	}
	return executor.DefaultRuntimeCLI
}

// Stop ends the loop after the in-flight job, if any, completes.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
}

func (w *Worker) alive() bool {
	select {
	case <-w.stopCh:
		return false
	default:
		return true
	}
}

// sleep pauses for d but wakes immediately on Stop.
func (w *Worker) sleep(d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-w.stopCh:
	}
}
