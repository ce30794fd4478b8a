package client

import (
	"context"
)

// Status is a coordinator-side job state.
type Status string

const (
	StatusAvailable Status = "AVAILABLE"
	StatusClaimed   Status = "CLAIMED"
	StatusStarted   Status = "STARTED"
	StatusFinished  Status = "FINISHED"
	StatusFailed    Status = "FAILED"
)

// jobPayload mirrors the job descriptor returned by the coordinator.
type jobPayload struct {
	Job jobBody `json:"Job"`
}

type jobBody struct {
	URLs        jobURLs           `json:"URLS"`
	Environment map[string]string `json:"Environment"`
}

type jobURLs struct {
	Claim  string `json:"URL-claim"`
	Status string `json:"URL-status"`
	Output string `json:"URL-output"`
	Source string `json:"URL-source"`
	Target string `json:"URL-target"`
	Image  string `json:"URL-image"`
}

// Job is a typed view over a fetched job descriptor. It carries a
// single-shot claim latch: once claimed, further Claim calls are no-ops
// and the flag never resets.
type Job struct {
	payload jobPayload
	api     *Client
	claimed bool
}

// Claim acquires exclusive execution rights for the named worker. A
// 409 means another worker won the race and is surfaced as an APIError.
func (j *Job) Claim(ctx context.Context, workerName string) error {
	if j.claimed {
		return nil
	}
	if err := j.api.ClaimJob(ctx, j.URLClaim(), workerName); err != nil {
		return err
	}
	j.claimed = true
	return nil
}

// Claimed reports whether this handle has successfully claimed its job.
func (j *Job) Claimed() bool {
	return j.claimed
}

// SendStatus advances the job state. processingTime is in seconds and
// may be nil.
func (j *Job) SendStatus(ctx context.Context, status Status, processingTime *float64) error {
	return j.api.UpdateStatus(ctx, j.URLStatus(), status, processingTime)
}

// SendOutput posts collected output to the job's output URL.
func (j *Job) SendOutput(ctx context.Context, output string) error {
	return j.api.UpdateOutput(ctx, j.URLOutput(), output)
}

// URLClaim is the coordinator endpoint that claims this job.
func (j *Job) URLClaim() string { return j.payload.Job.URLs.Claim }

// URLStatus is the coordinator endpoint for status transitions.
func (j *Job) URLStatus() string { return j.payload.Job.URLs.Status }

// URLOutput is the coordinator endpoint for output updates.
func (j *Job) URLOutput() string { return j.payload.Job.URLs.Output }

// URLSource is the external URL the job reads input from.
func (j *Job) URLSource() string { return j.payload.Job.URLs.Source }

// URLTarget is the external URL the job writes results to.
func (j *Job) URLTarget() string { return j.payload.Job.URLs.Target }

// URLImage is the container image reference, empty for command jobs.
func (j *Job) URLImage() string { return j.payload.Job.URLs.Image }

// Environment holds variables to inject into the job's child process.
func (j *Job) Environment() map[string]string { return j.payload.Job.Environment }
