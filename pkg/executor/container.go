package executor

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// DefaultRuntimeCLI is the container runtime command used to probe,
// pull and run job images.
const DefaultRuntimeCLI = "docker"

// framingRecord matches buffer lines written by an executor itself
// (timestamp plus EXECUTOR stream), as opposed to child output.
var framingRecord = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(\.\d+)? - EXECUTOR: `)

// ContainerExecutor runs a job inside a container image. It is a
// command executor whose base command is synthesized from the runtime
// CLI, run flags and the image reference; before running it makes sure
// the image is present locally, pulling it if needed.
type ContainerExecutor struct {
	exec     *Executor
	imageURL string
	cli      string
	logger   zerolog.Logger
}

type containerOptions struct {
	autoRemove  bool
	network     string
	cli         string
	environment map[string]string
}

// ContainerOption configures a ContainerExecutor.
type ContainerOption func(*containerOptions)

// WithEnvironment injects environment variables into the job container.
func WithEnvironment(env map[string]string) ContainerOption {
	return func(o *containerOptions) { o.environment = env }
}

// WithNetwork sets the container network mode. Empty disables the flag.
func WithNetwork(network string) ContainerOption {
	return func(o *containerOptions) { o.network = network }
}

// WithAutoRemove controls the --rm flag.
func WithAutoRemove(autoRemove bool) ContainerOption {
	return func(o *containerOptions) { o.autoRemove = autoRemove }
}

// WithRuntimeCLI overrides the container runtime command name.
func WithRuntimeCLI(cli string) ContainerOption {
	return func(o *containerOptions) { o.cli = cli }
}

// NewContainerExecutor creates an executor that runs the entrypoint of
// the given image with per-job arguments appended.
func NewContainerExecutor(name, imageURL string, logger zerolog.Logger, opts ...ContainerOption) *ContainerExecutor {
	o := containerOptions{
		autoRemove: true,
		network:    "host",
		cli:        DefaultRuntimeCLI,
	}
	for _, opt := range opts {
		opt(&o)
	}

	cmd := []string{o.cli, "run", "-i"}
	if o.autoRemove {
		cmd = append(cmd, "--rm")
	}
	if o.network != "" {
		cmd = append(cmd, "--network="+o.network)
	}
	keys := make([]string, 0, len(o.environment))
	for k := range o.environment {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		cmd = append(cmd, "-e", fmt.Sprintf("%s=%s", k, o.environment[k]))
	}
	cmd = append(cmd, imageURL)

	return &ContainerExecutor{
		exec:     New(name, cmd, logger),
		imageURL: imageURL,
		cli:      o.cli,
		logger:   logger,
	}
}

// Execute ensures the image is present, then runs it with the given
// arguments. A failed pull returns the pull exit code without running.
func (ce *ContainerExecutor) Execute(args []string, callback OutputFunc, timeoutSeconds int) (int, time.Duration, error) {
	pullCode, err := ce.PullImage(callback)
	if err != nil {
		return 0, 0, err
	}
	if pullCode != 0 {
		return pullCode, 0, nil
	}
	return ce.exec.Execute(args, callback, timeoutSeconds)
}

// PullImage pulls the image unless it is already present locally,
// returning the pull exit code (0 when cached).
func (ce *ContainerExecutor) PullImage(callback OutputFunc) (int, error) {
	exists, err := ce.imageExists(callback)
	if err != nil {
		return 0, err
	}
	if exists {
		return 0, nil
	}
	pull := New("image pull", []string{ce.cli, "pull"}, ce.logger)
	pull.InContainer = ce.exec.InContainer
	code, _, err := pull.Execute([]string{ce.imageURL}, callback, 0)
	return code, err
}

// imageExists probes the local image store with `images -q`. Lines the
// probe executor wrote itself are stripped; any remaining non-blank
// payload means the image is present. A failing probe is an error, not
// an absent image.
func (ce *ContainerExecutor) imageExists(callback OutputFunc) (bool, error) {
	present := false
	probeCallback := func(output string) {
		for _, line := range strings.Split(output, "\n") {
			if framingRecord.MatchString(line) {
				continue
			}
			_, payload, ok := splitRecord(line)
			if ok && strings.TrimSpace(payload) != "" {
				present = true
			}
		}
		if callback != nil {
			callback(output)
		}
	}

	probe := New("image lookup", []string{ce.cli, "images", "-q"}, ce.logger)
	probe.InContainer = ce.exec.InContainer
	code, _, err := probe.Execute([]string{ce.imageURL}, probeCallback, 0)
	if err != nil {
		return false, err
	}
	if code != 0 {
		return false, fmt.Errorf("could not check if image %s exists, exit code %d", ce.imageURL, code)
	}
	return present, nil
}

// splitRecord splits a framed buffer line into stream name and payload.
func splitRecord(line string) (stream, payload string, ok bool) {
	idx := strings.Index(line, " - ")
	if idx < 0 {
		return "", "", false
	}
	streamAndPayload := line[idx+len(" - "):]
	sep := strings.Index(streamAndPayload, ": ")
	if sep < 0 {
		return "", "", false
	}
	return streamAndPayload[:sep], streamAndPayload[sep+len(": "):], true
}
