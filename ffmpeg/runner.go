package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"ffbatch/config"
	"ffbatch/task"

	"github.com/hashicorp/go-hclog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// maxDiagnosticBytes bounds how much stderr ends up in an event message.
const maxDiagnosticBytes = 2048

type Runner struct {
	cfg       *config.Config
	extraArgs []string
	logger    hclog.Logger
}

func NewRunner(cfg *config.Config, logger hclog.Logger) (*Runner, error) {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	logger = logger.Named("ffmpeg")

	extra, err := SplitCommand(cfg.FFExtraArgs)
	if err != nil {
		return nil, err
	}
	if err := SanitizeAndValidateArgs(extra); err != nil {
		return nil, fmt.Errorf("invalid FF_EXTRA_ARGS: %w", err)
	}

	// A missing binary only fails tasks; the service can still start.
	if _, err := exec.LookPath(cfg.FFBin); err != nil {
		logger.Warn("transcoder binary not found, conversions will fail until it is installed", "bin", cfg.FFBin)
	}

	return &Runner{
		cfg:       cfg,
		extraArgs: extra,
		logger:    logger,
	}, nil
}

// OutputPath is the path claimed for the task by its batch, or the default
// name in the task's output directory when none was claimed.
func OutputPath(t *task.Task) string {
	if t.OutputPath != "" {
		return t.OutputPath
	}
	return task.DefaultOutputPath(t.InputPath, t.OutputDir, t.Format)
}

// BuildArgs returns the argument list for converting input into output.
func BuildArgs(input, codec string, extra []string, output string) []string {
	args := []string{"-hide_banner", "-nostdin", "-y", "-i", input}
	if codec != "" {
		args = append(args, "-c:v", codec)
	}
	args = append(args, extra...)
	return append(args, output)
}

// Run converts one task. Every failure is folded into the returned Result.
func (r *Runner) Run(ctx context.Context, t *task.Task) task.Result {
	bin, err := exec.LookPath(r.cfg.FFBin)
	if err != nil {
		return failure("transcoder %q not found: %v", r.cfg.FFBin, err)
	}

	if err := r.checkInput(t.InputPath); err != nil {
		return failure("%v", err)
	}

	outputPath := OutputPath(t)
	if same, _ := samePath(t.InputPath, outputPath); same {
		return failure("output %s would overwrite the input file", outputPath)
	}

	if err := ensureWritableDir(filepath.Dir(outputPath)); err != nil {
		return failure("output directory is not writable: %v", err)
	}

	if err := r.checkResources(t.OutputDir); err != nil {
		return failure("insufficient system resources: %v", err)
	}

	// Write next to the destination and rename on success so a failed run
	// never leaves a truncated file under the final name.
	partPath, err := createPartial(outputPath)
	if err != nil {
		return failure("output directory is not writable: %v", err)
	}
	args := BuildArgs(t.InputPath, r.cfg.FFVideoCodec, r.extraArgs, partPath)

	if r.cfg.FFTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.FFTimeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, bin, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	r.logger.Debug("executing", "task_id", t.ID, "cmd", strings.Join(cmd.Args, " "))
	start := time.Now()
	err = cmd.Run()
	if err != nil {
		os.Remove(partPath)
		return task.Result{Diagnostic: diagnose(ctx, err, stderr.String())}
	}

	if err := os.Rename(partPath, outputPath); err != nil {
		os.Remove(partPath)
		return failure("could not move output into place: %v", err)
	}

	r.logger.Debug("conversion finished", "task_id", t.ID, "elapsed", time.Since(start))
	return task.Result{OK: true, OutputPath: outputPath}
}

func (r *Runner) checkInput(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("could not read input file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("input %s is not a regular file", path)
	}
	if r.cfg.MaxInputSize > 0 && info.Size() > r.cfg.MaxInputSize {
		return fmt.Errorf("input file size %d exceeds limit of %d bytes", info.Size(), r.cfg.MaxInputSize)
	}
	return nil
}

// checkResources verifies that the system has enough free resources to
// start a new conversion. Zero thresholds disable the matching check.
func (r *Runner) checkResources(outputDir string) error {
	if r.cfg.ThrottleCPU > 0 {
		p, err := cpu.Percent(time.Second, false)
		if err != nil {
			r.logger.Warn("could not get CPU usage", "error", err)
		} else if len(p) > 0 && p[0] > (100.0-r.cfg.ThrottleCPU) {
			return fmt.Errorf("not enough idle CPU. Current usage: %.2f%%, Idle threshold: %.2f%%", p[0], r.cfg.ThrottleCPU)
		}
	}

	if r.cfg.ThrottleFreeMem > 0 {
		vm, err := mem.VirtualMemory()
		if err != nil {
			r.logger.Warn("could not get memory usage", "error", err)
		} else if vm.Available < uint64(r.cfg.ThrottleFreeMem) {
			return fmt.Errorf("not enough free memory. Available: %d, Required: %d", vm.Available, r.cfg.ThrottleFreeMem)
		}
	}

	if r.cfg.ThrottleFreeDisk > 0 {
		d, err := disk.Usage(outputDir)
		if err != nil {
			r.logger.Warn("could not get disk usage", "path", outputDir, "error", err)
		} else if d.Free < uint64(r.cfg.ThrottleFreeDisk) {
			return fmt.Errorf("not enough free disk space. Available: %d, Required: %d", d.Free, r.cfg.ThrottleFreeDisk)
		}
	}
	return nil
}

func ensureWritableDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	check, err := os.CreateTemp(dir, ".ffbatch-write-*")
	if err != nil {
		return err
	}
	check.Close()
	return os.Remove(check.Name())
}

// createPartial reserves a temporary file next to output, unique even when
// two conversions target the same name.
func createPartial(output string) (string, error) {
	ext := filepath.Ext(output)
	stem := strings.TrimSuffix(filepath.Base(output), ext)
	f, err := os.CreateTemp(filepath.Dir(output), stem+".*.part"+ext)
	if err != nil {
		return "", err
	}
	name := f.Name()
	if err := f.Close(); err != nil {
		os.Remove(name)
		return "", err
	}
	return name, nil
}

func samePath(a, b string) (bool, error) {
	absA, err := filepath.Abs(a)
	if err != nil {
		return false, err
	}
	absB, err := filepath.Abs(b)
	if err != nil {
		return false, err
	}
	return absA == absB, nil
}

// diagnose turns a failed invocation into a readable message: exit status
// first, then the tail of stderr.
func diagnose(ctx context.Context, err error, stderr string) string {
	var msg string
	var exitErr *exec.ExitError
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		msg = "conversion timed out"
	case errors.Is(ctx.Err(), context.Canceled):
		msg = "conversion aborted by shutdown"
	case errors.As(err, &exitErr):
		msg = fmt.Sprintf("ffmpeg exited with status %d", exitErr.ExitCode())
	default:
		msg = fmt.Sprintf("ffmpeg execution failed: %v", err)
	}

	stderr = strings.TrimSpace(stderr)
	if len(stderr) > maxDiagnosticBytes {
		stderr = "..." + stderr[len(stderr)-maxDiagnosticBytes:]
	}
	if stderr != "" {
		msg += ": " + stderr
	}
	return msg
}

func failure(format string, args ...interface{}) task.Result {
	return task.Result{Diagnostic: fmt.Sprintf(format, args...)}
}
