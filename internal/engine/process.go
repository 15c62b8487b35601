package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/ricochet1k/officemesh/internal/logging"
	"github.com/ricochet1k/officemesh/internal/vfs"
	"github.com/ricochet1k/officemesh/pkg/protocol"
)

// DefaultStopTimeout is how long a native engine gets to exit after SIGTERM.
const DefaultStopTimeout = 5 * time.Second

// ProcessConfig describes a native engine binary that speaks the envelope
// protocol on stdin and stdout. It runs with a fresh directory as its working
// directory, also exported as OFFICEMESH_ENGINE_ROOT.
type ProcessConfig struct {
	Command     string
	Args        []string
	Environment map[string]string
	WorkDir     string
	Codec       protocol.Codec
	StopTimeout time.Duration
}

type ProcessBootstrapper struct {
	cfg ProcessConfig
}

func NewProcessBootstrapper(cfg ProcessConfig) *ProcessBootstrapper {
	if cfg.Codec == nil {
		cfg.Codec = protocol.CBOR
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DefaultStopTimeout
	}
	return &ProcessBootstrapper{cfg: cfg}
}

func (b *ProcessBootstrapper) Boot(ctx context.Context, cfg BootConfig) (*Instance, error) {
	if b.cfg.Command == "" {
		return nil, errors.New("no engine command configured")
	}
	log := logging.Or(cfg.Logger).Named("engine.process")

	root, err := os.MkdirTemp(b.cfg.WorkDir, "officemesh-engine-*")
	if err != nil {
		return nil, fmt.Errorf("create engine root: %w", err)
	}
	store, err := vfs.NewDirStore(root)
	if err != nil {
		_ = os.RemoveAll(root)
		return nil, err
	}
	if err := RunPreRun(store, cfg.PreRun); err != nil {
		_ = os.RemoveAll(root)
		return nil, fmt.Errorf("pre-run: %w", err)
	}
	if err := ctx.Err(); err != nil {
		_ = os.RemoveAll(root)
		return nil, err
	}

	proc, err := startProcess(b.cfg, root, zap.NewStdLog(log.Named("stderr")).Writer())
	if err != nil {
		_ = os.RemoveAll(root)
		return nil, err
	}

	port := NewStreamPort(b.cfg.Codec, proc.stdout, proc.stdin, proc.stdin)
	closeFn := func() error {
		if err := proc.stop(b.cfg.StopTimeout); err != nil {
			log.Warn("engine exited", zap.Error(err))
		}
		return os.RemoveAll(root)
	}
	log.Info("engine started",
		zap.String("command", b.cfg.Command),
		zap.Int("pid", proc.cmd.Process.Pid),
		zap.String("root", root))
	return NewInstance(port, store, closeFn), nil
}

type process struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	exited chan struct{}
	err    error
}

func startProcess(cfg ProcessConfig, dir string, stderr io.Writer) (*process, error) {
	cmd := exec.Command(cfg.Command, cfg.Args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "OFFICEMESH_ENGINE_ROOT="+dir)
	for k, v := range cfg.Environment {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	cmd.Stderr = stderr

	// os.Pipe keeps the read end ours, so Wait never closes stdout under
	// the port's reader.
	inR, inW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	outR, outW, err := os.Pipe()
	if err != nil {
		_ = inR.Close()
		_ = inW.Close()
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	cmd.Stdin = inR
	cmd.Stdout = outW

	err = cmd.Start()
	_ = inR.Close()
	_ = outW.Close()
	if err != nil {
		_ = inW.Close()
		_ = outR.Close()
		return nil, fmt.Errorf("failed to start engine: %w", err)
	}

	p := &process{cmd: cmd, stdin: inW, stdout: outR, exited: make(chan struct{})}
	go func() {
		p.err = cmd.Wait()
		close(p.exited)
	}()
	return p, nil
}

// stop closes stdin, then sends SIGTERM and finally SIGKILL once timeout
// passes without an exit.
func (p *process) stop(timeout time.Duration) error {
	defer p.stdout.Close()
	_ = p.stdin.Close()
	select {
	case <-p.exited:
		return p.exitErr()
	default:
	}

	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		<-p.exited
		return p.exitErr()
	}
	select {
	case <-p.exited:
	case <-time.After(timeout):
		_ = p.cmd.Process.Kill()
		<-p.exited
	}
	return p.exitErr()
}

// exitErr ignores the termination this host asked for.
func (p *process) exitErr() error {
	var exitErr *exec.ExitError
	if errors.As(p.err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
			return nil
		}
	}
	return p.err
}
