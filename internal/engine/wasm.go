package engine

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"
	"go.uber.org/zap"

	"github.com/ricochet1k/officemesh/internal/logging"
	"github.com/ricochet1k/officemesh/internal/vfs"
	"github.com/ricochet1k/officemesh/pkg/protocol"
)

// WasmConfig describes an engine compiled to a WASI command module.
type WasmConfig struct {
	// Module is the wasm binary. ModulePath is read when Module is empty.
	Module     []byte
	ModulePath string
	Args       []string

	// MemoryLimitPages caps guest memory in 64KiB pages. 0 keeps the wazero
	// default.
	MemoryLimitPages uint32

	// WorkDir holds the per-instance filesystem roots. Empty means the OS
	// temp dir.
	WorkDir string

	// Codec frames envelopes on the guest's stdin and stdout. Defaults to
	// CBOR.
	Codec protocol.Codec
}

// WasmBootstrapper runs the engine inside a wazero sandbox. The engine sees a
// fresh directory mounted at "/" as its filesystem; pre-run hooks populate it
// before the module is instantiated, so the engine's startup scan observes
// them.
type WasmBootstrapper struct {
	cfg WasmConfig

	once     sync.Once
	rt       wazero.Runtime
	compiled wazero.CompiledModule
	initErr  error
}

func NewWasmBootstrapper(cfg WasmConfig) *WasmBootstrapper {
	if cfg.Codec == nil {
		cfg.Codec = protocol.CBOR
	}
	return &WasmBootstrapper{cfg: cfg}
}

func (b *WasmBootstrapper) initialize(ctx context.Context) {
	wasm := b.cfg.Module
	if len(wasm) == 0 {
		if b.cfg.ModulePath == "" {
			b.initErr = errors.New("no engine module configured")
			return
		}
		data, err := os.ReadFile(b.cfg.ModulePath)
		if err != nil {
			b.initErr = fmt.Errorf("read engine module: %w", err)
			return
		}
		wasm = data
	}

	rtCfg := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	if b.cfg.MemoryLimitPages > 0 {
		rtCfg = rtCfg.WithMemoryLimitPages(b.cfg.MemoryLimitPages)
	}
	b.rt = wazero.NewRuntimeWithConfig(ctx, rtCfg)

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, b.rt); err != nil {
		b.initErr = fmt.Errorf("instantiate WASI: %w", err)
		return
	}

	b.compiled, b.initErr = b.rt.CompileModule(ctx, wasm)
	if b.initErr != nil {
		b.initErr = fmt.Errorf("compile engine module: %w", b.initErr)
	}
}

func (b *WasmBootstrapper) Boot(ctx context.Context, cfg BootConfig) (*Instance, error) {
	b.once.Do(func() { b.initialize(context.Background()) })
	if b.initErr != nil {
		return nil, b.initErr
	}
	log := logging.Or(cfg.Logger).Named("engine.wasm")

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

	stdinR, stdinW := io.Pipe()
	stdoutR, stdoutW := io.Pipe()
	stderr := zap.NewStdLog(log.Named("stderr")).Writer()

	modCfg := wazero.NewModuleConfig().
		WithName("").
		WithArgs(append([]string{"engine"}, b.cfg.Args...)...).
		WithStdin(stdinR).
		WithStdout(stdoutW).
		WithStderr(stderr).
		WithFSConfig(wazero.NewFSConfig().WithDirMount(root, "/")).
		WithSysWalltime().
		WithSysNanotime().
		WithRandSource(rand.Reader)

	runCtx, cancel := context.WithCancel(context.Background())
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		mod, err := b.rt.InstantiateModule(runCtx, b.compiled, modCfg)
		if mod != nil {
			_ = mod.Close(runCtx)
		}
		var exitErr *sys.ExitError
		switch {
		case err == nil, errors.As(err, &exitErr) && exitErr.ExitCode() == 0:
			_ = stdoutW.Close()
		default:
			log.Warn("engine exited", zap.Error(err))
			_ = stdoutW.CloseWithError(err)
		}
	}()

	port := NewStreamPort(b.cfg.Codec, stdoutR, stdinW, stdinW)
	closeFn := func() error {
		cancel()
		_ = stdinR.Close()
		<-exited
		return os.RemoveAll(root)
	}
	log.Info("engine started", zap.String("root", root))
	return NewInstance(port, store, closeFn), nil
}

// Close releases the compiled module and the runtime.
func (b *WasmBootstrapper) Close(ctx context.Context) error {
	if b.rt == nil {
		return nil
	}
	return b.rt.Close(ctx)
}
