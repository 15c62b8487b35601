// Command typegen-protocol writes TypeScript declarations for the wire types
// shared with browser hosts and engine workers.
package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	tygo "github.com/gzuidhof/tygo/tygo"
	"github.com/spf13/pflag"
)

const modulePath = "github.com/ricochet1k/officemesh"

// packages maps each Go package to its output file name.
var packages = []struct {
	pkg  string
	file string
}{
	{"pkg/protocol", "protocol.ts"},
	{"pkg/api", "api.ts"},
	{"pkg/realtime", "realtime.ts"},
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags := pflag.NewFlagSet("typegen-protocol", pflag.ContinueOnError)
	outDir := flags.String("out", "", "output directory (default <repo>/web/src/generated)")
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if *outDir == "" {
		root, err := findRepoRoot()
		if err != nil {
			return err
		}
		*outDir = filepath.Join(root, "web", "src", "generated")
	}
	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		return err
	}

	gen := tygo.New(config(*outDir))
	if err := gen.Generate(); err != nil {
		return fmt.Errorf("generate: %w", err)
	}
	for _, p := range packages {
		fmt.Printf("wrote %s\n", filepath.Join(*outDir, p.file))
	}
	return nil
}

func config(outDir string) *tygo.Config {
	cfg := &tygo.Config{
		TypeMappings: map[string]string{
			"time.Time": "string",
		},
	}
	for _, p := range packages {
		cfg.Packages = append(cfg.Packages, &tygo.PackageConfig{
			Path:             modulePath + "/" + p.pkg,
			OutputPath:       filepath.Join(outDir, p.file),
			PreserveComments: "none",
		})
	}
	return cfg
}

func findRepoRoot() (string, error) {
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		return "", fmt.Errorf("unable to resolve generator path")
	}
	root := filepath.Clean(filepath.Join(filepath.Dir(file), "..", ".."))
	if _, err := os.Stat(filepath.Join(root, "go.mod")); err != nil {
		return "", fmt.Errorf("module root not found: %w", err)
	}
	return root, nil
}
