package compiler

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/parser"

	"github.com/roach88/mudbridge/internal/ir"
)

//go:embed default.cue
var defaultWorldCUE string

// ErrNoCUEFiles is returned when a world directory holds no .cue files.
var ErrNoCUEFiles = errors.New("no CUE files found")

// DefaultWorld compiles the embedded default world: a singleton Counter
// table and the increment action.
func DefaultWorld() (*ir.WorldConfig, error) {
	ctx := cuecontext.New()
	v := ctx.CompileString(defaultWorldCUE, cue.Filename("default.cue"))
	return CompileWorld(v)
}

// Load compiles the world at dir, or the default world when dir is empty,
// and validates it.
func Load(dir string) (*ir.WorldConfig, error) {
	var (
		cfg *ir.WorldConfig
		err error
	)
	if dir == "" {
		cfg, err = DefaultWorld()
	} else {
		cfg, err = LoadWorld(dir)
	}
	if err != nil {
		return nil, err
	}

	if verrs := ValidateWorld(cfg); len(verrs) > 0 {
		errs := make([]error, len(verrs))
		for i := range verrs {
			errs[i] = verrs[i]
		}
		return nil, fmt.Errorf("invalid world config: %w", errors.Join(errs...))
	}
	return cfg, nil
}

// LoadWorld loads every CUE file in dir as one instance and compiles it.
// Validation is left to the caller.
func LoadWorld(dir string) (*ir.WorldConfig, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("world directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("world directory: not a directory: %s", dir)
	}

	cueFiles, err := FindCUEFiles(dir)
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", dir, err)
	}
	if len(cueFiles) == 0 {
		return nil, fmt.Errorf("%s: %w", dir, ErrNoCUEFiles)
	}

	cfg := &load.Config{Dir: dir}
	anonymous, err := allAnonymous(cueFiles)
	if err != nil {
		return nil, formatCUEError(err)
	}
	if anonymous {
		// Files without a package clause only load as the "_" package.
		cfg.Package = "_"
	}

	ctx := cuecontext.New()
	instances := load.Instances([]string{"."}, cfg)
	if len(instances) == 0 {
		return nil, fmt.Errorf("loading %s: no CUE instances loaded", dir)
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, fmt.Errorf("loading CUE files: %w", inst.Err)
	}

	value := ctx.BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	return CompileWorld(value)
}

// allAnonymous reports whether none of files has a package clause.
func allAnonymous(files []string) (bool, error) {
	for _, path := range files {
		f, err := parser.ParseFile(path, nil, parser.PackageClauseOnly)
		if err != nil {
			return false, err
		}
		if f.PackageName() != "" {
			return false, nil
		}
	}
	return true, nil
}

// FindCUEFiles returns the .cue files directly inside dir.
func FindCUEFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".cue" {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	return files, nil
}
