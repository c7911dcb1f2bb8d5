package compiler

import (
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"

	"github.com/roach88/marty/internal/ir"
)

// LoadInstance builds the CUE value at path. A directory loads the .cue
// files directly inside it as one instance; a file is loaded on its own.
// Files are named explicitly, so a package clause is optional.
func LoadInstance(path string) (cue.Value, error) {
	info, err := os.Stat(path)
	if err != nil {
		return cue.Value{}, fmt.Errorf("load %s: %w", path, err)
	}

	cfg := &load.Config{Dir: filepath.Dir(path)}
	args := []string{filepath.Base(path)}
	if info.IsDir() {
		files, err := CUEFiles(path)
		if err != nil {
			return cue.Value{}, fmt.Errorf("load %s: %w", path, err)
		}
		if len(files) == 0 {
			return cue.Value{}, fmt.Errorf("load %s: no CUE files", path)
		}
		cfg.Dir = path
		args = args[:0]
		for _, f := range files {
			args = append(args, filepath.Base(f))
		}
	}

	instances := load.Instances(args, cfg)
	if len(instances) == 0 {
		return cue.Value{}, fmt.Errorf("load %s: no CUE instances loaded", path)
	}
	inst := instances[0]
	if inst.Err != nil {
		return cue.Value{}, fmt.Errorf("load %s: %w", path, inst.Err)
	}

	value := cuecontext.New().BuildInstance(inst)
	if err := value.Err(); err != nil {
		return cue.Value{}, formatCUEError(err)
	}
	return value, nil
}

// CUEFiles returns the .cue files directly inside dir, sorted by name.
// Subdirectories are not searched.
func CUEFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.Type().IsRegular() && filepath.Ext(e.Name()) == ".cue" {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	return files, nil
}

// AppValues returns the fields under the top-level "app" struct in
// declaration order.
func AppValues(v cue.Value) ([]cue.Value, error) {
	appsVal := v.LookupPath(cue.ParsePath("app"))
	if !appsVal.Exists() {
		return nil, nil
	}
	iter, err := appsVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var out []cue.Value
	for iter.Next() {
		out = append(out, iter.Value())
	}
	return out, nil
}

// LoadApp loads path and compiles the app labelled name. An empty name
// selects the only app; it is an error when there are several.
func LoadApp(path, name string) (*ir.AppSpec, error) {
	value, err := LoadInstance(path)
	if err != nil {
		return nil, err
	}

	apps, err := AppValues(value)
	if err != nil {
		return nil, err
	}

	switch {
	case len(apps) == 0:
		return nil, fmt.Errorf("load %s: no apps declared under \"app\"", path)
	case name == "" && len(apps) > 1:
		return nil, fmt.Errorf("load %s: %d apps declared, name one", path, len(apps))
	case name == "":
		return CompileApp(apps[0])
	}

	for _, app := range apps {
		sel := app.Path().Selectors()
		if len(sel) > 0 && sel[len(sel)-1].String() == name {
			return CompileApp(app)
		}
	}
	return nil, fmt.Errorf("load %s: app %q not found", path, name)
}
