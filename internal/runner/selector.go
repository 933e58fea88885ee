package runner

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

// Command is one candidate invocation of the build script.
type Command struct {
	Argv   []string
	Format ModuleFormat
	Label  string
}

// String returns the argv joined with spaces, for logs.
func (c Command) String() string {
	return strings.Join(c.Argv, " ")
}

// Selector builds the ordered candidate list.
type Selector struct {
	// LookPath resolves system binaries. Defaults to exec.LookPath.
	LookPath func(file string) (string, error)

	// GOOS selects platform binary names. Defaults to runtime.GOOS.
	GOOS string

	// Override replaces module detection unless it is FormatAuto.
	Override ModuleFormat

	// Args are appended to every vector after the script path.
	Args []string
}

// NewSelector returns a Selector that detects the module format.
func NewSelector() *Selector {
	return &Selector{
		LookPath: exec.LookPath,
		GOOS:     runtime.GOOS,
	}
}

// Candidates returns every plausible invocation of script, best first:
// the transpile-only binary (local, then system), the same binary through npx,
// then module-loader invocations ordered by the project's module format.
// Duplicate vectors are dropped, keeping the first.
func (s *Selector) Candidates(script, projectRoot string) []Command {
	format := s.Override
	if format == FormatAuto {
		format = DetectModuleFormat(projectRoot)
	}

	var out []Command
	seen := make(map[string]struct{})
	add := func(label string, f ModuleFormat, argv ...string) {
		full := make([]string, 0, len(argv)+1+len(s.Args))
		full = append(full, argv...)
		full = append(full, script)
		full = append(full, s.Args...)
		key := strings.Join(full, "\x00")
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		out = append(out, Command{Argv: full, Format: f, Label: label})
	}

	for _, tsx := range s.binaries(projectRoot, "tsx") {
		add("tsx", format, tsx)
	}
	if npx := s.binaries(projectRoot, "npx"); len(npx) > 0 {
		add("npx tsx", format, npx[0], "-y", "tsx")
	}

	tsNode := s.binaries(projectRoot, "ts-node")
	node := s.binaries(projectRoot, "node")

	esm := func() {
		for _, bin := range tsNode {
			add("ts-node esm", FormatESM, bin, "--esm", "--transpile-only")
		}
		if len(node) > 0 {
			add("node loader", FormatESM, node[0], "--loader", "ts-node/esm")
		}
	}
	cjs := func() {
		for _, bin := range tsNode {
			add("ts-node", FormatCommonJS, bin, "--transpile-only")
		}
		if len(node) > 0 {
			add("node register", FormatCommonJS, node[0], "-r", "ts-node/register")
		}
	}

	switch format {
	case FormatESM:
		esm()
	case FormatCommonJS:
		cjs()
	default:
		esm()
		cjs()
	}
	return out
}

// binaries returns the local node_modules/.bin variants of name that exist
// (the .cmd shim first on Windows) followed by the system binary when found.
func (s *Selector) binaries(projectRoot, name string) []string {
	binDir := filepath.Join(projectRoot, "node_modules", ".bin")
	var out []string
	if s.goos() == "windows" {
		if p := filepath.Join(binDir, name+".cmd"); isFile(p) {
			out = append(out, p)
		}
	}
	if p := filepath.Join(binDir, name); isFile(p) {
		out = append(out, p)
	}

	lookPath := s.LookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	if p, err := lookPath(name); err == nil && p != "" {
		out = append(out, p)
	}
	return out
}

func (s *Selector) goos() string {
	if s.GOOS == "" {
		return runtime.GOOS
	}
	return s.GOOS
}

func isFile(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && !fi.IsDir()
}
