// Package runner selects the command vectors used to execute a TypeScript build script.
//
// Selection is pure inspection of the project tree and PATH: nothing is executed here.
// Execution and fallback across the returned candidates live in internal/process and
// internal/pipeline.
//
// Import Path: metapub.io/metapub/internal/runner
package runner

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
)

// ModuleFormat is the module system a project compiles to.
type ModuleFormat string

const (
	// FormatAuto asks the Selector to detect the format from the project files.
	FormatAuto     ModuleFormat = ""
	FormatESM      ModuleFormat = "esm"
	FormatCommonJS ModuleFormat = "commonjs"
	FormatUnknown  ModuleFormat = "unknown"
)

// ParseModuleFormat parses a configured override. Empty and "auto" yield FormatAuto.
func ParseModuleFormat(s string) (ModuleFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return FormatAuto, nil
	case "esm", "module", "es":
		return FormatESM, nil
	case "cjs", "commonjs":
		return FormatCommonJS, nil
	case "unknown", "both":
		return FormatUnknown, nil
	default:
		return FormatAuto, fmt.Errorf("unknown module format %q (want auto, esm, cjs or unknown)", s)
	}
}

type packageJSON struct {
	Type string `json:"type"`
}

type tsconfigJSON struct {
	CompilerOptions struct {
		Module string `json:"module"`
	} `json:"compilerOptions"`
}

// DetectModuleFormat inspects package.json and tsconfig.json under projectRoot.
// Missing or unreadable files are ignored.
func DetectModuleFormat(projectRoot string) ModuleFormat {
	if data, err := os.ReadFile(filepath.Join(projectRoot, "package.json")); err == nil {
		var pkg packageJSON
		if json.Unmarshal(data, &pkg) == nil && strings.EqualFold(pkg.Type, "module") {
			return FormatESM
		}
	}

	data, err := os.ReadFile(filepath.Join(projectRoot, "tsconfig.json"))
	if err != nil {
		return FormatUnknown
	}
	// tsconfig allows comments and trailing commas.
	var ts tsconfigJSON
	if err := json.Unmarshal(jsonc.ToJSON(data), &ts); err != nil {
		return FormatUnknown
	}

	mod := strings.ToLower(strings.TrimSpace(ts.CompilerOptions.Module))
	switch {
	case mod == "":
		return FormatUnknown
	case strings.HasPrefix(mod, "es"), mod == "node16", mod == "nodenext":
		return FormatESM
	case mod == "commonjs", mod == "cjs":
		return FormatCommonJS
	default:
		return FormatUnknown
	}
}

// ProjectRoot returns the directory the build script runs in: the grandparent of
// the script when it lives in a directory named "scripts" or "script", else its
// own directory.
func ProjectRoot(script string) string {
	dir := filepath.Dir(script)
	switch filepath.Base(dir) {
	case "scripts", "script":
		return filepath.Dir(dir)
	default:
		return dir
	}
}
