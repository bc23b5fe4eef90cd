// Package envstore reads and atomically writes voicepipe's canonical
// dotenv-format env file.
package envstore

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/joho/godotenv"
)

// Load parses the env file at path, returning an empty map (never an
// error that should propagate into the pipeline) if the file does not
// exist.
func Load(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("envstore: read %s: %w", path, err)
	}

	vars, err := godotenv.UnmarshalBytes(stripBOM(data))
	if err != nil {
		return nil, fmt.Errorf("envstore: parse %s: %w", path, err)
	}
	return vars, nil
}

// appliedFromFile records the value ApplyToProcess last set for each
// key it took from an env file.
var (
	appliedMu       sync.Mutex
	appliedFromFile = map[string]string{}
)

// ApplyToProcess loads the env file and sets any variable not already
// present in the process environment, or whose current value is the one
// an earlier ApplyToProcess call set from an env file, so a config
// reload picks up edited values. Process env always wins over the env
// file, per the original spec's precedence rule.
func ApplyToProcess(path string) error {
	vars, err := Load(path)
	if err != nil {
		return err
	}
	appliedMu.Lock()
	defer appliedMu.Unlock()
	for k, v := range vars {
		current, set := os.LookupEnv(k)
		if prev, ok := appliedFromFile[k]; !set || (ok && current == prev) {
			os.Setenv(k, v)
			appliedFromFile[k] = v
		}
	}
	return nil
}

var lineRe = regexp.MustCompile(`^[ \t]*(export[ \t]+)?([A-Za-z_][A-Za-z0-9_]*)[ \t]*=`)

// UpsertEnvVar atomically replaces the line assigning name in the env
// file at path (preserving all surrounding content byte-for-byte), or
// appends a new "NAME=VALUE" line if none is found. The file is
// created with 0600 permissions if it does not exist.
func UpsertEnvVar(path, name, value string) error {
	if strings.ContainsAny(value, "\r\n") {
		return fmt.Errorf("envstore: value for %s contains a newline", name)
	}

	original, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("envstore: read %s: %w", path, err)
	}

	lines := splitLinesKeepEnding(original)
	newLine := fmt.Sprintf("%s=%s\n", name, quoteIfNeeded(value))

	replaced := false
	for i, line := range lines {
		m := lineRe.FindStringSubmatch(line)
		if m != nil && m[2] == name {
			lines[i] = newLine
			replaced = true
			break
		}
	}
	if !replaced {
		if len(lines) > 0 && !strings.HasSuffix(lines[len(lines)-1], "\n") {
			lines[len(lines)-1] += "\n"
		}
		lines = append(lines, newLine)
	}

	var buf bytes.Buffer
	for _, l := range lines {
		buf.WriteString(l)
	}

	return atomicWrite(path, buf.Bytes(), 0o600)
}

func splitLinesKeepEnding(data []byte) []string {
	data = stripBOM(data)
	if len(data) == 0 {
		return nil
	}
	s := string(data)
	var lines []string
	for {
		idx := strings.IndexByte(s, '\n')
		if idx < 0 {
			if s != "" {
				lines = append(lines, s)
			}
			break
		}
		lines = append(lines, s[:idx+1])
		s = s[idx+1:]
	}
	return lines
}

func quoteIfNeeded(v string) string {
	if v == "" {
		return v
	}
	if strings.ContainsAny(v, " \t#\"'") {
		escaped := strings.ReplaceAll(v, `"`, `\"`)
		return `"` + escaped + `"`
	}
	return v
}

func stripBOM(b []byte) []byte {
	return bytes.TrimPrefix(b, []byte{0xEF, 0xBB, 0xBF})
}

// atomicWrite writes data to a temp file in the same directory as path
// and renames it into place, matching the rest of the config store's
// write semantics (device cache, triggers file).
func atomicWrite(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("envstore: mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".voicepipe-env-*")
	if err != nil {
		return fmt.Errorf("envstore: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("envstore: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("envstore: close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("envstore: chmod temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("envstore: rename into place: %w", err)
	}
	return nil
}
