package config

import (
	"bufio"
	"os"
	"strings"
	"sync"
)

var dotenvMu sync.Mutex
var dotenvKeys = map[string]bool{}

// LoadDotenv reads a dotenv file and applies it to the process environment.
// A missing file is not an error. Variables already set in the environment
// win over file entries, except for keys that an earlier LoadDotenv call
// itself set; those are refreshed so the envCache capability can pick up
// edits to the file at runtime.
func LoadDotenv(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	dotenvMu.Lock()
	defer dotenvMu.Unlock()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		key, value, ok := parseDotenvLine(scanner.Text())
		if !ok {
			continue
		}
		if _, exists := os.LookupEnv(key); exists && !dotenvKeys[key] {
			continue
		}
		os.Setenv(key, value)
		dotenvKeys[key] = true
	}
	return scanner.Err()
}

// parseDotenvLine handles blank lines, comments, an optional "export "
// prefix, and single or double quoted values.
func parseDotenvLine(line string) (key, value string, ok bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return "", "", false
	}
	line = strings.TrimPrefix(line, "export ")

	key, value, ok = strings.Cut(line, "=")
	if !ok {
		return "", "", false
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return "", "", false
	}
	value = strings.TrimSpace(value)
	if len(value) >= 2 {
		if (value[0] == '"' && value[len(value)-1] == '"') ||
			(value[0] == '\'' && value[len(value)-1] == '\'') {
			return key, value[1 : len(value)-1], true
		}
	}
	if i := strings.Index(value, " #"); i >= 0 {
		value = strings.TrimSpace(value[:i])
	}
	return key, value, true
}
