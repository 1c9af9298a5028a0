package processing

import (
	"os"
	"strconv"
	"strings"
)

// ParseTimeLog reads a job's time log into a key/epoch map. The job script
// appends "key=<unix seconds>" lines around the script body and the capture
// markers; unparsable lines and comments are skipped so a partially written
// log (job still running) yields the entries present so far.
func ParseTimeLog(path string) (map[string]int64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	entries := make(map[string]int64)
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		ts, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
		if err != nil {
			continue
		}
		entries[strings.TrimSpace(key)] = ts
	}
	return entries, nil
}
