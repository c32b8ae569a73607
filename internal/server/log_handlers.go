package server

import (
	"bufio"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

const maxLogLines = 10000

// LogHandlers serves the tail of the application log file
type LogHandlers struct {
	log  zerolog.Logger
	path string
}

// NewLogHandlers creates a new log handlers instance
func NewLogHandlers(log zerolog.Logger, path string) *LogHandlers {
	return &LogHandlers{
		log:  log.With().Str("component", "log_handlers").Logger(),
		path: path,
	}
}

// LogContentResponse represents log content
type LogContentResponse struct {
	Lines  []string `json:"lines"`
	Total  int      `json:"total"`
	Status string   `json:"status"`
}

// HandleGetLogs returns the last lines of the log file, optionally filtered by level and search term
func (h *LogHandlers) HandleGetLogs(w http.ResponseWriter, r *http.Request) {
	lines := parseLines(r.URL.Query().Get("lines"), 100)
	level := strings.ToUpper(r.URL.Query().Get("level"))
	search := r.URL.Query().Get("search")

	h.log.Debug().
		Int("lines", lines).
		Str("level", level).
		Str("search", search).
		Msg("Getting log content")

	h.serveTail(w, lines, level, search)
}

// HandleGetErrors returns error lines from the end of the log file
func (h *LogHandlers) HandleGetErrors(w http.ResponseWriter, r *http.Request) {
	lines := parseLines(r.URL.Query().Get("lines"), 500)
	h.serveTail(w, lines, "ERROR", "")
}

func (h *LogHandlers) serveTail(w http.ResponseWriter, lines int, level, search string) {
	logLines, err := tailFile(h.path, lines)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logLines = []string{}
		} else {
			h.log.Error().Err(err).Str("path", h.path).Msg("Failed to read log file")
			http.Error(w, "Failed to read logs", http.StatusInternalServerError)
			return
		}
	}

	response := LogContentResponse{
		Lines:  filterLogs(logLines, level, search),
		Total:  len(logLines),
		Status: "ok",
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode log response")
	}
}

func parseLines(v string, def int) int {
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	if n > maxLogLines {
		return maxLogLines
	}
	return n
}

// tailFile returns the last n lines of the file at path
func tailFile(path string, n int) ([]string, error) {
	if path == "" {
		return []string{}, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	ring := make([]string, 0, n)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if len(ring) == n {
			ring = ring[1:]
		}
		ring = append(ring, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return ring, nil
}

// filterLogs filters log lines by level and search term
func filterLogs(lines []string, level string, search string) []string {
	filtered := make([]string, 0, len(lines))

	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if level != "" && !lineMatchesLevel(line, level) {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(line), strings.ToLower(search)) {
			continue
		}
		filtered = append(filtered, line)
	}

	return filtered
}

// lineMatchesLevel checks if a log line matches the specified level.
// Both zerolog JSON lines and console lines are recognized.
func lineMatchesLevel(line string, level string) bool {
	if strings.Contains(line, `"level"`) {
		return strings.Contains(strings.ToLower(line), `"level":"`+strings.ToLower(level)+`"`)
	}

	upperLine := strings.ToUpper(line)
	upperLevel := strings.ToUpper(level)

	// zerolog's console writer abbreviates levels (ERR, WRN, INF, DBG)
	short := map[string]string{"ERROR": "ERR", "WARN": "WRN", "INFO": "INF", "DEBUG": "DBG"}[upperLevel]

	return strings.Contains(upperLine, upperLevel+":") ||
		strings.Contains(upperLine, "["+upperLevel+"]") ||
		strings.Contains(upperLine, " "+upperLevel+" ") ||
		(short != "" && strings.Contains(upperLine, " "+short+" "))
}
