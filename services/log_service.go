package services

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fsnotify/fsnotify"
)

type LogService struct {
	path string
}

/**
 * Create new log service instance
 * @param {string} path - Keeper log file, normally logger.LogPath(&cfg.Log)
 * @returns {LogService} Returns new log service instance
 * @description
 * - Reads the keeper's own log, not the logs of deployed services
 * - Used by `deploy-keeper logs` and GET /deploy-keeper/api/v1/logs
 */
func NewLogService(path string) *LogService {
	return &LogService{path: path}
}

func (ls *LogService) Path() string {
	return ls.path
}

// 日志行格式: "INFO: 2024/01/01 10:00:00 file.go:12: message"
func matchLevel(line, level string) bool {
	if level == "" {
		return true
	}
	return strings.HasPrefix(line, strings.ToUpper(level)+": ")
}

/**
 * Read the last lines of the log file
 * @param {int} lines - Maximum lines returned, <= 0 returns all
 * @param {string} level - Only lines of this level (debug/info/warn/error), empty keeps all
 * @param {string} target - Only lines mentioning this target, empty keeps all
 * @returns {[]string} Matching lines, oldest first
 * @returns {error} Returns error if the log file cannot be read
 */
func (ls *LogService) Tail(lines int, level, target string) ([]string, error) {
	if ls.path == "" {
		return nil, fmt.Errorf("logging to console, no log file to read")
	}
	f, err := os.Open(ls.path)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()

	var result []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !matchLevel(line, level) {
			continue
		}
		if target != "" && !strings.Contains(line, target) {
			continue
		}
		result = append(result, line)
		// 只保留最后lines行
		if lines > 0 && len(result) > lines {
			result = result[1:]
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read log file: %w", err)
	}
	return result, nil
}

/**
 * Stream lines appended to the log file until ctx is done
 * @param {context.Context} ctx - Cancel to stop following
 * @param {io.Writer} w - Destination of new lines
 * @param {string} level - Level filter, empty keeps all
 * @returns {error} Returns nil when ctx is cancelled, the watcher error otherwise
 * @description
 * - Starts at the current end of the file
 * - Write events from fsnotify trigger a read of the appended bytes
 */
func (ls *LogService) Follow(ctx context.Context, w io.Writer, level string) error {
	if ls.path == "" {
		return fmt.Errorf("logging to console, no log file to follow")
	}
	f, err := os.Open(ls.path)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	if err := watcher.Add(ls.path); err != nil {
		return err
	}

	reader := bufio.NewReader(f)
	var partial string
	flush := func() {
		for {
			chunk, err := reader.ReadString('\n')
			if err != nil {
				// 行未写完，等下一次写事件
				partial += chunk
				return
			}
			line := partial + chunk
			partial = ""
			if matchLevel(line, level) {
				_, _ = io.WriteString(w, line)
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Write) {
				flush()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return err
		}
	}
}
