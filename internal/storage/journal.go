// Package storage keeps a per-session journal of control steps on disk.
// Only step metadata is written, never image or video payloads. Each
// session is a JSON lines file: a header line, then one line per step.
package storage

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrSessionNotFound is returned for unknown session uids.
var ErrSessionNotFound = errors.New("journal session not found")

// Step represents one dispatched control request and how it ended.
type Step struct {
	RequestID   string   `json:"request_id"`
	Timestamp   string   `json:"timestamp"`
	Keys        []string `json:"keys"`
	Pipeline    string   `json:"pipeline"`
	Success     bool     `json:"success"`
	Media       string   `json:"media,omitempty"`
	Action      string   `json:"action,omitempty"`
	ProcessedAt string   `json:"processed_at,omitempty"`
	LatencyMS   int64    `json:"latency_ms"`
	Error       string   `json:"error,omitempty"`
}

// SessionInfo represents a journal file summary.
type SessionInfo struct {
	UID        string `json:"uid"`
	CreatedAt  string `json:"created_at"`
	Steps      int    `json:"steps"`
	LatestStep *Step  `json:"latest_step,omitempty"`
}

type journalHeader struct {
	CreatedAt string `json:"created_at"`
}

type journalFile struct {
	CreatedAt string
	Steps     []Step
}

const journalExt = ".jsonl"

var safeNamePattern = regexp.MustCompile(`^[A-Za-z0-9_\-\.]+$`)

// Journal stores one JSON file per session under a base directory.
type Journal struct {
	dir string
	now func() time.Time

	mu sync.Mutex
}

// NewJournal creates the base directory if needed.
func NewJournal(dir string) (*Journal, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("journal dir is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create journal dir %s: %w", dir, err)
	}
	return &Journal{dir: dir, now: time.Now}, nil
}

// CreateSession starts an empty journal file and returns its uid.
func (j *Journal) CreateSession() (string, error) {
	now := j.now()
	uid := now.Format("2006-01-02_15-04-05") + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")

	j.mu.Lock()
	defer j.mu.Unlock()
	path, err := j.path(uid)
	if err != nil {
		return "", err
	}
	line, err := json.Marshal(journalHeader{CreatedAt: now.Format(time.RFC3339)})
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, append(line, '\n'), 0o644); err != nil {
		return "", err
	}
	return uid, nil
}

// Append writes one step line to the end of the session's journal. The
// existing content is never read or rewritten.
func (j *Journal) Append(uid string, step Step) error {
	if step.Timestamp == "" {
		step.Timestamp = j.now().Format(time.RFC3339Nano)
	}
	path, err := j.path(uid)
	if err != nil {
		return err
	}
	line, err := json.Marshal(step)
	if err != nil {
		return err
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, uid)
	}
	if err != nil {
		return err
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		f.Close()
		return fmt.Errorf("append journal %s: %w", uid, err)
	}
	return f.Close()
}

// Steps returns every step recorded for the session in order.
func (j *Journal) Steps(uid string) ([]Step, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	file, err := j.read(uid)
	if err != nil {
		return nil, err
	}
	if file.Steps == nil {
		file.Steps = []Step{}
	}
	return file.Steps, nil
}

// Delete removes the session's journal. It reports whether a file was removed.
func (j *Journal) Delete(uid string) bool {
	path, err := j.path(uid)
	if err != nil {
		return false
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return os.Remove(path) == nil
}

// List summarizes every journal, newest first.
func (j *Journal) List() []SessionInfo {
	list := []SessionInfo{}

	j.mu.Lock()
	defer j.mu.Unlock()
	entries, err := os.ReadDir(j.dir)
	if err != nil {
		return list
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), journalExt) {
			continue
		}
		uid := strings.TrimSuffix(entry.Name(), journalExt)
		file, err := j.read(uid)
		if err != nil {
			continue
		}
		info := SessionInfo{UID: uid, CreatedAt: file.CreatedAt, Steps: len(file.Steps)}
		if n := len(file.Steps); n > 0 {
			latest := file.Steps[n-1]
			info.LatestStep = &latest
		}
		list = append(list, info)
	}

	sort.Slice(list, func(a, b int) bool {
		return list[a].CreatedAt > list[b].CreatedAt
	})
	return list
}

func (j *Journal) path(uid string) (string, error) {
	if !safeNamePattern.MatchString(uid) {
		return "", errors.New("invalid journal uid")
	}
	return filepath.Join(j.dir, uid+journalExt), nil
}

func (j *Journal) read(uid string) (journalFile, error) {
	path, err := j.path(uid)
	if err != nil {
		return journalFile{}, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return journalFile{}, fmt.Errorf("%w: %s", ErrSessionNotFound, uid)
	}
	if err != nil {
		return journalFile{}, err
	}
	return decodeJournal(uid, data)
}

func decodeJournal(uid string, data []byte) (journalFile, error) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var file journalFile
	header := true
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if header {
			var h journalHeader
			if err := json.Unmarshal(line, &h); err != nil {
				return journalFile{}, fmt.Errorf("decode journal %s header: %w", uid, err)
			}
			file.CreatedAt = h.CreatedAt
			header = false
			continue
		}
		var step Step
		if err := json.Unmarshal(line, &step); err != nil {
			return journalFile{}, fmt.Errorf("decode journal %s step %d: %w", uid, len(file.Steps)+1, err)
		}
		file.Steps = append(file.Steps, step)
	}
	if err := scanner.Err(); err != nil {
		return journalFile{}, fmt.Errorf("read journal %s: %w", uid, err)
	}
	return file, nil
}
