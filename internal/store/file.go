package store

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"mira/internal/interview"
)

const (
	sessionFileName    = "session.json"
	transcriptFileName = "transcript.jsonl"
	stateFilePrefix    = "state_"
	resultFilePrefix   = "result_"
)

// File implements Store with one directory per session: session.json,
// state_<module>.json, result_<module>.json, and an append-only
// transcript.jsonl. Records are committed via temp file and rename.
// Transcripts hold clinical conversation, so everything is written
// owner-only.
type File struct {
	root string
	mu   sync.RWMutex
}

// NewFile creates a file store rooted at dir. The directory is created on
// first write.
func NewFile(dir string) *File {
	return &File{root: dir}
}

// Root returns the base directory for session documents.
func (s *File) Root() string {
	return s.root
}

func (s *File) GetSession(_ context.Context, sessionID string) (*interview.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return readJSON[interview.Session](s.sessionPath(sessionID))
}

func (s *File) PutSession(_ context.Context, session *interview.Session) error {
	if session == nil || session.ID == "" {
		return fmt.Errorf("session id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeJSON(s.sessionPath(session.ID), session)
}

func (s *File) GetModuleState(_ context.Context, sessionID, moduleID string) (*interview.ModuleState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return readJSON[interview.ModuleState](s.modulePath(sessionID, stateFilePrefix, moduleID))
}

func (s *File) PutModuleState(_ context.Context, sessionID, moduleID string, state *interview.ModuleState) error {
	if sessionID == "" || moduleID == "" {
		return fmt.Errorf("session and module ids are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeJSON(s.modulePath(sessionID, stateFilePrefix, moduleID), state)
}

func (s *File) GetModuleResult(_ context.Context, sessionID, moduleID string) (*interview.ModuleResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return readJSON[interview.ModuleResult](s.modulePath(sessionID, resultFilePrefix, moduleID))
}

func (s *File) PutModuleResult(_ context.Context, sessionID, moduleID string, result *interview.ModuleResult) error {
	if sessionID == "" || moduleID == "" {
		return fmt.Errorf("session and module ids are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeJSON(s.modulePath(sessionID, resultFilePrefix, moduleID), result)
}

func (s *File) GetAllModuleResults(_ context.Context, sessionID string) (map[string]*interview.ModuleResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dir := s.sessionDir(sessionID)
	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]*interview.ModuleResult{}, nil
		}
		return nil, fmt.Errorf("read session dir: %w", err)
	}

	out := make(map[string]*interview.ModuleResult)
	for _, de := range dirEntries {
		name := de.Name()
		if de.IsDir() || !strings.HasPrefix(name, resultFilePrefix) || !strings.HasSuffix(name, ".json") {
			continue
		}
		res, err := readJSON[interview.ModuleResult](filepath.Join(dir, name))
		if err != nil {
			continue
		}
		key := res.ModuleID
		if key == "" {
			key = strings.TrimSuffix(strings.TrimPrefix(name, resultFilePrefix), ".json")
		}
		out[key] = res
	}
	return out, nil
}

func (s *File) AppendConversationTurn(_ context.Context, sessionID string, turn interview.ConversationTurn) error {
	if sessionID == "" {
		return fmt.Errorf("session id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.sessionDir(sessionID), 0o700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	data, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("encode turn: %w", err)
	}
	data = append(data, '\n')

	f, err := os.OpenFile(s.transcriptPath(sessionID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open transcript: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("append transcript: %w", err)
	}
	return f.Close()
}

func (s *File) GetConversationHistory(_ context.Context, sessionID string, limit int) ([]interview.ConversationTurn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.transcriptPath(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read transcript: %w", err)
	}

	var turns []interview.ConversationTurn
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var turn interview.ConversationTurn
		if err := json.Unmarshal(line, &turn); err != nil {
			// A torn write at the tail must not lose the rest.
			continue
		}
		turns = append(turns, turn)
	}
	if err := scanner.Err(); err != nil {
		return turns, fmt.Errorf("scan transcript: %w", err)
	}

	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	return turns, nil
}

// --- internal helpers ---

func (s *File) sessionDir(sessionID string) string {
	return filepath.Join(s.root, sanitize(sessionID))
}

func (s *File) sessionPath(sessionID string) string {
	return filepath.Join(s.sessionDir(sessionID), sessionFileName)
}

func (s *File) transcriptPath(sessionID string) string {
	return filepath.Join(s.sessionDir(sessionID), transcriptFileName)
}

func (s *File) modulePath(sessionID, prefix, moduleID string) string {
	return filepath.Join(s.sessionDir(sessionID), prefix+sanitize(moduleID)+".json")
}

func (s *File) writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	data = append(data, '\n')

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write record temp: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("commit record: %w", err)
	}
	return nil
}

func readJSON[T any](path string) (*T, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, filepath.Base(path))
		}
		return nil, fmt.Errorf("read record: %w", err)
	}
	out := new(T)
	if err := json.Unmarshal(data, out); err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return out, nil
}

// sanitize keeps ids safe as path segments. Anything outside a conservative
// character set collapses to underscores.
func sanitize(id string) string {
	var b strings.Builder
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "_"
	}
	return b.String()
}
