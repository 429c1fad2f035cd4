// Package audit records gate decisions as an append-only JSONL log.
package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Record is one auditable decision.
type Record struct {
	Time     time.Time `json:"time"`
	SkillID  string    `json:"skill_id"`
	Verdict  string    `json:"verdict"`
	Decision string    `json:"decision"`
}

// Log appends decision records to a JSONL file. Appends are serialized;
// records are never rewritten.
type Log struct {
	mu   sync.Mutex
	path string
}

// NewLog creates a log writing to path.
func NewLog(path string) *Log {
	return &Log{path: path}
}

// Append writes one record.
func (l *Log) Append(skillID, verdict, decision string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("creating audit dir: %w", err)
	}

	rec := Record{
		Time:     time.Now().UTC(),
		SkillID:  skillID,
		Verdict:  verdict,
		Decision: decision,
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling audit record: %w", err)
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("opening audit log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("writing audit record: %w", err)
	}
	return nil
}

// ReadAll returns every record in order. A missing log file yields an
// empty slice.
func (l *Log) ReadAll() ([]Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var records []Record
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			continue // Skip corrupt lines rather than losing the rest
		}
		records = append(records, rec)
	}
	return records, scanner.Err()
}
