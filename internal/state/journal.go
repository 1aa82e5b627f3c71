// internal/state/journal.go
package state

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/user/coredelegate/internal/types"
)

// RunJournal is a JSONL-backed append-only log of cron executions.
// Records are stored per job in jobs/<job>.jsonl.
type RunJournal struct {
	root string
	mu   sync.Mutex
	jobs map[string]*jobLog
}

// jobLog serializes access to one job's file and remembers its last Seq
// once the file has been read.
type jobLog struct {
	mu      sync.Mutex
	lastSeq int64
	loaded  bool
}

// NewRunJournal creates a journal rooted at the given directory.
func NewRunJournal(root string) *RunJournal {
	return &RunJournal{
		root: root,
		jobs: make(map[string]*jobLog),
	}
}

func (j *RunJournal) log(job string) *jobLog {
	j.mu.Lock()
	defer j.mu.Unlock()

	l, ok := j.jobs[job]
	if !ok {
		l = &jobLog{}
		j.jobs[job] = l
	}
	return l
}

func (j *RunJournal) path(job string) string {
	safe := strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == os.PathSeparator {
			return '_'
		}
		return r
	}, job)
	return filepath.Join(j.root, "jobs", safe+".jsonl")
}

func (j *RunJournal) read(job string) ([]*types.RunRecord, error) {
	f, err := os.Open(j.path(job))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()

	var recs []*types.RunRecord
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec types.RunRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return nil, fmt.Errorf("unmarshal run record: %w", err)
		}
		recs = append(recs, &rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan journal: %w", err)
	}
	return recs, nil
}

// Append adds rec to its job's journal and assigns its sequence number.
func (j *RunJournal) Append(_ context.Context, rec *types.RunRecord) error {
	l := j.log(rec.Job)
	l.mu.Lock()
	defer l.mu.Unlock()

	p := j.path(rec.Job)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("create journal dir: %w", err)
	}

	if !l.loaded {
		existing, err := j.read(rec.Job)
		if err != nil {
			return err
		}
		if n := len(existing); n > 0 {
			l.lastSeq = existing[n-1].Seq
		}
		l.loaded = true
	}
	rec.Seq = l.lastSeq + 1

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal run record: %w", err)
	}

	f, err := os.OpenFile(p, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()

	data = append(data, '\n')
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("write run record: %w", err)
	}
	l.lastSeq = rec.Seq
	return nil
}

// Tail returns the last limit records of a job, oldest first.
func (j *RunJournal) Tail(_ context.Context, job string, limit int) ([]*types.RunRecord, error) {
	l := j.log(job)
	l.mu.Lock()
	defer l.mu.Unlock()

	recs, err := j.read(job)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(recs) > limit {
		recs = recs[len(recs)-limit:]
	}
	return recs, nil
}
