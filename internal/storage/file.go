package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"jobsched/internal/job"
	logx "jobsched/pkg/logx"
)

const compactEvery = 500

// fileStore keeps job definitions in two files:
//   - <prefix>.jobs.snapshot.json (id -> job, rewritten on compaction)
//   - <prefix>.jobs.journal.jsonl (append-only put/del records)
//
// The journal is compacted into the snapshot every compactEvery writes and
// on Close.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	snapshotPath string
	journal      *os.File
	jobs         map[job.ID]json.RawMessage

	writes int
}

type journalRecord struct {
	Op  string          `json:"op"`
	ID  job.ID          `json:"id"`
	Job json.RawMessage `json:"job,omitempty"`
}

const (
	opPut = "put"
	opDel = "del"
)

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	snapPath := prefix + ".jobs.snapshot.json"
	journalPath := prefix + ".jobs.journal.jsonl"

	jobs := map[job.ID]json.RawMessage{}
	if err := loadSnapshot(snapPath, jobs); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if err := replayJournal(journalPath, jobs, log); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}

	return &fileStore{
		log:          log,
		snapshotPath: snapPath,
		journal:      jf,
		jobs:         jobs,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil
	}
	err := s.compactLocked()
	if cerr := s.journal.Close(); err == nil {
		err = cerr
	}
	s.journal = nil
	return err
}

func (s *fileStore) SaveJob(_ context.Context, j job.Job) error {
	raw, err := json.Marshal(j)
	if err != nil {
		return err
	}
	return s.append(journalRecord{Op: opPut, ID: j.ID, Job: raw})
}

func (s *fileStore) DeleteJob(_ context.Context, id job.ID) error {
	return s.append(journalRecord{Op: opDel, ID: id})
}

func (s *fileStore) append(rec journalRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return ErrClosed
	}
	if err := json.NewEncoder(s.journal).Encode(rec); err != nil {
		return err
	}
	apply(s.jobs, rec)

	s.writes++
	if s.writes%compactEvery == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("journal compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) LoadJobs(_ context.Context) ([]job.Job, error) {
	s.mu.Lock()
	ids := make([]job.ID, 0, len(s.jobs))
	for id := range s.jobs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, k int) bool { return ids[i] < ids[k] })
	raws := make([]json.RawMessage, len(ids))
	for i, id := range ids {
		raws[i] = s.jobs[id]
	}
	s.mu.Unlock()

	out := make([]job.Job, 0, len(raws))
	for i, raw := range raws {
		var j job.Job
		if err := json.Unmarshal(raw, &j); err != nil {
			s.log.Warn("skipping unreadable job record", logx.String("job", string(ids[i])), logx.Err(err))
			continue
		}
		out = append(out, j)
	}
	return out, nil
}

func (s *fileStore) compactLocked() error {
	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(s.jobs); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	_, err = s.journal.Seek(0, io.SeekEnd)
	return err
}

func apply(m map[job.ID]json.RawMessage, rec journalRecord) {
	switch rec.Op {
	case opPut:
		m[rec.ID] = rec.Job
	case opDel:
		delete(m, rec.ID)
	}
}

func loadSnapshot(path string, out map[job.ID]json.RawMessage) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var m map[job.ID]json.RawMessage
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	for k, v := range m {
		out[k] = v
	}
	return nil
}

// replayJournal applies journal records on top of the snapshot. A torn last
// line from a crash is skipped.
func replayJournal(path string, out map[job.ID]json.RawMessage, log logx.Logger) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64<<10), 4<<20)
	line := 0
	for sc.Scan() {
		line++
		var r journalRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil || r.ID == "" {
			log.Warn("skipping bad journal line", logx.Int("line", line), logx.Err(err))
			continue
		}
		apply(out, r)
	}
	return sc.Err()
}
