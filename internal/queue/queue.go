// Package queue implements the durable, FS-backed plan and result queue
// (§4.C): a FIFO of pending plans keyed by timestamped folders under
// <storage>/plans, a crash-safe stamp file for replay suppression, and the
// result folder lifecycle (plan.json arrives first, result.json is added
// once the plan has run, the folder is removed only after the result is
// published).
//
// Ported from muranoagent/execution_plan_queue.py's ExecutionPlanQueue.
package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/kestrel-ops/guestagent/internal/codec"
	"github.com/kestrel-ops/guestagent/internal/plan"
	"github.com/kestrel-ops/guestagent/internal/signer"
)

const (
	planFilename   = "plan.json"
	resultFilename = "result.json"
	stampFilename  = "stamp"
	dirMode        = 0o700
)

// Store is the durable plan/result queue rooted at <storage>/plans.
type Store struct {
	root      string
	verifier  *signer.Verifier
	logger    *slog.Logger
	lastStamp int64
}

// Open creates (or reuses and re-secures) <storage>/plans and loads the
// persisted stamp.
func Open(storageRoot string, verifier *signer.Verifier, logger *slog.Logger) (*Store, error) {
	root := filepath.Join(storageRoot, "plans")
	if _, err := os.Stat(root); errors.Is(err, fs.ErrNotExist) {
		if err := os.MkdirAll(root, dirMode); err != nil {
			return nil, fmt.Errorf("creating plan store: %w", err)
		}
	} else if err != nil {
		return nil, err
	} else if err := os.Chmod(root, dirMode); err != nil {
		logger.Warn("could not coerce plan store permissions", "error", err)
	}

	s := &Store{root: root, verifier: verifier, logger: logger}
	if err := s.loadStamp(); err != nil {
		return nil, err
	}
	return s, nil
}

// Put persists a new pending plan in a freshly timestamped folder.
func (s *Store) Put(planBytes, signature []byte, msgID, replyTo string) error {
	dir, err := s.newTimestampDir()
	if err != nil {
		return err
	}

	rec := plan.Record{
		Data:      codec.EncodeBytes(planBytes),
		Signature: codec.EncodeBytes(signature),
		ID:        msgID,
		ReplyTo:   replyTo,
	}
	return writeJSON(filepath.Join(dir, planFilename), rec)
}

// newTimestampDir allocates a folder named by a strictly-increasing decimal
// timestamp (hundred-microsecond resolution since epoch, matching
// muranoagent's int(time.time() * 10000)). Collisions are resolved by
// bumping the candidate timestamp so two plans enqueued in the same tick
// still sort FIFO.
func (s *Store) newTimestampDir() (string, error) {
	ts := time.Now().UnixNano() / 100000
	for {
		dir := filepath.Join(s.root, strconv.FormatInt(ts, 10))
		err := os.Mkdir(dir, dirMode)
		if err == nil {
			return dir, nil
		}
		if errors.Is(err, fs.ErrExist) {
			ts++
			continue
		}
		return "", fmt.Errorf("allocating plan folder: %w", err)
	}
}

// PeekPlan returns the oldest pending plan, or nil if none is pending.
// Malformed, unsigned, or duplicate/stale-stamped candidates are dropped
// (their folder removed) and the next oldest candidate is tried, so a single
// poisoned plan can never wedge the pump.
func (s *Store) PeekPlan() (*plan.Plan, error) {
	for {
		timestamp := s.firstTimestamp(planFilename)
		if timestamp == "" {
			return nil, nil
		}

		p, err := s.loadPlan(timestamp)
		if err != nil {
			s.logger.Warn("dropping unusable plan", "timestamp", timestamp, "error", err)
			_ = s.Remove(timestamp)
			continue
		}
		return p, nil
	}
}

func (s *Store) loadPlan(timestamp string) (*plan.Plan, error) {
	dir := filepath.Join(s.root, timestamp)
	var rec plan.Record
	if err := readJSON(filepath.Join(dir, planFilename), &rec); err != nil {
		return nil, err
	}

	data, err := codec.DecodeBytes(rec.Data)
	if err != nil {
		return nil, fmt.Errorf("decoding plan data: %w", err)
	}

	if s.verifier.Enabled() {
		sig, err := codec.DecodeBytes(rec.Signature)
		if err != nil {
			return nil, fmt.Errorf("decoding signature: %w", err)
		}
		if err := s.verifier.Verify(data, sig); err != nil {
			return nil, err
		}
	}

	var p plan.Plan
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("message is not a valid plan document: %w", err)
	}

	if p.Stamp != nil {
		if *p.Stamp <= s.lastStamp {
			return nil, fmt.Errorf("dropping old/duplicate message (stamp %d <= %d)", *p.Stamp, s.lastStamp)
		}
		if err := s.saveStamp(*p.Stamp); err != nil {
			return nil, err
		}
	}

	if p.ID == "" {
		p.ID = rec.ID
	}
	if p.ReplyTo == "" {
		p.ReplyTo = rec.ReplyTo
	}
	p.Timestamp = timestamp
	return &p, nil
}

// PutResult writes the result envelope alongside the plan it belongs to.
func (s *Store) PutResult(result plan.Result, p *plan.Plan) error {
	if p.ReplyTo != "" {
		result.ReplyTo = p.ReplyTo
	}
	dir := filepath.Join(s.root, p.Timestamp)
	return writeJSON(filepath.Join(dir, resultFilename), result)
}

// PeekResult returns the oldest pending result and the timestamp of the
// folder it lives in, or (nil, "") if none is pending.
func (s *Store) PeekResult() (*plan.Result, string, error) {
	timestamp := s.firstTimestamp(resultFilename)
	if timestamp == "" {
		return nil, "", nil
	}
	var result plan.Result
	path := filepath.Join(s.root, timestamp, resultFilename)
	if err := readJSON(path, &result); err != nil {
		return nil, "", fmt.Errorf("reading result %s: %w", timestamp, err)
	}
	return &result, timestamp, nil
}

// Remove deletes a plan folder and everything in it.
func (s *Store) Remove(timestamp string) error {
	return os.RemoveAll(filepath.Join(s.root, timestamp))
}

// firstTimestamp returns the lexicographically (== chronologically) smallest
// folder name containing filename, or "" if none qualifies.
func (s *Store) firstTimestamp(filename string) string {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return ""
	}
	var candidates []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(s.root, e.Name(), filename)); err == nil {
			candidates = append(candidates, e.Name())
		}
	}
	if len(candidates) == 0 {
		return ""
	}
	sort.Strings(candidates)
	return candidates[0]
}

func (s *Store) loadStamp() error {
	path := filepath.Join(s.root, stampFilename)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		s.lastStamp = 0
		return nil
	}
	if err != nil {
		return err
	}
	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("corrupt stamp file: %w", err)
	}
	s.lastStamp = n
	return nil
}

func (s *Store) saveStamp(stamp int64) error {
	path := filepath.Join(s.root, stampFilename)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(strconv.FormatInt(stamp, 10)), 0o600); err != nil {
		return fmt.Errorf("writing stamp: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("committing stamp: %w", err)
	}
	s.lastStamp = stamp
	return nil
}

func writeJSON(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
