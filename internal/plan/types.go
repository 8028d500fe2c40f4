// Package plan defines the execution-plan document model and the wire
// envelopes the agent reads and writes: the pending-plan record persisted by
// the durable queue, the execution plan itself, and the execution-result
// envelope published back to the orchestrator.
package plan

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kestrel-ops/guestagent/internal/agenterr"
)

// DefaultFormatVersion is used when a plan omits FormatVersion.
const DefaultFormatVersion = "1.0.0"

// MaxFormatVersion is the highest FormatVersion this agent accepts.
const MaxFormatVersion = "2.2.0"

// ResultAction is the Action value stamped on every published result.
const ResultAction = "Execution:Result"

// ResultFormatVersion is the FormatVersion stamped on every published result.
const ResultFormatVersion = "2.0.0"

// Script types recognised by the validator and executor registry.
const (
	TypeApplication = "Application"
	TypeChef        = "Chef"
	TypePuppet      = "Puppet"
)

// File body encodings for inline files.
const (
	BodyTypeText   = "Text"
	BodyTypeBase64 = "Base64"
)

// FileTypeDownloadable marks a File as fetched from an external URL rather
// than carried inline.
const FileTypeDownloadable = "Downloadable"

// Plan is the execution plan document delivered by the orchestrator.
type Plan struct {
	FormatVersion string             `json:"FormatVersion,omitempty"`
	ID            string             `json:"ID,omitempty"`
	ReplyTo       string             `json:"ReplyTo,omitempty"`
	Stamp         *int64             `json:"Stamp,omitempty"`
	Body          string             `json:"Body"`
	Scripts       map[string]Script  `json:"Scripts"`
	Files         map[string]File    `json:"Files"`
	Options       map[string]any     `json:"Options,omitempty"`
	Parameters    map[string]any     `json:"Parameters,omitempty"`

	// Timestamp is the plan store folder name this plan was loaded from.
	// It is never part of the wire document.
	Timestamp string `json:"-"`
}

// EffectiveFormatVersion returns Plan.FormatVersion, defaulted per §3.
func (p *Plan) EffectiveFormatVersion() string {
	if p.FormatVersion == "" {
		return DefaultFormatVersion
	}
	return p.FormatVersion
}

// Script is one entry of Plan.Scripts.
type Script struct {
	Type       string         `json:"Type"`
	EntryPoint string         `json:"EntryPoint"`
	Files      []FileRef      `json:"Files,omitempty"`
	Options    map[string]any `json:"Options,omitempty"`
}

// FileRef is one element of Script.Files: either a bare file id, or a
// single-entry mapping from a logical alias to a file id (used to give a
// downloadable file a script-local name).
type FileRef struct {
	FileID string
	Alias  string // empty unless this ref came from an aliasing map
}

// UnmarshalJSON accepts either a JSON string (bare file id) or a single-key
// JSON object (alias -> file id).
func (f *FileRef) UnmarshalJSON(data []byte) error {
	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		f.FileID = asString
		f.Alias = ""
		return nil
	}

	var asMap map[string]string
	if err := json.Unmarshal(data, &asMap); err != nil {
		return fmt.Errorf("file reference is neither a string nor a single-key object: %w", err)
	}
	if len(asMap) != 1 {
		return fmt.Errorf("file reference object must have exactly one entry, got %d", len(asMap))
	}
	for alias, id := range asMap {
		f.Alias = alias
		f.FileID = id
	}
	return nil
}

// MarshalJSON mirrors UnmarshalJSON's two shapes.
func (f FileRef) MarshalJSON() ([]byte, error) {
	if f.Alias == "" {
		return json.Marshal(f.FileID)
	}
	return json.Marshal(map[string]string{f.Alias: f.FileID})
}

// ResolvedID returns the file id this reference points at, for Files map
// lookups. The name the file is materialised under (Alias when present,
// else the file's own Name) is chosen by the artifact cache.
func (f FileRef) ResolvedID() string { return f.FileID }

// File is one entry of Plan.Files: either an inline file (Body/BodyType set)
// or a downloadable file (Type=Downloadable, URL set).
type File struct {
	// Inline shape.
	Body     string `json:"Body,omitempty"`
	BodyType string `json:"BodyType,omitempty"`

	// Downloadable shape.
	Type string `json:"Type,omitempty"`
	URL  string `json:"URL,omitempty"`

	Name string `json:"Name"`
}

// IsDownloadable reports whether this file is fetched from URL rather than
// carried inline.
func (f File) IsDownloadable() bool { return f.Type == FileTypeDownloadable }

// Record is the pending-plan record persisted by the durable queue: the
// envelope written as plan.json in each timestamped folder (§3, §4.C).
type Record struct {
	Data      string `json:"Data"`
	Signature string `json:"Signature"`
	ID        string `json:"ID"`
	ReplyTo   string `json:"ReplyTo"`
}

// Result is the execution-result envelope published back to the
// orchestrator (§3).
type Result struct {
	FormatVersion string `json:"FormatVersion"`
	ID            string `json:"ID"`
	SourceID      string `json:"SourceID"`
	Action        string `json:"Action"`
	ErrorCode     int    `json:"ErrorCode"`
	Body          any    `json:"Body"`
	Time          string `json:"Time"`
	ReplyTo       string `json:"ReplyTo,omitempty"`
}

// ErrorBody is the Body shape for a failed Result (§4.G from_error).
type ErrorBody struct {
	Message        string `json:"Message"`
	AdditionalInfo any    `json:"AdditionalInfo"`
}

// ExecutorResult is the {exitCode, stdout, stderr} shape every executor
// returns (§4.F) and the shape stashed as AdditionalInfo on executor
// failures.
type ExecutorResult struct {
	ExitCode int    `json:"exitCode"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
}

func newResultID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

func resultTimestamp() string {
	return time.Now().UTC().Format("2006-01-02 15:04:05.000000")
}

// NewResult builds a successful result envelope for body produced by running
// the plan identified by sourceID, matching
// execution_result.py's ExecutionResult.from_result. sourceID must be
// non-empty, exactly as the Python version's ID-attribute check.
func NewResult(body any, sourceID string) (Result, error) {
	if sourceID == "" {
		return Result{}, fmt.Errorf("ID attribute is missing from execution plan")
	}
	return Result{
		FormatVersion: ResultFormatVersion,
		ID:            newResultID(),
		SourceID:      sourceID,
		Action:        ResultAction,
		ErrorCode:     0,
		Body:          body,
		Time:          resultTimestamp(),
	}, nil
}

// NewErrorResult builds a failed result envelope from err, matching
// ExecutionResult.from_error. An *agenterr.AgentError's Code/Additional are
// carried through; any other error defaults to ErrorCode 1.
func NewErrorResult(err error, sourceID string) (Result, error) {
	if sourceID == "" {
		return Result{}, fmt.Errorf("ID attribute is missing from execution plan")
	}
	code := 1
	var additional any
	var ae *agenterr.AgentError
	if errors.As(err, &ae) {
		code = ae.Code
		additional = ae.Additional
	}
	return Result{
		FormatVersion: ResultFormatVersion,
		ID:            newResultID(),
		SourceID:      sourceID,
		Action:        ResultAction,
		ErrorCode:     code,
		Body:          ErrorBody{Message: err.Error(), AdditionalInfo: additional},
		Time:          resultTimestamp(),
	}, nil
}
