// Package task defines the broker task/result envelopes Focus exchanges
// over the broker HTTP protocol.
package task

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/samply/focus-go/internal/ast"
	"github.com/samply/focus-go/internal/identity"
)

// Status is a Result's lifecycle state. Progression is strictly
// Claimed -> {Succeeded | PermFailed}; TempFailed may loop back to Claimed,
// but only on the broker side.
type Status string

const (
	Claimed    Status = "claimed"
	Succeeded  Status = "succeeded"
	TempFailed Status = "temp_failed"
	PermFailed Status = "perm_failed"
)

// Metadata is the opaque per-task blob. Focus interprets "project" and
// "execute" from it, plus "task_type" for the exporter backend (see
// ExporterTaskType); everything else round-trips untouched.
type Metadata struct {
	Project string `json:"project"`
	Execute bool   `json:"execute"`

	raw map[string]any
}

// UnmarshalJSON keeps unrecognized fields so Metadata round-trips losslessly
// when echoed back inside a Result.
func (m *Metadata) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	m.raw = raw
	if v, ok := raw["project"].(string); ok {
		m.Project = v
	}
	if v, ok := raw["execute"].(bool); ok {
		m.Execute = v
	}
	return nil
}

// MarshalJSON re-serializes the original fields plus Project/Execute.
func (m Metadata) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(m.raw)+2)
	for k, v := range m.raw {
		out[k] = v
	}
	out["project"] = m.Project
	out["execute"] = m.Execute
	return json.Marshal(out)
}

// ExporterTaskType mirrors exporter.rs's TaskType enum: Status tasks carry
// an explicit "task_type":"status" field in the raw metadata; everything
// else is Create or Execute depending on the Execute flag.
type ExporterTaskType string

const (
	ExporterExecute ExporterTaskType = "execute"
	ExporterCreate  ExporterTaskType = "create"
	ExporterStatus  ExporterTaskType = "status"
)

// ExporterTaskType resolves which of the exporter backend's three request
// shapes this task wants.
func (m Metadata) ExporterTaskType() ExporterTaskType {
	if v, ok := m.raw["task_type"].(string); ok && v == "status" {
		return ExporterStatus
	}
	if m.Execute {
		return ExporterExecute
	}
	return ExporterCreate
}

// RetryPolicy is the only currently-supported FailureStrategy.
type RetryPolicy struct {
	BackoffMillis int `json:"backoff_millis"`
	MaxTries      int `json:"max_tries"`
}

// FailureStrategy wraps the retry policy the way the wire format nests it
// under a "retry" discriminant.
type FailureStrategy struct {
	Retry *RetryPolicy `json:"retry,omitempty"`
}

// Task is the inbound broker task. Immutable after receipt.
type Task struct {
	ID          uuid.UUID             `json:"id"`
	From        identity.ProxyIdentity `json:"from"`
	To          []identity.AppIdentity `json:"to"`
	Metadata    Metadata               `json:"metadata"`
	Body        string                 `json:"body"` // base64-encoded JSON payload
	TTL         string                 `json:"ttl"`
	FailureStrategy FailureStrategy    `json:"failure_strategy"`
}

// Result is the outbound broker result.
type Result struct {
	ID       uuid.UUID        `json:"id"`
	From     identity.AppIdentity   `json:"from"`
	To       []identity.ProxyIdentity `json:"to"`
	Status   Status           `json:"status"`
	Body     *string          `json:"body,omitempty"`
	Metadata *Metadata        `json:"metadata,omitempty"`
}

// ClaimedResult builds the initial Claimed result for a task, reversing
// source and destination the way the broker protocol requires.
func ClaimedResult(t Task, self identity.AppIdentity) Result {
	to := []identity.ProxyIdentity{t.From}
	return Result{ID: t.ID, From: self, To: to, Status: Claimed}
}

// SucceededResult builds a terminal success result carrying the computed
// payload.
func SucceededResult(t Task, self identity.AppIdentity, payload string) Result {
	r := ClaimedResult(t, self)
	r.Status = Succeeded
	r.Body = &payload
	return r
}

// PermFailedResult builds a terminal failure result carrying a human-
// readable reason, per spec.md §7's error classification.
func PermFailedResult(t Task, self identity.AppIdentity, reason string) Result {
	r := ClaimedResult(t, self)
	r.Status = PermFailed
	r.Body = &reason
	return r
}

// PayloadKind discriminates the two shapes a decoded body may take.
type PayloadKind int

const (
	PayloadAst PayloadKind = iota
	PayloadIntermediateRep
)

// Payload is the decoded body: either an Ast wrapper or an intermediate-
// representation envelope (supplemented from intermediate_rep.rs — see
// SPEC_FULL.md §12).
type Payload struct {
	Kind PayloadKind
	Ast  *ast.Ast
	IR   *IntermediateRep
}

// IntermediateRep is a pre-compiled query the task may carry directly
// instead of an AST, bypassing the compiler entirely.
type IntermediateRep struct {
	Lang string `json:"lang"` // e.g. "cql", "sql"
	Query string `json:"query"`
}

type payloadProbe struct {
	Discriminator *string `json:"intermediate_rep_lang"`
}

// DecodeBody base64-decodes Task.Body and dispatches on a discriminant
// field: bodies carrying "intermediate_rep_lang" are an IntermediateRep
// envelope, everything else is parsed as an Ast wrapper.
func DecodeBody(body string) (Payload, error) {
	raw, err := base64.StdEncoding.DecodeString(body)
	if err != nil {
		return Payload{}, fmt.Errorf("task: invalid base64 body: %w", err)
	}

	var probe payloadProbe
	if err := json.Unmarshal(raw, &probe); err != nil {
		return Payload{}, fmt.Errorf("task: invalid JSON body: %w", err)
	}

	if probe.Discriminator != nil {
		var ir struct {
			IntermediateRepLang  string `json:"intermediate_rep_lang"`
			IntermediateRepQuery string `json:"intermediate_rep_query"`
		}
		if err := json.Unmarshal(raw, &ir); err != nil {
			return Payload{}, fmt.Errorf("task: invalid intermediate-rep body: %w", err)
		}
		return Payload{
			Kind: PayloadIntermediateRep,
			IR:   &IntermediateRep{Lang: ir.IntermediateRepLang, Query: ir.IntermediateRepQuery},
		}, nil
	}

	var wrapped ast.Ast
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return Payload{}, fmt.Errorf("task: invalid ast body: %w", err)
	}
	return Payload{Kind: PayloadAst, Ast: &wrapped}, nil
}

// EncodeBody is the inverse of DecodeBody, used by tests and by any
// component that needs to produce a well-formed task body.
func EncodeBody(a ast.Ast) (string, error) {
	raw, err := json.Marshal(a)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}
