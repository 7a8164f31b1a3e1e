package reconciler

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"gitlab.bluewillows.net/root/trafego/pkg/record"
)

// OpType is the kind of change an operation applies.
type OpType string

const (
	// OpCreate adds a record at the provider.
	OpCreate OpType = "create"
	// OpUpdate replaces an existing provider record in place.
	OpUpdate OpType = "update"
	// OpDelete removes an expired orphan at the provider.
	OpDelete OpType = "delete"
)

// OpStatus is the outcome of an operation.
type OpStatus string

const (
	// StatusPending means the operation has not been executed.
	StatusPending OpStatus = "pending"
	// StatusSuccess means the operation was applied and persisted.
	StatusSuccess OpStatus = "success"
	// StatusFailed means the operation failed after retries.
	StatusFailed OpStatus = "failed"
	// StatusSkipped means the operation was not attempted (dry run, or a
	// conflict pre-check resolved it without touching the provider).
	StatusSkipped OpStatus = "skipped"
)

// Operation is one planned change against a provider.
type Operation struct {
	Type   OpType
	Status OpStatus

	// Record is the desired state for creates and updates, and the last
	// known state for deletes.
	Record record.Record

	// ExternalID is the provider-native id for updates and deletes.
	// Empty for creates until the provider assigns one.
	ExternalID string

	// Reason documents why the operation was skipped or failed.
	Reason string

	// Err holds the execution error, if any.
	Err error
}

// String returns a human-readable representation of the operation.
func (o Operation) String() string {
	s := fmt.Sprintf("[%s] %s %s %s", o.Status, o.Type, o.Record.Type, o.Record.Name)
	if o.Reason != "" {
		s += ": " + o.Reason
	}
	if o.Err != nil {
		s += ": " + o.Err.Error()
	}
	return s
}

// Plan is the ordered set of operations one reconciliation cycle intends
// to apply: deletes first, then updates, then creates, each category in
// lexicographic (name, type) order.
type Plan struct {
	ID         string
	ProviderID string
	CreatedAt  time.Time
	DryRun     bool

	Deletes []Operation
	Updates []Operation
	Creates []Operation
}

func newPlan(providerID string, dryRun bool) *Plan {
	return &Plan{
		ID:         uuid.NewString(),
		ProviderID: providerID,
		CreatedAt:  time.Now().UTC(),
		DryRun:     dryRun,
	}
}

// Operations returns every operation in application order.
func (p *Plan) Operations() []Operation {
	out := make([]Operation, 0, len(p.Deletes)+len(p.Updates)+len(p.Creates))
	out = append(out, p.Deletes...)
	out = append(out, p.Updates...)
	out = append(out, p.Creates...)
	return out
}

// Empty reports whether the plan contains no operations.
func (p *Plan) Empty() bool {
	return len(p.Deletes) == 0 && len(p.Updates) == 0 && len(p.Creates) == 0
}

// sortOps orders operations lexicographically by (name, type).
func sortOps(ops []Operation) {
	sort.Slice(ops, func(i, j int) bool {
		if ops[i].Record.Name != ops[j].Record.Name {
			return ops[i].Record.Name < ops[j].Record.Name
		}
		return ops[i].Record.Type < ops[j].Record.Type
	})
}

// Result summarizes an executed (or dry-run) plan.
type Result struct {
	Plan *Plan

	StartTime time.Time
	EndTime   time.Time

	// Desired is the size of the desired set the plan was built from.
	Desired int

	// NoOps counts managed records already in their desired state.
	NoOps int

	// Imported counts provider records re-adopted via the ownership marker.
	Imported int

	// Claimed counts pre-existing provider records claimed instead of
	// duplicated by a create.
	Claimed int

	// OrphansMarked and OrphansUnmarked report the post-pass outcome.
	OrphansMarked   int
	OrphansUnmarked int

	Succeeded int
	Failed    int
	Skipped   int

	// Errors aggregates per-operation failures. The cycle itself still
	// succeeds; callers inspect this for partial failures.
	Errors error
}

// Duration returns the cycle's wall-clock time.
func (r *Result) Duration() time.Duration {
	return r.EndTime.Sub(r.StartTime)
}
