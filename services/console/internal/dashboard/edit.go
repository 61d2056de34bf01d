package dashboard

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	"churnboard/pkg/domain"
)

// Field names an editable column.
type Field string

const (
	FieldEmployeeID Field = "employee_id"
	FieldDepartment Field = "department"
	FieldExitReason Field = "exit_reason"
	FieldSalary     Field = "salary"
)

// Draft is the unsaved edit of one record, held as the raw text the
// operator typed.
type Draft struct {
	TargetID   int64  `json:"targetId"`
	EmployeeID string `json:"employee_id"`
	Department string `json:"department"`
	ExitReason string `json:"exit_reason"`
	Salary     string `json:"salary"`
}

// Updater applies a patch to the remote record.
type Updater interface {
	Update(ctx context.Context, id int64, patch domain.RecordPatch) error
}

// EditSession holds at most one draft.
type EditSession struct {
	mu       sync.Mutex
	draft    *Draft
	baseline domain.Record
}

func NewEditSession() *EditSession {
	return &EditSession{}
}

// Begin snapshots the editable fields of r, discarding any prior draft.
func (e *EditSession) Begin(r domain.Record) Draft {
	d := Draft{
		TargetID:   r.ID,
		EmployeeID: r.EmployeeID,
		Department: deref(r.Department),
		ExitReason: deref(r.ExitReason),
	}
	if r.Salary != nil {
		d.Salary = formatSalary(*r.Salary)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.draft = &d
	e.baseline = r.Clone()
	return d
}

// Cancel drops the draft without contacting the remote.
func (e *EditSession) Cancel() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.draft = nil
}

// Active returns the current draft.
func (e *EditSession) Active() (Draft, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.draft == nil {
		return Draft{}, false
	}
	return *e.draft, true
}

// SetField stores raw operator input for field.
func (e *EditSession) SetField(field Field, value string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.draft == nil {
		return ErrNoDraft
	}
	switch field {
	case FieldEmployeeID:
		e.draft.EmployeeID = value
	case FieldDepartment:
		e.draft.Department = value
	case FieldExitReason:
		e.draft.ExitReason = value
	case FieldSalary:
		e.draft.Salary = value
	default:
		return fmt.Errorf("%w: %q", ErrUnknownField, field)
	}
	return nil
}

// Commit validates the draft and sends the changed fields through u.
// A blank salary, department or exit reason clears the stored value.
// With nothing changed the draft is dropped without a remote call. On
// failure the draft is kept so the operator can retry.
func (e *EditSession) Commit(ctx context.Context, u Updater) error {
	e.mu.Lock()
	if e.draft == nil {
		e.mu.Unlock()
		return ErrNoDraft
	}
	draft := *e.draft
	baseline := e.baseline
	e.mu.Unlock()

	patch, err := buildPatch(draft, baseline)
	if err != nil {
		return err
	}
	if patch.IsEmpty() {
		e.Finish(draft.TargetID)
		return nil
	}
	if err := u.Update(ctx, draft.TargetID, patch); err != nil {
		return err
	}
	e.Finish(draft.TargetID)
	return nil
}

// Finish clears the draft if it still targets id.
func (e *EditSession) Finish(id int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.draft != nil && e.draft.TargetID == id {
		e.draft = nil
	}
}

// dropIfMissing clears a draft whose record no longer exists.
func (e *EditSession) dropIfMissing(exists func(int64) bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.draft != nil && !exists(e.draft.TargetID) {
		e.draft = nil
		return true
	}
	return false
}

func buildPatch(d Draft, base domain.Record) (domain.RecordPatch, error) {
	var patch domain.RecordPatch

	if d.EmployeeID != base.EmployeeID {
		id := strings.TrimSpace(d.EmployeeID)
		if id == "" {
			return patch, ErrEmptyEmployeeID
		}
		if id != base.EmployeeID {
			patch.EmployeeID = domain.SetTo(id)
		}
	}
	patch.Department = textField(d.Department, base.Department)
	patch.ExitReason = textField(d.ExitReason, base.ExitReason)

	salary, err := parseSalary(d.Salary)
	if err != nil {
		return patch, err
	}
	if !sameFloat(salary, base.Salary) {
		if salary == nil {
			patch.Salary = domain.SetNull[float64]()
		} else {
			patch.Salary = domain.SetTo(*salary)
		}
	}
	return patch, nil
}

func textField(raw string, base *string) domain.PatchField[string] {
	if strings.TrimSpace(raw) == "" {
		if base == nil || *base == "" {
			return domain.PatchField[string]{}
		}
		return domain.SetNull[string]()
	}
	if base != nil && *base == raw {
		return domain.PatchField[string]{}
	}
	return domain.SetTo(raw)
}

func parseSalary(raw string) (*float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSalary, raw)
	}
	return &v, nil
}

func sameFloat(a, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func formatSalary(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
