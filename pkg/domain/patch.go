package domain

import (
	"bytes"
	"encoding/json"
)

// PatchField is a tri-state update value: unset (leave alone), set to null
// (clear), or set to a value.
type PatchField[T any] struct {
	Set   bool
	Value *T
}

// SetTo returns a field that assigns v.
func SetTo[T any](v T) PatchField[T] {
	return PatchField[T]{Set: true, Value: &v}
}

// SetNull returns a field that clears the stored value.
func SetNull[T any]() PatchField[T] {
	return PatchField[T]{Set: true}
}

// IsNull reports whether the field is set and clears the value.
func (f PatchField[T]) IsNull() bool {
	return f.Set && f.Value == nil
}

func (f PatchField[T]) MarshalJSON() ([]byte, error) {
	if !f.Set || f.Value == nil {
		return []byte("null"), nil
	}
	return json.Marshal(*f.Value)
}

// UnmarshalJSON is only invoked for keys present in the document, so any
// call marks the field as set.
func (f *PatchField[T]) UnmarshalJSON(data []byte) error {
	f.Set = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		f.Value = nil
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	f.Value = &v
	return nil
}

// RecordPatch carries the editable fields of a Record. Only set fields are
// sent on the wire.
type RecordPatch struct {
	EmployeeID PatchField[string]  `json:"employee_id"`
	Department PatchField[string]  `json:"department"`
	ExitReason PatchField[string]  `json:"exit_reason"`
	Salary     PatchField[float64] `json:"salary"`
}

// IsEmpty reports whether no field is set.
func (p RecordPatch) IsEmpty() bool {
	return !p.EmployeeID.Set && !p.Department.Set && !p.ExitReason.Set && !p.Salary.Set
}

func (p RecordPatch) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, 4)
	if p.EmployeeID.Set {
		out["employee_id"] = p.EmployeeID
	}
	if p.Department.Set {
		out["department"] = p.Department
	}
	if p.ExitReason.Set {
		out["exit_reason"] = p.ExitReason
	}
	if p.Salary.Set {
		out["salary"] = p.Salary
	}
	return json.Marshal(out)
}

// Apply writes the set fields of p onto r.
func (p RecordPatch) Apply(r *Record) {
	if p.EmployeeID.Set && p.EmployeeID.Value != nil {
		r.EmployeeID = *p.EmployeeID.Value
	}
	if p.Department.Set {
		r.Department = clonePtr(p.Department.Value)
	}
	if p.ExitReason.Set {
		r.ExitReason = clonePtr(p.ExitReason.Value)
	}
	if p.Salary.Set {
		r.Salary = clonePtr(p.Salary.Value)
	}
}
