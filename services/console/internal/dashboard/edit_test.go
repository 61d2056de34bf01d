package dashboard

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"churnboard/pkg/domain"
)

type recordingUpdater struct {
	ids     []int64
	patches []domain.RecordPatch
	err     error
}

func (u *recordingUpdater) Update(_ context.Context, id int64, patch domain.RecordPatch) error {
	u.ids = append(u.ids, id)
	u.patches = append(u.patches, patch)
	return u.err
}

func salaried(id int64, salary float64) domain.Record {
	r := rec(id, "E", "Ops", false)
	r.Salary = domain.Ptr(salary)
	r.ExitReason = domain.Ptr("Relocation")
	return r
}

func TestBeginSnapshotsEditableFields(t *testing.T) {
	e := NewEditSession()
	d := e.Begin(salaried(7, 52000.5))
	assert.Equal(t, Draft{TargetID: 7, EmployeeID: "E", Department: "Ops", ExitReason: "Relocation", Salary: "52000.5"}, d)
}

func TestBeginOnAnotherRecordDiscardsDraft(t *testing.T) {
	e := NewEditSession()
	e.Begin(salaried(1, 100))
	require.NoError(t, e.SetField(FieldDepartment, "Changed A"))

	e.Begin(salaried(2, 200))
	require.NoError(t, e.SetField(FieldExitReason, "Changed B"))

	u := &recordingUpdater{}
	require.NoError(t, e.Commit(context.Background(), u))
	require.Equal(t, []int64{2}, u.ids)
	patch := u.patches[0]
	assert.False(t, patch.Department.Set)
	require.True(t, patch.ExitReason.Set)
	assert.Equal(t, "Changed B", *patch.ExitReason.Value)
	_, active := e.Active()
	assert.False(t, active)
}

func TestCommitBlankSalaryClearsField(t *testing.T) {
	backend := newFakeBackend(salaried(1, 50000))
	c := New(backend, Config{})
	ctx := context.Background()
	require.NoError(t, c.Sync.Refresh(ctx))

	_, err := c.BeginEdit(1)
	require.NoError(t, err)
	require.NoError(t, c.Edit.SetField(FieldSalary, "  "))
	require.NoError(t, c.CommitEdit(ctx))

	require.Len(t, backend.patches, 1)
	assert.True(t, backend.patches[0].Salary.IsNull())
	stored, ok := c.Store.Get(1)
	require.True(t, ok)
	assert.Nil(t, stored.Salary)
}

func TestCommitSendsOnlyChangedFields(t *testing.T) {
	e := NewEditSession()
	e.Begin(salaried(3, 1000))
	require.NoError(t, e.SetField(FieldSalary, "1000.0"))
	require.NoError(t, e.SetField(FieldEmployeeID, " E-77 "))
	require.NoError(t, e.SetField(FieldDepartment, ""))

	u := &recordingUpdater{}
	require.NoError(t, e.Commit(context.Background(), u))
	patch := u.patches[0]
	assert.False(t, patch.Salary.Set)
	assert.False(t, patch.ExitReason.Set)
	assert.Equal(t, "E-77", *patch.EmployeeID.Value)
	assert.True(t, patch.Department.IsNull())
}

func TestCommitWithoutChangesSkipsRemote(t *testing.T) {
	e := NewEditSession()
	e.Begin(salaried(3, 1000))
	u := &recordingUpdater{}
	require.NoError(t, e.Commit(context.Background(), u))
	assert.Empty(t, u.ids)
	_, active := e.Active()
	assert.False(t, active)
}

func TestCommitValidation(t *testing.T) {
	e := NewEditSession()
	u := &recordingUpdater{}
	assert.ErrorIs(t, e.Commit(context.Background(), u), ErrNoDraft)

	e.Begin(salaried(3, 1000))
	require.NoError(t, e.SetField(FieldSalary, "12k"))
	assert.ErrorIs(t, e.Commit(context.Background(), u), ErrInvalidSalary)

	require.NoError(t, e.SetField(FieldSalary, "1000"))
	require.NoError(t, e.SetField(FieldEmployeeID, "   "))
	assert.ErrorIs(t, e.Commit(context.Background(), u), ErrEmptyEmployeeID)

	assert.ErrorIs(t, e.SetField("churn_flag", "true"), ErrUnknownField)
	assert.Empty(t, u.ids)
	_, active := e.Active()
	assert.True(t, active)
}

func TestCommitFailurePreservesDraft(t *testing.T) {
	backend := newFakeBackend(salaried(1, 50000))
	backend.updateErr = errRemote
	c := New(backend, Config{})
	ctx := context.Background()
	require.NoError(t, c.Sync.Refresh(ctx))

	_, err := c.BeginEdit(1)
	require.NoError(t, err)
	require.NoError(t, c.Edit.SetField(FieldDepartment, "Finance"))

	err = c.CommitEdit(ctx)
	var uerr *UpdateError
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, int64(1), uerr.ID)
	assert.ErrorIs(t, err, errRemote)

	draft, active := c.Edit.Active()
	require.True(t, active)
	assert.Equal(t, "Finance", draft.Department)
	stored, _ := c.Store.Get(1)
	assert.Equal(t, "Ops", *stored.Department)
	assert.Len(t, c.Notices.Recent(), 1)
}

func TestCancelDropsDraftWithoutRemote(t *testing.T) {
	e := NewEditSession()
	e.Begin(salaried(1, 1))
	e.Cancel()
	_, active := e.Active()
	assert.False(t, active)
}

func TestBeginEditUnknownRecord(t *testing.T) {
	c := New(newFakeBackend(), Config{})
	_, err := c.BeginEdit(42)
	assert.ErrorIs(t, err, ErrRecordNotFound)
}
