package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-qms-documents/internal/errors"
)

func TestInbox(t *testing.T) {
	f := newFixture(t, roleGate{})
	ctx := context.Background()
	wf := f.workflow(t, "role_qa", "role_mgr")

	docA, versionA := f.draft(t, "A", true)
	docB, versionB := f.draft(t, "B", true)
	taskA := f.submit(t, docA, versionA, wf).NextTask
	taskB := f.submit(t, docB, versionB, wf).NextTask
	f.reject(t, taskB, "incomplete")

	qa, err := f.tasks.ListInbox(ctx, company, holder("role_qa"), []string{"role_qa"})
	require.NoError(t, err)
	require.Len(t, qa, 1)
	assert.Equal(t, taskA.ID, qa[0].ID)

	mine, err := f.tasks.ListInbox(ctx, company, author, nil)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, docB.ID, mine[0].DocumentID)
	assert.True(t, mine[0].IsRevision())

	all, err := f.tasks.ListOpen(ctx, company, 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Equal(t, mine[0].ID, all[0].ID, "newest first")

	got, err := f.tasks.GetTask(ctx, company, taskA.ID)
	require.NoError(t, err)
	assert.Equal(t, "Approval pending: A (step 1)", got.Title)

	_, err = f.tasks.ListInbox(ctx, company, "", nil)
	assertCode(t, err, errors.ErrCodeInvalidInput)
}
