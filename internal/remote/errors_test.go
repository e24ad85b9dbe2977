package remote

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jackson-sweet/opsapp-sub000/internal/ir"
)

func TestErrorClassification(t *testing.T) {
	ref := ir.Ref(ir.KindTask, "t1")

	tests := []struct {
		name      string
		err       error
		transient bool
		rejected  bool
	}{
		{"nil", nil, false, false},
		{"bare error", errors.New("boom"), true, false},
		{"transient", Transient(OpUpdate, ref, context.DeadlineExceeded), true, false},
		{"rejected", Rejected(OpUpdate, ref, "title required"), false, true},
		{"wrapped rejected", fmt.Errorf("sync: %w", Rejected(OpCreate, ref, "no")), false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.transient, IsTransient(tt.err))
			assert.Equal(t, tt.rejected, IsRejected(tt.err))
		})
	}
}

func TestClassify(t *testing.T) {
	ref := ir.Ref(ir.KindProject, "p1")

	assert.NoError(t, Classify(OpCreate, ref, nil))

	rej := Rejected(OpCreate, ref, "bad")
	assert.Same(t, rej, Classify(OpCreate, ref, rej))

	err := Classify(OpCreate, ref, context.DeadlineExceeded)
	assert.True(t, IsTransient(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestError_Message(t *testing.T) {
	ref := ir.Ref(ir.KindProject, "p1")

	e := &Error{Kind: KindRejected, Op: OpUpdate, Ref: ref, Status: 422, Message: "title required"}
	assert.Equal(t, "REJECTED: update project/p1: title required (status 422)", e.Error())

	e = Transient(OpCreate, ref, errors.New("connection refused"))
	assert.Equal(t, "TRANSIENT: create project/p1: connection refused", e.Error())
}

type recordingClient struct{ ops []Op }

func (c *recordingClient) Create(ctx context.Context, req Request) (Response, error) {
	c.ops = append(c.ops, req.Op)
	return Response{ID: "srv"}, nil
}

func (c *recordingClient) Update(ctx context.Context, req Request) (Response, error) {
	c.ops = append(c.ops, req.Op)
	return Response{ID: req.Ref.ID}, nil
}

func (c *recordingClient) Delete(ctx context.Context, req Request) error {
	c.ops = append(c.ops, req.Op)
	return nil
}

func TestDo(t *testing.T) {
	c := &recordingClient{}
	ref := ir.Ref(ir.KindTask, "t1")
	ctx := context.Background()

	resp, err := Do(ctx, c, Request{Op: OpCreate, Ref: ref})
	assert.NoError(t, err)
	assert.Equal(t, "srv", resp.ID)

	resp, err = Do(ctx, c, Request{Op: OpDelete, Ref: ref})
	assert.NoError(t, err)
	assert.Equal(t, "t1", resp.ID)

	_, err = Do(ctx, c, Request{Op: OpUpdate, Ref: ref})
	assert.NoError(t, err)

	_, err = Do(ctx, c, Request{Op: "merge", Ref: ref})
	assert.True(t, IsRejected(err))

	assert.Equal(t, []Op{OpCreate, OpDelete, OpUpdate}, c.ops)
}

func TestUnconfigured(t *testing.T) {
	ctx := context.Background()
	ref := ir.Ref(ir.KindProject, "P1")
	c := Unconfigured{}

	_, err := c.Create(ctx, Request{Op: OpCreate, Ref: ref})
	assert.True(t, IsTransient(err))
	assert.ErrorIs(t, err, ErrNoRemote)

	_, err = c.Update(ctx, Request{Op: OpUpdate, Ref: ref})
	assert.True(t, IsTransient(err))

	err = c.Delete(ctx, Request{Op: OpDelete, Ref: ref})
	assert.True(t, IsTransient(err))
	assert.False(t, IsRejected(err))
}
