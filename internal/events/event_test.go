package events

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type failingSink struct{ calls int }

func (f *failingSink) Publish(context.Context, Event) error {
	f.calls++
	return errors.New("sink down")
}

type panickingSink struct{}

func (panickingSink) Publish(context.Context, Event) error { panic("bad handler") }

func TestNewFillsEnvelope(t *testing.T) {
	e := New(LockAcquired, 7, "u1", map[string]string{"session": "s"})
	require.NotEmpty(t, e.ID)
	require.Equal(t, LockAcquired, e.Type)
	require.Equal(t, int64(7), e.MindmapID)
	require.False(t, e.At.IsZero())
	require.NotEqual(t, e.ID, New(LockAcquired, 7, "u1", nil).ID)
}

func TestEmitSwallowsFailuresAndPanics(t *testing.T) {
	ctx := context.Background()
	f := &failingSink{}
	require.NotPanics(t, func() { Emit(ctx, f, New(RevisionCreated, 1, "u", nil)) })
	require.Equal(t, 1, f.calls)
	require.NotPanics(t, func() { Emit(ctx, panickingSink{}, New(RevisionCreated, 1, "u", nil)) })
	require.NotPanics(t, func() { Emit(ctx, nil, New(RevisionCreated, 1, "u", nil)) })
}

func TestFanoutIsolatesSinks(t *testing.T) {
	rec := &Recorder{}
	f := NewFanout(&failingSink{}, panickingSink{}, nil, rec, LogSink{})
	require.NoError(t, f.Publish(context.Background(), New(CollaborationChanged, 3, "owner", nil)))
	require.Len(t, rec.Events(), 1)
	require.Len(t, rec.OfType(CollaborationChanged), 1)
	require.Empty(t, rec.OfType(LockAcquired))
}
