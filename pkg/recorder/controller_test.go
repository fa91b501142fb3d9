package recorder

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ngoyal88/sqlrecorder/pkg/storage"
	"github.com/ngoyal88/sqlrecorder/pkg/storage/memory"
)

func TestControllerStatus(t *testing.T) {
	ctx := context.Background()
	ctrl := NewController(memory.New(storage.Options{}))

	st, err := ctrl.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusInactive, st)

	st, err = ctrl.SetActive(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, Status{Status: "Active", Color: "green"}, st)

	on, err := ctrl.Active(ctx)
	require.NoError(t, err)
	assert.True(t, on)

	st, err = ctrl.SetActive(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, Status{Status: "Inactive", Color: "red"}, st)
}

func TestControllerInactiveCreatesNoRecorder(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	store := memory.New(storage.Options{})
	ctrl := NewController(store)

	reqCtx, rec, err := ctrl.Start(ctx, func() RequestMeta { return RequestMeta{Path: "/"} })
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.Equal(t, ctx, reqCtx)

	for i := 0; i < 3; i++ {
		_, err := db.ExecContext(reqCtx, "INSERT INTO items (name) VALUES (?)", "n")
		require.NoError(t, err)
	}
	require.NoError(t, ctrl.Finish(reqCtx, rec))

	list, err := store.ListTraces(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestControllerFlagIsReadOncePerRequest(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	store := memory.New(storage.Options{})
	ctrl := NewController(store)
	_, err := ctrl.SetActive(ctx, true)
	require.NoError(t, err)

	reqCtx, rec, err := ctrl.Start(ctx, func() RequestMeta { return RequestMeta{Path: "/items"} })
	require.NoError(t, err)
	require.NotNil(t, rec)

	_, err = db.ExecContext(reqCtx, "INSERT INTO items (name) VALUES (?)", "before")
	require.NoError(t, err)

	_, err = ctrl.SetActive(ctx, false)
	require.NoError(t, err)

	_, err = db.ExecContext(reqCtx, "INSERT INTO items (name) VALUES (?)", "after")
	require.NoError(t, err)
	require.NoError(t, ctrl.Finish(reqCtx, rec))

	got, err := store.GetTrace(ctx, rec.ID())
	require.NoError(t, err)
	assert.Equal(t, 2, got.Queries)
	assert.Len(t, got.Calls, 2)

	// the next request sees the cleared flag
	_, next, err := ctrl.Start(ctx, func() RequestMeta { return RequestMeta{} })
	require.NoError(t, err)
	assert.Nil(t, next)
}

func TestControllerSkipsDetachedRecorder(t *testing.T) {
	ctx := context.Background()
	store := memory.New(storage.Options{})
	ctrl := NewController(store)
	_, err := ctrl.SetActive(ctx, true)
	require.NoError(t, err)

	reqCtx, rec, err := ctrl.Start(ctx, func() RequestMeta { return RequestMeta{} })
	require.NoError(t, err)
	reqCtx = Detach(reqCtx)
	require.NoError(t, ctrl.Finish(reqCtx, rec))

	list, err := store.ListTraces(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestControllerStackCapture(t *testing.T) {
	ctx := context.Background()
	store := memory.New(storage.Options{})
	ctrl := NewController(store).CaptureStacks(false)
	_, err := ctrl.SetActive(ctx, true)
	require.NoError(t, err)

	_, rec, err := ctrl.Start(ctx, func() RequestMeta { return RequestMeta{} })
	require.NoError(t, err)
	assert.False(t, rec.captureStack)
}

func TestControllerSkipsMetaWhenInactive(t *testing.T) {
	ctrl := NewController(memory.New(storage.Options{}))

	called := false
	_, rec, err := ctrl.Start(context.Background(), func() RequestMeta {
		called = true
		return RequestMeta{}
	})
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.False(t, called)
}

type hangingStore struct {
	*memory.Store
}

func (hangingStore) Intercepting(ctx context.Context) (bool, error) {
	<-ctx.Done()
	return false, ctx.Err()
}

func TestControllerBoundsFlagRead(t *testing.T) {
	ctrl := NewController(hangingStore{memory.New(storage.Options{})})
	ctrl.flagTimeout = 20 * time.Millisecond

	start := time.Now()
	ctx, rec, err := ctrl.Start(context.Background(), func() RequestMeta { return RequestMeta{} })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Nil(t, rec)
	assert.NoError(t, ctx.Err())
	assert.Less(t, time.Since(start), time.Second)
}
