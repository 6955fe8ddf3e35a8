package browser

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeEngine_Allocation(t *testing.T) {
	engine := &FakeEngine{MaxPages: 2}
	ctx := context.Background()
	first, err := engine.NewPage(ctx)
	require.NoError(t, err)
	_, err = engine.NewPage(ctx)
	require.NoError(t, err)
	_, err = engine.NewPage(ctx)
	require.ErrorIs(t, err, ErrResourceExhausted)
	assert.Equal(t, 2, engine.OpenPages())

	// Closing a page makes room for another
	require.NoError(t, first.Close(ctx))
	require.NoError(t, first.Close(ctx))
	_, err = engine.NewPage(ctx)
	require.NoError(t, err)
	assert.Len(t, engine.Pages(), 3)
	assert.Equal(t, 2, engine.OpenPages())
}

func TestFakeEngine_FailAllocation(t *testing.T) {
	var scripted []int
	engine := &FakeEngine{FailAllocation: 2, OnNewPage: func(page *FakePage) { scripted = append(scripted, page.Index) }}
	ctx := context.Background()
	_, err := engine.NewPage(ctx)
	require.NoError(t, err)
	_, err = engine.NewPage(ctx)
	require.ErrorIs(t, err, ErrResourceExhausted)
	_, err = engine.NewPage(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, scripted)
}

func TestFakePage(t *testing.T) {
	engine := &FakeEngine{}
	ctx := context.Background()
	page, err := engine.NewPage(ctx)
	require.NoError(t, err)
	fake := engine.Pages()[0]

	require.NoError(t, page.Navigate(ctx, "http://localhost/player.html"))
	assert.Equal(t, "http://localhost/player.html", fake.URL())
	require.NoError(t, page.Evaluate(ctx, "1+1"))
	require.NoError(t, page.Reload(ctx))
	nav, eval, reload := fake.Counters()
	assert.Equal(t, [3]int{1, 1, 1}, [3]int{nav, eval, reload})
	assert.Equal(t, []string{"1+1"}, fake.Scripts())

	fake.SetEvaluateErr(errors.New("adsManager is not defined"))
	assert.ErrorIs(t, page.Evaluate(ctx, "adsManager.destroy()"), ErrEval)

	fake.SetReload(time.Hour, nil)
	timeoutCtx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, page.Reload(timeoutCtx), ErrTimeout)

	fake.Emit("Ad error: 1009")
	assert.Equal(t, "Ad error: 1009", <-page.Output())

	require.NoError(t, page.Close(ctx))
	_, open := <-page.Output()
	assert.False(t, open)
	assert.ErrorIs(t, page.Navigate(ctx, "http://localhost"), ErrPageClosed)
	// Emitting into a closed page is harmless
	fake.Emit("late line")
}

func TestFakePage_BlockClose(t *testing.T) {
	engine := &FakeEngine{}
	page, err := engine.NewPage(context.Background())
	require.NoError(t, err)
	engine.Pages()[0].BlockClose()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, page.Close(ctx), ErrTimeout)
	assert.False(t, engine.Pages()[0].IsClosed())
}

func TestFakePage_CloseDelay(t *testing.T) {
	engine := &FakeEngine{}
	page, err := engine.NewPage(context.Background())
	require.NoError(t, err)
	engine.Pages()[0].SetCloseDelay(time.Hour)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, page.Close(ctx), ErrTimeout)

	engine.Pages()[0].SetCloseDelay(10 * time.Millisecond)
	require.NoError(t, page.Close(context.Background()))
	assert.True(t, engine.Pages()[0].IsClosed())
}

func TestFakeEngine_AllocationDelay(t *testing.T) {
	engine := &FakeEngine{}
	engine.SetAllocationDelay(time.Hour)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := engine.NewPage(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, engine.Pages())
}

func TestFakePage_EmitFullOutput(t *testing.T) {
	engine := &FakeEngine{}
	page, err := engine.NewPage(context.Background())
	require.NoError(t, err)
	fake := engine.Pages()[0]
	for i := 0; i < DefaultOutputBufferLen; i++ {
		fake.Emit("Ad loaded")
	}
	fake.Emit("Ad error: 1009")
	var last string
	for i := 0; i < DefaultOutputBufferLen; i++ {
		last = <-page.Output()
	}
	assert.Equal(t, "Ad error: 1009", last)
}
