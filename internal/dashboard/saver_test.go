package dashboard

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/vulndash/internal/metrics"
	"github.com/leapstack-labs/vulndash/internal/testutil"
)

func TestSaver_SkipsUnchangedValues(t *testing.T) {
	store := newMemStore()
	s := NewSaver(store, "u", testutil.NewTestLogger(t), nil)

	assert.True(t, s.Save("p", "a"))
	assert.False(t, s.Save("p", "a"))
	s.Wait()
	assert.Equal(t, []string{"p=a"}, store.writeLog())

	assert.False(t, s.Save("", "x"), "empty preference id is not persisted")
}

func TestSaver_LoadedValueCountsAsSaved(t *testing.T) {
	store := newMemStore()
	store.values["u/p"] = "stored"
	s := NewSaver(store, "u", testutil.NewTestLogger(t), nil)

	v, ok, err := s.Load(context.Background(), "p")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "stored", v)
	assert.False(t, s.Save("p", "stored"))

	_, ok, err = s.Load(context.Background(), "other")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSaver_AbortsInFlightSave(t *testing.T) {
	store := newMemStore()
	store.block = make(chan struct{})
	m := metrics.New()
	s := NewSaver(store, "u", testutil.NewTestLogger(t), m)

	require.True(t, s.Save("p", "first"))
	require.True(t, s.Save("p", "second"))

	// The first write is canceled while blocked; the second one waits
	// for the store to unblock.
	time.Sleep(10 * time.Millisecond)
	close(store.block)
	s.Wait()

	assert.Equal(t, []string{"p=second"}, store.writeLog())
	v, _, _ := store.GetPreference(context.Background(), "u", "p")
	assert.Equal(t, "second", v)
}

func TestSaver_RetriesFailedValue(t *testing.T) {
	store := newMemStore()
	store.failures = 1
	s := NewSaver(store, "u", testutil.NewTestLogger(t), metrics.New())

	require.True(t, s.Save("p", "a"))
	s.Wait()
	assert.Empty(t, store.writeLog())

	assert.True(t, s.Save("p", "a"), "a failed write does not count as saved")
	s.Wait()
	assert.Equal(t, []string{"p=a"}, store.writeLog())
	assert.False(t, s.Save("p", "a"))
}

func TestSaver_IndependentKeys(t *testing.T) {
	store := newMemStore()
	s := NewSaver(store, "u", testutil.NewTestLogger(t), nil)

	s.Save("a", "1")
	s.Save("b", "2")
	s.Wait()
	assert.ElementsMatch(t, []string{"a=1", "b=2"}, store.writeLog())
}

func TestSaver_NilStore(t *testing.T) {
	s := NewSaver(nil, "u", nil, nil)
	assert.False(t, s.Save("p", "v"))
	_, ok, err := s.Load(context.Background(), "p")
	assert.NoError(t, err)
	assert.False(t, ok)
	s.Close()
}
