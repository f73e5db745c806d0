package usagestore

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/yanqian/truthcard/internal/domain/usage"
)

func TestMemoryStoreUpdateIsAtomic(t *testing.T) {
	store := NewMemoryStore()
	var wg sync.WaitGroup
	errs := make(chan error, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Update(context.Background(), "dev", func(cur usage.Record, _ bool) (usage.Record, error) {
				cur.Count++
				return cur, nil
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	record, found, err := store.Load(context.Background(), "dev")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, 50, record.Count)
}

func TestMemoryStoreUpdateErrorKeepsRecord(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Save(context.Background(), "dev", usage.Record{Count: 2, Date: "2024-01-01"}))

	_, err := store.Update(context.Background(), "dev", func(usage.Record, bool) (usage.Record, error) {
		return usage.Record{}, errors.New("nope")
	})
	require.Error(t, err)

	record, _, err := store.Load(context.Background(), "dev")
	require.NoError(t, err)
	require.Equal(t, 2, record.Count)
}

func TestMemoryStoreUpdateReportsMissing(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.Update(context.Background(), "fresh", func(cur usage.Record, found bool) (usage.Record, error) {
		require.False(t, found)
		require.Zero(t, cur)
		cur.Date = "2024-01-01"
		return cur, nil
	})
	require.NoError(t, err)
}
