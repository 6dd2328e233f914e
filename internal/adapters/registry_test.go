package adapters

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"solana-portfolio-api/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAdapter is a configurable ProtocolAdapter for registry tests
type fakeAdapter struct {
	id        string
	name      string
	priority  int
	positions []models.Position
	err       error
	delay     time.Duration
	panics    bool
	mints     map[string]bool

	mu          sync.Mutex
	invalidated []string
}

func (f *fakeAdapter) ProtocolID() string  { return f.id }
func (f *fakeAdapter) DisplayName() string { return f.name }
func (f *fakeAdapter) Priority() int       { return f.priority }

func (f *fakeAdapter) FetchPositions(ctx context.Context, wallet string) ([]models.Position, error) {
	if f.panics {
		panic("adapter exploded")
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.positions, nil
}

func (f *fakeAdapter) FetchProtocolStats(ctx context.Context) (*models.ProtocolStats, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &models.ProtocolStats{Protocol: f.id, DisplayName: f.name, AverageApy: 5.0}, nil
}

func (f *fakeAdapter) SupportsToken(mint string) bool {
	return f.mints[mint]
}

func (f *fakeAdapter) InvalidateWallet(wallet string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated = append(f.invalidated, wallet)
}

func positionsFor(protocol string, value float64) []models.Position {
	return []models.Position{{
		Protocol: protocol,
		Kind:     "wallet",
		UsdValue: value,
	}}
}

func TestRegistry(t *testing.T) {
	t.Run("OrdersByDescendingPriority", func(t *testing.T) {
		r := NewRegistry()
		r.Register(&fakeAdapter{id: "spl-token", priority: 50})
		r.Register(&fakeAdapter{id: "native", priority: 100})
		r.Register(&fakeAdapter{id: "stake-pool", priority: 75})

		ordered := r.AdaptersByPriority()
		require.Len(t, ordered, 3)
		assert.Equal(t, "native", ordered[0].ProtocolID())
		assert.Equal(t, "stake-pool", ordered[1].ProtocolID())
		assert.Equal(t, "spl-token", ordered[2].ProtocolID())
	})

	t.Run("PriorityTiesBreakOnProtocolID", func(t *testing.T) {
		r := NewRegistry()
		r.Register(&fakeAdapter{id: "beta", priority: 50})
		r.Register(&fakeAdapter{id: "alpha", priority: 50})

		ordered := r.AdaptersByPriority()
		assert.Equal(t, "alpha", ordered[0].ProtocolID())
		assert.Equal(t, "beta", ordered[1].ProtocolID())
	})

	t.Run("RegisterReplacesExisting", func(t *testing.T) {
		r := NewRegistry()
		r.Register(&fakeAdapter{id: "native", priority: 100, name: "Old"})
		r.Register(&fakeAdapter{id: "native", priority: 100, name: "New"})

		assert.Equal(t, 1, r.Size())
		assert.Equal(t, "New", r.AdaptersByPriority()[0].DisplayName())
	})

	t.Run("Unregister", func(t *testing.T) {
		r := NewRegistry()
		r.Register(&fakeAdapter{id: "native", priority: 100})
		r.Unregister("native")
		r.Unregister("native") // no-op

		assert.Equal(t, 0, r.Size())
		assert.Empty(t, r.AdaptersByPriority())
	})

	t.Run("FetchAllPositionsMergesByProtocol", func(t *testing.T) {
		r := NewRegistry()
		r.Register(&fakeAdapter{id: "native", priority: 100, positions: positionsFor("native", 150)})
		r.Register(&fakeAdapter{id: "spl-token", priority: 50, positions: positionsFor("spl-token", 25)})

		results, failures := r.FetchAllPositions(context.Background(), "wallet", DefaultFetchOptions())

		require.Len(t, results, 2)
		assert.Equal(t, 150.0, results["native"][0].UsdValue)
		assert.Equal(t, 25.0, results["spl-token"][0].UsdValue)
		assert.Empty(t, failures)
	})

	t.Run("EmptyAdaptersOmitted", func(t *testing.T) {
		r := NewRegistry()
		r.Register(&fakeAdapter{id: "native", priority: 100, positions: positionsFor("native", 150)})
		r.Register(&fakeAdapter{id: "stake-pool", priority: 75})

		results, failures := r.FetchAllPositions(context.Background(), "wallet", DefaultFetchOptions())

		require.Len(t, results, 1)
		_, present := results["stake-pool"]
		assert.False(t, present)
		// Empty is not a failure
		assert.Empty(t, failures)
	})

	t.Run("FailingAdapterDoesNotAbortSiblings", func(t *testing.T) {
		r := NewRegistry()
		r.Register(&fakeAdapter{id: "native", priority: 100, positions: positionsFor("native", 150)})
		r.Register(&fakeAdapter{id: "broken", priority: 75, err: errors.New("boom")})

		results, failures := r.FetchAllPositions(context.Background(), "wallet", DefaultFetchOptions())

		require.Len(t, results, 1)
		assert.Contains(t, results, "native")
		require.Contains(t, failures, "broken")
		assert.EqualError(t, failures["broken"], "boom")
	})

	t.Run("PanickingAdapterIsContained", func(t *testing.T) {
		r := NewRegistry()
		r.Register(&fakeAdapter{id: "native", priority: 100, positions: positionsFor("native", 150)})
		r.Register(&fakeAdapter{id: "hostile", priority: 75, panics: true})

		results, failures := r.FetchAllPositions(context.Background(), "wallet", DefaultFetchOptions())

		require.Len(t, results, 1)
		assert.Contains(t, results, "native")
		assert.Contains(t, failures, "hostile")
	})

	t.Run("SlowAdapterTimesOutAlone", func(t *testing.T) {
		r := NewRegistry()
		r.Register(&fakeAdapter{id: "native", priority: 100, positions: positionsFor("native", 150)})
		r.Register(&fakeAdapter{
			id:        "glacial",
			priority:  75,
			delay:     2 * time.Second,
			positions: positionsFor("glacial", 999),
		})

		start := time.Now()
		results, failures := r.FetchAllPositions(context.Background(), "wallet", FetchOptions{
			Parallel:          true,
			PerAdapterTimeout: 100 * time.Millisecond,
		})

		assert.Less(t, time.Since(start), time.Second)
		require.Len(t, results, 1)
		assert.Contains(t, results, "native")
		require.Contains(t, failures, "glacial")
		assert.ErrorIs(t, failures["glacial"], context.DeadlineExceeded)
	})

	t.Run("AllAdaptersFailingFillsFailureMap", func(t *testing.T) {
		r := NewRegistry()
		r.Register(&fakeAdapter{id: "native", priority: 100, err: errors.New("rpc down")})
		r.Register(&fakeAdapter{id: "spl-token", priority: 50, err: errors.New("rpc down")})

		results, failures := r.FetchAllPositions(context.Background(), "wallet", DefaultFetchOptions())

		assert.Empty(t, results)
		assert.Len(t, failures, 2)
	})

	t.Run("SequentialModeMatchesParallel", func(t *testing.T) {
		r := NewRegistry()
		r.Register(&fakeAdapter{id: "native", priority: 100, positions: positionsFor("native", 150)})
		r.Register(&fakeAdapter{id: "spl-token", priority: 50, positions: positionsFor("spl-token", 25)})

		results, failures := r.FetchAllPositions(context.Background(), "wallet", FetchOptions{
			Parallel:          false,
			PerAdapterTimeout: time.Second,
		})

		require.Len(t, results, 2)
		assert.Empty(t, failures)
	})

	t.Run("FindAdapterForToken", func(t *testing.T) {
		r := NewRegistry()
		r.Register(&fakeAdapter{id: "spl-token", priority: 50, mints: map[string]bool{"mintA": true, "mintB": true}})
		r.Register(&fakeAdapter{id: "stake-pool", priority: 75, mints: map[string]bool{"mintA": true}})

		// Highest priority supporting adapter wins
		found := r.FindAdapterForToken("mintA")
		require.NotNil(t, found)
		assert.Equal(t, "stake-pool", found.ProtocolID())

		found = r.FindAdapterForToken("mintB")
		require.NotNil(t, found)
		assert.Equal(t, "spl-token", found.ProtocolID())

		assert.Nil(t, r.FindAdapterForToken("unknown"))
	})

	t.Run("InvalidateAllCaches", func(t *testing.T) {
		a := &fakeAdapter{id: "native", priority: 100}
		b := &fakeAdapter{id: "spl-token", priority: 50}

		r := NewRegistry()
		r.Register(a)
		r.Register(b)

		r.InvalidateAllCaches("wallet-x")

		assert.Equal(t, []string{"wallet-x"}, a.invalidated)
		assert.Equal(t, []string{"wallet-x"}, b.invalidated)
	})

	t.Run("ProtocolInfos", func(t *testing.T) {
		r := NewRegistry()
		r.Register(&fakeAdapter{id: "native", name: "Native SOL", priority: 100})
		r.Register(&fakeAdapter{id: "broken", name: "Broken", priority: 50, err: errors.New("stats down")})

		infos := r.ProtocolInfos(context.Background(), true)
		require.Len(t, infos, 2)

		assert.Equal(t, "native", infos[0].Protocol)
		require.NotNil(t, infos[0].Stats)
		assert.Equal(t, 5.0, infos[0].Stats.AverageApy)

		// Stats failures leave the entry present without stats
		assert.Equal(t, "broken", infos[1].Protocol)
		assert.Nil(t, infos[1].Stats)
	})
}
