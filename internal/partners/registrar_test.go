package partners

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/dataspace-exchange/internal/masterdata"
)

type scriptedRegistrar struct {
	mu       sync.Mutex
	calls    map[string]int
	failures map[string]int // number of leading failures per BPNL
}

func (s *scriptedRegistrar) RegisterPartnerAssets(ctx context.Context, p masterdata.Partner) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[p.BPNL]++
	if s.calls[p.BPNL] <= s.failures[p.BPNL] {
		return errors.New("control plane unavailable")
	}
	return nil
}

func newTestRegistrar(assets AssetRegistrar) (*Registrar, *[]time.Duration) {
	r := NewRegistrar("BPNL0000000000OW", assets, slog.New(slog.NewTextHandler(io.Discard, nil)))
	var mu sync.Mutex
	var slept []time.Duration
	r.sleep = func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		slept = append(slept, d)
		mu.Unlock()
		return nil
	}
	return r, &slept
}

func TestRegister_RetriesOnceThenGivesUp(t *testing.T) {
	assets := &scriptedRegistrar{
		calls: map[string]int{},
		failures: map[string]int{
			"BPNL2222222222BB": 1, // recovers on retry
			"BPNL3333333333CC": 5, // never recovers
		},
	}
	r, slept := newTestRegistrar(assets)

	res := r.Register(context.Background(), []masterdata.Partner{
		{BPNL: "BPNL1111111111AA"},
		{BPNL: "BPNL2222222222BB"},
		{BPNL: "BPNL3333333333CC"},
		{BPNL: "BPNL0000000000OW"},
	})

	assert.Equal(t, []string{"BPNL1111111111AA", "BPNL2222222222BB"}, res.Registered)
	assert.Equal(t, []string{"BPNL3333333333CC"}, res.Failed)
	assert.Equal(t, []string{"BPNL0000000000OW"}, res.Skipped)

	assert.Equal(t, 1, assets.calls["BPNL1111111111AA"])
	assert.Equal(t, 2, assets.calls["BPNL2222222222BB"])
	assert.Equal(t, 2, assets.calls["BPNL3333333333CC"], "exactly one retry")
	assert.Zero(t, assets.calls["BPNL0000000000OW"])

	require.Len(t, *slept, 2)
	for _, d := range *slept {
		assert.Equal(t, RetryDelay, d)
	}
}

func TestRegister_CancelledDuringDelay(t *testing.T) {
	assets := &scriptedRegistrar{calls: map[string]int{}, failures: map[string]int{"BPNL1111111111AA": 1}}
	r, _ := newTestRegistrar(assets)
	r.sleep = func(ctx context.Context, d time.Duration) error { return context.Canceled }

	res := r.Register(context.Background(), []masterdata.Partner{{BPNL: "BPNL1111111111AA"}})

	assert.Equal(t, []string{"BPNL1111111111AA"}, res.Failed)
	assert.Equal(t, 1, assets.calls["BPNL1111111111AA"])
}

func TestRegisterAll_ReadsDirectory(t *testing.T) {
	dir := masterdata.NewMemoryDirectory()
	dir.AddPartner(masterdata.Partner{BPNL: "BPNL1111111111AA"})
	dir.AddPartner(masterdata.Partner{BPNL: "BPNL2222222222BB"})
	assets := &scriptedRegistrar{calls: map[string]int{}, failures: map[string]int{}}
	r, _ := newTestRegistrar(assets)

	res, err := r.RegisterAll(context.Background(), dir)
	require.NoError(t, err)
	assert.Len(t, res.Registered, 2)
	assert.Empty(t, res.Failed)
}

func TestRegister_EmptyBatch(t *testing.T) {
	r, _ := newTestRegistrar(&scriptedRegistrar{calls: map[string]int{}})
	res := r.Register(context.Background(), nil)
	assert.Empty(t, res.Registered)
}
