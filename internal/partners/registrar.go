// Package partners registers the per-partner policy and contract definitions
// on our own control plane, so that partners can negotiate for our APIs.
package partners

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/imrishuroy/dataspace-exchange/internal/masterdata"
	"github.com/imrishuroy/dataspace-exchange/internal/poll"
)

// RetryDelay is the pause before the single retry of a failed registration.
const RetryDelay = 3 * time.Second

// AssetRegistrar is implemented by edc.ManagementClient.
type AssetRegistrar interface {
	RegisterPartnerAssets(ctx context.Context, partner masterdata.Partner) error
}

// Result lists, by BPNL, what a batch ended with.
type Result struct {
	Registered []string
	Failed     []string
	Skipped    []string
}

type Registrar struct {
	ownBPNL string
	assets  AssetRegistrar
	log     *slog.Logger
	sleep   poll.SleepFunc
}

func NewRegistrar(ownBPNL string, assets AssetRegistrar, logger *slog.Logger) *Registrar {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registrar{
		ownBPNL: ownBPNL,
		assets:  assets,
		log:     logger.With("component", "partner-registrar"),
		sleep:   poll.TimerSleep,
	}
}

// Register runs one worker per partner in batch. A failed partner is retried
// once after RetryDelay and then given up on; other partners are unaffected.
func (r *Registrar) Register(ctx context.Context, batch []masterdata.Partner) Result {
	var (
		mu  sync.Mutex
		res Result
	)
	add := func(list *[]string, bpnl string) {
		mu.Lock()
		*list = append(*list, bpnl)
		mu.Unlock()
	}

	g := &errgroup.Group{}
	g.SetLimit(max(len(batch), 1))
	for _, p := range batch {
		p := p
		if p.BPNL == r.ownBPNL {
			r.log.Debug("skipping own bpnl", "partner", p.BPNL)
			add(&res.Skipped, p.BPNL)
			continue
		}
		g.Go(func() error {
			if r.registerWithRetry(ctx, p) {
				add(&res.Registered, p.BPNL)
			} else {
				add(&res.Failed, p.BPNL)
			}
			return nil
		})
	}
	_ = g.Wait()

	sort.Strings(res.Registered)
	sort.Strings(res.Failed)
	sort.Strings(res.Skipped)
	return res
}

// RegisterAll registers every partner in dir.
func (r *Registrar) RegisterAll(ctx context.Context, dir masterdata.PartnerDirectory) (Result, error) {
	all, err := dir.ListPartners(ctx)
	if err != nil {
		return Result{}, err
	}
	return r.Register(ctx, all), nil
}

func (r *Registrar) registerWithRetry(ctx context.Context, p masterdata.Partner) bool {
	log := r.log.With("partner", p.BPNL)
	err := r.assets.RegisterPartnerAssets(ctx, p)
	if err == nil {
		log.Info("partner assets registered")
		return true
	}
	log.Warn("partner registration failed, retrying once", "error", err, "delay", RetryDelay)

	if sErr := r.sleep(ctx, RetryDelay); sErr != nil {
		log.Error("partner registration abandoned", "error", sErr)
		return false
	}
	if err := r.assets.RegisterPartnerAssets(ctx, p); err != nil {
		log.Error("partner registration abandoned after retry", "error", err)
		return false
	}
	log.Info("partner assets registered on retry")
	return true
}
