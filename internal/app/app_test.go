package app

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/dataspace-exchange/internal/config"
	"github.com/imrishuroy/dataspace-exchange/internal/exchange"
	"github.com/imrishuroy/dataspace-exchange/internal/masterdata"
	"github.com/imrishuroy/dataspace-exchange/internal/tokenstore"
)

func localConfig(edcURL string) config.Config {
	cfg := config.Default()
	cfg.OwnBPNL = "BPNL0000000001AA"
	cfg.EDCManagementURL = edcURL
	cfg.LedgerBackend = "memory"
	return cfg
}

func TestBuild_LocalBackends(t *testing.T) {
	a, err := Build(context.Background(), localConfig("http://edc.invalid"), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	defer a.Close()

	assert.IsType(t, &tokenstore.MemoryStore{}, a.Tokens)
	assert.IsType(t, &masterdata.MemoryDirectory{}, a.Partners)
	assert.NotNil(t, a.Orchestrator)
	assert.IsType(t, &exchange.PoolDispatcher{}, a.Dispatcher(context.Background()))
}

func TestRegisterPartners_CallsControlPlane(t *testing.T) {
	var posts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		posts.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"@id":"x"}`))
	}))
	defer srv.Close()

	a, err := Build(context.Background(), localConfig(srv.URL), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	dir := a.Partners.(*masterdata.MemoryDirectory)
	dir.AddPartner(masterdata.Partner{BPNL: "BPNL1111111111AA"})
	dir.AddPartner(masterdata.Partner{BPNL: "BPNL0000000001AA"}) // own, skipped

	a.RegisterPartners(context.Background())

	// access policy, framework policy and contract definition for the one foreign partner
	assert.Equal(t, int32(3), posts.Load())
}

func TestRegisterAssets_UsesPublicBaseURL(t *testing.T) {
	var mu sync.Mutex
	var urls []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			DataAddress struct {
				BaseURL string `json:"baseUrl"`
			} `json:"dataAddress"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		urls = append(urls, r.URL.Path+" "+body.DataAddress.BaseURL)
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"@id":"x"}`))
	}))
	defer srv.Close()

	cfg := localConfig(srv.URL)
	cfg.PublicBaseURL = "https://exchange.example.com/"
	a, err := Build(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	a.RegisterAssets(context.Background())

	assert.Equal(t, []string{
		"/v3/assets https://exchange.example.com/exchange/request",
		"/v3/assets https://exchange.example.com/exchange/response",
	}, urls)
}

func TestRegisterAssets_SkippedWithoutPublicBaseURL(t *testing.T) {
	var posts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		posts.Add(1)
	}))
	defer srv.Close()

	a, err := Build(context.Background(), localConfig(srv.URL), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	a.RegisterAssets(context.Background())
	assert.Zero(t, posts.Load())
}
