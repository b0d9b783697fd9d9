// Package gateway exposes the operator HTTP surface: health, claim and
// bridge statistics, and prometheus metrics.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"sheetchain/core/claims"
)

// BridgeStatsProvider reports the state of the relayer queue.
type BridgeStatsProvider interface {
	Stats() (any, error)
}

// BridgeStatsFunc adapts a function to BridgeStatsProvider.
type BridgeStatsFunc func() (any, error)

func (f BridgeStatsFunc) Stats() (any, error) { return f() }

// Config selects which endpoints the gateway mounts. Nil providers leave the
// matching routes unmounted, so the node and the relayer expose different
// surfaces from the same package.
type Config struct {
	ChainID     uint64
	NetworkName string
	Claims      *claims.Service
	Bridge      BridgeStatsProvider
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// New builds the gateway router.
func New(cfg Config) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":      "healthy",
			"chainId":     cfg.ChainID,
			"networkName": cfg.NetworkName,
		})
	})

	r.Handle("/metrics", promhttp.Handler())

	if cfg.Claims != nil {
		r.Get("/claims/stats", func(w http.ResponseWriter, req *http.Request) {
			stats, err := cfg.Claims.Stats(req.Context())
			if err != nil {
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
				return
			}
			writeJSON(w, http.StatusOK, stats)
		})
		r.Get("/claims/{address}", func(w http.ResponseWriter, req *http.Request) {
			address := chi.URLParam(req, "address")
			records, err := cfg.Claims.ByAddress(req.Context(), address)
			if err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
				return
			}
			results := make([]map[string]any, 0, len(records))
			for _, claim := range records {
				results = append(results, map[string]any{
					"claimId":     claim.ID,
					"address":     claim.Address,
					"amount":      claim.Amount.String(),
					"timestamp":   claim.Timestamp.UTC().Format(time.RFC3339),
					"status":      claim.Status.String(),
					"txHash":      claim.TxHash,
					"blockNumber": claim.BlockNumber,
				})
			}
			writeJSON(w, http.StatusOK, map[string]any{"address": address, "claims": results})
		})
	}

	if cfg.Bridge != nil {
		r.Get("/bridge/stats", func(w http.ResponseWriter, req *http.Request) {
			stats, err := cfg.Bridge.Stats()
			if err != nil {
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
				return
			}
			writeJSON(w, http.StatusOK, stats)
		})
	}

	return r
}

// Serve runs the gateway on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
