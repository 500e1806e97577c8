package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbiphoenix/phoenix/internal/config"
	"github.com/arbiphoenix/phoenix/internal/domain"
	"github.com/arbiphoenix/phoenix/internal/engine"
	"github.com/arbiphoenix/phoenix/internal/events"
	"github.com/arbiphoenix/phoenix/internal/gateway"
	"github.com/arbiphoenix/phoenix/internal/modules/detector"
	"github.com/arbiphoenix/phoenix/internal/modules/execution"
	"github.com/arbiphoenix/phoenix/internal/modules/harvest"
	"github.com/arbiphoenix/phoenix/internal/modules/recovery"
	"github.com/arbiphoenix/phoenix/internal/modules/sizing"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	log := zerolog.Nop()
	clock := domain.RealClock{}
	eventManager := events.NewManager(log)

	cfg := &config.Config{
		GatewayVariant:       "MT5",
		MinArbitrageProfit:   5,
		MaxSpreadCost:        8,
		ScanInterval:         50 * time.Millisecond,
		MaxConcurrentExecs:   3,
		TargetExposurePerLeg: 10000,
		LotStep:              0.01,
		MinLot:               0.01,
		MaxLot:               100,
		BalanceTolerance:     0.05,
		DefaultContractSize:  100000,
		RetryAttempts:        1,
		RecoveryInterval:     50 * time.Millisecond,
		HarvestInterval:      50 * time.Millisecond,
		MaxPositionTime:      time.Hour,
		MaxRecoveryTime:      time.Hour,
		ProfitLevels:         []float64{8, 15, 25, 40},
		ProfitPercentages:    []float64{25, 25, 30, 20},
	}

	sim := gateway.NewSim("MT5", 100000, clock, log)
	det := detector.New(detector.Config{MinProfitPips: 5, MaxSpreadCost: 8}, clock, log)
	sizer := sizing.New(nil, 100000, nil, log)
	coord, err := execution.New(sim, execution.Config{RetryAttempts: 1}, eventManager, log)
	require.NoError(t, err)
	tracker := recovery.NewCorrelationTracker(recovery.Thresholds{Strong: 0.8, Medium: 0.6, Weak: 0.4}, log)
	recoveryManager := recovery.NewManager(recovery.Config{MaxLayers: 6, Multiplier: 1.5, MinLot: 0.01, LotStep: 0.01}, coord, tracker, clock, eventManager, log)
	harvester := harvest.New(harvest.Config{
		Levels:      []float64{8, 15, 25, 40},
		Percentages: []float64{25, 25, 30, 20},
		MinLot:      0.01,
		LotStep:     0.01,
	}, coord, clock, eventManager, log)

	eng, err := engine.New(cfg, engine.Deps{
		Provider:    sim,
		Detector:    det,
		Sizer:       sizer,
		Coordinator: coord,
		Recovery:    recoveryManager,
		Tracker:     tracker,
		Harvester:   harvester,
		Events:      eventManager,
		Clock:       clock,
	}, log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Stop() })

	return New(Config{
		Log:      log,
		Port:     0,
		DevMode:  true,
		Handlers: NewHandlers(eng, recoveryManager, harvester, log),
	})
}

func doRequest(t *testing.T, srv *Server, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)
	return rec
}

func TestHandleHealth(t *testing.T) {
	srv := newTestServer(t)
	rec := doRequest(t, srv, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestEngineLifecycleEndpoints(t *testing.T) {
	srv := newTestServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/api/engine/status")
	require.Equal(t, http.StatusOK, rec.Code)
	var status engine.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, engine.StateStopped, status.State)

	assert.Equal(t, http.StatusOK, doRequest(t, srv, http.MethodPost, "/api/engine/start").Code)
	// Double start conflicts.
	assert.Equal(t, http.StatusConflict, doRequest(t, srv, http.MethodPost, "/api/engine/start").Code)

	assert.Equal(t, http.StatusOK, doRequest(t, srv, http.MethodPost, "/api/engine/pause").Code)
	assert.Equal(t, http.StatusOK, doRequest(t, srv, http.MethodPost, "/api/engine/resume").Code)
	assert.Equal(t, http.StatusOK, doRequest(t, srv, http.MethodPost, "/api/engine/stop").Code)
}

func TestMonitoringEndpoints(t *testing.T) {
	srv := newTestServer(t)

	for _, path := range []string{
		"/api/opportunities",
		"/api/positions",
		"/api/recovery/status",
		"/api/harvester/status",
		"/api/system/health",
	} {
		rec := doRequest(t, srv, http.MethodGet, path)
		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"), path)
	}
}

func TestHarvesterResetEndpoint(t *testing.T) {
	srv := newTestServer(t)
	rec := doRequest(t, srv, http.MethodPost, "/api/harvester/reset")
	assert.Equal(t, http.StatusOK, rec.Code)
}
