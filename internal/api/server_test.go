package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/txMaestro/web3safetykit/internal/chain"
	"github.com/txMaestro/web3safetykit/internal/queue"
	"github.com/txMaestro/web3safetykit/internal/service"
	"github.com/txMaestro/web3safetykit/internal/storage"
	"github.com/txMaestro/web3safetykit/internal/types"
)

type fakeRequestStats struct {
	stats *storage.QueueStats
}

func (f *fakeRequestStats) Stats(context.Context) (*storage.QueueStats, error) {
	return f.stats, nil
}

type fakeJobStore struct {
	enqueued []types.TaskType
}

func (f *fakeJobStore) Enqueue(_ context.Context, walletID string, taskType types.TaskType, _ map[string]any) (*types.AnalysisJob, error) {
	f.enqueued = append(f.enqueued, taskType)
	return &types.AnalysisJob{ID: "job-1", WalletID: walletID, TaskType: taskType, Status: types.JobPending}, nil
}

func (f *fakeJobStore) ClaimNext(context.Context, types.TaskType) (*types.AnalysisJob, error) {
	return nil, nil
}
func (f *fakeJobStore) Complete(context.Context, string) error { return nil }
func (f *fakeJobStore) Fail(context.Context, string) error     { return nil }
func (f *fakeJobStore) CountByStatus(context.Context) (map[types.JobStatus]int, error) {
	return map[types.JobStatus]int{types.JobPending: 2}, nil
}

type fakeGuestReader struct{}

func (fakeGuestReader) ListTransactions(context.Context, types.ChainID, string, types.Stream, uint64, string, int) ([]*types.Transaction, error) {
	return []*types.Transaction{{Hash: "0x1", BlockNumber: 10, Timestamp: time.Now().Add(-40 * 24 * time.Hour).Unix(), To: "0xpool"}}, nil
}

func (fakeGuestReader) ParseInput(string) *chain.ParsedCall { return nil }

type fakeContractReader struct{}

func (fakeContractReader) GetSourceCode(context.Context, types.ChainID, string) (*chain.SourceCode, error) {
	return &chain.SourceCode{}, nil
}
func (fakeContractReader) GetBytecode(context.Context, types.ChainID, string) []byte { return nil }
func (fakeContractReader) ImplementationAddress(context.Context, types.ChainID, string) (common.Address, bool) {
	return common.Address{}, false
}

type fakeAnalysisCache struct{}

func (fakeAnalysisCache) GetFresh(context.Context, string, types.ChainID) (*types.ContractAnalysis, error) {
	return nil, nil
}
func (fakeAnalysisCache) Upsert(context.Context, *types.ContractAnalysis) error { return nil }

func newTestServer(t *testing.T) (*Server, *fakeJobStore) {
	t.Helper()

	mini := miniredis.RunT(t)
	cache := storage.NewRedisCacheFromClient(redis.NewClient(&redis.Options{Addr: mini.Addr()}))

	jobs := &fakeJobStore{}
	server := NewServer(&ServerConfig{
		Host: "127.0.0.1",
		Port: "0",
		Requests: &fakeRequestStats{stats: &storage.QueueStats{
			CountsByStatus:        map[types.RequestStatus]int{types.RequestPending: 5},
			CompletedLast5m:       60,
			EstimatedDrainSeconds: 25,
		}},
		Jobs:      queue.New(jobs),
		Guest:     service.NewGuestScanService(fakeGuestReader{}, storage.NewGuestScanCache(cache)),
		Contracts: service.NewContractService(fakeContractReader{}, fakeAnalysisCache{}),
		Registry:  prometheus.NewRegistry(),
		RateLimit: 1000,
	})
	return server, jobs
}

func TestHealthz(t *testing.T) {
	server, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestQueueStats(t *testing.T) {
	server, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/queue/stats", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var payload struct {
		APIRequests struct {
			CountsByStatus        map[string]int `json:"countsByStatus"`
			CompletedLast5m       int            `json:"completedLast5m"`
			EstimatedDrainSeconds float64        `json:"estimatedDrainSeconds"`
		} `json:"apiRequests"`
		AnalysisJobs map[string]int `json:"analysisJobs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))

	assert.Equal(t, 5, payload.APIRequests.CountsByStatus["pending"])
	assert.Equal(t, 60, payload.APIRequests.CompletedLast5m)
	assert.InDelta(t, 25, payload.APIRequests.EstimatedDrainSeconds, 0.001)
	assert.Equal(t, 2, payload.AnalysisJobs["pending"])
}

func TestRescanEnqueuesFullScan(t *testing.T) {
	server, jobs := newTestServer(t)

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/wallets/wallet-1/rescan", nil))

	assert.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, jobs.enqueued, 1)
	assert.Equal(t, types.TaskFullScan, jobs.enqueued[0])
}

func TestGuestScanValidatesInput(t *testing.T) {
	server, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/guest-scan", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/guest-scan?address=0xabc&chain=dogechain", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGuestScanReturnsSnapshot(t *testing.T) {
	server, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/guest-scan?address=0xabc&chain=ethereum", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var result service.GuestScanResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, 1, result.TransactionCount)
	assert.Equal(t, 1, result.InteractedContracts)
}

func TestContractAnalysisEndpoint(t *testing.T) {
	server, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	path := fmt.Sprintf("/v1/contracts/ethereum/%s", "0xdddddddddddddddddddddddddddddddddddddddd")
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var analysis types.ContractAnalysis
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &analysis))
	assert.Equal(t, false, analysis.Analysis["verified"])
}
