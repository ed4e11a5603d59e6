package storage

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/txMaestro/web3safetykit/internal/config"
	"github.com/txMaestro/web3safetykit/internal/types"
)

// getTestDB connects to a local Postgres and skips the test when it is not
// reachable. Uses a dedicated database so migrations can be applied freely.
func getTestDB(t *testing.T) *PostgresDB {
	t.Helper()

	cfg := &config.PostgresConfig{
		Host:           getTestEnv("POSTGRES_TEST_HOST", "localhost"),
		Port:           getTestEnv("POSTGRES_TEST_PORT", "5432"),
		Database:       getTestEnv("POSTGRES_TEST_DB", "web3safetykit_test"),
		User:           getTestEnv("POSTGRES_TEST_USER", "safetykit"),
		Password:       getTestEnv("POSTGRES_TEST_PASSWORD", ""),
		MaxConnections: 10,
	}

	db, err := NewPostgresDB(cfg)
	if err != nil {
		t.Skipf("Postgres not available: %v", err)
	}

	if err := RunMigrations(PostgresURL(cfg), "../../migrations"); err != nil {
		db.Close()
		t.Skipf("migrations not applicable: %v", err)
	}

	t.Cleanup(func() {
		ctx := context.Background()
		_, _ = db.Pool().Exec(ctx, "TRUNCATE wallets, analysis_jobs, api_requests, reports, contract_analyses, address_labels, telegram_link_tokens, telegram_chat_bindings CASCADE")
		db.Close()
	})

	return db
}

func getTestEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func TestAPIRequestClaimIsExclusive(t *testing.T) {
	db := getTestDB(t)
	repo := NewAPIRequestRepository(db)
	ctx := context.Background()

	id, err := repo.Create(ctx, types.ProviderEtherscan, map[string]any{"module": "account"})
	require.NoError(t, err)

	// Many concurrent claimers: exactly one wins the single pending record
	const claimers = 16
	var wg sync.WaitGroup
	results := make(chan *types.APIRequest, claimers)
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			req, err := repo.ClaimNext(ctx, types.ProviderEtherscan, "instance")
			assert.NoError(t, err)
			if req != nil {
				results <- req
			}
		}(i)
	}
	wg.Wait()
	close(results)

	var claimed []*types.APIRequest
	for req := range results {
		claimed = append(claimed, req)
	}
	require.Len(t, claimed, 1, "exactly one claimer wins")
	assert.Equal(t, id, claimed[0].ID)
	assert.Equal(t, 1, claimed[0].Attempts)
	require.NotNil(t, claimed[0].ProcessingID)
}

func TestAPIRequestRetryAtGatesClaim(t *testing.T) {
	db := getTestDB(t)
	repo := NewAPIRequestRepository(db)
	ctx := context.Background()

	id, err := repo.Create(ctx, types.ProviderEtherscan, map[string]any{})
	require.NoError(t, err)

	claimed, err := repo.ClaimNext(ctx, types.ProviderEtherscan, "instance")
	require.NoError(t, err)
	require.NotNil(t, claimed)

	// Requeued with a future retry_at: not claimable yet
	require.NoError(t, repo.Requeue(ctx, id, time.Now().Add(time.Hour), "HTTP 500"))

	again, err := repo.ClaimNext(ctx, types.ProviderEtherscan, "instance")
	require.NoError(t, err)
	assert.Nil(t, again)

	// Past retry_at: claimable again, attempts keep increasing
	require.NoError(t, repo.Requeue(ctx, id, time.Now().Add(-time.Second), "HTTP 500"))

	again, err = repo.ClaimNext(ctx, types.ProviderEtherscan, "instance")
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, 2, again.Attempts)
}

func TestAnalysisJobFIFOClaim(t *testing.T) {
	db := getTestDB(t)
	wallets := NewWalletRepository(db)
	jobs := NewJobRepository(db)
	ctx := context.Background()

	wallet := &types.Wallet{UserID: "user-1", Address: "0xabc", Chain: types.ChainEthereum}
	require.NoError(t, wallets.Create(ctx, wallet))

	first, err := jobs.Enqueue(ctx, wallet.ID, types.TaskFullScan, nil)
	require.NoError(t, err)
	_, err = jobs.Enqueue(ctx, wallet.ID, types.TaskFullScan, nil)
	require.NoError(t, err)

	claimed, err := jobs.ClaimNext(ctx, types.TaskFullScan)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, first.ID, claimed.ID, "oldest pending job wins")
	assert.Equal(t, types.JobProcessing, claimed.Status)
	require.NotNil(t, claimed.ProcessedAt)

	// Different task type sees nothing
	other, err := jobs.ClaimNext(ctx, types.TaskAnalyzeApprovals)
	require.NoError(t, err)
	assert.Nil(t, other)
}

func TestWalletWatermarkMonotonicInSQL(t *testing.T) {
	db := getTestDB(t)
	wallets := NewWalletRepository(db)
	ctx := context.Background()

	wallet := &types.Wallet{UserID: "user-2", Address: "0xdef", Chain: types.ChainBase}
	require.NoError(t, wallets.Create(ctx, wallet))

	require.NoError(t, wallets.AdvanceWatermark(ctx, wallet.ID, types.StreamNormal, 500))
	require.NoError(t, wallets.AdvanceWatermark(ctx, wallet.ID, types.StreamNormal, 400))

	got, err := wallets.GetByID(ctx, wallet.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(500), got.Watermark(types.StreamNormal), "watermark never decreases")
}

func TestLabelInsertIgnoresConflicts(t *testing.T) {
	db := getTestDB(t)
	labels := NewLabelRepository(db)
	ctx := context.Background()

	first := &types.AddressLabel{Address: "0xAAA", Chain: types.ChainEthereum, Label: "First", Source: "onchain"}
	require.NoError(t, labels.Save(ctx, first))

	second := &types.AddressLabel{Address: "0xaaa", Chain: types.ChainEthereum, Label: "Second", Source: "explorer"}
	require.NoError(t, labels.Save(ctx, second), "conflicting insert is ignored, not an error")

	got, err := labels.Get(ctx, "0xAaA", types.ChainEthereum)
	require.NoError(t, err)
	assert.Equal(t, "First", got)
}
