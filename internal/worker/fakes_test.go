package worker

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/txMaestro/web3safetykit/internal/chain"
	"github.com/txMaestro/web3safetykit/internal/notify"
	"github.com/txMaestro/web3safetykit/internal/queue"
	"github.com/txMaestro/web3safetykit/internal/types"
)

// fakeJobStore is an in-memory queue.Store with FIFO claim semantics
type fakeJobStore struct {
	mu   sync.Mutex
	seq  int
	jobs []*types.AnalysisJob
}

func (s *fakeJobStore) Enqueue(_ context.Context, walletID string, taskType types.TaskType, payload map[string]any) (*types.AnalysisJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	job := &types.AnalysisJob{
		ID:        fmt.Sprintf("job-%03d", s.seq),
		WalletID:  walletID,
		TaskType:  taskType,
		Status:    types.JobPending,
		Payload:   payload,
		CreatedAt: time.Now().Add(time.Duration(s.seq) * time.Microsecond),
	}
	s.jobs = append(s.jobs, job)
	return job, nil
}

func (s *fakeJobStore) ClaimNext(_ context.Context, taskType types.TaskType) (*types.AnalysisJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, job := range s.jobs {
		if job.TaskType == taskType && job.Status == types.JobPending {
			job.Status = types.JobProcessing
			now := time.Now()
			job.ProcessedAt = &now
			job.Attempts++
			clone := *job
			return &clone, nil
		}
	}
	return nil, nil
}

func (s *fakeJobStore) Complete(_ context.Context, jobID string) error {
	return s.finish(jobID, types.JobCompleted)
}

func (s *fakeJobStore) Fail(_ context.Context, jobID string) error {
	return s.finish(jobID, types.JobFailed)
}

func (s *fakeJobStore) finish(jobID string, status types.JobStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, job := range s.jobs {
		if job.ID == jobID {
			job.Status = status
			return nil
		}
	}
	return fmt.Errorf("job not found: %s", jobID)
}

func (s *fakeJobStore) CountByStatus(context.Context) (map[types.JobStatus]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[types.JobStatus]int)
	for _, job := range s.jobs {
		counts[job.Status]++
	}
	return counts, nil
}

func (s *fakeJobStore) pendingOfType(taskType types.TaskType) []*types.AnalysisJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.AnalysisJob
	for _, job := range s.jobs {
		if job.TaskType == taskType && job.Status == types.JobPending {
			out = append(out, job)
		}
	}
	return out
}

// fakeWalletStore holds one wallet
type fakeWalletStore struct {
	mu     sync.Mutex
	wallet *types.Wallet
}

func (s *fakeWalletStore) GetByID(_ context.Context, id string) (*types.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.wallet == nil || s.wallet.ID != id {
		return nil, fmt.Errorf("wallet not found: %s", id)
	}
	clone := *s.wallet
	return &clone, nil
}

func (s *fakeWalletStore) StampLastScan(_ context.Context, _ string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wallet.LastScanAt = &at
	return nil
}

func (s *fakeWalletStore) AdvanceWatermark(_ context.Context, _ string, stream types.Stream, block uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.wallet.StreamWatermarks == nil {
		s.wallet.StreamWatermarks = make(map[types.Stream]uint64)
	}
	if block > s.wallet.StreamWatermarks[stream] {
		s.wallet.StreamWatermarks[stream] = block
	}
	return nil
}

func (s *fakeWalletStore) SaveApprovalFingerprints(_ context.Context, _ string, fingerprints []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wallet.ApprovalFingerprints = fingerprints
	return nil
}

func (s *fakeWalletStore) SaveContractFingerprints(_ context.Context, _ string, fingerprints []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wallet.ContractFingerprints = fingerprints
	return nil
}

// fakeTxStore is an in-memory transaction cache
type fakeTxStore struct {
	mu  sync.Mutex
	txs []*types.Transaction
}

func (s *fakeTxStore) Append(_ context.Context, txs []*types.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txs = append(s.txs, txs...)
	return nil
}

func (s *fakeTxStore) ListByStream(_ context.Context, walletID string, stream types.Stream) ([]*types.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.Transaction
	for _, tx := range s.txs {
		if tx.WalletID == walletID && tx.Stream == stream {
			out = append(out, tx)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BlockNumber < out[j].BlockNumber })
	return out, nil
}

// fakeReportStore keeps sections and the finalized score in memory
type fakeReportStore struct {
	mu       sync.Mutex
	sections map[string]any
	score    int
	summary  string
}

func (s *fakeReportStore) UpsertSection(_ context.Context, _ string, section string, content any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sections == nil {
		s.sections = make(map[string]any)
	}
	s.sections[section] = content
	return nil
}

func (s *fakeReportStore) FinalizeScore(_ context.Context, _ string, score int, summary string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.score = score
	s.summary = summary
	return nil
}

func (s *fakeReportStore) Get(_ context.Context, walletID string) (*types.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sections == nil {
		return nil, nil
	}
	details := make(map[string]any, len(s.sections))
	for key, value := range s.sections {
		details[key] = value
	}
	return &types.Report{WalletID: walletID, RiskScore: s.score, Summary: s.summary, Details: details}, nil
}

// fakeReader is a scriptable ChainReader backed by the real codec
type fakeReader struct {
	codec *chain.Codec

	txsByStream map[types.Stream][]*types.Transaction
	listCalls   []listCall

	allowances  map[string]*big.Int // token:spender
	operatorSet map[string]bool     // collection:operator
	decimals    map[string]uint8
	sources     map[string]*chain.SourceCode
	bytecode    map[string][]byte
	impls       map[string]common.Address
}

type listCall struct {
	stream     types.Stream
	startBlock uint64
	sort       string
	limit      int
}

func newFakeReader(t *testing.T) *fakeReader {
	t.Helper()
	codec, err := chain.NewCodec()
	require.NoError(t, err)
	return &fakeReader{
		codec:       codec,
		txsByStream: make(map[types.Stream][]*types.Transaction),
		allowances:  make(map[string]*big.Int),
		operatorSet: make(map[string]bool),
		decimals:    make(map[string]uint8),
		sources:     make(map[string]*chain.SourceCode),
		bytecode:    make(map[string][]byte),
		impls:       make(map[string]common.Address),
	}
}

func (r *fakeReader) ListTransactions(_ context.Context, _ types.ChainID, _ string, stream types.Stream, startBlock uint64, sortDir string, limit int) ([]*types.Transaction, error) {
	r.listCalls = append(r.listCalls, listCall{stream: stream, startBlock: startBlock, sort: sortDir, limit: limit})

	txs := r.txsByStream[stream]
	var filtered []*types.Transaction
	for _, tx := range txs {
		if startBlock > 0 && tx.BlockNumber < startBlock {
			continue
		}
		filtered = append(filtered, tx)
	}
	if limit > 0 && len(filtered) > limit {
		filtered = filtered[:limit]
	}
	return filtered, nil
}

func (r *fakeReader) GetSourceCode(_ context.Context, _ types.ChainID, address string) (*chain.SourceCode, error) {
	if source, ok := r.sources[strings.ToLower(address)]; ok {
		return source, nil
	}
	return &chain.SourceCode{}, nil
}

func (r *fakeReader) GetBytecode(_ context.Context, _ types.ChainID, address string) []byte {
	return r.bytecode[strings.ToLower(address)]
}

func (r *fakeReader) ImplementationAddress(_ context.Context, _ types.ChainID, address string) (common.Address, bool) {
	impl, ok := r.impls[strings.ToLower(address)]
	return impl, ok
}

func (r *fakeReader) Allowance(_ context.Context, _ types.ChainID, token, _, spender string) *big.Int {
	if allowance, ok := r.allowances[strings.ToLower(token)+":"+strings.ToLower(spender)]; ok {
		return allowance
	}
	return big.NewInt(0)
}

func (r *fakeReader) IsApprovedForAll(_ context.Context, _ types.ChainID, collection, _, operator string) bool {
	return r.operatorSet[strings.ToLower(collection)+":"+strings.ToLower(operator)]
}

func (r *fakeReader) Decimals(_ context.Context, _ types.ChainID, token string) (uint8, bool) {
	decimals, ok := r.decimals[strings.ToLower(token)]
	return decimals, ok
}

func (r *fakeReader) ParseInput(input string) *chain.ParsedCall {
	return r.codec.ParseInput(input)
}

func (r *fakeReader) Codec() *chain.Codec {
	return r.codec
}

// fakeLabeler returns a fixed label map
type fakeLabeler struct {
	labels map[string]string
}

func (l *fakeLabeler) ResolveAll(_ context.Context, _ []string, _ types.ChainID) map[string]string {
	if l.labels == nil {
		return map[string]string{}
	}
	return l.labels
}

// recordingSink captures notifications
type recordingSink struct {
	mu       sync.Mutex
	messages []string
}

func (s *recordingSink) Send(_ context.Context, _ int64, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, text)
	return nil
}

func (s *recordingSink) all() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.messages...)
}

type boundChats struct{}

func (boundChats) ChatID(context.Context, string) (int64, error) { return 7, nil }

// fakeAI returns a canned summary
type fakeAI struct {
	summary string
	calls   int
}

func (a *fakeAI) Submit(_ context.Context, _ types.Provider, _ map[string]any) (string, error) {
	a.calls++
	return a.summary, nil
}

// testEnv bundles a pipeline with its fakes
type testEnv struct {
	pipeline *Pipeline
	jobs     *fakeJobStore
	wallets  *fakeWalletStore
	txs      *fakeTxStore
	reports  *fakeReportStore
	reader   *fakeReader
	sink     *recordingSink
	ai       *fakeAI
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		jobs: &fakeJobStore{},
		wallets: &fakeWalletStore{wallet: &types.Wallet{
			ID:               "wallet-1",
			UserID:           "user-1",
			Address:          "0xAbCdEf0000000000000000000000000000001111",
			Chain:            types.ChainEthereum,
			StreamWatermarks: make(map[types.Stream]uint64),
			CreatedAt:        time.Now().Add(-90 * 24 * time.Hour),
		}},
		txs:     &fakeTxStore{},
		reports: &fakeReportStore{},
		reader:  newFakeReader(t),
		sink:    &recordingSink{},
		ai:      &fakeAI{summary: "ai summary"},
	}

	env.pipeline = NewPipeline(&PipelineConfig{
		Queue:            queue.New(env.jobs),
		Wallets:          env.wallets,
		Transactions:     env.txs,
		Reports:          env.reports,
		Reader:           env.reader,
		Labels:           &fakeLabeler{},
		Notifier:         notify.New(env.sink, boundChats{}),
		AI:               env.ai,
		InitialScanMaxTx: 1000,
	})
	return env
}

func (env *testEnv) jobFor(taskType types.TaskType) *types.AnalysisJob {
	return &types.AnalysisJob{ID: "job-x", WalletID: env.wallets.wallet.ID, TaskType: taskType}
}
