package worker

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/txMaestro/web3safetykit/internal/chain"
	"github.com/txMaestro/web3safetykit/internal/logging"
	"github.com/txMaestro/web3safetykit/internal/notify"
	"github.com/txMaestro/web3safetykit/internal/queue"
	"github.com/txMaestro/web3safetykit/internal/types"
)

// WalletStore is the wallet persistence surface the handlers need
type WalletStore interface {
	GetByID(ctx context.Context, id string) (*types.Wallet, error)
	StampLastScan(ctx context.Context, id string, at time.Time) error
	AdvanceWatermark(ctx context.Context, id string, stream types.Stream, block uint64) error
	SaveApprovalFingerprints(ctx context.Context, id string, fingerprints []string) error
	SaveContractFingerprints(ctx context.Context, id string, fingerprints []string) error
}

// TransactionStore is the transaction cache surface
type TransactionStore interface {
	Append(ctx context.Context, txs []*types.Transaction) error
	ListByStream(ctx context.Context, walletID string, stream types.Stream) ([]*types.Transaction, error)
}

// ReportStore is the report persistence surface
type ReportStore interface {
	UpsertSection(ctx context.Context, walletID, section string, content any) error
	FinalizeScore(ctx context.Context, walletID string, score int, summary string) error
	Get(ctx context.Context, walletID string) (*types.Report, error)
}

// ChainReader is the blockchain adapter surface; satisfied by chain.Adapter
type ChainReader interface {
	ListTransactions(ctx context.Context, chainID types.ChainID, address string, stream types.Stream, startBlock uint64, sort string, limit int) ([]*types.Transaction, error)
	GetSourceCode(ctx context.Context, chainID types.ChainID, address string) (*chain.SourceCode, error)
	GetBytecode(ctx context.Context, chainID types.ChainID, address string) []byte
	ImplementationAddress(ctx context.Context, chainID types.ChainID, address string) (common.Address, bool)
	Allowance(ctx context.Context, chainID types.ChainID, token, owner, spender string) *big.Int
	IsApprovedForAll(ctx context.Context, chainID types.ChainID, collection, owner, operator string) bool
	Decimals(ctx context.Context, chainID types.ChainID, token string) (uint8, bool)
	ParseInput(input string) *chain.ParsedCall
	Codec() *chain.Codec
}

// Labeler decorates addresses for display
type Labeler interface {
	ResolveAll(ctx context.Context, addresses []string, chainID types.ChainID) map[string]string
}

// Summarizer produces AI summaries through the gateway
type Summarizer interface {
	Submit(ctx context.Context, provider types.Provider, requestData map[string]any) (string, error)
}

// Pipeline bundles the dependencies shared by all analysis handlers
type Pipeline struct {
	queue    *queue.Queue
	wallets  WalletStore
	txs      TransactionStore
	reports  ReportStore
	reader   ChainReader
	labels   Labeler
	notifier *notify.Notifier
	ai       Summarizer

	initialScanMaxTx int
	log              *logrus.Entry
}

// PipelineConfig wires a pipeline
type PipelineConfig struct {
	Queue            *queue.Queue
	Wallets          WalletStore
	Transactions     TransactionStore
	Reports          ReportStore
	Reader           ChainReader
	Labels           Labeler
	Notifier         *notify.Notifier
	AI               Summarizer
	InitialScanMaxTx int
}

// NewPipeline creates the handler bundle
func NewPipeline(cfg *PipelineConfig) *Pipeline {
	maxTx := cfg.InitialScanMaxTx
	if maxTx <= 0 {
		maxTx = 1000
	}
	return &Pipeline{
		queue:            cfg.Queue,
		wallets:          cfg.Wallets,
		txs:              cfg.Transactions,
		reports:          cfg.Reports,
		reader:           cfg.Reader,
		labels:           cfg.Labels,
		notifier:         cfg.Notifier,
		ai:               cfg.AI,
		initialScanMaxTx: maxTx,
		log:              logging.Component("pipeline"),
	}
}

// Workers builds the six single-purpose workers over this pipeline
func (p *Pipeline) Workers(poll time.Duration) []*Worker {
	return []*Worker{
		NewWorker(types.TaskFullScan, p.queue, p.HandleFullScan, poll),
		NewWorker(types.TaskFetchTransactions, p.queue, p.HandleFetchTransactions, poll),
		NewWorker(types.TaskAnalyzeApprovals, p.queue, p.HandleApprovals, poll),
		NewWorker(types.TaskAnalyzeContracts, p.queue, p.HandleContracts, poll),
		NewWorker(types.TaskAnalyzeActivity, p.queue, p.HandleActivity, poll),
		NewWorker(types.TaskAnalyzeLPStake, p.queue, p.HandleLPStake, poll),
	}
}
