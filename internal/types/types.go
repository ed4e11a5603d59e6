// Package types defines the shared domain types for the wallet safety
// analysis pipeline: chains, transaction streams, job and request enums,
// severities, and the cached transaction row.
package types

import (
	"strings"
	"time"
)

// ChainID identifies a supported EVM chain
type ChainID string

const (
	ChainEthereum ChainID = "ethereum"
	ChainPolygon  ChainID = "polygon"
	ChainArbitrum ChainID = "arbitrum"
	ChainBase     ChainID = "base"
	ChainZkSync   ChainID = "zksync"
)

// NumericChainID returns the Etherscan V2 chain identifier.
// Exact values are required for wire compatibility.
func (c ChainID) NumericChainID() int {
	switch c {
	case ChainEthereum:
		return 1
	case ChainPolygon:
		return 137
	case ChainArbitrum:
		return 42161
	case ChainBase:
		return 8453
	case ChainZkSync:
		return 324
	default:
		return 1
	}
}

// SupportedChains lists every chain the pipeline scans
func SupportedChains() []ChainID {
	return []ChainID{ChainEthereum, ChainPolygon, ChainArbitrum, ChainBase, ChainZkSync}
}

// IsSupported reports whether the chain is in the supported set
func (c ChainID) IsSupported() bool {
	for _, chain := range SupportedChains() {
		if chain == c {
			return true
		}
	}
	return false
}

// Stream identifies one of the per-wallet transaction streams
type Stream string

const (
	StreamNormal Stream = "normal"
	StreamToken  Stream = "token"
	StreamNFT    Stream = "nft"
)

// Streams returns all fetcher streams in their canonical order
func Streams() []Stream {
	return []Stream{StreamNormal, StreamToken, StreamNFT}
}

// ExplorerAction maps a stream to the Etherscan account action name
func (s Stream) ExplorerAction() string {
	switch s {
	case StreamToken:
		return "tokentx"
	case StreamNFT:
		return "tokennfttx"
	default:
		return "txlist"
	}
}

// TaskType identifies an analysis job type
type TaskType string

const (
	TaskFullScan          TaskType = "full_scan"
	TaskFetchTransactions TaskType = "fetch_transactions"
	TaskAnalyzeApprovals  TaskType = "analyze_approvals"
	TaskAnalyzeContracts  TaskType = "analyze_contracts"
	TaskAnalyzeActivity   TaskType = "analyze_activity"
	TaskAnalyzeLPStake    TaskType = "analyze_lp_stake"
)

// AnalyzerTasks returns the four post-fetch analyzer task types
func AnalyzerTasks() []TaskType {
	return []TaskType{TaskAnalyzeApprovals, TaskAnalyzeContracts, TaskAnalyzeActivity, TaskAnalyzeLPStake}
}

// JobStatus is the lifecycle state of an analysis job
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// RequestStatus is the lifecycle state of a gateway API request
type RequestStatus string

const (
	RequestPending    RequestStatus = "pending"
	RequestProcessing RequestStatus = "processing"
	RequestCompleted  RequestStatus = "completed"
	RequestFailed     RequestStatus = "failed"
)

// Provider selects a gateway rate-limit bucket and endpoint adapter
type Provider string

const (
	ProviderEtherscan Provider = "etherscan"
	ProviderGemini    Provider = "gemini"
)

// Severity ranks a finding for notification thresholds
type Severity string

const (
	SeverityInformational Severity = "informational"
	SeverityLow           Severity = "low"
	SeverityMedium        Severity = "medium"
	SeverityHigh          Severity = "high"
	SeverityCritical      Severity = "critical"
)

// Rank returns the severity as an ordinal for threshold comparisons
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// AtLeast reports whether the severity meets the given threshold
func (s Severity) AtLeast(threshold Severity) bool {
	return s.Rank() >= threshold.Rank()
}

// Transaction is a cached transaction row from one of the explorer streams.
// String-typed numeric fields preserve the explorer wire format; BlockNumber
// is parsed up front because the watermark logic depends on it.
type Transaction struct {
	WalletID        string  `json:"walletId" ch:"wallet_id"`
	Stream          Stream  `json:"stream" ch:"stream"`
	Hash            string  `json:"hash" ch:"hash"`
	BlockNumber     uint64  `json:"blockNumber" ch:"block_number"`
	Timestamp       int64   `json:"timestamp" ch:"ts"`
	From            string  `json:"from" ch:"from_address"`
	To              string  `json:"to" ch:"to_address"`
	Value           string  `json:"value" ch:"value"`
	Input           string  `json:"input" ch:"input"`
	MethodID        string  `json:"methodId" ch:"method_id"`
	FunctionName    string  `json:"functionName" ch:"function_name"`
	ContractAddress string  `json:"contractAddress" ch:"contract_address"`
	TokenSymbol     string  `json:"tokenSymbol" ch:"token_symbol"`
	TokenDecimal    string  `json:"tokenDecimal" ch:"token_decimal"`
	IsError         string  `json:"isError" ch:"is_error"`
}

// IsFrom reports whether the transaction was sent by the given address
func (t *Transaction) IsFrom(address string) bool {
	return strings.EqualFold(t.From, address)
}

// Wallet is a registered wallet under analysis
type Wallet struct {
	ID                   string
	UserID               string
	Address              string
	Chain                ChainID
	Label                string
	LastScanAt           *time.Time
	StreamWatermarks     map[Stream]uint64
	ApprovalFingerprints []string
	ContractFingerprints []string
	CreatedAt            time.Time
}

// Watermark returns the last ingested block for a stream, zero when the
// stream has never been fetched
func (w *Wallet) Watermark(stream Stream) uint64 {
	if w.StreamWatermarks == nil {
		return 0
	}
	return w.StreamWatermarks[stream]
}

// AnalysisJob is a durable unit of analysis work
type AnalysisJob struct {
	ID          string
	WalletID    string
	TaskType    TaskType
	Status      JobStatus
	Attempts    int
	Payload     map[string]any
	CreatedAt   time.Time
	ProcessedAt *time.Time
}

// APIRequest is a persisted outbound call owned by the gateway
type APIRequest struct {
	ID           string
	Provider     Provider
	RequestData  map[string]any
	Status       RequestStatus
	Attempts     int
	ProcessingID *string
	RetryAt      *time.Time
	Result       *string
	Error        *string
	CreatedAt    time.Time
	CompletedAt  *time.Time
}

// Report is the latest analysis output for a wallet. Each analyzer writes its
// own details section; the activity analyzer owns the score and summary.
type Report struct {
	WalletID  string
	RiskScore int
	Summary   string
	Details   map[string]any
	UpdatedAt time.Time
}

// ContractAnalysis is the cached on-demand analysis of a single contract
type ContractAnalysis struct {
	ContractAddress string
	Chain           ChainID
	Analysis        map[string]any
	LastAnalyzedAt  time.Time
}

// AddressLabel is a resolved human-readable name for an address
type AddressLabel struct {
	Address string
	Chain   ChainID
	Label   string
	Source  string
}

// TelegramLinkToken binds a user to a Telegram chat. Tokens expire ten
// minutes after creation and are consumed on first valid binding.
type TelegramLinkToken struct {
	UserID    string
	Token     string
	ChatID    *int64
	CreatedAt time.Time
}

// LinkTokenTTL is the validity window for telegram link tokens
const LinkTokenTTL = 10 * time.Minute

// Expired reports whether the token is past its validity window
func (t *TelegramLinkToken) Expired(now time.Time) bool {
	return now.Sub(t.CreatedAt) > LinkTokenTTL
}
