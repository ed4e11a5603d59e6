package service

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/txMaestro/web3safetykit/internal/chain"
	"github.com/txMaestro/web3safetykit/internal/logging"
	"github.com/txMaestro/web3safetykit/internal/storage"
	"github.com/txMaestro/web3safetykit/internal/types"
)

// guestScanMaxTx caps the one-shot fetch for unauthenticated scans
const guestScanMaxTx = 200

// GuestScanResult is the cached output of an unauthenticated scan. It is a
// lightweight read-only snapshot: no stored state, no notifications.
type GuestScanResult struct {
	Address          string    `json:"address"`
	Chain            types.ChainID `json:"chain"`
	TransactionCount int       `json:"transactionCount"`
	WalletAgeDays    int       `json:"walletAgeDays"`
	ApprovalIntents  int       `json:"approvalIntents"`
	InteractedContracts int    `json:"interactedContracts"`
	ScannedAt        time.Time `json:"scannedAt"`
}

// GuestTxLister is the adapter surface guest scans need
type GuestTxLister interface {
	ListTransactions(ctx context.Context, chainID types.ChainID, address string, stream types.Stream, startBlock uint64, sort string, limit int) ([]*types.Transaction, error)
	ParseInput(input string) *chain.ParsedCall
}

// GuestScanService serves unauthenticated one-shot scans behind the
// 12-hour Redis cache.
type GuestScanService struct {
	reader GuestTxLister
	cache  *storage.GuestScanCache
	log    *logrus.Entry
}

// NewGuestScanService creates the guest scan service
func NewGuestScanService(reader GuestTxLister, cache *storage.GuestScanCache) *GuestScanService {
	return &GuestScanService{reader: reader, cache: cache, log: logging.Component("guest_scan")}
}

// Scan returns a fresh or cached snapshot for an address
func (s *GuestScanService) Scan(ctx context.Context, address string, chainID types.ChainID) (*GuestScanResult, error) {
	var cached GuestScanResult
	if hit, err := s.cache.Get(ctx, address, &cached); err != nil {
		s.log.WithError(err).Warn("guest scan cache read failed")
	} else if hit {
		return &cached, nil
	}

	txs, err := s.reader.ListTransactions(ctx, chainID, address, types.StreamNormal, 0, "desc", guestScanMaxTx)
	if err != nil {
		return nil, err
	}

	result := &GuestScanResult{
		Address:          strings.ToLower(address),
		Chain:            chainID,
		TransactionCount: len(txs),
		ScannedAt:        time.Now(),
	}

	self := strings.ToLower(address)
	contracts := make(map[string]struct{})
	var firstTx int64
	for _, tx := range txs {
		if firstTx == 0 || tx.Timestamp < firstTx {
			firstTx = tx.Timestamp
		}
		if to := strings.ToLower(tx.To); to != "" && to != self {
			contracts[to] = struct{}{}
		}
		if tx.IsFrom(address) {
			if call := s.reader.ParseInput(tx.Input); call != nil {
				switch call.Name {
				case "approve", "setApprovalForAll", "permit":
					result.ApprovalIntents++
				}
			}
		}
	}
	if firstTx > 0 {
		result.WalletAgeDays = int(time.Since(time.Unix(firstTx, 0)).Hours() / 24)
	}
	result.InteractedContracts = len(contracts)

	if err := s.cache.Put(ctx, address, result); err != nil {
		s.log.WithError(err).Warn("guest scan cache write failed")
	}
	return result, nil
}
