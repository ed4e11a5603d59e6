// Package label resolves addresses to human-readable names through a graph
// of caches: process memo, persistent store, on-chain name(), explorer
// source metadata. New findings persist on the outermost miss only.
package label

import (
	"context"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/txMaestro/web3safetykit/internal/chain"
	"github.com/txMaestro/web3safetykit/internal/logging"
	"github.com/txMaestro/web3safetykit/internal/types"
)

// Store is the persistent label layer; implemented by
// storage.LabelRepository.
type Store interface {
	Get(ctx context.Context, address string, chainID types.ChainID) (string, error)
	Save(ctx context.Context, label *types.AddressLabel) error
}

// ChainResolver is the remote fallback surface; satisfied by chain.Adapter
type ChainResolver interface {
	ContractName(ctx context.Context, chainID types.ChainID, address string) string
	GetSourceCode(ctx context.Context, chainID types.ChainID, address string) (*chain.SourceCode, error)
	ImplementationAddress(ctx context.Context, chainID types.ChainID, address string) (common.Address, bool)
}

// Service memoizes resolved labels per process. The memo is shared by every
// worker, so access is mutex-guarded.
type Service struct {
	store    Store
	resolver ChainResolver

	mu   sync.Mutex
	memo map[string]string

	log *logrus.Entry
}

// NewService creates a label service
func NewService(store Store, resolver ChainResolver) *Service {
	return &Service{
		store:    store,
		resolver: resolver,
		memo:     make(map[string]string),
		log:      logging.Component("labels"),
	}
}

func memoKey(address string, chainID types.ChainID) string {
	return strings.ToLower(address) + ":" + string(chainID)
}

// ResolveAll resolves a batch of addresses. Unknown addresses are left out
// of the returned map; callers default to "Unknown" for display.
func (s *Service) ResolveAll(ctx context.Context, addresses []string, chainID types.ChainID) map[string]string {
	labels := make(map[string]string)
	for _, address := range addresses {
		if label := s.Resolve(ctx, address, chainID); label != "" {
			labels[strings.ToLower(address)] = label
		}
	}
	return labels
}

// Resolve walks the cache layers for one address, empty when unknown
func (s *Service) Resolve(ctx context.Context, address string, chainID types.ChainID) string {
	key := memoKey(address, chainID)

	s.mu.Lock()
	if label, ok := s.memo[key]; ok {
		s.mu.Unlock()
		return label
	}
	s.mu.Unlock()

	label, source := s.resolveUncached(ctx, address, chainID)
	if label == "" {
		return ""
	}

	s.mu.Lock()
	s.memo[key] = label
	s.mu.Unlock()

	// Persist only labels discovered beyond the persistent layer;
	// unique-constraint collisions from concurrent resolvers are ignored.
	if source != "store" {
		if err := s.store.Save(ctx, &types.AddressLabel{
			Address: address,
			Chain:   chainID,
			Label:   label,
			Source:  source,
		}); err != nil {
			s.log.WithError(err).WithField("address", address).Debug("label persist failed")
		}
	}

	return label
}

func (s *Service) resolveUncached(ctx context.Context, address string, chainID types.ChainID) (label, source string) {
	if stored, err := s.store.Get(ctx, address, chainID); err == nil && stored != "" {
		return stored, "store"
	}

	if name := s.resolver.ContractName(ctx, chainID, address); name != "" {
		return name, "onchain"
	}

	name := s.explorerName(ctx, address, chainID)
	if name == "" {
		return "", ""
	}

	// Proxy names are near useless; prefer the implementation's name when
	// it differs.
	if strings.Contains(strings.ToLower(name), "proxy") {
		if impl, ok := s.resolver.ImplementationAddress(ctx, chainID, address); ok {
			if implName := s.explorerName(ctx, impl.Hex(), chainID); implName != "" && implName != name {
				return implName, "explorer"
			}
		}
	}

	return name, "explorer"
}

func (s *Service) explorerName(ctx context.Context, address string, chainID types.ChainID) string {
	sourceCode, err := s.resolver.GetSourceCode(ctx, chainID, address)
	if err != nil || sourceCode == nil {
		return ""
	}
	return sourceCode.ContractName
}
