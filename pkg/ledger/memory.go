package ledger

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/gregtusar/assetrouter/pkg/models"
)

// Memory is an in-process Provider for development and tests.
type Memory struct {
	mu           sync.RWMutex
	users        map[string]models.User
	accounts     map[string][]models.Account
	wallets      map[string][]models.Wallet
	walletAssets map[string][]models.WalletAsset
	nfts         map[string][]models.NFT
	defi         map[string][]models.DeFiPosition
	liabilities  map[string][]models.Liability
	bridges      map[string]models.AssetBridge
	positions    map[string]models.CollateralPosition
}

func NewMemory() *Memory {
	return &Memory{
		users:        make(map[string]models.User),
		accounts:     make(map[string][]models.Account),
		wallets:      make(map[string][]models.Wallet),
		walletAssets: make(map[string][]models.WalletAsset),
		nfts:         make(map[string][]models.NFT),
		defi:         make(map[string][]models.DeFiPosition),
		liabilities:  make(map[string][]models.Liability),
		bridges:      make(map[string]models.AssetBridge),
		positions:    make(map[string]models.CollateralPosition),
	}
}

func (m *Memory) AddUser(u models.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
}

func (m *Memory) AddAccount(a models.Account) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[a.UserID] = append(m.accounts[a.UserID], a)
}

func (m *Memory) AddWallet(w models.Wallet) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.wallets[w.UserID] = append(m.wallets[w.UserID], w)
}

func (m *Memory) AddWalletAsset(a models.WalletAsset) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.walletAssets[a.WalletID] = append(m.walletAssets[a.WalletID], a)
}

func (m *Memory) AddNFT(n models.NFT) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nfts[n.WalletID] = append(m.nfts[n.WalletID], n)
}

func (m *Memory) AddDeFiPosition(p models.DeFiPosition) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defi[p.WalletID] = append(m.defi[p.WalletID], p)
}

func (m *Memory) AddLiability(l models.Liability) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.liabilities[l.UserID] = append(m.liabilities[l.UserID], l)
}

func (m *Memory) ListAccounts(_ context.Context, userID string) ([]models.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.Account(nil), m.accounts[userID]...), nil
}

func (m *Memory) ListWallets(_ context.Context, userID string) ([]models.Wallet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.Wallet(nil), m.wallets[userID]...), nil
}

func (m *Memory) ListWalletAssets(_ context.Context, walletID string) ([]models.WalletAsset, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.WalletAsset(nil), m.walletAssets[walletID]...), nil
}

func (m *Memory) ListNFTs(_ context.Context, walletID string) ([]models.NFT, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.NFT(nil), m.nfts[walletID]...), nil
}

func (m *Memory) ListDeFiPositions(_ context.Context, walletID string) ([]models.DeFiPosition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.DeFiPosition(nil), m.defi[walletID]...), nil
}

func (m *Memory) ListLiabilities(_ context.Context, userID string) ([]models.Liability, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.Liability(nil), m.liabilities[userID]...), nil
}

// FindUserByHandle matches handles case-insensitively.
func (m *Memory) FindUserByHandle(_ context.Context, handle string) (models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Handle, handle) {
			return u, nil
		}
	}
	return models.User{}, fmt.Errorf("user %q: %w", handle, ErrNotFound)
}

func (m *Memory) PersistBridge(_ context.Context, bridge models.AssetBridge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.bridges[bridge.ID]; exists {
		return fmt.Errorf("bridge %s: %w", bridge.ID, ErrAlreadyExists)
	}
	m.bridges[bridge.ID] = bridge
	return nil
}

func (m *Memory) GetBridge(_ context.Context, id string) (models.AssetBridge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bridges[id]
	if !ok {
		return models.AssetBridge{}, fmt.Errorf("bridge %s: %w", id, ErrNotFound)
	}
	return b, nil
}

func (m *Memory) RecordBridgeTransition(_ context.Context, bridge models.AssetBridge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.bridges[bridge.ID]
	if !ok {
		return fmt.Errorf("bridge %s: %w", bridge.ID, ErrNotFound)
	}
	if stored.Status != models.BridgeStatusPending {
		return fmt.Errorf("bridge %s is %s: %w", bridge.ID, stored.Status, ErrStaleTransition)
	}
	m.bridges[bridge.ID] = bridge
	return nil
}

func (m *Memory) PersistCollateralPosition(_ context.Context, position models.CollateralPosition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.positions[position.ID]; exists {
		return fmt.Errorf("position %s: %w", position.ID, ErrAlreadyExists)
	}
	m.positions[position.ID] = position
	return nil
}

func (m *Memory) CollateralPosition(id string) (models.CollateralPosition, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.positions[id]
	return p, ok
}
