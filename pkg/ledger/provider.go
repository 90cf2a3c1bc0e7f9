package ledger

import (
	"context"
	"errors"

	"github.com/gregtusar/assetrouter/pkg/models"
)

var (
	ErrNotFound        = errors.New("ledger: not found")
	ErrAlreadyExists   = errors.New("ledger: already exists")
	ErrStaleTransition = errors.New("ledger: bridge is no longer pending")
)

// Provider is the system of record for holdings and conversion orders.
//
// RecordBridgeTransition stores a bridge's terminal state only if the stored
// copy is still PENDING, which makes each transition happen at most once
// under concurrent callers. A lost race reports ErrStaleTransition.
type Provider interface {
	ListAccounts(ctx context.Context, userID string) ([]models.Account, error)
	ListWallets(ctx context.Context, userID string) ([]models.Wallet, error)
	ListWalletAssets(ctx context.Context, walletID string) ([]models.WalletAsset, error)
	ListNFTs(ctx context.Context, walletID string) ([]models.NFT, error)
	ListDeFiPositions(ctx context.Context, walletID string) ([]models.DeFiPosition, error)
	ListLiabilities(ctx context.Context, userID string) ([]models.Liability, error)
	FindUserByHandle(ctx context.Context, handle string) (models.User, error)

	PersistBridge(ctx context.Context, bridge models.AssetBridge) error
	GetBridge(ctx context.Context, id string) (models.AssetBridge, error)
	RecordBridgeTransition(ctx context.Context, bridge models.AssetBridge) error

	PersistCollateralPosition(ctx context.Context, position models.CollateralPosition) error
}
