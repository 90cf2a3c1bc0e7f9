package recipient

import (
	"context"
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gregtusar/assetrouter/pkg/ledger"
	"github.com/gregtusar/assetrouter/pkg/models"
	"github.com/sirupsen/logrus"
)

type UserDirectory interface {
	FindUserByHandle(ctx context.Context, handle string) (models.User, error)
}

// Classifier infers how a payment recipient should be paid from the shape of
// its identifier.
type Classifier struct {
	directory UserDirectory
	logger    *logrus.Logger
}

func NewClassifier(directory UserDirectory, logger *logrus.Logger) *Classifier {
	return &Classifier{directory: directory, logger: logger}
}

// Classify never fails. Rules are checked in order and the first match wins:
// email, ethereum address, bitcoin address, known user handle, and finally
// an external account reached by wire.
func (c *Classifier) Classify(ctx context.Context, identifier string) models.Recipient {
	id := strings.TrimSpace(identifier)
	r := models.Recipient{Identifier: id}

	switch {
	case strings.Contains(id, "@"):
		return with(r, models.RecipientEmail, models.AssetClassFiat, models.MethodBankTransfer)
	case IsEthereumAddress(id):
		return with(r, models.RecipientEthereumAddress, models.AssetClassCrypto, models.MethodCryptoTransfer)
	case IsBitcoinAddress(id):
		return with(r, models.RecipientBitcoinAddress, models.AssetClassCrypto, models.MethodCryptoTransfer)
	}

	if id != "" && c.directory != nil {
		user, err := c.directory.FindUserByHandle(ctx, id)
		switch {
		case err == nil:
			r.UserID = user.ID
			return with(r, models.RecipientInternalUser, models.AssetClassFiat, models.MethodInternalTransfer)
		case !errors.Is(err, ledger.ErrNotFound):
			c.logger.WithError(err).WithField("identifier", id).Warn("User directory lookup failed")
		}
	}

	return with(r, models.RecipientExternalAccount, models.AssetClassFiat, models.MethodWireTransfer)
}

func with(r models.Recipient, t models.RecipientType, class models.AssetClass, method models.TransferMethod) models.Recipient {
	r.Type = t
	r.PreferredAssetClass = class
	r.PreferredMethod = method
	return r
}

// IsEthereumAddress requires the 0x prefix and 40 hex digits.
func IsEthereumAddress(s string) bool {
	if len(s) != 42 || !strings.HasPrefix(s, "0x") {
		return false
	}
	return common.IsHexAddress(s)
}

// IsBitcoinAddress is a shape check only: bech32 "bc1" addresses, or legacy
// P2PKH/P2SH addresses starting with 1 or 3 longer than 26 characters.
func IsBitcoinAddress(s string) bool {
	if strings.HasPrefix(s, "bc1") {
		return true
	}
	return (strings.HasPrefix(s, "1") || strings.HasPrefix(s, "3")) && len(s) > 26
}
