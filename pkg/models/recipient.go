package models

type RecipientType string

const (
	RecipientEmail           RecipientType = "email"
	RecipientEthereumAddress RecipientType = "ethereum_address"
	RecipientBitcoinAddress  RecipientType = "bitcoin_address"
	RecipientInternalUser    RecipientType = "internal_user"
	RecipientExternalAccount RecipientType = "external_account"
)

type TransferMethod string

const (
	MethodBankTransfer     TransferMethod = "bank_transfer"
	MethodCryptoTransfer   TransferMethod = "crypto_transfer"
	MethodInternalTransfer TransferMethod = "internal_transfer"
	MethodWireTransfer     TransferMethod = "wire_transfer"
)

type Recipient struct {
	Identifier          string         `json:"identifier"`
	Type                RecipientType  `json:"type"`
	PreferredAssetClass AssetClass     `json:"preferred_asset_class"`
	PreferredMethod     TransferMethod `json:"preferred_method"`
	UserID              string         `json:"user_id,omitempty"`
}
