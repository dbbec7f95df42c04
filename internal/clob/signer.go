// signer.go - EIP-712 order signing for the CTF exchange.
package clob

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"math/rand"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/shopspring/decimal"
)

// Exchange constants (Polygon mainnet)
const (
	polygonChainID     = 137
	ctfExchangeAddress = "0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E"
	zeroAddress        = "0x0000000000000000000000000000000000000000"
)

// numeric side values used in the signed struct
const (
	sideBuyValue  = 0
	sideSellValue = 1
)

// ExchangeOrder is the struct the exchange verifies
type ExchangeOrder struct {
	Salt          *big.Int
	Maker         common.Address
	Signer        common.Address
	Taker         common.Address
	TokenID       *big.Int
	MakerAmount   *big.Int
	TakerAmount   *big.Int
	Expiration    *big.Int
	Nonce         *big.Int
	FeeRateBps    *big.Int
	Side          uint8
	SignatureType uint8
}

// SignedOrder pairs an order with its signature
type SignedOrder struct {
	Order     *ExchangeOrder
	Signature string
}

// OrderSigner builds and signs exchange orders for one wallet
type OrderSigner struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	feeRateBps int64
}

// NewOrderSigner creates a signer for the given key. feeRateBps is the
// maximum fee the order accepts.
func NewOrderSigner(privateKey *ecdsa.PrivateKey, feeRateBps int64) *OrderSigner {
	return &OrderSigner{
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(privateKey.PublicKey),
		feeRateBps: feeRateBps,
	}
}

// Address returns the signing address
func (s *OrderSigner) Address() common.Address {
	return s.address
}

// SignedBuy builds and signs a GTC buy of size shares at the given price.
// Collateral and shares both use 6-decimal units; maker (dollars) is
// truncated, taker (shares) rounded to 4 decimals, per venue rules.
func (s *OrderSigner) SignedBuy(tokenID string, price, shares decimal.Decimal) (*SignedOrder, error) {
	tokenInt, ok := new(big.Int).SetString(tokenID, 10)
	if !ok {
		return nil, fmt.Errorf("invalid token id %q", tokenID)
	}

	dollars := shares.Mul(price)
	order := &ExchangeOrder{
		Salt:          big.NewInt(rand.Int63()),
		Maker:         s.address,
		Signer:        s.address,
		Taker:         common.HexToAddress(zeroAddress),
		TokenID:       tokenInt,
		MakerAmount:   toUnitsTruncated(dollars),
		TakerAmount:   toUnitsRounded(shares),
		Expiration:    big.NewInt(0),
		Nonce:         big.NewInt(0),
		FeeRateBps:    big.NewInt(s.feeRateBps),
		Side:          sideBuyValue,
		SignatureType: 0, // EOA
	}
	return s.sign(order)
}

func (s *OrderSigner) sign(order *ExchangeOrder) (*SignedOrder, error) {
	typedData := buildTypedData(order)

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("hash domain: %w", err)
	}
	messageHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("hash message: %w", err)
	}

	rawData := append([]byte{0x19, 0x01}, domainSeparator...)
	rawData = append(rawData, messageHash...)
	hash := crypto.Keccak256Hash(rawData)

	signature, err := crypto.Sign(hash.Bytes(), s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("sign order: %w", err)
	}
	if signature[64] < 27 {
		signature[64] += 27
	}

	return &SignedOrder{Order: order, Signature: fmt.Sprintf("0x%x", signature)}, nil
}

func buildTypedData(order *ExchangeOrder) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"Order": {
				{Name: "salt", Type: "uint256"},
				{Name: "maker", Type: "address"},
				{Name: "signer", Type: "address"},
				{Name: "taker", Type: "address"},
				{Name: "tokenId", Type: "uint256"},
				{Name: "makerAmount", Type: "uint256"},
				{Name: "takerAmount", Type: "uint256"},
				{Name: "expiration", Type: "uint256"},
				{Name: "nonce", Type: "uint256"},
				{Name: "feeRateBps", Type: "uint256"},
				{Name: "side", Type: "uint8"},
				{Name: "signatureType", Type: "uint8"},
			},
		},
		PrimaryType: "Order",
		Domain: apitypes.TypedDataDomain{
			Name:              "Polymarket CTF Exchange",
			Version:           "1",
			ChainId:           math.NewHexOrDecimal256(polygonChainID),
			VerifyingContract: ctfExchangeAddress,
		},
		Message: apitypes.TypedDataMessage{
			"salt":          order.Salt.String(),
			"maker":         order.Maker.Hex(),
			"signer":        order.Signer.Hex(),
			"taker":         order.Taker.Hex(),
			"tokenId":       order.TokenID.String(),
			"makerAmount":   order.MakerAmount.String(),
			"takerAmount":   order.TakerAmount.String(),
			"expiration":    order.Expiration.String(),
			"nonce":         order.Nonce.String(),
			"feeRateBps":    order.FeeRateBps.String(),
			"side":          fmt.Sprintf("%d", order.Side),
			"signatureType": fmt.Sprintf("%d", order.SignatureType),
		},
	}
}

// APIPayload renders the order for the /order endpoint. Owner is the API
// key, not the maker address, and the signature sits inside the order.
func (o *SignedOrder) APIPayload(apiKey, orderType string) map[string]interface{} {
	side := SideBuy
	if o.Order.Side == sideSellValue {
		side = SideSell
	}
	return map[string]interface{}{
		"order": map[string]interface{}{
			"salt":          o.Order.Salt.Int64(),
			"maker":         o.Order.Maker.Hex(),
			"signer":        o.Order.Signer.Hex(),
			"taker":         o.Order.Taker.Hex(),
			"tokenId":       o.Order.TokenID.String(),
			"makerAmount":   o.Order.MakerAmount.String(),
			"takerAmount":   o.Order.TakerAmount.String(),
			"expiration":    o.Order.Expiration.String(),
			"nonce":         o.Order.Nonce.String(),
			"feeRateBps":    o.Order.FeeRateBps.String(),
			"side":          side,
			"signatureType": int(o.Order.SignatureType),
			"signature":     o.Signature,
		},
		"owner":     apiKey,
		"orderType": orderType,
		"postOnly":  false,
	}
}

// toUnitsTruncated scales dollars to 6-decimal units, truncating so the
// order never exceeds its budget
func toUnitsTruncated(d decimal.Decimal) *big.Int {
	return d.Mul(decimal.NewFromInt(1_000_000)).Truncate(0).BigInt()
}

// toUnitsRounded scales shares to 6-decimal units with 4-decimal precision
func toUnitsRounded(d decimal.Decimal) *big.Int {
	return d.Round(4).Mul(decimal.NewFromInt(1_000_000)).Truncate(0).BigInt()
}
