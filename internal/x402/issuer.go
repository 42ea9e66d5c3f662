package x402

import (
	"math"
	"strconv"

	"github.com/google/uuid"
)

// CreditsPerUSD is the fixed conversion rate: $0.10 per credit.
const CreditsPerUSD = 10

// CreditsForUSD converts a USD amount to credits.
func CreditsForUSD(amountUSD float64) int64 {
	return int64(math.Round(amountUSD * CreditsPerUSD))
}

// USDForCredits converts a credit count to its USD price.
func USDForCredits(credits int64) float64 {
	return float64(credits) / CreditsPerUSD
}

// MinTopUpUSD is the smallest challenge amount ever issued. Challenges for
// tiny deficits are padded up to this to keep payments worth their fees.
const MinTopUpUSD = 0.5

// TopUpUSD returns the USD amount to challenge for given a credit deficit.
func TopUpUSD(deficitCredits int64) float64 {
	usd := USDForCredits(deficitCredits)
	if usd < MinTopUpUSD {
		return MinTopUpUSD
	}
	return usd
}

// AtomicAmount converts a USD amount to the token's atomic unit
// representation, e.g. 0.5 USD at 6 decimals -> 500000.
func AtomicAmount(amountUSD float64, decimals int) int64 {
	return int64(math.Round(amountUSD * math.Pow10(decimals)))
}

// USDForAtomic is the inverse of AtomicAmount.
func USDForAtomic(atomic int64, decimals int) float64 {
	return float64(atomic) / math.Pow10(decimals)
}

// Issuer builds payment requirements for 402 responses. Each challenge
// carries a fresh single-use nonce and a fixed expiry window.
type Issuer struct {
	network        string
	asset          string
	assetDecimals  int
	recipient      string
	timeoutSeconds int
}

// NewIssuer creates an Issuer for a single recipient wallet and token.
func NewIssuer(network, asset string, assetDecimals int, recipient string, timeoutSeconds int) *Issuer {
	if timeoutSeconds <= 0 {
		timeoutSeconds = 300
	}
	return &Issuer{
		network:        network,
		asset:          asset,
		assetDecimals:  assetDecimals,
		recipient:      recipient,
		timeoutSeconds: timeoutSeconds,
	}
}

// Recipient returns the configured pay-to wallet.
func (i *Issuer) Recipient() string {
	return i.recipient
}

// Asset returns the configured token identifier.
func (i *Issuer) Asset() string {
	return i.asset
}

// AssetDecimals returns the token's decimal places.
func (i *Issuer) AssetDecimals() int {
	return i.assetDecimals
}

// Issue builds the payment requirements for the given USD amount.
func (i *Issuer) Issue(amountUSD float64, description string) PaymentRequirements {
	atomic := AtomicAmount(amountUSD, i.assetDecimals)

	return PaymentRequirements{
		Scheme:            SchemeExact,
		Network:           i.network,
		MaxAmountRequired: strconv.FormatInt(atomic, 10),
		PayTo:             i.recipient,
		Asset:             i.asset,
		Description:       description,
		MimeType:          "application/json",
		MaxTimeoutSeconds: i.timeoutSeconds,
		Extra: map[string]interface{}{
			"memo":      description,
			"usdAmount": amountUSD,
			"nonce":     uuid.NewString(),
		},
	}
}

// IssueRequired wraps Issue into a full 402 response body.
func (i *Issuer) IssueRequired(amountUSD float64, description string) *PaymentRequired {
	return &PaymentRequired{
		X402Version: Version,
		Error:       "insufficient credits",
		Accepts:     []PaymentRequirements{i.Issue(amountUSD, description)},
	}
}
