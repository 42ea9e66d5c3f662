package service

import (
	"context"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mockmate/creditgate/internal/models"
	"github.com/mockmate/creditgate/internal/x402"
)

// fakeSettler credits the ledger like a successful settlement would, or
// returns a scripted failure.
type fakeSettler struct {
	ledger    *fakeLedger
	fail      string
	credits   int64
	gotTxID   string
	gotUSD    float64
	gotAmount int64
}

func (f *fakeSettler) Settle(ctx context.Context, userID, transactionID string, expectedAmount int64, usdAmount float64, _, _ string) models.SettlementResult {
	f.gotTxID = transactionID
	f.gotUSD = usdAmount
	f.gotAmount = expectedAmount
	if f.fail != "" {
		return models.SettlementResult{Success: false, Error: f.fail}
	}
	_ = f.ledger.Add(ctx, userID, f.credits)
	return models.SettlementResult{Success: true, CreditsAdded: f.credits}
}

func newTestGate(ledger *fakeLedger, records *fakeRecords, settler Settler) *UsageGate {
	issuer := x402.NewIssuer("solana", testMint, 6, testRecipient, 300)
	return NewUsageGate(ledger, records, issuer, settler)
}

func proofHeader(t *testing.T, signature string) *x402.PaymentPayload {
	t.Helper()
	payload := &x402.PaymentPayload{
		X402Version: x402.Version,
		Scheme:      x402.SchemeExact,
		Network:     "solana",
		Payload:     x402.PaymentProof{Signature: signature},
	}
	encoded, err := x402.EncodePaymentHeader(payload)
	require.NoError(t, err)
	decoded, err := x402.DecodePaymentHeader(encoded)
	require.NoError(t, err)
	return decoded
}

func TestCheckUsageAnonymousBypassesMetering(t *testing.T) {
	gate := newTestGate(newFakeLedger(), newFakeRecords(), &fakeSettler{})

	result, err := gate.CheckUsage(context.Background(), "", "generate_question", 1, nil)
	require.NoError(t, err)
	assert.True(t, result.Allowed)
	assert.Nil(t, result.PaymentRequired)
}

func TestCheckUsageDeductsWhenAffordable(t *testing.T) {
	ledger := newFakeLedger()
	ledger.balances[testUser] = 10
	gate := newTestGate(ledger, newFakeRecords(), &fakeSettler{})

	result, err := gate.CheckUsage(context.Background(), testUser, "generate_question", 3, nil)
	require.NoError(t, err)

	assert.True(t, result.Allowed)
	assert.Equal(t, int64(7), result.Remaining)
	assert.Equal(t, int64(10), result.CreditsAvailable)

	balance, _ := ledger.GetBalance(context.Background(), testUser)
	assert.Equal(t, int64(7), balance)
}

func TestCheckUsageIssuesChallengeWhenBroke(t *testing.T) {
	ledger := newFakeLedger()
	records := newFakeRecords()
	gate := newTestGate(ledger, records, &fakeSettler{})

	result, err := gate.CheckUsage(context.Background(), testUser, "generate_question", 1, nil)
	require.NoError(t, err)

	require.False(t, result.Allowed)
	require.NotNil(t, result.PaymentRequired)
	require.Len(t, result.PaymentRequired.Accepts, 1)

	challenge := result.PaymentRequired.Accepts[0]
	assert.Equal(t, "500000", challenge.MaxAmountRequired, "a 1-credit deficit is padded to the $0.50 minimum")
	assert.Equal(t, testMint, challenge.Asset)
	assert.Equal(t, testRecipient, challenge.PayTo)
	assert.Equal(t, 0.5, challenge.Extra["usdAmount"])

	// The insufficient-balance check leaves a pending placeholder behind.
	pending, err := records.GetPendingByUser(context.Background(), testUser, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.True(t, strings.HasPrefix(pending[0].TransactionID, "pending_"))
	assert.Equal(t, int64(500000), pending[0].ExpectedAmount)
}

func TestCheckUsageEveryBrokeCheckWritesARecord(t *testing.T) {
	ledger := newFakeLedger()
	records := newFakeRecords()
	gate := newTestGate(ledger, records, &fakeSettler{})

	for i := 0; i < 3; i++ {
		_, err := gate.CheckUsage(context.Background(), testUser, "generate_question", 1, nil)
		require.NoError(t, err)
	}

	pending, err := records.GetPendingByUser(context.Background(), testUser, 0)
	require.NoError(t, err)
	assert.Len(t, pending, 3)
}

func TestCheckUsageSettlesAttachedProof(t *testing.T) {
	ledger := newFakeLedger()
	settler := &fakeSettler{ledger: ledger, credits: 5}
	gate := newTestGate(ledger, newFakeRecords(), settler)

	result, err := gate.CheckUsage(context.Background(), testUser, "generate_question", 1, proofHeader(t, testTxID))
	require.NoError(t, err)

	assert.True(t, result.Allowed)
	assert.Equal(t, testTxID, settler.gotTxID)
	assert.Equal(t, 0.5, settler.gotUSD)
	assert.Equal(t, int64(5), result.CreditsAvailable)
	assert.Equal(t, int64(4), result.Remaining, "the settled payment covers the action's cost")
}

func TestCheckUsageReportsSettlementFailure(t *testing.T) {
	ledger := newFakeLedger()
	settler := &fakeSettler{ledger: ledger, fail: "payment verification failed: timeout"}
	gate := newTestGate(ledger, newFakeRecords(), settler)

	result, err := gate.CheckUsage(context.Background(), testUser, "generate_question", 1, proofHeader(t, testTxID))
	require.NoError(t, err)

	require.False(t, result.Allowed)
	require.NotNil(t, result.PaymentRequired)
	assert.Equal(t, "payment verification failed: timeout", result.PaymentRequired.Error)
}

func TestCheckUsageRejectsProofWithoutTransaction(t *testing.T) {
	gate := newTestGate(newFakeLedger(), newFakeRecords(), &fakeSettler{})

	proof := &x402.PaymentPayload{
		X402Version: x402.Version,
		Scheme:      x402.SchemeExact,
		Network:     "solana",
		Payload: x402.PaymentProof{
			SerializedTransaction: base64.StdEncoding.EncodeToString([]byte("garbage")),
		},
	}

	_, err := gate.CheckUsage(context.Background(), testUser, "generate_question", 1, proof)
	require.ErrorIs(t, err, x402.ErrInvalidFormat)
}

func TestCheckUsageSettlesAgainstChallengedAmount(t *testing.T) {
	ledger := newFakeLedger()
	ledger.balances[testUser] = 10
	records := newFakeRecords()
	settler := &fakeSettler{ledger: ledger, credits: 25}
	gate := newTestGate(ledger, records, settler)

	// Challenge a 20-credit deficit: $2.00, recorded on the placeholder.
	_, err := gate.CheckUsage(context.Background(), testUser, "bulk_generate", 30, nil)
	require.NoError(t, err)

	// A concurrent deduction moves the balance before the payment lands.
	// The recomputed deficit would now be 24 credits ($2.40); the payment
	// still answers the $2.00 challenge and must be matched against it.
	require.NoError(t, ledger.Deduct(context.Background(), testUser, 4))

	result, err := gate.CheckUsage(context.Background(), testUser, "bulk_generate", 30, proofHeader(t, testTxID))
	require.NoError(t, err)

	assert.True(t, result.Allowed)
	assert.Equal(t, int64(2000000), settler.gotAmount)
	assert.Equal(t, 2.0, settler.gotUSD)
}

func TestCheckUsageProofWithoutChallengeSettlesMinimumTopUp(t *testing.T) {
	ledger := newFakeLedger()
	ledger.balances[testUser] = 50
	settler := &fakeSettler{ledger: ledger, credits: 5}
	gate := newTestGate(ledger, newFakeRecords(), settler)

	// The balance already covers the action, so the deficit is negative;
	// the unsolicited payment is still settled, at the minimum top-up.
	result, err := gate.CheckUsage(context.Background(), testUser, "generate_question", 1, proofHeader(t, testTxID))
	require.NoError(t, err)

	assert.True(t, result.Allowed)
	assert.Equal(t, int64(500000), settler.gotAmount)
	assert.Equal(t, 0.5, settler.gotUSD)
}

func TestCheckUsageChallengeCoversDeficitAboveMinimum(t *testing.T) {
	ledger := newFakeLedger()
	ledger.balances[testUser] = 10
	gate := newTestGate(ledger, newFakeRecords(), &fakeSettler{})

	result, err := gate.CheckUsage(context.Background(), testUser, "bulk_generate", 30, nil)
	require.NoError(t, err)

	require.False(t, result.Allowed)
	challenge := result.PaymentRequired.Accepts[0]
	// 20-credit deficit at $0.10 per credit.
	assert.Equal(t, "2000000", challenge.MaxAmountRequired)
	assert.Equal(t, 2.0, challenge.Extra["usdAmount"])
}
