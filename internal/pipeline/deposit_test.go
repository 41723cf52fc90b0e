package pipeline

import (
	"context"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bearing-technology/routing-backend/pkg/model"
)

func reserveQuote(t *testing.T, env *testEnv, route *model.Route, clientID string) *model.ReservedQuote {
	t.Helper()
	prov := storeProvisional(t, env, route)
	reserved, err := env.pipe.Reserve(context.Background(), prov.QuoteID, clientID)
	require.NoError(t, err)
	return reserved
}

func TestIssueDeposit_PIXForBRL(t *testing.T) {
	env := newTestPipeline(t, nil)
	ctx := context.Background()

	reserved := reserveQuote(t, env, otcRoute(), "c1")
	instructions, err := env.pipe.IssueDeposit(ctx, reserved.QuoteID, "c1", reserved)
	require.NoError(t, err)

	assert.Equal(t, model.MethodPIX, instructions.Method)
	assert.Equal(t, "treasury@test", instructions.AccountDetails.PixKey)
	assert.Equal(t, reserved.AmountIn, instructions.Amount)
	assert.Equal(t, "BRL", instructions.Currency)
	assert.Equal(t, reserved.ReservedUntilTs, instructions.DepositExpiryTs)
	assert.NotEmpty(t, instructions.QRCodeData)

	assert.Regexp(t, regexp.MustCompile(`^r[a-z0-9-]{8}-c1$`), instructions.PaymentReference)
}

func TestIssueDeposit_MethodDerivation(t *testing.T) {
	cases := []struct {
		source string
		want   model.PaymentMethod
	}{
		{"BRL", model.MethodPIX},
		{"MXN", model.MethodSPEI},
		{"USD", model.MethodBankTransfer},
		{"EUR", model.MethodBankTransfer},
		{"NGN", model.MethodBankTransfer},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, methodForToken(tc.source), "source %s", tc.source)
	}
}

func TestPixQR_CRCValid(t *testing.T) {
	treasury := TreasuryDetails{
		PixKey:       "treasury@test",
		MerchantName: "TEST MERCHANT",
		MerchantCity: "SAO PAULO",
	}
	payload := buildPixQR(treasury, 10000, "rabcdef12-c1")

	require.True(t, len(payload) > 8)
	body, crcField := payload[:len(payload)-4], payload[len(payload)-4:]
	assert.True(t, strings.HasSuffix(body, "6304"))

	want := crc16CCITT([]byte(body))
	assert.Equal(t, crcField, strings.ToUpper(crcField))
	assert.Equal(t, want, mustParseCRC(t, crcField))

	// Amount is rendered with two decimals
	assert.Contains(t, payload, "540810000.00")
}

func mustParseCRC(t *testing.T, s string) uint16 {
	t.Helper()
	var v uint16
	for _, c := range s {
		var d uint16
		switch {
		case c >= '0' && c <= '9':
			d = uint16(c - '0')
		case c >= 'A' && c <= 'F':
			d = uint16(c-'A') + 10
		default:
			t.Fatalf("invalid CRC hex digit %q", c)
		}
		v = v<<4 | d
	}
	return v
}

func TestConfirmDeposit_HappyPath(t *testing.T) {
	env := newTestPipeline(t, nil)
	ctx := context.Background()

	reserved := reserveQuote(t, env, otcRoute(), "c1")
	instructions, err := env.pipe.IssueDeposit(ctx, reserved.QuoteID, "c1", reserved)
	require.NoError(t, err)

	record, first, err := env.pipe.ConfirmDeposit(ctx, instructions.PaymentReference, reserved.AmountIn, "bank-tx-1")
	require.NoError(t, err)
	assert.True(t, first)
	assert.Equal(t, model.DepositConfirmed, record.Status)
	assert.Equal(t, "bank-tx-1", record.BankTxID)
	assert.Equal(t, reserved.AmountIn, record.AmountReceived)
	assert.Equal(t, env.clk.NowMs(), record.ReceivedAt)
}

func TestConfirmDeposit_UnknownReference(t *testing.T) {
	env := newTestPipeline(t, nil)

	_, _, err := env.pipe.ConfirmDeposit(context.Background(), "r00000000-none", 100, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConfirmDeposit_Idempotent(t *testing.T) {
	env := newTestPipeline(t, nil)
	ctx := context.Background()

	reserved := reserveQuote(t, env, otcRoute(), "c1")
	instructions, err := env.pipe.IssueDeposit(ctx, reserved.QuoteID, "c1", reserved)
	require.NoError(t, err)

	first, firstFlag, err := env.pipe.ConfirmDeposit(ctx, instructions.PaymentReference, reserved.AmountIn, "bank-tx-1")
	require.NoError(t, err)
	require.True(t, firstFlag)

	second, secondFlag, err := env.pipe.ConfirmDeposit(ctx, instructions.PaymentReference, reserved.AmountIn, "bank-tx-1")
	require.NoError(t, err)
	assert.False(t, secondFlag)
	assert.Equal(t, first.DepositID, second.DepositID)
	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, first.AmountReceived, second.AmountReceived)

	// Only one confirmation event despite two calls.
	assert.Equal(t, 1, env.pub.count("evt.routing.deposit.confirmed.v1"))
}

func TestConfirmDeposit_ToleratesSmallMismatch(t *testing.T) {
	env := newTestPipeline(t, nil)
	ctx := context.Background()

	reserved := reserveQuote(t, env, otcRoute(), "c1")
	instructions, err := env.pipe.IssueDeposit(ctx, reserved.QuoteID, "c1", reserved)
	require.NoError(t, err)

	// 0.3% short: warned, not rejected.
	short := reserved.AmountIn * 0.997
	record, _, err := env.pipe.ConfirmDeposit(ctx, instructions.PaymentReference, short, "bank-tx-1")
	require.NoError(t, err)
	assert.Equal(t, model.DepositConfirmed, record.Status)
	assert.Equal(t, short, record.AmountReceived)
}
