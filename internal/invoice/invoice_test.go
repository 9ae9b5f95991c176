package invoice

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nodestatus/internal/config"
	"nodestatus/internal/execx"
	"nodestatus/internal/execx/exectest"
)

const payReq = "lnbc10u1pjexample"

var rHash = strings.Repeat("ab", 32)

func TestDecode(t *testing.T) {
	t.Parallel()

	runner := exectest.New().On("lncli decodepayreq "+payReq,
		`{"destination":"03ff","num_satoshis":"1000","description":"coffee","expiry":"3600"}`)
	got, err := NewService(config.Default(), runner, nil, nil).Decode(context.Background(), "  "+payReq+"\n")
	require.NoError(t, err)
	assert.Equal(t, Decoded{Amount: 1000, Message: "coffee", Destination: "03ff", Expiry: 3600}, got)
}

func TestDecode_NoDescription(t *testing.T) {
	t.Parallel()

	runner := exectest.New().On("lncli decodepayreq "+payReq, `{"num_satoshis":"0"}`)
	got, err := NewService(config.Default(), runner, nil, nil).Decode(context.Background(), payReq)
	require.NoError(t, err)
	assert.Equal(t, "No message", got.Message)
	assert.Zero(t, got.Amount)
}

func TestDecode_RejectsInput(t *testing.T) {
	t.Parallel()

	svc := NewService(config.Default(), exectest.New(), nil, nil)
	for _, in := range []string{"", "   ", "bitcoin:bc1qxyz"} {
		_, err := svc.Decode(context.Background(), in)
		assert.ErrorIs(t, err, ErrInvalidInput, in)
	}
}

func TestCreate(t *testing.T) {
	t.Parallel()

	runner := exectest.New().On("lncli addinvoice --amt 2100 --memo tip jar",
		`{"r_hash":"`+rHash+`","payment_request":"lnbc21u1p...","add_index":"7"}`)
	got, err := NewService(config.Default(), runner, nil, nil).Create(context.Background(), 2100, "tip jar")
	require.NoError(t, err)
	assert.Equal(t, Created{PaymentRequest: "lnbc21u1p...", RHash: rHash, AddIndex: 7}, got)
}

func TestCreate_Validation(t *testing.T) {
	t.Parallel()

	svc := NewService(config.Default(), exectest.New(), nil, nil)
	_, err := svc.Create(context.Background(), 0, "")
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = svc.Create(context.Background(), btcutil.Amount(1), strings.Repeat("x", maxMemo+1))
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestLookup(t *testing.T) {
	t.Parallel()

	runner := exectest.New().On("lncli lookupinvoice "+rHash,
		`{"memo":"tip jar","value":"2100","amt_paid_sat":"2100","state":"SETTLED","creation_date":"1714521600"}`)
	got, err := NewService(config.Default(), runner, nil, nil).Lookup(context.Background(), rHash)
	require.NoError(t, err)
	assert.Equal(t, "SETTLED", got.State)
	assert.True(t, got.Settled)
	assert.Equal(t, btcutil.Amount(2100), got.AmtPaid)

	_, err = NewService(config.Default(), runner, nil, nil).Lookup(context.Background(), "zz")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestPay(t *testing.T) {
	t.Parallel()

	runner := exectest.New().On("lncli payinvoice --force "+payReq, `{"status":"SUCCEEDED"}`)
	require.NoError(t, NewService(config.Default(), runner, nil, nil).Pay(context.Background(), payReq))
	assert.Equal(t, []time.Duration{payTimeout}, runner.Timeouts())
}

func TestPay_Failure(t *testing.T) {
	t.Parallel()

	runner := exectest.New().Fail("lncli payinvoice --force "+payReq, &execx.CommandError{
		Kind:   execx.KindNonZeroExit,
		Code:   1,
		Stderr: "invoice expired",
		Err:    errors.New("exit status 1"),
	})
	err := NewService(config.Default(), runner, nil, nil).Pay(context.Background(), payReq)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invoice expired")
	assert.NotErrorIs(t, err, ErrInvalidInput)
}
