package solana

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/wager/pkg/wager"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"
)

type rpcRequest struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
}

type fakeNode struct {
	calls   atomic.Int64
	results map[string]string
	errors  map[string]string
	status  int
}

func (node *fakeNode) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	node.calls.Add(1)
	if node.status != 0 {
		writer.WriteHeader(node.status)
		return
	}
	var decoded rpcRequest
	if err := json.NewDecoder(request.Body).Decode(&decoded); err != nil {
		writer.WriteHeader(http.StatusBadRequest)
		return
	}
	writer.Header().Set("Content-Type", "application/json")
	if message, found := node.errors[decoded.Method]; found {
		_, _ = writer.Write([]byte(`{"jsonrpc":"2.0","id":` + string(decoded.ID) + `,"error":{"code":-32602,"message":"` + message + `"}}`))
		return
	}
	result, found := node.results[decoded.Method]
	if !found {
		result = "null"
	}
	_, _ = writer.Write([]byte(`{"jsonrpc":"2.0","id":` + string(decoded.ID) + `,"result":` + result + `}`))
}

func newTestClient(test *testing.T, urls ...string) *Client {
	test.Helper()
	key, err := solanago.NewRandomPrivateKey()
	if err != nil {
		test.Fatalf("generate key: %v", err)
	}
	client, err := NewClient(Config{
		PrimaryURL:   urls[0],
		FallbackURLs: urls[1:],
		Commitment:   rpc.CommitmentConfirmed,
		TreasuryKey:  key.String(),
	}, zap.NewNop())
	if err != nil {
		test.Fatalf("new client: %v", err)
	}
	test.Cleanup(func() { _ = client.Close() })
	return client
}

func TestExtractTransferReadsSignedTransfer(test *testing.T) {
	test.Parallel()
	payer, err := solanago.NewRandomPrivateKey()
	if err != nil {
		test.Fatalf("generate key: %v", err)
	}
	recipient := solanago.NewWallet().PublicKey()
	transaction, err := buildTransfer(payer, recipient, 1_500_000_000, solanago.Hash{}, "wager:reward:reward-1:payout-1")
	if err != nil {
		test.Fatalf("build transfer: %v", err)
	}
	if len(transaction.Signatures) != 1 {
		test.Fatalf("expected one signature, got %d", len(transaction.Signatures))
	}
	observed, err := extractTransfer(transaction)
	if err != nil {
		test.Fatalf("extract transfer: %v", err)
	}
	if observed.Sender.String() != payer.PublicKey().String() || observed.Recipient.String() != recipient.String() {
		test.Fatalf("unexpected parties: %+v", observed)
	}
	if observed.Amount != wager.Lamports(1_500_000_000) {
		test.Fatalf("expected 1.5 SOL, got %s", observed.Amount)
	}
}

func TestExtractTransferRejectsNonTransfer(test *testing.T) {
	test.Parallel()
	payer := solanago.NewWallet()
	transaction, err := solanago.NewTransaction(
		[]solanago.Instruction{solanago.NewInstruction(solanago.MemoProgramID, solanago.AccountMetaSlice{}, []byte("hello"))},
		solanago.Hash{},
		solanago.TransactionPayer(payer.PublicKey()),
	)
	if err != nil {
		test.Fatalf("build transaction: %v", err)
	}
	if _, err := extractTransfer(transaction); !errors.Is(err, wager.ErrTransferMismatch) {
		test.Fatalf("expected transfer mismatch, got %v", err)
	}
}

func TestClassifySignatureStatus(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name       string
		status     rpc.SignatureStatusesResult
		commitment rpc.CommitmentType
		want       wager.ChainStatus
	}{
		{name: "failed", status: rpc.SignatureStatusesResult{Err: map[string]any{"InstructionError": []any{0}}}, commitment: rpc.CommitmentConfirmed, want: wager.ChainStatusFailed},
		{name: "finalized", status: rpc.SignatureStatusesResult{ConfirmationStatus: rpc.ConfirmationStatusFinalized}, commitment: rpc.CommitmentFinalized, want: wager.ChainStatusConfirmed},
		{name: "confirmed", status: rpc.SignatureStatusesResult{ConfirmationStatus: rpc.ConfirmationStatusConfirmed}, commitment: rpc.CommitmentConfirmed, want: wager.ChainStatusConfirmed},
		{name: "confirmed_below_finalized", status: rpc.SignatureStatusesResult{ConfirmationStatus: rpc.ConfirmationStatusConfirmed}, commitment: rpc.CommitmentFinalized, want: wager.ChainStatusUnknown},
		{name: "processed", status: rpc.SignatureStatusesResult{ConfirmationStatus: rpc.ConfirmationStatusProcessed}, commitment: rpc.CommitmentConfirmed, want: wager.ChainStatusUnknown},
	}
	for _, testCase := range testCases {
		status := testCase.status
		if got := classifySignatureStatus(&status, testCase.commitment); got != testCase.want {
			test.Fatalf("%s: expected %s, got %s", testCase.name, testCase.want, got)
		}
	}
}

func TestParseCommitment(test *testing.T) {
	test.Parallel()
	if commitment, err := ParseCommitment(" Finalized "); err != nil || commitment != rpc.CommitmentFinalized {
		test.Fatalf("unexpected commitment %q (%v)", commitment, err)
	}
	if commitment, err := ParseCommitment(""); err != nil || commitment != rpc.CommitmentConfirmed {
		test.Fatalf("expected confirmed default, got %q (%v)", commitment, err)
	}
	if _, err := ParseCommitment("max"); err == nil {
		test.Fatalf("expected unsupported commitment error")
	}
}

func TestPayoutStatusFailsOverToFallback(test *testing.T) {
	test.Parallel()
	primary := &fakeNode{status: http.StatusServiceUnavailable}
	fallback := &fakeNode{results: map[string]string{
		"getSignatureStatuses": `{"context":{"slot":10},"value":[null]}`,
		"getBlockHeight":       `500`,
	}}
	primaryServer := httptest.NewServer(primary)
	defer primaryServer.Close()
	fallbackServer := httptest.NewServer(fallback)
	defer fallbackServer.Close()

	client := newTestClient(test, primaryServer.URL, fallbackServer.URL)
	signature := mustSignatureFromKey(test)

	status, err := client.PayoutStatus(context.Background(), signature, 400)
	if err != nil || status != wager.ChainStatusExpired {
		test.Fatalf("expected expired, got %s (%v)", status, err)
	}
	status, err = client.PayoutStatus(context.Background(), signature, 600)
	if err != nil || status != wager.ChainStatusUnknown {
		test.Fatalf("expected unknown before expiry, got %s (%v)", status, err)
	}
	if primary.calls.Load() == 0 || fallback.calls.Load() == 0 {
		test.Fatalf("expected both endpoints to be called, primary=%d fallback=%d", primary.calls.Load(), fallback.calls.Load())
	}
}

func TestRPCErrorIsNotRetriedOnFallback(test *testing.T) {
	test.Parallel()
	primary := &fakeNode{errors: map[string]string{"getSignatureStatuses": "invalid params"}}
	fallback := &fakeNode{}
	primaryServer := httptest.NewServer(primary)
	defer primaryServer.Close()
	fallbackServer := httptest.NewServer(fallback)
	defer fallbackServer.Close()

	client := newTestClient(test, primaryServer.URL, fallbackServer.URL)
	status, err := client.PayoutStatus(context.Background(), mustSignatureFromKey(test), 1)
	if err == nil || status != wager.ChainStatusUnknown {
		test.Fatalf("expected unknown with error, got %s (%v)", status, err)
	}
	if fallback.calls.Load() != 0 {
		test.Fatalf("authoritative rpc errors must not fail over, fallback calls=%d", fallback.calls.Load())
	}
}

func TestSubmitPayoutMapsPreflightRejection(test *testing.T) {
	test.Parallel()
	node := &fakeNode{errors: map[string]string{"sendTransaction": "Transaction simulation failed: insufficient lamports"}}
	server := httptest.NewServer(node)
	defer server.Close()
	client := newTestClient(test, server.URL)

	err := client.SubmitPayout(context.Background(), wager.PreparedPayout{Signature: mustSignatureFromKey(test), Payload: []byte{1, 2, 3}})
	if !errors.Is(err, wager.ErrInsufficientTreasuryFunds) {
		test.Fatalf("expected insufficient treasury funds, got %v", err)
	}
}

func TestNewClientRejectsBadKeyAndEndpoints(test *testing.T) {
	test.Parallel()
	if _, err := NewClient(Config{PrimaryURL: "http://localhost:8899", TreasuryKey: "not-a-key"}, nil); err == nil {
		test.Fatalf("expected treasury key error")
	}
	key, err := solanago.NewRandomPrivateKey()
	if err != nil {
		test.Fatalf("generate key: %v", err)
	}
	if _, err := NewClient(Config{PrimaryURL: " ", TreasuryKey: key.String()}, nil); !errors.Is(err, errNoEndpoints) {
		test.Fatalf("expected missing endpoint error, got %v", err)
	}
}

func mustSignatureFromKey(test *testing.T) wager.Signature {
	test.Helper()
	key, err := solanago.NewRandomPrivateKey()
	if err != nil {
		test.Fatalf("generate key: %v", err)
	}
	raw, err := key.Sign([]byte("payout"))
	if err != nil {
		test.Fatalf("sign: %v", err)
	}
	signature, err := wager.NewSignature(raw.String())
	if err != nil {
		test.Fatalf("signature: %v", err)
	}
	return signature
}

func TestHealthUsesFallback(test *testing.T) {
	test.Parallel()
	primary := httptest.NewServer(&fakeNode{status: http.StatusServiceUnavailable})
	defer primary.Close()
	fallback := httptest.NewServer(&fakeNode{results: map[string]string{"getHealth": `"ok"`}})
	defer fallback.Close()

	client := newTestClient(test, primary.URL, fallback.URL)
	if err := client.Health(context.Background()); err != nil {
		test.Fatalf("expected healthy fallback, got %v", err)
	}
}

func TestBuildTransferMemoMakesSignaturesDistinct(test *testing.T) {
	test.Parallel()
	payer, err := solanago.NewRandomPrivateKey()
	if err != nil {
		test.Fatalf("generate key: %v", err)
	}
	recipient := solanago.NewWallet().PublicKey()
	first, err := buildTransfer(payer, recipient, 250_000_000, solanago.Hash{}, "wager:reward:reward-1:payout-1")
	if err != nil {
		test.Fatalf("build first transfer: %v", err)
	}
	second, err := buildTransfer(payer, recipient, 250_000_000, solanago.Hash{}, "wager:reward:reward-2:payout-2")
	if err != nil {
		test.Fatalf("build second transfer: %v", err)
	}
	if first.Signatures[0].Equals(second.Signatures[0]) {
		test.Fatalf("equal transfers with different memos must not share a signature")
	}
	if len(first.Message.Instructions) != 2 {
		test.Fatalf("expected transfer and memo instructions, got %d", len(first.Message.Instructions))
	}
	observed, err := extractTransfer(second)
	if err != nil || observed.Amount != wager.Lamports(250_000_000) {
		test.Fatalf("expected transfer to survive memo, got %+v (%v)", observed, err)
	}
}

func TestSubmitPayoutAfterFailoverResolvesThroughSignatureStatus(test *testing.T) {
	test.Parallel()
	const alreadyProcessed = "Transaction simulation failed: This transaction has already been processed"
	testCases := []struct {
		name                 string
		statuses             string
		lastValidBlockHeight uint64
		check                func(err error) bool
	}{
		{
			name:                 "landed",
			statuses:             `{"context":{"slot":10},"value":[{"slot":9,"confirmations":null,"err":null,"confirmationStatus":"confirmed"}]}`,
			lastValidBlockHeight: 600,
			check:                func(err error) bool { return err == nil },
		},
		{
			name:                 "unknown_while_blockhash_valid",
			statuses:             `{"context":{"slot":10},"value":[null]}`,
			lastValidBlockHeight: 600,
			check: func(err error) bool {
				return errors.Is(err, wager.ErrExternalTimeout) && !errors.Is(err, wager.ErrExternalTransfer)
			},
		},
		{
			name:                 "expired",
			statuses:             `{"context":{"slot":10},"value":[null]}`,
			lastValidBlockHeight: 400,
			check:                func(err error) bool { return errors.Is(err, wager.ErrExternalTransfer) },
		},
	}
	for _, testCase := range testCases {
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			primary := httptest.NewServer(&fakeNode{status: http.StatusBadGateway})
			defer primary.Close()
			fallback := httptest.NewServer(&fakeNode{
				errors: map[string]string{"sendTransaction": alreadyProcessed},
				results: map[string]string{
					"getSignatureStatuses": testCase.statuses,
					"getBlockHeight":       `500`,
				},
			})
			defer fallback.Close()

			client := newTestClient(test, primary.URL, fallback.URL)
			client.confirmationTimeout = 200 * time.Millisecond
			client.pollInterval = 20 * time.Millisecond
			err := client.SubmitPayout(context.Background(), wager.PreparedPayout{
				Signature:            mustSignatureFromKey(test),
				Payload:              []byte{1, 2, 3},
				LastValidBlockHeight: testCase.lastValidBlockHeight,
			})
			if !testCase.check(err) {
				test.Fatalf("unexpected submit result: %v", err)
			}
		})
	}
}

func TestSubmitPayoutAlreadyProcessedOnPrimaryIsNotDefinite(test *testing.T) {
	test.Parallel()
	server := httptest.NewServer(&fakeNode{
		errors: map[string]string{"sendTransaction": "This transaction has already been processed"},
		results: map[string]string{
			"getSignatureStatuses": `{"context":{"slot":10},"value":[{"slot":9,"confirmations":null,"err":null,"confirmationStatus":"finalized"}]}`,
		},
	})
	defer server.Close()
	client := newTestClient(test, server.URL)
	client.pollInterval = 20 * time.Millisecond

	err := client.SubmitPayout(context.Background(), wager.PreparedPayout{Signature: mustSignatureFromKey(test), Payload: []byte{1, 2, 3}, LastValidBlockHeight: 600})
	if err != nil {
		test.Fatalf("expected landed payout to confirm, got %v", err)
	}
}
