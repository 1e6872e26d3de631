// Package solana verifies deposits and submits treasury payouts over Solana JSON-RPC.
package solana

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/wager/pkg/wager"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"go.uber.org/zap"
)

const (
	defaultRPCTimeout          = 10 * time.Second
	defaultConfirmationTimeout = 60 * time.Second
	defaultPollInterval        = 2 * time.Second
	transferFeeReserveLamports = 5_000
)

// Config holds the chain adapter settings.
type Config struct {
	PrimaryURL          string
	FallbackURLs        []string
	Commitment          rpc.CommitmentType
	RPCTimeout          time.Duration
	ConfirmationTimeout time.Duration
	PollInterval        time.Duration
	TreasuryKey         string
}

// ParseCommitment validates a configured commitment level.
func ParseCommitment(raw string) (rpc.CommitmentType, error) {
	switch commitment := rpc.CommitmentType(strings.ToLower(strings.TrimSpace(raw))); commitment {
	case rpc.CommitmentProcessed, rpc.CommitmentConfirmed, rpc.CommitmentFinalized:
		return commitment, nil
	case "":
		return rpc.CommitmentConfirmed, nil
	default:
		return "", fmt.Errorf("solana: unsupported commitment %q", raw)
	}
}

// Client implements wager.TransferVerifier and wager.PayoutSubmitter.
type Client struct {
	pool                *endpointPool
	commitment          rpc.CommitmentType
	rpcTimeout          time.Duration
	confirmationTimeout time.Duration
	pollInterval        time.Duration
	treasuryKey         solanago.PrivateKey
	treasury            solanago.PublicKey
	logger              *zap.Logger
}

// NewClient parses the treasury key once and builds the endpoint pool.
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	treasuryKey, err := solanago.PrivateKeyFromBase58(strings.TrimSpace(cfg.TreasuryKey))
	if err != nil {
		return nil, fmt.Errorf("solana: treasury key: %w", err)
	}
	pool, err := newEndpointPool(append([]string{cfg.PrimaryURL}, cfg.FallbackURLs...), logger)
	if err != nil {
		return nil, err
	}
	commitment := cfg.Commitment
	if commitment == "" {
		commitment = rpc.CommitmentConfirmed
	}
	return &Client{
		pool:                pool,
		commitment:          commitment,
		rpcTimeout:          durationOrDefault(cfg.RPCTimeout, defaultRPCTimeout),
		confirmationTimeout: durationOrDefault(cfg.ConfirmationTimeout, defaultConfirmationTimeout),
		pollInterval:        durationOrDefault(cfg.PollInterval, defaultPollInterval),
		treasuryKey:         treasuryKey,
		treasury:            treasuryKey.PublicKey(),
		logger:              logger,
	}, nil
}

// TreasuryAddress is the public key derived from the treasury key.
func (client *Client) TreasuryAddress() (wager.Address, error) {
	return wager.NewAddress(client.treasury.String())
}

// Health reports whether any endpoint answers getHealth with "ok".
func (client *Client) Health(ctx context.Context) error {
	return client.pool.do(ctx, "getHealth", func(ctx context.Context, rpcClient *rpc.Client) error {
		callCtx, cancel := context.WithTimeout(ctx, client.rpcTimeout)
		defer cancel()
		status, err := rpcClient.GetHealth(callCtx)
		if err != nil {
			return err
		}
		if status != rpc.HealthOk {
			return fmt.Errorf("node health %q", status)
		}
		return nil
	})
}

// Close releases every endpoint connection.
func (client *Client) Close() error {
	return client.pool.close()
}

func (client *Client) LookupTransfer(ctx context.Context, signature wager.Signature) (wager.ObservedTransfer, error) {
	parsed, err := solanago.SignatureFromBase58(signature.String())
	if err != nil {
		return wager.ObservedTransfer{}, fmt.Errorf("%w: %v", wager.ErrTransferNotFound, err)
	}
	maxVersion := uint64(0)
	var result *rpc.GetTransactionResult
	err = client.pool.do(ctx, "getTransaction", func(ctx context.Context, rpcClient *rpc.Client) error {
		callCtx, cancel := context.WithTimeout(ctx, client.rpcTimeout)
		defer cancel()
		var callErr error
		result, callErr = rpcClient.GetTransaction(callCtx, parsed, &rpc.GetTransactionOpts{
			Encoding:                       solanago.EncodingBase64,
			Commitment:                     client.readCommitment(),
			MaxSupportedTransactionVersion: &maxVersion,
		})
		return callErr
	})
	if errors.Is(err, rpc.ErrNotFound) || (err == nil && result == nil) {
		return wager.ObservedTransfer{}, wager.ErrTransferNotFound
	}
	if err != nil {
		return wager.ObservedTransfer{}, fmt.Errorf("%w: %v", wager.ErrExternalTimeout, err)
	}
	if result.Transaction == nil {
		return wager.ObservedTransfer{}, wager.ErrTransferNotFound
	}
	transaction, err := result.Transaction.GetTransaction()
	if err != nil {
		return wager.ObservedTransfer{}, fmt.Errorf("%w: decode transaction: %v", wager.ErrTransferMismatch, err)
	}
	observed, err := extractTransfer(transaction)
	if err != nil {
		return wager.ObservedTransfer{}, err
	}
	observed.Signature = signature
	observed.Confirmed = true
	observed.Failed = result.Meta != nil && result.Meta.Err != nil
	return observed, nil
}

// PreparePayout signs a treasury transfer carrying memo, so equal transfers sharing a blockhash
// still get distinct signatures.
func (client *Client) PreparePayout(ctx context.Context, recipient wager.Address, amount wager.Lamports, memo string) (wager.PreparedPayout, error) {
	recipientKey, err := solanago.PublicKeyFromBase58(recipient.String())
	if err != nil {
		return wager.PreparedPayout{}, fmt.Errorf("%w: recipient: %v", wager.ErrExternalTransfer, err)
	}
	var balance *rpc.GetBalanceResult
	err = client.pool.do(ctx, "getBalance", func(ctx context.Context, rpcClient *rpc.Client) error {
		callCtx, cancel := context.WithTimeout(ctx, client.rpcTimeout)
		defer cancel()
		var callErr error
		balance, callErr = rpcClient.GetBalance(callCtx, client.treasury, client.commitment)
		return callErr
	})
	if err != nil {
		return wager.PreparedPayout{}, err
	}
	if balance.Value < uint64(amount.Int64())+transferFeeReserveLamports {
		return wager.PreparedPayout{}, wager.ErrInsufficientTreasuryFunds
	}

	var blockhash *rpc.GetLatestBlockhashResult
	err = client.pool.do(ctx, "getLatestBlockhash", func(ctx context.Context, rpcClient *rpc.Client) error {
		callCtx, cancel := context.WithTimeout(ctx, client.rpcTimeout)
		defer cancel()
		var callErr error
		blockhash, callErr = rpcClient.GetLatestBlockhash(callCtx, client.commitment)
		return callErr
	})
	if err != nil {
		return wager.PreparedPayout{}, err
	}
	if blockhash == nil || blockhash.Value == nil {
		return wager.PreparedPayout{}, fmt.Errorf("%w: empty blockhash response", wager.ErrExternalTransfer)
	}

	transaction, err := buildTransfer(client.treasuryKey, recipientKey, uint64(amount.Int64()), blockhash.Value.Blockhash, memo)
	if err != nil {
		return wager.PreparedPayout{}, fmt.Errorf("%w: %v", wager.ErrExternalTransfer, err)
	}
	payload, err := transaction.MarshalBinary()
	if err != nil {
		return wager.PreparedPayout{}, fmt.Errorf("%w: encode transaction: %v", wager.ErrExternalTransfer, err)
	}
	signature, err := wager.NewSignature(transaction.Signatures[0].String())
	if err != nil {
		return wager.PreparedPayout{}, fmt.Errorf("%w: %v", wager.ErrExternalTransfer, err)
	}
	return wager.PreparedPayout{
		Signature:            signature,
		Recipient:            recipient,
		Amount:               amount,
		LastValidBlockHeight: blockhash.Value.LastValidBlockHeight,
		Payload:              payload,
	}, nil
}

func (client *Client) SubmitPayout(ctx context.Context, payout wager.PreparedPayout) error {
	attempts := 0
	err := client.pool.do(ctx, "sendTransaction", func(ctx context.Context, rpcClient *rpc.Client) error {
		attempts++
		callCtx, cancel := context.WithTimeout(ctx, client.rpcTimeout)
		defer cancel()
		_, callErr := rpcClient.SendRawTransactionWithOpts(callCtx, payout.Payload, rpc.TransactionOpts{
			PreflightCommitment: client.commitment,
		})
		return callErr
	})
	var rpcErr *jsonrpc.RPCError
	if errors.As(err, &rpcErr) {
		// An endpoint that failed earlier in this call may still have forwarded the payload,
		// so a later rejection says nothing about whether the transfer landed.
		if attempts > 1 || isAlreadyProcessed(rpcErr.Message) {
			client.logger.Warn("payout rejected after a possible earlier delivery, polling signature",
				zap.String("signature", payout.Signature.String()),
				zap.Int("attempts", attempts),
				zap.String("rpc_error", rpcErr.Message),
			)
			return client.awaitConfirmation(ctx, payout)
		}
		// Preflight rejected the transaction, so it never reached a leader.
		if strings.Contains(strings.ToLower(rpcErr.Message), "insufficient") {
			return fmt.Errorf("%w: %s", wager.ErrInsufficientTreasuryFunds, rpcErr.Message)
		}
		return fmt.Errorf("%w: %s", wager.ErrExternalTransfer, rpcErr.Message)
	}
	if err != nil {
		return fmt.Errorf("%w: send: %v", wager.ErrExternalTimeout, err)
	}
	return client.awaitConfirmation(ctx, payout)
}

func (client *Client) awaitConfirmation(ctx context.Context, payout wager.PreparedPayout) error {
	deadline := time.NewTimer(client.confirmationTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(client.pollInterval)
	defer ticker.Stop()
	for {
		status, err := client.PayoutStatus(ctx, payout.Signature, payout.LastValidBlockHeight)
		if err == nil {
			switch status {
			case wager.ChainStatusConfirmed:
				return nil
			case wager.ChainStatusFailed:
				return fmt.Errorf("%w: transaction %s failed on chain", wager.ErrExternalTransfer, payout.Signature)
			case wager.ChainStatusExpired:
				return fmt.Errorf("%w: blockhash expired for %s", wager.ErrExternalTransfer, payout.Signature)
			}
		} else {
			client.logger.Warn("payout status poll failed", zap.String("signature", payout.Signature.String()), zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", wager.ErrExternalTimeout, ctx.Err())
		case <-deadline.C:
			return fmt.Errorf("%w: confirmation of %s not observed", wager.ErrExternalTimeout, payout.Signature)
		case <-ticker.C:
		}
	}
}

func (client *Client) PayoutStatus(ctx context.Context, signature wager.Signature, lastValidBlockHeight uint64) (wager.ChainStatus, error) {
	parsed, err := solanago.SignatureFromBase58(signature.String())
	if err != nil {
		return wager.ChainStatusUnknown, err
	}
	var statuses *rpc.GetSignatureStatusesResult
	err = client.pool.do(ctx, "getSignatureStatuses", func(ctx context.Context, rpcClient *rpc.Client) error {
		callCtx, cancel := context.WithTimeout(ctx, client.rpcTimeout)
		defer cancel()
		var callErr error
		statuses, callErr = rpcClient.GetSignatureStatuses(callCtx, true, parsed)
		return callErr
	})
	if err != nil {
		return wager.ChainStatusUnknown, err
	}
	var observed *rpc.SignatureStatusesResult
	if statuses != nil && len(statuses.Value) > 0 {
		observed = statuses.Value[0]
	}
	if observed != nil {
		return classifySignatureStatus(observed, client.commitment), nil
	}

	var height uint64
	err = client.pool.do(ctx, "getBlockHeight", func(ctx context.Context, rpcClient *rpc.Client) error {
		callCtx, cancel := context.WithTimeout(ctx, client.rpcTimeout)
		defer cancel()
		var callErr error
		height, callErr = rpcClient.GetBlockHeight(callCtx, client.commitment)
		return callErr
	})
	if err != nil {
		return wager.ChainStatusUnknown, err
	}
	if lastValidBlockHeight > 0 && height > lastValidBlockHeight {
		return wager.ChainStatusExpired, nil
	}
	return wager.ChainStatusUnknown, nil
}

func isAlreadyProcessed(message string) bool {
	return strings.Contains(strings.ToLower(message), "already been processed")
}

func (client *Client) readCommitment() rpc.CommitmentType {
	// getTransaction does not accept processed.
	if client.commitment == rpc.CommitmentProcessed {
		return rpc.CommitmentConfirmed
	}
	return client.commitment
}

func classifySignatureStatus(status *rpc.SignatureStatusesResult, commitment rpc.CommitmentType) wager.ChainStatus {
	if status.Err != nil {
		return wager.ChainStatusFailed
	}
	switch status.ConfirmationStatus {
	case rpc.ConfirmationStatusFinalized:
		return wager.ChainStatusConfirmed
	case rpc.ConfirmationStatusConfirmed:
		if commitment != rpc.CommitmentFinalized {
			return wager.ChainStatusConfirmed
		}
	case rpc.ConfirmationStatusProcessed:
		if commitment == rpc.CommitmentProcessed {
			return wager.ChainStatusConfirmed
		}
	}
	return wager.ChainStatusUnknown
}

func buildTransfer(payer solanago.PrivateKey, recipient solanago.PublicKey, lamports uint64, blockhash solanago.Hash, memo string) (*solanago.Transaction, error) {
	from := payer.PublicKey()
	instructions := []solanago.Instruction{system.NewTransferInstruction(lamports, from, recipient).Build()}
	if memo != "" {
		instructions = append(instructions, solanago.NewInstruction(solanago.MemoProgramID, solanago.AccountMetaSlice{}, []byte(memo)))
	}
	transaction, err := solanago.NewTransaction(
		instructions,
		blockhash,
		solanago.TransactionPayer(from),
	)
	if err != nil {
		return nil, fmt.Errorf("build transaction: %w", err)
	}
	_, err = transaction.Sign(func(key solanago.PublicKey) *solanago.PrivateKey {
		if key.Equals(from) {
			return &payer
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}
	return transaction, nil
}

// extractTransfer returns the first native system transfer in transaction.
func extractTransfer(transaction *solanago.Transaction) (wager.ObservedTransfer, error) {
	for _, instruction := range transaction.Message.Instructions {
		programID, err := transaction.Message.Program(instruction.ProgramIDIndex)
		if err != nil || !programID.Equals(solanago.SystemProgramID) {
			continue
		}
		accounts, err := instruction.ResolveInstructionAccounts(&transaction.Message)
		if err != nil {
			continue
		}
		decoded, err := system.DecodeInstruction(accounts, instruction.Data)
		if err != nil {
			continue
		}
		transfer, ok := decoded.Impl.(*system.Transfer)
		if !ok || transfer.Lamports == nil {
			continue
		}
		sender, err := wager.NewAddress(transfer.GetFundingAccount().PublicKey.String())
		if err != nil {
			return wager.ObservedTransfer{}, fmt.Errorf("%w: sender: %v", wager.ErrTransferMismatch, err)
		}
		recipient, err := wager.NewAddress(transfer.GetRecipientAccount().PublicKey.String())
		if err != nil {
			return wager.ObservedTransfer{}, fmt.Errorf("%w: recipient: %v", wager.ErrTransferMismatch, err)
		}
		return wager.ObservedTransfer{
			Sender:    sender,
			Recipient: recipient,
			Amount:    wager.Lamports(*transfer.Lamports),
		}, nil
	}
	return wager.ObservedTransfer{}, fmt.Errorf("%w: no native transfer instruction", wager.ErrTransferMismatch)
}

func durationOrDefault(value time.Duration, fallback time.Duration) time.Duration {
	if value <= 0 {
		return fallback
	}
	return value
}
