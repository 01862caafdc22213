// Package solana drives the destination side of a CCTP transfer: the
// receiveMessage mint, confirmation polling, and the reward-pool deposit.
package solana

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"strconv"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"

	"github.com/kr8tiv/cctp-relayer/pkg/config"
	"github.com/kr8tiv/cctp-relayer/pkg/retry"
)

const (
	confirmTimeout  = 2 * time.Minute
	confirmInterval = 2 * time.Second
)

// Client represents a Solana chain client
type Client struct {
	config *config.SolanaConfig
	rpc    *rpc.Client
	logger *zap.Logger

	key    solana.PrivateKey
	wallet solana.PublicKey

	usdcMint    solana.PublicKey
	transmitter solana.PublicKey
	rewardPool  solana.PublicKey
	operatorATA solana.PublicKey
}

// NewClient creates a new Solana client
func NewClient(cfg *config.SolanaConfig, logger *zap.Logger) (*Client, error) {
	c := &Client{
		config: cfg,
		rpc:    rpc.New(cfg.RPCURL),
		logger: logger,
	}

	var err error
	if cfg.USDCMint != "" {
		if c.usdcMint, err = solana.PublicKeyFromBase58(cfg.USDCMint); err != nil {
			return nil, fmt.Errorf("invalid usdc mint: %w", err)
		}
	}
	if cfg.MessageTransmitterProgram != "" {
		if c.transmitter, err = solana.PublicKeyFromBase58(cfg.MessageTransmitterProgram); err != nil {
			return nil, fmt.Errorf("invalid message transmitter program: %w", err)
		}
	}
	if cfg.RewardPoolAccount != "" {
		if c.rewardPool, err = solana.PublicKeyFromBase58(cfg.RewardPoolAccount); err != nil {
			return nil, fmt.Errorf("invalid reward pool account: %w", err)
		}
	}

	// The key is optional in dry-run deployments; signing paths check for it.
	if cfg.OperatorPrivateKey != "" {
		if c.key, err = solana.PrivateKeyFromBase58(cfg.OperatorPrivateKey); err != nil {
			return nil, fmt.Errorf("failed to load operator private key: %w", err)
		}
		c.wallet = c.key.PublicKey()

		ata, _, err := solana.FindAssociatedTokenAddress(c.wallet, c.usdcMint)
		if err != nil {
			return nil, fmt.Errorf("failed to derive operator token account: %w", err)
		}
		c.operatorATA = ata
	}

	logger.Info("Connected to Solana",
		zap.String("rpc_url", cfg.RPCURL),
		zap.String("operator_wallet", c.wallet.String()),
		zap.String("reward_pool", c.rewardPool.String()))

	return c, nil
}

// MintRecipient returns the operator's USDC token account as the 32-byte
// value the burn call embeds in the CCTP message.
func (c *Client) MintRecipient() [32]byte {
	return c.operatorATA
}

// ReceiveMessage submits the CCTP receive_message instruction carrying the
// burn message and its attestation, minting USDC to the operator's account.
func (c *Client) ReceiveMessage(ctx context.Context, message, attestation []byte) (string, error) {
	if c.key == nil {
		return "", retry.Terminal(fmt.Errorf("operator private key not configured"))
	}

	authority, _, err := solana.FindProgramAddress(
		[][]byte{[]byte("message_transmitter_authority")}, c.transmitter)
	if err != nil {
		return "", fmt.Errorf("failed to derive authority pda: %w", err)
	}
	state, _, err := solana.FindProgramAddress(
		[][]byte{[]byte("message_transmitter")}, c.transmitter)
	if err != nil {
		return "", fmt.Errorf("failed to derive transmitter state pda: %w", err)
	}
	usedNonces, _, err := solana.FindProgramAddress(
		[][]byte{[]byte("used_nonces"), nonceSeed(message)}, c.transmitter)
	if err != nil {
		return "", fmt.Errorf("failed to derive used nonces pda: %w", err)
	}

	accounts := solana.AccountMetaSlice{
		solana.NewAccountMeta(c.wallet, true, true),
		solana.NewAccountMeta(authority, false, false),
		solana.NewAccountMeta(state, false, false),
		solana.NewAccountMeta(usedNonces, true, false),
		solana.NewAccountMeta(c.operatorATA, true, false),
		solana.NewAccountMeta(solana.TokenProgramID, false, false),
		solana.NewAccountMeta(solana.SystemProgramID, false, false),
	}

	ix := solana.NewInstruction(c.transmitter, accounts, receiveMessageData(message, attestation))

	sig, err := c.sendTransaction(ctx, ix)
	if err != nil {
		return "", fmt.Errorf("receive_message failed: %w", err)
	}

	c.logger.Info("Mint transaction submitted", zap.String("signature", sig))
	return sig, nil
}

// ConfirmTransaction polls for the signature to reach "confirmed"
// commitment. An on-chain error is a terminal failure; timing out is not.
func (c *Client) ConfirmTransaction(ctx context.Context, signature string) error {
	sig, err := solana.SignatureFromBase58(signature)
	if err != nil {
		return retry.Terminal(fmt.Errorf("invalid signature %q: %w", signature, err))
	}

	ctx, cancel := context.WithTimeout(ctx, confirmTimeout)
	defer cancel()

	ticker := time.NewTicker(confirmInterval)
	defer ticker.Stop()

	for {
		out, err := c.rpc.GetSignatureStatuses(ctx, true, sig)
		if err == nil && len(out.Value) > 0 && out.Value[0] != nil {
			status := out.Value[0]
			if status.Err != nil {
				return retry.Terminal(fmt.Errorf("transaction %s failed on chain: %v", signature, status.Err))
			}
			if status.ConfirmationStatus == rpc.ConfirmationStatusConfirmed ||
				status.ConfirmationStatus == rpc.ConfirmationStatusFinalized {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return retry.Transient(fmt.Errorf("timed out waiting for confirmation of %s", signature))
		case <-ticker.C:
		}
	}
}

// TransferToPool moves minted USDC from the operator's token account into
// the reward-pool token account.
func (c *Client) TransferToPool(ctx context.Context, amountRaw uint64) (string, error) {
	if c.key == nil {
		return "", retry.Terminal(fmt.Errorf("operator private key not configured"))
	}

	ix := token.NewTransferInstruction(
		amountRaw,
		c.operatorATA,
		c.rewardPool,
		c.wallet,
		nil,
	).Build()

	sig, err := c.sendTransaction(ctx, ix)
	if err != nil {
		return "", fmt.Errorf("pool deposit failed: %w", err)
	}

	c.logger.Info("Pool deposit submitted",
		zap.String("signature", sig),
		zap.Uint64("amount_raw", amountRaw))
	return sig, nil
}

// TokenBalance returns the raw token balance of an SPL token account.
func (c *Client) TokenBalance(ctx context.Context, account string) (uint64, error) {
	pub, err := solana.PublicKeyFromBase58(account)
	if err != nil {
		return 0, fmt.Errorf("invalid token account %q: %w", account, err)
	}

	out, err := c.rpc.GetTokenAccountBalance(ctx, pub, rpc.CommitmentConfirmed)
	if err != nil {
		return 0, fmt.Errorf("getTokenAccountBalance failed: %w", err)
	}

	amount, err := strconv.ParseUint(out.Value.Amount, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse token balance %q: %w", out.Value.Amount, err)
	}
	return amount, nil
}

func (c *Client) sendTransaction(ctx context.Context, instructions ...solana.Instruction) (string, error) {
	recent, err := c.rpc.GetLatestBlockhash(ctx, rpc.CommitmentConfirmed)
	if err != nil {
		return "", fmt.Errorf("failed to get latest blockhash: %w", err)
	}

	tx, err := solana.NewTransaction(instructions, recent.Value.Blockhash, solana.TransactionPayer(c.wallet))
	if err != nil {
		return "", fmt.Errorf("failed to build transaction: %w", err)
	}

	_, err = tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(c.wallet) {
			return &c.key
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to sign transaction: %w", err)
	}

	sig, err := c.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		PreflightCommitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		return "", fmt.Errorf("sendTransaction failed: %w", err)
	}
	return sig.String(), nil
}

// receiveMessageData encodes the Anchor receive_message call: an 8-byte
// instruction discriminator followed by the two length-prefixed byte vectors.
func receiveMessageData(message, attestation []byte) []byte {
	disc := sha256.Sum256([]byte("global:receive_message"))

	data := make([]byte, 0, 8+4+len(message)+4+len(attestation))
	data = append(data, disc[:8]...)
	data = binary.LittleEndian.AppendUint32(data, uint32(len(message)))
	data = append(data, message...)
	data = binary.LittleEndian.AppendUint32(data, uint32(len(attestation)))
	data = append(data, attestation...)
	return data
}

// nonceSeed extracts the first-nonce seed for the used-nonces account from
// the message header (nonce bytes [12, 20), big-endian).
func nonceSeed(message []byte) []byte {
	if len(message) < 20 {
		return []byte("0")
	}
	nonce := binary.BigEndian.Uint64(message[12:20])
	return []byte(strconv.FormatUint(nonce, 10))
}
