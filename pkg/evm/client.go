// Package evm drives the Base side of a CCTP transfer: USDC approval, the
// depositForBurn call, and burn-receipt parsing.
package evm

import (
	"context"
	"crypto/ecdsa"
	"encoding/binary"
	"fmt"
	"math/big"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"github.com/kr8tiv/cctp-relayer/pkg/config"
	"github.com/kr8tiv/cctp-relayer/pkg/retry"
)

// DomainSolana is the CCTP destination domain identifier for Solana.
const DomainSolana uint32 = 5

const (
	fallbackGasLimit = 200_000
	receiptTimeout   = 120 * time.Second
)

// BurnProof is the evidence extracted from a confirmed burn transaction.
// Message is the raw CCTP message the destination chain consumes; Nonce is
// its sequence number; MessageHash keys the attestation lookup.
type BurnProof struct {
	Message     []byte
	Nonce       uint64
	MessageHash common.Hash
}

// Client represents a Base (EVM) chain client
type Client struct {
	config     *config.BaseConfig
	client     *ethclient.Client
	privateKey *ecdsa.PrivateKey
	address    common.Address
	logger     *zap.Logger

	usdc           common.Address
	tokenMessenger common.Address
	transmitter    common.Address
}

// NewClient creates a new Base client
func NewClient(cfg *config.BaseConfig, logger *zap.Logger) (*Client, error) {
	client, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Base RPC: %w", err)
	}

	c := &Client{
		config:         cfg,
		client:         client,
		logger:         logger,
		usdc:           common.HexToAddress(cfg.USDCAddress),
		tokenMessenger: common.HexToAddress(cfg.TokenMessenger),
		transmitter:    common.HexToAddress(cfg.MessageTransmitter),
	}

	// The key is optional in dry-run deployments; signing paths check for it.
	if cfg.OperatorPrivateKey != "" {
		privateKey, err := crypto.HexToECDSA(cfg.OperatorPrivateKey)
		if err != nil {
			return nil, fmt.Errorf("failed to load operator private key: %w", err)
		}
		c.privateKey = privateKey
		c.address = crypto.PubkeyToAddress(privateKey.PublicKey)
	}

	logger.Info("Connected to Base",
		zap.Int64("chain_id", cfg.ChainID),
		zap.String("usdc", c.usdc.Hex()),
		zap.String("token_messenger", c.tokenMessenger.Hex()),
		zap.String("operator_address", c.address.Hex()))

	return c, nil
}

// Close closes the underlying RPC connection
func (c *Client) Close() {
	if c.client != nil {
		c.client.Close()
	}
}

// Address returns the operator wallet address
func (c *Client) Address() common.Address {
	return c.address
}

// Allowance returns the USDC allowance granted to the token messenger.
func (c *Client) Allowance(ctx context.Context) (*big.Int, error) {
	data, err := erc20ABI.Pack("allowance", c.address, c.tokenMessenger)
	if err != nil {
		return nil, fmt.Errorf("failed to pack allowance call: %w", err)
	}

	out, err := c.client.CallContract(ctx, ethereum.CallMsg{To: &c.usdc, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("allowance call failed: %w", err)
	}

	res, err := erc20ABI.Unpack("allowance", out)
	if err != nil {
		return nil, fmt.Errorf("failed to decode allowance: %w", err)
	}
	return res[0].(*big.Int), nil
}

// Approve grants the token messenger a USDC allowance and waits for the
// transaction to be mined.
func (c *Client) Approve(ctx context.Context, amount *big.Int) (string, error) {
	data, err := erc20ABI.Pack("approve", c.tokenMessenger, amount)
	if err != nil {
		return "", fmt.Errorf("failed to pack approve call: %w", err)
	}

	receipt, err := c.sendAndWait(ctx, c.usdc, data)
	if err != nil {
		return "", fmt.Errorf("approve failed: %w", err)
	}

	c.logger.Info("USDC approval mined",
		zap.String("tx_hash", receipt.TxHash.Hex()),
		zap.String("amount_raw", amount.String()))
	return receipt.TxHash.Hex(), nil
}

// DepositForBurn burns USDC on Base for minting on Solana and waits for the
// transaction to be mined.
func (c *Client) DepositForBurn(ctx context.Context, amount *big.Int, mintRecipient [32]byte) (string, error) {
	data, err := tokenMessengerABI.Pack("depositForBurn", amount, DomainSolana, mintRecipient, c.usdc)
	if err != nil {
		return "", fmt.Errorf("failed to pack depositForBurn call: %w", err)
	}

	receipt, err := c.sendAndWait(ctx, c.tokenMessenger, data)
	if err != nil {
		return "", fmt.Errorf("depositForBurn failed: %w", err)
	}

	c.logger.Info("Burn transaction mined",
		zap.String("tx_hash", receipt.TxHash.Hex()),
		zap.String("amount_raw", amount.String()))
	return receipt.TxHash.Hex(), nil
}

// ConfirmBurn fetches the burn receipt and extracts the CCTP message. A
// reverted transaction is a terminal failure.
func (c *Client) ConfirmBurn(ctx context.Context, txHash string) (*BurnProof, error) {
	receipt, err := c.client.TransactionReceipt(ctx, common.HexToHash(txHash))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch burn receipt: %w", err)
	}
	if receipt.Status == types.ReceiptStatusFailed {
		return nil, retry.Terminal(fmt.Errorf("burn transaction %s reverted", txHash))
	}

	messageSentTopic := transmitterABI.Events["MessageSent"].ID
	for _, log := range receipt.Logs {
		if log.Address != c.transmitter || len(log.Topics) == 0 || log.Topics[0] != messageSentTopic {
			continue
		}
		res, err := transmitterABI.Unpack("MessageSent", log.Data)
		if err != nil {
			return nil, retry.Terminal(fmt.Errorf("failed to decode MessageSent log: %w", err))
		}
		message := res[0].([]byte)
		if len(message) < 20 {
			return nil, retry.Terminal(fmt.Errorf("MessageSent payload too short: %d bytes", len(message)))
		}
		// CCTP message header: nonce occupies bytes [12, 20), big-endian.
		nonce := binary.BigEndian.Uint64(message[12:20])
		return &BurnProof{
			Message:     message,
			Nonce:       nonce,
			MessageHash: crypto.Keccak256Hash(message),
		}, nil
	}

	return nil, retry.Terminal(fmt.Errorf("no MessageSent log in burn transaction %s", txHash))
}

// USDCBalance returns the operator wallet's USDC balance in micro-USDC.
func (c *Client) USDCBalance(ctx context.Context) (*big.Int, error) {
	data, err := erc20ABI.Pack("balanceOf", c.address)
	if err != nil {
		return nil, fmt.Errorf("failed to pack balanceOf call: %w", err)
	}

	out, err := c.client.CallContract(ctx, ethereum.CallMsg{To: &c.usdc, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("balanceOf call failed: %w", err)
	}

	res, err := erc20ABI.Unpack("balanceOf", out)
	if err != nil {
		return nil, fmt.Errorf("failed to decode balanceOf: %w", err)
	}
	return res[0].(*big.Int), nil
}

// BaseFee returns the latest block's base fee in wei.
func (c *Client) BaseFee(ctx context.Context) (*big.Int, error) {
	header, err := c.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get latest header: %w", err)
	}
	if header.BaseFee == nil {
		return big.NewInt(0), nil
	}
	return header.BaseFee, nil
}

// sendAndWait signs an EIP-1559 transaction, submits it, and waits for the
// receipt. A reverted receipt is a terminal failure.
func (c *Client) sendAndWait(ctx context.Context, to common.Address, data []byte) (*types.Receipt, error) {
	if c.privateKey == nil {
		return nil, retry.Terminal(fmt.Errorf("operator private key not configured"))
	}

	nonce, err := c.client.PendingNonceAt(ctx, c.address)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending nonce: %w", err)
	}

	tip, err := c.client.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to suggest gas tip: %w", err)
	}

	header, err := c.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get latest header: %w", err)
	}

	// maxFee = 2*baseFee + tip leaves headroom for two full-block increases.
	maxFee := new(big.Int).Add(new(big.Int).Mul(header.BaseFee, big.NewInt(2)), tip)

	gasLimit := uint64(fallbackGasLimit)
	estimate, err := c.client.EstimateGas(ctx, ethereum.CallMsg{From: c.address, To: &to, Data: data})
	if err != nil {
		c.logger.Warn("Gas estimation failed, using fallback limit",
			zap.Uint64("fallback", gasLimit), zap.Error(err))
	} else {
		gasLimit = estimate + estimate/5
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   big.NewInt(c.config.ChainID),
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: maxFee,
		Gas:       gasLimit,
		To:        &to,
		Value:     big.NewInt(0),
		Data:      data,
	})

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(big.NewInt(c.config.ChainID)), c.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}

	if err := c.client.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("failed to send transaction: %w", err)
	}

	receipt, err := c.waitMined(ctx, signed.Hash())
	if err != nil {
		return nil, err
	}
	if receipt.Status == types.ReceiptStatusFailed {
		return nil, retry.Terminal(fmt.Errorf("transaction %s reverted", signed.Hash().Hex()))
	}
	return receipt, nil
}

// waitMined polls for the receipt until it appears or the wait times out.
func (c *Client) waitMined(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, receiptTimeout)
	defer cancel()

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		receipt, err := c.client.TransactionReceipt(ctx, txHash)
		if err == nil {
			return receipt, nil
		}

		select {
		case <-ctx.Done():
			return nil, retry.Transient(fmt.Errorf("timed out waiting for receipt of %s", txHash.Hex()))
		case <-ticker.C:
		}
	}
}
