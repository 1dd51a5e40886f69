package rpc

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// Wallet is a per-chain signing identity.
type Wallet struct {
	key     *ecdsa.PrivateKey
	address common.Address
	chainID *big.Int
	signer  types.Signer
}

// NewWallet derives a wallet from a hex private key. The 0x prefix is
// optional.
func NewWallet(privateKeyHex string, chainID int64) (*Wallet, error) {
	trimmed := strings.TrimPrefix(privateKeyHex, "0x")
	if trimmed == "" {
		return nil, fmt.Errorf("empty private key")
	}
	key, err := crypto.HexToECDSA(trimmed)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	id := big.NewInt(chainID)
	return &Wallet{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		chainID: id,
		signer:  types.LatestSignerForChainID(id),
	}, nil
}

// Address returns the wallet's account address.
func (w *Wallet) Address() common.Address { return w.address }

// ChainID returns the chain the wallet signs for.
func (w *Wallet) ChainID() *big.Int { return new(big.Int).Set(w.chainID) }

// SignTx signs a transaction for the wallet's chain.
func (w *Wallet) SignTx(tx *types.Transaction) (*types.Transaction, error) {
	signed, err := types.SignTx(tx, w.signer, w.key)
	if err != nil {
		return nil, fmt.Errorf("sign tx: %w", err)
	}
	return signed, nil
}
