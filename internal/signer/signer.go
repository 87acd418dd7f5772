// Package signer signs messages with a secp256k1 key and recovers the
// signing address, following the personal_sign (EIP-191) convention.
package signer

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	ErrInvalidKey       = errors.New("signer: invalid secret key")
	ErrInvalidSignature = errors.New("signer: invalid signature")
)

// SignatureLength is the size of an [R || S || V] signature.
const SignatureLength = crypto.SignatureLength

// Sign signs the EIP-191 text hash of msg. V is returned as 27 or 28.
func Sign(key *ecdsa.PrivateKey, msg []byte) ([]byte, error) {
	if key == nil {
		return nil, ErrInvalidKey
	}
	sig, err := crypto.Sign(accounts.TextHash(msg), key)
	if err != nil {
		return nil, err
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

// Recover returns the address that produced sig over msg. V may be 0, 1,
// 27 or 28.
func Recover(msg, sig []byte) (common.Address, error) {
	if len(sig) != SignatureLength {
		return common.Address{}, fmt.Errorf("%w: length %d", ErrInvalidSignature, len(sig))
	}
	normalized := make([]byte, SignatureLength)
	copy(normalized, sig)
	if v := normalized[crypto.RecoveryIDOffset]; v == 27 || v == 28 {
		normalized[crypto.RecoveryIDOffset] -= 27
	}
	if v := normalized[crypto.RecoveryIDOffset]; v != 0 && v != 1 {
		return common.Address{}, fmt.Errorf("%w: recovery id %d", ErrInvalidSignature, v)
	}

	pub, err := crypto.SigToPub(accounts.TextHash(msg), normalized)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// Signer holds one configured key.
type Signer struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// New parses a hex encoded secret key, with or without 0x prefix.
func New(hexKey string) (*Signer, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return FromKey(key), nil
}

// Generate creates a signer with a fresh random key.
func Generate() (*Signer, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	return FromKey(key), nil
}

func FromKey(key *ecdsa.PrivateKey) *Signer {
	return &Signer{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}
}

func (s *Signer) Address() common.Address {
	return s.address
}

func (s *Signer) Sign(msg []byte) ([]byte, error) {
	return Sign(s.key, msg)
}
