// Package proof defines the oracle that decides whether a signal was raised on
// another chain, and ships an attestation scheme for devnets: a per-chain key
// signs signals its chain has raised, and peers verify the signature.
package proof

import (
	"context"
	"crypto/ecdsa"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

const proofDomain = "BRIDGE_SIGNAL_PROOF"

// SignatureLength is the size of an attestation proof.
const SignatureLength = crypto.SignatureLength

var (
	ErrMalformedProof  = errors.New("malformed proof")
	ErrUnknownChain    = errors.New("unknown origin chain")
	ErrSignalNotRaised = errors.New("signal not raised")
)

// Verifier checks that signal was raised on originChainID. An error means the
// proof could not be evaluated; false means it was evaluated and rejected.
type Verifier interface {
	Verify(ctx context.Context, signal common.Hash, originChainID uint64, proof []byte) (bool, error)
}

// VerifierFunc adapts a function to Verifier.
type VerifierFunc func(ctx context.Context, signal common.Hash, originChainID uint64, proof []byte) (bool, error)

// Verify calls f.
func (f VerifierFunc) Verify(ctx context.Context, signal common.Hash, originChainID uint64, proof []byte) (bool, error) {
	return f(ctx, signal, originChainID, proof)
}

// Prover produces a proof that signal was raised on its chain.
type Prover interface {
	Prove(ctx context.Context, signal common.Hash) ([]byte, error)
}

// LocalSignals reports signals raised on the attesting chain.
type LocalSignals interface {
	IsRaisedLocally(ctx context.Context, signal common.Hash) (bool, error)
}

// Digest is the message an attestor signs for signal on chainID.
func Digest(chainID uint64, signal common.Hash) common.Hash {
	var id [8]byte
	binary.BigEndian.PutUint64(id[:], chainID)
	return crypto.Keccak256Hash([]byte(proofDomain), id[:], signal.Bytes())
}

// Attestor signs signals raised on its chain.
type Attestor struct {
	chainID uint64
	key     *ecdsa.PrivateKey
	signals LocalSignals
}

// NewAttestor creates an attestor for chainID. It refuses to sign signals that
// signals does not report as raised.
func NewAttestor(chainID uint64, key *ecdsa.PrivateKey, signals LocalSignals) *Attestor {
	return &Attestor{chainID: chainID, key: key, signals: signals}
}

// ParseKey decodes a hex secp256k1 private key, with or without 0x prefix.
func ParseKey(hexKey string) (*ecdsa.PrivateKey, error) {
	if len(hexKey) > 1 && hexKey[0] == '0' && (hexKey[1] == 'x' || hexKey[1] == 'X') {
		hexKey = hexKey[2:]
	}
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("parse attestor key: %w", err)
	}
	return key, nil
}

// Address returns the attestor's signing address.
func (a *Attestor) Address() common.Address {
	return crypto.PubkeyToAddress(a.key.PublicKey)
}

// ChainID returns the chain the attestor speaks for.
func (a *Attestor) ChainID() uint64 { return a.chainID }

// Prove implements Prover.
func (a *Attestor) Prove(ctx context.Context, signal common.Hash) ([]byte, error) {
	raised, err := a.signals.IsRaisedLocally(ctx, signal)
	if err != nil {
		return nil, fmt.Errorf("check signal: %w", err)
	}
	if !raised {
		return nil, fmt.Errorf("%w: %s on chain %d", ErrSignalNotRaised, signal.Hex(), a.chainID)
	}
	sig, err := crypto.Sign(Digest(a.chainID, signal).Bytes(), a.key)
	if err != nil {
		return nil, fmt.Errorf("sign attestation: %w", err)
	}
	return sig, nil
}

// AttestationVerifier verifies attestor signatures against a per-chain signer.
type AttestationVerifier struct {
	mu      sync.RWMutex
	signers map[uint64]common.Address
}

// NewAttestationVerifier creates a verifier with no trusted signers.
func NewAttestationVerifier() *AttestationVerifier {
	return &AttestationVerifier{signers: make(map[uint64]common.Address)}
}

// Trust sets the signer accepted for chainID.
func (v *AttestationVerifier) Trust(chainID uint64, signer common.Address) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.signers[chainID] = signer
}

// Verify implements Verifier.
func (v *AttestationVerifier) Verify(_ context.Context, signal common.Hash, originChainID uint64, proof []byte) (bool, error) {
	v.mu.RLock()
	signer, ok := v.signers[originChainID]
	v.mu.RUnlock()
	if !ok {
		return false, fmt.Errorf("%w: %d", ErrUnknownChain, originChainID)
	}

	if len(proof) != SignatureLength {
		return false, fmt.Errorf("%w: length %d, want %d", ErrMalformedProof, len(proof), SignatureLength)
	}
	sig := common.CopyBytes(proof)
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}

	pub, err := crypto.SigToPub(Digest(originChainID, signal).Bytes(), sig)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrMalformedProof, err)
	}
	return crypto.PubkeyToAddress(*pub) == signer, nil
}

var (
	_ Verifier = (*AttestationVerifier)(nil)
	_ Verifier = VerifierFunc(nil)
	_ Prover   = (*Attestor)(nil)
)
