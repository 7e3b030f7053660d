package message

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

const (
	messageDomain      = "BRIDGE_MESSAGE"
	sentSignalDomain   = "BRIDGE_SIGNAL_SENT"
	failedSignalDomain = "BRIDGE_SIGNAL_FAILED"
)

var messageArgs = abi.Arguments{
	{Type: mustType("string")},  // domain
	{Type: mustType("uint64")},  // nonce
	{Type: mustType("uint64")},  // src chain
	{Type: mustType("uint64")},  // dest chain
	{Type: mustType("address")}, // from
	{Type: mustType("address")}, // sender
	{Type: mustType("address")}, // to
	{Type: mustType("uint256")}, // value
	{Type: mustType("uint256")}, // fee
	{Type: mustType("uint64")},  // gas limit
	{Type: mustType("bytes")},   // data
	{Type: mustType("string")},  // memo
}

func mustType(name string) abi.Type {
	t, err := abi.NewType(name, "", nil)
	if err != nil {
		panic(fmt.Sprintf("message: abi type %s: %v", name, err))
	}
	return t
}

// Encode returns the canonical ABI encoding the identifier is computed over.
// Negative amounts and amounts wider than 256 bits are rejected rather than
// reduced into range.
func (m Message) Encode() ([]byte, error) {
	if err := m.checkAmounts(); err != nil {
		return nil, err
	}
	data := []byte(m.Data)
	if data == nil {
		data = []byte{}
	}
	return messageArgs.Pack(
		messageDomain,
		m.Nonce,
		m.SrcChainID,
		m.DestChainID,
		m.From,
		m.Sender,
		m.To,
		m.ValueOrZero(),
		m.FeeOrZero(),
		m.GasLimit,
		data,
		m.Memo,
	)
}

// ID returns the message identifier: keccak256 over the canonical encoding.
// It fails for messages whose amounts cannot be encoded.
func (m Message) ID() (common.Hash, error) {
	enc, err := m.Encode()
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash(enc), nil
}

// Hash is ID for messages that passed Validate. It panics when an amount
// cannot be encoded; use ID for unchecked input.
func (m Message) Hash() common.Hash {
	id, err := m.ID()
	if err != nil {
		panic(fmt.Sprintf("message: encode: %v", err))
	}
	return id
}

// SentSignal is the signal Send raises on the source chain.
func SentSignal(msgHash common.Hash) common.Hash {
	return crypto.Keccak256Hash([]byte(sentSignalDomain), msgHash.Bytes())
}

// FailedSignal is the signal raised on the destination chain when a message
// reaches FAILED. Recall on the source chain requires a proof of it.
func FailedSignal(msgHash common.Hash) common.Hash {
	return crypto.Keccak256Hash([]byte(failedSignalDomain), msgHash.Bytes())
}

// ParseHash parses a 0x-prefixed 32-byte hex string.
func ParseHash(s string) (common.Hash, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		s = "0x" + s
	}
	if len(s) != 2+2*common.HashLength {
		return common.Hash{}, fmt.Errorf("invalid hash length: %q", s)
	}
	b, err := hexutil.Decode(s)
	if err != nil {
		return common.Hash{}, fmt.Errorf("invalid hash %q: %w", s, err)
	}
	return common.BytesToHash(b), nil
}
