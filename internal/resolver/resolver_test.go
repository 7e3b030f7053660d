package resolver

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestAddressManager_Resolve(t *testing.T) {
	m := NewAddressManager()
	vault := common.HexToAddress("0x7a017")
	m.SetAddress(1, NameEtherVault, vault)

	tests := []struct {
		name      string
		chainID   uint64
		lookup    string
		allowZero bool
		want      common.Address
		wantErr   error
	}{
		{"registered", 1, NameEtherVault, false, vault, nil},
		{"other chain", 2, NameEtherVault, false, common.Address{}, ErrNotResolved},
		{"missing allow zero", 2, NameEtherVault, true, common.Address{}, nil},
		{"missing name", 1, NameBridge, false, common.Address{}, ErrNotResolved},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := m.Resolve(context.Background(), tc.chainID, tc.lookup, tc.allowZero)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("err = %v, want %v", err, tc.wantErr)
			}
			if got != tc.want {
				t.Errorf("addr = %s, want %s", got.Hex(), tc.want.Hex())
			}
		})
	}
}

func TestAddressManager_ClearWithZero(t *testing.T) {
	m := NewAddressManager()
	m.SetAddress(1, NameBridge, common.HexToAddress("0x01"))
	m.SetAddress(1, NameBridge, common.Address{})

	if _, err := m.Resolve(context.Background(), 1, NameBridge, false); !errors.Is(err, ErrNotResolved) {
		t.Errorf("Resolve after clear = %v, want ErrNotResolved", err)
	}
}
