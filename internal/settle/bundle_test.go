package settle

import (
	"bytes"
	"encoding/hex"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	apperr "github.com/codecollab/agentpay/internal/errors"
	"github.com/codecollab/agentpay/internal/permit"
)

func TestBuildBundleCallOrder(t *testing.T) {
	token := common.HexToAddress("0xfdcC3dd6671eaB0709A4C0f3F53De9a333d80798")
	owner := common.HexToAddress("0x1111111111111111111111111111111111111111")
	spender := common.HexToAddress("0x2222222222222222222222222222222222222222")
	recipient := common.HexToAddress("0x3333333333333333333333333333333333333333")

	sig := permit.Signature{V: 27, Deadline: 1700000600, Nonce: big.NewInt(4)}
	copy(sig.R[:], bytes.Repeat([]byte{0xaa}, 32))
	copy(sig.S[:], bytes.Repeat([]byte{0xbb}, 32))

	bundle, err := BuildBundle(token, owner, spender, recipient, big.NewInt(100_500_000), sig, 8453)
	if err != nil {
		t.Fatal(err)
	}
	if bundle.ChainID != 8453 {
		t.Fatalf("chain id = %d, want 8453", bundle.ChainID)
	}
	for i, call := range bundle.Calls {
		if call.Target != token {
			t.Fatalf("call %d targets %s, want token", i, call.Target.Hex())
		}
		if call.Value.Sign() != 0 {
			t.Fatalf("call %d carries native value", i)
		}
	}

	// permit(address,address,uint256,uint256,uint8,bytes32,bytes32)
	if got := hex.EncodeToString(bundle.Calls[0].Data[:4]); got != "d505accf" {
		t.Fatalf("first call selector = %s, want d505accf", got)
	}
	// transferFrom(address,address,uint256)
	if got := hex.EncodeToString(bundle.Calls[1].Data[:4]); got != "23b872dd" {
		t.Fatalf("second call selector = %s, want 23b872dd", got)
	}
	if !bytes.Contains(bundle.Calls[1].Data, recipient.Bytes()) {
		t.Fatal("transferFrom calldata does not carry the recipient")
	}
	if !bytes.Contains(bundle.Calls[0].Data, sig.R[:]) {
		t.Fatal("permit calldata does not carry the signature")
	}
}

func TestBuildBundleRejectsZeroRecipient(t *testing.T) {
	token := common.HexToAddress("0xfdcC3dd6671eaB0709A4C0f3F53De9a333d80798")
	owner := common.HexToAddress("0x1111111111111111111111111111111111111111")

	_, err := BuildBundle(token, owner, owner, common.Address{}, big.NewInt(1), permit.Signature{V: 27}, 8453)
	if !apperr.HasCode(err, apperr.CodeUsage) {
		t.Fatalf("err = %v, want usage error", err)
	}
}

func TestBuildBundleRejectsNonPositiveValue(t *testing.T) {
	token := common.HexToAddress("0xfdcC3dd6671eaB0709A4C0f3F53De9a333d80798")
	owner := common.HexToAddress("0x1111111111111111111111111111111111111111")
	recipient := common.HexToAddress("0x3333333333333333333333333333333333333333")

	for _, value := range []*big.Int{nil, big.NewInt(0), big.NewInt(-5)} {
		if _, err := BuildBundle(token, owner, owner, recipient, value, permit.Signature{V: 27}, 8453); !apperr.HasCode(err, apperr.CodeUsage) {
			t.Fatalf("value %v: err = %v, want usage error", value, err)
		}
	}
}
