package wallet

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

const testPrivateKey = "59c6995e998f97a5a0044976f0945388cf9b7e5e5f4f9d2d9d8f1f5b7f6d11d1"

func ptrAddress(a common.Address) *common.Address { return &a }

func TestNewLocalWalletFromEnvHex(t *testing.T) {
	t.Setenv(EnvPrivateKey, testPrivateKey)
	t.Setenv(EnvPrivateKeyFile, "")
	t.Setenv(EnvKeystorePath, "")

	w, err := NewLocalWalletFromEnv()
	if err != nil {
		t.Fatalf("NewLocalWalletFromEnv failed: %v", err)
	}
	if w.Address() == (common.Address{}) {
		t.Fatal("expected non-zero wallet address")
	}
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    0,
		To:       ptrAddress(common.HexToAddress("0x0000000000000000000000000000000000000001")),
		Value:    big.NewInt(0),
		Gas:      21_000,
		GasPrice: big.NewInt(1),
	})
	if _, err := w.SignTx(common.Big1, tx); err != nil {
		t.Fatalf("SignTx failed: %v", err)
	}
}

func TestNewLocalWalletFromEnvFile(t *testing.T) {
	dir := t.TempDir()
	keyFile := filepath.Join(dir, "key.txt")
	if err := os.WriteFile(keyFile, []byte(testPrivateKey), 0o600); err != nil {
		t.Fatalf("write key file: %v", err)
	}
	t.Setenv(EnvPrivateKey, "")
	t.Setenv(EnvPrivateKeyFile, keyFile)
	t.Setenv(EnvKeystorePath, "")

	w, err := NewLocalWalletFromEnv()
	if err != nil {
		t.Fatalf("NewLocalWalletFromEnv failed: %v", err)
	}
	if w.Address() == (common.Address{}) {
		t.Fatal("expected non-zero wallet address")
	}
}

func TestSignTypedDataRecoversSigner(t *testing.T) {
	w, err := NewLocalWallet(LocalWalletConfig{PrivateKeyHex: testPrivateKey})
	if err != nil {
		t.Fatalf("NewLocalWallet failed: %v", err)
	}

	typed := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"Permit": {
				{Name: "owner", Type: "address"},
				{Name: "spender", Type: "address"},
				{Name: "value", Type: "uint256"},
				{Name: "nonce", Type: "uint256"},
				{Name: "deadline", Type: "uint256"},
			},
		},
		PrimaryType: "Permit",
		Domain: apitypes.TypedDataDomain{
			Name:              "Stable Coin",
			Version:           "1",
			ChainId:           math.NewHexOrDecimal256(8453),
			VerifyingContract: "0xfdcC3dd6671eaB0709A4C0f3F53De9a333d80798",
		},
		Message: apitypes.TypedDataMessage{
			"owner":    w.Address().Hex(),
			"spender":  "0x0000000000000000000000000000000000000002",
			"value":    big.NewInt(100_500_000),
			"nonce":    big.NewInt(0),
			"deadline": big.NewInt(1_900_000_000),
		},
	}

	sig, err := w.SignTypedData(typed)
	if err != nil {
		t.Fatalf("SignTypedData failed: %v", err)
	}
	if len(sig) != 65 {
		t.Fatalf("expected 65-byte signature, got %d", len(sig))
	}
	if sig[64] != 27 && sig[64] != 28 {
		t.Fatalf("expected v in {27,28}, got %d", sig[64])
	}

	digest, err := TypedDataDigest(typed)
	if err != nil {
		t.Fatalf("TypedDataDigest failed: %v", err)
	}
	recover := make([]byte, 65)
	copy(recover, sig)
	recover[64] -= 27
	pub, err := crypto.SigToPub(digest, recover)
	if err != nil {
		t.Fatalf("recover public key: %v", err)
	}
	if crypto.PubkeyToAddress(*pub) != w.Address() {
		t.Fatal("recovered signer does not match wallet address")
	}
}
