package wallet

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

const (
	EnvPrivateKey           = "AGENTPAY_PRIVATE_KEY"
	EnvPrivateKeyFile       = "AGENTPAY_PRIVATE_KEY_FILE"
	EnvKeystorePath         = "AGENTPAY_KEYSTORE_PATH"
	EnvKeystorePassword     = "AGENTPAY_KEYSTORE_PASSWORD"
	EnvKeystorePasswordFile = "AGENTPAY_KEYSTORE_PASSWORD_FILE"

	defaultPrivateKeyRelativePath = "agentpay/key.hex"
)

// LocalWallet signs with an in-process key loaded from env, a key file, or
// an encrypted keystore.
type LocalWallet struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

func (w *LocalWallet) Address() common.Address {
	return w.address
}

func (w *LocalWallet) SignTx(chainID *big.Int, tx *types.Transaction) (*types.Transaction, error) {
	if w == nil || w.privateKey == nil {
		return nil, errors.New("local wallet is not initialized")
	}
	signer := types.LatestSignerForChainID(chainID)
	return types.SignTx(tx, signer, w.privateKey)
}

// SignTypedData hashes the EIP-712 payload and signs it, normalising the
// recovery byte to 27/28 as permit contracts expect.
func (w *LocalWallet) SignTypedData(typed apitypes.TypedData) ([]byte, error) {
	if w == nil || w.privateKey == nil {
		return nil, errors.New("local wallet is not initialized")
	}
	digest, err := TypedDataDigest(typed)
	if err != nil {
		return nil, err
	}
	sig, err := crypto.Sign(digest, w.privateKey)
	if err != nil {
		return nil, fmt.Errorf("sign typed data: %w", err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return sig, nil
}

// TypedDataDigest computes keccak256("\x19\x01" || domainSeparator ||
// hashStruct(message)) for the payload's primary type.
func TypedDataDigest(typed apitypes.TypedData) ([]byte, error) {
	domainHash, err := typed.HashStruct("EIP712Domain", typed.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("hash typed data domain: %w", err)
	}
	messageHash, err := typed.HashStruct(typed.PrimaryType, typed.Message)
	if err != nil {
		return nil, fmt.Errorf("hash typed data message: %w", err)
	}
	return crypto.Keccak256([]byte("\x19\x01"), domainHash, messageHash), nil
}

type LocalWalletConfig struct {
	PrivateKeyHex        string
	PrivateKeyFile       string
	KeystorePath         string
	KeystorePassword     string
	KeystorePasswordFile string
}

// NewLocalWalletFromEnv resolves key material from the environment with
// precedence hex key > key file > keystore.
func NewLocalWalletFromEnv() (*LocalWallet, error) {
	cfg := LocalWalletConfig{
		PrivateKeyHex:        strings.TrimSpace(os.Getenv(EnvPrivateKey)),
		PrivateKeyFile:       strings.TrimSpace(os.Getenv(EnvPrivateKeyFile)),
		KeystorePath:         strings.TrimSpace(os.Getenv(EnvKeystorePath)),
		KeystorePassword:     strings.TrimSpace(os.Getenv(EnvKeystorePassword)),
		KeystorePasswordFile: strings.TrimSpace(os.Getenv(EnvKeystorePasswordFile)),
	}
	if cfg.PrivateKeyFile == "" {
		cfg.PrivateKeyFile = discoverDefaultPrivateKeyFile()
	}
	return NewLocalWallet(cfg)
}

func NewLocalWallet(cfg LocalWalletConfig) (*LocalWallet, error) {
	pk, err := loadPrivateKey(cfg)
	if err != nil {
		return nil, err
	}
	pub, ok := pk.Public().(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("invalid ECDSA public key")
	}
	return &LocalWallet{privateKey: pk, address: crypto.PubkeyToAddress(*pub)}, nil
}

func loadPrivateKey(cfg LocalWalletConfig) (*ecdsa.PrivateKey, error) {
	if strings.TrimSpace(cfg.PrivateKeyHex) != "" {
		return parseHexKey(cfg.PrivateKeyHex)
	}
	if strings.TrimSpace(cfg.PrivateKeyFile) != "" {
		buf, err := os.ReadFile(cfg.PrivateKeyFile)
		if err != nil {
			return nil, fmt.Errorf("read private key file: %w", err)
		}
		return parseHexKey(string(buf))
	}
	if strings.TrimSpace(cfg.KeystorePath) != "" {
		password := cfg.KeystorePassword
		if strings.TrimSpace(password) == "" && strings.TrimSpace(cfg.KeystorePasswordFile) != "" {
			buf, err := os.ReadFile(cfg.KeystorePasswordFile)
			if err != nil {
				return nil, fmt.Errorf("read keystore password file: %w", err)
			}
			password = strings.TrimSpace(string(buf))
		}
		if strings.TrimSpace(password) == "" {
			return nil, fmt.Errorf("keystore password is required")
		}
		buf, err := os.ReadFile(cfg.KeystorePath)
		if err != nil {
			return nil, fmt.Errorf("read keystore file: %w", err)
		}
		key, err := keystore.DecryptKey(buf, password)
		if err != nil {
			return nil, fmt.Errorf("decrypt keystore: %w", err)
		}
		return key.PrivateKey, nil
	}
	return nil, fmt.Errorf("missing signing key: set %s or %s or %s", EnvPrivateKey, EnvPrivateKeyFile, EnvKeystorePath)
}

func parseHexKey(raw string) (*ecdsa.PrivateKey, error) {
	clean := strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	if clean == "" {
		return nil, fmt.Errorf("empty private key")
	}
	pk, err := crypto.HexToECDSA(clean)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return pk, nil
}

func discoverDefaultPrivateKeyFile() string {
	base := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME"))
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil || strings.TrimSpace(home) == "" {
			return ""
		}
		base = filepath.Join(home, ".config")
	}
	path := filepath.Join(base, defaultPrivateKeyRelativePath)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return ""
	}
	return path
}
