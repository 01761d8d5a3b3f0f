// Package crypto holds the desk's wallet key at rest and signs EIP-2612
// collateral permits.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/pbkdf2"
)

const (
	pbkdf2Iterations = 480_000
	saltLen          = 16
	aesKeyLen        = 32
	keyfileVersion   = 1
)

// keyfile is the on-disk format of an encrypted wallet key. Binary fields
// are standard base64.
type keyfile struct {
	Version    int    `json:"version"`
	Address    string `json:"address,omitempty"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// WalletSource says where the desk's signing key comes from. A raw key
// wins over an encrypted keyfile.
type WalletSource struct {
	PrivateKey  string
	KeyfilePath string
	Password    string
}

func sealer(password string, salt []byte) (cipher.AEAD, error) {
	if password == "" {
		return nil, errors.New("crypto: password must not be empty")
	}
	block, err := aes.NewCipher(pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, aesKeyLen, sha256.New))
	if err != nil {
		return nil, fmt.Errorf("crypto: cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: gcm: %w", err)
	}
	return gcm, nil
}

// EncryptKey seals a hex private key under password and returns keyfile JSON.
func EncryptKey(privateKeyHex, password string) ([]byte, error) {
	key, err := ParseKey(privateKeyHex)
	if err != nil {
		return nil, err
	}
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: salt: %w", err)
	}
	aead, err := sealer(password, salt)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: nonce: %w", err)
	}
	kf := keyfile{
		Version:    keyfileVersion,
		Address:    ethcrypto.PubkeyToAddress(key.PublicKey).Hex(),
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(aead.Seal(nil, nonce, ethcrypto.FromECDSA(key), nil)),
	}
	return json.MarshalIndent(kf, "", "  ")
}

// DecryptKey opens keyfile JSON produced by EncryptKey.
func DecryptKey(data []byte, password string) (*ecdsa.PrivateKey, error) {
	var kf keyfile
	if err := json.Unmarshal(data, &kf); err != nil {
		return nil, fmt.Errorf("crypto: parse keyfile: %w", err)
	}
	if kf.Version != keyfileVersion {
		return nil, fmt.Errorf("crypto: unsupported keyfile version %d", kf.Version)
	}
	var fields [3][]byte
	for i, enc := range []string{kf.Salt, kf.Nonce, kf.Ciphertext} {
		b, err := base64.StdEncoding.DecodeString(enc)
		if err != nil {
			return nil, fmt.Errorf("crypto: decode keyfile field %d: %w", i, err)
		}
		fields[i] = b
	}
	aead, err := sealer(password, fields[0])
	if err != nil {
		return nil, err
	}
	if len(fields[1]) != aead.NonceSize() {
		return nil, errors.New("crypto: keyfile nonce has wrong size")
	}
	plain, err := aead.Open(nil, fields[1], fields[2], nil)
	if err != nil {
		return nil, fmt.Errorf("crypto: decrypt keyfile (wrong password?): %w", err)
	}
	key, err := ethcrypto.ToECDSA(plain)
	if err != nil {
		return nil, fmt.Errorf("crypto: keyfile holds an invalid key: %w", err)
	}
	if kf.Address != "" && !strings.EqualFold(kf.Address, ethcrypto.PubkeyToAddress(key.PublicKey).Hex()) {
		return nil, errors.New("crypto: keyfile address does not match decrypted key")
	}
	return key, nil
}

// ParseKey parses a hex secp256k1 key with or without 0x.
func ParseKey(privateKeyHex string) (*ecdsa.PrivateKey, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto: private key is not hex: %w", err)
	}
	key, err := ethcrypto.ToECDSA(raw)
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid private key: %w", err)
	}
	return key, nil
}

// LoadWallet resolves the signing key described by src.
func LoadWallet(src WalletSource) (*ecdsa.PrivateKey, error) {
	if src.PrivateKey != "" {
		return ParseKey(src.PrivateKey)
	}
	if src.KeyfilePath != "" {
		data, err := os.ReadFile(src.KeyfilePath)
		if err != nil {
			return nil, fmt.Errorf("crypto: read keyfile: %w", err)
		}
		return DecryptKey(data, src.Password)
	}
	return nil, errors.New("crypto: no wallet configured (set wallet.private_key or wallet.keyfile)")
}
