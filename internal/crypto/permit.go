package crypto

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/predictionperps/internal/domain"
)

var (
	// EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)
	domainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"),
	)

	// Permit(address owner,address spender,uint256 value,uint256 nonce,uint256 deadline)
	permitTypeHash = ethcrypto.Keccak256(
		[]byte("Permit(address owner,address spender,uint256 value,uint256 nonce,uint256 deadline)"),
	)
)

// PermitDomain is the EIP-712 domain of an EIP-2612 token.
type PermitDomain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

// Permit authorizes Spender to pull Value of Owner's tokens until Deadline.
type Permit struct {
	Owner    common.Address
	Spender  common.Address
	Value    *big.Int
	Nonce    *big.Int
	Deadline *big.Int
}

// Signature is a split secp256k1 signature with v in {27, 28}.
type Signature struct {
	V uint8
	R [32]byte
	S [32]byte
}

// Bytes returns r || s || v.
func (s Signature) Bytes() []byte {
	return concatBytes(s.R[:], s.S[:], []byte{s.V})
}

// PermitSigner signs EIP-2612 permits with a local key.
type PermitSigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewPermitSigner wraps key.
func NewPermitSigner(key *ecdsa.PrivateKey) *PermitSigner {
	return &PermitSigner{key: key, address: ethcrypto.PubkeyToAddress(key.PublicKey)}
}

// Address returns the signing account.
func (s *PermitSigner) Address() common.Address {
	return s.address
}

// SignPermit signs p under d. Owner must be the signer's own account.
func (s *PermitSigner) SignPermit(ctx context.Context, d PermitDomain, p Permit) (Signature, error) {
	if err := ctx.Err(); err != nil {
		return Signature{}, err
	}
	if p.Owner != s.address {
		return Signature{}, fmt.Errorf("%w: permit owner %s is not signer %s", domain.ErrSigningFailed, p.Owner.Hex(), s.address.Hex())
	}
	digest, err := PermitDigest(d, p)
	if err != nil {
		return Signature{}, err
	}
	raw, err := ethcrypto.Sign(digest, s.key)
	if err != nil {
		return Signature{}, fmt.Errorf("%w: %v", domain.ErrSigningFailed, err)
	}
	var sig Signature
	copy(sig.R[:], raw[:32])
	copy(sig.S[:], raw[32:64])
	sig.V = raw[64] + 27
	return sig, nil
}

// PermitDigest returns keccak256("\x19\x01" || domainSeparator || structHash).
func PermitDigest(d PermitDomain, p Permit) ([]byte, error) {
	if d.ChainID == nil || p.Value == nil || p.Nonce == nil || p.Deadline == nil {
		return nil, fmt.Errorf("%w: permit has unset numeric fields", domain.ErrSigningFailed)
	}
	return eip712Hash(domainSeparator(d), permitStructHash(p)), nil
}

// RecoverPermitSigner returns the account that produced sig over p.
func RecoverPermitSigner(d PermitDomain, p Permit, sig Signature) (common.Address, error) {
	digest, err := PermitDigest(d, p)
	if err != nil {
		return common.Address{}, err
	}
	raw := sig.Bytes()
	raw[64] -= 27
	pub, err := ethcrypto.SigToPub(digest, raw)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto: recover permit signer: %w", err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

func domainSeparator(d PermitDomain) []byte {
	return ethcrypto.Keccak256(
		concatBytes(
			domainTypeHash,
			ethcrypto.Keccak256([]byte(d.Name)),
			ethcrypto.Keccak256([]byte(d.Version)),
			bigIntTo32Bytes(d.ChainID),
			common.LeftPadBytes(d.VerifyingContract.Bytes(), 32),
		),
	)
}

func permitStructHash(p Permit) []byte {
	return ethcrypto.Keccak256(
		concatBytes(
			permitTypeHash,
			common.LeftPadBytes(p.Owner.Bytes(), 32),
			common.LeftPadBytes(p.Spender.Bytes(), 32),
			bigIntTo32Bytes(p.Value),
			bigIntTo32Bytes(p.Nonce),
			bigIntTo32Bytes(p.Deadline),
		),
	)
}

// eip712Hash computes keccak256("\x19\x01" || domainSeparator || structHash).
func eip712Hash(domainSep, structHash []byte) []byte {
	return ethcrypto.Keccak256(concatBytes([]byte{0x19, 0x01}, domainSep, structHash))
}

// bigIntTo32Bytes returns a 32-byte big-endian representation of n.
func bigIntTo32Bytes(n *big.Int) []byte {
	return common.LeftPadBytes(n.Bytes(), 32)
}

func concatBytes(slices ...[]byte) []byte {
	total := 0
	for _, s := range slices {
		total += len(s)
	}
	buf := make([]byte, 0, total)
	for _, s := range slices {
		buf = append(buf, s...)
	}
	return buf
}
