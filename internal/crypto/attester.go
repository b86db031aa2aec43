package crypto

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/alanyoungcy/cardpay/internal/domain"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/gowebpki/jcs"
)

// Attester signs the canonical form of settlement metadata so the payment
// service can check which authorizer approved a transfer.
type Attester struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewAttester creates an Attester from a hex secp256k1 private key.
func NewAttester(privateKeyHex string) (*Attester, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto/attester: invalid private key: %w", err)
	}
	return &Attester{privateKey: pk, address: ethcrypto.PubkeyToAddress(pk.PublicKey)}, nil
}

// Address returns the checksummed signer address.
func (a *Attester) Address() string { return a.address.Hex() }

// Attest canonicalizes metadata (RFC 8785), hashes it with Keccak-256 and
// signs the digest.
func (a *Attester) Attest(metadata []byte) (domain.Attestation, error) {
	digest, err := metadataDigest(metadata)
	if err != nil {
		return domain.Attestation{}, err
	}
	sig, err := ethcrypto.Sign(digest, a.privateKey)
	if err != nil {
		return domain.Attestation{}, fmt.Errorf("%w: %v", domain.ErrSigningFailed, err)
	}
	return domain.Attestation{
		Signer:    a.address.Hex(),
		Digest:    "0x" + hex.EncodeToString(digest),
		Signature: "0x" + hex.EncodeToString(sig),
	}, nil
}

// VerifyAttestation reports whether att is a valid signature by att.Signer
// over metadata.
func VerifyAttestation(metadata []byte, att domain.Attestation) (bool, error) {
	digest, err := metadataDigest(metadata)
	if err != nil {
		return false, err
	}
	want, err := hex.DecodeString(strings.TrimPrefix(att.Digest, "0x"))
	if err != nil || !bytes.Equal(want, digest) {
		return false, nil
	}
	sig, err := hex.DecodeString(strings.TrimPrefix(att.Signature, "0x"))
	if err != nil || len(sig) != 65 {
		return false, nil
	}
	pub, err := ethcrypto.SigToPub(digest, sig)
	if err != nil {
		return false, nil
	}
	return ethcrypto.PubkeyToAddress(*pub) == common.HexToAddress(att.Signer), nil
}

func metadataDigest(metadata []byte) ([]byte, error) {
	canonical, err := jcs.Transform(metadata)
	if err != nil {
		return nil, fmt.Errorf("%w: canonicalize metadata: %v", domain.ErrSigningFailed, err)
	}
	return ethcrypto.Keccak256(canonical), nil
}
