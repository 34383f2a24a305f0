// Package signer produces attestation signatures over a fixed message
// schema (spec §4.6). The private key never leaves this package: Sign is
// the only capability it offers, per spec §9's Design Notes ("signer
// isolation" — raw-bytes signing is not offered).
package signer

import (
	"crypto/ecdsa"
	"encoding/binary"

	"github.com/ethereum/go-ethereum/crypto"

	dacerrors "github.com/starkware-libs/starkex-data-availability-committee/errors"
)

// domainPrefix separates the attestation message's hash domain from any
// other Keccak256 use in this repo, the same role RFC6962NodeHashPrefix
// plays for merkle.Hasher.
const domainPrefix = 0xA7

// RootInput is one tree's root to be folded into the attestation message,
// in profile-declared order (batch.SignedTrees).
type RootInput struct {
	Name   string
	Root   []byte
	Height int
}

// Attestation is the result of a successful Sign call.
type Attestation struct {
	BatchID   int64
	ClaimHash []byte
	Signature []byte
}

// Signer holds the node's signing key. The zero value is not usable; build
// one with Load.
type Signer struct {
	key       *ecdsa.PrivateKey
	memberKey []byte
}

// Load parses keyHex, a hex-encoded secp256k1 private key (the contents of
// the file named by spec §6's private_key_path, which the caller reads).
// Failure here is fatal at startup only, per spec §7.
func Load(keyHex string) (*Signer, error) {
	key, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, dacerrors.Errorf(dacerrors.FailedPrecondition, "signer: load private key: %v", err)
	}
	return &Signer{
		key:       key,
		memberKey: crypto.FromECDSAPub(&key.PublicKey),
	}, nil
}

// MemberKey returns the node's public key, used as the member_key field of
// send_signature (spec §6).
func (s *Signer) MemberKey() []byte {
	return append([]byte{}, s.memberKey...)
}

// Sign produces a deterministic ECDSA signature (RFC-6979-style nonce, via
// go-ethereum's crypto.Sign) over the attestation message built by
// claimHash: H_domain(root ‖ height, for each root in order ‖ batch_id).
// roots must already be in profile-declared order; Sign does not reorder
// them.
func (s *Signer) Sign(batchID int64, roots []RootInput) (Attestation, error) {
	if len(roots) == 0 {
		return Attestation{}, dacerrors.Errorf(dacerrors.InvalidArgument, "signer: Sign called with no roots")
	}
	claimHash := claimHash(batchID, roots)
	sig, err := crypto.Sign(claimHash, s.key)
	if err != nil {
		return Attestation{}, dacerrors.Errorf(dacerrors.Internal, "signer: sign: %v", err)
	}
	return Attestation{
		BatchID:   batchID,
		ClaimHash: claimHash,
		Signature: sig,
	}, nil
}

// claimHash computes H_domain over the attestation message, matching the
// leaf/node domain-separation pattern of merkle.Hasher but with its own
// prefix byte so the two hash domains never collide. Field order follows
// original_source/committee.py's compute_hash_availability_claim /
// hash_availability_claim: each root paired with its own tree height, in
// profile-declared order, followed by the batch sequence number last.
func claimHash(batchID int64, roots []RootInput) []byte {
	var buf []byte
	buf = append(buf, domainPrefix)
	for _, r := range roots {
		buf = append(buf, r.Root...)
		var heightBytes [8]byte
		binary.BigEndian.PutUint64(heightBytes[:], uint64(r.Height))
		buf = append(buf, heightBytes[:]...)
	}
	var idBytes [8]byte
	binary.BigEndian.PutUint64(idBytes[:], uint64(batchID))
	buf = append(buf, idBytes[:]...)
	return crypto.Keccak256(buf)
}

// Verify checks that signature is a valid attestation by signer over the
// canonical message for (batchID, roots), per spec §8's "signature
// verification succeeds iff the message was produced by the canonical
// schema" property. It does not require holding the private key.
func Verify(memberKey []byte, batchID int64, roots []RootInput, signature []byte) (bool, error) {
	pub, err := crypto.UnmarshalPubkey(memberKey)
	if err != nil {
		return false, dacerrors.Errorf(dacerrors.InvalidArgument, "signer: malformed member key: %v", err)
	}
	hash := claimHash(batchID, roots)
	if len(signature) < 1 {
		return false, dacerrors.Errorf(dacerrors.InvalidArgument, "signer: empty signature")
	}
	sigNoRecoveryID := signature[:len(signature)-1]
	return crypto.VerifySignature(crypto.FromECDSAPub(pub), hash, sigNoRecoveryID), nil
}
