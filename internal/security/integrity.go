// Package security provides content fingerprints and signatures for rarity datasets
package security

import (
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"

	"github.com/neomarket/rarity-engine/internal/model"
)

// ErrInvalidSignature is returned when a signature does not recover to the expected signer
var ErrInvalidSignature = errors.New("invalid signature")

// Fingerprint returns the keccak256 digest of an item snapshot.
// Item order is part of the digest since it decides rank tie-breaks.
func Fingerprint(items []model.Item) common.Hash {
	var b strings.Builder
	field := func(s string) {
		b.WriteString(strconv.Itoa(len(s)))
		b.WriteByte(':')
		b.WriteString(s)
	}

	field(strconv.Itoa(len(items)))
	for _, item := range items {
		field(item.TokenID)
		field(item.Name)
		field(item.Image)
		field(strconv.Itoa(len(item.Attributes)))
		for _, t := range item.Attributes {
			field(t.TraitType)
			field(t.Value)
		}
		if item.Price != nil {
			field(strconv.FormatFloat(*item.Price, 'g', -1, 64))
		} else {
			field("")
		}
		field(strconv.FormatInt(item.ListedAt, 10))
	}
	return crypto.Keccak256Hash([]byte(b.String()))
}

// DatasetDigest returns the keccak256 digest of the JSON form of a computed dataset
func DatasetDigest(data *model.CollectionRarityData) (common.Hash, error) {
	if data == nil {
		return common.Hash{}, errors.New("nil dataset")
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to marshal dataset: %w", err)
	}
	return crypto.Keccak256Hash(raw), nil
}

// Signer signs dataset digests with a secp256k1 key
type Signer struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewSigner loads a hex encoded private key, or generates an ephemeral one when hexKey is empty
func NewSigner(hexKey string) (*Signer, error) {
	var (
		key *ecdsa.PrivateKey
		err error
	)
	if hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"); hexKey == "" {
		key, err = crypto.GenerateKey()
		if err != nil {
			return nil, fmt.Errorf("failed to generate key: %w", err)
		}
	} else {
		key, err = crypto.HexToECDSA(hexKey)
		if err != nil {
			return nil, fmt.Errorf("failed to parse signing key: %w", err)
		}
	}

	s := &Signer{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}
	logrus.Infof("Dataset signer initialized for %s", s.address.Hex())
	return s, nil
}

// Address returns the address that signatures recover to
func (s *Signer) Address() common.Address {
	return s.address
}

// Sign returns the 0x encoded 65 byte signature of digest
func (s *Signer) Sign(digest common.Hash) (string, error) {
	sig, err := crypto.Sign(digest.Bytes(), s.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign digest: %w", err)
	}
	return hexutil.Encode(sig), nil
}

// Verify checks that signature over digest was produced by signer
func Verify(digest common.Hash, signature string, signer common.Address) error {
	sig, err := hexutil.Decode(signature)
	if err != nil {
		return fmt.Errorf("failed to decode signature: %w", err)
	}
	if len(sig) != crypto.SignatureLength {
		return fmt.Errorf("%w: length %d", ErrInvalidSignature, len(sig))
	}

	pub, err := crypto.SigToPub(digest.Bytes(), sig)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if crypto.PubkeyToAddress(*pub) != signer {
		return ErrInvalidSignature
	}
	return nil
}
