package security

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neomarket/rarity-engine/internal/model"
	"github.com/neomarket/rarity-engine/internal/rarity"
)

func sampleItems() []model.Item {
	p := 1.5
	return []model.Item{
		{TokenID: "1", Name: "Eko #1", Attributes: []model.Trait{{TraitType: "Background", Value: "Red"}}, Price: &p},
		{TokenID: "2", Name: "Eko #2", Attributes: []model.Trait{{TraitType: "Background", Value: "Blue"}}},
	}
}

func TestFingerprint(t *testing.T) {
	items := sampleItems()
	base := Fingerprint(items)

	assert.Equal(t, base, Fingerprint(sampleItems()), "fingerprint must be deterministic")
	assert.NotEqual(t, common.Hash{}, base)

	reordered := []model.Item{items[1], items[0]}
	assert.NotEqual(t, base, Fingerprint(reordered))

	changed := sampleItems()
	changed[1].Attributes[0].Value = "Green"
	assert.NotEqual(t, base, Fingerprint(changed))

	unlisted := sampleItems()
	unlisted[0].Price = nil
	assert.NotEqual(t, base, Fingerprint(unlisted))

	// length prefixes keep field boundaries unambiguous
	a := []model.Item{{TokenID: "ab", Name: "c"}}
	b := []model.Item{{TokenID: "a", Name: "bc"}}
	assert.NotEqual(t, Fingerprint(a), Fingerprint(b))
}

func TestDatasetDigest(t *testing.T) {
	d1, err := DatasetDigest(rarity.Calculate(sampleItems()))
	require.NoError(t, err)
	d2, err := DatasetDigest(rarity.Calculate(sampleItems()))
	require.NoError(t, err)
	assert.Equal(t, d1, d2)

	_, err = DatasetDigest(nil)
	assert.Error(t, err)
}

func TestSigner_RoundTrip(t *testing.T) {
	signer, err := NewSigner("")
	require.NoError(t, err)

	digest := Fingerprint(sampleItems())
	sig, err := signer.Sign(digest)
	require.NoError(t, err)
	assert.Len(t, sig, 2+65*2)

	assert.NoError(t, Verify(digest, sig, signer.Address()))

	other, err := NewSigner("")
	require.NoError(t, err)
	assert.ErrorIs(t, Verify(digest, sig, other.Address()), ErrInvalidSignature)

	assert.ErrorIs(t, Verify(digest, "0x1234", signer.Address()), ErrInvalidSignature)
	assert.Error(t, Verify(digest, "not-hex", signer.Address()))
}

func TestNewSigner_FromHex(t *testing.T) {
	const key = "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

	signer, err := NewSigner(key)
	require.NoError(t, err)
	assert.Equal(t, "0x2c7536E3605D9C16a7a3D7b1898e529396a65c23", signer.Address().Hex())

	_, err = NewSigner("zz")
	assert.Error(t, err)
}
