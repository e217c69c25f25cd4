package history

import (
	"crypto/elliptic"
	"crypto/sha256"
	"encoding/base64"
	"math/big"
	"strings"

	"github.com/pkg/errors"
)

const privateKeySize = 28

var ErrInvalidKey = errors.New("invalid device key")

// Key identifies an accessory in the history provider.
type Key struct {
	// AdvertisementKey is the x coordinate of the P-224 public key.
	AdvertisementKey []byte
	// HashedID is base64(sha256(AdvertisementKey)), the lookup id.
	HashedID string
}

// DeriveKey turns a tracker uniqueId (base64 P-224 private key) into the
// history lookup key.
func DeriveKey(uniqueID string) (Key, error) {
	raw, err := decodeB64(strings.TrimSpace(uniqueID))
	if err != nil {
		return Key{}, errors.Wrapf(ErrInvalidKey, "decode %q: %v", uniqueID, err)
	}
	if len(raw) != privateKeySize {
		return Key{}, errors.Wrapf(ErrInvalidKey, "want %d bytes, got %d", privateKeySize, len(raw))
	}

	curve := elliptic.P224()
	d := new(big.Int).SetBytes(raw)
	if d.Sign() == 0 || d.Cmp(curve.Params().N) >= 0 {
		return Key{}, errors.Wrap(ErrInvalidKey, "scalar out of range")
	}

	x, _ := curve.ScalarBaseMult(raw) //nolint:staticcheck // P-224 is not covered by crypto/ecdh
	adv := x.FillBytes(make([]byte, privateKeySize))
	sum := sha256.Sum256(adv)
	return Key{
		AdvertisementKey: adv,
		HashedID:         base64.StdEncoding.EncodeToString(sum[:]),
	}, nil
}

func decodeB64(s string) ([]byte, error) {
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
}
