package keys

import (
	"crypto/elliptic"
	"math/big"

	"github.com/btcsuite/btcd/btcec"
)

/*
Opsmesh node identities are based on elliptic curve cryptography on the
secp256k1 curve, the same curve used by Bitcoin and Ethereum.
*/

// Parameters of the secp256k1 curve, used to verify that a private key is
// valid.
var (
	secp256k1N, _ = new(big.Int).SetString("fffffffffffffffffffffffffffffffebaaedce6af48a03bbfd25e8cd0364141", 16)
)

// Curve returns the secp256k1 elliptic.Curve, as implemented by btcsuite.
func Curve() elliptic.Curve {
	return btcec.S256()
}
