package identity

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/opsmesh/opsmesh/src/common"
	"github.com/opsmesh/opsmesh/src/crypto"
	"github.com/opsmesh/opsmesh/src/crypto/keys"
	"github.com/sirupsen/logrus"
)

// Identity holds a node's keypair and the peer ID derived from its public
// key. The peer ID is stable for the lifetime of the key: the same key always
// derives the same ID, and the ID cannot be claimed without the matching
// private key.
type Identity struct {
	Key     *ecdsa.PrivateKey
	Moniker string

	id       string
	pubBytes []byte
	pubHex   string
}

// New wraps an existing private key in an Identity. The derived fields are
// computed up front so the accessors are read-only and safe to call from any
// goroutine.
func New(key *ecdsa.PrivateKey, moniker string) *Identity {
	pubBytes := keys.FromPublicKey(&key.PublicKey)

	return &Identity{
		Key:      key,
		Moniker:  moniker,
		id:       PeerIDFromPubBytes(pubBytes),
		pubBytes: pubBytes,
		pubHex:   keys.PublicKeyHex(&key.PublicKey),
	}
}

// Generate creates an Identity with a fresh keypair.
func Generate(moniker string) (*Identity, error) {
	key, err := keys.GenerateECDSAKey()
	if err != nil {
		return nil, err
	}
	return New(key, moniker), nil
}

// LoadOrGenerate reads the key from keyfile. If the file is absent,
// unreadable, or corrupt, it falls back to generating a fresh keypair,
// persists it, and surfaces a warning to the operator. This is the only
// startup failure that is allowed to fall back rather than propagate.
func LoadOrGenerate(keyfile string, moniker string, logger *logrus.Entry) (*Identity, error) {
	simpleKeyfile := keys.NewSimpleKeyfile(keyfile)

	key, err := simpleKeyfile.ReadKey()
	if err == nil {
		return New(key, moniker), nil
	}

	logger.WithError(err).Warnf("Cannot read keyfile %s. Generating new identity", keyfile)

	id, err := Generate(moniker)
	if err != nil {
		return nil, fmt.Errorf("generating identity: %v", err)
	}

	if err := simpleKeyfile.WriteKey(id.Key); err != nil {
		return nil, fmt.Errorf("writing keyfile: %v", err)
	}

	return id, nil
}

// Save persists the private key to keyfile, creating parent directories as
// needed.
func (i *Identity) Save(keyfile string) error {
	return keys.NewSimpleKeyfile(keyfile).WriteKey(i.Key)
}

// PeerID returns the node's identifier, derived deterministically from the
// public key.
func (i *Identity) PeerID() string {
	return i.id
}

// PublicKeyBytes returns the node's public key as a byte array.
func (i *Identity) PublicKeyBytes() []byte {
	return i.pubBytes
}

// PublicKeyHex returns the node's public key as a hex string.
func (i *Identity) PublicKeyHex() string {
	return i.pubHex
}

// Sign signs the SHA256 hash of data and returns the string-encoded
// signature.
func (i *Identity) Sign(data []byte) (string, error) {
	r, s, err := keys.Sign(i.Key, crypto.SHA256(data))
	if err != nil {
		return "", err
	}
	return keys.EncodeSignature(r, s), nil
}

// PeerIDFromPubBytes derives a peer ID from the uncompressed form of a public
// key.
func PeerIDFromPubBytes(pubBytes []byte) string {
	return common.EncodeToString(crypto.SHA256(pubBytes))
}

// Verify checks a string-encoded signature over data against the hex-encoded
// public key pubHex.
func Verify(pubHex string, data []byte, sig string) bool {
	pubBytes, err := common.DecodeFromString(pubHex)
	if err != nil {
		return false
	}

	pub := keys.ToPublicKey(pubBytes)
	if pub == nil {
		return false
	}

	r, s, err := keys.DecodeSignature(sig)
	if err != nil {
		return false
	}

	return keys.Verify(pub, crypto.SHA256(data), r, s)
}
