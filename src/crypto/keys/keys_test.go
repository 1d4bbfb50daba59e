package keys

import (
	"io/ioutil"
	"os"
	"path"
	"reflect"
	"testing"
)

func TestSimpleKeyfile(t *testing.T) {
	dir, err := ioutil.TempDir("", "opsmesh")
	if err != nil {
		t.Fatalf("err: %v ", err)
	}
	defer os.RemoveAll(dir)

	simpleKeyfile := NewSimpleKeyfile(path.Join(dir, "priv_key"))

	// Try a read, should get nothing
	key, err := simpleKeyfile.ReadKey()
	if err == nil {
		t.Fatalf("ReadKey should generate an error")
	}
	if key != nil {
		t.Fatalf("key is not nil")
	}

	// Initialize a key and try a write
	key, _ = GenerateECDSAKey()

	if err := simpleKeyfile.WriteKey(key); err != nil {
		t.Fatalf("err: %v", err)
	}

	// Try a read, should get key
	nKey, err := simpleKeyfile.ReadKey()
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	if !reflect.DeepEqual(*nKey, *key) {
		t.Fatalf("Keys do not match")
	}
}

func TestWriteKeyReplacesAtomically(t *testing.T) {
	dir, err := ioutil.TempDir("", "opsmesh")
	if err != nil {
		t.Fatalf("err: %v ", err)
	}
	defer os.RemoveAll(dir)

	keyfilePath := path.Join(dir, "priv_key")
	simpleKeyfile := NewSimpleKeyfile(keyfilePath)

	first, _ := GenerateECDSAKey()
	if err := simpleKeyfile.WriteKey(first); err != nil {
		t.Fatalf("err: %v", err)
	}

	// Overwriting an existing keyfile goes through a rename as well.
	second, _ := GenerateECDSAKey()
	if err := simpleKeyfile.WriteKey(second); err != nil {
		t.Fatalf("err: %v", err)
	}

	read, err := simpleKeyfile.ReadKey()
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if read.D.Cmp(second.D) != 0 {
		t.Fatalf("keyfile should hold the latest key")
	}

	// The write must not leave intermediate files next to the keyfile.
	entries, err := ioutil.ReadDir(dir)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "priv_key" {
		t.Fatalf("unexpected directory contents: %v", entries)
	}

	// The renamed file keeps user-only permissions, so ReadKey accepts it.
	info, err := os.Stat(keyfilePath)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if perm := info.Mode().Perm(); perm&0077 != 0 {
		t.Fatalf("keyfile should be user-only, got %o", perm)
	}
}

func TestReadKeyRejectsTruncatedFile(t *testing.T) {
	dir, err := ioutil.TempDir("", "opsmesh")
	if err != nil {
		t.Fatalf("err: %v ", err)
	}
	defer os.RemoveAll(dir)

	keyfilePath := path.Join(dir, "priv_key")
	simpleKeyfile := NewSimpleKeyfile(keyfilePath)

	key, _ := GenerateECDSAKey()
	if err := simpleKeyfile.WriteKey(key); err != nil {
		t.Fatalf("err: %v", err)
	}

	// Chop the hex dump in half, as an interrupted plain write would.
	buf, err := ioutil.ReadFile(keyfilePath)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if err := ioutil.WriteFile(keyfilePath, buf[:len(buf)/2], 0600); err != nil {
		t.Fatalf("err: %v", err)
	}

	if _, err := simpleKeyfile.ReadKey(); err == nil {
		t.Fatalf("a truncated keyfile should not parse")
	}
}

func TestParsePrivateKeyRoundTrip(t *testing.T) {
	key, err := GenerateECDSAKey()
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	dump := DumpPrivateKey(key)

	parsed, err := ParsePrivateKey(dump)
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	if parsed.D.Cmp(key.D) != 0 {
		t.Fatalf("D values do not match")
	}

	if parsed.PublicKey.X.Cmp(key.PublicKey.X) != 0 ||
		parsed.PublicKey.Y.Cmp(key.PublicKey.Y) != 0 {
		t.Fatalf("Public keys do not match")
	}
}

func TestSignatureEncoding(t *testing.T) {
	key, _ := GenerateECDSAKey()

	data := []byte("sign me")

	r, s, err := Sign(key, data)
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	encoded := EncodeSignature(r, s)

	r2, s2, err := DecodeSignature(encoded)
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	if r.Cmp(r2) != 0 || s.Cmp(s2) != 0 {
		t.Fatalf("Signature round trip mismatch")
	}

	if !Verify(&key.PublicKey, data, r2, s2) {
		t.Fatalf("Signature should verify")
	}

	if Verify(&key.PublicKey, []byte("other data"), r2, s2) {
		t.Fatalf("Signature should not verify other data")
	}
}

func TestPublicKeyRoundTrip(t *testing.T) {
	key, _ := GenerateECDSAKey()

	pubBytes := FromPublicKey(&key.PublicKey)

	pub := ToPublicKey(pubBytes)
	if pub == nil {
		t.Fatalf("ToPublicKey returned nil")
	}

	if pub.X.Cmp(key.PublicKey.X) != 0 || pub.Y.Cmp(key.PublicKey.Y) != 0 {
		t.Fatalf("Public key round trip mismatch")
	}
}
