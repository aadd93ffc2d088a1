// Package sigcheck is the Signature Gate: given a dsc byte stream and a
// set of keyrings it verifies the detached-clearsigned wrapper and
// returns signer identity, key-id, keyring of origin, signature
// timestamp, signature status and the cleartext payload.
//
// Spec.md §2 marks this an external collaborator - only its contract
// is load-bearing for the history reconstruction engine - but a real
// implementation is shipped here, built on golang.org/x/crypto/openpgp
// the way the teacher reaches for golang.org/x/crypto for its SSH
// terminal handling.
package sigcheck

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"golang.org/x/crypto/openpgp"
	"golang.org/x/crypto/openpgp/clearsign"
	"golang.org/x/crypto/openpgp/packet"
)

// SigType mirrors the GnuPG status keywords the original tool scraped
// from gpg --status-fd (see original_source/gitdeb/__init__.py check_sig).
type SigType string

const (
	GoodSig SigType = "GOODSIG"
	RevKeySig SigType = "REVKEYSIG"
	ExpKeySig SigType = "EXPKEYSIG"
	ErrSig    SigType = "ERRSIG"
)

// Keyring is one named source of trusted keys.
type Keyring struct {
	Name    string
	Path    string
	entities openpgp.EntityList
}

// Load parses a keyring file (binary or armored GPG keyring) into memory.
func Load(name, path string) (Keyring, error) {
	f, err := os.Open(path)
	if err != nil {
		return Keyring{}, err
	}
	defer f.Close()
	entities, err := openpgp.ReadKeyRing(f)
	if err != nil {
		return Keyring{}, fmt.Errorf("sigcheck: reading keyring %s: %w", path, err)
	}
	return Keyring{Name: name, Path: path, entities: entities}, nil
}

// LoadTrusted exports a single key by its 16-hex key-id from the
// caller's default GPG keyring (the trust=<kid> query parameter,
// spec.md §6) into an ephemeral in-memory keyring, by shelling to gpg
// the way the teacher's extractor.go shells to the VCS-of-record.
func LoadTrusted(kid string) (Keyring, error) {
	cmd := exec.Command("gpg", "--export", "--armor", kid)
	out, err := cmd.Output()
	if err != nil {
		return Keyring{}, fmt.Errorf("sigcheck: exporting trusted key %s: %w", kid, err)
	}
	entities, err := openpgp.ReadArmoredKeyRing(bytes.NewReader(out))
	if err != nil {
		return Keyring{}, fmt.Errorf("sigcheck: parsing exported key %s: %w", kid, err)
	}
	return Keyring{Name: "local:" + kid, entities: entities}, nil
}

// SigInfo is the result of a successful or failed verification attempt.
type SigInfo struct {
	KeyringName string
	KeyID       string
	UserID      string
	SignedAt    time.Time
	SigType     SigType
	Cleartext   []byte
}

// Canonical reports whether the signature came from the distribution's
// canonical keyring with a good signature (spec.md §4.G upload tags:
// "did not come from the canonical distribution keyring or is not a
// good signature").
func (s SigInfo) Canonical(canonicalKeyringNames map[string]bool) bool {
	return s.SigType == GoodSig && canonicalKeyringNames[s.KeyringName]
}

// ErrNoValidSignature is returned when no keyring in the set can
// validate the clearsigned dsc.
var ErrNoValidSignature = errors.New("sigcheck: no valid signature")

// Verify checks a clearsigned dsc against each keyring in turn,
// returning on the first one that validates. On failure it returns
// ErrNoValidSignature wrapped with the verification error from the last
// attempt.
func Verify(dsc []byte, keyrings []Keyring) (SigInfo, error) {
	block, _ := clearsign.Decode(dsc)
	if block == nil {
		return SigInfo{}, errors.New("sigcheck: not a clearsigned message")
	}
	var lastErr error
	for _, kr := range keyrings {
		signed := bytes.NewReader(block.Bytes)
		signer, sig, err := verifyDetached(kr.entities, signed, block.ArmoredSignature.Body)
		if err != nil {
			lastErr = err
			continue
		}
		uid, keyID := primaryIdentity(signer)
		sigType := GoodSig
		if keyRevoked(signer) {
			sigType = RevKeySig
		} else if keyExpired(signer) {
			sigType = ExpKeySig
		}
		return SigInfo{
			KeyringName: kr.Name,
			KeyID:       keyID,
			UserID:      uid,
			SignedAt:    sig.CreationTime,
			SigType:     sigType,
			Cleartext:   block.Plaintext,
		}, nil
	}
	if lastErr == nil {
		lastErr = errors.New("no keyrings supplied")
	}
	return SigInfo{}, fmt.Errorf("%w: %v", ErrNoValidSignature, lastErr)
}

// verifyDetached is openpgp.CheckDetachedSignature's verification logic,
// reimplemented at the packet level so the signature packet's own
// CreationTime (not exposed by the convenience wrapper) survives into
// the returned SigInfo - every upload tag's tagger line needs the real
// upload date, not the time this tool happens to run.
func verifyDetached(keyring openpgp.EntityList, signed, signature io.Reader) (*openpgp.Entity, *packet.Signature, error) {
	p, err := packet.Read(signature)
	if err != nil {
		return nil, nil, fmt.Errorf("sigcheck: reading signature packet: %w", err)
	}
	sig, ok := p.(*packet.Signature)
	if !ok {
		return nil, nil, errors.New("sigcheck: signature is not a v4 signature packet")
	}
	if sig.IssuerKeyId == nil {
		return nil, nil, errors.New("sigcheck: signature carries no issuer key id")
	}

	keys := keyring.KeysByIdUsage(*sig.IssuerKeyId, packet.KeyFlagSign)
	if len(keys) == 0 {
		keys = keyring.KeysById(*sig.IssuerKeyId)
	}
	if len(keys) == 0 {
		return nil, nil, errors.New("sigcheck: no key in keyring matches the signature's issuer")
	}

	h := sig.Hash.New()
	if _, err := io.Copy(h, signed); err != nil {
		return nil, nil, fmt.Errorf("sigcheck: hashing signed content: %w", err)
	}
	if err := keys[0].PublicKey.VerifySignature(h, sig); err != nil {
		return nil, nil, fmt.Errorf("sigcheck: signature verification failed: %w", err)
	}
	return keys[0].Entity, sig, nil
}

func primaryIdentity(e *openpgp.Entity) (uid, keyID string) {
	for _, id := range e.Identities {
		uid = id.Name
		break
	}
	return uid, fmt.Sprintf("%X", e.PrimaryKey.Fingerprint[12:])
}

func keyRevoked(e *openpgp.Entity) bool {
	return len(e.Revocations) > 0
}

func keyExpired(e *openpgp.Entity) bool {
	for _, id := range e.Identities {
		if id.SelfSignature != nil && id.SelfSignature.KeyExpired(time.Now()) {
			return true
		}
	}
	return false
}

// LoadDir loads every *.gpg file in dir as a named keyring, the layout
// the keyringfetch collaborator populates under
// ~/.local/share/public-keyrings/ (spec.md §6).
func LoadDir(dir string) ([]Keyring, error) {
	entries, err := ioutil.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []Keyring
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".gpg" {
			continue
		}
		name := e.Name()[:len(e.Name())-len(".gpg")]
		kr, err := Load(name, filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		out = append(out, kr)
	}
	return out, nil
}
