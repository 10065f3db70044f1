package session

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/onemorebsmith/contribution-ledger/src/ledger"
	"github.com/onemorebsmith/contribution-ledger/src/model"
	"github.com/pkg/errors"
	"golang.org/x/crypto/sha3"
)

const (
	IdentityHeader  = "X-Ledger-Identity"
	TimestampHeader = "X-Ledger-Timestamp"
	NonceHeader     = "X-Ledger-Nonce"
	SignatureHeader = "X-Ledger-Signature"

	DefaultMaxSkew = 5 * time.Minute
	maxBodySize    = 1 << 20
)

// Resolver determines which identity is calling
type Resolver interface {
	Resolve(r *http.Request) (model.Identity, error)
}

func unresolved(format string, args ...any) error {
	return errors.Wrapf(ledger.ErrIdentityUnresolved, format, args...)
}

func keccak256(data ...[]byte) []byte {
	h := sha3.NewLegacyKeccak256()
	for _, d := range data {
		h.Write(d)
	}
	return h.Sum(nil)
}

// Digest is the hash a caller signs: an ethereum personal message over the
// request method, path, timestamp, nonce and body hash.
func Digest(method, path string, timestamp int64, nonce string, body []byte) []byte {
	msg := fmt.Sprintf("%s\n%s\n%d\n%s\n%s", method, path, timestamp, nonce, hex.EncodeToString(keccak256(body)))
	prefix := fmt.Sprintf("\x19Ethereum Signed Message:\n%d", len(msg))
	return keccak256([]byte(prefix), []byte(msg))
}

// readBody drains the request body and puts an identical reader back for later handlers
func readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	r.Body.Close()
	if err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}

// SignatureResolver accepts a request once: the signer must hold the claimed
// identity's key and each nonce is spent on first use.
type SignatureResolver struct {
	MaxSkew time.Duration
	Nonces  NonceStore
	Now     func() time.Time
}

var _ Resolver = (*SignatureResolver)(nil)

// NewSignatureResolver - nonces defaults to an in-memory store when nil
func NewSignatureResolver(maxSkew time.Duration, nonces NonceStore) *SignatureResolver {
	if maxSkew <= 0 {
		maxSkew = DefaultMaxSkew
	}
	if nonces == nil {
		nonces = NewMemoryNonces(DefaultNonceCapacity)
	}
	return &SignatureResolver{MaxSkew: maxSkew, Nonces: nonces, Now: time.Now}
}

func (s *SignatureResolver) Resolve(r *http.Request) (model.Identity, error) {
	claimed, err := model.ParseIdentity(r.Header.Get(IdentityHeader))
	if err != nil {
		return model.Identity{}, unresolved("identity header: %s", err)
	}
	ts, err := strconv.ParseInt(r.Header.Get(TimestampHeader), 10, 64)
	if err != nil {
		return model.Identity{}, unresolved("timestamp header: %s", err)
	}
	now := s.Now()
	skew := now.Sub(time.Unix(ts, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > s.MaxSkew {
		return model.Identity{}, unresolved("timestamp %d outside allowed skew of %s", ts, s.MaxSkew)
	}
	nonce := r.Header.Get(NonceHeader)
	if len(nonce) < minNonceLength || len(nonce) > maxNonceLength {
		return model.Identity{}, unresolved("nonce must be %d to %d characters", minNonceLength, maxNonceLength)
	}
	sig, err := hex.DecodeString(strings.TrimPrefix(r.Header.Get(SignatureHeader), "0x"))
	if err != nil || len(sig) != crypto.SignatureLength {
		return model.Identity{}, unresolved("malformed signature")
	}
	// wallets sign with v in {27, 28}, recovery wants {0, 1}
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}

	body, err := readBody(r)
	if err != nil {
		return model.Identity{}, unresolved("failed reading body: %s", err)
	}
	pub, err := crypto.SigToPub(Digest(r.Method, r.URL.Path, ts, nonce, body), sig)
	if err != nil {
		return model.Identity{}, unresolved("failed recovering signer: %s", err)
	}
	if signer := crypto.PubkeyToAddress(*pub); signer != claimed {
		return model.Identity{}, unresolved("signed by %s, claimed %s", signer.Hex(), claimed.Hex())
	}
	// timestamps are accepted up to MaxSkew either side of now
	fresh, err := s.Nonces.Claim(r.Context(), claimed, nonce, 2*s.MaxSkew)
	if err != nil {
		return model.Identity{}, errors.Wrap(err, "nonce store unavailable")
	}
	if !fresh {
		return model.Identity{}, unresolved("nonce %s already used", nonce)
	}
	return claimed, nil
}

// HeaderResolver trusts the identity header as is. Only for mock deployments.
type HeaderResolver struct{}

var _ Resolver = HeaderResolver{}

func (HeaderResolver) Resolve(r *http.Request) (model.Identity, error) {
	id, err := model.ParseIdentity(r.Header.Get(IdentityHeader))
	if err != nil {
		return model.Identity{}, unresolved("identity header: %s", err)
	}
	return id, nil
}

// Signer attaches session headers to outgoing requests
type Signer struct {
	key      *ecdsa.PrivateKey
	identity model.Identity
	Now      func() time.Time
}

func NewSigner(key *ecdsa.PrivateKey) *Signer {
	return &Signer{
		key:      key,
		identity: crypto.PubkeyToAddress(key.PublicKey),
		Now:      time.Now,
	}
}

func NewSignerFromHex(raw string) (*Signer, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(raw), "0x"))
	if err != nil {
		return nil, errors.Wrap(err, "invalid private key")
	}
	return NewSigner(key), nil
}

func (s *Signer) Identity() model.Identity {
	return s.identity
}

// Sign sets the identity, timestamp, nonce and signature headers for req carrying body.
// Every call draws a fresh nonce.
func (s *Signer) Sign(req *http.Request, body []byte) error {
	ts := s.Now().Unix()
	nonce := uuid.NewString()
	sig, err := crypto.Sign(Digest(req.Method, req.URL.Path, ts, nonce, body), s.key)
	if err != nil {
		return errors.Wrap(err, "failed signing request")
	}
	req.Header.Set(IdentityHeader, s.identity.Hex())
	req.Header.Set(TimestampHeader, strconv.FormatInt(ts, 10))
	req.Header.Set(NonceHeader, nonce)
	req.Header.Set(SignatureHeader, "0x"+hex.EncodeToString(sig))
	return nil
}
