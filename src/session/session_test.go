package session

import (
	"bytes"
	"context"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/onemorebsmith/contribution-ledger/src/ledger"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedRequest(t *testing.T, s *Signer, method, path string, body []byte) *http.Request {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	require.NoError(t, s.Sign(req, body))
	return req
}

func newSigner(t *testing.T) *Signer {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return NewSigner(key)
}

func TestSignatureResolverAcceptsValidSignature(t *testing.T) {
	s := newSigner(t)
	body := []byte(`{"value":"100000000000000000"}`)
	req := signedRequest(t, s, http.MethodPost, "/ledger/contribute", body)

	id, err := NewSignatureResolver(time.Minute, nil).Resolve(req)
	require.NoError(t, err)
	assert.Equal(t, s.Identity(), id)

	// body must still be readable by the handler
	buf := new(bytes.Buffer)
	_, err = buf.ReadFrom(req.Body)
	require.NoError(t, err)
	assert.Equal(t, body, buf.Bytes())
}

func TestSignatureResolverRejects(t *testing.T) {
	resolver := NewSignatureResolver(time.Minute, nil)
	s := newSigner(t)
	other := newSigner(t)
	body := []byte(`{"value":"1"}`)

	cases := map[string]func() *http.Request{
		"tampered body": func() *http.Request {
			req := signedRequest(t, s, http.MethodPost, "/ledger/contribute", body)
			req.Body = httptest.NewRequest(http.MethodPost, "/", bytes.NewReader([]byte(`{"value":"2"}`))).Body
			return req
		},
		"wrong identity": func() *http.Request {
			req := signedRequest(t, s, http.MethodPost, "/ledger/contribute", body)
			req.Header.Set(IdentityHeader, other.Identity().Hex())
			return req
		},
		"different path": func() *http.Request {
			req := signedRequest(t, s, http.MethodPost, "/ledger/contribute", body)
			req.URL.Path = "/ledger/withdraw"
			return req
		},
		"stale timestamp": func() *http.Request {
			s.Now = func() time.Time { return time.Now().Add(-time.Hour) }
			defer func() { s.Now = time.Now }()
			return signedRequest(t, s, http.MethodPost, "/ledger/contribute", body)
		},
		"missing headers": func() *http.Request {
			return httptest.NewRequest(http.MethodPost, "/ledger/contribute", bytes.NewReader(body))
		},
		"zero identity": func() *http.Request {
			req := signedRequest(t, s, http.MethodPost, "/ledger/contribute", body)
			req.Header.Set(IdentityHeader, "0x0000000000000000000000000000000000000000")
			return req
		},
		"missing nonce": func() *http.Request {
			req := signedRequest(t, s, http.MethodPost, "/ledger/contribute", body)
			req.Header.Del(NonceHeader)
			return req
		},
		"swapped nonce": func() *http.Request {
			req := signedRequest(t, s, http.MethodPost, "/ledger/contribute", body)
			req.Header.Set(NonceHeader, "0123456789abcdef")
			return req
		},
		"garbage signature": func() *http.Request {
			req := signedRequest(t, s, http.MethodPost, "/ledger/contribute", body)
			req.Header.Set(SignatureHeader, "0xdeadbeef")
			return req
		},
	}
	for name, build := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := resolver.Resolve(build())
			require.Error(t, err)
			assert.True(t, errors.Is(err, ledger.ErrIdentityUnresolved), "unexpected error %v", err)
		})
	}
}

func TestSignatureResolverAcceptsWalletRecoveryId(t *testing.T) {
	s := newSigner(t)
	ts := time.Now().Unix()
	nonce := "wallet-nonce-0001"
	sig, err := crypto.Sign(Digest(http.MethodGet, "/ledger/terms", ts, nonce, nil), s.key)
	require.NoError(t, err)
	sig[crypto.RecoveryIDOffset] += 27

	req := httptest.NewRequest(http.MethodGet, "/ledger/terms", nil)
	req.Header.Set(IdentityHeader, s.Identity().Hex())
	req.Header.Set(TimestampHeader, strconv.FormatInt(ts, 10))
	req.Header.Set(NonceHeader, nonce)
	req.Header.Set(SignatureHeader, "0x"+hex.EncodeToString(sig))

	id, err := NewSignatureResolver(0, nil).Resolve(req)
	require.NoError(t, err)
	assert.Equal(t, s.Identity(), id)
}

func TestHeaderResolver(t *testing.T) {
	s := newSigner(t)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(IdentityHeader, s.Identity().Hex())
	id, err := HeaderResolver{}.Resolve(req)
	require.NoError(t, err)
	assert.Equal(t, s.Identity(), id)

	_, err = HeaderResolver{}.Resolve(httptest.NewRequest(http.MethodGet, "/", nil))
	assert.True(t, errors.Is(err, ledger.ErrIdentityUnresolved))
}

func TestSignatureResolverRejectsReplay(t *testing.T) {
	resolver := NewSignatureResolver(time.Minute, nil)
	s := newSigner(t)
	body := []byte(`{"value":"100000000000000000"}`)
	original := signedRequest(t, s, http.MethodPost, "/ledger/contribute", body)

	replay := func() *http.Request {
		req := httptest.NewRequest(http.MethodPost, "/ledger/contribute", bytes.NewReader(body))
		req.Header = original.Header.Clone()
		return req
	}

	id, err := resolver.Resolve(replay())
	require.NoError(t, err)
	assert.Equal(t, s.Identity(), id)
	for i := 0; i < 3; i++ {
		_, err := resolver.Resolve(replay())
		assert.True(t, errors.Is(err, ledger.ErrIdentityUnresolved), "replay %d accepted: %v", i, err)
	}

	// a fresh signature over the same body still goes through
	_, err = resolver.Resolve(signedRequest(t, s, http.MethodPost, "/ledger/contribute", body))
	require.NoError(t, err)
}

func TestMemoryNoncesExpire(t *testing.T) {
	now := time.Now()
	nonces := NewMemoryNonces(16)
	nonces.Now = func() time.Time { return now }
	ctx := context.Background()
	id := newSigner(t).Identity()
	other := newSigner(t).Identity()

	fresh, err := nonces.Claim(ctx, id, "nonce-000001", time.Minute)
	require.NoError(t, err)
	assert.True(t, fresh)
	fresh, _ = nonces.Claim(ctx, id, "nonce-000001", time.Minute)
	assert.False(t, fresh)

	// nonces are scoped per identity
	fresh, _ = nonces.Claim(ctx, other, "nonce-000001", time.Minute)
	assert.True(t, fresh)

	now = now.Add(2 * time.Minute)
	fresh, _ = nonces.Claim(ctx, id, "nonce-000001", time.Minute)
	assert.True(t, fresh)
}

func TestRedisNonces(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: ":6379", DB: 0})
	defer client.Close()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skip("redis not reachable")
	}

	nonces := NewRedisNonces(client)
	id := newSigner(t).Identity()
	nonce := uuid.NewString()
	fresh, err := nonces.Claim(ctx, id, nonce, time.Minute)
	require.NoError(t, err)
	assert.True(t, fresh)
	fresh, err = nonces.Claim(ctx, id, nonce, time.Minute)
	require.NoError(t, err)
	assert.False(t, fresh)
}
