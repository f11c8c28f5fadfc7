package dht

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"net"
	"time"

	"github.com/opendht/dhtcore/pkg/wire"
)

// tokenTTL is the width of the time window a token is sealed to. Verify
// also accepts the previous window, so an issued token stays valid for
// between one and two tokenTTL. A requester is expected to present it
// back on Store shortly after a Find reply, not to hold onto it
// indefinitely.
const tokenTTL = 5 * time.Minute

// tokenIssuer mints and verifies the opaque Tokens this node's Find
// responses carry. Nothing else in this module issues them, so this is the
// minimal mechanism that makes Store meaningful: an HMAC over the
// requester's endpoint and the current time bucket, keyed by a secret
// generated once per process.
type tokenIssuer struct {
	secret [32]byte
}

func newTokenIssuer() *tokenIssuer {
	var secret [32]byte
	if _, err := rand.Read(secret[:]); err != nil {
		panic("dht: failed to seed token issuer: " + err.Error())
	}
	return &tokenIssuer{secret: secret}
}

// Issue mints a token scoped to requester and sealed to the current
// tokenTTL window. It keeps verifying through the following window too
// (so a token issued just before a window boundary still verifies).
func (ti *tokenIssuer) Issue(requester wire.Endpoint) wire.Token {
	return ti.seal(requester, ti.bucket(time.Now()))
}

// Verify reports whether tok was issued by this node to requester within
// the last two tokenTTL windows.
func (ti *tokenIssuer) Verify(requester wire.Endpoint, tok wire.Token) bool {
	now := time.Now()
	for _, b := range []int64{ti.bucket(now), ti.bucket(now.Add(-tokenTTL))} {
		sealed := ti.seal(requester, b)
		if hmac.Equal(sealed[:], tok[:]) {
			return true
		}
	}
	return false
}

func (ti *tokenIssuer) bucket(t time.Time) int64 {
	return t.Unix() / int64(tokenTTL/time.Second)
}

func (ti *tokenIssuer) seal(requester wire.Endpoint, bucket int64) wire.Token {
	mac := hmac.New(sha256.New, ti.secret[:])
	mac.Write(net.IP(requester.IP))
	mac.Write([]byte{byte(requester.Port >> 8), byte(requester.Port)})
	var bucketBytes [8]byte
	for i := range bucketBytes {
		bucketBytes[i] = byte(bucket >> (8 * (7 - i)))
	}
	mac.Write(bucketBytes[:])

	sum := mac.Sum(nil)
	var tok wire.Token
	copy(tok[:], sum)
	return tok
}
