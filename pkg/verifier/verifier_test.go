package verifier

import (
	"bytes"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lesaloon/taric/pkg/canonical"
	"github.com/lesaloon/taric/pkg/chain"
	"github.com/lesaloon/taric/pkg/contracts"
	"github.com/lesaloon/taric/pkg/crypto"
	"github.com/lesaloon/taric/pkg/trust"
)

const (
	sessionA = "aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa"
	sessionB = "bbbbbbbb-bbbb-bbbb-bbbb-bbbbbbbbbbbb"
	sessionZ = "00000000-0000-0000-0000-000000000000"
)

func deviceKeys(t *testing.T) (ed25519.PrivateKey, ed25519.PublicKey) {
	t.Helper()
	priv := ed25519.NewKeyFromSeed(bytes.Repeat([]byte{0x2A}, 32))
	return priv, priv.Public().(ed25519.PublicKey)
}

func serverSigner(t *testing.T) *crypto.Ed25519AckSigner {
	t.Helper()
	s, err := crypto.NewEd25519AckSigner("server-key-1", bytes.Repeat([]byte{0x09}, 32))
	require.NoError(t, err)
	return s
}

// makeEntry builds a valid entry via hash-then-sign construction: the hash
// covers everything but entry_hash and signature, then the signature covers
// everything including the hash.
func makeEntry(t *testing.T, priv ed25519.PrivateKey, deviceID string, keyID, prev *string, nonce uint64, ts int64, payload string) *contracts.LogEntry {
	t.Helper()
	e := &contracts.LogEntry{
		Version:           contracts.WireVersion,
		DeviceID:          deviceID,
		Timestamp:         ts,
		SessionID:         sessionZ,
		Nonce:             nonce,
		Algo:              contracts.AlgoEd25519,
		KeyID:             keyID,
		Payload:           payload,
		PreviousEntryHash: prev,
	}
	resign(t, priv, e)
	return e
}

// resign recomputes entry_hash and signature after field edits.
func resign(t *testing.T, priv ed25519.PrivateKey, e *contracts.LogEntry) {
	t.Helper()
	h, err := canonical.ComputeEntryHash(e)
	require.NoError(t, err)
	e.EntryHash = h
	msg, err := canonical.ForSign(e)
	require.NoError(t, err)
	e.Signature = base64.StdEncoding.EncodeToString(ed25519.Sign(priv, msg))
}

func newVerifier(t *testing.T, pub ed25519.PublicKey) (*Verifier, *chain.MemoryStore) {
	t.Helper()
	st := chain.NewMemoryStore()
	tr := &trust.Static{Key: contracts.VerifyingKey{
		Algo:  contracts.AlgoEd25519,
		Key:   pub,
		KeyID: contracts.StringPtr("001-key1-1"),
	}}
	return New(tr, st, serverSigner(t)), st
}

func TestHappyPathTwoEntries(t *testing.T) {
	priv, pub := deviceKeys(t)
	v, _ := newVerifier(t, pub)

	e1 := makeEntry(t, priv, "dev-1", contracts.StringPtr("001-key1-1"), nil, 1, 1_700_000_000, `{"t":22.5}`)
	ack1, err := v.ProcessEntry(e1, 1_700_000_050)
	require.NoError(t, err)
	assert.Equal(t, e1.EntryHash, ack1.EntryID)
	assert.Equal(t, e1.EntryHash, ack1.NewEntryHash)
	assert.Equal(t, contracts.StatusAccepted, ack1.Status)
	assert.Equal(t, "server-key-1", ack1.ServerSignerID)

	e2 := makeEntry(t, priv, "dev-1", contracts.StringPtr("001-key1-1"), &e1.EntryHash, 2, 1_700_000_100, `{"t":23.0}`)
	ack2, err := v.ProcessEntry(e2, 1_700_000_150)
	require.NoError(t, err)
	assert.Equal(t, e2.EntryHash, ack2.EntryID)
}

func TestAckSignatureVerifies(t *testing.T) {
	priv, pub := deviceKeys(t)
	v, _ := newVerifier(t, pub)
	signer := serverSigner(t)

	e1 := makeEntry(t, priv, "dev-1", nil, nil, 1, 1_700_000_000, "A")
	ack, err := v.ProcessEntry(e1, 1_700_000_050)
	require.NoError(t, err)

	sig, err := base64.StdEncoding.DecodeString(ack.ServerSignature)
	require.NoError(t, err)
	require.Len(t, sig, ed25519.SignatureSize)

	// The signature covers the ack with server_signature excluded.
	unsigned := *ack
	unsigned.ServerSignature = ""
	msg, err := canonical.ForAckSign(&unsigned)
	require.NoError(t, err)
	assert.True(t, ed25519.Verify(signer.PublicKey(), msg, sig))
}

func TestRejectsBadSignature(t *testing.T) {
	priv, pub := deviceKeys(t)
	v, _ := newVerifier(t, pub)

	e1 := makeEntry(t, priv, "dev-1", contracts.StringPtr("001-key1-1"), nil, 1, 1_700_000_000, `{"t":22.5}`)
	sig, err := base64.StdEncoding.DecodeString(e1.Signature)
	require.NoError(t, err)
	sig[0] ^= 0x01
	e1.Signature = base64.StdEncoding.EncodeToString(sig)

	_, err = v.ProcessEntry(e1, 1_700_000_050)
	requireKind(t, err, KindInvalidSignature)
}

func TestRejectsEveryFlippedSignatureByte(t *testing.T) {
	priv, pub := deviceKeys(t)

	e1 := makeEntry(t, priv, "dev-1", nil, nil, 1, 1_700_000_000, "A")
	orig, err := base64.StdEncoding.DecodeString(e1.Signature)
	require.NoError(t, err)

	for i := 0; i < len(orig); i++ {
		v, _ := newVerifier(t, pub)
		sig := append([]byte(nil), orig...)
		sig[i] ^= 0x80
		e := *e1
		e.Signature = base64.StdEncoding.EncodeToString(sig)
		_, err := v.ProcessEntry(&e, 1_700_000_050)
		requireKind(t, err, KindInvalidSignature)
	}
}

// failingTrust fails the test if the verifier consults trust at all: hash
// integrity must run first.
type failingTrust struct{ t *testing.T }

func (f *failingTrust) GetKey(string, *string) (*contracts.VerifyingKey, bool) {
	f.t.Fatal("trust consulted before hash check")
	return nil, false
}
func (f *failingTrust) IsRevoked(string, *string) bool {
	f.t.Fatal("trust consulted before hash check")
	return false
}

func TestHashMismatchShortCircuitsBeforeTrust(t *testing.T) {
	priv, _ := deviceKeys(t)
	e1 := makeEntry(t, priv, "dev-1", nil, nil, 1, 1_700_000_000, "A")
	e1.EntryHash = "ffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff"

	v := New(&failingTrust{t: t}, chain.NewMemoryStore(), serverSigner(t))
	_, err := v.ProcessEntry(e1, 1_700_000_050)
	requireKind(t, err, KindHashMismatch)
}

func TestRejectsPrevHashMismatchAndNonceRegression(t *testing.T) {
	priv, pub := deviceKeys(t)
	v, _ := newVerifier(t, pub)

	e1 := makeEntry(t, priv, "dev-1", contracts.StringPtr("001-key1-1"), nil, 10, 1_700_000_000, "A")
	_, err := v.ProcessEntry(e1, 1_700_000_050)
	require.NoError(t, err)

	badPrev := makeEntry(t, priv, "dev-1", contracts.StringPtr("001-key1-1"), contracts.StringPtr("bad"), 11, 1_700_000_100, "B")
	_, err = v.ProcessEntry(badPrev, 1_700_000_150)
	requireKind(t, err, KindPreviousHashMismatch)

	badNonce := makeEntry(t, priv, "dev-1", contracts.StringPtr("001-key1-1"), &e1.EntryHash, 9, 1_700_000_200, "C")
	_, err = v.ProcessEntry(badNonce, 1_700_000_250)
	requireKind(t, err, KindNonceNotMonotonic)

	// Equal nonce is a regression too: strict greater-than.
	equalNonce := makeEntry(t, priv, "dev-1", contracts.StringPtr("001-key1-1"), &e1.EntryHash, 10, 1_700_000_300, "D")
	_, err = v.ProcessEntry(equalNonce, 1_700_000_350)
	requireKind(t, err, KindNonceNotMonotonic)
}

func TestFirstEntryMustNotDeclarePrev(t *testing.T) {
	priv, pub := deviceKeys(t)
	v, _ := newVerifier(t, pub)

	e := makeEntry(t, priv, "dev-1", nil, contracts.StringPtr("deadbeef"), 1, 1_700_000_000, "A")
	_, err := v.ProcessEntry(e, 1_700_000_050)
	requireKind(t, err, KindPreviousHashMismatch)
}

func TestLinkedEntryMustDeclarePrev(t *testing.T) {
	priv, pub := deviceKeys(t)
	v, _ := newVerifier(t, pub)

	e1 := makeEntry(t, priv, "dev-1", nil, nil, 1, 1_700_000_000, "A")
	_, err := v.ProcessEntry(e1, 1_700_000_050)
	require.NoError(t, err)

	// Absent previous_entry_hash after the first accept is a broken link.
	e2 := makeEntry(t, priv, "dev-1", nil, nil, 2, 1_700_000_100, "B")
	_, err = v.ProcessEntry(e2, 1_700_000_150)
	requireKind(t, err, KindPreviousHashMismatch)
}

func TestReplayRejectedAfterCommit(t *testing.T) {
	priv, pub := deviceKeys(t)
	v, _ := newVerifier(t, pub)

	e1 := makeEntry(t, priv, "dev-1", nil, nil, 1, 1_700_000_000, "A")
	_, err := v.ProcessEntry(e1, 1_700_000_050)
	require.NoError(t, err)

	_, err = v.ProcessEntry(e1, 1_700_000_060)
	require.Error(t, err)
	var ve *VerifyError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, []Kind{KindPreviousHashMismatch, KindNonceNotMonotonic}, ve.Kind)
}

func TestRejectsRevoked(t *testing.T) {
	priv, pub := deviceKeys(t)
	st := chain.NewMemoryStore()
	tr := &trust.Static{
		Key:     contracts.VerifyingKey{Algo: contracts.AlgoEd25519, Key: pub, KeyID: contracts.StringPtr("001-key1-1")},
		Revoked: true,
	}
	v := New(tr, st, serverSigner(t))

	e1 := makeEntry(t, priv, "dev-1", contracts.StringPtr("001-key1-1"), nil, 1, 1_700_000_000, "X")
	_, err := v.ProcessEntry(e1, 1_700_000_050)
	requireKind(t, err, KindRevoked)
	var ve *VerifyError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "dev-1", ve.Detail)

	// Rejections never touch the store.
	_, ok := st.LastHash("dev-1")
	assert.False(t, ok)
}

func TestRejectsUnknownDevice(t *testing.T) {
	priv, _ := deviceKeys(t)
	v := New(trust.NewRegistry(), chain.NewMemoryStore(), serverSigner(t))

	e1 := makeEntry(t, priv, "dev-9", nil, nil, 1, 1_700_000_000, "X")
	_, err := v.ProcessEntry(e1, 1_700_000_050)
	requireKind(t, err, KindDeviceUnknown)
}

func TestRejectsUnsupportedAlgo(t *testing.T) {
	priv, pub := deviceKeys(t)
	v, _ := newVerifier(t, pub)

	e1 := makeEntry(t, priv, "dev-1", nil, nil, 1, 1_700_000_000, "X")
	e1.Algo = "secp256k1"
	resign(t, priv, e1)
	_, err := v.ProcessEntry(e1, 1_700_000_050)
	requireKind(t, err, KindUnsupportedAlgo)
}

func TestRejectsMalformedSignatureEncoding(t *testing.T) {
	priv, pub := deviceKeys(t)

	t.Run("bad base64", func(t *testing.T) {
		v, _ := newVerifier(t, pub)
		e := makeEntry(t, priv, "dev-1", nil, nil, 1, 1_700_000_000, "X")
		e.Signature = "@@not-base64@@"
		_, err := v.ProcessEntry(e, 1_700_000_050)
		requireKind(t, err, KindMalformed)
	})

	t.Run("short signature", func(t *testing.T) {
		v, _ := newVerifier(t, pub)
		e := makeEntry(t, priv, "dev-1", nil, nil, 1, 1_700_000_000, "X")
		e.Signature = base64.StdEncoding.EncodeToString([]byte("short"))
		_, err := v.ProcessEntry(e, 1_700_000_050)
		requireKind(t, err, KindMalformed)
	})

	t.Run("short pubkey", func(t *testing.T) {
		st := chain.NewMemoryStore()
		tr := &trust.Static{Key: contracts.VerifyingKey{Algo: contracts.AlgoEd25519, Key: []byte{1, 2, 3}}}
		v := New(tr, st, serverSigner(t))
		e := makeEntry(t, priv, "dev-1", nil, nil, 1, 1_700_000_000, "X")
		_, err := v.ProcessEntry(e, 1_700_000_050)
		requireKind(t, err, KindMalformed)
	})
}

// S6: sessions group entries but never scope chain rules.
func TestCrossSessionChaining(t *testing.T) {
	priv, pub := deviceKeys(t)
	v, _ := newVerifier(t, pub)
	keyID := contracts.StringPtr("001-key1-1")

	e1 := makeEntry(t, priv, "dev-1", keyID, nil, 1, 1_700_000_000, "A")
	e1.SessionID = sessionA
	resign(t, priv, e1)
	_, err := v.ProcessEntry(e1, 1_700_000_010)
	require.NoError(t, err)

	e2 := makeEntry(t, priv, "dev-1", keyID, &e1.EntryHash, 2, 1_700_000_020, "B")
	e2.SessionID = sessionA
	resign(t, priv, e2)
	_, err = v.ProcessEntry(e2, 1_700_000_030)
	require.NoError(t, err)

	// New session restarting its counter at 1 still violates the device-wide
	// nonce rule.
	e3 := makeEntry(t, priv, "dev-1", keyID, &e2.EntryHash, 1, 1_700_000_040, "C")
	e3.SessionID = sessionB
	resign(t, priv, e3)
	_, err = v.ProcessEntry(e3, 1_700_000_050)
	requireKind(t, err, KindNonceNotMonotonic)

	// nonce=3 in the new session links fine.
	e3b := makeEntry(t, priv, "dev-1", keyID, &e2.EntryHash, 3, 1_700_000_060, "C")
	e3b.SessionID = sessionB
	resign(t, priv, e3b)
	_, err = v.ProcessEntry(e3b, 1_700_000_070)
	require.NoError(t, err)

	// Gaps are permitted: strict greater-than, not strict successor.
	e4 := makeEntry(t, priv, "dev-1", keyID, &e3b.EntryHash, 5, 1_700_000_080, "D")
	e4.SessionID = sessionB
	resign(t, priv, e4)
	_, err = v.ProcessEntry(e4, 1_700_000_090)
	require.NoError(t, err)
}

func TestConcurrentSameDeviceSingleAccept(t *testing.T) {
	priv, pub := deviceKeys(t)
	v, _ := newVerifier(t, pub)

	e1 := makeEntry(t, priv, "dev-1", nil, nil, 1, 1_700_000_000, "A")
	_, err := v.ProcessEntry(e1, 1_700_000_050)
	require.NoError(t, err)

	// Sixteen distinct, individually valid successors race. Exactly one commits;
	// the loser fails a chain rule, never diverging the chain.
	const racers = 16
	var wg sync.WaitGroup
	accepts := make(chan string, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(n uint64) {
			defer wg.Done()
			e := makeEntry(t, priv, "dev-1", nil, &e1.EntryHash, n, 1_700_000_100, "B")
			if _, err := v.ProcessEntry(e, 1_700_000_150); err == nil {
				accepts <- e.EntryHash
			}
		}(uint64(i) + 2)
	}
	wg.Wait()
	close(accepts)

	count := 0
	for range accepts {
		count++
	}
	assert.Equal(t, 1, count)
}

func TestProcessEntryJSONRoundTrip(t *testing.T) {
	priv, pub := deviceKeys(t)
	v, _ := newVerifier(t, pub)

	e1 := makeEntry(t, priv, "dev-1", contracts.StringPtr("001-key1-1"), nil, 1, 1_700_000_000, `{"t":22.5}`)
	data, err := json.Marshal(e1)
	require.NoError(t, err)

	ack, err := v.ProcessEntryJSON(data, 1_700_000_050)
	require.NoError(t, err)
	assert.Equal(t, e1.EntryHash, ack.EntryID)
}

func TestProcessEntryJSONMalformed(t *testing.T) {
	_, pub := deviceKeys(t)
	v, _ := newVerifier(t, pub)

	_, err := v.ProcessEntryJSON([]byte(`{"version": `), 1_700_000_050)
	requireKind(t, err, KindMalformed)
}

func TestStatusStringContract(t *testing.T) {
	assert.Equal(t, "error:HashMismatch", errHashMismatch.StatusString())
	assert.Equal(t, "error:DeviceUnknown:dev-1", errDeviceUnknown("dev-1").StatusString())
	assert.Equal(t, "error:Malformed:signature base64", errMalformed("signature base64").StatusString())
}

func requireKind(t *testing.T, err error, kind Kind) {
	t.Helper()
	require.Error(t, err)
	var ve *VerifyError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, kind, ve.Kind)
}
