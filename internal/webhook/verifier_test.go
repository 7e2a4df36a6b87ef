package webhook

import (
	"context"
	"encoding/base64"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

var (
	testKey    = []byte("super-secret-signing-key")
	testSecret = "whsec_" + base64.StdEncoding.EncodeToString(testKey)
	testNow    = time.Unix(1_760_400_000, 0)
	testBody   = []byte(`{"id":"pred-1","status":"succeeded","output":"https://replicate.delivery/out.png"}`)
)

func newTestVerifier(t *testing.T) *Verifier {
	t.Helper()
	cache := NewSecretCache(nil)
	if err := cache.Seed(testSecret); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return NewVerifier(cache).WithClock(func() time.Time { return testNow })
}

func TestVerifyAcceptsValidSignature(t *testing.T) {
	v := newTestVerifier(t)
	h := SignedHeaders("msg_1", testNow, testBody, testKey)
	if err := v.Verify(context.Background(), h, testBody); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestVerifyRejectsMutatedBody(t *testing.T) {
	v := newTestVerifier(t)
	h := SignedHeaders("msg_1", testNow, testBody, testKey)
	mutated := append([]byte(nil), testBody...)
	mutated[10] ^= 0x01
	if err := v.Verify(context.Background(), h, mutated); !errors.Is(err, ErrSignatureMismatch) {
		t.Fatalf("err = %v, want ErrSignatureMismatch", err)
	}
}

func TestVerifyRejectsReplay(t *testing.T) {
	v := newTestVerifier(t)
	signedAt := testNow.Add(-301 * time.Second)
	h := SignedHeaders("msg_1", signedAt, testBody, testKey)
	if err := v.Verify(context.Background(), h, testBody); !errors.Is(err, ErrStaleTimestamp) {
		t.Fatalf("err = %v, want ErrStaleTimestamp", err)
	}
}

func TestVerifyMissingHeaders(t *testing.T) {
	for _, drop := range []string{HeaderID, HeaderTimestamp, HeaderSignature} {
		t.Run(drop, func(t *testing.T) {
			fetches := &countingFetcher{secret: testSecret}
			v := NewVerifier(NewSecretCache(fetches)).WithClock(func() time.Time { return testNow })
			h := SignedHeaders("msg_1", testNow, testBody, testKey)
			h.Del(drop)
			if err := v.Verify(context.Background(), h, testBody); !errors.Is(err, ErrMissingHeaders) {
				t.Fatalf("err = %v, want ErrMissingHeaders", err)
			}
			if fetches.calls.Load() != 0 {
				t.Fatalf("secret fetched before header check")
			}
		})
	}
}

func TestVerifySecretUnavailable(t *testing.T) {
	v := NewVerifier(NewSecretCache(&countingFetcher{err: errors.New("503")})).WithClock(func() time.Time { return testNow })
	h := SignedHeaders("msg_1", testNow, testBody, testKey)
	if err := v.Verify(context.Background(), h, testBody); !errors.Is(err, ErrSecretUnavailable) {
		t.Fatalf("err = %v, want ErrSecretUnavailable", err)
	}
}

func TestVerifySignatureMultipleCandidates(t *testing.T) {
	ts := strconv.FormatInt(testNow.Unix(), 10)
	valid := Sign("msg_1", ts, testBody, testKey)
	header := "v1,bm90LXRoZS1yaWdodC1zaWduYXR1cmU= v1," + valid
	if !VerifySignature("msg_1", ts, testBody, header, testKey) {
		t.Fatalf("expected the second candidate to match")
	}
}

func TestVerifySignatureLengthMismatchIsNoMatch(t *testing.T) {
	ts := strconv.FormatInt(testNow.Unix(), 10)
	valid := Sign("msg_1", ts, testBody, testKey)
	header := "v1,short v1," + valid[:len(valid)-4] + " v1," + valid + "extra"
	if VerifySignature("msg_1", ts, testBody, header, testKey) {
		t.Fatalf("truncated or padded signatures must not match")
	}
}

func TestVerifySignatureWithoutVersionPrefix(t *testing.T) {
	ts := strconv.FormatInt(testNow.Unix(), 10)
	if !VerifySignature("msg_1", ts, testBody, Sign("msg_1", ts, testBody, testKey), testKey) {
		t.Fatalf("bare signature should match")
	}
}

func TestIsTimestampValid(t *testing.T) {
	tests := []struct {
		name string
		ts   string
		want bool
	}{
		{name: "now", ts: strconv.FormatInt(testNow.Unix(), 10), want: true},
		{name: "edge past", ts: strconv.FormatInt(testNow.Unix()-300, 10), want: true},
		{name: "edge future", ts: strconv.FormatInt(testNow.Unix()+300, 10), want: true},
		{name: "too old", ts: strconv.FormatInt(testNow.Unix()-301, 10), want: false},
		{name: "too new", ts: strconv.FormatInt(testNow.Unix()+301, 10), want: false},
		{name: "garbage", ts: "yesterday", want: false},
		{name: "empty", ts: "", want: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsTimestampValid(tc.ts, testNow); got != tc.want {
				t.Fatalf("IsTimestampValid(%q) = %v, want %v", tc.ts, got, tc.want)
			}
		})
	}
}

func TestSecretCacheFetchesOnce(t *testing.T) {
	fetcher := &countingFetcher{secret: testSecret, delay: 20 * time.Millisecond}
	cache := NewSecretCache(fetcher)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			key, err := cache.Key(context.Background())
			if err != nil {
				t.Errorf("Key: %v", err)
				return
			}
			if string(key) != string(testKey) {
				t.Errorf("key = %q", key)
			}
		}()
	}
	wg.Wait()
	if _, err := cache.Key(context.Background()); err != nil {
		t.Fatalf("Key: %v", err)
	}
	if got := fetcher.calls.Load(); got != 1 {
		t.Fatalf("fetches = %d, want 1", got)
	}

	cache.Reset()
	if _, err := cache.Key(context.Background()); err != nil {
		t.Fatalf("Key after reset: %v", err)
	}
	if got := fetcher.calls.Load(); got != 2 {
		t.Fatalf("fetches after reset = %d, want 2", got)
	}
}

func TestSecretCacheDoesNotCacheFailures(t *testing.T) {
	fetcher := &countingFetcher{err: errors.New("boom")}
	cache := NewSecretCache(fetcher)
	for i := 0; i < 2; i++ {
		if _, err := cache.Key(context.Background()); err == nil {
			t.Fatalf("expected error")
		}
	}
	if got := fetcher.calls.Load(); got != 2 {
		t.Fatalf("fetches = %d, want 2", got)
	}
}

func TestDecodeSecret(t *testing.T) {
	key, err := DecodeSecret(testSecret)
	if err != nil {
		t.Fatalf("DecodeSecret: %v", err)
	}
	if string(key) != string(testKey) {
		t.Fatalf("key = %q", key)
	}
	if _, err := DecodeSecret("whsec_"); err == nil {
		t.Fatalf("expected empty secret error")
	}
	if _, err := DecodeSecret("whsec_!!notbase64"); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestSignedHeadersShape(t *testing.T) {
	h := SignedHeaders("msg_9", testNow, testBody, testKey)
	if h.Get(HeaderID) != "msg_9" {
		t.Fatalf("id header = %q", h.Get(HeaderID))
	}
	if h.Get(HeaderTimestamp) != strconv.FormatInt(testNow.Unix(), 10) {
		t.Fatalf("timestamp header = %q", h.Get(HeaderTimestamp))
	}
	if got := h.Get(HeaderSignature); len(got) < 4 || got[:3] != "v1," {
		t.Fatalf("signature header = %q", got)
	}
}

type countingFetcher struct {
	secret string
	err    error
	delay  time.Duration
	calls  atomic.Int32
}

func (f *countingFetcher) WebhookSecret(ctx context.Context) (string, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return f.secret, f.err
}
