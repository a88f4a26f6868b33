package middleware

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newMiniRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

var (
	actorA = strings.Repeat("b", 32)
	actorB = strings.Repeat("c", 32)
	reqID  = strings.Repeat("a", 32)
)

func Test_bodyHash(t *testing.T) {
	h1, h2 := bodyHash([]byte(`{"amount":10}`)), bodyHash([]byte(`{"amount":11}`))
	if len(h1) != 64 {
		t.Fatalf("hash length = %d, want 64 hex chars", len(h1))
	}
	if h1 == h2 {
		t.Fatalf("different bodies hashed equal")
	}
	if h1 != bodyHash([]byte(`{"amount":10}`)) {
		t.Fatalf("hash not deterministic")
	}
}

func Test_nowUTC(t *testing.T) {
	if loc := nowUTC().Location(); loc != time.UTC {
		t.Fatalf("nowUTC must be UTC, got %v", loc)
	}
}

func Test_buildKey(t *testing.T) {
	k := buildKey("POST", "/loans/:loan_id/fund", actorA, reqID)
	if want := "idemp:loan:post:/loans/:loan_id/fund:" + actorA + ":" + reqID; k != want {
		t.Fatalf("buildKey = %q, want %q", k, want)
	}

	cases := []struct {
		name string
		a, b string
	}{
		{"actor scoped", buildKey("POST", "/loans", actorA, reqID), buildKey("POST", "/loans", actorB, reqID)},
		{"route scoped", buildKey("POST", "/loans/:loan_id/fund", actorA, reqID), buildKey("POST", "/loans/:loan_id/repayments", actorA, reqID)},
	}
	for _, tc := range cases {
		if tc.a == tc.b {
			t.Fatalf("%s: keys collide: %q", tc.name, tc.a)
		}
	}
	if buildKey("post", "/loans", actorA, reqID) != buildKey("POST", "/loans", actorA, reqID) {
		t.Fatalf("method case must not change the key")
	}
}

func Test_validReqID(t *testing.T) {
	cases := []struct {
		id   string
		want bool
	}{
		{"3f9a6a1b-3d54-4fbe-8b3a-6b3e8d6b2c88", true},
		{reqID, true},
		{"  " + reqID + "\t", true}, // surrounding whitespace is trimmed
		{"", false},
		{strings.ToUpper(reqID), false}, // ids are not case-folded
		{"3F9A6A1B-3D54-4FBE-8B3A-6B3E8D6B2C88", false},
		{reqID[:31], false},
		{reqID + "a", false},
		{strings.Repeat("z", 32), false},
		{"3f9a6a1b-3d54-9fbe-8b3a-6b3e8d6b2c88", false}, // version 9
	}
	for _, tc := range cases {
		if got := validReqID(tc.id); got != tc.want {
			t.Fatalf("validReqID(%q) = %v, want %v", tc.id, got, tc.want)
		}
	}
}

func Test_parseAxRequestAt(t *testing.T) {
	sec := time.Now().UTC().Unix()
	ms := time.Now().UTC().UnixMilli()
	want := time.Date(2025, 9, 5, 3, 0, 0, 0, time.UTC)

	ok := []struct {
		raw  string
		want time.Time
	}{
		{strconv.FormatInt(sec, 10), time.Unix(sec, 0).UTC()},
		{strconv.FormatInt(ms, 10), time.UnixMilli(ms).UTC()},
		{"2025-09-05T10:00:00+07:00", want},
		{"2025-09-05T03:00:00Z", want},
		{"2025-09-05T03:00:00.000Z", want},
	}
	for _, tc := range ok {
		got, err := parseAxRequestAt(tc.raw)
		if err != nil {
			t.Fatalf("parseAxRequestAt(%q): %v", tc.raw, err)
		}
		if !got.Equal(tc.want) || got.Location() != time.UTC {
			t.Fatalf("parseAxRequestAt(%q) = %v, want %v UTC", tc.raw, got, tc.want)
		}
	}

	for _, raw := range []string{"", "not-a-time", "2025-09-05T10:00:00", "1736123456abc"} {
		if _, err := parseAxRequestAt(raw); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}

func Test_provisionalSet_thenRelease(t *testing.T) {
	_, rdb := newMiniRedis(t)
	ctx := context.Background()
	key := buildKey("POST", "/loans/:loan_id/fund", actorA, reqID)
	entry := idempEntry{InProgress: true, BodySHA256: bodyHash([]byte(`{}`)), RequestID: reqID, CreatedAt: nowUTC()}

	if ok, err := provisionalSet(ctx, rdb, key, entry); err != nil || !ok {
		t.Fatalf("first provisionalSet: ok=%v err=%v", ok, err)
	}
	if ttl := rdb.TTL(ctx, key).Val(); ttl <= 0 || ttl > provisionalLockTTL {
		t.Fatalf("provisional TTL = %v", ttl)
	}
	if ok, _ := provisionalSet(ctx, rdb, key, entry); ok {
		t.Fatalf("second provisionalSet must not win")
	}

	got, err := loadEntry(ctx, rdb, key)
	if err != nil || !got.InProgress || got.RequestID != reqID {
		t.Fatalf("loadEntry: %+v %v", got, err)
	}

	// a released key lets the same request id through again
	if err := release(ctx, rdb, key); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := loadEntry(ctx, rdb, key); !errors.Is(err, redis.Nil) {
		t.Fatalf("entry survived release: %v", err)
	}
	if ok, err := provisionalSet(ctx, rdb, key, entry); err != nil || !ok {
		t.Fatalf("provisionalSet after release: ok=%v err=%v", ok, err)
	}
	if err := release(ctx, rdb, "idemp:loan:missing"); err != nil {
		t.Fatalf("release of a missing key: %v", err)
	}
}

func Test_saveFinal(t *testing.T) {
	_, rdb := newMiniRedis(t)
	ctx := context.Background()
	key := buildKey("POST", "/loans", actorA, reqID)
	final := idempEntry{Code: 201, Body: []byte(`{"loan_id":"x"}`), RequestID: reqID, CreatedAt: nowUTC()}

	if err := saveFinal(ctx, rdb, key, final, 5*time.Second); err != nil {
		t.Fatalf("saveFinal: %v", err)
	}
	if ttl := rdb.TTL(ctx, key).Val(); ttl <= 0 || ttl > 5*time.Second {
		t.Fatalf("final TTL = %v", ttl)
	}
	got, err := loadEntry(ctx, rdb, key)
	if err != nil || got.InProgress || got.Code != 201 || string(got.Body) != `{"loan_id":"x"}` {
		t.Fatalf("final entry: %+v %v", got, err)
	}
}

func Test_loadEntry_Corrupt(t *testing.T) {
	mr, rdb := newMiniRedis(t)
	key := buildKey("POST", "/loans", actorA, reqID)
	if err := mr.Set(key, "not json"); err != nil {
		t.Fatal(err)
	}
	if _, err := loadEntry(context.Background(), rdb, key); err == nil {
		t.Fatalf("expected decode error for corrupt entry")
	}
}
