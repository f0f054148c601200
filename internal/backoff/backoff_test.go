package backoff

import (
	"math/rand"
	"net/http"
	"testing"
	"time"

	"github.com/futbot/gofut/internal/venue"
)

func withRetryAfter(val string) *venue.CallError {
	h := http.Header{}
	h.Set("Retry-After", val)
	return &venue.CallError{Venue: "binance", Status: 429, Headers: h}
}

// jitter bounds: [1s, jitterSpan seconds]
func assertBetween(t *testing.T, got, lo, hi time.Time) {
	t.Helper()
	if got.Before(lo) || got.After(hi) {
		t.Fatalf("got=%v want within [%v, %v]", got, lo, hi)
	}
}

func TestNextAttemptNumericHint(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	got := NextAttempt(now, withRetryAfter("120"), Options{Rand: rand.New(rand.NewSource(1))})
	assertBetween(t, got, now.Add(121*time.Second), now.Add(123*time.Second))
}

func TestNextAttemptHTTPDateHint(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	at := now.Add(5 * time.Minute)
	got := NextAttempt(now, withRetryAfter(at.Format(http.TimeFormat)), Options{Rand: rand.New(rand.NewSource(1))})
	assertBetween(t, got, at.Add(1*time.Second), at.Add(3*time.Second))
}

func TestNextAttemptFallsBackToBase(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	r := rand.New(rand.NewSource(1))

	cases := []struct {
		name string
		err  *venue.CallError
	}{
		{"no error", nil},
		{"no header", &venue.CallError{Venue: "binance", Status: 429}},
		{"garbage header", withRetryAfter("soon")},
		{"zero seconds", withRetryAfter("0")},
		{"negative seconds", withRetryAfter("-5")},
		// a date already in the past must not produce a non-positive delay
		{"past date", withRetryAfter(now.Add(-time.Hour).Format(http.TimeFormat))},
		// absurd hints fall back rather than sleeping for days
		{"oversized hint", withRetryAfter("999999999")},
	}
	for _, tc := range cases {
		got := NextAttempt(now, tc.err, Options{BaseDelay: 10 * time.Second, Rand: r})
		assertBetween(t, got, now.Add(11*time.Second), now.Add(13*time.Second))
		if !got.After(now) {
			t.Errorf("%s: result must be after now", tc.name)
		}
	}
}

func TestNextAttemptDefaultBase(t *testing.T) {
	now := time.Now()
	got := NextAttempt(now, nil, Options{Rand: rand.New(rand.NewSource(1))})
	assertBetween(t, got, now.Add(DefaultBaseDelay+time.Second), now.Add(DefaultBaseDelay+3*time.Second))
}

func TestNextWindow(t *testing.T) {
	// 12:00:00.500 inside a 2s window -> boundary at 12:00:02
	now := time.Date(2025, 6, 1, 12, 0, 0, 500_000_000, time.UTC)
	got := NextWindow(now, 2*time.Second, Options{Rand: rand.New(rand.NewSource(1))})
	boundary := time.Date(2025, 6, 1, 12, 0, 2, 0, time.UTC)
	assertBetween(t, got, boundary.Add(1*time.Second), boundary.Add(3*time.Second))
}

func TestRetryAfterHint(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name   string
		err    *venue.CallError
		want   time.Time
		wantOK bool
	}{
		{"numeric seconds", withRetryAfter("120"), now.Add(120 * time.Second), true},
		{"http date", withRetryAfter(now.Add(5 * time.Minute).Format(http.TimeFormat)), now.Add(5 * time.Minute), true},
		{"no error", nil, time.Time{}, false},
		{"no header", &venue.CallError{Venue: "binance", Status: 429}, time.Time{}, false},
		{"garbage", withRetryAfter("soon"), time.Time{}, false},
		{"past date", withRetryAfter(now.Add(-time.Hour).Format(http.TimeFormat)), time.Time{}, false},
		{"oversized", withRetryAfter("999999999"), time.Time{}, false},
	}
	for _, tc := range cases {
		got, ok := RetryAfterHint(now, tc.err)
		if ok != tc.wantOK {
			t.Errorf("%s: ok got=%v want=%v", tc.name, ok, tc.wantOK)
			continue
		}
		if ok && !got.Equal(tc.want) {
			t.Errorf("%s: got=%v want=%v", tc.name, got, tc.want)
		}
	}
}

func TestNextWindowZeroWindow(t *testing.T) {
	now := time.Now()
	got := NextWindow(now, 0, Options{BaseDelay: 5 * time.Second, Rand: rand.New(rand.NewSource(1))})
	assertBetween(t, got, now.Add(6*time.Second), now.Add(8*time.Second))
}
