package classify

import (
	"errors"
	"net/http"
	"testing"

	"github.com/futbot/gofut/internal/venue"
	"github.com/futbot/gofut/internal/venue/binance"
	"github.com/futbot/gofut/internal/venue/bybit"
	"github.com/futbot/gofut/internal/venue/okx"
)

func callErr(status int, code, msg string) *venue.CallError {
	return &venue.CallError{Status: status, Code: code, Message: msg}
}

func TestClassifyBinance(t *testing.T) {
	p := &binance.Profile{}

	cases := []struct {
		name string
		err  *venue.CallError
		want Classification
	}{
		{"invalid symbol", callErr(400, "-1121", "Invalid symbol."), Ignorable},
		{"margin type unchanged", callErr(400, "-4046", "No need to change margin type."), Ignorable},
		{"clock drift", callErr(400, "-1021", "Timestamp outside recvWindow."), RecvWindowMismatch},
		// -2015 arrives with HTTP 401: the code wins over the status
		{"ip not whitelisted", callErr(401, "-2015", "Invalid API-key, IP, or permissions for action."), IPNotWhitelisted},
		{"teapot ip throttle", callErr(http.StatusTeapot, "-1003", "Way too many requests."), IPRateLimited},
		{"plain 429", callErr(429, "-1003", "Too many requests."), RateLimited},
		// WAF 403 carries no vendor code at all
		{"waf ban", callErr(403, "", ""), IPBanned},
		{"bad api key format", callErr(401, "-2014", "API-key format invalid."), AccountBlocked},
		{"server error", callErr(500, "", "internal error"), Retryable},
		{"unknown business code", callErr(400, "-4028", "Invalid leverage"), Unclassified},
	}
	for _, tc := range cases {
		if got := Classify(p, tc.err); got != tc.want {
			t.Errorf("%s: got=%s want=%s", tc.name, got, tc.want)
		}
	}
}

func TestClassifyBybit(t *testing.T) {
	p := &bybit.Profile{}

	// bybit reports business failures with HTTP 200, only retCode matters
	cases := []struct {
		name string
		err  *venue.CallError
		want Classification
	}{
		{"leverage not modified", callErr(200, "110043", "leverage not modified"), Ignorable},
		{"recv window", callErr(200, "10002", "invalid request timestamp"), RecvWindowMismatch},
		{"ip mismatch", callErr(200, "10010", "unmatched ip"), IPNotWhitelisted},
		{"ip rate limit", callErr(200, "10018", "exceed ip rate limit"), IPRateLimited},
		{"too many visits", callErr(200, "10006", "too many visits"), RateLimited},
		{"cdn ban", callErr(403, "", ""), IPBanned},
		{"expired key", callErr(200, "33004", "api key expired"), AccountBlocked},
		{"transient", callErr(200, "10016", "service error"), Retryable},
	}
	for _, tc := range cases {
		if got := Classify(p, tc.err); got != tc.want {
			t.Errorf("%s: got=%s want=%s", tc.name, got, tc.want)
		}
	}
}

func TestClassifyOKX(t *testing.T) {
	p := &okx.Profile{}

	cases := []struct {
		name string
		err  *venue.CallError
		want Classification
	}{
		{"instrument not found", callErr(400, "51001", "instrument does not exist"), Ignorable},
		{"timestamp expired", callErr(401, "50102", "timestamp expired"), RecvWindowMismatch},
		{"ip not whitelisted", callErr(401, "50110", "ip is not whitelisted"), IPNotWhitelisted},
		{"public endpoint ip throttle", callErr(429, "", ""), IPRateLimited},
		{"rate limit reached", callErr(429, "50011", "rate limit reached"), RateLimited},
		{"frozen account", callErr(401, "50100", "api frozen"), AccountBlocked},
		{"busy", callErr(200, "50013", "system busy"), Retryable},
	}
	for _, tc := range cases {
		if got := Classify(p, tc.err); got != tc.want {
			t.Errorf("%s: got=%s want=%s", tc.name, got, tc.want)
		}
	}
}

func TestClassifyTransportError(t *testing.T) {
	for _, p := range []venue.Profile{&binance.Profile{}, &bybit.Profile{}, &okx.Profile{}} {
		e := &venue.CallError{Venue: p.Name(), Err: errors.New("dial tcp: i/o timeout")}
		if got := Classify(p, e); got != Retryable {
			t.Errorf("%s transport error: got=%s want=%s", p.Name(), got, Retryable)
		}
	}
}

func TestClassifyNil(t *testing.T) {
	if got := Classify(&binance.Profile{}, nil); got != Unclassified {
		t.Fatalf("nil error: got=%s want=%s", got, Unclassified)
	}
}

func TestClassificationSemantics(t *testing.T) {
	throttling := []Classification{RecvWindowMismatch, IPRateLimited, RateLimited}
	for _, c := range throttling {
		if !c.IsThrottling() {
			t.Errorf("%s should be throttling", c)
		}
		if c.IsRestriction() {
			t.Errorf("%s should not be a restriction", c)
		}
	}

	restrictions := []Classification{IPNotWhitelisted, IPBanned, AccountBlocked}
	for _, c := range restrictions {
		if !c.IsRestriction() {
			t.Errorf("%s should be a restriction", c)
		}
		if c.IsThrottling() {
			t.Errorf("%s should not be throttling", c)
		}
	}

	if !IPNotWhitelisted.AccountScoped() || !AccountBlocked.AccountScoped() {
		t.Fatal("ip-not-whitelisted and account-blocked are account scoped")
	}
	if IPBanned.AccountScoped() {
		t.Fatal("ip-banned affects the whole server, not one account")
	}
}
