package services

import (
	"errors"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"
)

func parseLink(t *testing.T, link string) (path, exp, sig string) {
	t.Helper()
	u, err := url.Parse(link)
	if err != nil {
		t.Fatalf("parse link: %v", err)
	}
	return u.Path, u.Query().Get("exp"), u.Query().Get("sig")
}

func TestShareGenerateAndVerify(t *testing.T) {
	share := NewShareService("secret", "http://localhost:8080/", time.Minute)

	link := share.Generate("abc")
	if !strings.HasPrefix(link.URL, "http://localhost:8080/share/abc/markdown?") {
		t.Fatalf("unexpected link %q", link.URL)
	}
	if time.Until(link.ExpiresAt) <= 0 {
		t.Fatalf("expected expiry in the future, got %v", link.ExpiresAt)
	}

	path, exp, sig := parseLink(t, link.URL)
	if err := share.Verify(path, exp, sig); err != nil {
		t.Fatalf("expected link to verify: %v", err)
	}
	if err := share.Verify(SharePath("other"), exp, sig); !errors.Is(err, ErrShareInvalid) {
		t.Fatalf("expected invalid signature for another task, got %v", err)
	}

	n, _ := strconv.ParseInt(exp, 10, 64)
	if err := share.Verify(path, strconv.FormatInt(n+1, 10), sig); !errors.Is(err, ErrShareInvalid) {
		t.Fatalf("expected invalid signature for another expiry, got %v", err)
	}
}

func TestShareVerifyErrors(t *testing.T) {
	share := NewShareService("secret", "", time.Minute)
	path, exp, sig := parseLink(t, share.Generate("x").URL)

	cases := []struct {
		name string
		exp  string
		sig  string
		want error
	}{
		{"missing sig", exp, "", ErrShareMissing},
		{"missing exp", "", sig, ErrShareMissing},
		{"bad exp", "soon", sig, ErrShareExpiry},
		{"expired", "1", sig, ErrShareExpired},
	}
	for _, tc := range cases {
		if err := share.Verify(path, tc.exp, tc.sig); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
}

func TestShareSecretMismatch(t *testing.T) {
	path, exp, sig := parseLink(t, NewShareService("one", "", time.Minute).Generate("x").URL)

	if err := NewShareService("two", "", time.Minute).Verify(path, exp, sig); !errors.Is(err, ErrShareInvalid) {
		t.Fatalf("expected mismatch with a different secret, got %v", err)
	}
}

func TestShareExpiresAfterTTL(t *testing.T) {
	share := NewShareService("secret", "", time.Minute)
	path, exp, sig := parseLink(t, share.Generate("x").URL)

	share.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	if err := share.Verify(path, exp, sig); !errors.Is(err, ErrShareExpired) {
		t.Fatalf("expected expired, got %v", err)
	}
}
