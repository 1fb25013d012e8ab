package services

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

var (
	ErrShareMissing = errors.New("missing signature")
	ErrShareExpiry  = errors.New("invalid expiration")
	ErrShareExpired = errors.New("link expired")
	ErrShareInvalid = errors.New("invalid signature")
)

type ShareLink struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ShareService issues expiring links to a completed task's Markdown. A link
// carries exp (unix seconds) and sig, an HMAC-SHA256 of "path:exp".
type ShareService struct {
	key     []byte
	baseURL string
	ttl     time.Duration
	now     func() time.Time
}

func NewShareService(secret, baseURL string, ttl time.Duration) *ShareService {
	return &ShareService{
		key:     []byte(secret),
		baseURL: strings.TrimRight(baseURL, "/"),
		ttl:     ttl,
		now:     time.Now,
	}
}

func SharePath(taskID string) string {
	return "/share/" + url.PathEscape(taskID) + "/markdown"
}

func (s *ShareService) Generate(taskID string) ShareLink {
	path := SharePath(taskID)
	expires := s.now().Add(s.ttl).Unix()

	q := url.Values{}
	q.Set("exp", strconv.FormatInt(expires, 10))
	q.Set("sig", s.sign(path, expires))

	return ShareLink{
		URL:       s.baseURL + path + "?" + q.Encode(),
		ExpiresAt: time.Unix(expires, 0).UTC(),
	}
}

// Verify checks the query parameters of a shared link against its path.
// Expiry is checked before the signature.
func (s *ShareService) Verify(path, exp, sig string) error {
	if exp == "" || sig == "" {
		return ErrShareMissing
	}
	expires, err := strconv.ParseInt(exp, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrShareExpiry, exp)
	}
	if s.now().Unix() > expires {
		return ErrShareExpired
	}
	if !hmac.Equal([]byte(sig), []byte(s.sign(path, expires))) {
		return ErrShareInvalid
	}
	return nil
}

func (s *ShareService) sign(path string, expires int64) string {
	mac := hmac.New(sha256.New, s.key)
	fmt.Fprintf(mac, "%s:%d", path, expires)
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
