// Package steamtotp derives Steam Guard login codes and mobile confirmation
// hashes from maFile secrets.
package steamtotp

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/k64z/steamguard/steamerr"
)

const (
	authCodeChars  = "23456789BCDFGHJKMNPQRTVWXY"
	authCodeLength = 5
	codePeriod     = 30

	// MaxTagLength is how many bytes of a confirmation tag go into the hash.
	// Longer tags are truncated, matching what mobile clients send.
	MaxTagLength = 32
)

// Confirmation tags. The tag used to hash must match the action requested.
const (
	TagList    = "conf"
	TagAllow   = "allow"
	TagCancel  = "cancel"
	TagDetails = "details"
)

var ErrInvalidSecret = errors.New("invalid secret")

// TimeSource yields offset-corrected Steam time. *steamtime.Sync implements it.
type TimeSource interface {
	SteamTime() (time.Time, error)
}

// AuthCode returns the 5-character Steam Guard code valid at the given
// Steam time. The sharedSecret is the shared_secret from a maFile (base64
// or 40-char hex).
func AuthCode(sharedSecret string, at time.Time) (string, error) {
	secret, err := decodeSecret(sharedSecret)
	if err != nil {
		return "", steamerr.Crypto("decode shared secret", err)
	}
	defer clear(secret)

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(at.Unix()/codePeriod))

	mac := hmac.New(sha1.New, secret)
	mac.Write(buf[:])
	hash := mac.Sum(nil)

	// RFC 4226 dynamic truncation
	offset := hash[len(hash)-1] & 0x0f
	code := binary.BigEndian.Uint32(hash[offset:offset+4]) & 0x7fffffff

	var result [authCodeLength]byte
	for i := range result {
		result[i] = authCodeChars[code%uint32(len(authCodeChars))]
		code /= uint32(len(authCodeChars))
	}

	return string(result[:]), nil
}

// NextCodeAt returns the Steam time at which the code valid at at is
// replaced by the next one.
func NextCodeAt(at time.Time) time.Time {
	return time.Unix((at.Unix()/codePeriod+1)*codePeriod, 0)
}

// GenerateAuthCode returns the code for the current Steam time.
func GenerateAuthCode(sharedSecret string, ts TimeSource) (string, error) {
	now, err := ts.SteamTime()
	if err != nil {
		return "", fmt.Errorf("steam time: %w", err)
	}
	return AuthCode(sharedSecret, now)
}

// ConfirmationHash returns base64(HMAC-SHA1(identitySecret, timestamp || tag)).
// The timestamp is encoded as 8 bytes big-endian; tag is cut to MaxTagLength.
func ConfirmationHash(identitySecret string, timestamp int64, tag string) (string, error) {
	secret, err := decodeSecret(identitySecret)
	if err != nil {
		return "", steamerr.Crypto("decode identity secret", err)
	}
	defer clear(secret)

	if len(tag) > MaxTagLength {
		tag = tag[:MaxTagLength]
	}

	buf := make([]byte, 8+len(tag))
	binary.BigEndian.PutUint64(buf[:8], uint64(timestamp))
	copy(buf[8:], tag)

	mac := hmac.New(sha1.New, secret)
	mac.Write(buf)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

// decodeSecret decodes a secret from either hex or base64 encoding.
func decodeSecret(secret string) ([]byte, error) {
	if secret == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidSecret)
	}
	if len(secret) == 40 {
		if b, err := hex.DecodeString(secret); err == nil {
			return b, nil
		}
	}
	b, err := base64.StdEncoding.DecodeString(secret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSecret, err)
	}
	return b, nil
}

// DeviceID derives a device id from a SteamID64 for accounts that have none
// on file. Steam accepts it as long as it is used consistently.
func DeviceID(steamID64 uint64) string {
	h := sha1.Sum(fmt.Appendf(nil, "%d", steamID64))
	s := hex.EncodeToString(h[:])
	return fmt.Sprintf("android:%s-%s-%s-%s-%s",
		s[0:8], s[8:12], s[12:16], s[16:20], s[20:32])
}
