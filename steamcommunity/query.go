package steamcommunity

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"github.com/k64z/steamguard/steamid"
	"github.com/k64z/steamguard/steamtotp"
)

// MobileAuth is the per-account material every confirmation request is
// signed with.
type MobileAuth struct {
	SteamID        steamid.SteamID
	DeviceID       string // android:<uuid>, passed through unmodified
	IdentitySecret string // base64 identity_secret
}

// LogValue keeps the identity secret out of log output.
func (m MobileAuth) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("steam_id", m.SteamID.String()),
		slog.String("device_id", m.DeviceID),
	)
}

func (m MobileAuth) validate() error {
	switch {
	case m.SteamID == 0:
		return errors.New("missing steam id")
	case m.DeviceID == "":
		return errors.New("missing device id")
	case m.IdentitySecret == "":
		return errors.New("missing identity secret")
	}
	return nil
}

// BuildConfirmationQuery returns the signed parameters shared by every
// confirmation call, in the order mobile clients send them:
//
//	m=android&p=<deviceId>&a=<steamId64>&k=<escapedHash>&t=<timestamp>&tag=<tag>
//
// The hash is computed for tag at timestamp, so the request can only
// perform the action tag names.
func BuildConfirmationQuery(timestamp int64, auth MobileAuth, tag string) (string, error) {
	if err := auth.validate(); err != nil {
		return "", fmt.Errorf("build confirmation query: %w", err)
	}

	hash, err := steamtotp.ConfirmationHash(auth.IdentitySecret, timestamp, tag)
	if err != nil {
		return "", err
	}

	// url.Values would sort the keys; the order here is part of the protocol.
	var b strings.Builder
	b.WriteString("m=android&p=")
	b.WriteString(auth.DeviceID)
	b.WriteString("&a=")
	b.WriteString(auth.SteamID.String())
	b.WriteString("&k=")
	b.WriteString(url.QueryEscape(hash))
	b.WriteString("&t=")
	b.WriteString(strconv.FormatInt(timestamp, 10))
	b.WriteString("&tag=")
	b.WriteString(tag)
	return b.String(), nil
}

// appendQuery appends key/value pairs to query. Keys are written as is so
// array keys like "cid[]" keep their brackets; values are escaped.
func appendQuery(query string, pairs ...string) string {
	var b strings.Builder
	b.WriteString(query)
	for i := 0; i+1 < len(pairs); i += 2 {
		b.WriteByte('&')
		b.WriteString(pairs[i])
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(pairs[i+1]))
	}
	return b.String()
}

// query signs tag with the current Steam time.
func (c *Community) query(auth MobileAuth, tag string) (string, error) {
	now, err := c.timeSource.SteamTime()
	if err != nil {
		return "", fmt.Errorf("steam time: %w", err)
	}
	return BuildConfirmationQuery(now.Unix(), auth, tag)
}
