package steamcommunity

import (
	"log/slog"
	"strings"
	"testing"

	"github.com/k64z/steamguard/steamid"
)

func TestBuildConfirmationQuery(t *testing.T) {
	got, err := BuildConfirmationQuery(testTimestamp, testAuth, "conf")
	if err != nil {
		t.Fatalf("BuildConfirmationQuery: %v", err)
	}

	want := "m=android&p=android:5c9df5a2-d7de-1e2c-8fc8-766523ca130f&a=76561198000000000" +
		"&k=SzS%2Bfjn4%2FzZPiPMfG5OIp5bVyp8%3D&t=1706889605&tag=conf"
	if got != want {
		t.Errorf("BuildConfirmationQuery() =\n%s\nwant\n%s", got, want)
	}
}

func TestBuildConfirmationQueryTagChangesHash(t *testing.T) {
	conf, _ := BuildConfirmationQuery(testTimestamp, testAuth, "conf")
	allow, _ := BuildConfirmationQuery(testTimestamp, testAuth, "allow")

	if !strings.Contains(allow, "&k=2M0IjFEXA1DBtYGg2%2Blgu9Au6Xs%3D&") {
		t.Errorf("allow query = %s; want allow hash", allow)
	}
	if conf == allow {
		t.Error("conf and allow queries are identical")
	}
}

func TestBuildConfirmationQueryInvalid(t *testing.T) {
	tests := []struct {
		name string
		auth MobileAuth
	}{
		{"no steam id", MobileAuth{DeviceID: testDeviceID, IdentitySecret: testIdentitySecret}},
		{"no device id", MobileAuth{SteamID: steamid.SteamID(76561198000000000), IdentitySecret: testIdentitySecret}},
		{"no identity secret", MobileAuth{SteamID: steamid.SteamID(76561198000000000), DeviceID: testDeviceID}},
		{"bad identity secret", MobileAuth{SteamID: steamid.SteamID(76561198000000000), DeviceID: testDeviceID, IdentitySecret: "!!!"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := BuildConfirmationQuery(testTimestamp, tt.auth, "conf"); err == nil {
				t.Error("err = nil; want error")
			}
		})
	}
}

func TestAppendQuery(t *testing.T) {
	got := appendQuery("a=1", "op", "allow", "cid[]", "11", "ck[]", "a+b", "dangling")
	want := "a=1&op=allow&cid[]=11&ck[]=a%2Bb"
	if got != want {
		t.Errorf("appendQuery() = %q; want %q", got, want)
	}
}

func TestMobileAuthLogValueHidesSecret(t *testing.T) {
	var b strings.Builder
	slog.New(slog.NewTextHandler(&b, nil)).Info("x", "auth", testAuth)

	if strings.Contains(b.String(), testIdentitySecret) {
		t.Errorf("log line leaks identity secret: %s", b.String())
	}
	if !strings.Contains(b.String(), "76561198000000000") {
		t.Errorf("log line missing steam id: %s", b.String())
	}
}
