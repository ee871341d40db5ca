package steamapi

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"slices"
	"sync/atomic"
	"testing"

	"github.com/k64z/steamguard/steamerr"
	"google.golang.org/protobuf/encoding/protowire"
)

func TestEncodeRSAKeyRequest(t *testing.T) {
	got := encodeRSAKeyRequest("alice")
	want := []byte{0x0a, 0x05, 'a', 'l', 'i', 'c', 'e'}
	if !bytes.Equal(got, want) {
		t.Errorf("encodeRSAKeyRequest() = %x; want %x", got, want)
	}
}

func TestUpdateGuardCodeRequestMarshal(t *testing.T) {
	req := &UpdateGuardCodeRequest{
		ClientID: 300,
		SteamID:  76561198000000000,
		Code:     "274WN",
		CodeType: GuardTypeDeviceCode,
	}

	want := []byte{0x08, 0xac, 0x02, 0x11}
	want = binary.LittleEndian.AppendUint64(want, 76561198000000000)
	want = append(want, 0x1a, 0x05, '2', '7', '4', 'W', 'N', 0x20, 0x03)

	if got := req.marshal(); !bytes.Equal(got, want) {
		t.Errorf("marshal() = %x; want %x", got, want)
	}
}

func TestAccessTokenRequestMarshal(t *testing.T) {
	req := &AccessTokenRequest{RefreshToken: "rt", SteamID: 1}

	want := []byte{0x0a, 0x02, 'r', 't', 0x11, 1, 0, 0, 0, 0, 0, 0, 0}
	if got := req.marshal(); !bytes.Equal(got, want) {
		t.Errorf("marshal() = %x; want %x", got, want)
	}
}

func TestBeginAuthSessionRequestMarshal(t *testing.T) {
	req := &BeginAuthSessionRequest{
		DeviceFriendlyName: "ua",
		AccountName:        "alice",
		EncryptedPassword:  "enc",
		PlatformType:       PlatformTypeMobileApp,
		Persistence:        SessionPersistencePersistent,
		WebsiteID:          "Mobile",
	}

	fields := map[protowire.Number][]byte{}
	err := walkFields(req.marshal(), func(f field) {
		fields[f.num] = f.bytes
	})
	if err != nil {
		t.Fatalf("walkFields: %v", err)
	}

	if got, want := string(fields[2]), "alice"; got != want {
		t.Errorf("account_name = %q; want %q", got, want)
	}
	if got, want := string(fields[8]), "Mobile"; got != want {
		t.Errorf("website_id = %q; want %q", got, want)
	}

	var platform uint64
	walkFields(fields[9], func(f field) {
		if f.num == 2 {
			platform = f.num64
		}
	})
	if got, want := platform, uint64(PlatformTypeMobileApp); got != want {
		t.Errorf("device_details.platform_type = %d; want %d", got, want)
	}
}

func beginAuthSessionFixture(steamIDFixed bool) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, 3737697558462176538)
	b = protowire.AppendTag(b, 2, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte{0xde, 0xad, 0xbe, 0xef})
	b = protowire.AppendTag(b, 3, protowire.Fixed32Type)
	b = protowire.AppendFixed32(b, math.Float32bits(5))
	for _, ct := range []uint64{3, 2} {
		var conf []byte
		conf = protowire.AppendTag(conf, 1, protowire.VarintType)
		conf = protowire.AppendVarint(conf, ct)
		b = protowire.AppendTag(b, 4, protowire.BytesType)
		b = protowire.AppendBytes(b, conf)
	}
	if steamIDFixed {
		b = protowire.AppendTag(b, 5, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, 76561198000000000)
	} else {
		b = protowire.AppendTag(b, 5, protowire.VarintType)
		b = protowire.AppendVarint(b, 76561198000000000)
	}
	b = protowire.AppendTag(b, 6, protowire.BytesType)
	b = protowire.AppendString(b, "weak")
	// unknown field is skipped
	b = protowire.AppendTag(b, 99, protowire.VarintType)
	b = protowire.AppendVarint(b, 1)
	return b
}

func TestDecodeBeginAuthSession(t *testing.T) {
	for _, fixed := range []bool{false, true} {
		got, err := decodeBeginAuthSession(beginAuthSessionFixture(fixed))
		if err != nil {
			t.Fatalf("decodeBeginAuthSession(fixed=%v): %v", fixed, err)
		}

		if got.ClientID != 3737697558462176538 {
			t.Errorf("ClientID = %d", got.ClientID)
		}
		if !bytes.Equal(got.RequestID, []byte{0xde, 0xad, 0xbe, 0xef}) {
			t.Errorf("RequestID = %x", got.RequestID)
		}
		if got.Interval != 5 {
			t.Errorf("Interval = %v; want 5", got.Interval)
		}
		if want := []GuardType{GuardTypeDeviceCode, GuardTypeEmailCode}; !slices.Equal(got.AllowedConfirmations, want) {
			t.Errorf("AllowedConfirmations = %v; want %v", got.AllowedConfirmations, want)
		}
		if got.SteamID != 76561198000000000 {
			t.Errorf("SteamID(fixed=%v) = %d", fixed, got.SteamID)
		}
		if got.WeakToken != "weak" {
			t.Errorf("WeakToken = %q", got.WeakToken)
		}
	}
}

func TestDecodeRSAPublicKey(t *testing.T) {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendString(b, "c0ffee")
	b = protowire.AppendTag(b, 2, protowire.BytesType)
	b = protowire.AppendString(b, "010001")
	b = protowire.AppendTag(b, 3, protowire.VarintType)
	b = protowire.AppendVarint(b, 12345)

	key, err := decodeRSAPublicKey(b)
	if err != nil {
		t.Fatalf("decodeRSAPublicKey: %v", err)
	}
	if key.Mod != "c0ffee" || key.Exp != 65537 || key.Timestamp != 12345 {
		t.Errorf("key = %+v", key)
	}

	if _, err := decodeRSAPublicKey(b[:8]); !errors.Is(err, steamerr.ErrProtocol) {
		t.Errorf("missing exp: err = %v; want ErrProtocol", err)
	}
}

func TestDecodePollAuthSession(t *testing.T) {
	var b []byte
	b = protowire.AppendTag(b, 3, protowire.BytesType)
	b = protowire.AppendString(b, "refresh")
	b = protowire.AppendTag(b, 4, protowire.BytesType)
	b = protowire.AppendString(b, "access")
	b = protowire.AppendTag(b, 6, protowire.BytesType)
	b = protowire.AppendString(b, "alice")

	got, err := decodePollAuthSession(b)
	if err != nil {
		t.Fatalf("decodePollAuthSession: %v", err)
	}
	if got.RefreshToken != "refresh" || got.AccessToken != "access" || got.AccountName != "alice" {
		t.Errorf("got %+v", got)
	}

	pending, err := decodePollAuthSession(nil)
	if err != nil {
		t.Fatalf("decodePollAuthSession(nil): %v", err)
	}
	if pending.AccessToken != "" {
		t.Errorf("pending AccessToken = %q; want empty", pending.AccessToken)
	}
}

func TestWalkFieldsTruncated(t *testing.T) {
	if err := walkFields([]byte{0x08, 0xff}, func(field) {}); err == nil {
		t.Error("walkFields(truncated varint) = nil; want error")
	}
	if err := walkFields([]byte{0x0a, 0x05, 'a'}, func(field) {}); err == nil {
		t.Error("walkFields(truncated bytes) = nil; want error")
	}
}

func TestUpdateAuthSessionWithSteamGuardCode(t *testing.T) {
	a := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/IAuthenticationService/UpdateAuthSessionWithSteamGuardCode/v1" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		raw, err := base64.StdEncoding.DecodeString(r.FormValue("input_protobuf_encoded"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		var code string
		walkFields(raw, func(f field) {
			if f.num == 3 {
				code = string(f.bytes)
			}
		})
		if code == "274WN" {
			w.Header().Set("X-eresult", "1")
		} else {
			w.Header().Set("X-eresult", "65")
		}
	})

	ok := &UpdateGuardCodeRequest{ClientID: 1, SteamID: 76561198000000000, Code: "274WN", CodeType: GuardTypeDeviceCode}
	if err := a.UpdateAuthSessionWithSteamGuardCode(context.Background(), ok); err != nil {
		t.Fatalf("accepted code: %v", err)
	}

	bad := &UpdateGuardCodeRequest{ClientID: 1, SteamID: 76561198000000000, Code: "XXXXX", CodeType: GuardTypeDeviceCode}
	err := a.UpdateAuthSessionWithSteamGuardCode(context.Background(), bad)
	if !errors.Is(err, steamerr.ErrAuth) {
		t.Errorf("rejected code: err = %v; want ErrAuth", err)
	}
}

// protoField reads the input_protobuf_encoded message of a web client
// request and returns field num as a string.
func protoField(t *testing.T, r *http.Request, num protowire.Number) string {
	t.Helper()
	raw, err := base64.StdEncoding.DecodeString(r.FormValue("input_protobuf_encoded"))
	if err != nil {
		t.Errorf("decode input_protobuf_encoded: %v", err)
		return ""
	}
	var got string
	walkFields(raw, func(f field) {
		if f.num == num {
			got = string(f.bytes)
		}
	})
	return got
}

func TestGetPasswordRSAPublicKey(t *testing.T) {
	a := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/IAuthenticationService/GetPasswordRSAPublicKey/v1" || r.Method != http.MethodGet {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if got := protoField(t, r, 1); got != "alice" {
			t.Errorf("account_name = %q; want alice", got)
		}

		var b []byte
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendString(b, "c0ffee")
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendString(b, "010001")
		b = protowire.AppendTag(b, 3, protowire.VarintType)
		b = protowire.AppendVarint(b, 777)
		w.Write(b)
	})

	key, err := a.GetPasswordRSAPublicKey(context.Background(), "alice")
	if err != nil {
		t.Fatalf("GetPasswordRSAPublicKey: %v", err)
	}
	if key.Mod != "c0ffee" || key.Exp != 65537 || key.Timestamp != 777 {
		t.Errorf("key = %+v", key)
	}
}

func TestBeginAuthSessionViaCredentials(t *testing.T) {
	a := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/IAuthenticationService/BeginAuthSessionViaCredentials/v1" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if protoField(t, r, 3) != "encrypted" {
			var b []byte
			b = protowire.AppendTag(b, 8, protowire.BytesType)
			b = protowire.AppendString(b, "InvalidPassword")
			w.Write(b)
			return
		}
		w.Write(beginAuthSessionFixture(false))
	})

	got, err := a.BeginAuthSessionViaCredentials(context.Background(), &BeginAuthSessionRequest{
		AccountName:       "alice",
		EncryptedPassword: "encrypted",
	})
	if err != nil {
		t.Fatalf("BeginAuthSessionViaCredentials: %v", err)
	}
	if got.ClientID != 3737697558462176538 || got.SteamID != 76561198000000000 {
		t.Errorf("got %+v", got)
	}

	_, err = a.BeginAuthSessionViaCredentials(context.Background(), &BeginAuthSessionRequest{
		AccountName:       "alice",
		EncryptedPassword: "wrong",
	})
	if !errors.Is(err, steamerr.ErrAuth) {
		t.Errorf("rejected credentials: err = %v; want ErrAuth", err)
	}
}

func TestPollAuthSessionStatus(t *testing.T) {
	a := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/IAuthenticationService/PollAuthSessionStatus/v1" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		var b []byte
		b = protowire.AppendTag(b, 3, protowire.BytesType)
		b = protowire.AppendString(b, "refresh")
		b = protowire.AppendTag(b, 4, protowire.BytesType)
		b = protowire.AppendString(b, "access")
		w.Write(b)
	})

	got, err := a.PollAuthSessionStatus(context.Background(), &PollAuthSessionRequest{ClientID: 1, RequestID: []byte{1}})
	if err != nil {
		t.Fatalf("PollAuthSessionStatus: %v", err)
	}
	if got.AccessToken != "access" || got.RefreshToken != "refresh" {
		t.Errorf("got %+v", got)
	}
}

func TestGenerateAccessTokenForApp(t *testing.T) {
	var hits atomic.Int32
	a := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path != "/IAuthenticationService/GenerateAccessTokenForApp/v1" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if protoField(t, r, 1) != "good" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var b []byte
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendString(b, "access")
		w.Write(b)
	})

	got, err := a.GenerateAccessTokenForApp(context.Background(), &AccessTokenRequest{RefreshToken: "good", SteamID: 76561198000000000})
	if err != nil {
		t.Fatalf("GenerateAccessTokenForApp: %v", err)
	}
	if got.AccessToken != "access" {
		t.Errorf("AccessToken = %q; want access", got.AccessToken)
	}

	_, err = a.GenerateAccessTokenForApp(context.Background(), &AccessTokenRequest{RefreshToken: "revoked", SteamID: 76561198000000000})
	if !IsUnauthorized(err) || !errors.Is(err, steamerr.ErrAuth) {
		t.Errorf("revoked token: err = %v; want unauthorized ErrAuth", err)
	}
	if n := hits.Load(); n != 2 {
		t.Errorf("server saw %d requests; want 2", n)
	}
}

func TestUpdateAuthSessionCodeMismatch(t *testing.T) {
	a := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-eresult", "88")
	})

	err := a.UpdateAuthSessionWithSteamGuardCode(context.Background(), &UpdateGuardCodeRequest{ClientID: 1, Code: "AAAAA"})
	var eresultErr *EResultError
	if !errors.Is(err, steamerr.ErrAuth) || !errors.As(err, &eresultErr) || eresultErr.EResult != "88" {
		t.Errorf("err = %v; want ErrAuth carrying eresult 88", err)
	}
}

func TestAuthCallsUseInjectedClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)

	var sent int
	base := rewriteHostTransport(srv)
	client := &http.Client{Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
		sent++
		return base.RoundTrip(req)
	})}

	a, err := New(WithHTTPClient(client))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx := context.Background()
	a.GetPasswordRSAPublicKey(ctx, "alice")
	a.BeginAuthSessionViaCredentials(ctx, &BeginAuthSessionRequest{AccountName: "alice"})
	a.PollAuthSessionStatus(ctx, &PollAuthSessionRequest{ClientID: 1})
	_, err = a.GenerateAccessTokenForApp(ctx, &AccessTokenRequest{RefreshToken: "rt"})

	if sent != 4 {
		t.Errorf("client sent %d requests; want 4", sent)
	}
	if !IsUnauthorized(err) {
		t.Errorf("IsUnauthorized(%v) = false; want true", err)
	}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}
