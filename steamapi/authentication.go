package steamapi

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/k64z/steamguard/steamerr"
	"google.golang.org/protobuf/encoding/protowire"
)

const authServiceURL = apiBaseURL + "/IAuthenticationService/"

type RSAPublicKey struct {
	Mod       string // hex modulus
	Exp       int64
	Timestamp uint64
}

type SessionPersistence int32

const (
	SessionPersistenceInvalid SessionPersistence = iota - 1
	SessionPersistenceEphemeral
	SessionPersistencePersistent
)

type PlatformType int32

const (
	PlatformTypeUnknown PlatformType = iota
	PlatformTypeSteamClient
	PlatformTypeWebBrowser
	PlatformTypeMobileApp
)

// GuardType is EAuthSessionGuardType.
type GuardType int32

const (
	GuardTypeUnknown GuardType = iota
	GuardTypeNone
	GuardTypeEmailCode
	GuardTypeDeviceCode
	GuardTypeDeviceConfirmation
	GuardTypeEmailConfirmation
	GuardTypeMachineToken
)

func (g GuardType) String() string {
	switch g {
	case GuardTypeNone:
		return "none"
	case GuardTypeEmailCode:
		return "email code"
	case GuardTypeDeviceCode:
		return "device code"
	case GuardTypeDeviceConfirmation:
		return "device confirmation"
	case GuardTypeEmailConfirmation:
		return "email confirmation"
	case GuardTypeMachineToken:
		return "machine token"
	default:
		return "unknown"
	}
}

// BeginAuthSessionRequest carries the fields a browser or mobile login sends.
type BeginAuthSessionRequest struct {
	DeviceFriendlyName  string // user-agent in browser
	AccountName         string
	EncryptedPassword   string
	EncryptionTimestamp uint64 // the one returned by GetPasswordRSAPublicKey
	RememberLogin       bool
	PlatformType        PlatformType
	Persistence         SessionPersistence
	WebsiteID           string
	Language            uint32 // English is 0
}

type BeginAuthSessionResponse struct {
	ClientID             uint64
	RequestID            []byte
	Interval             float32 // seconds between polls
	AllowedConfirmations []GuardType
	SteamID              uint64
	WeakToken            string
	ExtendedErrorMessage string
}

type UpdateGuardCodeRequest struct {
	ClientID uint64
	SteamID  uint64
	Code     string
	CodeType GuardType
}

type PollAuthSessionRequest struct {
	ClientID  uint64
	RequestID []byte
}

type PollAuthSessionResponse struct {
	NewClientID  uint64
	RefreshToken string
	AccessToken  string
	AccountName  string
}

type AccessTokenRequest struct {
	RefreshToken string
	SteamID      uint64
}

type AccessTokenResponse struct {
	AccessToken  string
	RefreshToken string // set when Steam rotates the refresh token
}

// GetPasswordRSAPublicKey fetches the RSA public key to encrypt the
// password of a given account with.
func (a *API) GetPasswordRSAPublicKey(ctx context.Context, accountName string) (*RSAPublicKey, error) {
	const op = "get password RSA key"

	resp := a.request(http.MethodGet, authServiceURL+"GetPasswordRSAPublicKey/v1").
		QueryParam("origin", "https://steamcommunity.com").
		QueryParam("input_protobuf_encoded", encodeProto(encodeRSAKeyRequest(accountName))).
		DoContext(ctx)

	body, err := responseBody(op, resp)
	if err != nil {
		return nil, err
	}
	return decodeRSAPublicKey(body)
}

func (a *API) BeginAuthSessionViaCredentials(ctx context.Context, req *BeginAuthSessionRequest) (*BeginAuthSessionResponse, error) {
	const op = "begin auth session"

	if req == nil {
		return nil, errors.New("invalid request")
	}

	body, err := a.postProto(ctx, op, "BeginAuthSessionViaCredentials/v1", req.marshal())
	if err != nil {
		return nil, err
	}

	result, err := decodeBeginAuthSession(body)
	if err != nil {
		return nil, steamerr.Protocol(op, err)
	}
	if result.ClientID == 0 {
		// Steam answers rejected credentials with an empty message.
		msg := result.ExtendedErrorMessage
		if msg == "" {
			msg = "credentials rejected"
		}
		return nil, steamerr.Auth(op, errors.New(msg))
	}
	return result, nil
}

// UpdateAuthSessionWithSteamGuardCode submits a guard code. A rejected
// code is reported only through the X-eresult header.
func (a *API) UpdateAuthSessionWithSteamGuardCode(ctx context.Context, req *UpdateGuardCodeRequest) error {
	const op = "submit guard code"

	if req == nil {
		return errors.New("invalid request")
	}

	payload, contentType, err := multipartPayload(req.marshal())
	if err != nil {
		return steamerr.Protocol(op, err)
	}

	resp := a.request(http.MethodPost, authServiceURL+"UpdateAuthSessionWithSteamGuardCode/v1").
		BodyBytes(payload).
		Header("Content-Type", contentType).
		DoContext(ctx)

	_, err = resultBody(op, resp)
	var eresultErr *EResultError
	if errors.As(err, &eresultErr) {
		// 65 InvalidLoginAuthCode, 88 TwoFactorCodeMismatch
		switch eresultErr.EResult {
		case "65", "88":
			return steamerr.Auth(op, eresultErr)
		}
	}
	return err
}

// PollAuthSessionStatus returns empty tokens while the login is still
// pending.
func (a *API) PollAuthSessionStatus(ctx context.Context, req *PollAuthSessionRequest) (*PollAuthSessionResponse, error) {
	const op = "poll auth session"

	if req == nil {
		return nil, errors.New("invalid request")
	}

	body, err := a.postProto(ctx, op, "PollAuthSessionStatus/v1", req.marshal())
	if err != nil {
		return nil, err
	}

	result, err := decodePollAuthSession(body)
	if err != nil {
		return nil, steamerr.Protocol(op, err)
	}
	return result, nil
}

// GenerateAccessTokenForApp mints a new access token from a refresh token.
// IsUnauthorized is true on the returned error for an expired refresh token.
func (a *API) GenerateAccessTokenForApp(ctx context.Context, req *AccessTokenRequest) (*AccessTokenResponse, error) {
	const op = "generate access token"

	if req == nil {
		return nil, errors.New("invalid request")
	}

	body, err := a.postProto(ctx, op, "GenerateAccessTokenForApp/v1", req.marshal())
	if err != nil {
		return nil, err
	}

	result, err := decodeAccessToken(body)
	if err != nil {
		return nil, steamerr.Protocol(op, err)
	}
	if result.AccessToken == "" {
		return nil, steamerr.Auth(op, errors.New("no access token issued"))
	}
	return result, nil
}

// postProto sends a protobuf request the way the web client does: base64
// in the input_protobuf_encoded multipart field.
func (a *API) postProto(ctx context.Context, op, method string, msg []byte) ([]byte, error) {
	payload, contentType, err := multipartPayload(msg)
	if err != nil {
		return nil, steamerr.Protocol(op, err)
	}

	resp := a.request(http.MethodPost, authServiceURL+method).
		BodyBytes(payload).
		Header("Content-Type", contentType).
		DoContext(ctx)

	return responseBody(op, resp)
}

func multipartPayload(msg []byte) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	err := w.WriteField("input_protobuf_encoded", encodeProto(msg))
	if err != nil {
		return nil, "", fmt.Errorf("write field: %w", err)
	}

	err = w.Close()
	if err != nil {
		return nil, "", fmt.Errorf("close writer: %w", err)
	}

	return buf.Bytes(), w.FormDataContentType(), nil
}

func encodeProto(msg []byte) string {
	return base64.StdEncoding.EncodeToString(msg)
}

func encodeRSAKeyRequest(accountName string) []byte {
	return appendString(nil, 1, accountName)
}

func (r *BeginAuthSessionRequest) marshal() []byte {
	var details []byte
	details = appendString(details, 1, r.DeviceFriendlyName)
	details = appendVarint(details, 2, uint64(r.PlatformType))

	var b []byte
	b = appendString(b, 1, r.DeviceFriendlyName)
	b = appendString(b, 2, r.AccountName)
	b = appendString(b, 3, r.EncryptedPassword)
	b = appendVarint(b, 4, r.EncryptionTimestamp)
	b = appendBool(b, 5, r.RememberLogin)
	b = appendVarint(b, 6, uint64(r.PlatformType))
	b = appendVarint(b, 7, uint64(int64(r.Persistence)))
	b = appendString(b, 8, r.WebsiteID)
	b = appendBytes(b, 9, details)
	b = appendVarint(b, 11, uint64(r.Language))
	return b
}

func (r *UpdateGuardCodeRequest) marshal() []byte {
	var b []byte
	b = appendVarint(b, 1, r.ClientID)
	b = appendFixed64(b, 2, r.SteamID)
	b = appendString(b, 3, r.Code)
	b = appendVarint(b, 4, uint64(r.CodeType))
	return b
}

func (r *PollAuthSessionRequest) marshal() []byte {
	var b []byte
	b = appendVarint(b, 1, r.ClientID)
	b = appendBytes(b, 2, r.RequestID)
	return b
}

func (r *AccessTokenRequest) marshal() []byte {
	var b []byte
	b = appendString(b, 1, r.RefreshToken)
	b = appendFixed64(b, 2, r.SteamID)
	return b
}

func decodeRSAPublicKey(body []byte) (*RSAPublicKey, error) {
	const op = "get password RSA key"

	var mod, exp string
	var key RSAPublicKey
	err := walkFields(body, func(f field) {
		switch f.num {
		case 1:
			mod = string(f.bytes)
		case 2:
			exp = string(f.bytes)
		case 3:
			key.Timestamp = f.num64
		}
	})
	if err != nil {
		return nil, steamerr.Protocol(op, err)
	}

	if mod == "" || exp == "" {
		return nil, steamerr.Protocolf(op, "malformed RSA key")
	}

	key.Mod = mod
	key.Exp, err = strconv.ParseInt(exp, 16, 32)
	if err != nil {
		return nil, steamerr.Protocolf(op, "parse exp: %v", err)
	}
	return &key, nil
}

func decodeBeginAuthSession(body []byte) (*BeginAuthSessionResponse, error) {
	var r BeginAuthSessionResponse
	err := walkFields(body, func(f field) {
		switch f.num {
		case 1:
			r.ClientID = f.num64
		case 2:
			r.RequestID = bytes.Clone(f.bytes)
		case 3:
			if f.typ == protowire.Fixed32Type {
				r.Interval = math.Float32frombits(uint32(f.num64))
			}
		case 4:
			_ = walkFields(f.bytes, func(c field) {
				if c.num == 1 {
					r.AllowedConfirmations = append(r.AllowedConfirmations, GuardType(c.num64))
				}
			})
		case 5:
			// Steam sends steamid as varint here; fixed64 lands in num64 too.
			r.SteamID = f.num64
		case 6:
			r.WeakToken = string(f.bytes)
		case 8:
			r.ExtendedErrorMessage = string(f.bytes)
		}
	})
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func decodePollAuthSession(body []byte) (*PollAuthSessionResponse, error) {
	var r PollAuthSessionResponse
	err := walkFields(body, func(f field) {
		switch f.num {
		case 1:
			r.NewClientID = f.num64
		case 3:
			r.RefreshToken = string(f.bytes)
		case 4:
			r.AccessToken = string(f.bytes)
		case 6:
			r.AccountName = string(f.bytes)
		}
	})
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func decodeAccessToken(body []byte) (*AccessTokenResponse, error) {
	var r AccessTokenResponse
	err := walkFields(body, func(f field) {
		switch f.num {
		case 1:
			r.AccessToken = string(f.bytes)
		case 2:
			r.RefreshToken = string(f.bytes)
		}
	})
	if err != nil {
		return nil, err
	}
	return &r, nil
}
