package steamid

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// SteamID represents a 64-bit Steam account identifier.
type SteamID uint64

const (
	UniversePublic    = 1
	AccountTypeUser   = 1
	InstanceDesktop   = 1
	minIndividualID64 = uint64(UniversePublic)<<56 | uint64(AccountTypeUser)<<52 | uint64(InstanceDesktop)<<32
)

var ErrInvalidSteamID = errors.New("invalid steam id")

// Universe returns the universe part of the SteamID.
func (s SteamID) Universe() int32 {
	return int32(s >> 56)
}

// Type returns the account type part of the SteamID.
func (s SteamID) Type() int32 {
	return int32((s >> 52) & 0xF)
}

// Instance returns the instance part of the SteamID.
func (s SteamID) Instance() int32 {
	return int32((s >> 32) & 0xFFFFF)
}

// AccountID returns the low 32 bits of the SteamID.
func (s SteamID) AccountID() uint32 {
	return uint32(s & 0xFFFFFFFF)
}

// IsIndividual reports whether s looks like a public-universe user account.
func (s SteamID) IsIndividual() bool {
	return s.Universe() == UniversePublic && s.Type() == AccountTypeUser && s.AccountID() != 0
}

// FromAccountID builds an individual public-universe SteamID.
func FromAccountID(accountID uint32) SteamID {
	return SteamID(minIndividualID64 | uint64(accountID))
}

// FromSteam2ID parses the Steam2 format ("STEAM_X:Y:Z").
// Example: STEAM_1:1:278391449
func FromSteam2ID(id string) (SteamID, error) {
	var universe, mod, accountID uint32
	n, err := fmt.Sscanf(id, "STEAM_%d:%d:%d", &universe, &mod, &accountID)
	if err != nil || n != 3 || mod > 1 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSteamID, id)
	}
	return FromAccountID(accountID*2 + mod), nil
}

// FromSteam3ID parses the Steam3 format ("[U:1:Z]").
// Example: [U:1:556782899]
func FromSteam3ID(id string) (SteamID, error) {
	parts := strings.Split(strings.Trim(id, "[]"), ":")
	if len(parts) != 3 || parts[0] != "U" {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSteamID, id)
	}
	z, err := strconv.ParseUint(parts[2], 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSteamID, id)
	}
	return FromAccountID(uint32(z)), nil
}

// FromString parses a decimal SteamID64 ("765611...").
func FromString(str string) (SteamID, error) {
	num, err := strconv.ParseUint(strings.TrimSpace(str), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSteamID, str)
	}
	return SteamID(num), nil
}

// Parse accepts any of the SteamID64, Steam2 or Steam3 textual forms.
func Parse(str string) (SteamID, error) {
	switch {
	case strings.HasPrefix(str, "STEAM_"):
		return FromSteam2ID(str)
	case strings.HasPrefix(str, "["):
		return FromSteam3ID(str)
	default:
		return FromString(str)
	}
}

func (s SteamID) ToSteam2ID() string {
	accountID := s.AccountID()
	return fmt.Sprintf("STEAM_%d:%d:%d", s.Universe(), accountID%2, accountID/2)
}

func (s SteamID) ToSteam3ID() string {
	return fmt.Sprintf("[U:1:%d]", s.AccountID())
}

func (s SteamID) ToSteamID64() uint64 {
	return uint64(s)
}

// String returns the SteamID as a decimal string. Ex. "76561197960287930".
func (s SteamID) String() string {
	return strconv.FormatUint(uint64(s), 10)
}

func (s SteamID) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *SteamID) UnmarshalText(text []byte) error {
	id, err := Parse(string(text))
	if err != nil {
		return err
	}
	*s = id
	return nil
}
