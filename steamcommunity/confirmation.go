package steamcommunity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/k64z/steamguard/steamerr"
	"github.com/k64z/steamguard/steamtotp"
)

var ErrConfirmationNotFound = errors.New("confirmation not found")

// ConfirmationType represents the type of confirmation.
type ConfirmationType int

const (
	ConfirmationTypeUnknown       ConfirmationType = 0
	ConfirmationTypeTrade         ConfirmationType = 2
	ConfirmationTypeMarketListing ConfirmationType = 3
	ConfirmationTypePhoneChange   ConfirmationType = 5
)

func (t ConfirmationType) String() string {
	switch t {
	case ConfirmationTypeTrade:
		return "Trade"
	case ConfirmationTypeMarketListing:
		return "Market Listing"
	case ConfirmationTypePhoneChange:
		return "Phone Change"
	default:
		return "Unknown"
	}
}

// Confirmation represents a pending mobile confirmation. IDs rotate, so a
// Confirmation is only good for the fetch it came from.
type Confirmation struct {
	ID        string
	Type      ConfirmationType
	CreatorID string // TradeOfferID for trades, listing ID for market
	Key       string // nonce, used for responding to confirmation
	Headline  string
	Summary   []string
	Created   time.Time
}

// LogValue leaves the confirmation key out of log output.
func (c Confirmation) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("id", c.ID),
		slog.String("type", c.Type.String()),
		slog.String("creator", c.CreatorID),
	)
}

type ListingFormat int

const (
	FormatJSON ListingFormat = iota
	FormatHTML
)

func (f ListingFormat) String() string {
	if f == FormatHTML {
		return "html"
	}
	return "json"
}

// ParseListingFormat maps "json" and "html" to a ListingFormat.
func ParseListingFormat(s string) (ListingFormat, error) {
	switch s {
	case "", "json":
		return FormatJSON, nil
	case "html":
		return FormatHTML, nil
	default:
		return 0, fmt.Errorf("unknown listing format %q", s)
	}
}

// Listing is one successful fetch of the pending confirmations.
type Listing struct {
	Format        ListingFormat
	Confirmations []Confirmation
}

// Empty reports the "nothing to confirm" state, which is not an error.
func (l *Listing) Empty() bool {
	return l == nil || len(l.Confirmations) == 0
}

// FetchConfirmations retrieves all pending confirmations.
func (c *Community) FetchConfirmations(ctx context.Context, auth MobileAuth) (*Listing, error) {
	const op = "fetch confirmations"

	q, err := c.query(auth, steamtotp.TagList)
	if err != nil {
		return nil, err
	}

	path, parse := "/mobileconf/getlist", parseJSONListing
	if c.format == FormatHTML {
		path, parse = "/mobileconf/conf", parseHTMLListing
	}

	var listing *Listing
	body, err := c.post(ctx, op, path, q)
	if err == nil {
		listing, err = parse(body)
	}
	if err != nil {
		c.logger.Error(op, "format", c.format.String(), "error", err)
		return nil, err
	}

	if listing.Empty() {
		c.logger.Info(op, "outcome", "empty")
	} else {
		c.logger.Info(op, "outcome", "ok", "count", len(listing.Confirmations))
	}
	return listing, nil
}

func parseJSONListing(body []byte) (*Listing, error) {
	const op = "fetch confirmations"

	var result struct {
		Success bool `json:"success"`
		Conf    []struct {
			ID           string   `json:"id"`
			Type         int      `json:"type"`
			CreatorID    string   `json:"creator_id"`
			Nonce        string   `json:"nonce"`
			Headline     string   `json:"headline"`
			Summary      []string `json:"summary"`
			CreationTime int64    `json:"creation_time"`
		} `json:"conf"`
		NeedAuth bool   `json:"needauth"`
		Message  string `json:"message"`
	}

	if err := json.Unmarshal(body, &result); err != nil {
		return nil, steamerr.Protocol(op, fmt.Errorf("decode response: %w", err))
	}

	if result.NeedAuth {
		return nil, steamerr.Auth(op, errors.New("authentication required"))
	}

	if !result.Success {
		if result.Message != "" {
			return nil, steamerr.Protocolf(op, "steam error: %s", result.Message)
		}
		return nil, steamerr.Protocolf(op, "request failed")
	}

	listing := &Listing{
		Format:        FormatJSON,
		Confirmations: make([]Confirmation, len(result.Conf)),
	}
	for i, c := range result.Conf {
		listing.Confirmations[i] = Confirmation{
			ID:        c.ID,
			Type:      ConfirmationType(c.Type),
			CreatorID: c.CreatorID,
			Key:       c.Nonce,
			Headline:  c.Headline,
			Summary:   c.Summary,
			Created:   time.Unix(c.CreationTime, 0),
		}
	}

	return listing, nil
}

var (
	htmlErrorMarker = []byte("Oh nooooooes!")
	htmlEmptyMarker = []byte("Nothing to confirm")
)

// parseHTMLListing scrapes the legacy conf page. Each entry's id, key and
// creator are read from the attributes of one list entry, so adjacent
// entries can never lend each other their keys. Other elements carrying
// data-confid, like the per-entry checkboxes, are not entries.
func parseHTMLListing(body []byte) (*Listing, error) {
	const op = "fetch confirmations"

	if bytes.Contains(body, htmlErrorMarker) {
		return nil, steamerr.Protocolf(op, "steam returned an error page")
	}
	if bytes.Contains(body, htmlEmptyMarker) {
		return &Listing{Format: FormatHTML}, nil
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, steamerr.Protocol(op, fmt.Errorf("parse html: %w", err))
	}

	listing := &Listing{Format: FormatHTML}
	doc.Find(".mobileconf_list_entry[data-confid]").Each(func(_ int, s *goquery.Selection) {
		conf := Confirmation{
			ID:        s.AttrOr("data-confid", ""),
			Key:       s.AttrOr("data-key", ""),
			CreatorID: s.AttrOr("data-creator", ""),
		}
		if v, ok := s.Attr("data-type"); ok {
			n, err := strconv.Atoi(v)
			if err == nil {
				conf.Type = ConfirmationType(n)
			}
		}
		if t, err := strconv.ParseInt(s.AttrOr("data-time", ""), 10, 64); err == nil {
			conf.Created = time.Unix(t, 0)
		}
		conf.Headline = s.Find(".mobileconf_list_entry_description > div").First().Text()
		listing.Confirmations = append(listing.Confirmations, conf)
	})

	if len(listing.Confirmations) == 0 {
		return nil, steamerr.Protocolf(op, "unrecognized confirmation page")
	}
	return listing, nil
}

// isTrade reports whether conf can belong to a trade offer. Legacy HTML
// entries without a data-type attribute are given the benefit of the doubt.
func (l *Listing) isTrade(conf Confirmation) bool {
	if conf.Type == ConfirmationTypeTrade {
		return true
	}
	return l.Format == FormatHTML && conf.Type == ConfirmationTypeUnknown
}

// find returns the last trade confirmation created by offerID and how many
// entries matched.
func (l *Listing) find(offerID string) (Confirmation, int) {
	var found Confirmation
	matches := 0
	if l == nil || offerID == "" {
		return found, 0
	}
	for _, conf := range l.Confirmations {
		if conf.CreatorID == offerID && l.isTrade(conf) {
			found = conf
			matches++
		}
	}
	return found, matches
}

// FindConfirmation returns the trade confirmation for offerID. The creator
// id is compared as a string. Should Steam ever list the same offer twice,
// the last entry wins and a warning is logged.
func (c *Community) FindConfirmation(listing *Listing, offerID string) (Confirmation, error) {
	conf, matches := listing.find(offerID)
	switch matches {
	case 0:
		return Confirmation{}, steamerr.NotFound("find confirmation",
			fmt.Errorf("%w: offer %s", ErrConfirmationNotFound, offerID))
	case 1:
	default:
		c.logger.Warn("find confirmation", "offer", offerID, "matches", matches, "chosen", conf.ID)
	}
	return conf, nil
}
