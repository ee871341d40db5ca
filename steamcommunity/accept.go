package steamcommunity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/k64z/steamguard/steamerr"
	"github.com/k64z/steamguard/steamtotp"
)

// Op is the action sent to ajaxop. It doubles as the hash tag.
type Op string

const (
	OpAllow  Op = steamtotp.TagAllow
	OpCancel Op = steamtotp.TagCancel
)

// AcceptResult reports a batch accept. Accepted < Total is a partial
// success, not an error.
type AcceptResult struct {
	Accepted int
	Total    int
}

func decodeOpResult(op string, body []byte) error {
	var result struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}

	if err := json.Unmarshal(body, &result); err != nil {
		return steamerr.Protocol(op, fmt.Errorf("decode response: %w", err))
	}

	if !result.Success {
		if result.Message != "" {
			return steamerr.Protocolf(op, "steam error: %s", result.Message)
		}
		return steamerr.Protocolf(op, "operation failed")
	}
	return nil
}

// Respond sends op for an already matched confirmation.
func (c *Community) Respond(ctx context.Context, auth MobileAuth, conf Confirmation, op Op) error {
	opName := "respond to confirmation"

	q, err := c.query(auth, string(op))
	if err != nil {
		return err
	}
	q = appendQuery(q, "op", string(op), "cid", conf.ID, "ck", conf.Key)

	body, err := c.post(ctx, opName, "/mobileconf/ajaxop", q)
	if err == nil {
		err = decodeOpResult(opName, body)
	}
	if err != nil {
		c.logger.Error(opName, "op", string(op), "confirmation", conf, "error", err)
		return err
	}

	c.logger.Info(opName, "op", string(op), "confirmation", conf, "outcome", "ok")
	return nil
}

// AcceptConfirmation fetches the listing, finds the trade confirmation of
// offerID and allows it. A missing confirmation yields an error wrapping
// steamerr.ErrNotFound; it may not have propagated yet.
func (c *Community) AcceptConfirmation(ctx context.Context, auth MobileAuth, offerID string) error {
	return c.respondByOffer(ctx, auth, offerID, OpAllow)
}

// CancelConfirmation is AcceptConfirmation with the cancel op.
func (c *Community) CancelConfirmation(ctx context.Context, auth MobileAuth, offerID string) error {
	return c.respondByOffer(ctx, auth, offerID, OpCancel)
}

func (c *Community) respondByOffer(ctx context.Context, auth MobileAuth, offerID string, op Op) error {
	listing, err := c.FetchConfirmations(ctx, auth)
	if err != nil {
		return fmt.Errorf("fetch confirmations: %w", err)
	}

	conf, err := c.FindConfirmation(listing, offerID)
	if err != nil {
		c.logger.Warn("find confirmation", "offer", offerID, "outcome", "not found")
		return err
	}

	return c.Respond(ctx, auth, conf, op)
}

// AcceptMany allows the trade confirmations of every offer in offerIDs with
// one fetch and one submit. Offers without a confirmation are skipped and
// repeated ids count once.
func (c *Community) AcceptMany(ctx context.Context, auth MobileAuth, offerIDs []string) (AcceptResult, error) {
	const op = "accept confirmations"

	offerIDs = uniqueIDs(offerIDs)
	res := AcceptResult{Total: len(offerIDs)}
	if len(offerIDs) == 0 {
		return res, nil
	}

	listing, err := c.FetchConfirmations(ctx, auth)
	if err != nil {
		return res, fmt.Errorf("fetch confirmations: %w", err)
	}

	var pairs []string
	var matched int
	for _, offerID := range offerIDs {
		conf, err := c.FindConfirmation(listing, offerID)
		if errors.Is(err, steamerr.ErrNotFound) {
			c.logger.Debug(op, "offer", offerID, "outcome", "skipped")
			continue
		}
		pairs = append(pairs, "cid[]", conf.ID, "ck[]", conf.Key)
		matched++
	}

	if matched == 0 {
		c.logger.Warn(op, "accepted", 0, "total", res.Total)
		return res, nil
	}

	q, err := c.query(auth, steamtotp.TagAllow)
	if err != nil {
		return res, err
	}
	q = appendQuery(q, "op", string(OpAllow))
	q = appendQuery(q, pairs...)

	body, err := c.post(ctx, op, "/mobileconf/multiajaxop", q)
	if err == nil {
		err = decodeOpResult(op, body)
	}
	if err != nil {
		c.logger.Error(op, "total", res.Total, "error", err)
		return res, err
	}

	res.Accepted = matched
	if res.Accepted != res.Total {
		c.logger.Warn(op, "accepted", res.Accepted, "total", res.Total, "outcome", "partial")
	} else {
		c.logger.Info(op, "accepted", res.Accepted, "total", res.Total, "outcome", "ok")
	}
	return res, nil
}

// uniqueIDs drops repeated ids, keeping the first occurrence of each.
func uniqueIDs(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// OfferIDForConfirmation reads the trade offer id behind a confirmation
// from its details page, for listings that do not carry creator ids.
func (c *Community) OfferIDForConfirmation(ctx context.Context, auth MobileAuth, confID string) (string, error) {
	const op = "fetch confirmation details"

	q, err := c.query(auth, steamtotp.TagDetails)
	if err != nil {
		return "", err
	}

	body, err := c.get(ctx, op, "/mobileconf/details/"+confID, q)
	if err != nil {
		return "", err
	}

	var result struct {
		Success bool   `json:"success"`
		HTML    string `json:"html"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", steamerr.Protocol(op, fmt.Errorf("decode response: %w", err))
	}
	if !result.Success {
		return "", steamerr.NotFound(op, fmt.Errorf("%w: confirmation %s", ErrConfirmationNotFound, confID))
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(result.HTML))
	if err != nil {
		return "", steamerr.Protocol(op, fmt.Errorf("parse html: %w", err))
	}

	const prefix = "tradeofferid_"
	var offerID string
	doc.Find(".tradeoffer").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		id := s.AttrOr("id", "")
		if strings.HasPrefix(id, prefix) && len(id) > len(prefix) {
			offerID = id[len(prefix):]
			return false
		}
		return true
	})

	if offerID == "" {
		return "", steamerr.Protocolf(op, "no trade offer in details page")
	}
	return offerID, nil
}
