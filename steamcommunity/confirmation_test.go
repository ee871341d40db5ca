package steamcommunity

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/k64z/steamguard/steamerr"
)

const listQuery = "m=android&p=android:5c9df5a2-d7de-1e2c-8fc8-766523ca130f&a=76561198000000000" +
	"&k=SzS%2Bfjn4%2FzZPiPMfG5OIp5bVyp8%3D&t=1706889605&tag=conf"

const jsonListing = `{
	"success": true,
	"conf": [
		{"type": 2, "id": "11", "nonce": "n11", "creator_id": "6956216583", "headline": "alice", "summary": ["You will give up 1 item"], "creation_time": 1706889000},
		{"type": 3, "id": "12", "nonce": "n12", "creator_id": "6956216584", "headline": "Market"},
		{"type": 2, "id": "13", "nonce": "n13", "creator_id": "6956216585"}
	]
}`

// Entry B is listed first so a scraper that pairs keys by position picks
// up the wrong one.
const htmlListing = `<html><body><div id="mobileconf_list">
<div class="mobileconf_list_entry" id="conf222" data-confid="222" data-key="keyB" data-type="2" data-creator="200" data-time="1706889100">
	<div class="mobileconf_list_entry_content">
		<div class="mobileconf_list_entry_description"><div>Trade with Bob</div><div>You will receive 1 item</div></div>
	</div>
</div>
<div class="mobileconf_list_entry" id="conf111" data-confid="111" data-key="keyA" data-type="2" data-creator="100" data-time="1706889000">
	<div class="mobileconf_list_entry_content">
		<div class="mobileconf_list_entry_description"><div>Trade with Alice</div></div>
	</div>
</div>
<div class="mobileconf_list_entry" data-confid="333" data-key="keyC" data-creator="300"></div>
</div></body></html>`

func TestFetchConfirmationsJSON(t *testing.T) {
	c, _ := newTestCommunity(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/mobileconf/getlist" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if got := readBody(t, r); got != listQuery {
			t.Errorf("body = %s; want %s", got, listQuery)
		}
		w.Write([]byte(jsonListing))
	})

	listing, err := c.FetchConfirmations(context.Background(), testAuth)
	if err != nil {
		t.Fatalf("FetchConfirmations: %v", err)
	}

	if got, want := len(listing.Confirmations), 3; got != want {
		t.Fatalf("len(Confirmations) = %d; want %d", got, want)
	}

	first := listing.Confirmations[0]
	if first.ID != "11" || first.Key != "n11" || first.CreatorID != "6956216583" {
		t.Errorf("first = %+v", first)
	}
	if first.Type != ConfirmationTypeTrade {
		t.Errorf("first.Type = %v; want Trade", first.Type)
	}
	if got, want := first.Created.Unix(), int64(1706889000); got != want {
		t.Errorf("first.Created = %d; want %d", got, want)
	}
	if listing.Confirmations[1].Type != ConfirmationTypeMarketListing {
		t.Errorf("second.Type = %v; want Market Listing", listing.Confirmations[1].Type)
	}
}

func TestFetchConfirmationsJSONStates(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantEmpty bool
		wantErr   error
	}{
		{"empty", `{"success":true,"conf":[]}`, true, nil},
		{"no conf field", `{"success":true}`, true, nil},
		{"needauth", `{"success":false,"needauth":true}`, false, steamerr.ErrAuth},
		{"failure with message", `{"success":false,"message":"Invalid authenticator"}`, false, steamerr.ErrProtocol},
		{"failure", `{"success":false}`, false, steamerr.ErrProtocol},
		{"not json", `<html>`, false, steamerr.ErrProtocol},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestCommunity(t, func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			})

			listing, err := c.FetchConfirmations(context.Background(), testAuth)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("err = %v; want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("FetchConfirmations: %v", err)
			}
			if got := listing.Empty(); got != tt.wantEmpty {
				t.Errorf("Empty() = %v; want %v", got, tt.wantEmpty)
			}
		})
	}
}

func TestFetchConfirmationsHTML(t *testing.T) {
	c, _ := newTestCommunity(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/mobileconf/conf" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if got := readBody(t, r); got != listQuery {
			t.Errorf("body = %s; want %s", got, listQuery)
		}
		w.Write([]byte(htmlListing))
	}, WithListingFormat(FormatHTML))

	listing, err := c.FetchConfirmations(context.Background(), testAuth)
	if err != nil {
		t.Fatalf("FetchConfirmations: %v", err)
	}
	if listing.Format != FormatHTML {
		t.Errorf("Format = %v; want html", listing.Format)
	}
	if got, want := len(listing.Confirmations), 3; got != want {
		t.Fatalf("len(Confirmations) = %d; want %d", got, want)
	}

	b := listing.Confirmations[0]
	if b.ID != "222" || b.Key != "keyB" || b.CreatorID != "200" {
		t.Errorf("first entry = %+v", b)
	}
	if got, want := b.Headline, "Trade with Bob"; got != want {
		t.Errorf("Headline = %q; want %q", got, want)
	}
	if listing.Confirmations[2].Type != ConfirmationTypeUnknown {
		t.Errorf("entry without data-type: Type = %v; want Unknown", listing.Confirmations[2].Type)
	}
}

func TestFetchConfirmationsHTMLSkipsCheckboxes(t *testing.T) {
	const page = `<div id="mobileconf_list">
<div class="mobileconf_list_entry" data-confid="222" data-key="keyB" data-type="2" data-creator="200">
<div class="mobileconf_list_checkbox"><input id="multiconf_222" data-confid="222" data-key="keyB" type="checkbox"></div>
<div class="mobileconf_list_entry_description"><div>Trade with Bob</div></div>
</div>
</div>`

	c, _ := newTestCommunity(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(page))
	}, WithListingFormat(FormatHTML))

	listing, err := c.FetchConfirmations(context.Background(), testAuth)
	if err != nil {
		t.Fatalf("FetchConfirmations: %v", err)
	}
	if got := len(listing.Confirmations); got != 1 {
		t.Fatalf("len(Confirmations) = %d; want 1: %+v", got, listing.Confirmations)
	}
	if _, err := c.FindConfirmation(listing, ""); !errors.Is(err, ErrConfirmationNotFound) {
		t.Errorf("FindConfirmation(\"\") err = %v; want ErrConfirmationNotFound", err)
	}
}

func TestFetchConfirmationsHTMLStates(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantEmpty bool
		wantErr   error
	}{
		{"nothing to confirm", `<div id="mobileconf_empty"><div>Nothing to confirm</div></div>`, true, nil},
		{"error page", `<div id="mobileconf_error"><div>Oh nooooooes!</div></div>`, false, steamerr.ErrProtocol},
		{"unrecognized page", `<html><body>Sign In</body></html>`, false, steamerr.ErrProtocol},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestCommunity(t, func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			}, WithListingFormat(FormatHTML))

			listing, err := c.FetchConfirmations(context.Background(), testAuth)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("err = %v; want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("FetchConfirmations: %v", err)
			}
			if got := listing.Empty(); got != tt.wantEmpty {
				t.Errorf("Empty() = %v; want %v", got, tt.wantEmpty)
			}
		})
	}
}

func TestFindConfirmation(t *testing.T) {
	fromJSON := &Listing{
		Format: FormatJSON,
		Confirmations: []Confirmation{
			{ID: "1", Key: "k1", Type: ConfirmationTypeTrade, CreatorID: "500"},
			{ID: "2", Key: "k2", Type: ConfirmationTypeMarketListing, CreatorID: "600"},
			{ID: "3", Key: "k3", Type: ConfirmationTypeUnknown, CreatorID: "700"},
			{ID: "4", Key: "k4", Type: ConfirmationTypeTrade, CreatorID: "5000"},
		},
	}
	fromHTML := &Listing{
		Format: FormatHTML,
		Confirmations: []Confirmation{
			{ID: "222", Key: "keyB", Type: ConfirmationTypeTrade, CreatorID: "200"},
			{ID: "111", Key: "keyA", Type: ConfirmationTypeTrade, CreatorID: "100"},
			{ID: "333", Key: "keyC", Type: ConfirmationTypeUnknown, CreatorID: "300"},
			{ID: "444", Key: "keyD", Type: ConfirmationTypeUnknown},
		},
	}

	tests := []struct {
		name    string
		listing *Listing
		offerID string
		wantID  string
		wantKey string
	}{
		{"trade", fromJSON, "500", "1", "k1"},
		{"market listing is not a trade", fromJSON, "600", "", ""},
		{"unknown json type is not a trade", fromJSON, "700", "", ""},
		{"no prefix match", fromJSON, "50", "", ""},
		{"adjacent html entry keeps its own key", fromHTML, "100", "111", "keyA"},
		{"html entry without type", fromHTML, "300", "333", "keyC"},
		{"offer absent", fromHTML, "999", "", ""},
		{"empty offer id", fromHTML, "", "", ""},
		{"nil listing", nil, "500", "", ""},
	}

	c, _ := newTestCommunity(t, func(w http.ResponseWriter, r *http.Request) {})

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.FindConfirmation(tt.listing, tt.offerID)
			if tt.wantID == "" {
				if !errors.Is(err, steamerr.ErrNotFound) || !errors.Is(err, ErrConfirmationNotFound) {
					t.Errorf("err = %v; want ErrNotFound", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("FindConfirmation: %v", err)
			}
			if got.ID != tt.wantID || got.Key != tt.wantKey {
				t.Errorf("FindConfirmation() = {ID:%s Key:%s}; want {ID:%s Key:%s}", got.ID, got.Key, tt.wantID, tt.wantKey)
			}
		})
	}
}

func TestFindConfirmationDuplicateLastWins(t *testing.T) {
	c, logs := newTestCommunity(t, func(w http.ResponseWriter, r *http.Request) {})

	listing := &Listing{Confirmations: []Confirmation{
		{ID: "21", Key: "first", Type: ConfirmationTypeTrade, CreatorID: "6"},
		{ID: "22", Key: "second", Type: ConfirmationTypeTrade, CreatorID: "6"},
	}}

	got, err := c.FindConfirmation(listing, "6")
	if err != nil {
		t.Fatalf("FindConfirmation: %v", err)
	}
	if got.ID != "22" {
		t.Errorf("ID = %s; want 22", got.ID)
	}

	line := logs.String()
	if !strings.Contains(line, "level=WARN") || !strings.Contains(line, "matches=2") {
		t.Errorf("log = %q; want a warning with matches=2", line)
	}
	if strings.Contains(line, "second") {
		t.Errorf("log leaks confirmation key: %q", line)
	}
}

func TestParseListingFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    ListingFormat
		wantErr bool
	}{
		{"", FormatJSON, false},
		{"json", FormatJSON, false},
		{"html", FormatHTML, false},
		{"xml", 0, true},
	}

	for _, tt := range tests {
		got, err := ParseListingFormat(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseListingFormat(%q) err = %v; wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseListingFormat(%q) = %v; want %v", tt.in, got, tt.want)
		}
	}
}
