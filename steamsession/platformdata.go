package steamsession

import "github.com/k64z/steamguard/steamapi"

const (
	// Browser User Agent for web-based authentication
	BrowserUA = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/136.0.0.0 Safari/537.36"

	// SteamClientUA mimics the official Steam client's user-agent string.
	SteamClientUA = "Valve/Steam HTTP Client 1.0"

	WebsiteIDClient    = "Client"
	WebsiteIDCommunity = "Community"
	WebsiteIDMobile    = "Mobile"

	// 0 = English/default
	DefaultLanguageCode = uint32(0)
)

type deviceDetails struct {
	friendlyName string
	websiteID    string
}

func detailsFor(platform steamapi.PlatformType) deviceDetails {
	switch platform {
	case steamapi.PlatformTypeSteamClient:
		return deviceDetails{friendlyName: SteamClientUA, websiteID: WebsiteIDClient}
	case steamapi.PlatformTypeMobileApp:
		return deviceDetails{friendlyName: BrowserUA, websiteID: WebsiteIDMobile}
	default:
		return deviceDetails{friendlyName: BrowserUA, websiteID: WebsiteIDCommunity}
	}
}
