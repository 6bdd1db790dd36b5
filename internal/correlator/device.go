package correlator

import (
	"strings"

	"github.com/mssola/useragent"
)

// DeviceClass values
const (
	DeviceDesktop = "desktop"
	DeviceMobile  = "mobile"
	DeviceTablet  = "tablet"
)

var mobileMarkers = []string{"mobile", "android", "iphone", "ipod", "blackberry", "opera mini", "iemobile"}

// DeviceClass buckets a user agent into desktop, mobile or tablet.
// Tablet markers win over mobile ones.
func DeviceClass(userAgent string) string {
	if userAgent == "" {
		return DeviceDesktop
	}

	lower := strings.ToLower(userAgent)
	if strings.Contains(lower, "tablet") || strings.Contains(lower, "ipad") {
		return DeviceTablet
	}
	for _, m := range mobileMarkers {
		if strings.Contains(lower, m) {
			return DeviceMobile
		}
	}
	if useragent.New(userAgent).Mobile() {
		return DeviceMobile
	}
	return DeviceDesktop
}
