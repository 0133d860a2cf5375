package pipeline

import "strings"

// ParseUserAgent derives coarse device fields from a raw user-agent string.
// It is deliberately small: device class, browser family, and OS family are
// enough for the grouping dimensions the aggregation layer supports.
func ParseUserAgent(ua string) map[string]interface{} {
	lower := strings.ToLower(ua)

	device := "desktop"
	switch {
	case strings.Contains(lower, "ipad") || strings.Contains(lower, "tablet"):
		device = "tablet"
	case strings.Contains(lower, "mobile") || strings.Contains(lower, "iphone") || strings.Contains(lower, "android"):
		device = "mobile"
	case strings.Contains(lower, "bot") || strings.Contains(lower, "crawler") || strings.Contains(lower, "spider"):
		device = "bot"
	}

	browser := "other"
	switch {
	case strings.Contains(lower, "edg/"):
		browser = "edge"
	case strings.Contains(lower, "firefox/"):
		browser = "firefox"
	case strings.Contains(lower, "chrome/"):
		browser = "chrome"
	case strings.Contains(lower, "safari/"):
		browser = "safari"
	}

	os := "other"
	switch {
	case strings.Contains(lower, "windows"):
		os = "windows"
	case strings.Contains(lower, "mac os") || strings.Contains(lower, "iphone") || strings.Contains(lower, "ipad"):
		os = "apple"
	case strings.Contains(lower, "android"):
		os = "android"
	case strings.Contains(lower, "linux"):
		os = "linux"
	}

	return map[string]interface{}{
		"device":  device,
		"browser": browser,
		"os":      os,
	}
}
