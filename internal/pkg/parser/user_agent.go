package parser

import "strings"

// ClientInfo is a coarse description of a dashboard browser, used for logs.
type ClientInfo struct {
	OS      string
	Browser string
}

func ParseUserAgent(ua string) ClientInfo {
	ua = strings.ToLower(ua)
	return ClientInfo{OS: detectOS(ua), Browser: detectBrowser(ua)}
}

func detectOS(ua string) string {
	switch {
	case strings.Contains(ua, "windows"):
		return "Windows"
	case strings.Contains(ua, "iphone"), strings.Contains(ua, "ipad"):
		return "iOS"
	case strings.Contains(ua, "mac os"):
		return "macOS"
	case strings.Contains(ua, "android"):
		return "Android"
	case strings.Contains(ua, "linux"):
		return "Linux"
	default:
		return "Unknown"
	}
}

func detectBrowser(ua string) string {
	switch {
	case strings.Contains(ua, "edg/"), strings.Contains(ua, "edge"):
		return "Edge"
	case strings.Contains(ua, "firefox"):
		return "Firefox"
	case strings.Contains(ua, "chrome"):
		return "Chrome"
	case strings.Contains(ua, "safari"):
		return "Safari"
	default:
		return "Unknown"
	}
}
