package session

import (
	"strings"

	"sso-session-svc/src/internal/models"

	"github.com/mssola/useragent"
)

// ParseDevice derives device details from a User-Agent header. It returns nil
// when no header was supplied.
func ParseDevice(userAgent string) *models.DeviceInfo {
	userAgent = strings.TrimSpace(userAgent)
	if userAgent == "" {
		return nil
	}

	ua := useragent.New(userAgent)
	browser, _ := ua.Browser()

	info := &models.DeviceInfo{
		DeviceType: models.DeviceDesktop,
		Browser:    browser,
		Platform:   ua.OS(),
	}
	if info.Platform == "" {
		info.Platform = ua.Platform()
	}
	if info.Browser == "" {
		info.Browser = models.DeviceUnknown
	}
	if info.Platform == "" {
		info.Platform = models.DeviceUnknown
	}

	lower := strings.ToLower(userAgent)
	switch {
	case ua.Bot() || strings.Contains(lower, "bot"):
		info.DeviceType = models.DeviceBot
	case strings.Contains(lower, "ipad") || strings.Contains(lower, "tablet"):
		info.DeviceType = models.DeviceTablet
	case ua.Mobile():
		info.DeviceType = models.DeviceMobile
	case !strings.Contains(lower, "mozilla"):
		info.DeviceType = models.DeviceUnknown
	}

	return info
}
