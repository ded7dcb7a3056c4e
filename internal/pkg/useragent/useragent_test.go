package useragent_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"pulsekit/internal/pkg/useragent"
)

func TestParse(t *testing.T) {
	testCases := []struct {
		name       string
		userAgent  string
		browser    string
		os         string
		deviceType string
		bot        bool
	}{
		{
			name:       "Chrome on Windows",
			userAgent:  "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			browser:    "Chrome",
			os:         "Windows",
			deviceType: "desktop",
		},
		{
			name:       "Firefox on Linux",
			userAgent:  "Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0",
			browser:    "Firefox",
			os:         "Linux",
			deviceType: "desktop",
		},
		{
			name:       "Safari on macOS",
			userAgent:  "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15",
			browser:    "Safari",
			os:         "macOS",
			deviceType: "desktop",
		},
		{
			name:       "Edge identifies before Chrome",
			userAgent:  "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36 Edg/120.0.2210.91",
			browser:    "Microsoft Edge",
			os:         "Windows",
			deviceType: "desktop",
		},
		{
			name:       "Safari on iPhone",
			userAgent:  "Mozilla/5.0 (iPhone; CPU iPhone OS 17_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Mobile/15E148 Safari/604.1",
			browser:    "Safari",
			os:         "iOS",
			deviceType: "mobile",
		},
		{
			name:       "Safari on iPad",
			userAgent:  "Mozilla/5.0 (iPad; CPU OS 16_6 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.6 Mobile/15E148 Safari/604.1",
			browser:    "Safari",
			os:         "iOS",
			deviceType: "tablet",
		},
		{
			name:       "Chrome on Android",
			userAgent:  "Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Mobile Safari/537.36",
			browser:    "Chrome",
			os:         "Android",
			deviceType: "mobile",
		},
		{
			name:       "Googlebot",
			userAgent:  "Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)",
			browser:    "Googlebot",
			deviceType: "bot",
			bot:        true,
		},
		{
			name:       "curl",
			userAgent:  "curl/8.4.0",
			browser:    "HTTP Library",
			deviceType: "bot",
			bot:        true,
		},
		{
			name:       "generic crawler",
			userAgent:  "AcmeCrawler/1.0 (+https://acme.example/crawler)",
			browser:    "Generic Bot",
			deviceType: "bot",
			bot:        true,
		},
		{
			name:       "unrecognized agent falls back to Unknown desktop",
			userAgent:  "TotallyMadeUpAgent/0.1",
			browser:    "Unknown",
			os:         "Unknown",
			deviceType: "desktop",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			parsed := useragent.Parse(tc.userAgent)

			assert.Equal(t, tc.browser, parsed.Browser)
			assert.Equal(t, tc.bot, parsed.Bot)
			assert.Equal(t, tc.deviceType, parsed.DeviceType())
			if tc.os != "" {
				assert.Equal(t, tc.os, parsed.OS)
			}
		})
	}
}
