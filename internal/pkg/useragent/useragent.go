// Package useragent classifies client user agent strings into browser, OS and
// device type using a compact embedded rule set. Bot hits are flagged so
// ingestion can discard them before they skew sessions.
package useragent

import (
	"fmt"
	"strings"
	"sync"

	_ "embed"

	"go.elara.ws/pcre"
	"gopkg.in/yaml.v3"
)

type UserAgent struct {
	UserAgent string
	Browser   string
	OS        string
	Mobile    bool
	Tablet    bool
	Desktop   bool
	Bot       bool
}

// DeviceType collapses the device flags into the label stored on sessions.
func (ua UserAgent) DeviceType() string {
	switch {
	case ua.Bot:
		return "bot"
	case ua.Tablet:
		return "tablet"
	case ua.Mobile:
		return "mobile"
	}
	return "desktop"
}

//go:embed rules.yml
var rulesFile []byte

type rule struct {
	Regex   string `yaml:"regex"`
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type ruleSet struct {
	Bots     []rule `yaml:"bots"`
	Browsers []rule `yaml:"browsers"`
	OSs      []rule `yaml:"oss"`
}

type regexCache struct {
	compiled map[string]*pcre.Regexp
	mutex    sync.RWMutex
}

func newRegexCache() *regexCache {
	return &regexCache{compiled: make(map[string]*pcre.Regexp)}
}

func (rc *regexCache) get(pattern string) (*pcre.Regexp, error) {
	rc.mutex.RLock()
	if regex, exists := rc.compiled[pattern]; exists {
		rc.mutex.RUnlock()
		return regex, nil
	}
	rc.mutex.RUnlock()

	rc.mutex.Lock()
	defer rc.mutex.Unlock()

	if regex, exists := rc.compiled[pattern]; exists {
		return regex, nil
	}

	regex, err := pcre.Compile(pattern)
	if err != nil {
		return nil, err
	}
	rc.compiled[pattern] = regex
	return regex, nil
}

type detector struct {
	rules ruleSet
	cache *regexCache
}

var (
	parser *detector
	once   sync.Once
)

func getParser() *detector {
	once.Do(func() {
		parser = &detector{cache: newRegexCache()}
		if err := yaml.Unmarshal(rulesFile, &parser.rules); err != nil {
			fmt.Printf("Error parsing useragent rules: %v\n", err)
		}
	})
	return parser
}

func (d *detector) matchFirst(rules []rule, userAgent string) (string, string, bool) {
	for _, entry := range rules {
		regex, err := d.cache.get(entry.Regex)
		if err != nil {
			continue
		}
		matches := regex.FindStringSubmatch(userAgent)
		// go.elara.ws/pcre returns a non-nil empty slice when there is no
		// match, so check the length rather than comparing against nil.
		if len(matches) == 0 {
			continue
		}
		version := entry.Version
		for i, match := range matches[1:] {
			placeholder := fmt.Sprintf("$%d", i+1)
			version = strings.ReplaceAll(version, placeholder, match)
		}
		return entry.Name, strings.ReplaceAll(version, "_", "."), true
	}
	return "", "", false
}

// deviceFlags infers the device class from well-known user agent markers.
// Tablets are checked first since their agents usually also say "Mobile".
func deviceFlags(userAgent string) (mobile, tablet, desktop bool) {
	ua := strings.ToLower(userAgent)
	if strings.Contains(ua, "tablet") || strings.Contains(ua, "ipad") {
		return false, true, false
	}
	if strings.Contains(ua, "mobile") || strings.Contains(ua, "android") ||
		strings.Contains(ua, "iphone") || strings.Contains(ua, "ipod") ||
		strings.Contains(ua, "windows phone") {
		return true, false, false
	}
	return false, false, true
}

// Parse classifies a user agent string. Unknown agents come back as a desktop
// with Browser and OS set to "Unknown".
func Parse(userAgent string) UserAgent {
	d := getParser()

	if name, _, ok := d.matchFirst(d.rules.Bots, userAgent); ok {
		return UserAgent{
			UserAgent: userAgent,
			Browser:   name,
			OS:        "Unknown",
			Bot:       true,
		}
	}

	browser, _, ok := d.matchFirst(d.rules.Browsers, userAgent)
	if !ok {
		browser = "Unknown"
	}
	os, _, ok := d.matchFirst(d.rules.OSs, userAgent)
	if !ok {
		os = "Unknown"
	}
	mobile, tablet, desktop := deviceFlags(userAgent)

	return UserAgent{
		UserAgent: userAgent,
		Browser:   browser,
		OS:        os,
		Mobile:    mobile,
		Tablet:    tablet,
		Desktop:   desktop,
	}
}
