// Package websites is the registry of sites allowed to send tracking data.
// Origin checks on the ingestion API resolve the request host down to a base
// domain and look it up here.
package websites

import (
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

// WebsiteNotFoundError represents an error when a website is not found
type WebsiteNotFoundError struct {
	Domain string
}

func (e *WebsiteNotFoundError) Error() string {
	return fmt.Sprintf("website not found for domain: %s", e.Domain)
}

// NewWebsiteNotFoundError creates a new WebsiteNotFoundError
func NewWebsiteNotFoundError(domain string) *WebsiteNotFoundError {
	return &WebsiteNotFoundError{Domain: domain}
}

// Website represents a registered site whose events are accepted
type Website struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Domain    string    `gorm:"unique;not null" json:"domain"` // Base domain, e.g. "example.com"
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// GetWebsiteOrNotFound resolves a request host to a registered website ID.
// It accepts a transaction to be used as part of a larger transaction process.
func GetWebsiteOrNotFound(tx *gorm.DB, host string) (uint, error) {
	var website Website
	if err := tx.Where("domain = ?", BaseDomainForHost(host)).First(&website).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return 0, NewWebsiteNotFoundError(host)
		}
		return 0, fmt.Errorf("unexpected error querying website: %w", err)
	}
	return website.ID, nil
}

// BaseDomainForHost returns the canonical base domain for a hostname, preserving
// localhost semantics while collapsing subdomains (foo.example.com -> example.com).
func BaseDomainForHost(host string) string {
	return stripSubdomains(host)
}

// stripSubdomains extracts the base domain from a hostname
func stripSubdomains(host string) string {
	parts := strings.Split(strings.ToLower(host), ".")
	if len(parts) < 2 {
		return host // e.g. "localhost"
	}

	lastPart := parts[len(parts)-1]
	if lastPart == "localhost" {
		return "localhost"
	}

	secondLast := parts[len(parts)-2]

	// Country-specific TLDs that use a two-part structure need three parts.
	ccTLDPatterns := map[string]bool{
		"co.uk":  true,
		"co.jp":  true,
		"co.za":  true,
		"co.nz":  true,
		"co.in":  true,
		"com.au": true,
		"com.br": true,
		"org.uk": true,
		"gov.uk": true,
		"edu.au": true,
		"ac.uk":  true,
	}

	if len(parts) > 2 {
		twoPartTLD := fmt.Sprintf("%s.%s", secondLast, lastPart)
		if ccTLDPatterns[twoPartTLD] {
			thirdLast := parts[len(parts)-3]
			return fmt.Sprintf("%s.%s.%s", thirdLast, secondLast, lastPart)
		}
	}

	return fmt.Sprintf("%s.%s", secondLast, lastPart)
}

// GetAllWebsites retrieves all websites
func GetAllWebsites(db *gorm.DB) ([]Website, error) {
	var sites []Website
	if err := db.Find(&sites).Error; err != nil {
		return nil, fmt.Errorf("failed to get websites: %w", err)
	}
	return sites, nil
}

// GetWebsiteByID retrieves a website by its ID
func GetWebsiteByID(db *gorm.DB, id uint) (Website, error) {
	var website Website
	if err := db.First(&website, id).Error; err != nil {
		return Website{}, err
	}
	return website, nil
}

// GetWebsiteByDomain retrieves a website by its domain
func GetWebsiteByDomain(db *gorm.DB, domain string) (*Website, error) {
	var website Website
	if err := db.Where("domain = ?", domain).First(&website).Error; err != nil {
		return nil, err
	}
	return &website, nil
}

// CreateWebsite registers a new website, normalizing the domain first
func CreateWebsite(db *gorm.DB, website *Website) error {
	website.Domain = BaseDomainForHost(strings.TrimSpace(website.Domain))
	if website.Domain == "" {
		return fmt.Errorf("domain cannot be empty")
	}
	website.CreatedAt = time.Now().UTC()
	return db.Create(website).Error
}

// DeleteWebsite deletes a website by its ID
func DeleteWebsite(db *gorm.DB, id uint) error {
	result := db.Delete(&Website{}, id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
