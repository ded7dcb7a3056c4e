// Package notifications stores portal notifications. A notification with a
// recipient is read by exactly one user; a broadcast (nil recipient) tracks
// per-user read state in a JSON set so each reader sees their own flag.
package notifications

import (
	"encoding/json"
	"fmt"
	"time"

	"log/slog"

	"github.com/karloscodes/cartridge"
	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"
)

const (
	KindInfo    = "info"
	KindWarning = "warning"
	KindReport  = "report"
)

type Notification struct {
	ID          uint  `gorm:"primaryKey"`
	RecipientID *uint `gorm:"index"`
	Kind        string
	Title       string `gorm:"not null"`
	Body        string
	IsRead      bool   `gorm:"not null;default:false"`
	IsReadBy    string `gorm:"type:text"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Broadcast reports whether the notification targets all users.
func (n *Notification) Broadcast() bool {
	return n.RecipientID == nil
}

// readBySet decodes the broadcast read-state set.
func (n *Notification) readBySet() map[uint]bool {
	set := make(map[uint]bool)
	if n.IsReadBy == "" {
		return set
	}
	var ids []uint
	if err := json.Unmarshal([]byte(n.IsReadBy), &ids); err != nil {
		return set
	}
	for _, id := range ids {
		set[id] = true
	}
	return set
}

// ReadBy reports whether the given user has read this notification.
func (n *Notification) ReadBy(userID uint) bool {
	if !n.Broadcast() {
		return n.IsRead
	}
	return n.readBySet()[userID]
}

// View is the per-user projection returned by the portal API.
type View struct {
	ID        uint      `json:"id"`
	Kind      string    `json:"kind"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Broadcast bool      `json:"broadcast"`
	IsRead    bool      `json:"isRead"`
	CreatedAt time.Time `json:"createdAt"`
}

func (n *Notification) viewFor(userID uint) View {
	return View{
		ID:        n.ID,
		Kind:      n.Kind,
		Title:     n.Title,
		Body:      n.Body,
		Broadcast: n.Broadcast(),
		IsRead:    n.ReadBy(userID),
		CreatedAt: n.CreatedAt,
	}
}

// Create persists a direct notification for one user.
func Create(dbManager cartridge.DBManager, logger *slog.Logger, recipientID uint, kind, title, body string) (*Notification, error) {
	n := &Notification{RecipientID: &recipientID, Kind: kind, Title: title, Body: body}
	err := sqlite.PerformWrite(logger, dbManager.GetConnection(), func(tx *gorm.DB) error {
		return tx.Create(n).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create notification: %w", err)
	}
	return n, nil
}

// CreateBroadcast persists a notification visible to every user.
func CreateBroadcast(dbManager cartridge.DBManager, logger *slog.Logger, kind, title, body string) (*Notification, error) {
	n := &Notification{Kind: kind, Title: title, Body: body, IsReadBy: "[]"}
	err := sqlite.PerformWrite(logger, dbManager.GetConnection(), func(tx *gorm.DB) error {
		return tx.Create(n).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create broadcast notification: %w", err)
	}
	return n, nil
}

// ListForUser returns the user's direct notifications plus all broadcasts,
// newest first, with read state resolved per user.
func ListForUser(db *gorm.DB, userID uint) ([]View, error) {
	var rows []Notification
	err := db.Where("recipient_id = ? OR recipient_id IS NULL", userID).
		Order("created_at desc, id desc").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	views := make([]View, 0, len(rows))
	for i := range rows {
		views = append(views, rows[i].viewFor(userID))
	}
	return views, nil
}

// MarkRead records that the user has read the notification. Re-marking is a
// no-op, and marking someone else's direct notification is rejected.
func MarkRead(dbManager cartridge.DBManager, logger *slog.Logger, notificationID, userID uint) error {
	return sqlite.PerformWrite(logger, dbManager.GetConnection(), func(tx *gorm.DB) error {
		var n Notification
		if err := tx.Where("id = ?", notificationID).First(&n).Error; err != nil {
			return fmt.Errorf("notification %d not found: %w", notificationID, err)
		}

		if !n.Broadcast() {
			if *n.RecipientID != userID {
				return fmt.Errorf("notification %d does not belong to user %d", notificationID, userID)
			}
			if n.IsRead {
				return nil
			}
			return tx.Model(&n).Update("is_read", true).Error
		}

		set := n.readBySet()
		if set[userID] {
			return nil
		}
		set[userID] = true
		ids := make([]uint, 0, len(set))
		for id := range set {
			ids = append(ids, id)
		}
		data, err := json.Marshal(ids)
		if err != nil {
			return fmt.Errorf("failed to encode read set: %w", err)
		}
		return tx.Model(&n).Update("is_read_by", string(data)).Error
	})
}

// UnreadCount returns how many notifications the user has not read yet.
func UnreadCount(db *gorm.DB, userID uint) (int, error) {
	views, err := ListForUser(db, userID)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, v := range views {
		if !v.IsRead {
			count++
		}
	}
	return count, nil
}
