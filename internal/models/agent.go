package models

import "time"

// Agent is a directory entry: an addressable peer and its price per request.
type Agent struct {
	ID            string    `gorm:"primaryKey;size:128"`
	URL           string    `gorm:"size:512;not null"`
	Name          string    `gorm:"size:128"`
	ServiceCharge int       `gorm:"default:0"`
	RegisteredAt  time.Time `gorm:"not null"`
	LastSeen      time.Time `gorm:"index"`
}
