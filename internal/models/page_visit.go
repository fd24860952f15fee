package models

import (
	"time"

	"gorm.io/gorm"
)

type PageVisit struct {
	ID              uint           `gorm:"primaryKey" json:"id"`
	PageID          string         `gorm:"not null;uniqueIndex;size:36" json:"page_id"`
	URL             string         `gorm:"not null" json:"url"`
	Domain          string         `gorm:"not null;index" json:"domain"`
	Referrer        string         `json:"referrer"`
	StartTime       time.Time      `gorm:"not null;index" json:"start_time"`
	StopTime        *time.Time     `json:"stop_time"`
	DurationSeconds int64          `gorm:"not null;default:0" json:"duration_seconds"`
	PrivateWindow   bool           `gorm:"not null;default:false" json:"private_window"`
	HistoryChange   bool           `gorm:"not null;default:false" json:"history_change"`
	CreatedAt       time.Time      `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt       time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt       gorm.DeletedAt `gorm:"index" json:"-"`
}

type DomainSummary struct {
	Domain       string  `json:"domain"`
	TotalSeconds int64   `json:"total_seconds"`
	TotalMinutes float64 `json:"total_minutes"`
	TotalHours   float64 `json:"total_hours"`
	VisitCount   int     `json:"visit_count"`
	Percentage   float64 `json:"percentage,omitempty"`
}

type ReportPeriod struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Type  string    `json:"type"` // "day", "week", "month"
}

type Report struct {
	Period       ReportPeriod    `json:"period"`
	Domains      []DomainSummary `json:"domains"`
	TotalSeconds int64           `json:"total_seconds"`
	TotalMinutes float64         `json:"total_minutes"`
	TotalHours   float64         `json:"total_hours"`
	GeneratedAt  time.Time       `json:"generated_at"`
}
