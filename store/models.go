package store

import (
	"time"

	"github.com/goliatone/go-autoreply/core"
)

const (
	SettingsKey  = "autoreply_settings"
	AccountsKey  = "autoreply_accounts"
	RulesKey     = "autoreply_rules"
	TemplatesKey = "autoreply_templates"
	SchedulesKey = "autoreply_schedules"
	LogsKey      = "autoreply_logs"
)

// CollectionKeys lists every key owned by Collections.
func CollectionKeys() []string {
	return []string{SettingsKey, AccountsKey, RulesKey, TemplatesKey, SchedulesKey, LogsKey}
}

type Settings struct {
	Theme          string `json:"theme" validate:"omitempty,oneof=light dark"`
	Language       string `json:"language" validate:"required"`
	Notifications  bool   `json:"notifications"`
	AutoBackup     bool   `json:"autoBackup"`
	BackupInterval int    `json:"backupInterval" validate:"gte=0"`
}

func DefaultSettings() Settings {
	return Settings{
		Theme:          "light",
		Language:       "zh-TW",
		Notifications:  true,
		AutoBackup:     true,
		BackupInterval: 24,
	}
}

type Account struct {
	ID        string             `json:"id"`
	Platform  core.Platform      `json:"platform" validate:"required"`
	Username  string             `json:"username" validate:"required"`
	APIKey    string             `json:"apiKey,omitempty"`
	Status    core.AccountStatus `json:"status" validate:"omitempty,oneof=active inactive connected disconnected"`
	CreatedAt time.Time          `json:"createdAt"`
}

type Rule struct {
	ID           string          `json:"id"`
	Name         string          `json:"name" validate:"required"`
	Keywords     []string        `json:"keywords" validate:"min=1,dive,required"`
	ReplyContent string          `json:"replyContent" validate:"required"`
	Platforms    []core.Platform `json:"platforms"`
	Status       string          `json:"status" validate:"omitempty,oneof=active inactive"`
	CreatedAt    time.Time       `json:"createdAt"`
}

type Template struct {
	ID         string    `json:"id"`
	Name       string    `json:"name" validate:"required"`
	Category   string    `json:"category"`
	Content    string    `json:"content" validate:"required"`
	UsageCount int       `json:"usageCount" validate:"gte=0"`
	CreatedAt  time.Time `json:"createdAt"`
}

type Schedule struct {
	ID        string    `json:"id"`
	Name      string    `json:"name" validate:"required"`
	StartTime string    `json:"startTime" validate:"required,datetime=15:04"`
	EndTime   string    `json:"endTime" validate:"required,datetime=15:04"`
	Days      []string  `json:"days" validate:"min=1,dive,oneof=monday tuesday wednesday thursday friday saturday sunday"`
	RuleID    string    `json:"ruleId"`
	RuleName  string    `json:"ruleName"`
	Status    string    `json:"status" validate:"omitempty,oneof=active inactive"`
	CreatedAt time.Time `json:"createdAt"`
}

type LogEntry struct {
	ID          string        `json:"id"`
	AccountID   string        `json:"accountId,omitempty"`
	Platform    core.Platform `json:"platform"`
	RuleName    string        `json:"ruleName,omitempty"`
	Message     string        `json:"message"`
	RecipientID string        `json:"recipientId,omitempty"`
	MessageID   string        `json:"messageId,omitempty"`
	Timestamp   time.Time     `json:"timestamp"`
	Status      string        `json:"status" validate:"omitempty,oneof=sent failed pending"`
}

// ExportData is the whole storage namespace in one document.
type ExportData struct {
	Settings   *Settings  `json:"settings,omitempty"`
	Accounts   []Account  `json:"autoReplyAccounts,omitempty"`
	Rules      []Rule     `json:"autoReplyRules,omitempty"`
	Templates  []Template `json:"autoReplyTemplates,omitempty"`
	Schedules  []Schedule `json:"autoReplySchedules,omitempty"`
	Logs       []LogEntry `json:"autoReplyLogs,omitempty"`
	ExportDate time.Time  `json:"exportDate"`
}

type Usage struct {
	Used       int     `json:"used"`
	Total      int     `json:"total"`
	Percentage float64 `json:"percentage"`
}

type Stats struct {
	TotalAccounts  int     `json:"totalAccounts"`
	ActiveAccounts int     `json:"activeAccounts"`
	TotalRules     int     `json:"totalRules"`
	ActiveRules    int     `json:"activeRules"`
	TodayReplies   int     `json:"todayReplies"`
	TotalReplies   int     `json:"totalReplies"`
	ReplyRate      float64 `json:"replyRate"`
}
