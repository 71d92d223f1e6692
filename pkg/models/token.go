package models

import "time"

// SlackToken holds the OAuth credentials of one installed workspace.
type SlackToken struct {
	TeamID          string    `json:"team_id"`
	TeamName        string    `json:"team_name"`
	BotUserID       string    `json:"bot_user_id"`
	BotAccessToken  string    `json:"bot_access_token"`
	UserAccessToken string    `json:"user_access_token,omitempty"`
	Scope           string    `json:"scope"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}
