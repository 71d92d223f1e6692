package slack

import (
	"net/http"

	"golang.org/x/oauth2"

	"socialtracker/backend/internal/logging"
	"socialtracker/backend/internal/repository"
	"socialtracker/backend/pkg/models"
)

// OAuth handles the workspace install flow. Slack redirects here after a
// workspace admin approves the app; the temporary code is exchanged for a
// bot token which is persisted per team.
type OAuth struct {
	conf   *oauth2.Config
	tokens repository.TokenStore
	logger *logging.Logger
}

// NewOAuth creates a new OAuth helper against the given Slack API base URL.
func NewOAuth(clientID, clientSecret, apiURL string, tokens repository.TokenStore, logger *logging.Logger) *OAuth {
	return &OAuth{
		conf: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL:  apiURL + "/oauth.v2.access",
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		tokens: tokens,
		logger: logger,
	}
}

// CallbackHandler exchanges the authorization code and stores the
// workspace token record.
func (o *OAuth) CallbackHandler(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	if code == "" {
		http.Error(w, "missing authorization code", http.StatusBadRequest)
		return
	}

	token, err := o.conf.Exchange(r.Context(), code)
	if err != nil {
		o.logger.Error("OAuth code exchange failed: %v", err)
		http.Error(w, "OAuth authorization failed. Please try again.", http.StatusBadRequest)
		return
	}

	teamID, teamName := extraTeam(token)
	if teamID == "" {
		o.logger.Error("OAuth response carried no team id")
		http.Error(w, "OAuth authorization failed. Please try again.", http.StatusBadRequest)
		return
	}

	record := &models.SlackToken{
		TeamID:          teamID,
		TeamName:        teamName,
		BotUserID:       extraString(token, "bot_user_id"),
		BotAccessToken:  token.AccessToken,
		UserAccessToken: extraUserToken(token),
		Scope:           extraString(token, "scope"),
	}

	if err := o.tokens.Save(r.Context(), record); err != nil {
		o.logger.Error("Failed to store token for team %s: %v", teamID, err)
		http.Error(w, "An error occurred during authorization. Please try again.", http.StatusInternalServerError)
		return
	}

	o.logger.Info("Stored Slack token for team: %s (%s)", teamName, teamID)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("Successfully connected to Slack workspace: " + teamName +
		"! You can now interact with the bot in your Slack channels."))
}

// Slack returns workspace metadata as non-standard token fields; the
// oauth2 package exposes them through Extra.

func extraTeam(token *oauth2.Token) (id, name string) {
	team, ok := token.Extra("team").(map[string]interface{})
	if !ok {
		return "", ""
	}
	id, _ = team["id"].(string)
	name, _ = team["name"].(string)
	return id, name
}

func extraUserToken(token *oauth2.Token) string {
	authedUser, ok := token.Extra("authed_user").(map[string]interface{})
	if !ok {
		return ""
	}
	userToken, _ := authedUser["access_token"].(string)
	return userToken
}

func extraString(token *oauth2.Token, key string) string {
	value, _ := token.Extra(key).(string)
	return value
}
