// Package gmail wraps the Gmail API for the inbox connector.
package gmail

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// OAuthConfig builds the oauth2 config for readonly Gmail access
func OAuthConfig(clientID, clientSecret, redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Scopes:       []string{gmail.GmailReadonlyScope},
		Endpoint:     google.Endpoint,
	}
}

// Client wraps the Gmail API for one mailbox
type Client struct {
	service *gmail.Service
	userID  string // "me" for the authenticated user
}

// NewClient creates a client from a stored connector token
func NewClient(ctx context.Context, oauthCfg *oauth2.Config, tokenJSON string) (*Client, error) {
	token := &oauth2.Token{}
	if err := json.Unmarshal([]byte(tokenJSON), token); err != nil {
		return nil, fmt.Errorf("decode token: %w", err)
	}

	service, err := gmail.NewService(ctx, option.WithTokenSource(oauthCfg.TokenSource(ctx, token)))
	if err != nil {
		return nil, fmt.Errorf("create gmail service: %w", err)
	}

	return &Client{service: service, userID: "me"}, nil
}

// MessageSummary contains basic message info from a list or history call
type MessageSummary struct {
	ID       string
	ThreadID string
}

// Message contains the fields the ingestion pipeline cares about
type Message struct {
	ID      string
	From    string
	Subject string
	Body    string
	Locale  string // from Content-Language, often empty
	Date    time.Time
}

// Profile returns the mailbox address and its current history cursor
func (c *Client) Profile(ctx context.Context) (string, uint64, error) {
	profile, err := c.service.Users.GetProfile(c.userID).Context(ctx).Do()
	if err != nil {
		return "", 0, fmt.Errorf("get profile: %w", err)
	}
	return profile.EmailAddress, profile.HistoryId, nil
}

// MessagesSince lists messages added after the given history cursor and
// returns the new cursor.
func (c *Client) MessagesSince(ctx context.Context, historyID uint64, maxResults int64) ([]MessageSummary, uint64, error) {
	call := c.service.Users.History.List(c.userID).
		StartHistoryId(historyID).
		HistoryTypes("messageAdded")

	if maxResults > 0 {
		call = call.MaxResults(maxResults)
	}

	resp, err := call.Context(ctx).Do()
	if err != nil {
		return nil, 0, fmt.Errorf("list history: %w", err)
	}

	seen := make(map[string]bool)
	summaries := make([]MessageSummary, 0)

	for _, history := range resp.History {
		for _, added := range history.MessagesAdded {
			if !seen[added.Message.Id] {
				seen[added.Message.Id] = true
				summaries = append(summaries, MessageSummary{
					ID:       added.Message.Id,
					ThreadID: added.Message.ThreadId,
				})
			}
		}
	}

	return summaries, resp.HistoryId, nil
}

// GetMessage fetches and decodes one message
func (c *Client) GetMessage(ctx context.Context, messageID string) (*Message, error) {
	msg, err := c.service.Users.Messages.Get(c.userID, messageID).
		Format("full").
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}

	return parseMessage(msg), nil
}

func parseMessage(msg *gmail.Message) *Message {
	result := &Message{ID: msg.Id}

	if msg.Payload != nil {
		for _, header := range msg.Payload.Headers {
			switch strings.ToLower(header.Name) {
			case "from":
				result.From = header.Value
			case "subject":
				result.Subject = header.Value
			case "content-language":
				result.Locale = header.Value
			case "date":
				if t, err := parseDate(header.Value); err == nil {
					result.Date = t
				}
			}
		}

		result.Body = extractBody(msg.Payload)
	}

	if result.Body == "" {
		result.Body = msg.Snippet
	}
	if result.Date.IsZero() {
		result.Date = time.UnixMilli(msg.InternalDate)
	}

	return result
}

// extractBody pulls plain text out of the payload, preferring text/plain
// parts and falling back to stripped text/html.
func extractBody(payload *gmail.MessagePart) string {
	if payload.Body != nil && payload.Body.Data != "" {
		if decoded, err := base64.URLEncoding.DecodeString(payload.Body.Data); err == nil {
			return string(decoded)
		}
	}

	var htmlBody string
	for _, part := range payload.Parts {
		if part.MimeType == "text/plain" {
			if part.Body != nil && part.Body.Data != "" {
				if decoded, err := base64.URLEncoding.DecodeString(part.Body.Data); err == nil {
					return string(decoded)
				}
			}
		}
		if part.MimeType == "text/html" {
			if part.Body != nil && part.Body.Data != "" {
				if decoded, err := base64.URLEncoding.DecodeString(part.Body.Data); err == nil {
					htmlBody = stripHTML(string(decoded))
				}
			}
		}
		if len(part.Parts) > 0 {
			if body := extractBody(part); body != "" {
				return body
			}
		}
	}

	return htmlBody
}

// parseDate tries the mail date formats seen in the wild
func parseDate(s string) (time.Time, error) {
	formats := []string{
		time.RFC1123Z,
		time.RFC1123,
		"Mon, 2 Jan 2006 15:04:05 -0700",
		"2 Jan 2006 15:04:05 -0700",
		time.RFC822Z,
		time.RFC822,
	}

	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unable to parse date: %s", s)
}

// stripHTML removes tags and collapses whitespace
func stripHTML(s string) string {
	var result strings.Builder
	inTag := false

	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			result.WriteRune(r)
		}
	}

	lines := strings.Split(result.String(), "\n")
	cleaned := make([]string, 0, len(lines))
	for _, line := range lines {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			cleaned = append(cleaned, trimmed)
		}
	}

	return strings.Join(cleaned, "\n")
}
