// Package matrix posts operator notices to a Matrix room.
package matrix

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// Config holds Matrix client configuration.
type Config struct {
	Homeserver  string
	UserID      string
	AccessToken string
}

// Client wraps the Matrix client. It only sends; it never syncs.
type Client struct {
	client *mautrix.Client
}

// New creates a new Matrix client.
func New(cfg Config) (*Client, error) {
	if cfg.Homeserver == "" || cfg.AccessToken == "" {
		return nil, errors.New("matrix: homeserver and access token are required")
	}
	client, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Matrix client: %w", err)
	}
	return &Client{client: client}, nil
}

// JoinRoom joins roomID. Being already joined (or refused) is logged and
// tolerated so that startup never depends on room membership changes.
func (c *Client) JoinRoom(ctx context.Context, roomID string) error {
	_, err := c.client.JoinRoomByID(ctx, id.RoomID(roomID))
	if err != nil {
		if errors.Is(err, mautrix.MForbidden) {
			slog.Warn("matrix: join refused, continuing", "room", roomID)
			return nil
		}
		return fmt.Errorf("join room %s: %w", roomID, err)
	}
	return nil
}

// SendNotice sends an m.notice message.
func (c *Client) SendNotice(ctx context.Context, roomID, message string) error {
	content := event.MessageEventContent{
		MsgType: event.MsgNotice,
		Body:    message,
	}
	if _, err := c.client.SendMessageEvent(ctx, id.RoomID(roomID), event.EventMessage, &content); err != nil {
		return fmt.Errorf("failed to send notice: %w", err)
	}
	return nil
}
