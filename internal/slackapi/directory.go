package slackapi

import (
	"context"
	"net/url"
	"strconv"
	"time"

	"github.com/bigkaa/archive-migrator/internal/domain/model"
)

type channel struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type user struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	RealName string `json:"real_name"`
	Profile  struct {
		RealName    string `json:"real_name"`
		DisplayName string `json:"display_name"`
	} `json:"profile"`
}

func (u user) toModel(now time.Time) model.User {
	realName := u.RealName
	if realName == "" {
		realName = u.Profile.RealName
	}
	return model.User{ID: u.ID, Name: u.Name, RealName: realName, UpdatedAt: now}
}

// ListChannels возвращает страницу conversations.list и курсор следующей.
func (c *Client) ListChannels(ctx context.Context, cursor string) ([]model.Channel, string, error) {
	params := url.Values{}
	params.Set("types", "public_channel,private_channel")
	params.Set("limit", strconv.Itoa(c.pageSize))
	if cursor != "" {
		params.Set("cursor", cursor)
	}

	var resp struct {
		Channels []channel `json:"channels"`
	}
	next, err := c.call(ctx, "conversations.list", params, &resp)
	if err != nil {
		return nil, "", err
	}
	now := time.Now().UTC()
	out := make([]model.Channel, 0, len(resp.Channels))
	for _, ch := range resp.Channels {
		out = append(out, model.Channel{ID: ch.ID, Name: ch.Name, UpdatedAt: now})
	}
	return out, next, nil
}

// ListUsers возвращает страницу users.list и курсор следующей.
func (c *Client) ListUsers(ctx context.Context, cursor string) ([]model.User, string, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(c.pageSize))
	if cursor != "" {
		params.Set("cursor", cursor)
	}

	var resp struct {
		Members []user `json:"members"`
	}
	next, err := c.call(ctx, "users.list", params, &resp)
	if err != nil {
		return nil, "", err
	}
	now := time.Now().UTC()
	out := make([]model.User, 0, len(resp.Members))
	for _, u := range resp.Members {
		out = append(out, u.toModel(now))
	}
	return out, next, nil
}

// ChannelInfo возвращает канал (conversations.info).
func (c *Client) ChannelInfo(ctx context.Context, channelID string) (*model.Channel, error) {
	params := url.Values{}
	params.Set("channel", channelID)

	var resp struct {
		Channel channel `json:"channel"`
	}
	if _, err := c.call(ctx, "conversations.info", params, &resp); err != nil {
		return nil, err
	}
	return &model.Channel{ID: resp.Channel.ID, Name: resp.Channel.Name, UpdatedAt: time.Now().UTC()}, nil
}

// UserInfo возвращает пользователя (users.info).
func (c *Client) UserInfo(ctx context.Context, userID string) (*model.User, error) {
	params := url.Values{}
	params.Set("user", userID)

	var resp struct {
		User user `json:"user"`
	}
	if _, err := c.call(ctx, "users.info", params, &resp); err != nil {
		return nil, err
	}
	u := resp.User.toModel(time.Now().UTC())
	return &u, nil
}
