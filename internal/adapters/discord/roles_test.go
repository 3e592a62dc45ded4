package discord

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jose-valero/lfg-queue-bot/internal/domain"
)

func restErr(code int) error {
	return &discordgo.RESTError{Response: &http.Response{StatusCode: code}}
}

func TestClassify(t *testing.T) {
	rl := &discordgo.RateLimitError{RateLimit: &discordgo.RateLimit{
		TooManyRequests: &discordgo.TooManyRequests{RetryAfter: time.Second},
		URL:             "/guilds/1/roles",
	}}

	cases := []struct {
		name      string
		err       error
		goneOK    bool
		wantNil   bool
		transient bool
	}{
		{name: "ok", err: nil, wantNil: true},
		{name: "404 revoke", err: restErr(http.StatusNotFound), goneOK: true, wantNil: true},
		{name: "404 grant", err: restErr(http.StatusNotFound)},
		{name: "403", err: restErr(http.StatusForbidden)},
		{name: "429", err: restErr(http.StatusTooManyRequests), transient: true},
		{name: "502", err: restErr(http.StatusBadGateway), transient: true},
		{name: "rate limit", err: rl, transient: true},
		{name: "network", err: io.ErrUnexpectedEOF, transient: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := classify("grant", tc.err, tc.goneOK)
			if tc.wantNil {
				assert.NoError(t, got)
				return
			}
			require.Error(t, got)
			assert.Equal(t, tc.transient, domain.IsTransient(got))
			assert.Equal(t, !tc.transient, errors.Is(got, domain.ErrAdapterPermanent))
			assert.ErrorIs(t, got, tc.err)
		})
	}
}

type fakeRoleAPI struct {
	created []string
	added   [][3]string
	removed [][3]string
	deleted []string
	err     error
}

func (f *fakeRoleAPI) GuildRoleCreate(guildID string, data *discordgo.RoleParams, _ ...discordgo.RequestOption) (*discordgo.Role, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.created = append(f.created, data.Name)
	return &discordgo.Role{ID: "r1", Name: data.Name, Mentionable: *data.Mentionable}, nil
}

func (f *fakeRoleAPI) GuildRoleDelete(guildID, roleID string, _ ...discordgo.RequestOption) error {
	f.deleted = append(f.deleted, roleID)
	return f.err
}

func (f *fakeRoleAPI) GuildMemberRoleAdd(guildID, userID, roleID string, _ ...discordgo.RequestOption) error {
	f.added = append(f.added, [3]string{guildID, userID, roleID})
	return f.err
}

func (f *fakeRoleAPI) GuildMemberRoleRemove(guildID, userID, roleID string, _ ...discordgo.RequestOption) error {
	f.removed = append(f.removed, [3]string{guildID, userID, roleID})
	return f.err
}

func TestRoleAdapter(t *testing.T) {
	ctx := context.Background()
	api := &fakeRoleAPI{}
	a := NewRoleAdapter(api, 1000, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ref, err := a.CreateHandle(ctx, "g1", "Ranked")
	require.NoError(t, err)
	assert.Equal(t, domain.HandleRef{GuildID: "g1", ID: "r1"}, ref)
	assert.Equal(t, []string{"Ranked"}, api.created)

	require.NoError(t, a.Grant(ctx, ref, "u1"))
	require.NoError(t, a.Revoke(ctx, ref, "u1"))
	require.NoError(t, a.DeleteHandle(ctx, ref))
	assert.Equal(t, [][3]string{{"g1", "u1", "r1"}}, api.added)
	assert.Equal(t, [][3]string{{"g1", "u1", "r1"}}, api.removed)
	assert.Equal(t, []string{"r1"}, api.deleted)

	// el miembro ya no está: revoke ok, grant permanente
	api.err = restErr(http.StatusNotFound)
	assert.NoError(t, a.Revoke(ctx, ref, "u2"))
	assert.ErrorIs(t, a.Grant(ctx, ref, "u2"), domain.ErrAdapterPermanent)

	api.err = restErr(http.StatusInternalServerError)
	_, err = a.CreateHandle(ctx, "g1", "Casual")
	assert.True(t, domain.IsTransient(err))
}

func TestRoleAdapterCancelledContext(t *testing.T) {
	api := &fakeRoleAPI{}
	a := NewRoleAdapter(api, 0.001, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx := context.Background()
	require.NoError(t, a.Grant(ctx, domain.HandleRef{GuildID: "g1", ID: "r1"}, "u1"))

	// sin tokens y el ctx se corta: transitorio, no se llama a Discord
	ctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	err := a.Grant(ctx, domain.HandleRef{GuildID: "g1", ID: "r1"}, "u2")
	assert.True(t, domain.IsTransient(err))
	assert.Len(t, api.added, 1)
}

type fakeMessageAPI struct {
	channel string
	sent    *discordgo.MessageSend
}

func (f *fakeMessageAPI) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.channel, f.sent = channelID, data
	return &discordgo.Message{ID: "m1", ChannelID: channelID, Content: data.Content}, nil
}

func TestChannelNotifier(t *testing.T) {
	api := &fakeMessageAPI{}
	n := NewChannelNotifier(api)

	require.NoError(t, n.Notify(context.Background(), "c1", "<@u1> se te venció la cola"))
	assert.Equal(t, "c1", api.channel)
	assert.Equal(t, "<@u1> se te venció la cola", api.sent.Content)
	require.NotNil(t, api.sent.AllowedMentions)
	assert.Equal(t, []discordgo.AllowedMentionType{discordgo.AllowedMentionTypeUsers}, api.sent.AllowedMentions.Parse)
}
