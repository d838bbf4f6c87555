package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptobox-parser/internal/adapters/repo"
	"cryptobox-parser/internal/domain"
	"cryptobox-parser/internal/infra/cache"
)

type cli struct {
	store *repo.Memory
	app   *app
}

func newCLI(t *testing.T) *cli {
	t.Helper()
	backend := cache.NewMemory(0)
	t.Cleanup(backend.Close)

	c := &cli{store: repo.NewMemory(), app: &app{}}
	c.app.wire(c.store, backend, time.Minute, zerolog.Nop())
	return c
}

func (c *cli) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd(func(context.Context) (*app, error) { return c.app, nil })
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestAddCheckRemove(t *testing.T) {
	c := newCLI(t)

	out, err := c.run(t, "add", "user", "42", "--reason", "scam", "--for", "72h")
	require.NoError(t, err)
	assert.Contains(t, out, "user 42 restricted")
	assert.Contains(t, out, "from now")

	_, err = c.store.UserByID(context.Background(), 42)
	require.NoError(t, err, "add creates a missing target")

	_, err = c.run(t, "add", "user", "42")
	assert.ErrorContains(t, err, "already restricted")

	out, err = c.run(t, "check", "user", "42")
	require.NoError(t, err)
	assert.Contains(t, out, "user 42 is restricted")
	assert.Contains(t, out, "scam")

	out, err = c.run(t, "remove", "user", "42", "-r", "appeal")
	require.NoError(t, err)
	assert.Contains(t, out, "1 entries closed")

	out, err = c.run(t, "check", "user", "42")
	require.NoError(t, err)
	assert.Contains(t, out, "not restricted")

	_, err = c.run(t, "remove", "user", "42")
	assert.ErrorContains(t, err, "not restricted")

	out, err = c.run(t, "history", "user", "42")
	require.NoError(t, err)
	assert.Contains(t, out, "amnestied")
}

func TestAddChat(t *testing.T) {
	c := newCLI(t)

	out, err := c.run(t, "add", "chat", "--chat-type", "channel", "--", "-100")
	require.NoError(t, err)
	assert.Contains(t, out, "release permanent")

	chat, err := c.store.ChatByID(context.Background(), -100)
	require.NoError(t, err)
	assert.Equal(t, domain.ChatTypeChannel, chat.Type)

	out, err = c.run(t, "list", "chat")
	require.NoError(t, err)
	assert.Contains(t, out, "-100")
	assert.Contains(t, out, "1 of 1 restricted chats")
}

func TestArgumentErrors(t *testing.T) {
	c := newCLI(t)

	_, err := c.run(t, "add", "group", "1")
	assert.ErrorContains(t, err, "unknown target kind")

	_, err = c.run(t, "add", "user", "abc")
	assert.ErrorContains(t, err, "invalid id")

	_, err = c.run(t, "add", "user", "1", "--for", "1h", "--until", "2030-01-01T00:00:00Z")
	assert.ErrorContains(t, err, "mutually exclusive")

	_, err = c.run(t, "add", "chat", "1", "--chat-type", "forum")
	assert.ErrorContains(t, err, "invalid --chat-type")
}

func TestDeleteEntry(t *testing.T) {
	c := newCLI(t)

	_, err := c.run(t, "add", "user", "7")
	require.NoError(t, err)
	entries, err := c.app.users.History(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	out, err := c.run(t, "delete-entry", "user", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "entry #1 deleted")

	restricted, err := c.app.users.IsRestricted(context.Background(), 7)
	require.NoError(t, err)
	assert.False(t, restricted)
}

func TestLatestRelease(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	soon := now.Add(time.Hour)
	later := now.Add(48 * time.Hour)

	assert.Equal(t, "-", latestRelease(nil, now))
	assert.Equal(t, "2 days from now", latestRelease([]domain.BlacklistEntry{{ReleaseAt: &soon}, {ReleaseAt: &later}}, now))
	assert.Equal(t, "permanent", latestRelease([]domain.BlacklistEntry{{ReleaseAt: &soon}, {}}, now))
}
