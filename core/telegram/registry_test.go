package telegram

import (
	"testing"

	"github.com/m3rciful/pizzabot/core/telegram/commands"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tele "gopkg.in/telebot.v4"
)

func TestRegistryCommands(t *testing.T) {
	noop := func(tele.Context) error { return nil }
	reg := NewRegistry()
	reg.RegisterCommand("/start", commands.Command{Handler: noop, Description: "menu", Aliases: []string{"menu"}})
	reg.RegisterCommand("/debug", commands.Command{Handler: noop, Description: "debug", Hidden: true})
	reg.RegisterCommand("start", commands.Command{Handler: noop, Description: "no slash"})
	reg.RegisterCommand("/start", commands.Command{Handler: noop, Description: "duplicate"})
	reg.RegisterCommand("/empty", commands.Command{Handler: noop})

	require.Len(t, reg.Commands(), 2)
	assert.Equal(t, "menu", reg.Commands()["/start"].Description)

	visible := reg.ListCommands(true)
	require.Len(t, visible, 1)
	assert.Equal(t, "start", visible[0].Text)
	assert.Len(t, reg.ListCommands(false), 2)

	key, _, ok := reg.LookupCommand("menu")
	assert.True(t, ok)
	assert.Equal(t, "/start", key)
	_, _, ok = reg.LookupCommand("Москва, Тверская 1")
	assert.False(t, ok)
}
