package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCommandLineArgs(t *testing.T) {
	var stderr bytes.Buffer
	args, err := parseCommandLineArgs([]string{"--departure", "서울", "--time", "6", "--auto-pay", "--interactive=false"}, &stderr)
	require.NoError(t, err)
	assert.Equal(t, cmdRun, args.Command)
	assert.Equal(t, "서울", args.Departure)
	assert.Equal(t, "6", args.Hour)
	assert.True(t, args.AutoPay)
	assert.False(t, args.Interactive)
	assert.True(t, args.set["auto-pay"])
	assert.False(t, args.set["telegram"])
	assert.Equal(t, "default", args.Profile)
}

func TestParseSubcommands(t *testing.T) {
	var stderr bytes.Buffer
	args, err := parseCommandLineArgs([]string{"credentials", "set", "card"}, &stderr)
	require.NoError(t, err)
	assert.Equal(t, cmdCredentials, args.Command)
	assert.Equal(t, []string{"set", "card"}, args.Rest)

	args, err = parseCommandLineArgs([]string{"login", "--no-headless"}, &stderr)
	require.NoError(t, err)
	assert.Equal(t, cmdLogin, args.Command)
	assert.True(t, args.NoHeadless)

	_, err = parseCommandLineArgs([]string{"book"}, &stderr)
	assert.Error(t, err)
	assert.Contains(t, stderr.String(), `Unknown command "book"`)

	args, err = parseCommandLineArgs([]string{"--help"}, &stderr)
	require.NoError(t, err)
	assert.True(t, args.ShowHelp)
}
