package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	cmds := rootCmd.Commands()

	names := make(map[string]bool)
	for _, c := range cmds {
		names[c.Name()] = true
	}

	expected := []string{"deals", "process", "serve", "runs", "review", "facts", "export", "migrate-db"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "diligence-cli", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestProcessCommand_Flags(t *testing.T) {
	for _, flagName := range []string{"deal", "priority", "from-url", "from-ftp"} {
		flag := processCmd.Flags().Lookup(flagName)
		assert.NotNil(t, flag, "process should have --%s flag", flagName)
	}

	priority := processCmd.Flags().Lookup("priority")
	require.NotNil(t, priority)
	assert.Equal(t, "normal", priority.DefValue)
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestRunsCommand_HasSubcommands(t *testing.T) {
	cmds := runsCmd.Commands()
	names := make(map[string]bool)
	for _, c := range cmds {
		names[c.Name()] = true
	}

	for _, name := range []string{"status", "diff"} {
		assert.True(t, names[name], "runs should have subcommand %q", name)
	}
}

func TestRunsDiffCommand_Flags(t *testing.T) {
	for _, flagName := range []string{"deal", "base", "target"} {
		flag := runsDiffCmd.Flags().Lookup(flagName)
		assert.NotNil(t, flag, "runs diff should have --%s flag", flagName)
	}
}

func TestReviewCommand_HasSubcommands(t *testing.T) {
	cmds := reviewCmd.Commands()
	names := make(map[string]bool)
	for _, c := range cmds {
		names[c.Name()] = true
	}

	for _, name := range []string{"list", "apply", "reject"} {
		assert.True(t, names[name], "review should have subcommand %q", name)
	}
}

func TestFactsCommand_HasSubcommands(t *testing.T) {
	cmds := factsCmd.Commands()
	names := make(map[string]bool)
	for _, c := range cmds {
		names[c.Name()] = true
	}

	for _, name := range []string{"list", "verify", "delete"} {
		assert.True(t, names[name], "facts should have subcommand %q", name)
	}
}
