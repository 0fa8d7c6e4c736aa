package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "kudos", cmd.Use)
	assert.Contains(t, cmd.Long, "rolled back")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := [][]string{
		{"login"}, {"register"}, {"logout"}, {"whoami"}, {"sync"},
		{"leaderboard"}, {"feed"}, {"employees"}, {"badges"},
		{"send"}, {"rewards"}, {"redeem"}, {"role"}, {"journal"}, {"twin"},
		{"project", "list"}, {"project", "create"}, {"project", "update"}, {"project", "delete"},
		{"project", "assign"}, {"project", "unassign"}, {"project", "reassign"},
	}

	for _, path := range commands {
		name := path[len(path)-1]
		t.Run(name, func(t *testing.T) {
			subCmd, _, err := cmd.Find(path)
			require.NoError(t, err, "Command %v should exist", path)
			require.NotNil(t, subCmd)
			assert.Equal(t, name, subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag)
	assert.Equal(t, "", configFlag.DefValue)
}

func TestSendCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	sendCmd, _, err := cmd.Find([]string{"send"})
	require.NoError(t, err)

	messageFlag := sendCmd.Flags().Lookup("message")
	require.NotNil(t, messageFlag)
	assert.Equal(t, "m", messageFlag.Shorthand)
}

func TestLoginRequiresEmail(t *testing.T) {
	_, _, err := execute(t, "login", "--password", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required flag")
	assert.Contains(t, err.Error(), "email")
}

func TestInvalidFormat(t *testing.T) {
	_, _, err := execute(t, "journal", "--format", "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}
