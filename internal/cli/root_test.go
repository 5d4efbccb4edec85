package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "cascade", cmd.Use)
	assert.Contains(t, cmd.Long, "referral chain")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := []string{"serve", "run-now", "reconcile", "jobs", "seed", "history"}

	for _, cmdName := range commands {
		t.Run(cmdName, func(t *testing.T) {
			subCmd, _, err := cmd.Find([]string{cmdName})
			require.NoError(t, err, "Command %s should exist", cmdName)
			require.NotNil(t, subCmd)
			assert.Equal(t, cmdName, subCmd.Name())
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

	require.NotNil(t, cmd.PersistentFlags().Lookup("config"))
	require.NotNil(t, cmd.PersistentFlags().Lookup("db"))
}

func TestRunNowCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	runCmd, _, err := cmd.Find([]string{"run-now"})
	require.NoError(t, err)

	periodFlag := runCmd.Flags().Lookup("period")
	require.NotNil(t, periodFlag)
	assert.Equal(t, "", periodFlag.DefValue)
}

func TestReconcileCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	recCmd, _, err := cmd.Find([]string{"reconcile"})
	require.NoError(t, err)

	for _, name := range []string{"from", "to", "repair"} {
		assert.NotNil(t, recCmd.Flags().Lookup(name), name)
	}
	assert.Equal(t, "false", recCmd.Flags().Lookup("repair").DefValue)
}

func TestHistoryCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	histCmd, _, err := cmd.Find([]string{"history"})
	require.NoError(t, err)

	require.NotNil(t, histCmd.Flags().Lookup("account"))
	assert.Equal(t, "month", histCmd.Flags().Lookup("period").DefValue)
}

func TestInvalidFormat(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.run("jobs", "--format", "yaml")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "invalid format")
}
