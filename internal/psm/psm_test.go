package psm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMachine_InitialState(t *testing.T) {
	m := New()
	s := m.State()
	assert.Equal(t, ModeBooting, s.Mode)
	assert.False(t, s.IsBlocked)
	assert.Equal(t, uint64(0), s.ModeSeq)
}

func TestMachine_ShellPromptTransitionsToShell(t *testing.T) {
	m := New()
	s := m.ConsumeOutput([]byte("Welcome\nuser@host:~$ "))
	assert.Equal(t, ModeShell, s.Mode)
	assert.False(t, s.IsBlocked)
	assert.Equal(t, uint64(1), s.ModeSeq)
}

func TestMachine_BlockedYesNoPrompt(t *testing.T) {
	m := New()
	m.ConsumeOutput([]byte("user@host:~$ "))
	s := m.ConsumeOutput([]byte("Apply these changes? (y/n) "))
	assert.Equal(t, ModeBlocked, s.Mode)
	assert.True(t, s.IsBlocked)
	assert.Contains(t, s.BlockedReason, "y/n")
}

func TestMachine_InputProvisionallyClearsBlocked(t *testing.T) {
	m := New()
	m.ConsumeOutput([]byte("Apply these changes? (y/n) "))
	require.True(t, m.State().IsBlocked)

	s := m.ConsumeInput([]byte("y\n"))
	assert.False(t, s.IsBlocked)

	// The prompt doesn't reassert: shell resumes.
	s = m.ConsumeOutput([]byte("\nuser@host:~$ "))
	assert.False(t, s.IsBlocked)
	assert.Equal(t, ModeShell, s.Mode)
}

func TestMachine_InputReassertingBlockedPromptStaysBlocked(t *testing.T) {
	m := New()
	m.ConsumeOutput([]byte("Apply these changes? (y/n) "))
	m.ConsumeInput([]byte("x\n"))

	// Invalid input: the prompt reprints.
	s := m.ConsumeOutput([]byte("Please answer y or n.\nApply these changes? (y/n) "))
	assert.True(t, s.IsBlocked)
	assert.Equal(t, ModeBlocked, s.Mode)
}

func TestMachine_AltScreenEntersTUI(t *testing.T) {
	m := New()
	s := m.ConsumeOutput([]byte("\x1b[?1049h\x1b[2J\x1b[H editor contents"))
	assert.Equal(t, ModeTUI, s.Mode)
	assert.True(t, s.AltScreen)
}

func TestMachine_AltScreenExitClearsFlag(t *testing.T) {
	m := New()
	m.ConsumeOutput([]byte("\x1b[?1049h contents"))
	require.True(t, m.State().AltScreen)

	s := m.ConsumeOutput([]byte("\x1b[?1049l\nuser@host:~$ "))
	assert.False(t, s.AltScreen)
	assert.Equal(t, ModeShell, s.Mode)
}

func TestMachine_ProviderMarkerSetsAgentMode(t *testing.T) {
	m := New()
	s := m.ConsumeOutput([]byte("\x1b]1337;ForklineEvent=provider-start:claude-code\x07"))
	assert.Equal(t, ModeAgent, s.Mode)
	assert.Equal(t, "claude-code", s.Provider)

	s = m.ConsumeOutput([]byte("\x1b]1337;ForklineEvent=provider-exit\x07\nuser@host:~$ "))
	assert.Equal(t, ModeShell, s.Mode)
}

func TestMachine_BracketedYesNoPromptDetectedAsBlocked(t *testing.T) {
	m := New()
	s := m.ConsumeOutput([]byte("Do you want to proceed? [y/N]"))
	assert.Equal(t, ModeBlocked, s.Mode)
	assert.True(t, s.IsBlocked)
	assert.Equal(t, "Do you want to proceed? [y/N]", s.BlockedReason)

	s = m.ConsumeInput([]byte("y\r"))
	assert.False(t, s.IsBlocked)

	s = m.ConsumeOutput([]byte("$ "))
	assert.False(t, s.IsBlocked)
	assert.Equal(t, ModeShell, s.Mode)
}

func TestMachine_ChunkBoundaryIdempotence(t *testing.T) {
	full := "Apply these changes? (y/n) "

	whole := New()
	wholeState := whole.ConsumeOutput([]byte(full))

	chunked := New()
	var lastState ModeState
	for i := 0; i < len(full); i++ {
		lastState = chunked.ConsumeOutput([]byte(full[i : i+1]))
	}

	assert.Equal(t, wholeState.Mode, lastState.Mode)
	assert.Equal(t, wholeState.IsBlocked, lastState.IsBlocked)
	assert.Equal(t, wholeState.BlockedReason, lastState.BlockedReason)
}

func TestMachine_ExitIsTerminal(t *testing.T) {
	m := New()
	m.ConsumeOutput([]byte("Apply these changes? (y/n) "))
	s := m.ConsumeExit(0, "")
	assert.Equal(t, ModeExited, s.Mode)

	// Further output is ignored once exited.
	s = m.ConsumeOutput([]byte("user@host:~$ "))
	assert.Equal(t, ModeExited, s.Mode)
}

func TestMachine_Reconcile(t *testing.T) {
	m := New()
	m.ConsumeOutput([]byte("user@host:~$ "))
	s := m.Reconcile()
	assert.Equal(t, ModeShell, s.Mode)
}
