package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Hussein-Mazeh/vaultcore/internal/service"
	"github.com/Hussein-Mazeh/vaultcore/internal/vault"
	"github.com/Hussein-Mazeh/vaultcore/krypto"
)

var fastParams = krypto.Argon2Params{MemoryMB: 1, Time: 1, Parallelism: 1, KeyLen: krypto.KeySize}

// run executes one pm invocation against dir, answering password prompts from passwords
// in order and feeding stdin to the command.
func run(t *testing.T, dir, stdin string, passwords []string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("PM_LOG_LEVEL", "error")

	a := newApp()
	a.kdf = &fastParams
	// Each invocation gets its own manager; the process-wide registry accepts only one.
	var registered *vault.Manager
	a.register = func(m *vault.Manager) error {
		if registered != nil {
			return vault.ErrManagerRegistered
		}
		registered = m
		return nil
	}
	a.service = func(opts ...service.Option) (*service.Service, error) {
		if registered == nil {
			return nil, vault.ErrManagerNotRegistered
		}
		return service.New(registered, opts...), nil
	}
	a.password = func(w io.Writer, prompt string) ([]byte, error) {
		if len(passwords) == 0 {
			return nil, errors.New("unexpected prompt: " + prompt)
		}
		pw := passwords[0]
		passwords = passwords[1:]
		return []byte(pw), nil
	}

	root := newRootCmd(a)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(append([]string{"--dir", dir}, args...))

	err := root.Execute()
	a.close()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := run(t, t.TempDir(), "", nil, "version")
	require.NoError(t, err)
	assert.Equal(t, cliVersion+"\n", out)
}

func TestInitStatusAndChangePassword(t *testing.T) {
	dir := t.TempDir()

	out, err := run(t, dir, "", nil, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "not initialized")

	_, err = run(t, dir, "", []string{"CorrectHorse9", "Mismatch99"}, "init")
	var uerr userError
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, "passwords do not match", uerr.msg)

	out, err = run(t, dir, "", []string{"CorrectHorse9", "CorrectHorse9"}, "init")
	require.NoError(t, err)
	assert.Contains(t, out, "vault: unlocked")

	out, err = run(t, dir, "", nil, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "vault: locked")

	_, err = run(t, dir, "", []string{"CorrectHorse9", "CorrectHorse9"}, "init")
	require.ErrorAs(t, err, &uerr)

	_, err = run(t, dir, "", []string{"wrong-password"}, "change-password")
	require.ErrorAs(t, err, &uerr)
	assert.Contains(t, uerr.msg, "invalid master password")

	out, err = run(t, dir, "", []string{"CorrectHorse9", "BatteryStaple7", "BatteryStaple7"}, "change-password")
	require.NoError(t, err)
	assert.Contains(t, out, "master password changed")

	out, err = run(t, dir, "exit\n", []string{"BatteryStaple7"}, "session")
	require.NoError(t, err)
	assert.Contains(t, out, "session unlocked")
}

func TestStatusJSON(t *testing.T) {
	out, err := run(t, t.TempDir(), "", nil, "--json", "status")
	require.NoError(t, err)

	var env struct {
		Success bool `json:"success"`
		Data    struct {
			State         string `json:"state"`
			IsInitialized bool   `json:"is_initialized"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &env))
	assert.True(t, env.Success)
	assert.Equal(t, "uninitialized", env.Data.State)
}

func TestSessionRecords(t *testing.T) {
	dir := t.TempDir()
	_, err := run(t, dir, "", []string{"CorrectHorse9", "CorrectHorse9"}, "init")
	require.NoError(t, err)

	script := strings.Join([]string{
		"add --user octocat --site github.com github",
		"get github",
		"list",
		"get missing",
		"lock",
		"get github",
		"unlock",
		"status",
		"exit",
	}, "\n") + "\n"

	out, err := run(t, dir, script, []string{"CorrectHorse9", "hunter2", "CorrectHorse9"}, "session")
	require.NoError(t, err)
	assert.Contains(t, out, "stored github (id=")
	assert.Contains(t, out, "github octocat: hunter2")
	assert.Contains(t, out, "github.com")
	assert.Contains(t, out, "vault: locked")
	assert.Contains(t, out, "vault: unlocked")
}

func TestSessionWrongPassword(t *testing.T) {
	dir := t.TempDir()
	_, err := run(t, dir, "", []string{"CorrectHorse9", "CorrectHorse9"}, "init")
	require.NoError(t, err)

	_, err = run(t, dir, "", []string{"nope-nope"}, "session")
	var uerr userError
	require.ErrorAs(t, err, &uerr)
}

func TestCheckPassword(t *testing.T) {
	out, err := run(t, t.TempDir(), "", []string{"abc"}, "check-password")
	require.NoError(t, err)
	assert.Contains(t, out, "does not meet policy")
	assert.Contains(t, out, "at least 8 characters")
}

func TestHealth(t *testing.T) {
	out, err := run(t, t.TempDir(), "", nil, "health")
	require.NoError(t, err)
	assert.Contains(t, out, "vault system healthy")
}

func TestSetupServesRegisteredManager(t *testing.T) {
	t.Setenv("PM_LOG_LEVEL", "error")

	a := newApp()
	a.kdf = &fastParams
	root := newRootCmd(a)
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)
	root.SetArgs([]string{"--dir", t.TempDir(), "status"})

	require.NoError(t, root.Execute())
	defer a.close()

	m, err := vault.Registered()
	require.NoError(t, err)
	assert.Same(t, m, a.svc.Manager())
}
