package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/songbird-terrace/waivers/internal/domain"
	"github.com/songbird-terrace/waivers/internal/signing"
	"github.com/songbird-terrace/waivers/internal/store"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func decodeEnvelope(t *testing.T, raw string, data interface{}) {
	t.Helper()
	var env struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(raw), &env), raw)
	assert.Equal(t, "ok", env.Status)
	if data != nil {
		require.NoError(t, json.Unmarshal(env.Data, data))
	}
}

func TestRootCommand_InvalidFormat(t *testing.T) {
	_, err := run(t, "--format", "yaml", "render", "--sample", "-o", filepath.Join(t.TempDir(), "x.pdf"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitSuccess, GetExitCode(nil))
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("boom")))
	assert.Equal(t, ExitCommandError, GetExitCode(WrapExitError(ExitCommandError, "bad", nil)))

	wrapped := WrapExitError(ExitFailure, "render", domain.ErrNotYetSigned)
	assert.ErrorIs(t, wrapped, domain.ErrNotYetSigned)
	assert.Equal(t, "render: session not yet signed", wrapped.Error())
}

func TestRender_Sample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.pdf")

	out, err := run(t, "--format", "json", "render", "--sample", "-o", path)
	require.NoError(t, err)

	var data struct {
		Path  string `json:"path"`
		Pages int    `json:"pages"`
	}
	decodeEnvelope(t, out, &data)
	assert.Equal(t, path, data.Path)
	assert.Equal(t, 2, data.Pages)

	pdf, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(pdf, []byte("%PDF-")))
}

func TestRender_RejectsArgsWithSample(t *testing.T) {
	_, err := run(t, "render", "--sample", "abc")
	require.Error(t, err)
}

func TestRender_SignedSession(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "waivers.db")
	repo, err := store.Open(context.Background(), dbPath)
	require.NoError(t, err)

	mgr := signing.NewManager(repo, nil)
	session, err := mgr.CreateSession(context.Background(), domain.NewSession{Name: "Jane Doe"})
	require.NoError(t, err)
	_, err = mgr.SubmitSignature(context.Background(), session.ID, domain.SignerDetails{
		Name:              "Jane Doe",
		Address:           "1 Main St",
		Email:             "jane@example.com",
		Phone:             "555-0100",
		SignatureData:     sampleSignature,
		AgreementSnapshot: "Terms",
	})
	require.NoError(t, err)
	require.NoError(t, repo.Close())

	path := filepath.Join(t.TempDir(), "jane.pdf")
	out, err := run(t, "--database-url", dbPath, "render", session.ID, "-o", path)
	require.NoError(t, err)
	assert.Contains(t, out, "wrote "+path)

	_, err = os.Stat(path)
	require.NoError(t, err)
}

func TestRender_UnsignedSession(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "waivers.db")

	_, err := run(t, "--database-url", dbPath, "render", "missing-session", "-o", filepath.Join(t.TempDir(), "x.pdf"))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNotYetSigned)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestSessionCommands(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "waivers.db")

	out, err := run(t, "--database-url", dbPath, "--format", "json",
		"session", "create", "--name", "Jane Doe", "--email", "jane@example.com", "--base-url", "https://waivers.example.com/")
	require.NoError(t, err)

	var created struct {
		Session domain.SigningSession `json:"session"`
		SignURL string                `json:"signUrl"`
	}
	decodeEnvelope(t, out, &created)
	require.NotEmpty(t, created.Session.ID)
	assert.Equal(t, "https://waivers.example.com/sign/"+created.Session.ID, created.SignURL)
	assert.Equal(t, "Jane Doe", created.Session.DesignatedName)

	out, err = run(t, "--database-url", dbPath, "--format", "json", "session", "list")
	require.NoError(t, err)
	var sessions []domain.SigningSession
	decodeEnvelope(t, out, &sessions)
	require.Len(t, sessions, 1)
	assert.Equal(t, created.Session.ID, sessions[0].ID)
	assert.False(t, sessions[0].IsSigned)

	out, err = run(t, "--database-url", dbPath, "session", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "ID")
	assert.Contains(t, out, "Jane Doe")

	_, err = run(t, "--database-url", dbPath, "session", "delete", created.Session.ID)
	require.NoError(t, err)

	_, err = run(t, "--database-url", dbPath, "session", "delete", created.Session.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestSessionCreate_InvalidEmail(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "waivers.db")

	_, err := run(t, "--database-url", dbPath, "session", "create", "--email", "not-an-address")
	require.Error(t, err)
	var verr *domain.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestTemplateCommands(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "waivers.db")
	file := filepath.Join(dir, "waiver.txt")
	require.NoError(t, os.WriteFile(file, []byte("I accept the risks."), 0o644))

	_, err := run(t, "--database-url", dbPath, "template", "show")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	out, err := run(t, "--database-url", dbPath, "template", "set", file)
	require.NoError(t, err)
	assert.Contains(t, out, `saved "Standard Waiver" version 1`)

	out, err = run(t, "--database-url", dbPath, "template", "set", "--name", "Summer", file)
	require.NoError(t, err)
	assert.Contains(t, out, `saved "Summer" version 2`)

	out, err = run(t, "--database-url", dbPath, "--format", "json", "template", "show")
	require.NoError(t, err)
	var tpl domain.AgreementTemplate
	decodeEnvelope(t, out, &tpl)
	assert.Equal(t, "Summer", tpl.Name)
	assert.Equal(t, 2, tpl.Version)
	assert.Equal(t, "I accept the risks.", tpl.Content)
}

func TestTemplateSet_MissingFile(t *testing.T) {
	_, err := run(t, "--database-url", filepath.Join(t.TempDir(), "w.db"), "template", "set", "/does/not/exist.txt")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
