package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/term"
)

// TestStdinFdCrossplatform verifies that os.Stdin.Fd() can be cast to int for
// golang.org/x/term on every platform.
func TestStdinFdCrossplatform(t *testing.T) {
	stdinFd := int(os.Stdin.Fd())
	assert.GreaterOrEqual(t, stdinFd, 0, "stdin file descriptor should be non-negative")

	isTerminal := term.IsTerminal(stdinFd)
	t.Logf("stdin fd=%d, isTerminal=%v", stdinFd, isTerminal)
}

// verifyServer accepts only validKey on /api/v1/auth/verify.
func verifyServer(t *testing.T, validKey string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/auth/verify" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if r.Header.Get("X-API-Key") != validKey {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":{"code":"UNAUTHORIZED","message":"Invalid API key"}}`))
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"valid": true, "auth": "api-key", "name": "ci"})
	}))
	t.Cleanup(srv.Close)
	return srv
}

// withHome points the credential store at a temp directory.
func withHome(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	return dir
}

// withStdin feeds input as a non-terminal stdin.
func withStdin(t *testing.T, input string) {
	t.Helper()
	r, w, err := os.Pipe()
	require.NoError(t, err)
	go func() {
		defer w.Close()
		io.WriteString(w, input)
	}()

	orig := os.Stdin
	os.Stdin = r
	t.Cleanup(func() {
		os.Stdin = orig
		r.Close()
	})
}

func TestAuthLoginWithFlags(t *testing.T) {
	resetGlobals(t)
	srv := verifyServer(t, "cs_key_valid")
	withHome(t)

	t.Run("successful login with valid key", func(t *testing.T) {
		var out bytes.Buffer
		err := runAuthLogin(context.Background(), &out, srv.URL, "cs_key_valid")
		require.NoError(t, err)

		assert.Equal(t, "cs_key_valid", getCredential(srv.URL))
		assert.Contains(t, out.String(), "Authenticated to "+srv.URL)

		creds, err := loadCredentials()
		require.NoError(t, err)
		assert.Equal(t, "ci", creds.Servers[srv.URL].Name)
	})

	t.Run("failed login with invalid key", func(t *testing.T) {
		err := runAuthLogin(context.Background(), io.Discard, srv.URL, "cs_key_other")
		assert.ErrorIs(t, err, ErrInvalidAPIKey)
		// the earlier credential survives
		assert.Equal(t, "cs_key_valid", getCredential(srv.URL))
	})

	t.Run("unreachable server", func(t *testing.T) {
		err := runAuthLogin(context.Background(), io.Discard, "http://127.0.0.1:1", "cs_key_valid")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to validate credentials")
	})
}

func TestAuthLoginFromStdin(t *testing.T) {
	resetGlobals(t)
	srv := verifyServer(t, "piped-key")

	tests := []struct {
		name  string
		input string
	}{
		{"simple key", "piped-key\n"},
		{"trailing whitespace", "  piped-key  \n"},
		{"no newline", "piped-key"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			withHome(t)
			withStdin(t, tt.input)

			err := runAuthLogin(context.Background(), io.Discard, srv.URL, "")
			require.NoError(t, err)
			assert.Equal(t, "piped-key", getCredential(srv.URL))
		})
	}

	t.Run("empty input", func(t *testing.T) {
		withHome(t)
		withStdin(t, "\n")

		err := runAuthLogin(context.Background(), io.Discard, srv.URL, "")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "cannot be empty")
	})
}

func TestAuthLogout(t *testing.T) {
	resetGlobals(t)
	withHome(t)

	require.NoError(t, saveCredential("http://one:8080", ServerCredential{APIKey: "key-one"}))
	require.NoError(t, saveCredential("http://two:8080", ServerCredential{APIKey: "key-two"}))

	var out bytes.Buffer
	require.NoError(t, runAuthLogout(&out, "http://one:8080", false))
	assert.Contains(t, out.String(), "Logged out from http://one:8080")
	assert.Empty(t, getCredential("http://one:8080"))
	assert.Equal(t, "key-two", getCredential("http://two:8080"))

	out.Reset()
	require.NoError(t, runAuthLogout(&out, "http://one:8080", false))
	assert.Contains(t, out.String(), "No credentials found")

	require.NoError(t, runAuthLogout(io.Discard, "", true))
	_, err := os.Stat(credentialsFilePath())
	assert.True(t, os.IsNotExist(err))

	// nothing left to clear
	require.NoError(t, runAuthLogout(io.Discard, "", true))
	out.Reset()
	require.NoError(t, runAuthLogout(&out, "http://two:8080", false))
	assert.Contains(t, out.String(), "No credentials found")
}

func TestAuthStatus(t *testing.T) {
	resetGlobals(t)
	withHome(t)

	var out bytes.Buffer
	require.NoError(t, runAuthStatus(&out))
	assert.Contains(t, out.String(), "Not authenticated to any servers")

	require.NoError(t, saveCredential("https://b.example", ServerCredential{APIKey: "cs_key_bbbbbbbbbbbb"}))
	require.NoError(t, saveCredential("https://a.example", ServerCredential{APIKey: "cs_key_aaaaaaaaaaaa", Name: "ci"}))

	out.Reset()
	require.NoError(t, runAuthStatus(&out))
	got := out.String()
	assert.Contains(t, got, "https://a.example (ci, key: cs_key_a...aaaa)")
	assert.Contains(t, got, "https://b.example (key: cs_key_b...bbbb)")
	assert.Less(t, bytes.Index(out.Bytes(), []byte("a.example")), bytes.Index(out.Bytes(), []byte("b.example")))
}

func TestCredentialPermissions(t *testing.T) {
	if os.Getenv("GOOS") == "windows" {
		t.Skip("POSIX permissions")
	}
	home := withHome(t)

	require.NoError(t, saveCredential("http://test:8080", ServerCredential{APIKey: "test-key"}))

	info, err := os.Stat(filepath.Join(home, ".chainscout"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o700), info.Mode().Perm(), "credentials directory should be owner-only")

	info, err = os.Stat(filepath.Join(home, ".chainscout", "credentials"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm(), "credentials file should be owner-only")
}

func TestCredentialOverwrite(t *testing.T) {
	withHome(t)
	serverURL := "http://test:8080"

	require.NoError(t, saveCredential(serverURL, ServerCredential{APIKey: "old-key"}))
	assert.Equal(t, "old-key", getCredential(serverURL))

	require.NoError(t, saveCredential(serverURL, ServerCredential{APIKey: "new-key"}))
	assert.Equal(t, "new-key", getCredential(serverURL))
}

func TestAuthCommandStructure(t *testing.T) {
	cmd := createAuthCmd()
	assert.Equal(t, "auth", cmd.Use)

	var names []string
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"login", "logout", "status"}, names)

	login := createAuthLoginCmd()
	require.NotNil(t, login.Flags().Lookup("server"))
	require.NotNil(t, login.Flags().Lookup("api-key"))

	logout := createAuthLogoutCmd()
	require.NotNil(t, logout.Flags().Lookup("all"))
	assert.Equal(t, "false", logout.Flags().Lookup("all").DefValue)
}
