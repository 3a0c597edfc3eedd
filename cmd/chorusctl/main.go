package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

const version = "0.1.0"

var serverURL string

func main() {
	rootCmd := &cobra.Command{
		Use:   "chorusctl",
		Short: "Chorus CLI - manage personas, aliases, and channels",
		Long: `chorusctl is a command-line interface for chorus servers.
All output is structured JSON (pipe through jq for human-readable formatting).`,
		Version: version,
	}

	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", getDefaultServer(), "Chorus server URL")

	rootCmd.AddCommand(newLoginCommand())
	rootCmd.AddCommand(newPersonaCommand())
	rootCmd.AddCommand(newAliasCommand())
	rootCmd.AddCommand(newChannelCommand())
	rootCmd.AddCommand(newSessionCommand())
	rootCmd.AddCommand(newBlackoutCommand())
	rootCmd.AddCommand(newStatusCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func getDefaultServer() string {
	if server := os.Getenv("CHORUS_SERVER"); server != "" {
		return server
	}
	return "http://localhost:8080"
}

// --- HTTP client ---

type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

func newClient() *Client {
	return &Client{
		BaseURL: serverURL,
		Token:   loadToken(),
		HTTP:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) do(method, path string, params url.Values, data interface{}) ([]byte, error) {
	u := fmt.Sprintf("%s%s", c.BaseURL, path)
	if params != nil {
		u += "?" + params.Encode()
	}

	var body io.Reader
	if data != nil {
		payload, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequest(method, u, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, string(out))
	}
	return out, nil
}

func printJSON(data []byte) {
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		fmt.Println(string(data))
		return
	}
	fmt.Println(buf.String())
}

// --- token persistence ---

func tokenPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".chorusctl-token"
	}
	return filepath.Join(home, ".chorusctl-token")
}

func loadToken() string {
	if token := os.Getenv("CHORUS_TOKEN"); token != "" {
		return token
	}
	data, err := os.ReadFile(tokenPath())
	if err != nil {
		return ""
	}
	return string(bytes.TrimSpace(data))
}

func saveToken(token string) error {
	return os.WriteFile(tokenPath(), []byte(token), 0o600)
}

// --- login ---

func newLoginCommand() *cobra.Command {
	var username string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authenticate and store a token",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(os.Stderr, "Password for %s: ", username)
			passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
			fmt.Fprintln(os.Stderr)
			if err != nil {
				return fmt.Errorf("failed to read password: %w", err)
			}

			c := newClient()
			out, err := c.do(http.MethodPost, "/api/v1/auth/login", nil, map[string]string{
				"username": username,
				"password": string(passwordBytes),
			})
			if err != nil {
				return err
			}

			var resp struct {
				Token string `json:"token"`
			}
			if err := json.Unmarshal(out, &resp); err != nil {
				return err
			}
			if err := saveToken(resp.Token); err != nil {
				return fmt.Errorf("failed to store token: %w", err)
			}
			fmt.Fprintf(os.Stderr, "Logged in as %s\n", username)
			return nil
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "admin", "Username")
	return cmd
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show server readiness and bus statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient()
			ready, err := c.do(http.MethodGet, "/api/v1/ready", nil, nil)
			if err != nil {
				return err
			}
			printJSON(ready)

			stats, err := c.do(http.MethodGet, "/api/v1/bus/stats", nil, nil)
			if err != nil {
				return err
			}
			printJSON(stats)
			return nil
		},
	}
}
