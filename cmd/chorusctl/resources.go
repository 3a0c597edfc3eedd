package main

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/spf13/cobra"
)

func newPersonaCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "persona",
		Short: "Manage personas",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all personas",
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := newClient().do(http.MethodGet, "/api/v1/personas", nil, nil)
			if err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "get <full-name>",
		Short: "Show a persona and its aliases",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := newClient().do(http.MethodGet, "/api/v1/personas/"+url.PathEscape(args[0]), nil, nil)
			if err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	})

	var displayName, modelPath string
	var aliases []string
	var deriveAlias bool
	add := &cobra.Command{
		Use:   "add <full-name>",
		Short: "Register a persona",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := newClient().do(http.MethodPost, "/api/v1/personas", nil, map[string]interface{}{
				"full_name":    args[0],
				"display_name": displayName,
				"model_path":   modelPath,
				"aliases":      aliases,
				"derive_alias": deriveAlias,
			})
			if err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}
	add.Flags().StringVar(&displayName, "display-name", "", "Display name shown in chat")
	add.Flags().StringVar(&modelPath, "model", "", "Model path (providerID/model)")
	add.Flags().StringSliceVar(&aliases, "alias", nil, "Mention alias (repeatable)")
	add.Flags().BoolVar(&deriveAlias, "derive-alias", true, "Derive a collision-free alias from the display name")
	cmd.AddCommand(add)

	cmd.AddCommand(&cobra.Command{
		Use:   "remove <full-name>",
		Short: "Remove a persona and all of its aliases",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := newClient().do(http.MethodDelete, "/api/v1/personas/"+url.PathEscape(args[0]), nil, nil)
			if err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	})

	return cmd
}

func newAliasCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "alias",
		Short: "Manage mention aliases",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list <persona-full-name>",
		Short: "List aliases for a persona",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params := url.Values{"persona": {args[0]}}
			out, err := newClient().do(http.MethodGet, "/api/v1/aliases", params, nil)
			if err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	})

	var reassign bool
	add := &cobra.Command{
		Use:   "add <alias> <persona-full-name>",
		Short: "Map an alias to a persona",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := newClient().do(http.MethodPost, "/api/v1/aliases", nil, map[string]interface{}{
				"alias":        args[0],
				"persona_name": args[1],
				"reassign":     reassign,
			})
			if err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}
	add.Flags().BoolVar(&reassign, "reassign", false, "Steal the alias if another persona owns it")
	cmd.AddCommand(add)

	cmd.AddCommand(&cobra.Command{
		Use:   "remove <alias>",
		Short: "Remove an alias",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := newClient().do(http.MethodDelete, "/api/v1/aliases/"+url.PathEscape(args[0]), nil, nil)
			if err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	})

	return cmd
}

func newChannelCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "channel",
		Short: "Manage channel activations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "activate <channel-id> <persona>",
		Short: "Pin a persona to a channel",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := fmt.Sprintf("/api/v1/channels/%s/activation", url.PathEscape(args[0]))
			out, err := newClient().do(http.MethodPost, path, nil, map[string]string{
				"persona_name": args[1],
			})
			if err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "deactivate <channel-id>",
		Short: "Remove a channel activation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := fmt.Sprintf("/api/v1/channels/%s/activation", url.PathEscape(args[0]))
			out, err := newClient().do(http.MethodDelete, path, nil, nil)
			if err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	})

	return cmd
}

func newSessionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Manage chat sessions",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "clear <user-id> <channel-id>",
		Short: "Clear the session for a user/channel",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := fmt.Sprintf("/api/v1/sessions/%s/%s", url.PathEscape(args[0]), url.PathEscape(args[1]))
			out, err := newClient().do(http.MethodDelete, path, nil, nil)
			if err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	})

	var enabled bool
	autoResp := &cobra.Command{
		Use:   "auto-response <user-id>",
		Short: "Toggle auto-response for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := fmt.Sprintf("/api/v1/sessions/%s/auto-response", url.PathEscape(args[0]))
			out, err := newClient().do(http.MethodPut, path, nil, map[string]bool{"enabled": enabled})
			if err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}
	autoResp.Flags().BoolVar(&enabled, "enabled", true, "Enable or disable auto-response")
	cmd.AddCommand(autoResp)

	return cmd
}

func newBlackoutCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "blackout",
		Short: "Inspect suppression windows",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List active blackout windows",
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := newClient().do(http.MethodGet, "/api/v1/blackouts", nil, nil)
			if err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	})

	return cmd
}
