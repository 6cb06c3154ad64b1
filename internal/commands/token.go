// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/tombee/snoocore"
)

// NewTokenCommand creates the token command group.
func NewTokenCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Obtain an access token without user interaction",
	}
	cmd.AddCommand(newTokenReadonlyCommand())
	cmd.AddCommand(newTokenScriptCommand())
	cmd.AddCommand(newTokenDeviceCommand())
	return cmd
}

func newTokenReadonlyCommand() *cobra.Command {
	var scopes []string

	cmd := &cobra.Command{
		Use:   "readonly",
		Short: "Obtain an application-only token (client credentials grant)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			requestor, err := newRequestor(cfg)
			if err != nil {
				return err
			}
			defer requestor.Close()

			auth, err := snoocore.NewTrustedAuthenticator(requestor, cfg.ClientID, cfg.ClientSecret)
			if err != nil {
				return err
			}
			authorizer, err := snoocore.NewReadOnlyAuthorizer(auth, scopes...)
			if err != nil {
				return err
			}
			if err := authorizer.Refresh(cmd.Context()); err != nil {
				return err
			}
			return printToken(cmd, authorizer)
		},
	}

	cmd.Flags().StringSliceVar(&scopes, "scope", nil, "Scopes to request instead of the server defaults")
	return cmd
}

func newTokenScriptCommand() *cobra.Command {
	var totpSecret string

	cmd := &cobra.Command{
		Use:   "script",
		Short: "Obtain a token for the script's own account (password grant)",
		Long: `Obtain a token through the password grant. The password comes from the
config file or SNOOCORE_PASSWORD, or is prompted for interactively. When the
account has two-factor authentication enabled, pass the shared TOTP secret
with --totp-secret and a one-time password is generated per token request.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Username == "" {
				return fmt.Errorf("username is required (config file or SNOOCORE_USERNAME)")
			}
			password := cfg.Password
			if password == "" {
				password, err = promptPassword(cmd, cfg.Username)
				if err != nil {
					return err
				}
			}

			requestor, err := newRequestor(cfg)
			if err != nil {
				return err
			}
			defer requestor.Close()

			auth, err := snoocore.NewTrustedAuthenticator(requestor, cfg.ClientID, cfg.ClientSecret)
			if err != nil {
				return err
			}
			var twoFactor snoocore.TwoFactorFunc
			if totpSecret != "" {
				twoFactor = func() (string, error) {
					return totp.GenerateCode(totpSecret, time.Now())
				}
			}
			authorizer, err := snoocore.NewScriptAuthorizer(auth, cfg.Username, password, twoFactor)
			if err != nil {
				return err
			}
			if err := authorizer.Refresh(cmd.Context()); err != nil {
				return err
			}
			return printToken(cmd, authorizer)
		},
	}

	cmd.Flags().StringVar(&totpSecret, "totp-secret", "", "Shared TOTP secret for accounts with two-factor authentication")
	return cmd
}

func newTokenDeviceCommand() *cobra.Command {
	var deviceID string

	cmd := &cobra.Command{
		Use:   "device",
		Short: "Obtain an installation-scoped token (installed client grant)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			requestor, err := newRequestor(cfg)
			if err != nil {
				return err
			}
			defer requestor.Close()

			auth, err := snoocore.NewUntrustedAuthenticator(requestor, cfg.ClientID)
			if err != nil {
				return err
			}
			authorizer, err := snoocore.NewDeviceIDAuthorizer(auth, deviceID)
			if err != nil {
				return err
			}
			if err := authorizer.Refresh(cmd.Context()); err != nil {
				return err
			}
			return printToken(cmd, authorizer)
		},
	}

	cmd.Flags().StringVar(&deviceID, "device-id", "", "Unique per-installation device ID (20-30 characters)")
	return cmd
}

func promptPassword(cmd *cobra.Command, username string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("password is required (config file, SNOOCORE_PASSWORD, or a terminal to prompt on)")
	}
	cmd.PrintErrf("Password for %s: ", username)
	password, err := term.ReadPassword(fd)
	cmd.PrintErrln()
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return string(password), nil
}

// printToken writes the obtained token in text or JSON form.
func printToken(cmd *cobra.Command, authorizer snoocore.BaseAuthorizer) error {
	if flagJSON {
		data, err := json.MarshalIndent(map[string]any{
			"access_token": authorizer.AccessToken(),
			"scopes":       authorizer.Scopes(),
			"expiration":   authorizer.Expiration().Format(time.RFC3339),
		}, "", "  ")
		if err != nil {
			return err
		}
		cmd.Println(string(data))
		return nil
	}
	cmd.Printf("Access token: %s\n", authorizer.AccessToken())
	cmd.Printf("Scopes:       %s\n", strings.Join(authorizer.Scopes(), " "))
	cmd.Printf("Expires:      %s\n", authorizer.Expiration().Format(time.RFC3339))
	return nil
}
