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
	"fmt"

	"github.com/spf13/cobra"
)

// NewRevokeCommand creates the revoke command.
func NewRevokeCommand() *cobra.Command {
	var hint string

	cmd := &cobra.Command{
		Use:   "revoke [token]",
		Short: "Revoke an access or refresh token",
		Long: `Revoke a token server-side. Revoking a refresh token also invalidates
every access token derived from it. With no argument, the refresh token from
the configured token store is revoked and removed from the store.`,
		Args: cobra.MaximumNArgs(1),
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

			auth, err := newAuthenticator(cfg, requestor)
			if err != nil {
				return err
			}

			if len(args) == 1 {
				if err := auth.RevokeToken(cmd.Context(), args[0], hint); err != nil {
					return err
				}
				cmd.Println("Token revoked.")
				return nil
			}

			store, err := tokenStore(cfg)
			if err != nil {
				return err
			}
			if store == nil {
				return fmt.Errorf("no token given and no token store configured")
			}
			token, err := store.Load()
			if err != nil {
				return err
			}
			if token == "" {
				return fmt.Errorf("no stored refresh token to revoke")
			}
			if err := auth.RevokeToken(cmd.Context(), token, "refresh_token"); err != nil {
				return err
			}
			if err := store.Save(""); err != nil {
				return fmt.Errorf("clearing token store: %w", err)
			}
			cmd.Println("Stored refresh token revoked.")
			return nil
		},
	}

	cmd.Flags().StringVar(&hint, "hint", "", "Token type hint: access_token or refresh_token")
	return cmd
}
