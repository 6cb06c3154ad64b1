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
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/tombee/snoocore"
)

// NewAuthorizeCommand creates the authorize command.
func NewAuthorizeCommand() *cobra.Command {
	var (
		listen    string
		scopes    []string
		temporary bool
		noStore   bool
	)

	cmd := &cobra.Command{
		Use:   "authorize",
		Short: "Obtain a refresh token through the code grant",
		Long: `Start a local callback listener, print the authorization URL to open in a
browser, and exchange the returned code for tokens. The refresh token is
persisted to the configured token store unless --no-store is given.

The redirect URI registered with the application must point at the
listener, e.g. http://localhost:8080/callback.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAuthorize(cmd, listen, scopes, temporary, noStore)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "localhost:8080", "Address for the local callback listener")
	cmd.Flags().StringSliceVar(&scopes, "scope", []string{"identity"}, "Scopes to request")
	cmd.Flags().BoolVar(&temporary, "temporary", false, "Request a temporary (one hour) authorization instead of a permanent one")
	cmd.Flags().BoolVar(&noStore, "no-store", false, "Print the refresh token instead of persisting it")
	return cmd
}

// callbackResult carries the outcome of one authorization redirect.
type callbackResult struct {
	code string
	err  error
}

func runAuthorize(cmd *cobra.Command, listen string, scopes []string, temporary, noStore bool) error {
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
	redirectURI := cfg.RedirectURI
	if redirectURI == "" {
		redirectURI = "http://" + listen + "/callback"
	}
	auth.SetRedirectURI(redirectURI)

	state := uuid.NewString()
	duration := snoocore.DurationPermanent
	if temporary {
		duration = snoocore.DurationTemporary
	}
	authorizeURL, err := auth.AuthorizeURL(duration, scopes, state, false)
	if err != nil {
		return err
	}

	results := make(chan callbackResult, 1)
	router := chi.NewRouter()
	router.Get("/callback", func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		switch {
		case query.Get("state") != state:
			http.Error(w, "state mismatch", http.StatusBadRequest)
			results <- callbackResult{err: fmt.Errorf("state mismatch in callback")}
		case query.Get("error") != "":
			http.Error(w, query.Get("error"), http.StatusBadRequest)
			results <- callbackResult{err: fmt.Errorf("authorization denied: %s", query.Get("error"))}
		default:
			fmt.Fprintln(w, "Authorization complete. You can close this tab.")
			results <- callbackResult{code: query.Get("code")}
		}
	})

	listener, err := net.Listen("tcp", listen)
	if err != nil {
		return fmt.Errorf("binding callback listener: %w", err)
	}
	server := &http.Server{Handler: router}
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			results <- callbackResult{err: err}
		}
	}()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		server.Shutdown(ctx)
	}()

	cmd.Println("Open this URL in a browser to authorize:")
	cmd.Println()
	cmd.Println("  " + authorizeURL)
	cmd.Println()
	cmd.Printf("Waiting for the callback on %s ...\n", listen)

	var result callbackResult
	select {
	case result = <-results:
	case <-cmd.Context().Done():
		return cmd.Context().Err()
	}
	if result.err != nil {
		return result.err
	}

	authorizer, err := snoocore.NewAuthorizer(auth)
	if err != nil {
		return err
	}
	if err := authorizer.Authorize(cmd.Context(), result.code); err != nil {
		return fmt.Errorf("exchanging authorization code: %w", err)
	}

	cmd.Printf("Authorized with scopes: %s\n", strings.Join(authorizer.Scopes(), " "))
	if noStore || authorizer.RefreshToken() == "" {
		if token := authorizer.RefreshToken(); token != "" {
			cmd.Printf("Refresh token: %s\n", token)
		}
		return nil
	}

	store, err := tokenStore(cfg)
	if err != nil {
		return err
	}
	if store == nil {
		cmd.Printf("Refresh token: %s\n", authorizer.RefreshToken())
		return nil
	}
	if err := store.Save(authorizer.RefreshToken()); err != nil {
		return fmt.Errorf("persisting refresh token: %w", err)
	}
	cmd.Println("Refresh token saved.")
	return nil
}
