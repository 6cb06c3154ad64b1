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
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/tombee/snoocore"
)

// Global flag values shared across commands.
var (
	flagVerbose    bool
	flagJSON       bool
	flagConfigPath string
	flagUserAgent  string
)

var buildVersion = struct {
	version   string
	commit    string
	buildDate string
}{"dev", "unknown", "unknown"}

// SetVersion sets the version information (called from main).
func SetVersion(version, commit, buildDate string) {
	buildVersion.version = version
	buildVersion.commit = commit
	buildVersion.buildDate = buildDate
}

// NewRootCommand creates the root Cobra command for snoocore.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snoocore",
		Short: "snoocore - low-level Reddit OAuth2 client",
		Long: `snoocore is a command-line companion to the snoocore library. It obtains
and revokes OAuth2 tokens for every supported grant, and performs
authenticated API requests through a rate-limited session.

Credentials come from flags, from ~/.config/snoocore/config.yaml, or from
SNOOCORE_* environment variables, in that order of precedence.`,
		SilenceUsage:  true, // Don't show usage on errors
		SilenceErrors: true, // main prints the error itself
	}

	registerGlobalFlags(cmd.PersistentFlags())
	return cmd
}

func registerGlobalFlags(flags *pflag.FlagSet) {
	flags.BoolVarP(&flagVerbose, "verbose", "v", false, "Enable debug logging")
	flags.BoolVar(&flagJSON, "json", false, "Output in JSON format")
	flags.StringVar(&flagConfigPath, "config", "", "Path to config file (default: ~/.config/snoocore/config.yaml)")
	flags.StringVar(&flagUserAgent, "user-agent", "", "User agent sent with every request")
}

// newLogger builds the logger shared by the library and the commands.
// Verbose enables debug; SNOOCORE_LOG_FORMAT=json switches to JSON output.
func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if flagVerbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if os.Getenv("SNOOCORE_LOG_FORMAT") == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// newRequestor builds a Requestor from the resolved configuration.
func newRequestor(cfg *Config) (*snoocore.Requestor, error) {
	opts := []snoocore.RequestorOption{snoocore.WithLogger(newLogger())}
	if cfg.OAuthURL != "" {
		opts = append(opts, snoocore.WithOAuthURL(cfg.OAuthURL))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, snoocore.WithBaseURL(cfg.BaseURL))
	}
	return snoocore.NewRequestor(cfg.UserAgent, opts...)
}

// newAuthenticator builds a trusted or untrusted authenticator depending on
// whether a client secret is configured.
func newAuthenticator(cfg *Config, requestor *snoocore.Requestor) (*snoocore.Authenticator, error) {
	if cfg.ClientSecret != "" {
		return snoocore.NewTrustedAuthenticator(requestor, cfg.ClientID, cfg.ClientSecret)
	}
	return snoocore.NewUntrustedAuthenticator(requestor, cfg.ClientID)
}
