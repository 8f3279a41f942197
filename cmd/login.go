/*
Copyright © 2023 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"

	"github.com/dashcrypt/cryptgen/internal/auth"
	"github.com/dashcrypt/cryptgen/internal/conf"
	"github.com/dashcrypt/cryptgen/internal/version"
	"github.com/dashcrypt/cryptgen/pkg/oidc"
	"github.com/spf13/cobra"
)

// loginCmd represents the login command
var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Fetch a key server token with the profile's client credentials",
	Long: `Exchange the profile's client credentials for an access token and cache it
in $HOME/.cryptgen/credentials.toml. Later key server requests reuse the
cached token until it expires, so the client secret is only needed here.

With --browser the token is obtained with the authorization code flow in
the browser instead, which needs no client secret. The identity provider
must accept http://localhost:3000/callback (or the --redirect-addr) as a
redirect URI.`,
	Args: cobra.NoArgs,
	RunE: login,
}

func init() {
	rootCmd.AddCommand(loginCmd)

	loginCmd.Flags().String("client-id", "", "Client ID (default the profile's clientid)")
	loginCmd.Flags().String("client-secret", "", "Client Secret (default the profile's clientsecret)")
	loginCmd.Flags().String("oidc-endpoint", "", "OIDC discovery endpoint (default the profile's oidcdiscoveryendpoint)")
	loginCmd.Flags().Bool("browser", false, "log in through the browser instead of with the client secret")
	loginCmd.Flags().String("redirect-addr", auth.DefaultRedirectAddr, "listen address of the browser login callback")
}

func login(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	p, err := activeProfile()
	if err != nil {
		return err
	}
	clientID, err := cmd.Flags().GetString("client-id")
	if err != nil {
		return err
	}
	clientSecret, err := cmd.Flags().GetString("client-secret")
	if err != nil {
		return err
	}
	endpoint, err := cmd.Flags().GetString("oidc-endpoint")
	if err != nil {
		return err
	}
	browser, err := cmd.Flags().GetBool("browser")
	if err != nil {
		return err
	}
	redirectAddr, err := cmd.Flags().GetString("redirect-addr")
	if err != nil {
		return err
	}
	if clientID != "" {
		p.ClientID = clientID
	}
	if clientSecret != "" {
		p.ClientSecret = clientSecret
	}
	if endpoint != "" {
		p.OidcDiscoveryEndpoint = endpoint
		p.TokenURL = ""
	}
	if p.ClientID == "" {
		return fmt.Errorf("no client ID in profile %q; use --client-id or run cryptgen configure", profileName)
	}

	oc := oidc.OidcConfig{
		ClientID:          p.ClientID,
		ClientSecret:      p.ClientSecret,
		TokenURL:          p.TokenURL,
		DiscoveryEndpoint: p.OidcDiscoveryEndpoint,
		UserAgent:         "cryptgen/" + version.GetVersion().Version,
		RedirectAddr:      redirectAddr,
	}
	var c oidc.Client
	if browser {
		c, err = oidc.NewBrowserClient(ctx, oc)
	} else {
		if oc.ClientSecret == "" {
			if oc.ClientSecret, err = readSecret(fmt.Sprintf("Client secret for %s: ", p.ClientID)); err != nil {
				return err
			}
		}
		c, err = oidc.NewOidcClient(ctx, oc)
	}
	if err != nil {
		return err
	}
	tok, err := c.Login(ctx)
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	path := credentialsPath
	if path == "" {
		if path, err = conf.CredentialsPath(); err != nil {
			return err
		}
	}
	if err := conf.SaveToken(path, profileName, tok); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Writing credentials to:", path)
	return nil
}
