package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/oauth2"

	"motionwatch/broadcast"
	"motionwatch/config"
)

var youtubeAuthCmd = &cobra.Command{
	Use:   "youtube-auth",
	Short: "Authorize YouTube access and save the token file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Read(cfgFile)
		if err != nil {
			return err
		}
		oc, err := broadcast.OAuthConfig(cfg.YouTube)
		if err != nil {
			return err
		}

		url := oc.AuthCodeURL("motionwatch", oauth2.AccessTypeOffline)
		fmt.Printf("Open this URL in a browser and paste the authorization code:\n%s\n\nCode: ", url)

		code, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil {
			return fmt.Errorf("failed to read authorization code: %w", err)
		}
		tok, err := oc.Exchange(context.Background(), strings.TrimSpace(code))
		if err != nil {
			return fmt.Errorf("failed to exchange authorization code: %w", err)
		}
		if err := broadcast.SaveToken(cfg.YouTube.TokenFile, tok); err != nil {
			return err
		}
		fmt.Printf("Token saved to %s\n", cfg.YouTube.TokenFile)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(youtubeAuthCmd)
}
