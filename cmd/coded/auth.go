package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ehrlich-b/coded/internal/auth"
)

func loginCmd() *cobra.Command {
	var apiKey string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store an API key credential in auth.json",
		RunE: func(cmd *cobra.Command, args []string) error {
			codeHome, err := codeHomeFlag(cmd)
			if err != nil {
				return err
			}
			if apiKey == "" {
				apiKey = os.Getenv("CODE_API_KEY")
			}
			if apiKey == "" {
				return fmt.Errorf("no API key given: pass --api-key or set CODE_API_KEY")
			}
			if err := auth.LoginWithAPIKey(codeHome, apiKey); err != nil {
				return err
			}
			fmt.Println("logged in with API key")
			return nil
		},
	}
	cmd.Flags().StringVar(&apiKey, "api-key", "", "API key to store (defaults to $CODE_API_KEY)")
	return cmd
}

func logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the stored credential",
		RunE: func(cmd *cobra.Command, args []string) error {
			codeHome, err := codeHomeFlag(cmd)
			if err != nil {
				return err
			}
			removed, err := auth.Logout(codeHome)
			if err != nil {
				return err
			}
			if removed {
				fmt.Println("logged out")
			} else {
				fmt.Println("not logged in")
			}
			return nil
		},
	}
}
