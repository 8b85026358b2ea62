package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"uestcauth/internal/config"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report whether the persisted session is still valid",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, closeStore, err := openClient(config.Get(), nil)
			if err != nil {
				return err
			}
			defer closeStore()

			if err := client.EnsureSession(cmd.Context()); err != nil {
				return err
			}
			fmt.Println("✅ 会话有效")
			return nil
		},
	}
}

func newLoginCmd() *cobra.Command {
	var username, password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in with student id and password",
		Long:  "Log in with student id and password. The password may be supplied through UESTCAUTH_PASSWORD instead of the flag.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				password = os.Getenv("UESTCAUTH_PASSWORD")
			}

			client, closeStore, err := openClient(config.Get(), nil)
			if err != nil {
				return err
			}
			defer closeStore()

			if err := client.Login(cmd.Context(), username, password); err != nil {
				return err
			}
			fmt.Println("🎉 登录成功!")
			return nil
		},
	}

	cmd.Flags().StringVarP(&username, "username", "u", "", "学号")
	cmd.Flags().StringVarP(&password, "password", "p", "", "密码")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Log out and remove the persisted cookies",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, closeStore, err := openClient(config.Get(), nil)
			if err != nil {
				return err
			}
			defer closeStore()

			if err := client.Logout(cmd.Context()); err != nil {
				return err
			}
			fmt.Println("👋 已注销")
			return nil
		},
	}
}
