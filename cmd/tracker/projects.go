package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/playperu/adventure/internal/directory"
)

func newProjectsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "projects",
		Short: "List published projects",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			projects, err := directory.NewClient(opts.api).ListProjects(cmd.Context())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			for _, p := range projects {
				if err := enc.Encode(map[string]string{
					"id":          p.ID,
					"title":       p.Title,
					"scoringMode": string(p.ScoringMode),
					"displayMode": string(p.DisplayMode),
				}); err != nil {
					return fmt.Errorf("writing output: %w", err)
				}
			}
			return nil
		},
	}
}

func newSignupCmd(opts *options) *cobra.Command {
	var username, avatar string

	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Create a profile and print its token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, token, err := directory.NewClient(opts.api).CreateProfile(cmd.Context(), username, avatar)
			if err != nil {
				return err
			}
			return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]string{
				"id":       p.ID,
				"username": p.Username,
				"token":    token,
			})
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "profile username")
	cmd.Flags().StringVar(&avatar, "avatar", "", "avatar URL")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}
