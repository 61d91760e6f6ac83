package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tokligence/chatrelay/internal/auth"
)

func runUpload(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	res, err := c.UploadFile(cmd.Context(), args[0], uploadLimit)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "uploaded %s (%s, %d bytes)\n%s\n", res.ID, res.ContentType, res.Size, res.URL)
	return nil
}

func runWhoami(cmd *cobra.Command, _ []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	v, err := c.Viewer(cmd.Context(), recentUsage)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if v.UserID == "" {
		fmt.Fprintln(out, "anonymous")
		return nil
	}
	fmt.Fprintf(out, "user:    %s\nname:    %s\nemail:   %s\nbalance: %d\n", v.UserID, v.UserName, v.Email, v.Balance)
	fmt.Fprintf(out, "usage:   %d prompt + %d completion = %d tokens\n", v.PromptTokens, v.CompletionTokens, v.TotalTokens)
	for _, e := range v.Recent {
		fmt.Fprintf(out, "  %s  %-6s %s  %d+%d\n", e.CreatedAt, e.Mode, e.Model, e.PromptTokens, e.CompletionTokens)
	}
	return nil
}

func runModels(cmd *cobra.Command, _ []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	models, err := c.Models(cmd.Context())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, m := range models {
		mark := ""
		if m.Default {
			mark = " (default)"
		}
		fmt.Fprintf(out, "%s  max_tokens=%d%s\n", m.ID, m.MaxTokens, mark)
	}
	return nil
}

func runNew(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	title := ""
	if len(args) == 1 {
		title = args[0]
	}
	conv, err := c.CreateConversation(cmd.Context(), title)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), conv.ID)
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(args) == 1 {
		transcript, err := c.History(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		for _, t := range transcript {
			fmt.Fprintf(out, "%s: %s\n", t.Role, t.Content)
		}
		return nil
	}
	list, err := c.Conversations(cmd.Context())
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Fprintln(out, "no conversations")
		return nil
	}
	for _, conv := range list {
		fmt.Fprintf(out, "%s  %s  %s\n", conv.ID, conv.CreatedAt, conv.Title)
	}
	return nil
}

func runToken(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	secret, _ := flags.GetString("secret")
	name, _ := flags.GetString("name")
	email, _ := flags.GetString("email")
	ttl, _ := flags.GetDuration("ttl")
	useJWT, _ := flags.GetBool("jwt")
	if secret == "" {
		return fmt.Errorf("--secret or CHATRELAY_AUTH_SECRET is required")
	}
	if ttl == 0 {
		ttl = 24 * time.Hour
	}
	id := auth.Identity{UserID: args[0], UserName: name, Email: email}

	var token string
	var err error
	if useJWT {
		token, err = auth.SignHS256(secret, id, ttl)
	} else {
		token, err = auth.NewManager(secret).IssueToken(id, ttl)
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
