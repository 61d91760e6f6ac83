package main

import (
	"log"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tokligence/chatrelay/internal/client"
	"github.com/tokligence/chatrelay/internal/logging"
	"github.com/tokligence/chatrelay/internal/upload"
	"github.com/tokligence/chatrelay/internal/version"
)

var (
	serverURL      string
	bearer         string
	apiKey         string
	model          string
	maxTokens      int
	conversationID string
	uploadLimit    int64
	recentUsage    int
	noStream       bool
	verbose        bool

	rootCmd = &cobra.Command{
		Use:          "chat",
		Short:        "Talk to a chatd relay from the terminal",
		Version:      version.FullInfo(),
		SilenceUsage: true,
	}

	replCmd = &cobra.Command{
		Use:   "repl",
		Short: "Interactive chat session with streamed replies",
		Args:  cobra.NoArgs,
		RunE:  runRepl,
	}
	askCmd = &cobra.Command{
		Use:   "ask [message]",
		Short: "Send one message and print the streamed reply",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runAsk,
	}
	uploadCmd = &cobra.Command{
		Use:   "upload [file]",
		Short: "Upload a PNG or JPEG image",
		Args:  cobra.ExactArgs(1),
		RunE:  runUpload,
	}
	whoamiCmd = &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed in user, balance and usage",
		Args:  cobra.NoArgs,
		RunE:  runWhoami,
	}
	modelsCmd = &cobra.Command{
		Use:   "models",
		Short: "List the models the relay serves",
		Args:  cobra.NoArgs,
		RunE:  runModels,
	}
	newCmd = &cobra.Command{
		Use:   "new [title]",
		Short: "Start a conversation and print its id",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runNew,
	}
	historyCmd = &cobra.Command{
		Use:   "history [conversation-id]",
		Short: "List conversations, or print one conversation's turns",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runHistory,
	}
	tokenCmd = &cobra.Command{
		Use:   "token [user-id]",
		Short: "Issue a session token signed with the relay's secret",
		Args:  cobra.ExactArgs(1),
		RunE:  runToken,
	}
)

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&serverURL, "server", envOr("CHATRELAY_URL", "http://localhost:8080"), "relay base URL")
	flags.StringVar(&bearer, "token", os.Getenv("CHATRELAY_TOKEN"), "bearer token")
	flags.StringVar(&apiKey, "api-key", os.Getenv("GROQ_API_KEY"), "Groq API key forwarded with each request")
	flags.BoolVarP(&verbose, "verbose", "v", false, "log HTTP traffic")

	for _, c := range []*cobra.Command{replCmd, askCmd} {
		c.Flags().StringVar(&model, "model", "", "model id (server default when empty)")
		c.Flags().IntVar(&maxTokens, "max-tokens", 0, "completion token cap (server default when 0)")
		c.Flags().StringVarP(&conversationID, "conversation", "c", "", "conversation to continue")
	}
	askCmd.Flags().BoolVar(&noStream, "no-stream", false, "wait for the whole reply instead of streaming it")
	whoamiCmd.Flags().IntVar(&recentUsage, "recent", 5, "number of recent usage entries to show")
	uploadCmd.Flags().Int64Var(&uploadLimit, "limit", upload.DefaultLimit, "maximum image size in bytes")
	tokenCmd.Flags().String("secret", os.Getenv("CHATRELAY_AUTH_SECRET"), "relay auth secret")
	tokenCmd.Flags().String("name", "", "display name")
	tokenCmd.Flags().String("email", "", "email address")
	tokenCmd.Flags().Duration("ttl", 0, "token lifetime (default 24h)")
	tokenCmd.Flags().Bool("jwt", false, "issue an HS256 JWT instead of a session token")

	rootCmd.AddCommand(replCmd, askCmd, uploadCmd, whoamiCmd, modelsCmd, newCmd, historyCmd, tokenCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newClient() (*client.Client, error) {
	c, err := client.New(serverURL, nil)
	if err != nil {
		return nil, err
	}
	c.SetToken(bearer)
	if verbose {
		c.SetLogger(log.New(os.Stderr, "[chat/http] ", logging.Flags))
	}
	return c, nil
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
