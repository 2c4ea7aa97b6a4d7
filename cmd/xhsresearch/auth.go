package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"xhsresearch/pkg/auth"
)

// authCmd represents the auth command
var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage API credentials",
	Long: `Manage stored API credentials for the external services the tool
talks to: apify, openai, gemini, deepseek and kimi.

Credentials are stored using:
  - System keychain (when available)
  - Encrypted file with PBKDF2 key derivation
  - Environment variables (read-only fallback)

Never share your credentials or config files!`,
}

// authSetCmd represents the auth set command
var authSetCmd = &cobra.Command{
	Use:   "set <service>",
	Short: "Store an API key for a service",
	Long: `Store an API key for a service. The key is read from stdin without
echoing.`,
	Example: `  # Store the Apify token
  xhsresearch auth set apify

  # Store an OpenAI key
  xhsresearch auth set openai`,
	Args: cobra.ExactArgs(1),
	Run:  runAuthSet,
}

// authGetCmd represents the auth get command
var authGetCmd = &cobra.Command{
	Use:   "get <service>",
	Short: "Show the stored key for a service (masked)",
	Args:  cobra.ExactArgs(1),
	Run:   runAuthGet,
}

// authListCmd represents the auth list command
var authListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored credentials",
	Run:   runAuthList,
}

// authRemoveCmd represents the auth remove command
var authRemoveCmd = &cobra.Command{
	Use:   "remove <service>",
	Short: "Remove the stored key for a service",
	Args:  cobra.ExactArgs(1),
	Run:   runAuthRemove,
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(authSetCmd)
	authCmd.AddCommand(authGetCmd)
	authCmd.AddCommand(authListCmd)
	authCmd.AddCommand(authRemoveCmd)
}

func runAuthSet(cmd *cobra.Command, args []string) {
	service := strings.ToLower(args[0])

	manager, err := auth.NewManager()
	if err != nil {
		fatal("failed to initialize credential store", err)
	}

	fmt.Printf("API key for %s (input hidden): ", service)
	key, err := readSecret()
	if err != nil {
		fatal("failed to read key", err)
	}
	if key == "" {
		fatal("key must not be empty", nil)
	}

	if err := manager.Store(&auth.Credential{Service: service, APIKey: key}); err != nil {
		fatal("failed to store key", err)
	}
	fmt.Printf("Stored key for %s\n", service)
}

func runAuthGet(cmd *cobra.Command, args []string) {
	service := strings.ToLower(args[0])

	manager, err := auth.NewManager()
	if err != nil {
		fatal("failed to initialize credential store", err)
	}

	cred, err := manager.Retrieve(service)
	if err != nil {
		fatal(fmt.Sprintf("no key stored for %s", service), nil)
	}
	fmt.Printf("%s: %s (modified %s)\n", cred.Service, auth.MaskKey(cred.APIKey),
		cred.LastModified.Format("2006-01-02 15:04:05"))
}

func runAuthList(cmd *cobra.Command, args []string) {
	manager, err := auth.NewManager()
	if err != nil {
		fatal("failed to initialize credential store", err)
	}

	creds, err := manager.List()
	if err != nil {
		fatal("failed to list credentials", err)
	}
	if len(creds) == 0 {
		fmt.Println("No stored credentials. Use 'xhsresearch auth set <service>' to add one.")
		fmt.Printf("Known services: %s\n", strings.Join(auth.Services, ", "))
		return
	}

	for _, cred := range creds {
		fmt.Printf("%-10s %s\n", cred.Service, auth.MaskKey(cred.APIKey))
	}
}

func runAuthRemove(cmd *cobra.Command, args []string) {
	service := strings.ToLower(args[0])

	manager, err := auth.NewManager()
	if err != nil {
		fatal("failed to initialize credential store", err)
	}

	if err := manager.Delete(service); err != nil {
		fatal(fmt.Sprintf("failed to remove key for %s", service), err)
	}
	fmt.Printf("Removed key for %s\n", service)
}

// readSecret reads a line from stdin without echoing when stdin is a
// terminal.
func readSecret() (string, error) {
	if term.IsTerminal(int(syscall.Stdin)) {
		secret, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err == nil {
			return strings.TrimSpace(string(secret)), nil
		}
	}

	reader := bufio.NewReader(os.Stdin)
	input, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(input), nil
}
