// Package main provides the account management CLI tool.
package main

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/relaycc/cloudcode-gateway/internal/auth"
	"github.com/relaycc/cloudcode-gateway/internal/config"
	"github.com/relaycc/cloudcode-gateway/pkg/redis"
)

var serverPort = config.DefaultPort

func main() {
	args := os.Args[1:]
	command := "add"

	for _, arg := range args {
		if !strings.HasPrefix(arg, "-") {
			command = arg
			break
		}
	}

	if port := os.Getenv("GATEWAY_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			serverPort = p
		}
	}

	printBanner()

	scanner := bufio.NewScanner(os.Stdin)

	switch command {
	case "add":
		ensureServerStopped()
		interactiveAdd(scanner)
	case "list":
		listAccounts()
	case "clear":
		ensureServerStopped()
		clearAccounts(scanner)
	case "verify":
		verifyAccounts()
	case "remove":
		ensureServerStopped()
		interactiveRemove(scanner)
	case "help":
		printHelp()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		fmt.Println("Run with \"help\" for usage information.")
	}
}

func printBanner() {
	fmt.Println("╔════════════════════════════════════════╗")
	fmt.Println("║   Cloud Code Gateway Account Manager    ║")
	fmt.Println("╚════════════════════════════════════════╝")
}

func printHelp() {
	fmt.Println("\nUsage:")
	fmt.Println("  gateway-accounts add     Add a new account")
	fmt.Println("  gateway-accounts list    List all accounts")
	fmt.Println("  gateway-accounts verify  Verify account tokens")
	fmt.Println("  gateway-accounts clear   Remove all accounts")
	fmt.Println("  gateway-accounts remove  Remove one account")
	fmt.Println("  gateway-accounts help    Show this help")
}

// isServerRunning checks if the gateway server is running on the configured port
func isServerRunning() bool {
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("localhost:%d", serverPort), time.Second)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// ensureServerStopped exits if the server is running
func ensureServerStopped() {
	if isServerRunning() {
		fmt.Printf("\n\033[31mError: the gateway server is currently running on port %d.\033[0m\n\n", serverPort)
		fmt.Println("Please stop the server (Ctrl+C) before adding or managing accounts.")
		fmt.Println("This ensures that your account changes are loaded correctly when you restart the server.")
		os.Exit(1)
	}
}

func redisStore() (*redis.Client, *redis.AccountStore, error) {
	client, err := redis.NewClient(redis.Config{Addr: "localhost:6379"})
	if err != nil {
		return nil, nil, err
	}
	return client, redis.NewAccountStore(client), nil
}

// loadAccounts loads accounts from Redis
func loadAccounts() []*redis.Account {
	client, store, err := redisStore()
	if err != nil {
		fmt.Println("Error connecting to Redis:", err)
		return nil
	}
	defer client.Close()

	accounts, err := store.ListAccounts(context.Background())
	if err != nil {
		fmt.Println("Error loading accounts:", err)
		return nil
	}
	return accounts
}

// saveAccount saves an account to Redis
func saveAccount(acc *redis.Account) error {
	client, store, err := redisStore()
	if err != nil {
		return err
	}
	defer client.Close()

	return store.SetAccount(context.Background(), acc)
}

// deleteAccount removes an account from Redis
func deleteAccount(email string) error {
	client, store, err := redisStore()
	if err != nil {
		return err
	}
	defer client.Close()

	return store.DeleteAccount(context.Background(), email)
}

// clearAllAccountsFromStore removes all accounts from Redis
func clearAllAccountsFromStore() error {
	client, store, err := redisStore()
	if err != nil {
		return err
	}
	defer client.Close()

	ctx := context.Background()
	accounts, err := store.ListAccounts(ctx)
	if err != nil {
		return err
	}

	for _, acc := range accounts {
		if err := store.DeleteAccount(ctx, acc.Email); err != nil {
			return err
		}
	}
	return nil
}

// displayAccounts shows the list of accounts
func displayAccounts(accounts []*redis.Account) {
	if len(accounts) == 0 {
		fmt.Println("\nNo accounts configured.")
		return
	}

	fmt.Printf("\n%d account(s) saved:\n", len(accounts))
	for i, acc := range accounts {
		status := ""
		if acc.IsInvalid {
			status = " (invalid)"
		} else if !acc.Enabled {
			status = " (disabled)"
		}
		fmt.Printf("  %d. %s%s\n", i+1, acc.Email, status)
	}
}

// prompt reads a line of input
func prompt(scanner *bufio.Scanner, message string) string {
	fmt.Print(message)
	if scanner.Scan() {
		return strings.TrimSpace(scanner.Text())
	}
	return ""
}

// addAccount registers an account from an operator-supplied refresh token.
// This tool does not drive browser consent; the refresh token is expected
// to already exist, minted by whatever OAuth flow the operator's
// organization uses to authorize the upstream project.
func addAccount(existingAccounts []*redis.Account, scanner *bufio.Scanner) *redis.Account {
	fmt.Println("\n=== Add Account ===")
	refreshToken := prompt(scanner, "Refresh token: ")
	if refreshToken == "" {
		fmt.Println("\n✗ No refresh token provided.")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	fmt.Println("Verifying token...")
	tokens, err := auth.RefreshAccessToken(ctx, refreshToken)
	if err != nil {
		fmt.Printf("\n✗ Refresh token is invalid: %v\n", err)
		return nil
	}

	email, err := auth.GetUserEmail(ctx, tokens.AccessToken)
	if err != nil {
		fmt.Printf("\n✗ Could not resolve account email: %v\n", err)
		return nil
	}

	for _, acc := range existingAccounts {
		if acc.Email == email {
			fmt.Printf("\n⚠ Account %s already exists. Updating refresh token.\n", email)
			acc.RefreshToken = refreshToken
			acc.LastUsed = time.Now().UnixMilli()
			if err := saveAccount(acc); err != nil {
				fmt.Println("Error saving account:", err)
			}
			return nil
		}
	}

	fmt.Printf("\n✓ Verified account: %s\n", email)
	fmt.Println("  Project will be discovered on first API request.")

	return &redis.Account{
		Email:        email,
		RefreshToken: refreshToken,
		Source:       "oauth",
		Enabled:      true,
	}
}

// interactiveAdd handles the interactive add flow
func interactiveAdd(scanner *bufio.Scanner) {
	accounts := loadAccounts()
	if accounts == nil {
		accounts = []*redis.Account{}
	}

	if len(accounts) > 0 {
		displayAccounts(accounts)

		choice := prompt(scanner, "\n(a)dd new, (r)emove existing, (f)resh start, or (e)xit? [a/r/f/e]: ")
		switch strings.ToLower(choice) {
		case "r":
			interactiveRemove(scanner)
			return
		case "f":
			fmt.Println("\nStarting fresh - existing accounts will be replaced.")
			if err := clearAllAccountsFromStore(); err != nil {
				fmt.Println("Error clearing accounts:", err)
				return
			}
			accounts = []*redis.Account{}
		case "e":
			fmt.Println("\nExiting...")
			return
		case "a":
			fmt.Println("\nAdding to existing accounts.")
		default:
			fmt.Println("\nInvalid choice, defaulting to add.")
		}
	}

	if len(accounts) >= config.MaxAccounts {
		fmt.Printf("\nMaximum of %d accounts reached.\n", config.MaxAccounts)
		return
	}

	newAccount := addAccount(accounts, scanner)
	if newAccount != nil {
		if err := saveAccount(newAccount); err != nil {
			fmt.Println("Error saving account:", err)
		} else {
			fmt.Printf("\n✓ Saved account %s\n", newAccount.Email)
		}
		accounts = append(accounts, newAccount)
	}

	if len(accounts) > 0 {
		displayAccounts(accounts)
		fmt.Println("\nTo add more accounts, run this command again.")
	} else {
		fmt.Println("\nNo accounts to save.")
	}
}

// interactiveRemove handles removing accounts interactively
func interactiveRemove(scanner *bufio.Scanner) {
	for {
		accounts := loadAccounts()
		if len(accounts) == 0 {
			fmt.Println("\nNo accounts to remove.")
			return
		}

		displayAccounts(accounts)
		fmt.Println("\nEnter account number to remove (or 0 to cancel)")

		answer := prompt(scanner, "> ")
		index, err := strconv.Atoi(answer)
		if err != nil || index < 0 || index > len(accounts) {
			fmt.Println("\n❌ Invalid selection.")
			continue
		}

		if index == 0 {
			return
		}

		removed := accounts[index-1]
		confirm := prompt(scanner, fmt.Sprintf("\nAre you sure you want to remove %s? [y/N]: ", removed.Email))

		if strings.ToLower(confirm) == "y" {
			if err := deleteAccount(removed.Email); err != nil {
				fmt.Println("Error removing account:", err)
			} else {
				fmt.Printf("\n✓ Removed %s\n", removed.Email)
			}
		} else {
			fmt.Println("\nCancelled.")
		}

		removeMore := prompt(scanner, "\nRemove another account? [y/N]: ")
		if strings.ToLower(removeMore) != "y" {
			break
		}
	}
}

// listAccounts displays all accounts
func listAccounts() {
	displayAccounts(loadAccounts())
}

// clearAccounts removes all accounts
func clearAccounts(scanner *bufio.Scanner) {
	accounts := loadAccounts()
	if len(accounts) == 0 {
		fmt.Println("No accounts to clear.")
		return
	}

	displayAccounts(accounts)

	confirm := prompt(scanner, "\nAre you sure you want to remove all accounts? [y/N]: ")
	if strings.ToLower(confirm) == "y" {
		if err := clearAllAccountsFromStore(); err != nil {
			fmt.Println("Error clearing accounts:", err)
		} else {
			fmt.Println("All accounts removed.")
		}
	} else {
		fmt.Println("Cancelled.")
	}
}

// verifyAccounts tests all account refresh tokens
func verifyAccounts() {
	accounts := loadAccounts()
	if len(accounts) == 0 {
		fmt.Println("No accounts to verify.")
		return
	}

	fmt.Println("\nVerifying accounts...")

	ctx := context.Background()
	for _, acc := range accounts {
		tokens, err := auth.RefreshAccessToken(ctx, acc.RefreshToken)
		if err != nil {
			fmt.Printf("  ✗ %s - %v\n", acc.Email, err)
			continue
		}

		email, err := auth.GetUserEmail(ctx, tokens.AccessToken)
		if err != nil {
			fmt.Printf("  ✗ %s - %v\n", acc.Email, err)
			continue
		}

		fmt.Printf("  ✓ %s - OK\n", email)
	}
}
