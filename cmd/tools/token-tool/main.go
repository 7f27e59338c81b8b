// cmd/tools/token-tool/main.go
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"civic-notifier/internal/common/config"
	"civic-notifier/internal/common/database"
	tokenstore "civic-notifier/internal/session"
)

var configPath string

func main() {
	saveCmd := flag.NewFlagSet("save", flag.ExitOnError)
	deleteCmd := flag.NewFlagSet("delete", flag.ExitOnError)
	checkCmd := flag.NewFlagSet("check", flag.ExitOnError)

	for _, fs := range []*flag.FlagSet{saveCmd, deleteCmd, checkCmd} {
		fs.StringVar(&configPath, "config", "", "Path to config file (default: ./configs/config.yaml)")
	}

	// Save command flags
	userSave := saveCmd.String("user", "", "User ID the token belongs to")
	storeSave := saveCmd.String("store", tokenstore.StoreKeyring, "Store to write to (keyring, redis)")
	token := saveCmd.String("token", "", "Bearer token (read from stdin when empty)")

	// Delete command flags
	userDelete := deleteCmd.String("user", "", "User ID whose token is removed")
	storeDelete := deleteCmd.String("store", tokenstore.StoreKeyring, "Store to delete from (keyring, redis)")

	// Check command flags
	userCheck := checkCmd.String("user", "", "User ID to resolve (default: session.user_id)")

	if len(os.Args) < 2 {
		help()
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch os.Args[1] {
	case "save":
		saveCmd.Parse(os.Args[2:])
		if *userSave == "" {
			fmt.Println("Error: user is required for save.")
			saveCmd.Usage()
			os.Exit(1)
		}
		value := *token
		if value == "" {
			value = readToken()
		}
		if err := saveToken(ctx, *storeSave, *userSave, value); err != nil {
			fmt.Printf("Error saving token: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Saved token for %s in %s\n", *userSave, *storeSave)

	case "delete":
		deleteCmd.Parse(os.Args[2:])
		if *userDelete == "" {
			fmt.Println("Error: user is required for delete.")
			deleteCmd.Usage()
			os.Exit(1)
		}
		if err := deleteToken(ctx, *storeDelete, *userDelete); err != nil {
			fmt.Printf("Error deleting token: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Deleted token for %s from %s\n", *userDelete, *storeDelete)

	case "check":
		checkCmd.Parse(os.Args[2:])
		if err := checkToken(ctx, *userCheck); err != nil {
			fmt.Printf("Token check failed: %v\n", err)
			os.Exit(1)
		}

	case "help":
		fallthrough
	default:
		help()
	}
}

func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadFromFile(configPath)
	}
	return config.Load()
}

// openWriter opens one writable store. The caller closes the returned redis
// client when it is not nil.
func openWriter(cfg *config.Config, store string) (tokenstore.TokenWriter, *database.RedisClient, error) {
	switch store {
	case tokenstore.StoreKeyring:
		ks, err := tokenstore.OpenKeyringStore(cfg.Session.KeyringName, cfg.Session.KeyringDir)
		return ks, nil, err
	case tokenstore.StoreRedis:
		if cfg.Redis.Address == "" {
			return nil, nil, fmt.Errorf("redis.address is not configured")
		}
		rdb := database.NewRedis(cfg.Redis)
		return tokenstore.NewRedisStore(rdb, cfg.Session.RedisPrefix), rdb, nil
	default:
		return nil, nil, fmt.Errorf("store %q is not writable", store)
	}
}

func saveToken(ctx context.Context, store, userID, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("empty token")
	}
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	w, rdb, err := openWriter(cfg, store)
	if err != nil {
		return err
	}
	if rdb != nil {
		defer rdb.Close()
	}
	return w.SaveToken(ctx, userID, token)
}

func deleteToken(ctx context.Context, store, userID string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	w, rdb, err := openWriter(cfg, store)
	if err != nil {
		return err
	}
	if rdb != nil {
		defer rdb.Close()
	}
	return w.DeleteToken(ctx, userID)
}

// checkToken resolves the token the agent would use, without printing it.
func checkToken(ctx context.Context, userID string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if userID == "" {
		userID = cfg.Session.UserID
	}

	var rdb *database.RedisClient
	if cfg.Redis.Address != "" {
		rdb = database.NewRedis(cfg.Redis)
		defer rdb.Close()
	}
	chain, err := tokenstore.FromConfig(cfg.Session, rdb)
	if err != nil {
		return err
	}

	token, err := chain.Token(ctx, userID)
	if err != nil {
		return err
	}
	fmt.Printf("Token found for %s via %s (%s)\n", userID, chain.Name(), mask(token))
	return nil
}

func mask(token string) string {
	if len(token) <= 8 {
		return strings.Repeat("*", len(token))
	}
	return token[:4] + strings.Repeat("*", len(token)-8) + token[len(token)-4:]
}

func readToken() string {
	fmt.Fprint(os.Stderr, "Token: ")
	line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
	return line
}

func help() {
	fmt.Print(`
Usage: token-tool <command> [flags]

Commands:
  save    Store a session token for a user
  delete  Remove a user's stored session token
  check   Resolve the token the agent would use
  help    Show this help message

Examples:
  token-tool save -user 42 -store keyring < token.txt
  token-tool save -user 42 -store redis -token eyJhbGciOi...
  token-tool delete -user 42 -store keyring
  token-tool check -user 42 -config configs/config.yaml

Use 'token-tool <command> -h' for more information about a command.
` + "\n")
}
