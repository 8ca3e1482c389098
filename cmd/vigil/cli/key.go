package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/vigilhq/vigil/internal/model"
	"github.com/vigilhq/vigil/internal/service"
)

func newKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "key",
		Aliases: []string{"apikey"},
		Short:   "Manage API keys",
		Long:    "Create, list, and revoke the opaque API keys Vigil validates.",
	}

	cmd.AddCommand(newKeyCreateCmd())
	cmd.AddCommand(newKeyListCmd())
	cmd.AddCommand(newKeyRevokeCmd())

	return cmd
}

// ---------- key create ----------

func newKeyCreateCmd() *cobra.Command {
	var (
		name        string
		userID      int64
		permissions []string
		rateLimit   int
		expiresIn   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new API key",
		Long:  "Generate a new API key. The raw key is shown once and cannot be retrieved again.",
		Example: `  vigil key create --name "CI pipeline" --permissions read
  vigil key create --name deploy --permissions read,write,admin --expires-in 720h`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyCreate(name, userID, permissions, rateLimit, expiresIn)
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Human-readable label for the key (required)")
	cmd.Flags().Int64Var(&userID, "user-id", 0, "Owning user ID")
	cmd.Flags().StringSliceVar(&permissions, "permissions", nil, "Permissions to attach (default read)")
	cmd.Flags().IntVar(&rateLimit, "rate-limit", 0, "Maximum validations per hour (default 1000)")
	cmd.Flags().DurationVar(&expiresIn, "expires-in", 0, "Lifetime of the key (e.g. 720h); omit for no expiry")
	cmd.MarkFlagRequired("name")

	return cmd
}

func runKeyCreate(name string, userID int64, permissions []string, rateLimit int, expiresIn time.Duration) error {
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	ctx := context.Background()
	authSvc := service.NewAuthService(st, "")

	var owner *int64
	if userID > 0 {
		owner = &userID
	}
	var expiresAt *time.Time
	if expiresIn > 0 {
		t := time.Now().Add(expiresIn)
		expiresAt = &t
	}

	generated, err := authSvc.GenerateAPIKey(ctx, name, owner, permissions, expiresAt, rateLimit)
	if err != nil {
		return fmt.Errorf("create api key: %w", err)
	}

	fmt.Println("API Key created:")
	fmt.Println()
	fmt.Printf("  Key:         %s\n", generated.Key)
	fmt.Printf("  Name:        %s\n", generated.Name)
	fmt.Printf("  Permissions: %v\n", generated.Permissions)
	fmt.Printf("  Rate limit:  %d/hour\n", generated.RateLimit)
	if generated.ExpiresAt != nil {
		fmt.Printf("  Expires:     %s\n", generated.ExpiresAt.Format(time.RFC3339))
	}
	fmt.Println()
	fmt.Println("  Save this key now - it cannot be retrieved again.")
	return nil
}

// ---------- key list ----------

func newKeyListCmd() *cobra.Command {
	var (
		jsonOutput bool
		userID     int64
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List all API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyList(jsonOutput, userID)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().Int64Var(&userID, "user-id", 0, "Only list keys owned by this user")

	return cmd
}

func runKeyList(jsonOutput bool, userID int64) error {
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	ctx := context.Background()

	var keys []model.APIKey
	if userID > 0 {
		keys, err = st.ListAPIKeysForUser(ctx, userID, false)
	} else {
		keys, err = st.ListAPIKeys(ctx)
	}
	if err != nil {
		return fmt.Errorf("list api keys: %w", err)
	}

	type keyRow struct {
		ID     int64  `json:"id"`
		Prefix string `json:"prefix"`
		Name   string `json:"name"`
		Usage  int64  `json:"usage_count"`
		Active bool   `json:"active"`
	}

	rows := make([]keyRow, len(keys))
	for i, k := range keys {
		rows[i] = keyRow{
			ID:     k.ID,
			Prefix: k.KeyPrefix,
			Name:   k.Name,
			Usage:  k.UsageCount,
			Active: k.IsActive && k.RevokedAt == nil,
		}
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}

	if len(rows) == 0 {
		fmt.Println("No API keys configured. Use 'vigil key create' to create one.")
		return nil
	}

	fmt.Printf("%-6s %-16s %-24s %-10s %-8s\n", "ID", "PREFIX", "NAME", "USAGE", "ACTIVE")
	fmt.Printf("%-6s %-16s %-24s %-10s %-8s\n", "--", "------", "----", "-----", "------")
	for _, k := range rows {
		active := "yes"
		if !k.Active {
			active = "no"
		}
		fmt.Printf("%-6d %-16s %-24s %-10d %-8s\n", k.ID, k.Prefix, k.Name, k.Usage, active)
	}

	return nil
}

// ---------- key revoke ----------

func newKeyRevokeCmd() *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "revoke <id>",
		Short: "Revoke an API key by its ID",
		Long:  "Deactivate an API key, preventing any further validations using that key.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid key ID %q", args[0])
			}
			return runKeyRevoke(id, reason)
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "Reason recorded with the revocation")

	return cmd
}

func runKeyRevoke(id int64, reason string) error {
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	authSvc := service.NewAuthService(st, "")
	affected, err := authSvc.RevokeAPIKey(context.Background(), id, reason)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if !affected {
		return fmt.Errorf("no active API key with ID %d", id)
	}

	fmt.Printf("Revoked API key %d\n", id)
	return nil
}
