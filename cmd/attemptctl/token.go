package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/stemsi/exstem-attempt-engine/internal/auth"
	"github.com/stemsi/exstem-attempt-engine/internal/config"
	"github.com/stemsi/exstem-attempt-engine/internal/model"
	"golang.org/x/term"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage locally signed access tokens",
}

var tokenIssueCmd = &cobra.Command{
	Use:   "issue <user-id>",
	Short: "Issue an HS256 token for a learner, grader or admin",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		roleFlag, _ := cmd.Flags().GetString("role")
		ttl, _ := cmd.Flags().GetDuration("ttl")
		prompt, _ := cmd.Flags().GetBool("prompt-secret")

		role := model.Role(roleFlag)
		if _, ok := model.RolePermissions[role]; !ok {
			return fmt.Errorf("unknown role %q", roleFlag)
		}

		secret := cfg.JWTSecret
		if prompt {
			s, err := readSecret("JWT secret: ")
			if err != nil {
				return err
			}
			secret = s
		}
		if secret == "" {
			return fmt.Errorf("JWT secret is empty")
		}
		if ttl <= 0 {
			ttl = cfg.JWTExpiry
		}

		token, err := auth.NewJWTManager(secret, cfg.JWTIssuer, ttl).Issue(args[0], role)
		if err != nil {
			return fmt.Errorf("sign token: %w", err)
		}
		fmt.Println(token)
		return nil
	},
}

func init() {
	tokenIssueCmd.Flags().String("role", string(model.RoleLearner), "Role: learner, grader or admin")
	tokenIssueCmd.Flags().Duration("ttl", 0, "Token lifetime (defaults to JWT_EXPIRY_HOURS)")
	tokenIssueCmd.Flags().Bool("prompt-secret", false, "Read the signing secret from the terminal instead of JWT_SECRET")
	tokenCmd.AddCommand(tokenIssueCmd)
}

// readSecret reads a line from the terminal without echoing it.
func readSecret(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("stdin is not a terminal")
	}
	fmt.Fprint(os.Stderr, prompt)
	raw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read secret: %w", err)
	}
	return string(raw), nil
}
