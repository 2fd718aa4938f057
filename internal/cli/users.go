package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/spec-kit/helpdesk/internal/auth"
	"github.com/spec-kit/helpdesk/internal/domain"
	"github.com/spec-kit/helpdesk/internal/persistence"
)

var (
	tokenUID  string
	tokenRole string

	userID         string
	userName       string
	userEmail      string
	userRole       string
	userDepartment string
)

var issueTokenCmd = &cobra.Command{
	Use:   "issue-token",
	Short: "Mint a bearer token for development",
	Long: `Sign a token with AUTH_JWT_SECRET for the given user id. In production
tokens come from the identity provider; the API only verifies them.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if tokenUID == "" {
			return errors.New("--uid is required")
		}
		role := domain.UserRole(tokenRole)
		if tokenRole != "" && !role.Valid() {
			return fmt.Errorf("unknown role %q", tokenRole)
		}
		tm := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes)
		token, expiresAt, err := tm.GenerateToken(tokenUID, role)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		fmt.Fprintf(cmd.ErrOrStderr(), "expires at %s\n", expiresAt.Format("2006-01-02 15:04:05 MST"))
		return nil
	},
}

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Maintain the user directory",
}

var userUpsertCmd = &cobra.Command{
	Use:   "upsert",
	Short: "Create or update one user",
	RunE: func(cmd *cobra.Command, args []string) error {
		role := domain.UserRole(userRole)
		if userID == "" || userName == "" {
			return errors.New("--id and --name are required")
		}
		if !role.Valid() {
			return fmt.Errorf("unknown role %q", userRole)
		}
		u := domain.User{ID: userID, Name: userName, Email: userEmail, Role: role}
		if userDepartment != "" {
			dept := userDepartment
			u.Department = &dept
		}

		ctx := cmd.Context()
		store, pg, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer pg.Close()
		if err := store.Repositories().Users.Upsert(ctx, &u); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "user %s saved (%s)\n", u.ID, u.Role)
		return nil
	},
}

var userImportCmd = &cobra.Command{
	Use:   "import FILE",
	Short: "Upsert every user of a YAML seed file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		users, err := persistence.LoadUserSeed(args[0])
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		store, pg, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer pg.Close()
		if err := persistence.SeedUsers(ctx, store.Repositories().Users, users, logger); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d users imported\n", len(users))
		return nil
	},
}

func init() {
	issueTokenCmd.Flags().StringVar(&tokenUID, "uid", "", "user id (token subject)")
	issueTokenCmd.Flags().StringVar(&tokenRole, "role", "", "role claim")

	userUpsertCmd.Flags().StringVar(&userID, "id", "", "user id")
	userUpsertCmd.Flags().StringVar(&userName, "name", "", "display name")
	userUpsertCmd.Flags().StringVar(&userEmail, "email", "", "email address")
	userUpsertCmd.Flags().StringVar(&userRole, "role", string(domain.RoleRequester), "colaborador, atendente, gerente, admin or financeiro")
	userUpsertCmd.Flags().StringVar(&userDepartment, "department", "", "department")

	userCmd.AddCommand(userUpsertCmd)
	userCmd.AddCommand(userImportCmd)
}
