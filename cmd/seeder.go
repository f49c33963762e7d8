package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/frahmantamala/employee-management/internal/user"
	userPostgres "github.com/frahmantamala/employee-management/internal/user/postgres"
)

var (
	clearData    bool
	seedPassword string
)

var demoUsers = []struct {
	Email    string
	Name     string
	Role     user.Role
	Position string
}{
	{"admin@mail.com", "Sari Admin", user.RoleSuperAdmin, "System Administrator"},
	{"hr@mail.com", "Hana Resources", user.RoleHR, "HR Generalist"},
	{"manager@mail.com", "Made Manager", user.RoleManager, "Engineering Manager"},
	{"employee@mail.com", "Eko Employee", user.RoleEmployee, "Software Engineer"},
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with sample data",
	Long:  `Seed the database with one demo account per role for development and testing purposes.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig(".")
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}

		db, err := initDB(cfg.Database)
		if err != nil {
			log.Fatalf("failed to init db: %v", err)
		}
		defer db.Close()

		gdb, err := initGorm(db)
		if err != nil {
			log.Fatalf("failed to init gorm: %v", err)
		}
		repo := userPostgres.NewUserRepository(gdb)
		ctx := context.Background()

		if clearData {
			for _, u := range demoUsers {
				if err := gdb.WithContext(ctx).Exec("DELETE FROM users WHERE email = ?", u.Email).Error; err != nil {
					log.Fatalf("failed to clear %s: %v", u.Email, err)
				}
			}
			fmt.Println("Cleared demo users")
		}

		hash, err := user.HashPassword(seedPassword, cfg.Security.BCryptCost)
		if err != nil {
			log.Fatalf("failed to hash password: %v", err)
		}

		for _, d := range demoUsers {
			if _, err := repo.GetByEmail(ctx, d.Email); err == nil {
				fmt.Printf("%s user already exists: %s\n", d.Role, d.Email)
				continue
			} else if !errors.Is(err, user.ErrNotFound) {
				log.Fatalf("failed to look up %s: %v", d.Email, err)
			}

			now := time.Now().UTC()
			u := &user.User{
				ID:           uuid.NewString(),
				Email:        d.Email,
				Name:         d.Name,
				PasswordHash: hash,
				Role:         d.Role,
				Position:     d.Position,
				CreatedAt:    now,
				UpdatedAt:    now,
			}
			if err := repo.Create(ctx, user.ToDataModel(u)); err != nil {
				log.Fatalf("failed to insert %s user: %v", d.Role, err)
			}
			fmt.Printf("Seeded %s user: %s\n", d.Role, d.Email)
		}

		fmt.Println("Demo users seeded successfully")
	},
}

func init() {
	seedCmd.Flags().BoolVar(&clearData, "clear", false, "Clear existing data before seeding")
	seedCmd.Flags().StringVar(&seedPassword, "password", "password123", "Password for every demo user")
}
