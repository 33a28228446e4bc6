package main

import (
	"context"
	"flag"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"mirrorhub/internal/auth"
	"mirrorhub/pkg/database"
)

// Seeds an operator account. There is no open registration endpoint, so
// this tool is the only way accounts come into existence.
func main() {
	var (
		username = flag.String("username", "", "login name (required)")
		email    = flag.String("email", "", "email address (required)")
		password = flag.String("password", "", "initial password (required)")
	)
	flag.Parse()

	if *username == "" || *email == "" || *password == "" {
		log.Fatal("username, email and password are all required")
	}
	if len(*password) < 8 {
		log.Fatal("password must be at least 8 characters")
	}
	if !strings.Contains(*email, "@") {
		log.Fatalf("email %q looks invalid", *email)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db := database.MustOpen(database.DefaultConfig())
	defer db.Close()

	if err := database.Migrate(db); err != nil {
		log.Fatalf("db migrate failed: %v", err)
	}

	repo := auth.NewRepo(db)
	if existing, err := repo.GetByUsername(ctx, *username); err != nil {
		log.Fatalf("lookup user: %v", err)
	} else if existing != nil {
		log.Fatalf("user %q already exists", *username)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(*password), bcrypt.DefaultCost)
	if err != nil {
		log.Fatalf("hash password: %v", err)
	}

	u := auth.User{
		ID:           uuid.NewString(),
		Username:     *username,
		Email:        *email,
		PasswordHash: string(hash),
	}
	if err := repo.CreateUser(ctx, u); err != nil {
		log.Fatalf("create user: %v", err)
	}

	log.Printf("✅ created user %s (%s)", u.Username, u.ID)
}
