package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/david/recovery-match/internal/auth"
	"github.com/david/recovery-match/internal/config"
	"github.com/google/uuid"
)

// Mints a bearer token for a user id, signed with the configured JWT_SECRET.
func main() {
	user := flag.String("user", "", "user id to put in the token subject")
	ttl := flag.Duration("ttl", auth.DefaultTokenTTL, "token lifetime")
	flag.Parse()

	id, err := uuid.Parse(*user)
	if err != nil {
		log.Fatalf("invalid -user: %v", err)
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	if cfg.JWTSecret == "" {
		log.Fatal("JWT_SECRET must be set to mint tokens the server will accept")
	}

	token, err := auth.GenerateToken([]byte(cfg.JWTSecret), id, *ttl)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(token)
	log.Printf("expires %s", time.Now().Add(*ttl).Format(time.RFC3339))
}
