// Command tokengen mints a development token with the gateway's signing
// configuration.
package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/aman-churiwal/intelligent-api-gateway/internal/auth"
	"github.com/aman-churiwal/intelligent-api-gateway/internal/config"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	configPath := flag.String("config", "config.yaml", "gateway configuration file")
	subject := flag.String("sub", "user123", "token subject")
	role := flag.String("role", "user", "role claim")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal("Failed to load config: ", err)
	}

	authCfg := cfg.Auth
	authCfg.TokenTTL = *ttl
	issuer, err := auth.NewIssuer(authCfg)
	if err != nil {
		log.Fatal("Failed to create issuer: ", err)
	}

	token, expiresAt, err := issuer.Issue(*subject, map[string]string{"role": *role})
	if err != nil {
		log.Fatal("Failed to sign token: ", err)
	}

	fmt.Println("JWT Token:")
	fmt.Println(token)
	fmt.Println()
	fmt.Printf("Expires at %s\n", expiresAt.Format(time.RFC3339))
	fmt.Println("Use this token with:")
	fmt.Printf("curl -H \"Authorization: Bearer %s\" http://localhost:%s/\n", token, cfg.Server.Port)
}
