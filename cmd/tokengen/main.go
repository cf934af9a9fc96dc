// Command tokengen mints a bearer token for local testing.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/capitalize-ai/realtime-chat/internal/auth"
	"github.com/capitalize-ai/realtime-chat/internal/config"
)

func main() {
	userID := flag.String("user", "", "user id to put in the token subject")
	flag.Parse()

	if *userID == "" {
		fmt.Fprintln(os.Stderr, "usage: tokengen -user <id>")
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	token, err := auth.NewJWT(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTExpiration).Issue(*userID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to issue token: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
