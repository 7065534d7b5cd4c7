// Command calltoken mints identity tokens for development relays.
package main

import (
	"fmt"
	"github.com/peterouob/pionCall/pkg/auth"
	"github.com/peterouob/pionCall/pkg/config"
	"github.com/spf13/pflag"
	"log"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "path to config.yaml")
	user := pflag.StringP("user", "u", "", "user id to issue the token for")
	name := pflag.StringP("name", "n", "", "display name shown to callees")
	ttl := pflag.Duration("ttl", 0, "token lifetime; defaults to auth.token_ttl")
	pflag.Parse()

	if *user == "" {
		log.Fatalln("[calltoken] --user is required")
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalln("[calltoken] load config err:", err)
	}
	lifetime := cfg.Auth.TokenTTL
	if *ttl > 0 {
		lifetime = *ttl
	}
	issuer, err := auth.NewIssuer(cfg.Auth.JWTSecret, lifetime)
	if err != nil {
		log.Fatalln("[calltoken] auth err:", err)
	}
	token, err := issuer.Generate(*user, *name)
	if err != nil {
		log.Fatalln("[calltoken] sign err:", err)
	}
	fmt.Println(token)
}
