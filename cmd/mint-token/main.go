package main

import (
	"flag"
	"fmt"
	"os"

	"marketfleet/internal/shared/auth"
	"marketfleet/internal/shared/config"
)

// Mints a bearer token for local testing against either service.
func main() {
	userID := flag.String("user", "", "user id to embed in the token")
	role := flag.String("role", auth.RoleCustomer, "VENDOR|CUSTOMER|DRIVER|ADMIN")
	flag.Parse()

	if *userID == "" {
		fmt.Fprintln(os.Stderr, "usage: mint-token -user <id> [-role ROLE]")
		os.Exit(2)
	}

	cfg := config.Load()
	token, err := auth.NewJWTService(cfg.JWT).GenerateToken(*userID, *role)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mint token: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
