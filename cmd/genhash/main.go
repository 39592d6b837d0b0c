// Command genhash печатает хеш argon2id пароля для ADMIN_PASSWORD_HASH.
//
// Использование: go run ./cmd/genhash <пароль>
package main

import (
	"fmt"
	"os"

	"serotonyl.ru/draft-auction/internal/api"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("usage: go run ./cmd/genhash <password>")
		os.Exit(1)
	}

	hash, err := api.HashPassword(os.Args[1], api.DefaultPasswordParams)
	if err != nil {
		fmt.Printf("failed to hash password: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Password hash (set it as ADMIN_PASSWORD_HASH):")
	fmt.Println(hash)
}
