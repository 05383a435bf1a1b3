package main

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log"
)

func main() {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		log.Fatalf("Failed to generate key: %v", err)
	}
	encoded := base64.StdEncoding.EncodeToString(key)

	fmt.Println("Generated AES-256 key for tool environment encryption.")
	fmt.Println("\nAdd this to your .env:")
	fmt.Printf("  FORGE_SECRETS_ENCRYPTION_KEY=%s\n", encoded)
}
