package main

import (
	"os"

	"github.com/joho/godotenv"

	"github.com/quietloop/engram/cmd/engramd/commands"
)

func main() {
	// A .env file is a convenience for local development; absence is fine.
	_ = godotenv.Load()

	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
