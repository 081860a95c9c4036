package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/madfam-io/madlab/internal/runtime"
)

func main() {
	// Missing .env files are fine; the environment wins either way.
	_ = godotenv.Load()

	if err := runtime.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "madlab: %v\n", err)
		os.Exit(1)
	}
}
