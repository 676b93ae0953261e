package main

import (
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"

	"github.com/stackwatch/stackwatch/internal/database"
	"github.com/stackwatch/stackwatch/pkg/config"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	migrator, err := database.NewMigrator(&cfg.Database, "migrations")
	if err != nil {
		log.Fatalf("Failed to create migrator: %v", err)
	}
	defer migrator.Close()

	switch command {
	case "up":
		handleUp(migrator)
	case "down":
		handleDown(migrator)
	case "version":
		handleVersion(migrator)
	case "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("StackWatch Database Migration Tool")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  migrate <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  up           Run all available migrations")
	fmt.Println("  down         Rollback one migration")
	fmt.Println("  version      Show current migration version")
	fmt.Println("  help         Show this help message")
}

func handleUp(migrator *database.Migrator) {
	fmt.Println("Running migrations...")
	if err := migrator.Up(); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}
	fmt.Println("Migrations completed")
}

func handleDown(migrator *database.Migrator) {
	fmt.Println("Rolling back one migration...")
	if err := migrator.Down(); err != nil {
		log.Fatalf("Rollback failed: %v", err)
	}
	fmt.Println("Rollback completed")
}

func handleVersion(migrator *database.Migrator) {
	version, dirty, err := migrator.Version()
	if err != nil {
		log.Fatalf("Failed to get version: %v", err)
	}

	if version == 0 {
		fmt.Println("No migrations applied")
		return
	}

	fmt.Printf("Current version: %d", version)
	if dirty {
		fmt.Print(" (dirty)")
	}
	fmt.Println()
}
