package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/stemsi/exstem-practice/internal/config"
	"github.com/stemsi/exstem-practice/internal/database"
	"github.com/stemsi/exstem-practice/internal/logger"
	"github.com/stemsi/exstem-practice/internal/model"
	"github.com/stemsi/exstem-practice/internal/repository"
	"github.com/stemsi/exstem-practice/internal/service"
)

// issue-token mints a principal token for local testing and prints the
// principal's current practice access.
func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)

	ctx := context.Background()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// ─── Initialize Services ───────────────────────────────────────────
	tokenService := service.NewTokenService(cfg.JWTSecret)
	gate := service.NewEntitlementGate(
		repository.NewEntitlementRepository(pool),
		repository.NewCourseRepository(pool),
		log,
	)

	// ─── CLI Input ─────────────────────────────────────────────────────
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("=== Issue Practice Token ===")

	// Principal ID
	fmt.Print("Enter Principal ID: ")
	principalStr, _ := reader.ReadString('\n')
	principalID, err := strconv.Atoi(strings.TrimSpace(principalStr))
	if err != nil || principalID <= 0 {
		fmt.Println("Error: Principal ID must be a positive number")
		return
	}

	// TTL
	fmt.Print("Enter TTL in hours (default 24): ")
	ttlStr, _ := reader.ReadString('\n')
	ttlStr = strings.TrimSpace(ttlStr)
	ttl := 24 * time.Hour
	if ttlStr != "" {
		hours, err := strconv.Atoi(ttlStr)
		if err != nil || hours <= 0 {
			fmt.Println("Error: TTL must be a positive number of hours")
			return
		}
		ttl = time.Duration(hours) * time.Hour
	}

	// ─── Logic ─────────────────────────────────────────────────────────

	token, err := tokenService.IssueToken(principalID, ttl)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to issue token")
	}

	status, err := gate.CheckAccess(ctx, principalID, model.AccessContext{})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to check access")
	}

	fmt.Printf("\nToken (expires in %s):\n%s\n\n", ttl, token)
	switch {
	case status.Allowed && status.Unlimited:
		fmt.Println("Access: allowed, unlimited attempts")
	case status.Allowed && status.Remaining != nil:
		fmt.Printf("Access: allowed, %d attempts remaining\n", *status.Remaining)
	default:
		fmt.Printf("Access: denied (%s)\n", status.Reason)
	}
}
