// Seed creates a few lists with items for local runs. Both services must point
// at the same DATABASE_URL. Run from project root: go run ./scripts/seed
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"listsync/internal/config"
	"listsync/internal/database"
	"listsync/internal/models"
	"listsync/internal/repository"
)

func main() {
	lists := flag.Int("lists", 5, "number of lists")
	items := flag.Int("items", 20, "items per list")
	owner := flag.String("owner", "seed-user", "owner id of the seeded lists")
	flag.Parse()

	if err := config.LoadEnvFile(".env"); err != nil {
		fmt.Fprintln(os.Stderr, "read .env:", err)
	}
	cfg := config.Get()
	ctx := context.Background()

	db, err := database.OpenAndMigrate(ctx, cfg.DatabaseDriver, cfg.DatabaseURL, cfg.DBPoolSize)
	if err != nil {
		fmt.Fprintln(os.Stderr, "database:", err)
		os.Exit(1)
	}
	defer db.Close()

	listRepo := repository.NewLists(db)
	itemRepo := repository.NewItems(db)
	start := time.Now()

	for l := 1; l <= *lists; l++ {
		list := &models.List{Name: fmt.Sprintf("List %d", l), OwnerID: *owner}
		if err := listRepo.Create(ctx, list); err != nil {
			fmt.Fprintln(os.Stderr, "create list:", err)
			os.Exit(1)
		}
		for i := 1; i <= *items; i++ {
			item := &models.Item{ListID: list.ID, Text: fmt.Sprintf("Item %d", i), Checked: i%3 == 0}
			if err := itemRepo.Create(ctx, item); err != nil {
				fmt.Fprintln(os.Stderr, "create item:", err)
				os.Exit(1)
			}
		}
		fmt.Printf("\rSeeded %d / %d lists", l, *lists)
	}

	fmt.Printf("\nDone: %d lists, %d items in %v\n", *lists, *lists**items, time.Since(start))
}
