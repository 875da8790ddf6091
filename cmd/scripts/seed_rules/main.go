package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/Significant-Gravitas/AutoModerate-sub000/internal/config"
	"github.com/Significant-Gravitas/AutoModerate-sub000/internal/models"
	"gorm.io/gorm"
)

// seed_rules gives every project that has no rules the default AI rule set.
func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to config.yaml")
	dryRun := flag.Bool("dry-run", false, "list projects without writing")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db, err := models.Open(&cfg.Database, false)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	fmt.Println("Connected to database successfully!")
	fmt.Println("")

	var projects []models.Project
	err = db.Where("id NOT IN (?)", db.Model(&models.ModerationRule{}).Select("project_id")).
		Order("id ASC").
		Find(&projects).Error
	if err != nil {
		log.Fatalf("Failed to query projects: %v", err)
	}

	fmt.Printf("Projects without rules: %d\n", len(projects))
	fmt.Printf("%-5s %-40s\n", "ID", "Name")
	fmt.Println("---------------------------------------------")
	for _, p := range projects {
		fmt.Printf("%-5d %-40s\n", p.ID, p.Name)
	}
	fmt.Println("")

	if *dryRun || len(projects) == 0 {
		return
	}

	seeded := 0
	for _, p := range projects {
		err := db.Transaction(func(tx *gorm.DB) error {
			return models.CreateDefaultRules(tx, p.ID)
		})
		if err != nil {
			log.Printf("Failed to seed project %d: %v", p.ID, err)
			continue
		}
		seeded++
	}

	fmt.Printf("Seeded default rules for %d projects (%d rules each)\n", seeded, len(models.DefaultRules(0)))
}
