package db

import (
	"context"
	"fmt"

	"github.com/esnunes/prospector/internal/models"
)

const seedUser = "user-1"

// Seed inserts sample companies, boards and tiles into an empty database.
// It is a no-op when any company or board already exists.
func (q *Queries) Seed(ctx context.Context) error {
	var n int
	if err := q.db.QueryRowContext(ctx, `SELECT (SELECT COUNT(*) FROM companies) + (SELECT COUNT(*) FROM boards)`).Scan(&n); err != nil {
		return fmt.Errorf("seeding: %w", err)
	}
	if n > 0 {
		return nil
	}

	for _, c := range []models.Company{
		{UserID: seedUser, Name: "InnovateTech Solutions", Industry: "Technology Consulting", Product: "Digital Transformation Services", ICP: "Enterprise companies seeking digital innovation", Notes: "Focus on AI-driven solutions and cloud migration"},
		{UserID: seedUser, Name: "GreenEnergy Corp", Industry: "Renewable Energy", Product: "Solar Panel Systems", ICP: "Commercial and residential property owners", Notes: "Expanding into smart grid technology"},
		{UserID: seedUser, Name: "HealthTech Innovations", Industry: "Healthcare Technology", Product: "Patient Management Platform", ICP: "Hospitals and healthcare providers", Notes: "AI-powered diagnostics and patient care"},
	} {
		if _, err := q.CreateCompany(ctx, c); err != nil {
			return fmt.Errorf("seeding: %w", err)
		}
	}

	boards := map[string][]NewTile{
		"Strategic Sales Board": {
			{Title: "Market Opportunity Analysis", BasePrompt: "Analyze the market opportunity for this company and identify key growth areas."},
			{Title: "Competitive Positioning", BasePrompt: "Create a competitive analysis and positioning strategy for this company."},
		},
		"Market Analysis Board": {
			{Title: "Industry Trends", BasePrompt: "Identify current industry trends and how they impact this company."},
		},
		"Customer Success Board": {
			{Title: "Customer Journey Mapping", BasePrompt: "Map out the customer journey and identify touchpoints for improvement."},
		},
	}
	for _, name := range []string{"Strategic Sales Board", "Market Analysis Board", "Customer Success Board"} {
		b, err := q.CreateBoard(ctx, seedUser, name)
		if err != nil {
			return fmt.Errorf("seeding: %w", err)
		}
		if _, err := q.CreateTiles(ctx, b.ID, boards[name]); err != nil {
			return fmt.Errorf("seeding: %w", err)
		}
	}
	return nil
}
