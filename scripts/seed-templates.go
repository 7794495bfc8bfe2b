package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rebrick/rebrick/internal/model"
	"github.com/rebrick/rebrick/internal/repository"
)

type seed struct {
	name        string
	kind        model.TemplateType
	description string
	layout      model.Layout
	colors      model.ColorScheme
	typography  model.Typography
}

var seeds = []seed{
	{
		name:        "modern-bistro",
		kind:        model.TemplateModern,
		description: "Full-bleed hero, sticky header and bold accent color",
		layout:      model.Layout{HeaderStyle: "sticky", FooterStyle: "columns", MaxWidth: 1200, SectionSpacing: 96, HeroStyle: "full"},
		colors:      model.ColorScheme{Primary: "#1f2933", Secondary: "#52606d", Accent: "#e4572e", Background: "#ffffff", Text: "#1f2933"},
		typography:  model.Typography{HeadingFont: "Montserrat", BodyFont: "Inter", BaseFontSize: 16, LineHeight: "1.6"},
	},
	{
		name:        "classic-trattoria",
		kind:        model.TemplateClassic,
		description: "Centered serif headings on a warm palette",
		layout:      model.Layout{HeaderStyle: "centered", FooterStyle: "simple", MaxWidth: 1100, SectionSpacing: 80, HeroStyle: "boxed"},
		colors:      model.ColorScheme{Primary: "#8b0000", Secondary: "#2f2f2f", Accent: "#d4a017", Background: "#fdf8f0", Text: "#1a1a1a"},
		typography:  model.Typography{HeadingFont: "Playfair Display", BodyFont: "Lato", BaseFontSize: 17, LineHeight: "1.7"},
	},
	{
		name:        "minimal-cafe",
		kind:        model.TemplateMinimal,
		description: "Narrow column with generous whitespace",
		layout:      model.Layout{HeaderStyle: "inline", FooterStyle: "minimal", MaxWidth: 960, SectionSpacing: 120, HeroStyle: "text"},
		colors:      model.ColorScheme{Primary: "#222", Secondary: "#666", Accent: "#2a9d8f", Background: "#fff", Text: "#222"},
		typography:  model.Typography{HeadingFont: "DM Sans", BodyFont: "DM Sans", BaseFontSize: 16},
	},
}

type output struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

func main() {
	var (
		databaseURL = flag.String("database-url", os.Getenv("DATABASE_URL"), "PostgreSQL connection string")
		format      = flag.String("format", "plain", "Output format: plain or json")
	)
	flag.Parse()

	if *databaseURL == "" {
		fmt.Fprintln(os.Stderr, "DATABASE_URL is required")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	repo, err := repository.New(ctx, *databaseURL, repository.PoolOptions{MaxConns: 2})
	if err != nil {
		fmt.Fprintln(os.Stderr, "connect database:", err)
		os.Exit(1)
	}
	defer repo.Close()

	results := make([]output, 0, len(seeds))
	for _, s := range seeds {
		tpl, err := model.NewPageTemplate(s.name, s.kind, s.layout, s.colors, s.typography)
		if err != nil {
			fmt.Fprintf(os.Stderr, "template %s: %v\n", s.name, err)
			os.Exit(1)
		}
		tpl.Description = s.description

		if err := repo.UpsertTemplateByName(ctx, tpl); err != nil {
			fmt.Fprintln(os.Stderr, err.Error())
			os.Exit(1)
		}
		results = append(results, output{ID: tpl.ID, Name: tpl.Name, Type: string(tpl.Type)})
	}

	if *format == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(results)
		return
	}

	for _, r := range results {
		fmt.Printf("%s\t%s\t%s\n", r.ID, r.Name, r.Type)
	}
}
