package generate

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rebrick/rebrick/internal/model"
)

// Engine is an external element generator, typically a language model.
// It returns a JSON array of elements for one page.
type Engine interface {
	GenerateElements(ctx context.Context, tpl *model.PageTemplate, page PageInput) ([]byte, error)
}

// EngineGenerator asks the engine for each page and falls back to another
// generator for pages whose output is unusable.
type EngineGenerator struct {
	engine   Engine
	fallback Generator
	logger   *slog.Logger
}

// NewEngineGenerator wires an engine with a fallback.
func NewEngineGenerator(engine Engine, fallback Generator, logger *slog.Logger) *EngineGenerator {
	return &EngineGenerator{
		engine:   engine,
		fallback: fallback,
		logger:   logger.With("component", "generate.engine"),
	}
}

// Generate implements Generator.
func (g *EngineGenerator) Generate(ctx context.Context, in Input) ([]*model.BricksPageStructure, error) {
	pages := make([]*model.BricksPageStructure, 0, len(in.Pages))
	for _, p := range in.Pages {
		page, err := g.generatePage(ctx, in, p)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			g.logger.Warn("engine output rejected, using fallback",
				"page_type", p.Type,
				"error", err,
			)
			fb, fbErr := g.fallback.Generate(ctx, Input{SiteName: in.SiteName, Template: in.Template, Pages: []PageInput{p}})
			if fbErr != nil {
				return nil, fmt.Errorf("fallback for %s page: %w", p.Type, fbErr)
			}
			pages = append(pages, fb...)
			continue
		}
		pages = append(pages, page)
	}
	return pages, nil
}

func (g *EngineGenerator) generatePage(ctx context.Context, in Input, p PageInput) (*model.BricksPageStructure, error) {
	data, err := g.engine.GenerateElements(ctx, in.Template, p)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	elements, err := DecodeElements(data)
	if err != nil {
		return nil, err
	}
	return model.NewBricksPageStructure(p.Type, PageTitle(p.Type, p.Title), PageSlug(p.Type), elements)
}
