package main

import (
	"context"
	"log"
	"strings"

	"github.com/spf13/pflag"

	"github.com/seanblong/curricache/internal/config"
	"github.com/seanblong/curricache/internal/embedder"
	"github.com/seanblong/curricache/internal/ingest"
	"github.com/seanblong/curricache/internal/store"
)

func main() {
	fs := pflag.NewFlagSet("curricache-ingest", pflag.ExitOnError)
	source := fs.String("source", "data/chunks", "Root directory of *.jsonl curriculum chunk files")

	cfg, err := config.Load("", fs)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	fs.Usage = cfg.Usage

	ctx := context.Background()

	st, err := store.New(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer st.Close()

	var embed embedder.Embedder
	switch strings.ToLower(cfg.Provider) {
	case "openai":
		embed = embedder.NewHTTPEmbedder("", cfg.APIKey, cfg.EmbedModel, cfg.Dim)
	case "vertexai", "google":
		embed, err = embedder.NewVertexAIEmbedder(ctx, cfg.ProjectID, cfg.Location, cfg.EmbedModel, cfg.Dim)
		if err != nil {
			log.Fatalf("Failed to initialize VertexAI embedder: %v", err)
		}
	case "stub":
		embed = embedder.NewStubEmbedder(cfg.Dim)
	default:
		log.Fatalf("unsupported embedding provider: %s", cfg.Provider)
	}

	if err := st.Migrate(ctx, embed.Dim()); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	ig := ingest.New(st, embed, *source)
	if err := ig.Run(ctx); err != nil {
		log.Fatalf("ingestion failed: %v", err)
	}
}
