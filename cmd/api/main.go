package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/spf13/pflag"

	"github.com/seanblong/curricache/internal/auth"
	"github.com/seanblong/curricache/internal/config"
	"github.com/seanblong/curricache/internal/crossencoder"
	"github.com/seanblong/curricache/internal/embedder"
	"github.com/seanblong/curricache/internal/lexical"
	"github.com/seanblong/curricache/internal/llm"
	"github.com/seanblong/curricache/internal/orchestrator"
	"github.com/seanblong/curricache/internal/prompt"
	"github.com/seanblong/curricache/internal/store"
)

type queryRequest struct {
	Query   string       `json:"query"`
	History []promptTurn `json:"history,omitempty"`
}

type promptTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func newEmbedder(ctx context.Context, cfg config.Specification) (embedder.Embedder, error) {
	switch strings.ToLower(cfg.Provider) {
	case "openai":
		return embedder.NewHTTPEmbedder("", cfg.APIKey, cfg.EmbedModel, cfg.Dim), nil
	case "vertexai", "google":
		return embedder.NewVertexAIEmbedder(ctx, cfg.ProjectID, cfg.Location, cfg.EmbedModel, cfg.Dim)
	case "stub":
		return embedder.NewStubEmbedder(cfg.Dim), nil
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Provider)
	}
}

func newGenerator(ctx context.Context, cfg config.Specification) (llm.Provider, error) {
	switch strings.ToLower(cfg.LLMProvider) {
	case "local":
		return llm.NewLocalCompletionProvider(cfg.LLMURL, cfg.LLMTemperature), nil
	case "chat":
		return llm.NewChatProvider(cfg.LLMURL, cfg.LLMModel, cfg.LLMAPIKey, cfg.LLMTemperature), nil
	case "vertexai", "google":
		return llm.NewVertexAIProvider(ctx, cfg.ProjectID, cfg.Location, cfg.LLMModel)
	case "generic":
		return llm.NewGenericProvider(cfg.LLMURL, cfg.LLMTemperature), nil
	default:
		return nil, fmt.Errorf("unsupported generative provider: %s", cfg.LLMProvider)
	}
}

func main() {
	fs := pflag.NewFlagSet("curricache-api", pflag.ExitOnError)

	cfg, err := config.Load("", fs)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	fs.Usage = cfg.Usage

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Invalid log level '%s': %v", cfg.LogLevel, err)
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
	logger.Info().Str("provider", cfg.Provider).Str("llm_provider", cfg.LLMProvider).Bool("auth_enabled", cfg.Auth.Enabled).Msg("starting curricache api")

	auth.Configure(
		cfg.Auth.JwtSecret,
		cfg.Auth.GithubClientID,
		cfg.Auth.GithubClientSecret,
		cfg.Auth.GithubRedirectURL,
		cfg.Auth.GithubAllowedOrg,
		cfg.Auth.Enabled,
	)

	ctx := context.Background()

	st, err := store.New(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer st.Close()

	embed, err := newEmbedder(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize embedder: %v", err)
	}
	if err := st.Migrate(ctx, embed.Dim()); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	gen, err := newGenerator(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize generative provider: %v", err)
	}

	lex := lexical.Open(cfg.LexicalPath)
	defer lex.Close()

	cross := crossencoder.NewHTTPCrossEncoder(cfg.LLMURL, embed)

	orch := orchestrator.New(st, lex, st, cross, embed, gen, cfg.Retrieval, cfg.Prompt)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })

	mux.HandleFunc("/auth/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(map[string]bool{"enabled": auth.Enabled()}); err != nil {
			http.Error(w, "Failed to encode response", 500)
		}
	})

	if auth.Enabled() {
		log.Println("Authentication is ENABLED")
		registerAuthRoutes(mux)
	} else {
		log.Println("Authentication is DISABLED - running in open mode")
	}

	mux.HandleFunc("/courses", auth.Middleware(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		courses, err := st.ListCourses(ctx)
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(courses); err != nil {
			http.Error(w, "Failed to encode courses", 500)
		}
	}))

	mux.HandleFunc("/courses/", auth.Middleware(func(w http.ResponseWriter, r *http.Request) {
		rel := strings.TrimPrefix(r.URL.Path, "/courses/")
		rel = strings.TrimSuffix(rel, "/")
		if !strings.HasSuffix(rel, "/topics") {
			http.NotFound(w, r)
			return
		}
		courseID := strings.TrimSuffix(rel, "/topics")
		if courseID == "" {
			http.Error(w, "missing course id", http.StatusBadRequest)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		topics, err := st.ListTopics(ctx, courseID)
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(topics); err != nil {
			http.Error(w, "Failed to encode topics", 500)
		}
	}))

	mux.HandleFunc("/query", auth.Middleware(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		start := time.Now()

		var req queryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if strings.TrimSpace(req.Query) == "" {
			http.Error(w, "missing query", http.StatusBadRequest)
			return
		}

		hist := make([]prompt.Turn, 0, len(req.History))
		for _, t := range req.History {
			hist = append(hist, prompt.Turn{Role: t.Role, Content: t.Content})
		}

		ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
		defer cancel()

		res, err := orch.Ask(ctx, req.Query, hist)
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(res); err != nil {
			log.Printf("failed to encode response: %v", err)
			_, _ = w.Write([]byte(`{"answer":"","intent":"","confidence":"low"}`))
		}

		hlog.FromRequest(r).Info().Str("path", "/query").Str("intent", string(res.Intent)).Str("confidence", string(res.Confidence)).Dur("dur", time.Since(start)).Msg("served")
	}))

	handler := hlog.NewHandler(logger)(
		hlog.AccessHandler(func(r *http.Request, status, size int, dur time.Duration) {
			logger.Info().Str("method", r.Method).Str("path", r.URL.Path).Int("status", status).Int("size", size).Dur("dur", dur).Msg("http")
		})(mux),
	)

	address := fmt.Sprintf(":%d", cfg.Port)
	s := &http.Server{Addr: address, Handler: handler}
	logger.Info().Str("addr", s.Addr).Msg("api server listening")
	log.Fatal(s.ListenAndServe())
}

func registerAuthRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/auth/github", func(w http.ResponseWriter, r *http.Request) {
		state := auth.GenerateState()
		http.SetCookie(w, &http.Cookie{
			Name:     "oauth_state",
			Value:    state,
			Path:     "/",
			MaxAge:   600,
			HttpOnly: true,
			Secure:   strings.HasPrefix(r.Header.Get("X-Forwarded-Proto"), "https"),
			SameSite: http.SameSiteLaxMode,
		})
		http.Redirect(w, r, auth.LoginURL(state), http.StatusTemporaryRedirect)
	})

	mux.HandleFunc("/auth/callback", func(w http.ResponseWriter, r *http.Request) {
		code := r.URL.Query().Get("code")
		state := r.URL.Query().Get("state")

		stateCookie, err := r.Cookie("oauth_state")
		if err != nil || stateCookie.Value != state {
			http.Error(w, "Invalid state parameter", http.StatusBadRequest)
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "oauth_state", Value: "", Path: "/", MaxAge: -1})

		if code == "" {
			http.Error(w, "Missing code parameter", http.StatusBadRequest)
			return
		}

		accessToken, err := auth.ExchangeCodeForToken(code)
		if err != nil {
			http.Error(w, "Failed to exchange code for token", http.StatusInternalServerError)
			return
		}
		op, err := auth.FetchOperator(accessToken)
		if err != nil {
			http.Error(w, "Failed to get operator info: "+err.Error(), http.StatusInternalServerError)
			return
		}
		token, err := auth.IssueToken(op)
		if err != nil {
			http.Error(w, "Failed to issue token", http.StatusInternalServerError)
			return
		}

		http.SetCookie(w, &http.Cookie{
			Name:     "auth_token",
			Value:    token,
			Path:     "/",
			MaxAge:   86400,
			HttpOnly: true,
			Secure:   strings.HasPrefix(r.Header.Get("X-Forwarded-Proto"), "https"),
			SameSite: http.SameSiteLaxMode,
		})

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(auth.SessionResponse{Operator: *op, Token: token}); err != nil {
			http.Error(w, "Failed to encode response", 500)
		}
	})

	mux.HandleFunc("/auth/me", func(w http.ResponseWriter, r *http.Request) {
		var tokenString string
		if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
			tokenString = strings.TrimPrefix(h, "Bearer ")
		} else if cookie, err := r.Cookie("auth_token"); err == nil {
			tokenString = cookie.Value
		}
		if tokenString == "" {
			http.Error(w, "No authentication token", http.StatusUnauthorized)
			return
		}
		op, err := auth.ParseToken(tokenString)
		if err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(auth.SessionResponse{Operator: *op, Token: tokenString}); err != nil {
			http.Error(w, "Failed to encode response", 500)
		}
	})

	mux.HandleFunc("/auth/logout", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "auth_token", Value: "", Path: "/", MaxAge: -1})
		w.WriteHeader(http.StatusOK)
	})
}
