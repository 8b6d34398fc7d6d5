package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/aviv90/tasker-server-sub013/internal/agent"
	"github.com/aviv90/tasker-server-sub013/internal/config"
	"github.com/aviv90/tasker-server-sub013/pkg/models"
)

func buildServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the agent engine HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return runServe(cfg)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "tasker.yaml", "Path to configuration file")
	return cmd
}

// executeRequest is the HTTP request body for POST /v1/execute.
type executeRequest struct {
	Text          string `json:"text"`
	ChatID        string `json:"chat_id"`
	MessageID     string `json:"message_id,omitempty"`
	UseHistory    *bool  `json:"use_history,omitempty"`
	MaxIterations int    `json:"max_iterations,omitempty"`
	ImageURL      string `json:"image_url,omitempty"`
	VideoURL      string `json:"video_url,omitempty"`
	AudioURL      string `json:"audio_url,omitempty"`
	QuotedContext string `json:"quoted_context,omitempty"`
}

func runServe(cfg *config.Config) error {
	logger := setupLogger(cfg)

	var eng *engine
	// Multi-step output is dispatched per step; the server records each
	// step in the transcript as it happens.
	dispatcher := agent.DispatcherFunc(func(ctx context.Context, chatID string, result *models.AgentResult) error {
		if result.Text == "" {
			return nil
		}
		return eng.msgStore.Append(ctx, models.Message{
			ChatID:  chatID,
			Role:    models.RoleAssistant,
			Content: result.Text,
		})
	})

	eng, err := buildEngine(cfg, logger, dispatcher)
	if err != nil {
		return err
	}
	defer eng.Close()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/execute", func(w http.ResponseWriter, r *http.Request) {
		var req executeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if req.Text == "" || req.ChatID == "" {
			http.Error(w, "text and chat_id are required", http.StatusBadRequest)
			return
		}

		opts := agent.DefaultOptions()
		if req.UseHistory != nil {
			opts.UseConversationHistory = *req.UseHistory
		}
		opts.MaxIterations = req.MaxIterations
		opts.MessageID = req.MessageID
		if req.ImageURL != "" || req.VideoURL != "" || req.AudioURL != "" || req.QuotedContext != "" {
			opts.Input = &agent.MediaInput{
				ImageURL:      req.ImageURL,
				VideoURL:      req.VideoURL,
				AudioURL:      req.AudioURL,
				QuotedContext: req.QuotedContext,
			}
		}

		result, err := eng.orchestrator.Execute(r.Context(), req.Text, req.ChatID, opts)
		if err != nil {
			logger.Error("execute failed", "chat_id", req.ChatID, "error", err)
			http.Error(w, "execution failed", http.StatusBadGateway)
			return
		}

		recordTranscript(r.Context(), eng, req, result)

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(result); err != nil {
			logger.Warn("failed to encode response", "error", err)
		}
	})
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.HTTPPort),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	metricsServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.MetricsPort),
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("http server listening", "addr", server.Addr)
		errCh <- server.ListenAndServe()
	}()
	go func() {
		logger.Info("metrics server listening", "addr", metricsServer.Addr)
		errCh <- metricsServer.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		logger.Info("shutting down", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	_ = metricsServer.Shutdown(shutdownCtx)
	return server.Shutdown(shutdownCtx)
}

// recordTranscript appends the request and its final answer to the chat
// transcript. Multi-step answers were already recorded per step by the
// dispatcher.
func recordTranscript(ctx context.Context, eng *engine, req executeRequest, result *models.AgentResult) {
	_ = eng.msgStore.Append(ctx, models.Message{
		ID:      req.MessageID,
		ChatID:  req.ChatID,
		Role:    models.RoleUser,
		Content: req.Text,
	})
	if result.AlreadySent || result.Text == "" {
		return
	}
	_ = eng.msgStore.Append(ctx, models.Message{
		ChatID:  req.ChatID,
		Role:    models.RoleAssistant,
		Content: result.Text,
	})
}

func buildChatCmd() *cobra.Command {
	var configPath string
	var chatID string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive REPL against the agent engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return runChat(cfg, chatID)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "tasker.yaml", "Path to configuration file")
	cmd.Flags().StringVar(&chatID, "chat-id", "local", "Chat identifier for this session")
	return cmd
}

func runChat(cfg *config.Config, chatID string) error {
	logger := setupLogger(cfg)

	dispatcher := agent.DispatcherFunc(func(ctx context.Context, chatID string, result *models.AgentResult) error {
		printResult(result)
		return nil
	})

	eng, err := buildEngine(cfg, logger, dispatcher)
	if err != nil {
		return err
	}
	defer eng.Close()

	fmt.Println("tasker chat - type a request, or /quit to exit")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" || line == "/exit" {
			break
		}

		opts := agent.DefaultOptions()
		opts.MessageID = uuid.New().String()

		ctx := context.Background()
		result, err := eng.orchestrator.Execute(ctx, line, chatID, opts)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			continue
		}

		recordTranscript(ctx, eng, executeRequest{
			Text:      line,
			ChatID:    chatID,
			MessageID: opts.MessageID,
		}, result)

		if !result.AlreadySent {
			printResult(result)
		}
	}
	return scanner.Err()
}

func printResult(result *models.AgentResult) {
	if result.Text != "" {
		fmt.Println(result.Text)
	}
	if result.ImageURL != "" {
		fmt.Println("[image]", result.ImageURL)
	}
	if result.VideoURL != "" {
		fmt.Println("[video]", result.VideoURL)
	}
	if result.AudioURL != "" {
		fmt.Println("[audio]", result.AudioURL)
	}
	if result.Poll != nil {
		fmt.Println("[poll]", result.Poll.Question, result.Poll.Options)
	}
	if result.Location != nil {
		fmt.Printf("[location] %f,%f\n", result.Location.Latitude, result.Location.Longitude)
	}
}

func buildConfigSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config-schema",
		Short: "Print the JSON Schema for the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, err := config.JSONSchema()
			if err != nil {
				return err
			}
			fmt.Println(string(schema))
			return nil
		},
	}
}
