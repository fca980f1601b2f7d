// Package insights generates narrative account summaries and recommended
// plays from the latest health score, and maintains account profile
// embeddings for lookalike search. Generation is optional; without an API
// key the service reports itself disabled and every call returns
// ErrDisabled.
package insights

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"

	"github.com/fieldpulse/lifecycle/internal/rules"
	"github.com/fieldpulse/lifecycle/internal/store/postgres"
	"github.com/fieldpulse/lifecycle/pkg/models"
)

// ErrDisabled is returned when insight generation is not configured
var ErrDisabled = errors.New("insight generation is not configured")

// VectorIndex stores and searches account profile embeddings
type VectorIndex interface {
	UpsertAccountEmbedding(ctx context.Context, accountID uuid.UUID, embedding []float32) error
	SimilarAccounts(ctx context.Context, accountID uuid.UUID, limit int) ([]postgres.SimilarAccount, error)
}

// Config holds the generation settings
type Config struct {
	APIKey         string
	Model          string
	EmbeddingModel string
}

// AccountInsight is one generated narrative with recommended plays
type AccountInsight struct {
	AccountID        uuid.UUID `json:"account_id"`
	Narrative        string    `json:"narrative"`
	RecommendedPlays []string  `json:"recommended_plays"`
	GeneratedAt      time.Time `json:"generated_at"`
}

// Service generates insights and maintains the embedding index
type Service struct {
	client         *openai.Client
	model          string
	embeddingModel openai.EmbeddingModel
	accounts       rules.AccountSource
	health         rules.HealthSource
	vectors        VectorIndex
	logger         zerolog.Logger
}

// NewService creates an insight service. An empty API key disables it.
func NewService(cfg Config, accounts rules.AccountSource, health rules.HealthSource, vectors VectorIndex, logger zerolog.Logger) *Service {
	s := &Service{
		model:          cfg.Model,
		embeddingModel: embeddingModelFor(cfg.EmbeddingModel),
		accounts:       accounts,
		health:         health,
		vectors:        vectors,
		logger:         logger.With().Str("component", "insights").Logger(),
	}
	if cfg.APIKey != "" {
		s.client = openai.NewClient(cfg.APIKey)
	}
	return s
}

// Enabled reports whether generation is configured
func (s *Service) Enabled() bool { return s.client != nil }

func embeddingModelFor(name string) openai.EmbeddingModel {
	switch name {
	case "", "text-embedding-ada-002":
		return openai.AdaEmbeddingV2
	case "text-similarity-ada-001":
		return openai.AdaSimilarity
	default:
		return openai.AdaEmbeddingV2
	}
}

// GenerateInsight produces a narrative summary and recommended plays for
// one account from its profile and latest health score.
func (s *Service) GenerateInsight(ctx context.Context, accountID uuid.UUID) (*AccountInsight, error) {
	if !s.Enabled() {
		return nil, ErrDisabled
	}

	account, err := s.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	health, err := s.health.GetLatestHealth(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("load health for insight: %w", err)
	}

	prompt := buildPrompt(account, health)
	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: "You are a customer success analyst for a field service software company. Be specific and concise.",
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
		Temperature: 0.4,
		MaxTokens:   600,
	})
	if err != nil {
		return nil, fmt.Errorf("generate insight: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("insight generation returned no choices")
	}

	narrative, plays := splitNarrative(resp.Choices[0].Message.Content)
	return &AccountInsight{
		AccountID:        accountID,
		Narrative:        narrative,
		RecommendedPlays: plays,
		GeneratedAt:      time.Now().UTC(),
	}, nil
}

// RefreshEmbedding regenerates and stores the profile embedding for one
// account so it participates in lookalike search.
func (s *Service) RefreshEmbedding(ctx context.Context, accountID uuid.UUID) error {
	if !s.Enabled() {
		return ErrDisabled
	}

	account, err := s.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return err
	}
	health, err := s.health.GetLatestHealth(ctx, accountID)
	if err != nil {
		return fmt.Errorf("load health for embedding: %w", err)
	}

	resp, err := s.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{profileText(account, health)},
		Model: s.embeddingModel,
	})
	if err != nil {
		return fmt.Errorf("generate embedding: %w", err)
	}
	if len(resp.Data) == 0 {
		return errors.New("embedding generation returned no data")
	}

	if err := s.vectors.UpsertAccountEmbedding(ctx, accountID, resp.Data[0].Embedding); err != nil {
		return err
	}
	s.logger.Debug().Str("account_id", accountID.String()).Msg("account embedding refreshed")
	return nil
}

// SimilarAccounts finds embedding neighbors of an account. Works without an
// API key as long as embeddings already exist.
func (s *Service) SimilarAccounts(ctx context.Context, accountID uuid.UUID, limit int) ([]postgres.SimilarAccount, error) {
	return s.vectors.SimilarAccounts(ctx, accountID, limit)
}

// profileText flattens an account's lifecycle profile into the text that
// gets embedded. Kept stable so stored vectors stay comparable.
func profileText(account *models.Account, health *models.HealthScore) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s tier", account.Name, account.AccountType)
	if account.State != "" {
		fmt.Fprintf(&b, " %s", account.State)
	}
	if account.LeadSource != "" {
		fmt.Fprintf(&b, " source %s", account.LeadSource)
	}
	if len(account.Tags) > 0 {
		fmt.Fprintf(&b, " tags %s", strings.Join(account.Tags, " "))
	}
	if health != nil {
		fmt.Fprintf(&b, " health %d %s trend %s", health.OverallScore, health.Status, health.Trend)
		fmt.Fprintf(&b, " adoption %d engagement %d relationship %d financial %d support %d",
			health.AdoptionScore, health.EngagementScore, health.RelationshipScore,
			health.FinancialScore, health.SupportScore)
	}
	return b.String()
}

func buildPrompt(account *models.Account, health *models.HealthScore) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Account: %s (%s tier", account.Name, account.AccountType)
	if account.State != "" {
		fmt.Fprintf(&b, ", %s", account.State)
	}
	b.WriteString(")\n")
	if health == nil {
		b.WriteString("No health score has been calculated yet.\n")
	} else {
		fmt.Fprintf(&b, "Overall health: %d (%s), trend %s\n", health.OverallScore, health.Status, health.Trend)
		fmt.Fprintf(&b, "Components: adoption %d, engagement %d, relationship %d, financial %d, support %d\n",
			health.AdoptionScore, health.EngagementScore, health.RelationshipScore,
			health.FinancialScore, health.SupportScore)
		fmt.Fprintf(&b, "Churn probability: %.0f%%, expansion probability: %.0f%%\n",
			health.ChurnProbability*100, health.ExpansionProbability*100)
	}
	b.WriteString("\nWrite a short narrative summary of this account's situation, then a section titled Recommended plays: with one play per line starting with a dash.")
	return b.String()
}

// splitNarrative separates the narrative body from the recommended plays
// list. Lines after the plays heading that start with a dash or bullet
// become plays; everything before the heading is the narrative.
func splitNarrative(content string) (string, []string) {
	lines := strings.Split(content, "\n")
	var narrative []string
	var plays []string
	inPlays := false
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if !inPlays && strings.HasPrefix(strings.ToLower(trimmed), "recommended plays") {
			inPlays = true
			continue
		}
		if inPlays {
			play := strings.TrimLeft(trimmed, "-*• \t")
			if play != "" {
				plays = append(plays, play)
			}
			continue
		}
		narrative = append(narrative, line)
	}
	return strings.TrimSpace(strings.Join(narrative, "\n")), plays
}
