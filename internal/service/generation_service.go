package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/digkill/TGFittingBot/internal/entitlement"
	"github.com/digkill/TGFittingBot/internal/kie"
	"github.com/digkill/TGFittingBot/internal/ledger"
	"github.com/digkill/TGFittingBot/internal/models"
	"github.com/digkill/TGFittingBot/internal/referral"
)

var (
	ErrEmptyPrompt      = errors.New("prompt cannot be empty")
	ErrGenerationFailed = errors.New("image generation failed")
)

// ImageGenerator is the external action that is paid for. *kie.Client
// implements it.
type ImageGenerator interface {
	Generate(ctx context.Context, req kie.Request) (*kie.Image, error)
}

type GenerationStore interface {
	Create(ctx context.Context, g *models.Generation) (*models.Generation, error)
	FindByID(ctx context.Context, id int64) (*models.Generation, error)
}

type ReferralAwarder interface {
	MaybeAward(ctx context.Context, referredID int64) (referral.AwardResult, error)
}

type GenerationService struct {
	ledger      *ledger.Ledger
	generations GenerationStore
	generator   ImageGenerator
	referrals   ReferralAwarder
	cost        int
	log         *slog.Logger
}

type GenerationRequest struct {
	Prompt       string
	AspectRatio  string
	Resolution   string
	InputURLs    []string
	OutputFormat string
}

type GenerationResult struct {
	GenerationID int64                  `json:"generation_id"`
	ImageURL     string                 `json:"image_url"`
	Watermark    bool                   `json:"watermark"`
	Charge       ledger.DeductionResult `json:"charge"`
	Referral     referral.AwardResult   `json:"referral"`
}

func NewGenerationService(l *ledger.Ledger, generations GenerationStore, generator ImageGenerator, referrals ReferralAwarder, cost int, log *slog.Logger) *GenerationService {
	if cost <= 0 {
		cost = 1
	}
	return &GenerationService{
		ledger:      l,
		generations: generations,
		generator:   generator,
		referrals:   referrals,
		cost:        cost,
		log:         log,
	}
}

// Generate runs one paid generation. The user is charged only after the
// provider returned an image; a provider failure leaves the balance as is.
func (s *GenerationService) Generate(ctx context.Context, userID int64, req GenerationRequest) (*GenerationResult, error) {
	req.Prompt = strings.TrimSpace(req.Prompt)
	if req.Prompt == "" {
		return nil, ErrEmptyPrompt
	}
	if req.AspectRatio == "" {
		req.AspectRatio = "3:4"
	}
	if req.Resolution == "" {
		req.Resolution = "1K"
	}

	gen, err := s.generations.Create(ctx, &models.Generation{
		UserID: userID,
		Prompt: req.Prompt,
		Status: models.GenerationPending,
	})
	if err != nil {
		return nil, fmt.Errorf("create generation: %w", err)
	}

	decision, err := s.ledger.Resolve(ctx, userID, s.cost)
	if err != nil {
		s.fail(ctx, gen.ID, err)
		return nil, err
	}

	err = s.transition(ctx, gen.ID, func(g *models.Generation) {
		g.Status = models.GenerationProcessing
		g.PaymentMethod = string(decision.Method)
		g.HasWatermark = decision.Watermark()
	})
	if err != nil {
		return nil, fmt.Errorf("start generation: %w", err)
	}

	img, err := s.generator.Generate(ctx, kie.Request{
		Prompt:       req.Prompt,
		AspectRatio:  req.AspectRatio,
		Resolution:   req.Resolution,
		InputURLs:    req.InputURLs,
		OutputFormat: req.OutputFormat,
	})
	if err != nil {
		s.fail(ctx, gen.ID, err)
		return nil, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}

	charge, err := s.ledger.CompleteGeneration(ctx, gen.ID, s.cost, img.URL)
	if err != nil {
		var insufficient *entitlement.InsufficientError
		if errors.As(err, &insufficient) {
			// Entitlement was spent concurrently while the provider ran.
			s.fail(ctx, gen.ID, err)
		}
		return nil, err
	}

	res := &GenerationResult{
		GenerationID: gen.ID,
		ImageURL:     img.URL,
		Watermark:    charge.Watermark,
		Charge:       charge,
	}

	// The action is committed; a referral failure must not undo it.
	award, err := s.referrals.MaybeAward(ctx, userID)
	if err != nil {
		s.log.Error("referral award failed", "user_id", userID, "generation_id", gen.ID, "err", err)
	} else {
		res.Referral = award
	}

	s.log.Info("generation completed",
		"generation_id", gen.ID,
		"user_id", userID,
		"method", charge.Method,
		"watermark", res.Watermark,
	)
	return res, nil
}

func (s *GenerationService) Get(ctx context.Context, id int64) (*models.Generation, error) {
	g, err := s.generations.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get generation: %w", err)
	}
	if g == nil {
		return nil, ledger.ErrGenerationNotFound
	}
	return g, nil
}

func (s *GenerationService) transition(ctx context.Context, id int64, mutate func(g *models.Generation)) error {
	return s.ledger.Atomic(ctx, func(ctx context.Context, tx ledger.Tx) error {
		g, err := tx.LockGeneration(ctx, id)
		if err != nil {
			return err
		}
		if g.Status == models.GenerationCompleted || g.Status == models.GenerationFailed {
			return ledger.ErrGenerationFinal
		}
		mutate(g)
		g.UpdatedAt = s.ledger.Now()
		return tx.SaveGeneration(ctx, g)
	})
}

func (s *GenerationService) fail(ctx context.Context, id int64, cause error) {
	err := s.transition(context.WithoutCancel(ctx), id, func(g *models.Generation) {
		g.Status = models.GenerationFailed
		g.CreditsSpent = 0
		g.ErrorMessage = truncate(cause.Error(), 500)
	})
	if err != nil {
		s.log.Error("mark generation failed", "generation_id", id, "err", err)
	}
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
