package services

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/contexthq/memory-engine/pkg/apperrors"
	"github.com/contexthq/memory-engine/pkg/models"
	"github.com/contexthq/memory-engine/pkg/repositories"
)

// clarificationMarkers identify a pending clarification request in the last
// assistant message.
var clarificationMarkers = []string{
	"clarify",
	"which one",
	"multiple matches",
	"please choose",
	"found multiple possible",
	"please respond with the number",
}

// optionLinePattern parses the enumerated options out of a clarification
// prompt ("1. Kai Media").
var optionLinePattern = regexp.MustCompile(`(?m)^\s*(\d+)\.\s+(.+?)\s*$`)

// confidence scores for candidate ranking.
const (
	scoreExact = 1.0
	scoreFuzzy = 0.8
	scoreOther = 0.5

	// autoSelectMargin is the minimum top1-top2 score gap for auto-selection.
	autoSelectMargin = 0.05
)

// DisambiguationOutcome is the decision for one message.
type DisambiguationOutcome struct {
	// Needed is true when the user must pick among Candidates.
	Needed bool
	// Selected is the chosen entity; nil when Needed or no candidates.
	Selected *models.Entity
	// Candidates is the list offered for clarification.
	Candidates []*models.Entity
	// Prompt is the clarification question to send when Needed.
	Prompt string
	// ClarificationReply is true when the message answered a pending
	// clarification; Selected is then the resolved choice.
	ClarificationReply bool
}

// DisambiguationService scores candidate entities and decides whether to
// auto-pick, ask the user, or consume a clarification reply from history.
type DisambiguationService interface {
	Decide(ctx context.Context, userID, sessionID, message string, candidates []*models.Entity, history []*models.ChatEvent) (*DisambiguationOutcome, error)
}

type disambiguationService struct {
	aliases AliasService
	domain  repositories.DomainRepository
	logger  *zap.Logger
}

// NewDisambiguationService creates a new DisambiguationService.
func NewDisambiguationService(aliases AliasService, domain repositories.DomainRepository, logger *zap.Logger) DisambiguationService {
	return &disambiguationService{
		aliases: aliases,
		domain:  domain,
		logger:  logger.Named("disambiguation"),
	}
}

var _ DisambiguationService = (*disambiguationService)(nil)

func (s *disambiguationService) Decide(ctx context.Context, userID, sessionID, message string, candidates []*models.Entity, history []*models.ChatEvent) (*DisambiguationOutcome, error) {
	// A pending clarification takes priority: the current message is the
	// user's answer, not a fresh query.
	if pending := lastClarificationPrompt(history); pending != "" {
		return s.consumeClarificationReply(ctx, userID, sessionID, message, pending)
	}

	switch len(candidates) {
	case 0:
		return &DisambiguationOutcome{}, nil
	case 1:
		return &DisambiguationOutcome{Selected: candidates[0]}, nil
	}

	// Rank by confidence; a clear winner is auto-selected.
	top1, top2 := topTwo(candidates)
	if candidateScore(top1)-candidateScore(top2) > autoSelectMargin {
		return &DisambiguationOutcome{Selected: top1, Candidates: candidates}, nil
	}

	return &DisambiguationOutcome{
		Needed:     true,
		Candidates: candidates,
		Prompt:     buildClarificationPrompt(candidates),
	}, nil
}

func (s *disambiguationService) consumeClarificationReply(ctx context.Context, userID, sessionID, message, prompt string) (*DisambiguationOutcome, error) {
	options := parseClarificationOptions(prompt)
	if len(options) == 0 {
		return &DisambiguationOutcome{}, nil
	}

	chosen := resolveChoice(message, options)

	selected, err := s.entityForCustomerName(ctx, sessionID, chosen)
	if err != nil {
		return nil, err
	}

	// The raw reply becomes a stored alias so future turns short-circuit
	// through the alias store.
	if err := s.aliases.StoreAlias(ctx, userID, sessionID, message, selected.Name, selected.Ref.ID); err != nil {
		return nil, err
	}

	s.logger.Debug("clarification resolved",
		zap.String("user_id", userID),
		zap.String("chosen", selected.Name))

	return &DisambiguationOutcome{
		Selected:           selected,
		ClarificationReply: true,
	}, nil
}

func (s *disambiguationService) entityForCustomerName(ctx context.Context, sessionID, name string) (*models.Entity, error) {
	customers, err := s.domain.ListCustomers(ctx)
	if err != nil {
		return nil, apperrors.Repository(err)
	}

	for _, c := range customers {
		if strings.EqualFold(c.Name, name) {
			return &models.Entity{
				SessionID: sessionID,
				Name:      c.Name,
				Type:      models.EntityTypeCustomer,
				Source:    models.EntitySourceDB,
				Ref: models.EntityRef{
					Table:      "customers",
					ID:         c.ID.String(),
					Confidence: "exact",
				},
			}, nil
		}
	}

	// The prompt offered a name the store no longer has.
	return nil, apperrors.NotFound("customer %q", name)
}

// lastClarificationPrompt returns the most recent assistant message if it is
// a clarification request, else "".
func lastClarificationPrompt(history []*models.ChatEvent) string {
	for i := len(history) - 1; i >= 0; i-- {
		if !history[i].IsFromAssistant() {
			continue
		}
		lower := strings.ToLower(history[i].Content)
		for _, marker := range clarificationMarkers {
			if strings.Contains(lower, marker) {
				return history[i].Content
			}
		}
		return ""
	}
	return ""
}

func parseClarificationOptions(prompt string) []string {
	matches := optionLinePattern.FindAllStringSubmatch(prompt, -1)
	options := make([]string, 0, len(matches))
	for _, m := range matches {
		options = append(options, m[2])
	}
	return options
}

// resolveChoice parses the user's clarification reply: a 1-based ordinal, an
// exact or substring name match, a >=50% word-overlap match, and finally the
// first option as a default.
func resolveChoice(reply string, options []string) string {
	trimmed := strings.TrimSpace(reply)

	if n, err := strconv.Atoi(strings.TrimSuffix(trimmed, ".")); err == nil {
		if n >= 1 && n <= len(options) {
			return options[n-1]
		}
	}

	lower := strings.ToLower(trimmed)
	for _, opt := range options {
		optLower := strings.ToLower(opt)
		if optLower == lower || strings.Contains(lower, optLower) || strings.Contains(optLower, lower) {
			return opt
		}
	}

	replyWords := strings.Fields(lower)
	for _, opt := range options {
		optWords := strings.Fields(strings.ToLower(opt))
		if len(optWords) == 0 {
			continue
		}
		overlap := 0
		for _, w := range optWords {
			for _, rw := range replyWords {
				if w == rw {
					overlap++
					break
				}
			}
		}
		if float64(overlap)/float64(len(optWords)) >= 0.5 {
			return opt
		}
	}

	return options[0]
}

func candidateScore(e *models.Entity) float64 {
	switch e.Ref.Confidence {
	case "exact":
		return scoreExact
	case "fuzzy":
		return scoreFuzzy
	default:
		return scoreOther
	}
}

// topTwo returns the two highest-scoring candidates, preserving scan order
// among equals.
func topTwo(candidates []*models.Entity) (*models.Entity, *models.Entity) {
	first, second := candidates[0], (*models.Entity)(nil)
	for _, c := range candidates[1:] {
		if candidateScore(c) > candidateScore(first) {
			second = first
			first = c
		} else if second == nil || candidateScore(c) > candidateScore(second) {
			second = c
		}
	}
	return first, second
}

func buildClarificationPrompt(candidates []*models.Entity) string {
	var b strings.Builder
	b.WriteString("I found multiple possible matches for your query. Please clarify which one you mean:\n\n")
	for i, c := range candidates {
		fmt.Fprintf(&b, "%d. %s\n", i+1, c.Name)
	}
	b.WriteString("\nPlease respond with the number or name of your choice.")
	return b.String()
}
