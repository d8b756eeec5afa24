package services

import (
	"context"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/contexthq/memory-engine/pkg/apperrors"
	"github.com/contexthq/memory-engine/pkg/models"
	"github.com/contexthq/memory-engine/pkg/repositories"
)

var (
	soNumberPattern      = regexp.MustCompile(`(?i)\bSO-\d+\b`)
	invoiceNumberPattern = regexp.MustCompile(`(?i)\bINV-\d+\b`)
)

// workOrderPatterns are whitelisted descriptive phrases matched against
// work_orders.description. Free-text NER is out of scope; the ontology is
// closed, so a short whitelist covers it.
var workOrderPatterns = []string{"pick-pack", "work order", "album fulfillment"}

// taskKeywords trigger a scan of tasks.title/body.
var taskKeywords = []string{"task", "todo", "issue", "problem", "support"}

// fuzzyMatchRatio is the minimum |NameWords ∩ TextWords| / |NameWords| for a
// fuzzy customer hit.
const fuzzyMatchRatio = 0.8

// EntityExtractionService produces candidate entities from a message by
// exact, fuzzy, and pattern matching against the domain store, honouring the
// user's stored aliases first.
type EntityExtractionService interface {
	// Extract returns candidate entities for the message. Candidates are not
	// persisted; the caller decides what to keep.
	Extract(ctx context.Context, text, sessionID, userID string) ([]*models.Entity, error)
}

type entityExtractionService struct {
	aliases AliasService
	domain  repositories.DomainRepository
	logger  *zap.Logger
}

// NewEntityExtractionService creates a new EntityExtractionService.
func NewEntityExtractionService(aliases AliasService, domain repositories.DomainRepository, logger *zap.Logger) EntityExtractionService {
	return &entityExtractionService{
		aliases: aliases,
		domain:  domain,
		logger:  logger.Named("entity-extraction"),
	}
}

var _ EntityExtractionService = (*entityExtractionService)(nil)

func (s *entityExtractionService) Extract(ctx context.Context, text, sessionID, userID string) ([]*models.Entity, error) {
	// Stored aliases short-circuit everything else: the user already told us
	// what this exact text means.
	if match, err := s.aliases.ExactMatch(ctx, userID, text); err != nil {
		return nil, err
	} else if match != nil {
		return []*models.Entity{{
			SessionID: sessionID,
			Name:      match.EntityName,
			Type:      models.EntityTypeCustomer,
			Source:    models.EntitySourceDB,
			Ref: models.EntityRef{
				Table:      "customers",
				ID:         match.EntityID,
				Confidence: match.Confidence,
			},
		}}, nil
	}

	entities := make([]*models.Entity, 0)

	customers, err := s.extractCustomers(ctx, text, sessionID, userID)
	if err != nil {
		return nil, err
	}
	entities = append(entities, customers...)

	orders, err := s.extractSalesOrders(ctx, text, sessionID)
	if err != nil {
		return nil, err
	}
	entities = append(entities, orders...)

	invoices, err := s.extractInvoices(ctx, text, sessionID)
	if err != nil {
		return nil, err
	}
	entities = append(entities, invoices...)

	workOrders, err := s.extractWorkOrders(ctx, text, sessionID)
	if err != nil {
		return nil, err
	}
	entities = append(entities, workOrders...)

	tasks, err := s.extractTasks(ctx, text, sessionID)
	if err != nil {
		return nil, err
	}
	entities = append(entities, tasks...)

	return entities, nil
}

func (s *entityExtractionService) extractCustomers(ctx context.Context, text, sessionID, userID string) ([]*models.Entity, error) {
	// Multilingual aliases translate the text before matching.
	translated, err := s.aliases.Translate(ctx, userID, text)
	if err != nil {
		return nil, err
	}

	customers, err := s.domain.ListCustomers(ctx)
	if err != nil {
		return nil, apperrors.Repository(err)
	}

	lower := strings.ToLower(translated)
	tokens := tokenize(lower)
	tokenSet := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		tokenSet[t] = true
	}

	entities := make([]*models.Entity, 0)
	seen := make(map[string]bool)

	add := func(c *models.Customer, confidence string) {
		if seen[c.ID.String()] {
			return
		}
		seen[c.ID.String()] = true
		entities = append(entities, &models.Entity{
			SessionID: sessionID,
			Name:      c.Name,
			Type:      models.EntityTypeCustomer,
			Source:    models.EntitySourceMessage,
			Ref: models.EntityRef{
				Table:      "customers",
				ID:         c.ID.String(),
				Confidence: confidence,
			},
		})
	}

	// Substring and word-overlap passes, in store scan order for
	// deterministic candidate lists.
	for _, c := range customers {
		nameLower := strings.ToLower(c.Name)
		if strings.Contains(lower, nameLower) {
			add(c, "exact")
			continue
		}
		if fuzzyNameMatch(nameLower, tokenSet) {
			add(c, "fuzzy")
		}
	}

	// Shortform override: a token that is a strict prefix of one or more
	// customer names ("kai", "tc") surfaces every matching customer so the
	// disambiguator can ask which one.
	for _, token := range tokens {
		if len(token) < 2 {
			continue
		}
		for _, c := range customers {
			nameLower := strings.ToLower(c.Name)
			if token != nameLower && strings.HasPrefix(nameLower, token) {
				add(c, "fuzzy")
			}
		}
	}

	return entities, nil
}

// fuzzyNameMatch applies the two customer-name rules: (a) every text token is
// a name word and at least one overlaps, or (b) the overlap covers >= 80% of
// the name's words.
func fuzzyNameMatch(nameLower string, textTokens map[string]bool) bool {
	nameWords := strings.Fields(nameLower)
	if len(nameWords) == 0 {
		return false
	}

	overlap := 0
	for _, w := range nameWords {
		if textTokens[w] {
			overlap++
		}
	}
	if overlap == 0 {
		return false
	}

	// Subset rule only applies to short queries that are entirely name words.
	if len(textTokens) <= len(nameWords) {
		allInName := true
		nameSet := make(map[string]bool, len(nameWords))
		for _, w := range nameWords {
			nameSet[w] = true
		}
		for t := range textTokens {
			if !nameSet[t] {
				allInName = false
				break
			}
		}
		if allInName {
			return true
		}
	}

	return float64(overlap)/float64(len(nameWords)) >= fuzzyMatchRatio
}

func (s *entityExtractionService) extractSalesOrders(ctx context.Context, text, sessionID string) ([]*models.Entity, error) {
	entities := make([]*models.Entity, 0)
	for _, raw := range soNumberPattern.FindAllString(text, -1) {
		soNumber := strings.ToUpper(raw)
		so, err := s.domain.GetSalesOrderByNumber(ctx, soNumber)
		if err != nil {
			return nil, apperrors.Repository(err)
		}
		if so == nil {
			continue // Mentioned but not in the store
		}
		entities = append(entities, &models.Entity{
			SessionID: sessionID,
			Name:      so.SONumber,
			Type:      models.EntityTypeOrder,
			Source:    models.EntitySourceDB,
			Ref: models.EntityRef{
				Table:      "sales_orders",
				ID:         so.ID.String(),
				Confidence: "exact",
			},
		})
	}
	return entities, nil
}

func (s *entityExtractionService) extractInvoices(ctx context.Context, text, sessionID string) ([]*models.Entity, error) {
	entities := make([]*models.Entity, 0)
	for _, raw := range invoiceNumberPattern.FindAllString(text, -1) {
		invoiceNumber := strings.ToUpper(raw)
		inv, err := s.domain.GetInvoiceByNumber(ctx, invoiceNumber)
		if err != nil {
			return nil, apperrors.Repository(err)
		}
		if inv == nil {
			continue
		}
		entities = append(entities, &models.Entity{
			SessionID: sessionID,
			Name:      inv.InvoiceNumber,
			Type:      models.EntityTypeInvoice,
			Source:    models.EntitySourceDB,
			Ref: models.EntityRef{
				Table:      "invoices",
				ID:         inv.ID.String(),
				Confidence: "exact",
			},
		})
	}
	return entities, nil
}

func (s *entityExtractionService) extractWorkOrders(ctx context.Context, text, sessionID string) ([]*models.Entity, error) {
	lower := strings.ToLower(text)
	entities := make([]*models.Entity, 0)
	seen := make(map[string]bool)

	for _, pattern := range workOrderPatterns {
		if !strings.Contains(lower, pattern) {
			continue
		}
		workOrders, err := s.domain.SearchWorkOrders(ctx, pattern)
		if err != nil {
			return nil, apperrors.Repository(err)
		}
		for _, wo := range workOrders {
			if seen[wo.ID.String()] {
				continue
			}
			seen[wo.ID.String()] = true
			name := ""
			if wo.Description != nil {
				name = *wo.Description
			}
			entities = append(entities, &models.Entity{
				SessionID: sessionID,
				Name:      name,
				Type:      models.EntityTypeWorkOrder,
				Source:    models.EntitySourceDB,
				Ref: models.EntityRef{
					Table:      "work_orders",
					ID:         wo.ID.String(),
					Confidence: "fuzzy",
				},
			})
		}
	}

	return entities, nil
}

func (s *entityExtractionService) extractTasks(ctx context.Context, text, sessionID string) ([]*models.Entity, error) {
	lower := strings.ToLower(text)
	entities := make([]*models.Entity, 0)
	seen := make(map[string]bool)

	for _, kw := range taskKeywords {
		if !strings.Contains(lower, kw) {
			continue
		}
		tasks, err := s.domain.SearchTasks(ctx, kw)
		if err != nil {
			return nil, apperrors.Repository(err)
		}
		for _, t := range tasks {
			if seen[t.ID.String()] {
				continue
			}
			seen[t.ID.String()] = true
			entities = append(entities, &models.Entity{
				SessionID: sessionID,
				Name:      t.Title,
				Type:      models.EntityTypeTask,
				Source:    models.EntitySourceDB,
				Ref: models.EntityRef{
					Table:      "tasks",
					ID:         t.ID.String(),
					Confidence: "fuzzy",
				},
			})
		}
	}

	return entities, nil
}

// tokenize strips possessives and punctuation so "Kai's" yields the token
// "kai". Input must already be lowercased.
func tokenize(lower string) []string {
	lower = strings.ReplaceAll(lower, "'s", "")
	return strings.FieldsFunc(lower, func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9' || r == '-')
	})
}
