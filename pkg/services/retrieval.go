package services

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/contexthq/memory-engine/pkg/apperrors"
	"github.com/contexthq/memory-engine/pkg/models"
	"github.com/contexthq/memory-engine/pkg/repositories"
)

// summaryPriorityThreshold short-circuits memory retrieval when a
// consolidated summary matches the query this closely.
const summaryPriorityThreshold = 0.7

// dayConflictPairs are mutually exclusive day/time tokens. Two preference
// memories for the same customer that land on opposite sides contradict
// each other.
var dayConflictPairs = [][2]string{
	{"thursday", "friday"},
	{"monday", "tuesday"},
	{"morning", "afternoon"},
}

// statusQueryKeywords mark a query as asking about progress or completion.
var statusQueryKeywords = []string{"status", "complete", "done", "finished", "fulfilled"}

// identifierPattern finds business identifiers referenced in a query.
var identifierPattern = regexp.MustCompile(`(?i)\b(SO|INV|WO)-\d+\b`)

// statusMappings lists, per live DB status, the memory claims that
// contradict it.
var statusMappings = map[string][]string{
	"in_fulfillment": {"fulfilled", "complete", "done", "finished"},
	"draft":          {"fulfilled", "complete", "done", "finished"},
	"open":           {"paid", "complete", "done", "finished"},
	"queued":         {"done", "complete", "finished"},
}

// DomainFact is one structured fact handed to prompt assembly. Synthetic
// tables (memory_conflicts, reasoning_chains, db_memory_inconsistency)
// carry derived findings rather than rows.
type DomainFact struct {
	Table     string         `json:"table"`
	ID        string         `json:"id"`
	Data      map[string]any `json:"data"`
	Relevance float64        `json:"relevance_score"`
}

// RetrievalContext is everything retrieval contributes to one reply.
type RetrievalContext struct {
	Memories    []*RankedMemory
	DomainFacts []*DomainFact
	// UsedSummary is true when a consolidated summary replaced normal
	// memory retrieval.
	UsedSummary bool
	// DecayMemoryIDs are memories the database contradicted; the caller
	// marks them for decay.
	DecayMemoryIDs []int64
}

// RetrievalService assembles the hybrid context for a full-mode query:
// ranked memories (or a consolidated summary), per-entity domain facts,
// conflict findings, reasoning chains, and DB-vs-memory inconsistencies.
type RetrievalService interface {
	RetrieveContext(ctx context.Context, query string, queryVec []float32, userID string, entities []*models.Entity, limit int) (*RetrievalContext, error)
}

type retrievalService struct {
	memoryService MemoryService
	summaries     repositories.SummaryRepository
	domain        repositories.DomainRepository
	logger        *zap.Logger
	now           func() time.Time
}

// NewRetrievalService creates a new RetrievalService.
func NewRetrievalService(memoryService MemoryService, summaries repositories.SummaryRepository, domain repositories.DomainRepository, logger *zap.Logger) RetrievalService {
	return &retrievalService{
		memoryService: memoryService,
		summaries:     summaries,
		domain:        domain,
		logger:        logger.Named("retrieval"),
		now:           time.Now,
	}
}

var _ RetrievalService = (*retrievalService)(nil)

func (s *retrievalService) RetrieveContext(ctx context.Context, query string, queryVec []float32, userID string, entities []*models.Entity, limit int) (*RetrievalContext, error) {
	if limit <= 0 {
		limit = 10
	}

	facts, err := s.domainFacts(ctx, entities)
	if err != nil {
		return nil, err
	}

	// A consolidated summary that matches closely stands in for the whole
	// memory set.
	if summary, err := s.topSummary(ctx, userID, queryVec); err != nil {
		return nil, err
	} else if summary != nil {
		s.logger.Debug("summary short-circuit",
			zap.String("user_id", userID),
			zap.Float64("similarity", summary.Similarity))
		return &RetrievalContext{
			Memories:    []*RankedMemory{summary},
			DomainFacts: facts,
			UsedSummary: true,
		}, nil
	}

	memories, err := s.memoryService.Retrieve(ctx, userID, queryVec, limit)
	if err != nil {
		return nil, err
	}

	facts = append(facts, detectMemoryConflicts(entities, memories)...)

	chains, err := s.reasoningChains(ctx, entities)
	if err != nil {
		return nil, err
	}
	facts = append(facts, chains...)

	inconsistencies, decayIDs := detectDBMemoryInconsistencies(query, memories, facts)
	facts = append(facts, inconsistencies...)

	return &RetrievalContext{
		Memories:       memories,
		DomainFacts:    facts,
		DecayMemoryIDs: decayIDs,
	}, nil
}

func (s *retrievalService) topSummary(ctx context.Context, userID string, queryVec []float32) (*RankedMemory, error) {
	hits, err := s.summaries.SearchSimilar(ctx, userID, queryVec, 1)
	if err != nil {
		return nil, apperrors.Repository(err)
	}
	if len(hits) == 0 || hits[0].Similarity <= summaryPriorityThreshold {
		return nil, nil
	}

	summary := hits[0].Summary
	return &RankedMemory{
		Memory: &models.Memory{
			ID:         summary.ID,
			UserID:     summary.UserID,
			Kind:       models.MemorySemantic,
			Text:       summary.Summary,
			Importance: 1.0,
			CreatedAt:  summary.CreatedAt,
		},
		Similarity:    hits[0].Similarity,
		Score:         hits[0].Similarity,
		AnnotatedText: summary.Summary,
	}, nil
}

// ============================================================================
// Domain Facts
// ============================================================================

func (s *retrievalService) domainFacts(ctx context.Context, entities []*models.Entity) ([]*DomainFact, error) {
	facts := make([]*DomainFact, 0)

	for _, entity := range entities {
		id, err := uuid.Parse(entity.Ref.ID)
		if err != nil {
			continue // Synthetic candidates carry no row reference
		}

		var entityFacts []*DomainFact
		switch entity.Ref.Table {
		case "customers":
			entityFacts, err = s.customerFacts(ctx, id)
		case "sales_orders":
			entityFacts, err = s.salesOrderFacts(ctx, id)
		case "invoices":
			entityFacts, err = s.invoiceFacts(ctx, id)
		case "work_orders":
			entityFacts, err = s.workOrderFacts(ctx, id)
		case "tasks":
			entityFacts, err = s.taskFacts(ctx, id)
		}
		if err != nil {
			return nil, err
		}
		facts = append(facts, entityFacts...)
	}

	return facts, nil
}

func (s *retrievalService) customerFacts(ctx context.Context, customerID uuid.UUID) ([]*DomainFact, error) {
	customer, err := s.domain.GetCustomer(ctx, customerID)
	if err != nil {
		return nil, apperrors.Repository(err)
	}
	if customer == nil {
		return nil, nil
	}

	facts := []*DomainFact{{
		Table: "customers",
		ID:    customer.ID.String(),
		Data: map[string]any{
			"name":     customer.Name,
			"industry": customer.Industry,
			"notes":    customer.Notes,
		},
		Relevance: 1.0,
	}}

	orders, err := s.domain.ListSalesOrdersByCustomer(ctx, customerID)
	if err != nil {
		return nil, apperrors.Repository(err)
	}
	for _, so := range orders {
		facts = append(facts, &DomainFact{
			Table: "sales_orders",
			ID:    so.ID.String(),
			Data: map[string]any{
				"so_number":  so.SONumber,
				"title":      so.Title,
				"status":     string(so.Status),
				"created_at": so.CreatedAt.Format(time.RFC3339),
			},
			Relevance: 0.8,
		})
	}

	invoices, err := s.domain.ListOpenInvoicesByCustomer(ctx, customerID)
	if err != nil {
		return nil, apperrors.Repository(err)
	}
	for _, inv := range invoices {
		facts = append(facts, invoiceFact(inv, 0.9))
	}

	return facts, nil
}

func (s *retrievalService) salesOrderFacts(ctx context.Context, salesOrderID uuid.UUID) ([]*DomainFact, error) {
	so, err := s.domain.GetSalesOrder(ctx, salesOrderID)
	if err != nil {
		return nil, apperrors.Repository(err)
	}
	if so == nil {
		return nil, nil
	}

	facts := []*DomainFact{{
		Table: "sales_orders",
		ID:    so.ID.String(),
		Data: map[string]any{
			"so_number":  so.SONumber,
			"title":      so.Title,
			"status":     string(so.Status),
			"created_at": so.CreatedAt.Format(time.RFC3339),
		},
		Relevance: 1.0,
	}}

	workOrders, err := s.domain.ListWorkOrdersBySalesOrder(ctx, salesOrderID)
	if err != nil {
		return nil, apperrors.Repository(err)
	}
	for _, wo := range workOrders {
		facts = append(facts, workOrderFact(wo, 0.8))
	}

	return facts, nil
}

func (s *retrievalService) invoiceFacts(ctx context.Context, invoiceID uuid.UUID) ([]*DomainFact, error) {
	inv, err := s.domain.GetInvoice(ctx, invoiceID)
	if err != nil {
		return nil, apperrors.Repository(err)
	}
	if inv == nil {
		return nil, nil
	}

	facts := []*DomainFact{invoiceFact(inv, 1.0)}

	totalPaid, count, err := s.domain.PaymentTotals(ctx, invoiceID)
	if err != nil {
		return nil, apperrors.Repository(err)
	}
	facts = append(facts, &DomainFact{
		Table: "invoice_payments",
		ID:    inv.ID.String(),
		Data: map[string]any{
			"total_paid":        totalPaid,
			"remaining_balance": inv.Amount - totalPaid,
			"payment_count":     count,
		},
		Relevance: 0.9,
	})

	return facts, nil
}

func (s *retrievalService) workOrderFacts(ctx context.Context, workOrderID uuid.UUID) ([]*DomainFact, error) {
	wo, err := s.domain.GetWorkOrder(ctx, workOrderID)
	if err != nil {
		return nil, apperrors.Repository(err)
	}
	if wo == nil {
		return nil, nil
	}
	return []*DomainFact{workOrderFact(wo, 1.0)}, nil
}

func (s *retrievalService) taskFacts(ctx context.Context, taskID uuid.UUID) ([]*DomainFact, error) {
	task, err := s.domain.GetTask(ctx, taskID)
	if err != nil {
		return nil, apperrors.Repository(err)
	}
	if task == nil {
		return nil, nil
	}
	return []*DomainFact{{
		Table: "tasks",
		ID:    task.ID.String(),
		Data: map[string]any{
			"title":      task.Title,
			"body":       task.Body,
			"status":     string(task.Status),
			"created_at": task.CreatedAt.Format(time.RFC3339),
		},
		Relevance: 1.0,
	}}, nil
}

func invoiceFact(inv *models.Invoice, relevance float64) *DomainFact {
	var dueDate any
	if inv.DueDate != nil {
		dueDate = inv.DueDate.Format(time.RFC3339)
	}
	return &DomainFact{
		Table: "invoices",
		ID:    inv.ID.String(),
		Data: map[string]any{
			"invoice_number": inv.InvoiceNumber,
			"amount":         inv.Amount,
			"due_date":       dueDate,
			"status":         string(inv.Status),
			"issued_at":      inv.IssuedAt.Format(time.RFC3339),
		},
		Relevance: relevance,
	}
}

func workOrderFact(wo *models.WorkOrder, relevance float64) *DomainFact {
	var scheduledFor any
	if wo.ScheduledFor != nil {
		scheduledFor = wo.ScheduledFor.Format(time.RFC3339)
	}
	return &DomainFact{
		Table: "work_orders",
		ID:    wo.ID.String(),
		Data: map[string]any{
			"description":   wo.Description,
			"status":        string(wo.Status),
			"technician":    wo.Technician,
			"scheduled_for": scheduledFor,
		},
		Relevance: relevance,
	}
}

// ============================================================================
// Conflict Detection
// ============================================================================

// detectMemoryConflicts finds preference memories for the same customer that
// land on opposite sides of a day/time pair. Resolution favors the newer
// memory.
func detectMemoryConflicts(entities []*models.Entity, memories []*RankedMemory) []*DomainFact {
	facts := make([]*DomainFact, 0)

	for _, entity := range entities {
		if entity.Type != models.EntityTypeCustomer {
			continue
		}
		nameLower := strings.ToLower(entity.Name)

		preferences := make([]*RankedMemory, 0)
		for _, rm := range memories {
			textLower := strings.ToLower(rm.Memory.Text)
			if rm.Memory.Kind == models.MemorySemantic &&
				strings.Contains(textLower, nameLower) &&
				(strings.Contains(textLower, "prefer") || strings.Contains(textLower, "like")) {
				preferences = append(preferences, rm)
			}
		}

		conflicts := make([]map[string]any, 0)
		for i := 0; i < len(preferences); i++ {
			for j := i + 1; j < len(preferences); j++ {
				if !isConflictingPair(preferences[i].Memory.Text, preferences[j].Memory.Text) {
					continue
				}
				resolution := "most_recent"
				if !preferences[i].Memory.CreatedAt.After(preferences[j].Memory.CreatedAt) {
					resolution = "older"
				}
				conflicts = append(conflicts, map[string]any{
					"memory1":    conflictMemoryData(preferences[i].Memory),
					"memory2":    conflictMemoryData(preferences[j].Memory),
					"resolution": resolution,
				})
			}
		}

		if len(conflicts) > 0 {
			facts = append(facts, &DomainFact{
				Table: "memory_conflicts",
				ID:    "conflict_" + nameLower,
				Data: map[string]any{
					"customer":            nameLower,
					"conflicts":           conflicts,
					"resolution_strategy": "most_recent",
				},
				Relevance: 0.9,
			})
		}
	}

	return facts
}

func conflictMemoryData(m *models.Memory) map[string]any {
	return map[string]any{
		"id":         m.ID,
		"text":       m.Text,
		"created_at": m.CreatedAt.Format(time.RFC3339),
		"importance": m.Importance,
	}
}

func isConflictingPair(text1, text2 string) bool {
	lower1 := strings.ToLower(text1)
	lower2 := strings.ToLower(text2)

	for _, pair := range dayConflictPairs {
		if strings.Contains(lower1, pair[0]) && strings.Contains(lower2, pair[1]) {
			return true
		}
		if strings.Contains(lower1, pair[1]) && strings.Contains(lower2, pair[0]) {
			return true
		}
	}
	return false
}

// ============================================================================
// Reasoning Chains
// ============================================================================

// reasoningChains derives cross-object business findings per customer:
// whether invoicing is possible, whether an open invoice should be sent,
// and which work orders are blocked.
func (s *retrievalService) reasoningChains(ctx context.Context, entities []*models.Entity) ([]*DomainFact, error) {
	facts := make([]*DomainFact, 0)

	for _, entity := range entities {
		if entity.Type != models.EntityTypeCustomer {
			continue
		}
		id, err := uuid.Parse(entity.Ref.ID)
		if err != nil {
			continue
		}

		chain, err := s.customerReasoningChain(ctx, id)
		if err != nil {
			return nil, err
		}
		if chain != nil {
			facts = append(facts, &DomainFact{
				Table:     "reasoning_chains",
				ID:        "chain_" + entity.Ref.ID,
				Data:      chain,
				Relevance: 0.8,
			})
		}
	}

	return facts, nil
}

func (s *retrievalService) customerReasoningChain(ctx context.Context, customerID uuid.UUID) (map[string]any, error) {
	customer, err := s.domain.GetCustomer(ctx, customerID)
	if err != nil {
		return nil, apperrors.Repository(err)
	}
	if customer == nil {
		return nil, nil
	}

	orders, err := s.domain.ListSalesOrdersByCustomer(ctx, customerID)
	if err != nil {
		return nil, apperrors.Repository(err)
	}

	salesOrders := make([]map[string]any, 0, len(orders))
	canInvoice := false
	shouldSendInvoice := false
	blockedWorkOrders := make([]map[string]any, 0)

	for _, so := range orders {
		workOrders, err := s.domain.ListWorkOrdersBySalesOrder(ctx, so.ID)
		if err != nil {
			return nil, apperrors.Repository(err)
		}
		invoices, err := s.domain.ListInvoicesBySalesOrder(ctx, so.ID)
		if err != nil {
			return nil, apperrors.Repository(err)
		}

		woData := make([]map[string]any, 0, len(workOrders))
		hasDone := false
		for _, wo := range workOrders {
			woData = append(woData, map[string]any{
				"status":      string(wo.Status),
				"description": wo.Description,
				"technician":  wo.Technician,
			})
			if wo.Status == models.WorkOrderDone {
				hasDone = true
			}
			if wo.Status == models.WorkOrderBlocked {
				blockedWorkOrders = append(blockedWorkOrders, map[string]any{
					"so_number":   so.SONumber,
					"description": wo.Description,
				})
			}
		}

		invData := make([]map[string]any, 0, len(invoices))
		hasOpen := false
		for _, inv := range invoices {
			invData = append(invData, map[string]any{
				"invoice_number": inv.InvoiceNumber,
				"status":         string(inv.Status),
				"amount":         inv.Amount,
			})
			if inv.Status == models.InvoiceOpen {
				hasOpen = true
			}
		}

		salesOrders = append(salesOrders, map[string]any{
			"so_number":   so.SONumber,
			"status":      string(so.Status),
			"work_orders": woData,
			"invoices":    invData,
		})

		// Completed work with no invoice yet means one can be issued.
		if hasDone && len(invoices) == 0 {
			canInvoice = true
		}
		if hasOpen {
			shouldSendInvoice = true
		}
	}

	return map[string]any{
		"customer":            customer.Name,
		"sales_orders":        salesOrders,
		"can_invoice":         canInvoice,
		"should_send_invoice": shouldSendInvoice,
		"blocked_work_orders": blockedWorkOrders,
	}, nil
}

// ============================================================================
// DB / Memory Inconsistency
// ============================================================================

// detectDBMemoryInconsistencies compares the live status of identifiers the
// query asks about against memories claiming a different status. The
// database wins; contradicted memories are returned for decay.
func detectDBMemoryInconsistencies(query string, memories []*RankedMemory, facts []*DomainFact) ([]*DomainFact, []int64) {
	queryLower := strings.ToLower(query)

	asksStatus := false
	for _, kw := range statusQueryKeywords {
		if strings.Contains(queryLower, kw) {
			asksStatus = true
			break
		}
	}
	if !asksStatus {
		return nil, nil
	}

	inconsistencies := make([]*DomainFact, 0)
	decayIDs := make([]int64, 0)

	for _, raw := range identifierPattern.FindAllString(query, -1) {
		identifier := strings.ToUpper(raw)

		dbStatus := lookupFactStatus(facts, identifier)
		if dbStatus == "" {
			continue
		}
		conflictingClaims, ok := statusMappings[dbStatus]
		if !ok {
			continue
		}

		memoryStatus := ""
		conflicting := make([]map[string]any, 0)
		for _, rm := range memories {
			textLower := strings.ToLower(rm.Memory.Text)
			if !strings.Contains(textLower, strings.ToLower(identifier)) {
				continue
			}
			for _, claim := range conflictingClaims {
				if strings.Contains(textLower, claim) {
					memoryStatus = claim
					conflicting = append(conflicting, map[string]any{
						"memory_id":  rm.Memory.ID,
						"text":       rm.Memory.Text,
						"created_at": rm.Memory.CreatedAt.Format(time.RFC3339),
					})
					decayIDs = append(decayIDs, rm.Memory.ID)
					break
				}
			}
		}

		if len(conflicting) > 0 {
			inconsistencies = append(inconsistencies, &DomainFact{
				Table: "db_memory_inconsistency",
				ID:    "inconsistency_" + identifier,
				Data: map[string]any{
					"order_number":         identifier,
					"db_status":            dbStatus,
					"memory_status":        memoryStatus,
					"conflicting_memories": conflicting,
					"resolution":           "prefer_db",
					"action":               "mark_memory_for_decay",
					"message":              fmt.Sprintf("Database shows %s but memory says %s. Using database truth.", dbStatus, memoryStatus),
				},
				Relevance: 0.95,
			})
		}
	}

	return inconsistencies, decayIDs
}

// lookupFactStatus finds the live status of an identifier among the fetched
// facts.
func lookupFactStatus(facts []*DomainFact, identifier string) string {
	for _, fact := range facts {
		switch fact.Table {
		case "sales_orders":
			if num, _ := fact.Data["so_number"].(string); num == identifier {
				status, _ := fact.Data["status"].(string)
				return status
			}
		case "invoices":
			if num, _ := fact.Data["invoice_number"].(string); num == identifier {
				status, _ := fact.Data["status"].(string)
				return status
			}
		}
	}
	return ""
}
