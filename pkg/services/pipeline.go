package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/contexthq/memory-engine/pkg/apperrors"
	"github.com/contexthq/memory-engine/pkg/llm"
	"github.com/contexthq/memory-engine/pkg/models"
	"github.com/contexthq/memory-engine/pkg/repositories"
)

const (
	// historyWindow is how many prior chat events feed the prompt.
	historyWindow = 10

	// shortTermMinLength gates the small-talk memory: very short messages
	// aren't worth a row.
	shortTermMinLength = 10

	// chatTemperature is used for reply generation.
	chatTemperature = 0.7

	// retrievalLimit caps memories pulled per query.
	retrievalLimit = 10
)

// fallbackReply is returned when the provider is unavailable or the circuit
// breaker is open.
const fallbackReply = "I apologize, but I'm having trouble processing your request right now. Please try again later."

const (
	simpleSystemPrompt = "You are a helpful assistant. Provide a brief, friendly response."
	fullSystemPrompt   = "You are an intelligent business assistant with access to customer data, orders, invoices, and memory."
)

// ChatRequest is one inbound chat turn.
type ChatRequest struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message"`
}

// UsedMemory describes one memory that informed the reply.
type UsedMemory struct {
	MemoryID   int64   `json:"memory_id"`
	Text       string  `json:"text"`
	Similarity float64 `json:"similarity"`
	Kind       string  `json:"kind"`
}

// CandidateEntity is one option offered during disambiguation.
type CandidateEntity struct {
	Name        string           `json:"name"`
	Type        string           `json:"type"`
	ExternalRef models.EntityRef `json:"external_ref"`
}

// ChatResponse is the pipeline's answer for one turn.
type ChatResponse struct {
	Reply                string            `json:"reply"`
	SessionID            string            `json:"session_id"`
	UsedMemories         []UsedMemory      `json:"used_memories"`
	UsedDomainFacts      []*DomainFact     `json:"used_domain_facts"`
	DisambiguationNeeded bool              `json:"disambiguation_needed"`
	CandidateEntities    []CandidateEntity `json:"candidate_entities"`
}

// Pipeline runs a chat turn end to end: triage, PII masking, entity
// extraction, disambiguation, hybrid retrieval, grounded reply generation,
// memory classification and storage, and consolidation triggering. Turns
// within one session are serialized; sessions run in parallel.
type Pipeline struct {
	triage         *IntentTriage
	pii            *PIIDetector
	extraction     EntityExtractionService
	disambiguation DisambiguationService
	retrieval      RetrievalService
	memoryService  MemoryService
	classifier     MemoryClassifier
	consolidation  ConsolidationService
	embedding      EmbeddingService
	chatEvents     repositories.ChatEventRepository
	entities       repositories.EntityRepository
	chat           llm.LLMClient
	breaker        *llm.CircuitBreaker
	locks          *sessionLocks
	logger         *zap.Logger
}

// PipelineDeps bundles the pipeline's collaborators.
type PipelineDeps struct {
	Triage         *IntentTriage
	PII            *PIIDetector
	Extraction     EntityExtractionService
	Disambiguation DisambiguationService
	Retrieval      RetrievalService
	MemoryService  MemoryService
	Classifier     MemoryClassifier
	Consolidation  ConsolidationService
	Embedding      EmbeddingService
	ChatEvents     repositories.ChatEventRepository
	Entities       repositories.EntityRepository
	Chat           llm.LLMClient
	Breaker        *llm.CircuitBreaker
}

// NewPipeline creates a new Pipeline.
func NewPipeline(deps PipelineDeps, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		triage:         deps.Triage,
		pii:            deps.PII,
		extraction:     deps.Extraction,
		disambiguation: deps.Disambiguation,
		retrieval:      deps.Retrieval,
		memoryService:  deps.MemoryService,
		classifier:     deps.Classifier,
		consolidation:  deps.Consolidation,
		embedding:      deps.Embedding,
		chatEvents:     deps.ChatEvents,
		entities:       deps.Entities,
		chat:           deps.Chat,
		breaker:        deps.Breaker,
		locks:          newSessionLocks(),
		logger:         logger.Named("pipeline"),
	}
}

// Chat processes one turn.
func (p *Pipeline) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, apperrors.Validation("message is required")
	}
	if strings.TrimSpace(req.UserID) == "" {
		return nil, apperrors.Validation("user_id is required")
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	unlock := p.locks.Lock(sessionID)
	defer unlock()

	mode := p.triage.Classify(req.Message)

	// Raw text never travels past this point.
	piiResult := p.pii.Detect(req.Message)
	masked := piiResult.MaskedText
	if piiResult.HasPII() {
		p.logger.Info("masked identifiers in message",
			zap.String("session_id", sessionID),
			zap.Int("matches", len(piiResult.Matches)))
	}

	entities, err := p.extraction.Extract(ctx, masked, sessionID, req.UserID)
	if err != nil {
		return nil, err
	}
	p.storeEntities(ctx, entities)

	history, err := p.chatEvents.RecentBySession(ctx, sessionID, historyWindow)
	if err != nil {
		return nil, apperrors.Repository(err)
	}

	outcome, err := p.disambiguation.Decide(ctx, req.UserID, sessionID, masked, entities, history)
	if err != nil {
		return nil, err
	}

	if outcome.Needed {
		return p.clarificationResponse(ctx, sessionID, masked, outcome)
	}
	if outcome.ClarificationReply {
		return p.clarificationAck(ctx, sessionID, masked, outcome)
	}

	entities = resolveEntities(entities, outcome.Selected)

	queryVec, _ := p.embedding.EmbedText(ctx, masked)

	var rctx *RetrievalContext
	if mode == ModeFull {
		rctx, err = p.retrieval.RetrieveContext(ctx, masked, queryVec, req.UserID, entities, retrievalLimit)
		if err != nil {
			return nil, err
		}
		for _, id := range rctx.DecayMemoryIDs {
			if err := p.memoryService.MarkForDecay(ctx, id); err != nil {
				p.logger.Warn("failed to decay contradicted memory",
					zap.Int64("memory_id", id), zap.Error(err))
			}
		}
	}

	reply := p.generateReply(ctx, mode, masked, rctx, history)

	p.storeMemories(ctx, mode, sessionID, req.UserID, masked, piiResult, entities)

	if should, err := p.consolidation.ShouldConsolidate(ctx, req.UserID, masked); err != nil {
		p.logger.Warn("consolidation trigger check failed", zap.Error(err))
	} else if should {
		if _, err := p.consolidation.Consolidate(ctx, req.UserID); err != nil {
			p.logger.Warn("consolidation failed", zap.Error(err))
		}
	}

	if err := p.storeChatEvents(ctx, sessionID, masked, reply); err != nil {
		return nil, err
	}

	return p.buildResponse(sessionID, mode, reply, rctx), nil
}

// ============================================================================
// Disambiguation Branches
// ============================================================================

func (p *Pipeline) clarificationResponse(ctx context.Context, sessionID, masked string, outcome *DisambiguationOutcome) (*ChatResponse, error) {
	if err := p.storeChatEvents(ctx, sessionID, masked, outcome.Prompt); err != nil {
		return nil, err
	}

	return &ChatResponse{
		Reply:                outcome.Prompt,
		SessionID:            sessionID,
		UsedMemories:         []UsedMemory{},
		UsedDomainFacts:      []*DomainFact{},
		DisambiguationNeeded: true,
		CandidateEntities:    candidateEntities(outcome.Candidates),
	}, nil
}

func (p *Pipeline) clarificationAck(ctx context.Context, sessionID, masked string, outcome *DisambiguationOutcome) (*ChatResponse, error) {
	reply := fmt.Sprintf("Got it! You selected %s. Let me help you with that.", outcome.Selected.Name)

	if err := p.storeChatEvents(ctx, sessionID, masked, reply); err != nil {
		return nil, err
	}

	return &ChatResponse{
		Reply:             reply,
		SessionID:         sessionID,
		UsedMemories:      []UsedMemory{},
		UsedDomainFacts:   []*DomainFact{},
		CandidateEntities: []CandidateEntity{},
	}, nil
}

// ============================================================================
// Reply Generation
// ============================================================================

func (p *Pipeline) generateReply(ctx context.Context, mode ChatMode, masked string, rctx *RetrievalContext, history []*models.ChatEvent) string {
	if allowed, _ := p.breaker.Allow(); !allowed {
		p.logger.Warn("circuit breaker open, returning fallback reply")
		return fallbackReply
	}

	systemPrompt := p.buildSystemPrompt(mode, rctx)

	messages := make([]llm.Message, 0, len(history)+1)
	for _, event := range history {
		messages = append(messages, llm.Message{
			Role:    string(event.Role),
			Content: event.Content,
		})
	}
	messages = append(messages, llm.Message{Role: "user", Content: masked})

	resp, err := p.chat.GenerateChat(ctx, systemPrompt, messages, chatTemperature)
	if err != nil {
		p.breaker.RecordFailure()
		p.logger.Error("chat completion failed", zap.Error(err))
		return fallbackReply
	}
	p.breaker.RecordSuccess()

	// A grounded reply must never leak what masking removed.
	if ContainsUnmaskedPhone(resp.Content) {
		return MaskedPhoneText
	}
	return resp.Content
}

func (p *Pipeline) buildSystemPrompt(mode ChatMode, rctx *RetrievalContext) string {
	if mode == ModeSimple {
		return simpleSystemPrompt
	}

	var b strings.Builder
	b.WriteString(fullSystemPrompt)
	b.WriteString("\nUse the following information to provide accurate and helpful responses:\n")

	if rctx != nil && len(rctx.DomainFacts) > 0 {
		b.WriteString("\n## Database Facts:\n")
		for _, fact := range rctx.DomainFacts {
			data, _ := json.Marshal(fact.Data)
			fmt.Fprintf(&b, "- %s: %s\n", fact.Table, data)
		}
	}

	if rctx != nil && len(rctx.Memories) > 0 {
		b.WriteString("\n## Relevant Memories:\n")
		for _, rm := range rctx.Memories {
			fmt.Fprintf(&b, "- [%s] %s (similarity: %.2f)\n", rm.Memory.Kind, rm.AnnotatedText, rm.Similarity)
		}
	}

	b.WriteString("\n## Instructions:\n")
	b.WriteString("- Always reference specific data when available\n")
	b.WriteString("- Be accurate and factual\n")
	b.WriteString("- Never repeat phone numbers or other personal identifiers; masked values stay masked\n")
	b.WriteString("- For preferences older than 90 days, ask whether they are still accurate\n")
	b.WriteString("- When memory and database disagree, prefer the database\n")
	b.WriteString("- Surface any active reminders or SLA risks noted in the context\n")
	b.WriteString("- Maintain a professional and helpful tone")

	return b.String()
}

// ============================================================================
// Memory Processing
// ============================================================================

func (p *Pipeline) storeMemories(ctx context.Context, mode ChatMode, sessionID, userID, masked string, piiResult *PIIResult, entities []*models.Entity) {
	texts := p.memoryTexts(ctx, mode, masked, piiResult, entities)

	for _, tm := range texts {
		embedding, _ := p.embedding.EmbedText(ctx, tm.text)
		memory := &models.Memory{
			SessionID:  sessionID,
			UserID:     userID,
			Kind:       tm.kind,
			Text:       tm.text,
			Embedding:  embedding,
			Importance: tm.importance,
			TTLDays:    tm.ttlDays,
		}
		if _, _, err := p.memoryService.Create(ctx, memory); err != nil {
			p.logger.Warn("failed to store memory", zap.Error(err))
		}
	}
}

type memoryCandidate struct {
	text       string
	kind       models.MemoryKind
	importance float64
	ttlDays    *int
}

func (p *Pipeline) memoryTexts(ctx context.Context, mode ChatMode, masked string, piiResult *PIIResult, entities []*models.Entity) []memoryCandidate {
	customerNames := make([]string, 0)
	for _, e := range entities {
		if e.Type == models.EntityTypeCustomer {
			customerNames = append(customerNames, e.Name)
		}
	}

	// Masked identifiers carry their purpose into the stored text.
	text := masked
	if piiResult.HasPII() {
		text = p.pii.AnnotateForMemory(masked, piiResult.Purpose())
	}

	candidates := make([]memoryCandidate, 0, 2)

	if mode == ModeSimple {
		classified := forceSemantic(text, customerNames)
		if classified != nil {
			candidates = append(candidates, memoryCandidate{
				text:       classified.Text,
				kind:       classified.Kind,
				importance: classified.Importance,
				ttlDays:    classified.TTLDays,
			})
		} else if len(masked) > shortTermMinLength {
			// Small talk gets a short-lived row for conversational
			// continuity.
			ttl := 7
			candidates = append(candidates, memoryCandidate{
				text:       "User said: " + text,
				kind:       models.MemoryEpisodic,
				importance: 0.3,
				ttlDays:    &ttl,
			})
		}
		return candidates
	}

	classified := p.classifier.Classify(ctx, text, customerNames)
	if classified.Category == CategoryAction || classified.Category == CategoryKnowledge {
		candidates = append(candidates, memoryCandidate{
			text:       classified.Text,
			kind:       classified.Kind,
			importance: classified.Importance,
			ttlDays:    classified.TTLDays,
		})
	}

	if implicit := p.classifier.ImplicitPreference(masked, customerNames); implicit != "" {
		candidates = append(candidates, memoryCandidate{
			text:       implicit,
			kind:       models.MemorySemantic,
			importance: 0.9,
		})
	}

	return candidates
}

// ============================================================================
// Persistence Helpers
// ============================================================================

func (p *Pipeline) storeEntities(ctx context.Context, entities []*models.Entity) {
	for _, entity := range entities {
		if err := p.entities.Create(ctx, entity); err != nil {
			p.logger.Warn("failed to store entity",
				zap.String("name", entity.Name), zap.Error(err))
		}
	}
}

func (p *Pipeline) storeChatEvents(ctx context.Context, sessionID, userMessage, assistantReply string) error {
	userEvent := &models.ChatEvent{
		SessionID: sessionID,
		Role:      models.ChatRoleUser,
		Content:   userMessage,
	}
	if err := p.chatEvents.Append(ctx, userEvent); err != nil {
		return apperrors.Repository(err)
	}

	assistantEvent := &models.ChatEvent{
		SessionID: sessionID,
		Role:      models.ChatRoleAssistant,
		Content:   assistantReply,
	}
	if err := p.chatEvents.Append(ctx, assistantEvent); err != nil {
		return apperrors.Repository(err)
	}

	return nil
}

func (p *Pipeline) buildResponse(sessionID string, mode ChatMode, reply string, rctx *RetrievalContext) *ChatResponse {
	usedMemories := make([]UsedMemory, 0)
	usedFacts := make([]*DomainFact, 0)

	if mode == ModeFull && rctx != nil {
		for _, rm := range rctx.Memories {
			usedMemories = append(usedMemories, UsedMemory{
				MemoryID:   rm.Memory.ID,
				Text:       rm.AnnotatedText,
				Similarity: rm.Similarity,
				Kind:       string(rm.Memory.Kind),
			})
		}
		usedFacts = rctx.DomainFacts
	}

	return &ChatResponse{
		Reply:             reply,
		SessionID:         sessionID,
		UsedMemories:      usedMemories,
		UsedDomainFacts:   usedFacts,
		CandidateEntities: []CandidateEntity{},
	}
}

// resolveEntities folds a disambiguation pick back into the extracted set:
// only the ambiguous candidates (the pick's type) collapse to the selection;
// entities of other types stay in play for fact retrieval.
func resolveEntities(entities []*models.Entity, selected *models.Entity) []*models.Entity {
	if selected == nil {
		return entities
	}
	resolved := []*models.Entity{selected}
	for _, e := range entities {
		if e.Type != selected.Type {
			resolved = append(resolved, e)
		}
	}
	return resolved
}

func candidateEntities(entities []*models.Entity) []CandidateEntity {
	out := make([]CandidateEntity, 0, len(entities))
	for _, e := range entities {
		out = append(out, CandidateEntity{
			Name:        e.Name,
			Type:        string(e.Type),
			ExternalRef: e.Ref,
		})
	}
	return out
}
