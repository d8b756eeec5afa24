package services

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/contexthq/memory-engine/pkg/models"
	"github.com/contexthq/memory-engine/pkg/repositories"
)

// ============================================================================
// Memory Repository Mock
// ============================================================================

type mockMemoryRepository struct {
	memories map[int64]*models.Memory
	nextID   int64
	now      func() time.Time

	createErr error
}

func newMockMemoryRepository() *mockMemoryRepository {
	return &mockMemoryRepository{
		memories: make(map[int64]*models.Memory),
		now:      time.Now,
	}
}

var _ repositories.MemoryRepository = (*mockMemoryRepository)(nil)

func (m *mockMemoryRepository) Create(ctx context.Context, memory *models.Memory) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.nextID++
	memory.ID = m.nextID
	if memory.CreatedAt.IsZero() {
		memory.CreatedAt = m.now()
	}
	stored := *memory
	m.memories[memory.ID] = &stored
	return nil
}

func (m *mockMemoryRepository) FindBySessionText(ctx context.Context, sessionID, text string) (*models.Memory, error) {
	for _, mem := range m.sorted() {
		if mem.SessionID == sessionID && mem.Text == text {
			return mem, nil
		}
	}
	return nil, nil
}

func (m *mockMemoryRepository) UpdateImportance(ctx context.Context, id int64, importance float64) error {
	if mem, ok := m.memories[id]; ok {
		mem.Importance = importance
	}
	return nil
}

func (m *mockMemoryRepository) ListBySession(ctx context.Context, sessionID string) ([]*models.Memory, error) {
	out := make([]*models.Memory, 0)
	for _, mem := range m.sorted() {
		if mem.SessionID == sessionID {
			out = append(out, mem)
		}
	}
	return out, nil
}

func (m *mockMemoryRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*models.Memory, error) {
	out := make([]*models.Memory, 0)
	for _, mem := range m.sorted() {
		if mem.UserID == userID && !mem.IsExpired(m.now()) {
			out = append(out, mem)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *mockMemoryRepository) ListByUserKind(ctx context.Context, userID string, kind models.MemoryKind, limit int) ([]*models.Memory, error) {
	out := make([]*models.Memory, 0)
	for _, mem := range m.sorted() {
		if mem.UserID == userID && mem.Kind == kind && !mem.IsExpired(m.now()) {
			out = append(out, mem)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *mockMemoryRepository) ListByUserSince(ctx context.Context, userID string, since time.Time) ([]*models.Memory, error) {
	out := make([]*models.Memory, 0)
	for _, mem := range m.sorted() {
		if mem.UserID == userID && !mem.CreatedAt.Before(since) && !mem.IsExpired(m.now()) {
			out = append(out, mem)
		}
	}
	return out, nil
}

func (m *mockMemoryRepository) ListSemanticByUser(ctx context.Context, userID string) ([]*models.Memory, error) {
	out := make([]*models.Memory, 0)
	for _, mem := range m.sorted() {
		if mem.UserID == userID && mem.Kind == models.MemorySemantic {
			out = append(out, mem)
		}
	}
	return out, nil
}

func (m *mockMemoryRepository) SearchSimilar(ctx context.Context, userID string, query []float32, limit int) ([]*repositories.SimilarMemory, error) {
	hits := make([]*repositories.SimilarMemory, 0)
	for _, mem := range m.sorted() {
		if mem.UserID != userID || len(mem.Embedding) == 0 || mem.IsExpired(m.now()) {
			continue
		}
		hits = append(hits, &repositories.SimilarMemory{
			Memory:     mem,
			Similarity: CosineSimilarity(query, mem.Embedding),
		})
	}
	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Similarity > hits[j].Similarity
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (m *mockMemoryRepository) FindAliasMapping(ctx context.Context, userID, aliasText string) (*models.Memory, error) {
	sorted := m.sorted()
	for i := len(sorted) - 1; i >= 0; i-- {
		mem := sorted[i]
		if mem.Ref != nil && mem.Ref.Type == models.RefTypeAliasMapping &&
			mem.Ref.UserID == userID && mem.Ref.AliasText == aliasText {
			return mem, nil
		}
	}
	return nil, nil
}

func (m *mockMemoryRepository) FindMultilingualMapping(ctx context.Context, userID, foreignText string) (*models.Memory, error) {
	sorted := m.sorted()
	for i := len(sorted) - 1; i >= 0; i-- {
		mem := sorted[i]
		if mem.Ref != nil && mem.Ref.Type == models.RefTypeMultilingualMapping &&
			mem.Ref.UserID == userID && mem.Ref.ForeignText == foreignText {
			return mem, nil
		}
	}
	return nil, nil
}

func (m *mockMemoryRepository) sorted() []*models.Memory {
	out := make([]*models.Memory, 0, len(m.memories))
	for _, mem := range m.memories {
		out = append(out, mem)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ============================================================================
// Summary Repository Mock
// ============================================================================

type mockSummaryRepository struct {
	summaries map[string]*models.MemorySummary // keyed by userID
	nextID    int64
}

func newMockSummaryRepository() *mockSummaryRepository {
	return &mockSummaryRepository{summaries: make(map[string]*models.MemorySummary)}
}

var _ repositories.SummaryRepository = (*mockSummaryRepository)(nil)

func (m *mockSummaryRepository) Upsert(ctx context.Context, summary *models.MemorySummary) error {
	if existing, ok := m.summaries[summary.UserID]; ok {
		summary.ID = existing.ID
	} else {
		m.nextID++
		summary.ID = m.nextID
	}
	if summary.CreatedAt.IsZero() {
		summary.CreatedAt = time.Now()
	}
	stored := *summary
	m.summaries[summary.UserID] = &stored
	return nil
}

func (m *mockSummaryRepository) ListByUser(ctx context.Context, userID string) ([]*models.MemorySummary, error) {
	if s, ok := m.summaries[userID]; ok {
		return []*models.MemorySummary{s}, nil
	}
	return []*models.MemorySummary{}, nil
}

func (m *mockSummaryRepository) SearchSimilar(ctx context.Context, userID string, query []float32, limit int) ([]*repositories.SimilarSummary, error) {
	s, ok := m.summaries[userID]
	if !ok || len(s.Embedding) == 0 {
		return nil, nil
	}
	return []*repositories.SimilarSummary{{
		Summary:    s,
		Similarity: CosineSimilarity(query, s.Embedding),
	}}, nil
}

// ============================================================================
// Entity Repository Mock
// ============================================================================

type mockEntityRepository struct {
	entities []*models.Entity
	nextID   int64
}

func newMockEntityRepository() *mockEntityRepository {
	return &mockEntityRepository{}
}

var _ repositories.EntityRepository = (*mockEntityRepository)(nil)

func (m *mockEntityRepository) Create(ctx context.Context, entity *models.Entity) error {
	m.nextID++
	entity.ID = m.nextID
	if entity.CreatedAt.IsZero() {
		entity.CreatedAt = time.Now()
	}
	stored := *entity
	m.entities = append(m.entities, &stored)
	return nil
}

func (m *mockEntityRepository) ListBySession(ctx context.Context, sessionID string, filter repositories.EntityFilter) ([]*models.Entity, error) {
	out := make([]*models.Entity, 0)
	for _, e := range m.entities {
		if e.SessionID != sessionID {
			continue
		}
		if filter.Type != "" && e.Type != filter.Type {
			continue
		}
		if filter.Source != "" && e.Source != filter.Source {
			continue
		}
		out = append(out, e)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

// ============================================================================
// Chat Event Repository Mock
// ============================================================================

type mockChatEventRepository struct {
	events []*models.ChatEvent
	nextID int64
}

func newMockChatEventRepository() *mockChatEventRepository {
	return &mockChatEventRepository{}
}

var _ repositories.ChatEventRepository = (*mockChatEventRepository)(nil)

func (m *mockChatEventRepository) Append(ctx context.Context, event *models.ChatEvent) error {
	m.nextID++
	event.ID = m.nextID
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	stored := *event
	m.events = append(m.events, &stored)
	return nil
}

func (m *mockChatEventRepository) RecentBySession(ctx context.Context, sessionID string, limit int) ([]*models.ChatEvent, error) {
	if limit <= 0 {
		limit = 10
	}
	out := make([]*models.ChatEvent, 0)
	for _, e := range m.events {
		if e.SessionID == sessionID {
			out = append(out, e)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (m *mockChatEventRepository) CountBySession(ctx context.Context, sessionID string) (int, error) {
	count := 0
	for _, e := range m.events {
		if e.SessionID == sessionID {
			count++
		}
	}
	return count, nil
}

// ============================================================================
// Domain Repository Mock
// ============================================================================

type mockDomainRepository struct {
	customers  []*models.Customer
	orders     []*models.SalesOrder
	workOrders []*models.WorkOrder
	invoices   []*models.Invoice
	payments   []*models.Payment
	tasks      []*models.Task
}

func newMockDomainRepository() *mockDomainRepository {
	return &mockDomainRepository{}
}

var _ repositories.DomainRepository = (*mockDomainRepository)(nil)

func (m *mockDomainRepository) addCustomer(name string) *models.Customer {
	c := &models.Customer{ID: uuid.New(), Name: name}
	m.customers = append(m.customers, c)
	return c
}

func (m *mockDomainRepository) addSalesOrder(customerID uuid.UUID, soNumber, title string, status models.SalesOrderStatus) *models.SalesOrder {
	so := &models.SalesOrder{
		ID:         uuid.New(),
		CustomerID: customerID,
		SONumber:   soNumber,
		Title:      title,
		Status:     status,
		CreatedAt:  time.Now(),
	}
	m.orders = append(m.orders, so)
	return so
}

func (m *mockDomainRepository) addWorkOrder(soID uuid.UUID, description string, status models.WorkOrderStatus) *models.WorkOrder {
	wo := &models.WorkOrder{
		ID:           uuid.New(),
		SalesOrderID: soID,
		Description:  &description,
		Status:       status,
	}
	m.workOrders = append(m.workOrders, wo)
	return wo
}

func (m *mockDomainRepository) addInvoice(soID uuid.UUID, invoiceNumber string, amount float64, status models.InvoiceStatus) *models.Invoice {
	inv := &models.Invoice{
		ID:            uuid.New(),
		SalesOrderID:  soID,
		InvoiceNumber: invoiceNumber,
		Amount:        amount,
		Status:        status,
		IssuedAt:      time.Now(),
	}
	m.invoices = append(m.invoices, inv)
	return inv
}

func (m *mockDomainRepository) addTask(customerID uuid.UUID, title string, status models.TaskStatus) *models.Task {
	t := &models.Task{
		ID:         uuid.New(),
		CustomerID: &customerID,
		Title:      title,
		Status:     status,
		CreatedAt:  time.Now(),
	}
	m.tasks = append(m.tasks, t)
	return t
}

func (m *mockDomainRepository) ListCustomers(ctx context.Context) ([]*models.Customer, error) {
	return m.customers, nil
}

func (m *mockDomainRepository) GetCustomer(ctx context.Context, id uuid.UUID) (*models.Customer, error) {
	for _, c := range m.customers {
		if c.ID == id {
			return c, nil
		}
	}
	return nil, nil
}

func (m *mockDomainRepository) GetSalesOrder(ctx context.Context, id uuid.UUID) (*models.SalesOrder, error) {
	for _, so := range m.orders {
		if so.ID == id {
			return so, nil
		}
	}
	return nil, nil
}

func (m *mockDomainRepository) GetSalesOrderByNumber(ctx context.Context, soNumber string) (*models.SalesOrder, error) {
	for _, so := range m.orders {
		if so.SONumber == soNumber {
			return so, nil
		}
	}
	return nil, nil
}

func (m *mockDomainRepository) ListSalesOrdersByCustomer(ctx context.Context, customerID uuid.UUID) ([]*models.SalesOrder, error) {
	out := make([]*models.SalesOrder, 0)
	for _, so := range m.orders {
		if so.CustomerID == customerID {
			out = append(out, so)
		}
	}
	return out, nil
}

func (m *mockDomainRepository) GetWorkOrder(ctx context.Context, id uuid.UUID) (*models.WorkOrder, error) {
	for _, wo := range m.workOrders {
		if wo.ID == id {
			return wo, nil
		}
	}
	return nil, nil
}

func (m *mockDomainRepository) ListWorkOrdersBySalesOrder(ctx context.Context, salesOrderID uuid.UUID) ([]*models.WorkOrder, error) {
	out := make([]*models.WorkOrder, 0)
	for _, wo := range m.workOrders {
		if wo.SalesOrderID == salesOrderID {
			out = append(out, wo)
		}
	}
	return out, nil
}

func (m *mockDomainRepository) SearchWorkOrders(ctx context.Context, descriptionSubstring string) ([]*models.WorkOrder, error) {
	out := make([]*models.WorkOrder, 0)
	for _, wo := range m.workOrders {
		if wo.Description != nil && strings.Contains(strings.ToLower(*wo.Description), strings.ToLower(descriptionSubstring)) {
			out = append(out, wo)
		}
	}
	return out, nil
}

func (m *mockDomainRepository) GetInvoice(ctx context.Context, id uuid.UUID) (*models.Invoice, error) {
	for _, inv := range m.invoices {
		if inv.ID == id {
			return inv, nil
		}
	}
	return nil, nil
}

func (m *mockDomainRepository) GetInvoiceByNumber(ctx context.Context, invoiceNumber string) (*models.Invoice, error) {
	for _, inv := range m.invoices {
		if inv.InvoiceNumber == invoiceNumber {
			return inv, nil
		}
	}
	return nil, nil
}

func (m *mockDomainRepository) ListInvoicesBySalesOrder(ctx context.Context, salesOrderID uuid.UUID) ([]*models.Invoice, error) {
	out := make([]*models.Invoice, 0)
	for _, inv := range m.invoices {
		if inv.SalesOrderID == salesOrderID {
			out = append(out, inv)
		}
	}
	return out, nil
}

func (m *mockDomainRepository) ListOpenInvoicesByCustomer(ctx context.Context, customerID uuid.UUID) ([]*models.Invoice, error) {
	out := make([]*models.Invoice, 0)
	for _, inv := range m.invoices {
		if inv.Status != models.InvoiceOpen {
			continue
		}
		for _, so := range m.orders {
			if so.ID == inv.SalesOrderID && so.CustomerID == customerID {
				out = append(out, inv)
				break
			}
		}
	}
	return out, nil
}

func (m *mockDomainRepository) ListPaymentsByInvoice(ctx context.Context, invoiceID uuid.UUID) ([]*models.Payment, error) {
	out := make([]*models.Payment, 0)
	for _, p := range m.payments {
		if p.InvoiceID == invoiceID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *mockDomainRepository) PaymentTotals(ctx context.Context, invoiceID uuid.UUID) (float64, int, error) {
	total := 0.0
	count := 0
	for _, p := range m.payments {
		if p.InvoiceID == invoiceID {
			total += p.Amount
			count++
		}
	}
	return total, count, nil
}

func (m *mockDomainRepository) GetTask(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	for _, t := range m.tasks {
		if t.ID == id {
			return t, nil
		}
	}
	return nil, nil
}

func (m *mockDomainRepository) SearchTasks(ctx context.Context, keyword string) ([]*models.Task, error) {
	out := make([]*models.Task, 0)
	lower := strings.ToLower(keyword)
	for _, t := range m.tasks {
		body := ""
		if t.Body != nil {
			body = *t.Body
		}
		if strings.Contains(strings.ToLower(t.Title), lower) || strings.Contains(strings.ToLower(body), lower) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *mockDomainRepository) ListTasksByCustomer(ctx context.Context, customerID uuid.UUID) ([]*models.Task, error) {
	out := make([]*models.Task, 0)
	for _, t := range m.tasks {
		if t.CustomerID != nil && *t.CustomerID == customerID {
			out = append(out, t)
		}
	}
	return out, nil
}
