package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/contexthq/memory-engine/pkg/database"
	"github.com/contexthq/memory-engine/pkg/models"
)

// DomainRepository provides read access to the business ontology
// (customers -> sales orders -> work orders / invoices -> payments, plus
// tasks). Rows are seeded by migrations; the pipeline never writes here.
type DomainRepository interface {
	ListCustomers(ctx context.Context) ([]*models.Customer, error)
	GetCustomer(ctx context.Context, id uuid.UUID) (*models.Customer, error)

	GetSalesOrder(ctx context.Context, id uuid.UUID) (*models.SalesOrder, error)
	GetSalesOrderByNumber(ctx context.Context, soNumber string) (*models.SalesOrder, error)
	ListSalesOrdersByCustomer(ctx context.Context, customerID uuid.UUID) ([]*models.SalesOrder, error)

	GetWorkOrder(ctx context.Context, id uuid.UUID) (*models.WorkOrder, error)
	ListWorkOrdersBySalesOrder(ctx context.Context, salesOrderID uuid.UUID) ([]*models.WorkOrder, error)
	SearchWorkOrders(ctx context.Context, descriptionSubstring string) ([]*models.WorkOrder, error)

	GetInvoice(ctx context.Context, id uuid.UUID) (*models.Invoice, error)
	GetInvoiceByNumber(ctx context.Context, invoiceNumber string) (*models.Invoice, error)
	ListInvoicesBySalesOrder(ctx context.Context, salesOrderID uuid.UUID) ([]*models.Invoice, error)
	ListOpenInvoicesByCustomer(ctx context.Context, customerID uuid.UUID) ([]*models.Invoice, error)

	ListPaymentsByInvoice(ctx context.Context, invoiceID uuid.UUID) ([]*models.Payment, error)
	PaymentTotals(ctx context.Context, invoiceID uuid.UUID) (totalPaid float64, count int, err error)

	GetTask(ctx context.Context, id uuid.UUID) (*models.Task, error)
	SearchTasks(ctx context.Context, keyword string) ([]*models.Task, error)
	ListTasksByCustomer(ctx context.Context, customerID uuid.UUID) ([]*models.Task, error)
}

type domainRepository struct {
	db *database.DB
}

// NewDomainRepository creates a new DomainRepository.
func NewDomainRepository(db *database.DB) DomainRepository {
	return &domainRepository{db: db}
}

var _ DomainRepository = (*domainRepository)(nil)

func (r *domainRepository) ListCustomers(ctx context.Context) ([]*models.Customer, error) {
	query := `
		SELECT id, name, industry, notes
		FROM domain.customers
		ORDER BY name`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list customers: %w", err)
	}
	defer rows.Close()

	customers := make([]*models.Customer, 0)
	for rows.Next() {
		var c models.Customer
		if err := rows.Scan(&c.ID, &c.Name, &c.Industry, &c.Notes); err != nil {
			return nil, fmt.Errorf("failed to scan customer: %w", err)
		}
		customers = append(customers, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating customers: %w", err)
	}

	return customers, nil
}

func (r *domainRepository) GetCustomer(ctx context.Context, id uuid.UUID) (*models.Customer, error) {
	query := `
		SELECT id, name, industry, notes
		FROM domain.customers
		WHERE id = $1`

	var c models.Customer
	err := r.db.QueryRow(ctx, query, id).Scan(&c.ID, &c.Name, &c.Industry, &c.Notes)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get customer: %w", err)
	}

	return &c, nil
}

func (r *domainRepository) GetSalesOrder(ctx context.Context, id uuid.UUID) (*models.SalesOrder, error) {
	query := `
		SELECT id, customer_id, so_number, title, status, created_at
		FROM domain.sales_orders
		WHERE id = $1`

	var so models.SalesOrder
	err := r.db.QueryRow(ctx, query, id).Scan(
		&so.ID, &so.CustomerID, &so.SONumber, &so.Title, &so.Status, &so.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sales order: %w", err)
	}

	return &so, nil
}

func (r *domainRepository) GetSalesOrderByNumber(ctx context.Context, soNumber string) (*models.SalesOrder, error) {
	query := `
		SELECT id, customer_id, so_number, title, status, created_at
		FROM domain.sales_orders
		WHERE upper(so_number) = upper($1)`

	var so models.SalesOrder
	err := r.db.QueryRow(ctx, query, soNumber).Scan(
		&so.ID, &so.CustomerID, &so.SONumber, &so.Title, &so.Status, &so.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sales order: %w", err)
	}

	return &so, nil
}

func (r *domainRepository) ListSalesOrdersByCustomer(ctx context.Context, customerID uuid.UUID) ([]*models.SalesOrder, error) {
	query := `
		SELECT id, customer_id, so_number, title, status, created_at
		FROM domain.sales_orders
		WHERE customer_id = $1
		ORDER BY so_number`

	rows, err := r.db.Query(ctx, query, customerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sales orders: %w", err)
	}
	defer rows.Close()

	orders := make([]*models.SalesOrder, 0)
	for rows.Next() {
		var so models.SalesOrder
		if err := rows.Scan(&so.ID, &so.CustomerID, &so.SONumber, &so.Title, &so.Status, &so.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan sales order: %w", err)
		}
		orders = append(orders, &so)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sales orders: %w", err)
	}

	return orders, nil
}

func (r *domainRepository) ListWorkOrdersBySalesOrder(ctx context.Context, salesOrderID uuid.UUID) ([]*models.WorkOrder, error) {
	query := `
		SELECT id, so_id, description, status, technician, scheduled_for
		FROM domain.work_orders
		WHERE so_id = $1
		ORDER BY scheduled_for NULLS LAST, id`

	rows, err := r.db.Query(ctx, query, salesOrderID)
	if err != nil {
		return nil, fmt.Errorf("failed to list work orders: %w", err)
	}
	defer rows.Close()

	return scanWorkOrders(rows)
}

func (r *domainRepository) GetWorkOrder(ctx context.Context, id uuid.UUID) (*models.WorkOrder, error) {
	query := `
		SELECT id, so_id, description, status, technician, scheduled_for
		FROM domain.work_orders
		WHERE id = $1`

	var wo models.WorkOrder
	err := r.db.QueryRow(ctx, query, id).Scan(
		&wo.ID, &wo.SalesOrderID, &wo.Description, &wo.Status, &wo.Technician, &wo.ScheduledFor,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get work order: %w", err)
	}

	return &wo, nil
}

func (r *domainRepository) SearchWorkOrders(ctx context.Context, descriptionSubstring string) ([]*models.WorkOrder, error) {
	query := `
		SELECT id, so_id, description, status, technician, scheduled_for
		FROM domain.work_orders
		WHERE description ILIKE '%' || $1 || '%'
		ORDER BY id`

	rows, err := r.db.Query(ctx, query, descriptionSubstring)
	if err != nil {
		return nil, fmt.Errorf("failed to search work orders: %w", err)
	}
	defer rows.Close()

	return scanWorkOrders(rows)
}

func (r *domainRepository) GetInvoice(ctx context.Context, id uuid.UUID) (*models.Invoice, error) {
	query := `
		SELECT id, so_id, invoice_number, amount::float8, due_date, status, issued_at
		FROM domain.invoices
		WHERE id = $1`

	var inv models.Invoice
	err := r.db.QueryRow(ctx, query, id).Scan(
		&inv.ID, &inv.SalesOrderID, &inv.InvoiceNumber, &inv.Amount, &inv.DueDate, &inv.Status, &inv.IssuedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get invoice: %w", err)
	}

	return &inv, nil
}

func (r *domainRepository) GetInvoiceByNumber(ctx context.Context, invoiceNumber string) (*models.Invoice, error) {
	query := `
		SELECT id, so_id, invoice_number, amount::float8, due_date, status, issued_at
		FROM domain.invoices
		WHERE upper(invoice_number) = upper($1)`

	var inv models.Invoice
	err := r.db.QueryRow(ctx, query, invoiceNumber).Scan(
		&inv.ID, &inv.SalesOrderID, &inv.InvoiceNumber, &inv.Amount, &inv.DueDate, &inv.Status, &inv.IssuedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get invoice: %w", err)
	}

	return &inv, nil
}

func (r *domainRepository) ListInvoicesBySalesOrder(ctx context.Context, salesOrderID uuid.UUID) ([]*models.Invoice, error) {
	query := `
		SELECT id, so_id, invoice_number, amount::float8, due_date, status, issued_at
		FROM domain.invoices
		WHERE so_id = $1
		ORDER BY invoice_number`

	rows, err := r.db.Query(ctx, query, salesOrderID)
	if err != nil {
		return nil, fmt.Errorf("failed to list invoices: %w", err)
	}
	defer rows.Close()

	return scanInvoices(rows)
}

func (r *domainRepository) ListOpenInvoicesByCustomer(ctx context.Context, customerID uuid.UUID) ([]*models.Invoice, error) {
	query := `
		SELECT i.id, i.so_id, i.invoice_number, i.amount::float8, i.due_date, i.status, i.issued_at
		FROM domain.invoices i
		JOIN domain.sales_orders so ON so.id = i.so_id
		WHERE so.customer_id = $1 AND i.status = 'open'
		ORDER BY i.invoice_number`

	rows, err := r.db.Query(ctx, query, customerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list open invoices: %w", err)
	}
	defer rows.Close()

	return scanInvoices(rows)
}

func (r *domainRepository) ListPaymentsByInvoice(ctx context.Context, invoiceID uuid.UUID) ([]*models.Payment, error) {
	query := `
		SELECT id, invoice_id, amount::float8, method, paid_at
		FROM domain.payments
		WHERE invoice_id = $1
		ORDER BY paid_at`

	rows, err := r.db.Query(ctx, query, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	defer rows.Close()

	payments := make([]*models.Payment, 0)
	for rows.Next() {
		var p models.Payment
		if err := rows.Scan(&p.ID, &p.InvoiceID, &p.Amount, &p.Method, &p.PaidAt); err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		payments = append(payments, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating payments: %w", err)
	}

	return payments, nil
}

func (r *domainRepository) PaymentTotals(ctx context.Context, invoiceID uuid.UUID) (float64, int, error) {
	query := `
		SELECT COALESCE(SUM(amount), 0)::float8, COUNT(*)
		FROM domain.payments
		WHERE invoice_id = $1`

	var total float64
	var count int
	if err := r.db.QueryRow(ctx, query, invoiceID).Scan(&total, &count); err != nil {
		return 0, 0, fmt.Errorf("failed to aggregate payments: %w", err)
	}

	return total, count, nil
}

func (r *domainRepository) GetTask(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	query := `
		SELECT id, customer_id, title, body, status, created_at
		FROM domain.tasks
		WHERE id = $1`

	var t models.Task
	err := r.db.QueryRow(ctx, query, id).Scan(
		&t.ID, &t.CustomerID, &t.Title, &t.Body, &t.Status, &t.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}

	return &t, nil
}

func (r *domainRepository) SearchTasks(ctx context.Context, keyword string) ([]*models.Task, error) {
	query := `
		SELECT id, customer_id, title, body, status, created_at
		FROM domain.tasks
		WHERE title ILIKE '%' || $1 || '%' OR body ILIKE '%' || $1 || '%'
		ORDER BY created_at`

	rows, err := r.db.Query(ctx, query, keyword)
	if err != nil {
		return nil, fmt.Errorf("failed to search tasks: %w", err)
	}
	defer rows.Close()

	return scanTasks(rows)
}

func (r *domainRepository) ListTasksByCustomer(ctx context.Context, customerID uuid.UUID) ([]*models.Task, error) {
	query := `
		SELECT id, customer_id, title, body, status, created_at
		FROM domain.tasks
		WHERE customer_id = $1
		ORDER BY created_at`

	rows, err := r.db.Query(ctx, query, customerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	return scanTasks(rows)
}

// ============================================================================
// Helper Functions - Scan
// ============================================================================

func scanWorkOrders(rows pgx.Rows) ([]*models.WorkOrder, error) {
	workOrders := make([]*models.WorkOrder, 0)
	for rows.Next() {
		var wo models.WorkOrder
		if err := rows.Scan(&wo.ID, &wo.SalesOrderID, &wo.Description, &wo.Status, &wo.Technician, &wo.ScheduledFor); err != nil {
			return nil, fmt.Errorf("failed to scan work order: %w", err)
		}
		workOrders = append(workOrders, &wo)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating work orders: %w", err)
	}
	return workOrders, nil
}

func scanInvoices(rows pgx.Rows) ([]*models.Invoice, error) {
	invoices := make([]*models.Invoice, 0)
	for rows.Next() {
		var inv models.Invoice
		if err := rows.Scan(&inv.ID, &inv.SalesOrderID, &inv.InvoiceNumber, &inv.Amount, &inv.DueDate, &inv.Status, &inv.IssuedAt); err != nil {
			return nil, fmt.Errorf("failed to scan invoice: %w", err)
		}
		invoices = append(invoices, &inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating invoices: %w", err)
	}
	return invoices, nil
}

func scanTasks(rows pgx.Rows) ([]*models.Task, error) {
	tasks := make([]*models.Task, 0)
	for rows.Next() {
		var t models.Task
		if err := rows.Scan(&t.ID, &t.CustomerID, &t.Title, &t.Body, &t.Status, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}
	return tasks, nil
}
