package models

import (
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// Status Enumerations
// ============================================================================

// SalesOrderStatus represents the lifecycle state of a sales order.
type SalesOrderStatus string

const (
	SalesOrderDraft         SalesOrderStatus = "draft"
	SalesOrderApproved      SalesOrderStatus = "approved"
	SalesOrderInFulfillment SalesOrderStatus = "in_fulfillment"
	SalesOrderFulfilled     SalesOrderStatus = "fulfilled"
	SalesOrderCancelled     SalesOrderStatus = "cancelled"
)

// ValidSalesOrderStatuses contains all valid sales order status values.
var ValidSalesOrderStatuses = []SalesOrderStatus{
	SalesOrderDraft,
	SalesOrderApproved,
	SalesOrderInFulfillment,
	SalesOrderFulfilled,
	SalesOrderCancelled,
}

// IsValidSalesOrderStatus checks if the given status is valid.
func IsValidSalesOrderStatus(s SalesOrderStatus) bool {
	for _, v := range ValidSalesOrderStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// WorkOrderStatus represents the lifecycle state of a work order.
type WorkOrderStatus string

const (
	WorkOrderQueued     WorkOrderStatus = "queued"
	WorkOrderInProgress WorkOrderStatus = "in_progress"
	WorkOrderBlocked    WorkOrderStatus = "blocked"
	WorkOrderDone       WorkOrderStatus = "done"
)

// ValidWorkOrderStatuses contains all valid work order status values.
var ValidWorkOrderStatuses = []WorkOrderStatus{
	WorkOrderQueued,
	WorkOrderInProgress,
	WorkOrderBlocked,
	WorkOrderDone,
}

// IsValidWorkOrderStatus checks if the given status is valid.
func IsValidWorkOrderStatus(s WorkOrderStatus) bool {
	for _, v := range ValidWorkOrderStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// InvoiceStatus represents the lifecycle state of an invoice.
type InvoiceStatus string

const (
	InvoiceOpen InvoiceStatus = "open"
	InvoicePaid InvoiceStatus = "paid"
	InvoiceVoid InvoiceStatus = "void"
)

// ValidInvoiceStatuses contains all valid invoice status values.
var ValidInvoiceStatuses = []InvoiceStatus{
	InvoiceOpen,
	InvoicePaid,
	InvoiceVoid,
}

// IsValidInvoiceStatus checks if the given status is valid.
func IsValidInvoiceStatus(s InvoiceStatus) bool {
	for _, v := range ValidInvoiceStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// TaskStatus represents the lifecycle state of a task.
type TaskStatus string

const (
	TaskTodo  TaskStatus = "todo"
	TaskDoing TaskStatus = "doing"
	TaskDone  TaskStatus = "done"
)

// ValidTaskStatuses contains all valid task status values.
var ValidTaskStatuses = []TaskStatus{TaskTodo, TaskDoing, TaskDone}

// IsValidTaskStatus checks if the given status is valid.
func IsValidTaskStatus(s TaskStatus) bool {
	for _, v := range ValidTaskStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// ============================================================================
// Business Ontology
// ============================================================================

// Customer is the root of the business ontology. Parent of SalesOrder and Task.
type Customer struct {
	ID       uuid.UUID `json:"id"`
	Name     string    `json:"name"`
	Industry *string   `json:"industry,omitempty"`
	Notes    *string   `json:"notes,omitempty"`
}

// SalesOrder belongs to a customer. Parent of WorkOrder and Invoice.
type SalesOrder struct {
	ID         uuid.UUID        `json:"id"`
	CustomerID uuid.UUID        `json:"customer_id"`
	SONumber   string           `json:"so_number"`
	Title      string           `json:"title"`
	Status     SalesOrderStatus `json:"status"`
	CreatedAt  time.Time        `json:"created_at"`
}

// WorkOrder is a unit of fulfillment work under a sales order.
type WorkOrder struct {
	ID           uuid.UUID       `json:"id"`
	SalesOrderID uuid.UUID       `json:"so_id"`
	Description  *string         `json:"description,omitempty"`
	Status       WorkOrderStatus `json:"status"`
	Technician   *string         `json:"technician,omitempty"`
	ScheduledFor *time.Time      `json:"scheduled_for,omitempty"`
}

// Invoice bills a sales order. Parent of Payment.
type Invoice struct {
	ID            uuid.UUID     `json:"id"`
	SalesOrderID  uuid.UUID     `json:"so_id"`
	InvoiceNumber string        `json:"invoice_number"`
	Amount        float64       `json:"amount"`
	DueDate       *time.Time    `json:"due_date,omitempty"`
	Status        InvoiceStatus `json:"status"`
	IssuedAt      time.Time     `json:"issued_at"`
}

// Payment records money received against an invoice.
type Payment struct {
	ID        uuid.UUID `json:"id"`
	InvoiceID uuid.UUID `json:"invoice_id"`
	Amount    float64   `json:"amount"`
	Method    *string   `json:"method,omitempty"`
	PaidAt    time.Time `json:"paid_at"`
}

// Task is free-form work, optionally attached to a customer.
type Task struct {
	ID         uuid.UUID  `json:"id"`
	CustomerID *uuid.UUID `json:"customer_id,omitempty"`
	Title      string     `json:"title"`
	Body       *string    `json:"body,omitempty"`
	Status     TaskStatus `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
}
