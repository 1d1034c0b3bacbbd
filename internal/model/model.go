package model

import "strings"

// InvalidDate is stored in OrderRecord.Date when a day/month/year value could not be parsed.
const InvalidDate = "Invalid Date"

// TimestampLayout is the normalized form of a parsed order date.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// OrderRecord is one row of the order export. Absent values are "" or 0, never nil.
type OrderRecord struct {
	Date            string  `json:"date"`
	OrderID         string  `json:"orderId"`
	CustomerName    string  `json:"customerName"`
	CustomerPhone   string  `json:"customerPhone"`
	CustomerEmail   string  `json:"customerEmail"`
	ItemName        string  `json:"itemName"`
	Category        string  `json:"category"`
	Quantity        int     `json:"quantity"`
	PricePerItem    float64 `json:"pricePerItem"`
	TotalAmount     float64 `json:"totalAmount"`
	DiscountPercent float64 `json:"discountPercent"`
	FinalAmount     float64 `json:"finalAmount"`
	PaymentMethod   string  `json:"paymentMethod"`
	OrderStatus     string  `json:"orderStatus"`
	DeliveryType    string  `json:"deliveryType"`
	DeliveryStatus  string  `json:"deliveryStatus"`
	Notes           string  `json:"notes"`
}

// CategoryStat is one entry of MetricsSummary.TopCategories.
type CategoryStat struct {
	Category string  `json:"category"`
	Count    int     `json:"count"`
	Revenue  float64 `json:"revenue"`
}

// DateRevenue is revenue summed over one distinct stored date value.
type DateRevenue struct {
	Date    string  `json:"date"`
	Revenue float64 `json:"revenue"`
}

type StatusCount struct {
	Status string `json:"status"`
	Count  int    `json:"count"`
}

type MethodCount struct {
	Method string `json:"method"`
	Count  int    `json:"count"`
}

// MetricsSummary is derived from a record set and never mutated afterwards.
type MetricsSummary struct {
	TotalRevenue              float64        `json:"totalRevenue"`
	TotalOrders               int            `json:"totalOrders"`
	AverageOrderValue         float64        `json:"averageOrderValue"`
	ConversionRate            float64        `json:"conversionRate"`
	TopCategories             []CategoryStat `json:"topCategories"`
	RevenueByDate             []DateRevenue  `json:"revenueByDate"`
	OrderStatusDistribution   []StatusCount  `json:"orderStatusDistribution"`
	PaymentMethodDistribution []MethodCount  `json:"paymentMethodDistribution"`
}

// StatusClass buckets a free-text order status.
type StatusClass string

const (
	StatusCompleted StatusClass = "completed"
	StatusPending   StatusClass = "pending"
	StatusCancelled StatusClass = "cancelled"
	StatusOther     StatusClass = "other"
)

// IsConverted reports whether the status counts towards the conversion rate.
func IsConverted(status string) bool {
	s := strings.ToLower(status)
	return strings.Contains(s, "completed") || strings.Contains(s, "delivered")
}

// ClassifyStatus maps an order status onto a StatusClass, checked in order
// completed, pending, cancelled.
func ClassifyStatus(status string) StatusClass {
	s := strings.ToLower(status)
	switch {
	case IsConverted(s):
		return StatusCompleted
	case strings.Contains(s, "pending") || strings.Contains(s, "processing"):
		return StatusPending
	case strings.Contains(s, "cancelled") || strings.Contains(s, "failed"):
		return StatusCancelled
	default:
		return StatusOther
	}
}
