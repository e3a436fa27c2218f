package orders

import "time"

type CreateSalesOrderRequest struct {
	SellerID   string                    `json:"seller_id" validate:"required"`
	CustomerID string                    `json:"customer_id" validate:"required,nefield=SellerID"`
	OrderDate  time.Time                 `json:"order_date"`
	Notes      string                    `json:"notes" validate:"max=500"`
	Lines      []CreateSalesOrderLineReq `json:"lines" validate:"required,min=1,dive"`
}

type CreateSalesOrderLineReq struct {
	ProductID   string  `json:"product_id" validate:"required"`
	ProductName string  `json:"product_name"`
	Quantity    float64 `json:"quantity" validate:"gt=0"`
	UnitPrice   float64 `json:"unit_price" validate:"gte=0"`
}
