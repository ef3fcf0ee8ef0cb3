package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

const (
	RoleSeller   = "seller"
	RoleCustomer = "customer"
)

type Product struct {
	ID          uint      `gorm:"primaryKey;autoIncrement"  json:"id"`
	SellerID    uint      `gorm:"index;not null"            json:"seller_id"`
	Name        string    `gorm:"not null"                  json:"name"`
	Description string    `json:"description"`
	Price       float64   `gorm:"not null"                  json:"price"`
	Quantity    uint      `json:"quantity"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type User struct {
	ID           uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	Username     string `gorm:"unique;not null"          json:"username"`
	Email        string `gorm:"not null"                 json:"email"`
	PasswordHash string `gorm:"not null"                 json:"-"`
	Role         string `gorm:"not null"                 json:"role"`
}

type RefreshToken struct {
	ID        uint   `gorm:"primaryKey"          json:"id"`
	Token     string `gorm:"unique;not null"     json:"token"`
	UserID    uint   `gorm:"index;not null"      json:"user_id"`
	Role      string `gorm:"not null"            json:"role"`
	ExpiresAt int64  `gorm:"not null"            json:"expires_at"`
	Revoked   bool   `gorm:"default:false"       json:"revoked"`
}

type CartItem struct {
	ID        uint `gorm:"primaryKey"                  json:"id"`
	UserID    uint `gorm:"index;not null"              json:"user_id"`
	ProductID uint `gorm:"not null"                    json:"product_id"`
	Quantity  uint `gorm:"default:1;check:quantity>0"  json:"quantity"`
}

type Order struct {
	ID        uint      `gorm:"primaryKey"     json:"id"`
	UserID    uint      `gorm:"index;not null" json:"user_id"`
	Total     float64   `gorm:"not null"       json:"total"`
	Paid      bool      `gorm:"default:false"  json:"paid"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type OrderItem struct {
	ID        uint    `gorm:"primaryKey"                  json:"id"`
	OrderID   uint    `gorm:"index;not null"              json:"order_id"`
	ProductID *uint   `gorm:"index"                       json:"product_id"`
	Quantity  uint    `gorm:"default:1;check:quantity>0"  json:"quantity"`
	Price     float64 `gorm:"not null"                    json:"price"`
}

const (
	PaymentStatusPending    = "pending"
	PaymentStatusProcessing = "processing"
	PaymentStatusSucceeded  = "succeeded"
	PaymentStatusFailed     = "failed"
	PaymentStatusCanceled   = "canceled"
)

type Payment struct {
	ID               uint       `gorm:"primaryKey"               json:"id"`
	OrderID          uint       `gorm:"uniqueIndex;not null"     json:"order_id"`
	SessionID        string     `gorm:"uniqueIndex;not null"     json:"session_id"`
	PaymentIntentID  string     `gorm:"index"                    json:"payment_intent_id"`
	Status           string     `gorm:"not null;default:pending" json:"status"`
	PaymentMethod    string     `gorm:"not null;default:card"    json:"payment_method"`
	Amount           float64    `gorm:"not null"                 json:"amount"`
	Currency         string     `gorm:"not null;default:BRL"     json:"currency"`
	CustomerEmail    string     `json:"customer_email"`
	CustomerName     string     `json:"customer_name"`
	PaidAt           *time.Time `json:"paid_at"`
	ProviderResponse JSONMap    `json:"provider_response"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// PaymentLog rows are append-only, never updated or deleted.
type PaymentLog struct {
	ID        uint      `gorm:"primaryKey"     json:"id"`
	PaymentID uint      `gorm:"index;not null" json:"payment_id"`
	EventType string    `gorm:"not null"       json:"event_type"`
	Details   JSONMap   `json:"details"`
	CreatedAt time.Time `json:"created_at"`
}

// JSONMap stores an opaque structured payload. It is kept for audit display
// only and is never schema-validated beyond being parseable JSON.
type JSONMap map[string]interface{}

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

// GormDataType and GormDBDataType tell the gorm migrator which column type
// to use; without them schema parsing rejects the map type outright.
func (JSONMap) GormDataType() string { return "jsonmap" }

func (JSONMap) GormDBDataType(db *gorm.DB, field *schema.Field) string {
	switch db.Dialector.Name() {
	case "postgres":
		return "JSONB"
	default:
		return "JSON"
	}
}

func (m *JSONMap) Scan(value interface{}) error {
	if value == nil {
		*m = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	default:
		return errors.New("jsonmap: unsupported scan type")
	}
}
