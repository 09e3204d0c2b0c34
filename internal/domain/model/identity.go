package model

type Role string

const (
	RoleClient           Role = "client"
	RoleAdmin            Role = "admin"
	RoleCourier          Role = "courier"
	RoleWarehouseManager Role = "warehouse_manager"
)

// Caller is the authenticated principal issuing a request.
type Caller struct {
	UserID   int64
	Username string
	Role     Role
}

// CanViewAnyOrder reports whether the role may read orders it does not own.
func (c Caller) CanViewAnyOrder() bool {
	return c.Role == RoleAdmin || c.Role == RoleCourier
}

// CanUpdateStatus reports whether the role may change order status fields.
func (c Caller) CanUpdateStatus() bool {
	return c.Role == RoleCourier || c.Role == RoleAdmin
}
