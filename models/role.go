package models

// Role 用户角色，闭集
type Role string

const (
	RoleCustomer Role = "customer"
	RoleStaff    Role = "staff"
	RoleAdmin    Role = "admin"
)

// ParseRole 校验并归一化角色字符串
func ParseRole(s string) (Role, bool) {
	switch Role(s) {
	case RoleCustomer, RoleStaff, RoleAdmin:
		return Role(s), true
	}
	return "", false
}

// IsStaff staff 和 admin 都算客服侧
func (r Role) IsStaff() bool {
	return r == RoleStaff || r == RoleAdmin
}
