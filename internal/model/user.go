package model

// Identity 已验证令牌对应的调用方身份
type Identity struct {
	UserID int    `json:"user_id"`
	Email  string `json:"email"`
	Role   string `json:"role"`
}

// IsAdmin 是否为管理员（可触发嵌入任务和数据入库）
func (i Identity) IsAdmin() bool {
	return i.Role == "admin"
}
