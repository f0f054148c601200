package domain

import "time"

// Account 交易账户
// API 凭证不入库，只存 secretstore 的引用键
type Account struct {
	ID        string
	Venue     string // 交易所
	Alias     string // 运维备注名
	CredsRef  string // secretstore 中的凭证键（默认 venue/account 组合）
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SystemPrincipal 系统主体：系统级调用（对账、封禁账本维护）使用的显式身份，
// 通过执行上下文传递，不做全局单例
type SystemPrincipal struct {
	Name string
}

// DefaultSystemPrincipal 默认系统主体
var DefaultSystemPrincipal = SystemPrincipal{Name: "system"}
