package acl

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Policy 房间访问策略
type Policy struct {
	RoomID       string `gorm:"primaryKey;size:50"`
	OwnerID      string `gorm:"size:64;index"`
	AllowedRoles string `gorm:"size:255"` // 逗号分隔
	Private      bool
	UpdatedAt    time.Time
}

// TableName 表名
func (Policy) TableName() string {
	return "room_policies"
}

// Roles 解析允许的角色
func (p *Policy) Roles() []string {
	var out []string
	for _, r := range strings.Split(p.AllowedRoles, ",") {
		if r = strings.TrimSpace(r); r != "" {
			out = append(out, r)
		}
	}
	return out
}

// Allows 判断请求者是否可以进入房间
func (p *Policy) Allows(userID string, roles []string) bool {
	if !p.Private {
		return true
	}
	if userID != "" && userID == p.OwnerID {
		return true
	}
	allowed := p.Roles()
	for _, r := range roles {
		if slices.Contains(allowed, r) {
			return true
		}
	}
	return false
}

// Policies 基于关系型存储的房间访问检查
type Policies struct {
	db *gorm.DB
}

// New 创建访问检查
func New(db *gorm.DB) *Policies {
	return &Policies{db: db}
}

// AutoMigrate 创建策略表
func (p *Policies) AutoMigrate(ctx context.Context) error {
	return p.db.WithContext(ctx).AutoMigrate(&Policy{})
}

// Check 检查访问权限，无策略或非私有房间放行
func (p *Policies) Check(ctx context.Context, roomID, userID string, roles []string) (bool, error) {
	pol, err := p.Get(ctx, roomID)
	if err != nil {
		return false, err
	}
	if pol == nil {
		return true, nil
	}
	return pol.Allows(userID, roles), nil
}

// Get 读取策略，不存在时返回 nil
func (p *Policies) Get(ctx context.Context, roomID string) (*Policy, error) {
	var pol Policy
	err := p.db.WithContext(ctx).Where("room_id = ?", roomID).Take(&pol).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &pol, nil
}

// Put 新增或覆盖策略
func (p *Policies) Put(ctx context.Context, pol *Policy) error {
	return p.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(pol).Error
}

// Delete 删除策略
func (p *Policies) Delete(ctx context.Context, roomID string) error {
	return p.db.WithContext(ctx).Delete(&Policy{}, "room_id = ?", roomID).Error
}
