package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/zulandar/signalbox/internal/models"
	"gorm.io/gorm"
)

// errUnknownAccount is returned when no owner is linked to a platform account.
var errUnknownAccount = errors.New("pipeline: unknown account")

func (p *Pipeline) account(ctx context.Context, platform, accountID string) (*models.ChannelAccount, error) {
	if accountID == "" {
		return nil, errUnknownAccount
	}
	var acct models.ChannelAccount
	err := p.db.WithContext(ctx).Where("platform = ? AND account_id = ?", platform, accountID).First(&acct).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s/%s", errUnknownAccount, platform, accountID)
	}
	if err != nil {
		return nil, fmt.Errorf("pipeline: lookup account %s/%s: %w", platform, accountID, err)
	}
	return &acct, nil
}

// botConfig returns nil when the account has no bot configuration.
func (p *Pipeline) botConfig(ctx context.Context, ownerID uint, accountID string) (*models.BotConfig, error) {
	var cfg models.BotConfig
	err := p.db.WithContext(ctx).Where("owner_id = ? AND account_id = ?", ownerID, accountID).First(&cfg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pipeline: lookup bot config %d/%s: %w", ownerID, accountID, err)
	}
	return &cfg, nil
}

// channelEnabled reads the owner's kill switch; a missing row means enabled.
func (p *Pipeline) channelEnabled(ctx context.Context, ownerID uint, platform string) (bool, error) {
	var ctl models.ChannelControl
	err := p.db.WithContext(ctx).Where("owner_id = ? AND platform = ?", ownerID, platform).First(&ctl).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("pipeline: lookup channel control %d/%s: %w", ownerID, platform, err)
	}
	return ctl.Enabled, nil
}
