package health

import (
	"errors"

	"github.com/heptiolabs/healthcheck"

	"tempmailhub/backend/internal/service"
)

// NewHandler 构造存活/就绪检查处理器。
//
// 存活检查限制 goroutine 数量失控；就绪检查要求渠道注册表已完成
// 首次初始化（惰性初始化完成前网关可以存活但不接流量）。
func NewHandler(mail *service.MailService) healthcheck.Handler {
	h := healthcheck.NewHandler()

	h.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(500))

	h.AddReadinessCheck("channel-registry", func() error {
		if !mail.Ready() {
			return errors.New("channel registry not initialized")
		}
		return nil
	})

	return h
}
