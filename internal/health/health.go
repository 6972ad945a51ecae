package health

import (
	"net/http"
	"time"

	"github.com/heptiolabs/healthcheck"
	"go.uber.org/zap"

	"mailbucket/backend/internal/storage"
)

// HealthChecker 健康检查器
//
// 存活检查只关心进程本身，就绪检查覆盖存储及可选的外部依赖。
type HealthChecker struct {
	health healthcheck.Handler
	store  storage.Store
	logger *zap.Logger
}

// NewHealthChecker 创建健康检查器
func NewHealthChecker(store storage.Store, logger *zap.Logger) *HealthChecker {
	if logger == nil {
		logger = zap.NewNop()
	}
	hc := &HealthChecker{
		health: healthcheck.NewHandler(),
		store:  store,
		logger: logger,
	}

	hc.health.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(10000))
	hc.health.AddReadinessCheck("store", hc.wrap("store", store.Health))

	return hc
}

// AddReadinessCheck 注册额外的就绪检查，例如 Redis 或数据库探针
func (hc *HealthChecker) AddReadinessCheck(name string, check func() error) {
	hc.health.AddReadinessCheck(name, hc.wrap(name, check))
}

// AddTimeoutReadinessCheck 注册带超时的就绪检查
func (hc *HealthChecker) AddTimeoutReadinessCheck(name string, timeout time.Duration, check func() error) {
	hc.health.AddReadinessCheck(name, healthcheck.Timeout(hc.wrap(name, check), timeout))
}

// Handler 返回健康检查处理器，提供 /live 与 /ready
func (hc *HealthChecker) Handler() http.Handler {
	return hc.health
}

// LiveEndpoint 存活检查
func (hc *HealthChecker) LiveEndpoint(w http.ResponseWriter, r *http.Request) {
	hc.health.LiveEndpoint(w, r)
}

// ReadyEndpoint 就绪检查
func (hc *HealthChecker) ReadyEndpoint(w http.ResponseWriter, r *http.Request) {
	hc.health.ReadyEndpoint(w, r)
}

func (hc *HealthChecker) wrap(name string, check func() error) healthcheck.Check {
	return func() error {
		if err := check(); err != nil {
			hc.logger.Warn("health check failed", zap.String("check", name), zap.Error(err))
			return err
		}
		return nil
	}
}
